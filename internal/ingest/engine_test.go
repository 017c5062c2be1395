package ingest

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"regexp"
	"strings"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/dealscope/dealscope/config"
	"github.com/dealscope/dealscope/internal/budget"
	"github.com/dealscope/dealscope/internal/chunker"
	"github.com/dealscope/dealscope/internal/chunkstore"
	"github.com/dealscope/dealscope/internal/fetch"
	"github.com/dealscope/dealscope/internal/helpers"
	"github.com/dealscope/dealscope/internal/llm"
	"github.com/dealscope/dealscope/internal/store"
)

const listingURL = "https://news.example/deals/"

const articleURL = "https://news.example/deals/acme-buys-globex/"

const articleText = "Acme Corp agreed to acquire Globex Corporation for two billion dollars in cash."

const listingHTML = `<html><body>
<a class="post-link" href="/deals/acme-buys-globex/">Read more</a>
<a href="https://elsewhere.example/offsite">Offsite</a>
<a href="?e-page-8fbddee=2">Next page</a>
<a href="/deals/acme-buys-globex/">Read again</a>
</body></html>`

func testCfg() config.IngestConfig {
	return config.IngestConfig{
		ListingURL:      listingURL,
		PageParam:       "e-page-8fbddee",
		PagesToCheck:    1,
		FetchMode:       "static",
		ParentChunkSize: 40,
		ChunkSize:       16,
		ChunkOverlap:    4,
		UpsertBatchSize: 2,
	}
}

type fakeFetcher struct {
	pages map[string]fetch.Result
	errs  map[string]error
	calls []string
}

func (f *fakeFetcher) Fetch(_ context.Context, url string) (fetch.Result, error) {
	f.calls = append(f.calls, url)
	if err := f.errs[url]; err != nil {
		return fetch.Result{URL: url}, err
	}
	res, ok := f.pages[url]
	if !ok {
		return fetch.Result{}, fmt.Errorf("unexpected fetch of %s", url)
	}
	return res, nil
}

type embedProvider struct {
	dims     int
	calls    int
	embedErr error
}

func (p *embedProvider) Name() string { return "embed-fake" }

func (p *embedProvider) Generate(context.Context, llm.Request) (llm.Response, error) {
	return llm.Response{}, fmt.Errorf("not implemented")
}

func (p *embedProvider) Embed(_ context.Context, inputs []string) ([][]float32, error) {
	p.calls++
	if p.embedErr != nil {
		return nil, p.embedErr
	}
	out := make([][]float32, len(inputs))
	for i, s := range inputs {
		out[i] = hashVector(s, p.dims)
	}
	return out, nil
}

func (p *embedProvider) EmbeddingDimensions() int { return p.dims }

// hashVector derives a deterministic pseudo-embedding from the text.
func hashVector(s string, dims int) []float32 {
	h := fnv.New32a()
	h.Write([]byte(s))
	seed := h.Sum32()
	v := make([]float32, dims)
	for i := range v {
		seed = seed*1664525 + 1013904223
		v[i] = float32(seed%997) / 997
	}
	return v
}

func listingFetcher() *fakeFetcher {
	return &fakeFetcher{pages: map[string]fetch.Result{
		listingURL: {URL: listingURL, HTML: listingHTML, Status: 200},
		articleURL: {URL: articleURL, HTML: "<html>...</html>", Text: articleText, Status: 200},
	}, errs: map[string]error{}}
}

func newTestEngine(t *testing.T, f fetch.Fetcher, cs chunkstore.Store, db *store.Store, limits budget.Limits) (*Engine, *embedProvider) {
	t.Helper()
	provider := &embedProvider{dims: 8}
	eng, err := NewEngine(testCfg(), f, provider, cs, db, budget.NewMonitor(limits), nil)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return eng, provider
}

func expectedCounts(t *testing.T) (int, int) {
	t.Helper()
	cfg := testCfg()
	parents, err := chunker.NewSplitter(cfg.ParentChunkSize, cfg.ParentChunkOverlap)
	if err != nil {
		t.Fatalf("parent splitter: %v", err)
	}
	search, err := chunker.NewSplitter(cfg.ChunkSize, cfg.ChunkOverlap)
	if err != nil {
		t.Fatalf("search splitter: %v", err)
	}
	norm := helpers.NormalizeWhitespace(articleText)
	return len(parents.Split(norm)), len(search.Split(norm))
}

func TestCrawlerPageURLs(t *testing.T) {
	cfg := testCfg()
	cfg.PagesToCheck = 3
	c := NewCrawler(&fakeFetcher{}, cfg)

	pages := c.PageURLs()
	want := []string{
		listingURL,
		listingURL + "?e-page-8fbddee=2",
		listingURL + "?e-page-8fbddee=3",
	}
	if len(pages) != len(want) {
		t.Fatalf("pages = %v", pages)
	}
	for i := range want {
		if pages[i] != want[i] {
			t.Fatalf("page %d = %q, want %q", i, pages[i], want[i])
		}
	}
}

func TestDiscoverLinksFiltering(t *testing.T) {
	c := NewCrawler(listingFetcher(), testCfg())

	links, err := c.DiscoverLinks(context.Background(), listingURL)
	if err != nil {
		t.Fatalf("DiscoverLinks: %v", err)
	}
	if len(links) != 1 || links[0] != articleURL {
		t.Fatalf("links = %v, want exactly [%s]", links, articleURL)
	}
}

func TestRunIndexesNewArticle(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery(`SELECT COUNT\(\*\), COUNT\(last_indexed\) FROM ingest_ledger`).
		WillReturnRows(sqlmock.NewRows([]string{"total", "indexed"}).AddRow(1, 1))
	mock.ExpectQuery(`SELECT url FROM ingest_ledger`).
		WillReturnRows(sqlmock.NewRows([]string{"url"}))
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO ingest_ledger (url) VALUES ($1) ON CONFLICT DO NOTHING RETURNING true`)).
		WithArgs(articleURL).
		WillReturnRows(sqlmock.NewRows([]string{"bool"}).AddRow(true))
	wantParents, wantChunks := expectedCounts(t)
	mock.ExpectExec(`UPDATE ingest_ledger SET`).
		WithArgs(articleURL, wantParents, wantChunks).
		WillReturnResult(sqlmock.NewResult(0, 1))

	cs := chunkstore.NewMemory()
	eng, provider := newTestEngine(t, listingFetcher(), cs, &store.Store{DB: db}, budget.Limits{})

	stats, err := eng.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stats.Indexed != 1 || stats.Failed != 0 || stats.Skipped != 0 {
		t.Fatalf("stats = %+v", stats)
	}
	if provider.calls != 1 {
		t.Fatalf("embeddings must be one batched call per article, got %d", provider.calls)
	}
	if got := cs.Count(chunkstore.NamespaceArticles); got != wantParents {
		t.Fatalf("parent records = %d, want %d", got, wantParents)
	}
	if got := cs.Count(chunkstore.NamespaceChunks); got != wantChunks {
		t.Fatalf("searchable records = %d, want %d", got, wantChunks)
	}

	// Parent segments must concatenate back to the normalized text.
	ids := make([]string, wantParents)
	for i := range ids {
		ids[i] = chunkstore.ParentID(articleURL, i)
	}
	recs, err := cs.Fetch(context.Background(), chunkstore.NamespaceArticles, ids)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	var rebuilt strings.Builder
	for _, id := range ids {
		rebuilt.WriteString(recs[id].Metadata[chunkstore.MetaText])
	}
	if rebuilt.String() != helpers.NormalizeWhitespace(articleText) {
		t.Fatalf("parent round trip broken:\n%q", rebuilt.String())
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestRunSkipsProcessedURLs(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery(`SELECT COUNT\(\*\), COUNT\(last_indexed\) FROM ingest_ledger`).
		WillReturnRows(sqlmock.NewRows([]string{"total", "indexed"}).AddRow(1, 1))
	mock.ExpectQuery(`SELECT url FROM ingest_ledger`).
		WillReturnRows(sqlmock.NewRows([]string{"url"}).AddRow(articleURL))

	cs := chunkstore.NewMemory()
	f := listingFetcher()
	eng, _ := newTestEngine(t, f, cs, &store.Store{DB: db}, budget.Limits{})

	stats, err := eng.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stats.Skipped != 1 || stats.Indexed != 0 {
		t.Fatalf("stats = %+v", stats)
	}
	for _, call := range f.calls {
		if call == articleURL {
			t.Fatalf("processed article must not be fetched again")
		}
	}
	if cs.Count(chunkstore.NamespaceChunks) != 0 {
		t.Fatalf("re-run with no new content must perform zero upserts")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestRunSeedsEmptyLedgerFromStore(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	cs := chunkstore.NewMemory()
	seed := []chunkstore.Record{
		{ID: chunkstore.SearchableID(articleURL, 0), Values: hashVector("a", 8)},
		{ID: chunkstore.SearchableID(articleURL, 1), Values: hashVector("b", 8)},
		{ID: chunkstore.SearchableID("https://news.example/deals/other/", 0), Values: hashVector("c", 8)},
	}
	if err := cs.Upsert(context.Background(), chunkstore.NamespaceChunks, seed); err != nil {
		t.Fatalf("seed store: %v", err)
	}

	mock.ExpectQuery(`SELECT COUNT\(\*\), COUNT\(last_indexed\) FROM ingest_ledger`).
		WillReturnRows(sqlmock.NewRows([]string{"total", "indexed"}).AddRow(0, 0))
	mock.ExpectExec(`INSERT INTO ingest_ledger \(url, first_seen, last_indexed\)`).
		WithArgs(sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectQuery(`SELECT url FROM ingest_ledger`).
		WillReturnRows(sqlmock.NewRows([]string{"url"}).
			AddRow(articleURL).
			AddRow("https://news.example/deals/other/"))

	eng, _ := newTestEngine(t, listingFetcher(), cs, &store.Store{DB: db}, budget.Limits{})

	stats, err := eng.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stats.Skipped != 1 || stats.Indexed != 0 {
		t.Fatalf("stats = %+v", stats)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestRunReleasesClaimOnFetchFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery(`SELECT COUNT\(\*\), COUNT\(last_indexed\) FROM ingest_ledger`).
		WillReturnRows(sqlmock.NewRows([]string{"total", "indexed"}).AddRow(1, 1))
	mock.ExpectQuery(`SELECT url FROM ingest_ledger`).
		WillReturnRows(sqlmock.NewRows([]string{"url"}))
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO ingest_ledger (url) VALUES ($1) ON CONFLICT DO NOTHING RETURNING true`)).
		WithArgs(articleURL).
		WillReturnRows(sqlmock.NewRows([]string{"bool"}).AddRow(true))
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM ingest_ledger WHERE url=$1 AND last_indexed IS NULL`)).
		WithArgs(articleURL).
		WillReturnResult(sqlmock.NewResult(0, 1))

	f := listingFetcher()
	f.errs[articleURL] = fmt.Errorf("server returned 503")
	eng, _ := newTestEngine(t, f, chunkstore.NewMemory(), &store.Store{DB: db}, budget.Limits{})

	stats, err := eng.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stats.Failed != 1 || stats.Indexed != 0 {
		t.Fatalf("stats = %+v", stats)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestIndexArticleIsIdempotent(t *testing.T) {
	cs := chunkstore.NewMemory()
	eng, _ := newTestEngine(t, listingFetcher(), cs, nil, budget.Limits{})

	p1, c1, err := eng.IndexArticle(context.Background(), articleURL, articleText)
	if err != nil {
		t.Fatalf("first IndexArticle: %v", err)
	}
	p2, c2, err := eng.IndexArticle(context.Background(), articleURL, articleText)
	if err != nil {
		t.Fatalf("second IndexArticle: %v", err)
	}
	if p1 != p2 || c1 != c2 {
		t.Fatalf("counts changed between runs: %d/%d vs %d/%d", p1, c1, p2, c2)
	}
	if got := cs.Count(chunkstore.NamespaceArticles); got != p1 {
		t.Fatalf("parent records = %d after re-run, want %d", got, p1)
	}
	if got := cs.Count(chunkstore.NamespaceChunks); got != c1 {
		t.Fatalf("searchable records = %d after re-run, want %d", got, c1)
	}
}

func TestIndexArticleEmbedFailure(t *testing.T) {
	cs := chunkstore.NewMemory()
	provider := &embedProvider{dims: 8, embedErr: fmt.Errorf("embedding backend down")}
	eng, err := NewEngine(testCfg(), listingFetcher(), provider, cs, nil, budget.NewMonitor(budget.Limits{}), nil)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	if _, _, err := eng.IndexArticle(context.Background(), articleURL, articleText); err == nil {
		t.Fatalf("expected embed failure to surface")
	}
}

func TestRunStopsAtArticleBudget(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	secondURL := "https://news.example/deals/initech-merges/"
	twoLinkHTML := `<html><body>
<a href="/deals/acme-buys-globex/">One</a>
<a href="/deals/initech-merges/">Two</a>
</body></html>`

	mock.ExpectQuery(`SELECT COUNT\(\*\), COUNT\(last_indexed\) FROM ingest_ledger`).
		WillReturnRows(sqlmock.NewRows([]string{"total", "indexed"}).AddRow(1, 1))
	mock.ExpectQuery(`SELECT url FROM ingest_ledger`).
		WillReturnRows(sqlmock.NewRows([]string{"url"}))
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO ingest_ledger (url) VALUES ($1) ON CONFLICT DO NOTHING RETURNING true`)).
		WithArgs(articleURL).
		WillReturnRows(sqlmock.NewRows([]string{"bool"}).AddRow(true))
	mock.ExpectExec(`UPDATE ingest_ledger SET`).
		WithArgs(articleURL, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	f := listingFetcher()
	f.pages[listingURL] = fetch.Result{URL: listingURL, HTML: twoLinkHTML, Status: 200}
	f.pages[secondURL] = fetch.Result{URL: secondURL, Text: "Initech merged with Initrode.", Status: 200}

	eng, _ := newTestEngine(t, f, chunkstore.NewMemory(), &store.Store{DB: db}, budget.Limits{MaxArticles: 1})

	stats, err := eng.Run(context.Background())
	if err == nil || !budget.IsExceeded(err) {
		t.Fatalf("expected budget stop, got %v", err)
	}
	if stats.Indexed != 1 {
		t.Fatalf("stats = %+v, want 1 indexed before the stop", stats)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestDiscoverSkipsProcessedAndFetchesOnlyListings(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	secondURL := "https://news.example/deals/initech-merges/"
	twoLinkHTML := `<html><body>
<a href="/deals/acme-buys-globex/">One</a>
<a href="/deals/initech-merges/">Two</a>
<a href="/deals/acme-buys-globex/">One again</a>
</body></html>`

	mock.ExpectQuery(`SELECT COUNT\(\*\), COUNT\(last_indexed\) FROM ingest_ledger`).
		WillReturnRows(sqlmock.NewRows([]string{"total", "indexed"}).AddRow(1, 1))
	mock.ExpectQuery(`SELECT url FROM ingest_ledger`).
		WillReturnRows(sqlmock.NewRows([]string{"url"}).AddRow(secondURL))

	f := listingFetcher()
	f.pages[listingURL] = fetch.Result{URL: listingURL, HTML: twoLinkHTML, Status: 200}
	eng, _ := newTestEngine(t, f, chunkstore.NewMemory(), &store.Store{DB: db}, budget.Limits{})

	found, err := eng.Discover(context.Background())
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(found) != 1 || found[0].URL != articleURL || found[0].ListingPage != listingURL {
		t.Fatalf("found = %+v, want one discovery of %s", found, articleURL)
	}
	for _, call := range f.calls {
		if call != listingURL {
			t.Fatalf("discovery must fetch listings only, fetched %s", call)
		}
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestIngestURLReturnsCountsAndChargesBudget(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	wantParents, wantChunks := expectedCounts(t)
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO ingest_ledger (url) VALUES ($1) ON CONFLICT DO NOTHING RETURNING true`)).
		WithArgs(articleURL).
		WillReturnRows(sqlmock.NewRows([]string{"bool"}).AddRow(true))
	mock.ExpectExec(`UPDATE ingest_ledger SET`).
		WithArgs(articleURL, wantParents, wantChunks).
		WillReturnResult(sqlmock.NewResult(0, 1))

	eng, _ := newTestEngine(t, listingFetcher(), chunkstore.NewMemory(), &store.Store{DB: db}, budget.Limits{MaxArticles: 1})

	parents, searchable, err := eng.IngestURL(context.Background(), articleURL)
	if err != nil {
		t.Fatalf("IngestURL: %v", err)
	}
	if parents != wantParents || searchable != wantChunks {
		t.Fatalf("counts = %d/%d, want %d/%d", parents, searchable, wantParents, wantChunks)
	}

	// The budget is charged before the claim, so the second call stops
	// without touching the database.
	if _, _, err := eng.IngestURL(context.Background(), articleURL); !budget.IsExceeded(err) {
		t.Fatalf("expected budget stop, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestIngestURLAlreadyClaimed(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO ingest_ledger (url) VALUES ($1) ON CONFLICT DO NOTHING RETURNING true`)).
		WithArgs(articleURL).
		WillReturnRows(sqlmock.NewRows([]string{"bool"}))

	f := listingFetcher()
	eng, _ := newTestEngine(t, f, chunkstore.NewMemory(), &store.Store{DB: db}, budget.Limits{})

	if _, _, err := eng.IngestURL(context.Background(), articleURL); !errors.Is(err, ErrAlreadyClaimed) {
		t.Fatalf("expected ErrAlreadyClaimed, got %v", err)
	}
	if len(f.calls) != 0 {
		t.Fatalf("claimed url must not be fetched, calls = %v", f.calls)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestRebuildLedgerSeedsFromStoredChunks(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	cs := chunkstore.NewMemory()
	second := "https://news.example/deals/initech-merger/"
	records := []chunkstore.Record{
		{ID: chunkstore.SearchableID(articleURL, 0), Values: hashVector("a", 8)},
		{ID: chunkstore.SearchableID(articleURL, 1), Values: hashVector("b", 8)},
		{ID: chunkstore.SearchableID(second, 0), Values: hashVector("c", 8)},
	}
	if err := cs.Upsert(context.Background(), chunkstore.NamespaceChunks, records); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	// Forced rebuild skips the emptiness check and seeds straight away;
	// one of the two derived urls is already known.
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO ingest_ledger (url, first_seen, last_indexed)`)).
		WithArgs(sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	eng, _ := newTestEngine(t, listingFetcher(), cs, &store.Store{DB: db}, budget.Limits{})

	added, err := eng.RebuildLedger(context.Background())
	if err != nil {
		t.Fatalf("RebuildLedger: %v", err)
	}
	if added != 1 {
		t.Fatalf("added = %d, want 1", added)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
