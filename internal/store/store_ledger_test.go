package store

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
)

func TestClaimURL(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}
	query := regexp.QuoteMeta(`INSERT INTO ingest_ledger (url) VALUES ($1) ON CONFLICT DO NOTHING RETURNING true`)

	mock.ExpectQuery(query).
		WithArgs("https://example.com/deal").
		WillReturnRows(sqlmock.NewRows([]string{"bool"}).AddRow(true))

	ok, err := st.ClaimURL(context.Background(), "https://example.com/deal")
	if err != nil {
		t.Fatalf("ClaimURL: %v", err)
	}
	if !ok {
		t.Fatalf("fresh URL must be claimable")
	}

	// Conflict path: the statement matches no row.
	mock.ExpectQuery(query).
		WithArgs("https://example.com/deal").
		WillReturnRows(sqlmock.NewRows([]string{"bool"}))

	ok, err = st.ClaimURL(context.Background(), "https://example.com/deal")
	if err != nil {
		t.Fatalf("ClaimURL conflict: %v", err)
	}
	if ok {
		t.Fatalf("duplicate claim must return false")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestClaimURLRejectsEmpty(t *testing.T) {
	st := &Store{}
	if _, err := st.ClaimURL(context.Background(), ""); err == nil {
		t.Fatalf("expected error for empty url")
	}
}

func TestMarkIndexed(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}
	query := regexp.QuoteMeta(`
UPDATE ingest_ledger SET
  last_indexed      = NOW(),
  parent_chunks     = $2,
  searchable_chunks = $3
WHERE url = $1;
`)
	mock.ExpectExec(query).
		WithArgs("https://example.com/deal", 2, 41).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := st.MarkIndexed(context.Background(), "https://example.com/deal", 2, 41); err != nil {
		t.Fatalf("MarkIndexed: %v", err)
	}

	mock.ExpectExec(query).
		WithArgs("https://example.com/unclaimed", 1, 1).
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := st.MarkIndexed(context.Background(), "https://example.com/unclaimed", 1, 1); err == nil {
		t.Fatalf("expected error for unclaimed url")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestProcessedURLs(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}
	mock.ExpectQuery(`SELECT url FROM ingest_ledger WHERE last_indexed IS NOT NULL`).
		WillReturnRows(sqlmock.NewRows([]string{"url"}).
			AddRow("https://example.com/a").
			AddRow("https://example.com/b"))

	urls, err := st.ProcessedURLs(context.Background())
	if err != nil {
		t.Fatalf("ProcessedURLs: %v", err)
	}
	if len(urls) != 2 {
		t.Fatalf("expected 2 urls, got %d", len(urls))
	}
	if _, ok := urls["https://example.com/a"]; !ok {
		t.Fatalf("missing url in set: %#v", urls)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSeedProcessed(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}
	mock.ExpectExec(`INSERT INTO ingest_ledger \(url, first_seen, last_indexed\)`).
		WithArgs(sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 2))

	added, err := st.SeedProcessed(context.Background(), []string{"https://example.com/a", "https://example.com/b", "https://example.com/a"})
	if err != nil {
		t.Fatalf("SeedProcessed: %v", err)
	}
	if added != 2 {
		t.Fatalf("expected 2 seeded rows, got %d", added)
	}

	// No statement may run for an empty slice.
	if n, err := st.SeedProcessed(context.Background(), nil); err != nil || n != 0 {
		t.Fatalf("empty seed: n=%d err=%v", n, err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestLedgerStats(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}
	mock.ExpectQuery(`SELECT COUNT\(\*\), COUNT\(last_indexed\) FROM ingest_ledger`).
		WillReturnRows(sqlmock.NewRows([]string{"count", "count"}).AddRow(10, 7))

	stats, err := st.LedgerStats(context.Background())
	if err != nil {
		t.Fatalf("LedgerStats: %v", err)
	}
	if stats.Total != 10 || stats.Indexed != 7 {
		t.Fatalf("unexpected stats: %+v", stats)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestListLedger(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}
	indexed := time.Now()
	mock.ExpectQuery(`SELECT url, first_seen, last_indexed, parent_chunks, searchable_chunks`).
		WithArgs(5).
		WillReturnRows(sqlmock.NewRows([]string{"url", "first_seen", "last_indexed", "parent_chunks", "searchable_chunks"}).
			AddRow("https://example.com/a", indexed.Add(-time.Hour), indexed, 1, 12).
			AddRow("https://example.com/b", indexed.Add(-time.Hour), nil, 0, 0))

	entries, err := st.ListLedger(context.Background(), 5)
	if err != nil {
		t.Fatalf("ListLedger: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].LastIndexed == nil || entries[0].SearchableChunks != 12 {
		t.Fatalf("unexpected first entry: %+v", entries[0])
	}
	if entries[1].LastIndexed != nil {
		t.Fatalf("pending entry must have nil last_indexed")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
