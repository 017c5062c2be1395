package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/dealscope/dealscope/internal/corpus"
)

func testCorpus(t *testing.T) (*corpus.Corpus, *corpus.Searcher) {
	t.Helper()
	c := corpus.New()
	c.Add(corpus.Article{URL: "https://news.example.com/acme-globex", Content: "Acme announced the merger with Globex in an all-cash deal."})
	c.Add(corpus.Article{URL: "https://news.example.com/initech-ipo", Content: "Initech filed for an initial public offering."})
	s, err := corpus.NewSearcher(c)
	if err != nil {
		t.Fatalf("NewSearcher: %v", err)
	}
	return c, s
}

func TestCorpusList(t *testing.T) {
	c, s := testCorpus(t)
	handler := &CorpusHandler{Corpus: c, Searcher: s}

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/corpus", nil)
	rec := httptest.NewRecorder()
	if err := handler.list(e.NewContext(req, rec)); err != nil {
		t.Fatalf("list: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200 got %d", rec.Code)
	}

	var resp CorpusListResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Count != 2 || len(resp.Articles) != 2 {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if resp.Articles[0].URL != "https://news.example.com/acme-globex" || resp.Articles[0].Chars == 0 {
		t.Fatalf("unexpected first article: %+v", resp.Articles[0])
	}
}

func TestCorpusSearch(t *testing.T) {
	c, s := testCorpus(t)
	handler := &CorpusHandler{Corpus: c, Searcher: s}

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/corpus/search?q=merger", nil)
	rec := httptest.NewRecorder()
	if err := handler.search(e.NewContext(req, rec)); err != nil {
		t.Fatalf("search: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200 got %d", rec.Code)
	}

	var resp CorpusSearchResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Hits) == 0 {
		t.Fatalf("expected at least one hit")
	}
	if resp.Hits[0].URL != "https://news.example.com/acme-globex" {
		t.Fatalf("unexpected top hit: %+v", resp.Hits[0])
	}
}

func TestCorpusSearchRequiresQuery(t *testing.T) {
	_, s := testCorpus(t)
	handler := &CorpusHandler{Searcher: s}

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/corpus/search", nil)
	rec := httptest.NewRecorder()
	err := handler.search(e.NewContext(req, rec))
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 error, got %#v", err)
	}
}

func TestCorpusNotLoaded(t *testing.T) {
	handler := &CorpusHandler{}

	e := echo.New()
	for _, target := range []string{"/api/corpus", "/api/corpus/search?q=x"} {
		req := httptest.NewRequest(http.MethodGet, target, nil)
		rec := httptest.NewRecorder()
		ctx := e.NewContext(req, rec)
		var err error
		if target == "/api/corpus" {
			err = handler.list(ctx)
		} else {
			err = handler.search(ctx)
		}
		httpErr, ok := err.(*echo.HTTPError)
		if !ok || httpErr.Code != http.StatusServiceUnavailable {
			t.Fatalf("%s: expected 503 error, got %#v", target, err)
		}
	}
}
