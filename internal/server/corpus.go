package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/dealscope/dealscope/internal/corpus"
)

// CorpusHandler serves the exported corpus snapshot. Both fields may be
// nil when no snapshot is loaded; the endpoints then return 503.
type CorpusHandler struct {
	Corpus   *corpus.Corpus
	Searcher *corpus.Searcher
}

func (h *CorpusHandler) Register(g *echo.Group) {
	g.GET("", h.list)
	g.GET("/search", h.search)
}

// List
//
//	@Summary	List corpus articles
//	@Tags		corpus
//	@Produce	json
//	@Success	200	{object}	CorpusListResponse
//	@Failure	503	{object}	HTTPError
//	@Router		/api/corpus [get]
func (h *CorpusHandler) list(c echo.Context) error {
	if h.Corpus == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "corpus not loaded")
	}
	arts := h.Corpus.Articles()
	out := CorpusListResponse{Count: len(arts), Articles: make([]CorpusArticleSummary, 0, len(arts))}
	for _, a := range arts {
		out.Articles = append(out.Articles, CorpusArticleSummary{URL: a.URL, Chars: len(a.Content)})
	}
	return c.JSON(http.StatusOK, out)
}

// Search
//
//	@Summary	Search the corpus
//	@Tags		corpus
//	@Produce	json
//	@Param		q	query		string	true	"Query string"
//	@Param		k	query		int		false	"Max hits, default 10"
//	@Success	200	{object}	CorpusSearchResponse
//	@Failure	400	{object}	HTTPError
//	@Failure	503	{object}	HTTPError
//	@Router		/api/corpus/search [get]
func (h *CorpusHandler) search(c echo.Context) error {
	if h.Searcher == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "corpus not loaded")
	}
	q := strings.TrimSpace(c.QueryParam("q"))
	if q == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "q required")
	}
	k, _ := strconv.Atoi(c.QueryParam("k"))
	hits, err := h.Searcher.Search(q, k)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	resp := CorpusSearchResponse{Query: q, Hits: make([]CorpusSearchHit, 0, len(hits))}
	for _, hit := range hits {
		resp.Hits = append(resp.Hits, CorpusSearchHit{URL: hit.URL, Score: hit.Score, Rank: hit.Rank, Snippet: hit.Snippet})
	}
	return c.JSON(http.StatusOK, resp)
}
