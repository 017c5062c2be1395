package server

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/dealscope/dealscope/internal/agent"
	"github.com/dealscope/dealscope/internal/store"
)

// Asker answers research questions. *agent.Agent satisfies it.
type Asker interface {
	Ask(ctx context.Context, question string) (agent.Answer, error)
	AnswerGraph(ctx context.Context, question string) agent.Answer
}

type AskHandler struct {
	Agent Asker
	Store *store.Store
}

func (h *AskHandler) Register(g *echo.Group, authed echo.MiddlewareFunc) {
	g.POST("/ask", h.ask)
	g.POST("/graph/query", h.graphQuery)
	g.GET("/queries", h.queries, authed)
}

// Ask
//
//	@Summary		Ask a question
//	@Description	Routes the question to the semantic or graph pipeline and answers it
//	@Tags			ask
//	@Accept			json
//	@Produce		json
//	@Param			payload	body		AskRequest	true	"Question payload"
//	@Success		200		{object}	AskResponse
//	@Failure		400		{object}	HTTPError
//	@Failure		500		{object}	HTTPError
//	@Router			/api/ask [post]
func (h *AskHandler) ask(c echo.Context) error {
	var req AskRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if strings.TrimSpace(req.Question) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "question required")
	}
	ans, err := h.Agent.Ask(c.Request().Context(), req.Question)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	h.logQuery(c, req.Question, ans)
	return c.JSON(http.StatusOK, answerResponse(ans))
}

// GraphQuery
//
//	@Summary		Query the knowledge graph
//	@Description	Answers the question from deal relationships only, skipping routing
//	@Tags			ask
//	@Accept			json
//	@Produce		json
//	@Param			payload	body		AskRequest	true	"Question payload"
//	@Success		200		{object}	AskResponse
//	@Failure		400		{object}	HTTPError
//	@Router			/api/graph/query [post]
func (h *AskHandler) graphQuery(c echo.Context) error {
	var req AskRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if strings.TrimSpace(req.Question) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "question required")
	}
	ans := h.Agent.AnswerGraph(c.Request().Context(), req.Question)
	h.logQuery(c, req.Question, ans)
	return c.JSON(http.StatusOK, answerResponse(ans))
}

// Queries
//
//	@Summary	Recent questions
//	@Tags		ask
//	@Produce	json
//	@Param		limit	query		int	false	"Max entries, default 20"
//	@Success	200		{array}		QueryLogEntry
//	@Failure	500		{object}	HTTPError
//	@Router		/api/queries [get]
func (h *AskHandler) queries(c echo.Context) error {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	recs, err := h.Store.RecentQueries(c.Request().Context(), limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	out := make([]QueryLogEntry, 0, len(recs))
	for _, r := range recs {
		out = append(out, QueryLogEntry{
			ID:         r.ID,
			UserID:     r.UserID,
			Question:   r.Question,
			Route:      r.Route,
			Answer:     r.Answer,
			DurationMs: r.DurationMs,
			CreatedAt:  r.CreatedAt,
		})
	}
	return c.JSON(http.StatusOK, out)
}

// logQuery records the answered question. The log is best effort and
// never fails the request.
func (h *AskHandler) logQuery(c echo.Context, question string, ans agent.Answer) {
	userID, _ := c.Get("user_id").(string)
	_ = h.Store.LogQuery(c.Request().Context(), userID, question, ans.Route, ans.Text, ans.Duration)
}

func answerResponse(ans agent.Answer) AskResponse {
	return AskResponse{
		Route:      ans.Route,
		Answer:     ans.Text,
		Sources:    ans.Sources,
		Confidence: ans.Confidence,
		DurationMs: ans.Duration.Milliseconds(),
	}
}
