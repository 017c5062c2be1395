package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/dealscope/dealscope/internal/agent"
)

// ReportBuilder writes a structured report for one ingested article.
// *agent.Agent satisfies it.
type ReportBuilder interface {
	Report(ctx context.Context, url, topic string) (string, error)
}

type ReportHandler struct {
	Agent ReportBuilder
}

func (h *ReportHandler) Register(g *echo.Group, authed echo.MiddlewareFunc) {
	g.POST("/report", h.report, authed)
}

// Report
//
//	@Summary		Generate a report
//	@Description	Reconstructs one ingested article and writes a markdown report on the topic
//	@Tags			report
//	@Accept			json
//	@Produce		json
//	@Param			payload	body		ReportRequest	true	"Report payload"
//	@Success		200		{object}	ReportResponse
//	@Failure		400		{object}	HTTPError
//	@Failure		500		{object}	HTTPError
//	@Router			/api/report [post]
func (h *ReportHandler) report(c echo.Context) error {
	var req ReportRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if strings.TrimSpace(req.URL) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "url required")
	}
	topic := strings.TrimSpace(req.Topic)
	if topic == "" {
		topic = agent.DefaultReportTopic
	}
	text, err := h.Agent.Report(c.Request().Context(), req.URL, topic)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, ReportResponse{URL: req.URL, Topic: topic, Report: text})
}
