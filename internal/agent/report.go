package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/dealscope/dealscope/internal/llm"
)

// DefaultReportTopic is used when the caller leaves the topic empty.
const DefaultReportTopic = "Executive Summary"

// Report reconstructs one article and writes a structured markdown
// report on the given topic, grounded only in that article's text.
func (a *Agent) Report(ctx context.Context, url, topic string) (string, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		topic = DefaultReportTopic
	}

	text, err := a.articles.Article(ctx, url)
	if err != nil {
		return "", fmt.Errorf("reconstruct %s: %w", url, err)
	}
	if text == "" {
		return "", fmt.Errorf("no stored content for %s", url)
	}

	resp, err := a.llm.Generate(ctx, llm.Request{
		Prompt: fmt.Sprintf(reportPromptTemplate, topic, text),
	})
	if err != nil {
		return "", fmt.Errorf("report generation: %w", err)
	}
	return resp.Text, nil
}
