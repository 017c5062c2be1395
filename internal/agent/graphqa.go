package agent

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dealscope/dealscope/internal/graph"
	"github.com/dealscope/dealscope/internal/helpers"
	"github.com/dealscope/dealscope/internal/llm"
)

// AnswerGraph translates the question into Cypher, runs it read-only and
// renders the rows one line per record. Every failure mode becomes
// descriptive answer text rather than an error: translation failure,
// rejected statements, execution errors and an unavailable graph all
// stay inside the chat.
func (a *Agent) AnswerGraph(ctx context.Context, question string) Answer {
	start := time.Now()
	ans := a.answerGraph(ctx, question)
	ans.Route = RouteGraph
	ans.Duration = time.Since(start)
	return ans
}

func (a *Agent) answerGraph(ctx context.Context, question string) Answer {
	if a.graphdb == nil {
		return Answer{Text: graphUnavailableMessage}
	}

	cypher, err := a.generateCypher(ctx, question)
	if err != nil {
		a.logger.Printf("warn: cypher generation failed: %v", err)
		return Answer{Text: translateFailedMessage}
	}
	if err := graph.EnsureReadOnly(cypher); err != nil {
		a.logger.Printf("warn: refusing generated statement %q: %v", cypher, err)
		return Answer{Text: "The generated graph query was not read-only, so I refused to run it."}
	}

	rows, err := a.graphdb.ReadQuery(ctx, cypher, nil)
	if err != nil {
		a.logger.Printf("warn: graph query failed: %v", err)
		return Answer{Text: fmt.Sprintf("There was an error querying the knowledge graph: %v.", err)}
	}
	if len(rows) == 0 {
		return Answer{Text: noGraphDataMessage}
	}
	return Answer{Text: formatRows(rows)}
}

func (a *Agent) generateCypher(ctx context.Context, question string) (string, error) {
	resp, err := a.llm.Generate(ctx, llm.Request{
		System: cypherSystem,
		Prompt: fmt.Sprintf("User question: %q", question),
	})
	if err != nil {
		return "", fmt.Errorf("generate cypher: %w", err)
	}
	cypher := helpers.StripCodeFence(resp.Text)
	if cypher == "" {
		return "", fmt.Errorf("model returned an empty query")
	}
	a.logger.Printf("generated cypher: %s", cypher)
	return cypher, nil
}

// formatRows renders records as "field: value" pairs, one row per line,
// fields in stable order.
func formatRows(rows []map[string]interface{}) string {
	var b strings.Builder
	for i, row := range rows {
		if i > 0 {
			b.WriteByte('\n')
		}
		keys := make([]string, 0, len(row))
		for k := range row {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for j, k := range keys {
			if j > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "%s: %v", k, row[k])
		}
	}
	return b.String()
}
