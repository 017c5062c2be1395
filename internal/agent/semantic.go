package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/dealscope/dealscope/internal/chunkstore"
	"github.com/dealscope/dealscope/internal/llm"
)

// AnswerSemantic embeds the query, searches the chunk namespace and
// answers from reconstructed source articles. When no match clears the
// confidence threshold it returns a listing of the closest source URLs
// instead of a generated analysis. Embedding, search and reconstruction
// errors propagate; the generation call is not retried.
func (a *Agent) AnswerSemantic(ctx context.Context, query string) (Answer, error) {
	vectors, err := a.llm.Embed(ctx, []string{query})
	if err != nil {
		return Answer{}, fmt.Errorf("embed query: %w", err)
	}
	if len(vectors) == 0 {
		return Answer{}, fmt.Errorf("embed query: provider returned no vector")
	}

	matches, err := a.chunks.Query(ctx, chunkstore.NamespaceChunks, vectors[0], a.opts.TopK, true)
	if err != nil {
		return Answer{}, fmt.Errorf("search chunks: %w", err)
	}

	var best float64
	if len(matches) > 0 {
		best = matches[0].Score
	}
	if len(matches) == 0 || best < a.opts.ScoreThreshold {
		a.logger.Printf("low confidence (best=%.3f, threshold=%.3f), listing sources instead", best, a.opts.ScoreThreshold)
		return a.lowConfidenceAnswer(matches, best), nil
	}

	top := matches
	if len(top) > a.opts.ContextArticles {
		top = top[:a.opts.ContextArticles]
	}

	var (
		contextBlock strings.Builder
		used         []string
	)
	for _, url := range distinctSourceURLs(top) {
		text, err := a.articles.Article(ctx, url)
		if err != nil {
			return Answer{}, fmt.Errorf("reconstruct %s: %w", url, err)
		}
		if text == "" {
			a.logger.Printf("warn: no stored content for %s, leaving it out of the context", url)
			continue
		}
		fmt.Fprintf(&contextBlock, "\n\n--- Article from %s ---\n%s", url, text)
		used = append(used, url)
	}
	if len(used) == 0 {
		return a.lowConfidenceAnswer(matches, best), nil
	}

	resp, err := a.llm.Generate(ctx, llm.Request{
		Prompt: fmt.Sprintf(groundingPromptTemplate, contextBlock.String(), query),
	})
	if err != nil {
		return Answer{}, fmt.Errorf("grounded generation: %w", err)
	}
	return Answer{Text: resp.Text, Sources: used, Confidence: best}, nil
}

func (a *Agent) lowConfidenceAnswer(matches []chunkstore.Match, best float64) Answer {
	urls := distinctSourceURLs(matches)
	if len(urls) == 0 {
		return Answer{Text: nothingFoundMessage, Confidence: best}
	}
	var b strings.Builder
	b.WriteString(lowConfidenceHeader)
	for _, url := range urls {
		b.WriteString("\n- ")
		b.WriteString(url)
	}
	return Answer{Text: b.String(), Sources: urls, Confidence: best}
}

// distinctSourceURLs keeps match-rank order and deduplicates. The source
// comes from metadata, or from the chunk ID when the metadata is absent.
func distinctSourceURLs(matches []chunkstore.Match) []string {
	seen := make(map[string]struct{}, len(matches))
	urls := make([]string, 0, len(matches))
	for _, m := range matches {
		url := m.Metadata[chunkstore.MetaSourceURL]
		if url == "" {
			var ok bool
			if url, ok = chunkstore.SourceURL(m.ID); !ok {
				continue
			}
		}
		if _, dup := seen[url]; dup {
			continue
		}
		seen[url] = struct{}{}
		urls = append(urls, url)
	}
	return urls
}
