package streams

import (
	"context"
	"fmt"
)

// Event names double as stream names: one stream per event type.
const (
	// EventArticleDiscovered announces an article link found on a
	// listing page. Ingest workers consume it.
	EventArticleDiscovered = "article.discovered"
	// EventArticleIndexed confirms an article was chunked and upserted.
	EventArticleIndexed = "article.indexed"

	StreamArticleDiscovered = EventArticleDiscovered
	StreamArticleIndexed    = EventArticleIndexed

	// SchemaVersion is the payload version this build publishes.
	SchemaVersion = "v1"
)

// ArticleDiscovered is the payload of an article.discovered event.
type ArticleDiscovered struct {
	RunID       string `json:"run_id"`
	URL         string `json:"url"`
	ListingPage string `json:"listing_page"`
}

// ArticleIndexed is the payload of an article.indexed event.
type ArticleIndexed struct {
	RunID            string `json:"run_id"`
	URL              string `json:"url"`
	ParentChunks     int    `json:"parent_chunks"`
	SearchableChunks int    `json:"searchable_chunks"`
}

// Definition describes a schema entry managed by the registry.
type Definition struct {
	EventType string
	Version   string
	Schema    []byte
}

var baseDefinitions = []Definition{
	{
		EventType: EventArticleDiscovered,
		Version:   SchemaVersion,
		Schema: []byte(`{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["run_id", "url", "listing_page"],
  "properties": {
    "run_id": {"type": "string", "minLength": 1},
    "url": {"type": "string", "format": "uri", "minLength": 1},
    "listing_page": {"type": "string", "format": "uri", "minLength": 1}
  },
  "additionalProperties": true
}`),
	},
	{
		EventType: EventArticleIndexed,
		Version:   SchemaVersion,
		Schema: []byte(`{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["run_id", "url", "parent_chunks", "searchable_chunks"],
  "properties": {
    "run_id": {"type": "string", "minLength": 1},
    "url": {"type": "string", "format": "uri", "minLength": 1},
    "parent_chunks": {"type": "integer", "minimum": 0},
    "searchable_chunks": {"type": "integer", "minimum": 0}
  },
  "additionalProperties": true
}`),
	},
}

// BaseDefinitions returns the built-in event schema definitions.
func BaseDefinitions() []Definition {
	defs := make([]Definition, len(baseDefinitions))
	copy(defs, baseDefinitions)
	return defs
}

// RegisterBaseSchemas loads the pipeline's event schemas into the
// provided registry.
func RegisterBaseSchemas(reg *SchemaRegistry) error {
	if reg == nil {
		return fmt.Errorf("registry is nil")
	}
	for _, def := range baseDefinitions {
		if err := reg.Register(def.EventType, def.Version, def.Schema); err != nil {
			return fmt.Errorf("register %s %s: %w", def.EventType, def.Version, err)
		}
	}
	return nil
}

// NewRegistry returns a registry preloaded with the pipeline schemas.
func NewRegistry() (*SchemaRegistry, error) {
	reg := NewSchemaRegistry()
	if err := RegisterBaseSchemas(reg); err != nil {
		return nil, err
	}
	return reg, nil
}

// PublishArticleDiscovered emits one discovery to its stream.
func (p *Publisher) PublishArticleDiscovered(ctx context.Context, ev ArticleDiscovered, opts ...PublishOption) (string, error) {
	return p.PublishRaw(ctx, StreamArticleDiscovered, EventArticleDiscovered, SchemaVersion, ev, opts...)
}

// PublishArticleIndexed emits an indexed confirmation to its stream.
func (p *Publisher) PublishArticleIndexed(ctx context.Context, ev ArticleIndexed, opts ...PublishOption) (string, error) {
	return p.PublishRaw(ctx, StreamArticleIndexed, EventArticleIndexed, SchemaVersion, ev, opts...)
}
