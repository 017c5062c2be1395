package kg

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/dealscope/dealscope/internal/graph"
	"github.com/dealscope/dealscope/internal/helpers"
	"github.com/dealscope/dealscope/internal/llm"
)

// Articles longer than this are cut before prompting; extraction works
// from the opening of the article where deal facts concentrate.
const maxPromptRunes = 30000

// extractionSchema constrains the shape the model must return. Type
// membership is deliberately not enforced here: a single off-schema
// label should drop that item, not fail the whole article.
const extractionSchema = `{
  "type": "object",
  "required": ["entities", "relationships"],
  "properties": {
    "entities": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["name", "type"],
        "properties": {
          "name": {"type": "string"},
          "type": {"type": "string"}
        }
      }
    },
    "relationships": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["source", "target", "type"],
        "properties": {
          "source": {"type": "string"},
          "target": {"type": "string"},
          "type": {"type": "string"}
        }
      }
    }
  }
}`

const extractionSystem = `You extract merger and acquisition facts from news articles into a knowledge graph.
Respond with JSON only, in this exact shape:
{"entities": [{"name": "...", "type": "..."}], "relationships": [{"source": "...", "target": "...", "type": "..."}]}
Entity types must be one of: Company, Person, Industry, FinancialValue.
Relationship types must be one of: ACQUIRED, IS_CEO_OF, OPERATES_IN, DEAL_VALUE_IS.
Every relationship source and target must also appear under entities.
Use the exact names as written in the article. If the article contains no deal facts, return empty lists.`

// Extraction is the raw model output after schema validation.
type Extraction struct {
	Entities      []ExtractedEntity       `json:"entities"`
	Relationships []ExtractedRelationship `json:"relationships"`
}

// ExtractedEntity is a name/type pair as returned by the model.
type ExtractedEntity struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// ExtractedRelationship links two entity names.
type ExtractedRelationship struct {
	Source string `json:"source"`
	Target string `json:"target"`
	Type   string `json:"type"`
}

// Extractor turns article text into schema-conformant graph batches.
type Extractor struct {
	provider llm.Provider
	schema   *jsonschema.Schema
	logger   *log.Logger
}

// NewExtractor compiles the response schema and wraps the provider.
func NewExtractor(provider llm.Provider) (*Extractor, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("extraction.json", bytes.NewReader([]byte(extractionSchema))); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	compiled, err := compiler.Compile("extraction.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return &Extractor{
		provider: provider,
		schema:   compiled,
		logger:   log.New(log.Writer(), "[KG] ", log.LstdFlags),
	}, nil
}

// Extract prompts the model for entities and relationships in one
// article. The returned usage lets callers charge a budget monitor.
func (e *Extractor) Extract(ctx context.Context, articleText string) (Extraction, llm.Usage, error) {
	text := strings.TrimSpace(articleText)
	if text == "" {
		return Extraction{}, llm.Usage{}, fmt.Errorf("article text is empty")
	}
	if runes := []rune(text); len(runes) > maxPromptRunes {
		text = string(runes[:maxPromptRunes])
	}

	resp, err := e.provider.Generate(ctx, llm.Request{
		System:   extractionSystem,
		Prompt:   "Article:\n" + text,
		JSONMode: true,
	})
	if err != nil {
		return Extraction{}, llm.Usage{}, fmt.Errorf("extraction request: %w", err)
	}

	raw := helpers.StripCodeFence(resp.Text)
	var doc interface{}
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return Extraction{}, resp.Usage, fmt.Errorf("extraction output is not JSON: %w", err)
	}
	if err := e.schema.Validate(doc); err != nil {
		return Extraction{}, resp.Usage, fmt.Errorf("extraction output rejected: %w", err)
	}

	var ext Extraction
	if err := json.Unmarshal([]byte(raw), &ext); err != nil {
		return Extraction{}, resp.Usage, fmt.Errorf("decode extraction: %w", err)
	}
	return ext, resp.Usage, nil
}

// Resolve filters an extraction against the graph schema. Entities with
// unknown labels are dropped. Relationships keep only schema types;
// endpoint labels come from the batch's name-to-type map, first
// occurrence winning when the model repeats a name. Endpoints the batch
// does not know stay untyped and are matched by name alone at merge
// time, where a truly absent node yields zero edges.
func (e *Extractor) Resolve(ext Extraction) ([]graph.Entity, []graph.Relationship) {
	typeByName := make(map[string]string, len(ext.Entities))
	entities := make([]graph.Entity, 0, len(ext.Entities))
	for _, raw := range ext.Entities {
		name := strings.TrimSpace(raw.Name)
		if name == "" {
			continue
		}
		if !graph.ValidEntityType(raw.Type) {
			e.logger.Printf("dropping entity %q with off-schema type %q", name, raw.Type)
			continue
		}
		if _, seen := typeByName[name]; seen {
			continue
		}
		typeByName[name] = raw.Type
		entities = append(entities, graph.Entity{Name: name, Type: raw.Type})
	}

	rels := make([]graph.Relationship, 0, len(ext.Relationships))
	for _, raw := range ext.Relationships {
		source := strings.TrimSpace(raw.Source)
		target := strings.TrimSpace(raw.Target)
		if source == "" || target == "" {
			continue
		}
		if !graph.ValidRelationshipType(raw.Type) {
			e.logger.Printf("dropping relationship with off-schema type %q", raw.Type)
			continue
		}
		rels = append(rels, graph.Relationship{
			SourceName: source,
			SourceType: typeByName[source],
			TargetName: target,
			TargetType: typeByName[target],
			Type:       raw.Type,
		})
	}
	return entities, rels
}
