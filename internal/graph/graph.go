package graph

import (
	"context"
	"fmt"
)

// Entity labels and relationship types form a closed schema. Labels
// cannot be passed as Cypher parameters, so every write validates
// against these lists before the label is interpolated into a query.
var (
	EntityTypes = []string{"Company", "Person", "Industry", "FinancialValue"}

	RelationshipTypes = []string{"ACQUIRED", "IS_CEO_OF", "OPERATES_IN", "DEAL_VALUE_IS"}
)

var (
	entityTypeSet       = toSet(EntityTypes)
	relationshipTypeSet = toSet(RelationshipTypes)
)

func toSet(values []string) map[string]struct{} {
	m := make(map[string]struct{}, len(values))
	for _, v := range values {
		m[v] = struct{}{}
	}
	return m
}

// ValidEntityType reports whether the label is part of the schema.
func ValidEntityType(t string) bool {
	_, ok := entityTypeSet[t]
	return ok
}

// ValidRelationshipType reports whether the type is part of the schema.
func ValidRelationshipType(t string) bool {
	_, ok := relationshipTypeSet[t]
	return ok
}

// Entity is a named node with one of the schema labels.
type Entity struct {
	Name string
	Type string
}

// Validate checks the entity against the schema.
func (e Entity) Validate() error {
	if e.Name == "" {
		return fmt.Errorf("entity name must not be empty")
	}
	if !ValidEntityType(e.Type) {
		return fmt.Errorf("entity type %q is not in the schema", e.Type)
	}
	return nil
}

// Relationship connects two entities. Endpoint types are optional: when
// set they disambiguate the node by label, when empty the endpoint is
// matched by name alone across all labels.
type Relationship struct {
	SourceName string
	SourceType string
	TargetName string
	TargetType string
	Type       string
}

// Validate checks the relationship against the schema. Empty endpoint
// types are allowed; non-empty ones must be schema labels.
func (r Relationship) Validate() error {
	if r.SourceName == "" || r.TargetName == "" {
		return fmt.Errorf("relationship endpoints must not be empty")
	}
	if r.SourceType != "" && !ValidEntityType(r.SourceType) {
		return fmt.Errorf("source type %q is not in the schema", r.SourceType)
	}
	if r.TargetType != "" && !ValidEntityType(r.TargetType) {
		return fmt.Errorf("target type %q is not in the schema", r.TargetType)
	}
	if !ValidRelationshipType(r.Type) {
		return fmt.Errorf("relationship type %q is not in the schema", r.Type)
	}
	return nil
}

// Store is the knowledge graph backend.
type Store interface {
	MergeEntities(ctx context.Context, entities []Entity) error
	MergeRelationships(ctx context.Context, rels []Relationship) error
	// ReadQuery runs a read-only Cypher statement. Implementations must
	// reject statements that fail the read-only guard.
	ReadQuery(ctx context.Context, cypher string, params map[string]interface{}) ([]map[string]interface{}, error)
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}
