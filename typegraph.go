package tablegraph

import (
	"fmt"
	"log/slog"

	"github.com/graphql-go/graphql"

	"tablegraph/datactx"
	"tablegraph/internal/naming"
	"tablegraph/internal/typemap"
)

// buildSession scopes one schema build. Generated composite types are
// memoized here by name so repeated relationship shapes share a type, and
// the memo is discarded with the session so independent builds never
// exchange type objects.
type buildSession struct {
	namer  *naming.Namer
	logger *slog.Logger

	types      map[string]*graphql.Object
	inProgress map[string]struct{}

	affectedRows *graphql.Object
}

func newBuildSession(cfg naming.Config, logger *slog.Logger) *buildSession {
	return &buildSession{
		namer:      naming.New(cfg, logger),
		logger:     logger,
		types:      make(map[string]*graphql.Object),
		inProgress: make(map[string]struct{}),
	}
}

// buildTableType builds the full composite type for a binding: every
// column plus a field per relationship, recursing through the declared
// relationship tree.
func (s *buildSession) buildTableType(b *tableBinding) (*graphql.Object, error) {
	name := s.namer.RegisterTypeName(s.namer.TypeName(b.alias), b.alias)
	if obj, ok := s.types[name]; ok {
		return obj, nil
	}

	fields := graphql.Fields{}
	if err := s.addColumnFields(fields, b.columns); err != nil {
		return nil, fmt.Errorf("table %s: %w", b.alias, err)
	}
	s.inProgress[name] = struct{}{}
	defer delete(s.inProgress, name)
	for _, rel := range b.relationships {
		if err := s.addRelationField(fields, rel, b.alias); err != nil {
			return nil, fmt.Errorf("table %s: %w", b.alias, err)
		}
	}

	obj := graphql.NewObject(graphql.ObjectConfig{
		Name:        name,
		Description: b.description,
		Fields:      fields,
	})
	s.types[name] = obj
	return obj, nil
}

// buildFlatType builds the relationship-free composite used to echo
// inserted rows. Generated columns appear here even though they are never
// insert arguments.
func (s *buildSession) buildFlatType(b *tableBinding) (*graphql.Object, error) {
	name := s.namer.RegisterTypeName(s.namer.TypeName(b.alias)+"Row", b.alias)
	if obj, ok := s.types[name]; ok {
		return obj, nil
	}

	fields := graphql.Fields{}
	if err := s.addColumnFields(fields, b.columns); err != nil {
		return nil, fmt.Errorf("table %s: %w", b.alias, err)
	}
	obj := graphql.NewObject(graphql.ObjectConfig{
		Name:        name,
		Description: b.description,
		Fields:      fields,
	})
	s.types[name] = obj
	return obj, nil
}

// buildRelationType builds (or reuses) the composite type for one
// relationship entry. Entries generating the same name are assumed
// identical in shape and share the memoized type.
func (s *buildSession) buildRelationType(rel datactx.RelationshipDescriptor, source string) (*graphql.Object, error) {
	name := s.namer.RelationTypeName(rel.RelationKey, rel.TableName, rel.Cardinality == datactx.OneToOne)
	if obj, ok := s.types[name]; ok {
		return obj, nil
	}
	if _, building := s.inProgress[name]; building {
		return nil, fmt.Errorf("relation %s resolves to type %s while %s is still being built: %w",
			rel.RelationKey, name, name, ErrCycleDetected)
	}
	name = s.namer.RegisterTypeName(name, source)

	s.inProgress[name] = struct{}{}
	defer delete(s.inProgress, name)

	fields := graphql.Fields{}
	if err := s.addColumnFields(fields, rel.Columns); err != nil {
		return nil, fmt.Errorf("relation %s: %w", rel.RelationKey, err)
	}
	for _, nested := range rel.Relationships {
		if err := s.addRelationField(fields, nested, source+"."+rel.RelationKey); err != nil {
			return nil, fmt.Errorf("relation %s: %w", rel.RelationKey, err)
		}
	}

	obj := graphql.NewObject(graphql.ObjectConfig{
		Name:   name,
		Fields: fields,
	})
	s.types[name] = obj
	return obj, nil
}

// addColumnFields appends one output field per column. Resolution relies
// on the default map lookup: rows are map[string]any keyed by column name.
func (s *buildSession) addColumnFields(fields graphql.Fields, columns []datactx.ColumnDescriptor) error {
	for _, col := range columns {
		typ, err := typemap.OutputType(col)
		if err != nil {
			return err
		}
		if _, exists := fields[col.Name]; exists {
			s.logger.Warn("duplicate column name in metadata, keeping first occurrence",
				slog.String("column", col.Name))
			continue
		}
		fields[col.Name] = &graphql.Field{Type: typ}
	}
	return nil
}

// addRelationField appends the field for one relationship. One-to-many
// relations are lists; one-to-one relations are a bare nullable object.
func (s *buildSession) addRelationField(fields graphql.Fields, rel datactx.RelationshipDescriptor, source string) error {
	relType, err := s.buildRelationType(rel, source)
	if err != nil {
		return err
	}
	if _, exists := fields[rel.RelationKey]; exists {
		s.logger.Warn("relation key shadows an existing field, keeping first occurrence",
			slog.String("relation", rel.RelationKey))
		return nil
	}
	var fieldType graphql.Output = relType
	if rel.Cardinality == datactx.OneToMany {
		fieldType = graphql.NewList(relType)
	}
	fields[rel.RelationKey] = &graphql.Field{Type: fieldType}
	return nil
}

// affectedRowsType returns the shared row-count wrapper for update and
// delete results, building it on first use.
func (s *buildSession) affectedRowsType() *graphql.Object {
	if s.affectedRows == nil {
		name := s.namer.RegisterTypeName("AffectedRows", "affected rows wrapper")
		s.affectedRows = graphql.NewObject(graphql.ObjectConfig{
			Name:        name,
			Description: "Number of rows written by an update or delete.",
			Fields: graphql.Fields{
				"numRowsAffected": &graphql.Field{
					Type: graphql.NewNonNull(graphql.Int),
				},
			},
		})
		s.types[name] = s.affectedRows
	}
	return s.affectedRows
}
