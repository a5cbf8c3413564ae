// Package tablegraph synthesizes GraphQL schemas from relational table
// metadata. Tables are registered with a data context that supplies column
// and relationship descriptors plus a chainable query surface; the engine
// generates composite types for each table and its relationship tree, one
// query operation and three mutations per table, and resolvers that
// translate field selections and arguments into data-context calls.
//
// Argument sets are customizable per table and operation during
// registration: arguments can be added with caller-defined predicates,
// suppressed, or changed (renamed, redescribed, retyped, and for query
// operations redefined). The first schema build freezes configuration;
// afterwards registration and customization fail and concurrent requests
// read the synthesized plans without locks.
package tablegraph

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/graphql-go/graphql"

	"tablegraph/datactx"
	"tablegraph/internal/naming"
)

// Engine accumulates table bindings and builds executable schemas from
// them. The zero value is not usable; call New.
type Engine struct {
	mu       sync.Mutex
	logger   *slog.Logger
	naming   naming.Config
	bindings []*tableBinding
	frozen   atomic.Bool
}

// New creates an empty engine.
func New(opts ...EngineOption) *Engine {
	e := &Engine{
		logger: slog.Default(),
		naming: naming.DefaultConfig(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RegisterTable binds a data context to the engine. The context's schema
// and relationships load eagerly so metadata problems surface here, and
// customization callbacks run before this returns so configuration errors
// never wait for the first request. Registration fails once a schema has
// been built.
func (e *Engine) RegisterTable(ctx context.Context, dc datactx.Context, opts ...RegisterOption) error {
	if dc == nil {
		return fmt.Errorf("register table: data context is required")
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.frozen.Load() {
		return fmt.Errorf("register table: %w", ErrConfigurationFrozen)
	}

	var reg registration
	for _, opt := range opts {
		opt(&reg)
	}

	b, err := newTableBinding(ctx, dc, reg, &e.frozen, naming.New(e.naming, e.logger), e.logger)
	if err != nil {
		return err
	}
	for _, existing := range e.bindings {
		if existing.alias == b.alias {
			return fmt.Errorf("register table %s: alias already registered", b.alias)
		}
	}
	e.bindings = append(e.bindings, b)

	e.logger.Info("table registered",
		slog.String("table", b.alias),
		slog.Int("columns", len(b.columns)),
		slog.Int("relationships", len(b.relationships)))
	return nil
}

// Tables lists the registered table aliases in registration order.
func (e *Engine) Tables() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	aliases := make([]string, len(e.bindings))
	for i, b := range e.bindings {
		aliases[i] = b.alias
	}
	return aliases
}

// freeze flips the engine into the read-only synthesis phase. Callers hold e.mu.
func (e *Engine) freeze() {
	if e.frozen.CompareAndSwap(false, true) {
		e.logger.Info("configuration frozen", slog.Int("tables", len(e.bindings)))
	}
}

// RootQueryConfig synthesizes the root query object for a schema host.
// Name defaults to "Query". Each call is an independent build: generated
// type objects are not shared with other calls.
func (e *Engine) RootQueryConfig(name, description string) (graphql.ObjectConfig, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.freeze()
	return e.rootQueryConfig(newBuildSession(e.naming, e.logger), name, description)
}

func (e *Engine) rootQueryConfig(s *buildSession, name, description string) (graphql.ObjectConfig, error) {
	if name == "" {
		name = "Query"
	}
	fields := graphql.Fields{}
	for _, b := range e.bindings {
		fieldName, field, err := s.queryField(b, e.logger)
		if err != nil {
			return graphql.ObjectConfig{}, err
		}
		fields[fieldName] = field
	}
	if len(fields) == 0 {
		// An executable schema needs at least one query field.
		fields["_schema"] = &graphql.Field{
			Type:        graphql.String,
			Description: "Placeholder present while no tables are registered.",
			Resolve: func(graphql.ResolveParams) (any, error) {
				return "no tables registered", nil
			},
		}
	}
	return graphql.ObjectConfig{Name: name, Description: description, Fields: fields}, nil
}

// RootMutationConfig synthesizes the root mutation object. Name defaults
// to "Mutation". When every registered table disables every mutation the
// returned config has no fields; callers composing their own schema should
// omit the mutation type in that case, as BuildSchema does.
func (e *Engine) RootMutationConfig(name, description string) (graphql.ObjectConfig, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.freeze()
	return e.rootMutationConfig(newBuildSession(e.naming, e.logger), name, description)
}

func (e *Engine) rootMutationConfig(s *buildSession, name, description string) (graphql.ObjectConfig, error) {
	if name == "" {
		name = "Mutation"
	}
	fields := graphql.Fields{}
	for _, b := range e.bindings {
		if !b.mutations.DisableInserts {
			fieldName, field, err := s.insertField(b, e.logger)
			if err != nil {
				return graphql.ObjectConfig{}, err
			}
			fields[fieldName] = field
		}
		if !b.mutations.DisableUpdates {
			fieldName, field, err := s.updateField(b, e.logger)
			if err != nil {
				return graphql.ObjectConfig{}, err
			}
			fields[fieldName] = field
		}
		if !b.mutations.DisableDeletes {
			fieldName, field, err := s.deleteField(b, e.logger)
			if err != nil {
				return graphql.ObjectConfig{}, err
			}
			fields[fieldName] = field
		}
	}
	return graphql.ObjectConfig{Name: name, Description: description, Fields: fields}, nil
}

// BuildSchema synthesizes a complete executable schema from the
// registered tables. The first call freezes configuration. Both roots are
// built in one session so generated type names stay unique across them.
func (e *Engine) BuildSchema() (graphql.Schema, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.freeze()

	s := newBuildSession(e.naming, e.logger)
	queryConfig, err := e.rootQueryConfig(s, "", "")
	if err != nil {
		return graphql.Schema{}, err
	}
	schemaConfig := graphql.SchemaConfig{Query: graphql.NewObject(queryConfig)}

	mutationConfig, err := e.rootMutationConfig(s, "", "")
	if err != nil {
		return graphql.Schema{}, err
	}
	if fields, ok := mutationConfig.Fields.(graphql.Fields); ok && len(fields) > 0 {
		schemaConfig.Mutation = graphql.NewObject(mutationConfig)
	}

	schema, err := graphql.NewSchema(schemaConfig)
	if err != nil {
		return graphql.Schema{}, fmt.Errorf("build schema: %w", err)
	}
	e.logger.Info("schema built", slog.Int("tables", len(e.bindings)))
	return schema, nil
}
