package tablegraph

import (
	"log/slog"

	"tablegraph/internal/naming"
)

// NamingConfig adjusts the inflection rules used when deriving type and
// field names from table aliases and relationship keys.
type NamingConfig struct {
	// PluralOverrides maps singular words to irregular plural forms.
	PluralOverrides map[string]string
	// SingularOverrides maps plural words to irregular singular forms.
	SingularOverrides map[string]string
}

func (c NamingConfig) toInternal() naming.Config {
	cfg := naming.DefaultConfig()
	for k, v := range c.PluralOverrides {
		cfg.PluralOverrides[k] = v
	}
	for k, v := range c.SingularOverrides {
		cfg.SingularOverrides[k] = v
	}
	return cfg
}

// EngineOption configures an Engine at construction time.
type EngineOption func(*Engine)

// WithLogger replaces the engine's logger. Defaults to slog.Default.
func WithLogger(logger *slog.Logger) EngineOption {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithNaming installs inflection overrides for generated names.
func WithNaming(cfg NamingConfig) EngineOption {
	return func(e *Engine) {
		e.naming = cfg.toInternal()
	}
}

// MutationOptions selects which write operations a table exposes. The
// zero value exposes all three.
type MutationOptions struct {
	DisableInserts bool
	DisableUpdates bool
	DisableDeletes bool
}

func (o MutationOptions) allDisabled() bool {
	return o.DisableInserts && o.DisableUpdates && o.DisableDeletes
}

// registration collects per-table options before the binding is built.
type registration struct {
	alias         string
	description   string
	customize     []func(*Customize) error
	mutations     MutationOptions
	allowUnscoped bool
}

// RegisterOption configures one RegisterTable call.
type RegisterOption func(*registration)

// WithName overrides the display name used for the table's generated
// types and fields. Defaults to the data context's table name.
func WithName(alias string) RegisterOption {
	return func(r *registration) {
		r.alias = alias
	}
}

// WithDescription attaches a description to the table's composite type.
func WithDescription(description string) RegisterOption {
	return func(r *registration) {
		r.description = description
	}
}

// WithCustomize runs a configuration callback against the table's four
// customization handles. Callbacks run in the order given, during
// RegisterTable; errors abort the registration.
func WithCustomize(fn func(*Customize) error) RegisterOption {
	return func(r *registration) {
		if fn != nil {
			r.customize = append(r.customize, fn)
		}
	}
}

// WithMutationOptions disables selected write operations for the table.
func WithMutationOptions(opts MutationOptions) RegisterOption {
	return func(r *registration) {
		r.mutations = opts
	}
}

// WithoutMutations hides the table from the mutation root entirely.
func WithoutMutations() RegisterOption {
	return func(r *registration) {
		r.mutations = MutationOptions{
			DisableInserts: true,
			DisableUpdates: true,
			DisableDeletes: true,
		}
	}
}

// WithAllowUnscoped permits update and delete calls with no filter
// arguments. Without it such calls fail instead of touching every row.
func WithAllowUnscoped() RegisterOption {
	return func(r *registration) {
		r.allowUnscoped = true
	}
}
