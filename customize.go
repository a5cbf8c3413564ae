package tablegraph

import (
	"fmt"
	"sync/atomic"

	"github.com/graphql-go/graphql"

	"tablegraph/datactx"
)

// Predicate turns a supplied argument value into filter conditions on a
// data context. It returns the derived context; the received context is
// never mutated.
type Predicate func(c datactx.Context, value any) (datactx.Context, error)

// EqPredicate builds the default equality predicate for a column. Altered
// arguments keep it unless a redefinition replaces it.
func EqPredicate(column string) Predicate {
	return func(c datactx.Context, value any) (datactx.Context, error) {
		return c.Where(datactx.Eq(column, value)), nil
	}
}

type opKind int

const (
	opQuery opKind = iota
	opInsert
	opUpdate
	opDelete
)

func (k opKind) String() string {
	switch k {
	case opInsert:
		return "insert"
	case opUpdate:
		return "update"
	case opDelete:
		return "delete"
	default:
		return "query"
	}
}

// defaultKind classifies what a default argument stands for.
type defaultKind int

const (
	defaultFilter defaultKind = iota
	defaultSet
	defaultControl
)

// defaultArg is one synthesized default argument of an operation.
type defaultArg struct {
	kind defaultKind
	// column backing the argument; zero for control arguments.
	column datactx.ColumnDescriptor
	// required marks insert columns that cannot be left unset.
	required bool
}

// customArgument is a caller-added argument with its own predicate.
type customArgument struct {
	name        string
	description string
	valueType   graphql.Input
	predicate   Predicate
}

// alteredArgument redefines aspects of one default argument.
type alteredArgument struct {
	original       string
	newName        string
	newDescription string
	hasDescription bool
	newType        graphql.Input
	newPredicate   Predicate
}

// customizationSet holds one operation's customizations for one table.
// Populated during registration, read-only once synthesis begins.
type customizationSet struct {
	kind       opKind
	defaults   map[string]defaultArg
	suppressed map[string]struct{}
	customs    []customArgument
	customIdx  map[string]struct{}
	altered    map[string]alteredArgument
	// renameTargets tracks new names claimed by renames for collision checks.
	renameTargets map[string]string
	// vacant names columns that never synthesize an argument for this
	// operation (identity and virtual columns on insert). Removing one is
	// a harmless no-op rather than an unknown-argument error.
	vacant map[string]struct{}
	err    error
}

func newCustomizationSet(kind opKind, defaults map[string]defaultArg, vacant map[string]struct{}) *customizationSet {
	return &customizationSet{
		kind:          kind,
		defaults:      defaults,
		suppressed:    make(map[string]struct{}),
		customIdx:     make(map[string]struct{}),
		altered:       make(map[string]alteredArgument),
		renameTargets: make(map[string]string),
		vacant:        vacant,
	}
}

// record keeps the first error so a misconfiguration surfaces from
// RegisterTable even when a caller drops the per-call error.
func (s *customizationSet) record(err error) error {
	if err != nil && s.err == nil {
		s.err = err
	}
	return err
}

// nameTaken reports whether name is already claimed by a default, a custom
// argument, or a rename target. excludeOriginal skips one default name so a
// rename may reuse its own original.
func (s *customizationSet) nameTaken(name, excludeOriginal string) bool {
	if _, ok := s.defaults[name]; ok && name != excludeOriginal {
		return true
	}
	if _, ok := s.customIdx[name]; ok {
		return true
	}
	if _, ok := s.renameTargets[name]; ok {
		return true
	}
	return false
}

// OpCustomizer exposes argument customization for one operation kind of one
// table. Handles are only valid during the registration phase.
type OpCustomizer struct {
	table  string
	set    *customizationSet
	frozen *atomic.Bool
}

// AddArgument registers a caller-defined argument resolved through the
// given predicate. The description may be empty. Fails when the name
// collides with a default or previously added argument.
func (c *OpCustomizer) AddArgument(name, description string, valueType graphql.Input, predicate Predicate) error {
	if c.frozen.Load() {
		return c.set.record(fmt.Errorf("table %s %s addArgument %q: %w", c.table, c.set.kind, name, ErrConfigurationFrozen))
	}
	if name == "" {
		return c.set.record(fmt.Errorf("table %s %s addArgument: name is required", c.table, c.set.kind))
	}
	if valueType == nil {
		return c.set.record(fmt.Errorf("table %s %s addArgument %q: value type is required", c.table, c.set.kind, name))
	}
	if predicate == nil {
		return c.set.record(fmt.Errorf("table %s %s addArgument %q: predicate is required", c.table, c.set.kind, name))
	}
	if c.set.nameTaken(name, "") {
		return c.set.record(fmt.Errorf("table %s %s addArgument %q: %w", c.table, c.set.kind, name, ErrDuplicateArgument))
	}
	c.set.customs = append(c.set.customs, customArgument{
		name:        name,
		description: description,
		valueType:   valueType,
		predicate:   predicate,
	})
	c.set.customIdx[name] = struct{}{}
	return nil
}

// RemoveArgument suppresses a default argument. Removing the same name
// twice is a no-op; removing an argument that was changed in the same
// configuration pass is a conflict.
func (c *OpCustomizer) RemoveArgument(name string) error {
	if c.frozen.Load() {
		return c.set.record(fmt.Errorf("table %s %s removeArgument %q: %w", c.table, c.set.kind, name, ErrConfigurationFrozen))
	}
	def, ok := c.set.defaults[name]
	if !ok {
		if _, vacant := c.set.vacant[name]; vacant {
			return nil
		}
		return c.set.record(fmt.Errorf("table %s %s removeArgument %q: %w", c.table, c.set.kind, name, ErrUnknownArgument))
	}
	if _, ok := c.set.altered[name]; ok {
		return c.set.record(fmt.Errorf("table %s %s: remove and change both target %q: %w", c.table, c.set.kind, name, ErrConflictingCustomization))
	}
	if c.set.kind == opInsert && def.required {
		return c.set.record(fmt.Errorf("table %s insert removeArgument %q: %w", c.table, name, ErrCannotRemoveRequiredInsertArgument))
	}
	c.set.suppressed[name] = struct{}{}
	return nil
}

// ChangeArgument starts a change of one default argument. The returned
// builder is a value; each call derives a new builder and nothing takes
// effect until Apply.
func (c *OpCustomizer) ChangeArgument(original string) ArgumentChange {
	return ArgumentChange{customizer: c, alt: alteredArgument{original: original}}
}

// ArgumentChange accumulates a partial redefinition of a default argument.
// Builders are immutable values; chain calls and commit with Apply.
type ArgumentChange struct {
	customizer *OpCustomizer
	alt        alteredArgument
	err        error
}

// Rename exposes the argument under a new name. The original name is
// retired and the definition, description, and predicate move with it.
func (ch ArgumentChange) Rename(name string) ArgumentChange {
	ch.alt.newName = name
	return ch
}

// Describe replaces the argument description.
func (ch ArgumentChange) Describe(description string) ArgumentChange {
	ch.alt.newDescription = description
	ch.alt.hasDescription = true
	return ch
}

// Retype declares a new value type. Without a matching Redefine the
// predicate receives the raw value as newly typed, so the predicate must
// handle the new representation.
func (ch ArgumentChange) Retype(valueType graphql.Input) ArgumentChange {
	ch.alt.newType = valueType
	return ch
}

// Redefine replaces the predicate. Only query arguments accept this;
// update and delete filters keep equality semantics for row targeting.
func (ch ArgumentChange) Redefine(predicate Predicate) ArgumentChange {
	if predicate == nil {
		ch.err = fmt.Errorf("redefine %q: predicate is required", ch.alt.original)
		return ch
	}
	ch.alt.newPredicate = predicate
	return ch
}

// Apply commits the change. Errors are detected here, before synthesis,
// and are also surfaced from RegisterTable.
func (ch ArgumentChange) Apply() error {
	c := ch.customizer
	if c == nil {
		return fmt.Errorf("changeArgument: builder not created by a customizer")
	}
	set := c.set
	if ch.err != nil {
		return set.record(ch.err)
	}
	if c.frozen.Load() {
		return set.record(fmt.Errorf("table %s %s changeArgument %q: %w", c.table, set.kind, ch.alt.original, ErrConfigurationFrozen))
	}

	original := ch.alt.original
	def, ok := set.defaults[original]
	if !ok {
		return set.record(fmt.Errorf("table %s %s changeArgument %q: %w", c.table, set.kind, original, ErrUnknownArgument))
	}
	if _, suppressed := set.suppressed[original]; suppressed {
		return set.record(fmt.Errorf("table %s %s: remove and change both target %q: %w", c.table, set.kind, original, ErrConflictingCustomization))
	}
	if _, exists := set.altered[original]; exists {
		return set.record(fmt.Errorf("table %s %s: %q changed twice: %w", c.table, set.kind, original, ErrConflictingCustomization))
	}
	if ch.alt.newPredicate != nil && set.kind != opQuery {
		return set.record(fmt.Errorf("table %s %s changeArgument %q: %w", c.table, set.kind, original, ErrPredicateRestricted))
	}
	if def.kind == defaultControl && (ch.alt.newPredicate != nil || ch.alt.newType != nil) {
		return set.record(fmt.Errorf("table %s %s changeArgument %q: control arguments only support rename and describe: %w", c.table, set.kind, original, ErrPredicateRestricted))
	}
	if ch.alt.newName != "" && ch.alt.newName != original && set.nameTaken(ch.alt.newName, original) {
		return set.record(fmt.Errorf("table %s %s changeArgument %q: rename to %q: %w", c.table, set.kind, original, ch.alt.newName, ErrDuplicateArgument))
	}

	set.altered[original] = ch.alt
	if ch.alt.newName != "" && ch.alt.newName != original {
		set.renameTargets[ch.alt.newName] = original
	}
	return nil
}

// InsertCustomizer narrows customization for insert operations: insert has
// no filtering semantics, so there is no AddArgument.
type InsertCustomizer struct {
	op *OpCustomizer
}

// RemoveArgument suppresses an insert column argument. Only columns that
// are already optional (nullable, identity, or virtual) may be removed.
func (c *InsertCustomizer) RemoveArgument(name string) error {
	return c.op.RemoveArgument(name)
}

// ChangeArgument starts a rename/redescribe/retype of an insert argument.
func (c *InsertCustomizer) ChangeArgument(original string) ArgumentChange {
	return c.op.ChangeArgument(original)
}

// Customize carries the four per-operation customization handles passed to
// a registration callback.
type Customize struct {
	Query  *OpCustomizer
	Insert *InsertCustomizer
	Update *OpCustomizer
	Delete *OpCustomizer
}
