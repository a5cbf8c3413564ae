package tablegraph

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/graphql-go/graphql"
	"github.com/graphql-go/graphql/language/ast"

	"tablegraph/datactx"
	"tablegraph/internal/selection"
)

// sortedArgNames fixes condition application order. Argument maps are
// unordered, so resolution enumerates names sorted to stay deterministic.
func sortedArgNames(args map[string]any) []string {
	names := make([]string, 0, len(args))
	for name := range args {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// applyFilters conjoins one condition per supplied filter argument onto
// the context chain and reports how many filters were applied.
func applyFilters(c datactx.Context, args map[string]any, plan argPlan) (datactx.Context, int, error) {
	filters := 0
	for _, name := range sortedArgNames(args) {
		spec, ok := plan[name]
		if !ok || spec.kind != argFilter {
			continue
		}
		value := args[name]
		filters++
		if spec.predicate != nil {
			derived, err := spec.predicate(c, value)
			if err != nil {
				return nil, 0, fmt.Errorf("argument %s: %w", name, err)
			}
			c = derived
			continue
		}
		c = c.Where(datactx.Eq(spec.column, value))
	}
	return c, filters, nil
}

// collectSetValues builds the record written by insert and update from the
// supplied set arguments. Explicit nulls pass through as nil values.
func collectSetValues(args map[string]any, plan argPlan) datactx.Row {
	record := datactx.Row{}
	for _, name := range sortedArgNames(args) {
		spec, ok := plan[name]
		if !ok || spec.kind != argSet {
			continue
		}
		record[spec.column] = args[name]
	}
	return record
}

// selectionField returns the AST field under resolution, if any. Requests
// issued outside a GraphQL executor have none and select all columns.
func selectionField(p graphql.ResolveParams) *ast.Field {
	if len(p.Info.FieldASTs) == 0 {
		return nil
	}
	return p.Info.FieldASTs[0]
}

func makeQueryResolver(b *tableBinding, plan argPlan, logger *slog.Logger) graphql.FieldResolveFn {
	return func(p graphql.ResolveParams) (any, error) {
		c, _, err := applyFilters(b.dc, p.Args, plan)
		if err != nil {
			logger.Error("query filter failed",
				slog.String("table", b.alias),
				slog.Any("error", err))
			return nil, err
		}

		take, hasTake := controlValue(p.Args, plan, "take")
		skip, hasSkip := controlValue(p.Args, plan, "skip")
		if hasTake {
			c = c.Take(take)
			if hasSkip {
				c = c.Skip(skip)
			}
		}

		req := selection.Walk(selectionField(p), b.columns, b.relationships, p.Info.Fragments)
		for _, include := range req.Includes {
			c = c.Include(include)
		}

		rows, err := c.Select(p.Context, req.Columns)
		if err != nil {
			logger.Error("query failed",
				slog.String("table", b.alias),
				slog.Any("error", err))
			return nil, err
		}
		return rows, nil
	}
}

// controlValue finds the supplied value of one control argument by its
// canonical name, following renames through the plan.
func controlValue(args map[string]any, plan argPlan, control string) (int, bool) {
	for name, spec := range plan {
		if spec.kind != argControl || spec.control != control {
			continue
		}
		value, supplied := args[name]
		if !supplied || value == nil {
			return 0, false
		}
		n, ok := value.(int)
		return n, ok
	}
	return 0, false
}

func makeInsertResolver(b *tableBinding, plan argPlan, logger *slog.Logger) graphql.FieldResolveFn {
	return func(p graphql.ResolveParams) (any, error) {
		record := collectSetValues(p.Args, plan)
		rows, err := b.dc.Insert(p.Context, record)
		if err != nil {
			logger.Warn("insert rejected",
				slog.String("table", b.alias),
				slog.Any("error", err))
			return nil, newRequestError(
				fmt.Sprintf("insert into %s rejected", b.alias), CodeInsertRejected, err)
		}
		return rows, nil
	}
}

func makeUpdateResolver(b *tableBinding, plan argPlan, logger *slog.Logger) graphql.FieldResolveFn {
	return func(p graphql.ResolveParams) (any, error) {
		c, filters, err := applyFilters(b.dc, p.Args, plan)
		if err != nil {
			return nil, err
		}
		if filters == 0 && !b.allowUnscoped {
			logger.Warn("unscoped update rejected", slog.String("table", b.alias))
			return nil, newRequestError(
				fmt.Sprintf("update on %s requires at least one filter argument", b.alias),
				CodeUnscopedMutation, nil)
		}

		n, err := c.Update(p.Context, collectSetValues(p.Args, plan))
		if err != nil {
			logger.Error("update failed",
				slog.String("table", b.alias),
				slog.Any("error", err))
			return nil, newRequestError(
				fmt.Sprintf("update on %s failed", b.alias), CodeWriteFailed, err)
		}
		return datactx.Row{"numRowsAffected": int(n)}, nil
	}
}

func makeDeleteResolver(b *tableBinding, plan argPlan, logger *slog.Logger) graphql.FieldResolveFn {
	return func(p graphql.ResolveParams) (any, error) {
		c, filters, err := applyFilters(b.dc, p.Args, plan)
		if err != nil {
			return nil, err
		}
		if filters == 0 && !b.allowUnscoped {
			logger.Warn("unscoped delete rejected", slog.String("table", b.alias))
			return nil, newRequestError(
				fmt.Sprintf("delete on %s requires at least one filter argument", b.alias),
				CodeUnscopedMutation, nil)
		}

		n, err := c.Delete(p.Context)
		if err != nil {
			logger.Error("delete failed",
				slog.String("table", b.alias),
				slog.Any("error", err))
			return nil, newRequestError(
				fmt.Sprintf("delete on %s failed", b.alias), CodeWriteFailed, err)
		}
		return datactx.Row{"numRowsAffected": int(n)}, nil
	}
}
