package gqlrequest

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/graphql-go/graphql/language/ast"
	"github.com/graphql-go/graphql/language/printer"
)

const anonymousOperationName = "<anonymous>"

// canonicalize prints the operation plus every fragment it references in a
// stable order, and hashes the result. The hash identifies an operation
// shape across requests regardless of whitespace or fragment ordering.
func canonicalize(op *ast.OperationDefinition, fragments map[string]*ast.FragmentDefinition) (string, string, error) {
	if op == nil {
		return "", "", errors.New("operation is nil")
	}

	definitions := []ast.Node{op}
	for _, name := range referencedFragmentNames(op.SelectionSet, fragments) {
		fragment := fragments[name]
		if fragment == nil {
			return "", "", fmt.Errorf("fragment %q not found", name)
		}
		definitions = append(definitions, fragment)
	}

	raw := printer.Print(ast.NewDocument(&ast.Document{Definitions: definitions}))
	canonical, ok := raw.(string)
	if !ok {
		return "", "", fmt.Errorf("unexpected canonical document type %T", raw)
	}
	return canonical, framedSHA256(canonical, effectiveOperationName(op)), nil
}

// referencedFragmentNames walks the selection tree iteratively and
// returns the transitive fragment spread names in sorted order. Spreads
// of unknown fragments are reported so canonicalize can reject the
// document; re-spreads of a visited fragment are ignored, which also
// terminates on fragment cycles.
func referencedFragmentNames(root *ast.SelectionSet, fragments map[string]*ast.FragmentDefinition) []string {
	if root == nil || len(fragments) == 0 {
		return nil
	}

	visited := make(map[string]bool)
	pending := []*ast.SelectionSet{root}
	for len(pending) > 0 {
		set := pending[len(pending)-1]
		pending = pending[:len(pending)-1]
		if set == nil {
			continue
		}
		for _, selection := range set.Selections {
			switch sel := selection.(type) {
			case *ast.Field:
				pending = append(pending, sel.SelectionSet)
			case *ast.InlineFragment:
				pending = append(pending, sel.SelectionSet)
			case *ast.FragmentSpread:
				name := ""
				if sel.Name != nil {
					name = sel.Name.Value
				}
				if name == "" || visited[name] {
					continue
				}
				visited[name] = true
				if fragment, ok := fragments[name]; ok && fragment != nil {
					pending = append(pending, fragment.SelectionSet)
				}
			}
		}
	}

	return slices.Sorted(maps.Keys(visited))
}

func effectiveOperationName(op *ast.OperationDefinition) string {
	if op != nil && op.Name != nil && op.Name.Value != "" {
		return op.Name.Value
	}
	return anonymousOperationName
}

// framedSHA256 hashes parts with length framing so concatenation cannot
// produce collisions between different part boundaries.
func framedSHA256(parts ...string) string {
	h := sha256.New()
	for _, part := range parts {
		_, _ = fmt.Fprintf(h, "%d:%s|", len(part), part)
	}
	return hex.EncodeToString(h.Sum(nil))
}
