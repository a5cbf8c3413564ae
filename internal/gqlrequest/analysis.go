package gqlrequest

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/graphql-go/graphql/language/ast"
	"github.com/graphql-go/graphql/language/parser"
	"github.com/graphql-go/graphql/language/source"
)

// Analysis stores parsed and derived GraphQL request metadata.
type Analysis struct {
	Envelope               Envelope
	RequestedOperationName string

	Document  *ast.Document
	Fragments map[string]*ast.FragmentDefinition
	Operation *ast.OperationDefinition

	OperationName string
	OperationType string

	FieldCount     int
	SelectionDepth int
	VariableCount  int

	CanonicalOperation string
	OperationHash      string

	DecodeError     error
	ParseError      error
	SelectionError  error
	CanonicalizeErr error

	operations []*ast.OperationDefinition
}

// AnalyzeRequest decodes and analyzes a GraphQL request payload. A failed
// decode is recorded and whatever envelope fields survived are analyzed
// anyway.
func AnalyzeRequest(r *http.Request) *Analysis {
	env, err := DecodeEnvelope(r)
	a := AnalyzeEnvelope(env)
	a.DecodeError = err
	return a
}

// AnalyzeEnvelope parses and analyzes a normalized request envelope. Each
// phase records its failure on the Analysis and stops the pipeline, so
// callers always get whatever metadata was derivable.
func AnalyzeEnvelope(env Envelope) *Analysis {
	a := &Analysis{Envelope: env, RequestedOperationName: env.OperationName}
	if strings.TrimSpace(env.Query) == "" {
		return a
	}

	for _, phase := range []func() bool{a.parse, a.selectOperation, a.fingerprint} {
		if !phase() {
			break
		}
	}
	return a
}

// parse builds the AST and splits the definitions into the fragment map
// and the operation list in one pass.
func (a *Analysis) parse() bool {
	src := source.NewSource(&source.Source{Body: []byte(a.Envelope.Query), Name: "graphql"})
	doc, err := parser.Parse(parser.ParseParams{Source: src})
	if err != nil {
		a.ParseError = err
		return false
	}

	a.Document = doc
	a.Fragments = make(map[string]*ast.FragmentDefinition)
	for _, def := range doc.Definitions {
		switch node := def.(type) {
		case *ast.FragmentDefinition:
			if node != nil && node.Name != nil && node.Name.Value != "" {
				a.Fragments[node.Name.Value] = node
			}
		case *ast.OperationDefinition:
			if node != nil {
				a.operations = append(a.operations, node)
			}
		}
	}
	return true
}

func (a *Analysis) selectOperation() bool {
	op, err := pickOperation(a.operations, a.RequestedOperationName)
	if err != nil {
		a.SelectionError = err
		return false
	}

	a.Operation = op
	a.OperationName = effectiveOperationName(op)
	a.OperationType = string(op.Operation)
	a.VariableCount = len(op.VariableDefinitions)

	walk := selectionWalker{fragments: a.Fragments}
	a.FieldCount, a.SelectionDepth = walk.measure(op.SelectionSet, 1)
	return true
}

func (a *Analysis) fingerprint() bool {
	canonical, hash, err := canonicalize(a.Operation, a.Fragments)
	if err != nil {
		a.CanonicalizeErr = err
		return false
	}
	a.CanonicalOperation = canonical
	a.OperationHash = hash
	return true
}

// pickOperation resolves which operation a request targets, honoring
// operationName when the document defines several.
func pickOperation(ops []*ast.OperationDefinition, name string) (*ast.OperationDefinition, error) {
	if name != "" {
		for _, op := range ops {
			if op.Name != nil && op.Name.Value == name {
				return op, nil
			}
		}
		return nil, fmt.Errorf("no operation named %q", name)
	}

	switch len(ops) {
	case 0:
		return nil, fmt.Errorf("request contains no operation")
	case 1:
		return ops[0], nil
	default:
		return nil, fmt.Errorf("operationName is required when the request has multiple operations")
	}
}

// selectionWalker counts fields and tracks the deepest selection path.
// Fragment spreads count once; cycles and repeat spreads are skipped.
type selectionWalker struct {
	fragments map[string]*ast.FragmentDefinition
	visited   map[string]bool
	inFlight  map[string]bool
}

func (w *selectionWalker) measure(set *ast.SelectionSet, depth int) (fields, maxDepth int) {
	if w.visited == nil {
		w.visited = map[string]bool{}
		w.inFlight = map[string]bool{}
	}
	if set == nil {
		return 0, depth - 1
	}

	maxDepth = depth
	for _, selection := range set.Selections {
		n, d := w.measureOne(selection, depth)
		fields += n
		maxDepth = max(maxDepth, d)
	}
	return fields, maxDepth
}

func (w *selectionWalker) measureOne(selection ast.Selection, depth int) (fields, maxDepth int) {
	maxDepth = depth
	switch sel := selection.(type) {
	case *ast.Field:
		fields = 1
		if sel.SelectionSet != nil {
			n, d := w.measure(sel.SelectionSet, depth+1)
			fields += n
			maxDepth = max(maxDepth, d)
		}
	case *ast.InlineFragment:
		// Inline fragments narrow the type without adding a level.
		n, d := w.measure(sel.SelectionSet, depth)
		fields, maxDepth = n, max(maxDepth, d)
	case *ast.FragmentSpread:
		fields, maxDepth = w.measureSpread(sel, depth)
	}
	return fields, maxDepth
}

func (w *selectionWalker) measureSpread(sel *ast.FragmentSpread, depth int) (fields, maxDepth int) {
	name := ""
	if sel.Name != nil {
		name = sel.Name.Value
	}
	if name == "" || w.inFlight[name] || w.visited[name] {
		return 0, depth
	}

	w.inFlight[name] = true
	w.visited[name] = true
	defer delete(w.inFlight, name)

	fragment, ok := w.fragments[name]
	if !ok || fragment == nil {
		return 0, depth
	}
	n, d := w.measure(fragment.SelectionSet, depth)
	return n, max(depth, d)
}
