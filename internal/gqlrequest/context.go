package gqlrequest

import "context"

type (
	analysisCtxKey struct{}
	execMetaCtxKey struct{}
)

// ExecMeta is the immutable per-request execution record: which
// operation ran, against which schema snapshot. Middleware stores it
// once; metrics and tracing read it.
type ExecMeta struct {
	SchemaVersion string
	OperationName string
	OperationType string
	OperationHash string
}

// WithAnalysis returns a context carrying the decoded request analysis.
func WithAnalysis(ctx context.Context, analysis *Analysis) context.Context {
	return context.WithValue(ctx, analysisCtxKey{}, analysis)
}

// AnalysisFromContext returns the stored analysis, or nil when the
// request never passed through the analysis middleware.
func AnalysisFromContext(ctx context.Context) *Analysis {
	if ctx == nil {
		return nil
	}
	analysis, _ := ctx.Value(analysisCtxKey{}).(*Analysis)
	return analysis
}

// WithExecMeta returns a context carrying meta.
func WithExecMeta(ctx context.Context, meta ExecMeta) context.Context {
	return context.WithValue(ctx, execMetaCtxKey{}, meta)
}

// ExecMetaFromContext returns the stored execution record.
func ExecMetaFromContext(ctx context.Context) (ExecMeta, bool) {
	if ctx == nil {
		return ExecMeta{}, false
	}
	meta, ok := ctx.Value(execMetaCtxKey{}).(ExecMeta)
	return meta, ok
}
