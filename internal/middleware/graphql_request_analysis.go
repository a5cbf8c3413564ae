package middleware

import (
	"context"
	"net/http"

	"tablegraph/internal/gqlrequest"
	"tablegraph/internal/logging"
	"tablegraph/internal/observability"
)

// GraphQLRequestAnalysisMiddleware decodes and analyzes the GraphQL request
// once, then stores the analysis, execution metadata and an enriched logger
// in the request context for downstream middleware.
//
// schemaVersion reports the version of the schema snapshot currently
// serving requests; nil is allowed.
func GraphQLRequestAnalysisMiddleware(schemaVersion func() string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			analysis := gqlrequest.AnalyzeRequest(r)
			meta := execMetaFor(analysis, schemaVersion)

			ctx := gqlrequest.WithAnalysis(r.Context(), analysis)
			ctx = gqlrequest.WithExecMeta(ctx, meta)
			ctx = enrichRequestLogger(ctx, analysis, meta)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func execMetaFor(analysis *gqlrequest.Analysis, schemaVersion func() string) gqlrequest.ExecMeta {
	var meta gqlrequest.ExecMeta
	if schemaVersion != nil {
		meta.SchemaVersion = schemaVersion()
	}
	if analysis != nil {
		meta.OperationName = analysis.OperationName
		meta.OperationType = analysis.OperationType
		meta.OperationHash = analysis.OperationHash
	}
	return meta
}

func enrichRequestLogger(ctx context.Context, analysis *gqlrequest.Analysis, meta gqlrequest.ExecMeta) context.Context {
	logFields := observability.GraphQLLogFields(ctx, analysis, meta)
	if len(logFields) == 0 {
		return ctx
	}
	logger := logging.FromContext(ctx)
	return logging.WithLogger(ctx, logger.WithFields(logFields...))
}
