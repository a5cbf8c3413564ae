package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"time"

	"tablegraph/internal/gqlrequest"
	"tablegraph/internal/observability"
)

// GraphQLMetricsMiddleware records request count, duration, selection depth
// and result size metrics for GraphQL requests. It reads the analysis stored
// by GraphQLRequestAnalysisMiddleware when present and decodes the request
// itself otherwise.
func GraphQLMetricsMiddleware(metrics *observability.GraphQLMetrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// GET traffic to the endpoint is GraphiQL page loads, not queries.
			if r.Method != http.MethodPost {
				next.ServeHTTP(w, r)
				return
			}

			ctx := r.Context()
			metrics.IncrementActiveRequests(ctx)
			defer metrics.DecrementActiveRequests(ctx)

			started := time.Now()

			analysis := gqlrequest.AnalysisFromContext(ctx)
			if analysis == nil {
				analysis = gqlrequest.AnalyzeRequest(r)
			}
			operationType := analysis.OperationType
			if operationType == "" {
				operationType = "unknown"
			}

			capture := &captureResponseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(capture, r)

			outcome := classifyResponse(capture.status, capture.body.Bytes())
			metrics.RecordRequest(ctx, time.Since(started), operationType, outcome.errorCode)
			if analysis.Operation != nil {
				metrics.RecordQueryDepth(ctx, int64(analysis.SelectionDepth), operationType)
			}
			if outcome.results > 0 {
				metrics.RecordResultsCount(ctx, outcome.results, operationType)
			}
		})
	}
}

// captureResponseWriter records the status code and buffers the response
// body for outcome classification.
type captureResponseWriter struct {
	http.ResponseWriter
	status  int
	written bool
	body    bytes.Buffer
}

func (c *captureResponseWriter) WriteHeader(status int) {
	if c.written {
		return
	}
	c.status = status
	c.written = true
	c.ResponseWriter.WriteHeader(status)
}

func (c *captureResponseWriter) Write(b []byte) (int, error) {
	if !c.written {
		c.WriteHeader(http.StatusOK)
	}
	c.body.Write(b)
	return c.ResponseWriter.Write(b)
}

type responseOutcome struct {
	errorCode string
	results   int64
}

// classifyResponse inspects a GraphQL response for errors and result sizes.
// The error code comes from the first error's extensions, so engine
// rejections surface as metric labels.
func classifyResponse(status int, body []byte) responseOutcome {
	outcome := responseOutcome{}

	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 {
		var payload struct {
			Data   map[string]json.RawMessage `json:"data"`
			Errors []struct {
				Extensions struct {
					Code string `json:"code"`
				} `json:"extensions"`
			} `json:"errors"`
		}
		if err := json.Unmarshal(trimmed, &payload); err == nil {
			if len(payload.Errors) > 0 {
				outcome.errorCode = payload.Errors[0].Extensions.Code
				if outcome.errorCode == "" {
					outcome.errorCode = "graphql_error"
				}
			}
			outcome.results = countListResults(payload.Data)
		}
	}

	if outcome.errorCode == "" && status >= 400 {
		outcome.errorCode = "http_error"
	}
	return outcome
}

// countListResults sums the lengths of top-level list fields in the data
// object.
func countListResults(data map[string]json.RawMessage) int64 {
	var total int64
	for _, raw := range data {
		value := bytes.TrimSpace(raw)
		if len(value) == 0 || value[0] != '[' {
			continue
		}
		var list []json.RawMessage
		if err := json.Unmarshal(value, &list); err != nil {
			continue
		}
		total += int64(len(list))
	}
	return total
}
