// Package gqlrequest decodes and analyzes GraphQL HTTP requests without
// executing them. Middleware uses the analysis for logging, metrics and
// span attributes.
package gqlrequest

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"
)

// Envelope is the transport-level view of a GraphQL request: the raw query
// text, requested operation, and variables, before any parsing.
type Envelope struct {
	Method      string
	ContentType string

	Query         string
	OperationName string
	VariablesRaw  json.RawMessage

	DocumentSizeBytes int
}

// DecodeEnvelope extracts GraphQL payload fields from an HTTP request and
// rewinds the body so downstream handlers can read it again.
func DecodeEnvelope(r *http.Request) (Envelope, error) {
	if r == nil {
		return Envelope{}, errors.New("request is nil")
	}
	env := Envelope{Method: r.Method, ContentType: r.Header.Get("Content-Type")}

	var err error
	switch {
	case r.Method == http.MethodGet:
		query := r.URL.Query()
		env.Query = query.Get("query")
		env.OperationName = query.Get("operationName")
	case r.Method == http.MethodPost && r.Body != nil:
		err = decodePostBody(r, &env)
	}

	env.DocumentSizeBytes = len(env.Query)
	return env, err
}

func decodePostBody(r *http.Request, env *Envelope) error {
	body, err := rewindBody(r)
	if err != nil {
		return err
	}

	if payloadMediaType(env.ContentType) == "application/graphql" {
		env.Query = string(body)
		return nil
	}

	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil
	}

	var payload struct {
		Query         string          `json:"query"`
		OperationName string          `json:"operationName"`
		Variables     json.RawMessage `json:"variables"`
	}
	if err := json.Unmarshal(trimmed, &payload); err != nil {
		return err
	}
	env.Query = payload.Query
	env.OperationName = payload.OperationName
	if len(payload.Variables) > 0 && !bytes.Equal(bytes.TrimSpace(payload.Variables), []byte("null")) {
		env.VariablesRaw = append(json.RawMessage(nil), payload.Variables...)
	}
	return nil
}

// rewindBody consumes the request body and replaces it, so downstream
// handlers see an untouched stream.
func rewindBody(r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	r.Body = io.NopCloser(bytes.NewReader(body))
	return body, nil
}

// payloadMediaType parses the Content-Type header, falling back to the
// trimmed raw value for headers mime rejects.
func payloadMediaType(contentType string) string {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil || mediaType == "" {
		return strings.TrimSpace(contentType)
	}
	return mediaType
}
