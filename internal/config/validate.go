package config

import (
	"fmt"
	"net"
	"net/url"
	"path"
	"slices"
	"strings"
	"time"

	"tablegraph/internal/naming"
)

// Issue is a single configuration problem: the config path it concerns,
// what is wrong, and an optional hint for fixing it.
type Issue struct {
	Field   string
	Message string
	Hint    string
}

func (i Issue) Error() string {
	if i.Hint != "" {
		return fmt.Sprintf("%s: %s (hint: %s)", i.Field, i.Message, i.Hint)
	}
	return fmt.Sprintf("%s: %s", i.Field, i.Message)
}

// ValidationResult splits issues by severity. Errors block startup,
// Warnings are logged and the server starts anyway.
type ValidationResult struct {
	Errors   []Issue
	Warnings []Issue
}

// HasErrors reports whether any fatal issue was found.
func (r *ValidationResult) HasErrors() bool {
	return len(r.Errors) > 0
}

// Error joins every fatal issue into one line, empty when the
// configuration is valid.
func (r *ValidationResult) Error() string {
	msgs := make([]string, 0, len(r.Errors))
	for _, issue := range r.Errors {
		msgs = append(msgs, issue.Error())
	}
	return strings.Join(msgs, "; ")
}

func (r *ValidationResult) fail(field, message string) {
	r.Errors = append(r.Errors, Issue{Field: field, Message: message})
}

func (r *ValidationResult) failHint(field, message, hint string) {
	r.Errors = append(r.Errors, Issue{Field: field, Message: message, Hint: hint})
}

func (r *ValidationResult) warn(field, message, hint string) {
	r.Warnings = append(r.Warnings, Issue{Field: field, Message: message, Hint: hint})
}

// nonNegative flags v when it is below zero. The message names the last
// segment of the field path.
func nonNegative[T int | time.Duration](res *ValidationResult, field string, v T) {
	if v < 0 {
		res.fail(field, lastSegment(field)+" cannot be negative")
	}
}

func lastSegment(field string) string {
	return field[strings.LastIndexByte(field, '.')+1:]
}

// Validate checks the configuration and returns every error and warning
// found. Errors are fatal, warnings are not.
func (c *Config) Validate() *ValidationResult {
	res := &ValidationResult{}

	c.Database.validate(res)
	c.Engine.validate(res)
	c.Server.validate(res)
	c.Observability.validate(res)
	validateNamingConfig(res, c.Naming)

	return res
}

func (d *DatabaseConfig) validate(res *ValidationResult) {
	dialect := d.NormalizedDialect()
	if dialect != DialectMySQL && dialect != DialectPostgres {
		res.failHint("database.dialect",
			fmt.Sprintf("unsupported dialect %q", d.Dialect),
			"valid values are: mysql, postgres")
		return
	}

	// Port 0 means the dialect default; anything else must be a real port.
	if d.ConnectionString == "" && (d.Port < 0 || d.Port > 65535) {
		res.fail("database.port", fmt.Sprintf("port %d is out of valid range (1-65535)", d.Port))
	}

	nonNegative(res, "database.pool.max_open", d.Pool.MaxOpen)
	nonNegative(res, "database.pool.max_idle", d.Pool.MaxIdle)
	if d.Pool.MaxIdle > d.Pool.MaxOpen && d.Pool.MaxOpen > 0 {
		res.warn("database.pool.max_idle",
			"max_idle is greater than max_open",
			"idle connections will be limited to max_open")
	}

	nonNegative(res, "database.connection_timeout", d.ConnectionTimeout)
	nonNegative(res, "database.connection_retry_interval", d.ConnectionRetryInterval)
	if d.ConnectionTimeout > 0 && d.ConnectionRetryInterval == 0 {
		res.failHint("database.connection_retry_interval",
			"connection_retry_interval must be greater than 0 when connection_timeout is set",
			"set a retry interval such as 2s, or set connection_timeout to 0 to disable retries")
	}
	if d.ConnectionTimeout > 0 && d.ConnectionRetryInterval > d.ConnectionTimeout {
		res.warn("database.connection_retry_interval",
			"connection_retry_interval is greater than connection_timeout",
			"only one connection attempt will be made")
	}

	dbName, _, err := d.EffectiveDatabaseName()
	if err != nil {
		msg := err.Error()
		switch {
		case strings.HasPrefix(msg, "database.dsn"):
			res.failHint("database.dsn", msg,
				"set a valid DSN in database.dsn/database.dsn_file")
		case strings.Contains(msg, "mismatch"):
			res.failHint("database.database", msg,
				"either remove database.database or set it to match the DSN database")
		default:
			res.failHint("database.database", msg,
				"set database.database or include a /database in database.dsn")
		}
		return
	}

	// Keep runtime behavior deterministic for callers that consume
	// Database.Database directly.
	d.Database = dbName
}

func (e *EngineConfig) validate(res *ValidationResult) {
	validateGlobList(res, "engine.include_tables", e.IncludeTables)
	validateGlobList(res, "engine.exclude_tables", e.ExcludeTables)
	validateGlobList(res, "engine.read_only_tables", e.ReadOnlyTables)

	if len(e.IncludeTables) == 0 {
		res.warn("engine.include_tables",
			"no include patterns configured, no tables will be registered",
			`use ["*"] to register every table`)
	}
}

func (s *ServerConfig) validate(res *ValidationResult) {
	if s.Port <= 0 || s.Port > 65535 {
		res.fail("server.port", fmt.Sprintf("port %d is out of valid range (1-65535)", s.Port))
	}

	if s.SchemaRefreshInterval < 0 {
		res.failHint("server.schema_refresh_interval",
			"schema_refresh_interval cannot be negative",
			"use 0 to disable periodic schema rebuilds")
	}
	if s.SchemaRefreshInterval > 0 && s.SchemaRefreshInterval < 10*time.Second {
		res.warn("server.schema_refresh_interval",
			"schema_refresh_interval is very short",
			"each rebuild re-introspects the database")
	}

	if s.Admin.SchemaReloadEnabled && s.Admin.AuthToken == "" && s.Admin.AuthTokenFile == "" {
		res.failHint("server.admin.auth_token",
			"admin schema reload is enabled but no auth token is configured",
			"set server.admin.auth_token or server.admin.auth_token_file")
	}

	s.validateRateLimit(res)
	s.validateCORS(res)
	s.validateTLS(res)
}

func (s *ServerConfig) validateRateLimit(res *ValidationResult) {
	if !s.RateLimitEnabled {
		if s.RateLimitRPS > 0 || s.RateLimitBurst > 0 {
			res.warn("server.rate_limit_enabled",
				"rate limit values are set but rate limiting is disabled",
				"enable server.rate_limit_enabled to apply rate limits")
		}
		return
	}

	if s.RateLimitRPS <= 0 {
		res.fail("server.rate_limit_rps",
			"rate_limit_rps must be greater than 0 when rate limiting is enabled")
	}
	if s.RateLimitBurst <= 0 {
		res.fail("server.rate_limit_burst",
			"rate_limit_burst must be greater than 0 when rate limiting is enabled")
	}
}

func (s *ServerConfig) validateCORS(res *ValidationResult) {
	if !s.CORSEnabled {
		return
	}

	if len(s.CORSAllowedOrigins) == 0 {
		res.failHint("server.cors_allowed_origins",
			"CORS enabled but no allowed origins configured",
			"set cors_allowed_origins or disable CORS")
	}

	wildcard := slices.ContainsFunc(s.CORSAllowedOrigins, func(origin string) bool {
		return strings.TrimSpace(origin) == "*"
	})
	if !wildcard {
		return
	}

	if s.CORSAllowCredentials {
		res.failHint("server.cors_allowed_origins",
			"wildcard origin (*) cannot be used with credentials",
			"use specific origins with credentials, or wildcard without credentials")
	}
	res.warn("server.cors_allowed_origins",
		"CORS wildcard origin enabled",
		"use specific origins in production for better security")
}

func (s *ServerConfig) validateTLS(res *ValidationResult) {
	switch s.TLSMode {
	case "", "off", "auto":
	case "file":
		if s.TLSCertFile == "" {
			res.fail("server.tls_cert_file", "TLS cert file required when tls_mode is 'file'")
		}
		if s.TLSKeyFile == "" {
			res.fail("server.tls_key_file", "TLS key file required when tls_mode is 'file'")
		}
	default:
		res.failHint("server.tls_mode",
			fmt.Sprintf("invalid TLS mode %q", s.TLSMode),
			"valid values are: off, auto, file")
	}
}

func validateGlobList(res *ValidationResult, field string, patterns []string) {
	for _, p := range patterns {
		if strings.TrimSpace(p) == "" {
			res.fail(field, "glob pattern cannot be empty")
			continue
		}
		if _, err := path.Match(strings.ToLower(p), "probe"); err != nil {
			res.fail(field, fmt.Sprintf("invalid glob pattern %q: %v", p, err))
		}
	}
}

func validateNamingConfig(res *ValidationResult, cfg naming.Config) {
	validateWordMap(res, "naming.plural_overrides", cfg.PluralOverrides)
	validateWordMap(res, "naming.singular_overrides", cfg.SingularOverrides)
}

func validateWordMap(res *ValidationResult, field string, overrides map[string]string) {
	for word, replacement := range overrides {
		if strings.TrimSpace(word) == "" {
			res.fail(field, "override word cannot be empty")
			continue
		}
		if strings.TrimSpace(replacement) == "" {
			res.fail(field, fmt.Sprintf("override for %q cannot be empty", word))
		}
	}
}

func (o *ObservabilityConfig) validate(res *ValidationResult) {
	switch o.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		res.failHint("observability.logging.level",
			fmt.Sprintf("invalid log level %q", o.Logging.Level),
			"valid values are: debug, info, warn, error")
	}

	switch o.Logging.Format {
	case "json", "text":
	default:
		res.failHint("observability.logging.format",
			fmt.Sprintf("invalid log format %q", o.Logging.Format),
			"valid values are: json, text")
	}

	if o.TraceSampleRatio < 0 || o.TraceSampleRatio > 1 {
		res.failHint("observability.trace_sample_ratio",
			fmt.Sprintf("trace_sample_ratio %v is out of range", o.TraceSampleRatio),
			"use a value between 0.0 and 1.0")
	}

	o.OTLP.validate("observability.otlp", res)
	if o.Traces != nil {
		o.Traces.validate("observability.traces", res)
	}
	if o.Logs != nil {
		o.Logs.validate("observability.logs", res)
	}
}

func (o *OTLPConfig) validate(prefix string, res *ValidationResult) {
	switch o.Protocol {
	case "", "grpc", "http/protobuf":
	default:
		res.failHint(prefix+".protocol",
			fmt.Sprintf("invalid OTLP protocol %q", o.Protocol),
			"valid values are: grpc, http/protobuf")
	}

	if o.Protocol == "http/protobuf" && !validOTLPEndpoint(o.Endpoint) {
		res.failHint(prefix+".endpoint",
			fmt.Sprintf("invalid OTLP endpoint %q for http/protobuf", o.Endpoint),
			"use host:port or a full URL")
	}

	switch o.Compression {
	case "", "none", "gzip":
	default:
		res.failHint(prefix+".compression",
			fmt.Sprintf("invalid OTLP compression %q", o.Compression),
			"valid values are: none, gzip")
	}

	nonNegative(res, prefix+".retry_max_attempts", o.RetryMaxAttempts)
}

// validOTLPEndpoint accepts either host:port or a URL with a host.
func validOTLPEndpoint(ep string) bool {
	switch {
	case ep == "":
		return false
	case strings.Contains(ep, "://"):
		parsed, err := url.Parse(ep)
		return err == nil && parsed.Host != ""
	default:
		_, _, err := net.SplitHostPort(ep)
		return err == nil
	}
}
