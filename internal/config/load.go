package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"reflect"
	"strings"
	"sync"
	"syscall"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"golang.org/x/term"
)

// flagBindings maps CLI flag names to viper config keys. Only flags the
// user actually set are bound, so flag defaults never shadow file or env
// values.
var flagBindings = map[string]string{
	"port":                     "server.port",
	"graphiql":                 "server.graphiql_enabled",
	"schema-refresh-interval":  "server.schema_refresh_interval",
	"dialect":                  "database.dialect",
	"dsn":                      "database.dsn",
	"dsn-file":                 "database.dsn_file",
	"db-host":                  "database.host",
	"db-port":                  "database.port",
	"db-user":                  "database.user",
	"db-name":                  "database.database",
	"db-schema":                "database.schema",
	"password-file":            "database.password_file",
	"password-prompt":          "database.password_prompt",
	"allow-unscoped-mutations": "engine.allow_unscoped_mutations",
	"log-level":                "observability.logging.level",
	"log-format":               "observability.logging.format",
}

var defineFlagsOnce sync.Once

// defineFlags registers CLI flags on the process-wide flag set. Guarded by
// a sync.Once because tests call Load repeatedly.
func defineFlags() {
	defineFlagsOnce.Do(func() {
		pflag.String("config", "", "Path to config file")
		pflag.Int("port", 8080, "HTTP server port")
		pflag.Bool("graphiql", true, "Enable the GraphiQL playground")
		pflag.Duration("schema-refresh-interval", 0, "Periodic schema rebuild interval (0 disables)")
		pflag.String("dialect", "mysql", "SQL dialect: mysql or postgres")
		pflag.String("dsn", "", "Database connection string")
		pflag.String("dsn-file", "", "File containing the database connection string (@- for stdin)")
		pflag.String("db-host", "127.0.0.1", "Database host")
		pflag.Int("db-port", 0, "Database port (0 for the dialect default)")
		pflag.String("db-user", "root", "Database user")
		pflag.String("db-name", "", "Database name")
		pflag.String("db-schema", "public", "Postgres schema to introspect")
		pflag.String("password-file", "", "File containing the database password (@- for stdin)")
		pflag.Bool("password-prompt", false, "Prompt for the database password on startup")
		pflag.Bool("allow-unscoped-mutations", false, "Allow update and delete mutations without filters")
		pflag.String("log-level", "info", "Log level: debug, info, warn, error")
		pflag.String("log-format", "json", "Log format: json, text")
	})
}

// bindChangedFlags copies explicitly-set flag values into viper. pflag.Visit
// only walks changed flags, which preserves the precedence
// flags > env > config file > defaults.
func bindChangedFlags(v *viper.Viper) {
	pflag.Visit(func(f *pflag.Flag) {
		key, ok := flagBindings[f.Name]
		if !ok {
			return
		}
		switch f.Value.Type() {
		case "bool":
			b, _ := pflag.CommandLine.GetBool(f.Name)
			v.Set(key, b)
		case "int":
			n, _ := pflag.CommandLine.GetInt(f.Name)
			v.Set(key, n)
		case "duration":
			d, _ := pflag.CommandLine.GetDuration(f.Name)
			v.Set(key, d)
		case "stringSlice":
			s, _ := pflag.CommandLine.GetStringSlice(f.Name)
			v.Set(key, s)
		default:
			v.Set(key, f.Value.String())
		}
	})
}

// Load reads configuration with the precedence
// flags > environment > config file > defaults.
//
// Environment variables use the TGQL_ prefix with dots and dashes folded to
// underscores, e.g. TGQL_DATABASE_DSN or TGQL_SERVER_PORT. The config file
// is tablegraph.yaml, looked up in /etc/tablegraph, $HOME/.tablegraph and
// the working directory, unless --config names one explicitly.
func Load() (*Config, error) {
	defineFlags()
	if !pflag.Parsed() {
		pflag.Parse()
	}

	v := viper.New()
	setDefaults(v)

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	v.SetEnvPrefix("TGQL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	bindChangedFlags(v)

	cfg := &Config{}
	decodeHook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		stringToStringSliceHookFunc(),
	))
	if err := v.UnmarshalExact(cfg, decodeHook); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := resolveSecrets(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// readConfigFile layers the optional YAML config file into v. A missing
// file is only an error when --config named one explicitly.
func readConfigFile(v *viper.Viper) error {
	explicit, _ := pflag.CommandLine.GetString("config")
	if explicit != "" {
		v.SetConfigFile(explicit)
	} else {
		v.SetConfigName("tablegraph")
		v.SetConfigType("yaml")
		for _, dir := range []string{"/etc/tablegraph/", "$HOME/.tablegraph", "."} {
			v.AddConfigPath(dir)
		}
	}

	err := v.ReadInConfig()
	switch {
	case err == nil:
		return nil
	case explicit != "":
		return fmt.Errorf("failed to read config file %q: %w", explicit, err)
	}
	var notFound viper.ConfigFileNotFoundError
	if errors.As(err, &notFound) {
		return nil
	}
	return fmt.Errorf("failed to read config file: %w", err)
}

// configDefaults holds every default keyed by config path. setDefaults
// applies them below the file, env and flag layers.
var configDefaults = map[string]any{
	"database.dialect":                   "mysql",
	"database.dsn":                       "",
	"database.dsn_file":                  "",
	"database.host":                      "127.0.0.1",
	"database.port":                      0,
	"database.user":                      "root",
	"database.password":                  "",
	"database.password_file":             "",
	"database.password_prompt":           false,
	"database.database":                  "",
	"database.schema":                    "public",
	"database.pool.max_open":             25,
	"database.pool.max_idle":             25,
	"database.pool.max_lifetime":         "5m",
	"database.connection_timeout":        "30s",
	"database.connection_retry_interval": "3s",

	"engine.allow_unscoped_mutations": false,
	"engine.include_tables":           []string{"*"},
	"engine.exclude_tables":           []string{},
	"engine.read_only_tables":         []string{},

	"server.port":                        8080,
	"server.graphiql_enabled":            true,
	"server.schema_refresh_interval":     "0s",
	"server.admin.schema_reload_enabled": false,
	"server.admin.auth_token":            "",
	"server.admin.auth_token_file":       "",
	"server.rate_limit_enabled":          false,
	"server.rate_limit_rps":              0.0,
	"server.rate_limit_burst":            0,
	"server.cors_enabled":                false,
	"server.cors_allowed_origins":        []string{},
	"server.cors_allowed_methods":        []string{"GET", "POST", "OPTIONS"},
	"server.cors_allowed_headers":        []string{"Content-Type", "Authorization"},
	"server.cors_expose_headers":         []string{},
	"server.cors_allow_credentials":      false,
	"server.cors_max_age":                300,
	"server.read_timeout":                "30s",
	"server.write_timeout":               "30s",
	"server.idle_timeout":                "120s",
	"server.shutdown_timeout":            "10s",
	"server.health_check_timeout":        "5s",
	"server.tls_mode":                    "off",
	"server.tls_cert_file":               "",
	"server.tls_key_file":                "",
	"server.tls_auto_cert_dir":           "certs",

	"observability.service_name":            "tablegraph",
	"observability.service_version":         "dev",
	"observability.environment":             "development",
	"observability.metrics_enabled":         true,
	"observability.tracing_enabled":         false,
	"observability.trace_sample_ratio":      1.0,
	"observability.logging.level":           "info",
	"observability.logging.format":          "json",
	"observability.logging.exports_enabled": false,
	"observability.otlp.endpoint":           "localhost:4317",
	"observability.otlp.protocol":           "grpc",
	"observability.otlp.insecure":           false,
	"observability.otlp.timeout":            "10s",
	"observability.otlp.compression":        "gzip",
	"observability.otlp.retry_enabled":      true,
	"observability.otlp.retry_max_attempts": 5,

	"naming.plural_overrides":   map[string]string{},
	"naming.singular_overrides": map[string]string{},
}

func setDefaults(v *viper.Viper) {
	for key, value := range configDefaults {
		v.SetDefault(key, value)
	}
}

// resolveSecrets loads file-sourced and prompted secrets into the config.
// Files are read before the prompt so an interactive password always wins.
func resolveSecrets(cfg *Config) error {
	if err := validateSingleStdinSource(cfg); err != nil {
		return err
	}

	for _, src := range []struct {
		path string
		dest *string
		what string
	}{
		{cfg.Database.ConnectionStringFile, &cfg.Database.ConnectionString, "dsn"},
		{cfg.Database.PasswordFile, &cfg.Database.Password, "password"},
		{cfg.Server.Admin.AuthTokenFile, &cfg.Server.Admin.AuthToken, "admin auth token"},
	} {
		if src.path == "" {
			continue
		}
		secret, err := readSecretFile(src.path)
		if err != nil {
			return fmt.Errorf("failed to read %s file: %w", src.what, err)
		}
		*src.dest = secret
	}

	if cfg.Database.PasswordPrompt {
		password, err := promptPassword()
		if err != nil {
			return fmt.Errorf("failed to prompt for password: %w", err)
		}
		cfg.Database.Password = password
	}

	return nil
}

// validateSingleStdinSource rejects configs where more than one secret file
// is "@-": stdin can only be consumed once.
func validateSingleStdinSource(cfg *Config) error {
	var stdinKeys []string
	for _, src := range []struct{ key, path string }{
		{"database.dsn_file", cfg.Database.ConnectionStringFile},
		{"database.password_file", cfg.Database.PasswordFile},
		{"server.admin.auth_token_file", cfg.Server.Admin.AuthTokenFile},
	} {
		if src.path == "@-" {
			stdinKeys = append(stdinKeys, src.key)
		}
	}
	if len(stdinKeys) > 1 {
		return fmt.Errorf("multiple config values read from stdin (%s): only one may use @-",
			strings.Join(stdinKeys, ", "))
	}
	return nil
}

// readSecretFile reads a secret from a file path, or from stdin when the
// path is "@-". Surrounding whitespace, including the trailing newline most
// tools append, is stripped.
func readSecretFile(path string) (string, error) {
	data, err := readSecretBytes(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

func readSecretBytes(path string) ([]byte, error) {
	if path == "@-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}

// promptPassword reads the database password from the terminal without echo.
func promptPassword() (string, error) {
	fmt.Fprint(os.Stderr, "Database password: ")
	password, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return string(password), nil
}

// stringToStringSliceHookFunc splits comma-separated strings into string
// slices, so TGQL_ENGINE_INCLUDE_TABLES="users,orders" decodes into
// []string{"users", "orders"}.
func stringToStringSliceHookFunc() mapstructure.DecodeHookFunc {
	return func(f reflect.Type, t reflect.Type, data interface{}) (interface{}, error) {
		if f.Kind() != reflect.String || t != reflect.TypeOf([]string{}) {
			return data, nil
		}
		return splitTrimmed(data.(string)), nil
	}
}

// splitTrimmed splits a comma-separated list, trimming whitespace around
// each element. Empty input yields an empty, non-nil slice.
func splitTrimmed(raw string) []string {
	if raw == "" {
		return []string{}
	}
	parts := strings.Split(raw, ",")
	for i, p := range parts {
		parts[i] = strings.TrimSpace(p)
	}
	return parts
}
