package naming

// Config customizes inflection. Keys are matched before the inflection
// library's general rules apply.
type Config struct {
	// PluralOverrides maps singular to plural, e.g. {"status": "statuses"}.
	PluralOverrides map[string]string `mapstructure:"plural_overrides"`

	// SingularOverrides maps plural to singular, e.g. {"people": "person"}.
	SingularOverrides map[string]string `mapstructure:"singular_overrides"`
}

// DefaultConfig returns an empty override set.
func DefaultConfig() Config {
	return Config{
		PluralOverrides:   make(map[string]string),
		SingularOverrides: make(map[string]string),
	}
}
