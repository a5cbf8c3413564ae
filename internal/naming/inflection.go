package naming

import "github.com/jinzhu/inflection"

// Pluralize returns the plural form of word. A configured override wins
// over the inflection library's rules.
func (n *Namer) Pluralize(word string) string {
	if plural, ok := n.config.PluralOverrides[word]; ok {
		return plural
	}
	return inflection.Plural(word)
}

// Singularize returns the singular form of word, with the same override
// precedence as Pluralize.
func (n *Namer) Singularize(word string) string {
	if singular, ok := n.config.SingularOverrides[word]; ok {
		return singular
	}
	return inflection.Singular(word)
}
