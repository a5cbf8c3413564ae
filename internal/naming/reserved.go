package naming

import "strings"

// controlArguments are operation argument names the synthesizer claims for
// itself. A column with one of these names gets its filter argument
// suffixed so pagination controls keep their meaning.
var controlArguments = map[string]bool{
	"skip": true,
	"take": true,
}

// IsReservedArgument reports whether an argument name is claimed by the
// synthesizer and unavailable as a plain column filter name.
func IsReservedArgument(name string) bool {
	if strings.HasPrefix(name, "__") {
		return true
	}
	return controlArguments[strings.ToLower(name)]
}
