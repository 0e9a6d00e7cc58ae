package engine

import (
	"fmt"
	"regexp"
)

var placeholderRe = regexp.MustCompile(`\{\{([a-zA-Z0-9_]+)\}\}`)

// Interpolate substitutes {{key}} placeholders in a prompt template with
// stringified context values. Placeholders with no matching context key are
// left untouched so an agent can still see what was expected.
func Interpolate(template string, context map[string]interface{}) string {
	return placeholderRe.ReplaceAllStringFunc(template, func(match string) string {
		key := placeholderRe.FindStringSubmatch(match)[1]
		value, ok := context[key]
		if !ok {
			return match
		}
		return fmt.Sprintf("%v", value)
	})
}
