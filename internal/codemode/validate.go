package codemode

import (
	"regexp"
	"strings"

	"utcp/internal/tools"
)

// deniedConstruct is one entry of the static denylist. Patterns run against
// the source with string literals and comments blanked out, so a tag like
// "forecast" or a message like "do it now" inside a literal does not trip
// the keyword checks.
type deniedConstruct struct {
	name    string
	pattern *regexp.Regexp
}

var denylist = []deniedConstruct{
	{"eval call", regexp.MustCompile(`\beval\b`)},
	{"Function constructor", regexp.MustCompile(`\bFunction\b`)},
	{"import statement", regexp.MustCompile(`\bimport\b`)},
	{"require call", regexp.MustCompile(`\brequire\b`)},
	{"function definition", regexp.MustCompile(`\bfunction\b`)},
	{"arrow function", regexp.MustCompile(`=>`)},
	{"while loop", regexp.MustCompile(`\bwhile\b`)},
	{"for loop", regexp.MustCompile(`\bfor\b`)},
	{"do loop", regexp.MustCompile(`\bdo\b`)},
}

// validateScript runs every static check: size cap, denylist, bracket
// nesting depth. It allocates no interpreter state and has no side effects,
// so a rejected script costs nothing beyond the scan.
func validateScript(code string, limits Limits) error {
	if strings.TrimSpace(code) == "" {
		return tools.NewValidationError("script", "empty script")
	}
	if len(code) > limits.ScriptMaxBytes {
		return tools.NewValidationError("script",
			"%d bytes exceeds the maximum %d", len(code), limits.ScriptMaxBytes)
	}

	stripped := stripLiterals(code)
	for _, denied := range denylist {
		if denied.pattern.MatchString(stripped) {
			return tools.NewValidationError("script", "forbidden construct: %s", denied.name)
		}
	}

	if depth := maxBracketDepth(stripped); depth > limits.MaxNestingDepth {
		return tools.NewValidationError("script",
			"nesting depth %d exceeds the maximum %d", depth, limits.MaxNestingDepth)
	}
	return nil
}

// stripLiterals blanks out the contents of string literals (single, double
// and backtick quoted) and strips // and /* */ comments, preserving length
// where practical. Escape sequences inside literals are honored so an
// escaped quote does not end the literal early. The scan is lexical, not a
// full parse; it exists to keep the denylist from firing on prose.
func stripLiterals(code string) string {
	out := []byte(code)
	i := 0
	n := len(out)

	for i < n {
		c := out[i]
		switch c {
		case '\'', '"', '`':
			quote := c
			i++
			for i < n {
				if out[i] == '\\' && i+1 < n {
					out[i] = ' '
					out[i+1] = ' '
					i += 2
					continue
				}
				if out[i] == quote {
					i++
					break
				}
				if out[i] != '\n' {
					out[i] = ' '
				}
				i++
			}
		case '/':
			if i+1 < n && out[i+1] == '/' {
				for i < n && out[i] != '\n' {
					out[i] = ' '
					i++
				}
			} else if i+1 < n && out[i+1] == '*' {
				out[i] = ' '
				out[i+1] = ' '
				i += 2
				for i < n {
					if out[i] == '*' && i+1 < n && out[i+1] == '/' {
						out[i] = ' '
						out[i+1] = ' '
						i += 2
						break
					}
					if out[i] != '\n' {
						out[i] = ' '
					}
					i++
				}
			} else {
				i++
			}
		default:
			i++
		}
	}
	return string(out)
}

// maxBracketDepth returns the deepest (, [ or { nesting in the stripped
// source. Unbalanced closers never drive the count negative; the
// interpreter reports those as syntax errors with better positions.
func maxBracketDepth(stripped string) int {
	depth, max := 0, 0
	for i := 0; i < len(stripped); i++ {
		switch stripped[i] {
		case '(', '[', '{':
			depth++
			if depth > max {
				max = depth
			}
		case ')', ']', '}':
			if depth > 0 {
				depth--
			}
		}
	}
	return max
}
