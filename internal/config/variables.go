package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/joho/godotenv"

	"utcp/internal/tools"
)

// VariableLoader resolves variables from an external source. Get is called
// per lookup; sources re-read on every call so edits are picked up without
// a reload.
type VariableLoader interface {
	Load() (map[string]string, error)
	Get(key string) (string, error)
}

// DotEnvLoader reads variables from a dotenv file.
type DotEnvLoader struct {
	Path string
}

func NewDotEnvLoader(path string) *DotEnvLoader {
	return &DotEnvLoader{Path: path}
}

func (l *DotEnvLoader) Load() (map[string]string, error) {
	vars, err := godotenv.Read(l.Path)
	if err != nil {
		return nil, fmt.Errorf("reading dotenv file %s: %w", l.Path, err)
	}
	return vars, nil
}

func (l *DotEnvLoader) Get(key string) (string, error) {
	vars, err := l.Load()
	if err != nil {
		return "", err
	}
	val, ok := vars[key]
	if !ok {
		return "", fmt.Errorf("variable %s not found in %s", key, l.Path)
	}
	return val, nil
}

// GetVariable resolves a variable: inline config variables win, then the
// declared loader specs in order, then programmatic loaders, then the
// process environment.
func (c *UtcpConfig) GetVariable(key string) (string, bool) {
	if val, ok := c.Variables[key]; ok {
		return val, true
	}
	for _, spec := range c.LoadVariablesFrom {
		if spec.Type != "dotenv" {
			continue
		}
		if val, err := NewDotEnvLoader(spec.Path).Get(key); err == nil {
			return val, true
		}
	}
	for _, loader := range c.loaders {
		if val, err := loader.Get(key); err == nil {
			return val, true
		}
	}
	if val, ok := os.LookupEnv(key); ok {
		return val, true
	}
	return "", false
}

var variablePattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}|\$([A-Za-z_][A-Za-z0-9_]*)`)

// Substitute replaces every ${NAME} and $NAME reference in s. Any reference
// that resolves nowhere is a validation error naming the variable.
func (c *UtcpConfig) Substitute(s string) (string, error) {
	var missing []string
	out := variablePattern.ReplaceAllStringFunc(s, func(match string) string {
		groups := variablePattern.FindStringSubmatch(match)
		name := groups[1]
		if name == "" {
			name = groups[2]
		}
		val, ok := c.GetVariable(name)
		if !ok {
			missing = append(missing, name)
			return match
		}
		return val
	})
	if len(missing) > 0 {
		return "", tools.NewValidationError("variables",
			"undefined variable %s", strings.Join(missing, ", "))
	}
	return out, nil
}

// SubstituteValue walks a decoded JSON/YAML value and substitutes variables
// in every string it contains. Maps and slices are rebuilt, the input is
// not modified.
func (c *UtcpConfig) SubstituteValue(value any) (any, error) {
	switch v := value.(type) {
	case string:
		return c.Substitute(v)
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, item := range v {
			sub, err := c.SubstituteValue(item)
			if err != nil {
				return nil, err
			}
			out[key] = sub
		}
		return out, nil
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			sub, err := c.SubstituteValue(item)
			if err != nil {
				return nil, err
			}
			out[i] = sub
		}
		return out, nil
	default:
		return value, nil
	}
}
