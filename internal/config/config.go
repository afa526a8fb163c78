package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"utcp/internal/tools"
	"utcp/pkg/logging"
)

const (
	userConfigDir  = ".config/utcp"
	configFileName = "config.yaml"
)

// Duration wraps time.Duration so YAML configs can say "30s" or "1m".
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return fmt.Errorf("duration must be a string like \"30s\": %w", err)
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// VariableLoaderSpec declares an external variable source in the config file.
// Only dotenv loaders exist today.
type VariableLoaderSpec struct {
	Type string `yaml:"type"`
	Path string `yaml:"path"`
}

// CodeModeLimits overrides the engine's resource limits. Zero values keep
// the engine defaults.
type CodeModeLimits struct {
	ScriptMaxBytes int      `yaml:"script_max_bytes,omitempty"`
	OpBudget       int      `yaml:"op_budget,omitempty"`
	MaxCallStack   int      `yaml:"max_call_stack,omitempty"`
	MaxResultBytes int      `yaml:"max_result_bytes,omitempty"`
	DefaultTimeout Duration `yaml:"default_timeout,omitempty"`
	MaxTimeout     Duration `yaml:"max_timeout,omitempty"`
}

// AuditConfig selects where audit events go. Sink is "log" (default),
// "file" (requires File) or "none".
type AuditConfig struct {
	Sink string `yaml:"sink,omitempty"`
	File string `yaml:"file,omitempty"`
}

// UtcpConfig is the top-level client configuration.
type UtcpConfig struct {
	Variables         map[string]string    `yaml:"variables,omitempty"`
	LoadVariablesFrom []VariableLoaderSpec `yaml:"load_variables_from,omitempty"`
	ProvidersFile     string               `yaml:"providers_file,omitempty"`
	CallTimeout       Duration             `yaml:"call_timeout,omitempty"`
	CodeMode          CodeModeLimits       `yaml:"codemode,omitempty"`
	Audit             AuditConfig          `yaml:"audit,omitempty"`

	// loaders added programmatically, consulted after the declared specs.
	loaders []VariableLoader
}

// DefaultConfig returns the configuration used when no file exists: no
// variables, no providers file, no added call timeout, engine defaults.
func DefaultConfig() UtcpConfig {
	return UtcpConfig{
		Variables: map[string]string{},
		Audit:     AuditConfig{Sink: "log"},
	}
}

// GetDefaultConfigPath returns ~/.config/utcp/config.yaml.
func GetDefaultConfigPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine user config directory: %w", err)
	}
	return filepath.Join(homeDir, userConfigDir, configFileName), nil
}

// LoadConfig loads configuration from the given file. A missing file yields
// the defaults; a malformed one is an error.
func LoadConfig(path string) (UtcpConfig, error) {
	config := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logging.Info("ConfigLoader", "No config file at %s, using defaults", path)
			return config, nil
		}
		return UtcpConfig{}, err
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return UtcpConfig{}, fmt.Errorf("error loading config from %s: %w", path, err)
	}
	if config.Variables == nil {
		config.Variables = map[string]string{}
	}
	if err := config.Validate(); err != nil {
		return UtcpConfig{}, err
	}
	logging.Info("ConfigLoader", "Loaded configuration from %s", path)
	return config, nil
}

// Validate rejects loader specs of unknown type, negative limits and
// malformed audit settings.
func (c *UtcpConfig) Validate() error {
	for _, spec := range c.LoadVariablesFrom {
		switch spec.Type {
		case "dotenv":
			if spec.Path == "" {
				return tools.NewValidationError("load_variables_from", "dotenv loader needs a path")
			}
		default:
			return tools.NewValidationError("load_variables_from", "unknown loader type %q", spec.Type)
		}
	}
	if c.CallTimeout < 0 {
		return tools.NewValidationError("call_timeout", "must not be negative")
	}
	if c.CodeMode.ScriptMaxBytes < 0 || c.CodeMode.OpBudget < 0 ||
		c.CodeMode.MaxCallStack < 0 || c.CodeMode.MaxResultBytes < 0 {
		return tools.NewValidationError("codemode", "limits must not be negative")
	}
	switch c.Audit.Sink {
	case "", "log", "none":
	case "file":
		if c.Audit.File == "" {
			return tools.NewValidationError("audit", "file sink needs a file path")
		}
	default:
		return tools.NewValidationError("audit", "unknown sink %q", c.Audit.Sink)
	}
	return nil
}

// AddLoader appends a programmatic variable loader. Declared specs from the
// config file are consulted first.
func (c *UtcpConfig) AddLoader(l VariableLoader) {
	c.loaders = append(c.loaders, l)
}
