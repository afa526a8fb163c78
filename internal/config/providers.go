package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"utcp/internal/manual"
	"utcp/internal/tools"
	"utcp/pkg/logging"
)

// LoadProviders reads the providers file, substitutes variables and
// normalizes every entry into a concrete call template. The file may be
// JSON or YAML.
func LoadProviders(path string, cfg *UtcpConfig, handlers *manual.HandlerRegistry) ([]tools.CallTemplate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading providers file %s: %w", path, err)
	}

	var doc any
	if jsonErr := json.Unmarshal(data, &doc); jsonErr != nil {
		if yamlErr := yaml.Unmarshal(data, &doc); yamlErr != nil {
			return nil, tools.NewValidationError("providers_file",
				"%s is neither JSON (%v) nor YAML (%v)", path, jsonErr, yamlErr)
		}
	}

	entries, err := parseProvidersDocument(doc)
	if err != nil {
		return nil, err
	}

	templates := make([]tools.CallTemplate, 0, len(entries))
	for i, entry := range entries {
		substituted, err := cfg.SubstituteValue(entry)
		if err != nil {
			return nil, err
		}
		raw, ok := substituted.(map[string]any)
		if !ok {
			return nil, tools.NewValidationError("providers_file",
				"entry %d is not an object", i)
		}
		normalizeProviderEntry(raw, i)

		tmpl, err := handlers.Normalize("", raw)
		if err != nil {
			return nil, fmt.Errorf("providers file entry %d: %w", i, err)
		}
		templates = append(templates, tmpl)
	}

	logging.Info("ConfigLoader", "Loaded %d provider definitions from %s", len(templates), path)
	return templates, nil
}

// parseProvidersDocument accepts the historical file shapes: a bare array,
// an object with a "providers" array or object, an object with
// "manual_call_templates", or a single template object.
func parseProvidersDocument(doc any) ([]map[string]any, error) {
	switch v := doc.(type) {
	case []any:
		return objectList(v, "providers_file")
	case map[string]any:
		if providers, ok := v["providers"]; ok {
			switch p := providers.(type) {
			case []any:
				return objectList(p, "providers")
			case map[string]any:
				return []map[string]any{p}, nil
			default:
				return nil, tools.NewValidationError("providers",
					"'providers' must be an array or object")
			}
		}
		if templates, ok := v["manual_call_templates"]; ok {
			list, ok := templates.([]any)
			if !ok {
				return nil, tools.NewValidationError("manual_call_templates",
					"'manual_call_templates' must be an array")
			}
			return objectList(list, "manual_call_templates")
		}
		// Single template object.
		return []map[string]any{v}, nil
	default:
		return nil, tools.NewValidationError("providers_file",
			"document root must be an array or object")
	}
}

func objectList(list []any, field string) ([]map[string]any, error) {
	out := make([]map[string]any, 0, len(list))
	for i, item := range list {
		obj, ok := item.(map[string]any)
		if !ok {
			return nil, tools.NewValidationError(field, "entry %d is not an object", i)
		}
		out = append(out, obj)
	}
	return out, nil
}

// normalizeProviderEntry fills the fields older files leave implicit: the
// template type (aliases provider_type and type, defaulting to http) and a
// positional name.
func normalizeProviderEntry(raw map[string]any, index int) {
	templateType, _ := raw["call_template_type"].(string)
	if templateType == "" {
		if t, ok := raw["provider_type"].(string); ok {
			templateType = t
		}
	}
	if templateType == "" {
		if t, ok := raw["type"].(string); ok {
			templateType = t
		}
	}
	if templateType == "" {
		templateType = "http"
	}
	raw["call_template_type"] = templateType

	if name, _ := raw["name"].(string); name == "" {
		raw["name"] = fmt.Sprintf("%s_%d", templateType, index)
	}
}

// SaveProviders writes templates back out, JSON for .json paths and YAML
// otherwise, under a "providers" key.
func SaveProviders(path string, templates []tools.CallTemplate) error {
	entries := make([]map[string]any, 0, len(templates))
	for _, tmpl := range templates {
		entry, err := manual.EncodeTemplate(tmpl)
		if err != nil {
			return err
		}
		entries = append(entries, entry)
	}
	doc := map[string]any{"providers": entries}

	var data []byte
	var err error
	if strings.EqualFold(filepath.Ext(path), ".json") {
		data, err = json.MarshalIndent(doc, "", "  ")
	} else {
		data, err = yaml.Marshal(doc)
	}
	if err != nil {
		return fmt.Errorf("encoding providers file: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing providers file %s: %w", path, err)
	}
	logging.Info("ConfigLoader", "Saved %d provider definitions to %s", len(entries), path)
	return nil
}
