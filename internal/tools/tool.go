package tools

import (
	"encoding/json"
)

// Schema describes a tool's inputs or outputs as a JSON Schema fragment.
// Only the fields UTCP manuals actually use are modeled; anything else a
// manifest carries inside properties or items is kept verbatim.
type Schema struct {
	Type        string         `json:"type,omitempty" yaml:"type,omitempty"`
	Properties  map[string]any `json:"properties,omitempty" yaml:"properties,omitempty"`
	Required    []string       `json:"required,omitempty" yaml:"required,omitempty"`
	Description string         `json:"description,omitempty" yaml:"description,omitempty"`
	Title       string         `json:"title,omitempty" yaml:"title,omitempty"`
	Items       map[string]any `json:"items,omitempty" yaml:"items,omitempty"`
	Enum        []any          `json:"enum,omitempty" yaml:"enum,omitempty"`
	Minimum     *float64       `json:"minimum,omitempty" yaml:"minimum,omitempty"`
	Maximum     *float64       `json:"maximum,omitempty" yaml:"maximum,omitempty"`
	Format      string         `json:"format,omitempty" yaml:"format,omitempty"`
}

// ObjectSchema returns an empty object schema, the default for tools that
// declare no inputs or outputs.
func ObjectSchema() Schema {
	return Schema{Type: "object"}
}

// CallTemplate describes how to reach a provider over one communication
// protocol. Each transport defines its own concrete template type; the
// client only needs the protocol key and the owning provider's name.
type CallTemplate interface {
	// TemplateType returns the protocol key ("http", "cli", "mcp", ...).
	TemplateType() string

	// ProviderName returns the provider this template belongs to.
	ProviderName() string
}

// Tool is a callable capability published by a provider.
type Tool struct {
	// Name is the tool's qualified name once stored ("provider.local"),
	// or the local name as published in the provider's manual.
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Inputs      Schema   `json:"inputs,omitempty"`
	Outputs     Schema   `json:"outputs,omitempty"`
	Tags        []string `json:"tags,omitempty"`

	// AverageResponseSize is an optional hint in bytes, carried through
	// from the manual for result-size-aware callers.
	AverageResponseSize *int64 `json:"average_response_size,omitempty"`

	// CallTemplate overrides the provider-level template for this tool.
	// Populated during registration when the manual carries a per-tool
	// template; nil means the provider template applies.
	CallTemplate CallTemplate `json:"-"`

	// RawCallTemplate is the per-tool template object exactly as the
	// manual published it, before normalization.
	RawCallTemplate map[string]any `json:"tool_call_template,omitempty"`
}

// UnmarshalJSON accepts both the current tool_call_template field and the
// legacy tool_provider field for the per-tool template object.
func (t *Tool) UnmarshalJSON(data []byte) error {
	type alias Tool
	aux := struct {
		*alias
		LegacyProvider map[string]any `json:"tool_provider,omitempty"`
	}{alias: (*alias)(t)}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if t.RawCallTemplate == nil && aux.LegacyProvider != nil {
		t.RawCallTemplate = aux.LegacyProvider
	}
	return nil
}

// Provider is the unit of registration: a name, the protocol it speaks, and
// the normalized template used to reach it.
type Provider struct {
	Name     string
	Type     string
	Template CallTemplate

	// AllowedProtocols restricts which template types this provider's tools
	// may use. Empty means "only the provider's own type".
	AllowedProtocols []string
}

// EffectiveAllowedProtocols resolves the allow-list, defaulting to the
// provider's own protocol type when none was declared. An empty declared
// list behaves the same as an absent one.
func (p Provider) EffectiveAllowedProtocols() []string {
	if len(p.AllowedProtocols) == 0 {
		return []string{p.Type}
	}
	return p.AllowedProtocols
}

// AllowsProtocol reports whether the provider's allow-list permits a
// template type.
func (p Provider) AllowsProtocol(templateType string) bool {
	for _, allowed := range p.EffectiveAllowedProtocols() {
		if allowed == templateType {
			return true
		}
	}
	return false
}

// ManualVersion is the manual envelope version this client writes.
const ManualVersion = "1.0"

// UtcpManual is the envelope a provider publishes to describe its tools.
type UtcpManual struct {
	Version string `json:"version,omitempty"`
	Tools   []Tool `json:"tools"`

	// AllowedProtocols is the manual's declared protocol allow-list,
	// carried onto the provider at registration.
	AllowedProtocols []string `json:"allowed_communication_protocols,omitempty"`
}

// DecodeManual parses manual bytes. Accepted shapes, in order:
// a versioned envelope with a tools array (version, manual_version, or the
// legacy utcp_version field), or a bare JSON array of tools.
func DecodeManual(data []byte) (UtcpManual, error) {
	var envelope struct {
		Version          string   `json:"version"`
		ManualVersion    string   `json:"manual_version"`
		UtcpVersion      string   `json:"utcp_version"`
		AllowedProtocols []string `json:"allowed_communication_protocols"`
		Tools            []Tool   `json:"tools"`
	}
	if err := json.Unmarshal(data, &envelope); err == nil && envelope.Tools != nil {
		version := envelope.Version
		if version == "" {
			version = envelope.ManualVersion
		}
		if version == "" {
			version = envelope.UtcpVersion
		}
		if version == "" {
			version = ManualVersion
		}
		return UtcpManual{
			Version:          version,
			Tools:            envelope.Tools,
			AllowedProtocols: envelope.AllowedProtocols,
		}, nil
	}

	var bare []Tool
	if err := json.Unmarshal(data, &bare); err != nil {
		return UtcpManual{}, NewValidationError("manual", "neither a manual envelope nor a tools array: %v", err)
	}
	return UtcpManual{Version: ManualVersion, Tools: bare}, nil
}
