package tools

import (
	"strings"
)

// Separator joins a provider name and a local tool name into a qualified
// tool name. Provider names are normalized so they never contain it.
const Separator = "."

// QualifyName returns the qualified form "provider.local".
func QualifyName(provider, local string) string {
	return provider + Separator + local
}

// SplitQualifiedName splits a qualified tool name on the FIRST separator.
// Local names may themselves contain dots; only the provider part is
// guaranteed dot-free. ok is false when the name carries no separator.
func SplitQualifiedName(name string) (provider, local string, ok bool) {
	idx := strings.Index(name, Separator)
	if idx < 0 {
		return "", name, false
	}
	return name[:idx], name[idx+len(Separator):], true
}

// EnsureQualified prefixes local names with the provider. Names already
// carrying the provider's prefix are returned unchanged, so re-registration
// of an already-qualified manual stays stable.
func EnsureQualified(name, provider string) string {
	if strings.HasPrefix(name, provider+Separator) {
		return name
	}
	return QualifyName(provider, name)
}

// StripProviderPrefix removes the "provider." prefix from a qualified tool
// name. Transports always receive the local name; the prefix is a client-side
// addressing concern and no protocol sees it.
func StripProviderPrefix(name, provider string) string {
	return strings.TrimPrefix(name, provider+Separator)
}

// NormalizeProviderName replaces separator characters in a provider name
// with underscores. Dots are reserved for qualified-name splitting, so
// "my.provider" becomes "my_provider" at registration.
func NormalizeProviderName(name string) string {
	return strings.ReplaceAll(name, Separator, "_")
}

// ValidateProviderName rejects names that would break qualified-name
// resolution: empty or whitespace-only names.
func ValidateProviderName(name string) error {
	if strings.TrimSpace(name) == "" {
		return NewValidationError("provider name", "must not be empty")
	}
	return nil
}
