package main

import (
	"os"
	"testing"

	"utcp/cmd"
)

func TestMain(m *testing.M) {
	code := m.Run()
	os.Exit(code)
}

func TestVersion(t *testing.T) {
	// Test default version
	if version != "dev" {
		t.Errorf("Expected default version to be 'dev', got %s", version)
	}
}

func TestVersionInjection(t *testing.T) {
	originalVersion := version
	defer func() {
		version = originalVersion
		cmd.SetVersion(originalVersion)
	}()

	tests := []struct {
		name     string
		setValue string
	}{
		{name: "custom version", setValue: "v1.0.0"},
		{name: "semantic version", setValue: "2.3.4-beta.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			version = tt.setValue
			cmd.SetVersion(version)
			if cmd.GetVersion() != tt.setValue {
				t.Errorf("Expected version %s, got %s", tt.setValue, cmd.GetVersion())
			}
		})
	}
}
