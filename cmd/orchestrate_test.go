package cmd

import (
	"context"
	"testing"

	"utcp/internal/tools"
)

func TestBuildModelOpenAI(t *testing.T) {
	originalBackend := orchestrateBackend
	defer func() { orchestrateBackend = originalBackend }()
	orchestrateBackend = "openai"

	model, err := buildModel(context.Background())
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if model.Name() != "openai" {
		t.Errorf("Expected backend name 'openai', got %s", model.Name())
	}
}

func TestBuildModelUnknownBackend(t *testing.T) {
	originalBackend := orchestrateBackend
	defer func() { orchestrateBackend = originalBackend }()
	orchestrateBackend = "llamacpp"

	_, err := buildModel(context.Background())
	if err == nil {
		t.Fatal("Expected an error for an unknown backend")
	}
	if !tools.IsValidation(err) {
		t.Errorf("Expected a validation error, got %v", err)
	}
}

func TestBuildModelGeminiRejectsBaseURL(t *testing.T) {
	originalBackend := orchestrateBackend
	originalBaseURL := orchestrateBaseURL
	defer func() {
		orchestrateBackend = originalBackend
		orchestrateBaseURL = originalBaseURL
	}()
	orchestrateBackend = "gemini"
	orchestrateBaseURL = "http://localhost:11434/v1"

	_, err := buildModel(context.Background())
	if err == nil {
		t.Fatal("Expected an error when gemini is combined with --base-url")
	}
	if !tools.IsValidation(err) {
		t.Errorf("Expected a validation error, got %v", err)
	}
}
