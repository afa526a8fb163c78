package transports

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"utcp/internal/tools"
	"utcp/pkg/logging"
)

// toolsManifestFile is the discovery document a text provider directory
// carries.
const toolsManifestFile = "tools.json"

// TextTransport serves tools from a local directory: discovery reads
// tools.json, calls execute a script named after the tool. Scripts receive
// the JSON-encoded arguments as their single command-line argument.
type TextTransport struct {
	basePath string
}

func NewTextTransport() *TextTransport {
	return &TextTransport{}
}

// NewTextTransportWithBase sets a fallback directory used when a template
// does not carry its own base path.
func NewTextTransportWithBase(dir string) *TextTransport {
	return &TextTransport{basePath: dir}
}

func (t *TextTransport) template(tmpl tools.CallTemplate) (*TextTemplate, error) {
	textTmpl, ok := tmpl.(*TextTemplate)
	if !ok {
		return nil, tools.NewValidationError("call_template",
			"text transport needs a text template, got %q", tmpl.TemplateType())
	}
	return textTmpl, nil
}

func (t *TextTransport) resolveBase(textTmpl *TextTemplate) string {
	if textTmpl.BasePath != "" {
		return textTmpl.BasePath
	}
	return t.basePath
}

func (t *TextTransport) RegisterToolProvider(ctx context.Context, tmpl tools.CallTemplate) ([]tools.Tool, error) {
	textTmpl, err := t.template(tmpl)
	if err != nil {
		return nil, err
	}

	base := t.resolveBase(textTmpl)
	if base == "" {
		return nil, nil
	}

	manifestPath := filepath.Join(base, toolsManifestFile)
	data, err := os.ReadFile(manifestPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, &tools.TransportError{Protocol: ProtocolText, Provider: textTmpl.Name, Err: err}
	}

	// A bare JSON array of tools or a full manual envelope both work.
	var list []tools.Tool
	if err := json.Unmarshal(data, &list); err == nil {
		return list, nil
	}
	if manual, err := tools.DecodeManual(data); err == nil {
		return manual.Tools, nil
	}
	logging.Debug("TextTransport", "Manifest %s is neither a tool list nor a manual", manifestPath)
	return nil, nil
}

func (t *TextTransport) DeregisterToolProvider(ctx context.Context, tmpl tools.CallTemplate) error {
	return nil
}

func (t *TextTransport) CallTool(ctx context.Context, toolName string, args map[string]any, tmpl tools.CallTemplate) (any, error) {
	textTmpl, err := t.template(tmpl)
	if err != nil {
		return nil, err
	}

	base := t.resolveBase(textTmpl)
	if base == "" {
		return nil, tools.NewValidationError("base_path",
			"text provider %q has no base path to execute tools from", textTmpl.Name)
	}

	// Script lookup must stay inside the base directory.
	if strings.ContainsAny(toolName, `/\`) || strings.Contains(toolName, "..") {
		return nil, tools.NewValidationError("tool", "tool name %q must not contain path separators", toolName)
	}

	interpreter, scriptPath, err := resolveScript(base, toolName)
	if err != nil {
		return nil, &tools.ToolNotFoundError{Provider: textTmpl.Name, Tool: toolName}
	}

	argsJSON, err := json.Marshal(args)
	if err != nil {
		return nil, tools.NewValidationError("arguments", "arguments are not JSON-encodable: %v", err)
	}

	var cmd *exec.Cmd
	if interpreter == "" {
		cmd = exec.CommandContext(ctx, scriptPath, string(argsJSON))
	} else {
		cmd = exec.CommandContext(ctx, interpreter, scriptPath, string(argsJSON))
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, &tools.TimeoutError{Op: "text tool script"}
		}
		if ctx.Err() != nil {
			return nil, &tools.TransportError{Protocol: ProtocolText, Provider: textTmpl.Name, Tool: toolName, Err: ctx.Err()}
		}
		return nil, &tools.TransportError{
			Protocol: ProtocolText,
			Provider: textTmpl.Name,
			Tool:     toolName,
			Err:      fmt.Errorf("script %s failed: %w: %s", scriptPath, err, strings.TrimSpace(stderr.String())),
		}
	}

	output := stdout.Bytes()
	var result any
	if err := json.Unmarshal(output, &result); err == nil {
		return result, nil
	}
	return strings.TrimSpace(string(output)), nil
}

func (t *TextTransport) CallToolStream(ctx context.Context, toolName string, args map[string]any, tmpl tools.CallTemplate) (StreamResult, error) {
	textTmpl, err := t.template(tmpl)
	if err != nil {
		return nil, err
	}
	return nil, &tools.TransportError{
		Protocol: ProtocolText,
		Provider: textTmpl.Name,
		Tool:     toolName,
		Err:      ErrStreamingNotSupported,
	}
}

// resolveScript finds the script for a tool: a bare executable first, then
// .js, .sh, and .py files run through their interpreters.
func resolveScript(base, toolName string) (interpreter, path string, err error) {
	candidates := []struct {
		interpreter string
		path        string
	}{
		{"", filepath.Join(base, toolName)},
		{"node", filepath.Join(base, toolName+".js")},
		{"bash", filepath.Join(base, toolName+".sh")},
		{"python3", filepath.Join(base, toolName+".py")},
	}
	for _, c := range candidates {
		info, statErr := os.Stat(c.path)
		if statErr == nil && !info.IsDir() {
			return c.interpreter, c.path, nil
		}
	}
	return "", "", os.ErrNotExist
}
