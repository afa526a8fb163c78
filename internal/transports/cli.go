package transports

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"os/exec"
	"sort"
	"strings"
	"time"

	"github.com/mattn/go-shellwords"

	"utcp/internal/tools"
	"utcp/pkg/logging"
)

// defaultCliTimeout bounds command execution when the caller's context
// carries no deadline of its own.
const defaultCliTimeout = 30 * time.Second

// CliTransport executes local commands as tools. Discovery runs the
// template's command and reads a manual from its output; calls run the same
// command with "call <provider> <tool>" plus flag-style arguments, and the
// argument map again as JSON on stdin.
type CliTransport struct{}

func NewCliTransport() *CliTransport {
	return &CliTransport{}
}

func (t *CliTransport) template(tmpl tools.CallTemplate) (*CliTemplate, error) {
	cliTmpl, ok := tmpl.(*CliTemplate)
	if !ok {
		return nil, tools.NewValidationError("call_template",
			"cli transport needs a cli template, got %q", tmpl.TemplateType())
	}
	return cliTmpl, nil
}

func (t *CliTransport) RegisterToolProvider(ctx context.Context, tmpl tools.CallTemplate) ([]tools.Tool, error) {
	cliTmpl, err := t.template(tmpl)
	if err != nil {
		return nil, err
	}

	output, err := t.run(ctx, cliTmpl, nil, "")
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(output) == "" {
		return nil, nil
	}
	return extractToolsFromOutput(output), nil
}

func (t *CliTransport) DeregisterToolProvider(ctx context.Context, tmpl tools.CallTemplate) error {
	return nil
}

func (t *CliTransport) CallTool(ctx context.Context, toolName string, args map[string]any, tmpl tools.CallTemplate) (any, error) {
	cliTmpl, err := t.template(tmpl)
	if err != nil {
		return nil, err
	}

	extraArgs := append([]string{"call", cliTmpl.Name, toolName}, formatArguments(args)...)
	stdin, err := json.Marshal(args)
	if err != nil {
		return nil, tools.NewValidationError("arguments", "arguments are not JSON-encodable: %v", err)
	}

	output, err := t.run(ctx, cliTmpl, extraArgs, string(stdin))
	if err != nil {
		if te, ok := err.(*tools.TransportError); ok {
			te.Tool = toolName
		}
		return nil, err
	}

	trimmed := strings.TrimSpace(output)
	if trimmed == "" {
		return "", nil
	}
	var result any
	if err := json.Unmarshal([]byte(output), &result); err == nil {
		return result, nil
	}
	return trimmed, nil
}

func (t *CliTransport) CallToolStream(ctx context.Context, toolName string, args map[string]any, tmpl tools.CallTemplate) (StreamResult, error) {
	return nil, &tools.TransportError{
		Protocol: ProtocolCLI,
		Provider: tmpl.ProviderName(),
		Tool:     toolName,
		Err:      ErrStreamingNotSupported,
	}
}

// run executes the template command with extraArgs appended. A process that
// exits nonzero is not an error here; its stderr becomes the output, which
// is how discovery-incapable commands report tools on stderr.
func (t *CliTransport) run(ctx context.Context, tmpl *CliTemplate, extraArgs []string, stdin string) (string, error) {
	parts, err := shellwords.Parse(tmpl.CommandName)
	if err != nil {
		return "", tools.NewValidationError("command_name", "cannot parse command %q: %v", tmpl.CommandName, err)
	}
	if len(parts) == 0 {
		return "", tools.NewValidationError("command_name", "empty command")
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultCliTimeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, parts[0], append(parts[1:], extraArgs...)...)
	if tmpl.WorkingDir != "" {
		cmd.Dir = tmpl.WorkingDir
	}
	if len(tmpl.EnvVars) > 0 {
		env := os.Environ()
		for k, v := range tmpl.EnvVars {
			env = append(env, k+"="+v)
		}
		cmd.Env = env
	}
	if stdin != "" {
		cmd.Stdin = strings.NewReader(stdin)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return "", &tools.TimeoutError{Op: "cli command", Timeout: defaultCliTimeout}
	}
	if ctx.Err() != nil {
		return "", &tools.TransportError{Protocol: ProtocolCLI, Provider: tmpl.Name, Err: ctx.Err()}
	}
	if runErr != nil {
		if _, isExit := runErr.(*exec.ExitError); !isExit {
			return "", &tools.TransportError{Protocol: ProtocolCLI, Provider: tmpl.Name, Err: runErr}
		}
		logging.Debug("CliTransport", "command %q exited nonzero, reading stderr", parts[0])
		return stderr.String(), nil
	}
	return stdout.String(), nil
}

// formatArguments renders an argument map as conventional long flags.
// Boolean true becomes a bare flag, false is dropped, arrays repeat the
// flag per element. Keys are sorted for stable invocations.
func formatArguments(args map[string]any) []string {
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out []string
	for _, key := range keys {
		switch v := args[key].(type) {
		case bool:
			if v {
				out = append(out, "--"+key)
			}
		case []any:
			for _, item := range v {
				out = append(out, "--"+key, renderArg(item))
			}
		default:
			out = append(out, "--"+key, renderArg(v))
		}
	}
	return out
}

func extractToolsFromOutput(output string) []tools.Tool {
	if manual, err := tools.DecodeManual([]byte(output)); err == nil && len(manual.Tools) > 0 {
		return manual.Tools
	}

	// Some commands print one tool object per line.
	var found []tools.Tool
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "{") || !strings.HasSuffix(line, "}") {
			continue
		}
		var tool tools.Tool
		if err := json.Unmarshal([]byte(line), &tool); err == nil && tool.Name != "" {
			found = append(found, tool)
		}
	}
	return found
}
