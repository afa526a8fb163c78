package codemode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"utcp/internal/audit"
	"utcp/internal/codemode/llm"
	"utcp/internal/tools"
	"utcp/pkg/logging"
	pkgstrings "utcp/pkg/strings"
)

// promptDescriptionMaxLen bounds tool descriptions embedded in prompts.
// Wider than the audit cap so the model sees enough to choose by.
const promptDescriptionMaxLen = 120

// Orchestrator turns a natural-language prompt into a tool invocation in
// four stages: decide whether tools are needed at all, select candidates,
// generate a sandbox script, and execute it. Every model interaction goes
// through one Complete call so backends stay interchangeable.
type Orchestrator struct {
	engine *Engine
	model  llm.Model
	sink   audit.Sink
}

// NewOrchestrator builds an orchestrator over an engine and a completion
// backend. Audit events go to the engine's sink.
func NewOrchestrator(engine *Engine, model llm.Model) *Orchestrator {
	return &Orchestrator{engine: engine, model: model, sink: engine.sink}
}

// Outcome is the result of one orchestrated prompt.
type Outcome struct {
	// NoToolNeeded is set when the model decided the prompt requires no
	// tool. The remaining fields are zero and the error is nil.
	NoToolNeeded bool

	// Candidates are the tools offered to the model during selection.
	Candidates []tools.Tool

	// Selected are the tool names the model chose.
	Selected []string

	// Script is the generated source that was executed.
	Script string

	// Result is the execution result.
	Result *Result
}

// CallPrompt runs the full pipeline. A decision that no tools are needed
// is not an error; every other stage failure is returned wrapped with the
// stage name.
func (o *Orchestrator) CallPrompt(ctx context.Context, prompt string) (*Outcome, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, tools.NewValidationError("prompt", "must not be empty")
	}

	needed, err := o.decide(ctx, prompt)
	if err != nil {
		return nil, o.stageFailed("decide", err)
	}
	if !needed {
		o.sink.Record(audit.Success(audit.KindOrchestrate).
			With("stage", "decide").With("decision", "no-tool"))
		logging.Info("Orchestrator", "model decided no tools are needed")
		return &Outcome{NoToolNeeded: true}, nil
	}
	o.sink.Record(audit.Success(audit.KindOrchestrate).
		With("stage", "decide").With("decision", "proceed"))

	candidates, selected, err := o.selectTools(ctx, prompt)
	if err != nil {
		return nil, o.stageFailed("select", err)
	}
	o.sink.Record(audit.Success(audit.KindOrchestrate).
		With("stage", "select").
		With("candidates", len(candidates)).
		With("selected", strings.Join(selected, " ")))

	script, err := o.generate(ctx, prompt, candidates, selected)
	if err != nil {
		return nil, o.stageFailed("generate", err)
	}
	o.sink.Record(audit.Success(audit.KindOrchestrate).
		With("stage", "generate").With("bytes", len(script)))

	result, err := o.engine.Execute(ctx, Request{Code: script})
	if err != nil {
		return nil, o.stageFailed("execute", err)
	}
	o.sink.Record(audit.Success(audit.KindOrchestrate).
		With("stage", "execute").
		With("execution", result.ExecutionID).
		With("ops", result.OpsUsed))

	return &Outcome{
		Candidates: candidates,
		Selected:   selected,
		Script:     script,
		Result:     result,
	}, nil
}

func (o *Orchestrator) stageFailed(stage string, err error) error {
	o.sink.Record(audit.Failure(audit.KindOrchestrate).
		With("stage", stage).WithError(err))
	logging.Error("Orchestrator", err, "%s stage failed", stage)
	return fmt.Errorf("%s stage: %w", stage, err)
}

func (o *Orchestrator) decide(ctx context.Context, prompt string) (bool, error) {
	response, err := o.model.Complete(ctx, decidePrompt(prompt))
	if err != nil {
		return false, err
	}
	return parseDecision(response), nil
}

// selectTools searches the repository with the prompt as query and lets the
// model pick from the hits. No hits is a hard failure; an off-format model
// answer falls back to offering every candidate to the generator.
func (o *Orchestrator) selectTools(ctx context.Context, prompt string) ([]tools.Tool, []string, error) {
	query := prompt
	if runes := []rune(query); len(runes) > o.engine.limits.MaxQueryLen {
		query = string(runes[:o.engine.limits.MaxQueryLen])
	}

	candidates, err := o.engine.caller.SearchTools(ctx, query, o.engine.limits.MaxSearchResults)
	if err != nil {
		return nil, nil, err
	}
	if len(candidates) == 0 {
		return nil, nil, errors.New("no registered tool matches the request")
	}

	response, err := o.model.Complete(ctx, selectPrompt(prompt, candidates))
	if err != nil {
		return nil, nil, err
	}

	selected := parseSelection(response, candidates)
	if len(selected) == 0 {
		for _, tool := range candidates {
			selected = append(selected, tool.Name)
		}
	}
	return candidates, selected, nil
}

func (o *Orchestrator) generate(ctx context.Context, prompt string, candidates []tools.Tool, selected []string) (string, error) {
	response, err := o.model.Complete(ctx, generatePrompt(prompt, candidates, selected))
	if err != nil {
		return "", err
	}
	script := extractScript(response)
	if script == "" {
		return "", errors.New("model returned no script")
	}
	return script, nil
}

func decidePrompt(prompt string) string {
	var b strings.Builder
	b.WriteString("You route requests for a tool-calling runtime.\n")
	b.WriteString("Decide whether answering the request below requires calling external tools.\n\n")
	b.WriteString("Request:\n")
	b.WriteString(prompt)
	b.WriteString("\n\nAnswer with exactly one word: YES or NO.")
	return b.String()
}

func selectPrompt(prompt string, candidates []tools.Tool) string {
	var b strings.Builder
	b.WriteString("Pick the tools needed to handle the request below.\n\n")
	b.WriteString("Available tools:\n")
	for _, tool := range candidates {
		fmt.Fprintf(&b, "- %s: %s\n", tool.Name,
			pkgstrings.TruncateDescription(tool.Description, promptDescriptionMaxLen))
	}
	b.WriteString("\nRequest:\n")
	b.WriteString(prompt)
	b.WriteString("\n\nAnswer with the tool names to use, comma separated. Use only names from the list.")
	return b.String()
}

func generatePrompt(prompt string, candidates []tools.Tool, selected []string) string {
	chosen := make(map[string]bool, len(selected))
	for _, name := range selected {
		chosen[name] = true
	}

	var b strings.Builder
	b.WriteString("Write a script for a restricted JavaScript sandbox that handles the request below.\n\n")
	b.WriteString("Runtime API:\n")
	b.WriteString("- call_tool(name, args): call a tool and return its result\n")
	b.WriteString("- call_tool_stream(name, args): returns a handle with next(), close() and collect()\n")
	b.WriteString("- search_tools(query, limit): find more tools\n")
	b.WriteString("- sprintf(format, ...args): substitute {} placeholders left to right\n\n")
	b.WriteString("Rules:\n")
	b.WriteString("- No function definitions, arrow functions, loops, eval, import or require.\n")
	b.WriteString("- Straight-line statements only; declare intermediates with let.\n")
	b.WriteString("- The value of the final expression is the script result.\n")
	b.WriteString("- Tool names are qualified as provider.tool; args is an object literal.\n\n")
	b.WriteString("Tools:\n")
	for _, tool := range candidates {
		if !chosen[tool.Name] {
			continue
		}
		fmt.Fprintf(&b, "- %s: %s\n", tool.Name,
			pkgstrings.TruncateDescription(tool.Description, promptDescriptionMaxLen))
		if schema, err := json.Marshal(tool.Inputs); err == nil && string(schema) != "{}" {
			fmt.Fprintf(&b, "  inputs: %s\n", schema)
		}
	}
	b.WriteString("\nRequest:\n")
	b.WriteString(prompt)
	b.WriteString("\n\nReply with only the script. No markdown, no explanations.")
	return b.String()
}

// parseDecision reads the model's YES/NO answer. The first recognized word
// wins; an answer with neither proceeds, since the later stages bound the
// work anyway.
func parseDecision(response string) bool {
	normalized := strings.ToUpper(response)
	for _, field := range strings.FieldsFunc(normalized, func(r rune) bool {
		return r < 'A' || r > 'Z'
	}) {
		switch field {
		case "YES":
			return true
		case "NO":
			return false
		}
	}
	return true
}

// parseSelection keeps the candidates whose names the response mentions,
// in candidate order. Name boundaries are respected so "fs.read" does not
// match inside "fs.readdir".
func parseSelection(response string, candidates []tools.Tool) []string {
	var selected []string
	for _, tool := range candidates {
		if mentionsName(response, tool.Name) {
			selected = append(selected, tool.Name)
		}
	}
	return selected
}

func mentionsName(response, name string) bool {
	if name == "" {
		return false
	}
	offset := 0
	for {
		i := strings.Index(response[offset:], name)
		if i < 0 {
			return false
		}
		start := offset + i
		end := start + len(name)
		beforeOK := start == 0 || !isNameChar(response[start-1])
		afterOK := end == len(response) || !isNameChar(response[end])
		if beforeOK && afterOK {
			return true
		}
		offset = start + 1
	}
}

func isNameChar(c byte) bool {
	return c == '_' || c == '.' || c == '-' ||
		('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z') || ('0' <= c && c <= '9')
}

// extractScript strips a surrounding markdown fence, with or without a
// language tag, and trims whitespace. Models add fences no matter how the
// prompt asks them not to.
func extractScript(response string) string {
	s := strings.TrimSpace(response)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		if isFenceTag(strings.TrimSpace(s[:idx])) {
			s = s[idx+1:]
		}
	}
	if idx := strings.LastIndex(s, "```"); idx >= 0 {
		s = s[:idx]
	}
	return strings.TrimSpace(s)
}

// isFenceTag reports whether a fence's first line is a language tag rather
// than code.
func isFenceTag(line string) bool {
	if line == "" {
		return true
	}
	for _, r := range line {
		if (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') {
			return false
		}
	}
	return true
}
