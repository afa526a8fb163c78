// Package formatting renders client data for the CLI in table, JSON or
// YAML form. Provider output is a projection (name, protocol, allow-list,
// tool count) rather than the full registration template, so credential
// material in templates never reaches a terminal.
package formatting

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"gopkg.in/yaml.v3"

	"utcp/internal/tools"
	pkgstrings "utcp/pkg/strings"
)

// OutputFormat selects how results are rendered.
type OutputFormat string

const (
	FormatTable OutputFormat = "table"
	FormatJSON  OutputFormat = "json"
	FormatYAML  OutputFormat = "yaml"
)

// ParseFormat validates a format flag value. Empty means table.
func ParseFormat(s string) (OutputFormat, error) {
	switch OutputFormat(s) {
	case "":
		return FormatTable, nil
	case FormatTable, FormatJSON, FormatYAML:
		return OutputFormat(s), nil
	}
	return "", fmt.Errorf("unknown output format %q (want table, json or yaml)", s)
}

// Formatter renders to a writer in one format.
type Formatter struct {
	format OutputFormat
	out    io.Writer
}

// New creates a formatter.
func New(format OutputFormat, out io.Writer) *Formatter {
	return &Formatter{format: format, out: out}
}

// Tools renders a tool list. The table form truncates descriptions; the
// structured forms carry the tools as stored.
func (f *Formatter) Tools(list []tools.Tool) error {
	switch f.format {
	case FormatJSON:
		return f.printJSON(map[string]any{"tools": toolProjection(list), "count": len(list)})
	case FormatYAML:
		return f.printYAML(map[string]any{"tools": toolProjection(list), "count": len(list)})
	}

	if len(list) == 0 {
		fmt.Fprintln(f.out, text.FgYellow.Sprint("No tools found"))
		return nil
	}

	t := f.newTable()
	t.AppendHeader(table.Row{
		text.FgHiCyan.Sprint("NAME"),
		text.FgHiCyan.Sprint("DESCRIPTION"),
		text.FgHiCyan.Sprint("TAGS"),
	})
	for _, tool := range list {
		t.AppendRow(table.Row{
			tool.Name,
			pkgstrings.TruncateDescription(tool.Description, pkgstrings.DefaultDescriptionMaxLen),
			strings.Join(tool.Tags, ", "),
		})
	}
	t.Render()
	return nil
}

// providerRow is the printable projection of a registered provider.
type providerRow struct {
	Name             string   `json:"name" yaml:"name"`
	Protocol         string   `json:"protocol" yaml:"protocol"`
	AllowedProtocols []string `json:"allowed_protocols" yaml:"allowed_protocols"`
	Tools            int      `json:"tools" yaml:"tools"`
}

// Providers renders the provider list. toolCounts maps provider name to its
// registered tool count.
func (f *Formatter) Providers(list []tools.Provider, toolCounts map[string]int) error {
	rows := make([]providerRow, 0, len(list))
	for _, p := range list {
		rows = append(rows, providerRow{
			Name:             p.Name,
			Protocol:         p.Type,
			AllowedProtocols: p.EffectiveAllowedProtocols(),
			Tools:            toolCounts[p.Name],
		})
	}

	switch f.format {
	case FormatJSON:
		return f.printJSON(map[string]any{"providers": rows, "count": len(rows)})
	case FormatYAML:
		return f.printYAML(map[string]any{"providers": rows, "count": len(rows)})
	}

	if len(rows) == 0 {
		fmt.Fprintln(f.out, text.FgYellow.Sprint("No providers registered"))
		return nil
	}

	t := f.newTable()
	t.AppendHeader(table.Row{
		text.FgHiCyan.Sprint("NAME"),
		text.FgHiCyan.Sprint("PROTOCOL"),
		text.FgHiCyan.Sprint("ALLOWED"),
		text.FgHiCyan.Sprint("TOOLS"),
	})
	for _, row := range rows {
		t.AppendRow(table.Row{
			row.Name,
			row.Protocol,
			strings.Join(row.AllowedProtocols, ", "),
			row.Tools,
		})
	}
	t.Render()
	return nil
}

// Value renders an arbitrary result value. The table form degrades to
// pretty JSON, which reads better than a two-column dump for nested tool
// results.
func (f *Formatter) Value(v any) error {
	switch f.format {
	case FormatYAML:
		return f.printYAML(v)
	default:
		return f.printJSON(v)
	}
}

func (f *Formatter) newTable() table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(f.out)
	t.SetStyle(table.StyleRounded)
	return t
}

func (f *Formatter) printJSON(v any) error {
	_, err := fmt.Fprintln(f.out, PrettyJSON(v))
	return err
}

func (f *Formatter) printYAML(v any) error {
	data, err := yaml.Marshal(v)
	if err != nil {
		return err
	}
	_, err = f.out.Write(data)
	return err
}

// toolProjection keeps the structured output to the fields a caller can
// act on.
func toolProjection(list []tools.Tool) []map[string]any {
	out := make([]map[string]any, 0, len(list))
	for _, tool := range list {
		out = append(out, map[string]any{
			"name":        tool.Name,
			"description": tool.Description,
			"tags":        tool.Tags,
		})
	}
	return out
}

// PrettyJSON formats a value as indented JSON, falling back to %v when the
// value does not marshal.
func PrettyJSON(v any) string {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}
