package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"utcp/internal/audit"
	"utcp/internal/config"
	"utcp/internal/manual"
	"utcp/internal/repository"
	"utcp/internal/tag"
	"utcp/internal/tools"
	"utcp/internal/transports"
	"utcp/pkg/logging"
)

// registrationConcurrency bounds how many providers-file entries are
// registered in parallel during construction and reloads.
const registrationConcurrency = 4

// SearchStrategy ranks registered tools against a free-text query. The tag
// package provides the default implementation.
type SearchStrategy interface {
	SearchTools(ctx context.Context, query string, limit int) ([]tools.Tool, error)
}

// Client dispatches qualified tool calls across pluggable communication
// protocols. Construct with New; the zero value is not usable.
type Client struct {
	cfg      config.UtcpConfig
	repo     repository.Repository
	search   SearchStrategy
	registry *transports.Registry
	handlers *manual.HandlerRegistry
	sink     audit.Sink

	// auditFile is owned when the config selected a file sink; closed on Close.
	auditFile *os.File

	watchRequested bool

	// mu guards the watcher handle and the set of provider names that came
	// from the providers file. It is never held across transport calls.
	mu            sync.Mutex
	watcher       *config.ProvidersWatcher
	fileProviders map[string]struct{}
}

// Option configures a Client during New.
type Option func(*Client)

// WithConfig supplies the client configuration. Without it the defaults
// apply: no variables, no providers file, no call timeout.
func WithConfig(cfg config.UtcpConfig) Option {
	return func(c *Client) { c.cfg = cfg }
}

// WithRepository replaces the default in-memory tool repository.
func WithRepository(repo repository.Repository) Option {
	return func(c *Client) { c.repo = repo }
}

// WithSearchStrategy replaces the default tag search strategy.
func WithSearchStrategy(s SearchStrategy) Option {
	return func(c *Client) { c.search = s }
}

// WithTransportRegistry uses an isolated protocol registry instead of the
// process-wide default. Tests use this to avoid cross-test interference.
func WithTransportRegistry(r *transports.Registry) Option {
	return func(c *Client) { c.registry = r }
}

// WithHandlerRegistry uses an isolated call-template handler registry.
func WithHandlerRegistry(h *manual.HandlerRegistry) Option {
	return func(c *Client) { c.handlers = h }
}

// WithAuditSink overrides the sink derived from the audit configuration.
func WithAuditSink(s audit.Sink) Option {
	return func(c *Client) { c.sink = s }
}

// WithProvidersWatch keeps the registered provider set in sync with the
// configured providers file: edits re-register changed entries and
// deregister removed ones. Requires a providers file path in the config.
func WithProvidersWatch() Option {
	return func(c *Client) { c.watchRequested = true }
}

// New builds a client and, when the configuration names a providers file,
// registers its entries. Entries that fail to register are logged and
// skipped; an unreadable or malformed file fails construction.
func New(ctx context.Context, opts ...Option) (*Client, error) {
	c := &Client{cfg: config.DefaultConfig()}
	for _, opt := range opts {
		opt(c)
	}

	if err := c.cfg.Validate(); err != nil {
		return nil, err
	}
	if c.repo == nil {
		c.repo = repository.NewInMemory()
	}
	if c.search == nil {
		c.search = tag.NewSearch(c.repo)
	}
	if c.registry == nil {
		c.registry = transports.Default()
	}
	if c.handlers == nil {
		c.handlers = manual.Default()
	}
	if c.sink == nil {
		sink, file, err := sinkFromConfig(c.cfg.Audit)
		if err != nil {
			return nil, err
		}
		c.sink = sink
		c.auditFile = file
	}

	if c.cfg.ProvidersFile != "" {
		if err := c.loadProvidersFile(ctx); err != nil {
			c.closeAuditFile()
			return nil, err
		}
	}
	if c.watchRequested {
		if err := c.startProvidersWatch(); err != nil {
			c.closeAuditFile()
			return nil, err
		}
	}
	return c, nil
}

func sinkFromConfig(cfg config.AuditConfig) (audit.Sink, *os.File, error) {
	switch cfg.Sink {
	case "", "log":
		return audit.LogSink{}, nil, nil
	case "none":
		return audit.NopSink{}, nil, nil
	case "file":
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("opening audit file: %w", err)
		}
		return audit.NewWriterSink(f), f, nil
	default:
		return nil, nil, tools.NewValidationError("audit", "unknown sink %q", cfg.Sink)
	}
}

// Repository exposes the tool repository for read access.
func (c *Client) Repository() repository.Repository { return c.repo }

// Transports exposes the protocol registry the client dispatches through.
func (c *Client) Transports() *transports.Registry { return c.registry }

// AuditSink exposes the sink client operations record to, so embedding
// callers (the script engine, the orchestrator) can share one audit trail.
func (c *Client) AuditSink() audit.Sink { return c.sink }

// RegisterProvider runs discovery against the provider described by the
// template and stores the tools it publishes. Dots in the provider name are
// replaced with underscores first: the dot is reserved as the qualified-name
// separator. Tools whose own call template uses a protocol outside the
// provider's allow-list are dropped and logged. On failure the repository is
// left exactly as it was.
func (c *Client) RegisterProvider(ctx context.Context, tmpl tools.CallTemplate) ([]tools.Tool, error) {
	if tmpl == nil {
		return nil, tools.NewValidationError("call_template", "missing call template")
	}
	name := tools.NormalizeProviderName(tmpl.ProviderName())
	if err := tools.ValidateProviderName(name); err != nil {
		return nil, err
	}
	if name != tmpl.ProviderName() {
		logging.Info("Client", "provider name %q normalized to %q", tmpl.ProviderName(), name)
	}

	resolved, err := c.resolveTemplate(name, tmpl)
	if err != nil {
		c.auditRegister(name, "", 0, err)
		return nil, err
	}

	protocolKey := resolved.TemplateType()
	protocol, err := c.registry.Get(protocolKey)
	if err != nil {
		c.auditRegister(name, protocolKey, 0, err)
		return nil, err
	}

	discovered, err := protocol.RegisterToolProvider(ctx, resolved)
	if err != nil {
		err = &tools.ProviderRegistrationError{Provider: name, Err: err}
		c.auditRegister(name, protocolKey, 0, err)
		return nil, err
	}

	provider := tools.Provider{Name: name, Type: protocolKey, Template: resolved}
	kept := c.prepareTools(provider, discovered)
	if err := c.repo.SaveProviderWithTools(ctx, provider, kept); err != nil {
		c.auditRegister(name, protocolKey, 0, err)
		return nil, err
	}

	logging.Info("Client", "registered provider %q (%s) with %d tools", name, protocolKey, len(kept))
	c.auditRegister(name, protocolKey, len(kept), nil)
	return kept, nil
}

// RegisterProviderWithTools stores a provider whose tools are already known,
// skipping discovery. The caller controls the provider record, including its
// protocol allow-list; this is the route for manuals that widen the
// allow-list beyond the provider's own type.
func (c *Client) RegisterProviderWithTools(ctx context.Context, provider tools.Provider, toolList []tools.Tool) ([]tools.Tool, error) {
	provider.Name = tools.NormalizeProviderName(provider.Name)
	if err := tools.ValidateProviderName(provider.Name); err != nil {
		return nil, err
	}
	if provider.Type == "" && provider.Template != nil {
		provider.Type = provider.Template.TemplateType()
	}
	if provider.Type == "" {
		return nil, tools.NewValidationError("provider type",
			"provider %q declares neither a type nor a template", provider.Name)
	}
	if provider.Template != nil {
		resolved, err := c.resolveTemplate(provider.Name, provider.Template)
		if err != nil {
			c.auditRegister(provider.Name, provider.Type, 0, err)
			return nil, err
		}
		provider.Template = resolved
	}
	if _, err := c.registry.Get(provider.Type); err != nil {
		c.auditRegister(provider.Name, provider.Type, 0, err)
		return nil, err
	}

	kept := c.prepareTools(provider, toolList)
	if err := c.repo.SaveProviderWithTools(ctx, provider, kept); err != nil {
		c.auditRegister(provider.Name, provider.Type, 0, err)
		return nil, err
	}

	logging.Info("Client", "registered provider %q (%s) with %d supplied tools",
		provider.Name, provider.Type, len(kept))
	c.auditRegister(provider.Name, provider.Type, len(kept), nil)
	return kept, nil
}

// RegisterManual registers a provider from an already-decoded manual. The
// manual's allowed_communication_protocols declaration becomes the
// provider's allow-list, so a manual may permit tools of other protocols.
func (c *Client) RegisterManual(ctx context.Context, man tools.UtcpManual, tmpl tools.CallTemplate) ([]tools.Tool, error) {
	if tmpl == nil {
		return nil, tools.NewValidationError("call_template", "missing call template")
	}
	provider := tools.Provider{
		Name:             tmpl.ProviderName(),
		Type:             tmpl.TemplateType(),
		Template:         tmpl,
		AllowedProtocols: man.AllowedProtocols,
	}
	return c.RegisterProviderWithTools(ctx, provider, man.Tools)
}

// DeregisterProvider removes a provider and its tools, releasing transport
// resources first. Deregistering an unknown provider succeeds.
func (c *Client) DeregisterProvider(ctx context.Context, name string) error {
	name = tools.NormalizeProviderName(name)
	provider, found, err := c.repo.GetProvider(ctx, name)
	if err != nil {
		return err
	}
	if !found {
		logging.Debug("Client", "deregister of unknown provider %q is a no-op", name)
		return nil
	}

	// Transport teardown is best effort: a provider must stay removable even
	// when its protocol was deregistered or its session is already broken.
	if provider.Template != nil {
		if protocol, perr := c.registry.Get(provider.Type); perr != nil {
			logging.Warn("Client", "provider %q: protocol %q unavailable for teardown", name, provider.Type)
		} else if terr := protocol.DeregisterToolProvider(ctx, provider.Template); terr != nil {
			logging.Warn("Client", "provider %q: transport teardown failed: %v", name, terr)
		}
	}

	removed, err := c.repo.RemoveProvider(ctx, name)
	if err != nil {
		c.sink.Record(audit.Failure(audit.KindProviderDeregister).With("provider", name).WithError(err))
		return err
	}
	if removed {
		logging.Info("Client", "deregistered provider %q", name)
		c.sink.Record(audit.Success(audit.KindProviderDeregister).With("provider", name))
	}
	return nil
}

// CallTool invokes a tool by qualified name and returns its decoded result.
// The configured call timeout, when set, bounds the transport call; an
// elapsed budget surfaces as a TimeoutError rather than a bare context
// error.
func (c *Client) CallTool(ctx context.Context, qualifiedName string, args map[string]any) (any, error) {
	target, err := c.resolve(ctx, qualifiedName)
	if err != nil {
		c.auditCall(audit.KindToolCall, "", qualifiedName, args, err)
		return nil, err
	}

	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	result, err := target.protocol.CallTool(callCtx, target.local, args, target.template)
	if err != nil {
		err = c.mapCallError(ctx, callCtx, target, qualifiedName, err)
		c.auditCall(audit.KindToolCall, target.provider.Name, target.local, args, err)
		return nil, err
	}
	c.auditCall(audit.KindToolCall, target.provider.Name, target.local, args, nil)
	return result, nil
}

// CallToolStream invokes a streaming tool. The returned stream records its
// audit outcome once, at the first terminal event: exhaustion, a stream
// error, or an early Close. Its Close is idempotent regardless of the
// transport's own stream implementation.
func (c *Client) CallToolStream(ctx context.Context, qualifiedName string, args map[string]any) (transports.StreamResult, error) {
	target, err := c.resolve(ctx, qualifiedName)
	if err != nil {
		c.auditCall(audit.KindToolStream, "", qualifiedName, args, err)
		return nil, err
	}

	stream, err := target.protocol.CallToolStream(ctx, target.local, args, target.template)
	if err != nil {
		err = c.mapCallError(ctx, ctx, target, qualifiedName, err)
		c.auditCall(audit.KindToolStream, target.provider.Name, target.local, args, err)
		return nil, err
	}
	return newAuditedStream(stream, c.sink, target.provider.Name, target.local), nil
}

// SearchTools ranks registered tools against a free-text query.
func (c *Client) SearchTools(ctx context.Context, query string, limit int) ([]tools.Tool, error) {
	found, err := c.search.SearchTools(ctx, query, limit)
	if err != nil {
		c.sink.Record(audit.Failure(audit.KindToolSearch).With("query", query).WithError(err))
		return nil, err
	}
	c.sink.Record(audit.Success(audit.KindToolSearch).
		With("query", query).With("limit", limit).With("results", len(found)))
	return found, nil
}

// Close stops the providers watcher, releases transport resources for every
// registered provider, and closes an owned audit file. The client must not
// be used afterwards.
func (c *Client) Close(ctx context.Context) error {
	c.mu.Lock()
	watcher := c.watcher
	c.watcher = nil
	c.mu.Unlock()
	if watcher != nil {
		if err := watcher.Stop(); err != nil {
			logging.Warn("Client", "stopping providers watcher: %v", err)
		}
	}

	providers, err := c.repo.ListProviders(ctx)
	if err != nil {
		c.closeAuditFile()
		return err
	}
	for _, provider := range providers {
		if derr := c.DeregisterProvider(ctx, provider.Name); derr != nil {
			logging.Warn("Client", "deregistering provider %q on close: %v", provider.Name, derr)
		}
	}
	c.closeAuditFile()
	return nil
}

func (c *Client) closeAuditFile() {
	if c.auditFile != nil {
		c.auditFile.Close()
		c.auditFile = nil
	}
}

// resolvedTool is the outcome of qualified-name resolution: everything a
// dispatch needs, looked up once.
type resolvedTool struct {
	provider    tools.Provider
	tool        tools.Tool
	local       string
	protocolKey string
	protocol    transports.CommunicationProtocol
	template    tools.CallTemplate
}

// resolve is the single place qualified names are split and mapped to a
// transport. The split happens on the first dot; the local part may itself
// contain dots.
func (c *Client) resolve(ctx context.Context, qualifiedName string) (*resolvedTool, error) {
	providerName, _, ok := tools.SplitQualifiedName(qualifiedName)
	if !ok || providerName == "" {
		return nil, tools.NewValidationError("tool name",
			"want the qualified form provider.tool, got %q", qualifiedName)
	}
	local := tools.StripProviderPrefix(qualifiedName, providerName)

	provider, found, err := c.repo.GetProvider(ctx, providerName)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, &tools.ProviderNotFoundError{Provider: providerName}
	}

	tool, found, err := c.repo.GetTool(ctx, qualifiedName)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, &tools.ToolNotFoundError{Provider: providerName, Tool: local}
	}

	template := tool.CallTemplate
	if template == nil {
		template = provider.Template
	}
	if template == nil {
		return nil, tools.NewValidationError("call_template",
			"provider %q has no call template for %q", providerName, qualifiedName)
	}

	protocolKey := template.TemplateType()
	if !provider.AllowsProtocol(protocolKey) {
		return nil, &tools.ProtocolNotAllowedError{
			Protocol: protocolKey,
			Allowed:  provider.EffectiveAllowedProtocols(),
		}
	}
	protocol, err := c.registry.Get(protocolKey)
	if err != nil {
		return nil, err
	}

	return &resolvedTool{
		provider:    *provider,
		tool:        *tool,
		local:       local,
		protocolKey: protocolKey,
		protocol:    protocol,
		template:    template,
	}, nil
}

// callContext applies the configured per-call timeout when one is set.
func (c *Client) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := c.cfg.CallTimeout.Std()
	if timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, timeout)
}

// mapCallError distinguishes the client's own call budget from caller
// cancellation and guarantees transport failures carry provider and tool
// context even when a third-party protocol returns bare errors.
func (c *Client) mapCallError(parent, callCtx context.Context, target *resolvedTool, qualifiedName string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		if parent.Err() == nil && callCtx.Err() == context.DeadlineExceeded {
			return &tools.TimeoutError{Op: "call of " + qualifiedName, Timeout: c.cfg.CallTimeout.Std()}
		}
		return err
	}

	var (
		transportErr  *tools.TransportError
		validationErr *tools.ValidationError
		authErr       *tools.AuthError
	)
	if errors.As(err, &transportErr) || errors.As(err, &validationErr) || errors.As(err, &authErr) {
		return err
	}
	return &tools.TransportError{
		Protocol: target.protocolKey,
		Provider: target.provider.Name,
		Tool:     qualifiedName,
		Err:      err,
	}
}

// resolveTemplate applies variable substitution to a template by
// round-tripping it through its manifest form, then re-normalizing it under
// the provider name. The input template is never mutated.
func (c *Client) resolveTemplate(name string, tmpl tools.CallTemplate) (tools.CallTemplate, error) {
	encoded, err := manual.EncodeTemplate(tmpl)
	if err != nil {
		return nil, err
	}
	substituted, err := c.cfg.SubstituteValue(encoded)
	if err != nil {
		return nil, err
	}
	raw, ok := substituted.(map[string]any)
	if !ok {
		return nil, tools.NewValidationError("call_template", "template must encode to an object")
	}
	return c.handlers.Normalize(name, raw)
}

// prepareTools normalizes per-tool templates, applies the provider's
// protocol allow-list, and qualifies tool names. Filtered tools are logged,
// never silently dropped. Tools without a template of their own inherit the
// provider template at call time and pass the filter here; the allow-list
// is re-checked on every call.
func (c *Client) prepareTools(provider tools.Provider, discovered []tools.Tool) []tools.Tool {
	kept := make([]tools.Tool, 0, len(discovered))
	for _, tool := range discovered {
		if tool.CallTemplate == nil && len(tool.RawCallTemplate) > 0 {
			tmpl, err := c.handlers.Normalize(provider.Name, tool.RawCallTemplate)
			if err != nil {
				logging.Warn("Client", "provider %q: dropping tool %q, bad call template: %v",
					provider.Name, tool.Name, err)
				continue
			}
			tool.CallTemplate = tmpl
		}
		if tool.CallTemplate != nil && !provider.AllowsProtocol(tool.CallTemplate.TemplateType()) {
			logging.Info("Client", "provider %q: tool %q filtered, protocol %q not in allow-list %v",
				provider.Name, tool.Name, tool.CallTemplate.TemplateType(), provider.EffectiveAllowedProtocols())
			continue
		}
		tool.Name = tools.EnsureQualified(strings.TrimLeft(tool.Name, tools.Separator), provider.Name)
		kept = append(kept, tool)
	}
	return kept
}

func (c *Client) auditRegister(provider, protocol string, count int, err error) {
	if err != nil {
		event := audit.Failure(audit.KindProviderRegister).With("provider", provider)
		if protocol != "" {
			event.With("protocol", protocol)
		}
		c.sink.Record(event.WithError(err))
		return
	}
	c.sink.Record(audit.Success(audit.KindProviderRegister).
		With("provider", provider).With("protocol", protocol).With("tools", count))
}

func (c *Client) auditCall(kind, provider, tool string, args map[string]any, err error) {
	var event *audit.Event
	if err != nil {
		event = audit.Failure(kind)
	} else {
		event = audit.Success(kind)
	}
	if provider != "" {
		event.With("provider", provider)
	}
	event.With("tool", tool)
	if err != nil {
		event.WithError(err)
	}
	if len(args) > 0 {
		if encoded, merr := json.Marshal(args); merr == nil {
			event.WithDetail("args=%s", encoded)
		}
	}
	c.sink.Record(event)
}

// loadProvidersFile registers the providers file at construction. File-level
// errors are fatal; per-entry registration failures are logged and skipped,
// matching the rule that one broken provider must not take down the rest.
func (c *Client) loadProvidersFile(ctx context.Context) error {
	templates, err := config.LoadProviders(c.cfg.ProvidersFile, &c.cfg, c.handlers)
	if err != nil {
		return err
	}
	names := c.registerTemplates(ctx, templates)

	c.mu.Lock()
	c.fileProviders = names
	c.mu.Unlock()
	return nil
}

// registerTemplates registers templates concurrently and returns the set of
// normalized provider names the file declared, failed entries included: an
// entry that is still present but broken must not be treated as removed.
func (c *Client) registerTemplates(ctx context.Context, templates []tools.CallTemplate) map[string]struct{} {
	names := make(map[string]struct{}, len(templates))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(registrationConcurrency)
	for _, tmpl := range templates {
		names[tools.NormalizeProviderName(tmpl.ProviderName())] = struct{}{}
		group.Go(func() error {
			if _, err := c.RegisterProvider(groupCtx, tmpl); err != nil {
				logging.Warn("Client", "provider %q from %s failed to register: %v",
					tmpl.ProviderName(), c.cfg.ProvidersFile, err)
			}
			return nil
		})
	}
	// Registration failures are logged per entry, never propagated.
	_ = group.Wait()
	return names
}

// reloadProvidersFile re-registers the providers file after an edit and
// deregisters providers that vanished from it.
func (c *Client) reloadProvidersFile(ctx context.Context) {
	templates, err := config.LoadProviders(c.cfg.ProvidersFile, &c.cfg, c.handlers)
	if err != nil {
		logging.Warn("Client", "providers file %s reload failed: %v", c.cfg.ProvidersFile, err)
		return
	}
	names := c.registerTemplates(ctx, templates)

	c.mu.Lock()
	previous := c.fileProviders
	c.fileProviders = names
	c.mu.Unlock()

	for name := range previous {
		if _, still := names[name]; still {
			continue
		}
		if err := c.DeregisterProvider(ctx, name); err != nil {
			logging.Warn("Client", "deregistering removed provider %q: %v", name, err)
		}
	}
	logging.Info("Client", "providers file %s reloaded (%d entries)", c.cfg.ProvidersFile, len(names))
}

func (c *Client) startProvidersWatch() error {
	if c.cfg.ProvidersFile == "" {
		return tools.NewValidationError("providers_file", "provider watching needs a providers file path")
	}
	watcher := config.NewProvidersWatcher(c.cfg.ProvidersFile, func() {
		c.reloadProvidersFile(context.Background())
	})
	if err := watcher.Start(); err != nil {
		return err
	}
	c.mu.Lock()
	c.watcher = watcher
	c.mu.Unlock()
	return nil
}
