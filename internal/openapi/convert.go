package openapi

import (
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"utcp/internal/tools"
	"utcp/pkg/auth"
	"utcp/pkg/logging"
)

// methods lists the HTTP operations a path item may define, in the order
// tools are emitted for one path.
var methods = []string{"get", "post", "put", "delete", "patch"}

// Converter turns an OpenAPI document (v2 or v3) into a UTCP manual. Each
// path/method pair becomes one tool whose call template points at the
// operation's resolved URL; security schemes become auth objects with
// ${PROVIDER_*} credential placeholders for the variable substitution layer
// to fill in.
type Converter struct {
	spec         map[string]any
	specURL      string
	providerName string
}

// NewConverter wraps a decoded spec. providerName may be empty, in which
// case it derives from the spec's info.title.
func NewConverter(spec map[string]any, specURL, providerName string) *Converter {
	if providerName == "" {
		providerName = deriveProviderName(spec)
	}
	return &Converter{spec: spec, specURL: specURL, providerName: providerName}
}

// Parse decodes raw spec bytes, trying JSON first and YAML second.
func Parse(data []byte) (map[string]any, error) {
	var spec map[string]any
	if err := json.Unmarshal(data, &spec); err == nil {
		return spec, nil
	}
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("spec is neither JSON nor YAML: %w", err)
	}
	return spec, nil
}

// Convert walks the spec's paths and produces a manual. Operations that
// cannot be converted are skipped, never fatal; an unusable spec simply
// yields an empty manual.
func (c *Converter) Convert() tools.UtcpManual {
	manual := tools.UtcpManual{Version: tools.ManualVersion}
	baseURL := c.baseURL()

	paths, _ := c.spec["paths"].(map[string]any)
	pathKeys := make([]string, 0, len(paths))
	for p := range paths {
		pathKeys = append(pathKeys, p)
	}
	sort.Strings(pathKeys)

	for _, rawPath := range pathKeys {
		item, ok := paths[rawPath].(map[string]any)
		if !ok {
			continue
		}
		for _, method := range methods {
			op, ok := item[method].(map[string]any)
			if !ok {
				continue
			}
			manual.Tools = append(manual.Tools, c.buildTool(rawPath, method, op, baseURL))
		}
	}

	logging.Debug("OpenAPI", "converted spec for %q into %d tools", c.providerName, len(manual.Tools))
	return manual
}

// baseURL resolves the request base: servers[0].url (v3), then
// schemes/host/basePath (v2), then the spec URL's origin, then "/".
func (c *Converter) baseURL() string {
	if servers, ok := c.spec["servers"].([]any); ok && len(servers) > 0 {
		if first, ok := servers[0].(map[string]any); ok {
			if u, ok := first["url"].(string); ok && u != "" {
				return u
			}
		}
	}

	if host, ok := c.spec["host"].(string); ok && host != "" {
		scheme := "https"
		if schemes, ok := c.spec["schemes"].([]any); ok && len(schemes) > 0 {
			if s, ok := schemes[0].(string); ok && s != "" {
				scheme = s
			}
		}
		basePath, _ := c.spec["basePath"].(string)
		return scheme + "://" + host + basePath
	}

	if c.specURL != "" {
		if parsed, err := url.Parse(c.specURL); err == nil && parsed.Host != "" {
			return parsed.Scheme + "://" + parsed.Host
		}
	}
	return "/"
}

func (c *Converter) buildTool(path, method string, op map[string]any, baseURL string) tools.Tool {
	opID, _ := op["operationId"].(string)
	if opID == "" {
		sanitized := strings.ReplaceAll(strings.Trim(path, "/"), "/", "_")
		opID = method + "_" + sanitized
	}

	description, _ := op["summary"].(string)
	if description == "" {
		description, _ = op["description"].(string)
	}

	var tags []string
	if rawTags, ok := op["tags"].([]any); ok {
		for _, rt := range rawTags {
			if s, ok := rt.(string); ok {
				tags = append(tags, s)
			}
		}
	}

	inputs, headerFields, bodyField := c.extractInputs(op)

	template := map[string]any{
		"call_template_type": "http",
		"name":               c.providerName,
		"http_method":        strings.ToUpper(method),
		"url":                joinURL(baseURL, path),
		"content_type":       "application/json",
	}
	if bodyField != "" {
		template["body_field"] = bodyField
	}
	if len(headerFields) > 0 {
		template["header_fields"] = headerFields
	}
	if authObj := c.extractAuth(op); authObj != nil {
		template["auth"] = authObj
	}

	return tools.Tool{
		Name:            opID,
		Description:     description,
		Inputs:          inputs,
		Outputs:         c.extractOutputs(op),
		Tags:            tags,
		RawCallTemplate: template,
	}
}

// resolveRef follows a local "#/..." JSON pointer into the spec.
func (c *Converter) resolveRef(ref string) (any, bool) {
	if !strings.HasPrefix(ref, "#/") {
		return nil, false
	}
	var node any = c.spec
	for _, part := range strings.Split(strings.TrimPrefix(ref, "#/"), "/") {
		part = strings.ReplaceAll(strings.ReplaceAll(part, "~1", "/"), "~0", "~")
		obj, ok := node.(map[string]any)
		if !ok {
			return nil, false
		}
		node, ok = obj[part]
		if !ok {
			return nil, false
		}
	}
	return node, true
}

// resolveSchema replaces $ref nodes recursively. An unresolvable ref keeps
// the node as-is.
func (c *Converter) resolveSchema(value any) any {
	switch v := value.(type) {
	case map[string]any:
		if ref, ok := v["$ref"].(string); ok {
			if resolved, found := c.resolveRef(ref); found {
				return c.resolveSchema(resolved)
			}
			return v
		}
		out := make(map[string]any, len(v))
		for k, item := range v {
			out[k] = c.resolveSchema(item)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = c.resolveSchema(item)
		}
		return out
	default:
		return value
	}
}

func (c *Converter) extractInputs(op map[string]any) (tools.Schema, []string, string) {
	props := make(map[string]any)
	var required, headerFields []string
	var bodyField string

	if params, ok := op["parameters"].([]any); ok {
		for _, rawParam := range params {
			param, ok := c.resolveSchema(rawParam).(map[string]any)
			if !ok {
				continue
			}
			name, _ := param["name"].(string)
			if name == "" {
				continue
			}
			location, _ := param["in"].(string)
			switch location {
			case "header":
				headerFields = append(headerFields, name)
			case "body":
				bodyField = name
			}

			entry := make(map[string]any)
			if desc, ok := param["description"]; ok {
				entry["description"] = desc
			}
			if typ, ok := param["type"]; ok {
				entry["type"] = typ
			}
			if schema, ok := c.resolveSchema(param["schema"]).(map[string]any); ok {
				for k, v := range schema {
					entry[k] = v
				}
			}
			if _, ok := entry["type"]; !ok {
				entry["type"] = "object"
			}

			props[name] = entry
			if req, ok := param["required"].(bool); ok && req {
				required = append(required, name)
			}
		}
	}

	if rawBody, ok := op["requestBody"]; ok {
		if rb, ok := c.resolveSchema(rawBody).(map[string]any); ok {
			if schema, ok := dig(rb, "content", "application/json", "schema"); ok {
				bodyField = "body"
				entry := make(map[string]any)
				if desc, ok := rb["description"]; ok {
					entry["description"] = desc
				}
				if schemaMap, ok := c.resolveSchema(schema).(map[string]any); ok {
					for k, v := range schemaMap {
						entry[k] = v
					}
				}
				if _, ok := entry["type"]; !ok {
					entry["type"] = "object"
				}
				props[bodyField] = entry
				if req, ok := rb["required"].(bool); ok && req {
					required = append(required, bodyField)
				}
			}
		}
	}

	schema := tools.Schema{Type: "object"}
	if len(props) > 0 {
		schema.Properties = props
	}
	schema.Required = required
	return schema, headerFields, bodyField
}

func (c *Converter) extractOutputs(op map[string]any) tools.Schema {
	responses, ok := op["responses"].(map[string]any)
	if !ok {
		return tools.ObjectSchema()
	}
	resp, ok := responses["200"]
	if !ok {
		if resp, ok = responses["201"]; !ok {
			return tools.ObjectSchema()
		}
	}

	respObj, ok := c.resolveSchema(resp).(map[string]any)
	if !ok {
		return tools.ObjectSchema()
	}
	fallbackDesc, _ := respObj["description"].(string)

	if schema, ok := dig(respObj, "content", "application/json", "schema"); ok {
		return c.schemaFromValue(schema, fallbackDesc)
	}
	// v2 responses put the schema directly on the response object.
	if schema, ok := respObj["schema"]; ok {
		return c.schemaFromValue(schema, fallbackDesc)
	}
	return tools.ObjectSchema()
}

func (c *Converter) schemaFromValue(value any, fallbackDescription string) tools.Schema {
	m, ok := c.resolveSchema(value).(map[string]any)
	if !ok {
		return tools.ObjectSchema()
	}

	out := tools.Schema{Type: "object"}
	if typ, ok := m["type"].(string); ok && typ != "" {
		out.Type = typ
	}
	if props, ok := m["properties"].(map[string]any); ok {
		out.Properties = props
	}
	if rawReq, ok := m["required"].([]any); ok {
		for _, r := range rawReq {
			if s, ok := r.(string); ok {
				out.Required = append(out.Required, s)
			}
		}
	}
	if desc, ok := m["description"].(string); ok && desc != "" {
		out.Description = desc
	} else if fallbackDescription != "" {
		out.Description = fallbackDescription
	}
	if title, ok := m["title"].(string); ok {
		out.Title = title
	}
	if enum, ok := m["enum"].([]any); ok && len(enum) > 0 {
		out.Enum = enum
	}
	out.Minimum = floatPtr(m["minimum"])
	out.Maximum = floatPtr(m["maximum"])
	if format, ok := m["format"].(string); ok {
		out.Format = format
	}
	if out.Type == "array" {
		if items, ok := m["items"].(map[string]any); ok {
			out.Items = items
		}
	}
	return out
}

// extractAuth maps the operation's security requirement (or the spec-wide
// one) onto an auth object. Credentials are emitted as ${NAME_API_KEY}
// style placeholders keyed by the provider name.
func (c *Converter) extractAuth(op map[string]any) map[string]any {
	reqs, _ := op["security"].([]any)
	if len(reqs) == 0 {
		reqs, _ = c.spec["security"].([]any)
	}
	if len(reqs) == 0 {
		return nil
	}

	schemes := c.securitySchemes()
	for _, raw := range reqs {
		req, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		names := make([]string, 0, len(req))
		for name := range req {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			if scheme, ok := schemes[name].(map[string]any); ok {
				if authObj := c.authFromScheme(scheme); authObj != nil {
					return authObj
				}
			}
		}
	}
	return nil
}

func (c *Converter) securitySchemes() map[string]any {
	if schemes, ok := dig(c.spec, "components", "securitySchemes"); ok {
		if m, ok := schemes.(map[string]any); ok {
			return m
		}
	}
	// v2 name for the same section.
	if defs, ok := c.spec["securityDefinitions"].(map[string]any); ok {
		return defs
	}
	return nil
}

func (c *Converter) authFromScheme(scheme map[string]any) map[string]any {
	placeholder := func(suffix string) string {
		return "${" + strings.ToUpper(c.providerName) + "_" + suffix + "}"
	}

	typ, _ := scheme["type"].(string)
	switch strings.ToLower(typ) {
	case "apikey":
		location, _ := scheme["in"].(string)
		name, _ := scheme["name"].(string)
		if location == "" || name == "" {
			return nil
		}
		return map[string]any{
			"auth_type": auth.TypeAPIKey,
			"api_key":   placeholder("API_KEY"),
			"var_name":  name,
			"location":  location,
		}
	case "basic":
		return map[string]any{
			"auth_type": auth.TypeBasic,
			"username":  placeholder("USERNAME"),
			"password":  placeholder("PASSWORD"),
		}
	case "http":
		switch s, _ := scheme["scheme"].(string); strings.ToLower(s) {
		case "basic":
			return map[string]any{
				"auth_type": auth.TypeBasic,
				"username":  placeholder("USERNAME"),
				"password":  placeholder("PASSWORD"),
			}
		case "bearer":
			return map[string]any{
				"auth_type": auth.TypeAPIKey,
				"api_key":   "Bearer " + placeholder("API_KEY"),
				"var_name":  "Authorization",
				"location":  auth.LocationHeader,
			}
		}
		return nil
	case "oauth2":
		if flows, ok := scheme["flows"].(map[string]any); ok {
			flowNames := make([]string, 0, len(flows))
			for name := range flows {
				flowNames = append(flowNames, name)
			}
			sort.Strings(flowNames)
			for _, name := range flowNames {
				flow, ok := flows[name].(map[string]any)
				if !ok {
					continue
				}
				if tokenURL, ok := flow["tokenUrl"].(string); ok && tokenURL != "" {
					return c.oauthObject(tokenURL, flow["scopes"], placeholder)
				}
			}
		}
		// v2 puts tokenUrl and scopes on the scheme itself.
		if tokenURL, ok := scheme["tokenUrl"].(string); ok && tokenURL != "" {
			return c.oauthObject(tokenURL, scheme["scopes"], placeholder)
		}
		return nil
	}
	return nil
}

func (c *Converter) oauthObject(tokenURL string, rawScopes any, placeholder func(string) string) map[string]any {
	out := map[string]any{
		"auth_type":     auth.TypeOAuth2,
		"token_url":     tokenURL,
		"client_id":     placeholder("CLIENT_ID"),
		"client_secret": placeholder("CLIENT_SECRET"),
	}
	if scopes, ok := rawScopes.(map[string]any); ok && len(scopes) > 0 {
		keys := make([]string, 0, len(scopes))
		for k := range scopes {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out["scope"] = strings.Join(keys, " ")
	}
	return out
}

func deriveProviderName(spec map[string]any) string {
	title := ""
	if t, ok := dig(spec, "info", "title"); ok {
		title, _ = t.(string)
	}
	if title == "" {
		return "openapi_provider"
	}

	out := strings.Map(func(r rune) rune {
		if strings.ContainsRune(" -.,!?'\"\\/()[]{}#@$%^&*+=~`|;:<>", r) {
			return '_'
		}
		return r
	}, title)
	if out == "" {
		return "openapi_provider"
	}
	return out
}

func joinURL(base, path string) string {
	trimmedBase := strings.TrimRight(base, "/")
	trimmedPath := strings.TrimLeft(path, "/")
	switch {
	case trimmedBase == "":
		return "/" + trimmedPath
	case trimmedPath == "":
		return trimmedBase
	default:
		return trimmedBase + "/" + trimmedPath
	}
}

func dig(m map[string]any, keys ...string) (any, bool) {
	var node any = m
	for _, key := range keys {
		obj, ok := node.(map[string]any)
		if !ok {
			return nil, false
		}
		node, ok = obj[key]
		if !ok {
			return nil, false
		}
	}
	return node, true
}

func floatPtr(v any) *float64 {
	switch n := v.(type) {
	case float64:
		return &n
	case int:
		f := float64(n)
		return &f
	}
	return nil
}
