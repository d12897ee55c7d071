package domain

import (
	"net/url"
	"strings"

	"github.com/yosida95/uritemplate/v3"
)

// Method is an MCP method the dispatcher knows how to route.
type Method int

const (
	MethodUnknown Method = iota
	MethodInitialize
	MethodPing
	MethodToolsList
	MethodToolsCall
	MethodResourcesList
	MethodResourceTemplatesList
	MethodResourcesRead
	MethodNotification
)

var methodsByName = map[string]Method{
	"initialize":               MethodInitialize,
	"ping":                     MethodPing,
	"tools/list":               MethodToolsList,
	"tools/call":               MethodToolsCall,
	"resources/list":           MethodResourcesList,
	"resources/templates/list": MethodResourceTemplatesList,
	"resources/read":           MethodResourcesRead,
}

// ParseMethod resolves a wire method name. Any "notifications/..." name maps to
// MethodNotification.
func ParseMethod(name string) Method {
	if m, ok := methodsByName[name]; ok {
		return m
	}
	if strings.HasPrefix(name, "notifications/") {
		return MethodNotification
	}
	return MethodUnknown
}

// ToolName identifies one of the tools the bridge exposes.
type ToolName string

const (
	ToolEvalClojure ToolName = "eval-clojure"
	ToolLoadFile    ToolName = "load-file"
	ToolSetNS       ToolName = "set-ns"
	ToolApropos     ToolName = "apropos"
)

// ToolNames lists every tool in catalog order.
var ToolNames = []ToolName{ToolEvalClojure, ToolLoadFile, ToolSetNS, ToolApropos}

var toolsByName = func() map[string]ToolName {
	m := make(map[string]ToolName, len(ToolNames))
	for _, t := range ToolNames {
		m[string(t)] = t
	}
	return m
}()

// ParseToolName resolves a tool name from a tools/call request.
func ParseToolName(name string) (ToolName, bool) {
	t, ok := toolsByName[name]
	return t, ok
}

// ResourceKind is the shape of a clojure:// resource URI.
type ResourceKind int

const (
	ResourceUnknown ResourceKind = iota
	ResourceCurrentNS
	ResourceNamespaces
	ResourceDoc
	ResourceSource
)

const (
	CurrentNSURI  = "clojure://session/current-ns"
	NamespacesURI = "clojure://session/namespaces"

	docPrefix    = "clojure://doc/"
	sourcePrefix = "clojure://source/"
)

var (
	DocTemplate    = uritemplate.MustNew(docPrefix + "{symbol}")
	SourceTemplate = uritemplate.MustNew(sourcePrefix + "{symbol}")
)

// ResourceRef is a parsed resource URI.
type ResourceRef struct {
	Kind   ResourceKind
	URI    string
	Symbol string
}

// ParseResourceURI classifies uri. Symbols may arrive raw (clojure://doc/clojure.core/map)
// or percent-encoded as produced by template expansion.
func ParseResourceURI(uri string) (ResourceRef, bool) {
	switch uri {
	case CurrentNSURI:
		return ResourceRef{Kind: ResourceCurrentNS, URI: uri}, true
	case NamespacesURI:
		return ResourceRef{Kind: ResourceNamespaces, URI: uri}, true
	}
	for _, p := range []struct {
		prefix string
		kind   ResourceKind
	}{
		{docPrefix, ResourceDoc},
		{sourcePrefix, ResourceSource},
	} {
		rest, ok := strings.CutPrefix(uri, p.prefix)
		if !ok {
			continue
		}
		sym := rest
		if decoded, err := url.PathUnescape(rest); err == nil {
			sym = decoded
		}
		if strings.TrimSpace(sym) == "" {
			return ResourceRef{}, false
		}
		return ResourceRef{Kind: p.kind, URI: uri, Symbol: sym}, true
	}
	return ResourceRef{}, false
}
