package usecase

import (
	"github.com/invopop/jsonschema"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/ctford/lein-mcp/internal/domain"
)

const (
	mimeText = "text/plain"
	mimeJSON = "application/json"
)

// Tools returns the descriptors of every tool, in catalog order.
func Tools() []mcp.Tool {
	tools := make([]mcp.Tool, 0, len(domain.ToolNames))
	for _, name := range domain.ToolNames {
		tools = append(tools, toolDescriptor(name))
	}
	return tools
}

func toolDescriptor(name domain.ToolName) mcp.Tool {
	var (
		desc   string
		schema mcp.ToolInputSchema
		opts   []mcp.ToolOption
	)
	switch name {
	case domain.ToolEvalClojure:
		desc = "Evaluate Clojure code in the current namespace of the live REPL session"
		schema = reflectInputSchema[domain.EvalArgs]()
	case domain.ToolLoadFile:
		desc = "Load a Clojure source file into the REPL session"
		schema = reflectInputSchema[domain.LoadFileArgs]()
	case domain.ToolSetNS:
		desc = "Require a namespace and make it the current namespace for later evaluations"
		schema = reflectInputSchema[domain.SetNSArgs]()
		opts = append(opts, mcp.WithDestructiveHintAnnotation(false), mcp.WithIdempotentHintAnnotation(true))
	case domain.ToolApropos:
		desc = "Find loaded vars whose names match a query"
		schema = reflectInputSchema[domain.AproposArgs]()
		opts = append(opts,
			mcp.WithReadOnlyHintAnnotation(true),
			mcp.WithDestructiveHintAnnotation(false),
			mcp.WithIdempotentHintAnnotation(true),
		)
	}
	opts = append([]mcp.ToolOption{mcp.WithDescription(desc), mcp.WithOpenWorldHintAnnotation(false)}, opts...)
	tool := mcp.NewTool(string(name), opts...)
	tool.InputSchema = schema
	return tool
}

// reflectInputSchema derives a tool input schema from the json and jsonschema
// tags of A.
func reflectInputSchema[A any]() mcp.ToolInputSchema {
	r := &jsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
	}
	s := r.Reflect(new(A))

	props := make(map[string]any)
	if s != nil && s.Properties != nil {
		for el := s.Properties.Oldest(); el != nil; el = el.Next() {
			props[el.Key] = el.Value
		}
	}
	var required []string
	if s != nil && len(s.Required) > 0 {
		required = append(required, s.Required...)
	}
	return mcp.ToolInputSchema{
		Type:       "object",
		Properties: props,
		Required:   required,
	}
}

// Resources returns the fixed session resources.
func Resources() []mcp.Resource {
	return []mcp.Resource{
		mcp.NewResource(domain.CurrentNSURI, "Current namespace",
			mcp.WithResourceDescription("The namespace evaluations currently run in"),
			mcp.WithMIMEType(mimeText),
		),
		mcp.NewResource(domain.NamespacesURI, "Loaded namespaces",
			mcp.WithResourceDescription("Names of all namespaces loaded in the REPL, as a JSON array"),
			mcp.WithMIMEType(mimeJSON),
		),
	}
}

// ResourceTemplates returns the per-symbol resource templates.
func ResourceTemplates() []mcp.ResourceTemplate {
	return []mcp.ResourceTemplate{
		mcp.NewResourceTemplate(domain.DocTemplate.Raw(), "Symbol documentation",
			mcp.WithTemplateDescription("Docstring of a var resolved from the current namespace"),
			mcp.WithTemplateMIMEType(mimeText),
		),
		mcp.NewResourceTemplate(domain.SourceTemplate.Raw(), "Symbol source",
			mcp.WithTemplateDescription("Source code of a var, when available on the classpath"),
			mcp.WithTemplateMIMEType(mimeText),
		),
	}
}
