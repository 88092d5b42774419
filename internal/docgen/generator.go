package docgen

import (
	"context"
	"fmt"
	"html"
	"strings"

	"docgen-service/internal/entity"
)

// Generator renders documentation content from a parsed specification.
// It stands at the boundary where an external text-generation service would
// plug in; callers only depend on the Generate signature.
type Generator struct{}

func NewGenerator() *Generator {
	return &Generator{}
}

func (g *Generator) Generate(ctx context.Context, spec *ParsedSpec, format entity.OutputFormat, serviceName string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	switch format {
	case entity.OutputMarkdown:
		return renderMarkdown(spec, serviceName), nil
	case entity.OutputHTML:
		return renderHTML(spec, serviceName), nil
	}
	return "", fmt.Errorf("unsupported output format: %s", format)
}

func renderMarkdown(spec *ParsedSpec, serviceName string) string {
	var b strings.Builder
	title := spec.Title
	if title == "" {
		title = serviceName
	}
	fmt.Fprintf(&b, "# %s\n\n", title)
	if spec.Version != "" {
		fmt.Fprintf(&b, "Version: %s\n\n", spec.Version)
	}
	if spec.Description != "" {
		fmt.Fprintf(&b, "%s\n\n", spec.Description)
	}
	fmt.Fprintf(&b, "## Operations\n\n")
	for _, op := range spec.Operations {
		fmt.Fprintf(&b, "### %s\n\n", op.Name)
		if op.Detail != "" {
			fmt.Fprintf(&b, "`%s`\n\n", op.Detail)
		}
		if op.Description != "" {
			fmt.Fprintf(&b, "%s\n\n", op.Description)
		}
	}
	return b.String()
}

func renderHTML(spec *ParsedSpec, serviceName string) string {
	var b strings.Builder
	title := spec.Title
	if title == "" {
		title = serviceName
	}
	fmt.Fprintf(&b, "<html><head><title>%s</title></head><body>\n", html.EscapeString(title))
	fmt.Fprintf(&b, "<h1>%s</h1>\n", html.EscapeString(title))
	if spec.Description != "" {
		fmt.Fprintf(&b, "<p>%s</p>\n", html.EscapeString(spec.Description))
	}
	b.WriteString("<h2>Operations</h2>\n<ul>\n")
	for _, op := range spec.Operations {
		fmt.Fprintf(&b, "<li><strong>%s</strong>", html.EscapeString(op.Name))
		if op.Description != "" {
			fmt.Fprintf(&b, ": %s", html.EscapeString(op.Description))
		}
		b.WriteString("</li>\n")
	}
	b.WriteString("</ul>\n</body></html>\n")
	return b.String()
}
