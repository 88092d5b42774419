// Package docgen holds the generation-pipeline collaborators: specification
// parsing, content rendering, artifact storage and heuristic quality scoring.
package docgen

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"docgen-service/internal/entity"
)

// ParsedSpec is the format-neutral view the generator renders from.
type ParsedSpec struct {
	Title       string
	Version     string
	Description string
	Format      entity.SpecFormat
	Operations  []Operation
}

// Operation is one documented item: an HTTP endpoint, a GraphQL type or a
// schema property, depending on the source format.
type Operation struct {
	Name        string
	Detail      string
	Description string
}

type Parser struct{}

func NewParser() *Parser {
	return &Parser{}
}

func (p *Parser) Parse(ctx context.Context, format entity.SpecFormat, raw json.RawMessage) (*ParsedSpec, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("empty specification")
	}
	switch format {
	case entity.FormatOpenAPI:
		return parseOpenAPI(raw)
	case entity.FormatJSONSchema:
		return parseJSONSchema(raw)
	case entity.FormatGraphQL:
		return parseGraphQL(raw)
	}
	return nil, fmt.Errorf("unsupported spec format: %s", format)
}

func parseOpenAPI(raw json.RawMessage) (*ParsedSpec, error) {
	var doc struct {
		Info struct {
			Title       string `json:"title"`
			Version     string `json:"version"`
			Description string `json:"description"`
		} `json:"info"`
		Paths map[string]map[string]struct {
			Summary     string `json:"summary"`
			Description string `json:"description"`
		} `json:"paths"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("invalid openapi document: %w", err)
	}
	spec := &ParsedSpec{
		Title:       doc.Info.Title,
		Version:     doc.Info.Version,
		Description: doc.Info.Description,
		Format:      entity.FormatOpenAPI,
	}
	for path, methods := range doc.Paths {
		for method, op := range methods {
			desc := op.Summary
			if desc == "" {
				desc = op.Description
			}
			spec.Operations = append(spec.Operations, Operation{
				Name:        strings.ToUpper(method) + " " + path,
				Detail:      path,
				Description: desc,
			})
		}
	}
	sortOperations(spec.Operations)
	return spec, nil
}

func parseJSONSchema(raw json.RawMessage) (*ParsedSpec, error) {
	var doc struct {
		Title       string `json:"title"`
		Description string `json:"description"`
		Properties  map[string]struct {
			Type        string `json:"type"`
			Description string `json:"description"`
		} `json:"properties"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("invalid json schema: %w", err)
	}
	spec := &ParsedSpec{
		Title:       doc.Title,
		Description: doc.Description,
		Format:      entity.FormatJSONSchema,
	}
	for name, prop := range doc.Properties {
		spec.Operations = append(spec.Operations, Operation{
			Name:        name,
			Detail:      prop.Type,
			Description: prop.Description,
		})
	}
	sortOperations(spec.Operations)
	return spec, nil
}

// parseGraphQL expects the SDL as a JSON string and extracts top-level type
// definitions. A full SDL parser is deliberately out of scope.
func parseGraphQL(raw json.RawMessage) (*ParsedSpec, error) {
	var sdl string
	if err := json.Unmarshal(raw, &sdl); err != nil {
		return nil, fmt.Errorf("graphql specification must be an SDL string: %w", err)
	}
	spec := &ParsedSpec{Format: entity.FormatGraphQL}
	for _, line := range strings.Split(sdl, "\n") {
		line = strings.TrimSpace(line)
		for _, kind := range []string{"type ", "input ", "enum ", "interface "} {
			if rest, ok := strings.CutPrefix(line, kind); ok {
				name, _, _ := strings.Cut(rest, " ")
				name = strings.TrimSuffix(name, "{")
				if name != "" {
					spec.Operations = append(spec.Operations, Operation{
						Name:   name,
						Detail: strings.TrimSpace(kind),
					})
				}
			}
		}
	}
	if len(spec.Operations) == 0 {
		return nil, fmt.Errorf("no type definitions found in graphql sdl")
	}
	return spec, nil
}

func sortOperations(ops []Operation) {
	sort.Slice(ops, func(i, j int) bool { return ops[i].Name < ops[j].Name })
}
