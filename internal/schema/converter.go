package schema

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/sashabaranov/go-openai"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// ErrConversion is returned when a tool cannot be expressed upstream.
var ErrConversion = errors.New("tool conversion failed")

// Definition is the upstream JSON Schema for one parameter. It marshals
// with keys and properties in declaration order.
type Definition struct {
	Type                 Kind
	Description          string
	Enum                 []string
	Properties           *orderedmap.OrderedMap[string, *Definition]
	Required             []string
	Items                *Definition
	AdditionalProperties *bool
}

// MarshalJSON implements json.Marshaler. Objects always carry
// "properties" and "required", even when empty.
func (d *Definition) MarshalJSON() ([]byte, error) {
	out := orderedmap.New[string, any]()
	out.Set("type", string(d.Type))
	if d.Description != "" {
		out.Set("description", d.Description)
	}
	if len(d.Enum) > 0 {
		out.Set("enum", d.Enum)
	}

	switch d.Type {
	case KindObject:
		props := d.Properties
		if props == nil {
			props = orderedmap.New[string, *Definition]()
		}
		required := d.Required
		if required == nil {
			required = []string{}
		}
		out.Set("properties", props)
		out.Set("required", required)
		if d.AdditionalProperties != nil {
			out.Set("additionalProperties", *d.AdditionalProperties)
		}
	case KindArray:
		if d.Items != nil {
			out.Set("items", d.Items)
		}
	}

	return json.Marshal(out)
}

// Converter maps tools to the upstream tool format. It assumes Validator
// already ran and fills in missing pieces rather than rejecting them.
type Converter struct {
	maxDepth int
}

// NewConverter creates a Converter bounded by maxDepth.
func NewConverter(maxDepth int) *Converter {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	return &Converter{maxDepth: maxDepth}
}

// ConvertAll converts every tool, stopping at the first failure.
func (c *Converter) ConvertAll(tools []Tool) ([]openai.Tool, error) {
	if len(tools) == 0 {
		return nil, nil
	}
	out := make([]openai.Tool, 0, len(tools))
	for _, t := range tools {
		converted, err := c.Convert(t)
		if err != nil {
			return nil, err
		}
		out = append(out, converted)
	}
	return out, nil
}

// Convert maps one tool to its upstream definition.
func (c *Converter) Convert(t Tool) (openai.Tool, error) {
	params, err := c.Parameters(t)
	if err != nil {
		return openai.Tool{}, fmt.Errorf("%w: tool %q: %w", ErrConversion, t.Name, err)
	}

	return openai.Tool{
		Type: openai.ToolTypeFunction,
		Function: &openai.FunctionDefinition{
			Name:        t.Name,
			Description: t.Description,
			Strict:      t.Strict,
			Parameters:  params,
		},
	}, nil
}

// Parameters returns the root parameters definition of t. A tool without
// parameters gets an empty object; a root without a type is an object.
func (c *Converter) Parameters(t Tool) (*Definition, error) {
	root := t.Parameters
	if root == nil {
		def := &Definition{Type: KindObject}
		if t.Strict {
			closed := false
			def.AdditionalProperties = &closed
		}
		return def, nil
	}

	if root.Type == "" {
		rootCopy := *root
		rootCopy.Type = string(KindObject)
		root = &rootCopy
	}

	prop, err := Build("parameters", root, NewDepth(c.maxDepth))
	if err != nil {
		return nil, err
	}
	return definitionOf(prop), nil
}

// definitionOf mirrors a closed property tree into upstream definitions.
// Build has already enforced the depth limit.
func definitionOf(p Property) *Definition {
	meta := p.Meta()
	def := &Definition{
		Type:        p.Kind(),
		Description: meta.Description,
		Enum:        meta.Enum,
	}

	switch v := p.(type) {
	case ArrayProperty:
		if v.Items != nil {
			def.Items = definitionOf(v.Items)
		}
	case ObjectProperty:
		def.Properties = orderedmap.New[string, *Definition]()
		if v.Properties != nil {
			for pair := v.Properties.Oldest(); pair != nil; pair = pair.Next() {
				def.Properties.Set(pair.Key, definitionOf(pair.Value))
			}
		}
		def.Required = v.Required
		def.AdditionalProperties = v.AdditionalProperties
	}

	return def
}
