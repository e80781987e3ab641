// Package schema validates caller-supplied function-calling tools and
// converts them into the upstream chat-completion tool format.
//
// Tools arrive as JSON and decode into the wire form (Tool, Node), which
// keeps whatever the caller sent so that Validator can report every problem.
// Build turns a Node into the closed Property sum type, where each kind
// carries only its legal fields; Converter emits the upstream definition
// from that closed form.
package schema

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// DefaultMaxDepth bounds how far below the root parameters object a schema
// may nest.
const DefaultMaxDepth = 10

// Kind is one of the six JSON types a tool parameter may declare.
type Kind string

const (
	KindString  Kind = "string"
	KindNumber  Kind = "number"
	KindInteger Kind = "integer"
	KindBoolean Kind = "boolean"
	KindArray   Kind = "array"
	KindObject  Kind = "object"
)

var kinds = []Kind{KindString, KindNumber, KindInteger, KindBoolean, KindArray, KindObject}

// Valid reports whether k is one of the supported kinds.
func (k Kind) Valid() bool {
	for _, known := range kinds {
		if k == known {
			return true
		}
	}
	return false
}

func allowedKinds() string {
	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = string(k)
	}
	return strings.Join(names, ", ")
}

// Properties is an insertion-ordered name -> node mapping. Order matters:
// the upstream model emits structured output in schema key order.
type Properties = orderedmap.OrderedMap[string, *Node]

// Node is one parameter schema exactly as the caller sent it.
type Node struct {
	Type                 string      `json:"type,omitempty"`
	Description          string      `json:"description,omitempty"`
	Enum                 []string    `json:"enum,omitempty"`
	Properties           *Properties `json:"properties,omitempty"`
	Required             []string    `json:"required,omitempty"`
	Items                *Node       `json:"items,omitempty"`
	AdditionalProperties *bool       `json:"additionalProperties,omitempty"`
}

// propertyNames returns the declared property names in order.
func (n *Node) propertyNames() []string {
	if n.Properties == nil {
		return nil
	}
	names := make([]string, 0, n.Properties.Len())
	for pair := n.Properties.Oldest(); pair != nil; pair = pair.Next() {
		names = append(names, pair.Key)
	}
	return names
}

func (n *Node) hasProperty(name string) bool {
	if n.Properties == nil {
		return false
	}
	_, ok := n.Properties.Get(name)
	return ok
}

// Tool is a callable function declared by the caller.
type Tool struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Parameters  *Node  `json:"parameters,omitempty"`
	Strict      bool   `json:"strict,omitempty"`
}

// ErrUnsupportedToolType is returned when a tool envelope names a type
// other than "function".
var ErrUnsupportedToolType = errors.New("unsupported tool type")

// UnmarshalJSON accepts both the flat form {"name":...,"parameters":...}
// and the OpenAI envelope {"type":"function","function":{...}}.
func (t *Tool) UnmarshalJSON(data []byte) error {
	type plain Tool

	var env struct {
		Type     string `json:"type"`
		Function *plain `json:"function"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	if env.Type != "" && env.Type != "function" {
		return fmt.Errorf("%w: %q", ErrUnsupportedToolType, env.Type)
	}
	if env.Function != nil {
		*t = Tool(*env.Function)
		return nil
	}

	var flat plain
	if err := json.Unmarshal(data, &flat); err != nil {
		return err
	}
	*t = Tool(flat)
	return nil
}
