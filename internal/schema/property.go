package schema

import (
	"errors"
	"fmt"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

var (
	// ErrDepthExceeded is returned when a schema nests deeper than allowed.
	ErrDepthExceeded = errors.New("schema exceeds maximum nesting depth")

	// ErrInvalidType is returned when a node declares an unknown type.
	ErrInvalidType = errors.New("invalid schema type")
)

// Depth is the position of a traversal below the root schema together with
// the limit it may not pass. Every recursive walk takes a Depth and must
// call Descend before visiting a child.
type Depth struct {
	level int
	limit int
}

// NewDepth returns the root position for a walk bounded by limit.
// A non-positive limit falls back to DefaultMaxDepth.
func NewDepth(limit int) Depth {
	if limit <= 0 {
		limit = DefaultMaxDepth
	}
	return Depth{limit: limit}
}

// Descend returns the child position, or ErrDepthExceeded past the limit.
func (d Depth) Descend() (Depth, error) {
	if d.level+1 > d.limit {
		return d, fmt.Errorf("%w of %d", ErrDepthExceeded, d.limit)
	}
	return Depth{level: d.level + 1, limit: d.limit}, nil
}

// Level is the number of Descend calls since the root.
func (d Depth) Level() int { return d.level }

// Limit is the deepest level a walk may reach.
func (d Depth) Limit() int { return d.limit }

// Annotations are the fields every kind may carry.
type Annotations struct {
	Description string
	Enum        []string
}

// Property is the closed set of parameter schemas. The concrete types are
// StringProperty, NumberProperty, IntegerProperty, BooleanProperty,
// ArrayProperty and ObjectProperty.
type Property interface {
	Kind() Kind
	Meta() Annotations
	sealed()
}

type StringProperty struct{ Annotations }
type NumberProperty struct{ Annotations }
type IntegerProperty struct{ Annotations }
type BooleanProperty struct{ Annotations }

// ArrayProperty describes a list. Items is nil when the caller left the
// element type open.
type ArrayProperty struct {
	Annotations
	Items Property
}

// ObjectProperty describes a record with ordered named fields.
type ObjectProperty struct {
	Annotations
	Properties           *orderedmap.OrderedMap[string, Property]
	Required             []string
	AdditionalProperties *bool
}

func (StringProperty) Kind() Kind  { return KindString }
func (NumberProperty) Kind() Kind  { return KindNumber }
func (IntegerProperty) Kind() Kind { return KindInteger }
func (BooleanProperty) Kind() Kind { return KindBoolean }
func (ArrayProperty) Kind() Kind   { return KindArray }
func (ObjectProperty) Kind() Kind  { return KindObject }

func (p StringProperty) Meta() Annotations  { return p.Annotations }
func (p NumberProperty) Meta() Annotations  { return p.Annotations }
func (p IntegerProperty) Meta() Annotations { return p.Annotations }
func (p BooleanProperty) Meta() Annotations { return p.Annotations }
func (p ArrayProperty) Meta() Annotations   { return p.Annotations }
func (p ObjectProperty) Meta() Annotations  { return p.Annotations }

func (StringProperty) sealed()  {}
func (NumberProperty) sealed()  {}
func (IntegerProperty) sealed() {}
func (BooleanProperty) sealed() {}
func (ArrayProperty) sealed()   {}
func (ObjectProperty) sealed()  {}

// Build constructs the closed form of n found at path. Fields that are
// illegal for the node's kind are dropped; an unknown kind or a walk past
// the depth limit is an error.
func Build(path string, n *Node, d Depth) (Property, error) {
	meta := Annotations{Description: n.Description, Enum: n.Enum}

	switch Kind(n.Type) {
	case KindString:
		return StringProperty{meta}, nil
	case KindNumber:
		return NumberProperty{meta}, nil
	case KindInteger:
		return IntegerProperty{meta}, nil
	case KindBoolean:
		return BooleanProperty{meta}, nil
	case KindArray:
		arr := ArrayProperty{Annotations: meta}
		if n.Items != nil {
			child, err := d.Descend()
			if err != nil {
				return nil, fmt.Errorf("%s.items: %w", path, err)
			}
			items, err := Build(path+".items", n.Items, child)
			if err != nil {
				return nil, err
			}
			arr.Items = items
		}
		return arr, nil
	case KindObject:
		obj := ObjectProperty{
			Annotations:          meta,
			Properties:           orderedmap.New[string, Property](),
			Required:             append([]string{}, n.Required...),
			AdditionalProperties: n.AdditionalProperties,
		}
		if n.Properties == nil || n.Properties.Len() == 0 {
			return obj, nil
		}
		child, err := d.Descend()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		for pair := n.Properties.Oldest(); pair != nil; pair = pair.Next() {
			if pair.Value == nil {
				return nil, fmt.Errorf("%s.%s: %w: missing schema", path, pair.Key, ErrInvalidType)
			}
			prop, err := Build(path+"."+pair.Key, pair.Value, child)
			if err != nil {
				return nil, err
			}
			obj.Properties.Set(pair.Key, prop)
		}
		return obj, nil
	default:
		return nil, fmt.Errorf("%s: %w %q", path, ErrInvalidType, n.Type)
	}
}
