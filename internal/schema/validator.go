package schema

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

const maxToolNameLength = 64

var toolNamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Validator checks declared tools against the function-calling subset of
// JSON Schema, including the stricter rules of strict mode.
type Validator struct {
	maxDepth int
}

// NewValidator creates a Validator bounded by maxDepth.
func NewValidator(maxDepth int) *Validator {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	return &Validator{maxDepth: maxDepth}
}

// ValidateAll validates every tool independently and concatenates the results.
func (v *Validator) ValidateAll(tools []Tool) []string {
	var errs []string
	for _, t := range tools {
		errs = append(errs, v.Validate(t)...)
	}
	return errs
}

// Validate returns every violation found in t. An empty result means the
// tool may be sent upstream.
func (v *Validator) Validate(t Tool) []string {
	var errs []string

	label := t.Name
	switch {
	case strings.TrimSpace(t.Name) == "":
		errs = append(errs, "tool name is required")
		label = "<unnamed>"
	case len(t.Name) > maxToolNameLength:
		errs = append(errs, fmt.Sprintf("tool %q: name must be at most %d characters", t.Name, maxToolNameLength))
	case !toolNamePattern.MatchString(t.Name):
		errs = append(errs, fmt.Sprintf("tool %q: name must match %s", t.Name, toolNamePattern.String()))
	}

	if strings.TrimSpace(t.Description) == "" {
		errs = append(errs, fmt.Sprintf("tool %q: description is required", label))
	}

	root := t.Parameters
	if root == nil {
		return errs
	}

	w := walk{tool: label, strict: t.Strict, limit: v.maxDepth}
	const path = "parameters"

	if root.Type != "" && Kind(root.Type) != KindObject {
		errs = append(errs, fmt.Sprintf("tool %q: %s must be of type %q, got %q", label, path, KindObject, root.Type))
	}
	if root.Properties == nil || root.Properties.Len() == 0 {
		errs = append(errs, fmt.Sprintf("tool %q: %s.properties must declare at least one property", label, path))
	}
	if root.Items != nil {
		errs = append(errs, fmt.Sprintf("tool %q: %s.items is only allowed on type %q", label, path, KindArray))
	}
	if len(root.Enum) > 0 {
		errs = append(errs, fmt.Sprintf("tool %q: %s.enum is only allowed on type %q", label, path, KindString))
	}

	errs = append(errs, w.object(path, root, NewDepth(v.maxDepth))...)
	return errs
}

// walk carries the per-tool context of one validation pass.
type walk struct {
	tool   string
	strict bool
	limit  int
}

func (w walk) errorf(format string, args ...any) string {
	return fmt.Sprintf("tool %q: ", w.tool) + fmt.Sprintf(format, args...)
}

// node validates a non-root parameter schema found at path.
func (w walk) node(path string, n *Node, d Depth) []string {
	if n == nil {
		return []string{w.errorf("%s has no schema", path)}
	}

	var errs []string
	kind := Kind(n.Type)

	if !kind.Valid() {
		errs = append(errs, w.errorf("%s has invalid type %q (allowed: %s)", path, n.Type, allowedKinds()))
	}
	if kind != KindObject {
		if n.Properties != nil {
			errs = append(errs, w.errorf("%s.properties is only allowed on type %q", path, KindObject))
		}
		if len(n.Required) > 0 {
			errs = append(errs, w.errorf("%s.required is only allowed on type %q", path, KindObject))
		}
	}
	if n.Items != nil && kind != KindArray {
		errs = append(errs, w.errorf("%s.items is only allowed on type %q", path, KindArray))
	}
	if len(n.Enum) > 0 && kind != KindString {
		errs = append(errs, w.errorf("%s.enum is only allowed on type %q", path, KindString))
	}

	if kind == KindObject {
		errs = append(errs, w.object(path, n, d)...)
	} else if n.Properties != nil {
		errs = append(errs, w.children(path, n, d)...)
	}

	if n.Items != nil {
		child, err := d.Descend()
		if err != nil {
			return append(errs, w.depthError(path+".items", err))
		}
		errs = append(errs, w.node(path+".items", n.Items, child)...)
	}

	return errs
}

// object applies the object-level rules at path and recurses into its
// properties.
func (w walk) object(path string, n *Node, d Depth) []string {
	var errs []string
	names := n.propertyNames()

	available := "none"
	if len(names) > 0 {
		available = strings.Join(names, ", ")
	}
	for _, req := range n.Required {
		if !n.hasProperty(req) {
			errs = append(errs, w.errorf("required field %q at %s not found in properties (available: %s)", req, path, available))
		}
	}

	if w.strict {
		if n.AdditionalProperties == nil || *n.AdditionalProperties {
			errs = append(errs, w.errorf("strict mode requires \"additionalProperties\": false at %s", path))
		}

		required := make(map[string]bool, len(n.Required))
		for _, r := range n.Required {
			required[r] = true
		}
		var missing []string
		for _, name := range names {
			if !required[name] {
				missing = append(missing, name)
			}
		}
		if len(missing) > 0 {
			errs = append(errs, w.errorf("strict mode requires every property at %s to be required; missing from required: %s", path, strings.Join(missing, ", ")))
		}
	}

	return append(errs, w.children(path, n, d)...)
}

func (w walk) children(path string, n *Node, d Depth) []string {
	if n.Properties == nil || n.Properties.Len() == 0 {
		return nil
	}

	child, err := d.Descend()
	if err != nil {
		return []string{w.depthError(path, err)}
	}

	var errs []string
	for pair := n.Properties.Oldest(); pair != nil; pair = pair.Next() {
		errs = append(errs, w.node(path+"."+pair.Key, pair.Value, child)...)
	}
	return errs
}

func (w walk) depthError(path string, err error) string {
	if errors.Is(err, ErrDepthExceeded) {
		return w.errorf("schema at %s exceeds maximum nesting depth of %d", path, w.limit)
	}
	return w.errorf("%s: %v", path, err)
}
