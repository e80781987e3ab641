package schema

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

const getWeather = `{
	"name": "get_weather",
	"description": "Get the current weather for a location",
	"parameters": {
		"properties": {"location": {"type": "string"}},
		"required": ["location"]
	}
}`

func decodeTool(t *testing.T, src string) Tool {
	t.Helper()
	var tool Tool
	if err := json.Unmarshal([]byte(src), &tool); err != nil {
		t.Fatalf("failed to decode tool: %v", err)
	}
	return tool
}

// nestedParams returns an object schema whose string leaf sits n levels
// below the root.
func nestedParams(n int) string {
	node := `{"type":"string"}`
	for i := 0; i < n; i++ {
		node = `{"type":"object","properties":{"child":` + node + `}}`
	}
	return node
}

// --- Tool decoding ---

func TestTool_DecodesEnvelope(t *testing.T) {
	tool := decodeTool(t, `{"type":"function","function":`+getWeather+`}`)
	if tool.Name != "get_weather" || tool.Parameters == nil {
		t.Fatalf("unexpected tool %+v", tool)
	}
}

func TestTool_RejectsNonFunctionEnvelope(t *testing.T) {
	var tool Tool
	err := json.Unmarshal([]byte(`{"type":"code_interpreter"}`), &tool)
	if !errors.Is(err, ErrUnsupportedToolType) {
		t.Errorf("expected ErrUnsupportedToolType, got %v", err)
	}
}

func TestNode_PreservesPropertyOrder(t *testing.T) {
	tool := decodeTool(t, `{"name":"t","description":"d","parameters":{"type":"object","properties":{"zeta":{"type":"string"},"alpha":{"type":"string"},"mid":{"type":"number"}}}}`)
	got := strings.Join(tool.Parameters.propertyNames(), ",")
	if got != "zeta,alpha,mid" {
		t.Errorf("expected declaration order, got %s", got)
	}
}

// --- Validator ---

func TestValidator_GetWeatherIsValid(t *testing.T) {
	errs := NewValidator(0).Validate(decodeTool(t, getWeather))
	if len(errs) != 0 {
		t.Errorf("expected no errors, got %v", errs)
	}
}

func TestValidator_StrictWithoutAdditionalPropertiesFalse(t *testing.T) {
	tool := decodeTool(t, getWeather)
	tool.Strict = true

	errs := NewValidator(0).Validate(tool)
	if len(errs) != 1 {
		t.Fatalf("expected exactly one error, got %v", errs)
	}
	if !strings.Contains(errs[0], "additionalProperties") {
		t.Errorf("expected error about additionalProperties, got %s", errs[0])
	}
}

func TestValidator_StrictRequiresEveryProperty(t *testing.T) {
	tool := decodeTool(t, `{
		"name": "book", "description": "Book a table", "strict": true,
		"parameters": {
			"type": "object", "additionalProperties": false,
			"properties": {
				"when": {"type": "string"},
				"party": {
					"type": "object", "additionalProperties": false,
					"properties": {"size": {"type": "integer"}, "notes": {"type": "string"}},
					"required": ["size"]
				}
			},
			"required": ["when", "party"]
		}
	}`)

	errs := NewValidator(0).Validate(tool)
	if len(errs) != 1 {
		t.Fatalf("expected one error, got %v", errs)
	}
	if !strings.Contains(errs[0], "parameters.party") || !strings.Contains(errs[0], "notes") {
		t.Errorf("expected nested path and missing field, got %s", errs[0])
	}
}

func TestValidator_StrictPassesWhenEveryLevelIsClosed(t *testing.T) {
	tool := decodeTool(t, `{
		"name": "book", "description": "Book a table", "strict": true,
		"parameters": {
			"type": "object", "additionalProperties": false,
			"properties": {
				"guests": {
					"type": "array",
					"items": {
						"type": "object", "additionalProperties": false,
						"properties": {"name": {"type": "string"}},
						"required": ["name"]
					}
				}
			},
			"required": ["guests"]
		}
	}`)

	if errs := NewValidator(0).Validate(tool); len(errs) != 0 {
		t.Errorf("expected no errors, got %v", errs)
	}
}

func TestValidator_StrictChecksArrayItemObjects(t *testing.T) {
	tool := decodeTool(t, `{
		"name": "book", "description": "Book", "strict": true,
		"parameters": {
			"type": "object", "additionalProperties": false,
			"properties": {"guests": {"type": "array", "items": {"type": "object", "properties": {"name": {"type": "string"}}, "required": ["name"]}}},
			"required": ["guests"]
		}
	}`)

	errs := NewValidator(0).Validate(tool)
	if len(errs) != 1 || !strings.Contains(errs[0], "parameters.guests.items") {
		t.Errorf("expected one error at parameters.guests.items, got %v", errs)
	}
}

func TestValidator_RequiredNotInProperties(t *testing.T) {
	tool := decodeTool(t, `{
		"name": "search", "description": "Search",
		"parameters": {
			"type": "object",
			"properties": {
				"filter": {
					"type": "object",
					"properties": {"from": {"type": "string"}, "to": {"type": "string"}},
					"required": ["since"]
				}
			}
		}
	}`)

	errs := NewValidator(0).Validate(tool)
	if len(errs) != 1 {
		t.Fatalf("expected one error, got %v", errs)
	}
	want := `tool "search": required field "since" at parameters.filter not found in properties (available: from, to)`
	if errs[0] != want {
		t.Errorf("expected\n  %s\ngot\n  %s", want, errs[0])
	}
}

func TestValidator_DepthLimit(t *testing.T) {
	v := NewValidator(10)

	ok := decodeTool(t, `{"name":"deep","description":"d","parameters":`+nestedParams(10)+`}`)
	if errs := v.Validate(ok); len(errs) != 0 {
		t.Errorf("depth 10 should be accepted, got %v", errs)
	}

	tooDeep := decodeTool(t, `{"name":"deep","description":"d","parameters":`+nestedParams(11)+`}`)
	errs := v.Validate(tooDeep)
	if len(errs) != 1 || !strings.Contains(errs[0], "exceeds maximum nesting depth of 10") {
		t.Errorf("expected depth error, got %v", errs)
	}
}

func TestValidator_DepthLimitSurvivesHugeInput(t *testing.T) {
	tool := decodeTool(t, `{"name":"deep","description":"d","parameters":`+nestedParams(500)+`}`)
	if errs := NewValidator(5).Validate(tool); len(errs) == 0 {
		t.Error("expected depth error")
	}
}

func TestValidator_TypeRules(t *testing.T) {
	tool := decodeTool(t, `{
		"name": "bad", "description": "d",
		"parameters": {
			"type": "object",
			"properties": {
				"a": {"type": "date"},
				"b": {"type": "string", "properties": {"x": {"type": "string"}}},
				"c": {"type": "number", "items": {"type": "string"}},
				"d": {"type": "integer", "enum": ["1", "2"]},
				"e": {"type": "string", "enum": ["x", "y"]}
			}
		}
	}`)

	errs := NewValidator(0).Validate(tool)
	joined := strings.Join(errs, "\n")
	for _, want := range []string{
		`parameters.a has invalid type "date"`,
		`parameters.b.properties is only allowed on type "object"`,
		`parameters.c.items is only allowed on type "array"`,
		`parameters.d.enum is only allowed on type "string"`,
	} {
		if !strings.Contains(joined, want) {
			t.Errorf("expected %q in:\n%s", want, joined)
		}
	}
	if strings.Contains(joined, "parameters.e") {
		t.Errorf("string enum should be accepted, got:\n%s", joined)
	}
}

func TestValidator_NameAndDescription(t *testing.T) {
	v := NewValidator(0)

	tests := []struct {
		name string
		tool Tool
		want string
	}{
		{"missing name", Tool{Description: "d"}, "tool name is required"},
		{"bad characters", Tool{Name: "get weather", Description: "d"}, "name must match"},
		{"too long", Tool{Name: strings.Repeat("a", 65), Description: "d"}, "at most 64 characters"},
		{"missing description", Tool{Name: "ok"}, `tool "ok": description is required`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := v.Validate(tt.tool)
			if len(errs) != 1 || !strings.Contains(errs[0], tt.want) {
				t.Errorf("expected one error containing %q, got %v", tt.want, errs)
			}
		})
	}
}

func TestValidator_NoParametersIsValid(t *testing.T) {
	if errs := NewValidator(0).Validate(Tool{Name: "ping", Description: "Ping"}); len(errs) != 0 {
		t.Errorf("expected no errors, got %v", errs)
	}
}

func TestValidator_RootRules(t *testing.T) {
	tool := decodeTool(t, `{"name":"r","description":"d","parameters":{"type":"array","items":{"type":"string"}}}`)
	joined := strings.Join(NewValidator(0).Validate(tool), "\n")
	for _, want := range []string{`parameters must be of type "object"`, "at least one property", "parameters.items"} {
		if !strings.Contains(joined, want) {
			t.Errorf("expected %q in:\n%s", want, joined)
		}
	}
}

func TestValidator_ValidateAllConcatenates(t *testing.T) {
	errs := NewValidator(0).ValidateAll([]Tool{{Name: "a"}, decodeTool(t, getWeather), {Name: "b"}})
	if len(errs) != 2 {
		t.Errorf("expected one error per broken tool, got %v", errs)
	}
}

// --- Build / Depth ---

func TestDepth_Descend(t *testing.T) {
	d := NewDepth(2)
	d1, err := d.Descend()
	if err != nil || d1.Level() != 1 {
		t.Fatalf("unexpected %v %d", err, d1.Level())
	}
	d2, err := d1.Descend()
	if err != nil || d2.Level() != 2 {
		t.Fatalf("unexpected %v %d", err, d2.Level())
	}
	if _, err := d2.Descend(); !errors.Is(err, ErrDepthExceeded) {
		t.Errorf("expected ErrDepthExceeded, got %v", err)
	}
	if NewDepth(0).Limit() != DefaultMaxDepth {
		t.Error("non-positive limit should use the default")
	}
}

func TestBuild_ClosedVariants(t *testing.T) {
	tool := decodeTool(t, `{"name":"t","description":"d","parameters":{"type":"object","properties":{
		"s": {"type": "string", "enum": ["a","b"], "properties": {"ignored": {"type": "string"}}},
		"list": {"type": "array", "items": {"type": "integer"}}
	}}}`)

	prop, err := Build("parameters", tool.Parameters, NewDepth(0))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	obj, ok := prop.(ObjectProperty)
	if !ok {
		t.Fatalf("expected ObjectProperty, got %T", prop)
	}

	s, _ := obj.Properties.Get("s")
	str, ok := s.(StringProperty)
	if !ok || len(str.Enum) != 2 {
		t.Errorf("expected StringProperty with enum, got %#v", s)
	}

	l, _ := obj.Properties.Get("list")
	arr, ok := l.(ArrayProperty)
	if !ok || arr.Items.Kind() != KindInteger {
		t.Errorf("expected array of integers, got %#v", l)
	}
}

func TestBuild_UnknownType(t *testing.T) {
	_, err := Build("parameters", &Node{Type: "tuple"}, NewDepth(0))
	if !errors.Is(err, ErrInvalidType) {
		t.Errorf("expected ErrInvalidType, got %v", err)
	}
}

// --- Converter ---

func TestConverter_GetWeather(t *testing.T) {
	out, err := NewConverter(0).Convert(decodeTool(t, getWeather))
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	if out.Type != "function" || out.Function.Name != "get_weather" {
		t.Fatalf("unexpected tool %+v", out)
	}

	raw, err := json.Marshal(out.Function.Parameters)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"type":"object","properties":{"location":{"type":"string"}},"required":["location"]}`
	if string(raw) != want {
		t.Errorf("expected\n  %s\ngot\n  %s", want, raw)
	}
}

func TestConverter_PreservesNestedStructure(t *testing.T) {
	tool := decodeTool(t, `{
		"name": "plan", "description": "Plan a trip", "strict": true,
		"parameters": {
			"type": "object", "additionalProperties": false,
			"properties": {
				"stops": {
					"type": "array", "description": "Ordered stops",
					"items": {
						"type": "object", "additionalProperties": false,
						"properties": {
							"city": {"type": "string"},
							"mode": {"type": "string", "enum": ["car", "rail"]}
						},
						"required": ["city", "mode"]
					}
				},
				"budget": {"type": "number", "description": "USD"}
			},
			"required": ["stops", "budget"]
		}
	}`)

	out, err := NewConverter(0).Convert(tool)
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	if !out.Function.Strict {
		t.Error("strict flag must be carried")
	}

	raw, _ := json.Marshal(out.Function.Parameters)
	want := `{"type":"object","properties":{` +
		`"stops":{"type":"array","description":"Ordered stops","items":{"type":"object","properties":{"city":{"type":"string"},"mode":{"type":"string","enum":["car","rail"]}},"required":["city","mode"],"additionalProperties":false}},` +
		`"budget":{"type":"number","description":"USD"}},` +
		`"required":["stops","budget"],"additionalProperties":false}`
	if string(raw) != want {
		t.Errorf("expected\n  %s\ngot\n  %s", want, raw)
	}
}

func TestConverter_DefaultsForMissingParameters(t *testing.T) {
	out, err := NewConverter(0).Convert(Tool{Name: "ping", Description: "Ping", Strict: true})
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	raw, _ := json.Marshal(out.Function.Parameters)
	want := `{"type":"object","properties":{},"required":[],"additionalProperties":false}`
	if string(raw) != want {
		t.Errorf("expected %s, got %s", want, raw)
	}
}

func TestConverter_Errors(t *testing.T) {
	c := NewConverter(3)

	_, err := c.Convert(decodeTool(t, `{"name":"x","description":"d","parameters":{"type":"object","properties":{"a":{"type":"date"}}}}`))
	if !errors.Is(err, ErrConversion) || !errors.Is(err, ErrInvalidType) {
		t.Errorf("expected conversion error wrapping ErrInvalidType, got %v", err)
	}

	_, err = c.Convert(decodeTool(t, `{"name":"x","description":"d","parameters":`+nestedParams(4)+`}`))
	if !errors.Is(err, ErrDepthExceeded) {
		t.Errorf("expected ErrDepthExceeded, got %v", err)
	}

	tools, err := c.ConvertAll(nil)
	if err != nil || tools != nil {
		t.Errorf("no tools should convert to nil, got %v %v", tools, err)
	}
}
