package server

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"sync"

	"github.com/viant/mcpserver/jsonrpc"
	"github.com/xeipuuv/gojsonschema"
)

// JSONSchema is the subset of JSON Schema used to describe and validate tool
// arguments: object/array/string/number/integer/boolean types, required
// properties, enum, numeric bounds and string length bounds.
type JSONSchema struct {
	Type                 string                 `json:"type,omitempty"`
	Description          string                 `json:"description,omitempty"`
	Properties           map[string]*JSONSchema `json:"properties,omitempty"`
	Required             []string               `json:"required,omitempty"`
	Items                *JSONSchema            `json:"items,omitempty"`
	Enum                 []any                  `json:"enum,omitempty"`
	Minimum              *float64               `json:"minimum,omitempty"`
	Maximum              *float64               `json:"maximum,omitempty"`
	MinLength            *int                   `json:"minLength,omitempty"`
	MaxLength            *int                   `json:"maxLength,omitempty"`
	AdditionalProperties *bool                  `json:"additionalProperties,omitempty"`
	Default              any                    `json:"default,omitempty"`

	compileOnce sync.Once
	compiled    *gojsonschema.Schema
	compileErr  error
}

// ValidateJSON validates raw JSON arguments against the schema. Violations
// surface as InvalidParams errors, the first one as the message and the full
// list as data, each naming the failing path.
func (s *JSONSchema) ValidateJSON(raw json.RawMessage) *jsonrpc.Error {
	if len(raw) == 0 {
		raw = json.RawMessage(`{}`)
	}
	schema, err := s.schema()
	if err != nil {
		return jsonrpc.NewInvalidParamsError(fmt.Sprintf("invalid argument schema: %v", err), nil)
	}
	outcome, err := schema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return jsonrpc.NewInvalidParamsError("arguments are not valid JSON", err.Error())
	}
	if outcome.Valid() {
		return nil
	}
	violations := make([]string, 0, len(outcome.Errors()))
	for _, violation := range outcome.Errors() {
		violations = append(violations, fmt.Sprintf("%s: %s", violationPath(violation.Field()), violation.Description()))
	}
	return jsonrpc.NewInvalidParamsError(violations[0], violations)
}

// schema compiles the declaration once; compiled schemas are reused across
// calls, so a registered tool pays the compilation cost on first invocation.
func (s *JSONSchema) schema() (*gojsonschema.Schema, error) {
	s.compileOnce.Do(func() {
		data, err := json.Marshal(s)
		if err != nil {
			s.compileErr = err
			return
		}
		s.compiled, s.compileErr = gojsonschema.NewSchema(gojsonschema.NewBytesLoader(data))
	})
	return s.compiled, s.compileErr
}

func violationPath(field string) string {
	if field == gojsonschema.STRING_CONTEXT_ROOT {
		return "$"
	}
	return "$." + field
}

// SchemaFor derives an object schema from a struct type using json field
// tags; fields without omitempty are required. The tags description, enum
// (pipe separated), minimum, maximum, minLength and maxLength refine
// individual properties.
func SchemaFor(template any) (*JSONSchema, error) {
	rType := reflect.TypeOf(template)
	for rType.Kind() == reflect.Ptr {
		rType = rType.Elem()
	}
	if rType.Kind() != reflect.Struct {
		return nil, fmt.Errorf("schema template must be a struct, got %s", rType.Kind())
	}
	return structSchema(rType)
}

func structSchema(rType reflect.Type) (*JSONSchema, error) {
	noExtra := false
	ret := &JSONSchema{
		Type:                 "object",
		Properties:           map[string]*JSONSchema{},
		AdditionalProperties: &noExtra,
	}
	for i := 0; i < rType.NumField(); i++ {
		field := rType.Field(i)
		if !field.IsExported() {
			continue
		}
		name, omitEmpty := jsonName(field)
		if name == "-" {
			continue
		}
		property, err := fieldSchema(field.Type)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", field.Name, err)
		}
		applyFieldTags(property, field)
		ret.Properties[name] = property
		if !omitEmpty {
			ret.Required = append(ret.Required, name)
		}
	}
	return ret, nil
}

func fieldSchema(rType reflect.Type) (*JSONSchema, error) {
	switch rType.Kind() {
	case reflect.Ptr:
		return fieldSchema(rType.Elem())
	case reflect.String:
		return &JSONSchema{Type: "string"}, nil
	case reflect.Bool:
		return &JSONSchema{Type: "boolean"}, nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return &JSONSchema{Type: "integer"}, nil
	case reflect.Float32, reflect.Float64:
		return &JSONSchema{Type: "number"}, nil
	case reflect.Slice, reflect.Array:
		items, err := fieldSchema(rType.Elem())
		if err != nil {
			return nil, err
		}
		return &JSONSchema{Type: "array", Items: items}, nil
	case reflect.Map:
		return &JSONSchema{Type: "object"}, nil
	case reflect.Struct:
		return structSchema(rType)
	case reflect.Interface:
		return &JSONSchema{}, nil
	}
	return nil, fmt.Errorf("unsupported kind %s", rType.Kind())
}

func jsonName(field reflect.StructField) (string, bool) {
	tag := field.Tag.Get("json")
	if tag == "" {
		return field.Name, false
	}
	parts := strings.Split(tag, ",")
	name := parts[0]
	if name == "" {
		name = field.Name
	}
	omitEmpty := false
	for _, option := range parts[1:] {
		if option == "omitempty" {
			omitEmpty = true
		}
	}
	return name, omitEmpty
}

func applyFieldTags(property *JSONSchema, field reflect.StructField) {
	if description := field.Tag.Get("description"); description != "" {
		property.Description = description
	}
	if enum := field.Tag.Get("enum"); enum != "" {
		for _, item := range strings.Split(enum, "|") {
			property.Enum = append(property.Enum, item)
		}
	}
	if value, ok := floatTag(field, "minimum"); ok {
		property.Minimum = &value
	}
	if value, ok := floatTag(field, "maximum"); ok {
		property.Maximum = &value
	}
	if value, ok := intTag(field, "minLength"); ok {
		property.MinLength = &value
	}
	if value, ok := intTag(field, "maxLength"); ok {
		property.MaxLength = &value
	}
}

func floatTag(field reflect.StructField, name string) (float64, bool) {
	text := field.Tag.Get(name)
	if text == "" {
		return 0, false
	}
	value, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return 0, false
	}
	return value, true
}

func intTag(field reflect.StructField, name string) (int, bool) {
	text := field.Tag.Get(name)
	if text == "" {
		return 0, false
	}
	value, err := strconv.Atoi(text)
	if err != nil {
		return 0, false
	}
	return value, true
}
