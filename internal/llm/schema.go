package llm

import (
	"github.com/sashabaranov/go-openai/jsonschema"
	"google.golang.org/genai"
)

// Schema names a JSON response shape.
type Schema struct {
	Name        string
	Description string
	Root        *Node
}

// Node is a provider-neutral subset of JSON Schema.
type Node struct {
	Type        string // object, string, number, integer, boolean, array
	Description string
	Enum        []string
	Properties  map[string]*Node
	Required    []string
	Items       *Node
	// Values describes the values of a free-form object
	// (JSON Schema additionalProperties).
	Values  *Node
	Minimum *float64
	Maximum *float64
}

// Object returns an object node.
func Object(props map[string]*Node, required ...string) *Node {
	return &Node{Type: "object", Properties: props, Required: required}
}

// String returns a string node.
func String(desc string) *Node { return &Node{Type: "string", Description: desc} }

// Bool returns a boolean node.
func Bool(desc string) *Node { return &Node{Type: "boolean", Description: desc} }

// Number returns a number node.
func Number(desc string) *Node { return &Node{Type: "number", Description: desc} }

// Enum returns a string node restricted to values.
func Enum(desc string, values ...string) *Node {
	return &Node{Type: "string", Description: desc, Enum: values}
}

// ArrayOf returns an array node.
func ArrayOf(desc string, items *Node) *Node {
	return &Node{Type: "array", Description: desc, Items: items}
}

// MapOf returns a free-form object whose values match values.
func MapOf(desc string, values *Node) *Node {
	return &Node{Type: "object", Description: desc, Values: values}
}

// openAIDefinition converts n to the go-openai schema type.
func openAIDefinition(n *Node) jsonschema.Definition {
	if n == nil {
		return jsonschema.Definition{Type: jsonschema.String}
	}
	d := jsonschema.Definition{
		Type:        openAIType(n.Type),
		Description: n.Description,
		Enum:        n.Enum,
		Required:    n.Required,
	}
	if n.Items != nil {
		items := openAIDefinition(n.Items)
		d.Items = &items
	}
	if n.Type == "object" {
		if len(n.Properties) > 0 {
			d.Properties = make(map[string]jsonschema.Definition, len(n.Properties))
			for name, p := range n.Properties {
				d.Properties[name] = openAIDefinition(p)
			}
		}
		if n.Values != nil {
			values := openAIDefinition(n.Values)
			d.AdditionalProperties = &values
		} else {
			d.AdditionalProperties = false
		}
	}
	return d
}

func openAIType(t string) jsonschema.DataType {
	switch t {
	case "object":
		return jsonschema.Object
	case "number":
		return jsonschema.Number
	case "integer":
		return jsonschema.Integer
	case "boolean":
		return jsonschema.Boolean
	case "array":
		return jsonschema.Array
	default:
		return jsonschema.String
	}
}

// geminiSchema converts n to a genai response schema. Gemini cannot
// describe free-form objects, so objects without declared properties
// become JSON-encoded strings, and such properties are left out of
// their parent.
func geminiSchema(n *Node) *genai.Schema {
	if n == nil {
		return &genai.Schema{Type: genai.TypeString}
	}
	s := &genai.Schema{
		Type:        geminiType(n.Type),
		Description: n.Description,
		Enum:        n.Enum,
		Minimum:     n.Minimum,
		Maximum:     n.Maximum,
	}
	if n.Type == "array" && n.Items != nil {
		s.Items = geminiSchema(n.Items)
	}
	if n.Type != "object" {
		return s
	}
	if len(n.Properties) == 0 {
		s.Type = genai.TypeString
		if n.Values != nil {
			s.Description = "JSON string containing dynamic properties"
		} else {
			s.Description = "JSON string representation"
		}
		return s
	}

	s.Properties = make(map[string]*genai.Schema, len(n.Properties))
	for name, p := range n.Properties {
		if p != nil && p.Type == "object" && len(p.Properties) == 0 {
			continue
		}
		s.Properties[name] = geminiSchema(p)
	}
	for _, r := range n.Required {
		if _, ok := s.Properties[r]; ok {
			s.Required = append(s.Required, r)
		}
	}
	return s
}

func geminiType(t string) genai.Type {
	switch t {
	case "object":
		return genai.TypeObject
	case "number":
		return genai.TypeNumber
	case "integer":
		return genai.TypeInteger
	case "boolean":
		return genai.TypeBoolean
	case "array":
		return genai.TypeArray
	default:
		return genai.TypeString
	}
}
