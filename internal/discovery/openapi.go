package discovery

import (
	"fmt"
	"sort"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
	"gopkg.in/yaml.v3"

	"github.com/discoflow/discoflow/model"
)

// ParseAny decodes a locally supplied document in either of the accepted
// formats: a native interface document, or an OpenAPI 3 specification
// which is converted into the same Document form.
func ParseAny(data []byte, service, version string) (*Document, error) {
	var probe map[string]any
	if err := yaml.Unmarshal(data, &probe); err == nil {
		if _, ok := probe["openapi"]; ok {
			return ParseOpenAPI(data, service, version)
		}
	}
	return Parse(data)
}

// ParseOpenAPI loads an OpenAPI 3 specification and converts it into a
// Document: component schemas become the type arena, and operations are
// placed in the method tree by their dotted operationId.
func ParseOpenAPI(data []byte, service, version string) (*Document, error) {
	loader := openapi3.NewLoader()
	loader.IsExternalRefsAllowed = false

	spec, err := loader.LoadFromData(data)
	if err != nil {
		return nil, &model.DocumentError{
			Service: service,
			Version: version,
			Message: "loading OpenAPI spec: " + err.Error(),
		}
	}

	doc := &Document{
		Name:      service,
		Version:   version,
		Schemas:   make(map[string]*TypeNode),
		Methods:   make(map[string]*Method),
		Resources: make(map[string]*Resource),
	}
	if spec.Info != nil {
		doc.Title = spec.Info.Title
	}
	if len(spec.Servers) > 0 {
		doc.BaseURLRaw = strings.TrimSuffix(spec.Servers[0].URL, "/") + "/"
	}

	if spec.Components != nil {
		for name, ref := range spec.Components.Schemas {
			doc.Schemas[name] = convertSchemaRef(ref)
		}
	}

	for path, pathItem := range spec.Paths.Map() {
		for httpMethod, op := range pathItem.Operations() {
			if op.OperationID == "" {
				continue
			}
			method := &Method{
				ID:         op.OperationID,
				Path:       strings.TrimPrefix(path, "/"),
				HTTPMethod: httpMethod,
				Parameters: make(map[string]*Parameter),
			}
			for _, ref := range append(append(openapi3.Parameters{}, pathItem.Parameters...), op.Parameters...) {
				p := ref.Value
				if p == nil {
					continue
				}
				param := &Parameter{Location: p.In, Required: p.Required}
				if p.Schema != nil && p.Schema.Value != nil {
					param.Type = schemaType(p.Schema.Value)
					param.Format = p.Schema.Value.Format
				}
				method.Parameters[p.Name] = param
			}
			if op.RequestBody != nil && op.RequestBody.Value != nil {
				if ct := op.RequestBody.Value.Content.Get("application/json"); ct != nil && ct.Schema != nil {
					if name := refName(ct.Schema.Ref); name != "" {
						method.Request = &TypeNode{Ref: name}
					}
				}
			}
			if resp := op.Responses.Status(200); resp != nil && resp.Value != nil {
				if ct := resp.Value.Content.Get("application/json"); ct != nil && ct.Schema != nil {
					if name := refName(ct.Schema.Ref); name != "" {
						method.Response = &TypeNode{Ref: name}
					}
				}
			}
			doc.insertMethod(op.OperationID, method)
		}
	}

	return doc, nil
}

// insertMethod places a method into the tree, creating interior resources
// for every dotted segment of its operation id.
func (d *Document) insertMethod(operationID string, method *Method) {
	segments := strings.Split(operationID, ".")
	if len(segments) == 1 {
		d.Methods[operationID] = method
		return
	}

	var current *Resource
	for i, segment := range segments[:len(segments)-1] {
		if i == 0 {
			if d.Resources[segment] == nil {
				d.Resources[segment] = &Resource{}
			}
			current = d.Resources[segment]
			continue
		}
		if current.Resources == nil {
			current.Resources = make(map[string]*Resource)
		}
		if current.Resources[segment] == nil {
			current.Resources[segment] = &Resource{}
		}
		current = current.Resources[segment]
	}
	if current.Methods == nil {
		current.Methods = make(map[string]*Method)
	}
	current.Methods[segments[len(segments)-1]] = method
}

// convertSchemaRef converts an OpenAPI schema into a TypeNode, preserving
// symbolic references so cyclic record types stay bounded.
func convertSchemaRef(ref *openapi3.SchemaRef) *TypeNode {
	if ref == nil {
		return &TypeNode{Type: "string"}
	}
	if name := refName(ref.Ref); name != "" {
		return &TypeNode{Ref: name}
	}
	return convertSchema(ref.Value)
}

func convertSchema(s *openapi3.Schema) *TypeNode {
	if s == nil {
		return &TypeNode{Type: "string"}
	}
	node := &TypeNode{
		Type:        schemaType(s),
		Format:      s.Format,
		Description: s.Description,
	}
	for _, v := range s.Enum {
		node.Enum = append(node.Enum, fmt.Sprint(v))
	}
	sort.Strings(node.Enum)

	switch node.Type {
	case "object":
		if len(s.Properties) > 0 {
			node.Properties = make(map[string]*TypeNode, len(s.Properties))
			for name, propRef := range s.Properties {
				node.Properties[name] = convertSchemaRef(propRef)
			}
		}
		if s.AdditionalProperties.Schema != nil {
			node.AdditionalProperties = convertSchemaRef(s.AdditionalProperties.Schema)
		}
	case "array":
		node.Items = convertSchemaRef(s.Items)
	}
	return node
}

func schemaType(s *openapi3.Schema) string {
	if s.Type == nil {
		if len(s.Properties) > 0 {
			return "object"
		}
		return "string"
	}
	for _, t := range []string{"object", "array", "string", "integer", "number", "boolean"} {
		if s.Type.Is(t) {
			return t
		}
	}
	return "string"
}

func refName(ref string) string {
	const prefix = "#/components/schemas/"
	if strings.HasPrefix(ref, prefix) {
		return strings.TrimPrefix(ref, prefix)
	}
	return ""
}
