// Package discovery parses self-describing interface documents into an
// explicit type graph and method tree, providing dot-path method lookup
// and a process-wide read-through document cache.
package discovery

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/discoflow/discoflow/model"
)

// NodeKind identifies what a TypeNode describes.
type NodeKind int

const (
	// KindScalar is a primitive value, optionally with a format hint.
	KindScalar NodeKind = iota
	// KindObject is a record with named fields.
	KindObject
	// KindArray is a list with a single element type.
	KindArray
	// KindRef is a symbolic reference to a named schema elsewhere in the
	// document. References may form cycles.
	KindRef
)

// TypeNode is one entry of an interface document's type graph. Nodes are
// addressed by schema name through the document's arena, not by pointer
// identity, so self-referential records stay representable.
type TypeNode struct {
	Type                 string               `json:"type,omitempty"`
	Format               string               `json:"format,omitempty"`
	Description          string               `json:"description,omitempty"`
	Ref                  string               `json:"$ref,omitempty"`
	Properties           map[string]*TypeNode `json:"properties,omitempty"`
	Items                *TypeNode            `json:"items,omitempty"`
	Enum                 []string             `json:"enum,omitempty"`
	AdditionalProperties *TypeNode            `json:"additionalProperties,omitempty"`
}

// Kind derives the node kind from its populated fields.
func (n *TypeNode) Kind() NodeKind {
	switch {
	case n.Ref != "":
		return KindRef
	case n.Type == "array" || n.Items != nil:
		return KindArray
	case n.Type == "object" || len(n.Properties) > 0:
		return KindObject
	default:
		return KindScalar
	}
}

// Parameter describes one declared argument of a method.
type Parameter struct {
	Type     string `json:"type,omitempty"`
	Format   string `json:"format,omitempty"`
	Location string `json:"location,omitempty"`
	Required bool   `json:"required,omitempty"`
	Repeated bool   `json:"repeated,omitempty"`
}

// Method is one invokable leaf of the method tree.
type Method struct {
	ID         string                `json:"id,omitempty"`
	Path       string                `json:"path"`
	HTTPMethod string                `json:"httpMethod"`
	Parameters map[string]*Parameter `json:"parameters,omitempty"`
	Request    *TypeNode             `json:"request,omitempty"`
	Response   *TypeNode             `json:"response,omitempty"`
}

// ResponseRef returns the schema name of the method's response type, or ""
// when the method returns nothing.
func (m *Method) ResponseRef() string {
	if m.Response == nil {
		return ""
	}
	return m.Response.Ref
}

// Creation reports whether the method creates a resource, which makes an
// already-exists conflict a benign no-op rather than a failure.
func (m *Method) Creation() bool {
	if m.HTTPMethod != "POST" {
		return false
	}
	last := m.ID
	if i := strings.LastIndex(last, "."); i >= 0 {
		last = last[i+1:]
	}
	switch last {
	case "insert", "create", "":
		return true
	default:
		// POST methods named otherwise (run, patch-like verbs) are not
		// creations; a 409 there is a real conflict.
		return false
	}
}

// Resource is one interior node of the method tree.
type Resource struct {
	Methods   map[string]*Method   `json:"methods,omitempty"`
	Resources map[string]*Resource `json:"resources,omitempty"`
}

// segments returns the valid next path segments at this resource, sorted.
func (r *Resource) segments() []string {
	out := make([]string, 0, len(r.Methods)+len(r.Resources))
	for name := range r.Methods {
		out = append(out, name)
	}
	for name := range r.Resources {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Document is a parsed interface document: service identity, base URL,
// schema arena, and the method tree.
type Document struct {
	Name        string               `json:"name"`
	Version     string               `json:"version"`
	Title       string               `json:"title,omitempty"`
	RootURL     string               `json:"rootUrl,omitempty"`
	ServicePath string               `json:"servicePath,omitempty"`
	BaseURLRaw  string               `json:"baseUrl,omitempty"`
	Schemas     map[string]*TypeNode `json:"schemas,omitempty"`
	Methods     map[string]*Method   `json:"methods,omitempty"`
	Resources   map[string]*Resource `json:"resources,omitempty"`
}

// Parse decodes an interface document from its JSON wire form.
func Parse(data []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, &model.DocumentError{Message: "parsing document: " + err.Error()}
	}
	if doc.Name == "" || doc.Version == "" {
		return nil, &model.DocumentError{
			Service: doc.Name,
			Version: doc.Version,
			Message: "document missing name or version",
		}
	}
	return &doc, nil
}

// BaseURL returns the root endpoint for method paths.
func (d *Document) BaseURL() string {
	if d.BaseURLRaw != "" {
		return d.BaseURLRaw
	}
	return d.RootURL + d.ServicePath
}

// Schema returns the named type node from the arena.
func (d *Document) Schema(name string) (*TypeNode, bool) {
	node, ok := d.Schemas[name]
	return node, ok
}

// root presents the document's own methods and resources as the tree root.
func (d *Document) root() *Resource {
	return &Resource{Methods: d.Methods, Resources: d.Resources}
}

// ResolveMethod walks the dot-separated path against the method tree.
// Every failure reports the valid next segments at the point where the
// walk stopped.
func (d *Document) ResolveMethod(dotPath string) (*Method, error) {
	notFound := func(segment string, valid []string) error {
		return &model.MethodNotFoundError{
			Service:       d.Name,
			Version:       d.Version,
			Path:          dotPath,
			Segment:       segment,
			ValidSegments: valid,
		}
	}

	segments := strings.Split(dotPath, ".")
	if dotPath == "" || len(segments) == 0 {
		return nil, notFound("", d.root().segments())
	}

	current := d.root()
	for i, segment := range segments {
		last := i == len(segments)-1
		if last {
			if method, ok := current.Methods[segment]; ok {
				return method, nil
			}
			return nil, notFound(segment, current.segments())
		}
		next, ok := current.Resources[segment]
		if !ok {
			return nil, notFound(segment, current.segments())
		}
		current = next
	}
	return nil, notFound("", nil)
}
