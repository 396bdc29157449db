// Package schema expands the cyclic type graph of an interface document
// into tabular schemas, fully-resolved object trees, and SQL struct
// literals. Recursion over self-referential types is bounded by a
// per-branch visit budget so every traversal terminates.
package schema

import (
	"fmt"
	"sort"
	"strings"

	"github.com/discoflow/discoflow/internal/discovery"
	"github.com/discoflow/discoflow/model"
)

const (
	// DefaultRecursionDepth is how many times a single reference chain may
	// revisit the same named type before it is truncated to a leaf.
	DefaultRecursionDepth = 2

	// DefaultDescriptionLimit caps field descriptions, enum annotations
	// included.
	DefaultDescriptionLimit = 1024
)

// Walker traverses a document's type graph. Zero-value depth and
// description limits fall back to the defaults at construction.
type Walker struct {
	Doc              *discovery.Document
	MaxDepth         int
	DescriptionLimit int
}

// NewWalker builds a Walker with default bounds.
func NewWalker(doc *discovery.Document) *Walker {
	return &Walker{
		Doc:              doc,
		MaxDepth:         DefaultRecursionDepth,
		DescriptionLimit: DefaultDescriptionLimit,
	}
}

// TypeSchema flattens the named record type into an ordered field list.
// Object-typed fields become nested RECORD groups, array-typed fields
// repeated leaves or groups. Field order is lexicographic at every level.
func (w *Walker) TypeSchema(name string) ([]*model.Field, error) {
	node, ok := w.Doc.Schema(name)
	if !ok {
		return nil, w.unknownSchema(name)
	}
	visits := map[string]int{name: 1}
	return w.schemaFields(node, visits)
}

// MethodSchema returns the tabular row shape of a method's response.
// When the response type is a paginated collection wrapper, the inner
// element's fields are returned rather than the envelope's.
func (w *Walker) MethodSchema(dotPath string) ([]*model.Field, error) {
	method, err := w.Doc.ResolveMethod(dotPath)
	if err != nil {
		return nil, err
	}
	ref := method.ResponseRef()
	if ref == "" {
		return nil, &model.DocumentError{
			Service: w.Doc.Name,
			Version: w.Doc.Version,
			Message: fmt.Sprintf("method %s declares no response type", dotPath),
		}
	}
	fields, err := w.TypeSchema(ref)
	if err != nil {
		return nil, err
	}
	if !collectionWrapper(ref, fields) {
		return fields, nil
	}
	for _, field := range fields {
		if field.Mode == model.ModeRepeated && field.Type == model.TypeRecord {
			return field.Fields, nil
		}
	}
	for _, field := range fields {
		if field.Mode == model.ModeRepeated {
			// Repeated scalar collection: rows are single-column.
			single := *field
			single.Mode = model.ModeNullable
			return []*model.Field{&single}, nil
		}
	}
	return fields, nil
}

// collectionWrapper reports whether a response type is a pagination
// envelope rather than the row shape itself.
func collectionWrapper(name string, fields []*model.Field) bool {
	if strings.HasPrefix(name, "List") && strings.HasSuffix(name, "Response") {
		return true
	}
	repeated := 0
	for _, field := range fields {
		if field.Mode == model.ModeRepeated {
			repeated++
		}
	}
	return repeated == 1
}

func (w *Walker) schemaFields(node *discovery.TypeNode, visits map[string]int) ([]*model.Field, error) {
	fields := make([]*model.Field, 0, len(node.Properties))
	for _, name := range sortedKeys(node.Properties) {
		field, err := w.schemaField(name, node.Properties[name], visits)
		if err != nil {
			return nil, err
		}
		fields = append(fields, field)
	}
	return fields, nil
}

func (w *Walker) schemaField(name string, node *discovery.TypeNode, visits map[string]int) (*model.Field, error) {
	switch node.Kind() {
	case discovery.KindRef:
		return w.refField(name, node.Ref, model.ModeNullable, visits)

	case discovery.KindArray:
		item := node.Items
		if item == nil {
			return &model.Field{Name: name, Type: "STRING", Mode: model.ModeRepeated}, nil
		}
		switch item.Kind() {
		case discovery.KindRef:
			return w.refField(name, item.Ref, model.ModeRepeated, visits)
		case discovery.KindObject:
			nested, err := w.schemaFields(item, visits)
			if err != nil {
				return nil, err
			}
			return &model.Field{
				Name:        name,
				Type:        model.TypeRecord,
				Mode:        model.ModeRepeated,
				Description: w.description(node),
				Fields:      nested,
			}, nil
		default:
			return &model.Field{
				Name:        name,
				Type:        scalarType(item),
				Mode:        model.ModeRepeated,
				Description: w.description(item),
			}, nil
		}

	case discovery.KindObject:
		nested, err := w.schemaFields(node, visits)
		if err != nil {
			return nil, err
		}
		return &model.Field{
			Name:        name,
			Type:        model.TypeRecord,
			Mode:        model.ModeNullable,
			Description: w.description(node),
			Fields:      nested,
		}, nil

	default:
		return &model.Field{
			Name:        name,
			Type:        scalarType(node),
			Mode:        model.ModeNullable,
			Description: w.description(node),
		}, nil
	}
}

// refField expands a symbolic reference under the branch's visit budget.
// An exhausted budget truncates the reference to a nullable leaf with no
// nested expansion, which is what guarantees termination over cycles.
func (w *Walker) refField(name, ref, mode string, visits map[string]int) (*model.Field, error) {
	target, ok := w.Doc.Schema(ref)
	if !ok {
		return nil, w.unknownSchema(ref)
	}
	if visits[ref] >= w.maxDepth() {
		return &model.Field{Name: name, Type: "STRING", Mode: model.ModeNullable}, nil
	}

	if target.Kind() == discovery.KindScalar {
		return &model.Field{
			Name:        name,
			Type:        scalarType(target),
			Mode:        mode,
			Description: w.description(target),
		}, nil
	}

	visits[ref]++
	nested, err := w.schemaFields(target, visits)
	visits[ref]--
	if err != nil {
		return nil, err
	}
	return &model.Field{
		Name:        name,
		Type:        model.TypeRecord,
		Mode:        mode,
		Description: w.description(target),
		Fields:      nested,
	}, nil
}

// description assembles the field annotation: the declared description
// plus any enumerated-value list, truncated to the configured limit. The
// enum list is descriptive metadata, never structural.
func (w *Walker) description(node *discovery.TypeNode) string {
	text := node.Description
	if len(node.Enum) > 0 {
		if text != "" {
			text += " "
		}
		text += "Values: " + strings.Join(node.Enum, ", ")
	}
	limit := w.DescriptionLimit
	if limit <= 0 {
		limit = DefaultDescriptionLimit
	}
	if len(text) > limit {
		text = text[:limit]
	}
	return text
}

func (w *Walker) maxDepth() int {
	if w.MaxDepth <= 0 {
		return DefaultRecursionDepth
	}
	return w.MaxDepth
}

func (w *Walker) unknownSchema(name string) error {
	return &model.DocumentError{
		Service: w.Doc.Name,
		Version: w.Doc.Version,
		Message: "unknown schema " + name,
	}
}

// scalarType maps a scalar node to its storage type. 64-bit integers
// transmitted as strings stay STRING to preserve precision across the
// wire format.
func scalarType(node *discovery.TypeNode) string {
	switch node.Type {
	case "boolean":
		return "BOOLEAN"
	case "integer":
		return "INT64"
	case "number":
		if node.Format == "double" {
			return "FLOAT64"
		}
		return "FLOAT"
	case "string":
		switch node.Format {
		case "byte":
			return "BYTES"
		case "date":
			return "DATE"
		case "date-time":
			return "TIMESTAMP"
		case "int64", "uint64":
			return "STRING"
		default:
			return "STRING"
		}
	default:
		return "STRING"
	}
}

func sortedKeys(m map[string]*discovery.TypeNode) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
