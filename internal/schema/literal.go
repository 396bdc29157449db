package schema

import (
	"strings"

	"github.com/discoflow/discoflow/model"
)

// StructLiteral renders a field list as a nested constructor expression
// with every leaf cast to NULL of its resolved type. The result slots
// directly into a SELECT list to synthesize placeholder rows matching a
// schema without real data.
func StructLiteral(fields []*model.Field) string {
	parts := make([]string, 0, len(fields))
	for _, field := range fields {
		parts = append(parts, fieldLiteral(field))
	}
	return strings.Join(parts, ",\n")
}

// TypeStructLiteral renders the named type's placeholder expression.
func (w *Walker) TypeStructLiteral(name string) (string, error) {
	fields, err := w.TypeSchema(name)
	if err != nil {
		return "", err
	}
	return StructLiteral(fields), nil
}

// MethodStructLiteral renders the placeholder expression for a method's
// row shape.
func (w *Walker) MethodStructLiteral(dotPath string) (string, error) {
	fields, err := w.MethodSchema(dotPath)
	if err != nil {
		return "", err
	}
	return StructLiteral(fields), nil
}

func fieldLiteral(field *model.Field) string {
	if field.Type == model.TypeRecord {
		// A record truncated to nothing still needs a well-formed
		// expression; an empty STRUCT() is not valid.
		if len(field.Fields) == 0 {
			return "CAST(NULL AS STRING) AS " + field.Name
		}
		body := joinInline(field.Fields)
		if field.Mode == model.ModeRepeated {
			return "[STRUCT(" + body + ")] AS " + field.Name
		}
		return "STRUCT(" + body + ") AS " + field.Name
	}
	if field.Mode == model.ModeRepeated {
		return "[CAST(NULL AS " + field.Type + ")] AS " + field.Name
	}
	return "CAST(NULL AS " + field.Type + ") AS " + field.Name
}

func joinInline(fields []*model.Field) string {
	parts := make([]string, 0, len(fields))
	for _, field := range fields {
		parts = append(parts, fieldLiteral(field))
	}
	return strings.Join(parts, ", ")
}
