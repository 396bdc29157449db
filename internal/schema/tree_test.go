package schema

import (
	"testing"

	"github.com/discoflow/discoflow/internal/discovery"
)

func TestWalker_ObjectTree_refsExpandedInPlace(t *testing.T) {
	w := NewWalker(widgetDocument())
	tree, err := w.ObjectTree("ListWidgetsResponse")
	if err != nil {
		t.Fatalf("ObjectTree() error = %v", err)
	}

	properties, ok := tree["properties"].(map[string]any)
	if !ok {
		t.Fatalf("tree has no properties: %v", tree)
	}
	items, ok := properties["items"].(map[string]any)
	if !ok {
		t.Fatal("items missing from tree")
	}
	widget, ok := items["items"].(map[string]any)
	if !ok {
		t.Fatal("array element missing from tree")
	}
	widgetProps, ok := widget["properties"].(map[string]any)
	if !ok {
		t.Fatalf("referenced Widget not expanded in place: %v", widget)
	}
	id := widgetProps["id"].(map[string]any)
	if id["type"] != "string" {
		t.Errorf("id type = %v, want string", id["type"])
	}
}

func TestWalker_ObjectTree_keepsEnums(t *testing.T) {
	doc := &discovery.Document{
		Name:    "svc",
		Version: "v1",
		Schemas: map[string]*discovery.TypeNode{
			"Order": {
				Type: "object",
				Properties: map[string]*discovery.TypeNode{
					"state": {Type: "string", Enum: []string{"OPEN", "CLOSED"}},
				},
			},
		},
	}
	tree, err := NewWalker(doc).ObjectTree("Order")
	if err != nil {
		t.Fatalf("ObjectTree() error = %v", err)
	}
	state := tree["properties"].(map[string]any)["state"].(map[string]any)
	enum, ok := state["enum"].([]string)
	if !ok || len(enum) != 2 {
		t.Errorf("enum = %v, want [OPEN CLOSED]", state["enum"])
	}
}

func TestWalker_ObjectTree_cycleTruncates(t *testing.T) {
	doc := &discovery.Document{
		Name:    "cyclic",
		Version: "v1",
		Schemas: map[string]*discovery.TypeNode{
			"A": {
				Type: "object",
				Properties: map[string]*discovery.TypeNode{
					"next": {Ref: "A"},
				},
			},
		},
	}
	w := NewWalker(doc)
	w.MaxDepth = 2

	tree, err := w.ObjectTree("A")
	if err != nil {
		t.Fatalf("ObjectTree() error = %v", err)
	}

	level1 := tree["properties"].(map[string]any)["next"].(map[string]any)
	level2, ok := level1["properties"].(map[string]any)
	if !ok {
		t.Fatalf("first recursion not expanded: %v", level1)
	}
	truncated := level2["next"].(map[string]any)
	if _, expanded := truncated["properties"]; expanded {
		t.Errorf("second recursion expanded, want truncated leaf: %v", truncated)
	}
	if truncated["type"] != "object" {
		t.Errorf("truncated leaf type = %v, want object", truncated["type"])
	}
}

func TestFlatten(t *testing.T) {
	w := NewWalker(widgetDocument())
	tree, err := w.ObjectTree("ListWidgetsResponse")
	if err != nil {
		t.Fatalf("ObjectTree() error = %v", err)
	}

	flat := Flatten(tree)
	tests := map[string]string{
		"items.id":      "string",
		"items.count":   "integer",
		"nextPageToken": "string",
	}
	if len(flat) != len(tests) {
		t.Fatalf("Flatten() = %v, want %d paths", flat, len(tests))
	}
	for path, typ := range tests {
		if flat[path] != typ {
			t.Errorf("flat[%q] = %q, want %q", path, flat[path], typ)
		}
	}
}
