package discovery

import (
	"errors"
	"testing"

	"github.com/discoflow/discoflow/model"
)

const orderDocument = `{
  "name": "ordersvc",
  "version": "v2",
  "rootUrl": "https://ordersvc.example.com/",
  "servicePath": "api/v2/",
  "schemas": {
    "Order": {
      "type": "object",
      "properties": {
        "id": {"type": "string"},
        "lines": {"type": "array", "items": {"$ref": "OrderLine"}}
      }
    },
    "OrderLine": {
      "type": "object",
      "properties": {
        "sku": {"type": "string"},
        "quantity": {"type": "integer", "format": "int32"}
      }
    }
  },
  "resources": {
    "orders": {
      "methods": {
        "get": {"id": "orders.get", "path": "orders/{orderId}", "httpMethod": "GET"},
        "insert": {"id": "orders.insert", "path": "orders", "httpMethod": "POST"}
      },
      "resources": {
        "lines": {
          "methods": {
            "list": {"id": "orders.lines.list", "path": "orders/{orderId}/lines", "httpMethod": "GET"}
          }
        }
      }
    }
  }
}`

func TestParse(t *testing.T) {
	doc, err := Parse([]byte(orderDocument))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if doc.Name != "ordersvc" || doc.Version != "v2" {
		t.Errorf("identity = %s/%s, want ordersvc/v2", doc.Name, doc.Version)
	}
	if doc.BaseURL() != "https://ordersvc.example.com/api/v2/" {
		t.Errorf("BaseURL() = %q", doc.BaseURL())
	}
	order, ok := doc.Schema("Order")
	if !ok {
		t.Fatal("Order schema missing")
	}
	if order.Properties["lines"].Items.Ref != "OrderLine" {
		t.Errorf("lines item ref = %q, want OrderLine", order.Properties["lines"].Items.Ref)
	}
}

func TestParse_missingIdentity(t *testing.T) {
	_, err := Parse([]byte(`{"name": "x"}`))
	var docErr *model.DocumentError
	if !errors.As(err, &docErr) {
		t.Fatalf("Parse() error = %v, want DocumentError", err)
	}
}

func TestParse_invalidJSON(t *testing.T) {
	if _, err := Parse([]byte("{")); err == nil {
		t.Fatal("Parse() with invalid JSON should return error")
	}
}

func TestDocument_ResolveMethod(t *testing.T) {
	doc, err := Parse([]byte(orderDocument))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	tests := []struct {
		path   string
		wantID string
	}{
		{"orders.get", "orders.get"},
		{"orders.insert", "orders.insert"},
		{"orders.lines.list", "orders.lines.list"},
	}
	for _, tt := range tests {
		method, err := doc.ResolveMethod(tt.path)
		if err != nil {
			t.Errorf("ResolveMethod(%q) error = %v", tt.path, err)
			continue
		}
		if method.ID != tt.wantID {
			t.Errorf("ResolveMethod(%q).ID = %q, want %q", tt.path, method.ID, tt.wantID)
		}
	}
}

func TestDocument_ResolveMethod_notFound(t *testing.T) {
	doc, _ := Parse([]byte(orderDocument))

	tests := []struct {
		name        string
		path        string
		wantSegment string
		wantValid   []string
	}{
		{"bad leaf", "orders.delete", "delete", []string{"get", "insert", "lines"}},
		{"bad root", "invoices.get", "invoices", []string{"orders"}},
		{"method used as resource", "orders.get.deeper", "get", nil},
		{"empty path", "", "", []string{"orders"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := doc.ResolveMethod(tt.path)
			var notFound *model.MethodNotFoundError
			if !errors.As(err, &notFound) {
				t.Fatalf("ResolveMethod(%q) error = %v, want MethodNotFoundError", tt.path, err)
			}
			if notFound.Segment != tt.wantSegment {
				t.Errorf("Segment = %q, want %q", notFound.Segment, tt.wantSegment)
			}
			if tt.wantValid != nil {
				if len(notFound.ValidSegments) != len(tt.wantValid) {
					t.Fatalf("ValidSegments = %v, want %v", notFound.ValidSegments, tt.wantValid)
				}
				for i, s := range tt.wantValid {
					if notFound.ValidSegments[i] != s {
						t.Errorf("ValidSegments[%d] = %q, want %q", i, notFound.ValidSegments[i], s)
					}
				}
			}
		})
	}
}

func TestMethod_Creation(t *testing.T) {
	tests := []struct {
		id         string
		httpMethod string
		want       bool
	}{
		{"orders.insert", "POST", true},
		{"orders.create", "POST", true},
		{"orders.insert", "GET", false},
		{"reports.run", "POST", false},
		{"orders.get", "GET", false},
	}
	for _, tt := range tests {
		m := &Method{ID: tt.id, HTTPMethod: tt.httpMethod}
		if got := m.Creation(); got != tt.want {
			t.Errorf("Creation(%s %s) = %v, want %v", tt.httpMethod, tt.id, got, tt.want)
		}
	}
}

func TestTypeNode_Kind(t *testing.T) {
	tests := []struct {
		name string
		node *TypeNode
		want NodeKind
	}{
		{"ref", &TypeNode{Ref: "Order"}, KindRef},
		{"array", &TypeNode{Type: "array", Items: &TypeNode{Type: "string"}}, KindArray},
		{"object", &TypeNode{Type: "object"}, KindObject},
		{"implicit object", &TypeNode{Properties: map[string]*TypeNode{"a": {Type: "string"}}}, KindObject},
		{"scalar", &TypeNode{Type: "string"}, KindScalar},
		{"untyped", &TypeNode{}, KindScalar},
	}
	for _, tt := range tests {
		if got := tt.node.Kind(); got != tt.want {
			t.Errorf("Kind(%s) = %v, want %v", tt.name, got, tt.want)
		}
	}
}
