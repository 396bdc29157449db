package schema

import (
	"sort"
	"strings"

	"github.com/discoflow/discoflow/internal/discovery"
)

// ObjectTree fully expands the named type into a plain-map tree with
// every reference replaced in place by its resolved target. Unlike
// TypeSchema it keeps every declared attribute, enum lists included.
// Truncated references appear as bare object leaves.
func (w *Walker) ObjectTree(name string) (map[string]any, error) {
	node, ok := w.Doc.Schema(name)
	if !ok {
		return nil, w.unknownSchema(name)
	}
	visits := map[string]int{name: 1}
	return w.expandNode(node, visits)
}

// MethodObjectTree expands a method's response type.
func (w *Walker) MethodObjectTree(dotPath string) (map[string]any, error) {
	method, err := w.Doc.ResolveMethod(dotPath)
	if err != nil {
		return nil, err
	}
	ref := method.ResponseRef()
	if ref == "" {
		return map[string]any{}, nil
	}
	return w.ObjectTree(ref)
}

func (w *Walker) expandNode(node *discovery.TypeNode, visits map[string]int) (map[string]any, error) {
	if node.Kind() == discovery.KindRef {
		target, ok := w.Doc.Schema(node.Ref)
		if !ok {
			return nil, w.unknownSchema(node.Ref)
		}
		if visits[node.Ref] >= w.maxDepth() {
			return map[string]any{"type": "object"}, nil
		}
		visits[node.Ref]++
		expanded, err := w.expandNode(target, visits)
		visits[node.Ref]--
		return expanded, err
	}

	out := map[string]any{}
	if node.Type != "" {
		out["type"] = node.Type
	}
	if node.Format != "" {
		out["format"] = node.Format
	}
	if text := w.description(node); text != "" {
		out["description"] = text
	}
	if len(node.Enum) > 0 {
		out["enum"] = append([]string(nil), node.Enum...)
	}
	if node.Items != nil {
		items, err := w.expandNode(node.Items, visits)
		if err != nil {
			return nil, err
		}
		out["items"] = items
	}
	if len(node.Properties) > 0 {
		properties := make(map[string]any, len(node.Properties))
		for _, key := range sortedKeys(node.Properties) {
			child, err := w.expandNode(node.Properties[key], visits)
			if err != nil {
				return nil, err
			}
			properties[key] = child
		}
		out["properties"] = properties
	}
	return out, nil
}

// Flatten collapses an object tree into dotted leaf paths mapped to
// their declared wire type. Array levels do not add a path segment; the
// element's fields sit directly under the array's name.
func Flatten(tree map[string]any) map[string]string {
	out := map[string]string{}
	flattenInto(out, "", tree)
	return out
}

func flattenInto(out map[string]string, prefix string, node map[string]any) {
	if items, ok := node["items"].(map[string]any); ok {
		flattenInto(out, prefix, items)
		return
	}
	if properties, ok := node["properties"].(map[string]any); ok {
		keys := make([]string, 0, len(properties))
		for key := range properties {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			child, ok := properties[key].(map[string]any)
			if !ok {
				continue
			}
			path := key
			if prefix != "" {
				path = prefix + "." + key
			}
			flattenInto(out, path, child)
		}
		return
	}
	if prefix == "" {
		return
	}
	declared, _ := node["type"].(string)
	if declared == "" || declared == "object" {
		declared = "object"
	}
	out[prefix] = strings.ToLower(declared)
}
