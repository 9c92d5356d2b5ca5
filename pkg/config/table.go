package config

import (
	"fmt"
	"sort"
	"strings"
)

// Table is the read-only, flattened configuration. Keys are dot paths to
// leaf values, e.g. "Regions.Default.prod".
type Table struct {
	leaves map[string]interface{}
	raw    map[string]interface{}
}

// NewTable flattens a nested document into a table.
func NewTable(doc map[string]interface{}) *Table {
	t := &Table{
		leaves: make(map[string]interface{}),
		raw:    deepCopy(doc),
	}
	flatten("", doc, t.leaves)
	return t
}

func flatten(prefix string, doc map[string]interface{}, out map[string]interface{}) {
	for k, v := range doc {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := asMap(v); ok {
			flatten(key, nested, out)
			continue
		}
		out[key] = v
	}
}

// Lookup returns the leaf value at path.
func (t *Table) Lookup(path string) (interface{}, bool) {
	if t == nil {
		return nil, false
	}
	v, ok := t.leaves[path]
	return v, ok
}

// Section returns a copy of the nested document under a top-level key.
func (t *Table) Section(name string) (map[string]interface{}, bool) {
	if t == nil {
		return nil, false
	}
	m, ok := asMap(t.raw[name])
	if !ok {
		return nil, false
	}
	return deepCopy(m), true
}

// Keys returns every leaf path in sorted order.
func (t *Table) Keys() []string {
	if t == nil {
		return nil
	}
	keys := make([]string, 0, len(t.leaves))
	for k := range t.leaves {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// KeysWithPrefix returns the leaf paths under prefix in sorted order.
func (t *Table) KeysWithPrefix(prefix string) []string {
	var out []string
	for _, k := range t.Keys() {
		if k == prefix || strings.HasPrefix(k, prefix+".") {
			out = append(out, k)
		}
	}
	return out
}

// asMap normalizes the map shapes produced by the different decoders.
func asMap(v interface{}) (map[string]interface{}, bool) {
	switch m := v.(type) {
	case map[string]interface{}:
		return m, true
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(m))
		for k, val := range m {
			out[fmt.Sprint(k)] = val
		}
		return out, true
	default:
		return nil, false
	}
}

func deepCopy(doc map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(doc))
	for k, v := range doc {
		if nested, ok := asMap(v); ok {
			out[k] = deepCopy(nested)
			continue
		}
		out[k] = v
	}
	return out
}

// merge overlays src onto dst recursively. Non-map values in src replace
// those in dst.
func merge(dst, src map[string]interface{}) map[string]interface{} {
	if dst == nil {
		dst = make(map[string]interface{}, len(src))
	}
	for k, v := range src {
		srcMap, srcIsMap := asMap(v)
		dstMap, dstIsMap := asMap(dst[k])
		if srcIsMap && dstIsMap {
			dst[k] = merge(deepCopy(dstMap), srcMap)
			continue
		}
		if srcIsMap {
			dst[k] = deepCopy(srcMap)
			continue
		}
		dst[k] = v
	}
	return dst
}
