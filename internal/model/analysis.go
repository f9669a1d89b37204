package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	orderedmap "github.com/wk8/go-ordered-map/v2"
	"gopkg.in/yaml.v3"
)

// Value is a single analysis field: either one string or a list of strings.
type Value struct {
	Text  string
	Items []string
	List  bool
}

// Text returns a scalar Value.
func Text(s string) Value {
	return Value{Text: s}
}

// List returns a list Value.
func List(items ...string) Value {
	if items == nil {
		items = []string{}
	}
	return Value{Items: items, List: true}
}

// Strings returns the value as a slice; a scalar becomes a one-element slice.
func (v Value) Strings() []string {
	if v.List {
		return v.Items
	}
	if v.Text == "" {
		return nil
	}
	return []string{v.Text}
}

// Map applies fn to every string in the value and returns the result.
func (v Value) Map(fn func(string) string) Value {
	if !v.List {
		return Text(fn(v.Text))
	}
	out := make([]string, len(v.Items))
	for i, s := range v.Items {
		out[i] = fn(s)
	}
	return List(out...)
}

// MarshalJSON implements json.Marshaler.
func (v Value) MarshalJSON() ([]byte, error) {
	if v.List {
		items := v.Items
		if items == nil {
			items = []string{}
		}
		return json.Marshal(items)
	}
	return json.Marshal(v.Text)
}

// UnmarshalJSON accepts strings, arrays, and anything else the model sends;
// non-string payloads are kept as their compact JSON text.
func (v *Value) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*v = Text("")
		return nil
	}

	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = Text(s)
	case '[':
		var raw []json.RawMessage
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
		items := make([]string, 0, len(raw))
		for _, r := range raw {
			items = append(items, stringify(r))
		}
		*v = List(items...)
	default:
		*v = Text(stringify(data))
	}
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (v Value) MarshalYAML() (any, error) {
	if v.List {
		return v.Items, nil
	}
	return v.Text, nil
}

func stringify(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return strings.TrimSpace(string(raw))
	}
	return buf.String()
}

// Analysis is the ordered field→value mapping a module produces.
// The zero value is an empty analysis.
type Analysis struct {
	fields *orderedmap.OrderedMap[string, Value]
}

// Field is a key/value pair used to build an Analysis.
type Field struct {
	Key   string
	Value Value
}

// NewAnalysis builds an Analysis preserving the order of fields.
func NewAnalysis(fields ...Field) Analysis {
	a := Analysis{fields: orderedmap.New[string, Value]()}
	for _, f := range fields {
		a.fields.Set(f.Key, f.Value)
	}
	return a
}

// Set stores a field, appending it if the key is new.
func (a *Analysis) Set(key string, v Value) {
	if a.fields == nil {
		a.fields = orderedmap.New[string, Value]()
	}
	a.fields.Set(key, v)
}

// Get returns the value stored under key.
func (a Analysis) Get(key string) (Value, bool) {
	if a.fields == nil {
		return Value{}, false
	}
	return a.fields.Get(key)
}

// Len returns the number of fields.
func (a Analysis) Len() int {
	if a.fields == nil {
		return 0
	}
	return a.fields.Len()
}

// Keys returns field names in insertion order.
func (a Analysis) Keys() []string {
	keys := make([]string, 0, a.Len())
	a.Each(func(k string, _ Value) {
		keys = append(keys, k)
	})
	return keys
}

// Each visits fields in order.
func (a Analysis) Each(fn func(key string, v Value)) {
	if a.fields == nil {
		return
	}
	for pair := a.fields.Oldest(); pair != nil; pair = pair.Next() {
		fn(pair.Key, pair.Value)
	}
}

// Map returns a new Analysis with fn applied to every string value.
func (a Analysis) Map(fn func(string) string) Analysis {
	out := NewAnalysis()
	a.Each(func(k string, v Value) {
		out.fields.Set(k, v.Map(fn))
	})
	return out
}

// Summary returns the "summary" field, or "" when absent.
func (a Analysis) Summary() string {
	v, ok := a.Get("summary")
	if !ok {
		return ""
	}
	return strings.Join(v.Strings(), " ")
}

// String renders the analysis as "key: value" lines for prompts.
func (a Analysis) String() string {
	var sb strings.Builder
	a.Each(func(k string, v Value) {
		if v.List {
			fmt.Fprintf(&sb, "%s: %s\n", k, strings.Join(v.Items, "; "))
			return
		}
		fmt.Fprintf(&sb, "%s: %s\n", k, v.Text)
	})
	return strings.TrimSuffix(sb.String(), "\n")
}

// MarshalJSON implements json.Marshaler.
func (a Analysis) MarshalJSON() ([]byte, error) {
	if a.fields == nil {
		return []byte("{}"), nil
	}
	return a.fields.MarshalJSON()
}

// UnmarshalJSON implements json.Unmarshaler.
func (a *Analysis) UnmarshalJSON(data []byte) error {
	m := orderedmap.New[string, Value]()
	if err := m.UnmarshalJSON(data); err != nil {
		return fmt.Errorf("decode analysis: %w", err)
	}
	a.fields = m
	return nil
}

// MarshalYAML implements yaml.Marshaler, keeping field order.
func (a Analysis) MarshalYAML() (any, error) {
	node := &yaml.Node{Kind: yaml.MappingNode}
	var err error
	a.Each(func(k string, v Value) {
		if err != nil {
			return
		}
		var val yaml.Node
		if encErr := val.Encode(v); encErr != nil {
			err = encErr
			return
		}
		node.Content = append(node.Content, &yaml.Node{Kind: yaml.ScalarNode, Value: k}, &val)
	})
	if err != nil {
		return nil, err
	}
	return node, nil
}
