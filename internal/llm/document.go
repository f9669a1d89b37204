package llm

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	jsonrepair "github.com/RealAlexandreAI/json-repair"
	"github.com/tidwall/gjson"
)

var fencePattern = regexp.MustCompile("(?s)```(?:json|JSON)?\\s*\\n?(.*?)\\n?\\s*```")

// Document is a parsed JSON object returned by Analyze.
type Document struct {
	raw gjson.Result
}

// NewDocument wraps a JSON object. It returns ErrMalformedResponse when raw is
// not an object.
func NewDocument(raw string) (Document, error) {
	if !gjson.Valid(raw) {
		return Document{}, ErrMalformedResponse
	}
	res := gjson.Parse(raw)
	if !res.IsObject() {
		return Document{}, ErrMalformedResponse
	}
	return Document{raw: res}, nil
}

// MustDocument is NewDocument for literals known to be valid.
func MustDocument(raw string) Document {
	d, err := NewDocument(raw)
	if err != nil {
		panic(fmt.Sprintf("llm: invalid document literal: %v", err))
	}
	return d
}

// ParseDocument extracts the JSON object from a model reply. Markdown fences
// are stripped and, as a last resort, the text is run through a JSON repairer.
func ParseDocument(text string) (Document, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Document{}, ErrEmptyResponse
	}

	candidates := []string{text}
	if m := fencePattern.FindStringSubmatch(text); m != nil {
		candidates = append([]string{strings.TrimSpace(m[1])}, candidates...)
	}
	if start, end := strings.Index(text, "{"), strings.LastIndex(text, "}"); start >= 0 && end > start {
		candidates = append(candidates, text[start:end+1])
	}

	for _, c := range candidates {
		if d, err := NewDocument(c); err == nil {
			return d, nil
		}
	}

	repaired, err := jsonrepair.RepairJSON(candidates[0])
	if err != nil {
		return Document{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return NewDocument(repaired)
}

// Raw returns the JSON text of the document.
func (d Document) Raw() string {
	return d.raw.Raw
}

// Has reports whether path exists.
func (d Document) Has(path string) bool {
	return d.raw.Get(path).Exists()
}

// Get returns the value at a gjson path.
func (d Document) Get(path string) gjson.Result {
	return d.raw.Get(path)
}

// String returns the value at path as text, "" when absent.
func (d Document) String(path string) string {
	return d.raw.Get(path).String()
}

// Bool returns the value at path as a bool.
func (d Document) Bool(path string) bool {
	return d.raw.Get(path).Bool()
}

// Strings returns the value at path as a string slice. Scalars become a
// single element; non-string array elements are kept as their JSON text.
func (d Document) Strings(path string) []string {
	v := d.raw.Get(path)
	if !v.Exists() || v.Type == gjson.Null {
		return []string{}
	}
	if !v.IsArray() {
		if s := v.String(); s != "" {
			return []string{s}
		}
		return []string{}
	}
	out := make([]string, 0, len(v.Array()))
	for _, item := range v.Array() {
		if item.Type == gjson.String {
			out = append(out, item.Str)
			continue
		}
		out = append(out, item.Raw)
	}
	return out
}

// Decode unmarshals the value at path into v. An empty path decodes the whole document.
func (d Document) Decode(path string, v any) error {
	raw := d.raw.Raw
	if path != "" {
		res := d.raw.Get(path)
		if !res.Exists() {
			return fmt.Errorf("decode %q: field missing", path)
		}
		raw = res.Raw
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return fmt.Errorf("decode %q: %w", path, err)
	}
	return nil
}
