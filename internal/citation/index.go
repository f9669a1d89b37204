// Package citation maintains the global, deduplicated source list of a run
// and rewrites per-output "[N]" markers into global numbers.
//
// An Index is a value. Merge never mutates its receiver; it returns the
// extended index, so the same list can be threaded through the main
// consolidation pass and the later deep-research pass.
package citation

import (
	"regexp"
	"strings"
)

var (
	ordinalPrefix = regexp.MustCompile(`^\s*(?:\d+[.)]|\[\d+\]|#\d+|[-*])\s*`)
	urlPattern    = regexp.MustCompile(`https?://[^\s<>"'\]\[]+`)
)

// ParseSource strips a leading ordinal from a raw source string and returns
// the cleaned text together with the first URL in it, if any.
func ParseSource(raw string) (text, url string) {
	text = strings.TrimSpace(ordinalPrefix.ReplaceAllString(raw, ""))
	url = strings.TrimRight(urlPattern.FindString(text), `.,;:!?)'"`)
	return text, url
}

func normalise(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// titleKey is the normalised text of a source with its URL and the
// separators around it removed.
func titleKey(text, url string) string {
	if url != "" {
		text = strings.Replace(text, url, "", 1)
	}
	return strings.TrimRight(normalise(text), " —–-:|,()")
}

// LocalMap maps a 1-based local source number to a 1-based global number.
type LocalMap map[int]int

// Index is the global citation list plus its lookup tables.
type Index struct {
	sources []string
	byURL   map[string]int // 0-based

	// byText holds entries stored without a URL, keyed by titleKey, so a
	// later URL-bearing variant can take their place.
	byText map[string]int
}

// NewIndex returns an empty index.
func NewIndex() Index {
	return Index{byURL: map[string]int{}, byText: map[string]int{}}
}

// Len returns the number of global sources.
func (x Index) Len() int {
	return len(x.sources)
}

// Sources returns a copy of the global list.
func (x Index) Sources() []string {
	out := make([]string, len(x.sources))
	copy(out, x.sources)
	return out
}

func (x Index) clone() Index {
	out := Index{
		sources: make([]string, len(x.sources), len(x.sources)+8),
		byURL:   make(map[string]int, len(x.byURL)),
		byText:  make(map[string]int, len(x.byText)),
	}
	copy(out.sources, x.sources)
	for k, v := range x.byURL {
		out.byURL[k] = v
	}
	for k, v := range x.byText {
		out.byText[k] = v
	}
	return out
}

// Merge folds one local source list into the index and returns the extended
// index, the local-to-global map and the raw strings that were dropped.
//
// A source reuses an existing entry with the same URL, otherwise a URL-less
// entry with the same title (which it then replaces), otherwise it is
// appended. Sources without a URL are dropped and get no global number.
func (x Index) Merge(raw []string) (Index, LocalMap, []string) {
	out := x.clone()
	local := make(LocalMap, len(raw))
	var dropped []string

	for n, r := range raw {
		text, url := ParseSource(r)
		if url == "" {
			dropped = append(dropped, r)
			continue
		}
		if i, ok := out.byURL[url]; ok {
			local[n+1] = i + 1
			continue
		}
		if i, ok := out.byText[titleKey(text, url)]; ok {
			out.upgrade(i, text, url)
			local[n+1] = i + 1
			continue
		}

		i := len(out.sources)
		out.sources = append(out.sources, text)
		out.byURL[url] = i
		local[n+1] = i + 1
	}
	return out, local, dropped
}

// upgrade replaces a URL-less entry with its URL-bearing variant.
func (x *Index) upgrade(i int, text, url string) {
	delete(x.byText, titleKey(x.sources[i], ""))
	x.sources[i] = text
	x.byURL[url] = i
}
