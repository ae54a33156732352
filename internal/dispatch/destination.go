package dispatch

import (
	"net/url"
	"strings"

	"github.com/antzucaro/matchr"
)

// Destination is one openable app or website.
type Destination struct {
	// Name is the lower-case spoken name, e.g. "youtube music".
	Name string `yaml:"name" json:"name" validate:"required"`

	// URL is opened when no search is requested.
	URL string `yaml:"url" json:"url" validate:"required,url"`

	// Search, if set, is a URL prefix the escaped query is appended to.
	Search string `yaml:"search,omitempty" json:"search,omitempty"`
}

// SearchURL returns the search URL for query. The second result is false when
// the destination has no search template.
func (d Destination) SearchURL(query string) (string, bool) {
	if d.Search == "" {
		return "", false
	}
	return d.Search + escapeComponent(query), true
}

// escapeComponent escapes s for use anywhere in a URL, encoding spaces as %20.
func escapeComponent(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

// DefaultDestinations returns the built-in destination table in its display
// order.
func DefaultDestinations() []Destination {
	return []Destination{
		{Name: "youtube", URL: "https://youtube.com", Search: "https://youtube.com/results?search_query="},
		{Name: "netflix", URL: "https://netflix.com", Search: "https://netflix.com/search?q="},
		{Name: "pluto tv", URL: "https://pluto.tv"},
		{Name: "pluto", URL: "https://pluto.tv"},
		{Name: "plex", URL: "https://app.plex.tv", Search: "https://app.plex.tv/desktop/#!/search?query="},
		{Name: "youtube music", URL: "https://music.youtube.com", Search: "https://music.youtube.com/search?q="},
		{Name: "spotify", URL: "https://open.spotify.com", Search: "https://open.spotify.com/search/"},
		{Name: "disney", URL: "https://disneyplus.com"},
		{Name: "disney plus", URL: "https://disneyplus.com"},
		{Name: "primevideo", URL: "https://primevideo.com"},
		{Name: "prime video", URL: "https://primevideo.com"},
		{Name: "amazon", URL: "https://primevideo.com"},
	}
}

// fuzzyThreshold is the minimum Jaro-Winkler score for a fuzzy name match.
const fuzzyThreshold = 0.92

// Table resolves spoken names to destinations. It is read-only after
// construction and safe for concurrent use.
type Table struct {
	order  []string
	byName map[string]Destination
}

// NewTable builds a table from the defaults followed by extra. Extra entries
// override defaults with the same name.
func NewTable(extra ...Destination) *Table {
	t := &Table{byName: make(map[string]Destination)}
	for _, d := range append(DefaultDestinations(), extra...) {
		key := normalize(d.Name)
		if key == "" {
			continue
		}
		if _, dup := t.byName[key]; !dup {
			t.order = append(t.order, key)
		}
		d.Name = key
		t.byName[key] = d
	}
	return t
}

// Names returns every destination name in table order.
func (t *Table) Names() []string {
	out := make([]string, len(t.order))
	copy(out, t.order)
	return out
}

// Lookup resolves name case-insensitively. When no entry matches exactly, the
// closest name by Jaro-Winkler similarity or Double Metaphone code is used, so
// "you tube" and "spottify" still resolve.
func (t *Table) Lookup(name string) (Destination, bool) {
	key := normalize(name)
	if key == "" {
		return Destination{}, false
	}
	if d, ok := t.byName[key]; ok {
		return d, true
	}
	if best, ok := t.closest(key); ok {
		return t.byName[best], true
	}
	return Destination{}, false
}

func (t *Table) closest(key string) (string, bool) {
	compact := strings.ReplaceAll(key, " ", "")
	code, _ := matchr.DoubleMetaphone(compact)

	var (
		best  string
		score float64
	)
	for _, name := range t.order {
		nameCompact := strings.ReplaceAll(name, " ", "")
		s := matchr.JaroWinkler(key, name, false)
		if c := matchr.JaroWinkler(compact, nameCompact, false); c > s {
			s = c
		}
		phonetic := false
		if len(code) >= 3 {
			p, alt := matchr.DoubleMetaphone(nameCompact)
			phonetic = code == p || code == alt
		}
		if s < fuzzyThreshold && !phonetic {
			continue
		}
		if s > score {
			best, score = name, s
		}
	}
	return best, best != ""
}

func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
