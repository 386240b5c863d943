// Package rating holds the static tables that classify elements and weigh
// attributes during downsampling. Tables are immutable after construction and
// safe for concurrent use.
package rating

import (
	"math"
	"sort"
	"strings"
)

// Category is the downsampling role of an element.
type Category int

const (
	// Other elements have no rating and are treated as decorative noise.
	Other Category = iota
	// Container elements wrap structure and are candidates for merging.
	Container
	// Interactive elements carry affordances an agent can act on.
	Interactive
	// Content elements are converted to Markdown text.
	Content
)

func (c Category) String() string {
	switch c {
	case Container:
		return "container"
	case Interactive:
		return "interactive"
	case Content:
		return "content"
	default:
		return "other"
	}
}

// UniqueIDAttribute is stamped on container and interactive elements when
// stable identifiers are requested.
const UniqueIDAttribute = "data-uid"

// Table is a read-only rating model.
type Table struct {
	containers  map[string]float64
	interactive map[string]struct{}
	content     map[string]struct{}
	attributes  map[string]float64
	// wildcard prefixes sorted longest first so the most specific one wins
	prefixes []prefixWeight
}

type prefixWeight struct {
	prefix string
	weight float64
}

// New builds a table. Attribute names ending in "*" are prefix patterns.
// Inputs are copied; later changes to the maps do not affect the table.
func New(containers map[string]float64, interactive, content []string, attributes map[string]float64) *Table {
	t := &Table{
		containers:  make(map[string]float64, len(containers)),
		interactive: make(map[string]struct{}, len(interactive)),
		content:     make(map[string]struct{}, len(content)),
		attributes:  make(map[string]float64, len(attributes)),
	}
	for tag, w := range containers {
		t.containers[strings.ToLower(tag)] = w
	}
	for _, tag := range interactive {
		t.interactive[strings.ToLower(tag)] = struct{}{}
	}
	for _, tag := range content {
		t.content[strings.ToLower(tag)] = struct{}{}
	}
	for name, w := range attributes {
		name = strings.ToLower(name)
		if strings.HasSuffix(name, "*") {
			t.prefixes = append(t.prefixes, prefixWeight{prefix: strings.TrimSuffix(name, "*"), weight: w})
			continue
		}
		t.attributes[name] = w
	}
	sort.Slice(t.prefixes, func(i, j int) bool {
		if len(t.prefixes[i].prefix) != len(t.prefixes[j].prefix) {
			return len(t.prefixes[i].prefix) > len(t.prefixes[j].prefix)
		}
		return t.prefixes[i].prefix < t.prefixes[j].prefix
	})
	return t
}

// Classify returns the category of a tag. Lookup priority is container,
// then interactive, then content.
func (t *Table) Classify(tag string) Category {
	tag = strings.ToLower(tag)
	if _, ok := t.containers[tag]; ok {
		return Container
	}
	if _, ok := t.interactive[tag]; ok {
		return Interactive
	}
	if _, ok := t.content[tag]; ok {
		return Content
	}
	return Other
}

// IsContainer reports whether tag is a container element.
func (t *Table) IsContainer(tag string) bool { return t.Classify(tag) == Container }

// ContainerWeight returns the semantic weight of a container tag, or negative
// infinity when tag is not a container.
func (t *Table) ContainerWeight(tag string) float64 {
	if w, ok := t.containers[strings.ToLower(tag)]; ok {
		return w
	}
	return math.Inf(-1)
}

// AttributeWeight returns the importance of an attribute name. Exact names
// win over wildcard patterns. The boolean is false for unrated attributes.
func (t *Table) AttributeWeight(name string) (float64, bool) {
	if name == "" {
		return 0, false
	}
	name = strings.ToLower(name)
	if w, ok := t.attributes[name]; ok {
		return w, true
	}
	for _, p := range t.prefixes {
		if strings.HasPrefix(name, p.prefix) {
			return p.weight, true
		}
	}
	return 0, false
}

// Tags returns the tag names of a category in sorted order.
func (t *Table) Tags(c Category) []string {
	var out []string
	switch c {
	case Container:
		for tag := range t.containers {
			out = append(out, tag)
		}
	case Interactive:
		for tag := range t.interactive {
			out = append(out, tag)
		}
	case Content:
		for tag := range t.content {
			out = append(out, tag)
		}
	}
	sort.Strings(out)
	return out
}

// Attributes returns every rated attribute name, wildcards included with
// their trailing "*", in sorted order.
func (t *Table) Attributes() []string {
	out := make([]string, 0, len(t.attributes)+len(t.prefixes))
	for name := range t.attributes {
		out = append(out, name)
	}
	for _, p := range t.prefixes {
		out = append(out, p.prefix+"*")
	}
	sort.Strings(out)
	return out
}
