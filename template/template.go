// Package template renders the Jinja-style templates used by actor configs
// (`{{ leaf.output_str }} {{ input.data }}`) and extracts the top-level
// identifiers a template references, which become dynamic actor
// dependencies.
package template

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/flosch/pongo2/v6"

	"github.com/hupe1980/agentgraph/value"
)

func init() {
	// Output is plain text for models and users, not HTML.
	pongo2.SetAutoescape(false)
}

// Renderer renders a template against a data map.
type Renderer interface {
	Render(tpl string, data value.Map) (string, error)
}

// PongoRenderer is a Renderer backed by pongo2 that caches compiled templates.
type PongoRenderer struct {
	cache sync.Map // string -> *pongo2.Template
}

// NewRenderer creates a new PongoRenderer.
func NewRenderer() *PongoRenderer {
	return &PongoRenderer{}
}

// Render compiles (or reuses) tpl and executes it against data. Undefined
// variables render as the empty string so partially available data still
// renders.
func (r *PongoRenderer) Render(tpl string, data value.Map) (string, error) {
	if !IsTemplate(tpl) {
		return tpl, nil
	}

	compiled, err := r.compile(tpl)
	if err != nil {
		return "", err
	}

	out, err := compiled.Execute(Context(data))
	if err != nil {
		return "", fmt.Errorf("template: execute: %w", err)
	}

	return out, nil
}

func (r *PongoRenderer) compile(tpl string) (*pongo2.Template, error) {
	if cached, ok := r.cache.Load(tpl); ok {
		return cached.(*pongo2.Template), nil
	}

	compiled, err := pongo2.FromString(tpl)
	if err != nil {
		return nil, fmt.Errorf("template: parse: %w", err)
	}

	r.cache.Store(tpl, compiled)

	return compiled, nil
}

var defaultRenderer = NewRenderer()

// Render renders tpl with the package level renderer.
func Render(tpl string, data value.Map) (string, error) {
	return defaultRenderer.Render(tpl, data)
}

// Default returns the package level renderer.
func Default() Renderer { return defaultRenderer }

// IsTemplate reports whether s contains template markup.
func IsTemplate(s string) bool {
	return strings.Contains(s, "{{") || strings.Contains(s, "{%")
}

// Context converts a value map into a pongo2 context. Integral numbers are
// passed as integers so they render without a fractional part.
func Context(data value.Map) pongo2.Context {
	ctx := make(pongo2.Context, len(data))
	for k, v := range data {
		ctx[k] = templateData(v)
	}
	return ctx
}

func templateData(v value.Value) any {
	switch t := v.(type) {
	case value.Number:
		f := float64(t)
		if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
			return int64(f)
		}
		return f
	case value.List:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = templateData(item)
		}
		return out
	case value.Map:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[k] = templateData(item)
		}
		return out
	}
	return value.ToAny(v)
}

var (
	tagPattern   = regexp.MustCompile(`(?s){{(.*?)}}|{%(.*?)%}`)
	quotePattern = regexp.MustCompile(`"(?:[^"\\]|\\.)*"|'(?:[^'\\]|\\.)*'`)
	identPattern = regexp.MustCompile(`[A-Za-z_][A-Za-z0-9_]*`)
)

var keywords = map[string]struct{}{
	"if": {}, "elif": {}, "else": {}, "endif": {}, "for": {}, "endfor": {}, "in": {},
	"and": {}, "or": {}, "not": {}, "true": {}, "false": {}, "True": {}, "False": {},
	"none": {}, "None": {}, "nil": {}, "set": {}, "with": {}, "endwith": {}, "as": {},
	"is": {}, "reversed": {}, "sorted": {}, "empty": {}, "autoescape": {}, "endautoescape": {},
	"filter": {}, "endfilter": {}, "spaceless": {}, "endspaceless": {}, "comment": {}, "endcomment": {},
	"ifchanged": {}, "endifchanged": {}, "firstof": {}, "cycle": {}, "now": {}, "only": {},
}

// Identifiers returns the sorted set of top-level identifiers referenced by
// tpl, e.g. {"input", "leaf"} for "{{ leaf.output_str }} {{ input.data }}".
// Attribute accesses, filter names and string literals are ignored.
func Identifiers(tpl string) []string {
	seen := map[string]struct{}{}

	for _, m := range tagPattern.FindAllStringSubmatch(tpl, -1) {
		expr := m[1]
		if expr == "" {
			expr = m[2]
		}
		expr = quotePattern.ReplaceAllString(expr, `""`)

		for _, loc := range identPattern.FindAllStringIndex(expr, -1) {
			if isAccessor(expr, loc[0]) {
				continue
			}
			name := expr[loc[0]:loc[1]]
			if _, kw := keywords[name]; kw {
				continue
			}
			seen[name] = struct{}{}
		}
	}

	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)

	return out
}

// isAccessor reports whether the identifier at pos follows '.' or '|'
// (attribute or filter position).
func isAccessor(expr string, pos int) bool {
	for i := pos - 1; i >= 0; i-- {
		switch expr[i] {
		case ' ', '\t', '\n', '\r':
			continue
		case '.', '|':
			return true
		}
		return false
	}
	return false
}

// MapIdentifiers collects the identifiers referenced by every string found
// (recursively) in m.
func MapIdentifiers(m value.Map) []string {
	seen := map[string]struct{}{}
	var walk func(v value.Value)
	walk = func(v value.Value) {
		switch t := v.(type) {
		case value.String:
			for _, id := range Identifiers(string(t)) {
				seen[id] = struct{}{}
			}
		case value.List:
			for _, item := range t {
				walk(item)
			}
		case value.Map:
			for _, item := range t {
				walk(item)
			}
		}
	}
	walk(m)

	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)

	return out
}

// RenderValue renders every string in v against data, keeping the value's
// shape. A string that is exactly one `{{ expr }}` tag and resolves to a
// non-string value is replaced by that value rather than its text form.
func RenderValue(r Renderer, v value.Value, data value.Map) (value.Value, error) {
	switch t := v.(type) {
	case value.String:
		s := string(t)
		if !IsTemplate(s) {
			return t, nil
		}
		if ref, ok := singleReference(s); ok {
			if resolved := value.Get(data, ref...); !value.IsNull(resolved) {
				if _, isStr := resolved.(value.String); !isStr {
					return resolved, nil
				}
			}
		}
		out, err := r.Render(s, data)
		if err != nil {
			return nil, err
		}
		return value.String(out), nil
	case value.List:
		out := make(value.List, len(t))
		for i, item := range t {
			rendered, err := RenderValue(r, item, data)
			if err != nil {
				return nil, err
			}
			out[i] = rendered
		}
		return out, nil
	case value.Map:
		out := make(value.Map, len(t))
		for k, item := range t {
			rendered, err := RenderValue(r, item, data)
			if err != nil {
				return nil, err
			}
			out[k] = rendered
		}
		return out, nil
	}
	return v, nil
}

var singleRefPattern = regexp.MustCompile(`^\s*{{\s*([A-Za-z_][A-Za-z0-9_]*(?:\.[A-Za-z_][A-Za-z0-9_]*)*)\s*}}\s*$`)

func singleReference(s string) ([]string, bool) {
	m := singleRefPattern.FindStringSubmatch(s)
	if m == nil {
		return nil, false
	}
	return strings.Split(m[1], "."), true
}
