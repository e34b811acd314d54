// Package style validates user-supplied CSS snippets before they are
// injected into a third-party page. Rules are scoped under a host class so a
// snippet cannot restyle the page outside its container, and constructs that
// reach the network or other documents are dropped.
package style

import (
	"strings"

	"github.com/andybalholm/cascadia"
	cssast "github.com/aymerick/douceur/css"
	"github.com/aymerick/douceur/parser"
)

// Sanitize parses cssText and re-serializes it deterministically with every
// selector prefixed by ".scopeClass ". @import rules, unknown at-rules and
// declarations pulling remote URLs are removed. A syntax error in the
// snippet is returned to the caller; an empty result is valid output.
func Sanitize(cssText, scopeClass string) (string, error) {
	sheet, err := parser.Parse(cssText)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	writeRules(&b, sheet.Rules, scopeClass, "")
	return b.String(), nil
}

func writeRules(b *strings.Builder, rules []*cssast.Rule, scope, indent string) {
	for _, rule := range rules {
		if rule == nil {
			continue
		}
		switch rule.Kind {
		case cssast.AtRule:
			name := strings.ToLower(strings.TrimSpace(rule.Name))
			switch name {
			case "@media", "@supports":
				var inner strings.Builder
				writeRules(&inner, rule.Rules, scope, indent+"  ")
				if inner.Len() == 0 {
					continue
				}
				b.WriteString(indent)
				b.WriteString(name)
				if p := strings.TrimSpace(rule.Prelude); p != "" {
					b.WriteString(" ")
					b.WriteString(p)
				}
				b.WriteString(" {\n")
				b.WriteString(inner.String())
				b.WriteString(indent)
				b.WriteString("}\n")
			default:
				// @import and friends never reach the page.
				continue
			}
		case cssast.QualifiedRule:
			writeQualified(b, rule, scope, indent)
		}
	}
}

func writeQualified(b *strings.Builder, rule *cssast.Rule, scope, indent string) {
	if len(rule.Selectors) == 0 {
		return
	}
	if _, err := cascadia.ParseGroup(strings.Join(rule.Selectors, ",")); err != nil {
		return
	}
	decls := safeDeclarations(rule.Declarations)
	if len(decls) == 0 {
		return
	}
	scoped := make([]string, 0, len(rule.Selectors))
	for _, sel := range rule.Selectors {
		sel = strings.TrimSpace(sel)
		if sel == "" {
			continue
		}
		scoped = append(scoped, "."+scope+" "+sel)
	}
	if len(scoped) == 0 {
		return
	}
	b.WriteString(indent)
	b.WriteString(strings.Join(scoped, ", "))
	b.WriteString(" {\n")
	for _, d := range decls {
		b.WriteString(indent)
		b.WriteString("  ")
		b.WriteString(d.Property)
		b.WriteString(": ")
		b.WriteString(d.Value)
		if d.Important {
			b.WriteString(" !important")
		}
		b.WriteString(";\n")
	}
	b.WriteString(indent)
	b.WriteString("}\n")
}

type declaration struct {
	Property  string
	Value     string
	Important bool
}

func safeDeclarations(list []*cssast.Declaration) []declaration {
	out := make([]declaration, 0, len(list))
	for _, decl := range list {
		if decl == nil {
			continue
		}
		prop := strings.ToLower(strings.TrimSpace(decl.Property))
		val := strings.TrimSpace(decl.Value)
		if prop == "" || val == "" {
			continue
		}
		if hasRemoteURL(val) {
			continue
		}
		out = append(out, declaration{Property: prop, Value: val, Important: decl.Important})
	}
	return out
}

// hasRemoteURL reports whether a declaration value pulls a resource from the
// network. data: URLs stay; anything with a scheme or a protocol-relative
// path goes.
func hasRemoteURL(val string) bool {
	lower := strings.ToLower(val)
	for i := 0; ; {
		j := strings.Index(lower[i:], "url(")
		if j < 0 {
			return false
		}
		i += j + len("url(")
		rest := strings.TrimSpace(lower[i:])
		rest = strings.TrimLeft(rest, "\"'")
		rest = strings.TrimSpace(rest)
		if strings.HasPrefix(rest, "data:") {
			continue
		}
		if strings.HasPrefix(rest, "//") || strings.Contains(firstSegment(rest), ":") {
			return true
		}
	}
}

func firstSegment(s string) string {
	if i := strings.IndexAny(s, ")\"'"); i >= 0 {
		return s[:i]
	}
	return s
}
