// Package transcript turns a conversation captured from a chat page into a
// portable markdown export. Input is either a ready sequence of role-tagged
// text blocks or raw page HTML plus CSS selectors locating each side of the
// conversation.
package transcript

import (
	"io"
	"strings"

	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
)

// Role tags one conversation block.
type Role int

const (
	RoleUnknown Role = iota
	RoleUser
	RoleModel
	RoleSystem
)

func (r Role) String() string {
	switch r {
	case RoleUser:
		return "User"
	case RoleModel:
		return "Model"
	case RoleSystem:
		return "System"
	}
	return "Unknown"
}

// ParseRole maps the role spellings seen across chat UIs onto Role.
func ParseRole(s string) Role {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "user", "human", "you":
		return RoleUser
	case "model", "assistant", "ai", "bot":
		return RoleModel
	case "system":
		return RoleSystem
	}
	return RoleUnknown
}

// Block is one role-tagged slice of conversation text.
type Block struct {
	Role Role
	Text string
}

// Render produces the markdown export. Blocks with empty text are dropped.
func Render(title string, blocks []Block) string {
	var b strings.Builder
	if t := strings.TrimSpace(title); t != "" {
		b.WriteString("# ")
		b.WriteString(t)
		b.WriteString("\n\n")
	}
	for _, blk := range blocks {
		text := strings.TrimSpace(blk.Text)
		if text == "" {
			continue
		}
		b.WriteString("**")
		b.WriteString(blk.Role.String())
		b.WriteString(":**\n")
		b.WriteString(text)
		b.WriteString("\n\n")
	}
	return b.String()
}

// Selectors locate conversation blocks in page HTML. Each value is a CSS
// selector group.
type Selectors struct {
	User  string
	Model string
}

// DefaultSelectors matches the block classes of the supported chat page.
func DefaultSelectors() Selectors {
	return Selectors{
		User:  ".user-query, [data-role=user]",
		Model: ".model-response, [data-role=model]",
	}
}

// Extract parses page HTML and returns the matched blocks in document order.
// A matched element is not descended into, so nested matches cannot
// duplicate text.
func Extract(r io.Reader, sel Selectors) ([]Block, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, err
	}
	userSel, err := cascadia.ParseGroup(sel.User)
	if err != nil {
		return nil, err
	}
	modelSel, err := cascadia.ParseGroup(sel.Model)
	if err != nil {
		return nil, err
	}

	var blocks []Block
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch {
			case matchGroup(userSel, n):
				blocks = append(blocks, Block{Role: RoleUser, Text: textContent(n)})
				return
			case matchGroup(modelSel, n):
				blocks = append(blocks, Block{Role: RoleModel, Text: textContent(n)})
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return blocks, nil
}

func matchGroup(group cascadia.SelectorGroup, n *html.Node) bool {
	for _, s := range group {
		if s != nil && s.Match(n) {
			return true
		}
	}
	return false
}

// textContent collects the text of a subtree with runs of whitespace
// collapsed, inserting paragraph breaks at block-level boundaries.
func textContent(n *html.Node) string {
	var parts []string
	var cur strings.Builder
	flush := func() {
		if s := strings.Join(strings.Fields(cur.String()), " "); s != "" {
			parts = append(parts, s)
		}
		cur.Reset()
	}
	var visit func(*html.Node)
	visit = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			cur.WriteString(n.Data)
		case html.ElementNode:
			if isBlockElement(n.Data) {
				flush()
			}
			for c := n.FirstChild; c != nil; c = c.NextSibling {
				visit(c)
			}
			if isBlockElement(n.Data) {
				flush()
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			visit(c)
		}
	}
	visit(n)
	flush()
	return strings.Join(parts, "\n")
}

func isBlockElement(tag string) bool {
	switch strings.ToLower(tag) {
	case "p", "div", "li", "br", "pre", "blockquote", "h1", "h2", "h3", "h4", "h5", "h6", "tr":
		return true
	}
	return false
}
