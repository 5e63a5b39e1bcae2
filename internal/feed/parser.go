package feed

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/kiranshivaraju/jobingest/pkg/models"
	"golang.org/x/text/encoding/htmlindex"
)

// Item is one feed entry in its loosely-shaped parsed form. Values are strings,
// nested Items, or []any for repeated elements. Keys are lower-cased local
// element names; a nested Item stores its flattened text under TextKey.
type Item map[string]any

// TextKey holds the concatenated descendant text of an element that has children.
const TextKey = "#text"

// ParseMode tags how a Result was produced.
type ParseMode string

const (
	ModeStructured ParseMode = models.ParseModeStructured
	ModeFallback   ParseMode = models.ParseModeFallback
)

// Node is one element of the structural tree built by ParseTree.
// Names are lower-cased local names. Only the href attribute is kept,
// for Atom-style <link href="..."/> elements.
type Node struct {
	Name     string
	Text     string
	Href     string
	Children []*Node
}

// Result is the outcome of Parse.
type Result struct {
	Mode  ParseMode
	Items []Item
	Tree  *Node
}

// itemPaths are the recognised feed shapes, tried in order; the first path
// that yields elements wins.
var itemPaths = [][]string{
	{"rss", "channel", "item"},
	{"rdf", "item"},
	{"feed", "entry"},
	{"jobs", "job"},
	{"channel", "item"},
	{"source", "job"},
}

// identityKeys are the fields that let a normalized job be recognised again on
// the next import.
var identityKeys = []string{"title", "name", "job_title", "position", "guid", "id", "link"}

// Parse turns a raw payload into feed items. The structured parser is tried
// first; when it fails or finds no items, the regex extractor runs against the
// raw text. A tree cut short by the lenient pass is also compared with the
// regex extractor and the larger result wins. ErrMalformedFeed is returned
// only when neither produces anything from a payload that could not be parsed.
func Parse(raw []byte) (*Result, error) {
	tree, partial, err := parseTree(raw)
	if err == nil {
		items := FindItems(tree)
		if partial {
			items = identifiable(items)
			if recovered := ExtractItemsByRegex(raw); len(recovered) > len(items) {
				slog.Warn("feed parse stopped early, using fallback extraction",
					"structured_items", len(items), "items", len(recovered))
				return &Result{Mode: ModeFallback, Items: recovered}, nil
			}
		}
		if len(items) > 0 {
			return &Result{Mode: ModeStructured, Items: items, Tree: tree}, nil
		}
	}

	if items := ExtractItemsByRegex(raw); len(items) > 0 {
		slog.Warn("structured feed parse produced no items, using fallback extraction",
			"items", len(items), "parse_error", err)
		return &Result{Mode: ModeFallback, Items: items}, nil
	}

	if err != nil {
		return nil, err
	}
	return &Result{Mode: ModeStructured, Items: []Item{}, Tree: tree}, nil
}

// ParseTree builds a structural tree from raw XML. The first pass sanitizes the
// payload and decodes it non-strictly; if that fails, attributes are stripped
// and a lenient pass keeps whatever tree was built before the first syntax error.
func ParseTree(raw []byte) (*Node, error) {
	root, _, err := parseTree(raw)
	return root, err
}

// parseTree reports partial when the lenient pass stopped at a syntax error.
func parseTree(raw []byte) (root *Node, partial bool, err error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, false, fmt.Errorf("%w: empty payload", ErrMalformedFeed)
	}

	root, _, err = decodeTree(Sanitize(raw), false)
	if err == nil {
		return root, false, nil
	}

	root, partial, lenientErr := decodeTree(Sanitize(StripAttributes(raw)), true)
	if lenientErr == nil {
		slog.Debug("feed parsed on lenient retry", "first_error", err, "partial", partial)
		return root, partial, nil
	}

	return nil, false, fmt.Errorf("%w: %v; lenient retry: %v", ErrMalformedFeed, err, lenientErr)
}

// identifiable drops items without any identityKeys text.
func identifiable(items []Item) []Item {
	out := items[:0]
	for _, item := range items {
		for _, k := range identityKeys {
			if strings.TrimSpace(TextOf(item[k])) != "" {
				out = append(out, item)
				break
			}
		}
	}
	return out
}

// decodeTree reports stopped when a lenient decode ended at a syntax error
// and returned the tree built so far.
func decodeTree(data []byte, lenient bool) (root *Node, stopped bool, err error) {
	d := xml.NewDecoder(bytes.NewReader(data))
	d.Strict = false
	d.Entity = xml.HTMLEntity
	d.CharsetReader = charsetReader
	if lenient {
		d.CharsetReader = lenientCharsetReader
	}

	var stack []*Node
	for {
		tok, err := d.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if lenient && root != nil && len(root.Children) > 0 {
				return root, true, nil
			}
			return nil, false, err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			n := &Node{Name: strings.ToLower(t.Name.Local)}
			for _, a := range t.Attr {
				if strings.EqualFold(a.Name.Local, "href") {
					n.Href = strings.TrimSpace(a.Value)
				}
			}
			if len(stack) > 0 {
				parent := stack[len(stack)-1]
				parent.Children = append(parent.Children, n)
			} else if root == nil {
				root = n
			}
			stack = append(stack, n)
		case xml.EndElement:
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		case xml.CharData:
			if len(stack) > 0 {
				stack[len(stack)-1].Text += string(t)
			}
		}
	}

	if root == nil {
		return nil, false, errors.New("no root element")
	}
	return root, false, nil
}

func charsetReader(label string, input io.Reader) (io.Reader, error) {
	enc, err := htmlindex.Get(label)
	if err != nil {
		return nil, fmt.Errorf("unsupported charset %q: %w", label, err)
	}
	return enc.NewDecoder().Reader(input), nil
}

// lenientCharsetReader falls back to reading the bytes as-is for unknown labels.
func lenientCharsetReader(label string, input io.Reader) (io.Reader, error) {
	if r, err := charsetReader(label, input); err == nil {
		return r, nil
	}
	return input, nil
}

// FindItems locates the entries of an RSS, Atom or generic jobs document.
func FindItems(root *Node) []Item {
	if root == nil {
		return nil
	}
	for _, path := range itemPaths {
		if root.Name != path[0] {
			continue
		}
		nodes := []*Node{root}
		for _, seg := range path[1:] {
			var next []*Node
			for _, n := range nodes {
				next = append(next, n.childrenNamed(seg)...)
			}
			nodes = next
		}
		if len(nodes) == 0 {
			continue
		}
		items := make([]Item, 0, len(nodes))
		for _, n := range nodes {
			items = append(items, n.toItem())
		}
		return items
	}
	return nil
}

func (n *Node) childrenNamed(name string) []*Node {
	var out []*Node
	for _, c := range n.Children {
		if c.Name == name {
			out = append(out, c)
		}
	}
	return out
}

// InnerText returns the text of n and all its descendants in document order.
func (n *Node) InnerText() string {
	var b strings.Builder
	n.writeText(&b)
	return strings.Join(strings.Fields(b.String()), " ")
}

func (n *Node) writeText(b *strings.Builder) {
	b.WriteString(n.Text)
	for _, c := range n.Children {
		b.WriteByte(' ')
		c.writeText(b)
	}
}

func (n *Node) toItem() Item {
	if v, ok := n.value().(Item); ok {
		return v
	}
	return Item{TextKey: strings.TrimSpace(n.Text)}
}

func (n *Node) value() any {
	if len(n.Children) == 0 {
		text := strings.TrimSpace(n.Text)
		if text == "" && n.Href != "" {
			return n.Href
		}
		return text
	}
	item := Item{}
	for _, c := range n.Children {
		v := c.value()
		switch existing := item[c.Name].(type) {
		case nil:
			item[c.Name] = v
		case []any:
			item[c.Name] = append(existing, v)
		default:
			item[c.Name] = []any{existing, v}
		}
	}
	if text := n.InnerText(); text != "" {
		item[TextKey] = text
	}
	return item
}

// TextOf flattens a parsed value to text: strings as-is, nested Items by their
// descendant text, lists joined with ", ".
func TextOf(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case Item:
		s, _ := t[TextKey].(string)
		return s
	case map[string]any:
		s, _ := t[TextKey].(string)
		return s
	case []any:
		parts := make([]string, 0, len(t))
		for _, e := range t {
			if s := strings.TrimSpace(TextOf(e)); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, ", ")
	default:
		return fmt.Sprint(t)
	}
}
