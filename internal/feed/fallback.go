package feed

import (
	"html"
	"regexp"
	"strings"
)

type fallbackField struct {
	key  string
	tags []string
}

// Fields recovered by the regex extractor, each from the first tag that matches.
var fallbackFields = []fallbackField{
	{key: "title", tags: []string{"title"}},
	{key: "description", tags: []string{"description", "summary", "content"}},
	{key: "link", tags: []string{"link"}},
	{key: "company", tags: []string{"company", "employer", "organization"}},
	{key: "location", tags: []string{"location", "city", "place"}},
	{key: "guid", tags: []string{"guid", "id"}},
	{key: "pubdate", tags: []string{"pubdate", "published", "date"}},
}

var fallbackBlockTags = []string{"item", "entry", "job"}

var (
	reBlock      = map[string]*regexp.Regexp{}
	reField      = map[string]*regexp.Regexp{}
	reLinkHref   = regexp.MustCompile(`(?is)<link\b[^>]*?\bhref\s*=\s*["']?([^"'\s>]+)`)
	reCDATAInner = regexp.MustCompile(`(?s)<!\[CDATA\[(.*?)\]\]>`)
	reAnyTag     = regexp.MustCompile(`(?s)<[^>]*>`)
)

func init() {
	for _, tag := range fallbackBlockTags {
		reBlock[tag] = elementPattern(tag)
	}
	for _, f := range fallbackFields {
		for _, tag := range f.tags {
			reField[tag] = elementPattern(tag)
		}
	}
}

func elementPattern(tag string) *regexp.Regexp {
	return regexp.MustCompile(`(?is)<` + tag + `(?:\s[^>]*)?>(.*?)</` + tag + `\s*>`)
}

// ExtractItemsByRegex is the last-resort extractor for payloads the structured
// parser cannot handle. It pattern-matches <item>, <entry> or <job> blocks
// (the first tag with matches wins) and pulls a fixed set of fields from each.
// Blocks that yield no field at all are skipped.
func ExtractItemsByRegex(raw []byte) []Item {
	text := string(raw)
	for _, tag := range fallbackBlockTags {
		blocks := reBlock[tag].FindAllStringSubmatch(text, -1)
		if len(blocks) == 0 {
			continue
		}
		items := make([]Item, 0, len(blocks))
		for _, b := range blocks {
			if item := extractFields(b[1]); len(item) > 0 {
				items = append(items, item)
			}
		}
		if len(items) > 0 {
			return items
		}
	}
	return nil
}

func extractFields(block string) Item {
	item := Item{}
	for _, f := range fallbackFields {
		for _, tag := range f.tags {
			m := reField[tag].FindStringSubmatch(block)
			if m == nil {
				continue
			}
			if v := cleanFallbackText(m[1]); v != "" {
				item[f.key] = v
				break
			}
		}
	}
	if _, ok := item["link"]; !ok {
		if m := reLinkHref.FindStringSubmatch(block); m != nil {
			item["link"] = html.UnescapeString(m[1])
		}
	}
	return item
}

func cleanFallbackText(s string) string {
	s = strings.ToValidUTF8(s, "\uFFFD")
	s = reCDATAInner.ReplaceAllString(s, "$1")
	s = reAnyTag.ReplaceAllString(s, " ")
	s = html.UnescapeString(s)
	// Entities such as &lt;p&gt; decode into markup; strip it once more.
	s = reAnyTag.ReplaceAllString(s, " ")
	return strings.Join(strings.Fields(s), " ")
}
