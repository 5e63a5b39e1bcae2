package feed

import (
	"bytes"
	"regexp"
	"strings"
)

const defaultXMLDecl = `<?xml version="1.0" encoding="UTF-8"?>`

// Cleaning regexes compiled once at package init.
var (
	reCDATA     = regexp.MustCompile(`(?s)<!\[CDATA\[.*?\]\]>`)
	reEntity    = regexp.MustCompile(`^&(?:#[0-9]+|#[xX][0-9a-fA-F]+|[A-Za-z][A-Za-z0-9]{0,31});`)
	reStartTag  = regexp.MustCompile(`<[A-Za-z_][^<>]*>`)
	reAttrTag   = regexp.MustCompile(`<([A-Za-z_][\w:.\-]*)(?:\s[^<>]*?)?(/?)>`)
	reDoctype   = regexp.MustCompile(`(?is)<!DOCTYPE[^>\[]*(?:\[.*?\])?\s*>`)
	reComment   = regexp.MustCompile(`(?s)<!--.*?-->`)
	reBadPrefix = regexp.MustCompile(`^[\s\x{FEFF}]+`)
	reDeclEnc   = regexp.MustCompile(`(?i)^\s*<\?xml[^>]*?\bencoding\s*=\s*["']([^"']+)["']`)
)

var utf8BOM = []byte("\xEF\xBB\xBF")

// Sanitize repairs the most common feed markup defects: BOM and control bytes,
// invalid UTF-8 in UTF-8 documents, bare ampersands, a missing XML declaration
// and unquoted attribute values. CDATA sections are passed through untouched.
func Sanitize(raw []byte) []byte {
	data := bytes.TrimPrefix(raw, utf8BOM)
	if declaresUTF8(data) {
		data = bytes.ToValidUTF8(data, []byte("\uFFFD"))
	}
	data = stripControlBytes(data)
	data = reBadPrefix.ReplaceAll(data, nil)

	data = mapOutsideCDATA(data, func(seg []byte) []byte {
		seg = escapeAmpersands(seg)
		return reStartTag.ReplaceAllFunc(seg, quoteAttributes)
	})

	if !bytes.HasPrefix(data, []byte("<?xml")) {
		out := make([]byte, 0, len(defaultXMLDecl)+1+len(data))
		out = append(out, defaultXMLDecl...)
		out = append(out, '\n')
		data = append(out, data...)
	}
	return data
}

// declaresUTF8 reports whether data is UTF-8 by declaration or by default.
func declaresUTF8(data []byte) bool {
	m := reDeclEnc.FindSubmatch(data)
	if m == nil {
		return true
	}
	enc := strings.ToLower(strings.TrimSpace(string(m[1])))
	return enc == "utf-8" || enc == "utf8"
}

// StripAttributes is the aggressive second-pass cleaner: every attribute,
// DOCTYPE and comment is removed so only element structure and text remain.
func StripAttributes(raw []byte) []byte {
	data := bytes.TrimPrefix(raw, utf8BOM)
	return mapOutsideCDATA(data, func(seg []byte) []byte {
		seg = reComment.ReplaceAll(seg, nil)
		seg = reDoctype.ReplaceAll(seg, nil)
		return reAttrTag.ReplaceAll(seg, []byte("<$1$2>"))
	})
}

// stripControlBytes drops NUL and every other byte that is illegal in XML 1.0.
func stripControlBytes(data []byte) []byte {
	clean := true
	for _, c := range data {
		if c < 0x20 && c != '\t' && c != '\n' && c != '\r' {
			clean = false
			break
		}
	}
	if clean {
		return data
	}
	out := make([]byte, 0, len(data))
	for _, c := range data {
		if c < 0x20 && c != '\t' && c != '\n' && c != '\r' {
			continue
		}
		out = append(out, c)
	}
	return out
}

// mapOutsideCDATA applies fn to every segment of data that is not a CDATA section.
func mapOutsideCDATA(data []byte, fn func([]byte) []byte) []byte {
	locs := reCDATA.FindAllIndex(data, -1)
	if len(locs) == 0 {
		return fn(data)
	}
	var out bytes.Buffer
	out.Grow(len(data))
	prev := 0
	for _, loc := range locs {
		out.Write(fn(data[prev:loc[0]]))
		out.Write(data[loc[0]:loc[1]])
		prev = loc[1]
	}
	out.Write(fn(data[prev:]))
	return out.Bytes()
}

func escapeAmpersands(seg []byte) []byte {
	if bytes.IndexByte(seg, '&') < 0 {
		return seg
	}
	var out bytes.Buffer
	out.Grow(len(seg) + 16)
	for i := 0; i < len(seg); i++ {
		if seg[i] == '&' && !reEntity.Match(seg[i:]) {
			out.WriteString("&amp;")
			continue
		}
		out.WriteByte(seg[i])
	}
	return out.Bytes()
}

// quoteAttributes rewrites name=value pairs inside one start tag as name="value".
func quoteAttributes(tag []byte) []byte {
	if bytes.IndexByte(tag, '=') < 0 {
		return tag
	}
	out := make([]byte, 0, len(tag)+8)
	var quote byte
	for i := 0; i < len(tag); i++ {
		c := tag[i]
		if quote != 0 {
			out = append(out, c)
			if c == quote {
				quote = 0
			}
			continue
		}
		if c == '"' || c == '\'' {
			quote = c
			out = append(out, c)
			continue
		}
		if c != '=' {
			out = append(out, c)
			continue
		}

		out = append(out, c)
		j := i + 1
		for j < len(tag) && isSpace(tag[j]) {
			j++
		}
		if j >= len(tag) || tag[j] == '"' || tag[j] == '\'' || tag[j] == '>' {
			out = append(out, tag[i+1:j]...)
			i = j - 1
			continue
		}
		k := j
		for k < len(tag) && !isSpace(tag[k]) && tag[k] != '>' && !(tag[k] == '/' && k+1 < len(tag) && tag[k+1] == '>') {
			k++
		}
		out = append(out, '"')
		out = append(out, bytes.ReplaceAll(tag[j:k], []byte(`"`), []byte("&quot;"))...)
		out = append(out, '"')
		i = k - 1
	}
	return out
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}
