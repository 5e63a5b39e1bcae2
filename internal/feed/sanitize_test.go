package feed

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitize(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		contains []string
		excludes []string
	}{
		{
			name:     "injects xml declaration",
			input:    "<rss></rss>",
			contains: []string{`<?xml version="1.0" encoding="UTF-8"?>`, "<rss></rss>"},
		},
		{
			name:     "keeps existing declaration",
			input:    `<?xml version="1.0" encoding="ISO-8859-1"?><rss/>`,
			contains: []string{`encoding="ISO-8859-1"`},
			excludes: []string{`encoding="UTF-8"`},
		},
		{
			name:     "strips BOM and leading whitespace",
			input:    "\xEF\xBB\xBF  \n<rss/>",
			contains: []string{"?>\n<rss/>"},
			excludes: []string{"\xEF\xBB\xBF"},
		},
		{
			name:     "strips NUL and control bytes",
			input:    "<rss>a\x00b\x0bc</rss>",
			contains: []string{"<rss>abc</rss>"},
		},
		{
			name:     "escapes bare ampersand",
			input:    "<title>Tom & Jerry</title>",
			contains: []string{"Tom &amp; Jerry"},
		},
		{
			name:     "keeps valid entities",
			input:    "<t>&amp; &lt; &#169; &#xA9; &nbsp;</t>",
			contains: []string{"&amp; &lt; &#169; &#xA9; &nbsp;"},
			excludes: []string{"&amp;amp;", "&amp;nbsp;"},
		},
		{
			name:     "leaves CDATA untouched",
			input:    "<d><![CDATA[R&D <b class=x>team</b>]]></d>",
			contains: []string{"<![CDATA[R&D <b class=x>team</b>]]>"},
		},
		{
			name:     "quotes unquoted attributes",
			input:    `<link href=http://x.example/a rel=alternate/>`,
			contains: []string{`<link href="http://x.example/a" rel="alternate"/>`},
		},
		{
			name:     "leaves quoted attributes alone",
			input:    `<a title="x=y" id='1'>t</a>`,
			contains: []string{`<a title="x=y" id='1'>t</a>`},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := string(Sanitize([]byte(tt.input)))
			for _, c := range tt.contains {
				assert.Contains(t, got, c)
			}
			for _, e := range tt.excludes {
				assert.NotContains(t, got, e)
			}
		})
	}
}

func TestSanitize_RepairsInvalidUTF8(t *testing.T) {
	out := Sanitize([]byte("<a>Caf\xe9</a>"))
	assert.Contains(t, string(out), "<a>Caf\uFFFD</a>")

	out = Sanitize([]byte("<?xml version=\"1.0\" encoding=\"utf-8\"?><a>\xff</a>"))
	assert.Contains(t, string(out), "<a>\uFFFD</a>")

	// Other encodings are decoded later by their charset reader.
	latin1 := []byte("<?xml version=\"1.0\" encoding=\"ISO-8859-1\"?><a>Caf\xe9</a>")
	assert.Equal(t, latin1, Sanitize(latin1))
}

func TestSanitize_Idempotent(t *testing.T) {
	input := "<rss><title>A & B</title><link href=x/></rss>"
	once := Sanitize([]byte(input))
	twice := Sanitize(once)
	assert.Equal(t, string(once), string(twice))
}

func TestStripAttributes(t *testing.T) {
	input := `<!DOCTYPE rss SYSTEM "x.dtd"><!-- c --><rss version="2.0"><item a=1 b="2"><link href="u"/></item></rss>`
	got := string(StripAttributes([]byte(input)))

	assert.Equal(t, `<rss><item><link/></item></rss>`, got)
	assert.False(t, strings.Contains(got, "DOCTYPE"))
}
