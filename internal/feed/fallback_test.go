package feed

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractItemsByRegex(t *testing.T) {
	raw := `garbage <<< <item>
  <title><![CDATA[Night Nurse]]></title>
  <description>&lt;p&gt;Shifts &amp; more&lt;/p&gt;</description>
  <employer>St. Mary</employer>
  <city>Leeds</city>
  <pubDate>Mon, 04 Mar 2024 09:00:00 GMT</pubDate>
</item>
<item><title>Porter</title></item>
<item>   </item>`

	items := ExtractItemsByRegex([]byte(raw))
	require.Len(t, items, 2)

	first := items[0]
	assert.Equal(t, "Night Nurse", first["title"])
	assert.Equal(t, "Shifts & more", first["description"])
	assert.Equal(t, "St. Mary", first["company"])
	assert.Equal(t, "Leeds", first["location"])
	assert.Equal(t, "Mon, 04 Mar 2024 09:00:00 GMT", first["pubdate"])

	assert.Equal(t, Item{"title": "Porter"}, items[1])
}

func TestExtractItemsByRegex_EntryWithHrefLink(t *testing.T) {
	raw := `<entry><title>Designer</title><link href="https://d.example/9?a=1&amp;b=2"/><id>9</id></entry>`

	items := ExtractItemsByRegex([]byte(raw))
	require.Len(t, items, 1)
	assert.Equal(t, "https://d.example/9?a=1&b=2", items[0]["link"])
	assert.Equal(t, "9", items[0]["guid"])
}

func TestExtractItemsByRegex_JobBlocks(t *testing.T) {
	raw := `<root><job><title>Chef</title><location>Rome</location></job></root>`

	items := ExtractItemsByRegex([]byte(raw))
	require.Len(t, items, 1)
	assert.Equal(t, "Rome", items[0]["location"])
}

func TestExtractItemsByRegex_NoBlocks(t *testing.T) {
	assert.Nil(t, ExtractItemsByRegex([]byte("<rss><channel/></rss>")))
	assert.Nil(t, ExtractItemsByRegex(nil))
}
