package normalize

import (
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/kiranshivaraju/jobingest/internal/feed"
	"github.com/kiranshivaraju/jobingest/pkg/models"
	"github.com/spf13/cast"
)

var (
	reSalaryRange = regexp.MustCompile(`^\s*(.+?)\s*(?:-|–|—|\bto\b)\s*(.+?)\s*$`)
	reAmount      = regexp.MustCompile(`\d[\d,]*(?:\.\d+)?\s*[kK]?`)
	reWhitespace  = regexp.MustCompile(`\s+`)
)

// Layouts tried in order before handing the value to cast.
var dateLayouts = []string{
	time.RFC1123Z,
	time.RFC1123,
	time.RFC3339Nano,
	time.RFC3339,
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"Mon, 2 Jan 2006 15:04:05 MST",
	"2 Jan 2006 15:04:05 -0700",
	time.RFC822Z,
	time.RFC822,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// fields is a case-insensitive view over a feed item.
type fields map[string]any

func newFields(item feed.Item) fields {
	f := make(fields, len(item))
	for k, v := range item {
		key := strings.ToLower(strings.TrimSpace(k))
		if _, exists := f[key]; !exists {
			f[key] = v
		}
	}
	return f
}

// first returns the first non-blank value among keys, coerced to trimmed text.
func (f fields) first(keys ...string) string {
	for _, k := range keys {
		if s := scalarText(f[k]); s != "" {
			return s
		}
	}
	return ""
}

// firstLink is like first but never joins repeated values: Atom entries
// commonly carry several <link> elements and the first one is the canonical URL.
func (f fields) firstLink(keys ...string) string {
	for _, k := range keys {
		v := f[k]
		if list, ok := v.([]any); ok {
			for _, e := range list {
				if s := scalarText(e); s != "" {
					return s
				}
			}
			continue
		}
		if s := scalarText(v); s != "" {
			return s
		}
	}
	return ""
}

// list accepts a native list or a comma-separated string.
func (f fields) list(keys ...string) []string {
	for _, k := range keys {
		var out []string
		switch v := f[k].(type) {
		case nil:
			continue
		case []any:
			for _, e := range v {
				out = append(out, splitList(scalarText(e))...)
			}
		case []string:
			for _, e := range v {
				out = append(out, splitList(e)...)
			}
		default:
			out = splitList(scalarText(v))
		}
		if len(out) > 0 {
			return dedupe(out)
		}
	}
	return nil
}

func (f fields) boolean(keys ...string) (bool, bool) {
	for _, k := range keys {
		s := strings.ToLower(scalarText(f[k]))
		if s == "" {
			continue
		}
		switch s {
		case "yes", "y":
			return true, true
		case "no", "n":
			return false, true
		}
		if b, err := cast.ToBoolE(s); err == nil {
			return b, true
		}
	}
	return false, false
}

func (f fields) salary() models.Salary {
	var s models.Salary

	s.Min = parseAmount(f.first("salary_min", "min_salary"))
	s.Max = parseAmount(f.first("salary_max", "max_salary"))
	s.Currency = strings.ToUpper(f.first("salary_currency", "currency"))
	s.Period = strings.ToLower(f.first("salary_period", "period"))

	var text string
	switch v := f["salary"].(type) {
	case feed.Item:
		nested := newFields(v)
		if s.Min == nil {
			s.Min = parseAmount(nested.first("min", "minvalue", "from"))
		}
		if s.Max == nil {
			s.Max = parseAmount(nested.first("max", "maxvalue", "to"))
		}
		if s.Currency == "" {
			s.Currency = strings.ToUpper(nested.first("currency"))
		}
		if s.Period == "" {
			s.Period = strings.ToLower(nested.first("period", "unittext", "unit"))
		}
		if s.Min == nil && s.Max == nil {
			text = nested.first("value", feed.TextKey)
		}
	default:
		text = scalarText(v)
	}

	if text != "" && s.Min == nil && s.Max == nil {
		if m := reSalaryRange.FindStringSubmatch(text); m != nil {
			s.Min = parseAmount(m[1])
			s.Max = parseAmount(m[2])
		}
		if s.Min == nil && s.Max == nil {
			s.Min = parseAmount(text)
		}
	}
	if text != "" {
		if s.Currency == "" {
			s.Currency = currencyFromText(text)
		}
		if s.Period == "" {
			s.Period = periodFromText(text)
		}
	}

	return s
}

// scalarText flattens any parsed value to trimmed text.
func scalarText(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return collapse(t)
	case feed.Item, map[string]any:
		return collapse(feed.TextOf(t))
	case []any:
		for _, e := range t {
			if s := scalarText(e); s != "" {
				return s
			}
		}
		return ""
	}
	s, err := cast.ToStringE(v)
	if err != nil {
		return collapse(feed.TextOf(v))
	}
	return collapse(s)
}

func collapse(s string) string {
	return strings.TrimSpace(reWhitespace.ReplaceAllString(s, " "))
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := in[:0]
	for _, s := range in {
		key := strings.ToLower(s)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, s)
	}
	return out
}

func parseAmount(s string) *float64 {
	m := reAmount.FindString(s)
	if m == "" {
		return nil
	}
	m = strings.ReplaceAll(strings.TrimSpace(m), ",", "")
	mult := 1.0
	if strings.HasSuffix(m, "k") || strings.HasSuffix(m, "K") {
		mult = 1000
		m = strings.TrimSpace(m[:len(m)-1])
	}
	v, err := cast.ToFloat64E(m)
	if err != nil {
		return nil
	}
	v *= mult
	return &v
}

func currencyFromText(s string) string {
	upper := strings.ToUpper(s)
	for _, code := range []string{"USD", "EUR", "GBP", "CAD", "AUD", "INR", "CHF", "JPY"} {
		if strings.Contains(upper, code) {
			return code
		}
	}
	switch {
	case strings.Contains(s, "€"):
		return "EUR"
	case strings.Contains(s, "£"):
		return "GBP"
	case strings.Contains(s, "₹"):
		return "INR"
	case strings.Contains(s, "$"):
		return "USD"
	}
	return ""
}

func periodFromText(s string) string {
	lower := strings.ToLower(s)
	switch {
	case strings.Contains(lower, "hour") || strings.Contains(lower, "/hr"):
		return "hour"
	case strings.Contains(lower, "day") || strings.Contains(lower, "daily"):
		return "day"
	case strings.Contains(lower, "week"):
		return "week"
	case strings.Contains(lower, "month"):
		return "month"
	case strings.Contains(lower, "year") || strings.Contains(lower, "annum") ||
		strings.Contains(lower, "annual") || strings.Contains(lower, "/yr"):
		return "year"
	}
	return ""
}

func parseTime(s string) (time.Time, bool) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	if t, err := cast.ToTimeE(s); err == nil {
		return t, true
	}
	return time.Time{}, false
}

// truncateString truncates s to maxBytes without splitting UTF-8 runes.
func truncateString(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	for maxBytes > 0 && !utf8.RuneStart(s[maxBytes]) {
		maxBytes--
	}
	return s[:maxBytes]
}
