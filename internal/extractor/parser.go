package extractor

import (
	netUrl "net/url"
	"regexp"
	"strings"
)

// FieldKind identifies which tag a value came from.
type FieldKind string

const (
	KindOGImage      FieldKind = "og_image"
	KindTwitterImage FieldKind = "twitter_image"
	KindGenericImage FieldKind = "generic_image"
	KindOGTitle      FieldKind = "og_title"
	KindTwitterTitle FieldKind = "twitter_title"
	KindTitleTag     FieldKind = "title_tag"
	// KindHostname marks the last-resort title label; it never comes from the document.
	KindHostname FieldKind = "hostname"
)

// Field is a decoded value found in a document.
type Field struct {
	Kind  FieldKind
	Value string
}

// Matcher returns the raw (still entity-encoded) value it finds in html.
type Matcher interface {
	Match(html string) (string, bool)
}

// Candidate pairs a field kind with the matcher that finds it.
type Candidate struct {
	Kind    FieldKind
	Matcher Matcher
}

// metaMatcher finds <meta property|name="key" content="value"> in either attribute order.
// The earliest matching tag in the document wins.
type metaMatcher struct {
	re *regexp.Regexp
}

// quotedValue captures a value between matching quotes; the unused group stays empty.
const quotedValue = `(?:"([^"]*)"|'([^']*)')`

// MetaTag builds a matcher for the meta tag whose property or name equals key.
// Attribute names must start after whitespace, so data-name or data-content never match.
func MetaTag(key string) Matcher {
	k := regexp.QuoteMeta(key)
	keyAttr := `(?:property|name)\s*=\s*(?:"` + k + `"|'` + k + `')`
	contentAttr := `content\s*=\s*` + quotedValue
	return &metaMatcher{
		re: regexp.MustCompile(`(?is)<meta\s(?:[^>]*?\s)?(?:` +
			keyAttr + `[^>]*?\s` + contentAttr + `|` +
			contentAttr + `[^>]*?\s` + keyAttr + `)`),
	}
}

func (m *metaMatcher) Match(html string) (string, bool) {
	return firstGroup(m.re.FindStringSubmatch(html))
}

type titleTagMatcher struct{}

var titleTagRe = regexp.MustCompile(`(?is)<title\b[^>]*>(.*?)</title\s*>`)

// TitleTag matches the text of the first <title> element.
func TitleTag() Matcher {
	return titleTagMatcher{}
}

func (titleTagMatcher) Match(html string) (string, bool) {
	return firstGroup(titleTagRe.FindStringSubmatch(html))
}

func firstGroup(match []string) (string, bool) {
	if match == nil {
		return "", false
	}
	for _, group := range match[1:] {
		if group != "" {
			return group, true
		}
	}
	return "", true
}

// ImageCandidates is the preview image fallback chain.
var ImageCandidates = []Candidate{
	{Kind: KindOGImage, Matcher: MetaTag("og:image")},
	{Kind: KindOGImage, Matcher: MetaTag("og:image:secure_url")},
	{Kind: KindTwitterImage, Matcher: MetaTag("twitter:image")},
	{Kind: KindTwitterImage, Matcher: MetaTag("twitter:image:src")},
	{Kind: KindGenericImage, Matcher: MetaTag("image")},
	{Kind: KindGenericImage, Matcher: MetaTag("thumbnail")},
}

// TitleCandidates is the title fallback chain. The hostname label is applied by the Extractor.
var TitleCandidates = []Candidate{
	{Kind: KindOGTitle, Matcher: MetaTag("og:title")},
	{Kind: KindTwitterTitle, Matcher: MetaTag("twitter:title")},
	{Kind: KindTitleTag, Matcher: TitleTag()},
}

// ExtractField returns the first candidate, in the given order, with a non-blank value.
// Later candidates are not evaluated once one matches.
func ExtractField(html string, candidates []Candidate) (Field, bool) {
	for _, c := range candidates {
		raw, ok := c.Matcher.Match(html)
		if !ok {
			continue
		}
		value := DecodeEntities(raw)
		if c.Kind == KindTitleTag {
			value = collapseSpace(value)
		} else {
			value = strings.TrimSpace(value)
		}
		if value == "" {
			continue
		}
		return Field{Kind: c.Kind, Value: value}, true
	}
	return Field{}, false
}

var entityReplacer = strings.NewReplacer(
	"&amp;", "&",
	"&lt;", "<",
	"&gt;", ">",
	"&quot;", `"`,
	"&#x27;", "'",
	"&#x2F;", "/",
)

// DecodeEntities decodes the fixed entity set in one pass; "&amp;lt;" becomes "&lt;".
func DecodeEntities(s string) string {
	return entityReplacer.Replace(s)
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// ResolveImageURL resolves raw against the page URL. Protocol-relative values inherit the
// page scheme, rooted and bare paths inherit scheme and host, absolute URLs pass through.
func ResolveImageURL(pageURL, raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	page, err := netUrl.Parse(pageURL)
	if err != nil || page.Scheme == "" || page.Host == "" {
		return "", false
	}
	switch {
	case strings.HasPrefix(raw, "//"):
		return page.Scheme + ":" + raw, true
	case strings.HasPrefix(raw, "/"):
		return page.Scheme + "://" + page.Host + raw, true
	}
	if u, err := netUrl.Parse(raw); err == nil && u.IsAbs() {
		return raw, true
	}
	return page.Scheme + "://" + page.Host + "/" + raw, true
}
