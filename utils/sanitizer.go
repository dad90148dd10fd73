package utils

import "github.com/microcosm-cc/bluemonday"

var (
	// StrictPolicy strips all HTML.
	StrictPolicy *bluemonday.Policy
	// UGCPolicy allows the common rich-text elements found in mail bodies.
	UGCPolicy *bluemonday.Policy
)

func init() {
	StrictPolicy = bluemonday.StrictPolicy()

	UGCPolicy = bluemonday.UGCPolicy()
	UGCPolicy.AllowElements("p", "br", "div", "span", "h1", "h2", "h3", "h4", "h5", "h6")
	UGCPolicy.AllowElements("strong", "em", "u", "s", "code", "pre")
	UGCPolicy.AllowElements("ul", "ol", "li")
	UGCPolicy.AllowElements("blockquote")
	UGCPolicy.AllowElements("a", "img")
	UGCPolicy.AllowElements("table", "thead", "tbody", "tr", "th", "td")

	UGCPolicy.AllowAttrs("href").OnElements("a")
	UGCPolicy.AllowAttrs("src", "alt", "title", "width", "height").OnElements("img")
	UGCPolicy.AllowAttrs("class", "id").Globally()
	UGCPolicy.AllowAttrs("style").OnElements("span", "div", "p")

	UGCPolicy.RequireParseableURLs(true)
	UGCPolicy.AllowURLSchemes("http", "https", "mailto")
}

// SanitizeHTML sanitizes an inbound HTML mail body before it is placed in a
// JSON response, using the UGC policy.
func SanitizeHTML(html string) string {
	return UGCPolicy.Sanitize(html)
}

// StripHTML removes all HTML tags, used to build plain-text previews from
// an HTML-only body.
func StripHTML(html string) string {
	return StrictPolicy.Sanitize(html)
}
