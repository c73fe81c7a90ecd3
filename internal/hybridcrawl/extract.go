package hybridcrawl

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// extracted is the raw page-level facts pulled out of a fetched document,
// before link sanitization.
type extracted struct {
	title string
	meta  Metadata
	hrefs []string
}

// extractPage parses html and pulls out title, metadata, and outbound link
// hrefs (not yet resolved/sanitized). It is shared by the Static and Dynamic
// Fetcher result paths so both produce identical PageResult shapes.
func extractPage(html []byte, contentType string) extracted {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(html)))
	if err != nil {
		return extracted{meta: Metadata{ContentType: contentType}}
	}

	out := extracted{
		title: strings.TrimSpace(doc.Find("title").First().Text()),
		meta: Metadata{
			ContentType: contentType,
			Language:    strings.TrimSpace(doc.Find("html").First().AttrOr("lang", "")),
		},
	}

	out.meta.Description = firstMetaContent(doc, "description", "")
	out.meta.Author = firstMetaContent(doc, "author", "")
	out.meta.OGImage = firstMetaContent(doc, "", "og:image")
	if out.meta.OGImage == "" {
		out.meta.OGImage = firstMetaContent(doc, "og:image", "")
	}

	if kw := firstMetaContent(doc, "keywords", ""); kw != "" {
		for _, k := range strings.Split(kw, ",") {
			k = strings.TrimSpace(k)
			if k != "" {
				out.meta.Keywords = append(out.meta.Keywords, k)
			}
		}
	}

	if href, ok := doc.Find(`link[rel="icon"], link[rel="shortcut icon"]`).First().Attr("href"); ok {
		out.meta.Favicon = href
	}

	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		if href, ok := s.Attr("href"); ok {
			out.hrefs = append(out.hrefs, href)
		}
	})

	return out
}

// firstMetaContent looks up <meta name="..."> then falls back to
// <meta property="..."> when name is empty.
func firstMetaContent(doc *goquery.Document, name, property string) string {
	if name != "" {
		if content, ok := doc.Find(`meta[name="` + name + `"]`).First().Attr("content"); ok {
			return strings.TrimSpace(content)
		}
	}
	if property != "" {
		if content, ok := doc.Find(`meta[property="` + property + `"]`).First().Attr("content"); ok {
			return strings.TrimSpace(content)
		}
	}
	return ""
}

func mustParseURL(rawURL string) *url.URL {
	u, err := url.Parse(rawURL)
	if err != nil {
		return &url.URL{}
	}
	return u
}
