// Package extract turns fetched HTML into cleaned text and outbound links.
package extract

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/charset"

	"github.com/JakeFAU/sitechat/internal/crawler"
)

// Extractor implements crawler.Extractor with goquery.
type Extractor struct{}

// New returns an Extractor.
func New() *Extractor { return &Extractor{} }

// Extract decodes the body to UTF-8, drops script and style content, and
// returns the visible text with whitespace collapsed plus absolute links.
func (e *Extractor) Extract(resp crawler.FetchResponse) (crawler.Page, error) {
	data, err := toUTF8(resp.Body, resp.Headers.Get("Content-Type"))
	if err != nil {
		return crawler.Page{}, err
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(data))
	if err != nil {
		return crawler.Page{}, fmt.Errorf("parse html: %w", err)
	}

	base := resp.FinalURL
	if base == "" {
		base = resp.URL
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return crawler.Page{}, fmt.Errorf("parse base url: %w", err)
	}
	if href, ok := doc.Find("base[href]").First().Attr("href"); ok {
		if ref, err := url.Parse(strings.TrimSpace(href)); err == nil {
			baseURL = baseURL.ResolveReference(ref)
		}
	}

	links := collectLinks(doc, baseURL)

	doc.Find("script,noscript,style,template").Remove()
	return crawler.Page{Text: CleanText(doc), Links: links}, nil
}

// CleanText joins every non-empty text node with single spaces.
func CleanText(doc *goquery.Document) string {
	var parts []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			if t := strings.Join(strings.Fields(n.Data), " "); t != "" {
				parts = append(parts, t)
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range doc.Nodes {
		walk(n)
	}
	return strings.Join(parts, " ")
}

func collectLinks(doc *goquery.Document, base *url.URL) []string {
	seen := make(map[string]struct{})
	var links []string
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		abs, ok := crawler.ResolveLink(base, href)
		if !ok {
			return
		}
		if _, dup := seen[abs]; dup {
			return
		}
		seen[abs] = struct{}{}
		links = append(links, abs)
	})
	return links
}

func toUTF8(data []byte, contentType string) ([]byte, error) {
	enc, _, _ := charset.DetermineEncoding(data, contentType)
	decoded, err := enc.NewDecoder().Bytes(data)
	if err != nil {
		if !utf8.Valid(data) {
			return nil, fmt.Errorf("decode body: %w", err)
		}
		return data, nil
	}
	return decoded, nil
}
