// Package extract turns rendered HTML into outbound links and
// vocabulary words. It is invoked synchronously from the scraper's
// success callbacks, so all methods are safe for concurrent use.
package extract

import (
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/net/html"
	"golang.org/x/text/language"

	"github.com/mpetrov/wordspider/internal/link"
	"github.com/mpetrov/wordspider/internal/scraper"
)

const (
	minWordLen = 2
	maxWordLen = 64
)

// Extractor produces links and words from one rendered document.
type Extractor interface {
	// Links returns the outbound links in doc, resolved against base.
	Links(doc string, base link.Link) []link.Link

	// FilterLinks drops links that leave the crawl: off-host targets
	// and self-references to the current or initial page.
	FilterLinks(links []link.Link, current, initial link.Link) []link.Link

	// Words returns the raw words in doc's text content. Returns
	// scraper.ErrWrongLanguage when the document declares a language
	// outside the accepted set.
	Words(doc string) ([]string, error)

	// FilterWords normalizes and filters words for storage.
	FilterWords(words []string) []string
}

// HTMLExtractor implements Extractor over an x/net/html parse tree.
type HTMLExtractor struct {
	accepted []language.Tag
	matcher  language.Matcher
}

// New creates an extractor accepting documents in the given BCP 47
// languages. An empty list accepts every language.
func New(languages ...string) (*HTMLExtractor, error) {
	e := &HTMLExtractor{}
	for _, lang := range languages {
		tag, err := language.Parse(lang)
		if err != nil {
			return nil, fmt.Errorf("invalid language %q: %w", lang, err)
		}
		e.accepted = append(e.accepted, tag)
	}
	if len(e.accepted) > 0 {
		e.matcher = language.NewMatcher(e.accepted)
	}
	return e, nil
}

// Links extracts anchor targets from doc, resolved against base.
// Unparseable references are skipped; a document that does not parse
// yields no links.
func (e *HTMLExtractor) Links(doc string, base link.Link) []link.Link {
	root, err := html.Parse(strings.NewReader(doc))
	if err != nil {
		return nil
	}

	var links []link.Link
	walk(root, func(n *html.Node) {
		if n.Type != html.ElementNode || n.Data != "a" {
			return
		}
		for _, attr := range n.Attr {
			if attr.Key != "href" || attr.Val == "" {
				continue
			}
			if l, err := base.Resolve(attr.Val); err == nil {
				links = append(links, l)
			}
		}
	})
	return links
}

// FilterLinks keeps links on the current page's host (subdomain
// variations tolerated) that are not the page itself or the crawl's
// entry point.
func (e *HTMLExtractor) FilterLinks(links []link.Link, current, initial link.Link) []link.Link {
	host := current.FixedHost()
	out := make([]link.Link, 0, len(links))
	for _, l := range links {
		if !strings.Contains(l.FixedHost(), host) {
			continue
		}
		if l.SameResource(current) || l.SameResource(initial) {
			continue
		}
		out = append(out, l)
	}
	return out
}

// Words extracts the text content of doc split into words. Script,
// style and noscript subtrees are skipped.
func (e *HTMLExtractor) Words(doc string) ([]string, error) {
	root, err := html.Parse(strings.NewReader(doc))
	if err != nil {
		return nil, fmt.Errorf("failed to parse html: %w", err)
	}
	if err := e.checkLanguage(root); err != nil {
		return nil, err
	}

	var words []string
	walk(root, func(n *html.Node) {
		if n.Type != html.TextNode {
			return
		}
		if p := n.Parent; p != nil && p.Type == html.ElementNode {
			switch p.Data {
			case "script", "style", "noscript":
				return
			}
		}
		words = append(words, splitWords(n.Data)...)
	})
	return words, nil
}

// FilterWords lowercases words and drops everything that is not a
// plain letter run of reasonable length.
func (e *HTMLExtractor) FilterWords(words []string) []string {
	out := make([]string, 0, len(words))
	for _, w := range words {
		w = strings.ToLower(w)
		runes := []rune(w)
		if len(runes) < minWordLen || len(runes) > maxWordLen {
			continue
		}
		letters := true
		for _, r := range runes {
			if !unicode.IsLetter(r) {
				letters = false
				break
			}
		}
		if letters {
			out = append(out, w)
		}
	}
	return out
}

// checkLanguage rejects documents whose <html lang> attribute does not
// match the accepted set. Documents without the attribute pass.
func (e *HTMLExtractor) checkLanguage(root *html.Node) error {
	if e.matcher == nil {
		return nil
	}
	attr := htmlLang(root)
	if attr == "" {
		return nil
	}
	tag, err := language.Parse(attr)
	if err != nil {
		// Unparseable declarations are treated as undeclared.
		return nil
	}
	if _, _, conf := e.matcher.Match(tag); conf == language.No {
		return fmt.Errorf("%w: document declares %q", scraper.ErrWrongLanguage, attr)
	}
	return nil
}

// htmlLang finds the lang attribute on the <html> element.
func htmlLang(root *html.Node) string {
	var lang string
	walk(root, func(n *html.Node) {
		if lang != "" || n.Type != html.ElementNode || n.Data != "html" {
			return
		}
		for _, attr := range n.Attr {
			if attr.Key == "lang" {
				lang = attr.Val
				return
			}
		}
	})
	return lang
}

// walk visits every node of the tree in document order.
func walk(n *html.Node, visit func(*html.Node)) {
	visit(n)
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c, visit)
	}
}

// splitWords splits text on anything that is not a letter.
func splitWords(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r)
	})
}
