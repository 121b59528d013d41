package walker

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Selectors locate navigation elements on home and listing pages.
type Selectors struct {
	TopLevel    string // Top-level category links on the home page
	Subcategory string // Child category links on a category page
	Product     string // Product detail links on a listing page
	NextPage    string // "Next page" link
	PageParam   string // Query parameter used when a page has no next link, "" disables
}

// Link is an anchor resolved against the page it was found on.
type Link struct {
	Name string
	URL  string
	Err  error // Set when the href is missing or malformed
}

type ListingPage struct {
	Subcategories []Link
	Products      []string
	NextPage      string
}

func parseListingPage(html, pageURL string, sel Selectors) (*ListingPage, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse page URL: %w", err)
	}

	page := &ListingPage{}

	if sel.Subcategory != "" {
		page.Subcategories = extractLinks(doc, base, sel.Subcategory)
	}

	if sel.Product != "" {
		seen := make(map[string]struct{})
		for _, link := range extractLinks(doc, base, sel.Product) {
			if link.Err != nil {
				continue
			}
			if _, dup := seen[link.URL]; dup {
				continue
			}
			seen[link.URL] = struct{}{}
			page.Products = append(page.Products, link.URL)
		}
	}

	if sel.NextPage != "" {
		for _, link := range extractLinks(doc, base, sel.NextPage) {
			if link.Err == nil && link.URL != base.String() {
				page.NextPage = link.URL
				break
			}
		}
	}

	return page, nil
}

func extractLinks(doc *goquery.Document, base *url.URL, selector string) []Link {
	var links []Link

	doc.Find(selector).Each(func(i int, s *goquery.Selection) {
		// Icon-only "see all" anchors carry no category
		if s.Find("svg").Length() > 0 && strings.TrimSpace(s.Text()) == "" {
			return
		}

		name := strings.Join(strings.Fields(s.Text()), " ")
		href, exists := s.Attr("href")
		if !exists || strings.TrimSpace(href) == "" {
			links = append(links, Link{Name: name, Err: fmt.Errorf("link %q has no href", name)})
			return
		}

		resolved, err := resolve(base, href)
		if err != nil {
			links = append(links, Link{Name: name, Err: err})
			return
		}

		links = append(links, Link{Name: name, URL: resolved})
	})

	return links
}

func resolve(base *url.URL, href string) (string, error) {
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return "", fmt.Errorf("malformed href %q: %w", href, err)
	}

	abs := base.ResolveReference(ref)
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return "", fmt.Errorf("unsupported link %q", href)
	}
	abs.Fragment = ""

	return abs.String(), nil
}

// withPage returns rawURL with the page query parameter set.
func withPage(rawURL, param string, page int) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}

	q := u.Query()
	q.Set(param, fmt.Sprint(page))
	u.RawQuery = q.Encode()

	return u.String(), nil
}
