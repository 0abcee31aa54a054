package crawler

import (
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/user/price-tracker/internal/domain"
	"github.com/user/price-tracker/pkg/utils"
)

// ExtractPage parses a rendered search results page with the site's
// selectors.
func ExtractPage(pageURL, htmlContent string, site domain.SiteDescriptor) (*domain.Page, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlContent))
	if err != nil {
		return nil, err
	}
	sel := site.Selectors

	page := &domain.Page{URL: pageURL}
	if sel.Product == "" {
		return page, nil
	}

	items := doc.Find(sel.Product)
	page.Containers = items.Length()
	if sel.EndOfPages != "" && doc.Find(sel.EndOfPages).Length() > 0 {
		page.EndOfResults = true
	}

	items.Each(func(i int, s *goquery.Selection) {
		page.Listings = append(page.Listings, extractListing(s, site))
	})
	return page, nil
}

func extractListing(s *goquery.Selection, site domain.SiteDescriptor) domain.Listing {
	sel := site.Selectors
	l := domain.Listing{
		Title:      innerText(s, sel.Title),
		PriceText:  innerText(s, sel.Price),
		RatingText: innerText(s, sel.Rating),
		Link:       attr(s, sel.Link, "href"),
		ImageLink:  attr(s, sel.ImageLink, "src"),
	}
	if sel.RemoveItemsWith != "" && s.Find(sel.RemoveItemsWith).Length() > 0 {
		l.Excluded = true
	}
	if l.Link != domain.NotAvailable {
		l.Link = utils.ResolveLink(site.URL, l.Link)
	}

	l.ExternalID = l.Link
	if sel.ID != "" {
		if id, ok := s.Attr(sel.ID); ok && strings.TrimSpace(id) != "" {
			l.ExternalID = strings.TrimSpace(id)
		}
	}

	if sel.Currency != "" {
		l.Currency = innerText(s, sel.Currency)
	}
	return l
}

func innerText(s *goquery.Selection, selector string) string {
	if selector == "" {
		return domain.NotAvailable
	}
	found := s.Find(selector).First()
	if found.Length() == 0 {
		return domain.NotAvailable
	}
	return strings.Join(strings.Fields(found.Text()), " ")
}

func attr(s *goquery.Selection, selector, name string) string {
	if selector == "" {
		return domain.NotAvailable
	}
	found := s.Find(selector).First()
	if found.Length() == 0 {
		return domain.NotAvailable
	}
	v, ok := found.Attr(name)
	if !ok || strings.TrimSpace(v) == "" {
		return domain.NotAvailable
	}
	return strings.TrimSpace(v)
}
