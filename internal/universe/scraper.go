package universe

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/wonny/forge/pkg/httputil"
)

// Scraper reads index constituents from an HTML table whose first column is the ticker.
type Scraper struct {
	client   *httputil.Client
	url      string
	selector string
}

// NewScraper creates a scraper for the table matching selector at url.
func NewScraper(client *httputil.Client, url, selector string) *Scraper {
	return &Scraper{client: client, url: url, selector: selector}
}

// NewSP500Scraper reads the constituents table of a Wikipedia-style S&P 500 page.
func NewSP500Scraper(client *httputil.Client, url string) *Scraper {
	return NewScraper(client, url, "table#constituents")
}

// Fetch downloads and parses the page.
func (s *Scraper) Fetch(ctx context.Context) ([]string, error) {
	resp, err := s.client.Get(ctx, s.url)
	if err != nil {
		return nil, fmt.Errorf("fetch constituents: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return nil, fmt.Errorf("fetch constituents: status %d: %s", resp.StatusCode, body)
	}

	return s.parse(resp.Body)
}

func (s *Scraper) parse(r io.Reader) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parse constituents: %w", err)
	}

	table := doc.Find(s.selector).First()
	if table.Length() == 0 {
		return nil, fmt.Errorf("constituents table %q not found", s.selector)
	}

	seen := make(map[string]bool)
	var symbols []string
	table.Find("tbody tr").Each(func(_ int, row *goquery.Selection) {
		cell := row.Find("td").First()
		if cell.Length() == 0 {
			return
		}
		// Class B shares are listed with a dot; brokers use a dash.
		symbol := strings.ReplaceAll(strings.TrimSpace(cell.Text()), ".", "-")
		if symbol == "" || seen[symbol] {
			return
		}
		seen[symbol] = true
		symbols = append(symbols, symbol)
	})

	return symbols, nil
}
