package browser

import (
	"context"
	"fmt"
	"strings"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
)

// ScrapeSpec describes one DOM extraction run.
type ScrapeSpec struct {
	PageURL    string
	Token      string
	StorageKey string
	// ItemSelector matches one element per listed document.
	ItemSelector string
}

// ScrapedDocument is a document row read from the rendered page.
type ScrapedDocument struct {
	DocumentNumber string `json:"documentNumber"`
	DeliveryNumber string `json:"deliveryNumber"`
	Name           string `json:"name"`
	FileURL        string `json:"fileUrl"`
	FileType       string `json:"fileType"`
}

// DefaultItemSelector matches the document rows of the court delivery page.
const DefaultItemSelector = ".wssd-list .list-item, .fd-list .fd-item"

// Scraper is the legacy DOM-driven document lister.
type Scraper struct {
	Options Options
}

// NewScraper constructs a Scraper.
func NewScraper(opts Options) *Scraper {
	return &Scraper{Options: opts}
}

// scrapeScript reads each row's data attributes, falling back to link text.
const scrapeScript = `(() => {
  const rows = Array.from(document.querySelectorAll(%q));
  return rows.map((row) => {
    const link = row.querySelector('a[href]');
    const pick = (name) => row.getAttribute('data-' + name) || '';
    return {
      documentNumber: pick('wsbh'),
      deliveryNumber: pick('sdbh'),
      name: pick('wsmc') || (row.innerText || '').trim(),
      fileUrl: pick('wjlj') || (link ? link.href : ''),
      fileType: pick('wjgs'),
    };
  });
})()`

// Scrape renders spec.PageURL and lists the documents found in the DOM.
func (s *Scraper) Scrape(ctx context.Context, spec ScrapeSpec) ([]ScrapedDocument, error) {
	selector := spec.ItemSelector
	if strings.TrimSpace(selector) == "" {
		selector = DefaultItemSelector
	}

	browserCtx, cancel := newSession(ctx, s.Options, s.Options.Headless)
	defer cancel()

	var docs []ScrapedDocument
	err := chromedp.Run(browserCtx,
		network.Enable(),
		seedStorage(spec.StorageKey, spec.Token),
		chromedp.Navigate(spec.PageURL),
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.Evaluate(fmt.Sprintf(scrapeScript, selector), &docs),
	)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("scrape task page: %w", ctx.Err())
		}
		return nil, fmt.Errorf("scrape task page: %w", err)
	}

	out := docs[:0]
	for _, d := range docs {
		if d.DocumentNumber == "" || d.FileURL == "" {
			continue
		}
		out = append(out, d)
	}
	if len(out) == 0 {
		return nil, ErrNoDocumentsFound
	}
	return out, nil
}
