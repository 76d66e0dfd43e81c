// Package scraper handles fetching and parsing Bazos category and
// listing detail pages.
package scraper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/codeGROOVE-dev/retry"
	"golang.org/x/time/rate"

	"bazos-watcher/pkg/listing"
)

// listingsPerPage is the fixed Bazos page size; pagination is
// offset-based with the offset appended to the category URL.
const listingsPerPage = 20

// BlockedError indicates a 403 Forbidden response (rate limited or
// IP-blocked). Not retryable.
type BlockedError struct {
	URL string
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("HTTP 403 Forbidden: %s", e.URL)
}

// IsBlockedError checks if an error is an HTTP 403 error.
func IsBlockedError(err error) bool {
	var blocked *BlockedError
	return errors.As(err, &blocked)
}

// Scraper fetches and parses Bazos pages.
type Scraper struct {
	client  *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

// New creates a new scraper. Requests are spaced out to at most one
// every two seconds to stay under the site's rate limits.
func New(client *http.Client, logger *slog.Logger) *Scraper {
	return &Scraper{
		client:  client,
		limiter: rate.NewLimiter(rate.Every(2*time.Second), 1),
		logger:  logger,
	}
}

var listingIDPattern = regexp.MustCompile(`/inzerat/(\d+)/`)

// ListPage fetches one category page. Page numbers start at zero; an
// empty result means the category has no more pages.
func (s *Scraper) ListPage(ctx context.Context, categoryURL string, page int) ([]listing.RawListing, error) {
	pageURL := buildPageURL(categoryURL, page)
	doc, err := s.fetchDocument(ctx, pageURL)
	if err != nil {
		return nil, err
	}

	listings, err := parseListPage(doc, pageURL)
	if err != nil {
		return nil, err
	}
	s.logger.Info("Category page parsed", "url", pageURL, "listings", len(listings))
	return listings, nil
}

// Listings walks a category from its first page until an empty page or
// maxPages, whichever comes first. maxPages <= 0 means no limit.
func (s *Scraper) Listings(ctx context.Context, categoryURL string, maxPages int) ([]listing.RawListing, error) {
	var all []listing.RawListing
	for page := 0; maxPages <= 0 || page < maxPages; page++ {
		batch, err := s.ListPage(ctx, categoryURL, page)
		if err != nil {
			return all, fmt.Errorf("fetch page %d: %w", page, err)
		}
		if len(batch) == 0 {
			break
		}
		all = append(all, batch...)
		if len(batch) < listingsPerPage {
			break
		}
	}
	return all, nil
}

// Detail fetches the full listing page and enriches the summary record
// with the complete description and image URLs.
func (s *Scraper) Detail(ctx context.Context, raw listing.RawListing) (listing.DetailListing, error) {
	doc, err := s.fetchDocument(ctx, raw.URL)
	if err != nil {
		return listing.DetailListing{}, err
	}

	det := raw.Detail()
	det.Description = strings.TrimSpace(doc.Find("div.popisdetail").First().Text())

	base, err := url.Parse(raw.URL)
	if err != nil {
		return listing.DetailListing{}, fmt.Errorf("parse listing URL: %w", err)
	}
	doc.Find("div.carousel-item img").Each(func(_ int, sel *goquery.Selection) {
		src, ok := sel.Attr("src")
		if !ok {
			return
		}
		if resolved := resolveURL(base, src); resolved != "" {
			det.ImageURLs = append(det.ImageURLs, resolved)
		}
	})

	s.logger.Debug("Listing detail parsed",
		"listing_id", det.ExternalID,
		"description_length", len(det.Description),
		"images", len(det.ImageURLs))
	return det, nil
}

func (s *Scraper) fetchDocument(ctx context.Context, pageURL string) (*goquery.Document, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	var doc *goquery.Document

	err := retry.Do(
		func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, http.NoBody)
			if err != nil {
				return fmt.Errorf("create request: %w", err)
			}

			// Browser-like headers; bare Go user agents get blocked.
			req.Header.Set("User-Agent", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36")
			req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8")
			req.Header.Set("Accept-Language", "sk-SK,sk;q=0.9,en;q=0.8")
			req.Header.Set("Upgrade-Insecure-Requests", "1")
			req.Header.Set("Cache-Control", "max-age=0")

			startTime := time.Now()
			resp, err := s.client.Do(req)
			duration := time.Since(startTime)

			if err != nil {
				s.logger.Warn("HTTP request failed, will retry",
					"url", pageURL,
					"duration_ms", duration.Milliseconds(),
					"error", err)
				return err
			}
			defer func() {
				if closeErr := resp.Body.Close(); closeErr != nil {
					s.logger.Warn("Failed to close response body", "error", closeErr)
				}
			}()

			s.logger.Debug("HTTP request completed",
				"url", pageURL,
				"status_code", resp.StatusCode,
				"duration_ms", duration.Milliseconds())

			if resp.StatusCode == http.StatusForbidden {
				s.logger.Warn("HTTP 403 Forbidden", "url", pageURL)
				return &BlockedError{URL: pageURL}
			}
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("HTTP %d", resp.StatusCode)
			}

			doc, err = parseDocument(resp.Body)
			if err != nil {
				return retry.Unrecoverable(fmt.Errorf("parse HTML: %w", err))
			}
			return nil
		},
		retry.Attempts(5),
		retry.Delay(time.Second),
		retry.MaxDelay(2*time.Minute),
		retry.MaxJitter(10*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			s.logger.Info("Retrying fetch after error", "attempt", n, "url", pageURL, "error", err)
		}),
		retry.RetryIf(func(err error) bool {
			return !IsBlockedError(err)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("after retries: %w", err)
	}
	return doc, nil
}

func parseDocument(body io.Reader) (*goquery.Document, error) {
	return goquery.NewDocumentFromReader(body)
}

func buildPageURL(categoryURL string, page int) string {
	if page <= 0 {
		return categoryURL
	}
	base := strings.TrimSuffix(categoryURL, "/")
	return fmt.Sprintf("%s/%d/", base, page*listingsPerPage)
}

func parseListPage(doc *goquery.Document, pageURL string) ([]listing.RawListing, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("parse page URL: %w", err)
	}

	var listings []listing.RawListing
	doc.Find("div.inzeraty").Each(func(_ int, sel *goquery.Selection) {
		link := sel.Find("h2.nadpis a").First()
		href, ok := link.Attr("href")
		if !ok {
			return
		}
		match := listingIDPattern.FindStringSubmatch(href)
		if match == nil {
			return
		}

		raw := listing.RawListing{
			ExternalID: match[1],
			Title:      strings.TrimSpace(link.Text()),
			URL:        resolveURL(base, href),
			Price:      parsePrice(sel.Find("div.inzeratycena").First().Text()),
			Summary:    strings.TrimSpace(sel.Find("div.popis").First().Text()),
			PostedAt:   parsePostedDate(sel.Find("span.velikost10").First().Text()),
			ViewCount:  parseViewCount(sel.Find("div.inzeratyview").First().Text()),
		}
		raw.Location, raw.PostalCode = parseLocation(sel.Find("div.inzeratylok").First())
		if src, ok := sel.Find("img.obrazek").First().Attr("src"); ok {
			raw.ThumbnailURL = resolveURL(base, src)
		}

		listings = append(listings, raw)
	})
	return listings, nil
}

// parsePrice maps the Bazos price cell to a typed price. "Dohodou"
// (negotiable) and "V texte" (stated in the description) are sentinels,
// not amounts.
func parsePrice(text string) listing.Price {
	trimmed := strings.TrimSpace(text)
	switch {
	case trimmed == "":
		return listing.Price{Kind: listing.PriceAbsent}
	case strings.Contains(trimmed, "Dohodou"):
		return listing.Price{Kind: listing.PriceNegotiable}
	case strings.Contains(trimmed, "V texte"):
		return listing.Price{Kind: listing.PriceInText}
	}

	var digits strings.Builder
	for _, r := range trimmed {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	if digits.Len() == 0 {
		return listing.Price{Kind: listing.PriceAbsent}
	}
	amount, err := strconv.ParseFloat(digits.String(), 64)
	if err != nil {
		return listing.Price{Kind: listing.PriceAbsent}
	}
	return listing.PriceOf(amount)
}

// postedDatePattern matches the "[28.8. 2026]" header suffix.
var postedDatePattern = regexp.MustCompile(`\[(\d{1,2})\.(\d{1,2})\. (\d{4})\]`)

func parsePostedDate(text string) time.Time {
	match := postedDatePattern.FindStringSubmatch(text)
	if match == nil {
		return time.Time{}
	}
	day, _ := strconv.Atoi(match[1])
	month, _ := strconv.Atoi(match[2])
	year, _ := strconv.Atoi(match[3])
	if month < 1 || month > 12 || day < 1 || day > 31 {
		return time.Time{}
	}
	return time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
}

var viewCountPattern = regexp.MustCompile(`(\d+)`)

func parseViewCount(text string) int {
	match := viewCountPattern.FindStringSubmatch(text)
	if match == nil {
		return 0
	}
	count, _ := strconv.Atoi(match[1])
	return count
}

// parseLocation splits the location cell into town and postal code. The
// cell holds them as text separated by <br>.
func parseLocation(sel *goquery.Selection) (location, postalCode string) {
	html, err := sel.Html()
	if err != nil {
		return strings.TrimSpace(sel.Text()), ""
	}
	parts := brPattern.Split(html, -1)
	var clean []string
	for _, part := range parts {
		if text := strings.TrimSpace(stripTags(part)); text != "" {
			clean = append(clean, text)
		}
	}
	if len(clean) > 0 {
		location = clean[0]
	}
	if len(clean) > 1 {
		postalCode = clean[1]
	}
	return location, postalCode
}

var (
	brPattern  = regexp.MustCompile(`<br\s*/?>`)
	tagPattern = regexp.MustCompile(`<[^>]*>`)
)

func stripTags(s string) string {
	return tagPattern.ReplaceAllString(s, "")
}

func resolveURL(base *url.URL, href string) string {
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return ""
	}
	return base.ResolveReference(ref).String()
}
