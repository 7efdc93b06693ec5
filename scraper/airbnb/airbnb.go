package airbnb

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/chromedp"

	"stl-viewer/config"
	"stl-viewer/models"
	"stl-viewer/utils"
)

const baseURL = "https://www.airbnb.com"

var priceRegexp = regexp.MustCompile(`[\d,]+(?:\.\d+)?`)

// Engine drives a headless browser against Airbnb's map search. It
// implements worker.Engine: Init cold-starts the browser once, Search
// runs one bounded map search and returns the refreshed dataset.
type Engine struct {
	cfg    *config.Config
	logger *utils.Logger
	retry  *utils.RetryConfig

	allocCtx    context.Context
	cancelAlloc context.CancelFunc
	cancelCtx   context.CancelFunc
}

// New creates an Engine. Init must be called before Search.
func New(cfg *config.Config, logger *utils.Logger) *Engine {
	return &Engine{
		cfg:    cfg,
		logger: logger,
		retry: &utils.RetryConfig{
			MaxAttempts: cfg.MaxRetries,
			BaseDelay:   2 * time.Second,
			Logger:      logger,
		},
	}
}

// Init cold-starts the headless browser and probes it with a blank
// navigation so a missing or broken binary fails here, not on the first
// search.
func (e *Engine) Init(ctx context.Context) error {
	chromeBin := findChromeBinary(e.cfg.ChromeBin)
	if chromeBin != "" {
		e.logger.Info("[airbnb] Using browser binary: %s", chromeBin)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-setuid-sandbox", true),
		chromedp.UserAgent("Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 "+
			"(KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"),
	)
	if chromeBin != "" {
		opts = append(opts, chromedp.ExecPath(chromeBin))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), opts...)

	// Suppress chromedp log noise
	silentCtx, cancelSilent := chromedp.NewContext(allocCtx, chromedp.WithLogf(func(string, ...interface{}) {}))

	probeCtx, cancelProbe := context.WithTimeout(silentCtx, 30*time.Second)
	defer cancelProbe()

	if err := chromedp.Run(probeCtx, chromedp.Navigate("about:blank")); err != nil {
		cancelSilent()
		cancelAlloc()
		return fmt.Errorf("browser cold start: %w", err)
	}

	e.allocCtx = silentCtx
	e.cancelAlloc = cancelAlloc
	e.cancelCtx = cancelSilent
	return nil
}

// Close shuts the browser down.
func (e *Engine) Close() {
	if e.cancelCtx != nil {
		e.cancelCtx()
	}
	if e.cancelAlloc != nil {
		e.cancelAlloc()
	}
}

// card is what one search-result tile yields.
type card struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	URL      string `json:"url"`
	Price    string `json:"price"`
	Currency string `json:"currency"`
}

// detail is what one listing page yields.
type detail struct {
	Latitude   float64 `json:"latitude"`
	Longitude  float64 `json:"longitude"`
	RoomType   string  `json:"roomType"`
	HouseRules string  `json:"houseRules"`
	Capacity   int     `json:"capacity"`
}

// Search runs one map search for the requested bounds and dates,
// enriches each hit via its detail page, and merges the results over
// the prior dataset snapshot. The returned dataset is authoritative:
// the caller replaces its state with it wholesale.
func (e *Engine) Search(ctx context.Context, req models.SearchRequest) (models.Dataset, error) {
	if e.allocCtx == nil {
		return nil, fmt.Errorf("engine not initialized")
	}

	searchURL := buildSearchURL(req)
	e.logger.Info("[airbnb] Map search: %s", searchURL)

	cards, err := e.scrapeSearchPage(searchURL)
	if err != nil {
		return nil, fmt.Errorf("search page: %w", err)
	}
	e.logger.Info("[airbnb] Search returned %d cards", len(cards))

	// Start from the snapshot so listings that scrolled out of the
	// result page keep their known quotes.
	out := make(models.Dataset, len(req.Snapshot)+len(cards))
	for id, l := range req.Snapshot {
		out[id] = l
	}

	dates := nightsBetween(req.Checkin, req.Checkout)
	visited := utils.NewIDSet()
	pool := utils.NewWorkerPool(e.cfg.MaxConcurrency, e.cfg.RateLimitMs)

	var mu sync.Mutex
	for _, c := range cards {
		c := c
		if c.ID == "" || !visited.Add(c.ID) {
			continue
		}

		pool.Submit(func() {
			listing := e.buildListing(c, req, dates)

			mu.Lock()
			defer mu.Unlock()

			if prev, ok := out[c.ID]; ok {
				// Carry known quotes forward, newest wins per date.
				for d, p := range prev.PricePerDate {
					if _, exists := listing.PricePerDate[d]; !exists {
						listing.PricePerDate[d] = p
					}
				}
			}
			out[c.ID] = listing
		})
	}
	pool.Wait()

	return out, nil
}

// buildListing enriches one card through its detail page and spreads
// the quoted nightly price over the searched date window.
func (e *Engine) buildListing(c card, req models.SearchRequest, dates []string) *models.Listing {
	listing := &models.Listing{
		Name:          c.Name,
		URL:           c.URL,
		PriceCurrency: c.Currency,
		PricePerDate:  make(map[string]float64, len(dates)),
	}
	if listing.PriceCurrency == "" {
		listing.PriceCurrency = req.Currency
	}

	if price, ok := parsePrice(c.Price); ok {
		for _, d := range dates {
			listing.PricePerDate[d] = price
		}
	}

	det, err := e.scrapeDetailPage(c.URL)
	if err != nil {
		e.logger.Warn("[airbnb] Detail page failed for %s: %v", c.URL, err)
		return listing
	}

	listing.Latitude = det.Latitude
	listing.Longitude = det.Longitude
	listing.RoomType = det.RoomType
	listing.HouseRules = det.HouseRules
	listing.PersonCapacity = det.Capacity
	return listing
}

// scrapeSearchPage loads the map-search results page and extracts tiles.
func (e *Engine) scrapeSearchPage(pageURL string) ([]card, error) {
	var cards []card

	err := e.retry.Do("search-page", func() error {
		ctx, cancel := chromedp.NewContext(e.allocCtx)
		defer cancel()

		ctx, cancelTimeout := context.WithTimeout(ctx, 90*time.Second)
		defer cancelTimeout()

		var found []card

		err := chromedp.Run(ctx,
			chromedp.Navigate(pageURL),
			chromedp.Sleep(6*time.Second),

			chromedp.Evaluate(`window.scrollTo(0, document.body.scrollHeight)`, nil),
			chromedp.Sleep(2*time.Second),

			chromedp.Evaluate(`
				(function() {
					var results = [];
					var seen = {};
					var links = document.querySelectorAll('a[href*="/rooms/"]');
					for (var i = 0; i < links.length; i++) {
						var href = links[i].href;
						var m = href.match(/\/rooms\/(\d+)/);
						if (!m || seen[m[1]]) continue;
						seen[m[1]] = true;

						var cardDiv = links[i].closest('[data-testid="card-container"]') ||
						              links[i].closest('[itemprop="itemListElement"]') ||
						              links[i].closest('[role="group"]') ||
						              links[i];
						var text = cardDiv.innerText || '';
						var lines = text.split('\n').map(function(l){return l.trim();}).filter(Boolean);

						var priceLine = lines.find(function(l){return l.match(/\$|€|£|฿/);}) || '';
						var cur = '';
						if (priceLine.indexOf('€') >= 0) cur = 'EUR';
						else if (priceLine.indexOf('£') >= 0) cur = 'GBP';
						else if (priceLine.indexOf('฿') >= 0) cur = 'THB';
						else if (priceLine.indexOf('$') >= 0) cur = 'USD';

						results.push({
							id:       m[1],
							name:     lines[0] || '',
							url:      'https://www.airbnb.com/rooms/' + m[1],
							price:    priceLine,
							currency: cur
						});
					}
					return results;
				})()
			`, &found),
		)
		if err != nil {
			return fmt.Errorf("chromedp search extract: %w", err)
		}

		cards = found
		return nil
	})

	return cards, err
}

// scrapeDetailPage visits a listing page and extracts coordinate,
// room type, house rules and capacity.
func (e *Engine) scrapeDetailPage(pageURL string) (*detail, error) {
	det := &detail{}

	err := e.retry.Do("detail-page", func() error {
		ctx, cancel := chromedp.NewContext(e.allocCtx)
		defer cancel()

		ctx, cancelTimeout := context.WithTimeout(ctx, 60*time.Second)
		defer cancelTimeout()

		var found detail

		err := chromedp.Run(ctx,
			chromedp.Navigate(pageURL),
			chromedp.Sleep(4*time.Second),

			chromedp.Evaluate(`
				(function() {
					var result = { latitude: 0, longitude: 0, roomType: '', houseRules: '', capacity: 0 };

					// Coordinates live in the embedded state blob.
					var scripts = document.querySelectorAll('script');
					for (var i = 0; i < scripts.length; i++) {
						var t = scripts[i].textContent || '';
						var lat = t.match(/"lat"\s*:\s*(-?\d+\.\d+)/);
						var lng = t.match(/"lng"\s*:\s*(-?\d+\.\d+)/);
						if (lat && lng) {
							result.latitude = parseFloat(lat[1]);
							result.longitude = parseFloat(lng[1]);
							break;
						}
					}

					// Room type from the overview heading, e.g.
					// "Entire rental unit hosted by ...".
					var h2 = document.querySelector('[data-section-id="OVERVIEW_DEFAULT_V2"] h2') ||
					         document.querySelector('main h2');
					if (h2) result.roomType = h2.innerText.split(' hosted')[0].trim();

					// Capacity from the "x guests" summary line.
					var body = document.body.innerText;
					var cap = body.match(/(\d+)\s+guests?/);
					if (cap) result.capacity = parseInt(cap[1]);

					// House rules section, rules are its list items.
					var rules = document.querySelector('[data-section-id="POLICIES_DEFAULT"]');
					if (rules) {
						result.houseRules = rules.innerText.split('\n')
							.map(function(l){return l.trim();})
							.filter(function(l){return l && l !== 'House rules';})
							.slice(0, 6).join('; ');
					}

					return result;
				})()
			`, &found),
		)
		if err != nil {
			return fmt.Errorf("chromedp detail extract: %w", err)
		}

		*det = found
		return nil
	})

	return det, err
}

// buildSearchURL assembles the map-search URL from the request payload.
func buildSearchURL(req models.SearchRequest) string {
	path := "/s/homes"
	if req.Location != "" && req.Location != "*" {
		path = "/s/" + url.PathEscape(req.Location) + "/homes"
	}

	q := url.Values{}
	q.Set("checkin", req.Checkin)
	q.Set("checkout", req.Checkout)
	if req.Currency != "" {
		q.Set("currency", req.Currency)
	}
	if req.MapSearch {
		q.Set("search_by_map", "true")
		q.Set("ne_lat", formatCoord(req.Bounds.NorthEast.Lat))
		q.Set("ne_lng", formatCoord(req.Bounds.NorthEast.Lng))
		q.Set("sw_lat", formatCoord(req.Bounds.SouthWest.Lat))
		q.Set("sw_lng", formatCoord(req.Bounds.SouthWest.Lng))
	}

	return baseURL + path + "?" + q.Encode()
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', 6, 64)
}

// parsePrice extracts the numeric nightly price from a card's price line.
func parsePrice(raw string) (float64, bool) {
	cleaned := strings.ReplaceAll(raw, ",", "")
	match := priceRegexp.FindString(cleaned)
	if match == "" {
		return 0, false
	}
	price, err := strconv.ParseFloat(match, 64)
	if err != nil {
		return 0, false
	}
	return price, true
}

// nightsBetween lists the calendar days in [checkin, checkout).
func nightsBetween(checkin, checkout string) []string {
	start, err := time.Parse(models.DateLayout, checkin)
	if err != nil {
		return nil
	}
	end, err := time.Parse(models.DateLayout, checkout)
	if err != nil || !end.After(start) {
		return []string{checkin}
	}

	var dates []string
	for d := start; d.Before(end); d = d.AddDate(0, 0, 1) {
		dates = append(dates, d.Format(models.DateLayout))
	}
	return dates
}

// findChromeBinary locates the Chrome/Chromium binary, preferring the
// configured path.
func findChromeBinary(configured string) string {
	if configured != "" {
		return configured
	}

	names := []string{"google-chrome-stable", "google-chrome", "chromium", "chromium-browser"}
	for _, name := range names {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}

	paths := []string{
		"/usr/bin/google-chrome-stable",
		"/usr/bin/google-chrome",
		"/usr/bin/chromium-browser",
		"/usr/bin/chromium",
		"/snap/bin/chromium",
		"/opt/google/chrome/google-chrome",
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	return ""
}
