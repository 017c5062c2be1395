package fetch

import (
	"context"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
)

// Browser fetches pages through headless Chrome. Needed when a site
// assembles listing markup client side.
type Browser struct {
	Timeout   time.Duration
	UserAgent string
}

// Fetch renders the page and extracts the readable article body.
func (f *Browser) Fetch(ctx context.Context, rawURL string) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, f.Timeout)
	defer cancel()
	t0 := time.Now()

	html, err := f.renderHTML(ctx, rawURL)
	if err != nil {
		return Result{URL: rawURL, Status: 599, FetchMS: int(time.Since(t0) / time.Millisecond)}, err
	}

	res := Result{
		URL:      rawURL,
		FinalURL: rawURL,
		HTML:     html,
		Status:   200,
		FetchMS:  int(time.Since(t0) / time.Millisecond),
	}
	res.Title, res.Byline, res.Text = extractArticle(html, rawURL)
	return res, nil
}

func (f *Browser) renderHTML(ctx context.Context, rawURL string) (string, error) {
	ua := strings.TrimSpace(f.UserAgent)
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
	)
	if ua != "" {
		opts = append(opts, chromedp.UserAgent(ua))
	}
	actx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()
	bctx, cancelBrowser := chromedp.NewContext(actx)
	defer cancelBrowser()

	var html string
	err := chromedp.Run(bctx,
		chromedp.Navigate(rawURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	return html, err
}
