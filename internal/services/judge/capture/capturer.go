// Package capture acquires rendered evidence of platform activities
// through an authenticated headless browser session.
//
// The target platform degrades or blocks automated clients, so every
// capture runs in a fresh browser with automation fingerprints
// suppressed. The stealth measures are inherently brittle and are kept
// behind this package boundary so upstream page changes cannot leak
// into the rest of the pipeline.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"

	apperrors "github.com/rplusq/run-judge/internal/platform/errors"
	"github.com/rplusq/run-judge/internal/platform/timeouts"
)

const defaultBaseURL = "https://www.strava.com"

const userAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36"

// signupModalSelector matches the close button of the signup modal the
// platform sometimes overlays on activity pages.
const signupModalSelector = `button[class*="SignUpModal_closeButton"]`

// stealthScript overrides the navigator surface a headless browser
// exposes. Values mirror a desktop Chrome profile.
const stealthScript = `
(() => {
  const overrides = {
    plugins: [
      { name: 'Chrome PDF Plugin', filename: 'internal-pdf-viewer' },
      { name: 'Chrome PDF Viewer', filename: 'mhjfbmdgcfjbbpaeojofohoefgiehjai' },
      { name: 'Native Client', filename: 'internal-nacl-plugin' },
    ],
    languages: ['en-US', 'en'],
    platform: 'MacIntel',
    hardwareConcurrency: 8,
    deviceMemory: 8,
    maxTouchPoints: 0,
    vendor: 'Google Inc.',
  };
  Object.defineProperty(navigator, 'webdriver', { get: () => undefined });
  for (const [prop, value] of Object.entries(overrides)) {
    Object.defineProperty(navigator, prop, { get: () => value });
  }
  window.chrome = { runtime: {}, loadTimes: () => {}, csi: () => {}, app: {} };
  const originalQuery = navigator.permissions.query.bind(navigator.permissions);
  navigator.permissions.query = (parameters) =>
    parameters.name === 'notifications'
      ? Promise.resolve({ state: Notification.permission })
      : originalQuery(parameters);
})();
`

// contentReadyExpr races the activity heading against the elevation
// profile: either rendering means the page is usable.
const contentReadyExpr = `document.querySelector('#heading') !== null || document.querySelector('#elevation-profile') !== null`

// Evidence is a rendered full-page screenshot of one activity page.
type Evidence struct {
	ActivityID int64
	PNG        []byte
	CapturedAt time.Time
}

// Config configures a Capturer.
type Config struct {
	// BaseURL is the platform origin activity URLs are built from.
	BaseURL string
	// Cookies is the normalized authenticated session bundle.
	Cookies []*network.CookieParam
	// Headless disables the browser window; on in production, off only
	// for local debugging.
	Headless bool
}

// Capturer drives stealth browser sessions against activity pages.
type Capturer struct {
	cfg Config
}

// NewCapturer validates cfg and builds a Capturer.
func NewCapturer(cfg Config) (*Capturer, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if len(cfg.Cookies) == 0 {
		return nil, fmt.Errorf("session cookies are required")
	}
	return &Capturer{cfg: cfg}, nil
}

// ActivityURL returns the detail page URL for an activity.
func (c *Capturer) ActivityURL(activityID int64) string {
	return fmt.Sprintf("%s/activities/%d", strings.TrimSuffix(c.cfg.BaseURL, "/"), activityID)
}

// Capture renders the activity page and screenshots it. Exactly one
// browser process is launched per call and torn down before returning,
// success or failure.
func (c *Capturer) Capture(ctx context.Context, activityID int64) (Evidence, error) {
	url := c.ActivityURL(activityID)
	log.Printf("capturing activity %d from %s", activityID, url)

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", c.cfg.Headless),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-features", "IsolateOrigins,site-per-process"),
		chromedp.Flag("disable-site-isolation-trials", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-setuid-sandbox", true),
		chromedp.WindowSize(1920, 1080),
		chromedp.UserAgent(userAgent),
	)
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	defer cancelBrowser()

	if err := chromedp.Run(browserCtx,
		chromedp.ActionFunc(func(ctx context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(stealthScript).Do(ctx)
			return err
		}),
		network.Enable(),
		network.SetCookies(c.cfg.Cookies),
	); err != nil {
		return Evidence{}, apperrors.Wrap(apperrors.CodeCaptureFailed, "prepare browser session", err)
	}

	// Bounded navigation; a timeout is tolerated because a partial
	// render is often enough for adjudication.
	navCtx, cancelNav := context.WithTimeout(browserCtx, timeouts.CaptureNavigation)
	err := chromedp.Run(navCtx, chromedp.Navigate(url), chromedp.WaitReady("body", chromedp.ByQuery))
	cancelNav()
	if err != nil {
		if !errors.Is(err, context.DeadlineExceeded) {
			return Evidence{}, apperrors.Wrap(apperrors.CodeCaptureFailed,
				fmt.Sprintf("navigate to activity %d", activityID), err)
		}
		log.Printf("activity %d: navigation budget exceeded, proceeding with partial render", activityID)
	}

	c.dismissSignupModal(browserCtx, activityID)

	selCtx, cancelSel := context.WithTimeout(browserCtx, timeouts.CaptureSelector)
	raceErr := chromedp.Run(selCtx,
		chromedp.Poll(contentReadyExpr, nil, chromedp.WithPollingInterval(250*time.Millisecond)),
	)
	cancelSel()

	var pageHTML string
	if err := chromedp.Run(browserCtx, chromedp.OuterHTML("html", &pageHTML, chromedp.ByQuery)); err != nil {
		return Evidence{}, apperrors.Wrap(apperrors.CodeCaptureFailed, "read rendered page", err)
	}
	// A stale session renders the login page instead of the activity.
	// Retrying is futile until the credential bundle is rotated.
	if LooksLikeLoginPage(pageHTML) {
		return Evidence{}, apperrors.New(apperrors.CodeAuthenticationStale,
			fmt.Sprintf("activity %d rendered a login page, session cookies are stale", activityID))
	}
	if raceErr != nil {
		return Evidence{}, apperrors.Wrap(apperrors.CodeCaptureTimeout,
			fmt.Sprintf("activity %d content did not become ready", activityID), raceErr)
	}

	var screenshot []byte
	if err := chromedp.Run(browserCtx,
		chromedp.Sleep(timeouts.CaptureSettle),
		chromedp.FullScreenshot(&screenshot, 100),
	); err != nil {
		return Evidence{}, apperrors.Wrap(apperrors.CodeCaptureFailed,
			fmt.Sprintf("screenshot activity %d", activityID), err)
	}

	log.Printf("captured activity %d (%d bytes)", activityID, len(screenshot))
	return Evidence{ActivityID: activityID, PNG: screenshot, CapturedAt: time.Now().UTC()}, nil
}

// dismissSignupModal closes the signup overlay when present. Absence is
// the common case and not an error.
func (c *Capturer) dismissSignupModal(ctx context.Context, activityID int64) {
	modalCtx, cancel := context.WithTimeout(ctx, timeouts.CaptureModal)
	defer cancel()
	err := chromedp.Run(modalCtx,
		chromedp.Click(signupModalSelector, chromedp.ByQuery),
		chromedp.Sleep(time.Second),
	)
	if err == nil {
		log.Printf("activity %d: dismissed signup modal", activityID)
	}
}
