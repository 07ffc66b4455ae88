package capture

import "testing"

func TestLooksLikeLoginPageDetectsLoginText(t *testing.T) {
	page := `<html><body><h1>Log In to Strava</h1><form></form></body></html>`
	if !LooksLikeLoginPage(page) {
		t.Fatal("expected login page to be detected")
	}
}

func TestLooksLikeLoginPageDetectsSignIn(t *testing.T) {
	page := `<html><body><button>Sign in</button></body></html>`
	if !LooksLikeLoginPage(page) {
		t.Fatal("expected sign-in page to be detected")
	}
}

func TestLooksLikeLoginPageIgnoresActivityPage(t *testing.T) {
	page := `<html><body><h1 id="heading">Morning Run</h1><div id="elevation-profile"></div></body></html>`
	if LooksLikeLoginPage(page) {
		t.Fatal("activity page must not match login heuristic")
	}
}

func TestLooksLikeLoginPageIgnoresScriptContent(t *testing.T) {
	// Marker text inside scripts is not user-visible and must not
	// trigger the heuristic.
	page := `<html><body><h1 id="heading">Morning Run</h1><script>var t = "log in";</script></body></html>`
	if LooksLikeLoginPage(page) {
		t.Fatal("script content must not match login heuristic")
	}
}

func TestActivityURL(t *testing.T) {
	capturer, err := NewCapturer(Config{
		BaseURL: "https://www.strava.com/",
		Cookies: NormalizeCookies([]RawCookie{{Name: "c", Value: "v", Domain: ".strava.com"}}),
	})
	if err != nil {
		t.Fatalf("new capturer: %v", err)
	}
	if got := capturer.ActivityURL(12345); got != "https://www.strava.com/activities/12345" {
		t.Fatalf("unexpected activity url %q", got)
	}
}

func TestNewCapturerRequiresCookies(t *testing.T) {
	if _, err := NewCapturer(Config{BaseURL: "https://www.strava.com"}); err == nil {
		t.Fatal("expected error without cookies")
	}
}
