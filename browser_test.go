package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"testing"
)

func TestBrowserCapturer_Enabled(t *testing.T) {
	var nilCapturer *BrowserCapturer
	if nilCapturer.Enabled() {
		t.Error("nil capturer should be disabled")
	}
	if NewBrowserCapturer(DefaultConfig().Browser).Enabled() {
		t.Error("fallback screenshots are off by default")
	}
	if !NewBrowserCapturer(BrowserConfig{FallbackScreenshot: true}).Enabled() {
		t.Error("expected enabled")
	}
}

func TestBrowserCapturer_AllocatorOptions(t *testing.T) {
	base := len(NewBrowserCapturer(BrowserConfig{}).allocatorOptions())

	headless := NewBrowserCapturer(BrowserConfig{Headless: true}).allocatorOptions()
	if len(headless) != base+1 {
		t.Errorf("headless should add one option, got %d vs %d", len(headless), base)
	}

	withPath := NewBrowserCapturer(BrowserConfig{Headless: true, ExecutablePath: "/usr/bin/chromium"}).allocatorOptions()
	if len(withPath) != base+2 {
		t.Errorf("executable path should add one more option, got %d", len(withPath))
	}
}

func findChrome() string {
	for _, name := range []string{"chromium", "chromium-browser", "google-chrome", "google-chrome-stable"} {
		if p, err := exec.LookPath(name); err == nil {
			return p
		}
	}
	return ""
}

func TestBrowserCapturer_Capture(t *testing.T) {
	chrome := findChrome()
	if chrome == "" {
		t.Skip("no Chrome/Chromium in PATH")
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><body><h1>hello</h1><script>throw new Error("boom")</script></body></html>`))
	}))
	defer srv.Close()

	bc := NewBrowserCapturer(BrowserConfig{
		FallbackScreenshot: true,
		ExecutablePath:     chrome,
		Headless:           true,
		Timeout:            30,
	})
	res, err := bc.Capture(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	// JPEG magic
	if len(res.Image) < 3 || res.Image[0] != 0xff || res.Image[1] != 0xd8 {
		t.Error("expected JPEG bytes")
	}
	if len(res.ConsoleErrors) == 0 {
		t.Error("expected the thrown exception to be captured")
	}
}
