package main

import (
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestIsNewerVersion(t *testing.T) {
	tests := []struct {
		latest  string
		current string
		want    bool
	}{
		{"2.0.8", "2.0.6", true},
		{"2.0.6", "2.0.8", false},
		{"2.0.8", "2.0.8", false},
		{"2.1.0", "2.0.9", true},
		{"3.0.0", "2.9.9", true},
		{"v2.0.8", "2.0.6", true},
		{"2.0.8", "v2.0.6", true},
		{"v2.0.8", "v2.0.8", false},
		{"2.0.10", "2.0.9", true},
		{"2.0.9", "2.0.10", false},
		{"", "1.0.0", false},
		{"1.0.0", "dev", false},
	}

	for _, tt := range tests {
		t.Run(tt.latest+"_vs_"+tt.current, func(t *testing.T) {
			got := isNewerVersion(tt.latest, tt.current)
			if got != tt.want {
				t.Errorf("isNewerVersion(%q, %q) = %v, want %v", tt.latest, tt.current, got, tt.want)
			}
		})
	}
}

func TestUpdateCheckCachePath(t *testing.T) {
	path := updateCheckCachePath()
	if !strings.HasSuffix(path, filepath.Join("runeval", "update-check.json")) && !strings.HasSuffix(path, "runeval-update-check.json") {
		t.Errorf("unexpected cache path %q", path)
	}
}

func TestCheckForUpdate_FreshCache(t *testing.T) {
	old := version
	version = "1.0.0"
	defer func() { version = old }()

	path := filepath.Join(t.TempDir(), "update-check.json")
	now := time.Now()

	writeUpdateCache(path, updateCheckCache{LastCheck: now.Add(-time.Hour), LatestVersion: "1.2.0"})
	latest, ok := checkForUpdate(path, now)
	if !ok || latest != "1.2.0" {
		t.Errorf("expected cached 1.2.0, got %q, %v", latest, ok)
	}

	writeUpdateCache(path, updateCheckCache{LastCheck: now.Add(-time.Hour), LatestVersion: "1.0.0"})
	if _, ok := checkForUpdate(path, now); ok {
		t.Error("same version should not be reported")
	}
}

func TestReadUpdateCache_Missing(t *testing.T) {
	if _, ok := readUpdateCache(filepath.Join(t.TempDir(), "nope.json")); ok {
		t.Error("missing cache should not be ok")
	}
}
