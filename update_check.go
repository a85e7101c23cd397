package main

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/Masterminds/semver/v3"
	selfupdate "github.com/creativeprojects/go-selfupdate"
)

const updateCheckInterval = 24 * time.Hour

type updateCheckCache struct {
	LastCheck     time.Time `json:"lastCheck"`
	LatestVersion string    `json:"latestVersion"`
}

// updateNotice holds the result of a background update check.
var updateNotice chan string

// startUpdateCheck checks for a newer release in the background. Call
// printUpdateNotice before exiting to show the result.
func startUpdateCheck() {
	if version == "dev" {
		return
	}

	updateNotice = make(chan string, 1)

	go func() {
		defer func() {
			// never crash the main process
			recover()
		}()

		latest, ok := checkForUpdate(updateCheckCachePath(), time.Now())
		if ok {
			updateNotice <- latest
		}
		close(updateNotice)
	}()
}

// printUpdateNotice prints a notification if a newer version was found.
// It does not wait for a check that is still running.
func printUpdateNotice() {
	if updateNotice == nil {
		return
	}
	select {
	case v, ok := <-updateNotice:
		if ok && v != "" {
			os.Stderr.WriteString("\n" + styleUpdate.Render("A new version of runeval is available: v"+v) +
				" (current: v" + version + ")\nRun 'runeval upgrade' to update.\n")
		}
	default:
	}
}

func checkForUpdate(cachePath string, now time.Time) (string, bool) {
	if cache, ok := readUpdateCache(cachePath); ok && now.Sub(cache.LastCheck) < updateCheckInterval {
		if isNewerVersion(cache.LatestVersion, version) {
			return cache.LatestVersion, true
		}
		return "", false
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	latest, found, err := selfupdate.DetectLatest(ctx, selfupdate.ParseSlug(releaseSlug))
	if err != nil || !found {
		return "", false
	}

	latestVersion := latest.Version()
	writeUpdateCache(cachePath, updateCheckCache{LastCheck: now, LatestVersion: latestVersion})

	if latest.LessOrEqual(version) {
		return "", false
	}
	return latestVersion, true
}

func readUpdateCache(path string) (updateCheckCache, bool) {
	var cache updateCheckCache
	data, err := os.ReadFile(path)
	if err != nil {
		return cache, false
	}
	if json.Unmarshal(data, &cache) != nil {
		return cache, false
	}
	return cache, true
}

func writeUpdateCache(path string, cache updateCheckCache) {
	AtomicWriteJSON(path, cache)
}

// isNewerVersion reports whether latest is a higher semver than current.
// Unparseable versions are never newer.
func isNewerVersion(latest, current string) bool {
	l, err := semver.NewVersion(latest)
	if err != nil {
		return false
	}
	c, err := semver.NewVersion(current)
	if err != nil {
		return false
	}
	return l.GreaterThan(c)
}

func updateCheckCachePath() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "runeval", "update-check.json")
	}
	return filepath.Join(os.TempDir(), "runeval-update-check.json")
}
