package main

import (
	"context"
	"fmt"
	"runtime"

	selfupdate "github.com/creativeprojects/go-selfupdate"
)

const releaseSlug = "scripness/runeval"

// cmdUpgrade replaces the running binary with the latest release.
func cmdUpgrade(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	fmt.Println("Checking for updates...")

	latest, found, err := selfupdate.DetectLatest(ctx, selfupdate.ParseSlug(releaseSlug))
	if err != nil {
		return fmt.Errorf("failed to check for updates: %w", err)
	}
	if !found {
		return fmt.Errorf("no release found for %s/%s", runtime.GOOS, runtime.GOARCH)
	}

	if latest.LessOrEqual(version) {
		fmt.Printf("Already at latest version (v%s)\n", version)
		return nil
	}

	fmt.Printf("New version available: v%s (current: v%s)\n", latest.Version(), version)

	exe, err := selfupdate.ExecutablePath()
	if err != nil {
		return fmt.Errorf("failed to find executable path: %w", err)
	}
	if err := selfupdate.UpdateTo(ctx, latest.AssetURL, latest.AssetName, exe); err != nil {
		return fmt.Errorf("failed to update: %w", err)
	}

	fmt.Printf("Successfully upgraded to %s\n", styleVersion.Render("v"+latest.Version()))
	return nil
}
