package service

import (
	"strings"

	"github.com/mssola/useragent"
)

// describeClient extracts coarse client details from a User-Agent string for
// audit metadata. The raw header is stored separately on the entry.
func describeClient(userAgent string) map[string]any {
	if userAgent == "" {
		return nil
	}

	ua := useragent.New(userAgent)
	browser, version := ua.Browser()
	os := ua.OS()

	majorVersion := "unknown"
	if major, _, _ := strings.Cut(version, "."); major != "" {
		majorVersion = major
	}

	platform := "desktop"
	switch {
	case ua.Bot():
		platform = "bot"
	case ua.Mobile():
		platform = "mobile"
	}

	browser = strings.TrimSpace(browser)
	if browser == "" {
		browser = "unknown"
	}
	os = strings.TrimSpace(os)
	if os == "" {
		os = "unknown"
	}

	return map[string]any{
		"browser":       browser,
		"browser_major": majorVersion,
		"os":            os,
		"platform":      platform,
	}
}
