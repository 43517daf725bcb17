// Package device derives display labels and stable fingerprints from
// User-Agent strings. Session start records are enriched with both so
// reviewers can tell a subject's workstations apart.
package device

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/mssola/useragent"
)

// Info is what a session start record carries about the originating device.
type Info struct {
	Label       string `json:"label"`
	Browser     string `json:"browser"`
	OS          string `json:"os"`
	Mobile      bool   `json:"mobile"`
	Fingerprint string `json:"fingerprint,omitempty"`
}

// Describe parses a User-Agent string into reviewer-facing device info.
func Describe(userAgentString string) Info {
	if userAgentString == "" {
		return Info{Label: "Unknown Device"}
	}

	ua := useragent.New(userAgentString)
	browser, _ := ua.Browser()
	os := ua.OS()

	info := Info{
		Browser:     browser,
		OS:          os,
		Mobile:      ua.Mobile(),
		Fingerprint: Fingerprint(userAgentString),
	}

	if info.Mobile {
		if platform := ua.Platform(); platform != "" {
			info.Label = strings.TrimSpace(browser + " on " + platform)
			return info
		}
	}
	if browser == "" {
		browser = "Unknown Browser"
	}
	if os == "" {
		os = "Unknown OS"
	}
	info.Label = strings.TrimSpace(browser + " on " + os)
	return info
}

// Fingerprint hashes the browser family, its major version, the OS and the
// platform class. Minor browser updates keep the fingerprint stable; only a
// major version bump or a different machine changes it.
func Fingerprint(userAgentString string) string {
	if userAgentString == "" {
		return ""
	}

	ua := useragent.New(userAgentString)
	browser, version := ua.Browser()

	majorVersion := "unknown"
	if version != "" {
		if parts := strings.Split(version, "."); len(parts) > 0 && parts[0] != "" {
			majorVersion = parts[0]
		}
	}

	platform := "desktop"
	if ua.Mobile() {
		platform = "mobile"
	}

	browser = strings.ToLower(strings.TrimSpace(browser))
	if browser == "" {
		browser = "unknown"
	}
	os := strings.ToLower(strings.TrimSpace(ua.OS()))
	if os == "" {
		os = "unknown"
	}

	data := fmt.Sprintf("%s|%s|%s|%s", browser, majorVersion, os, platform)
	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}
