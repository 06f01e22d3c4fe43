package parser

import "strings"

// playURLKeys lists the directive attributes that may carry the actual stream address,
// highest priority first. The locator line is the last resort.
var playURLKeys = []string{"play_url", "stream_url", "url", "m3u8", "source"}

// ResolvePlayURL picks the URL a player should open for an entry. It returns an empty
// string when no candidate is present.
func ResolvePlayURL(attrs map[string]string, locator string) string {
	for _, key := range playURLKeys {
		if v := strings.TrimSpace(attrs[key]); v != "" {
			return v
		}
	}
	return strings.TrimSpace(locator)
}
