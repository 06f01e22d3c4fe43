package parser

import (
	"github.com/grafana/regexp"

	"kptv-player/work/types"
)

// classifier pairs a keyword pattern with the content type it implies.
type classifier struct {
	re  *regexp.Regexp
	typ types.ContentType
}

// Keyword rules, evaluated in order. The first match wins.
var classifiers = []classifier{
	{regexp.MustCompile(`(?i)sports|news|live`), types.ContentLiveChannel},
	{regexp.MustCompile(`(?i)movie|film`), types.ContentMovie},
	{regexp.MustCompile(`(?i)series|drama|show`), types.ContentSeriesContainer},
}

// Classify assigns a content type from the group label, then from the display name,
// falling back to a live channel when neither carries a known keyword.
func Classify(group, name string) types.ContentType {
	if t, ok := classifyText(group); ok {
		return t
	}
	if t, ok := classifyText(name); ok {
		return t
	}
	return types.ContentLiveChannel
}

func classifyText(s string) (types.ContentType, bool) {
	if s == "" {
		return types.ContentUnknown, false
	}
	for _, c := range classifiers {
		if c.re.MatchString(s) {
			return c.typ, true
		}
	}
	return types.ContentUnknown, false
}
