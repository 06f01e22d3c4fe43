package parser

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/grafana/regexp"
	"golang.org/x/crypto/blake2b"

	"kptv-player/work/logger"
	"kptv-player/work/types"
)

var (
	// attrRegex matches key="value" pairs and bare key=value tokens on a directive line.
	attrRegex = regexp.MustCompile(`([A-Za-z0-9_-]+)=("[^"]*"|[^\s,"]+)`)

	// locatorRegex recognises a locator line: anything starting with a URI scheme.
	locatorRegex = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9+.-]*://`)
)

// pendingEntry is a parsed directive waiting for its locator line.
type pendingEntry struct {
	line  int
	attrs map[string]string
}

// ParsePlaylist reads an extended M3U document and returns one classified, normalized
// entry per directive/locator pair, in document order. Problems with individual entries
// are reported as warnings. A read error means the document is incomplete: it is
// returned as err and the entries read so far must not be used.
func ParsePlaylist(r io.Reader) ([]*types.ContentEntry, []types.ParseWarning, error) {
	var (
		entries  []*types.ContentEntry
		warnings []types.ParseWarning
		pending  *pendingEntry
		lineNum  int
	)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if lineNum == 1 {
			line = strings.TrimPrefix(line, "\ufeff")
		}

		switch {
		case line == "":
			continue

		case strings.HasPrefix(line, "#EXTINF:"):
			if pending != nil {
				warnings = append(warnings, types.ParseWarning{
					Line:   pending.line,
					Reason: "directive without locator, superseded by the next directive",
				})
			}
			pending = &pendingEntry{line: lineNum, attrs: ParseEXTINF(line)}

		case strings.HasPrefix(line, "#"):
			// header and unsupported tags
			continue

		case locatorRegex.MatchString(line):
			if pending == nil {
				logger.Debug("[PARSE] Skipping locator without directive on line %d", lineNum)
				continue
			}
			entry, warn := buildEntry(pending.attrs, line)
			if warn != "" {
				warnings = append(warnings, types.ParseWarning{Line: lineNum, Reason: warn})
			}
			entries = append(entries, entry)
			pending = nil

		default:
			logger.Debug("[PARSE] Ignoring unrecognised line %d", lineNum)
		}
	}

	if pending != nil {
		warnings = append(warnings, types.ParseWarning{
			Line:   pending.line,
			Reason: "directive without locator at end of document",
		})
	}

	if err := scanner.Err(); err != nil {
		return nil, warnings, fmt.Errorf("playlist read failed after line %d: %w", lineNum, err)
	}

	for _, w := range warnings {
		logger.Warn("[PARSE] %s", w)
	}

	return entries, warnings, nil
}

// ParseEXTINF splits a directive line into its attributes. The display name is stored
// under "tvg-name" when the directive does not advertise one itself, and the leading
// duration token under "duration".
func ParseEXTINF(line string) map[string]string {
	attrs := make(map[string]string)

	line = strings.TrimPrefix(line, "#EXTINF:")

	// The name follows the last comma that is not inside a quoted value.
	lastComma := -1
	inQuotes := false
	for i := 0; i < len(line); i++ {
		switch line[i] {
		case '"':
			inQuotes = !inQuotes
		case ',':
			if !inQuotes {
				lastComma = i
			}
		}
	}

	attrPart := line
	name := ""
	if lastComma != -1 {
		attrPart = line[:lastComma]
		name = strings.TrimSpace(line[lastComma+1:])
	}
	attrPart = strings.TrimSpace(attrPart)

	if fields := strings.Fields(attrPart); len(fields) > 0 && !strings.Contains(fields[0], "=") {
		attrs["duration"] = fields[0]
	}

	for _, m := range attrRegex.FindAllStringSubmatch(attrPart, -1) {
		attrs[strings.ToLower(m[1])] = strings.Trim(m[2], `"`)
	}

	if name != "" {
		attrs["display-name"] = name
		if attrs["tvg-name"] == "" {
			attrs["tvg-name"] = name
		}
	}

	return attrs
}

// buildEntry turns a closed directive into a catalog entry. The returned string is a
// warning for entries that could not be normalized.
func buildEntry(attrs map[string]string, locator string) (*types.ContentEntry, string) {
	name := attrs["display-name"]
	if name == "" {
		name = attrs["tvg-name"]
	}
	if name == "" {
		name = "Unknown"
	}

	entry := &types.ContentEntry{
		ID:            attrs["tvg-id"],
		DisplayName:   name,
		LogoURL:       attrs["tvg-logo"],
		GroupLabel:    attrs["group-title"],
		RawAttributes: attrs,
		Locator:       locator,
		ChannelNumber: attrs["tvg-chno"],
		Duration:      -1,
	}
	if d, err := strconv.ParseFloat(attrs["duration"], 64); err == nil {
		entry.Duration = d
	}
	if entry.ID == "" {
		entry.ID = EntryID(name, locator)
	}

	entry.Type = Classify(entry.GroupLabel, entry.DisplayName)
	entry.ResolvedPlayURL = ResolvePlayURL(attrs, locator)
	entry.Playable = entry.ResolvedPlayURL != ""

	if !entry.Playable {
		return entry, fmt.Sprintf("entry %q has no resolvable source", name)
	}
	return entry, ""
}

// EntryID derives a stable identifier from the display name and locator for entries
// that carry no tvg-id.
func EntryID(name, locator string) string {
	sum := blake2b.Sum256([]byte(name + "\x00" + locator))
	return hex.EncodeToString(sum[:8])
}
