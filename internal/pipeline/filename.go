package pipeline

import (
	"regexp"
	"strings"
)

var illegalFilenameChars = regexp.MustCompile(`[/\\:*?"<>|\x00-\x1f]`)

const maxFilenameRunes = 100

// SanitizeFilename makes name usable as a single path element on macOS,
// Windows and Linux.
func SanitizeFilename(name string) string {
	name = illegalFilenameChars.ReplaceAllString(name, "_")
	name = strings.Trim(name, " .")
	runes := []rune(name)
	if len(runes) > maxFilenameRunes {
		name = strings.TrimRight(string(runes[:maxFilenameRunes]), " .")
	}
	if name == "" {
		return "untitled"
	}
	return name
}
