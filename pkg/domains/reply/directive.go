package reply

import (
	"regexp"
	"strings"
	"time"
)

var scheduleDirective = regexp.MustCompile(`\[\[\s*schedule:\s*(\d{4}-\d{2}-\d{2} \d{2}:\d{2})\s*\|\s*([^\]]*?)\s*\]\]`)

const scheduleLayout = "2006-01-02 15:04"

type directive struct {
	at      time.Time
	summary string
}

// extractDirective removes every schedule directive from text and returns the
// first one that parses.
func extractDirective(text string) (string, *directive) {
	var found *directive
	for _, m := range scheduleDirective.FindAllStringSubmatch(text, -1) {
		if found != nil {
			break
		}
		at, err := time.ParseInLocation(scheduleLayout, m[1], time.UTC)
		if err != nil {
			continue
		}
		found = &directive{at: at, summary: strings.TrimSpace(m[2])}
	}
	cleaned := scheduleDirective.ReplaceAllString(text, "")
	return strings.TrimSpace(cleaned), found
}
