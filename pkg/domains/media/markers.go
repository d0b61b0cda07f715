package media

import (
	"regexp"
	"strings"

	"github.com/chatbridge/pkg/constant"
	"github.com/chatbridge/pkg/entities"
)

var blankRuns = regexp.MustCompile(`\n{3,}`)

var markers = []string{
	constant.MARKER_AUDIO,
	constant.MARKER_IMAGE,
	constant.MARKER_DOCUMENT,
	constant.MARKER_STICKER,
}

func marker(kind entities.AttachmentKind) string {
	switch kind {
	case entities.AttachmentAudio:
		return constant.MARKER_AUDIO
	case entities.AttachmentImage:
		return constant.MARKER_IMAGE
	case entities.AttachmentDocument:
		return constant.MARKER_DOCUMENT
	}
	return constant.MARKER_STICKER
}

// Mark terminates text with the kind marker and the analysis directive.
func Mark(kind entities.AttachmentKind, text string) string {
	return strings.TrimSpace(text) + "\n\n" + marker(kind) + " " + constant.ANALYSIS_DIRECTIVE
}

// StripMarkers removes every kind marker and analysis directive from text.
func StripMarkers(text string) string {
	text = strings.ReplaceAll(text, constant.ANALYSIS_DIRECTIVE, "")
	for _, m := range markers {
		text = strings.ReplaceAll(text, m, "")
	}
	lines := strings.Split(text, "\n")
	out := lines[:0]
	for _, l := range lines {
		out = append(out, strings.TrimRight(l, " \t"))
	}
	return strings.TrimSpace(blankRuns.ReplaceAllString(strings.Join(out, "\n"), "\n\n"))
}
