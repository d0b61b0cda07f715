package constant

// Terminal markers appended to every extracted string, one per media kind.
const (
	MARKER_AUDIO    = "[end of audio]"
	MARKER_IMAGE    = "[end of image]"
	MARKER_DOCUMENT = "[end of document]"
	MARKER_STICKER  = "[end of sticker]"

	ANALYSIS_DIRECTIVE = "Be concise and analyze the information contained in this file."
)

// Placeholders written to extractedText when extraction degrades.
const (
	PLACEHOLDER_TIMEOUT       = "%s received but processing took too long"
	PLACEHOLDER_QUOTA         = "%s received but could not be processed: provider quota exhausted"
	PLACEHOLDER_FORMAT        = "%s received but its format is not supported"
	PLACEHOLDER_TOO_LARGE     = "%s received but it is too large to process (max %d MB)"
	PLACEHOLDER_EMPTY         = "%s received but the file is empty"
	PLACEHOLDER_NO_TEXT       = "%s processed but no text could be extracted"
	PLACEHOLDER_UNSAFE        = "%s received but flagged as unsafe; content was not analyzed"
	PLACEHOLDER_DOWNLOAD      = "%s received but could not be downloaded"
	PLACEHOLDER_FAILED        = "%s received but could not be processed: %s"
	PLACEHOLDER_EMPTY_MESSAGE = "%s received"
)
