package media

import "context"

// Providers report failures wrapped around errs.ErrTimeout, errs.ErrQuota,
// errs.ErrFormat or errs.ErrTooLarge when they can tell.

type SpeechToText interface {
	Transcribe(ctx context.Context, data []byte, fileName string) (string, error)
}

type Vision interface {
	ExtractText(ctx context.Context, data []byte, mimeType string) (string, error)
	ClassifySafety(ctx context.Context, data []byte, mimeType string) (safe bool, err error)
}

type DocumentText interface {
	ExtractText(ctx context.Context, data []byte, mimeType string) (string, error)
}

// ObjectStorage stores bytes under key and returns a public URL.
type ObjectStorage interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
}
