package media

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/chatbridge/pkg/config"
	"github.com/chatbridge/pkg/constant"
	"github.com/chatbridge/pkg/entities"
	"github.com/chatbridge/pkg/errs"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSTT struct {
	transcribe func(ctx context.Context, data []byte, fileName string) (string, error)
	calls      atomic.Int32
}

func (f *fakeSTT) Transcribe(ctx context.Context, data []byte, fileName string) (string, error) {
	f.calls.Add(1)
	return f.transcribe(ctx, data, fileName)
}

type fakeVision struct {
	extract  func(ctx context.Context, data []byte) (string, error)
	classify func(ctx context.Context, data []byte) (bool, error)
}

func (f *fakeVision) ExtractText(ctx context.Context, data []byte, _ string) (string, error) {
	return f.extract(ctx, data)
}

func (f *fakeVision) ClassifySafety(ctx context.Context, data []byte, _ string) (bool, error) {
	if f.classify == nil {
		return true, nil
	}
	return f.classify(ctx, data)
}

type fakeDocs struct {
	extract func(ctx context.Context, data []byte, mimeType string) (string, error)
	calls   atomic.Int32
}

func (f *fakeDocs) ExtractText(ctx context.Context, data []byte, mimeType string) (string, error) {
	f.calls.Add(1)
	return f.extract(ctx, data, mimeType)
}

type fakeStore struct {
	put  func(ctx context.Context, key string, data []byte) (string, error)
	keys []string
	data [][]byte
}

func (f *fakeStore) Put(ctx context.Context, key string, data []byte, _ string) (string, error) {
	f.keys = append(f.keys, key)
	f.data = append(f.data, data)
	if f.put != nil {
		return f.put(ctx, key, data)
	}
	return "https://cdn.example/" + key, nil
}

func testConfig() config.Media {
	return config.Media{
		AudioTimeout:     200 * time.Millisecond,
		ImageTimeout:     50 * time.Millisecond,
		DocumentTimeout:  200 * time.Millisecond,
		DownloadTimeout:  200 * time.Millisecond,
		MaxAudioBytes:    1024,
		MinDocumentChars: 10,
	}
}

func newTestPipeline(stt SpeechToText, vision Vision, docs, alt DocumentText, store ObjectStorage) *Pipeline {
	return NewPipeline(testConfig(), stt, vision, docs, alt, store, zerolog.Nop())
}

func TestExtractAudioTranscribes(t *testing.T) {
	t.Parallel()

	stt := &fakeSTT{transcribe: func(context.Context, []byte, string) (string, error) { return "see you at five", nil }}
	store := &fakeStore{}
	p := newTestPipeline(stt, nil, nil, nil, store)

	res := p.Extract(context.Background(), "t1", Audio{Raw{Data: []byte("ogg"), MimeType: "audio/ogg"}})

	assert.Equal(t, entities.ExtractionOK, res.Descriptor.ExtractionStatus)
	assert.True(t, strings.HasPrefix(res.ExtractedText, "see you at five"))
	assert.True(t, strings.HasSuffix(res.ExtractedText, constant.MARKER_AUDIO+" "+constant.ANALYSIS_DIRECTIVE))
	require.Len(t, store.keys, 1)
	assert.True(t, strings.HasPrefix(store.keys[0], "t1/audio/"))
	assert.Equal(t, "https://cdn.example/"+store.keys[0], res.Descriptor.StorageURL)
}

func TestExtractOversizedAudioSkipsProvider(t *testing.T) {
	t.Parallel()

	stt := &fakeSTT{transcribe: func(context.Context, []byte, string) (string, error) { return "never", nil }}
	store := &fakeStore{}
	p := newTestPipeline(stt, nil, nil, nil, store)

	res := p.Extract(context.Background(), "t1", Audio{Raw{Data: make([]byte, 2048), MimeType: "audio/ogg"}})

	assert.Equal(t, entities.ExtractionUnsupported, res.Descriptor.ExtractionStatus)
	assert.Contains(t, res.ExtractedText, "too large")
	assert.Zero(t, stt.calls.Load())
	assert.Len(t, store.keys, 1, "bytes are stored even when extraction is skipped")
}

func TestExtractImageTimeoutYieldsPlaceholder(t *testing.T) {
	t.Parallel()

	block := make(chan struct{})
	defer close(block)
	vision := &fakeVision{extract: func(context.Context, []byte) (string, error) {
		<-block
		return "", nil
	}}
	p := newTestPipeline(nil, vision, nil, nil, &fakeStore{})

	start := time.Now()
	res := p.Extract(context.Background(), "t1", Image{Raw{Data: []byte("jpeg"), MimeType: "image/jpeg"}})

	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, entities.ExtractionFailed, res.Descriptor.ExtractionStatus)
	assert.Contains(t, res.ExtractedText, fmt.Sprintf(constant.PLACEHOLDER_TIMEOUT, "Image"))
}

func TestExtractUnsafeImageIsFlaggedNotRead(t *testing.T) {
	t.Parallel()

	var read atomic.Bool
	vision := &fakeVision{
		classify: func(context.Context, []byte) (bool, error) { return false, nil },
		extract: func(context.Context, []byte) (string, error) {
			read.Store(true)
			return "secret", nil
		},
	}
	p := newTestPipeline(nil, vision, nil, nil, &fakeStore{})

	res := p.Extract(context.Background(), "t1", Image{Raw{Data: []byte("jpeg"), MimeType: "image/jpeg"}})

	assert.True(t, res.Descriptor.Flagged)
	assert.Equal(t, entities.ExtractionUnsupported, res.Descriptor.ExtractionStatus)
	assert.False(t, read.Load())
	assert.NotContains(t, res.ExtractedText, "secret")
}

func TestExtractDocumentAlternateThreshold(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name        string
		primary     string
		primaryErr  error
		alternate   string
		want        string
		wantAltCall bool
	}{
		{name: "primary long enough", primary: "invoice total 120 EUR", alternate: "unused", want: "invoice total 120 EUR"},
		{name: "primary too short", primary: "ab", alternate: "scanned invoice text", want: "scanned invoice text", wantAltCall: true},
		{name: "primary error", primaryErr: errs.ErrFormat, alternate: "recovered text body", want: "recovered text body", wantAltCall: true},
		{name: "alternate shorter keeps primary", primary: "short", alternate: "x", want: "short", wantAltCall: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			primary := &fakeDocs{extract: func(context.Context, []byte, string) (string, error) { return tc.primary, tc.primaryErr }}
			alt := &fakeDocs{extract: func(context.Context, []byte, string) (string, error) { return tc.alternate, nil }}
			p := newTestPipeline(nil, nil, primary, alt, &fakeStore{})

			res := p.Extract(context.Background(), "t1", Document{Raw{Data: []byte("%PDF"), MimeType: "application/pdf", FileName: "a.pdf"}})

			assert.Equal(t, entities.ExtractionOK, res.Descriptor.ExtractionStatus)
			assert.True(t, strings.HasPrefix(res.ExtractedText, tc.want))
			assert.Equal(t, tc.wantAltCall, alt.calls.Load() == 1)
		})
	}
}

func TestExtractDocumentUnsupportedMime(t *testing.T) {
	t.Parallel()

	docs := &fakeDocs{extract: func(context.Context, []byte, string) (string, error) { return "x", nil }}
	store := &fakeStore{}
	p := newTestPipeline(nil, nil, docs, nil, store)

	res := p.Extract(context.Background(), "t1", Document{Raw{Data: []byte("PK"), MimeType: "application/zip", FileName: "a.zip"}})

	assert.Equal(t, entities.ExtractionUnsupported, res.Descriptor.ExtractionStatus)
	assert.Zero(t, docs.calls.Load())
	assert.Len(t, store.keys, 1)
}

func TestExtractUploadFailureStillExtracts(t *testing.T) {
	t.Parallel()

	stt := &fakeSTT{transcribe: func(context.Context, []byte, string) (string, error) { return "hello there", nil }}
	store := &fakeStore{put: func(context.Context, string, []byte) (string, error) {
		return "", errs.Transient("put", fmt.Errorf("bucket offline"))
	}}
	p := newTestPipeline(stt, nil, nil, nil, store)

	res := p.Extract(context.Background(), "t1", Audio{Raw{Data: []byte("ogg"), MimeType: "audio/ogg"}})

	assert.Empty(t, res.Descriptor.StorageURL)
	assert.Equal(t, entities.ExtractionOK, res.Descriptor.ExtractionStatus)
}

func TestExtractQuotaPlaceholder(t *testing.T) {
	t.Parallel()

	stt := &fakeSTT{transcribe: func(context.Context, []byte, string) (string, error) {
		return "", fmt.Errorf("whisper: %w", errs.ErrQuota)
	}}
	p := newTestPipeline(stt, nil, nil, nil, &fakeStore{})

	res := p.Extract(context.Background(), "t1", Audio{Raw{Data: []byte("ogg"), MimeType: "audio/ogg"}})

	assert.Equal(t, entities.ExtractionFailed, res.Descriptor.ExtractionStatus)
	assert.Contains(t, res.ExtractedText, "quota")
}

func bordered(t *testing.T) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 10, 10))
	for y := 0; y < 10; y++ {
		for x := 0; x < 10; x++ {
			img.Set(x, y, color.White)
		}
	}
	for y := 3; y < 7; y++ {
		for x := 2; x < 8; x++ {
			img.Set(x, y, color.NRGBA{R: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestNormalizeStickerTrimsBorder(t *testing.T) {
	t.Parallel()

	out, err := NormalizeSticker(bordered(t))
	require.NoError(t, err)

	img, err := png.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, 6, img.Bounds().Dx())
	assert.Equal(t, 4, img.Bounds().Dy())
}

func TestTrimBorderUniformImageUnchanged(t *testing.T) {
	t.Parallel()

	img := image.NewNRGBA(image.Rect(0, 0, 5, 5))
	got := TrimBorder(img, borderTolerance)
	assert.Equal(t, img.Bounds(), got.Bounds())
}

func TestExtractStickerUploadsNormalizedPNG(t *testing.T) {
	t.Parallel()

	vision := &fakeVision{extract: func(context.Context, []byte) (string, error) { return "", nil }}
	store := &fakeStore{}
	p := newTestPipeline(nil, vision, nil, nil, store)

	res := p.Extract(context.Background(), "t1", Sticker{Raw{Data: bordered(t), MimeType: "image/webp"}})

	assert.Equal(t, "image/png", res.Descriptor.MimeType)
	require.Len(t, store.data, 1)
	img, err := png.Decode(bytes.NewReader(store.data[0]))
	require.NoError(t, err)
	assert.Equal(t, 6, img.Bounds().Dx())
	assert.Equal(t, entities.ExtractionFailed, res.Descriptor.ExtractionStatus, "no text read from the sticker")
	assert.Contains(t, res.ExtractedText, constant.MARKER_STICKER)
}

func TestStripMarkers(t *testing.T) {
	t.Parallel()

	marked := Mark(entities.AttachmentDocument, "Quarterly report")
	assert.Contains(t, marked, constant.MARKER_DOCUMENT)
	assert.Equal(t, "Quarterly report", StripMarkers(marked))
	assert.Equal(t, "plain", StripMarkers("plain"))
	assert.Equal(t, "a\n\nb", StripMarkers(Mark(entities.AttachmentAudio, "a")+"\n\n"+"b"))
}

func TestNewRejectsUnknownKind(t *testing.T) {
	t.Parallel()

	_, err := New("video", Raw{})
	assert.ErrorIs(t, err, errs.ErrValidation)

	a, err := New(entities.AttachmentSticker, Raw{Data: []byte{1}})
	require.NoError(t, err)
	assert.IsType(t, Sticker{}, a)
}
