// Package ai talks to OpenAI-compatible endpoints for completions,
// transcription and image reading.
package ai

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chatbridge/pkg/config"
	"github.com/chatbridge/pkg/domains/media"
	"github.com/chatbridge/pkg/domains/reply"
	"github.com/chatbridge/pkg/errs"
	"github.com/sashabaranov/go-openai"
)

// maxAudioBytes is the transcription upload ceiling.
const maxAudioBytes = 25 * 1024 * 1024

const (
	ocrPrompt    = "Transcribe every piece of readable text in this image. If there is no text, describe the image in one or two sentences."
	safetyPrompt = "Does this image contain sexual, violent or otherwise unsafe content? Answer with exactly one word: SAFE or UNSAFE."
)

func newClient(cfg config.AIProvider) *openai.Client {
	c := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		c.BaseURL = cfg.BaseURL
	}
	return openai.NewClientWithConfig(c)
}

// Completer is a chat completion client. The secondary provider uses the same
// type with a different base URL.
type Completer struct {
	name    string
	model   string
	timeout time.Duration
	client  *openai.Client
}

func NewCompleter(cfg config.AIProvider) *Completer {
	return &Completer{
		name:    cfg.Name,
		model:   cfg.Model,
		timeout: cfg.Timeout,
		client:  newClient(cfg),
	}
}

func (c *Completer) Name() string { return c.name }

func (c *Completer) Complete(ctx context.Context, req reply.Request) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    Messages(req),
		Temperature: 0.7,
	})
	if err != nil {
		return "", classify("complete", err)
	}
	if len(resp.Choices) == 0 {
		return "", errs.Transient("complete", errors.New("no choices returned"))
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// Messages lays out the persona prompt, the history and the current message.
func Messages(req reply.Request) []openai.ChatCompletionMessage {
	msgs := make([]openai.ChatCompletionMessage, 0, len(req.Context)+2)
	if req.System != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.System})
	}
	for _, t := range req.Context {
		role := openai.ChatMessageRoleUser
		if t.Role == reply.RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		msgs = append(msgs, openai.ChatCompletionMessage{Role: role, Content: t.Text})
	}
	return append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: req.UserMessage})
}

type Transcriber struct {
	model  string
	client *openai.Client
}

func NewTranscriber(cfg config.AI) *Transcriber {
	return &Transcriber{model: cfg.STTModel, client: newClient(cfg.Primary)}
}

func (t *Transcriber) Transcribe(ctx context.Context, data []byte, fileName string) (string, error) {
	if len(data) > maxAudioBytes {
		return "", fmt.Errorf("audio of %d bytes: %w", len(data), errs.ErrTooLarge)
	}
	resp, err := t.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    t.model,
		FilePath: fileName,
		Reader:   bytes.NewReader(data),
	})
	if err != nil {
		return "", classify("transcribe", err)
	}
	return strings.TrimSpace(resp.Text), nil
}

// Vision reads and classifies images with a multimodal chat model.
type Vision struct {
	model  string
	client *openai.Client
}

func NewVision(cfg config.AI) *Vision {
	return &Vision{model: cfg.VisionModel, client: newClient(cfg.Primary)}
}

func (v *Vision) ExtractText(ctx context.Context, data []byte, mimeType string) (string, error) {
	out, err := v.ask(ctx, ocrPrompt, data, mimeType, 800)
	if err != nil {
		return "", classify("vision", err)
	}
	return out, nil
}

func (v *Vision) ClassifySafety(ctx context.Context, data []byte, mimeType string) (bool, error) {
	out, err := v.ask(ctx, safetyPrompt, data, mimeType, 5)
	if err != nil {
		return false, classify("safety", err)
	}
	return !strings.Contains(strings.ToUpper(out), "UNSAFE"), nil
}

func (v *Vision) ask(ctx context.Context, prompt string, data []byte, mimeType string, maxTokens int) (string, error) {
	resp, err := v.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     v.model,
		MaxTokens: maxTokens,
		Messages: []openai.ChatCompletionMessage{{
			Role: openai.ChatMessageRoleUser,
			MultiContent: []openai.ChatMessagePart{
				{Type: openai.ChatMessagePartTypeText, Text: prompt},
				{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{
					URL:    DataURI(data, mimeType),
					Detail: openai.ImageURLDetailAuto,
				}},
			},
		}},
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("no choices returned")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func DataURI(data []byte, mimeType string) string {
	if mimeType == "" {
		mimeType = "image/png"
	}
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

var (
	_ reply.Completer    = (*Completer)(nil)
	_ media.SpeechToText = (*Transcriber)(nil)
	_ media.Vision       = (*Vision)(nil)
)
