package tagging

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/ilovetoast/brandlens/internal/config"
)

// Tagger produces descriptive tags for an asset's rendered thumbnail.
type Tagger interface {
	TagImage(ctx context.Context, imageData []byte, mimeType string) ([]string, error)
}

const tagPrompt = `List descriptive tags for this image: subjects, setting, mood, style, dominant colors.
Respond with a single comma-separated line of lowercase tags, at most %d, nothing else.`

type AnthropicTagger struct {
	client  anthropic.Client
	model   string
	maxTags int
}

func NewAnthropicTagger(cfg config.TaggingConfig) *AnthropicTagger {
	maxTags := cfg.MaxTags
	if maxTags <= 0 {
		maxTags = 12
	}
	return &AnthropicTagger{
		client:  anthropic.NewClient(option.WithAPIKey(cfg.AnthropicKey)),
		model:   cfg.Model,
		maxTags: maxTags,
	}
}

func (t *AnthropicTagger) TagImage(ctx context.Context, imageData []byte, mimeType string) ([]string, error) {
	encoded := base64.StdEncoding.EncodeToString(imageData)

	resp, err := t.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(t.model),
		MaxTokens: 256,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(
				anthropic.NewImageBlockBase64(mimeType, encoded),
				anthropic.NewTextBlock(fmt.Sprintf(tagPrompt, t.maxTags)),
			),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("anthropic tag request: %w", err)
	}

	var text string
	for _, block := range resp.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}

	tags := parseTags(text, t.maxTags)
	if len(tags) == 0 {
		return nil, fmt.Errorf("no tags in model response")
	}
	return tags, nil
}

func parseTags(text string, max int) []string {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return r == ',' || r == '\n'
	})

	seen := make(map[string]bool, len(fields))
	var tags []string
	for _, f := range fields {
		tag := strings.ToLower(strings.TrimSpace(f))
		if tag == "" || seen[tag] {
			continue
		}
		seen[tag] = true
		tags = append(tags, tag)
		if len(tags) == max {
			break
		}
	}
	return tags
}
