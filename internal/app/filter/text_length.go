package filter

import (
	"context"
	"unicode/utf8"

	zlog "github.com/rs/zerolog/log"
)

// TextLengthFilterName is the config name of TextLengthFilter.
const TextLengthFilterName = "text_length_filter"

// TextLengthConfig represents the configuration for TextLengthFilter.
type TextLengthConfig struct {
	MaxChars int `yaml:"max_chars" mapstructure:"max_chars" default:"10000" validate:"gte=1"`
}

// TextLengthFilter rejects texts longer than the configured number of characters.
// Dialogue lines are checked individually.
type TextLengthFilter struct {
	config *TextLengthConfig
}

// NewTextLengthFilter creates a text length filter with the given maximum.
func NewTextLengthFilter(maxChars int) *TextLengthFilter {
	if maxChars <= 0 {
		maxChars = 10000
	}
	return &TextLengthFilter{config: &TextLengthConfig{MaxChars: maxChars}}
}

func (f *TextLengthFilter) Name() string {
	return TextLengthFilterName
}

func (f *TextLengthFilter) Description() string {
	return "Rejects speech text (or any dialogue line) longer than max_chars characters"
}

func (f *TextLengthFilter) ReturnCodes() []string {
	return []string{"text_too_long"}
}

func (f *TextLengthFilter) ValidateConfig(settings map[string]any) error {
	var config TextLengthConfig
	if err := decodeSettings(settings, &config); err != nil {
		return err
	}
	f.config = &config
	zlog.Info().Msgf("text length filter config: %+v", config)
	return nil
}

func (f *TextLengthFilter) AppliesTo(kind RequestKind) bool {
	// Replays carry no new text
	return kind == KindSpeak || kind == KindDialogue
}

func (f *TextLengthFilter) Check(_ context.Context, req Request, _ QueueView) Result {
	if f.config == nil {
		return Accept()
	}
	for _, text := range req.Texts {
		if utf8.RuneCountInString(text) > f.config.MaxChars {
			return Reject("text_too_long")
		}
	}
	return Accept()
}

// MaxChars returns the configured maximum.
func (f *TextLengthFilter) MaxChars() int {
	if f.config == nil {
		return 0
	}
	return f.config.MaxChars
}

func init() {
	Register(TextLengthFilterName, func() Filter {
		return NewTextLengthFilter(0)
	})
}
