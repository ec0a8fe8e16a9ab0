package corpustune

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/sugarme/tokenizer"
	"github.com/sugarme/tokenizer/pretrained"
)

// Tokenizer exposes the minimal surface the filter and dataset builder need.
type Tokenizer interface {
	// CountTokens returns the number of tokens in text without special tokens.
	CountTokens(text string) (int, error)
	// Encode returns model inputs with special tokens, truncated and padded
	// to the configured maximum length.
	Encode(text string) (TokenizedExample, error)
	// ID identifies the tokenizer and encoding shape for cache keys.
	ID() string
}

// HFTokenizer wraps a HuggingFace tokenizer.json loaded with sugarme/tokenizer.
type HFTokenizer struct {
	counter *tokenizer.Tokenizer
	encoder *tokenizer.Tokenizer
	cfg     TokenizerConfig
}

// NewHFTokenizer loads the tokenizer file described by cfg.
func NewHFTokenizer(cfg TokenizerConfig) (*HFTokenizer, error) {
	if cfg.Path == "" {
		return nil, errors.New("tokenizer path is required")
	}
	if cfg.ModelID == "" {
		cfg.ModelID = filepath.Base(filepath.Dir(cfg.Path))
	}
	if cfg.MaxLength <= 0 {
		cfg.MaxLength = 512
	}
	counter, err := pretrained.FromFile(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("load tokenizer: %w", err)
	}
	// A second instance carries truncation so counting stays unbounded.
	encoder, err := pretrained.FromFile(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("load tokenizer: %w", err)
	}
	encoder.WithTruncation(&tokenizer.TruncationParams{
		MaxLength: cfg.MaxLength,
		Strategy:  tokenizer.LongestFirst,
		Stride:    0,
	})
	return &HFTokenizer{counter: counter, encoder: encoder, cfg: cfg}, nil
}

// ID implements Tokenizer.
func (t *HFTokenizer) ID() string {
	return fmt.Sprintf("%s@%d", t.cfg.ModelID, t.cfg.MaxLength)
}

// CountTokens implements Tokenizer.
func (t *HFTokenizer) CountTokens(text string) (int, error) {
	en, err := t.counter.EncodeSingle(text, false)
	if err != nil {
		return 0, fmt.Errorf("tokenize: %w", err)
	}
	return len(en.Ids), nil
}

// Encode implements Tokenizer.
func (t *HFTokenizer) Encode(text string) (TokenizedExample, error) {
	en, err := t.encoder.EncodeSingle(text, true)
	if err != nil {
		return TokenizedExample{}, fmt.Errorf("encode: %w", err)
	}
	ex := TokenizedExample{
		Text:          text,
		InputIDs:      append([]int(nil), en.Ids...),
		AttentionMask: append([]int(nil), en.AttentionMask...),
		TypeIDs:       append([]int(nil), en.TypeIds...),
	}
	return padExample(ex, t.cfg.MaxLength, t.cfg.PadID), nil
}

// padExample truncates or pads the example to exactly length positions.
func padExample(ex TokenizedExample, length, padID int) TokenizedExample {
	ex.InputIDs = fitInts(ex.InputIDs, length, padID)
	ex.AttentionMask = fitInts(ex.AttentionMask, length, 0)
	if ex.TypeIDs != nil {
		ex.TypeIDs = fitInts(ex.TypeIDs, length, 0)
	}
	return ex
}

func fitInts(v []int, length, fill int) []int {
	if len(v) >= length {
		return v[:length]
	}
	out := make([]int, length)
	copy(out, v)
	for i := len(v); i < length; i++ {
		out[i] = fill
	}
	return out
}
