package corpustune

import (
	"context"
	"errors"
	"fmt"
	"log"
)

// ErrEmptyCorpus is returned when there is nothing to train on.
var ErrEmptyCorpus = errors.New("corpus is empty")

// Dataset is the augmented, tokenized training set shared by every trial.
type Dataset struct {
	Examples  []TokenizedExample
	Augmented int
}

// Len returns the number of examples.
func (d *Dataset) Len() int {
	if d == nil {
		return 0
	}
	return len(d.Examples)
}

// WriteJSONL writes one tokenized example per line for the trainer.
func (d *Dataset) WriteJSONL(path string) error {
	return writeJSONL(path, d.Examples)
}

// ReadDataset loads a dataset written by WriteJSONL.
func ReadDataset(path string) (*Dataset, error) {
	examples, err := readJSONL[TokenizedExample](path)
	if err != nil {
		return nil, fmt.Errorf("read dataset: %w", err)
	}
	return &Dataset{Examples: examples}, nil
}

// DatasetBuilder turns corpus lines into a tokenized, augmented dataset.
type DatasetBuilder struct {
	augmenter *Augmenter
	tokenizer Tokenizer
	cfg       AugmentConfig
	logger    *log.Logger
}

// NewDatasetBuilder wires the builder to its collaborators.
func NewDatasetBuilder(augmenter *Augmenter, tok Tokenizer, cfg AugmentConfig, logger *log.Logger) (*DatasetBuilder, error) {
	if augmenter == nil {
		return nil, errors.New("augmenter is required")
	}
	if tok == nil {
		return nil, errors.New("tokenizer is required")
	}
	return &DatasetBuilder{augmenter: augmenter, tokenizer: tok, cfg: cfg, logger: logger}, nil
}

// Examples wraps lines as examples.
func Examples(lines []string) []Example {
	out := make([]Example, len(lines))
	for i, l := range lines {
		out[i] = Example{Text: l}
	}
	return out
}

// Augment applies the augmentation gate to every example in order.
func (b *DatasetBuilder) Augment(examples []Example) ([]Example, int) {
	out := make([]Example, len(examples))
	changed := 0
	for i, ex := range examples {
		out[i] = b.augmenter.AugmentExample(ex, b.cfg.Rate, b.cfg.Replacements)
		if out[i].Text != ex.Text {
			changed++
		}
	}
	return out, changed
}

// Tokenize encodes every example.
func (b *DatasetBuilder) Tokenize(ctx context.Context, examples []Example) ([]TokenizedExample, error) {
	out := make([]TokenizedExample, len(examples))
	for i, ex := range examples {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		enc, err := b.tokenizer.Encode(ex.Text)
		if err != nil {
			return nil, fmt.Errorf("example %d: %w", i, err)
		}
		enc.Text = ex.Text
		out[i] = enc
	}
	return out, nil
}

// Build augments and tokenizes lines.
func (b *DatasetBuilder) Build(ctx context.Context, lines []string) (*Dataset, error) {
	if len(lines) == 0 {
		return nil, ErrEmptyCorpus
	}
	augmented, changed := b.Augment(Examples(lines))
	tokenized, err := b.Tokenize(ctx, augmented)
	if err != nil {
		return nil, fmt.Errorf("tokenize dataset: %w", err)
	}
	if b.logger != nil {
		b.logger.Printf("Built dataset: %d examples, %d augmented", len(tokenized), changed)
	}
	return &Dataset{Examples: tokenized, Augmented: changed}, nil
}

// BuildFromFile loads path with the partitioned reader and builds the dataset.
func (b *DatasetBuilder) BuildFromFile(ctx context.Context, path string, partitions int) (*Dataset, error) {
	lines, err := LoadLines(ctx, path, partitions)
	if err != nil {
		return nil, fmt.Errorf("load corpus: %w", err)
	}
	return b.Build(ctx, lines)
}
