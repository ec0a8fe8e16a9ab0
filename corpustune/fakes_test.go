package corpustune

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

// wordTokenizer treats every whitespace separated field as one token.
type wordTokenizer struct {
	maxLen int

	mu    sync.Mutex
	calls int
}

func (w *wordTokenizer) CountTokens(text string) (int, error) {
	return len(strings.Fields(text)), nil
}

func (w *wordTokenizer) Encode(text string) (TokenizedExample, error) {
	w.mu.Lock()
	w.calls++
	w.mu.Unlock()
	ids := []int{101}
	for _, f := range strings.Fields(text) {
		ids = append(ids, 1000+len(f))
	}
	ids = append(ids, 102)
	mask := make([]int, len(ids))
	for i := range mask {
		mask[i] = 1
	}
	ex := TokenizedExample{Text: text, InputIDs: ids, AttentionMask: mask}
	if w.maxLen > 0 {
		ex = padExample(ex, w.maxLen, 0)
	}
	return ex, nil
}

func (w *wordTokenizer) ID() string { return "words" }

func (w *wordTokenizer) callCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.calls
}

// fakeTrainer saves a one-file model per trial and reports a preset loss.
type fakeTrainer struct {
	losses map[int]float64
	fail   map[int]error

	mu       sync.Mutex
	requests []TrainRequest
}

func (f *fakeTrainer) Train(_ context.Context, req TrainRequest) (TrainResult, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	if err := f.fail[req.Trial]; err != nil {
		return TrainResult{}, err
	}
	if err := os.MkdirAll(req.ModelDir, 0o755); err != nil {
		return TrainResult{}, err
	}
	weights := filepath.Join(req.ModelDir, "model.bin")
	if err := os.WriteFile(weights, []byte(fmt.Sprintf("trial %d", req.Trial)), 0o644); err != nil {
		return TrainResult{}, err
	}
	return TrainResult{
		ModelDir: req.ModelDir,
		Metrics:  map[string]float64{EvalLossMetric: f.losses[req.Trial]},
	}, nil
}

func (f *fakeTrainer) seen() []TrainRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]TrainRequest(nil), f.requests...)
}

func writeFile(t testing.TB, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
