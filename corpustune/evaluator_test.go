package corpustune

import (
	"context"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestMetricsEvaluator(t *testing.T) {
	e := MetricsEvaluator{}
	tests := []struct {
		name    string
		metrics map[string]float64
		want    float64
		wantErr bool
	}{
		{name: "reported", metrics: map[string]float64{"eval_loss": 2.5}, want: 2.5},
		{name: "missing", metrics: map[string]float64{"train_loss": 1}, wantErr: true},
		{name: "nan", metrics: map[string]float64{"eval_loss": math.NaN()}, wantErr: true},
		{name: "inf", metrics: map[string]float64{"eval_loss": math.Inf(1)}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := e.Evaluate(context.Background(), TrainResult{Metrics: tt.metrics}, nil)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Evaluate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("Evaluate() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCrossEntropy(t *testing.T) {
	if got, want := crossEntropy([]float32{0, 0, 0, 0}, 2), math.Log(4); math.Abs(got-want) > 1e-9 {
		t.Errorf("uniform crossEntropy = %v, want %v", got, want)
	}
	confident := crossEntropy([]float32{20, 0, 0}, 0)
	wrong := crossEntropy([]float32{20, 0, 0}, 1)
	if confident >= 1e-3 || wrong <= 19 {
		t.Errorf("crossEntropy confident = %v wrong = %v", confident, wrong)
	}
}

func TestMasker(t *testing.T) {
	cfg := EvaluatorConfig{VocabSize: 1000, MaskID: 103, MLMProbability: 1}
	special := map[int]struct{}{101: {}, 102: {}}
	m := newMasker(cfg, special, 1)

	ids := []int{101, 5, 6, 5000, 102}
	inputs, labels := m.mask(ids)
	if diff := cmp.Diff(map[int]int{1: 5, 2: 6}, labels); diff != "" {
		t.Errorf("labels mismatch (-want +got):\n%s", diff)
	}
	for _, pos := range []int{0, 3, 4} {
		if inputs[pos] != int64(ids[pos]) {
			t.Errorf("position %d changed to %d", pos, inputs[pos])
		}
	}

	// The same seed masks the same positions.
	cfg.MLMProbability = 0.5
	long := make([]int, 64)
	for i := range long {
		long[i] = i + 200
	}
	_, a := newMasker(cfg, special, 7).mask(long)
	_, b := newMasker(cfg, special, 7).mask(long)
	if diff := cmp.Diff(a, b); diff != "" {
		t.Errorf("seeded masks differ (-first +second):\n%s", diff)
	}
}

func TestActiveTokens(t *testing.T) {
	ids, mask := activeTokens(TokenizedExample{
		InputIDs:      []int{101, 7, 102, 0, 0},
		AttentionMask: []int{1, 1, 1, 0, 0},
	})
	if diff := cmp.Diff([]int{101, 7, 102}, ids); diff != "" {
		t.Errorf("ids mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int64{1, 1, 1}, mask); diff != "" {
		t.Errorf("mask mismatch (-want +got):\n%s", diff)
	}
}

func TestNewEvaluator(t *testing.T) {
	e, err := NewEvaluator(EvaluatorConfig{Kind: "metrics"}, 0, nil)
	if err != nil {
		t.Fatalf("NewEvaluator(metrics) error = %v", err)
	}
	if _, ok := e.(MetricsEvaluator); !ok {
		t.Errorf("NewEvaluator(metrics) = %T, want MetricsEvaluator", e)
	}
	if _, err := NewEvaluator(EvaluatorConfig{Kind: "bleu"}, 0, nil); err == nil {
		t.Error("unknown evaluator kind accepted")
	}
	if _, err := NewEvaluator(EvaluatorConfig{Kind: "onnx", MLMProbability: 0.15}, 0, nil); err == nil {
		t.Error("onnx evaluator without a vocab size accepted")
	}
}
