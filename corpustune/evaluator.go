package corpustune

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"math/rand/v2"
	"path/filepath"
	"strings"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// EvalLossMetric is the metric name a trainer reports its evaluation loss under.
const EvalLossMetric = "eval_loss"

// Evaluator scores a trained trial. Lower is better.
type Evaluator interface {
	Evaluate(ctx context.Context, res TrainResult, ds *Dataset) (float64, error)
}

// ModelVerifier confirms that a saved model can be loaded again.
type ModelVerifier interface {
	VerifyModel(dir string) error
}

// MetricsEvaluator reads the loss the trainer reported.
type MetricsEvaluator struct {
	Metric string
}

// Evaluate implements Evaluator.
func (e MetricsEvaluator) Evaluate(_ context.Context, res TrainResult, _ *Dataset) (float64, error) {
	name := e.Metric
	if name == "" {
		name = EvalLossMetric
	}
	v, ok := res.Metrics[name]
	if !ok {
		return 0, fmt.Errorf("trainer did not report %s", name)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%s is not finite: %v", name, v)
	}
	return v, nil
}

var (
	ortMu   sync.Mutex
	ortRefs int
)

// acquireOrt initializes the shared ONNX Runtime environment on first use.
func acquireOrt(library string) error {
	ortMu.Lock()
	defer ortMu.Unlock()
	if ortRefs == 0 && !ort.IsInitialized() {
		if library != "" {
			ort.SetSharedLibraryPath(library)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			return fmt.Errorf("initialize onnxruntime: %w", err)
		}
	}
	ortRefs++
	return nil
}

func releaseOrt() error {
	ortMu.Lock()
	defer ortMu.Unlock()
	if ortRefs == 0 {
		return nil
	}
	ortRefs--
	if ortRefs == 0 && ort.IsInitialized() {
		return ort.DestroyEnvironment()
	}
	return nil
}

// OrtEvaluator computes the masked-language-model loss of an exported ONNX
// model over the dataset. Masks are drawn from a fixed seed so every trial is
// scored on the same positions.
type OrtEvaluator struct {
	cfg     EvaluatorConfig
	seed    uint64
	special map[int]struct{}
	logger  *log.Logger
}

// NewOrtEvaluator initializes ONNX Runtime with the configured shared library.
func NewOrtEvaluator(cfg EvaluatorConfig, seed uint64, logger *log.Logger) (*OrtEvaluator, error) {
	if cfg.VocabSize <= 0 {
		return nil, errors.New("evaluator vocab size is required")
	}
	if cfg.MLMProbability <= 0 || cfg.MLMProbability >= 1 {
		return nil, fmt.Errorf("mlm probability %v outside (0,1)", cfg.MLMProbability)
	}
	if err := acquireOrt(cfg.OrtLibrary); err != nil {
		return nil, err
	}
	special := make(map[int]struct{}, len(cfg.SpecialIDs))
	for _, id := range cfg.SpecialIDs {
		special[id] = struct{}{}
	}
	return &OrtEvaluator{cfg: cfg, seed: seed, special: special, logger: logger}, nil
}

// Close releases the ONNX Runtime environment.
func (e *OrtEvaluator) Close() error {
	if e == nil {
		return nil
	}
	return releaseOrt()
}

func (e *OrtEvaluator) modelPath(dir string) string {
	return filepath.Join(dir, e.cfg.ModelFile)
}

func (e *OrtEvaluator) newSession(dir string) (*ort.DynamicAdvancedSession, error) {
	session, err := ort.NewDynamicAdvancedSession(e.modelPath(dir),
		[]string{"input_ids", "attention_mask"}, []string{"logits"}, nil)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", e.modelPath(dir), err)
	}
	return session, nil
}

// VerifyModel implements ModelVerifier by opening an inference session.
func (e *OrtEvaluator) VerifyModel(dir string) error {
	session, err := e.newSession(dir)
	if err != nil {
		return err
	}
	return session.Destroy()
}

// Evaluate implements Evaluator.
func (e *OrtEvaluator) Evaluate(ctx context.Context, res TrainResult, ds *Dataset) (float64, error) {
	if ds.Len() == 0 {
		return 0, ErrEmptyCorpus
	}
	session, err := e.newSession(res.ModelDir)
	if err != nil {
		return 0, err
	}
	defer session.Destroy()

	masker := newMasker(e.cfg, e.special, e.seed)
	limit := ds.Len()
	if e.cfg.MaxExamples > 0 && limit > e.cfg.MaxExamples {
		limit = e.cfg.MaxExamples
	}
	var total float64
	var count int
	for i := 0; i < limit; i++ {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		ids, mask := activeTokens(ds.Examples[i])
		inputs, labels := masker.mask(ids)
		if len(labels) == 0 {
			continue
		}
		logits, err := e.run(session, inputs, mask)
		if err != nil {
			return 0, fmt.Errorf("example %d: %w", i, err)
		}
		for pos, label := range labels {
			row := logits[pos*e.cfg.VocabSize : (pos+1)*e.cfg.VocabSize]
			total += crossEntropy(row, label)
			count++
		}
	}
	if count == 0 {
		return 0, errors.New("no tokens were masked for evaluation")
	}
	loss := total / float64(count)
	logf(e.logger, "Evaluated %s: loss %.4f over %d masked tokens", res.ModelDir, loss, count)
	return loss, nil
}

func (e *OrtEvaluator) run(session *ort.DynamicAdvancedSession, ids, mask []int64) ([]float32, error) {
	seq := int64(len(ids))
	idsT, err := ort.NewTensor(ort.NewShape(1, seq), ids)
	if err != nil {
		return nil, err
	}
	defer idsT.Destroy()
	maskT, err := ort.NewTensor(ort.NewShape(1, seq), mask)
	if err != nil {
		return nil, err
	}
	defer maskT.Destroy()
	out, err := ort.NewEmptyTensor[float32](ort.NewShape(1, seq, int64(e.cfg.VocabSize)))
	if err != nil {
		return nil, err
	}
	defer out.Destroy()
	if err := session.Run([]ort.Value{idsT, maskT}, []ort.Value{out}); err != nil {
		return nil, err
	}
	return append([]float32(nil), out.GetData()...), nil
}

// activeTokens drops padding positions.
func activeTokens(ex TokenizedExample) ([]int, []int64) {
	n := 0
	for i, m := range ex.AttentionMask {
		if m != 0 {
			n = i + 1
		}
	}
	if len(ex.AttentionMask) == 0 {
		n = len(ex.InputIDs)
	}
	mask := make([]int64, n)
	for i := range mask {
		mask[i] = 1
	}
	return ex.InputIDs[:n], mask
}

type masker struct {
	cfg     EvaluatorConfig
	special map[int]struct{}
	rng     *rand.Rand
}

func newMasker(cfg EvaluatorConfig, special map[int]struct{}, seed uint64) *masker {
	return &masker{cfg: cfg, special: special, rng: NewRand(seed)}
}

// mask selects positions with the configured probability; 80% of them become
// the mask token, 10% a random token and 10% stay unchanged. It returns the
// model inputs and the original ids at the selected positions.
func (m *masker) mask(ids []int) ([]int64, map[int]int) {
	inputs := make([]int64, len(ids))
	labels := make(map[int]int)
	for i, id := range ids {
		inputs[i] = int64(id)
		if _, ok := m.special[id]; ok || id < 0 || id >= m.cfg.VocabSize {
			continue
		}
		if m.rng.Float64() >= m.cfg.MLMProbability {
			continue
		}
		labels[i] = id
		switch r := m.rng.Float64(); {
		case r < 0.8:
			inputs[i] = int64(m.cfg.MaskID)
		case r < 0.9:
			inputs[i] = int64(m.rng.IntN(m.cfg.VocabSize))
		}
	}
	return inputs, labels
}

// crossEntropy returns -log softmax(logits)[label].
func crossEntropy(logits []float32, label int) float64 {
	maxV := math.Inf(-1)
	for _, v := range logits {
		if float64(v) > maxV {
			maxV = float64(v)
		}
	}
	var sum float64
	for _, v := range logits {
		sum += math.Exp(float64(v) - maxV)
	}
	return maxV + math.Log(sum) - float64(logits[label])
}

// NewEvaluator builds the evaluator selected by cfg.Kind.
func NewEvaluator(cfg EvaluatorConfig, seed uint64, logger *log.Logger) (Evaluator, error) {
	switch strings.ToLower(cfg.Kind) {
	case "", "metrics":
		return MetricsEvaluator{Metric: EvalLossMetric}, nil
	case "onnx":
		e, err := NewOrtEvaluator(cfg, seed, logger)
		if err != nil {
			return nil, err
		}
		return e, nil
	default:
		return nil, fmt.Errorf("unknown evaluator kind %q", cfg.Kind)
	}
}
