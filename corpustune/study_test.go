package corpustune

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"testing"
)

func newTestStudy(t *testing.T, tr Trainer, abort bool) (*Study, string) {
	t.Helper()
	root := t.TempDir()
	study, err := NewStudy(StudyOptions{
		Space:             defaultSpace(),
		Sampler:           NewRandomSampler(NewRand(3)),
		Trainer:           tr,
		Evaluator:         MetricsEvaluator{},
		Store:             NewArtifactStore(root, ArtifactConfig{}, nil, nil, nil),
		Dataset:           &Dataset{Examples: []TokenizedExample{{Text: "x"}}},
		DatasetPath:       filepath.Join(root, "train_dataset.jsonl"),
		Template:          TrainRequest{BaseModel: "distilbert-base-uncased", LoggingSteps: 10},
		AbortOnTrialError: abort,
	})
	if err != nil {
		t.Fatalf("NewStudy() error = %v", err)
	}
	return study, root
}

func TestStudySearchPicksLowestLoss(t *testing.T) {
	tr := &fakeTrainer{losses: map[int]float64{0: 0.9, 1: 0.4, 2: 0.7}}
	study, root := newTestStudy(t, tr, false)

	best, err := study.Search(context.Background(), 3)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if best.Number != 1 || best.EvalLoss != 0.4 {
		t.Errorf("best = trial %d loss %v, want trial 1 loss 0.4", best.Number, best.EvalLoss)
	}
	if best.ModelPath != filepath.Join(root, "best_model_trial_1") {
		t.Errorf("best model path = %q", best.ModelPath)
	}

	trials := study.Trials()
	if len(trials) != 3 {
		t.Fatalf("recorded %d trials, want 3", len(trials))
	}
	space := defaultSpace()
	for i, rec := range trials {
		if rec.Number != i || rec.State != TrialComplete {
			t.Errorf("trial %d: number %d state %s", i, rec.Number, rec.State)
		}
		if !space.Contains(rec.Params) {
			t.Errorf("trial %d params %+v outside the space", i, rec.Params)
		}
		if rec.OutputDir != filepath.Join(root, "results_trial_"+strconv.Itoa(i)) {
			t.Errorf("trial %d output dir = %q", i, rec.OutputDir)
		}
	}
	for _, req := range tr.seen() {
		if req.BaseModel != "distilbert-base-uncased" || req.LoggingSteps != 10 {
			t.Errorf("request %d lost template settings: %+v", req.Trial, req)
		}
		if req.DatasetPath != filepath.Join(root, "train_dataset.jsonl") {
			t.Errorf("request %d dataset = %q", req.Trial, req.DatasetPath)
		}
	}
}

func TestStudyTiesGoToEarliestTrial(t *testing.T) {
	study, _ := newTestStudy(t, &fakeTrainer{losses: map[int]float64{0: 0.5, 1: 0.5}}, false)
	best, err := study.Search(context.Background(), 2)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if best.Number != 0 {
		t.Errorf("best trial = %d, want 0", best.Number)
	}
}

func TestStudySkipsFailedTrials(t *testing.T) {
	tr := &fakeTrainer{
		losses: map[int]float64{0: 0.8, 1: 0.1, 2: 0.6},
		fail:   map[int]error{1: ErrTrainerFailed},
	}
	study, _ := newTestStudy(t, tr, false)
	best, err := study.Search(context.Background(), 3)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if best.Number != 2 {
		t.Errorf("best trial = %d, want 2", best.Number)
	}
	trials := study.Trials()
	if trials[1].State != TrialFailed || trials[1].Error == "" {
		t.Errorf("trial 1 = %+v, want a recorded failure", trials[1])
	}
}

func TestStudyAbortOnTrialError(t *testing.T) {
	tr := &fakeTrainer{losses: map[int]float64{1: 0.3}, fail: map[int]error{0: ErrTrainerFailed}}
	study, _ := newTestStudy(t, tr, true)
	if _, err := study.Search(context.Background(), 3); err == nil {
		t.Fatal("Search() succeeded, want the first failure")
	}
	if got := len(study.Trials()); got != 1 {
		t.Errorf("ran %d trials after an abort, want 1", got)
	}
}

func TestStudyNoCompletedTrials(t *testing.T) {
	tr := &fakeTrainer{fail: map[int]error{0: ErrTrainerFailed, 1: ErrTrainerFailed}}
	study, _ := newTestStudy(t, tr, false)
	if _, err := study.Search(context.Background(), 2); !errors.Is(err, ErrNoCompletedTrials) {
		t.Fatalf("Search() error = %v, want ErrNoCompletedTrials", err)
	}
	if _, err := study.Best(); !errors.Is(err, ErrNoCompletedTrials) {
		t.Errorf("Best() error = %v, want ErrNoCompletedTrials", err)
	}
}

func TestStudyEvaluationFailureFailsTrial(t *testing.T) {
	// A trainer that reports no metrics leaves the evaluator without a loss.
	study, _ := newTestStudy(t, trainerFunc(func(_ context.Context, req TrainRequest) (TrainResult, error) {
		return TrainResult{ModelDir: req.ModelDir}, nil
	}), false)
	if _, err := study.Search(context.Background(), 1); !errors.Is(err, ErrNoCompletedTrials) {
		t.Fatalf("Search() error = %v, want ErrNoCompletedTrials", err)
	}
}

type trainerFunc func(context.Context, TrainRequest) (TrainResult, error)

func (f trainerFunc) Train(ctx context.Context, req TrainRequest) (TrainResult, error) {
	return f(ctx, req)
}

func TestStudySearchArguments(t *testing.T) {
	study, _ := newTestStudy(t, &fakeTrainer{}, false)
	if _, err := study.Search(context.Background(), 0); err == nil {
		t.Error("Search(0) succeeded")
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := study.Search(ctx, 2); !errors.Is(err, context.Canceled) {
		t.Errorf("Search(canceled) error = %v, want context.Canceled", err)
	}
}

func TestNewStudyValidation(t *testing.T) {
	store := NewArtifactStore(t.TempDir(), ArtifactConfig{}, nil, nil, nil)
	base := StudyOptions{Space: defaultSpace(), Trainer: &fakeTrainer{}, Evaluator: MetricsEvaluator{}, Store: store}
	for name, modify := range map[string]func(*StudyOptions){
		"no trainer":   func(o *StudyOptions) { o.Trainer = nil },
		"no evaluator": func(o *StudyOptions) { o.Evaluator = nil },
		"no store":     func(o *StudyOptions) { o.Store = nil },
		"bad space":    func(o *StudyOptions) { o.Space.BatchSizes = nil },
	} {
		opts := base
		modify(&opts)
		if _, err := NewStudy(opts); err == nil {
			t.Errorf("%s: NewStudy succeeded", name)
		}
	}
}

func TestStudyWriteReport(t *testing.T) {
	tr := &fakeTrainer{losses: map[int]float64{0: 0.9, 1: 0.2}, fail: map[int]error{2: ErrTrainerFailed}}
	study, root := newTestStudy(t, tr, false)
	if _, err := study.Search(context.Background(), 3); err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	path := filepath.Join(root, "reports", "study.json")
	if err := study.WriteReport(path); err != nil {
		t.Fatalf("WriteReport() error = %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read report: %v", err)
	}
	var report StudyReport
	if err := json.Unmarshal(data, &report); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if report.ID != study.ID() {
		t.Errorf("report ID = %q, want %q", report.ID, study.ID())
	}
	if report.BestTrial == nil || *report.BestTrial != 1 {
		t.Errorf("report best trial = %v, want 1", report.BestTrial)
	}
	if len(report.Trials) != 3 || report.Trials[2].State != TrialFailed {
		t.Errorf("report trials = %+v", report.Trials)
	}
}
