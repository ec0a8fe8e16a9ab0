package corpustune

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrNoCompletedTrials is returned when every trial of a search failed.
var ErrNoCompletedTrials = errors.New("no trial completed")

// StudyOptions wires a Study to its collaborators.
type StudyOptions struct {
	Space     SearchSpace
	Sampler   Sampler
	Trainer   Trainer
	Evaluator Evaluator
	Store     *ArtifactStore
	Dataset   *Dataset
	// DatasetPath is the JSONL file handed to the trainer.
	DatasetPath string
	// Template carries the per-study training settings copied into every request.
	Template TrainRequest
	// AbortOnTrialError stops the search at the first failed trial instead of
	// recording it and moving on.
	AbortOnTrialError bool
	Logger            *log.Logger
}

// Study runs trials sequentially and tracks the one with the lowest loss.
type Study struct {
	id   string
	opts StudyOptions
	now  func() time.Time

	mu     sync.RWMutex
	trials []TrialRecord
}

// NewStudy validates the options and creates an empty study.
func NewStudy(opts StudyOptions) (*Study, error) {
	if opts.Trainer == nil {
		return nil, errors.New("trainer is required")
	}
	if opts.Evaluator == nil {
		return nil, errors.New("evaluator is required")
	}
	if opts.Store == nil {
		return nil, errors.New("artifact store is required")
	}
	if err := opts.Space.Validate(); err != nil {
		return nil, fmt.Errorf("search space: %w", err)
	}
	if opts.Sampler == nil {
		opts.Sampler = NewRandomSampler(nil)
	}
	return &Study{id: uuid.NewString(), opts: opts, now: time.Now}, nil
}

// ID returns the study identifier.
func (s *Study) ID() string {
	return s.id
}

// Trials returns a copy of the recorded trials in execution order.
func (s *Study) Trials() []TrialRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]TrialRecord(nil), s.trials...)
}

// Best returns the completed trial with the lowest loss. Ties go to the earlier trial.
func (s *Study) Best() (TrialRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return bestTrial(s.trials)
}

func bestTrial(trials []TrialRecord) (TrialRecord, error) {
	var best TrialRecord
	found := false
	for _, t := range trials {
		if t.State != TrialComplete {
			continue
		}
		if !found || t.EvalLoss < best.EvalLoss {
			best = t
			found = true
		}
	}
	if !found {
		return TrialRecord{}, ErrNoCompletedTrials
	}
	return best, nil
}

// Search runs nTrials trials one after another and returns the best one.
func (s *Study) Search(ctx context.Context, nTrials int) (TrialRecord, error) {
	if nTrials <= 0 {
		return TrialRecord{}, fmt.Errorf("trial count must be positive, got %d", nTrials)
	}
	for i := 0; i < nTrials; i++ {
		if err := ctx.Err(); err != nil {
			return TrialRecord{}, err
		}
		rec := s.runTrial(ctx, s.nextNumber())
		s.mu.Lock()
		s.trials = append(s.trials, rec)
		s.mu.Unlock()
		if rec.State == TrialFailed {
			s.logf("Trial %d failed: %s", rec.Number, rec.Error)
			if err := ctx.Err(); err != nil {
				return TrialRecord{}, err
			}
			if s.opts.AbortOnTrialError {
				return TrialRecord{}, fmt.Errorf("trial %d: %s", rec.Number, rec.Error)
			}
			continue
		}
		s.logf("Trial %d finished with loss %v and parameters %+v", rec.Number, rec.EvalLoss, rec.Params)
	}
	best, err := s.Best()
	if err != nil {
		return TrialRecord{}, err
	}
	s.logf("Best trial: %d with loss %v", best.Number, best.EvalLoss)
	return best, nil
}

func (s *Study) nextNumber() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.trials)
}

func (s *Study) runTrial(ctx context.Context, number int) TrialRecord {
	params := s.opts.Sampler.Sample(number, s.opts.Space, s.Trials())
	rec := TrialRecord{
		Number:    number,
		Params:    params,
		OutputDir: s.opts.Store.TrialOutputDir(number),
		ModelPath: s.opts.Store.TrialModelDir(number),
		StartedAt: s.now(),
	}
	fail := func(err error) TrialRecord {
		rec.State = TrialFailed
		rec.Error = err.Error()
		rec.FinishedAt = s.now()
		return rec
	}

	req := s.opts.Template
	req.Trial = number
	req.Params = params
	req.DatasetPath = s.opts.DatasetPath
	req.OutputDir = rec.OutputDir
	req.ModelDir = rec.ModelPath

	s.logf("Trial %d: epochs=%d batch_size=%d learning_rate=%g", number, params.Epochs, params.BatchSize, params.LearningRate)
	res, err := s.opts.Trainer.Train(ctx, req)
	if err != nil {
		return fail(err)
	}
	if res.ModelDir == "" {
		res.ModelDir = rec.ModelPath
	}
	rec.ModelPath = res.ModelDir
	loss, err := s.opts.Evaluator.Evaluate(ctx, res, s.opts.Dataset)
	if err != nil {
		return fail(fmt.Errorf("evaluate: %w", err))
	}
	rec.EvalLoss = loss
	rec.State = TrialComplete
	rec.FinishedAt = s.now()
	return rec
}

func (s *Study) logf(format string, args ...any) {
	logf(s.opts.Logger, format, args...)
}

// StudyReport is the JSON summary written after a search.
type StudyReport struct {
	ID        string        `json:"id"`
	Space     SearchSpace   `json:"space"`
	Trials    []TrialRecord `json:"trials"`
	BestTrial *int          `json:"best_trial,omitempty"`
}

// Report summarizes the study.
func (s *Study) Report() StudyReport {
	trials := s.Trials()
	r := StudyReport{ID: s.id, Space: s.opts.Space, Trials: trials}
	if best, err := bestTrial(trials); err == nil {
		n := best.Number
		r.BestTrial = &n
	}
	return r
}

// WriteReport writes Report to path as indented JSON.
func (s *Study) WriteReport(path string) error {
	data, err := json.MarshalIndent(s.Report(), "", "  ")
	if err != nil {
		return fmt.Errorf("encode study report: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create report dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write study report: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename study report: %w", err)
	}
	return nil
}
