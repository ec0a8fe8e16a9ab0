package corpustune

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
)

// Dependencies are the external collaborators of a Service.
type Dependencies struct {
	Tokenizer Tokenizer
	Lexicon   Lexicon
	Trainer   Trainer
	Evaluator Evaluator
	// Uploader is optional.
	Uploader Uploader
}

// RunResult summarizes a full pipeline run.
type RunResult struct {
	StudyID  string
	Filter   FilterStats
	Examples int
	Best     TrialRecord
	Model    Model
}

// Service sequences corpus filtering, dataset building and the trial search.
type Service struct {
	deps Dependencies

	cfgMu sync.RWMutex
	cfg   Config

	logger *log.Logger
}

// NewService constructs a service over explicit dependencies.
func NewService(cfg Config, deps Dependencies, logger *log.Logger) (*Service, error) {
	if deps.Tokenizer == nil {
		return nil, errors.New("tokenizer is required")
	}
	if deps.Lexicon == nil {
		return nil, errors.New("lexicon is required")
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &Service{deps: deps, cfg: cfg, logger: logger}, nil
}

// Open builds every dependency from cfg and returns a ready service.
func Open(ctx context.Context, cfg Config, logger *log.Logger) (*Service, error) {
	cfg.ApplyDefaults()
	var deps Dependencies
	fail := func(err error) (*Service, error) {
		closeDeps(deps)
		return nil, err
	}

	tok, err := NewHFTokenizer(cfg.Tokenizer)
	if err != nil {
		return fail(fmt.Errorf("init tokenizer: %w", err))
	}
	cache, err := NewTokenCache(cfg.Tokenizer.CacheDir, logger)
	if err != nil {
		return fail(err)
	}
	deps.Tokenizer = WithCache(tok, cache)

	if deps.Lexicon, err = OpenLexicon(cfg.Lexicon); err != nil {
		return fail(fmt.Errorf("open lexicon: %w", err))
	}
	if deps.Trainer, err = NewTrainer(cfg.Trainer, cfg.Paths.WorkDir, logger); err != nil {
		return fail(fmt.Errorf("init trainer: %w", err))
	}
	if deps.Evaluator, err = NewEvaluator(cfg.Evaluator, cfg.Seed, logger); err != nil {
		return fail(fmt.Errorf("init evaluator: %w", err))
	}
	if cfg.Artifacts.Bucket != "" {
		up, err := NewGCSUploader(ctx, cfg.Artifacts.Bucket, cfg.Artifacts.CredentialsFile)
		if err != nil {
			return fail(fmt.Errorf("init uploader: %w", err))
		}
		deps.Uploader = up
	}
	return NewService(cfg, deps, logger)
}

// Close releases dependencies that hold resources.
func (s *Service) Close() error {
	return closeDeps(s.deps)
}

func closeDeps(deps Dependencies) error {
	var errs []error
	for _, d := range []any{deps.Lexicon, deps.Trainer, deps.Evaluator, deps.Uploader} {
		if c, ok := d.(io.Closer); ok && c != nil {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// Config returns a copy of the current configuration.
func (s *Service) Config() Config {
	s.cfgMu.RLock()
	defer s.cfgMu.RUnlock()
	return s.cfg.Clone()
}

// UpdateConfig replaces the configuration after validating it.
func (s *Service) UpdateConfig(cfg Config) error {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	s.cfgMu.Lock()
	s.cfg = cfg
	s.cfgMu.Unlock()
	return nil
}

// FilterCorpus writes the lines of the input corpus that fit the token budget.
func (s *Service) FilterCorpus(ctx context.Context) (FilterStats, error) {
	cfg := s.Config()
	if cfg.Paths.Input == "" {
		return FilterStats{}, errors.New("input corpus path is required")
	}
	return FilterFile(ctx, cfg.Paths.Input, cfg.ResolvePath(cfg.Paths.Filtered), s.deps.Tokenizer, cfg.Filter.MaxTokens, s.logger)
}

// BuildDataset loads the filtered corpus, augments it and tokenizes it.
func (s *Service) BuildDataset(ctx context.Context) (*Dataset, error) {
	cfg := s.Config()
	source := cfg.ResolvePath(cfg.Paths.Filtered)
	if cfg.Filter.Skip {
		source = cfg.Paths.Input
	}
	augmenter := NewAugmenter(NewSynonymProvider(s.deps.Lexicon), NewRand(cfg.Seed))
	builder, err := NewDatasetBuilder(augmenter, s.deps.Tokenizer, cfg.Augment, s.logger)
	if err != nil {
		return nil, err
	}
	return builder.BuildFromFile(ctx, source, cfg.Partitions)
}

// NewStudy creates a study over ds using the configured search settings.
func (s *Service) NewStudy(ds *Dataset) (*Study, error) {
	cfg := s.Config()
	var verifier ModelVerifier
	if v, ok := s.deps.Evaluator.(ModelVerifier); ok {
		verifier = v
	}
	store := NewArtifactStore(cfg.Paths.WorkDir, cfg.Artifacts, verifier, s.deps.Uploader, s.logger)
	return NewStudy(StudyOptions{
		Space:       cfg.Search.Space,
		Sampler:     NewRandomSampler(NewRand(cfg.Seed + 1)),
		Trainer:     s.deps.Trainer,
		Evaluator:   s.deps.Evaluator,
		Store:       store,
		Dataset:     ds,
		DatasetPath: cfg.ResolvePath(cfg.Paths.Dataset),
		Template: TrainRequest{
			BaseModel:      cfg.Trainer.BaseModel,
			LoggingDir:     cfg.ResolvePath(cfg.Trainer.LoggingDir),
			LoggingSteps:   cfg.Trainer.LoggingSteps,
			MLMProbability: cfg.Trainer.MLMProbability,
			UseCPU:         cfg.Trainer.UseCPU,
		},
		AbortOnTrialError: cfg.Search.AbortOnTrialError,
		Logger:            s.logger,
	})
}

// Run executes the whole pipeline and returns the promoted best model.
func (s *Service) Run(ctx context.Context) (RunResult, error) {
	cfg := s.Config()
	var result RunResult
	if !cfg.Filter.Skip {
		stats, err := s.FilterCorpus(ctx)
		if err != nil {
			return result, fmt.Errorf("filter corpus: %w", err)
		}
		result.Filter = stats
	}
	ds, err := s.BuildDataset(ctx)
	if err != nil {
		return result, fmt.Errorf("build dataset: %w", err)
	}
	result.Examples = ds.Len()
	if err := ds.WriteJSONL(cfg.ResolvePath(cfg.Paths.Dataset)); err != nil {
		return result, fmt.Errorf("write dataset: %w", err)
	}

	study, err := s.NewStudy(ds)
	if err != nil {
		return result, err
	}
	result.StudyID = study.ID()
	best, searchErr := study.Search(ctx, cfg.Search.Trials)
	if err := study.WriteReport(cfg.ResolvePath(cfg.Paths.Report)); err != nil {
		s.logf("Could not write study report: %v", err)
	}
	if searchErr != nil {
		return result, fmt.Errorf("search: %w", searchErr)
	}
	result.Best = best

	model, err := study.opts.Store.Promote(ctx, best)
	if err != nil {
		return result, err
	}
	result.Model = model
	return result, nil
}

func (s *Service) logf(format string, args ...any) {
	logf(s.logger, format, args...)
}
