package corpustune

import (
	"time"

	deepcopy "github.com/tiendc/go-deepcopy"
)

// Example is a single dataset record before tokenization.
type Example struct {
	Text string `json:"text"`
}

// TokenizedExample is an Example after encoding with the model tokenizer.
type TokenizedExample struct {
	Text          string `json:"text"`
	InputIDs      []int  `json:"input_ids"`
	AttentionMask []int  `json:"attention_mask"`
	TypeIDs       []int  `json:"token_type_ids,omitempty"`
}

// Hyperparameters is one point of the search space.
type Hyperparameters struct {
	Epochs       int     `json:"num_train_epochs"`
	BatchSize    int     `json:"per_device_train_batch_size"`
	LearningRate float64 `json:"learning_rate"`
}

// TrialState reports how a trial ended.
type TrialState string

const (
	TrialComplete TrialState = "complete"
	TrialFailed   TrialState = "failed"
)

// TrialRecord holds the outcome of a single search trial.
type TrialRecord struct {
	Number     int             `json:"number"`
	Params     Hyperparameters `json:"hyperparameters"`
	EvalLoss   float64         `json:"eval_loss"`
	ModelPath  string          `json:"model_artifact_path"`
	OutputDir  string          `json:"output_dir"`
	State      TrialState      `json:"state"`
	Error      string          `json:"error,omitempty"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
}

// PathsConfig groups the file system locations used by the pipeline.
type PathsConfig struct {
	Input    string `json:"input" yaml:"input"`
	Filtered string `json:"filtered" yaml:"filtered"`
	WorkDir  string `json:"workDir" yaml:"workDir"`
	Dataset  string `json:"dataset" yaml:"dataset"`
	Report   string `json:"report" yaml:"report"`
}

// LexiconConfig selects the lexical knowledge base behind synonym lookup.
type LexiconConfig struct {
	// Kind is "wordnet" (WNDB directory) or "thesaurus" (one synset per line).
	Kind string `json:"kind" yaml:"kind"`
	Path string `json:"path" yaml:"path"`
}

// TokenizerConfig describes the HuggingFace tokenizer.json and encoding shape.
type TokenizerConfig struct {
	Path      string `json:"path" yaml:"path"`
	ModelID   string `json:"modelId" yaml:"modelId"`
	MaxLength int    `json:"maxLength" yaml:"maxLength"`
	PadID     int    `json:"padId" yaml:"padId"`
	CacheDir  string `json:"cacheDir" yaml:"cacheDir"`
}

// FilterConfig controls the corpus token budget filter.
type FilterConfig struct {
	MaxTokens int  `json:"maxTokens" yaml:"maxTokens"`
	Skip      bool `json:"skip" yaml:"skip"`
}

// AugmentConfig controls synonym replacement.
type AugmentConfig struct {
	Rate         float64 `json:"rate" yaml:"rate"`
	Replacements int     `json:"replacements" yaml:"replacements"`
}

// SearchSpace bounds the hyperparameters sampled per trial.
type SearchSpace struct {
	EpochsMin       int     `json:"epochsMin" yaml:"epochsMin"`
	EpochsMax       int     `json:"epochsMax" yaml:"epochsMax"`
	BatchSizes      []int   `json:"batchSizes" yaml:"batchSizes"`
	LearningRateMin float64 `json:"learningRateMin" yaml:"learningRateMin"`
	LearningRateMax float64 `json:"learningRateMax" yaml:"learningRateMax"`
}

// SearchConfig controls the trial loop.
type SearchConfig struct {
	Trials            int         `json:"trials" yaml:"trials"`
	Space             SearchSpace `json:"space" yaml:"space"`
	AbortOnTrialError bool        `json:"abortOnTrialError" yaml:"abortOnTrialError"`
}

// TrainerConfig describes how a trial is trained.
type TrainerConfig struct {
	// Kind is "local" (run Command on this host) or "docker" (run Command in Image).
	Kind           string            `json:"kind" yaml:"kind"`
	Command        []string          `json:"command" yaml:"command"`
	Env            map[string]string `json:"env" yaml:"env"`
	Image          string            `json:"image" yaml:"image"`
	BaseModel      string            `json:"baseModel" yaml:"baseModel"`
	LoggingDir     string            `json:"loggingDir" yaml:"loggingDir"`
	LoggingSteps   int               `json:"loggingSteps" yaml:"loggingSteps"`
	MLMProbability float64           `json:"mlmProbability" yaml:"mlmProbability"`
	UseCPU         bool              `json:"useCpu" yaml:"useCpu"`
	Timeout        string            `json:"timeout" yaml:"timeout"`
	MemoryLimit    int64             `json:"memoryLimit" yaml:"memoryLimit"`
}

// EvaluatorConfig describes how a trained trial is scored.
type EvaluatorConfig struct {
	// Kind is "metrics" (trainer reported eval_loss) or "onnx" (masked LM loss via ORT).
	Kind           string  `json:"kind" yaml:"kind"`
	OrtLibrary     string  `json:"ortLibrary" yaml:"ortLibrary"`
	ModelFile      string  `json:"modelFile" yaml:"modelFile"`
	VocabSize      int     `json:"vocabSize" yaml:"vocabSize"`
	MaskID         int     `json:"maskId" yaml:"maskId"`
	SpecialIDs     []int   `json:"specialIds" yaml:"specialIds"`
	MLMProbability float64 `json:"mlmProbability" yaml:"mlmProbability"`
	MaxExamples    int     `json:"maxExamples" yaml:"maxExamples"`
}

// ArtifactConfig controls what happens to the winning model.
type ArtifactConfig struct {
	FinalDir        string `json:"finalDir" yaml:"finalDir"`
	Bucket          string `json:"bucket" yaml:"bucket"`
	Prefix          string `json:"prefix" yaml:"prefix"`
	CredentialsFile string `json:"credentialsFile" yaml:"credentialsFile"`
}

// Config aggregates every pipeline setting.
type Config struct {
	Paths      PathsConfig     `json:"paths" yaml:"paths"`
	Lexicon    LexiconConfig   `json:"lexicon" yaml:"lexicon"`
	Tokenizer  TokenizerConfig `json:"tokenizer" yaml:"tokenizer"`
	Filter     FilterConfig    `json:"filter" yaml:"filter"`
	Augment    AugmentConfig   `json:"augment" yaml:"augment"`
	Search     SearchConfig    `json:"search" yaml:"search"`
	Trainer    TrainerConfig   `json:"trainer" yaml:"trainer"`
	Evaluator  EvaluatorConfig `json:"evaluator" yaml:"evaluator"`
	Artifacts  ArtifactConfig  `json:"artifacts" yaml:"artifacts"`
	Seed       uint64          `json:"seed" yaml:"seed"`
	Partitions int             `json:"partitions" yaml:"partitions"`
}

// Clone creates a deep copy of the configuration so callers can mutate safely.
func (c Config) Clone() Config {
	var out Config
	if err := deepcopy.Copy(&out, &c); err != nil {
		return c
	}
	return out
}

// DefaultConfig returns the settings the pipeline was tuned with. Zero is a
// meaningful value for the filter, augmentation and search knobs, so they are
// only set here; LoadConfig decodes files on top of these values.
func DefaultConfig() Config {
	c := Config{
		Filter:  FilterConfig{MaxTokens: 512},
		Augment: AugmentConfig{Rate: 0.3, Replacements: 2},
		Search: SearchConfig{
			Trials: 3,
			Space: SearchSpace{
				EpochsMin:       1,
				EpochsMax:       5,
				BatchSizes:      []int{8, 16},
				LearningRateMin: 5e-5,
				LearningRateMax: 5e-4,
			},
		},
		Trainer: TrainerConfig{UseCPU: true},
	}
	c.ApplyDefaults()
	return c
}

// ApplyDefaults populates fields whose zero value is never a valid setting.
func (c *Config) ApplyDefaults() {
	if c.Paths.WorkDir == "" {
		c.Paths.WorkDir = "."
	}
	if c.Paths.Filtered == "" {
		c.Paths.Filtered = "filtered_output.txt"
	}
	if c.Paths.Dataset == "" {
		c.Paths.Dataset = "train_dataset.jsonl"
	}
	if c.Paths.Report == "" {
		c.Paths.Report = "study.json"
	}
	if c.Lexicon.Kind == "" {
		c.Lexicon.Kind = "wordnet"
	}
	if c.Lexicon.Path == "" {
		c.Lexicon.Path = "./wordnet/dict"
	}
	if c.Tokenizer.Path == "" {
		c.Tokenizer.Path = "./models/distilbert-base-uncased/tokenizer.json"
	}
	if c.Tokenizer.MaxLength == 0 {
		c.Tokenizer.MaxLength = 512
	}
	if c.Trainer.Kind == "" {
		c.Trainer.Kind = "local"
	}
	if c.Trainer.BaseModel == "" {
		c.Trainer.BaseModel = "distilbert-base-uncased"
	}
	if c.Trainer.LoggingDir == "" {
		c.Trainer.LoggingDir = "./logs"
	}
	if c.Trainer.LoggingSteps == 0 {
		c.Trainer.LoggingSteps = 10
	}
	if c.Trainer.MLMProbability == 0 {
		c.Trainer.MLMProbability = 0.15
	}
	if c.Evaluator.Kind == "" {
		c.Evaluator.Kind = "metrics"
	}
	if c.Evaluator.ModelFile == "" {
		c.Evaluator.ModelFile = "model.onnx"
	}
	if c.Evaluator.VocabSize == 0 {
		c.Evaluator.VocabSize = 30522
	}
	if c.Evaluator.MaskID == 0 {
		c.Evaluator.MaskID = 103
	}
	if len(c.Evaluator.SpecialIDs) == 0 {
		c.Evaluator.SpecialIDs = []int{0, 100, 101, 102, 103}
	}
	if c.Evaluator.MLMProbability == 0 {
		c.Evaluator.MLMProbability = c.Trainer.MLMProbability
	}
	if c.Evaluator.MaxExamples == 0 {
		c.Evaluator.MaxExamples = 256
	}
	if c.Partitions <= 0 {
		c.Partitions = 4
	}
}
