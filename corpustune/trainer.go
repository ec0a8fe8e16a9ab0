package corpustune

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
)

// ErrTrainerFailed marks a training run that exited unsuccessfully.
var ErrTrainerFailed = errors.New("trainer failed")

// MetricsFile is the name of the JSON object a trainer writes into its output
// directory, mapping metric names such as "eval_loss" to values.
const MetricsFile = "metrics.json"

// TrainRequest describes one training run.
type TrainRequest struct {
	Trial          int
	Params         Hyperparameters
	DatasetPath    string
	OutputDir      string
	ModelDir       string
	BaseModel      string
	LoggingDir     string
	LoggingSteps   int
	MLMProbability float64
	UseCPU         bool
}

// TrainResult is what a trainer reports back.
type TrainResult struct {
	ModelDir string
	Metrics  map[string]float64
}

// Trainer fine-tunes a fresh model for a single trial and saves it to ModelDir.
type Trainer interface {
	Train(ctx context.Context, req TrainRequest) (TrainResult, error)
}

// LocalTrainer runs the configured training command on this host.
type LocalTrainer struct {
	command []string
	env     map[string]string
	workDir string
	timeout time.Duration
	logger  *log.Logger
}

// NewLocalTrainer creates a trainer from cfg. Command arguments may contain
// placeholders such as {epochs} or {model_dir}; see expandArgs.
func NewLocalTrainer(cfg TrainerConfig, workDir string, logger *log.Logger) (*LocalTrainer, error) {
	if len(cfg.Command) == 0 {
		return nil, errors.New("trainer command is required")
	}
	timeout, err := parseTimeout(cfg.Timeout)
	if err != nil {
		return nil, err
	}
	return &LocalTrainer{
		command: cfg.Command,
		env:     cfg.Env,
		workDir: workDir,
		timeout: timeout,
		logger:  logger,
	}, nil
}

// Train implements Trainer.
func (t *LocalTrainer) Train(ctx context.Context, req TrainRequest) (TrainResult, error) {
	if err := prepareTrialDirs(req); err != nil {
		return TrainResult{}, err
	}
	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}
	abs, err := absRequest(req)
	if err != nil {
		return TrainResult{}, err
	}
	args := expandArgs(t.command, abs)
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Dir = t.workDir
	cmd.Env = append(os.Environ(), trainEnv(abs, t.env)...)

	logPath := filepath.Join(req.OutputDir, "train.log")
	logFile, err := os.Create(logPath)
	if err != nil {
		return TrainResult{}, fmt.Errorf("create train log: %w", err)
	}
	defer logFile.Close()
	var stderr bytes.Buffer
	cmd.Stdout = logFile
	cmd.Stderr = io.MultiWriter(logFile, &stderr)

	logf(t.logger, "Trial %d: running %s", req.Trial, strings.Join(args, " "))
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return TrainResult{}, fmt.Errorf("trial %d: %w", req.Trial, ctxErr)
		}
		return TrainResult{}, fmt.Errorf("trial %d: %w: %v: %s", req.Trial, ErrTrainerFailed, err, lastLines(stderr.String(), 5))
	}
	return collectResult(req)
}

// absRequest resolves the request paths so the command can run from any directory.
func absRequest(req TrainRequest) (TrainRequest, error) {
	out := req
	for _, p := range []*string{&out.DatasetPath, &out.OutputDir, &out.ModelDir, &out.LoggingDir} {
		if *p == "" {
			continue
		}
		abs, err := filepath.Abs(*p)
		if err != nil {
			return req, fmt.Errorf("resolve %s: %w", *p, err)
		}
		*p = abs
	}
	return out, nil
}

// prepareTrialDirs creates the per-trial output locations.
func prepareTrialDirs(req TrainRequest) error {
	for _, dir := range []string{req.OutputDir, req.ModelDir} {
		if dir == "" {
			return errors.New("trial directories are required")
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create trial dir: %w", err)
		}
	}
	return nil
}

// collectResult verifies the saved model and reads the reported metrics.
func collectResult(req TrainRequest) (TrainResult, error) {
	entries, err := os.ReadDir(req.ModelDir)
	if err != nil {
		return TrainResult{}, fmt.Errorf("trial %d: read model dir: %w", req.Trial, err)
	}
	if len(entries) == 0 {
		return TrainResult{}, fmt.Errorf("trial %d: %w: no model saved in %s", req.Trial, ErrTrainerFailed, req.ModelDir)
	}
	metrics, err := ReadMetrics(filepath.Join(req.OutputDir, MetricsFile))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return TrainResult{}, fmt.Errorf("trial %d: %w", req.Trial, err)
	}
	return TrainResult{ModelDir: req.ModelDir, Metrics: metrics}, nil
}

// ReadMetrics decodes a metrics.json file.
func ReadMetrics(path string) (map[string]float64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	metrics := make(map[string]float64)
	if err := sonic.Unmarshal(data, &metrics); err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return metrics, nil
}

// expandArgs substitutes trial placeholders in every argument.
func expandArgs(command []string, req TrainRequest) []string {
	r := strings.NewReplacer(
		"{trial}", strconv.Itoa(req.Trial),
		"{epochs}", strconv.Itoa(req.Params.Epochs),
		"{batch_size}", strconv.Itoa(req.Params.BatchSize),
		"{learning_rate}", strconv.FormatFloat(req.Params.LearningRate, 'g', -1, 64),
		"{dataset}", req.DatasetPath,
		"{output_dir}", req.OutputDir,
		"{model_dir}", req.ModelDir,
		"{base_model}", req.BaseModel,
		"{logging_dir}", req.LoggingDir,
		"{logging_steps}", strconv.Itoa(req.LoggingSteps),
		"{mlm_probability}", strconv.FormatFloat(req.MLMProbability, 'g', -1, 64),
		"{use_cpu}", strconv.FormatBool(req.UseCPU),
	)
	out := make([]string, len(command))
	for i, arg := range command {
		out[i] = r.Replace(arg)
	}
	return out
}

// trainEnv exposes the request as CORPUSTUNE_* variables plus the configured extras.
func trainEnv(req TrainRequest, extra map[string]string) []string {
	env := []string{
		"CORPUSTUNE_TRIAL=" + strconv.Itoa(req.Trial),
		"CORPUSTUNE_EPOCHS=" + strconv.Itoa(req.Params.Epochs),
		"CORPUSTUNE_BATCH_SIZE=" + strconv.Itoa(req.Params.BatchSize),
		"CORPUSTUNE_LEARNING_RATE=" + strconv.FormatFloat(req.Params.LearningRate, 'g', -1, 64),
		"CORPUSTUNE_DATASET=" + req.DatasetPath,
		"CORPUSTUNE_OUTPUT_DIR=" + req.OutputDir,
		"CORPUSTUNE_MODEL_DIR=" + req.ModelDir,
		"CORPUSTUNE_BASE_MODEL=" + req.BaseModel,
		"CORPUSTUNE_LOGGING_DIR=" + req.LoggingDir,
		"CORPUSTUNE_LOGGING_STEPS=" + strconv.Itoa(req.LoggingSteps),
		"CORPUSTUNE_MLM_PROBABILITY=" + strconv.FormatFloat(req.MLMProbability, 'g', -1, 64),
		"CORPUSTUNE_USE_CPU=" + strconv.FormatBool(req.UseCPU),
	}
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+extra[k])
	}
	return env
}

func parseTimeout(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("parse trainer timeout: %w", err)
	}
	return d, nil
}

func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, " | ")
}

// NewTrainer builds the trainer selected by cfg.Kind.
func NewTrainer(cfg TrainerConfig, workDir string, logger *log.Logger) (Trainer, error) {
	switch strings.ToLower(cfg.Kind) {
	case "", "local":
		t, err := NewLocalTrainer(cfg, workDir, logger)
		if err != nil {
			return nil, err
		}
		return t, nil
	case "docker":
		t, err := NewDockerTrainer(cfg, workDir, logger)
		if err != nil {
			return nil, err
		}
		return t, nil
	default:
		return nil, fmt.Errorf("unknown trainer kind %q", cfg.Kind)
	}
}
