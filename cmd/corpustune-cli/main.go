package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/MakeNowJust/heredoc/v2"

	"yashubustudio/corpustune/corpustune"
)

type cliOptions struct {
	configPath string
	inputPath  string
	outputPath string
	workDir    string
	trials     int
	seed       int64
	rate       float64
	filterOnly bool
	skipFilter bool
	stdout     bool
}

func main() {
	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		log.Fatalf("corpustune-cli: %v", err)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := run(ctx, opts); err != nil {
		log.Fatalf("corpustune-cli: %v", err)
	}
}

func parseFlags(args []string) (cliOptions, error) {
	var opts cliOptions
	fs := flag.NewFlagSet("corpustune-cli", flag.ContinueOnError)
	fs.StringVar(&opts.configPath, "config", "", "Path to corpustune.json or .yaml (default: ./corpustune.json)")
	fs.StringVar(&opts.inputPath, "input", "", "Line-oriented UTF-8 corpus to filter and train on")
	fs.StringVar(&opts.outputPath, "output", "", "Where the filtered corpus is written (default from config)")
	fs.StringVar(&opts.workDir, "workdir", "", "Directory for datasets, trial results and models (default from config)")
	fs.IntVar(&opts.trials, "trials", 0, "Number of search trials (default from config)")
	fs.Int64Var(&opts.seed, "seed", -1, "Seed for augmentation and sampling (default from config)")
	fs.Float64Var(&opts.rate, "augment-rate", -1, "Probability that a line is augmented; 0 disables augmentation (default from config)")
	fs.BoolVar(&opts.filterOnly, "filter-only", false, "Only run the token budget filter")
	fs.BoolVar(&opts.skipFilter, "skip-filter", false, "Train on --input as is, without filtering")
	fs.BoolVar(&opts.stdout, "stdout", false, "Print a trial summary to STDOUT")
	fs.Usage = func() {
		fmt.Fprint(fs.Output(), heredoc.Docf(`
			Usage: %s --input FILE [options]

			Filters the corpus by token count, augments it with synonym
			replacement, tokenizes it and searches fine-tuning hyperparameters.

			Options:
		`, filepath.Base(os.Args[0])))
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return opts, err
	}

	opts.configPath = strings.TrimSpace(opts.configPath)
	opts.inputPath = strings.TrimSpace(opts.inputPath)
	opts.outputPath = strings.TrimSpace(opts.outputPath)
	opts.workDir = strings.TrimSpace(opts.workDir)

	if opts.filterOnly && opts.skipFilter {
		return opts, errors.New("--filter-only and --skip-filter are mutually exclusive")
	}
	if opts.trials < 0 {
		return opts, errors.New("--trials must not be negative")
	}
	return opts, nil
}

// applyOptions overlays command line flags on the loaded configuration.
func applyOptions(cfg corpustune.Config, opts cliOptions) (corpustune.Config, error) {
	if opts.inputPath != "" {
		cfg.Paths.Input = opts.inputPath
	}
	if opts.outputPath != "" {
		cfg.Paths.Filtered = opts.outputPath
	}
	if opts.workDir != "" {
		cfg.Paths.WorkDir = opts.workDir
	}
	if opts.trials > 0 {
		cfg.Search.Trials = opts.trials
	}
	if opts.seed >= 0 {
		cfg.Seed = uint64(opts.seed)
	}
	if opts.rate >= 0 {
		cfg.Augment.Rate = opts.rate
	}
	if opts.skipFilter {
		cfg.Filter.Skip = true
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config: %w", err)
	}
	if cfg.Paths.Input == "" {
		return cfg, errors.New("missing required --input file")
	}
	if _, err := os.Stat(cfg.Paths.Input); err != nil {
		return cfg, fmt.Errorf("input corpus: %w", err)
	}
	return cfg, nil
}

func run(ctx context.Context, opts cliOptions) error {
	cfg, err := corpustune.LoadConfig(opts.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg, err = applyOptions(cfg, opts)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(cfg.Paths.WorkDir, 0o755); err != nil {
		return fmt.Errorf("create work dir: %w", err)
	}

	logger := log.New(os.Stdout, "", log.LstdFlags)
	if opts.filterOnly {
		return runFilter(ctx, cfg, logger)
	}

	service, err := corpustune.Open(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("init service: %w", err)
	}
	defer service.Close()

	result, err := service.Run(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Best trial: %d with loss %v\n", result.Best.Number, result.Best.EvalLoss)
	fmt.Printf("Best model: %s\n", result.Model.Dir)

	if opts.stdout {
		report, rerr := readReport(cfg.ResolvePath(cfg.Paths.Report))
		if rerr != nil {
			return rerr
		}
		printSummary(report)
	}
	return nil
}

func runFilter(ctx context.Context, cfg corpustune.Config, logger *log.Logger) error {
	tok, err := corpustune.NewHFTokenizer(cfg.Tokenizer)
	if err != nil {
		return fmt.Errorf("init tokenizer: %w", err)
	}
	out := cfg.ResolvePath(cfg.Paths.Filtered)
	stats, err := corpustune.FilterFile(ctx, cfg.Paths.Input, out, tok, cfg.Filter.MaxTokens, logger)
	if err != nil {
		return fmt.Errorf("filter corpus: %w", err)
	}
	fmt.Printf("Filtered corpus written to %s (%d kept, %d dropped)\n", out, stats.Kept, stats.Dropped)
	return nil
}
