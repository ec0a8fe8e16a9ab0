package main

import (
	"os"
	"path/filepath"
	"testing"

	"yashubustudio/corpustune/corpustune"
)

func TestParseFlags(t *testing.T) {
	opts, err := parseFlags([]string{"-input", " corpus.txt ", "-trials", "5", "-seed", "7", "-skip-filter"})
	if err != nil {
		t.Fatalf("parseFlags() error = %v", err)
	}
	if opts.inputPath != "corpus.txt" || opts.trials != 5 || opts.seed != 7 || !opts.skipFilter {
		t.Errorf("parseFlags() = %+v", opts)
	}
	if _, err := parseFlags([]string{"-filter-only", "-skip-filter"}); err == nil {
		t.Error("conflicting flags accepted")
	}
	if _, err := parseFlags([]string{"-trials", "-1"}); err == nil {
		t.Error("negative trial count accepted")
	}
}

func TestApplyOptions(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "corpus.txt")
	if err := os.WriteFile(input, []byte("hello\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := corpustune.DefaultConfig()

	got, err := applyOptions(cfg, cliOptions{inputPath: input, outputPath: "kept.txt", trials: 9, seed: 3, rate: 0, skipFilter: true})
	if err != nil {
		t.Fatalf("applyOptions() error = %v", err)
	}
	if got.Paths.Input != input || got.Paths.Filtered != "kept.txt" || got.Search.Trials != 9 || got.Seed != 3 || !got.Filter.Skip || got.Augment.Rate != 0 {
		t.Errorf("applyOptions() = %+v", got)
	}

	unchanged, err := applyOptions(cfg, cliOptions{inputPath: input, seed: -1, rate: -1})
	if err != nil {
		t.Fatalf("applyOptions() error = %v", err)
	}
	if unchanged.Search.Trials != 3 || unchanged.Seed != 0 || unchanged.Augment.Rate != 0.3 {
		t.Errorf("defaults overridden: trials %d seed %d rate %v", unchanged.Search.Trials, unchanged.Seed, unchanged.Augment.Rate)
	}
	if _, err := applyOptions(cfg, cliOptions{inputPath: input, seed: -1, rate: 1.5}); err == nil {
		t.Error("augment rate above 1 accepted")
	}

	if _, err := applyOptions(cfg, cliOptions{seed: -1, rate: -1}); err == nil {
		t.Error("missing input accepted")
	}
	if _, err := applyOptions(cfg, cliOptions{inputPath: filepath.Join(dir, "nope.txt"), seed: -1, rate: -1}); err == nil {
		t.Error("nonexistent input accepted")
	}
}
