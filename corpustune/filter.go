package corpustune

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
)

// TokenCounter counts the tokens of a piece of text.
type TokenCounter interface {
	CountTokens(text string) (int, error)
}

// FilterStats summarizes a filter pass.
type FilterStats struct {
	Kept    int
	Dropped int
	// Longest is the largest token count seen among kept lines.
	Longest int
}

// FilterByTokenLimit copies every line of r whose token count is at most
// maxTokens to w. Lines are streamed one at a time, keep their input order,
// and are written byte for byte including their line terminator.
func FilterByTokenLimit(ctx context.Context, r io.Reader, w io.Writer, counter TokenCounter, maxTokens int, logger *log.Logger) (FilterStats, error) {
	var stats FilterStats
	if counter == nil {
		return stats, errors.New("token counter is required")
	}
	br := bufio.NewReaderSize(r, 64*1024)
	bw := bufio.NewWriter(w)
	lineNo := 0
	for {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		line, readErr := br.ReadString('\n')
		if readErr != nil && !errors.Is(readErr, io.EOF) {
			return stats, fmt.Errorf("read line %d: %w", lineNo+1, readErr)
		}
		if line != "" {
			lineNo++
			n, err := counter.CountTokens(trimLineEnding(line))
			if err != nil {
				return stats, fmt.Errorf("line %d: %w", lineNo, err)
			}
			if n <= maxTokens {
				if _, err := bw.WriteString(line); err != nil {
					return stats, fmt.Errorf("write line %d: %w", lineNo, err)
				}
				stats.Kept++
				if n > stats.Longest {
					stats.Longest = n
				}
			} else {
				stats.Dropped++
			}
		}
		if errors.Is(readErr, io.EOF) {
			break
		}
	}
	if err := bw.Flush(); err != nil {
		return stats, fmt.Errorf("flush filtered output: %w", err)
	}
	logf(logger, "Filtered corpus: kept %d lines, dropped %d over %d tokens", stats.Kept, stats.Dropped, maxTokens)
	return stats, nil
}

// FilterLines is the in-memory form of FilterByTokenLimit.
func FilterLines(lines []string, counter TokenCounter, maxTokens int) ([]string, error) {
	out := make([]string, 0, len(lines))
	for i, line := range lines {
		n, err := counter.CountTokens(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", i+1, err)
		}
		if n <= maxTokens {
			out = append(out, line)
		}
	}
	return out, nil
}

// FilterFile filters inputPath into outputPath. The output is written to a
// temporary file first and renamed into place once complete.
func FilterFile(ctx context.Context, inputPath, outputPath string, counter TokenCounter, maxTokens int, logger *log.Logger) (FilterStats, error) {
	in, err := os.Open(inputPath)
	if err != nil {
		return FilterStats{}, fmt.Errorf("open corpus: %w", err)
	}
	defer in.Close()
	if dir := filepath.Dir(outputPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return FilterStats{}, fmt.Errorf("create output dir: %w", err)
		}
	}
	tmp := outputPath + ".tmp"
	out, err := os.Create(tmp)
	if err != nil {
		return FilterStats{}, fmt.Errorf("create filtered corpus: %w", err)
	}
	stats, err := FilterByTokenLimit(ctx, in, out, counter, maxTokens, logger)
	if cerr := out.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("close filtered corpus: %w", cerr)
	}
	if err != nil {
		_ = os.Remove(tmp)
		return stats, err
	}
	if err := os.Rename(tmp, outputPath); err != nil {
		return stats, fmt.Errorf("rename filtered corpus: %w", err)
	}
	return stats, nil
}

func trimLineEnding(line string) string {
	line = strings.TrimSuffix(line, "\n")
	return strings.TrimSuffix(line, "\r")
}

func logf(logger *log.Logger, format string, args ...any) {
	if logger != nil {
		logger.Printf(format, args...)
	}
}
