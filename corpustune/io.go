package corpustune

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/bytedance/sonic"
	"golang.org/x/sync/errgroup"
)

// LoadLines reads a line-oriented text file using up to partitions parallel
// readers. Each reader owns the lines that start inside its byte range, and
// the results are concatenated in file order. Line terminators are stripped;
// empty lines are kept.
func LoadLines(ctx context.Context, path string, partitions int) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", filepath.Base(path), err)
	}
	size := info.Size()
	if size == 0 {
		return nil, nil
	}
	if partitions <= 0 {
		partitions = 1
	}
	if int64(partitions) > size {
		partitions = int(size)
	}
	chunk := size / int64(partitions)
	results := make([][]string, partitions)

	eg, ctx := errgroup.WithContext(ctx)
	for i := 0; i < partitions; i++ {
		start := int64(i) * chunk
		end := start + chunk
		if i == partitions-1 {
			end = size
		}
		eg.Go(func() error {
			lines, err := readSplit(ctx, path, start, end, size)
			if err != nil {
				return fmt.Errorf("partition %d: %w", i, err)
			}
			results[i] = lines
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	total := 0
	for _, part := range results {
		total += len(part)
	}
	out := make([]string, 0, total)
	for _, part := range results {
		out = append(out, part...)
	}
	return out, nil
}

func readSplit(ctx context.Context, path string, start, end, size int64) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	pos := start
	if start > 0 {
		pos = start - 1
	}
	r := bufio.NewReaderSize(io.NewSectionReader(f, pos, size-pos), 64*1024)
	if start > 0 {
		// The line running through start-1 belongs to the previous split.
		skipped, err := r.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}
		pos += int64(len(skipped))
	}
	var lines []string
	for pos < end {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		line, err := r.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}
		if line == "" {
			break
		}
		lines = append(lines, trimLineEnding(line))
		pos += int64(len(line))
		if errors.Is(err, io.EOF) {
			break
		}
	}
	return lines, nil
}

// writeJSONL encodes every record on its own line.
func writeJSONL[T any](path string, records []T) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create dataset dir: %w", err)
		}
	}
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create %s: %w", filepath.Base(path), err)
	}
	w := bufio.NewWriter(f)
	for i, rec := range records {
		data, err := sonic.Marshal(rec)
		if err != nil {
			f.Close()
			_ = os.Remove(tmp)
			return fmt.Errorf("encode record %d: %w", i, err)
		}
		w.Write(data)
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("flush %s: %w", filepath.Base(path), err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("close %s: %w", filepath.Base(path), err)
	}
	return os.Rename(tmp, path)
}

// readJSONL decodes a file written by writeJSONL.
func readJSONL[T any](path string) ([]T, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)
	var out []T
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec T
		if err := sonic.Unmarshal(line, &rec); err != nil {
			return nil, fmt.Errorf("decode record %d: %w", len(out)+1, err)
		}
		out = append(out, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
