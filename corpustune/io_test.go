package corpustune

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestLoadLines(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    []string
	}{
		{
			name:    "mixed",
			content: "alpha\nbeta\n\ngamma delta\r\nepsilon\nz",
			want:    []string{"alpha", "beta", "", "gamma delta", "epsilon", "z"},
		},
		{
			name:    "trailing newline",
			content: "a\nb\n",
			want:    []string{"a", "b"},
		},
		{
			name:    "single long line",
			content: strings.Repeat("word ", 50),
			want:    []string{strings.Repeat("word ", 50)},
		},
		{
			name:    "blank lines only",
			content: "\n\n\n",
			want:    []string{"", "", ""},
		},
	}
	for _, tt := range tests {
		path := filepath.Join(t.TempDir(), "corpus.txt")
		writeFile(t, path, tt.content)
		for _, partitions := range []int{0, 1, 2, 3, 4, 7, 64} {
			t.Run(fmt.Sprintf("%s/%d", tt.name, partitions), func(t *testing.T) {
				got, err := LoadLines(context.Background(), path, partitions)
				if err != nil {
					t.Fatalf("LoadLines() error = %v", err)
				}
				if diff := cmp.Diff(tt.want, got); diff != "" {
					t.Errorf("LoadLines mismatch (-want +got):\n%s", diff)
				}
			})
		}
	}
}

func TestLoadLinesEmptyAndMissing(t *testing.T) {
	dir := t.TempDir()
	empty := filepath.Join(dir, "empty.txt")
	writeFile(t, empty, "")
	got, err := LoadLines(context.Background(), empty, 4)
	if err != nil {
		t.Fatalf("LoadLines(empty) error = %v", err)
	}
	if len(got) != 0 {
		t.Errorf("LoadLines(empty) = %v, want no lines", got)
	}
	if _, err := LoadLines(context.Background(), filepath.Join(dir, "missing.txt"), 4); err == nil {
		t.Error("LoadLines(missing) succeeded")
	}
}

func TestLoadLinesManyPartitions(t *testing.T) {
	var b strings.Builder
	want := make([]string, 0, 500)
	for i := 0; i < 500; i++ {
		line := strings.Repeat("x", i%13)
		want = append(want, line)
		b.WriteString(line)
		b.WriteByte('\n')
	}
	path := filepath.Join(t.TempDir(), "corpus.txt")
	writeFile(t, path, b.String())
	got, err := LoadLines(context.Background(), path, 16)
	if err != nil {
		t.Fatalf("LoadLines() error = %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("LoadLines mismatch (-want +got):\n%s", diff)
	}
}
