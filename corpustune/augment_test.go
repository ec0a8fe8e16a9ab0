package corpustune

import (
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func testAugmenter(seed uint64) *Augmenter {
	lex := NewMemoryLexicon(
		[]string{"quick", "fast"},
		[]string{"brown", "brownish"},
		[]string{"fox", "dodger"},
		[]string{"car", "motor_car"},
	)
	return NewAugmenter(NewSynonymProvider(lex), NewRand(seed))
}

func changedWords(before, after string) int {
	a, b := strings.Fields(before), strings.Fields(after)
	if len(a) != len(b) {
		return -1
	}
	n := 0
	for i := range a {
		if a[i] != b[i] {
			n++
		}
	}
	return n
}

func TestAugment(t *testing.T) {
	tests := []struct {
		name     string
		sentence string
		max      int
		want     string
	}{
		{name: "zero replacements", sentence: "the quick brown fox", max: 0, want: "the quick brown fox"},
		{name: "no candidates", sentence: "a b c", max: 2, want: "a b c"},
		{name: "empty", sentence: "", max: 2, want: ""},
		{name: "only spaces", sentence: "   ", max: 2, want: ""},
		{name: "whitespace collapsed", sentence: "  the   quick  ", max: 0, want: "the quick"},
		{name: "every occurrence", sentence: "fox and fox", max: 1, want: "dodger and dodger"},
		{name: "multiword synonym", sentence: "my car", max: 1, want: "my motor car"},
		{name: "all candidates", sentence: "the quick brown fox", max: 10, want: "the fast brownish dodger"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := testAugmenter(1).Augment(tt.sentence, tt.max)
			if got != tt.want {
				t.Errorf("Augment(%q, %d) = %q, want %q", tt.sentence, tt.max, got, tt.want)
			}
		})
	}
}

func TestAugmentReplacesExactlyN(t *testing.T) {
	const sentence = "the quick brown fox"
	for seed := uint64(0); seed < 20; seed++ {
		got := testAugmenter(seed).Augment(sentence, 2)
		if n := changedWords(sentence, got); n != 2 {
			t.Fatalf("seed %d: Augment changed %d words (%q), want 2", seed, n, got)
		}
		if !strings.HasPrefix(got, "the ") {
			t.Fatalf("seed %d: word without senses was replaced: %q", seed, got)
		}
	}
}

func TestAugmentIsReproducible(t *testing.T) {
	sentences := []string{"the quick brown fox", "a fast car", "brown fox brown car"}
	run := func() []string {
		aug := testAugmenter(42)
		out := make([]string, len(sentences))
		for i, s := range sentences {
			out[i] = aug.Augment(s, 1)
		}
		return out
	}
	if diff := cmp.Diff(run(), run()); diff != "" {
		t.Errorf("same seed produced different output (-first +second):\n%s", diff)
	}
}

func TestAugmentExample(t *testing.T) {
	in := Example{Text: "the fox"}

	kept := testAugmenter(3).AugmentExample(in, 0, 2)
	if kept.Text != in.Text {
		t.Errorf("rate 0: got %q, want %q", kept.Text, in.Text)
	}
	changed := testAugmenter(3).AugmentExample(in, 1, 2)
	if changed.Text != "the dodger" {
		t.Errorf("rate 1: got %q, want %q", changed.Text, "the dodger")
	}
	if in.Text != "the fox" {
		t.Errorf("input example was modified: %q", in.Text)
	}
}

func TestAugmentExampleRate(t *testing.T) {
	aug := testAugmenter(7)
	const total = 2000
	hits := 0
	for i := 0; i < total; i++ {
		if aug.AugmentExample(Example{Text: "fox"}, 0.3, 1).Text != "fox" {
			hits++
		}
	}
	if ratio := float64(hits) / total; ratio < 0.25 || ratio > 0.35 {
		t.Errorf("augmented ratio = %.3f, want about 0.3", ratio)
	}
}

// countingLexicon records how often each word is looked up.
type countingLexicon struct {
	Lexicon

	mu    sync.Mutex
	calls map[string]int
}

func (c *countingLexicon) Synsets(word string) []Synset {
	c.mu.Lock()
	c.calls[word]++
	c.mu.Unlock()
	return c.Lexicon.Synsets(word)
}

func TestAugmentLooksUpEachWordOnce(t *testing.T) {
	lex := &countingLexicon{
		Lexicon: NewMemoryLexicon([]string{"quick", "fast"}, []string{"fox", "dodger"}),
		calls:   make(map[string]int),
	}
	aug := NewAugmenter(NewSynonymProvider(lex), NewRand(1))
	if got := aug.Augment("the quick fox and the fox", 5); got != "the fast dodger and the dodger" {
		t.Fatalf("Augment() = %q", got)
	}
	want := map[string]int{"the": 1, "quick": 1, "fox": 1, "and": 1}
	if diff := cmp.Diff(want, lex.calls); diff != "" {
		t.Errorf("lookups mismatch (-want +got):\n%s", diff)
	}
}
