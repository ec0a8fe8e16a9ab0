package corpustune

import (
	"math/rand/v2"
	"strings"
)

// Augmenter performs synonym replacement on sentences. It is not safe for
// concurrent use because it draws from a single random source.
type Augmenter struct {
	synonyms *SynonymProvider
	rng      *rand.Rand
}

// NewAugmenter creates an augmenter. A nil rng gets a fixed-seed source so
// results stay reproducible.
func NewAugmenter(synonyms *SynonymProvider, rng *rand.Rand) *Augmenter {
	if rng == nil {
		rng = NewRand(0)
	}
	return &Augmenter{synonyms: synonyms, rng: rng}
}

// NewRand returns a PCG-backed random source for the given seed.
func NewRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// Augment replaces up to maxReplacements distinct words of sentence with a
// synonym. Every occurrence of a chosen word is replaced. Tokens are rejoined
// with single spaces.
func (a *Augmenter) Augment(sentence string, maxReplacements int) string {
	words := strings.Fields(sentence)
	if len(words) == 0 {
		return ""
	}
	out := make([]string, len(words))
	copy(out, words)

	pool := a.candidatePool(words)
	a.rng.Shuffle(len(pool), func(i, j int) {
		pool[i], pool[j] = pool[j], pool[i]
	})

	replaced := 0
	for _, c := range pool {
		if replaced >= maxReplacements {
			break
		}
		if len(c.synonyms) == 0 {
			continue
		}
		choice := c.synonyms[a.rng.IntN(len(c.synonyms))]
		for i, w := range out {
			if w == c.word {
				out[i] = choice
			}
		}
		replaced++
	}
	return strings.Join(out, " ")
}

// AugmentExample augments ex.Text with probability rate. The input is not modified.
func (a *Augmenter) AugmentExample(ex Example, rate float64, n int) Example {
	if a.rng.Float64() < rate {
		return Example{Text: a.Augment(ex.Text, n)}
	}
	return Example{Text: ex.Text}
}

type candidate struct {
	word     string
	synonyms []string
}

// candidatePool lists the distinct words with at least one known sense, in
// first-occurrence order. Each word is looked up in the lexicon once.
func (a *Augmenter) candidatePool(words []string) []candidate {
	seen := make(map[string]struct{}, len(words))
	pool := make([]candidate, 0, len(words))
	for _, w := range words {
		if _, ok := seen[w]; ok {
			continue
		}
		seen[w] = struct{}{}
		senses := a.synonyms.senses(w)
		if len(senses) == 0 {
			continue
		}
		pool = append(pool, candidate{word: w, synonyms: synonymsIn(w, senses)})
	}
	return pool
}
