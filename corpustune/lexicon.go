package corpustune

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
)

// Synset is a group of lemmas sharing one sense.
type Synset struct {
	ID     string
	POS    byte
	Lemmas []string
}

// Lexicon is a lexical knowledge base keyed by word.
type Lexicon interface {
	// Synsets returns every sense group containing word. Unknown words yield nil.
	Synsets(word string) []Synset
}

// SynonymProvider answers synonym queries against a Lexicon.
type SynonymProvider struct {
	lex Lexicon
}

// NewSynonymProvider wraps the given lexicon.
func NewSynonymProvider(lex Lexicon) *SynonymProvider {
	return &SynonymProvider{lex: lex}
}

// HasSenses reports whether the lexicon knows at least one sense of word.
func (p *SynonymProvider) HasSenses(word string) bool {
	return len(p.senses(word)) > 0
}

// Synonyms returns every alternate lemma of every sense of word, with
// underscores rendered as spaces. The word itself is never part of the result.
// The slice is sorted so that seeded random picks are reproducible.
func (p *SynonymProvider) Synonyms(word string) []string {
	return synonymsIn(word, p.senses(word))
}

func (p *SynonymProvider) senses(word string) []Synset {
	if p == nil || p.lex == nil {
		return nil
	}
	return p.lex.Synsets(word)
}

// synonymsIn collects the display lemmas of synsets other than word itself.
func synonymsIn(word string, synsets []Synset) []string {
	seen := make(map[string]struct{})
	for _, syn := range synsets {
		for _, lemma := range syn.Lemmas {
			seen[displayLemma(lemma)] = struct{}{}
		}
	}
	delete(seen, word)
	if len(seen) == 0 {
		return nil
	}
	out := make([]string, 0, len(seen))
	for s := range seen {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// MemoryLexicon is an in-memory Lexicon built from explicit synsets.
type MemoryLexicon struct {
	mu      sync.RWMutex
	synsets []Synset
	byKey   map[string][]int
}

// NewMemoryLexicon indexes the given lemma groups, one synset per group.
func NewMemoryLexicon(groups ...[]string) *MemoryLexicon {
	lex := &MemoryLexicon{byKey: make(map[string][]int)}
	for _, g := range groups {
		lex.Add(g...)
	}
	return lex
}

// Add registers a new synset made of the given lemmas.
func (m *MemoryLexicon) Add(lemmas ...string) {
	cleaned := make([]string, 0, len(lemmas))
	for _, l := range lemmas {
		l = strings.TrimSpace(l)
		if l == "" {
			continue
		}
		cleaned = append(cleaned, strings.Join(strings.Fields(l), "_"))
	}
	if len(cleaned) == 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	idx := len(m.synsets)
	m.synsets = append(m.synsets, Synset{
		ID:     fmt.Sprintf("mem.%d", idx),
		Lemmas: cleaned,
	})
	seen := make(map[string]struct{})
	for _, l := range cleaned {
		key := lookupKey(l)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		m.byKey[key] = append(m.byKey[key], idx)
	}
}

// Synsets implements Lexicon.
func (m *MemoryLexicon) Synsets(word string) []Synset {
	key := lookupKey(word)
	if key == "" {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := m.byKey[key]
	if len(ids) == 0 {
		return nil
	}
	out := make([]Synset, len(ids))
	for i, id := range ids {
		out[i] = m.synsets[id]
	}
	return out
}

// Size returns the number of synsets stored.
func (m *MemoryLexicon) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.synsets)
}

// LoadThesaurus reads a thesaurus file with one synset per line, lemmas
// separated by commas. Blank lines and lines starting with # are ignored.
func LoadThesaurus(path string) (*MemoryLexicon, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open thesaurus: %w", err)
	}
	defer f.Close()
	lex := NewMemoryLexicon()
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 2*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lex.Add(strings.Split(line, ",")...)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan thesaurus: %w", err)
	}
	return lex, nil
}

// OpenLexicon builds the lexicon described by cfg.
func OpenLexicon(cfg LexiconConfig) (Lexicon, error) {
	switch strings.ToLower(cfg.Kind) {
	case "", "wordnet":
		wn, err := OpenWordNet(cfg.Path)
		if err != nil {
			return nil, err
		}
		return wn, nil
	case "thesaurus":
		lex, err := LoadThesaurus(cfg.Path)
		if err != nil {
			return nil, err
		}
		return lex, nil
	default:
		return nil, fmt.Errorf("unknown lexicon kind %q", cfg.Kind)
	}
}
