package corpustune

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

// Part-of-speech tags as used by the WordNet database files.
const (
	POSNoun      byte = 'n'
	POSVerb      byte = 'v'
	POSAdjective byte = 'a'
	POSAdverb    byte = 'r'
	posSatellite byte = 's'
)

var wordnetPOS = []struct {
	tag  byte
	name string
}{
	{POSNoun, "noun"},
	{POSVerb, "verb"},
	{POSAdjective, "adj"},
	{POSAdverb, "adv"},
}

type substitution struct {
	suffix  string
	replace string
}

// Detachment rules applied when a form is not listed in the exception files.
var morphologicalSubstitutions = map[byte][]substitution{
	POSNoun: {
		{"s", ""}, {"ses", "s"}, {"ves", "f"}, {"xes", "x"}, {"zes", "z"},
		{"ches", "ch"}, {"shes", "sh"}, {"men", "man"}, {"ies", "y"},
	},
	POSVerb: {
		{"s", ""}, {"ies", "y"}, {"es", "e"}, {"es", ""},
		{"ed", "e"}, {"ed", ""}, {"ing", "e"}, {"ing", ""},
	},
	POSAdjective: {
		{"er", ""}, {"est", ""}, {"er", "e"}, {"est", "e"},
	},
	POSAdverb: nil,
}

type synsetKey struct {
	pos    byte
	offset int64
}

// WordNet is a Lexicon backed by a WordNet database directory (index.*, data.*, *.exc).
// Index and exception files are loaded eagerly; synset lines are read on demand.
type WordNet struct {
	dir        string
	index      map[string]map[byte][]int64
	exceptions map[byte]map[string][]string
	data       map[byte]*os.File

	mu    sync.RWMutex
	cache map[synsetKey]Synset
}

// OpenWordNet loads the WordNet database found in dir.
func OpenWordNet(dir string) (*WordNet, error) {
	wn := &WordNet{
		dir:        dir,
		index:      make(map[string]map[byte][]int64),
		exceptions: make(map[byte]map[string][]string),
		data:       make(map[byte]*os.File),
		cache:      make(map[synsetKey]Synset),
	}
	loaded := 0
	for _, p := range wordnetPOS {
		idxPath := filepath.Join(dir, "index."+p.name)
		dataPath := filepath.Join(dir, "data."+p.name)
		if _, err := os.Stat(idxPath); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := wn.loadIndex(idxPath, p.tag); err != nil {
			wn.Close()
			return nil, err
		}
		f, err := os.Open(dataPath)
		if err != nil {
			wn.Close()
			return nil, fmt.Errorf("open wordnet data: %w", err)
		}
		wn.data[p.tag] = f
		if err := wn.loadExceptions(filepath.Join(dir, p.name+".exc"), p.tag); err != nil {
			wn.Close()
			return nil, err
		}
		loaded++
	}
	if loaded == 0 {
		return nil, fmt.Errorf("open wordnet %s: %w", dir, os.ErrNotExist)
	}
	return wn, nil
}

// Close releases the open data files.
func (wn *WordNet) Close() error {
	if wn == nil {
		return nil
	}
	var errs []error
	for tag, f := range wn.data {
		if err := f.Close(); err != nil {
			errs = append(errs, err)
		}
		delete(wn.data, tag)
	}
	return errors.Join(errs...)
}

// LemmaCount returns the number of distinct lemmas in the index.
func (wn *WordNet) LemmaCount() int {
	return len(wn.index)
}

// Synsets implements Lexicon. The word is lower-cased and reduced to its base
// forms for every part of speech before the index is consulted.
func (wn *WordNet) Synsets(word string) []Synset {
	key := lookupKey(word)
	if key == "" {
		return nil
	}
	var out []Synset
	for _, p := range wordnetPOS {
		for _, form := range wn.morphy(key, p.tag) {
			for _, off := range wn.index[form][p.tag] {
				syn, err := wn.synsetAt(p.tag, off)
				if err != nil {
					continue
				}
				out = append(out, syn)
			}
		}
	}
	return out
}

// morphy returns the base forms of form that exist in the index for pos.
func (wn *WordNet) morphy(form string, pos byte) []string {
	if exc, ok := wn.exceptions[pos][form]; ok {
		return wn.filterForms(append([]string{form}, exc...), pos)
	}
	forms := []string{form}
	for _, sub := range morphologicalSubstitutions[pos] {
		if strings.HasSuffix(form, sub.suffix) {
			forms = append(forms, form[:len(form)-len(sub.suffix)]+sub.replace)
		}
	}
	return wn.filterForms(forms, pos)
}

func (wn *WordNet) filterForms(forms []string, pos byte) []string {
	out := make([]string, 0, len(forms))
	seen := make(map[string]struct{}, len(forms))
	for _, f := range forms {
		if _, ok := wn.index[f][pos]; !ok {
			continue
		}
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}

func (wn *WordNet) synsetAt(pos byte, offset int64) (Synset, error) {
	key := synsetKey{pos: pos, offset: offset}
	wn.mu.RLock()
	syn, ok := wn.cache[key]
	wn.mu.RUnlock()
	if ok {
		return syn, nil
	}
	f := wn.data[pos]
	if f == nil {
		return Synset{}, fmt.Errorf("no data file for pos %c", pos)
	}
	r := bufio.NewReader(io.NewSectionReader(f, offset, math.MaxInt64-offset))
	line, err := r.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return Synset{}, fmt.Errorf("read synset %c.%08d: %w", pos, offset, err)
	}
	syn, err = parseDataLine(line)
	if err != nil {
		return Synset{}, fmt.Errorf("parse synset %c.%08d: %w", pos, offset, err)
	}
	wn.mu.Lock()
	wn.cache[key] = syn
	wn.mu.Unlock()
	return syn, nil
}

func (wn *WordNet) loadIndex(path string, pos byte) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open wordnet index: %w", err)
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		// License header lines start with a space.
		if line == "" || line[0] == ' ' {
			continue
		}
		lemma, offsets, err := parseIndexLine(line)
		if err != nil {
			return fmt.Errorf("parse %s: %w", filepath.Base(path), err)
		}
		byPOS := wn.index[lemma]
		if byPOS == nil {
			byPOS = make(map[byte][]int64, 1)
			wn.index[lemma] = byPOS
		}
		byPOS[pos] = offsets
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scan %s: %w", filepath.Base(path), err)
	}
	return nil
}

func (wn *WordNet) loadExceptions(path string, pos byte) error {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("open wordnet exceptions: %w", err)
	}
	defer f.Close()
	m := make(map[string][]string)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}
		m[fields[0]] = append(m[fields[0]], fields[1:]...)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scan %s: %w", filepath.Base(path), err)
	}
	wn.exceptions[pos] = m
	return nil
}

// parseIndexLine reads "lemma pos synset_cnt p_cnt [ptr...] sense_cnt tagsense_cnt offset...".
func parseIndexLine(line string) (string, []int64, error) {
	fields := strings.Fields(line)
	if len(fields) < 4 {
		return "", nil, fmt.Errorf("short index line %q", line)
	}
	n, err := strconv.Atoi(fields[2])
	if err != nil {
		return "", nil, fmt.Errorf("synset count in %q: %w", line, err)
	}
	if n <= 0 || n > len(fields)-4 {
		return "", nil, fmt.Errorf("bad synset count in %q", line)
	}
	offsets := make([]int64, 0, n)
	for _, raw := range fields[len(fields)-n:] {
		off, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return "", nil, fmt.Errorf("offset in %q: %w", line, err)
		}
		offsets = append(offsets, off)
	}
	return fields[0], offsets, nil
}

// parseDataLine reads "offset lex_filenum ss_type w_cnt word lex_id [word lex_id...] ... | gloss".
func parseDataLine(line string) (Synset, error) {
	if i := strings.IndexByte(line, '|'); i >= 0 {
		line = line[:i]
	}
	fields := strings.Fields(line)
	if len(fields) < 4 {
		return Synset{}, fmt.Errorf("short data line")
	}
	if len(fields[2]) != 1 {
		return Synset{}, fmt.Errorf("bad synset type %q", fields[2])
	}
	pos := fields[2][0]
	if pos == posSatellite {
		pos = POSAdjective
	}
	count, err := strconv.ParseInt(fields[3], 16, 32)
	if err != nil {
		return Synset{}, fmt.Errorf("word count: %w", err)
	}
	if 4+2*int(count) > len(fields) {
		return Synset{}, fmt.Errorf("word count %d exceeds line", count)
	}
	lemmas := make([]string, 0, count)
	for i := 0; i < int(count); i++ {
		lemmas = append(lemmas, stripAdjectiveMarker(fields[4+2*i]))
	}
	return Synset{
		ID:     fmt.Sprintf("%c.%s", pos, fields[0]),
		POS:    pos,
		Lemmas: lemmas,
	}, nil
}

// stripAdjectiveMarker drops syntactic markers such as "(a)", "(p)" or "(ip)".
func stripAdjectiveMarker(lemma string) string {
	if strings.HasSuffix(lemma, ")") {
		if i := strings.IndexByte(lemma, '('); i > 0 {
			return lemma[:i]
		}
	}
	return lemma
}
