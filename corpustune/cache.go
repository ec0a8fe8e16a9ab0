package corpustune

import (
	"crypto/sha1"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
)

// TokenCache memoizes encodings in memory and, when dir is set, on disk.
type TokenCache struct {
	dir    string
	logger *log.Logger

	mu  sync.RWMutex
	mem map[string]TokenizedExample

	saveWarn sync.Once
}

// NewTokenCache prepares a cache rooted at dir. An empty dir keeps the cache in memory only.
func NewTokenCache(dir string, logger *log.Logger) (*TokenCache, error) {
	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create cache dir: %w", err)
		}
	}
	return &TokenCache{dir: dir, logger: logger, mem: make(map[string]TokenizedExample)}, nil
}

// CachedTokenizer serves Encode calls from a TokenCache.
type CachedTokenizer struct {
	Tokenizer
	cache *TokenCache
}

// WithCache wraps tok so that repeated texts are encoded once.
func WithCache(tok Tokenizer, cache *TokenCache) Tokenizer {
	if cache == nil {
		return tok
	}
	return &CachedTokenizer{Tokenizer: tok, cache: cache}
}

// Encode implements Tokenizer.
func (c *CachedTokenizer) Encode(text string) (TokenizedExample, error) {
	key := cacheKey(c.Tokenizer.ID(), text)
	if ex, ok := c.cache.get(key); ok {
		ex.Text = text
		return ex, nil
	}
	if ex, err := c.cache.load(key); err == nil {
		c.cache.put(key, ex)
		ex.Text = text
		return ex, nil
	}
	ex, err := c.Tokenizer.Encode(text)
	if err != nil {
		return TokenizedExample{}, err
	}
	c.cache.put(key, ex)
	if err := c.cache.save(key, ex); err != nil {
		c.cache.saveWarn.Do(func() {
			logf(c.cache.logger, "Token cache: could not write to %s, continuing in memory: %v", c.cache.dir, err)
		})
	}
	return ex, nil
}

func cacheKey(tokenizerID, text string) string {
	h := sha1.New()
	_, _ = io.WriteString(h, tokenizerID)
	_, _ = io.WriteString(h, "|")
	_, _ = io.WriteString(h, text)
	return hex.EncodeToString(h.Sum(nil))
}

func (c *TokenCache) get(key string) (TokenizedExample, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ex, ok := c.mem[key]
	if !ok {
		return TokenizedExample{}, false
	}
	return cloneExample(ex), true
}

func (c *TokenCache) put(key string, ex TokenizedExample) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mem[key] = cloneExample(ex)
}

// Disk layout: uint32 length, uint8 hasTypeIDs, then length uint32 values for
// input ids, attention mask and (optionally) type ids, all little endian.
func (c *TokenCache) load(key string) (TokenizedExample, error) {
	if c.dir == "" {
		return TokenizedExample{}, os.ErrNotExist
	}
	path := filepath.Join(c.dir, key+".bin")
	data, err := os.ReadFile(path)
	if err != nil {
		return TokenizedExample{}, err
	}
	if len(data) < 5 {
		return TokenizedExample{}, fmt.Errorf("cache file too small: %s", path)
	}
	length := int(binary.LittleEndian.Uint32(data[:4]))
	hasTypes := data[4] == 1
	data = data[5:]
	arrays := 2
	if hasTypes {
		arrays = 3
	}
	if len(data) != arrays*length*4 {
		return TokenizedExample{}, fmt.Errorf("cache length mismatch: %s", path)
	}
	read := func(i int) []int {
		out := make([]int, length)
		base := i * length * 4
		for j := 0; j < length; j++ {
			out[j] = int(int32(binary.LittleEndian.Uint32(data[base+j*4 : base+(j+1)*4])))
		}
		return out
	}
	ex := TokenizedExample{InputIDs: read(0), AttentionMask: read(1)}
	if hasTypes {
		ex.TypeIDs = read(2)
	}
	return ex, nil
}

func (c *TokenCache) save(key string, ex TokenizedExample) error {
	if c.dir == "" {
		return nil
	}
	if len(ex.AttentionMask) != len(ex.InputIDs) {
		return errors.New("attention mask length differs from input ids")
	}
	hasTypes := len(ex.TypeIDs) == len(ex.InputIDs) && ex.TypeIDs != nil
	arrays := [][]int{ex.InputIDs, ex.AttentionMask}
	if hasTypes {
		arrays = append(arrays, ex.TypeIDs)
	}
	buf := make([]byte, 5+len(arrays)*len(ex.InputIDs)*4)
	binary.LittleEndian.PutUint32(buf[:4], uint32(len(ex.InputIDs)))
	if hasTypes {
		buf[4] = 1
	}
	off := 5
	for _, arr := range arrays {
		for _, v := range arr {
			binary.LittleEndian.PutUint32(buf[off:off+4], uint32(int32(v)))
			off += 4
		}
	}
	path := filepath.Join(c.dir, key+".bin")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func cloneExample(ex TokenizedExample) TokenizedExample {
	out := TokenizedExample{Text: ex.Text}
	out.InputIDs = append([]int(nil), ex.InputIDs...)
	out.AttentionMask = append([]int(nil), ex.AttentionMask...)
	if ex.TypeIDs != nil {
		out.TypeIDs = append([]int(nil), ex.TypeIDs...)
	}
	return out
}
