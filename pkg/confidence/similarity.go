package confidence

import (
	"strings"
	"sync"
	"unicode"

	"github.com/dgraph-io/ristretto/v2"
)

const shingleSize = 3

// PatternLibrary returns known-good repair snippets for a defect class.
type PatternLibrary interface {
	Patterns(defectClass string) []string
}

// MemoryLibrary is a PatternLibrary held in memory.
type MemoryLibrary struct {
	mu       sync.RWMutex
	patterns map[string][]string
}

func NewMemoryLibrary() *MemoryLibrary {
	return &MemoryLibrary{patterns: make(map[string][]string)}
}

func (l *MemoryLibrary) Add(defectClass string, patterns ...string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.patterns[defectClass] = append(l.patterns[defectClass], patterns...)
}

func (l *MemoryLibrary) Patterns(defectClass string) []string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return append([]string(nil), l.patterns[defectClass]...)
}

type shingleSet map[string]struct{}

// shingler memoises shingle sets of pattern texts.
type shingler struct {
	cache *ristretto.Cache[string, shingleSet]
}

func newShingler(maxCost int64) (*shingler, error) {
	cache, err := ristretto.NewCache(&ristretto.Config[string, shingleSet]{
		NumCounters: maxCost * 10,
		MaxCost:     maxCost,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}

	return &shingler{cache: cache}, nil
}

func (s *shingler) get(text string) shingleSet {
	if s == nil {
		return shingles(text)
	}
	if set, ok := s.cache.Get(text); ok {
		return set
	}

	set := shingles(text)
	s.cache.Set(text, set, int64(len(set))+1)

	return set
}

func (s *shingler) close() {
	if s != nil {
		s.cache.Close()
	}
}

func tokens(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})
}

func shingles(text string) shingleSet {
	toks := tokens(text)
	set := make(shingleSet)
	if len(toks) == 0 {
		return set
	}
	if len(toks) < shingleSize {
		set[strings.Join(toks, " ")] = struct{}{}

		return set
	}
	for i := 0; i+shingleSize <= len(toks); i++ {
		set[strings.Join(toks[i:i+shingleSize], " ")] = struct{}{}
	}

	return set
}

func jaccard(a, b shingleSet) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	inter := 0
	for k := range a {
		if _, ok := b[k]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter

	return float64(inter) / float64(union)
}
