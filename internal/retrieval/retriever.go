package retrieval

import (
	"regexp"
	"sort"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"

	"github.com/triage-intake-server/internal/domain"
)

const (
	defaultTopK      = 3
	defaultCacheSize = 256

	// titleWeight multiplies title-token overlap. A chunk whose title names
	// the complaint must outrank chunks that merely mention it in passing.
	titleWeight = 3
)

var wordPattern = regexp.MustCompile(`[a-z]+`)

// stopwords are excluded from overlap scoring; they match everything and
// nothing.
var stopwords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true, "of": true,
	"to": true, "in": true, "on": true, "for": true, "with": true, "any": true,
	"is": true, "are": true, "whether": true, "about": true, "such": true,
	"as": true, "ask": true, "establish": true, "patient": true,
}

// Retriever scores the built-in guidance corpus against a query assembled
// from the complaint and reported symptoms. Scoring is keyword overlap with
// title matches weighted up; results are cached by query since the corpus is
// static.
type Retriever struct {
	logger      *logrus.Logger
	chunks      []domain.GuidanceChunk
	titleTokens []map[string]bool
	bodyTokens  []map[string]bool
	topK        int
	cache       *lru.Cache[string, []domain.GuidanceChunk]
}

// Config holds retrieval tuning parameters.
type Config struct {
	TopK      int
	CacheSize int
}

// NewRetriever creates a retriever over the built-in corpus.
func NewRetriever(cfg Config, logger *logrus.Logger) (*Retriever, error) {
	if cfg.TopK <= 0 {
		cfg.TopK = defaultTopK
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = defaultCacheSize
	}

	cache, err := lru.New[string, []domain.GuidanceChunk](cfg.CacheSize)
	if err != nil {
		return nil, err
	}

	r := &Retriever{
		logger: logger,
		chunks: guidanceCorpus,
		topK:   cfg.TopK,
		cache:  cache,
	}
	r.titleTokens = make([]map[string]bool, len(r.chunks))
	r.bodyTokens = make([]map[string]bool, len(r.chunks))
	for i, c := range r.chunks {
		r.titleTokens[i] = tokenize(c.SourceTitle)
		r.bodyTokens[i] = tokenize(c.Content)
	}
	return r, nil
}

// RetrieveRelevantChunks returns up to topK guidance chunks with a non-zero
// keyword overlap against the query, best first. An empty result means no
// guidance applies and callers should skip retrieval-driven behavior.
func (r *Retriever) RetrieveRelevantChunks(complaint string, symptomFlags []string, redFlagLabels []string) []domain.GuidanceChunk {
	query := strings.ToLower(strings.Join(append(append([]string{complaint}, symptomFlags...), redFlagLabels...), " "))
	queryTokens := tokenize(query)
	if len(queryTokens) == 0 {
		return nil
	}

	if cached, ok := r.cache.Get(query); ok {
		return cached
	}

	type scored struct {
		idx   int
		score int
	}
	var candidates []scored
	for i := range r.chunks {
		score := overlap(queryTokens, r.bodyTokens[i]) + titleWeight*overlap(queryTokens, r.titleTokens[i])
		if score > 0 {
			candidates = append(candidates, scored{idx: i, score: score})
		}
	}

	sort.SliceStable(candidates, func(a, b int) bool {
		return candidates[a].score > candidates[b].score
	})
	if len(candidates) > r.topK {
		candidates = candidates[:r.topK]
	}

	results := make([]domain.GuidanceChunk, 0, len(candidates))
	for _, c := range candidates {
		results = append(results, r.chunks[c.idx])
	}

	r.cache.Add(query, results)

	r.logger.WithFields(logrus.Fields{
		"query_terms": len(queryTokens),
		"results":     len(results),
	}).Debug("Retrieved guidance chunks")

	return results
}

func tokenize(text string) map[string]bool {
	tokens := map[string]bool{}
	for _, w := range wordPattern.FindAllString(strings.ToLower(text), -1) {
		if len(w) < 3 || stopwords[w] {
			continue
		}
		tokens[w] = true
	}
	return tokens
}

func overlap(query, doc map[string]bool) int {
	score := 0
	for w := range query {
		if doc[w] {
			score++
		}
	}
	return score
}
