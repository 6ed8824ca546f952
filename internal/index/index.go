// Package index implements the lexical retrieval index: sparse TF-IDF
// vectors over text chunks with cosine-similarity ranking.
package index

import (
	"math"
	"regexp"
	"sort"
	"strings"
)

var tokenPattern = regexp.MustCompile(`\p{L}+(?:['’]\p{L}+)*`)

// Hit is one ranked result from Query. Chunk is the position of the
// chunk in the slice the index was built from.
type Hit struct {
	Chunk int
	Score float64
}

// Index is an immutable snapshot over one chunk set. A nil *Index is
// the empty index: Query on it returns no hits. Rebuilding after the
// chunk set changes produces a fresh Index; callers swap the handle
// atomically rather than mutating in place.
type Index struct {
	vocabulary map[string]int
	idf        []float64
	vectors    []sparseVec
}

type sparseVec map[int]float64

// Build constructs the index over the given chunk texts. An empty
// chunk set, or one whose vocabulary collapses to nothing after
// stopword removal, yields nil.
func Build(chunks []string) *Index {
	if len(chunks) == 0 {
		return nil
	}

	df := make(map[string]int)
	tokenized := make([][]string, len(chunks))
	for i, text := range chunks {
		tokens := tokenize(text)
		tokenized[i] = tokens
		seen := make(map[string]struct{}, len(tokens))
		for _, tok := range tokens {
			if _, ok := seen[tok]; ok {
				continue
			}
			seen[tok] = struct{}{}
			df[tok]++
		}
	}
	if len(df) == 0 {
		return nil
	}

	// Stable vocabulary ordering so identical corpora index identically.
	terms := make([]string, 0, len(df))
	for term := range df {
		terms = append(terms, term)
	}
	sort.Strings(terms)

	idx := &Index{
		vocabulary: make(map[string]int, len(terms)),
		idf:        make([]float64, len(terms)),
		vectors:    make([]sparseVec, len(chunks)),
	}
	n := float64(len(chunks))
	for i, term := range terms {
		idx.vocabulary[term] = i
		// Smoothed IDF
		idx.idf[i] = math.Log((1+n)/(1+float64(df[term]))) + 1.0
	}
	for i, tokens := range tokenized {
		idx.vectors[i] = idx.vectorize(tokens)
	}
	return idx
}

// Query ranks chunks by cosine similarity against text, descending,
// ties kept in original chunk order. At most topK hits are returned.
func (ix *Index) Query(text string, topK int) []Hit {
	if ix == nil || topK <= 0 {
		return nil
	}
	qv := ix.vectorize(tokenize(text))

	hits := make([]Hit, len(ix.vectors))
	for i, v := range ix.vectors {
		hits[i] = Hit{Chunk: i, Score: dot(qv, v)}
	}
	sort.SliceStable(hits, func(a, b int) bool {
		return hits[a].Score > hits[b].Score
	})
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits
}

// vectorize builds an L2-normalised TF-IDF vector restricted to the
// index vocabulary. Unknown terms are dropped.
func (ix *Index) vectorize(tokens []string) sparseVec {
	tf := make(map[int]int)
	total := 0
	for _, tok := range tokens {
		if pos, ok := ix.vocabulary[tok]; ok {
			tf[pos]++
			total++
		}
	}
	vec := make(sparseVec, len(tf))
	if total == 0 {
		return vec
	}
	norm := 0.0
	for pos, count := range tf {
		w := float64(count) / float64(total) * ix.idf[pos]
		vec[pos] = w
		norm += w * w
	}
	norm = math.Sqrt(norm)
	if norm > 0 {
		for pos := range vec {
			vec[pos] /= norm
		}
	}
	return vec
}

func dot(a, b sparseVec) float64 {
	if len(b) < len(a) {
		a, b = b, a
	}
	sum := 0.0
	for pos, av := range a {
		if bv, ok := b[pos]; ok {
			sum += av * bv
		}
	}
	return sum
}

func tokenize(text string) []string {
	raw := tokenPattern.FindAllString(strings.ToLower(text), -1)
	out := raw[:0]
	for _, t := range raw {
		if _, isStop := stopwords[t]; isStop {
			continue
		}
		out = append(out, t)
	}
	return out
}
