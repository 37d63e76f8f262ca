package knowledge

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/aretw0/threadline/internal/logging"
	"github.com/aretw0/threadline/pkg/domain"
	"github.com/aretw0/threadline/pkg/ports"
)

// DefaultTopK is the number of documents returned per retrieval.
const DefaultTopK = 3

// Embedder turns texts into vectors. gemini.Client satisfies it.
type Embedder interface {
	Embed(ctx context.Context, model string, texts []string) ([][]float32, error)
}

// Options is decoded from the retrieval capability options map.
type Options struct {
	Corpus         string `mapstructure:"corpus"`
	TopK           int    `mapstructure:"top_k"`
	EmbeddingModel string `mapstructure:"embedding_model"`
	// MinScore drops lexical matches below this score.
	MinScore float64 `mapstructure:"min_score"`
}

// Retriever ranks corpus documents against a query. With an Embedder it uses
// cosine similarity and falls back to lexical overlap when embedding fails.
type Retriever struct {
	corpus   *Corpus
	embedder Embedder
	opts     Options
	logger   *slog.Logger

	mu      sync.Mutex
	vectors map[Section][][]float32
}

// RetrieverOption configures a Retriever.
type RetrieverOption func(*Retriever)

// WithEmbedder enables embedding ranking.
func WithEmbedder(e Embedder) RetrieverOption {
	return func(r *Retriever) {
		r.embedder = e
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) RetrieverOption {
	return func(r *Retriever) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewRetriever creates a retriever over a parsed corpus.
func NewRetriever(c *Corpus, opts Options, ropts ...RetrieverOption) *Retriever {
	if opts.TopK <= 0 {
		opts.TopK = DefaultTopK
	}
	r := &Retriever{
		corpus:  c,
		opts:    opts,
		logger:  logging.NewNop(),
		vectors: make(map[Section][][]float32),
	}
	for _, o := range ropts {
		o(r)
	}
	return r
}

// Capability returns the ports.Capability serving one section.
func (r *Retriever) Capability(s Section) ports.Capability {
	return ports.CapabilityFunc(func(ctx context.Context, req domain.Request) (string, error) {
		docs, err := r.Retrieve(ctx, s, req.Query)
		if err != nil {
			return "", err
		}
		return format(docs), nil
	})
}

// Retrieve returns at most TopK documents of section s ranked against query.
// An empty result is not an error.
func (r *Retriever) Retrieve(ctx context.Context, s Section, query string) ([]Document, error) {
	docs := r.corpus.In(s)
	if len(docs) == 0 {
		return nil, nil
	}
	if r.embedder != nil {
		ranked, err := r.rankByEmbedding(ctx, s, docs, query)
		if err == nil {
			return ranked, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		r.logger.Warn("Embedding ranking failed, using lexical ranking", "section", s, "err", err)
	}
	return r.rankLexical(docs, query), nil
}

type scored struct {
	doc   Document
	score float64
}

func top(items []scored, k int) []Document {
	sort.SliceStable(items, func(i, j int) bool { return items[i].score > items[j].score })
	out := make([]Document, 0, k)
	for _, it := range items {
		if len(out) == k {
			break
		}
		out = append(out, it.doc)
	}
	return out
}

func (r *Retriever) rankByEmbedding(ctx context.Context, s Section, docs []Document, query string) ([]Document, error) {
	vecs, err := r.sectionVectors(ctx, s, docs)
	if err != nil {
		return nil, err
	}
	qv, err := r.embedder.Embed(ctx, r.opts.EmbeddingModel, []string{query})
	if err != nil {
		return nil, err
	}
	if len(qv) != 1 {
		return nil, fmt.Errorf("knowledge: expected one query vector, got %d", len(qv))
	}
	items := make([]scored, len(docs))
	for i, d := range docs {
		items[i] = scored{doc: d, score: cosine(qv[0], vecs[i])}
	}
	return top(items, r.opts.TopK), nil
}

// sectionVectors embeds a section once and caches the result.
func (r *Retriever) sectionVectors(ctx context.Context, s Section, docs []Document) ([][]float32, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if v, ok := r.vectors[s]; ok {
		return v, nil
	}
	texts := make([]string, len(docs))
	for i, d := range docs {
		texts[i] = d.content()
	}
	v, err := r.embedder.Embed(ctx, r.opts.EmbeddingModel, texts)
	if err != nil {
		return nil, err
	}
	if len(v) != len(docs) {
		return nil, fmt.Errorf("knowledge: expected %d vectors, got %d", len(docs), len(v))
	}
	r.vectors[s] = v
	return v, nil
}

func (r *Retriever) rankLexical(docs []Document, query string) []Document {
	terms := tokenize(query)
	if len(terms) == 0 {
		return nil
	}
	items := make([]scored, 0, len(docs))
	for _, d := range docs {
		score := overlap(terms, tokenize(d.content()+" "+strings.Join(d.Tags, " ")))
		if score <= 0 || score < r.opts.MinScore {
			continue
		}
		items = append(items, scored{doc: d, score: score})
	}
	return top(items, r.opts.TopK)
}

var stopwords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "about": true, "can": true,
	"do": true, "does": true, "for": true, "how": true, "i": true, "in": true,
	"is": true, "it": true, "me": true, "of": true, "on": true, "or": true,
	"tell": true, "the": true, "to": true, "what": true, "when": true,
	"where": true, "which": true, "who": true, "with": true, "you": true,
}

func tokenize(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if !stopwords[f] {
			out = append(out, f)
		}
	}
	return out
}

// overlap is the fraction of query terms found in the document, weighted
// by a dampened document term frequency.
func overlap(query, doc []string) float64 {
	tf := make(map[string]int, len(doc))
	for _, t := range doc {
		tf[t]++
	}
	var score float64
	for _, q := range query {
		if n := tf[q]; n > 0 {
			score += 1 + math.Log(float64(n))
		}
	}
	return score / float64(len(query))
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func format(docs []Document) string {
	parts := make([]string, 0, len(docs))
	for _, d := range docs {
		parts = append(parts, strings.TrimSpace(d.content()))
	}
	return strings.Join(parts, "\n\n")
}
