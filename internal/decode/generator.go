package decode

import (
	"context"
	"math/rand"
	"strings"

	"github.com/parallax-ml/parallax/internal/tensor"
	"github.com/parallax-ml/parallax/internal/textnorm"
)

// Model is the forward-pass collaborator.  Forward consumes the new input
// tokens (the full prompt on the first call, a single token afterwards when
// a cache is carried), and returns next-token logits plus the updated cache.
// The generator treats both as opaque.
type Model interface {
	Forward(tokens []int, useCache bool, past *Cache) (logits []float32, present *Cache, err error)
}

// Tokenizer is the text collaborator.
type Tokenizer interface {
	Encode(text string) ([]int, error)
	Decode(ids []int) (string, error)
	EOS() int
}

// Request describes one generation call.
type Request struct {
	Prompt string
	Steps  int
	Seed   int64

	Method            string
	Temperature       float32
	TopK              int
	TopP              float32
	Tau               float32
	RepetitionPenalty float32
}

// Result is the outcome of a completed generation.
type Result struct {
	// Text is the prompt joined with the generated span; New is the span
	// alone.
	Text string
	New  string
	// Tokens are the generated token ids, Steps the number of decode steps
	// taken.  LogProbs carries one entry per sampled step; it stays nil for
	// greedy decoding.
	Tokens   []int
	Steps    int
	LogProbs []float64
}

// Generator runs autoregressive decoding against a model and tokenizer.
// Parameters are read-only during decoding; concurrent Generate calls are
// safe as long as the model's Forward is.
type Generator struct {
	Model      Model
	Tokenizer  Tokenizer
	ContextLen int
}

// Generate primes the cache with the prompt and decodes one token per
// step until the budget runs out or the end-of-sequence token appears.
// Configuration errors surface before the first model call.
func (g *Generator) Generate(ctx context.Context, req Request) (*Result, error) {
	policy, err := NewPolicy(req.Method, PolicyConfig{
		TopK: req.TopK,
		TopP: req.TopP,
		Tau:  req.Tau,
	})
	if err != nil {
		return nil, err
	}
	if req.Temperature <= 0 {
		return nil, newInvalidConfig("temperature must be > 0, got %v", req.Temperature)
	}
	if req.Steps < 1 {
		return nil, newInvalidConfig("step budget %d", req.Steps)
	}
	penalty := req.RepetitionPenalty
	if penalty <= 0 {
		penalty = 1
	}

	// Normalize and encode the prompt, keeping the most recent tokens.
	prompt, err := g.Tokenizer.Encode(strings.TrimSpace(textnorm.Standardize(req.Prompt)))
	if err != nil {
		return nil, err
	}
	sess := newSession(prompt, g.ContextLen)
	rng := rand.New(rand.NewSource(req.Seed))
	eos := g.Tokenizer.EOS()

	input := append([]int(nil), sess.tokens...)
	var past *Cache
	steps := req.Steps

	for i := 0; i < req.Steps; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		logits, present, err := g.Model.Forward(input, true, past)
		if err != nil {
			return nil, err
		}
		past = present

		tensor.Scale(logits, 1/req.Temperature)
		sess.penalize(logits, penalty)
		policy.Filter(logits)
		tensor.Softmax(logits)

		next, sampled := policy.Select(logits, rng)
		if sampled {
			sess.trace(logits[next])
		}
		if next == eos {
			steps = i
			break
		}
		sess.append(next)
		input = []int{next}
	}

	text, err := g.Tokenizer.Decode(sess.generated)
	if err != nil {
		return nil, err
	}
	return &Result{
		Text:     req.Prompt + text,
		New:      text,
		Tokens:   sess.generated,
		Steps:    steps,
		LogProbs: sess.logProbs,
	}, nil
}
