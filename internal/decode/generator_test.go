package decode

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/parallax-ml/parallax/internal/tensor"
)

const (
	stubVocab = 256
	stubEOS   = 255
)

// stubModel predicts (last token + 1) % vocab deterministically.  It keeps
// its token history in the key/value cache, so cache plumbing is on the
// generation hot path: the "last token" is read back from the cache, not
// from the input slice.
type stubModel struct {
	eosAtStep int // emit EOS as the top logit on this forward call, -1 to disable
	calls     int
}

func (m *stubModel) Forward(tokens []int, useCache bool, past *Cache) ([]float32, *Cache, error) {
	if !useCache {
		return nil, nil, errors.New("stub requires cache use")
	}
	if past == nil {
		past = NewCache(1, 64)
	}
	for _, tok := range tokens {
		row := tensor.FromData([]int{1, 1}, []float32{float32(tok)})
		if err := past.Append(0, row, row); err != nil {
			return nil, nil, err
		}
	}
	k, _ := past.Layer(0)
	last := int(k.Data[k.Size()-1])

	logits := make([]float32, stubVocab)
	target := (last + 1) % stubVocab
	if m.calls == m.eosAtStep {
		target = stubEOS
	}
	m.calls++
	logits[target] = 8
	return logits, past, nil
}

// byteTokenizer maps bytes to token ids one-to-one.
type byteTokenizer struct{}

func (byteTokenizer) Encode(text string) ([]int, error) {
	ids := make([]int, len(text))
	for i := 0; i < len(text); i++ {
		ids[i] = int(text[i])
	}
	return ids, nil
}

func (byteTokenizer) Decode(ids []int) (string, error) {
	b := make([]byte, len(ids))
	for i, id := range ids {
		if id < 0 || id > 255 {
			return "", fmt.Errorf("token %d out of byte range", id)
		}
		b[i] = byte(id)
	}
	return string(b), nil
}

func (byteTokenizer) EOS() int { return stubEOS }

func newTestGenerator(eosAt int) *Generator {
	return &Generator{
		Model:      &stubModel{eosAtStep: eosAt},
		Tokenizer:  byteTokenizer{},
		ContextLen: 32,
	}
}

// TestGreedyDeterministic: a fixed prompt under greedy decoding yields the
// same specific continuation on every run.
func TestGreedyDeterministic(t *testing.T) {
	req := Request{
		Prompt:      "Hello",
		Steps:       5,
		Method:      MethodGreedy,
		Temperature: 1.0,
	}
	var first *Result
	for run := 0; run < 2; run++ {
		res, err := newTestGenerator(-1).Generate(context.Background(), req)
		if err != nil {
			t.Fatal(err)
		}
		// 'o' is 111; the stub counts upward from there.
		want := []int{112, 113, 114, 115, 116}
		if len(res.Tokens) != len(want) {
			t.Fatalf("generated %d tokens, want %d", len(res.Tokens), len(want))
		}
		for i := range want {
			if res.Tokens[i] != want[i] {
				t.Fatalf("token[%d] = %d, want %d", i, res.Tokens[i], want[i])
			}
		}
		if res.Steps != 5 {
			t.Fatalf("steps = %d, want 5", res.Steps)
		}
		if res.New != "pqrst" {
			t.Fatalf("new span = %q, want %q", res.New, "pqrst")
		}
		if res.Text != "Hello"+"pqrst" {
			t.Fatalf("full text = %q", res.Text)
		}
		if res.LogProbs != nil {
			t.Fatal("greedy decoding produced a log-probability trace")
		}
		if run == 0 {
			first = res
		} else if res.Text != first.Text {
			t.Fatal("greedy decoding is not reproducible")
		}
	}
}

// TestEOSStopsEarly: the stub emits end-of-sequence on its fourth forward
// call, so exactly three tokens come back and the step count is three.
func TestEOSStopsEarly(t *testing.T) {
	res, err := newTestGenerator(3).Generate(context.Background(), Request{
		Prompt:      "Hello",
		Steps:       5,
		Method:      MethodGreedy,
		Temperature: 1.0,
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Steps != 3 {
		t.Fatalf("steps = %d, want 3", res.Steps)
	}
	if len(res.Tokens) != 3 {
		t.Fatalf("generated %d tokens, want 3 and no padding", len(res.Tokens))
	}
	for _, tok := range res.Tokens {
		if tok == stubEOS {
			t.Fatal("end-of-sequence token leaked into the output")
		}
	}
}

// TestSampledTraceLength: sampled policies record one log-probability per
// sampled step.
func TestSampledTraceLength(t *testing.T) {
	res, err := newTestGenerator(-1).Generate(context.Background(), Request{
		Prompt:      "Hi",
		Steps:       4,
		Method:      MethodTopK,
		TopK:        4,
		Temperature: 1.0,
		Seed:        11,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.LogProbs) != res.Steps {
		t.Fatalf("trace has %d entries for %d steps", len(res.LogProbs), res.Steps)
	}
	for i, lp := range res.LogProbs {
		if lp > 0 {
			t.Fatalf("logprob[%d] = %v > 0", i, lp)
		}
	}
}

func TestInvalidRequests(t *testing.T) {
	g := newTestGenerator(-1)
	cases := []Request{
		{Prompt: "x", Steps: 5, Method: "beam", Temperature: 1},
		{Prompt: "x", Steps: 5, Method: MethodGreedy, Temperature: 0},
		{Prompt: "x", Steps: 5, Method: MethodGreedy, Temperature: -0.5},
		{Prompt: "x", Steps: 0, Method: MethodGreedy, Temperature: 1},
	}
	for i, req := range cases {
		if _, err := g.Generate(context.Background(), req); !errors.Is(err, ErrInvalidSamplingConfig) {
			t.Fatalf("case %d: err = %v, want ErrInvalidSamplingConfig", i, err)
		}
	}
}

func TestGenerateHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newTestGenerator(-1).Generate(ctx, Request{
		Prompt:      "Hello",
		Steps:       5,
		Method:      MethodGreedy,
		Temperature: 1.0,
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

// TestRepetitionPenaltyLowersRepeatProbability: holding everything else
// fixed, a penalty above 1 strictly decreases the selection probability of
// an already generated token.
func TestRepetitionPenaltyLowersRepeatProbability(t *testing.T) {
	base := []float32{2, 1.5, 0.5, -0.5}
	repeat := 0

	plain := append([]float32(nil), base...)
	tensor.Softmax(plain)

	sess := newSession(nil, 16)
	sess.append(repeat)
	penalized := append([]float32(nil), base...)
	sess.penalize(penalized, 1.5)
	tensor.Softmax(penalized)

	if penalized[repeat] >= plain[repeat] {
		t.Fatalf("penalized prob %v is not below unpenalized %v", penalized[repeat], plain[repeat])
	}
}

// TestRepetitionPenaltySignAware: negative logits move further negative
// under penalty rather than toward zero.
func TestRepetitionPenaltySignAware(t *testing.T) {
	sess := newSession(nil, 16)
	sess.append(0)
	sess.append(1)
	logits := []float32{-2, 2, 0}
	sess.penalize(logits, 2)
	if logits[0] != -4 {
		t.Fatalf("negative logit penalized to %v, want -4", logits[0])
	}
	if logits[1] != 1 {
		t.Fatalf("positive logit penalized to %v, want 1", logits[1])
	}
	if logits[2] != 0 {
		t.Fatalf("unseen token logit moved to %v", logits[2])
	}
}

// TestPromptLeftTruncation: a prompt longer than the context window keeps
// only its most recent tokens.
func TestPromptLeftTruncation(t *testing.T) {
	g := newTestGenerator(-1)
	g.ContextLen = 4
	res, err := g.Generate(context.Background(), Request{
		Prompt:      "abcdefgh",
		Steps:       1,
		Method:      MethodGreedy,
		Temperature: 1.0,
	})
	if err != nil {
		t.Fatal(err)
	}
	// Window holds "efgh"; the stub continues from 'h'.
	if res.Tokens[0] != int('h')+1 {
		t.Fatalf("first generated token %d, want %d", res.Tokens[0], int('h')+1)
	}
}
