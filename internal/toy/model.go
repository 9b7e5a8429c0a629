// Package toy provides a minimal deterministic language model used for
// testing and benchmarking the training and decoding cores.  It is
// deliberately simplistic: a token embedding table, mean pooling over the
// cached history, and a projection back to vocab logits.
package toy

import (
	"errors"

	"github.com/parallax-ml/parallax/internal/decode"
	"github.com/parallax-ml/parallax/internal/tensor"
)

// LM is the decoding-side collaborator.  Forward appends each input token's
// embedding to the key/value cache and computes logits from the mean of the
// cached embeddings, so the cache genuinely carries the generation state.
type LM struct {
	Vocab  int
	Hidden int
	CtxLen int

	Emb *tensor.Tensor // [Vocab, Hidden]
	W   *tensor.Tensor // [Hidden, Vocab]
}

// NewLM constructs a model with weights derived deterministically from seed.
func NewLM(vocab, hidden, ctxLen int, seed int64) *LM {
	m := &LM{
		Vocab:  vocab,
		Hidden: hidden,
		CtxLen: ctxLen,
		Emb:    tensor.New(vocab, hidden),
		W:      tensor.New(hidden, vocab),
	}
	tensor.FillRand(m.Emb, seed+11)
	tensor.FillRand(m.W, seed+23)
	return m
}

// Forward implements decode.Model.
func (m *LM) Forward(tokens []int, useCache bool, past *decode.Cache) ([]float32, *decode.Cache, error) {
	if !useCache {
		return nil, nil, errors.New("toy: forward requires cache use")
	}
	if past == nil {
		past = decode.NewCache(1, m.CtxLen)
	}
	for _, tok := range tokens {
		if tok < 0 || tok >= m.Vocab {
			return nil, nil, errors.New("toy: token out of vocabulary")
		}
		row := tensor.FromData([]int{1, m.Hidden}, m.Emb.Data[tok*m.Hidden:(tok+1)*m.Hidden])
		if err := past.Append(0, row, row); err != nil {
			return nil, nil, err
		}
	}

	k, _ := past.Layer(0)
	n := k.Dim(0)
	h := make([]float32, m.Hidden)
	for r := 0; r < n; r++ {
		tensor.Add(h, k.Data[r*m.Hidden:(r+1)*m.Hidden])
	}
	tensor.Scale(h, 1/float32(n))

	logits := make([]float32, m.Vocab)
	for j := 0; j < m.Vocab; j++ {
		var sum float32
		for i := 0; i < m.Hidden; i++ {
			sum += h[i] * m.W.Data[i*m.Vocab+j]
		}
		logits[j] = sum
	}
	return logits, past, nil
}
