package train

import (
	"github.com/parallax-ml/parallax/internal/tensor"
)

// ReshapeForAccumulation lays a global (batch, seq_len) token tensor out for
// a gradient-accumulation step: the result has shape
// (batch/accumSteps, accumSteps, seq_len), with example j of microbatch i
// taken from global row j*(batch/accumSteps)+i.  The accumulation count must
// evenly divide the batch size.
func ReshapeForAccumulation(tokens *tensor.IntTensor, accumSteps int) (*tensor.IntTensor, error) {
	if accumSteps < 1 {
		return nil, newAccumulationConfig("accumulation steps %d", accumSteps)
	}
	if tokens.Rank() != 2 {
		return nil, newAccumulationConfig("batch rank %d, want 2", tokens.Rank())
	}
	b, ctx := tokens.Dim(0), tokens.Dim(1)
	if b%accumSteps != 0 {
		return nil, newAccumulationConfig("batch size %d not divisible by accumulation steps %d", b, accumSteps)
	}
	micro := b / accumSteps
	out := tensor.NewInt(micro, accumSteps, ctx)
	for i := 0; i < micro; i++ {
		for j := 0; j < accumSteps; j++ {
			src := (j*micro + i) * ctx
			dst := (i*accumSteps + j) * ctx
			copy(out.Data[dst:dst+ctx], tokens.Data[src:src+ctx])
		}
	}
	return out, nil
}
