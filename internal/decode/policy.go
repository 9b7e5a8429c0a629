package decode

import (
	"math"
	"math/rand"
	"sort"

	"github.com/parallax-ml/parallax/internal/tensor"
)

// Sampling method names.  The set is closed: anything else is an invalid
// configuration.
const (
	MethodGreedy  = "greedy"
	MethodNucleus = "nucleus"
	MethodTopK    = "topk"
	MethodTypical = "typical"
)

var negInf = float32(math.Inf(-1))

// Policy is one logit-filtering strategy.  Filter masks logits in place;
// Select picks the next token from the filtered probability distribution and
// reports whether the pick was sampled (and therefore carries a
// log-probability) or deterministic.
type Policy interface {
	Name() string
	Filter(logits []float32)
	Select(probs []float32, rng *rand.Rand) (next int, sampled bool)
}

// PolicyConfig carries the per-method parameters.  Only the field matching
// the method is consulted.
type PolicyConfig struct {
	TopK    int
	TopP    float32
	Tau     float32
	MinKeep int // typical sampling floor; defaults to 1
}

// NewPolicy resolves a method name to its policy, validating the relevant
// parameters up front so that a bad request fails before any model call.
func NewPolicy(method string, cfg PolicyConfig) (Policy, error) {
	minKeep := cfg.MinKeep
	if minKeep < 1 {
		minKeep = 1
	}
	switch method {
	case MethodGreedy:
		return greedyPolicy{}, nil
	case MethodTopK:
		if cfg.TopK < 1 {
			return nil, newInvalidConfig("topk requires k >= 1, got %d", cfg.TopK)
		}
		return topKPolicy{k: cfg.TopK}, nil
	case MethodNucleus:
		if cfg.TopP <= 0 || cfg.TopP > 1 {
			return nil, newInvalidConfig("nucleus requires 0 < top_p <= 1, got %v", cfg.TopP)
		}
		return nucleusPolicy{p: cfg.TopP}, nil
	case MethodTypical:
		if cfg.Tau <= 0 || cfg.Tau > 1 {
			return nil, newInvalidConfig("typical requires 0 < tau <= 1, got %v", cfg.Tau)
		}
		return typicalPolicy{mass: cfg.Tau, minKeep: minKeep}, nil
	case "":
		return nil, newInvalidConfig("no sampling method")
	default:
		return nil, newInvalidConfig("unknown sampling method %q", method)
	}
}

// greedyPolicy applies no filter and always takes the arg-max.
type greedyPolicy struct{}

func (greedyPolicy) Name() string       { return MethodGreedy }
func (greedyPolicy) Filter(_ []float32) {}
func (greedyPolicy) Select(probs []float32, _ *rand.Rand) (int, bool) {
	return tensor.Argmax(probs), false
}

// topKPolicy keeps only the k highest logits.  Ties with the k-th value
// survive the cut.
type topKPolicy struct {
	k int
}

func (p topKPolicy) Name() string { return MethodTopK }

func (p topKPolicy) Filter(logits []float32) {
	if p.k >= len(logits) {
		return
	}
	kth := kthLargest(logits, p.k)
	for i, v := range logits {
		if v < kth {
			logits[i] = negInf
		}
	}
}

func (p topKPolicy) Select(probs []float32, rng *rand.Rand) (int, bool) {
	return multinomial(probs, rng), true
}

// nucleusPolicy keeps the smallest probability-sorted prefix whose
// cumulative probability meets the threshold.  The removal mask is shifted
// right by one so the token that crosses the threshold is kept, and the
// highest-probability token always survives.
type nucleusPolicy struct {
	p float32
}

func (p nucleusPolicy) Name() string { return MethodNucleus }

func (p nucleusPolicy) Filter(logits []float32) {
	order := argsortDesc(logits)
	probs := softmaxOf(logits, order)

	removePrev := false // shifted mask: slot i takes slot i-1's raw flag
	var cum float64
	for i, idx := range order {
		if removePrev {
			logits[idx] = negInf
			continue
		}
		cum += float64(probs[i])
		removePrev = float32(cum) > p.p
	}
}

func (p nucleusPolicy) Select(probs []float32, rng *rand.Rand) (int, bool) {
	return multinomial(probs, rng), true
}

// typicalPolicy keeps tokens whose surprisal is closest to the
// distribution's entropy, up to cumulative mass tau.  The token sitting on
// the mass boundary is kept: a candidate is removed only when its distance
// score strictly exceeds the score at the boundary rank.
type typicalPolicy struct {
	mass    float32
	minKeep int
}

func (p typicalPolicy) Name() string { return MethodTypical }

func (p typicalPolicy) Filter(logits []float32) {
	n := len(logits)
	if n == 0 {
		return
	}
	logp := make([]float32, n)
	tensor.LogSoftmax(logp, logits)

	var ent float64
	for _, lp := range logp {
		pr := math.Exp(float64(lp))
		if pr > 0 {
			ent -= pr * float64(lp)
		}
	}

	score := make([]float32, n)
	for i, lp := range logp {
		score[i] = float32(math.Abs(-float64(lp) - ent))
	}

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return score[order[a]] < score[order[b]] })

	probs := softmaxOf(logits, order)
	var cum float64
	lastInd := 0
	for i := range order {
		cum += float64(probs[i])
		if float32(cum) < p.mass {
			lastInd = i + 1
		}
	}
	// Clamp to the final rank so a mass of 1 filters nothing.
	if lastInd > n-1 {
		lastInd = n - 1
	}
	threshold := score[order[lastInd]]

	for rank, idx := range order {
		if rank < p.minKeep {
			continue
		}
		if score[idx] > threshold {
			logits[idx] = negInf
		}
	}
}

func (p typicalPolicy) Select(probs []float32, rng *rand.Rand) (int, bool) {
	return multinomial(probs, rng), true
}

// multinomial draws an index from a normalised probability distribution.
func multinomial(probs []float32, rng *rand.Rand) int {
	r := rng.Float64()
	var c float64
	last := 0
	for i, p := range probs {
		if p <= 0 {
			continue
		}
		c += float64(p)
		last = i
		if r <= c {
			return i
		}
	}
	return last
}

// argsortDesc returns the indices of x sorted by value, largest first.
// Ordering among equal values is stable.
func argsortDesc(x []float32) []int {
	order := make([]int, len(x))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return x[order[a]] > x[order[b]] })
	return order
}

// softmaxOf computes softmax over x visited in the given order.  The result
// is indexed by rank, not by original position.
func softmaxOf(x []float32, order []int) []float32 {
	out := make([]float32, len(order))
	for i, idx := range order {
		out[i] = x[idx]
	}
	tensor.Softmax(out)
	return out
}

// kthLargest returns the k-th largest value of x (1-based).  O(V*K) with a
// small insertion buffer, which is fine for the k values in use.
func kthLargest(x []float32, k int) float32 {
	top := make([]float32, 0, k)
	for _, v := range x {
		pos := len(top)
		for pos > 0 && top[pos-1] < v {
			pos--
		}
		if pos >= k {
			continue
		}
		top = append(top, 0)
		copy(top[pos+1:], top[pos:])
		top[pos] = v
		if len(top) > k {
			top = top[:k]
		}
	}
	return top[len(top)-1]
}
