package decode

import "math"

// session is the mutable state of one generation request: the rolling
// context window, the newly generated tokens, the unique generated-token
// history used for the repetition penalty, and the log-probability trace.
// Each Generate call owns its session exclusively.
type session struct {
	contextLen int

	tokens    []int // rolling context, left-truncated at contextLen
	generated []int // new tokens, in generation order
	history   []int // unique generated ids, for the repetition penalty
	seen      map[int]bool
	logProbs  []float64
}

func newSession(prompt []int, contextLen int) *session {
	s := &session{
		contextLen: contextLen,
		seen:       make(map[int]bool),
	}
	if len(prompt) > contextLen {
		prompt = prompt[len(prompt)-contextLen:]
	}
	s.tokens = append(s.tokens, prompt...)
	return s
}

// append records a newly selected token, growing the context by one and
// truncating from the left when the window is full.
func (s *session) append(tok int) {
	s.tokens = append(s.tokens, tok)
	if len(s.tokens) > s.contextLen {
		s.tokens = s.tokens[len(s.tokens)-s.contextLen:]
	}
	s.generated = append(s.generated, tok)
	if !s.seen[tok] {
		s.seen[tok] = true
		s.history = append(s.history, tok)
	}
}

// penalize pushes every previously generated token away from re-selection:
// non-negative logits are divided by the penalty, negative ones multiplied,
// so the adjustment is away from selection in either sign.
func (s *session) penalize(logits []float32, penalty float32) {
	if penalty == 1 {
		return
	}
	for _, id := range s.history {
		if id < 0 || id >= len(logits) {
			continue
		}
		if logits[id] < 0 {
			logits[id] *= penalty
		} else {
			logits[id] /= penalty
		}
	}
}

// trace records the log-probability of a sampled token.
func (s *session) trace(prob float32) {
	s.logProbs = append(s.logProbs, math.Log(float64(prob)))
}
