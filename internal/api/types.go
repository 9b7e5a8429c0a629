package api

// GenerateRequest is the body of POST /v1/generate.  Zero values fall
// back to server defaults; Method defaults to greedy decoding.
type GenerateRequest struct {
	Prompt string `json:"prompt"`
	Steps  int    `json:"steps,omitempty"`
	Seed   *int64 `json:"seed,omitempty"`

	Method            string   `json:"method,omitempty"`
	Temperature       *float32 `json:"temperature,omitempty"`
	TopK              int      `json:"top_k,omitempty"`
	TopP              float32  `json:"top_p,omitempty"`
	Tau               float32  `json:"tau,omitempty"`
	RepetitionPenalty float32  `json:"repetition_penalty,omitempty"`
}

// GenerateResponse mirrors decode.Result plus bookkeeping fields.
type GenerateResponse struct {
	ID        string `json:"id"`
	Object    string `json:"object"`
	CreatedAt int64  `json:"created_at"`

	Prompt   string    `json:"prompt"`
	Text     string    `json:"text"`
	New      string    `json:"new"`
	Tokens   []int     `json:"tokens"`
	Steps    int       `json:"steps"`
	LogProbs []float64 `json:"logprobs,omitempty"`
}

type VersionResponse struct {
	Version   string `json:"version"`
	Commit    string `json:"commit,omitempty"`
	BuildTime string `json:"build_time,omitempty"`
}

type ResponseError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}
