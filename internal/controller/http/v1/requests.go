package v1

// TokenizeRequest asks the worker to tokenize a piece of text.
type TokenizeRequest struct {
	Content string `json:"content" binding:"required"`
}

// SlotRequest saves or restores a worker slot's prompt cache.
type SlotRequest struct {
	IDSlot   int    `json:"id_slot"`
	Filepath string `json:"filepath" binding:"required"`
	Action   string `json:"action" binding:"required"`
}

// CompletionRequest carries the full sampling parameter surface understood by
// the workers. The whole struct is forwarded as the job payload; the gateway
// itself only reads Stream.
type CompletionRequest struct {
	Prompt           string            `json:"prompt"`
	IDSlot           int               `json:"id_slot"`
	Temperature      float64           `json:"temperature"`
	TopK             int               `json:"top_k"`
	TopP             float64           `json:"top_p"`
	MinP             float64           `json:"min_p"`
	NPredict         int               `json:"n_predict"`
	NKeep            int               `json:"n_keep"`
	Stream           bool              `json:"stream"`
	Stop             []string          `json:"stop,omitempty"`
	TypicalP         float64           `json:"typical_p"`
	RepeatPenalty    float64           `json:"repeat_penalty"`
	RepeatLastN      int               `json:"repeat_last_n"`
	PenalizeNL       bool              `json:"penalize_nl"`
	PresencePenalty  float64           `json:"presence_penalty"`
	FrequencyPenalty float64           `json:"frequency_penalty"`
	PenaltyPrompt    *string           `json:"penalty_prompt,omitempty"`
	Mirostat         int               `json:"mirostat"`
	MirostatTau      float64           `json:"mirostat_tau"`
	MirostatEta      float64           `json:"mirostat_eta"`
	Grammar          *string           `json:"grammar,omitempty"`
	Seed             int               `json:"seed"`
	IgnoreEOS        bool              `json:"ignore_eos"`
	LogitBias        map[string]string `json:"logit_bias,omitempty"`
	NProbs           int               `json:"n_probs"`
	CachePrompt      bool              `json:"cache_prompt"`
}

// NewCompletionRequest returns a request pre-filled with the worker defaults.
// Binding a request body over it only overrides the fields the caller sent.
func NewCompletionRequest() CompletionRequest {
	return CompletionRequest{
		IDSlot:        -1,
		Temperature:   0.2,
		TopK:          40,
		TopP:          0.9,
		MinP:          0.05,
		NPredict:      -1,
		NKeep:         -1,
		Stream:        true,
		TypicalP:      1.0,
		RepeatPenalty: 1.1,
		RepeatLastN:   64,
		PenalizeNL:    true,
		MirostatTau:   5.0,
		MirostatEta:   0.1,
		CachePrompt:   true,
	}
}
