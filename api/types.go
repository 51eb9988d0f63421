package api

// TokenizeRequest is the request passed to [Client.Tokenize].
type TokenizeRequest struct {
	// Content is the text to encode.
	Content string `json:"content"`

	// AllowedSpecial lists special tokens that are matched verbatim in
	// Content. Other special token strings are encoded as plain text.
	AllowedSpecial []string `json:"allowed_special,omitempty"`

	// AllSpecial allows every special token of the model.
	AllSpecial bool `json:"all_special,omitempty"`

	AddBOS bool `json:"add_bos,omitempty"`
	AddEOS bool `json:"add_eos,omitempty"`
}

// TokenizeResponse is the response from [Client.Tokenize].
type TokenizeResponse struct {
	Tokens []int32 `json:"tokens"`
}

// DetokenizeRequest is the request passed to [Client.Detokenize].
type DetokenizeRequest struct {
	Tokens []int32 `json:"tokens"`

	// Stream returns text as newline delimited JSON objects, one per token
	// that completes a UTF-8 sequence.
	Stream *bool `json:"stream,omitempty"`
}

// DetokenizeResponse is the response from [Client.Detokenize]. When
// streaming, Done is set on the final object.
type DetokenizeResponse struct {
	Content string `json:"content"`
	Done    bool   `json:"done,omitempty"`
}

// CountRequest is the request passed to [Client.Count]. Either Content or
// Contents is counted.
type CountRequest struct {
	Content  string   `json:"content,omitempty"`
	Contents []string `json:"contents,omitempty"`

	AllowedSpecial []string `json:"allowed_special,omitempty"`
	AllSpecial     bool     `json:"all_special,omitempty"`
}

// CountResponse is the response from [Client.Count]. Count is the total and
// Counts holds one entry per element of CountRequest.Contents.
type CountResponse struct {
	Count  int   `json:"count"`
	Counts []int `json:"counts,omitempty"`
}

// ShowResponse describes the loaded model.
type ShowResponse struct {
	Type           string   `json:"type"`
	Encoding       string   `json:"encoding,omitempty"`
	VocabularySize int      `json:"vocabulary_size"`
	MergeableSize  int      `json:"mergeable_size"`
	MaxID          int32    `json:"max_id"`
	Merges         int      `json:"merges"`
	Patterns       []string `json:"patterns"`
	SpecialTokens  []string `json:"special_tokens"`
	BOS            []int32  `json:"bos,omitempty"`
	EOS            []int32  `json:"eos,omitempty"`
}
