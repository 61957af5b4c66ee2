// Package completion is a client for the legacy Copilot text-completion endpoint
// (/v1/engines/<engine>/completions) used to synthesize function signatures and bodies.
package completion

// Request is one call to the completion endpoint.
type Request struct {
	// Path is the logical file label sent in the prompt header, e.g. "fizzbuzz.py".
	Path string
	// Language is sent in the prompt header, e.g. "python".
	Language string
	// Prompt is the code the endpoint continues.
	Prompt string
	// Stop lists sequences that end generation.
	Stop []string
	// Sampling overrides the client defaults when non-nil.
	Sampling *Sampling
}

// Sampling holds the sampling parameters of a completion request.
type Sampling struct {
	MaxTokens   int
	Temperature float64
	TopP        float64
	N           int
	Logprobs    int
}

// Choice is one generated continuation.
type Choice struct {
	Index        int
	Text         string
	FinishReason string
}

// Response is the parsed completion payload.
type Response struct {
	ID        string
	RequestID string
	Choices   []Choice
}

// FirstText returns the text of the first choice.
func (r *Response) FirstText() (string, bool) {
	if r == nil || len(r.Choices) == 0 {
		return "", false
	}
	return r.Choices[0].Text, true
}

// HeaderPrompt renders the prompt with the language/path comment header the
// endpoint expects in front of the code.
func (r *Request) HeaderPrompt() string {
	return "// Language: " + r.Language + "\n// Path: " + r.Path + "\n" + r.Prompt
}
