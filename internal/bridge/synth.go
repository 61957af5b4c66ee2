// Package bridge turns capability names into callable functions: it prompts the
// completion endpoint for a signature and a body, validates the result with the
// selected interpreter and wraps it in a Proxy that guesses missing imports.
package bridge

import (
	"context"
	"regexp"
	"strings"

	"github.com/copilot-import/copilot-import/internal/completion"
	apperrors "github.com/copilot-import/copilot-import/internal/errors"
	"github.com/copilot-import/copilot-import/internal/metrics"
	"github.com/copilot-import/copilot-import/internal/sandbox"
	log "github.com/sirupsen/logrus"
)

var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidName reports whether name can be used as a capability name.
func ValidName(name string) bool {
	return identifier.MatchString(name)
}

// Completer is the subset of the completion client the bridge needs.
type Completer interface {
	Complete(ctx context.Context, req *completion.Request) (*completion.Response, error)
}

// Function is a synthesized function that parsed as exactly one statement.
type Function struct {
	sandbox.Function
	// Params is the raw parameter completion.
	Params string
	// Truncated is set when trailing statements were dropped.
	Truncated bool
}

// Synthesizer generates functions in one dialect.
type Synthesizer struct {
	completer Completer
	engine    sandbox.Engine
}

// NewSynthesizer returns a synthesizer prompting c and validating with engine.
func NewSynthesizer(c Completer, engine sandbox.Engine) *Synthesizer {
	return &Synthesizer{completer: c, engine: engine}
}

// Engine returns the interpreter used for validation and invocation.
func (s *Synthesizer) Engine() sandbox.Engine {
	return s.engine
}

// Build synthesizes name and wraps it in a Proxy with an empty import set.
func (s *Synthesizer) Build(ctx context.Context, name string) (*Proxy, error) {
	fn, err := s.Source(ctx, name)
	if err != nil {
		return nil, err
	}
	return newProxy(fn, s.engine), nil
}

// Source performs the two completions for name and returns the validated function.
func (s *Synthesizer) Source(ctx context.Context, name string) (*Function, error) {
	if !ValidName(name) {
		return nil, apperrors.InvalidName(name)
	}
	g := s.engine.Grammar()
	label := g.FileLabel(name)
	prompt := g.SignaturePrompt(name)

	params, err := s.complete(ctx, name, &completion.Request{
		Path:     label,
		Language: g.Language,
		Prompt:   prompt,
		Stop:     g.SignatureStops,
	})
	if err != nil {
		return nil, err
	}
	signature := prompt + params + g.SignatureSuffix

	body, err := s.complete(ctx, name, &completion.Request{
		Path:     label,
		Language: g.Language,
		Prompt:   signature,
		Stop:     g.BodyStops,
	})
	if err != nil {
		return nil, err
	}

	src, truncated, err := s.single(name, label, signature+body)
	if err != nil {
		metrics.RecordSynthesis("fabrication")
		return nil, err
	}
	rest, ok := strings.CutPrefix(src, signature)
	if !ok {
		metrics.RecordSynthesis("fabrication")
		return nil, apperrors.Fabrication(name, "the generated source cannot be safely truncated", nil)
	}

	outcome := "accepted"
	if truncated {
		outcome = "truncated"
	}
	metrics.RecordSynthesis(outcome)
	log.WithFields(log.Fields{
		"function":  name,
		"dialect":   s.engine.Dialect(),
		"truncated": truncated,
	}).Debug("function synthesized")

	return &Function{
		Function:  sandbox.Function{Name: name, Signature: signature, Body: rest},
		Params:    params,
		Truncated: truncated,
	}, nil
}

func (s *Synthesizer) complete(ctx context.Context, name string, req *completion.Request) (string, error) {
	resp, err := s.completer.Complete(ctx, req)
	if err != nil {
		return "", err
	}
	text, ok := resp.FirstText()
	if !ok {
		return "", apperrors.Fabrication(name, "the completion returned no choices", nil)
	}
	return text, nil
}

// single accepts src when it parses as one top-level statement. Otherwise it keeps
// the lines before the second statement and accepts that if it parses as one.
func (s *Synthesizer) single(name, label, src string) (string, bool, error) {
	lines, err := s.engine.Statements(label, src)
	if err != nil {
		return "", false, apperrors.Fabrication(name, "the generated source does not parse", err)
	}
	switch len(lines) {
	case 0:
		return "", false, apperrors.Fabrication(name, "the generated source contains no statements", nil)
	case 1:
		return src, false, nil
	}

	kept := strings.Split(src, "\n")
	if cut := lines[1] - 1; cut < len(kept) {
		kept = kept[:cut]
	}
	truncated := strings.Join(kept, "\n")
	check, err := s.engine.Statements(label, truncated)
	if err != nil || len(check) != 1 {
		return "", false, apperrors.Fabrication(name, "the generated source contains more than expected and cannot be safely truncated", err)
	}
	return truncated, true, nil
}
