package bridge

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/copilot-import/copilot-import/internal/completion"
	apperrors "github.com/copilot-import/copilot-import/internal/errors"
	"github.com/copilot-import/copilot-import/internal/importer"
	"github.com/copilot-import/copilot-import/internal/sandbox/govm"
	"github.com/copilot-import/copilot-import/internal/sandbox/starlarkvm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeCompleter answers by exact prompt; unknown prompts yield no choices.
type fakeCompleter struct {
	mu        sync.Mutex
	responses map[string]string
	requests  []completion.Request
	err       error
}

func (f *fakeCompleter) Complete(_ context.Context, req *completion.Request) (*completion.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, *req)
	if f.err != nil {
		return nil, f.err
	}
	text, ok := f.responses[req.Prompt]
	if !ok {
		return &completion.Response{}, nil
	}
	return &completion.Response{Choices: []completion.Choice{{Text: text}}}, nil
}

func starlarkSynth(responses map[string]string) (*Synthesizer, *importer.Chain, *fakeCompleter) {
	chain := importer.NewChain()
	fake := &fakeCompleter{responses: responses}
	return NewSynthesizer(fake, starlarkvm.New(chain)), chain, fake
}

const fizzbuzzBody = "    if n % 15 == 0:\n        return \"FizzBuzz\"\n" +
	"    if n % 3 == 0:\n        return \"Fizz\"\n" +
	"    if n % 5 == 0:\n        return \"Buzz\"\n" +
	"    return str(n)\n"

func TestSynthesizer_SourceIsSignaturePlusBody(t *testing.T) {
	s, _, fake := starlarkSynth(map[string]string{
		"def fizzbuzz":       "(n",
		"def fizzbuzz(n):\n": fizzbuzzBody,
	})

	fn, err := s.Source(context.Background(), "fizzbuzz")
	require.NoError(t, err)
	assert.Equal(t, "def fizzbuzz(n):\n"+fizzbuzzBody, fn.Source())
	assert.Equal(t, "(n", fn.Params)
	assert.False(t, fn.Truncated)

	require.Len(t, fake.requests, 2)
	assert.Equal(t, completion.Request{Path: "fizzbuzz.py", Language: "python", Prompt: "def fizzbuzz", Stop: []string{"):\n"}}, fake.requests[0])
	assert.Equal(t, "def fizzbuzz(n):\n", fake.requests[1].Prompt)
	assert.Equal(t, []string{"\n\n\n", "\ndef ", "\nif "}, fake.requests[1].Stop)
	assert.Equal(t, "fizzbuzz.py", fake.requests[1].Path)
}

func TestProxy_CallFizzbuzz(t *testing.T) {
	s, _, _ := starlarkSynth(map[string]string{
		"def fizzbuzz":       "(n",
		"def fizzbuzz(n):\n": fizzbuzzBody,
	})
	p, err := s.Build(context.Background(), "fizzbuzz")
	require.NoError(t, err)

	for n, want := range map[int]string{15: "FizzBuzz", 9: "Fizz", 10: "Buzz", 7: "7"} {
		got, err := p.Call(context.Background(), n)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	assert.Empty(t, p.Imports())
}

func TestSynthesizer_TruncatesTrailingStatements(t *testing.T) {
	s, _, _ := starlarkSynth(map[string]string{
		"def f":       "(n",
		"def f(n):\n": "    return n * 2\nprint(f(3))\n",
	})

	fn, err := s.Source(context.Background(), "f")
	require.NoError(t, err)
	assert.True(t, fn.Truncated)
	assert.Equal(t, "def f(n):\n    return n * 2", fn.Source())
}

func TestSynthesizer_UnparseableIsFabrication(t *testing.T) {
	s, _, _ := starlarkSynth(map[string]string{
		"def f":       "(n",
		"def f(n):\n": "    return (n\n",
	})

	_, err := s.Source(context.Background(), "f")
	assert.ErrorIs(t, err, apperrors.ErrFabrication)
}

func TestSynthesizer_NoChoicesIsFabrication(t *testing.T) {
	s, _, _ := starlarkSynth(nil)

	_, err := s.Source(context.Background(), "f")
	assert.ErrorIs(t, err, apperrors.ErrFabrication)
}

func TestSynthesizer_InvalidName(t *testing.T) {
	s, _, fake := starlarkSynth(nil)

	_, err := s.Source(context.Background(), "not-a-name")
	assert.ErrorIs(t, err, apperrors.ErrInvalidName)
	assert.Empty(t, fake.requests)
}

func TestSynthesizer_PropagatesHTTPErrors(t *testing.T) {
	s, _, fake := starlarkSynth(nil)
	fake.err = apperrors.HTTP("Copilot returned an error", 401, []byte("bad token"))

	_, err := s.Source(context.Background(), "f")
	assert.ErrorIs(t, err, apperrors.ErrHTTP)
}

func TestProxy_GuessesImportsThroughChain(t *testing.T) {
	s, chain, _ := starlarkSynth(map[string]string{
		"def quad":         "(n",
		"def quad(n):\n":   "    return double(double(n))\n",
		"def double":       "(n",
		"def double(n):\n": "    return n * 2\n",
	})
	chain.Install(NewFinder("", s))

	p, err := s.Build(context.Background(), "quad")
	require.NoError(t, err)

	got, err := p.Call(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, int64(12), got)
	assert.Equal(t, []string{"double"}, p.Imports())

	rendered, err := p.Rendered()
	require.NoError(t, err)
	assert.Equal(t, "def quad(n):\n    double = __import__(\"double\")\n    return double(double(n))\n", rendered)
	assert.Equal(t, "def quad(n):\n    return double(double(n))\n", p.Source())

	m, ok := chain.Loaded("double")
	require.True(t, ok)
	assert.Equal(t, Origin, m.Origin)
}

func TestProxy_UnimportableGuessIsImportError(t *testing.T) {
	s, chain, _ := starlarkSynth(map[string]string{
		"def f":       "(n",
		"def f(n):\n": "    return bar(n)\n",
	})
	chain.Install(NewFinder("copilot", s))

	p, err := s.Build(context.Background(), "f")
	require.NoError(t, err)

	_, err = p.Call(context.Background(), 1)
	require.ErrorIs(t, err, apperrors.ErrImport)
	appErr, _ := apperrors.As(err)
	assert.Equal(t, "bar", appErr.Name)
	assert.Equal(t, []string{"bar"}, p.Imports())
}

func TestProxy_RepeatedUndefinedNameIsResolutionError(t *testing.T) {
	s, _, _ := starlarkSynth(map[string]string{
		"def f":           "(x=bar",
		"def f(x=bar):\n": "    return x\n",
	})

	p, err := s.Build(context.Background(), "f")
	require.NoError(t, err)

	_, err = p.Call(context.Background())
	require.ErrorIs(t, err, apperrors.ErrResolution)
	appErr, _ := apperrors.As(err)
	assert.Equal(t, "bar", appErr.Name)
	assert.Equal(t, []string{"bar"}, p.Imports())
}

func TestProxy_RecursiveFunction(t *testing.T) {
	s, _, _ := starlarkSynth(map[string]string{
		"def fact":       "(n",
		"def fact(n):\n": "    if n <= 1:\n        return 1\n    return n * fact(n - 1)\n",
	})

	p, err := s.Build(context.Background(), "fact")
	require.NoError(t, err)

	got, err := p.Call(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, int64(120), got)
}

func TestProxy_CancelledContext(t *testing.T) {
	s, _, _ := starlarkSynth(map[string]string{
		"def f":       "(n",
		"def f(n):\n": "    return n\n",
	})
	p, err := s.Build(context.Background(), "f")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = p.Call(ctx, 1)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestProxy_GoDialect(t *testing.T) {
	fake := &fakeCompleter{responses: map[string]string{
		"func shout":                      "(s string) string ",
		"func shout(s string) string {\n": "\treturn strings.ToUpper(s) + \"!\"\n}\n",
	}}
	s := NewSynthesizer(fake, govm.New(nil))

	p, err := s.Build(context.Background(), "shout")
	require.NoError(t, err)
	assert.Equal(t, "shout.go", fake.requests[0].Path)
	assert.Equal(t, []string{"{\n"}, fake.requests[0].Stop)

	got, err := p.Call(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, "HI!", got)
	assert.Equal(t, []string{"strings"}, p.Imports())
}

func TestFinder_Namespace(t *testing.T) {
	s, _, _ := starlarkSynth(map[string]string{
		"def fizzbuzz":       "(n",
		"def fizzbuzz(n):\n": fizzbuzzBody,
	})
	f := NewFinder("copilot.", s)
	assert.Equal(t, "copilot", f.Namespace())

	m, err := f.FindModule(context.Background(), "numpy")
	require.NoError(t, err)
	assert.Nil(t, m)

	m, err = f.FindModule(context.Background(), "copilot")
	require.NoError(t, err)
	assert.Nil(t, m)

	m, err = f.FindModule(context.Background(), "copilot.utils.fizzbuzz")
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, "copilot.utils.fizzbuzz", m.Name)
	proxy, ok := m.Value.(*Proxy)
	require.True(t, ok)
	assert.Equal(t, "fizzbuzz", proxy.Name())

	_, err = f.FindModule(context.Background(), "copilot.utils.")
	assert.ErrorIs(t, err, apperrors.ErrInvalidName)
}

func TestFinder_CatchAllSkipsInvalidNames(t *testing.T) {
	s, _, fake := starlarkSynth(nil)
	f := NewFinder("", s)

	m, err := f.FindModule(context.Background(), "not-valid")
	require.NoError(t, err)
	assert.Nil(t, m)
	assert.Empty(t, fake.requests)
}
