package bridge

import (
	"context"
	"errors"
	"slices"
	"sync"

	apperrors "github.com/copilot-import/copilot-import/internal/errors"
	"github.com/copilot-import/copilot-import/internal/importer"
	"github.com/copilot-import/copilot-import/internal/metrics"
	"github.com/copilot-import/copilot-import/internal/sandbox"
	log "github.com/sirupsen/logrus"
)

// Proxy invokes a synthesized function. When the function references a name that
// is not defined, the name is guessed to be an importable module, remembered and
// the call retried. Guesses persist across calls. A Proxy is safe for concurrent
// use; calls are not serialized so a function may call itself through the chain.
type Proxy struct {
	fn     *Function
	engine sandbox.Engine

	mu      sync.Mutex
	imports []string
}

func newProxy(fn *Function, engine sandbox.Engine) *Proxy {
	return &Proxy{fn: fn, engine: engine}
}

// Name returns the capability name.
func (p *Proxy) Name() string { return p.fn.Name }

// Function returns the synthesized function.
func (p *Proxy) Function() *Function { return p.fn }

// Source returns the function text without guessed imports.
func (p *Proxy) Source() string { return p.fn.Source() }

// Imports returns the guessed imports in the order they were added.
func (p *Proxy) Imports() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.imports)
}

// Rendered returns the source as it is executed with the current guesses.
func (p *Proxy) Rendered() (string, error) {
	return p.engine.Render(p.fn.Function, p.Imports())
}

// Call runs the function with args, guessing imports until it either succeeds,
// references a name that was already guessed (KindResolution) or guesses a name
// that is not importable (KindImport).
func (p *Proxy) Call(ctx context.Context, args ...any) (result any, err error) {
	defer func() { metrics.RecordInvocation(p.engine.Dialect(), err) }()

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		imports := p.Imports()
		result, err := p.engine.Call(ctx, p.fn.Function, imports, args)
		if err == nil {
			return result, nil
		}

		var undefined *sandbox.UndefinedNameError
		if errors.As(err, &undefined) {
			if slices.Contains(imports, undefined.Name) {
				metrics.RecordImportGuess("resolution")
				return nil, apperrors.Resolution(undefined.Name)
			}
			p.guess(undefined.Name)
			metrics.RecordImportGuess("retry")
			log.WithFields(log.Fields{
				"function": p.fn.Name,
				"import":   undefined.Name,
			}).Debug("retrying with guessed import")
			continue
		}

		var notFound *importer.ModuleNotFoundError
		if errors.As(err, &notFound) {
			metrics.RecordImportGuess("import")
			return nil, apperrors.Import(notFound.Name, err)
		}
		return nil, err
	}
}

func (p *Proxy) guess(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !slices.Contains(p.imports, name) {
		p.imports = append(p.imports, name)
	}
}
