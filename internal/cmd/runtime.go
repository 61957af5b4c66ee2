// Package cmd provides CLI command implementations for copilot-import.
// Each command builds its own Runtime from the loaded configuration.
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/copilot-import/copilot-import/internal/bridge"
	"github.com/copilot-import/copilot-import/internal/completion"
	"github.com/copilot-import/copilot-import/internal/config"
	"github.com/copilot-import/copilot-import/internal/importer"
	"github.com/copilot-import/copilot-import/internal/sandbox"
	"github.com/copilot-import/copilot-import/internal/sandbox/govm"
	"github.com/copilot-import/copilot-import/internal/sandbox/starlarkvm"
)

var (
	// Output is where commands print results.
	Output io.Writer = os.Stdout

	newCompleter = func(cfg *config.Config) bridge.Completer {
		return completion.NewClient(cfg, completion.EnvTokenSource(cfg))
	}
)

// Runtime wires the completion client, the interpreter for the configured dialect and
// the bridge finder into an import chain.
type Runtime struct {
	Chain     *importer.Chain
	Engine    sandbox.Engine
	Synth     *bridge.Synthesizer
	Finder    *bridge.Finder
	Namespace string
}

// NewEngine returns the interpreter selected by cfg.Sandbox.Dialect.
func NewEngine(cfg *config.Config, chain *importer.Chain) (sandbox.Engine, error) {
	switch cfg.Sandbox.Dialect {
	case "", config.DialectStarlark:
		return starlarkvm.New(chain), nil
	case config.DialectGo:
		return govm.New(cfg.Sandbox.AllowedPackages), nil
	default:
		return nil, fmt.Errorf("unknown sandbox dialect %q", cfg.Sandbox.Dialect)
	}
}

// NewRuntime installs a bridge finder backed by the completion endpoint into chain.
// Call Close to uninstall it.
func NewRuntime(cfg *config.Config, chain *importer.Chain) (*Runtime, error) {
	engine, err := NewEngine(cfg, chain)
	if err != nil {
		return nil, err
	}
	synth := bridge.NewSynthesizer(newCompleter(cfg), engine)
	finder := bridge.NewFinder(cfg.Sandbox.GetNamespace(), synth)
	chain.Install(finder)
	return &Runtime{
		Chain:     chain,
		Engine:    engine,
		Synth:     synth,
		Finder:    finder,
		Namespace: finder.Namespace(),
	}, nil
}

// Close uninstalls the finder and drops the modules it resolved.
func (r *Runtime) Close() {
	r.Chain.Uninstall(r.Finder)
}

// FullName qualifies a bare function name with the runtime's namespace.
func (r *Runtime) FullName(name string) string {
	if r.Namespace == "" || strings.HasPrefix(name, r.Namespace+".") {
		return name
	}
	return r.Namespace + "." + name
}

// Import resolves name through the chain and returns the synthesized proxy.
func (r *Runtime) Import(ctx context.Context, name string) (*bridge.Proxy, error) {
	m, err := r.Chain.Import(ctx, r.FullName(name))
	if err != nil {
		return nil, err
	}
	p, ok := m.Value.(*bridge.Proxy)
	if !ok {
		return nil, fmt.Errorf("%s is provided by %s, not synthesized", m.Name, m.Origin)
	}
	return p, nil
}
