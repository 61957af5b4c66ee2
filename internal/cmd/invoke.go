package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/copilot-import/copilot-import/internal/config"
	"github.com/copilot-import/copilot-import/internal/importer"
	"github.com/copilot-import/copilot-import/internal/sandbox/starlarkvm"
	log "github.com/sirupsen/logrus"
)

// DoSource synthesizes name and prints its source. With rendered set the guessed
// imports of previous calls in this process are included.
func DoSource(ctx context.Context, cfg *config.Config, name string, rendered bool) error {
	rt, err := NewRuntime(cfg, importer.Default)
	if err != nil {
		return err
	}
	defer rt.Close()

	p, err := rt.Import(ctx, name)
	if err != nil {
		log.Errorf("Failed to synthesize %s: %v", name, err)
		return err
	}
	if p.Function().Truncated {
		log.Warnf("%s: completion held more than one statement and was truncated", name)
	}

	src := p.Source()
	if rendered {
		if src, err = p.Rendered(); err != nil {
			return err
		}
	}
	_, err = fmt.Fprint(Output, strings.TrimRight(src, "\n")+"\n")
	return err
}

// DoCall synthesizes name, calls it with args and prints the result as JSON.
// Each argument is decoded as JSON when it parses, otherwise it is passed as a string.
func DoCall(ctx context.Context, cfg *config.Config, name string, args []string) (any, error) {
	rt, err := NewRuntime(cfg, importer.Default)
	if err != nil {
		return nil, err
	}
	defer rt.Close()

	p, err := rt.Import(ctx, name)
	if err != nil {
		log.Errorf("Failed to synthesize %s: %v", name, err)
		return nil, err
	}
	result, err := p.Call(ctx, ParseArgs(args)...)
	if err != nil {
		log.Errorf("Call to %s failed: %v", name, err)
		return nil, err
	}
	if imports := p.Imports(); len(imports) > 0 {
		log.WithField("imports", imports).Debugf("%s guessed imports", name)
	}

	enc := json.NewEncoder(Output)
	enc.SetEscapeHTML(false)
	if err = enc.Encode(result); err != nil {
		return result, fmt.Errorf("encode result: %w", err)
	}
	return result, nil
}

// ParseArgs converts command line arguments into call arguments.
func ParseArgs(args []string) []any {
	out := make([]any, 0, len(args))
	for _, arg := range args {
		dec := json.NewDecoder(bytes.NewReader([]byte(arg)))
		dec.UseNumber()
		var v any
		if err := dec.Decode(&v); err != nil || dec.More() {
			out = append(out, arg)
			continue
		}
		out = append(out, v)
	}
	return out
}

// DoRun executes a starlark script whose load() statements import synthesized
// functions, e.g. load("copilot.fizzbuzz", "fizzbuzz").
func DoRun(ctx context.Context, cfg *config.Config, path string) error {
	if cfg.Sandbox.Dialect != config.DialectStarlark {
		return fmt.Errorf("scripts require the %s dialect, configured dialect is %s", config.DialectStarlark, cfg.Sandbox.Dialect)
	}
	src, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read script: %w", err)
	}

	rt, err := NewRuntime(cfg, importer.Default)
	if err != nil {
		return err
	}
	defer rt.Close()

	engine, ok := rt.Engine.(*starlarkvm.Engine)
	if !ok {
		return fmt.Errorf("engine %s cannot run scripts", rt.Engine.Dialect())
	}
	if _, err = engine.RunScript(ctx, path, src, Output); err != nil {
		log.Errorf("Script %s failed: %v", path, err)
		return err
	}
	return nil
}
