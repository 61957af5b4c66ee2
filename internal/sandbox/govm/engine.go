// Package govm runs synthesized Go functions with the yaegi interpreter.
package govm

import (
	"context"
	"fmt"
	"go/parser"
	"go/token"
	"go/types"
	pathpkg "path"
	"reflect"
	"strings"

	"github.com/copilot-import/copilot-import/internal/importer"
	"github.com/copilot-import/copilot-import/internal/sandbox"
	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"
)

// Dialect is the engine name used in configuration and metrics.
const Dialect = "go"

const header = "package main\n"

var grammar = sandbox.Grammar{
	Language:        "go",
	Keyword:         "func",
	Extension:       ".go",
	SignatureStops:  []string{"{\n"},
	SignatureSuffix: "{\n",
	BodyStops:       []string{"\n\n\n", "\nfunc ", "\ntype ", "\nvar "},
}

// DefaultPackages are the standard library packages generated code may import.
// Packages with file, network or process access are never listed.
var DefaultPackages = []string{
	"strings",
	"strconv",
	"fmt",
	"math",
	"math/bits",
	"math/rand",
	"regexp",
	"encoding/json",
	"encoding/base64",
	"encoding/hex",
	"time",
	"sort",
	"bytes",
	"errors",
	"unicode",
	"unicode/utf8",
	"path",
	"slices",
	"maps",
}

// Engine implements sandbox.Engine for Go source.
type Engine struct {
	// packages maps a package name to the allowed import path providing it.
	packages map[string]string
	symbols  interp.Exports
}

// New returns an engine that may import the given packages, or DefaultPackages
// when allowed is empty. Paths unknown to the interpreter are ignored. When two
// allowed paths share a package name the earlier one wins.
func New(allowed []string) *Engine {
	if len(allowed) == 0 {
		allowed = DefaultPackages
	}
	byPath := make(map[string]string)
	keys := make(map[string]string)
	for key := range stdlib.Symbols {
		i := strings.LastIndex(key, "/")
		if i < 0 {
			continue
		}
		byPath[key[:i]] = key[i+1:]
		keys[key[:i]] = key
	}

	e := &Engine{packages: make(map[string]string), symbols: make(interp.Exports)}
	for _, path := range allowed {
		name, ok := byPath[path]
		if !ok {
			continue
		}
		if _, taken := e.packages[name]; !taken {
			e.packages[name] = path
		}
		e.symbols[keys[path]] = stdlib.Symbols[keys[path]]
	}
	return e
}

func (e *Engine) Dialect() string { return Dialect }

func (e *Engine) Grammar() sandbox.Grammar { return grammar }

// Packages returns the importable package names and their paths.
func (e *Engine) Packages() map[string]string {
	out := make(map[string]string, len(e.packages))
	for k, v := range e.packages {
		out[k] = v
	}
	return out
}

func (e *Engine) Statements(filename, src string) ([]int, error) {
	fset := token.NewFileSet()
	f, err := parser.ParseFile(fset, filename, header+src, parser.SkipObjectResolution)
	if err != nil {
		return nil, err
	}
	lines := make([]int, 0, len(f.Decls))
	for _, decl := range f.Decls {
		lines = append(lines, fset.Position(decl.Pos()).Line-1)
	}
	return lines, nil
}

// Render wraps fn in package main and imports the package behind each name.
// A name with no allowed package is reported as *importer.ModuleNotFoundError.
func (e *Engine) Render(fn sandbox.Function, imports []string) (string, error) {
	var b strings.Builder
	b.WriteString(header)
	if len(imports) > 0 {
		b.WriteString("\nimport (\n")
		for _, name := range imports {
			path, ok := e.packages[name]
			if !ok {
				return "", &importer.ModuleNotFoundError{Name: name}
			}
			if pathpkg.Base(path) == name {
				fmt.Fprintf(&b, "\t%q\n", path)
			} else {
				fmt.Fprintf(&b, "\t%s %q\n", name, path)
			}
		}
		b.WriteString(")\n")
	}
	b.WriteString("\n")
	b.WriteString(fn.Source())
	return b.String(), nil
}

func (e *Engine) Call(ctx context.Context, fn sandbox.Function, imports []string, args []any) (any, error) {
	src, err := e.Render(fn, imports)
	if err != nil {
		return nil, err
	}
	if err := undefinedName(fn.Name+grammar.Extension, src, imports); err != nil {
		return nil, err
	}

	i := interp.New(interp.Options{})
	if err := i.Use(e.symbols); err != nil {
		return nil, fmt.Errorf("failed to load packages: %w", err)
	}
	if _, err := i.EvalWithContext(ctx, src); err != nil {
		return nil, fmt.Errorf("code evaluation failed: %w", err)
	}
	v, err := i.EvalWithContext(ctx, "main."+fn.Name)
	if err != nil || v.Kind() != reflect.Func {
		return nil, fmt.Errorf("generated source does not define a function named %q", fn.Name)
	}

	in, err := convertArgs(v.Type(), args)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", fn.Name, err)
	}

	type result struct {
		value any
		err   error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("%s panicked: %v", fn.Name, r)}
			}
		}()
		value, err := collect(v.Call(in))
		done <- result{value: value, err: err}
	}()

	select {
	case r := <-done:
		return r.value, r.err
	case <-ctx.Done():
		return nil, fmt.Errorf("%s did not finish: %w", fn.Name, ctx.Err())
	}
}

// undefinedName reports the first identifier the parser could not resolve that is
// neither predeclared nor an imported package name.
func undefinedName(filename, src string, imports []string) error {
	fset := token.NewFileSet()
	f, err := parser.ParseFile(fset, filename, src, 0)
	if err != nil {
		return err
	}
	imported := make(map[string]bool, len(imports))
	for _, name := range imports {
		imported[name] = true
	}
	for _, id := range f.Unresolved {
		if id.Name == "_" || imported[id.Name] || types.Universe.Lookup(id.Name) != nil {
			continue
		}
		return &sandbox.UndefinedNameError{Name: id.Name, Line: fset.Position(id.Pos()).Line}
	}
	return nil
}
