// Package starlarkvm runs synthesized functions with go.starlark.net. Starlark keeps
// the Python surface of the prompts ("def name", "):" stops) while running inside the
// process with no file or network access.
package starlarkvm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/copilot-import/copilot-import/internal/importer"
	"github.com/copilot-import/copilot-import/internal/sandbox"
	log "github.com/sirupsen/logrus"
	"go.starlark.net/resolve"
	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
)

// Dialect is the engine name used in configuration and metrics.
const Dialect = "starlark"

const (
	importBuiltin = "__import__"
	defaultIndent = "    "
	ctxLocal      = "context"
)

var grammar = sandbox.Grammar{
	Language:        "python",
	Keyword:         "def",
	Extension:       ".py",
	SignatureStops:  []string{"):\n"},
	SignatureSuffix: "):\n",
	BodyStops:       []string{"\n\n\n", "\ndef ", "\nif "},
}

// Engine implements sandbox.Engine for starlark.
type Engine struct {
	chain *importer.Chain
	opts  *syntax.FileOptions
}

// New returns an engine resolving imports through the built-in modules first and
// then chain. A nil chain resolves built-in modules only.
func New(chain *importer.Chain) *Engine {
	return &Engine{
		chain: chain,
		opts: &syntax.FileOptions{
			Set:             true,
			While:           true,
			TopLevelControl: true,
			GlobalReassign:  true,
			Recursion:       true,
		},
	}
}

func (e *Engine) Dialect() string { return Dialect }

func (e *Engine) Grammar() sandbox.Grammar { return grammar }

func (e *Engine) Statements(filename, src string) ([]int, error) {
	f, err := e.opts.Parse(filename, src, 0)
	if err != nil {
		return nil, err
	}
	lines := make([]int, 0, len(f.Stmts))
	for _, stmt := range f.Stmts {
		start, _ := stmt.Span()
		lines = append(lines, int(start.Line))
	}
	return lines, nil
}

// Render binds each import as a local of the function, matching the body's indentation.
func (e *Engine) Render(fn sandbox.Function, imports []string) (string, error) {
	if len(imports) == 0 {
		return fn.Source(), nil
	}
	indent := bodyIndent(fn.Body)
	var b strings.Builder
	b.WriteString(fn.Signature)
	for _, name := range imports {
		fmt.Fprintf(&b, "%s%s = %s(%q)\n", indent, name, importBuiltin, name)
	}
	b.WriteString(fn.Body)
	return b.String(), nil
}

func (e *Engine) Call(ctx context.Context, fn sandbox.Function, imports []string, args []any) (any, error) {
	src, err := e.Render(fn, imports)
	if err != nil {
		return nil, err
	}

	thread := e.newThread(ctx, fn.Name)
	thread.Print = func(_ *starlark.Thread, msg string) {
		log.WithField("function", fn.Name).Info(msg)
	}
	stop := context.AfterFunc(ctx, func() { thread.Cancel(context.Cause(ctx).Error()) })
	defer stop()

	var importErr error
	predeclared := starlark.StringDict{
		importBuiltin: starlark.NewBuiltin(importBuiltin, func(th *starlark.Thread, b *starlark.Builtin, targs starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var name string
			if err := starlark.UnpackPositionalArgs(b.Name(), targs, kwargs, 1, &name); err != nil {
				return nil, err
			}
			v, err := e.importValue(threadContext(th), name)
			if err != nil {
				importErr = err
				return nil, err
			}
			return v, nil
		}),
	}

	prog, err := e.compile(fn.Name+grammar.Extension, src, predeclared)
	if err != nil {
		return nil, err
	}
	globals, err := prog.Init(thread, predeclared)
	if err != nil {
		return nil, firstErr(importErr, err)
	}
	callable, ok := globals[fn.Name].(starlark.Callable)
	if !ok {
		return nil, fmt.Errorf("generated source does not define a function named %q", fn.Name)
	}

	targs, err := ToTuple(args)
	if err != nil {
		return nil, err
	}
	result, err := starlark.Call(thread, callable, targs, nil)
	if err != nil {
		return nil, firstErr(importErr, err)
	}
	return FromStarlark(result), nil
}

func (e *Engine) newThread(ctx context.Context, name string) *starlark.Thread {
	thread := &starlark.Thread{Name: name}
	thread.SetLocal(ctxLocal, ctx)
	return thread
}

// compile parses and resolves src. A reference to a name that is neither bound in
// the file nor predeclared nor universal is reported as *sandbox.UndefinedNameError.
func (e *Engine) compile(filename, src string, predeclared starlark.StringDict) (*starlark.Program, error) {
	f, err := e.opts.Parse(filename, src, 0)
	if err != nil {
		return nil, err
	}
	missing := make(map[string]bool)
	isPredeclared := func(name string) bool {
		if predeclared.Has(name) {
			return true
		}
		if !starlark.Universe.Has(name) {
			missing[name] = true
		}
		return false
	}
	prog, err := starlark.FileProgram(f, isPredeclared)
	if err != nil {
		var errs resolve.ErrorList
		if errors.As(err, &errs) {
			if undefined := undefinedName(f, errs, missing); undefined != nil {
				return nil, undefined
			}
		}
		return nil, err
	}
	return prog, nil
}

// undefinedName returns the first resolver error positioned on an identifier that
// the resolver failed to find.
func undefinedName(f *syntax.File, errs resolve.ErrorList, missing map[string]bool) *sandbox.UndefinedNameError {
	type pos struct{ line, col int32 }
	idents := make(map[pos]string)
	syntax.Walk(f, func(n syntax.Node) bool {
		if id, ok := n.(*syntax.Ident); ok {
			idents[pos{id.NamePos.Line, id.NamePos.Col}] = id.Name
		}
		return true
	})
	for _, e := range errs {
		name, ok := idents[pos{e.Pos.Line, e.Pos.Col}]
		if ok && missing[name] {
			return &sandbox.UndefinedNameError{Name: name, Line: int(e.Pos.Line)}
		}
	}
	return nil
}

// importValue resolves name against the built-in modules and then the chain.
func (e *Engine) importValue(ctx context.Context, name string) (starlark.Value, error) {
	if mod, ok := lookupModule(name); ok {
		return mod, nil
	}
	if e.chain == nil {
		return nil, &importer.ModuleNotFoundError{Name: name}
	}
	m, err := e.chain.Import(ctx, name)
	if err != nil {
		return nil, err
	}
	return moduleValue(m)
}

// moduleValue adapts a resolved module to a starlark value. Callables become
// builtins that run with the calling thread's context.
func moduleValue(m *importer.Module) (starlark.Value, error) {
	switch v := m.Value.(type) {
	case starlark.Value:
		return v, nil
	case importer.Callable:
		name := m.Name
		if i := strings.LastIndex(name, "."); i >= 0 {
			name = name[i+1:]
		}
		return starlark.NewBuiltin(name, func(th *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			if len(kwargs) > 0 {
				return nil, fmt.Errorf("%s: unexpected keyword arguments", b.Name())
			}
			res, err := v.Call(threadContext(th), FromTuple(args)...)
			if err != nil {
				return nil, err
			}
			return ToStarlark(res)
		}), nil
	default:
		return ToStarlark(v)
	}
}

func threadContext(th *starlark.Thread) context.Context {
	if ctx, ok := th.Local(ctxLocal).(context.Context); ok {
		return ctx
	}
	return context.Background()
}

// bodyIndent returns the indentation of the first code line of body. Blank and
// comment-only lines do not count towards the block indentation.
func bodyIndent(body string) string {
	for _, line := range strings.Split(body, "\n") {
		trimmed := strings.TrimLeft(line, " \t")
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		if indent := line[:len(line)-len(trimmed)]; indent != "" {
			return indent
		}
		break
	}
	return defaultIndent
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
