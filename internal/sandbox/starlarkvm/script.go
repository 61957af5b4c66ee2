package starlarkvm

import (
	"context"
	"fmt"
	"io"
	"strings"

	"go.starlark.net/starlark"
)

// RunScript executes a starlark program. load("copilot.fizzbuzz", "fizzbuzz") binds
// the module resolved through the import chain under its last name segment;
// load("math", "sqrt") binds members of a built-in module. print writes to out.
func (e *Engine) RunScript(ctx context.Context, filename string, src []byte, out io.Writer) (starlark.StringDict, error) {
	loaded := make(map[string]starlark.StringDict)
	thread := e.newThread(ctx, filename)
	thread.Print = func(_ *starlark.Thread, msg string) {
		fmt.Fprintln(out, msg)
	}
	thread.Load = func(th *starlark.Thread, module string) (starlark.StringDict, error) {
		if members, ok := loaded[module]; ok {
			return members, nil
		}
		members, err := e.load(threadContext(th), module)
		if err != nil {
			return nil, err
		}
		loaded[module] = members
		return members, nil
	}
	stop := context.AfterFunc(ctx, func() { thread.Cancel(context.Cause(ctx).Error()) })
	defer stop()

	return starlark.ExecFileOptions(e.opts, thread, filename, src, nil)
}

func (e *Engine) load(ctx context.Context, module string) (starlark.StringDict, error) {
	if v, ok := lookupModule(module); ok {
		return moduleMembers(module, v), nil
	}
	v, err := e.importValue(ctx, module)
	if err != nil {
		return nil, err
	}
	name := module
	if i := strings.LastIndex(module, "."); i >= 0 {
		name = module[i+1:]
	}
	return starlark.StringDict{name: v}, nil
}
