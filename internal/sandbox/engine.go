// Package sandbox defines the interpreter contract used to run synthesized functions.
//
// Generated code is untrusted text executed by an embedded interpreter. There is no
// security boundary beyond what the selected dialect's interpreter happens to expose:
// starlark has no I/O builtins, the go dialect limits imports to an allow-list. Neither
// is a sandbox in the security sense.
package sandbox

import (
	"context"
	"fmt"
)

// Function is the source of one synthesized function split at the end of its
// signature, so imports can be rendered beneath the signature line(s).
type Function struct {
	Name      string
	Signature string
	Body      string
}

// Source returns the full function text.
func (f Function) Source() string {
	return f.Signature + f.Body
}

// Grammar tells the bridge how to prompt for a function in a dialect.
type Grammar struct {
	// Language is written into the prompt header, e.g. "python".
	Language string
	// Keyword starts a function declaration, e.g. "def".
	Keyword string
	// Extension is appended to the capability name to form the file label.
	Extension string
	// SignatureStops end the parameter-list completion.
	SignatureStops []string
	// SignatureSuffix closes the signature after the generated parameters.
	SignatureSuffix string
	// BodyStops end the body completion.
	BodyStops []string
}

// SignaturePrompt is the prompt asking for name's parameter list.
func (g Grammar) SignaturePrompt(name string) string {
	return g.Keyword + " " + name
}

// FileLabel is the synthetic file path sent with every prompt for name.
func (g Grammar) FileLabel(name string) string {
	return name + g.Extension
}

// Engine executes synthesized functions in one dialect.
type Engine interface {
	// Dialect names the engine, e.g. "starlark".
	Dialect() string
	// Grammar returns the prompting rules of the dialect.
	Grammar() Grammar
	// Statements parses src and returns the 1-based starting line of every
	// top-level statement, in source order.
	Statements(filename, src string) ([]int, error)
	// Render returns fn's source with one import per name, in the given order.
	// Dialects with function-local bindings place them beneath the signature.
	Render(fn Function, imports []string) (string, error)
	// Call renders fn with imports, executes it in a fresh scope and invokes it with args.
	// An undefined name is reported as *UndefinedNameError and an unimportable guessed
	// name as *importer.ModuleNotFoundError.
	Call(ctx context.Context, fn Function, imports []string, args []any) (any, error)
}

// UndefinedNameError reports a name the interpreter could not bind.
type UndefinedNameError struct {
	Name string
	Line int
}

func (e *UndefinedNameError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("name '%s' is not defined (line %d)", e.Name, e.Line)
	}
	return fmt.Sprintf("name '%s' is not defined", e.Name)
}
