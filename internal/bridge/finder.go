package bridge

import (
	"context"
	"strings"

	apperrors "github.com/copilot-import/copilot-import/internal/errors"
	"github.com/copilot-import/copilot-import/internal/importer"
)

// Origin marks modules produced by a Finder.
const Origin = "copilot"

// Finder resolves imports by synthesizing a function named after the final segment
// of the requested name. With a namespace it only handles names beneath it
// ("copilot.fizzbuzz"); an empty namespace handles every name.
type Finder struct {
	namespace string
	synth     *Synthesizer
}

// NewFinder returns a finder for namespace backed by s.
func NewFinder(namespace string, s *Synthesizer) *Finder {
	return &Finder{namespace: strings.Trim(namespace, "."), synth: s}
}

// Namespace returns the handled prefix, empty for a catch-all finder.
func (f *Finder) Namespace() string { return f.namespace }

// FindModule implements importer.Finder.
func (f *Finder) FindModule(ctx context.Context, fullname string) (*importer.Module, error) {
	name := fullname
	if f.namespace != "" {
		rest, ok := strings.CutPrefix(fullname, f.namespace+".")
		if !ok {
			return nil, nil
		}
		name = rest
	}
	if i := strings.LastIndex(name, "."); i >= 0 {
		name = name[i+1:]
	}
	if !ValidName(name) {
		if f.namespace == "" {
			return nil, nil
		}
		return nil, apperrors.InvalidName(name)
	}

	proxy, err := f.synth.Build(ctx, name)
	if err != nil {
		return nil, err
	}
	return &importer.Module{Name: fullname, Origin: Origin, Value: proxy}, nil
}
