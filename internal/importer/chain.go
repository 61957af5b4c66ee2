// Package importer is the process-wide module resolution chain. Finders are installed
// explicitly and consulted in installation order; resolved modules are kept in an
// in-process module table for the lifetime of the chain (nothing is persisted).
package importer

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"sync"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// Callable is a resolved unit that can be invoked, such as a synthesized function proxy.
type Callable interface {
	Call(ctx context.Context, args ...any) (any, error)
}

// Module is a resolved import.
type Module struct {
	// Name is the fully qualified name the module was imported under.
	Name string
	// Origin describes where the module came from.
	Origin string
	// Value is the resolved unit, typically a Callable.
	Value any

	finder Finder
}

// Finder resolves fully qualified module names.
type Finder interface {
	// FindModule returns (nil, nil) when fullname is not handled by this finder.
	FindModule(ctx context.Context, fullname string) (*Module, error)
}

// ModuleNotFoundError is returned when no finder resolves a name.
type ModuleNotFoundError struct {
	Name string
}

func (e *ModuleNotFoundError) Error() string {
	return fmt.Sprintf("no module named '%s'", e.Name)
}

// Chain is an ordered list of finders plus the table of modules already resolved.
type Chain struct {
	mu      sync.RWMutex
	finders []Finder
	modules map[string]*Module
	group   singleflight.Group
}

// NewChain returns an empty chain.
func NewChain() *Chain {
	return &Chain{modules: make(map[string]*Module)}
}

// Default is the process-wide chain.
var Default = NewChain()

// Install appends f to the chain. Installing the same finder twice is a no-op.
func (c *Chain) Install(f Finder) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, existing := range c.finders {
		if sameFinder(existing, f) {
			return
		}
	}
	c.finders = append(c.finders, f)
}

// Uninstall removes f and every module it resolved. It reports whether f was installed.
func (c *Chain) Uninstall(f Finder) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, existing := range c.finders {
		if !sameFinder(existing, f) {
			continue
		}
		c.finders = append(c.finders[:i:i], c.finders[i+1:]...)
		for name, m := range c.modules {
			if sameFinder(m.finder, f) {
				delete(c.modules, name)
			}
		}
		return true
	}
	return false
}

// sameFinder reports whether a and b are the same finder. Finders of map, slice or
// func type are not comparable with == and are matched by identity instead.
func sameFinder(a, b Finder) bool {
	ta := reflect.TypeOf(a)
	if ta != reflect.TypeOf(b) {
		return false
	}
	if ta == nil || ta.Comparable() {
		return a == b
	}
	va, vb := reflect.ValueOf(a), reflect.ValueOf(b)
	switch va.Kind() {
	case reflect.Map, reflect.Func:
		return va.Pointer() == vb.Pointer()
	case reflect.Slice:
		return va.Pointer() == vb.Pointer() && va.Len() == vb.Len()
	default:
		return false
	}
}

// Loaded returns a module from the table without consulting finders.
func (c *Chain) Loaded(fullname string) (*Module, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.modules[fullname]
	return m, ok
}

// Modules returns the resolved modules ordered by name.
func (c *Chain) Modules() []*Module {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Module, 0, len(c.modules))
	for _, m := range c.modules {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Forget drops fullname from the module table so the next import resolves it again.
func (c *Chain) Forget(fullname string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.modules[fullname]
	delete(c.modules, fullname)
	return ok
}

// Import resolves fullname, consulting the module table first and then each finder
// in order. Concurrent imports of the same name share one resolution.
func (c *Chain) Import(ctx context.Context, fullname string) (*Module, error) {
	if m, ok := c.Loaded(fullname); ok {
		return m, nil
	}

	v, err, _ := c.group.Do(fullname, func() (interface{}, error) {
		if m, ok := c.Loaded(fullname); ok {
			return m, nil
		}
		c.mu.RLock()
		finders := append([]Finder(nil), c.finders...)
		c.mu.RUnlock()

		for _, f := range finders {
			m, err := f.FindModule(ctx, fullname)
			if err != nil {
				return nil, err
			}
			if m == nil {
				continue
			}
			m.finder = f
			c.mu.Lock()
			c.modules[fullname] = m
			c.mu.Unlock()
			log.WithFields(log.Fields{"module": fullname, "origin": m.Origin}).Debug("module resolved")
			return m, nil
		}
		return nil, &ModuleNotFoundError{Name: fullname}
	})
	if err != nil {
		return nil, err
	}
	return v.(*Module), nil
}

// Install appends f to the Default chain.
func Install(f Finder) { Default.Install(f) }

// Uninstall removes f from the Default chain.
func Uninstall(f Finder) bool { return Default.Uninstall(f) }

// Import resolves fullname through the Default chain.
func Import(ctx context.Context, fullname string) (*Module, error) {
	return Default.Import(ctx, fullname)
}
