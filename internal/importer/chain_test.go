package importer

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type prefixFinder struct {
	prefix string
	calls  atomic.Int32
	delay  time.Duration
	err    error
}

func (f *prefixFinder) FindModule(_ context.Context, fullname string) (*Module, error) {
	if !strings.HasPrefix(fullname, f.prefix) {
		return nil, nil
	}
	f.calls.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.err != nil {
		return nil, f.err
	}
	return &Module{Name: fullname, Origin: f.prefix, Value: strings.TrimPrefix(fullname, f.prefix)}, nil
}

func TestChain_ImportConsultsFindersInOrder(t *testing.T) {
	c := NewChain()
	first := &prefixFinder{prefix: "copilot."}
	catchAll := &prefixFinder{prefix: ""}
	c.Install(first)
	c.Install(catchAll)

	m, err := c.Import(context.Background(), "copilot.fizzbuzz")
	require.NoError(t, err)
	assert.Equal(t, "copilot.", m.Origin)
	assert.Equal(t, "fizzbuzz", m.Value)

	m, err = c.Import(context.Background(), "other")
	require.NoError(t, err)
	assert.Equal(t, "", m.Origin)
}

func TestChain_ImportCachesModules(t *testing.T) {
	c := NewChain()
	f := &prefixFinder{prefix: "copilot."}
	c.Install(f)

	_, err := c.Import(context.Background(), "copilot.a")
	require.NoError(t, err)
	_, err = c.Import(context.Background(), "copilot.a")
	require.NoError(t, err)

	assert.Equal(t, int32(1), f.calls.Load())
	_, ok := c.Loaded("copilot.a")
	assert.True(t, ok)
}

func TestChain_ImportNotFound(t *testing.T) {
	c := NewChain()
	c.Install(&prefixFinder{prefix: "copilot."})

	_, err := c.Import(context.Background(), "numpy")
	var notFound *ModuleNotFoundError
	require.True(t, errors.As(err, &notFound))
	assert.Equal(t, "numpy", notFound.Name)
	assert.Equal(t, "no module named 'numpy'", err.Error())
}

func TestChain_ImportPropagatesFinderError(t *testing.T) {
	c := NewChain()
	boom := errors.New("completion endpoint down")
	c.Install(&prefixFinder{prefix: "", err: boom})

	_, err := c.Import(context.Background(), "x")
	assert.ErrorIs(t, err, boom)
	_, ok := c.Loaded("x")
	assert.False(t, ok)
}

func TestChain_UninstallDropsFinderModules(t *testing.T) {
	c := NewChain()
	f := &prefixFinder{prefix: "copilot."}
	c.Install(f)
	c.Install(f)

	_, err := c.Import(context.Background(), "copilot.a")
	require.NoError(t, err)

	assert.True(t, c.Uninstall(f))
	assert.False(t, c.Uninstall(f))
	_, ok := c.Loaded("copilot.a")
	assert.False(t, ok)

	_, err = c.Import(context.Background(), "copilot.a")
	var notFound *ModuleNotFoundError
	assert.True(t, errors.As(err, &notFound))
}

func TestChain_ConcurrentImportsShareResolution(t *testing.T) {
	c := NewChain()
	f := &prefixFinder{prefix: "copilot.", delay: 50 * time.Millisecond}
	c.Install(f)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Import(context.Background(), "copilot.slow")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), f.calls.Load())
}

func TestChain_ModulesAndForget(t *testing.T) {
	c := NewChain()
	f := &prefixFinder{prefix: "copilot."}
	c.Install(f)

	for _, name := range []string{"copilot.b", "copilot.a"} {
		_, err := c.Import(context.Background(), name)
		require.NoError(t, err)
	}
	mods := c.Modules()
	require.Len(t, mods, 2)
	assert.Equal(t, "copilot.a", mods[0].Name)
	assert.Equal(t, "copilot.b", mods[1].Name)

	assert.True(t, c.Forget("copilot.a"))
	assert.False(t, c.Forget("copilot.a"))
	_, err := c.Import(context.Background(), "copilot.a")
	require.NoError(t, err)
	assert.Equal(t, int32(3), f.calls.Load())
}

type tableFinder map[string]string

func (f tableFinder) FindModule(_ context.Context, fullname string) (*Module, error) {
	v, ok := f[fullname]
	if !ok {
		return nil, nil
	}
	return &Module{Name: fullname, Origin: "table", Value: v}, nil
}

func TestChain_MapFinders(t *testing.T) {
	c := NewChain()
	first := tableFinder{"local.a": "a"}
	second := tableFinder{"local.b": "b"}

	require.NotPanics(t, func() {
		c.Install(first)
		c.Install(second)
		c.Install(first)
	})

	m, err := c.Import(context.Background(), "local.a")
	require.NoError(t, err)
	assert.Equal(t, "a", m.Value)
	m, err = c.Import(context.Background(), "local.b")
	require.NoError(t, err)
	assert.Equal(t, "b", m.Value)

	assert.True(t, c.Uninstall(first))
	assert.False(t, c.Uninstall(first))
	_, ok := c.Loaded("local.a")
	assert.False(t, ok)
	_, ok = c.Loaded("local.b")
	assert.True(t, ok)

	_, err = c.Import(context.Background(), "local.a")
	var notFound *ModuleNotFoundError
	assert.ErrorAs(t, err, &notFound)
	assert.True(t, c.Uninstall(second))
}
