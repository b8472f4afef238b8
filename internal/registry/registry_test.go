package registry

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type widgetInput struct {
	Size int `conf:"size"`
}

type widget struct{ size int }

type testModule struct {
	name  string
	loads *atomic.Int32
}

func (m *testModule) Namespace() string { return m.name }

func (m *testModule) Register(ns *Namespace) {
	if m.loads != nil {
		m.loads.Add(1)
	}
	ns.RegisterComponent("Widget", NewComponent("a widget", func(ctx context.Context, _ *NoDeps, in *widgetInput) (any, error) {
		return &widget{size: in.Size}, nil
	}))
	ns.RegisterSymbol("answer", 42)
}

func TestResolveConstructible(t *testing.T) {
	reg := New(&testModule{name: "toys"})

	c, err := reg.ResolveConstructible("toys.Widget")
	require.NoError(t, err)
	assert.Equal(t, "toys.Widget", c.Name)
	assert.Equal(t, "a widget", c.Description)

	obj, err := c.Fn(context.Background(), c.NewDeps(), &widgetInput{Size: 3})
	require.NoError(t, err)
	assert.Equal(t, 3, obj.(*widget).size)
}

func TestResolveConstructible_Unknown(t *testing.T) {
	reg := New(&testModule{name: "toys"})

	tests := []struct {
		name   string
		reason string
	}{
		{"Widget", "not qualified"},
		{"toys.Gadget", `namespace "toys" has no component "Gadget"`},
		{"os.Exec", `namespace "os" is not registered`},
		{"toys.", "not qualified"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := reg.ResolveConstructible(tt.name)
			var unknown *UnknownComponentError
			require.True(t, errors.As(err, &unknown), "got %v", err)
			assert.Equal(t, tt.name, unknown.Name)
			assert.Contains(t, err.Error(), tt.reason)
		})
	}
}

func TestResolveSymbol(t *testing.T) {
	reg := New(&testModule{name: "toys"})

	v, err := reg.ResolveSymbol("toys.answer")
	require.NoError(t, err)
	assert.Equal(t, 42, v)

	// A component imported as a symbol is its uninvoked factory.
	v, err = reg.ResolveSymbol("toys.Widget")
	require.NoError(t, err)
	assert.IsType(t, &Component{}, v)

	_, err = reg.ResolveSymbol("toys.question")
	var unknown *UnknownSymbolError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "toys.question", unknown.Name)
}

func TestNamespaceLoadsLazilyAndOnce(t *testing.T) {
	var loads atomic.Int32
	reg := New(&testModule{name: "toys", loads: &loads}, &testModule{name: "other"})

	assert.False(t, reg.Loaded("toys"))

	var wg sync.WaitGroup
	for range 32 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := reg.ResolveConstructible("toys.Widget")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), loads.Load())
	assert.True(t, reg.Loaded("toys"))
	assert.False(t, reg.Loaded("other"))
}

func TestResolveModel(t *testing.T) {
	reg := New(&testModule{name: "toys"})

	c, qualified, err := reg.ResolveModel("models/toys.py", "Widget")
	require.NoError(t, err)
	assert.Equal(t, "toys.Widget", qualified)
	assert.Equal(t, "toys.Widget", c.Name)

	_, qualified, err = reg.ResolveModel("ignored/path.py", "toys.Widget")
	require.NoError(t, err)
	assert.Equal(t, "toys.Widget", qualified)
}

func TestDuplicateRegistrationPanics(t *testing.T) {
	reg := New(&testModule{name: "toys"})
	assert.Panics(t, func() { reg.RegisterModule(&testModule{name: "toys"}) })

	ns := newNamespace("x")
	ns.RegisterSymbol("a", 1)
	assert.Panics(t, func() { ns.RegisterSymbol("a", 2) })
	assert.Panics(t, func() {
		ns.RegisterComponent("a", NewComponent("", func(context.Context, *NoDeps, *widgetInput) (any, error) { return nil, nil }))
	})
}

func TestDescribe(t *testing.T) {
	reg := New(&testModule{name: "toys"})
	entries := reg.Describe()
	assert.Equal(t, []Entry{
		{Name: "toys.Widget", Kind: "component", Description: "a widget"},
		{Name: "toys.answer", Kind: "symbol"},
	}, entries)
}

func TestRegisterNamespace_LoadsOnce(t *testing.T) {
	reg := New()
	var loads atomic.Int32
	reg.RegisterNamespace("lazy", func(ns *Namespace) {
		loads.Add(1)
		ns.RegisterSymbol("pi", 3.14)
	})
	assert.False(t, reg.Loaded("lazy"))

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := reg.ResolveSymbol("lazy.pi")
			assert.NoError(t, err)
			assert.Equal(t, 3.14, v)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), loads.Load())
	assert.Equal(t, []string{"lazy"}, reg.Namespaces())
}
