package binder

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/vk/trainspec/internal/config"
	"github.com/vk/trainspec/internal/registry"
)

// journal records construction order so tests can observe side effects.
type journal struct {
	built []string
}

type leafInput struct {
	Label string  `conf:"label"`
	Scale float64 `conf:"scale"`
}

type leaf struct {
	Label string
	Scale float64
}

type pairInput struct {
	Left  *leaf `conf:"left,required"`
	Right *leaf `conf:"right"`
}

type pair struct{ Left, Right *leaf }

type toyModule struct{ j *journal }

func (m *toyModule) Namespace() string { return "toy" }

func (m *toyModule) Register(ns *registry.Namespace) {
	ns.RegisterComponent("Leaf", registry.NewComponent("", func(_ context.Context, _ *registry.NoDeps, in *leafInput) (any, error) {
		m.j.built = append(m.j.built, "Leaf:"+in.Label)
		return &leaf{Label: in.Label, Scale: in.Scale}, nil
	}))
	ns.RegisterComponent("Pair", registry.NewComponent("", func(_ context.Context, _ *registry.NoDeps, in *pairInput) (any, error) {
		m.j.built = append(m.j.built, "Pair")
		return &pair{Left: in.Left, Right: in.Right}, nil
	}))
	ns.RegisterComponent("Broken", registry.NewComponent("", func(_ context.Context, _ *registry.NoDeps, _ *leafInput) (any, error) {
		return nil, errors.New("out of widgets")
	}))
	ns.RegisterSymbol("double", func(x float64) float64 { return 2 * x })
}

func newTestBinder() (*Binder, *journal) {
	j := &journal{}
	return New(registry.New(&toyModule{j: j})), j
}

func mapping(kv ...any) *config.Mapping {
	m := config.NewMapping()
	for i := 0; i < len(kv); i += 2 {
		m.Set(kv[i].(string), kv[i+1].(config.Value))
	}
	return m
}

func leafDirective(label string) *config.Component {
	return &config.Component{Name: "toy.Leaf", Args: mapping("label", config.Str(label), "scale", config.Float(1.5))}
}

func TestResolve_ConstructsDepthFirstLeftToRight(t *testing.T) {
	b, j := newTestBinder()
	doc := mapping(
		"first", leafDirective("a"),
		"pair", &config.Component{Name: "toy.Pair", Args: mapping(
			"left", leafDirective("b"),
			"right", leafDirective("c"),
		)},
		"last", leafDirective("d"),
	)

	out, err := b.Resolve(context.Background(), nil, doc)
	require.NoError(t, err)

	assert.Equal(t, []string{"Leaf:a", "Leaf:b", "Leaf:c", "Pair", "Leaf:d"}, j.built)
	p := out.(*config.Mapping).Get("pair").(*config.Instance).Object.(*pair)
	assert.Equal(t, "b", p.Left.Label)
	assert.Equal(t, "c", p.Right.Label)
}

func TestResolve_ImportBindsWithoutInvoking(t *testing.T) {
	b, j := newTestBinder()

	out, err := b.Resolve(context.Background(), nil, mapping(
		"fn", &config.Import{Name: "toy.double"},
		"class", &config.Import{Name: "toy.Leaf"},
	))
	require.NoError(t, err)

	assert.Empty(t, j.built)
	fn := out.(*config.Mapping).Get("fn").(*config.Symbol).Object.(func(float64) float64)
	assert.Equal(t, 6.0, fn(3))
	assert.IsType(t, &registry.Component{}, out.(*config.Mapping).Get("class").(*config.Symbol).Object)
}

func TestResolve_UnknownNameConstructsNothing(t *testing.T) {
	tests := []struct {
		name    string
		value   config.Value
		path    string
		errType any
	}{
		{
			name: "unknown component after constructible siblings",
			value: mapping(
				"ok", leafDirective("a"),
				"bad", &config.Component{Name: "toy.Missing", Args: mapping()},
			),
			path:    "bad",
			errType: &registry.UnknownComponentError{},
		},
		{
			name: "unknown symbol nested inside a component's arguments",
			value: mapping("pair", &config.Component{Name: "toy.Pair", Args: mapping(
				"left", leafDirective("a"),
				"right", config.Sequence{&config.Import{Name: "nowhere.fn"}},
			)}),
			path:    "pair.right[0]",
			errType: &registry.UnknownSymbolError{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, j := newTestBinder()
			_, err := b.Resolve(context.Background(), nil, tt.value)
			require.Error(t, err)
			assert.Empty(t, j.built, "nothing may be constructed")
			assert.Contains(t, err.Error(), tt.path+":")

			switch tt.errType.(type) {
			case *registry.UnknownComponentError:
				var target *registry.UnknownComponentError
				assert.ErrorAs(t, err, &target)
			case *registry.UnknownSymbolError:
				var target *registry.UnknownSymbolError
				assert.ErrorAs(t, err, &target)
			}
		})
	}
}

func TestResolve_ConstructionFailureIsAnnotated(t *testing.T) {
	tests := []struct {
		name  string
		value config.Value
		want  string
	}{
		{
			name:  "factory error",
			value: mapping("x", &config.Component{Name: "toy.Broken", Args: mapping("label", config.Str("q"))}),
			want:  "out of widgets",
		},
		{
			name:  "wrong argument type",
			value: mapping("x", &config.Component{Name: "toy.Leaf", Args: mapping("scale", config.Str("big"))}),
			want:  "x.scale: expected a number",
		},
		{
			name:  "unsupported argument",
			value: mapping("x", &config.Component{Name: "toy.Leaf", Args: mapping("colour", config.Str("red"))}),
			want:  `unsupported argument "colour"`,
		},
		{
			name:  "missing required argument",
			value: mapping("x", &config.Component{Name: "toy.Pair", Args: mapping()}),
			want:  `missing required argument "left"`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, _ := newTestBinder()
			_, err := b.Resolve(context.Background(), config.Path{"root"}, tt.value)

			var cce *ComponentConstructionError
			require.ErrorAs(t, err, &cce)
			assert.Equal(t, "root.x", cce.Path.String())
			assert.Contains(t, err.Error(), tt.want)
			assert.Contains(t, err.Error(), cce.Name)
		})
	}
}

func TestResolve_AbsentStaysDistinctFromEmptyString(t *testing.T) {
	b, _ := newTestBinder()
	out, err := b.Resolve(context.Background(), nil, mapping(
		"unset", config.Absent{},
		"empty", config.Str(""),
	))
	require.NoError(t, err)

	var target struct {
		Unset config.Optional[string] `conf:"unset"`
		Empty config.Optional[string] `conf:"empty"`
		Gone  config.Optional[string] `conf:"gone"`
	}
	require.NoError(t, Decode(nil, out, &target))
	assert.False(t, target.Unset.Set)
	assert.True(t, target.Empty.Set)
	assert.Equal(t, "", target.Empty.Value)
	assert.False(t, target.Gone.Set)
}

func TestDecode_CollectionsRemainAndFunctions(t *testing.T) {
	b, _ := newTestBinder()
	resolved, err := b.Resolve(context.Background(), nil, mapping(
		"sizes", config.Sequence{config.Int(1), config.Float(2)},
		"weights", mapping("a", config.Float(0.5)),
		"fn", &config.Import{Name: "toy.double"},
		"num_workers", config.Int(4),
		"raw", mapping("k", config.Bool(true)),
	))
	require.NoError(t, err)

	type unaryFn func(float64) float64
	var target struct {
		Sizes   []int              `conf:"sizes"`
		Weights map[string]float64 `conf:"weights"`
		Fn      unaryFn            `conf:"fn"`
		Raw     *config.Mapping    `conf:"raw"`
		Extra   map[string]any     `conf:",remain"`
	}
	require.NoError(t, Decode(nil, resolved, &target))

	assert.Equal(t, []int{1, 2}, target.Sizes)
	assert.Equal(t, map[string]float64{"a": 0.5}, target.Weights)
	assert.Equal(t, 8.0, target.Fn(4))
	assert.Equal(t, map[string]any{"num_workers": int64(4)}, target.Extra)
	assert.Equal(t, []string{"k"}, target.Raw.Keys())
}

func TestDecode_RejectsFractionalInteger(t *testing.T) {
	var target struct {
		N int `conf:"n"`
	}
	err := Decode(config.Path{"model"}, mapping("n", config.Float(2.5)), &target)
	assert.ErrorContains(t, err, "model.n: expected an integer")
}

func TestConstruct_DepsTypeMustMatch(t *testing.T) {
	b, _ := newTestBinder()
	comp, err := registry.New(&toyModule{j: &journal{}}).ResolveConstructible("toy.Leaf")
	require.NoError(t, err)

	_, err = b.Construct(context.Background(), config.Path{"x"}, comp, mapping(), &struct{ Wrong int }{})
	assert.ErrorContains(t, err, "dependencies")
}

// genTree draws a random document made of scalars, mappings, sequences,
// toy.Leaf directives and imports.
func genTree(depth int) *rapid.Generator[config.Value] {
	return rapid.Custom(func(t *rapid.T) config.Value {
		kind := rapid.IntRange(0, 5).Draw(t, "kind")
		if depth <= 0 {
			kind = kind % 3
		}
		switch kind {
		case 0:
			return config.Int(rapid.Int64().Draw(t, "int"))
		case 1:
			return config.Str(rapid.StringMatching(`[a-z]{0,6}`).Draw(t, "str"))
		case 2:
			if rapid.Bool().Draw(t, "absent") {
				return config.Absent{}
			}
			return config.Float(rapid.Float64Range(-10, 10).Draw(t, "float"))
		case 3:
			m := config.NewMapping()
			n := rapid.IntRange(0, 3).Draw(t, "n")
			for i := range n {
				m.Set(fmt.Sprintf("k%d", i), genTree(depth-1).Draw(t, "child"))
			}
			return m
		case 4:
			n := rapid.IntRange(0, 3).Draw(t, "len")
			seq := make(config.Sequence, n)
			for i := range seq {
				seq[i] = genTree(depth-1).Draw(t, "item")
			}
			return seq
		default:
			if rapid.Bool().Draw(t, "import") {
				return &config.Import{Name: "toy.double"}
			}
			return leafDirective(rapid.StringMatching(`[a-z]{1,4}`).Draw(t, "label"))
		}
	})
}

// scalarView strips constructed objects down to their scalar parameters.
func scalarView(v config.Value) any {
	switch t := v.(type) {
	case *config.Instance:
		if l, ok := t.Object.(*leaf); ok {
			return map[string]any{"class": t.Name, "label": l.Label, "scale": l.Scale}
		}
		return t.Name
	case *config.Symbol:
		return t.Name
	case *config.Mapping:
		out := map[string]any{}
		for _, k := range t.Keys() {
			out[k] = scalarView(t.Get(k))
		}
		return out
	case config.Sequence:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = scalarView(item)
		}
		return out
	default:
		return config.ToNative(v)
	}
}

func TestResolve_DeterministicProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		tree := genTree(3).Draw(t, "tree")
		b1, j1 := newTestBinder()
		b2, j2 := newTestBinder()

		first, err := b1.Resolve(context.Background(), nil, tree)
		if err != nil {
			t.Fatalf("resolve: %v", err)
		}
		second, err := b2.Resolve(context.Background(), nil, tree)
		if err != nil {
			t.Fatalf("resolve: %v", err)
		}
		if diff := cmp.Diff(scalarView(first), scalarView(second)); diff != "" {
			t.Fatalf("resolution is not deterministic (-first +second):\n%s", diff)
		}
		if diff := cmp.Diff(j1.built, j2.built); diff != "" {
			t.Fatalf("construction order differs:\n%s", diff)
		}
	})
}

func TestResolve_IdempotentProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		tree := genTree(3).Draw(t, "tree")
		b, j := newTestBinder()

		once, err := b.Resolve(context.Background(), nil, tree)
		if err != nil {
			t.Fatalf("resolve: %v", err)
		}
		built := len(j.built)

		twice, err := b.Resolve(context.Background(), nil, once)
		if err != nil {
			t.Fatalf("re-resolve: %v", err)
		}
		if len(j.built) != built {
			t.Fatalf("re-resolving constructed %d more objects", len(j.built)-built)
		}
		if !config.IsResolved(twice) {
			t.Fatalf("re-resolved tree still has directives")
		}
		if diff := cmp.Diff(scalarView(once), scalarView(twice)); diff != "" {
			t.Fatalf("re-resolving changed the tree:\n%s", diff)
		}
	})
}
