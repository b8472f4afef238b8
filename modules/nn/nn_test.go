package nn

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/trainspec/internal/component"
	"github.com/vk/trainspec/internal/config"
	"github.com/vk/trainspec/internal/registry"
)

func oneHot(seq string) []float64 {
	out := make([]float64, 0, len(seq)*component.Channels)
	for _, b := range seq {
		v := make([]float64, component.Channels)
		switch b {
		case 'A':
			v[0] = 1
		case 'C':
			v[1] = 1
		case 'G':
			v[2] = 1
		case 'T':
			v[3] = 1
		}
		out = append(out, v...)
	}
	return out
}

func newLinear(t *testing.T, seed int64) *CellTypeLinear {
	t.Helper()
	ctx := component.WithSeed(context.Background(), seed)
	obj, err := NewCellTypeLinear(ctx, &registry.NoDeps{}, &LinearInput{
		SequenceLength:   8,
		NCellTypes:       3,
		NGenomicFeatures: 2,
		NBins:            config.Some(2),
		InitScale:        config.Some(0.5),
	})
	require.NoError(t, err)
	return obj.(*CellTypeLinear)
}

func TestCellTypeLinear_SeededInit(t *testing.T) {
	a := newLinear(t, 7)
	b := newLinear(t, 7)
	c := newLinear(t, 8)

	assert.Equal(t, component.StateDictOf(a), component.StateDictOf(b))
	assert.NotEqual(t, component.StateDictOf(a), component.StateDictOf(c))
	assert.Len(t, a.weight.Data, 2*2*component.Channels)
	assert.Len(t, a.cellBias.Data, 3*2)
}

func TestCellTypeLinear_GradientMatchesFiniteDifference(t *testing.T) {
	m := newLinear(t, 1)
	s := &component.Sample{Sequence: oneHot("ACGTTTGA"), CellType: 1}
	for i := range m.cellBias.Data {
		m.cellBias.Data[i] = 0.1 * float64(i)
	}

	// loss = sum(out * g) so dloss/dout = g.
	g := []float64{0.7, -1.3}
	lossOf := func() float64 {
		out := m.Forward(s)
		return out[0]*g[0] + out[1]*g[1]
	}
	m.Backward(s, g)

	const eps = 1e-6
	for _, p := range m.Parameters() {
		for i := range p.Data {
			orig := p.Data[i]
			p.Data[i] = orig + eps
			up := lossOf()
			p.Data[i] = orig - eps
			down := lossOf()
			p.Data[i] = orig
			assert.InDelta(t, (up-down)/(2*eps), p.Grad[i], 1e-6, "%s[%d]", p.Name, i)
		}
	}
}

func TestCellTypeLinear_LayoutIndependent(t *testing.T) {
	m := newLinear(t, 3)
	pos := &component.Sample{Sequence: oneHot("AACCGGTT"), CellType: 0}

	ch := make([]float64, len(pos.Sequence))
	n := pos.Length()
	for i := 0; i < n; i++ {
		for c := 0; c < component.Channels; c++ {
			ch[c*n+i] = pos.At(i, c)
		}
	}
	chs := &component.Sample{Sequence: ch, Layout: component.ChannelMajor, CellType: 0}

	assert.Equal(t, m.Forward(pos), m.Forward(chs))
}

func TestCellTypeLinear_Embeddings(t *testing.T) {
	m := newLinear(t, 3)
	m.cellBias.Data[2*2+1] = 4
	emb := m.CellTypeEmbeddings()
	require.Len(t, emb, 3)
	assert.Equal(t, []float64{0, 4}, emb[2])
}

func TestNewCellTypeLinear_Validation(t *testing.T) {
	ctx := context.Background()
	_, err := NewCellTypeLinear(ctx, &registry.NoDeps{}, &LinearInput{SequenceLength: 10, NCellTypes: 0, NGenomicFeatures: 1})
	assert.Error(t, err)

	_, err = NewCellTypeLinear(ctx, &registry.NoDeps{}, &LinearInput{SequenceLength: 10, NCellTypes: 1, NGenomicFeatures: 1, NBins: config.Some(11)})
	assert.ErrorContains(t, err, "n_bins")
}

func TestConstantBaseline(t *testing.T) {
	obj, err := NewConstantBaseline(context.Background(), &registry.NoDeps{}, &BaselineInput{NGenomicFeatures: 3})
	require.NoError(t, err)
	m := obj.(*ConstantBaseline)

	m.Backward(nil, []float64{1, 2, 3})
	assert.Equal(t, []float64{1, 2, 3}, m.bias.Grad)
	out := m.Forward(&component.Sample{})
	assert.Equal(t, []float64{0, 0, 0}, out)
	out[0] = math.Pi
	assert.Equal(t, 0.0, m.bias.Data[0], "forward output must not alias parameters")
}
