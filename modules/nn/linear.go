package nn

import (
	"context"
	"fmt"
	"sort"

	"github.com/vk/trainspec/internal/component"
	"github.com/vk/trainspec/internal/config"
	"github.com/vk/trainspec/internal/ctxlog"
	"github.com/vk/trainspec/internal/registry"
)

// LinearInput are the class_args of nn.CellTypeLinear. Keys meant for
// other architectures are accepted and ignored so documents can switch
// model.class without editing class_args.
type LinearInput struct {
	SequenceLength   int                      `conf:"sequence_length,required"`
	NCellTypes       int                      `conf:"n_cell_types,required"`
	NGenomicFeatures int                      `conf:"n_genomic_features,required"`
	NBins            config.Optional[int]     `conf:"n_bins"`
	InitScale        config.Optional[float64] `conf:"init_scale"`
	Ignored          map[string]any           `conf:",remain"`
}

// CellTypeLinear predicts logits from the nucleotide composition of
// n_bins equal windows of the sequence plus a learned bias per
// (cell type, feature).
type CellTypeLinear struct {
	seqLen    int
	nBins     int
	nCells    int
	nFeatures int

	weight   *component.Parameter // [nFeatures][nBins*Channels]
	bias     *component.Parameter // [nFeatures]
	cellBias *component.Parameter // [nCells][nFeatures]
}

// NewCellTypeLinear is the constructor registered as nn.CellTypeLinear.
func NewCellTypeLinear(ctx context.Context, _ *registry.NoDeps, in *LinearInput) (any, error) {
	if in.SequenceLength <= 0 || in.NCellTypes <= 0 || in.NGenomicFeatures <= 0 {
		return nil, fmt.Errorf("sequence_length, n_cell_types and n_genomic_features must be positive")
	}
	nBins := in.NBins.OrElse(10)
	if nBins <= 0 || nBins > in.SequenceLength {
		return nil, fmt.Errorf("n_bins must be in [1, %d], got %d", in.SequenceLength, nBins)
	}
	if len(in.Ignored) > 0 {
		keys := make([]string, 0, len(in.Ignored))
		for k := range in.Ignored {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		ctxlog.FromContext(ctx).Debug("Ignoring class_args not used by nn.CellTypeLinear.", "keys", keys)
	}

	m := &CellTypeLinear{
		seqLen:    in.SequenceLength,
		nBins:     nBins,
		nCells:    in.NCellTypes,
		nFeatures: in.NGenomicFeatures,
		weight:    component.NewParameter("weight", in.NGenomicFeatures*nBins*component.Channels),
		bias:      component.NewParameter("bias", in.NGenomicFeatures),
		cellBias:  component.NewParameter("cell_type_bias", in.NCellTypes*in.NGenomicFeatures),
	}
	scale := in.InitScale.OrElse(0.01)
	rng := component.RandFromContext(ctx, "nn.CellTypeLinear")
	for i := range m.weight.Data {
		m.weight.Data[i] = rng.NormFloat64() * scale
	}
	return m, nil
}

func (m *CellTypeLinear) inDim() int { return m.nBins * component.Channels }

// features computes the mean channel value of each bin.
func (m *CellTypeLinear) features(s *component.Sample) []float64 {
	x := make([]float64, m.inDim())
	counts := make([]int, m.nBins)
	n := s.Length()
	for i := 0; i < n; i++ {
		b := i * m.nBins / n
		counts[b]++
		for c := 0; c < component.Channels; c++ {
			x[b*component.Channels+c] += s.At(i, c)
		}
	}
	for b, cnt := range counts {
		if cnt == 0 {
			continue
		}
		for c := 0; c < component.Channels; c++ {
			x[b*component.Channels+c] /= float64(cnt)
		}
	}
	return x
}

// Forward implements component.Model.
func (m *CellTypeLinear) Forward(s *component.Sample) []float64 {
	x := m.features(s)
	d := m.inDim()
	out := make([]float64, m.nFeatures)
	for f := range out {
		acc := m.bias.Data[f]
		row := m.weight.Data[f*d : (f+1)*d]
		for j, xv := range x {
			acc += row[j] * xv
		}
		if s.CellType >= 0 && s.CellType < m.nCells {
			acc += m.cellBias.Data[s.CellType*m.nFeatures+f]
		}
		out[f] = acc
	}
	return out
}

// Backward implements component.Model.
func (m *CellTypeLinear) Backward(s *component.Sample, gradOut []float64) {
	x := m.features(s)
	d := m.inDim()
	for f, g := range gradOut {
		if g == 0 {
			continue
		}
		row := m.weight.Grad[f*d : (f+1)*d]
		for j, xv := range x {
			row[j] += g * xv
		}
		m.bias.Grad[f] += g
		if s.CellType >= 0 && s.CellType < m.nCells {
			m.cellBias.Grad[s.CellType*m.nFeatures+f] += g
		}
	}
}

// Parameters implements component.Model.
func (m *CellTypeLinear) Parameters() []*component.Parameter {
	return []*component.Parameter{m.weight, m.bias, m.cellBias}
}

// CellTypeEmbeddings implements component.CellTypeEmbedder; row i is the
// learned bias vector of cell type i.
func (m *CellTypeLinear) CellTypeEmbeddings() [][]float64 {
	out := make([][]float64, m.nCells)
	for c := range out {
		out[c] = append([]float64(nil), m.cellBias.Data[c*m.nFeatures:(c+1)*m.nFeatures]...)
	}
	return out
}
