package component

// Sample is one training example.
//
// Sequence is a one-hot encoded DNA window, Channels values per position;
// Layout tells whether it is stored position-major ([L][4]) or
// channel-major ([4][L]). CellType is the global cell type index (-1 when
// the dataset is not cell-wise). Mask holds 1 for observed targets and 0
// for targets that do not exist for this cell type.
type Sample struct {
	Sequence []float64
	Layout   Layout
	CellType int
	Target   []float64
	Mask     []float64
}

// Layout is the memory order of a Sample's sequence encoding.
type Layout int

const (
	PositionMajor Layout = iota
	ChannelMajor
)

// Channels is the size of the nucleotide alphabet.
const Channels = 4

// Clone returns a deep copy so transforms never alias dataset storage.
func (s *Sample) Clone() *Sample {
	out := &Sample{Layout: s.Layout, CellType: s.CellType}
	out.Sequence = append([]float64(nil), s.Sequence...)
	out.Target = append([]float64(nil), s.Target...)
	out.Mask = append([]float64(nil), s.Mask...)
	return out
}

// Length returns the number of sequence positions.
func (s *Sample) Length() int { return len(s.Sequence) / Channels }

// At returns the encoding of channel c at position i regardless of layout.
func (s *Sample) At(i, c int) float64 {
	if s.Layout == ChannelMajor {
		return s.Sequence[c*s.Length()+i]
	}
	return s.Sequence[i*Channels+c]
}
