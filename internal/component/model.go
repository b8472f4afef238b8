package component

import (
	"fmt"
	"sort"
)

// Parameter is a named trainable tensor stored flat, with its gradient.
type Parameter struct {
	Name string
	Data []float64
	Grad []float64
}

// NewParameter allocates a zeroed parameter of size n.
func NewParameter(name string, n int) *Parameter {
	return &Parameter{Name: name, Data: make([]float64, n), Grad: make([]float64, n)}
}

// ZeroGrad clears the gradient.
func (p *Parameter) ZeroGrad() {
	for i := range p.Grad {
		p.Grad[i] = 0
	}
}

// Model maps a sample to one prediction per target feature and
// accumulates parameter gradients for a prediction gradient.
type Model interface {
	Forward(s *Sample) []float64
	Backward(s *Sample, gradOut []float64)
	Parameters() []*Parameter
}

// CellTypeEmbedder is implemented by models that learn cell type
// embeddings; the driver logs them alongside checkpoints.
type CellTypeEmbedder interface {
	CellTypeEmbeddings() [][]float64
}

// StateDict is a snapshot of a model's parameters keyed by name.
type StateDict map[string][]float64

// StateDictOf copies the current parameter values of m.
func StateDictOf(m Model) StateDict {
	out := make(StateDict)
	for _, p := range m.Parameters() {
		out[p.Name] = append([]float64(nil), p.Data...)
	}
	return out
}

// LoadStateDict overwrites the parameters of m with the values in sd.
// Every parameter must be present with a matching size, and sd may not
// contain unknown names.
func LoadStateDict(m Model, sd StateDict) error {
	params := m.Parameters()
	known := make(map[string]struct{}, len(params))
	for _, p := range params {
		known[p.Name] = struct{}{}
		v, ok := sd[p.Name]
		if !ok {
			return fmt.Errorf("state dict is missing parameter %q", p.Name)
		}
		if len(v) != len(p.Data) {
			return fmt.Errorf("parameter %q has %d values in state dict, model expects %d", p.Name, len(v), len(p.Data))
		}
	}
	var unknown []string
	for name := range sd {
		if _, ok := known[name]; !ok {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return fmt.Errorf("state dict has unexpected parameters %v", unknown)
	}
	for _, p := range params {
		copy(p.Data, sd[p.Name])
	}
	return nil
}
