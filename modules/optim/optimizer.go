package optim

import (
	"context"
	"fmt"
	"math"

	"github.com/vk/trainspec/internal/component"
	"github.com/vk/trainspec/internal/config"
)

// base carries what every optimizer shares: the parameters and the LR.
type base struct {
	params []*component.Parameter
	lr     float64
}

func newBase(deps *component.OptimizerDeps) (base, error) {
	if len(deps.Params) == 0 {
		return base{}, fmt.Errorf("optimizer needs at least one parameter")
	}
	if deps.LR <= 0 {
		return base{}, fmt.Errorf("lr must be positive, got %g", deps.LR)
	}
	return base{params: deps.Params, lr: deps.LR}, nil
}

func (b *base) LR() float64      { return b.lr }
func (b *base) SetLR(lr float64) { b.lr = lr }

func (b *base) ZeroGrad() {
	for _, p := range b.params {
		p.ZeroGrad()
	}
}

// buffers allocates one zeroed slice per parameter.
func (b *base) buffers() [][]float64 {
	out := make([][]float64, len(b.params))
	for i, p := range b.params {
		out[i] = make([]float64, len(p.Data))
	}
	return out
}

func (b *base) saveBuffers(state map[string][]float64, suffix string, bufs [][]float64) {
	for i, p := range b.params {
		state[p.Name+"."+suffix] = append([]float64(nil), bufs[i]...)
	}
}

// loadBuffers restores buffers saved by saveBuffers. A missing buffer
// leaves the current one untouched.
func (b *base) loadBuffers(state map[string][]float64, suffix string, bufs [][]float64) error {
	for i, p := range b.params {
		v, ok := state[p.Name+"."+suffix]
		if !ok {
			continue
		}
		if len(v) != len(bufs[i]) {
			return fmt.Errorf("optimizer state %s.%s has %d values, expected %d", p.Name, suffix, len(v), len(bufs[i]))
		}
		copy(bufs[i], v)
	}
	return nil
}

// SGDInput are the class_args of optim.SGD.
type SGDInput struct {
	Momentum    float64 `conf:"momentum"`
	WeightDecay float64 `conf:"weight_decay"`
	Nesterov    bool    `conf:"nesterov"`
}

// SGD updates param -= lr * (grad + weight_decay * param), with optional
// momentum.
type SGD struct {
	base
	momentum    float64
	weightDecay float64
	nesterov    bool
	velocity    [][]float64
}

// NewSGD is the constructor registered as optim.SGD.
func NewSGD(_ context.Context, deps *component.OptimizerDeps, in *SGDInput) (any, error) {
	b, err := newBase(deps)
	if err != nil {
		return nil, err
	}
	if in.Momentum < 0 || in.WeightDecay < 0 {
		return nil, fmt.Errorf("momentum and weight_decay must be non-negative")
	}
	if in.Nesterov && in.Momentum == 0 {
		return nil, fmt.Errorf("nesterov momentum requires a positive momentum")
	}
	opt := &SGD{base: b, momentum: in.Momentum, weightDecay: in.WeightDecay, nesterov: in.Nesterov}
	opt.velocity = opt.buffers()
	return opt, nil
}

// Step implements component.Optimizer.
func (o *SGD) Step() {
	for i, p := range o.params {
		v := o.velocity[i]
		for j := range p.Data {
			g := p.Grad[j] + o.weightDecay*p.Data[j]
			if o.momentum != 0 {
				v[j] = o.momentum*v[j] + g
				if o.nesterov {
					g += o.momentum * v[j]
				} else {
					g = v[j]
				}
			}
			p.Data[j] -= o.lr * g
		}
	}
}

// State implements component.Optimizer.
func (o *SGD) State() map[string][]float64 {
	state := map[string][]float64{"lr": {o.lr}}
	if o.momentum != 0 {
		o.saveBuffers(state, "momentum_buffer", o.velocity)
	}
	return state
}

// LoadState implements component.Optimizer.
func (o *SGD) LoadState(state map[string][]float64) error {
	if lr, ok := state["lr"]; ok && len(lr) == 1 {
		o.lr = lr[0]
	}
	return o.loadBuffers(state, "momentum_buffer", o.velocity)
}

// AdamInput are the class_args of optim.Adam.
type AdamInput struct {
	Betas       config.Optional[[]float64] `conf:"betas"`
	Eps         config.Optional[float64]   `conf:"eps"`
	WeightDecay float64                    `conf:"weight_decay"`
}

// Adam keeps first and second moment estimates per parameter and applies
// bias correction.
type Adam struct {
	base
	beta1, beta2 float64
	eps          float64
	weightDecay  float64
	m, v         [][]float64
	t            int
}

// NewAdam is the constructor registered as optim.Adam.
func NewAdam(_ context.Context, deps *component.OptimizerDeps, in *AdamInput) (any, error) {
	b, err := newBase(deps)
	if err != nil {
		return nil, err
	}
	betas := in.Betas.OrElse([]float64{0.9, 0.999})
	if len(betas) != 2 {
		return nil, fmt.Errorf("betas must have two values, got %d", len(betas))
	}
	for _, beta := range betas {
		if beta < 0 || beta >= 1 {
			return nil, fmt.Errorf("betas must be in [0, 1), got %v", betas)
		}
	}
	opt := &Adam{
		base:        b,
		beta1:       betas[0],
		beta2:       betas[1],
		eps:         in.Eps.OrElse(1e-8),
		weightDecay: in.WeightDecay,
	}
	opt.m = opt.buffers()
	opt.v = opt.buffers()
	return opt, nil
}

// Step implements component.Optimizer.
func (o *Adam) Step() {
	o.t++
	bias1 := 1 - math.Pow(o.beta1, float64(o.t))
	bias2 := 1 - math.Pow(o.beta2, float64(o.t))
	for i, p := range o.params {
		m, v := o.m[i], o.v[i]
		for j := range p.Data {
			g := p.Grad[j] + o.weightDecay*p.Data[j]
			m[j] = o.beta1*m[j] + (1-o.beta1)*g
			v[j] = o.beta2*v[j] + (1-o.beta2)*g*g
			p.Data[j] -= o.lr * (m[j] / bias1) / (math.Sqrt(v[j]/bias2) + o.eps)
		}
	}
}

// State implements component.Optimizer.
func (o *Adam) State() map[string][]float64 {
	state := map[string][]float64{"lr": {o.lr}, "step": {float64(o.t)}}
	o.saveBuffers(state, "exp_avg", o.m)
	o.saveBuffers(state, "exp_avg_sq", o.v)
	return state
}

// LoadState implements component.Optimizer.
func (o *Adam) LoadState(state map[string][]float64) error {
	if lr, ok := state["lr"]; ok && len(lr) == 1 {
		o.lr = lr[0]
	}
	if step, ok := state["step"]; ok && len(step) == 1 {
		o.t = int(step[0])
	}
	if err := o.loadBuffers(state, "exp_avg", o.m); err != nil {
		return err
	}
	return o.loadBuffers(state, "exp_avg_sq", o.v)
}
