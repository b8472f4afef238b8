package optim

import (
	"context"
	"fmt"
	"math"

	"github.com/vk/trainspec/internal/component"
	"github.com/vk/trainspec/internal/config"
)

// StepLRInput are the class_args of optim.StepLR.
type StepLRInput struct {
	StepSize int                      `conf:"step_size,required"`
	Gamma    config.Optional[float64] `conf:"gamma"`
}

// StepLR decays the LR by gamma every step_size steps.
type StepLR struct {
	opt      component.Optimizer
	baseLR   float64
	stepSize int
	gamma    float64
	steps    int
}

// NewStepLR is the constructor registered as optim.StepLR.
func NewStepLR(_ context.Context, deps *component.SchedulerDeps, in *StepLRInput) (any, error) {
	if deps.Optimizer == nil {
		return nil, fmt.Errorf("scheduler needs an optimizer")
	}
	if in.StepSize <= 0 {
		return nil, fmt.Errorf("step_size must be positive, got %d", in.StepSize)
	}
	return &StepLR{opt: deps.Optimizer, baseLR: deps.Optimizer.LR(), stepSize: in.StepSize, gamma: in.Gamma.OrElse(0.1)}, nil
}

// OnStep implements component.Scheduler.
func (s *StepLR) OnStep() {
	s.steps++
	s.opt.SetLR(s.baseLR * math.Pow(s.gamma, float64(s.steps/s.stepSize)))
}

// OnValidation implements component.Scheduler.
func (s *StepLR) OnValidation(float64) {}

// ExponentialLRInput are the class_args of optim.ExponentialLR.
type ExponentialLRInput struct {
	Gamma float64 `conf:"gamma,required"`
}

// ExponentialLR decays the LR by gamma every step.
type ExponentialLR struct {
	opt    component.Optimizer
	baseLR float64
	gamma  float64
	steps  int
}

// NewExponentialLR is the constructor registered as optim.ExponentialLR.
func NewExponentialLR(_ context.Context, deps *component.SchedulerDeps, in *ExponentialLRInput) (any, error) {
	if deps.Optimizer == nil {
		return nil, fmt.Errorf("scheduler needs an optimizer")
	}
	if in.Gamma <= 0 {
		return nil, fmt.Errorf("gamma must be positive, got %g", in.Gamma)
	}
	return &ExponentialLR{opt: deps.Optimizer, baseLR: deps.Optimizer.LR(), gamma: in.Gamma}, nil
}

func (s *ExponentialLR) OnStep() {
	s.steps++
	s.opt.SetLR(s.baseLR * math.Pow(s.gamma, float64(s.steps)))
}

func (s *ExponentialLR) OnValidation(float64) {}

// CosineInput are the class_args of optim.CosineAnnealingLR.
type CosineInput struct {
	TMax   int     `conf:"t_max,required"`
	EtaMin float64 `conf:"eta_min"`
}

// CosineAnnealingLR follows half a cosine from the base LR down to eta_min
// over t_max steps and then back up, as the closed form does.
type CosineAnnealingLR struct {
	opt    component.Optimizer
	baseLR float64
	tMax   int
	etaMin float64
	steps  int
}

// NewCosineAnnealingLR is the constructor registered as
// optim.CosineAnnealingLR.
func NewCosineAnnealingLR(_ context.Context, deps *component.SchedulerDeps, in *CosineInput) (any, error) {
	if deps.Optimizer == nil {
		return nil, fmt.Errorf("scheduler needs an optimizer")
	}
	if in.TMax <= 0 {
		return nil, fmt.Errorf("t_max must be positive, got %d", in.TMax)
	}
	return &CosineAnnealingLR{opt: deps.Optimizer, baseLR: deps.Optimizer.LR(), tMax: in.TMax, etaMin: in.EtaMin}, nil
}

func (s *CosineAnnealingLR) OnStep() {
	s.steps++
	cosine := 0.5 * (1 + math.Cos(math.Pi*float64(s.steps)/float64(s.tMax)))
	s.opt.SetLR(s.etaMin + (s.baseLR-s.etaMin)*cosine)
}

func (s *CosineAnnealingLR) OnValidation(float64) {}

// PlateauInput are the class_args of optim.ReduceLROnPlateau.
type PlateauInput struct {
	Mode      config.Optional[string]  `conf:"mode"`
	Factor    config.Optional[float64] `conf:"factor"`
	Patience  config.Optional[int]     `conf:"patience"`
	Threshold config.Optional[float64] `conf:"threshold"`
	Cooldown  int                      `conf:"cooldown"`
	MinLR     float64                  `conf:"min_lr"`
	Verbose   bool                     `conf:"verbose"`
}

// ReduceLROnPlateau multiplies the LR by factor after patience validation
// passes without a relative improvement of threshold.
type ReduceLROnPlateau struct {
	opt       component.Optimizer
	maximize  bool
	factor    float64
	patience  int
	threshold float64
	cooldown  int
	minLR     float64

	best         float64
	badEpochs    int
	cooldownLeft int
}

// NewReduceLROnPlateau is the constructor registered as
// optim.ReduceLROnPlateau.
func NewReduceLROnPlateau(_ context.Context, deps *component.SchedulerDeps, in *PlateauInput) (any, error) {
	if deps.Optimizer == nil {
		return nil, fmt.Errorf("scheduler needs an optimizer")
	}
	mode := in.Mode.OrElse("min")
	if mode != "min" && mode != "max" {
		return nil, fmt.Errorf(`mode must be "min" or "max", got %q`, mode)
	}
	factor := in.Factor.OrElse(0.1)
	if factor <= 0 || factor >= 1 {
		return nil, fmt.Errorf("factor must be in (0, 1), got %g", factor)
	}
	s := &ReduceLROnPlateau{
		opt:       deps.Optimizer,
		maximize:  mode == "max",
		factor:    factor,
		patience:  in.Patience.OrElse(10),
		threshold: in.Threshold.OrElse(1e-4),
		cooldown:  in.Cooldown,
		minLR:     in.MinLR,
		best:      math.Inf(1),
	}
	if s.maximize {
		s.best = math.Inf(-1)
	}
	return s, nil
}

func (s *ReduceLROnPlateau) OnStep() {}

func (s *ReduceLROnPlateau) improved(v float64) bool {
	if s.maximize {
		return v > s.best*(1+s.threshold)
	}
	return v < s.best*(1-s.threshold)
}

// OnValidation implements component.Scheduler.
func (s *ReduceLROnPlateau) OnValidation(loss float64) {
	if s.improved(loss) {
		s.best = loss
		s.badEpochs = 0
	} else {
		s.badEpochs++
	}
	if s.cooldownLeft > 0 {
		s.cooldownLeft--
		s.badEpochs = 0
	}
	if s.badEpochs > s.patience {
		s.opt.SetLR(math.Max(s.opt.LR()*s.factor, s.minLR))
		s.cooldownLeft = s.cooldown
		s.badEpochs = 0
	}
}
