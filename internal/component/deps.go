package component

// Dependencies injected by the builder into components whose construction
// is deferred. A factory declares which one it needs through its deps type.

// OptimizerDeps binds an optimizer to the model parameters.
type OptimizerDeps struct {
	Params []*Parameter
	LR     float64
}

// SchedulerDeps binds a scheduler to an optimizer.
type SchedulerDeps struct {
	Optimizer Optimizer
}

// DatasetDeps selects the partition a dataset instance serves.
type DatasetDeps struct {
	Split     Split
	CellTypes []string
	// AllCellTypes fixes the global cell type index space.
	AllCellTypes []string
	Transform    Transform
	Debug        bool
}

// LoaderDeps binds a loader to its dataset and sampler.
type LoaderDeps struct {
	Dataset Dataset
	Sampler Sampler
}
