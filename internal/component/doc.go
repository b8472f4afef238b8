// Package component declares the narrow interfaces through which the
// resolver drives the external collaborators of a training run: models,
// criteria, optimizers, schedulers, datasets, transforms, samplers, loaders,
// metrics and the training driver.
//
// Modules under modules/ implement these interfaces and register factories
// for them in the component registry. The builder only ever talks to them
// through this package.
package component
