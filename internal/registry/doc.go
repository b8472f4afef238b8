// Package registry provides the central "glue" between experiment documents
// and compiled Go code.
//
// The Registry maps the qualified names used in documents (for example
// "optim.StepLR") to component factories and importable symbols. Names are
// grouped into namespaces; each namespace is contributed by a Module from a
// fixed, compiled-in list and is only loaded the first time one of its names
// is looked up. No name outside a registered namespace can ever resolve,
// which keeps the set of things a document can construct auditable.
package registry
