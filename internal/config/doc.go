// Package config defines the format-agnostic experiment document model:
// the tagged-union Value tree, the ordered Mapping, key-chain Paths used in
// diagnostics, and the Loader interface implemented by concrete formats.
//
// A Document is the single source of truth for the binder and builder
// packages. Concrete loaders for HCL and YAML live in separate packages.
package config
