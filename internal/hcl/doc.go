// Package hcl provides the HCL implementation of config.Loader.
//
// Documents are plain HCL bodies: top-level attributes and unlabeled blocks
// become keys of the root mapping, in source order. Two functions mark
// directives: obj("ns.Name", { ... }) constructs a component and
// import("ns.Name") binds a symbol. null marks a value as explicitly unset.
package hcl
