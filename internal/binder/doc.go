// Package binder resolves configuration value trees.
//
// Resolve walks a tree depth-first, left to right in declaration order,
// replacing ImportDirectives with the symbols they name and
// ComponentDirectives with constructed objects. Arguments are always fully
// resolved before the directive that owns them is constructed. Before any
// construction happens the whole tree is validated, so a document with an
// unresolvable name constructs nothing.
//
// Decode turns resolved values into the typed input structs of components,
// using `conf:"name"` field tags.
package binder
