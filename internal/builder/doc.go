/*
Package builder assembles a run from a loaded experiment document.

Building happens in two halves. The first half has no side effects:

 1. Required keys and the ops list are checked.
 2. Every directive name in the document, and every class named by a
    string, is looked up in the registry without constructing anything.
 3. Cross-field consistency is checked against the small dataset files
    (folds, target features) so a mismatched model fails before the
    reference genome is read.

The second half constructs. The seed is fixed, the resume checkpoint is
read, the output directory is claimed, and the components are built in
dependency order: transforms, datasets, loaders, criterion, model,
optimizer, scheduler, resume, driver. The order is a dag.Graph, so a
stage always runs after the stages it consumes.

Deferred construction is explicit: a component directive (obj(...) or
!obj:) is always built as soon as it is resolved. A class that needs
injected dependencies (a dataset, an optimizer, a scheduler) is named at
a `class` position, either by qualified name or with import(...), and its
arguments sit next to it under `class_args`.
*/
package builder
