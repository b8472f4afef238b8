// Package executor runs the ops of a built run in order.
//
// Op names are validated before the first op starts. An op failure stops
// the run; files written by earlier ops are kept.
package executor
