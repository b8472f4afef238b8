// Package dag is a small dependency graph of string IDs. The builder uses
// it to order construction stages: a stage runs only after every stage it
// depends on, and ties are broken by declaration order so the order is
// the same on every run.
package dag
