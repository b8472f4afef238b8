// Package app contains the core application logic. It defines the App
// struct, its configuration, and the load, build and execute lifecycle of a
// run, decoupled from any specific entrypoint like a CLI.
package app
