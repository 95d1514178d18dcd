// Package build compiles the target program in release mode with an
// instrumentation feature enabled.
//
// The build runs under the environment returned by toolchain selection, so
// the compiler channel is an input of every invocation rather than global
// state. The resulting [Artifact] path is deterministic:
// <target-dir>/release/<binary>, where the target directory honors
// CARGO_TARGET_DIR and the binary name comes from configuration or the
// manifest.
package build
