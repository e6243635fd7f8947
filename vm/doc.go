// Package vm implements the value core and the ZAM executor.
//
// This package contains:
//   - Script types and reference-counted boxed values
//   - The untyped ZVal frame representation
//   - ZAM vectors and records with lazily materialized elements
//   - Bytecode, the executor and its profiler
package vm
