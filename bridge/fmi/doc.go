// Package fmi describes the FMU side of the bridge.
//
// The native FMI library and its call sequence are not part of this module.
// They are consumed through the Instance interface; Binding wraps an Instance
// and translates FMI status codes into errors and log entries.
//
// ModelDescription is the statically-typed subset of an FMI 2.0 or 3.0
// modelDescription.xml the bridge needs: variables with causality, native
// kind, dimensions, declared type and unit, enumeration type definitions and
// the default experiment.
//
// NativeValues carries values in the FMU's representation: fixed-width
// elements in host byte order, strings as Go strings, and binary values as
// concatenated bytes with a separate per-element size list.
package fmi
