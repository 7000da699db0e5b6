// Package pipeline binds FMU variables to bus topics and moves their values
// across.
//
// Configure turns a model description and user overrides into a Layout:
// scalar and array variables become topics of their own, variables with
// structured names ("pose.x", "pose.y") are assembled into one structure
// per root segment. A Pipeline then exports output topics into wire
// payloads and imports input payloads into the FMU.
//
// Outbound values pass through the inverse unit conversion, the linear
// transformation and a cast to the wire type; inbound values take the
// reverse path. Integer values that need no arithmetic are cast without
// going through float64.
package pipeline
