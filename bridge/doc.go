// Package bridge runs a data-exchange session between one co-simulation FMU
// and a bus.
//
// A Session owns the stepping loop. Before every FMU step it drains the
// delivery buffers filled by bus callbacks and writes the samples, CAN
// operations and RPC messages that are due into the FMU; after the step it
// reads the FMU outputs and publishes them stamped with the time the FMU
// reached. Peers stepping with the same step size therefore see each other's
// outputs exactly one step later.
//
// Lifecycle: New, Initialize, any number of Step (or Run), Terminate.
package bridge
