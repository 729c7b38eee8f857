// Package log wraps zerolog with the daemon's component-scoped logger
// helpers (WithComponent, WithNode, WithVM, WithNetwork). Every PVC
// subsystem logs through a child logger scoped to whatever it's acting
// on, so a single grep for a node name or VM UUID pulls every relevant
// line regardless of which component emitted it.
package log
