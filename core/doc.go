// Package core defines the domain types shared across threadmesh: threads,
// messages, tool call records, the reasoning outcome variant and the error
// taxonomy surfaced to clients.
package core
