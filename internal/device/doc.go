// Package device implements the connection lifecycle of a single BLE peripheral.
//
// A Peripheral wraps the latest advertisement snapshot and a ConnectionManager.
// The manager serializes every lifecycle event through the pure Transition
// function and executes the resulting effects against a Transport:
//   - connect, disconnect and service discovery
//   - reads, writes and notification toggles executed one at a time in FIFO order
//   - reconnection after unexpected drops, bounded by ReconnectionSettings
//
// Every submitted Action resolves its Completion exactly once, either with the
// transport result or with ErrActionCancelled when the link goes away first.
package device
