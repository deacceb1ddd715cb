// Package dfu implements the mesh device-firmware-update coordinator: the
// beacon-driven discovery, authority election, segmented transfer, and
// cryptographic acceptance gate that carry a firmware image from a peer
// to local flash.
//
// The package owns no radio, flash, or clock hardware itself. It speaks to
// those through the Transport, Writer, and TimeoutSource interfaces, so the
// same Coordinator runs unmodified against a simulated mesh in tests and
// against the concrete UDP/file-backed implementations used by the daemon.
package dfu
