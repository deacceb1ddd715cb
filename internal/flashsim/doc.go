// Package flashsim provides dfu.Writer implementations standing in for
// the flash bank the real bootloader writes to: MemoryWriter for tests
// and in-process simulation, FileWriter backed by a sparse file for the
// daemon. Neither package in the example corpus models raw block storage,
// so both reach directly for the standard library (os, crypto/sha256)
// rather than a third-party dependency; see DESIGN.md.
package flashsim
