// Package radio provides the UDP-broadcast Transport used when the mesh
// coordinator runs on ordinary network hardware rather than an nRF51
// BLE radio: broadcast frames stand in for advertising PDUs, and every
// node on the broadcast domain behaves as though it were within radio
// range of every other node.
package radio
