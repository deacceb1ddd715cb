// Package infopage persists the device's info page to disk as YAML: the
// health flags, firmware identity triple, three flash segments, and
// optional ECDSA public key that dfu.NewInfoView requires (§4.A). It is
// the on-disk counterpart of the nRF51 bootloader's info page, which on
// real hardware is a region of flash rather than a file.
package infopage
