package dfu

import (
	"crypto/ecdsa"
	"crypto/sha256"
)

// Verifier computes a SHA-256 over a completed image in one pass and validates
// the trailing ECDSA signature against the provisioned public key (§4.G).
type Verifier struct {
	publicKey *ecdsa.PublicKey
}

// NewVerifier builds a Verifier bound to the info view's provisioned key,
// which may be nil.
func NewVerifier(publicKey *ecdsa.PublicKey) *Verifier {
	return &Verifier{publicKey: publicKey}
}

// Check validates an image already committed to flash. image is the full
// committed byte range at the bank address; sigLength is the number of
// trailing bytes that hold the ASN.1 DER-encoded ECDSA signature rather
// than image content.
//
// Per §4.F / §4.G / bootloader_mesh.c's signature_check: a missing public
// key accepts unconditionally; a present key with sigLength == 0 always
// rejects; otherwise the SHA-256 of the image bytes excluding the trailing
// signature is verified against that signature.
func (v *Verifier) Check(image []byte, sigLength uint32) bool {
	if v.publicKey == nil {
		return true
	}
	if sigLength == 0 {
		return false
	}
	if uint32(len(image)) < sigLength {
		return false
	}
	split := uint32(len(image)) - sigLength
	digest := sha256.Sum256(image[:split])
	return ecdsa.VerifyASN1(v.publicKey, digest[:], image[split:])
}
