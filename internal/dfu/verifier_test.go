package dfu

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"testing"
)

func TestVerifierAcceptsWithoutPublicKey(t *testing.T) {
	v := NewVerifier(nil)
	if !v.Check([]byte("anything"), 0) {
		t.Fatal("no public key should accept unconditionally")
	}
}

func TestVerifierRejectsZeroSignatureLength(t *testing.T) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	v := NewVerifier(&priv.PublicKey)
	if v.Check([]byte("image"), 0) {
		t.Fatal("a present public key with signature_length 0 must reject")
	}
}

func TestVerifierAcceptsValidSignature(t *testing.T) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	v := NewVerifier(&priv.PublicKey)

	imageBody := []byte("the flashed firmware bytes")
	digest := sha256.Sum256(imageBody)
	sig, err := ecdsa.SignASN1(rand.Reader, priv, digest[:])
	if err != nil {
		t.Fatalf("SignASN1: %v", err)
	}

	image := append(append([]byte(nil), imageBody...), sig...)
	if !v.Check(image, uint32(len(sig))) {
		t.Fatal("expected signature to verify")
	}
}

func TestVerifierRejectsTamperedImage(t *testing.T) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	v := NewVerifier(&priv.PublicKey)

	imageBody := []byte("the flashed firmware bytes")
	digest := sha256.Sum256(imageBody)
	sig, err := ecdsa.SignASN1(rand.Reader, priv, digest[:])
	if err != nil {
		t.Fatalf("SignASN1: %v", err)
	}

	tampered := append([]byte(nil), imageBody...)
	tampered[0] ^= 0xFF
	image := append(tampered, sig...)
	if v.Check(image, uint32(len(sig))) {
		t.Fatal("expected tampered image to fail verification")
	}
}
