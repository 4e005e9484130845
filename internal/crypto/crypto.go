// Package crypto implements the key derivation and message encryption used
// by the wormhole core: HKDF-SHA256 subkey derivation and XSalsa20-Poly1305
// authenticated encryption of phase messages.
package crypto

import (
	"crypto/sha256"
	crand "crypto/rand"
	"errors"
	"io"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/nacl/secretbox"
)

// KeySize is the size in bytes of the shared SPAKE2 session key and of the
// phase keys and verifier HKDF derives from it. DerivePurposeKey takes its
// output length from the caller.
const KeySize = 32

const nonceSize = 24

// ErrDecrypt is returned when a ciphertext fails to authenticate.
var ErrDecrypt = errors.New("crypto: message did not decrypt")

// hkdfExpand runs HKDF-SHA256 with an empty salt and the given info string,
// producing n bytes of output keying material from ikm.
func hkdfExpand(ikm []byte, info []byte, n int) []byte {
	r := hkdf.New(sha256.New, ikm, nil, info)
	out := make([]byte, n)
	if _, err := io.ReadFull(r, out); err != nil {
		// hkdf.New's Reader only fails if asked for more output than
		// HKDF-SHA256 can ever produce (255*32 bytes); n is always far
		// below that here.
		panic(err)
	}
	return out
}

// DerivePhaseKey derives the per-message key for a phase sent or received by
// side, per spec: HKDF(key, info = "wormhole:phase" || SHA256(side) ||
// SHA256(phase)).
func DerivePhaseKey(key []byte, side, phase string) []byte {
	sideHash := sha256.Sum256([]byte(side))
	phaseHash := sha256.Sum256([]byte(phase))
	info := make([]byte, 0, len("wormhole:phase")+len(sideHash)+len(phaseHash))
	info = append(info, "wormhole:phase"...)
	info = append(info, sideHash[:]...)
	info = append(info, phaseHash[:]...)
	return hkdfExpand(key, info, KeySize)
}

// DeriveVerifier derives the HKDF-based fingerprint of the session key that
// is safe to display to the user for out-of-band confirmation.
func DeriveVerifier(key []byte) []byte {
	return hkdfExpand(key, []byte("wormhole:verifier"), KeySize)
}

// DerivePurposeKey derives an application subkey for purpose from the
// session key. Used by application protocols layered on top of the core
// (e.g. transit); the core itself does not call this.
func DerivePurposeKey(key []byte, purpose string, length int) []byte {
	return hkdfExpand(key, []byte(purpose), length)
}

// Seal encrypts plaintext under key (which must be KeySize bytes) with a
// fresh random 24-byte nonce, returning nonce||ciphertext.
func Seal(key, plaintext []byte) ([]byte, error) {
	if len(key) != KeySize {
		return nil, errors.New("crypto: bad key size")
	}
	var k [KeySize]byte
	copy(k[:], key)
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(crand.Reader, nonce[:]); err != nil {
		return nil, err
	}
	out := make([]byte, 0, nonceSize+len(plaintext)+secretbox.Overhead)
	out = append(out, nonce[:]...)
	return secretbox.Seal(out, plaintext, &nonce, &k), nil
}

// Open decrypts a nonce||ciphertext message produced by Seal. It returns
// ErrDecrypt if authentication fails.
func Open(key, message []byte) ([]byte, error) {
	if len(key) != KeySize {
		return nil, errors.New("crypto: bad key size")
	}
	if len(message) < nonceSize {
		return nil, ErrDecrypt
	}
	var k [KeySize]byte
	copy(k[:], key)
	var nonce [nonceSize]byte
	copy(nonce[:], message[:nonceSize])
	plaintext, ok := secretbox.Open(nil, message[nonceSize:], &nonce, &k)
	if !ok {
		return nil, ErrDecrypt
	}
	return plaintext, nil
}
