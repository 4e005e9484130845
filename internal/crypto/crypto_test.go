package crypto

import "testing"

func TestSealOpenRoundTrip(t *testing.T) {
	key := make([]byte, KeySize)
	for i := range key {
		key[i] = byte(i)
	}
	plaintext := []byte("hello wormhole")

	ct, err := Seal(key, plaintext)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	pt, err := Open(key, ct)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if string(pt) != string(plaintext) {
		t.Errorf("got %q, want %q", pt, plaintext)
	}
}

func TestOpenRejectsTamperedCiphertext(t *testing.T) {
	key := make([]byte, KeySize)
	ct, err := Seal(key, []byte("message"))
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	ct[len(ct)-1] ^= 0xff
	if _, err := Open(key, ct); err != ErrDecrypt {
		t.Errorf("Open on tampered ciphertext: got %v, want ErrDecrypt", err)
	}
}

func TestSealUsesFreshNonce(t *testing.T) {
	key := make([]byte, KeySize)
	a, err := Seal(key, []byte("same plaintext"))
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	b, err := Seal(key, []byte("same plaintext"))
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if string(a) == string(b) {
		t.Errorf("two seals of the same plaintext produced identical ciphertext")
	}
}

func TestDerivePhaseKeyDependsOnSideAndPhase(t *testing.T) {
	key := make([]byte, KeySize)
	k1 := DerivePhaseKey(key, "aaaa", "0")
	k2 := DerivePhaseKey(key, "bbbb", "0")
	k3 := DerivePhaseKey(key, "aaaa", "1")

	if string(k1) == string(k2) {
		t.Errorf("phase key did not depend on side")
	}
	if string(k1) == string(k3) {
		t.Errorf("phase key did not depend on phase")
	}
}

func TestDeriveVerifierDeterministic(t *testing.T) {
	key := []byte("01234567890123456789012345678901")
	v1 := DeriveVerifier(key)
	v2 := DeriveVerifier(key)
	if string(v1) != string(v2) {
		t.Errorf("DeriveVerifier not deterministic")
	}
}

func TestSealRejectsBadKeySize(t *testing.T) {
	if _, err := Seal([]byte("short"), []byte("x")); err == nil {
		t.Errorf("Seal with bad key size: got nil error")
	}
}
