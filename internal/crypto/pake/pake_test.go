package pake

import "testing"

func TestBothSidesDeriveSameKey(t *testing.T) {
	a := New("test-app", "1-foo-bar", true)
	b := New("test-app", "1-foo-bar", false)

	msgA := a.Start()
	msgB := b.Start()

	keyA, err := a.Finish(msgB)
	if err != nil {
		t.Fatalf("A.Finish: %v", err)
	}
	keyB, err := b.Finish(msgA)
	if err != nil {
		t.Fatalf("B.Finish: %v", err)
	}
	if string(keyA) != string(keyB) {
		t.Errorf("sides derived different keys")
	}
}

func TestMismatchedPasswordsDeriveDifferentKeys(t *testing.T) {
	a := New("test-app", "1-foo-bar", true)
	b := New("test-app", "1-foo-baz", false)

	msgA := a.Start()
	msgB := b.Start()

	keyA, err := a.Finish(msgB)
	if err != nil {
		t.Fatalf("A.Finish: %v", err)
	}
	keyB, err := b.Finish(msgA)
	if err != nil {
		t.Fatalf("B.Finish: %v", err)
	}
	if string(keyA) == string(keyB) {
		t.Errorf("mismatched passwords derived the same key")
	}
}
