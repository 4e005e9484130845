package uri

import "testing"

func testRoundTrip(t *testing.T, tu TransferURI, want string) {
	t.Helper()
	if got := tu.String(); got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
	parsed, err := Parse(want)
	if err != nil {
		t.Fatalf("Parse(%q): %v", want, err)
	}
	if parsed != tu {
		t.Errorf("Parse(%q) = %+v, want %+v", want, parsed, tu)
	}
}

func TestRoundTrip(t *testing.T) {
	testRoundTrip(t, New("4-hurricane-equipment"), "wormhole-transfer:4-hurricane-equipment")
}

func TestRoundTripUnicodeCode(t *testing.T) {
	testRoundTrip(t, New("8-\U0001F648-\U0001F649-\U0001F64A"),
		"wormhole-transfer:8-%F0%9F%99%88-%F0%9F%99%89-%F0%9F%99%8A")
}

func TestRoundTripWithServerAndRole(t *testing.T) {
	tu := TransferURI{
		Code:             "8-\U0001F648-\U0001F649-\U0001F64A",
		RendezvousServer: "ws://localhost:4000",
		IsLeader:         true,
	}
	testRoundTrip(t, tu,
		"wormhole-transfer:8-%F0%9F%99%88-%F0%9F%99%89-%F0%9F%99%8A?rendezvous=ws%3A%2F%2Flocalhost%3A4000&role=leader")
}

func TestUnsupportedVersion(t *testing.T) {
	_, err := Parse("wormhole-transfer:4-hurricane-equipment?version=42")
	if _, ok := err.(*UnsupportedVersionError); !ok {
		t.Errorf("Parse with version=42: got %v, want *UnsupportedVersionError", err)
	}
}

func TestMissingCode(t *testing.T) {
	_, err := Parse("wormhole-transfer:")
	if err != ErrMissingCode {
		t.Errorf("Parse with no code: got %v, want ErrMissingCode", err)
	}
}

func TestWrongScheme(t *testing.T) {
	if _, err := Parse("https://example.com/4-foo-bar"); err == nil {
		t.Errorf("Parse with wrong scheme: got nil error")
	}
}

func TestInvalidRole(t *testing.T) {
	_, err := Parse("wormhole-transfer:4-foo-bar?role=bogus")
	if _, ok := err.(*InvalidRoleError); !ok {
		t.Errorf("Parse with bad role: got %v, want *InvalidRoleError", err)
	}
}
