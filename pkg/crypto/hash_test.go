package crypto

import "testing"

func TestSha256Hex(t *testing.T) {
	// echo -n "abc" | sha256sum
	const want = "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
	if got := Sha256Hex("abc"); got != want {
		t.Fatalf("Sha256Hex(abc) = %s, want %s", got, want)
	}
}

func TestEmailFingerprintNormalizes(t *testing.T) {
	a := EmailFingerprint("  Alice@Example.com ")
	b := EmailFingerprint("alice@example.com")
	if a != b {
		t.Fatalf("fingerprints differ: %s vs %s", a, b)
	}
	if a == EmailFingerprint("bob@example.com") {
		t.Fatal("different addresses share a fingerprint")
	}
}
