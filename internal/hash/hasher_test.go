package hash

import (
	"encoding/binary"
	"encoding/hex"
	"testing"

	"github.com/cespare/xxhash/v2"
)

func TestHex_MatchesXXHash(t *testing.T) {
	content := []byte("Hello, World!")

	got := Hex(content)

	h := xxhash.New()
	h.Write(content)
	expected := hex.EncodeToString(h.Sum(nil))

	if got != expected {
		t.Errorf("Hash mismatch: expected %s, got %s", expected, got)
	}
}

func TestHex_Empty(t *testing.T) {
	if len(Hex(nil)) != 16 {
		t.Errorf("Expected 16 hex chars for empty input, got %q", Hex(nil))
	}
}

func TestXXHashFunc_BigEndian(t *testing.T) {
	data := []byte("leaf")

	out, err := XXHashFunc(data)
	if err != nil {
		t.Fatalf("XXHashFunc failed: %v", err)
	}

	if len(out) != 8 {
		t.Fatalf("Expected 8 bytes, got %d", len(out))
	}

	if binary.BigEndian.Uint64(out) != xxhash.Sum64(data) {
		t.Error("XXHashFunc output should be the big-endian xxHash64 of the input")
	}
}

func TestXXHashFunc_Deterministic(t *testing.T) {
	a, _ := XXHashFunc([]byte("same"))
	b, _ := XXHashFunc([]byte("same"))
	c, _ := XXHashFunc([]byte("other"))

	if hex.EncodeToString(a) != hex.EncodeToString(b) {
		t.Error("Same input should produce same hash")
	}
	if hex.EncodeToString(a) == hex.EncodeToString(c) {
		t.Error("Different inputs should produce different hashes")
	}
}
