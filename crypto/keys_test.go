package crypto

import (
	"strings"
	"testing"
)

func TestAddressRoundTrip(t *testing.T) {
	var raw [AddressLength]byte
	for i := range raw {
		raw[i] = byte(i + 1)
	}
	addr := AddressFromRaw(raw)
	encoded := addr.String()
	if !strings.HasPrefix(encoded, "stk1") {
		t.Fatalf("unexpected encoding %q", encoded)
	}
	decoded, err := DecodeAddress(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Raw() != raw {
		t.Fatalf("raw mismatch: got %x want %x", decoded.Raw(), raw)
	}
}

func TestDecodeAddressHex(t *testing.T) {
	addr, err := DecodeAddress("0x00000000000000000000000000000000000000ff")
	if err != nil {
		t.Fatalf("decode hex: %v", err)
	}
	if addr.Bytes()[19] != 0xff {
		t.Fatalf("unexpected last byte %x", addr.Bytes()[19])
	}
	if _, err := DecodeAddress("0x1234"); err == nil {
		t.Fatalf("expected short hex address to fail")
	}
}

func TestDecodeAddressRejectsForeignPrefix(t *testing.T) {
	other := MustNewAddress("foreign", make([]byte, AddressLength))
	if _, err := DecodeAddress(other.String()); err == nil {
		t.Fatalf("expected foreign prefix to be rejected")
	}
}

func TestModuleAddressDeterministic(t *testing.T) {
	a := ModuleAddress("staking")
	b := ModuleAddress(" staking ")
	if a.Raw() != b.Raw() {
		t.Fatalf("module address not deterministic")
	}
	if a.IsZero() {
		t.Fatalf("module address must not be zero")
	}
	if ModuleAddress("token").Raw() == a.Raw() {
		t.Fatalf("distinct modules must not collide")
	}
}

func TestGeneratedKeyAddress(t *testing.T) {
	key, err := GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	restored, err := PrivateKeyFromBytes(key.Bytes())
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if key.PubKey().Address().Raw() != restored.PubKey().Address().Raw() {
		t.Fatalf("address mismatch after restore")
	}
}
