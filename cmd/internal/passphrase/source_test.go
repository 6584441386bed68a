package passphrase

import "testing"

func TestSourceUsesEnvironment(t *testing.T) {
	t.Setenv("STAKE_TEST_SECRET", "from-env")
	src := NewSource("STAKE_TEST_SECRET", "auth secret")
	value, err := src.Get()
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if value != "from-env" {
		t.Fatalf("unexpected value %q", value)
	}
}

func TestSourceRejectsBlankEnvironment(t *testing.T) {
	t.Setenv("STAKE_TEST_SECRET", "   ")
	if _, err := NewSource("STAKE_TEST_SECRET", "auth secret").Get(); err == nil {
		t.Fatalf("expected error for blank secret")
	}
}
