package connector

import (
	"testing"

	"github.com/Djtony707/TITAN/internal/titanerr"
)

func TestEnvSecretsOverridesAndEnv(t *testing.T) {
	s := NewEnvSecrets()
	t.Setenv("TITAN_TEST_SECRET", "from-env")

	if v, err := s.Get("TITAN_TEST_SECRET"); err != nil || v != "from-env" {
		t.Errorf("Get env = %q, %v", v, err)
	}
	if err := s.Put("TITAN_TEST_SECRET", "override"); err != nil {
		t.Fatal(err)
	}
	if v, _ := s.Get("TITAN_TEST_SECRET"); v != "override" {
		t.Errorf("override not applied: %q", v)
	}
	if _, err := s.Get("TITAN_MISSING_SECRET"); !titanerr.Is(err, titanerr.KindNotFound) {
		t.Errorf("missing key: got %v, want not_found", err)
	}
}

func TestLockableSecretsBlocksWhenLocked(t *testing.T) {
	inner := NewEnvSecrets()
	inner.Put("K", "v")
	s := NewLockableSecrets(inner)

	if !s.Unlocked() {
		t.Fatal("should start unlocked")
	}
	if v, err := s.Get("K"); err != nil || v != "v" {
		t.Fatalf("unlocked Get = %q, %v", v, err)
	}

	s.Lock()
	if s.Unlocked() {
		t.Error("still unlocked after Lock")
	}
	if _, err := s.Get("K"); !titanerr.Is(err, titanerr.KindPolicy) {
		t.Errorf("locked Get = %v, want policy error", err)
	}
	if err := s.Put("K", "x"); !titanerr.Is(err, titanerr.KindPolicy) {
		t.Errorf("locked Put = %v, want policy error", err)
	}

	s.Unlock()
	if v, _ := s.Get("K"); v != "v" {
		t.Error("unlock did not restore access")
	}
}
