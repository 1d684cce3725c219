package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestFirstNonEmpty(t *testing.T) {
	if got := firstNonEmpty("", "  ", "value", "later"); got != "value" {
		t.Fatalf("firstNonEmpty = %q", got)
	}
	if got := firstNonEmpty("", "   "); got != "" {
		t.Fatalf("firstNonEmpty on blanks = %q", got)
	}
}

func TestResolveIntPrefersFlag(t *testing.T) {
	t.Setenv("DRIFTCAST_TEST_INT", "7")
	if got := resolveInt(3, "DRIFTCAST_TEST_INT"); got != 3 {
		t.Fatalf("resolveInt = %d, want flag value 3", got)
	}
	if got := resolveInt(0, "DRIFTCAST_TEST_INT"); got != 7 {
		t.Fatalf("resolveInt = %d, want env value 7", got)
	}
}

func TestResolveDurationFallback(t *testing.T) {
	os.Unsetenv("DRIFTCAST_TEST_DURATION")
	if got := resolveDuration(0, "DRIFTCAST_TEST_DURATION", 15*time.Second); got != 15*time.Second {
		t.Fatalf("resolveDuration fallback = %v", got)
	}
	t.Setenv("DRIFTCAST_TEST_DURATION", "90s")
	if got := resolveDuration(0, "DRIFTCAST_TEST_DURATION", 15*time.Second); got != 90*time.Second {
		t.Fatalf("resolveDuration env = %v", got)
	}
}

func TestResolveBool(t *testing.T) {
	t.Setenv("DRIFTCAST_TEST_BOOL", "true")
	if !resolveBool(false, "DRIFTCAST_TEST_BOOL") {
		t.Fatal("resolveBool ignored env")
	}
	t.Setenv("DRIFTCAST_TEST_BOOL", "not-a-bool")
	if resolveBool(false, "DRIFTCAST_TEST_BOOL") {
		t.Fatal("resolveBool accepted garbage")
	}
}

func TestLoadWordlistMergesFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "terms.txt")
	content := "spoiler\n\n# comment\n  leak  \n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write wordlist: %v", err)
	}

	wordlist, err := loadWordlist(path, "dox, ")
	if err != nil {
		t.Fatalf("load wordlist: %v", err)
	}
	for _, text := range []string{"huge SPOILER alert", "going to leak it", "dox attempt"} {
		if term, hit := wordlist.Match(text); !hit {
			t.Fatalf("wordlist missed %q (matched term %q)", text, term)
		}
	}
	if _, hit := wordlist.Match("comment"); hit {
		t.Fatal("comment line treated as a term")
	}
}

func TestLoadWordlistMissingFile(t *testing.T) {
	if _, err := loadWordlist(filepath.Join(t.TempDir(), "absent.txt"), ""); err == nil {
		t.Fatal("expected error for missing wordlist file")
	}
}
