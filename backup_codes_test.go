package enrollkit

import (
	"regexp"
	"strings"
	"testing"
)

var backupCodeFormat = regexp.MustCompile(`^[0-9A-F]{4}-[0-9A-F]{4}$`)

func TestBackupCodeGenerateFormatAndCount(t *testing.T) {
	engine := newBackupCodeEngine(10)

	codes, hashes, err := engine.Generate()
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if len(codes) != 10 || len(hashes) != 10 {
		t.Fatalf("expected 10 codes and hashes, got %d and %d", len(codes), len(hashes))
	}

	seen := make(map[string]bool, len(codes))
	for i, code := range codes {
		if !backupCodeFormat.MatchString(code) {
			t.Fatalf("code %d has unexpected format: %q", i, code)
		}
		if seen[code] {
			t.Fatalf("duplicate backup code generated: %q", code)
		}
		seen[code] = true
	}
}

func TestBackupCodeMatchFindsHash(t *testing.T) {
	engine := newBackupCodeEngine(5)

	codes, hashes, err := engine.Generate()
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	hash, ok := engine.Match(codes[2], hashes)
	if !ok {
		t.Fatal("expected code to match its own hash set")
	}
	if hash != hashes[2] {
		t.Fatal("matched hash does not align with submitted code")
	}
}

func TestBackupCodeMatchNormalizesInput(t *testing.T) {
	engine := newBackupCodeEngine(5)

	codes, hashes, err := engine.Generate()
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	for _, variant := range []string{
		"  " + codes[0] + "  ",
		strings.ToLower(codes[0]),
	} {
		if _, ok := engine.Match(variant, hashes); !ok {
			t.Fatalf("expected %q to match after normalization", variant)
		}
	}
}

func TestBackupCodeMatchRejectsUnknown(t *testing.T) {
	engine := newBackupCodeEngine(5)

	_, hashes, err := engine.Generate()
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	if _, ok := engine.Match("0000-0000", hashes); ok {
		t.Fatal("expected unknown code to be rejected")
	}
	if _, ok := engine.Match("", hashes); ok {
		t.Fatal("expected empty code to be rejected")
	}
	if _, ok := engine.Match("0000-0000", nil); ok {
		t.Fatal("expected empty hash set to reject")
	}
}
