package security

import (
	"os"
	"path/filepath"
	"testing"
)

func TestValidatePathWithinDirectory(t *testing.T) {
	safeDir := t.TempDir()

	inside := filepath.Join(safeDir, "cam1.jsonl")
	if err := os.WriteFile(inside, []byte("{}\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := ValidatePathWithinDirectory(inside, safeDir); err != nil {
		t.Errorf("existing file inside dir should pass: %v", err)
	}

	// Not-yet-created files inside the directory are fine too
	if err := ValidatePathWithinDirectory(filepath.Join(safeDir, "cam2.jsonl"), safeDir); err != nil {
		t.Errorf("new file inside dir should pass: %v", err)
	}

	escapes := []string{
		filepath.Join(safeDir, "..", "cam1.jsonl"),
		filepath.Join(safeDir, "..", "..", "etc", "passwd"),
		"/etc/passwd",
	}
	for _, p := range escapes {
		if err := ValidatePathWithinDirectory(p, safeDir); err == nil {
			t.Errorf("expected %q to be rejected", p)
		}
	}
}

func TestValidatePathWithinDirectorySymlinkEscape(t *testing.T) {
	safeDir := t.TempDir()
	outside := t.TempDir()

	// A symlink inside the safe dir pointing outside must not be usable as
	// an escape hatch.
	link := filepath.Join(safeDir, "sneaky")
	if err := os.Symlink(outside, link); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	if err := ValidatePathWithinDirectory(filepath.Join(link, "cam1.jsonl"), safeDir); err == nil {
		t.Error("expected symlinked parent escape to be rejected")
	}
}

func TestSanitizeFilename(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"darshan-cam-2", "darshan-cam-2"},
		{"cam 1 (west gate)", "cam_1_west_gate"},
		{"../../etc/passwd", "etc_passwd"},
		{"", "unknown"},
		{"///", "unknown"},
		{"a..b", "a..b"},
	}
	for _, c := range cases {
		if got := SanitizeFilename(c.in); got != c.want {
			t.Errorf("SanitizeFilename(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestSanitizeFilenameLengthCap(t *testing.T) {
	long := make([]byte, 500)
	for i := range long {
		long[i] = 'x'
	}
	if got := SanitizeFilename(string(long)); len(got) > 128 {
		t.Errorf("sanitized name length %d exceeds cap", len(got))
	}
}
