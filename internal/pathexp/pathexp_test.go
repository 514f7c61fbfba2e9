package pathexp

import (
	"os"
	"path/filepath"
	"testing"
)

func TestShortcut(t *testing.T) {
	t.Parallel()

	home := Home()
	tests := []struct {
		raw  string
		want string
		ok   bool
	}{
		{"pictures", filepath.Join(home, "Pictures"), true},
		{"Desktop", filepath.Join(home, "Desktop"), true},
		{"  MUSIC  ", filepath.Join(home, "Music"), true},
		{"home", home, true},
		{"projects", "", false},
		{"", "", false},
	}
	for _, tc := range tests {
		got, ok := Shortcut(tc.raw)
		if ok != tc.ok || got != tc.want {
			t.Errorf("Shortcut(%q) = (%q, %v), want (%q, %v)", tc.raw, got, ok, tc.want, tc.ok)
		}
	}
}

func TestExpand(t *testing.T) {
	home := Home()
	t.Setenv("NLX_TEST_DIR", "/srv/data")

	tests := []struct {
		raw  string
		cwd  string
		want string
	}{
		{"", "/work", "/work"},
		{"~", "/work", home},
		{"~/notes.txt", "/work", filepath.Join(home, "notes.txt")},
		{"downloads", "/work", filepath.Join(home, "Downloads")},
		{"$NLX_TEST_DIR/x.bin", "/work", "/srv/data/x.bin"},
		{"report.pdf", "/work", "/work/report.pdf"},
		{"../shared/a", "/work/sub", "/work/shared/a"},
		{"/abs/./b/../c", "/work", "/abs/c"},
	}
	for _, tc := range tests {
		if got := Expand(tc.raw, tc.cwd); got != tc.want {
			t.Errorf("Expand(%q, %q) = %q, want %q", tc.raw, tc.cwd, got, tc.want)
		}
	}
}

func TestExpandEmptyCwdUsesProcessDir(t *testing.T) {
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if got := Expand("x.txt", ""); got != filepath.Join(wd, "x.txt") {
		t.Errorf("Expand with empty cwd = %q, want under %q", got, wd)
	}
}

func TestLooksLikeDir(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	file := filepath.Join(dir, "f.txt")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		dst  string
		want bool
	}{
		{dir + "/", true},
		{dir, true},
		{file, false},
		{filepath.Join(dir, "missing"), true},
		{filepath.Join(dir, "missing.txt"), false},
	}
	for _, tc := range tests {
		if got := LooksLikeDir(tc.dst); got != tc.want {
			t.Errorf("LooksLikeDir(%q) = %v, want %v", tc.dst, got, tc.want)
		}
	}
}
