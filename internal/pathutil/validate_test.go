package pathutil

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

func TestValidatePath(t *testing.T) {
	archives := t.TempDir()
	renders := t.TempDir()
	nested := filepath.Join(archives, "2026")
	if err := os.MkdirAll(nested, 0700); err != nil {
		t.Fatal(err)
	}
	sep := string(os.PathSeparator)

	tests := []struct {
		name    string
		path    string
		allowed []string
		errHas  string // empty means the path is accepted
	}{
		{"archive file", filepath.Join(archives, "b.swk.gz"), []string{archives}, ""},
		{"nested archive", filepath.Join(nested, "b.swk.gz"), []string{archives}, ""},
		{"root itself", archives, []string{archives}, ""},
		{"doubled separator", archives + sep + sep + "b.swk", []string{archives}, ""},
		{"second root", filepath.Join(renders, "d.html"), []string{archives, renders}, ""},
		{"parent escape", filepath.Join(archives, "..", "b.swk"), []string{archives}, "outside allowed directories"},
		{"deep escape", filepath.Join(nested, "..", "..", "x", "b.swk"), []string{archives}, "outside allowed directories"},
		{"sibling root", filepath.Join(renders, "b.swk"), []string{archives}, "outside allowed directories"},
		{"nul byte", filepath.Join(archives, "b\x00.swk"), []string{archives}, "null byte"},
		{"empty", "", []string{archives}, "empty"},
		{"no roots", filepath.Join(archives, "b.swk"), nil, "no allowed directories"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePath(tt.path, tt.allowed)
			switch {
			case tt.errHas == "" && err != nil:
				t.Errorf("ValidatePath(%q) = %v, want nil", tt.path, err)
			case tt.errHas != "" && (err == nil || !strings.Contains(err.Error(), tt.errHas)):
				t.Errorf("ValidatePath(%q) = %v, want error containing %q", tt.path, err, tt.errHas)
			}
		})
	}
}

func TestValidatePath_Symlinks(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks need privileges on Windows")
	}

	root := t.TempDir()
	elsewhere := t.TempDir()
	inside := filepath.Join(root, "real")
	if err := os.MkdirAll(inside, 0700); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink(elsewhere, filepath.Join(root, "escape")); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink(inside, filepath.Join(root, "alias")); err != nil {
		t.Fatal(err)
	}

	err := ValidatePath(filepath.Join(root, "escape", "b.swk"), []string{root})
	if err == nil || !strings.Contains(err.Error(), "outside allowed directories") {
		t.Errorf("link leaving root: err = %v", err)
	}
	if err := ValidatePath(filepath.Join(root, "alias", "b.swk"), []string{root}); err != nil {
		t.Errorf("link within root: err = %v", err)
	}
}

func TestRedactPath(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"empty", "", ""},
		{"simple", "/home/user/.seekwalk/config.yaml", ".../.seekwalk/config.yaml"},
		{"deep", "/a/b/c/d/e.txt", ".../d/e.txt"},
		{"root file", "/file.txt", "file.txt"},
		{"relative", "dir/file.txt", ".../dir/file.txt"},
		{"just filename", "file.txt", "file.txt"},
		{"trailing slash cleaned", "/home/user/.seekwalk/", ".../user/.seekwalk"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := RedactPath(tt.input)
			if got != tt.want {
				t.Errorf("RedactPath(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestValidateOutput(t *testing.T) {
	allowed := t.TempDir()
	sub := filepath.Join(allowed, "nested")
	if err := os.MkdirAll(sub, 0700); err != nil {
		t.Fatalf("failed to create subdir: %v", err)
	}

	tests := []struct {
		name        string
		path        string
		exts        []string
		errContains string
	}{
		{name: "archive inside allowed dir", path: filepath.Join(allowed, "a.swk.gz"), exts: []string{".swk.gz", ".swk"}},
		{name: "extension is case insensitive", path: filepath.Join(allowed, "A.SWK.GZ"), exts: []string{".swk.gz"}},
		{name: "any extension when none required", path: filepath.Join(allowed, "density.html")},
		{name: "wrong extension", path: filepath.Join(allowed, "a.txt"), exts: []string{".swk.gz"}, errContains: "must end in"},
		{name: "allowed dir itself", path: allowed, errContains: "is a directory"},
		{name: "existing subdirectory", path: sub, errContains: "is a directory"},
		{name: "outside", path: filepath.Join(allowed, "..", "a.swk.gz"), errContains: "outside allowed directories"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateOutput(tt.path, []string{allowed}, tt.exts...)
			if tt.errContains == "" {
				if err != nil {
					t.Errorf("ValidateOutput() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.errContains) {
				t.Errorf("ValidateOutput() error = %v, want it to contain %q", err, tt.errContains)
			}
		})
	}
}

func TestOutputDirs(t *testing.T) {
	home := filepath.Join("tmp", ".seekwalk")
	dirs := OutputDirs(home, "", "/srv/out")

	want := []string{
		filepath.Join(home, "archives"),
		filepath.Join(home, "renders"),
		"/srv/out",
	}
	if len(dirs) != len(want) {
		t.Fatalf("OutputDirs() = %v, want %v", dirs, want)
	}
	for i := range want {
		if dirs[i] != want[i] {
			t.Errorf("dirs[%d] = %q, want %q", i, dirs[i], want[i])
		}
	}
}
