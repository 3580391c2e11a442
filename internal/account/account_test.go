package account

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/matheus3301/feedmirror/internal/config"
)

func TestDirHonoursHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("FEEDMIRROR_HOME", home)

	if got, want := Dir("main"), filepath.Join(home, "accounts", "main"); got != want {
		t.Errorf("Dir(main) = %q, want %q", got, want)
	}
	if got := SocketPath("test"); !strings.HasSuffix(got, filepath.Join("accounts", "test", "daemon.sock")) {
		t.Errorf("SocketPath(test) = %q", got)
	}
	if got := LockPath("test"); !strings.HasSuffix(got, filepath.Join("accounts", "test", "LOCK")) {
		t.Errorf("LockPath(test) = %q", got)
	}
	if got := MirrorDBPath("test"); filepath.Base(got) != "mirror.db" {
		t.Errorf("MirrorDBPath(test) = %q", got)
	}
}

func TestEnsureDir(t *testing.T) {
	t.Setenv("FEEDMIRROR_HOME", t.TempDir())

	if err := EnsureDir("work"); err != nil {
		t.Fatal(err)
	}
	for _, dir := range []string{Dir("work"), LogDir("work")} {
		info, err := os.Stat(dir)
		if err != nil {
			t.Fatalf("%s not created: %v", dir, err)
		}
		if !info.IsDir() || info.Mode().Perm() != 0700 {
			t.Errorf("%s mode = %v", dir, info.Mode())
		}
	}
}

func TestResolve(t *testing.T) {
	t.Setenv("FEEDMIRROR_HOME", t.TempDir())

	if got := Resolve(""); got != DefaultName {
		t.Errorf("Resolve() without config = %q, want %q", got, DefaultName)
	}
	cfg := config.Default()
	cfg.DefaultAccount = "work"
	if err := config.Save(ConfigPath(), cfg); err != nil {
		t.Fatal(err)
	}
	if got := Resolve(""); got != "work" {
		t.Errorf("Resolve() = %q, want work", got)
	}
	if got := Resolve("flag"); got != "flag" {
		t.Errorf("Resolve(flag) = %q, want flag", got)
	}
}

func TestValidateName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"valid simple", "main", false},
		{"valid with numbers", "work123", false},
		{"valid with hyphen", "my-account", false},
		{"valid with underscore", "my_account", false},
		{"valid max length", strings.Repeat("a", 64), false},
		{"empty", "", true},
		{"uppercase", "Main", true},
		{"dot", "my.account", true},
		{"too long", strings.Repeat("a", 65), true},
		{"slash", "my/account", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateName(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateName(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
		})
	}
}
