// config_test.go - config-file parser tests.

package main

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "machine.cfg")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfigFile(t *testing.T) {
	path := writeConfig(t, `
# test machine
ram 2048
boot dos.img
`)
	cfg, err := LoadConfigFile(path, DefaultMachineConfig())
	if err != nil {
		t.Fatal(err)
	}
	if cfg.RAMKiB != 2048 {
		t.Fatalf("ram = %d, want 2048", cfg.RAMKiB)
	}
	if cfg.BootPath != "dos.img" {
		t.Fatalf("boot = %q, want dos.img", cfg.BootPath)
	}
}

func TestLoadConfigFileUnknownKey(t *testing.T) {
	path := writeConfig(t, "cpus 4\n")
	if _, err := LoadConfigFile(path, DefaultMachineConfig()); err == nil {
		t.Fatal("unknown key should be an error")
	}
}

func TestLoadConfigFileBadValue(t *testing.T) {
	path := writeConfig(t, "ram lots\n")
	if _, err := LoadConfigFile(path, DefaultMachineConfig()); err == nil {
		t.Fatal("non-numeric ram should be an error")
	}
}
