// config.go - machine configuration record and file format: a
// line-oriented "key value" file with "#" comments, reduced to the
// handful of keys MachineConfig actually needs (ram, boot).

package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// MachineConfig holds everything needed to construct a Machine before
// any CLI override is applied.
type MachineConfig struct {
	RAMKiB   uint32
	BootPath string
}

// DefaultMachineConfig is 1 MiB of RAM and no boot image.
func DefaultMachineConfig() MachineConfig {
	return MachineConfig{RAMKiB: 1024}
}

// LoadConfigFile parses a "key value" line-oriented config file (one
// assignment per line, "#" comments, blank lines ignored), applying
// recognized keys onto a copy of cfg.
func LoadConfigFile(path string, cfg MachineConfig) (MachineConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		return cfg, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 2 {
			return cfg, fmt.Errorf("config:%d: expected 'key value', got %q", lineNo, line)
		}
		switch fields[0] {
		case "ram":
			kib, err := strconv.ParseUint(fields[1], 10, 32)
			if err != nil {
				return cfg, fmt.Errorf("config:%d: bad ram value %q: %w", lineNo, fields[1], err)
			}
			cfg.RAMKiB = uint32(kib)
		case "boot":
			cfg.BootPath = fields[1]
		default:
			return cfg, fmt.Errorf("config:%d: unknown key %q", lineNo, fields[0])
		}
	}
	return cfg, scanner.Err()
}
