package config

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/BurntSushi/toml"
	"github.com/shirou/gopsutil/v4/mem"
)

func writeConfig(t *testing.T, contents string) string {
	path := filepath.Join(t.TempDir(), "machine.toml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cfg, err := LoadConfig("")
		if err != nil {
			t.Fatal(err)
		}
		if err = cfg.Validate(); err != nil {
			t.Fatalf("expected default config to be valid; got %v", err)
		}
	})

	t.Run("overrides", func(t *testing.T) {
		cfg, err := LoadConfig(writeConfig(t, `
[machine]
frames = 1024
map_impl = "cornelk"

[boot]
init = "fork_test 'two words' 3"
`))
		if err != nil {
			t.Fatal(err)
		}

		if cfg.Machine.Frames != 1024 || cfg.Machine.MapImpl != "cornelk" {
			t.Fatalf("expected machine overrides to apply; got %+v", cfg.Machine)
		}
		if cfg.Machine.TimerHz != DefaultConfig().Machine.TimerHz {
			t.Fatalf("expected unset keys to keep their defaults; got %+v", cfg.Machine)
		}

		name, argv, err := cfg.Boot.InitCommand()
		if err != nil {
			t.Fatal(err)
		}
		if name != "fork_test" || strings.Join(argv, "|") != "fork_test|two words|3" {
			t.Fatalf("expected shell-style splitting; got %q %q", name, argv)
		}
	})

	t.Run("unknown key", func(t *testing.T) {
		if _, err := LoadConfig(writeConfig(t, "[machine]\nfrmes = 3\n")); err == nil || !strings.Contains(err.Error(), "machine.frmes") {
			t.Fatalf("expected unknown key error; got %v", err)
		}
	})

	t.Run("missing file", func(t *testing.T) {
		if _, err := LoadConfig(filepath.Join(t.TempDir(), "nope.toml")); err == nil {
			t.Fatal("expected an error")
		}
	})

	t.Run("syntax error", func(t *testing.T) {
		_, err := LoadConfig(writeConfig(t, "[machine\n"))
		var perr toml.ParseError
		if !errors.As(err, &perr) {
			t.Fatalf("expected a wrapped toml.ParseError; got %v", err)
		}
	})
}

func TestValidate(t *testing.T) {
	specs := []struct {
		name   string
		mutate func(*Config)
	}{
		{"tiny memory", func(c *Config) { c.Machine.Frames = 16 }},
		{"no timer", func(c *Config) { c.Machine.TimerHz = 0 }},
		{"no quantum", func(c *Config) { c.Machine.QuantumTicks = 0 }},
		{"no kernel stack", func(c *Config) { c.Machine.KernelStackPages = 0 }},
		{"no user stack", func(c *Config) { c.Machine.UserStackPages = 0 }},
		{"one thread", func(c *Config) { c.Machine.MaxThreads = 1 }},
		{"no processes", func(c *Config) { c.Machine.MaxProcesses = 0 }},
		{"bad map", func(c *Config) { c.Machine.MapImpl = "btree" }},
		{"empty init", func(c *Config) { c.Boot.Init = "  " }},
		{"unbalanced quotes", func(c *Config) { c.Boot.Init = `init "oops` }},
		{"bad metrics path", func(c *Config) { c.Metrics.Enabled, c.Metrics.Path = true, "metrics" }},
	}

	for _, spec := range specs {
		t.Run(spec.name, func(t *testing.T) {
			cfg := DefaultConfig()
			spec.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation to fail")
			}
		})
	}
}

func TestResolveFrames(t *testing.T) {
	defer func(orig func() (*mem.VirtualMemoryStat, error)) {
		virtualMemoryFn = orig
	}(virtualMemoryFn)

	specs := []struct {
		available uint64
		exp       uint32
	}{
		{1 << 20, minFrames},
		{1 << 32, (1 << 32) / hostMemoryShare / 4096},
		{1 << 40, maxAutoFrames},
	}

	for _, spec := range specs {
		virtualMemoryFn = func() (*mem.VirtualMemoryStat, error) {
			return &mem.VirtualMemoryStat{Available: spec.available}, nil
		}

		got, err := (&MachineConfig{}).ResolveFrames()
		if err != nil {
			t.Fatal(err)
		}
		if got != spec.exp {
			t.Errorf("expected %d frames for %d available bytes; got %d", spec.exp, spec.available, got)
		}
	}

	if got, _ := (&MachineConfig{Frames: 300}).ResolveFrames(); got != 300 {
		t.Fatalf("expected explicit frame count to be kept; got %d", got)
	}

	virtualMemoryFn = func() (*mem.VirtualMemoryStat, error) { return nil, errors.New("no procfs") }
	if _, err := (&MachineConfig{}).ResolveFrames(); err == nil {
		t.Fatal("expected host memory errors to be reported")
	}
}

func TestWrite(t *testing.T) {
	var buf bytes.Buffer
	if err := Write(&buf, DefaultConfig()); err != nil {
		t.Fatal(err)
	}

	var cfg Config
	if _, err := toml.Decode(buf.String(), &cfg); err != nil {
		t.Fatalf("expected example to be valid TOML; got %v", err)
	}
	if cfg.Machine != DefaultConfig().Machine {
		t.Fatalf("expected example to carry the defaults; got %+v", cfg.Machine)
	}
}
