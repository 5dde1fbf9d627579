// Package config loads the machine configuration from a TOML file.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/google/shlex"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/zjuxlh1993/15410-1/kernel/maps"
	"github.com/zjuxlh1993/15410-1/kernel/mm"
)

const (
	// minFrames is the smallest physical memory the kernel boots with.
	minFrames = 256

	// maxAutoFrames caps the memory picked when frames are sized from the
	// host (1 GiB).
	maxAutoFrames = 1 << 18

	// hostMemoryShare is the fraction (1/n) of the available host memory
	// used when frames are sized automatically.
	hostMemoryShare = 64
)

// Config is the complete machine configuration.
type Config struct {
	Machine MachineConfig `toml:"machine"`
	Boot    BootConfig    `toml:"boot"`
	Logging LoggingConfig `toml:"logging"`
	Metrics MetricsConfig `toml:"metrics"`
}

// MachineConfig describes the emulated hardware and the kernel limits.
type MachineConfig struct {
	// Physical memory in 4 KiB frames; 0 sizes it from the host.
	Frames uint32 `toml:"frames"`

	// Timer interrupt frequency.
	TimerHz uint32 `toml:"timer_hz"`

	// Timer ticks a thread runs before it is preempted.
	QuantumTicks uint32 `toml:"quantum_ticks"`

	KernelStackPages uint32 `toml:"kernel_stack_pages"`
	UserStackPages   uint32 `toml:"user_stack_pages"`

	MaxThreads   int `toml:"max_threads"`
	MaxProcesses int `toml:"max_processes"`

	// Concurrent map backing the control block store: "xsync" or
	// "cornelk".
	MapImpl string `toml:"map_impl"`
}

// BootConfig selects the first program.
type BootConfig struct {
	// Init is the command line of the root program.
	Init string `toml:"init"`

	// ImageDir is scanned for additional *.elf program images.
	ImageDir string `toml:"image_dir"`
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
	Color  bool   `toml:"color"`
	Async  bool   `toml:"async"`
}

// MetricsConfig configures the prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Listen  string `toml:"listen"`
	Path    string `toml:"path"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Machine: MachineConfig{
			Frames:           4096,
			TimerHz:          100,
			QuantumTicks:     2,
			KernelStackPages: 2,
			UserStackPages:   2,
			MaxThreads:       64,
			MaxProcesses:     32,
			MapImpl:          maps.ImplXSync,
		},
		Boot: BootConfig{
			Init: "init",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "auto",
			Color:  true,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Listen:  "localhost:9410",
			Path:    "/metrics",
		},
	}
}

// LoadConfig loads the configuration at path on top of the defaults. An
// empty path returns the defaults. Unknown keys are rejected.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config file not found: %s", path)
	}

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if undecoded := md.Undecoded(); len(undecoded) != 0 {
		keys := make([]string, len(undecoded))
		for i, key := range undecoded {
			keys[i] = key.String()
		}
		return nil, fmt.Errorf("unknown keys in config file %s: %s", path, strings.Join(keys, ", "))
	}

	return cfg, nil
}

// Write encodes cfg as TOML.
func Write(w io.Writer, cfg *Config) error {
	if _, err := io.WriteString(w, "# gopherkern machine configuration\n\n"); err != nil {
		return err
	}
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config to TOML: %w", err)
	}
	return nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	m := &c.Machine
	switch {
	case m.Frames != 0 && m.Frames < minFrames:
		return fmt.Errorf("machine.frames must be 0 or at least %d", minFrames)
	case m.TimerHz == 0 || m.TimerHz > 10000:
		return fmt.Errorf("machine.timer_hz must be between 1 and 10000")
	case m.QuantumTicks == 0:
		return fmt.Errorf("machine.quantum_ticks cannot be 0")
	case m.KernelStackPages == 0:
		return fmt.Errorf("machine.kernel_stack_pages cannot be 0")
	case m.UserStackPages == 0:
		return fmt.Errorf("machine.user_stack_pages cannot be 0")
	case m.MaxThreads < 2:
		return fmt.Errorf("machine.max_threads must be at least 2")
	case m.MaxProcesses < 1:
		return fmt.Errorf("machine.max_processes must be at least 1")
	case !maps.Valid(m.MapImpl):
		return fmt.Errorf("machine.map_impl %q is not supported", m.MapImpl)
	}

	if _, _, err := c.Boot.InitCommand(); err != nil {
		return err
	}

	if c.Metrics.Enabled && (c.Metrics.Listen == "" || !strings.HasPrefix(c.Metrics.Path, "/")) {
		return fmt.Errorf("metrics.listen cannot be empty and metrics.path must start with /")
	}

	return nil
}

// InitCommand splits the init command line into the program name and its
// argument vector. argv[0] is the program name.
func (b *BootConfig) InitCommand() (string, []string, error) {
	argv, err := shlex.Split(b.Init)
	if err != nil {
		return "", nil, fmt.Errorf("boot.init: %w", err)
	}
	if len(argv) == 0 {
		return "", nil, fmt.Errorf("boot.init cannot be empty")
	}
	return argv[0], argv, nil
}

// virtualMemoryFn is replaced by tests.
var virtualMemoryFn = mem.VirtualMemory

// ResolveFrames returns the configured number of physical frames. When
// Frames is 0 a share of the memory currently available on the host is
// used.
func (m *MachineConfig) ResolveFrames() (uint32, error) {
	if m.Frames != 0 {
		return m.Frames, nil
	}

	vm, err := virtualMemoryFn()
	if err != nil {
		return 0, fmt.Errorf("failed to query host memory: %w", err)
	}

	frames := vm.Available / hostMemoryShare / uint64(mm.PageSize)
	switch {
	case frames < minFrames:
		frames = minFrames
	case frames > maxAutoFrames:
		frames = maxAutoFrames
	}
	return uint32(frames), nil
}
