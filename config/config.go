// Package config resolves the runtime directory and loads the small
// set of knobs the ambient stack needs: ping-timeout duration,
// broadcast buffer sizes, and which communication managers to start.
// Grounded in the teacher's KrDir/KrDirFile pattern (dir_unix.go,
// dir_windows.go, socket.go).
package config

import (
	"os"
	"os/user"
	"path/filepath"
	"time"

	"github.com/pelletier/go-toml"
	"github.com/youtube/vitess/go/ioutil2"
)

// Config holds the tunables for one running server.
type Config struct {
	PingTimeout        time.Duration `toml:"ping_timeout"`
	BroadcastBufferLen int           `toml:"broadcast_buffer_len"`
	EnableBLE          bool          `toml:"enable_ble"`
	EnableNetworkEmu   bool          `toml:"enable_network_emu"`
	ScanWindow         time.Duration `toml:"scan_window"`
}

// Default matches the defaults the teacher's own Timeouts carried
// (timeouts.go), adapted to this core's ping-timeout/broadcast model.
func Default() Config {
	return Config{
		PingTimeout:        30 * time.Second,
		BroadcastBufferLen: 256,
		EnableBLE:          true,
		EnableNetworkEmu:   false,
		ScanWindow:         5 * time.Second,
	}
}

// Dir returns (creating if necessary) the per-user runtime directory,
// resolving the logged-in user's home even when invoked under sudo.
func Dir() (path string, err error) {
	home := unsudoedHomeDir()
	path = filepath.Join(home, ".buttplug")
	err = os.MkdirAll(path, os.FileMode(0700))
	return
}

func unsudoedHomeDir() string {
	userName := os.Getenv("SUDO_USER")
	if userName == "" {
		userName = os.Getenv("USER")
	}
	if u, err := user.Lookup(userName); err == nil && u != nil {
		return u.HomeDir
	}
	return os.Getenv("HOME")
}

// File resolves name within the runtime directory.
func File(name string) (path string, err error) {
	dir, err := Dir()
	if err != nil {
		return
	}
	path = filepath.Join(dir, name)
	return
}

const configFileName = "config.toml"

// Load reads config.toml from the runtime directory, writing out a
// default one atomically on first run.
func Load() (cfg Config, err error) {
	path, err := File(configFileName)
	if err != nil {
		return
	}

	cfg = Default()
	body, readErr := os.ReadFile(path)
	if readErr != nil {
		return cfg, writeDefault(path, cfg)
	}
	err = toml.Unmarshal(body, &cfg)
	return
}

func writeDefault(path string, cfg Config) error {
	body, err := toml.Marshal(cfg)
	if err != nil {
		return err
	}
	return ioutil2.WriteFileAtomic(path, body, 0600)
}
