// Package profile handles imagebridge.toml host configuration.
package profile

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/solteris/imagebridge/bridge"
)

// FileName is the configuration file the bridge looks for.
const FileName = "imagebridge.toml"

// Profile represents an imagebridge.toml host configuration.
type Profile struct {
	Host   Host   `toml:"host"`
	Result Result `toml:"result"`
	Server Server `toml:"server"`

	// Dir is the directory containing the imagebridge.toml file (set at
	// load time).
	Dir string `toml:"-"`
}

// Host selects the pipeline engine and logging verbosity.
type Host struct {
	Engine    string `toml:"engine"`
	Verbosity int    `toml:"verbosity"`
}

// Result configures the result-extraction protocol. The key set is
// host-defined; only the primary key is consulted when deciding whether an
// output mapping is structured.
type Result struct {
	Binding string `toml:"binding"`
	Primary string `toml:"primary"`
}

// Server configures the HTTP API.
type Server struct {
	Listen string `toml:"listen"`
}

// Default returns the profile used when no imagebridge.toml exists.
func Default() *Profile {
	p := &Profile{}
	p.applyDefaults()
	return p
}

func (p *Profile) applyDefaults() {
	if p.Host.Engine == "" {
		p.Host.Engine = "memory"
	}
	if p.Result.Binding == "" {
		p.Result.Binding = "result"
	}
	if p.Result.Primary == "" {
		p.Result.Primary = "processed"
	}
	if p.Server.Listen == "" {
		p.Server.Listen = ":8085"
	}
}

// Keys converts the result configuration into the bridge's form.
func (p *Profile) Keys() bridge.ResultKeys {
	return bridge.ResultKeys{Binding: p.Result.Binding, Primary: p.Result.Primary}
}

// Load parses an imagebridge.toml file from the given directory.
func Load(dir string) (*Profile, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var p Profile
	if err := toml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	p.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}

	p.applyDefaults()
	return &p, nil
}

// FindAndLoad walks up from startDir to find an imagebridge.toml file, then
// loads and returns the profile. Returns nil if no profile is found.
func FindAndLoad(startDir string) (*Profile, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}
