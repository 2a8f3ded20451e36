package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
)

// Profile describes one device family: which partitions to dump and where
// its NV directories live.
//
//	name = "mt6765"
//	partitions = ["md1img", "nvram", "nvdata", "nvcfg", "protect1", "protect2"]
//	nv_areas = ["/mnt/vendor/nvdata", "/mnt/vendor/nvcfg"]
//	remote_tmp = "/data/local/tmp"
type Profile struct {
	Name       string   `toml:"name"`
	Partitions []string `toml:"partitions"`
	NVAreas    []string `toml:"nv_areas"`
	RemoteTmp  string   `toml:"remote_tmp"`
}

// LoadProfile reads a TOML device profile. Unknown keys are rejected so a
// typo does not silently fall back to the defaults.
func LoadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path supplied by the operator
	if err != nil {
		return nil, fmt.Errorf("read profile: %w", err)
	}
	var p Profile
	md, err := toml.Decode(string(data), &p)
	if err != nil {
		return nil, fmt.Errorf("parse profile %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("%w: profile %s: unknown keys %s", ErrInvalid, path, strings.Join(keys, ", "))
	}
	if len(p.NVAreas) > 2 {
		return nil, fmt.Errorf("%w: profile %s: at most two nv_areas (primary, secondary)", ErrInvalid, path)
	}
	if p.Name == "" {
		p.Name = path
	}
	return &p, nil
}

// ApplyProfile overrides partitions, NV areas and the staging directory with
// whatever the profile sets.
func (c *Config) ApplyProfile(p *Profile) {
	if len(p.Partitions) > 0 {
		c.Backup.Partitions = append([]string(nil), p.Partitions...)
	}
	if len(p.NVAreas) > 0 {
		c.NV.Primary = p.NVAreas[0]
		c.NV.Secondary = ""
		if len(p.NVAreas) > 1 {
			c.NV.Secondary = p.NVAreas[1]
		}
	}
	if p.RemoteTmp != "" {
		c.RemoteTmp = p.RemoteTmp
	}
	c.ProfileName = p.Name
}
