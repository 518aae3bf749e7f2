package raystack

import (
	"fmt"
	"os"
	"sort"

	"github.com/pelletier/go-toml/v2"
)

// Config selects one reproduction run: which backend renders, the noise
// texture resolution, and the output image size.
type Config struct {
	GPU        bool `toml:"gpu"`
	Resolution int  `toml:"resolution"`
	Size       int  `toml:"size"`
}

func (c Config) Validate() error {
	if c.Resolution < 1 {
		return fmt.Errorf("texture resolution must be at least 1, got %d", c.Resolution)
	}
	if c.Size < 1 {
		return fmt.Errorf("image size must be at least 1, got %d", c.Size)
	}
	return nil
}

// BuiltinConfigs returns the named runs the harness ships with. The 16 and
// 19 texel resolutions bracket the misbehaving buffer sizes; 1 and 2 are
// the known-good controls.
func BuiltinConfigs() map[string]Config {
	configs := make(map[string]Config)
	for _, res := range []int{1, 2, 16, 19} {
		configs[fmt.Sprintf("cpu%d", res)] = Config{GPU: false, Resolution: res, Size: 512}
		configs[fmt.Sprintf("gpu%d", res)] = Config{GPU: true, Resolution: res, Size: 512}
	}
	return configs
}

// LoadConfigs merges named configs from a TOML file over the builtin table.
// File entries win on name collision.
func LoadConfigs(path string) (map[string]Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var fromFile map[string]Config
	if err := toml.Unmarshal(data, &fromFile); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	configs := BuiltinConfigs()
	for name, cfg := range fromFile {
		configs[name] = cfg
	}
	return configs, nil
}

// ConfigNames returns the sorted names of a config table, for diagnostics.
func ConfigNames(configs map[string]Config) []string {
	names := make([]string, 0, len(configs))
	for name := range configs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
