package dynload

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// SearchConfig is an ld.so.conf-style static table mapping DT_NEEDED names
// to on-disk paths, described as YAML:
//
//	libfoo.so: /opt/app/lib/libfoo.so
//	libbar.so: /opt/app/lib/libbar.so
type SearchConfig struct {
	Paths map[string]string
}

// LoadSearchConfig reads and parses a YAML search-path document.
func LoadSearchConfig(path string) (*SearchConfig, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("dynload: searchconfig: %w", err)
	}
	var paths map[string]string
	if err := yaml.Unmarshal(buf, &paths); err != nil {
		return nil, fmt.Errorf("dynload: searchconfig: parse %s: %w", path, err)
	}
	return &SearchConfig{Paths: paths}, nil
}

// Resolver returns a ModuleResolver backed by this table: a DT_NEEDED name
// present in Paths is read off disk and loaded with LoadFromMemory,
// resolving its own dependencies against the same table; a name absent
// from Paths is reported as "not found" rather than an error.
func (c *SearchConfig) Resolver() ModuleResolver {
	return &searchConfigResolver{cfg: c, seen: make(map[string]*Module)}
}

type searchConfigResolver struct {
	cfg  *SearchConfig
	seen map[string]*Module
}

func (r *searchConfigResolver) GetModule(name string) (Capability, error) {
	if m, ok := r.seen[name]; ok {
		return m, nil
	}
	path, ok := r.cfg.Paths[name]
	if !ok {
		return nil, nil
	}
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("dynload: searchconfig: read %s: %w", path, err)
	}
	m, err := LoadFromMemory(buf, r)
	if err != nil {
		return nil, fmt.Errorf("dynload: searchconfig: load %s: %w", path, err)
	}
	r.seen[name] = m
	return m, nil
}
