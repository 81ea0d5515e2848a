// Package config turns a YAML configuration tree into a wired graph of
// Services, ServiceGroups and Actions, the Go analogue of the original
// implementation's FromDict (SPEC_FULL.md §4.7, §6). Load parses a file into
// the generic map[string]interface{} shape BuildGraph consumes; Watcher
// layers fsnotify-driven hot reload on top, publishing ConfigChanged through
// the same events.Bus the scheduler uses.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads path and unmarshals it into the nested-mapping shape BuildGraph
// consumes. yaml.v3 already decodes mappings with string keys, unlike
// yaml.v2's map[interface{}]interface{}, so no key-normalization pass is
// needed beyond what yaml.v3 gives us directly.
func Load(path string) (map[string]interface{}, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	var doc map[string]interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return doc, nil
}
