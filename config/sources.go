package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Source describes one MLS association replicated through the Spark API.
type Source struct {
	ID            string   `yaml:"id"`   // short name used on the CLI and as mlsSource
	Name          string   `yaml:"name"` // human-readable association name
	MlsID         string   `yaml:"mls_id"`
	PropertyTypes []string `yaml:"property_types"`
	Enabled       bool     `yaml:"enabled"`
}

// builtinSources covers the associations the feed is licensed for. A
// config/sources/*.yaml file with the same id overrides the builtin entry.
var builtinSources = []*Source{
	{ID: "GPS", Name: "Greater Palm Springs", MlsID: "20190211172710340762000000", Enabled: true},
	{ID: "CRMLS", Name: "California Regional MLS", MlsID: "20200218121507636729000000", Enabled: true},
	{ID: "CLAW", Name: "Combined LA Westside", MlsID: "20200630203341057545000000", Enabled: true},
	{ID: "SOUTHLAND", Name: "Southland Regional", MlsID: "20200630203518576361000000", Enabled: true},
	{ID: "HIGH_DESERT", Name: "High Desert", MlsID: "20200630204544040064000000", Enabled: true},
	{ID: "BRIDGE", Name: "Bridge MLS", MlsID: "20200630204733042221000000", Enabled: true},
	{ID: "CONEJO_SIMI_MOORPARK", Name: "Conejo Simi Moorpark", MlsID: "20160622112753445171000000", Enabled: true},
	{ID: "ITECH", Name: "iTech MLS", MlsID: "20200630203206752718000000", Enabled: true},
}

func (c *Config) loadSources() error {
	c.Sources = make(map[string]*Source)
	for _, s := range builtinSources {
		c.Sources[s.ID] = s
	}

	dir := getEnv("SOURCES_DIR", "config/sources")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading sources dir: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".yaml") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return fmt.Errorf("reading source config %s: %w", entry.Name(), err)
		}
		var src Source
		if err := yaml.Unmarshal(data, &src); err != nil {
			return fmt.Errorf("parsing source config %s: %w", entry.Name(), err)
		}
		if src.ID == "" {
			src.ID = strings.TrimSuffix(entry.Name(), ".yaml")
		}
		src.ID = strings.ToUpper(src.ID)
		if src.MlsID == "" {
			if builtin, ok := c.Sources[src.ID]; ok {
				src.MlsID = builtin.MlsID
			} else {
				return fmt.Errorf("source config %s: mls_id is required", entry.Name())
			}
		}
		c.Sources[src.ID] = &src
	}

	return nil
}

// EnabledSources returns the enabled sources in a stable order.
func (c *Config) EnabledSources() []*Source {
	var out []*Source
	for _, s := range builtinSources {
		cur, ok := c.Sources[s.ID]
		if ok && cur.Enabled {
			out = append(out, cur)
		}
	}
	for id, s := range c.Sources {
		if !s.Enabled || isBuiltin(id) {
			continue
		}
		out = append(out, s)
	}
	return out
}

// SourceNames maps the 26-digit MlsId of every configured source to its id,
// for tagging records with their association of origin.
func (c *Config) SourceNames() map[string]string {
	names := make(map[string]string, len(c.Sources))
	for _, s := range c.Sources {
		names[s.MlsID] = s.ID
	}
	return names
}

func isBuiltin(id string) bool {
	for _, s := range builtinSources {
		if s.ID == id {
			return true
		}
	}
	return false
}
