package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// TableConfig represents a single physical table.
type TableConfig struct {
	ID       int64  `yaml:"id"`
	Name     string `yaml:"name"`
	Seats    int    `yaml:"seats"`
	IsActive *bool  `yaml:"is_active,omitempty"`
}

// Active reports whether the table takes part in allocation. Tables are active unless disabled.
func (t TableConfig) Active() bool {
	return t.IsActive == nil || *t.IsActive
}

// TablesConfig is the root configuration for tables.yaml.
type TablesConfig struct {
	Tables []TableConfig `yaml:"tables"`
}

// LoadTablesConfig loads and validates the table inventory from a YAML file.
func LoadTablesConfig(path string) (*TablesConfig, error) {
	if path == "" {
		path = "configs/tables.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tables config: %w", err)
	}

	var cfg TablesConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse tables config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate tables config: %w", err)
	}

	cfg.applyDefaults()

	return &cfg, nil
}

// Validate checks the configuration for errors.
func (c *TablesConfig) Validate() error {
	if len(c.Tables) == 0 {
		return fmt.Errorf("no tables defined")
	}

	ids := make(map[int64]bool)
	names := make(map[string]bool)

	for i, t := range c.Tables {
		if t.ID <= 0 {
			return fmt.Errorf("table[%d]: id must be positive, got %d", i, t.ID)
		}
		if ids[t.ID] {
			return fmt.Errorf("table[%d]: duplicate id %d", i, t.ID)
		}
		ids[t.ID] = true

		if t.Seats <= 0 {
			return fmt.Errorf("table[%d]: seats must be positive, got %d", i, t.Seats)
		}

		if t.Name != "" {
			if names[t.Name] {
				return fmt.Errorf("table[%d]: duplicate name '%s'", i, t.Name)
			}
			names[t.Name] = true
		}
	}

	return nil
}

func (c *TablesConfig) applyDefaults() {
	for i := range c.Tables {
		if c.Tables[i].Name == "" {
			c.Tables[i].Name = fmt.Sprintf("T%d", c.Tables[i].ID)
		}
	}
}

// GetTableByID returns table config by ID.
func (c *TablesConfig) GetTableByID(id int64) *TableConfig {
	for i := range c.Tables {
		if c.Tables[i].ID == id {
			return &c.Tables[i]
		}
	}
	return nil
}

// TotalSeats sums the seats of active tables.
func (c *TablesConfig) TotalSeats() int {
	n := 0
	for _, t := range c.Tables {
		if t.Active() {
			n += t.Seats
		}
	}
	return n
}

// String returns a summary of the configuration.
func (c *TablesConfig) String() string {
	active := 0
	for _, t := range c.Tables {
		if t.Active() {
			active++
		}
	}
	return fmt.Sprintf("TablesConfig: %d tables (%d active), %d seats",
		len(c.Tables), active, c.TotalSeats())
}
