package rules

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/opensource-finance/riskcenter/internal/domain"
)

// LoadFile builds an engine from a JSON array of rule configs, replacing the
// default rule set. Every enabled rule is validated before any is loaded; a
// later entry with the same ID replaces an earlier one.
func LoadFile(path string, maxWorkers int) (*Engine, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file: %w", err)
	}

	var configs []*domain.RuleConfig
	if err := json.Unmarshal(data, &configs); err != nil {
		return nil, fmt.Errorf("failed to parse rules file %s: %w", path, err)
	}

	e, err := NewEngine(maxWorkers)
	if err != nil {
		return nil, err
	}

	var errs []error
	for i, cfg := range configs {
		if cfg == nil || cfg.ID == "" {
			errs = append(errs, fmt.Errorf("rule %d: id is required", i))
			continue
		}
		if !cfg.Enabled {
			continue
		}
		if err := e.ValidateRule(cfg); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("invalid rules file %s: %w", path, err)
	}

	if err := e.LoadRules(configs); err != nil {
		return nil, err
	}
	if e.RulesCount() == 0 {
		return nil, fmt.Errorf("rules file %s has no enabled rules", path)
	}
	return e, nil
}
