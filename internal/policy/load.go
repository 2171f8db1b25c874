package policy

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/agw/gateway/internal/models"
)

// LoadDocument reads a Policy document from a YAML file at path. A missing
// file is not an error: it yields models.DefaultPolicy() so a fresh
// installation starts deny-by-default rather than failing to boot.
func LoadDocument(path string) (*models.Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return models.DefaultPolicy(), nil
		}
		return nil, fmt.Errorf("read policy file: %w", err)
	}

	p := models.DefaultPolicy()
	if err := yaml.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("parse policy file: %w", err)
	}
	if p.Allowlist == nil {
		p.Allowlist = map[string][]string{}
	}
	if p.ToolAllow == nil {
		p.ToolAllow = map[string]models.ToolPermission{}
	}
	return p, nil
}

// SaveDocument writes p to path as YAML, used by config.set to persist the
// operator's latest policy document across restarts.
func SaveDocument(path string, p *models.Policy) error {
	data, err := yaml.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal policy file: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write policy file: %w", err)
	}
	return nil
}
