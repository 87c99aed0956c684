package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models pursuit.yml.
type Config struct {
	App struct {
		Name     string `yaml:"name"`
		ClientID string `yaml:"client_id"`
		TenantID string `yaml:"tenant_id"`
	} `yaml:"app"`
	Sites struct {
		HostName       string `yaml:"host_name"`
		RootPath       string `yaml:"root_path"`
		TempFolderPath string `yaml:"temp_folder_path"`
		GatewayURL     string `yaml:"gateway_url"`
	} `yaml:"sites"`
	Notifications struct {
		Enabled *bool  `yaml:"enabled"`
		URL     string `yaml:"url"`
	} `yaml:"notifications"`
	RBAC struct {
		Roles map[string]RBACRole `yaml:"roles"`
	} `yaml:"rbac"`
}

type RBACRole struct {
	DisplayName     string   `yaml:"display_name"`
	ADGroupName     string   `yaml:"ad_group_name"`
	Permissions     []string `yaml:"permissions"`
	TeamsMembership bool     `yaml:"teams_membership"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; generate with pursuit config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.App.Name == "" {
		return fmt.Errorf("config.app.name is required")
	}
	if c.App.ClientID == "" {
		return fmt.Errorf("config.app.client_id is required")
	}
	if len(c.RBAC.Roles) > 0 {
		for roleID, role := range c.RBAC.Roles {
			if roleID == "" {
				return fmt.Errorf("config.rbac.roles contains empty role id")
			}
			if role.DisplayName == "" {
				return fmt.Errorf("role %s missing display_name", roleID)
			}
			for _, perm := range role.Permissions {
				if perm == "" {
					return fmt.Errorf("role %s has empty permission name", roleID)
				}
			}
		}
	}
	if c.Notifications.Enabled != nil && *c.Notifications.Enabled && c.Notifications.URL == "" {
		return fmt.Errorf("config.notifications.url required when notifications enabled")
	}
	return nil
}

// NotificationsEnabled reports whether state-change notices should be sent.
func (c *Config) NotificationsEnabled() bool {
	if c.Notifications.Enabled == nil {
		return c.Notifications.URL != ""
	}
	return *c.Notifications.Enabled
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "pursuit.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(appName string) string {
	return fmt.Sprintf(defaultTemplate, appName)
}

// Default returns the default Config struct for an app name.
func Default(appName string) *Config {
	var cfg Config
	cfg.App.Name = appName
	_ = yaml.NewDecoder(bytes.NewBufferString(fmt.Sprintf(defaultTemplate, appName))).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `app:
  name: %s
  client_id: local-dev-client
  tenant_id: local-dev-tenant

sites:
  host_name: contoso.sharepoint.com
  root_path: /sites/pursuit
  temp_folder_path: /sites/pursuit/TempFolder
  gateway_url: ""

notifications:
  enabled: false
  url: ""

rbac:
  roles:
    relationship-manager:
      display_name: Relationship Manager
      ad_group_name: Relationship Managers
      teams_membership: true
      permissions: [Opportunity_Create, Opportunity_ReadWrite_All, Opportunity_ReadWrite_Partial]

    loan-officer:
      display_name: Loan Officer
      ad_group_name: Loan Officers
      teams_membership: true
      permissions: [Opportunity_Read_All, Opportunity_ReadWrite_All, Opportunity_ReadWrite_Team]

    credit-analyst:
      display_name: Credit Analyst
      ad_group_name: Credit Analysts
      teams_membership: true
      permissions: [Opportunity_Read_Partial, Opportunity_ReadWrite_Partial]

    legal-counsel:
      display_name: Legal Counsel
      ad_group_name: Legal Counsel
      teams_membership: true
      permissions: [Opportunity_Read_Partial, Opportunity_ReadWrite_Partial]

    risk-officer:
      display_name: Risk Officer
      ad_group_name: Risk Officers
      teams_membership: true
      permissions: [Opportunity_Read_Partial, Opportunity_ReadWrite_Partial, Opportunity_ReadWrite_Dealtype]

    administrator:
      display_name: Administrator
      ad_group_name: Pursuit Admins
      teams_membership: false
      permissions: [Administrator, Opportunities_Read_All, Opportunities_ReadWrite_All]
`
