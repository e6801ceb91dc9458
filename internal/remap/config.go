package remap

import (
	"fmt"

	"github.com/spf13/viper"
)

const (
	DEFAULT_RULES_FILE  = "tags.yaml"
	DEFAULT_CONCURRENCY = 8
	DEFAULT_EVENT_TYPE  = "AzureTagRemapAudit"
)

// KeyRule renames tag key From to To.
type KeyRule struct {
	From string
	To   string
}

// KeyRules are applied in order; on a collision the earlier rule wins.
type KeyRules []KeyRule

type ValueRules map[string]string

type EventsConfig struct {
	Enabled   bool
	AccountId int
	EventType string
}

type Config struct {
	TenantID       string
	SubscriptionID string
	ResourceGroup  string
	SkipDisabled   bool
	DryRun         bool
	Concurrency    int
	KeyRules       KeyRules
	ValueRules     ValueRules
	Events         EventsConfig
}

func init() {
	viper.SetDefault("remap.rulesFile", DEFAULT_RULES_FILE)
	viper.SetDefault("remap.skipDisabled", true)
	viper.SetDefault("remap.concurrency", DEFAULT_CONCURRENCY)
	viper.SetDefault("events.eventType", DEFAULT_EVENT_TYPE)
}

// LoadConfig reads the run configuration from viper and the rules file it
// points to.
func LoadConfig() (*Config, error) {
	rules, err := LoadRules(viper.GetString("remap.rulesFile"))
	if err != nil {
		return nil, err
	}

	config := &Config{
		TenantID:       viper.GetString("remap.tenantId"),
		SubscriptionID: viper.GetString("remap.subscriptionId"),
		ResourceGroup:  viper.GetString("remap.resourceGroup"),
		SkipDisabled:   viper.GetBool("remap.skipDisabled"),
		DryRun:         viper.GetBool("remap.dryRun"),
		Concurrency:    viper.GetInt("remap.concurrency"),
		KeyRules:       rules.KeyRules,
		ValueRules:     rules.ValueRules,
		Events: EventsConfig{
			Enabled:   viper.GetBool("events.enabled"),
			AccountId: viper.GetInt("events.accountId"),
			EventType: viper.GetString("events.eventType"),
		},
	}

	err = config.Validate()
	if err != nil {
		return nil, err
	}

	return config, nil
}

func (c *Config) Validate() error {
	if c.Concurrency <= 0 {
		c.Concurrency = DEFAULT_CONCURRENCY
	}

	if c.Events.EventType == "" {
		c.Events.EventType = DEFAULT_EVENT_TYPE
	}

	if c.Events.Enabled && c.Events.AccountId == 0 {
		return fmt.Errorf("events are enabled but no events account ID is set")
	}

	if len(c.KeyRules) == 0 && len(c.ValueRules) == 0 {
		return fmt.Errorf("no tag key or tag value rules configured")
	}

	return nil
}
