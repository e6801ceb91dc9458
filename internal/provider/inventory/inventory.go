// Package inventory implements an offline provider backed by a YAML snapshot
// of a tenant hierarchy. Tag writes are applied in memory and, when an output
// file is configured, written back as a new snapshot on Flush.
package inventory

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/newrelic/nr-azure-tag-remap/internal/provider"
	"github.com/newrelic/nr-azure-tag-remap/pkg/interop"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

type Snapshot struct {
	Subscriptions []*Subscription `yaml:"subscriptions"`
}

type Subscription struct {
	ID             string            `yaml:"id,omitempty"`
	SubscriptionID string            `yaml:"subscriptionId"`
	Name           string            `yaml:"name"`
	TenantID       string            `yaml:"tenantId"`
	State          string            `yaml:"state,omitempty"`
	Tags           map[string]string `yaml:"tags,omitempty"`
	ResourceGroups []*ResourceGroup  `yaml:"resourceGroups,omitempty"`
}

type ResourceGroup struct {
	ID        string            `yaml:"id,omitempty"`
	Name      string            `yaml:"name"`
	Tags      map[string]string `yaml:"tags,omitempty"`
	Resources []*Resource       `yaml:"resources,omitempty"`
}

type Resource struct {
	ID   string            `yaml:"id,omitempty"`
	Name string            `yaml:"name"`
	Type string            `yaml:"type"`
	Tags map[string]string `yaml:"tags,omitempty"`
}

type InventoryProvider struct {
	Interop    *interop.Interop
	File       string
	OutputFile string

	lock     sync.Mutex
	snapshot *Snapshot
	tags     map[string]*map[string]string
	dirty    bool
}

func init() {
	provider.RegisterProvider("inventory", New)
}

func New(i *interop.Interop, v *viper.Viper) (provider.Provider, error) {
	file := v.GetString("file")
	if file == "" {
		return nil, fmt.Errorf("missing inventory file")
	}

	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("read inventory %s failed: %w", file, err)
	}

	ip, err := NewFromBytes(i, data)
	if err != nil {
		return nil, fmt.Errorf("parse inventory %s failed: %w", file, err)
	}

	ip.File = file
	ip.OutputFile = v.GetString("outputFile")

	return ip, nil
}

func NewFromBytes(i *interop.Interop, data []byte) (*InventoryProvider, error) {
	snapshot := &Snapshot{}

	err := yaml.Unmarshal(data, snapshot)
	if err != nil {
		return nil, err
	}

	ip := &InventoryProvider{
		Interop:  i,
		snapshot: snapshot,
		tags:     map[string]*map[string]string{},
	}

	ip.index()

	i.Logger.Debugf(
		"loaded inventory with %d subscriptions and %d tagged scopes",
		len(snapshot.Subscriptions),
		len(ip.tags),
	)

	return ip, nil
}

// index fills in missing Azure style IDs and maps every ID to its tag map.
func (ip *InventoryProvider) index() {
	for _, sub := range ip.snapshot.Subscriptions {
		if sub.ID == "" {
			sub.ID = "/subscriptions/" + sub.SubscriptionID
		}
		if sub.State == "" {
			sub.State = "Enabled"
		}
		ip.tags[strings.ToLower(sub.ID)] = &sub.Tags

		for _, group := range sub.ResourceGroups {
			if group.ID == "" {
				group.ID = sub.ID + "/resourceGroups/" + group.Name
			}
			ip.tags[strings.ToLower(group.ID)] = &group.Tags

			for _, res := range group.Resources {
				if res.ID == "" {
					res.ID = fmt.Sprintf(
						"%s/providers/%s/%s",
						group.ID,
						res.Type,
						res.Name,
					)
				}
				ip.tags[strings.ToLower(res.ID)] = &res.Tags
			}
		}
	}
}

func (ip *InventoryProvider) GetSubscriptions(
	ctx context.Context,
) ([]provider.Entity, error) {
	ip.lock.Lock()
	defer ip.lock.Unlock()

	entities := []provider.Entity{}

	for _, sub := range ip.snapshot.Subscriptions {
		entities = append(entities, provider.Entity{
			ID:             sub.ID,
			Name:           sub.Name,
			Type:           string(provider.KIND_SUBSCRIPTION),
			Kind:           provider.KIND_SUBSCRIPTION,
			SubscriptionID: sub.SubscriptionID,
			TenantID:       sub.TenantID,
			State:          sub.State,
			Tags:           copyTags(sub.Tags),
		})
	}

	return entities, nil
}

func (ip *InventoryProvider) GetResourceGroups(
	ctx context.Context,
	subscription *provider.Entity,
) ([]provider.Entity, error) {
	ip.lock.Lock()
	defer ip.lock.Unlock()

	sub := ip.findSubscription(subscription.ID)
	if sub == nil {
		return nil, fmt.Errorf("subscription %s not found", subscription.ID)
	}

	entities := []provider.Entity{}

	for _, group := range sub.ResourceGroups {
		entities = append(entities, provider.Entity{
			ID:             group.ID,
			Name:           group.Name,
			Type:           string(provider.KIND_RESOURCE_GROUP),
			Kind:           provider.KIND_RESOURCE_GROUP,
			SubscriptionID: sub.SubscriptionID,
			TenantID:       sub.TenantID,
			Tags:           copyTags(group.Tags),
		})
	}

	return entities, nil
}

func (ip *InventoryProvider) GetResources(
	ctx context.Context,
	resourceGroup *provider.Entity,
) ([]provider.Entity, error) {
	ip.lock.Lock()
	defer ip.lock.Unlock()

	for _, sub := range ip.snapshot.Subscriptions {
		for _, group := range sub.ResourceGroups {
			if !strings.EqualFold(group.ID, resourceGroup.ID) {
				continue
			}

			entities := []provider.Entity{}

			for _, res := range group.Resources {
				entities = append(entities, provider.Entity{
					ID:             res.ID,
					Name:           res.Name,
					Type:           res.Type,
					Kind:           provider.KIND_RESOURCE,
					SubscriptionID: sub.SubscriptionID,
					TenantID:       sub.TenantID,
					Tags:           copyTags(res.Tags),
				})
			}

			return entities, nil
		}
	}

	return nil, fmt.Errorf("resource group %s not found", resourceGroup.ID)
}

func (ip *InventoryProvider) GetTags(
	ctx context.Context,
	entity *provider.Entity,
) (provider.Tags, error) {
	ip.lock.Lock()
	defer ip.lock.Unlock()

	tags, ok := ip.tags[strings.ToLower(entity.ID)]
	if !ok {
		return nil, fmt.Errorf("scope %s not found", entity.ID)
	}

	return copyTags(*tags), nil
}

func (ip *InventoryProvider) SetTags(
	ctx context.Context,
	entity *provider.Entity,
	tags provider.Tags,
) error {
	ip.lock.Lock()
	defer ip.lock.Unlock()

	current, ok := ip.tags[strings.ToLower(entity.ID)]
	if !ok {
		return fmt.Errorf("scope %s not found", entity.ID)
	}

	*current = copyTags(tags)
	ip.dirty = true

	return nil
}

// Flush writes the snapshot to the output file if any tags were changed.
func (ip *InventoryProvider) Flush() error {
	ip.lock.Lock()
	defer ip.lock.Unlock()

	if ip.OutputFile == "" || !ip.dirty {
		return nil
	}

	data, err := yaml.Marshal(ip.snapshot)
	if err != nil {
		return err
	}

	err = os.WriteFile(ip.OutputFile, data, 0644)
	if err != nil {
		return fmt.Errorf("write inventory %s failed: %w", ip.OutputFile, err)
	}

	ip.Interop.Logger.Infof("wrote remapped inventory to %s", ip.OutputFile)
	ip.dirty = false

	return nil
}

func (ip *InventoryProvider) Snapshot() *Snapshot {
	return ip.snapshot
}

func (ip *InventoryProvider) findSubscription(id string) *Subscription {
	for _, sub := range ip.snapshot.Subscriptions {
		if strings.EqualFold(sub.ID, id) {
			return sub
		}
	}
	return nil
}

func copyTags(tags map[string]string) provider.Tags {
	c := provider.Tags{}
	for k, v := range tags {
		c[k] = v
	}
	return c
}
