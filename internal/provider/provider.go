package provider

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/newrelic/nr-azure-tag-remap/pkg/interop"
	"github.com/spf13/viper"
)

type EntityKind string

const (
	KIND_SUBSCRIPTION   EntityKind = "subscription"
	KIND_RESOURCE_GROUP EntityKind = "resource group"
	KIND_RESOURCE       EntityKind = "resource"
)

type Tags map[string]string

// Entity is a tenant scoped subscription, resource group or resource. Tags is
// nil when the listing call did not return them.
type Entity struct {
	ID             string
	Name           string
	Type           string
	Kind           EntityKind
	SubscriptionID string
	TenantID       string
	State          string
	Tags           Tags
}

type Provider interface {
	GetSubscriptions(ctx context.Context) ([]Entity, error)
	GetResourceGroups(ctx context.Context, subscription *Entity) ([]Entity, error)
	GetResources(ctx context.Context, resourceGroup *Entity) ([]Entity, error)
	GetTags(ctx context.Context, entity *Entity) (Tags, error)
	SetTags(ctx context.Context, entity *Entity, tags Tags) error
}

// Flusher is implemented by providers that buffer writes until the run ends.
type Flusher interface {
	Flush() error
}

type InitFn func(*interop.Interop, *viper.Viper) (Provider, error)

var (
	initFns      map[string]InitFn
	providerLock sync.Mutex
)

func GetProvider(i *interop.Interop) (Provider, error) {
	if !viper.IsSet("provider") {
		return nil, fmt.Errorf("missing provider in config")
	}

	providerType := viper.GetString("provider.type")
	if providerType == "" {
		return nil, fmt.Errorf("missing provider type")
	}

	i.Logger.Debugf("getting provider for type %s...", providerType)

	providerLock.Lock()
	defer providerLock.Unlock()

	fn, ok := initFns[providerType]
	if !ok {
		return nil, fmt.Errorf("invalid provider: %s", providerType)
	}

	i.Logger.Debugf("initializing provider...")
	return fn(i, viper.Sub("provider"))
}

func RegisterProvider(t string, initFn InitFn) {
	providerLock.Lock()
	defer providerLock.Unlock()

	if initFns == nil {
		initFns = make(map[string]InitFn)
	}

	initFns[t] = initFn
}

func RegisteredProviders() []string {
	providerLock.Lock()
	defer providerLock.Unlock()

	names := make([]string, 0, len(initFns))
	for name := range initFns {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}

func (t Tags) Copy() Tags {
	c := make(Tags, len(t))
	for k, v := range t {
		c[k] = v
	}
	return c
}

func (t Tags) Equal(other Tags) bool {
	if len(t) != len(other) {
		return false
	}

	for k, v := range t {
		ov, ok := other[k]
		if !ok || ov != v {
			return false
		}
	}

	return true
}

func (e *Entity) String() string {
	return fmt.Sprintf("%s %s (%s)", e.Type, e.Name, e.ID)
}
