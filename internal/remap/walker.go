package remap

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/newrelic/nr-azure-tag-remap/internal/provider"
)

const SUBSCRIPTION_STATE_ENABLED = "Enabled"

// walker fans out over subscriptions, their resource groups and the resources
// in each group. Every entity produces exactly one outcome on results.
type walker struct {
	r       *Remapper
	txn     *newrelic.Transaction
	sem     chan struct{}
	results chan entityOutcome
}

func newWalker(r *Remapper, txn *newrelic.Transaction) *walker {
	return &walker{
		r:       r,
		txn:     txn,
		sem:     make(chan struct{}, r.config.Concurrency),
		results: make(chan entityOutcome, r.config.Concurrency*4),
	}
}

// call runs one remote operation while holding a concurrency slot. Slots are
// never held while waiting on child entities.
func (w *walker) call(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	select {
	case w.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	defer func() { <-w.sem }()

	return fn()
}

func (w *walker) walk(ctx context.Context, subscriptions []provider.Entity) {
	var wg sync.WaitGroup

	for idx := range subscriptions {
		sub := subscriptions[idx]

		wg.Add(1)
		go func() {
			defer wg.Done()
			w.walkSubscription(ctx, &sub)
		}()
	}

	wg.Wait()
}

func (w *walker) walkSubscription(ctx context.Context, sub *provider.Entity) {
	txn := w.txn.NewGoroutine()
	defer startSegment(txn, "subscription").End()

	ctx = newrelic.NewContext(ctx, txn)
	logger := w.r.i.Logger.WithContext(ctx)

	if reason := w.r.filterSubscription(sub); reason != "" {
		logger.Infof("%s: subscription %s, skipping...", reason, sub.Name)
		w.results <- entityOutcome{entity: *sub, result: ENTITY_FILTERED}
		return
	}

	start := time.Now()
	logger.Infof("start updating %s (%s)...", sub.Name, sub.SubscriptionID)

	w.results <- w.updateEntity(ctx, sub)

	var groups []provider.Entity

	err := w.call(ctx, func() error {
		var err error
		groups, err = w.r.provider.GetResourceGroups(ctx, sub)
		return err
	})
	if err != nil {
		w.results <- entityOutcome{entity: *sub, result: ENTITY_LIST_ERR, err: err}
		return
	}

	logger.Debugf("found %d resource groups in %s", len(groups), sub.Name)

	var wg sync.WaitGroup

	for idx := range groups {
		group := groups[idx]

		if !w.r.matchesResourceGroup(&group) {
			logger.Debugf("skipping %s - not target resource group", group.Name)
			w.results <- entityOutcome{entity: group, result: ENTITY_FILTERED}
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			w.walkResourceGroup(ctx, &group)
		}()
	}

	wg.Wait()

	logger.Infof(
		"finished updating %s (%s) in %.2f seconds",
		sub.Name,
		sub.SubscriptionID,
		time.Since(start).Seconds(),
	)
}

func (w *walker) walkResourceGroup(ctx context.Context, group *provider.Entity) {
	txn := newrelic.FromContext(ctx).NewGoroutine()
	defer startSegment(txn, "resourceGroup").End()

	ctx = newrelic.NewContext(ctx, txn)

	w.results <- w.updateEntity(ctx, group)

	var resources []provider.Entity

	err := w.call(ctx, func() error {
		var err error
		resources, err = w.r.provider.GetResources(ctx, group)
		return err
	})
	if err != nil {
		w.results <- entityOutcome{entity: *group, result: ENTITY_LIST_ERR, err: err}
		return
	}

	w.r.i.Logger.WithContext(ctx).Debugf(
		"found %d resources in resource group %s",
		len(resources),
		group.Name,
	)

	var wg sync.WaitGroup

	for idx := range resources {
		res := resources[idx]

		wg.Add(1)
		go func() {
			defer wg.Done()
			w.results <- w.updateEntity(ctx, &res)
		}()
	}

	wg.Wait()
}

func startSegment(txn *newrelic.Transaction, name string) *newrelic.Segment {
	if txn == nil {
		return nil
	}
	return txn.StartSegment(name)
}

// filterSubscription returns why a subscription is left out of the run, or
// an empty string if it should be processed.
func (r *Remapper) filterSubscription(sub *provider.Entity) string {
	if r.config.TenantID != "" &&
		!strings.EqualFold(sub.TenantID, r.config.TenantID) {
		return "outside target tenant"
	}

	if r.config.SubscriptionID != "" &&
		!strings.EqualFold(sub.SubscriptionID, r.config.SubscriptionID) {
		return "not target subscription"
	}

	if !strings.EqualFold(sub.State, SUBSCRIPTION_STATE_ENABLED) {
		if r.config.SkipDisabled {
			return "not enabled"
		}

		r.i.Logger.Infof(
			"subscription %s is in state %q, updating anyway",
			sub.Name,
			sub.State,
		)
	}

	return ""
}

func (r *Remapper) matchesResourceGroup(group *provider.Entity) bool {
	return r.config.ResourceGroup == "" ||
		strings.EqualFold(group.Name, r.config.ResourceGroup)
}
