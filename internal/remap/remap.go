package remap

import (
	"context"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/newrelic/nr-azure-tag-remap/internal/provider"
	"github.com/newrelic/nr-azure-tag-remap/pkg/interop"
)

type Remapper struct {
	i        *interop.Interop
	provider provider.Provider
	config   *Config
}

type KindCounts struct {
	Scanned  int
	Updated  int
	Skipped  int
	Failed   int
	Filtered int
}

type Summary struct {
	RunID      string
	DryRun     bool
	Totals     KindCounts
	ByKind     map[provider.EntityKind]*KindCounts
	ListErrors int
	Errors     []error
	Elapsed    time.Duration
}

func New(
	i *interop.Interop,
	p provider.Provider,
	config *Config,
) (*Remapper, error) {
	if p == nil {
		return nil, fmt.Errorf("missing provider")
	}

	err := config.Validate()
	if err != nil {
		return nil, err
	}

	return &Remapper{i, p, config}, nil
}

// NewFromConfig builds a Remapper from viper configuration and the provider
// registered for provider.type.
func NewFromConfig(i *interop.Interop) (*Remapper, error) {
	config, err := LoadConfig()
	if err != nil {
		return nil, err
	}

	p, err := provider.GetProvider(i)
	if err != nil {
		return nil, err
	}

	return New(i, p, config)
}

func (r *Remapper) Config() *Config {
	return r.config
}

// Run walks the whole hierarchy once. Per entity failures are reported in the
// summary; an error is only returned when the walk could not start, was
// cancelled, or buffered writes could not be flushed.
func (r *Remapper) Run(ctx context.Context) (*Summary, error) {
	start := time.Now()

	runId, err := uuid.NewV4()
	if err != nil {
		return nil, err
	}

	txn := r.i.App.StartTransaction("tag-remap")
	defer txn.End()

	ctx = newrelic.NewContext(ctx, txn)
	summary := newSummary(runId.String(), r.config.DryRun)

	r.pushEvent(r.newAuditEvent(runId, "remap_start", nil))

	r.i.Logger.Debugf("reading all subscriptions from provider")

	subscriptions, err := r.provider.GetSubscriptions(ctx)
	if err != nil {
		txn.NoticeError(err)
		summary.Elapsed = time.Since(start)
		r.pushEvent(r.newSummaryEvent(runId, summary, err))
		return nil, err
	}

	r.i.Logger.Debugf("found %d subscriptions", len(subscriptions))

	w := newWalker(r, txn)
	done := make(chan struct{})

	go func() {
		defer close(done)

		collectorTxn := txn.NewGoroutine()

		for outcome := range w.results {
			summary.add(&outcome)
			r.reportOutcome(runId, collectorTxn, &outcome)
		}
	}()

	w.walk(ctx, subscriptions)
	close(w.results)
	<-done

	err = ctx.Err()

	if f, ok := r.provider.(provider.Flusher); ok {
		if flushErr := f.Flush(); flushErr != nil {
			err = flushErr
		}
	}

	summary.Elapsed = time.Since(start)

	r.logSummary(summary)
	r.addSummaryAttributes(txn, summary)
	r.pushEvent(r.newSummaryEvent(runId, summary, err))

	if err != nil {
		txn.NoticeError(err)
		return summary, err
	}

	return summary, nil
}

func (r *Remapper) reportOutcome(
	runId uuid.UUID,
	txn *newrelic.Transaction,
	outcome *entityOutcome,
) {
	r.i.Logger.Tracef(
		"result of processing %s %s: %s",
		outcome.entity.Type,
		outcome.entity.Name,
		outcome.result,
	)

	if outcome.err == nil {
		return
	}

	r.i.Logger.Warnf(
		"error while processing %s %s: %s",
		outcome.entity.Type,
		outcome.entity.Name,
		outcome.err,
	)

	txn.NoticeError(outcome.err)
	r.pushEvent(r.newEntityErrorEvent(runId, outcome))
}

func (r *Remapper) logSummary(summary *Summary) {
	mode := ""
	if summary.DryRun {
		mode = " (dry run)"
	}

	r.i.Logger.Infof(
		"tag remap%s finished in %.2f seconds: %d scanned, %d updated, %d skipped, %d failed, %d filtered, %d listing errors",
		mode,
		summary.Elapsed.Seconds(),
		summary.Totals.Scanned,
		summary.Totals.Updated,
		summary.Totals.Skipped,
		summary.Totals.Failed,
		summary.Totals.Filtered,
		summary.ListErrors,
	)

	for _, kind := range []provider.EntityKind{
		provider.KIND_SUBSCRIPTION,
		provider.KIND_RESOURCE_GROUP,
		provider.KIND_RESOURCE,
	} {
		counts, ok := summary.ByKind[kind]
		if !ok {
			continue
		}

		r.i.Logger.Debugf(
			"%s: %d scanned, %d updated, %d skipped, %d failed, %d filtered",
			kind,
			counts.Scanned,
			counts.Updated,
			counts.Skipped,
			counts.Failed,
			counts.Filtered,
		)
	}
}

func (r *Remapper) addSummaryAttributes(
	txn *newrelic.Transaction,
	summary *Summary,
) {
	if txn == nil {
		return
	}

	txn.AddAttribute("runId", summary.RunID)
	txn.AddAttribute("dryRun", summary.DryRun)
	txn.AddAttribute("entitiesUpdated", summary.Totals.Updated)
	txn.AddAttribute("entitiesSkipped", summary.Totals.Skipped)
	txn.AddAttribute("entitiesFailed", summary.Totals.Failed)
	txn.AddAttribute("entitiesFiltered", summary.Totals.Filtered)
	txn.AddAttribute("listErrors", summary.ListErrors)
}

func newSummary(runId string, dryRun bool) *Summary {
	return &Summary{
		RunID:  runId,
		DryRun: dryRun,
		ByKind: map[provider.EntityKind]*KindCounts{},
	}
}

func (s *Summary) add(outcome *entityOutcome) {
	if outcome.result == ENTITY_LIST_ERR {
		s.ListErrors += 1
		s.Errors = append(s.Errors, outcome.err)
		return
	}

	counts, ok := s.ByKind[outcome.entity.Kind]
	if !ok {
		counts = &KindCounts{}
		s.ByKind[outcome.entity.Kind] = counts
	}

	for _, c := range []*KindCounts{&s.Totals, counts} {
		c.Scanned += 1

		switch outcome.result {
		case ENTITY_FILTERED:
			c.Filtered += 1
		case ENTITY_UPDATE_OK:
			c.Updated += 1
		case ENTITY_UPDATE_NONE:
			c.Skipped += 1
		case ENTITY_UPDATE_ERR:
			c.Failed += 1
		}
	}

	if outcome.err != nil {
		s.Errors = append(s.Errors, outcome.err)
	}
}
