package remap

import (
	"context"
	"fmt"

	"github.com/newrelic/nr-azure-tag-remap/internal/provider"
)

type entityProcessorResult int

const (
	ENTITY_FILTERED entityProcessorResult = iota
	ENTITY_UPDATE_OK
	ENTITY_UPDATE_NONE
	ENTITY_UPDATE_ERR
	ENTITY_LIST_ERR
)

func (r entityProcessorResult) String() string {
	switch r {
	case ENTITY_FILTERED:
		return "filtered"
	case ENTITY_UPDATE_OK:
		return "updated"
	case ENTITY_UPDATE_NONE:
		return "skipped"
	case ENTITY_UPDATE_ERR:
		return "failed"
	case ENTITY_LIST_ERR:
		return "list failed"
	}
	return "unknown"
}

type entityOutcome struct {
	entity provider.Entity
	result entityProcessorResult
	err    error
}

// updateEntity remaps the tags of a single entity and writes them back when
// they changed. Errors are returned inside the outcome, never propagated.
func (w *walker) updateEntity(
	ctx context.Context,
	entity *provider.Entity,
) entityOutcome {
	logger := w.r.i.Logger.WithContext(ctx)
	outcome := entityOutcome{entity: *entity}

	tags := entity.Tags
	if tags == nil {
		err := w.call(ctx, func() error {
			var err error
			tags, err = w.r.provider.GetTags(ctx, entity)
			return err
		})
		if err != nil {
			outcome.result = ENTITY_UPDATE_ERR
			outcome.err = fmt.Errorf(
				"reading tags on %s %s failed: %w",
				entity.Type,
				entity.Name,
				err,
			)
			return outcome
		}
	}

	if len(tags) == 0 {
		logger.Debugf("no tags on %s %s", entity.Type, entity.Name)
		outcome.result = ENTITY_UPDATE_NONE
		return outcome
	}

	finalTags := w.r.remapTags(entity, tags)

	if finalTags.Equal(tags) {
		logger.Debugf("no tags requiring updating on %s %s", entity.Type, entity.Name)
		outcome.result = ENTITY_UPDATE_NONE
		return outcome
	}

	if w.r.config.DryRun {
		logger.Infof(
			"dry run, not setting %d tags on %s %s",
			len(finalTags),
			entity.Type,
			entity.Name,
		)
		outcome.result = ENTITY_UPDATE_OK
		return outcome
	}

	err := w.call(ctx, func() error {
		return w.r.provider.SetTags(ctx, entity, finalTags)
	})
	if err != nil {
		outcome.result = ENTITY_UPDATE_ERR
		outcome.err = fmt.Errorf(
			"setting tags on %s %s (%s) failed: %w",
			entity.Type,
			entity.Name,
			entity.ID,
			err,
		)
		return outcome
	}

	outcome.result = ENTITY_UPDATE_OK
	return outcome
}

// remapTags applies key rules then value rules, logging every change.
func (r *Remapper) remapTags(
	entity *provider.Entity,
	tags provider.Tags,
) provider.Tags {
	keyed, keyChanges := remapKeys(tags, r.config.KeyRules)
	final, valueChanges := remapValues(keyed, r.config.ValueRules)

	for _, change := range append(keyChanges, valueChanges...) {
		switch change.kind {
		case TAG_KEY_RENAMED:
			r.i.Logger.Infof(
				"changing tag %s to %s for %s: %s",
				change.from,
				change.to,
				entity.Type,
				entity.Name,
			)
		case TAG_KEY_DROPPED:
			r.i.Logger.Warnf(
				"dropping tag %s=%s for %s: %s, tag %s is already set",
				change.key,
				change.value,
				entity.Type,
				entity.Name,
				change.to,
			)
		case TAG_KEY_REPLACED:
			r.i.Logger.Warnf(
				"replacing tag %s=%s with renamed value %s for %s: %s",
				change.key,
				change.from,
				change.to,
				entity.Type,
				entity.Name,
			)
		case TAG_VALUE_CHANGED:
			r.i.Logger.Infof(
				"changing value of tag %s from %s to %s for %s: %s",
				change.key,
				change.from,
				change.to,
				entity.Type,
				entity.Name,
			)
		}
	}

	return final
}
