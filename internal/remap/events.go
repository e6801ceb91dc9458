package remap

import (
	"github.com/gofrs/uuid"
)

type auditEvent map[string]interface{}

func (r *Remapper) newAuditEvent(
	runId uuid.UUID,
	action string,
	err error,
) auditEvent {
	event := auditEvent{}

	event["eventType"] = r.config.Events.EventType
	event["id"] = runId.String()
	event["action"] = action
	event["dryRun"] = r.config.DryRun
	event["error"] = err != nil
	if err != nil {
		event["errorMessage"] = err.Error()
	}

	return event
}

func (r *Remapper) newEntityErrorEvent(
	runId uuid.UUID,
	outcome *entityOutcome,
) auditEvent {
	event := r.newAuditEvent(runId, "entity_error", outcome.err)

	event["entityId"] = outcome.entity.ID
	event["entityName"] = outcome.entity.Name
	event["entityType"] = outcome.entity.Type
	event["subscriptionId"] = outcome.entity.SubscriptionID
	event["result"] = outcome.result.String()

	return event
}

func (r *Remapper) newSummaryEvent(
	runId uuid.UUID,
	summary *Summary,
	err error,
) auditEvent {
	event := r.newAuditEvent(runId, "remap_end", err)

	event["updated"] = summary.Totals.Updated
	event["skipped"] = summary.Totals.Skipped
	event["failed"] = summary.Totals.Failed
	event["filtered"] = summary.Totals.Filtered
	event["listErrors"] = summary.ListErrors
	event["durationSeconds"] = summary.Elapsed.Seconds()

	return event
}

func (r *Remapper) pushEvent(event auditEvent) {
	if !r.config.Events.Enabled || r.i.NrClient == nil {
		return
	}

	if err := r.i.NrClient.Events.CreateEvent(
		r.config.Events.AccountId,
		event,
	); err != nil {
		r.i.Logger.Warnf("failed to push event: %s", err)
	}
}
