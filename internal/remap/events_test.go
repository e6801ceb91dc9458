package remap

import (
	"fmt"
	"testing"
	"time"

	"github.com/gofrs/uuid"
	"github.com/newrelic/nr-azure-tag-remap/internal/provider"
	"github.com/stretchr/testify/assert"
)

func newTestRemapper(dryRun bool) *Remapper {
	config := newTestConfig()
	config.DryRun = dryRun
	config.Events.EventType = "TestAudit"

	return &Remapper{i: newTestInterop(), provider: newFakeProvider(), config: config}
}

func TestAuditEvents(t *testing.T) {
	runId := uuid.Must(uuid.NewV4())
	r := newTestRemapper(true)

	outcome := &entityOutcome{
		entity: provider.Entity{
			ID:             "/subscriptions/s1/resourceGroups/rg-1",
			Name:           "rg-1",
			Type:           string(provider.KIND_RESOURCE_GROUP),
			SubscriptionID: "s1",
		},
		result: ENTITY_UPDATE_ERR,
		err:    fmt.Errorf("write rejected"),
	}

	summary := newSummary(runId.String(), true)
	summary.Totals = KindCounts{Updated: 3, Skipped: 2, Failed: 1, Filtered: 4}
	summary.ListErrors = 5
	summary.Elapsed = 2 * time.Second

	tests := []struct {
		name     string
		event    auditEvent
		expected auditEvent
	}{
		{
			name:  "start",
			event: r.newAuditEvent(runId, "remap_start", nil),
			expected: auditEvent{
				"eventType": "TestAudit",
				"id":        runId.String(),
				"action":    "remap_start",
				"dryRun":    true,
				"error":     false,
			},
		},
		{
			name:  "entity error",
			event: r.newEntityErrorEvent(runId, outcome),
			expected: auditEvent{
				"eventType":      "TestAudit",
				"id":             runId.String(),
				"action":         "entity_error",
				"dryRun":         true,
				"error":          true,
				"errorMessage":   "write rejected",
				"entityId":       "/subscriptions/s1/resourceGroups/rg-1",
				"entityName":     "rg-1",
				"entityType":     "resource group",
				"subscriptionId": "s1",
				"result":         "failed",
			},
		},
		{
			name:  "end",
			event: r.newSummaryEvent(runId, summary, fmt.Errorf("disk full")),
			expected: auditEvent{
				"eventType":       "TestAudit",
				"id":              runId.String(),
				"action":          "remap_end",
				"dryRun":          true,
				"error":           true,
				"errorMessage":    "disk full",
				"updated":         3,
				"skipped":         2,
				"failed":          1,
				"filtered":        4,
				"listErrors":      5,
				"durationSeconds": 2.0,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.event)
		})
	}
}

func TestPushEvent_Disabled(t *testing.T) {
	r := newTestRemapper(false)
	event := r.newAuditEvent(uuid.Must(uuid.NewV4()), "remap_start", nil)

	assert.NotPanics(t, func() { r.pushEvent(event) })

	r.config.Events.Enabled = true
	r.config.Events.AccountId = 1

	assert.Nil(t, r.i.NrClient)
	assert.NotPanics(t, func() { r.pushEvent(event) })
}
