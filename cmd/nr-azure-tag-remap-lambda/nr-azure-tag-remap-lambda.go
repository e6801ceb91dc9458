package main

import (
	"context"
	"fmt"

	_ "github.com/newrelic/nr-azure-tag-remap/internal/provider/azure"
	_ "github.com/newrelic/nr-azure-tag-remap/internal/provider/inventory"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/newrelic/nr-azure-tag-remap/internal/remap"
	"github.com/newrelic/nr-azure-tag-remap/pkg/interop"
	"github.com/spf13/cast"
	"github.com/spf13/viper"
)

type TagRemapResult struct {
	Success    bool   `json:"success"`
	Message    string `json:"message,omitempty"`
	RunID      string `json:"runId,omitempty"`
	Updated    int    `json:"updated"`
	Skipped    int    `json:"skipped"`
	Failed     int    `json:"failed"`
	Filtered   int    `json:"filtered"`
	ListErrors int    `json:"listErrors"`
}

// Event keys that override the matching remap.* configuration for one
// invocation.
var overrideKeys = map[string]string{
	"tenantId":       "remap.tenantId",
	"subscriptionId": "remap.subscriptionId",
	"resourceGroup":  "remap.resourceGroup",
	"skipDisabled":   "remap.skipDisabled",
	"dryRun":         "remap.dryRun",
}

func applyOverrides(event map[string]interface{}) {
	for eventKey, configKey := range overrideKeys {
		v, ok := event[eventKey]
		if !ok || v == nil {
			// warm containers keep viper state between invocations
			viper.Set(configKey, nil)
			continue
		}

		switch eventKey {
		case "skipDisabled", "dryRun":
			viper.Set(configKey, cast.ToBool(v))
		default:
			viper.Set(configKey, cast.ToString(v))
		}
	}
}

func HandleRequest(
	ctx context.Context,
	event map[string]interface{},
) (TagRemapResult, error) {
	applyOverrides(event)

	i, err := interop.NewInteroperability()
	if err != nil {
		retErr := fmt.Errorf("failed to create interop: %s", err)
		return TagRemapResult{Message: retErr.Error()}, retErr
	}

	defer i.Shutdown()

	remapper, err := remap.NewFromConfig(i)
	if err != nil {
		retErr := fmt.Errorf("remap setup failed: %s", err)
		return TagRemapResult{Message: retErr.Error()}, retErr
	}

	summary, err := remapper.Run(ctx)
	if err != nil {
		retErr := fmt.Errorf("remap failed: %s", err)
		result := TagRemapResult{Message: retErr.Error()}
		if summary != nil {
			fillCounts(&result, summary)
		}
		return result, retErr
	}

	result := TagRemapResult{Success: true}
	fillCounts(&result, summary)

	return result, nil
}

func fillCounts(result *TagRemapResult, summary *remap.Summary) {
	result.RunID = summary.RunID
	result.Updated = summary.Totals.Updated
	result.Skipped = summary.Totals.Skipped
	result.Failed = summary.Totals.Failed
	result.Filtered = summary.Totals.Filtered
	result.ListErrors = summary.ListErrors
}

func main() {
	lambda.Start(HandleRequest)
}
