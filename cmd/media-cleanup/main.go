package main

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/aws/aws-lambda-go/lambda"

	"github.com/expotoworld/storefront/internal/catalog"
	"github.com/expotoworld/storefront/internal/config"
	"github.com/expotoworld/storefront/internal/jobs"
)

type event struct {
	Limit int `json:"limit"`
}

type logSummary struct {
	catalog.DrainResult
	ExecutionDurationMs int64  `json:"execution_duration_ms"`
	Timestamp           string `json:"ts"`
}

func handler(ctx context.Context, ev event) (catalog.DrainResult, error) {
	start := time.Now()

	rt, err := jobs.Setup(ctx)
	if err != nil {
		return catalog.DrainResult{}, err
	}
	defer rt.Close()

	limit := ev.Limit
	if limit <= 0 {
		limit = config.GetEnvInt("DRAIN_LIMIT", 100)
	}
	res, err := rt.Reconciler.DrainPendingDeletions(ctx, limit)
	if err != nil {
		return res, err
	}

	// Structured JSON summary
	b, _ := json.Marshal(logSummary{
		DrainResult:         res,
		ExecutionDurationMs: time.Since(start).Milliseconds(),
		Timestamp:           time.Now().UTC().Format(time.RFC3339),
	})
	log.Printf("%s", b)

	if err := rt.PutCounts(ctx, map[string]int{
		"PendingChecked":   res.Checked,
		"BlobsDeleted":     res.Deleted,
		"BlobsRetained":    res.Retained,
		"DeleteErrors":     res.Errors,
		"TombstonesPurged": int(res.Purged),
	}); err != nil {
		log.Printf("PutMetricData failed: %v", err)
	}
	return res, nil
}

func main() { lambda.Start(handler) }
