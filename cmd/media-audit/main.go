package main

import (
	"context"
	"log"
	"os"

	"github.com/aws/aws-lambda-go/lambda"

	"github.com/expotoworld/storefront/internal/catalog"
	"github.com/expotoworld/storefront/internal/jobs"
)

type event struct {
	Prefix string `json:"prefix"`
}

func handler(ctx context.Context, ev event) (catalog.AuditResult, error) {
	rt, err := jobs.Setup(ctx)
	if err != nil {
		return catalog.AuditResult{}, err
	}
	defer rt.Close()

	prefix := ev.Prefix
	if prefix == "" {
		prefix = os.Getenv("AUDIT_PREFIX")
	}
	res, err := rt.Reconciler.AuditOrphans(ctx, prefix)
	if err != nil {
		return res, err
	}

	log.Printf("audit: bucket=%s prefix=%q scanned=%d referenced=%d too_recent=%d orphans=%d",
		rt.Bucket, prefix, res.Scanned, res.Referenced, res.TooRecent, len(res.Orphans))

	if err := rt.PutCounts(ctx, map[string]int{
		"ObjectsScanned": res.Scanned,
		"OrphansQueued":  len(res.Orphans),
	}); err != nil {
		log.Printf("PutMetricData failed: %v", err)
	}
	return res, nil
}

func main() { lambda.Start(handler) }
