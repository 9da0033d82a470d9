// Package jobs wires the scheduled media Lambdas: database from Secrets
// Manager, the S3 blob store and CloudWatch counters.
package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/expotoworld/storefront/internal/catalog"
	"github.com/expotoworld/storefront/internal/config"
	"github.com/expotoworld/storefront/internal/db"
	"github.com/expotoworld/storefront/internal/storage"
)

const defaultNamespace = "Storefront/MediaReconcile"

// Runtime is everything a media job needs for one invocation.
type Runtime struct {
	DB         *db.Database
	Reconciler *catalog.Reconciler
	Bucket     string
	Namespace  string

	cw *cloudwatch.Client
}

type secretPayload struct {
	DatabaseURL string `json:"DATABASE_URL"`
}

func getSecret(ctx context.Context, sm *secretsmanager.Client, secretArn string) (string, error) {
	out, err := sm.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{SecretId: &secretArn})
	if err != nil {
		return "", fmt.Errorf("get secret: %w", err)
	}
	return parseSecret(aws.ToString(out.SecretString))
}

func parseSecret(s string) (string, error) {
	var payload secretPayload
	if err := json.Unmarshal([]byte(s), &payload); err != nil {
		return "", fmt.Errorf("parse secret json: %w", err)
	}
	if payload.DatabaseURL == "" {
		return "", fmt.Errorf("DATABASE_URL missing in secret")
	}
	return payload.DatabaseURL, nil
}

// Setup connects to the database named by SECRETS_ARN (or DATABASE_URL when
// running outside Lambda) and builds a reconciler over MEDIA_BUCKET.
func Setup(ctx context.Context) (*Runtime, error) {
	region := config.Region()
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("aws config: %w", err)
	}

	dsn := os.Getenv("DATABASE_URL")
	if secretArn := os.Getenv("SECRETS_ARN"); secretArn != "" {
		dsn, err = getSecret(ctx, secretsmanager.NewFromConfig(awsCfg), secretArn)
		if err != nil {
			return nil, err
		}
	}
	if dsn == "" {
		return nil, fmt.Errorf("SECRETS_ARN env var is required")
	}

	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse db url: %w", err)
	}
	// keep pool tiny
	poolCfg.MaxConns = 2
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}
	database := &db.Database{Pool: pool}
	if err := database.Init(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("schema init: %w", err)
	}

	sc := config.Load().Storage
	sc.Driver = config.DriverS3
	sc.Region = region
	sc.PublicBaseURL = strings.TrimRight(os.Getenv("STORAGE_PUBLIC_BASE_URL"), "/")
	blobs, err := storage.NewS3Store(ctx, sc)
	if err != nil {
		pool.Close()
		return nil, err
	}

	bucket := config.GetEnv("MEDIA_BUCKET", config.DefaultBucket)
	graceHours := config.GetEnvInt("ORPHAN_GRACE_HOURS", config.DefaultGraceHours)
	reconciler := catalog.NewReconciler(database, blobs, bucket, time.Duration(graceHours)*time.Hour)
	if v := config.GetEnvInt("RETRY_BACKOFF_MINUTES", 0); v > 0 {
		reconciler.RetryBackoff = time.Duration(v) * time.Minute
	}

	return &Runtime{
		DB:         database,
		Reconciler: reconciler,
		Bucket:     bucket,
		Namespace:  config.GetEnv("METRICS_NAMESPACE", defaultNamespace),
		cw:         cloudwatch.NewFromConfig(awsCfg),
	}, nil
}

// Close releases the database pool.
func (r *Runtime) Close() {
	r.DB.Close()
}

// PutCounts publishes one Count datum per entry, dimensioned by Bucket.
func (r *Runtime) PutCounts(ctx context.Context, counts map[string]int) error {
	_, err := r.cw.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace:  &r.Namespace,
		MetricData: countData(time.Now(), r.Bucket, counts),
	})
	return err
}

func countData(now time.Time, bucket string, counts map[string]int) []cwtypes.MetricDatum {
	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	sort.Strings(names)

	data := make([]cwtypes.MetricDatum, 0, len(names))
	for _, name := range names {
		data = append(data, cwtypes.MetricDatum{
			MetricName: aws.String(name),
			Timestamp:  aws.Time(now),
			Unit:       cwtypes.StandardUnitCount,
			Value:      aws.Float64(float64(counts[name])),
			Dimensions: []cwtypes.Dimension{{Name: aws.String("Bucket"), Value: aws.String(bucket)}},
		})
	}
	return data
}
