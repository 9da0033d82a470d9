// Package config loads service configuration from the environment.
package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultBucket     = "product-images"
	DefaultMaxUpload  = 10 << 20
	DefaultRegion     = "eu-central-1"
	DefaultLocalDir   = "./uploads"
	DefaultPort       = "8080"
	DefaultGraceHours = 24
)

// Storage drivers.
const (
	DriverS3    = "s3"
	DriverLocal = "local"
)

// StorageConfig selects and configures the blob store backend.
type StorageConfig struct {
	Driver          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	ForcePathStyle  bool
	PublicBaseURL   string
	LocalDir        string
}

// Config holds everything cmd/server needs besides the database settings,
// which the db package reads itself.
type Config struct {
	Port              string
	GinMode           string
	JWTSecret         string
	MaintenanceToken  string
	CORSOrigin        string
	ServiceBaseURL    string
	Bucket            string
	MaxUploadBytes    int64
	ReconcileInterval time.Duration
	OrphanGrace       time.Duration
	Storage           StorageConfig
}

// Load reads the configuration from environment variables.
func Load() Config {
	cfg := Config{
		Port:              GetEnv("PORT", DefaultPort),
		GinMode:           os.Getenv("GIN_MODE"),
		JWTSecret:         os.Getenv("JWT_SECRET"),
		MaintenanceToken:  os.Getenv("MAINTENANCE_TOKEN"),
		CORSOrigin:        os.Getenv("CORS_ORIGIN"),
		ServiceBaseURL:    strings.TrimRight(GetEnv("SERVICE_BASE_URL", "http://localhost:"+GetEnv("PORT", DefaultPort)), "/"),
		Bucket:            GetEnv("PRODUCT_IMAGES_BUCKET", DefaultBucket),
		MaxUploadBytes:    int64(GetEnvInt("MAX_UPLOAD_MB", DefaultMaxUpload>>20)) << 20,
		ReconcileInterval: time.Duration(GetEnvInt("RECONCILE_INTERVAL_MINUTES", 0)) * time.Minute,
		OrphanGrace:       time.Duration(GetEnvInt("ORPHAN_GRACE_HOURS", DefaultGraceHours)) * time.Hour,
	}
	cfg.Storage = loadStorage(cfg.ServiceBaseURL)
	return cfg
}

func loadStorage(serviceBaseURL string) StorageConfig {
	sc := StorageConfig{
		Region:          Region(),
		Endpoint:        os.Getenv("S3_ENDPOINT"),
		AccessKeyID:     os.Getenv("S3_ACCESS_KEY_ID"),
		SecretAccessKey: os.Getenv("S3_SECRET_ACCESS_KEY"),
		ForcePathStyle:  GetEnvBool("S3_FORCE_PATH_STYLE", false),
		PublicBaseURL:   strings.TrimRight(os.Getenv("STORAGE_PUBLIC_BASE_URL"), "/"),
		LocalDir:        GetEnv("LOCAL_STORAGE_DIR", DefaultLocalDir),
	}
	sc.Driver = strings.ToLower(os.Getenv("STORAGE_DRIVER"))
	if sc.Driver == "" {
		// Fall back to local files when no object store is configured, the way
		// the upload path always did for development.
		if sc.Endpoint != "" || os.Getenv("AWS_REGION") != "" || os.Getenv("AWS_DEFAULT_REGION") != "" {
			sc.Driver = DriverS3
		} else {
			sc.Driver = DriverLocal
		}
	}
	if sc.Driver == DriverLocal && sc.PublicBaseURL == "" {
		sc.PublicBaseURL = serviceBaseURL + "/storage/v1"
	}
	return sc
}

// Region returns the AWS region, defaulting to Frankfurt.
func Region() string {
	region := os.Getenv("AWS_REGION")
	if region == "" {
		region = os.Getenv("AWS_DEFAULT_REGION")
	}
	if region == "" {
		region = DefaultRegion
	}
	return region
}

// GetEnv gets an environment variable with a default value
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// GetEnvInt parses an integer environment variable, falling back on bad input.
func GetEnvInt(key string, defaultValue int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultValue
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		log.Printf("Invalid %s value: %s, using default %d", key, s, defaultValue)
		return defaultValue
	}
	return v
}

// GetEnvBool parses a boolean environment variable.
func GetEnvBool(key string, defaultValue bool) bool {
	s := os.Getenv(key)
	if s == "" {
		return defaultValue
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		return defaultValue
	}
	return v
}
