package db

import (
	"context"
	"fmt"
	"log"
	"net"
	"os"
	"time"

	"github.com/expotoworld/storefront/internal/catalog"
	"github.com/expotoworld/storefront/internal/config"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Pool is the subset of *pgxpool.Pool the stores use.
type Pool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// Database holds the database connection pool. It implements the relation,
// image and pending-deletion stores used by the catalog package.
type Database struct {
	Pool Pool
}

var (
	_ Pool                  = (*pgxpool.Pool)(nil)
	_ catalog.RelationStore = (*Database)(nil)
	_ catalog.ImageStore    = (*Database)(nil)
	_ catalog.PendingStore  = (*Database)(nil)
)

// Config holds database configuration
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// NewDatabase connects with the default retry schedule.
func NewDatabase() (*Database, error) {
	return NewDatabaseWithRetry(5, time.Second)
}

// NewDatabaseWithRetry connects and pings, backing off exponentially between
// attempts while the database comes up.
func NewDatabaseWithRetry(maxRetries int, initialDelay time.Duration) (*Database, error) {
	poolConfig, err := poolConfigFromEnv()
	if err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		log.Printf("[STOREFRONT-DB] Connection attempt %d/%d to database %s@%s:%d",
			attempt, maxRetries, poolConfig.ConnConfig.User, poolConfig.ConnConfig.Host, poolConfig.ConnConfig.Port)

		pool, err := connect(poolConfig)
		if err == nil {
			log.Printf("[STOREFRONT-DB] Connected on attempt %d", attempt)
			return &Database{Pool: pool}, nil
		}
		lastErr = err
		log.Printf("[STOREFRONT-DB] Attempt %d failed: %v", attempt, err)

		if attempt < maxRetries {
			delay := initialDelay * time.Duration(1<<(attempt-1))
			log.Printf("[STOREFRONT-DB] Retrying in %v...", delay)
			time.Sleep(delay)
		}
	}
	return nil, fmt.Errorf("failed to connect to database after %d attempts: %w", maxRetries, lastErr)
}

func connect(poolConfig *pgxpool.Config) (*pgxpool.Pool, error) {
	pool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return pool, nil
}

// poolConfigFromEnv builds the pool configuration from DATABASE_URL, or from
// the DB_* variables when it is unset.
func poolConfigFromEnv() (*pgxpool.Config, error) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		dsn = getConfigFromEnv().connString()
	}
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid database config: %w", err)
	}

	poolConfig.MaxConns = 30
	poolConfig.MinConns = 0
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	// Transaction poolers (pgbouncer, RDS proxy) reject named prepared statements.
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	origHost := poolConfig.ConnConfig.Host
	poolConfig.ConnConfig.DialFunc = preferIPv4(origHost)
	if poolConfig.ConnConfig.TLSConfig != nil && poolConfig.ConnConfig.TLSConfig.ServerName == "" {
		poolConfig.ConnConfig.TLSConfig.ServerName = origHost
	}
	return poolConfig, nil
}

// preferIPv4 dials the first IPv4 address of the host, falling back to
// whatever the resolver returns.
func preferIPv4(fallbackHost string) pgconn.DialFunc {
	return func(ctx context.Context, network, address string) (net.Conn, error) {
		host, port, err := net.SplitHostPort(address)
		if err != nil || host == "" || port == "" {
			host = fallbackHost
			port = "5432"
		}
		ips, err := net.DefaultResolver.LookupIPAddr(ctx, host)
		if err == nil {
			for _, ipa := range ips {
				if ipv4 := ipa.IP.To4(); ipv4 != nil {
					return (&net.Dialer{}).DialContext(ctx, "tcp4", net.JoinHostPort(ipv4.String(), port))
				}
			}
			if len(ips) > 0 {
				return (&net.Dialer{}).DialContext(ctx, "tcp", net.JoinHostPort(ips[0].IP.String(), port))
			}
		}
		return (&net.Dialer{}).DialContext(ctx, "tcp", address)
	}
}

// Close closes the database connection pool
func (db *Database) Close() {
	if db.Pool != nil {
		db.Pool.Close()
		log.Println("[STOREFRONT-DB] Connection pool closed")
	}
}

// Health checks if the database is healthy
func (db *Database) Health(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}

// getConfigFromEnv reads database configuration from environment variables
func getConfigFromEnv() Config {
	cfg := Config{
		Host:     config.GetEnv("DB_HOST", "localhost"),
		User:     config.GetEnv("DB_USER", "storefront"),
		Password: config.GetEnv("DB_PASSWORD", ""),
		DBName:   config.GetEnv("DB_NAME", "storefront"),
		SSLMode:  config.GetEnv("DB_SSLMODE", "prefer"),
		Port:     config.GetEnvInt("DB_PORT", 5432),
	}
	return cfg
}

func (c Config) connString() string {
	if c.Password == "" {
		return fmt.Sprintf("host=%s port=%d user=%s dbname=%s sslmode=%s",
			c.Host, c.Port, c.User, c.DBName, c.SSLMode)
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}
