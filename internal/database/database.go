package database

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/joho/godotenv/autoload"
)

// Service wraps the postgres connection pool used by the persistence
// layer and exposes a health probe for the /health endpoint.
type Service interface {
	Pool() *pgxpool.Pool
	Health(ctx context.Context) map[string]string
	Close()
}

type service struct {
	pool *pgxpool.Pool
}

var (
	host     = os.Getenv("UTTT_DB_HOST")
	port     = os.Getenv("UTTT_DB_PORT")
	username = os.Getenv("UTTT_DB_USERNAME")
	password = os.Getenv("UTTT_DB_PASSWORD")
	dbname   = os.Getenv("UTTT_DB_DATABASE")
)

func New() (Service, error) {
	dsn := fmt.Sprintf("postgres://%s:%s@%s:%s/%s", username, password, host, port, dbname)
	return NewWithDSN(dsn)
}

// NewWithDSN exists so tests can point the service at a container.
func NewWithDSN(dsn string) (Service, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid database config: %w", err)
	}
	config.MaxConns = 10

	pool, err := pgxpool.NewWithConfig(context.Background(), config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	return &service{pool: pool}, nil
}

func (s *service) Pool() *pgxpool.Pool {
	return s.pool
}

func (s *service) Health(ctx context.Context) map[string]string {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	stats := make(map[string]string)
	if err := s.pool.Ping(ctx); err != nil {
		stats["status"] = "down"
		stats["error"] = err.Error()
		return stats
	}

	poolStats := s.pool.Stat()
	stats["status"] = "up"
	stats["total_connections"] = fmt.Sprintf("%d", poolStats.TotalConns())
	stats["idle_connections"] = fmt.Sprintf("%d", poolStats.IdleConns())
	return stats
}

func (s *service) Close() {
	s.pool.Close()
}
