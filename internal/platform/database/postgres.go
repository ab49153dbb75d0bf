package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// Pool sizes a connection pool.
type Pool struct {
	MaxOpen     int
	MaxIdle     int
	MaxLifetime time.Duration
	MaxIdleTime time.Duration
}

// ServerPool fits the API process. Requests issue one short profile or session
// query each, but restores after a deploy arrive in bursts, so idle connections
// are kept warm and recycled often enough to follow a pooler failover.
var ServerPool = Pool{
	MaxOpen:     20,
	MaxIdle:     10,
	MaxLifetime: 15 * time.Minute,
	MaxIdleTime: 2 * time.Minute,
}

// ToolPool fits quizctl, which runs one statement at a time.
var ToolPool = Pool{
	MaxOpen:     2,
	MaxIdle:     1,
	MaxLifetime: 5 * time.Minute,
	MaxIdleTime: time.Minute,
}

// NewPostgres opens a pool sized by pool and checks that the server answers.
func NewPostgres(ctx context.Context, url string, pool Pool) (*sqlx.DB, error) {
	db, err := sqlx.Open("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	pool.apply(db)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return db, nil
}

func (p Pool) apply(db *sqlx.DB) {
	db.SetMaxOpenConns(p.MaxOpen)
	db.SetMaxIdleConns(p.MaxIdle)
	db.SetConnMaxLifetime(p.MaxLifetime)
	db.SetConnMaxIdleTime(p.MaxIdleTime)
}
