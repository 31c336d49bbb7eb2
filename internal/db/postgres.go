package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"gorm.io/gorm"
)

// InitPostgres opens the sqlx connection used for health probes and reporting
// queries, retrying while the database container starts up.
func InitPostgres(dsn string) (*sqlx.DB, error) {
	var (
		db  *sqlx.DB
		err error
	)
	for i := 0; i < 10; i++ {
		db, err = sqlx.Connect("postgres", dsn)
		if err == nil {
			return db, nil
		}
		time.Sleep(500 * time.Millisecond)
	}
	return nil, fmt.Errorf("failed to connect to postgres after retries: %w", err)
}

// WrapORM exposes the connection pool of an open gorm database through sqlx
func WrapORM(orm *gorm.DB, driverName string) (*sqlx.DB, error) {
	sqlDB, err := orm.DB()
	if err != nil {
		return nil, err
	}
	return sqlx.NewDb(sqlDB, driverName), nil
}

// CollectionCount is one row of CountDocuments
type CollectionCount struct {
	Collection string `db:"collection" json:"collection"`
	Count      int64  `db:"count" json:"count"`
}

// CountDocuments reports how many documents each collection holds
func CountDocuments(ctx context.Context, db *sqlx.DB) ([]CollectionCount, error) {
	var rows []CollectionCount
	err := db.SelectContext(ctx, &rows,
		`SELECT collection, COUNT(*) AS count FROM documents GROUP BY collection ORDER BY collection`)
	if err != nil {
		return nil, fmt.Errorf("count documents: %w", err)
	}
	return rows, nil
}
