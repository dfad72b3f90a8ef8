package store_test

import (
	"database/sql"
	"os"
	"sync"
	"testing"

	txdb "github.com/DATA-DOG/go-txdb"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/lgtm-migrator/web3-events/core/store"
)

// registerOnce migrates the shared database once and registers
// go-txdb's "txdb" driver on top of lib/pq's "postgres" driver: every
// test opens its own rolled-back transaction against that database, the same isolation strategy chainlink's
// internal/cltest package uses for its Postgres-backed tests.
var registerOnce sync.Once

func mustOpenTestDB(t *testing.T) *gorm.DB {
	dsn := os.Getenv("WEB3_EVENTS_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("WEB3_EVENTS_TEST_DATABASE_URL not set, skipping store integration test")
	}

	registerOnce.Do(func() {
		migrateDB, err := sql.Open("postgres", dsn)
		require.NoError(t, err)
		defer migrateDB.Close()
		require.NoError(t, store.Migrate(migrateDB))

		txdb.Register("txdb", "postgres", dsn)
	})

	sqlDB, err := sql.Open("txdb", t.Name())
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{})
	require.NoError(t, err)
	return db
}
