package postgres

import (
	"testing"
	"time"

	"github.com/alanyoungcy/batchsettle/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDSN(t *testing.T) {
	assert.Equal(t, "postgres://u:p@db:5432/settle?sslmode=disable",
		DSN(ClientConfig{Host: "db", Database: "settle", User: "u", Password: "p"}))
	assert.Equal(t, "postgres://u:p@db:6432/settle?sslmode=require",
		DSN(ClientConfig{Host: "db", Port: 6432, Database: "settle", User: "u", Password: "p", SSLMode: "require"}))
	assert.Equal(t, "postgres://x", DSN(ClientConfig{DSN: "postgres://x", Host: "ignored"}))
}

func TestListQuery(t *testing.T) {
	since := time.Unix(100, 0)
	q := newListQuery(`SELECT id FROM settlement_events WHERE block_number >= $1`, int64(7))
	q.where("kind = $%d", "trade")
	q.timeRange("created_at", domain.ListOpts{Since: &since})
	q.page("block_number, log_index", domain.ListOpts{Limit: 10, Offset: 20})

	assert.Equal(t, `SELECT id FROM settlement_events WHERE block_number >= $1`+
		` AND kind = $2 AND created_at >= $3 ORDER BY block_number, log_index LIMIT $4 OFFSET $5`, q.String())
	assert.Equal(t, []any{int64(7), "trade", since, 10, 20}, q.args)

	q = newListQuery(`SELECT id FROM audit_log WHERE TRUE`)
	q.page("created_at DESC", domain.ListOpts{})
	assert.Equal(t, `SELECT id FROM audit_log WHERE TRUE ORDER BY created_at DESC`, q.String())
	assert.Empty(t, q.args)
}

func TestMigrationsAreEmbedded(t *testing.T) {
	names, err := migrationNames()
	require.NoError(t, err)
	require.NotEmpty(t, names)
	assert.Equal(t, "001_settlement.sql", names[0])
}
