package repositories

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"whisper-service/internal/db"
)

// The horizon arithmetic lives in SQL, so these tests need a real database.
// They run against TEST_DB_DSN and skip when it is unset.
func openTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	dsn := os.Getenv("TEST_DB_DSN")
	if dsn == "" {
		t.Skip("TEST_DB_DSN not set")
	}

	t.Setenv("DB_DSN", dsn)
	database, err := db.Connect()
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	return database
}

func seedUser(t *testing.T, database *sqlx.DB) int {
	t.Helper()
	name := "u-" + uuid.NewString()
	var id int
	require.NoError(t, database.QueryRowx(
		`INSERT INTO users (username, email, password_hash) VALUES ($1, $2, 'x') RETURNING id`,
		name, name+"@example.com",
	).Scan(&id))
	return id
}

func insertMessageAt(t *testing.T, database *sqlx.DB, senderID, receiverID int, age time.Duration) int {
	t.Helper()
	var id int
	require.NoError(t, database.QueryRowx(
		`INSERT INTO messages (sender_id, receiver_id, payload, iv, created_at) VALUES ($1, $2, 'ct', 'nonce', $3) RETURNING id`,
		senderID, receiverID, time.Now().Add(-age),
	).Scan(&id))
	return id
}

func TestHorizonBoundaries(t *testing.T) {
	database := openTestDB(t)
	repo := NewMessageRepo(database)
	ctx := context.Background()
	horizon := 24 * time.Hour

	// Flush anything past the horizon so the purge count below is exact.
	_, err := repo.PurgeOlderThan(ctx, horizon)
	require.NoError(t, err)

	sender := seedUser(t, database)
	receiver := seedUser(t, database)

	fresh := insertMessageAt(t, database, sender, receiver, 1*time.Hour)
	edge := insertMessageAt(t, database, sender, receiver, 23*time.Hour)
	insertMessageAt(t, database, sender, receiver, 25*time.Hour)
	insertMessageAt(t, database, sender, receiver, 30*time.Hour)

	// Unread count hides rows past the horizon even before they are purged.
	count, err := repo.UnreadCount(ctx, receiver, horizon)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	// The fetch window matches: 23h survives, 25h and 30h are invisible.
	msgs, err := repo.GetConversation(ctx, sender, receiver, 50, horizon)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, fresh, msgs[0].ID)
	assert.Equal(t, edge, msgs[1].ID)

	// The sweep removes exactly the rows past the horizon.
	purged, err := repo.PurgeOlderThan(ctx, horizon)
	require.NoError(t, err)
	assert.Equal(t, int64(2), purged)

	// After the purge the stale rows are physically gone, not merely hidden.
	msgs, err = repo.GetConversation(ctx, sender, receiver, 50, 1000*time.Hour)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, fresh, msgs[0].ID)
	assert.Equal(t, edge, msgs[1].ID)
}
