//go:build integration

package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	postgrescontainer "github.com/testcontainers/testcontainers-go/modules/postgres"

	"example.com/signup/internal/catalog"
	"example.com/signup/internal/domain"
	"example.com/signup/internal/events"
)

func startDatabase(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	pg, err := postgrescontainer.Run(ctx, "postgres:16-alpine",
		postgrescontainer.WithDatabase("signup"),
		postgrescontainer.WithUsername("signup"),
		postgrescontainer.WithPassword("signup"),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pg.Terminate(ctx) })

	connStr, err := pg.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	require.NoError(t, waitForDatabase(ctx, connStr))

	version, err := Migrate(connStr)
	require.NoError(t, err)
	require.Equal(t, uint(1), version)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool
}

func TestRepositoryEnrollmentLifecycle(t *testing.T) {
	ctx := context.Background()
	pool := startDatabase(t)
	repo := NewRepository(pool, "")

	seed, err := catalog.Default()
	require.NoError(t, err)
	require.NoError(t, repo.Seed(ctx, seed))

	activities, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, activities, len(seed))
	require.Equal(t, "Chess Club", activities[0].Name)
	require.Equal(t, []string{"michael@mergington.edu", "daniel@mergington.edu"}, activities[0].Participants)

	now := time.Now().UTC()
	require.NoError(t, repo.AddParticipant(ctx, "Chess Club", "test@mergington.edu", now))
	require.ErrorIs(t, repo.AddParticipant(ctx, "Chess Club", "test@mergington.edu", now), domain.ErrAlreadyEnrolled)
	require.ErrorIs(t, repo.AddParticipant(ctx, "Nonexistent Activity", "test@mergington.edu", now), domain.ErrActivityNotFound)

	require.NoError(t, repo.RemoveParticipant(ctx, "Chess Club", "michael@mergington.edu", now))
	require.ErrorIs(t, repo.RemoveParticipant(ctx, "Chess Club", "michael@mergington.edu", now), domain.ErrNotEnrolled)
	require.ErrorIs(t, repo.RemoveParticipant(ctx, "Nonexistent Activity", "michael@mergington.edu", now), domain.ErrActivityNotFound)

	activities, err = repo.List(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"daniel@mergington.edu", "test@mergington.edu"}, activities[0].Participants)

	// A restart re-seeds without resurrecting the withdrawn student.
	require.NoError(t, repo.Seed(ctx, seed))
	activities, err = repo.List(ctx)
	require.NoError(t, err)
	require.False(t, activities[0].HasParticipant("michael@mergington.edu"))

	rows, err := pool.Query(ctx, `SELECT event_type, topic, partition_key, payload FROM outbox ORDER BY event_id`)
	require.NoError(t, err)
	defer rows.Close()

	var types []string
	for rows.Next() {
		var eventType, topic, key string
		var payload json.RawMessage
		require.NoError(t, rows.Scan(&eventType, &topic, &key, &payload))
		require.Equal(t, events.DefaultTopic, topic)
		require.Equal(t, "Chess Club", key)
		require.Contains(t, string(payload), `"activity":"Chess Club"`)
		types = append(types, eventType)
	}
	require.NoError(t, rows.Err())
	require.Equal(t, []string{events.TypeParticipantEnrolled, events.TypeParticipantWithdrawn}, types)
}

func TestRepositoryConcurrentDuplicateSignup(t *testing.T) {
	ctx := context.Background()
	pool := startDatabase(t)
	repo := NewRepository(pool, "")
	require.NoError(t, repo.Seed(ctx, []domain.Activity{{Name: "Math Club", MaxParticipants: 10}}))

	const workers = 10
	var wg sync.WaitGroup
	results := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- repo.AddParticipant(ctx, "Math Club", "same@mergington.edu", time.Now())
		}()
	}
	wg.Wait()
	close(results)

	accepted := 0
	for err := range results {
		if err == nil {
			accepted++
			continue
		}
		require.ErrorIs(t, err, domain.ErrAlreadyEnrolled)
	}
	require.Equal(t, 1, accepted)

	for i := 0; i < workers; i++ {
		require.NoError(t, repo.AddParticipant(ctx, "Math Club", fmt.Sprintf("s%d@mergington.edu", i), time.Now()))
	}
	activities, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, activities[0].Participants, workers+1)
}

func waitForDatabase(ctx context.Context, connStr string) error {
	deadline := time.Now().Add(30 * time.Second)
	for {
		pool, err := pgxpool.New(ctx, connStr)
		if err == nil {
			err = pool.Ping(ctx)
			pool.Close()
			if err == nil {
				return nil
			}
		}
		if time.Now().After(deadline) {
			return err
		}
		time.Sleep(time.Second)
	}
}
