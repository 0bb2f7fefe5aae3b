package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/signup/internal/domain"
)

func seeded(t *testing.T) *Repository {
	t.Helper()
	repo := NewRepository()
	require.NoError(t, repo.Seed(context.Background(), []domain.Activity{
		{Name: "Chess Club", Description: "Strategy", Schedule: "Fridays", MaxParticipants: 12, Participants: []string{"michael@mergington.edu", "daniel@mergington.edu"}},
		{Name: "Gym Class", Description: "PE", Schedule: "Mondays", MaxParticipants: 30},
	}))
	return repo
}

func TestListPreservesInsertionOrder(t *testing.T) {
	repo := seeded(t)

	activities, err := repo.List(context.Background())
	require.NoError(t, err)
	require.Len(t, activities, 2)
	require.Equal(t, "Chess Club", activities[0].Name)
	require.Equal(t, "Gym Class", activities[1].Name)
	require.Equal(t, []string{"michael@mergington.edu", "daniel@mergington.edu"}, activities[0].Participants)
}

func TestListReturnsCopies(t *testing.T) {
	repo := seeded(t)
	ctx := context.Background()

	activities, err := repo.List(ctx)
	require.NoError(t, err)
	activities[0].Participants[0] = "mutated@example.com"

	again, err := repo.List(ctx)
	require.NoError(t, err)
	require.Equal(t, "michael@mergington.edu", again[0].Participants[0])
}

func TestSeedIgnoresKnownActivities(t *testing.T) {
	repo := seeded(t)
	ctx := context.Background()

	require.NoError(t, repo.RemoveParticipant(ctx, "Chess Club", "michael@mergington.edu", time.Now()))
	require.NoError(t, repo.Seed(ctx, []domain.Activity{
		{Name: "Chess Club", Participants: []string{"michael@mergington.edu"}},
	}))

	activities, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, activities, 2)
	require.False(t, activities[0].HasParticipant("michael@mergington.edu"))
}

func TestSeedRejectsDuplicateParticipants(t *testing.T) {
	repo := NewRepository()
	err := repo.Seed(context.Background(), []domain.Activity{
		{Name: "Drama Club", Participants: []string{"a@x.edu", "a@x.edu"}},
	})
	require.Error(t, err)
}

func TestAddParticipant(t *testing.T) {
	repo := seeded(t)
	ctx := context.Background()

	require.NoError(t, repo.AddParticipant(ctx, "Gym Class", "john@mergington.edu", time.Now()))
	require.ErrorIs(t, repo.AddParticipant(ctx, "Gym Class", "john@mergington.edu", time.Now()), domain.ErrAlreadyEnrolled)
	require.ErrorIs(t, repo.AddParticipant(ctx, "Robotics", "john@mergington.edu", time.Now()), domain.ErrActivityNotFound)

	activities, err := repo.List(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"john@mergington.edu"}, activities[1].Participants)
}

func TestRemoveParticipant(t *testing.T) {
	repo := seeded(t)
	ctx := context.Background()

	require.NoError(t, repo.RemoveParticipant(ctx, "Chess Club", "michael@mergington.edu", time.Now()))
	require.ErrorIs(t, repo.RemoveParticipant(ctx, "Chess Club", "michael@mergington.edu", time.Now()), domain.ErrNotEnrolled)
	require.ErrorIs(t, repo.RemoveParticipant(ctx, "Robotics", "michael@mergington.edu", time.Now()), domain.ErrActivityNotFound)

	activities, err := repo.List(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"daniel@mergington.edu"}, activities[0].Participants)
}

func TestConcurrentEnrollment(t *testing.T) {
	repo := seeded(t)
	ctx := context.Background()

	const workers = 50
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
	)
	for i := 0; i < workers; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			_ = repo.AddParticipant(ctx, "Gym Class", fmt.Sprintf("student%d@mergington.edu", i), time.Now())
		}(i)
		go func() {
			defer wg.Done()
			if repo.AddParticipant(ctx, "Chess Club", "same@mergington.edu", time.Now()) == nil {
				mu.Lock()
				accepted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	activities, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, activities[1].Participants, workers)
	require.Equal(t, 1, accepted)
	require.Len(t, activities[0].Participants, 3)
}
