// Package redisstore keeps the activity registry in Redis so several API
// replicas can share one roster without Postgres.
package redisstore

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"example.com/signup/internal/domain"
)

// seedScript creates an activity and its roster unless the activity already exists.
var seedScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[2]) == 1 then
  return 0
end
redis.call('HSET', KEYS[2], 'description', ARGV[2], 'schedule', ARGV[3], 'max_participants', ARGV[4])
redis.call('RPUSH', KEYS[1], ARGV[1])
for i = 5, #ARGV do
  redis.call('SADD', KEYS[3], ARGV[i])
  redis.call('RPUSH', KEYS[4], ARGV[i])
end
return 1
`)

var addScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return -1
end
if redis.call('SADD', KEYS[2], ARGV[1]) == 0 then
  return 0
end
redis.call('RPUSH', KEYS[3], ARGV[1])
return 1
`)

var removeScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return -1
end
if redis.call('SREM', KEYS[2], ARGV[1]) == 0 then
  return 0
end
redis.call('LREM', KEYS[3], 1, ARGV[1])
return 1
`)

// Options configures the Redis connection.
type Options struct {
	Address  string
	Password string
	DB       int
}

// Connect opens a client and verifies it with PING.
func Connect(ctx context.Context, opts Options) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Address,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}

// Repository stores each activity as a hash, its roster as a list in signup
// order, and its members as a set. Mutations run as Lua scripts so the
// membership check and the write are atomic.
type Repository struct {
	client redis.UniversalClient
	prefix string
}

var _ domain.Repository = (*Repository)(nil)

// NewRepository wraps client. prefix namespaces every key the repository touches.
func NewRepository(client redis.UniversalClient, prefix string) *Repository {
	return &Repository{client: client, prefix: prefix}
}

func (r *Repository) indexKey() string { return r.prefix + "activities" }

func (r *Repository) activityKey(name string) string { return r.prefix + "activity:" + name }

func (r *Repository) membersKey(name string) string { return r.prefix + "members:" + name }

func (r *Repository) rosterKey(name string) string { return r.prefix + "roster:" + name }

// Seed adds activities that are not yet known. Existing rosters are left alone.
func (r *Repository) Seed(ctx context.Context, activities []domain.Activity) error {
	for _, a := range activities {
		seen := make(map[string]struct{}, len(a.Participants))
		args := make([]any, 0, 4+len(a.Participants))
		args = append(args, a.Name, a.Description, a.Schedule, a.MaxParticipants)
		for _, email := range a.Participants {
			if _, dup := seen[email]; dup {
				return fmt.Errorf("seed %q: duplicate participant %q", a.Name, email)
			}
			seen[email] = struct{}{}
			args = append(args, email)
		}

		keys := []string{r.indexKey(), r.activityKey(a.Name), r.membersKey(a.Name), r.rosterKey(a.Name)}
		if err := seedScript.Run(ctx, r.client, keys, args...).Err(); err != nil {
			return fmt.Errorf("seed %q: %w", a.Name, err)
		}
	}
	return nil
}

// List returns all activities in seed order.
func (r *Repository) List(ctx context.Context) ([]domain.Activity, error) {
	names, err := r.client.LRange(ctx, r.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list activities: %w", err)
	}
	if len(names) == 0 {
		return []domain.Activity{}, nil
	}

	pipe := r.client.Pipeline()
	details := make([]*redis.MapStringStringCmd, len(names))
	rosters := make([]*redis.StringSliceCmd, len(names))
	for i, name := range names {
		details[i] = pipe.HGetAll(ctx, r.activityKey(name))
		rosters[i] = pipe.LRange(ctx, r.rosterKey(name), 0, -1)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("load activities: %w", err)
	}

	out := make([]domain.Activity, 0, len(names))
	for i, name := range names {
		fields := details[i].Val()
		capacity, err := strconv.Atoi(fields["max_participants"])
		if err != nil {
			return nil, fmt.Errorf("activity %q: bad max_participants %q", name, fields["max_participants"])
		}
		participants := rosters[i].Val()
		if participants == nil {
			participants = []string{}
		}
		out = append(out, domain.Activity{
			Name:            name,
			Description:     fields["description"],
			Schedule:        fields["schedule"],
			MaxParticipants: capacity,
			Participants:    participants,
		})
	}
	return out, nil
}

// AddParticipant implements domain.Repository.
func (r *Repository) AddParticipant(ctx context.Context, activity, email string, _ time.Time) error {
	res, err := addScript.Run(ctx, r.client, r.mutationKeys(activity), email).Int()
	if err != nil {
		return fmt.Errorf("add participant: %w", err)
	}
	switch res {
	case -1:
		return domain.ErrActivityNotFound
	case 0:
		return domain.ErrAlreadyEnrolled
	}
	return nil
}

// RemoveParticipant implements domain.Repository.
func (r *Repository) RemoveParticipant(ctx context.Context, activity, email string, _ time.Time) error {
	res, err := removeScript.Run(ctx, r.client, r.mutationKeys(activity), email).Int()
	if err != nil {
		return fmt.Errorf("remove participant: %w", err)
	}
	switch res {
	case -1:
		return domain.ErrActivityNotFound
	case 0:
		return domain.ErrNotEnrolled
	}
	return nil
}

func (r *Repository) mutationKeys(activity string) []string {
	return []string{r.activityKey(activity), r.membersKey(activity), r.rosterKey(activity)}
}
