// Package postgres stores the activity registry in PostgreSQL and records
// enrollment events in the outbox table within the same transaction.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/signup/internal/domain"
	"example.com/signup/internal/events"
)

// Repository provides Postgres-backed persistence for activities and outbox events.
type Repository struct {
	pool  *pgxpool.Pool
	topic string
}

var _ domain.Repository = (*Repository)(nil)

// NewRepository constructs a Repository whose outbox rows target topic.
func NewRepository(pool *pgxpool.Pool, topic string) *Repository {
	if topic == "" {
		topic = events.DefaultTopic
	}
	return &Repository{pool: pool, topic: topic}
}

// Seed inserts activities that do not exist yet. Seed participants are only
// written together with their activity, so a restart never re-enrolls a
// student who withdrew.
func (r *Repository) Seed(ctx context.Context, activities []domain.Activity) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for i, a := range activities {
		tag, err := tx.Exec(ctx,
			`INSERT INTO activities (name, description, schedule, max_participants, position)
             VALUES ($1, $2, $3, $4, $5)
             ON CONFLICT (name) DO NOTHING`,
			a.Name, a.Description, a.Schedule, a.MaxParticipants, i,
		)
		if err != nil {
			return fmt.Errorf("seed activity %q: %w", a.Name, err)
		}
		if tag.RowsAffected() == 0 {
			continue
		}
		for _, email := range a.Participants {
			if _, err := tx.Exec(ctx,
				`INSERT INTO participants (activity_name, email) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
				a.Name, email,
			); err != nil {
				return fmt.Errorf("seed participant %q: %w", email, err)
			}
		}
	}

	return tx.Commit(ctx)
}

// List returns all activities ordered by catalog position, rosters by enrollment order.
func (r *Repository) List(ctx context.Context) ([]domain.Activity, error) {
	const query = `SELECT a.name, a.description, a.schedule, a.max_participants,
            COALESCE(array_agg(p.email ORDER BY p.seq) FILTER (WHERE p.email IS NOT NULL), '{}')
        FROM activities a
        LEFT JOIN participants p ON p.activity_name = a.name
        GROUP BY a.name
        ORDER BY a.position, a.created_at, a.name`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.Activity, 0)
	for rows.Next() {
		var a domain.Activity
		if err := rows.Scan(&a.Name, &a.Description, &a.Schedule, &a.MaxParticipants, &a.Participants); err != nil {
			return nil, err
		}
		if a.Participants == nil {
			a.Participants = []string{}
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// AddParticipant implements domain.Repository.
func (r *Repository) AddParticipant(ctx context.Context, activity, email string, at time.Time) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := lockActivity(ctx, tx, activity); err != nil {
		return err
	}

	tag, err := tx.Exec(ctx,
		`INSERT INTO participants (activity_name, email, enrolled_at) VALUES ($1, $2, $3)
         ON CONFLICT (activity_name, email) DO NOTHING`,
		activity, email, at,
	)
	if err != nil {
		return fmt.Errorf("insert participant: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrAlreadyEnrolled
	}

	if err := r.insertOutbox(ctx, tx, domain.EnrollmentEvent{
		Change: domain.EnrollmentAdded, Activity: activity, Email: email, OccurredAt: at,
	}); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// RemoveParticipant implements domain.Repository.
func (r *Repository) RemoveParticipant(ctx context.Context, activity, email string, at time.Time) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := lockActivity(ctx, tx, activity); err != nil {
		return err
	}

	tag, err := tx.Exec(ctx, `DELETE FROM participants WHERE activity_name = $1 AND email = $2`, activity, email)
	if err != nil {
		return fmt.Errorf("delete participant: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotEnrolled
	}

	if err := r.insertOutbox(ctx, tx, domain.EnrollmentEvent{
		Change: domain.EnrollmentRemoved, Activity: activity, Email: email, OccurredAt: at,
	}); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// lockActivity takes a share lock on the activity row so it cannot vanish mid-transaction.
func lockActivity(ctx context.Context, tx pgx.Tx, activity string) error {
	var one int
	err := tx.QueryRow(ctx, `SELECT 1 FROM activities WHERE name = $1 FOR SHARE`, activity).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrActivityNotFound
	}
	if err != nil {
		return fmt.Errorf("lookup activity: %w", err)
	}
	return nil
}

func (r *Repository) insertOutbox(ctx context.Context, tx pgx.Tx, event domain.EnrollmentEvent) error {
	eventType, payload, err := events.FromDomain(event)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO outbox (aggregate_type, aggregate_id, event_type, topic, schema_subject, partition_key, payload)
         VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		events.AggregateActivity, event.Activity, eventType, r.topic, events.SchemaSubject(r.topic), event.Activity, raw,
	); err != nil {
		return fmt.Errorf("insert outbox: %w", err)
	}
	return nil
}
