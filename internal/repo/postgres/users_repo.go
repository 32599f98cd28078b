package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/geocoder89/chime/internal/domain/user"
	"github.com/geocoder89/chime/internal/observability"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type UsersRepo struct {
	pool *pgxpool.Pool
	prom *observability.Prom
}

func NewUsersRepo(pool *pgxpool.Pool, prom *observability.Prom) *UsersRepo {
	return &UsersRepo{pool: pool, prom: prom}
}

func (r *UsersRepo) observe(op string, fn func() error) error {
	if r.prom != nil {
		return r.prom.ObserveDB(op, fn)
	}
	return fn()
}

func (r *UsersRepo) Create(ctx context.Context, u user.Info) error {
	op := "users.create"

	return r.observe(op, func() error {
		_, err := r.pool.Exec(ctx, `INSERT INTO users(
		id, first_name, last_name, date_of_birth, timezone, webhook_url, created_at, updated_at
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
			u.ID, u.FirstName, u.LastName, u.DateOfBirth.String(), u.Timezone, u.WebhookURL, u.CreatedAt, u.UpdatedAt)
		return err
	})
}

func (r *UsersRepo) GetByID(ctx context.Context, id string) (user.Info, error) {
	var u user.Info
	var dob string

	op := "users.get_by_id"

	err := r.observe(op, func() error {
		return r.pool.QueryRow(ctx, `
		SELECT id, first_name, last_name, date_of_birth, timezone, webhook_url, created_at, updated_at
		FROM users
		WHERE id = $1
	`, id).Scan(&u.ID, &u.FirstName, &u.LastName, &dob, &u.Timezone, &u.WebhookURL, &u.CreatedAt, &u.UpdatedAt)
	})

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return user.Info{}, user.ErrNotFound
		}
		return user.Info{}, err
	}

	u.DateOfBirth, err = user.ParseDate(dob)
	if err != nil {
		return user.Info{}, err
	}

	return u, nil
}

func (r *UsersRepo) Update(ctx context.Context, u user.Info) error {
	var tag pgconn.CommandTag

	op := "users.update"

	err := r.observe(op, func() error {
		var execErr error
		tag, execErr = r.pool.Exec(ctx, `
		UPDATE users
		SET first_name = $2,
		    last_name = $3,
		    date_of_birth = $4,
		    timezone = $5,
		    webhook_url = $6,
		    updated_at = $7
		WHERE id = $1
	`, u.ID, u.FirstName, u.LastName, u.DateOfBirth.String(), u.Timezone, u.WebhookURL, time.Now().UTC())
		return execErr
	})

	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return user.ErrNotFound
	}
	return nil
}

func (r *UsersRepo) Delete(ctx context.Context, id string) error {
	var tag pgconn.CommandTag

	op := "users.delete"

	err := r.observe(op, func() error {
		var execErr error
		tag, execErr = r.pool.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
		return execErr
	})

	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return user.ErrNotFound
	}
	return nil
}
