// source: users.sql

package storage

import (
	"context"
)

const createItem = `-- name: CreateItem :exec
INSERT INTO items (item_id, user_id, access_token, institution_id)
VALUES (?, ?, ?, ?)
ON CONFLICT(item_id) DO UPDATE SET
    access_token = excluded.access_token,
    institution_id = excluded.institution_id
`

type CreateItemParams struct {
	ItemID        string
	UserID        string
	AccessToken   string
	InstitutionID string
}

func (q *Queries) CreateItem(ctx context.Context, arg CreateItemParams) error {
	_, err := q.db.ExecContext(ctx, createItem,
		arg.ItemID,
		arg.UserID,
		arg.AccessToken,
		arg.InstitutionID,
	)
	return err
}

const createUser = `-- name: CreateUser :one
INSERT INTO users (id, email, calendar_id, oauth_token)
VALUES (?, ?, ?, ?)
RETURNING id, email, calendar_id, oauth_token, dates_to_schedule, created_at, updated_at
`

type CreateUserParams struct {
	ID         string
	Email      string
	CalendarID string
	OauthToken string
}

func (q *Queries) CreateUser(ctx context.Context, arg CreateUserParams) (User, error) {
	row := q.db.QueryRowContext(ctx, createUser,
		arg.ID,
		arg.Email,
		arg.CalendarID,
		arg.OauthToken,
	)
	var i User
	err := row.Scan(
		&i.ID,
		&i.Email,
		&i.CalendarID,
		&i.OauthToken,
		&i.DatesToSchedule,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

const deleteItem = `-- name: DeleteItem :exec
DELETE FROM items WHERE item_id = ?
`

func (q *Queries) DeleteItem(ctx context.Context, itemID string) error {
	_, err := q.db.ExecContext(ctx, deleteItem, itemID)
	return err
}

const deleteItemsByUser = `-- name: DeleteItemsByUser :exec
DELETE FROM items WHERE user_id = ?
`

func (q *Queries) DeleteItemsByUser(ctx context.Context, userID string) error {
	_, err := q.db.ExecContext(ctx, deleteItemsByUser, userID)
	return err
}

const deleteUser = `-- name: DeleteUser :exec
DELETE FROM users WHERE id = ?
`

func (q *Queries) DeleteUser(ctx context.Context, id string) error {
	_, err := q.db.ExecContext(ctx, deleteUser, id)
	return err
}

const getItem = `-- name: GetItem :one
SELECT item_id, user_id, access_token, institution_id, created_at
FROM items
WHERE item_id = ?
`

func (q *Queries) GetItem(ctx context.Context, itemID string) (Item, error) {
	row := q.db.QueryRowContext(ctx, getItem, itemID)
	var i Item
	err := row.Scan(
		&i.ItemID,
		&i.UserID,
		&i.AccessToken,
		&i.InstitutionID,
		&i.CreatedAt,
	)
	return i, err
}

const getUser = `-- name: GetUser :one
SELECT id, email, calendar_id, oauth_token, dates_to_schedule, created_at, updated_at
FROM users
WHERE id = ?
`

func (q *Queries) GetUser(ctx context.Context, id string) (User, error) {
	row := q.db.QueryRowContext(ctx, getUser, id)
	var i User
	err := row.Scan(
		&i.ID,
		&i.Email,
		&i.CalendarID,
		&i.OauthToken,
		&i.DatesToSchedule,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

const listItemsByUser = `-- name: ListItemsByUser :many
SELECT item_id, user_id, access_token, institution_id, created_at
FROM items
WHERE user_id = ?
ORDER BY created_at, item_id
`

func (q *Queries) ListItemsByUser(ctx context.Context, userID string) ([]Item, error) {
	rows, err := q.db.QueryContext(ctx, listItemsByUser, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Item
	for rows.Next() {
		var i Item
		if err := rows.Scan(
			&i.ItemID,
			&i.UserID,
			&i.AccessToken,
			&i.InstitutionID,
			&i.CreatedAt,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const listUsersWithPendingWork = `-- name: ListUsersWithPendingWork :many
SELECT u.id FROM users u
WHERE u.dates_to_schedule != '[]'
   OR EXISTS (SELECT 1 FROM delete_queue q WHERE q.user_id = u.id)
ORDER BY u.id
LIMIT ?
`

func (q *Queries) ListUsersWithPendingWork(ctx context.Context, limit int64) ([]string, error) {
	rows, err := q.db.QueryContext(ctx, listUsersWithPendingWork, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		items = append(items, id)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const setDatesToSchedule = `-- name: SetDatesToSchedule :exec
UPDATE users SET dates_to_schedule = ?, updated_at = unixepoch() WHERE id = ?
`

type SetDatesToScheduleParams struct {
	DatesToSchedule string
	ID              string
}

func (q *Queries) SetDatesToSchedule(ctx context.Context, arg SetDatesToScheduleParams) error {
	_, err := q.db.ExecContext(ctx, setDatesToSchedule, arg.DatesToSchedule, arg.ID)
	return err
}

const updateUserCalendar = `-- name: UpdateUserCalendar :exec
UPDATE users SET calendar_id = ?, updated_at = unixepoch() WHERE id = ?
`

type UpdateUserCalendarParams struct {
	CalendarID string
	ID         string
}

func (q *Queries) UpdateUserCalendar(ctx context.Context, arg UpdateUserCalendarParams) error {
	_, err := q.db.ExecContext(ctx, updateUserCalendar, arg.CalendarID, arg.ID)
	return err
}

const updateUserOAuthToken = `-- name: UpdateUserOAuthToken :exec
UPDATE users SET oauth_token = ?, updated_at = unixepoch() WHERE id = ?
`

type UpdateUserOAuthTokenParams struct {
	OauthToken string
	ID         string
}

func (q *Queries) UpdateUserOAuthToken(ctx context.Context, arg UpdateUserOAuthTokenParams) error {
	_, err := q.db.ExecContext(ctx, updateUserOAuthToken, arg.OauthToken, arg.ID)
	return err
}
