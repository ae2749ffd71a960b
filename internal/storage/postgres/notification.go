package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/passproduct-escrow/internal/domain/notify"
)

const insertNotificationSQL = `INSERT INTO notifications (id, user_id, order_id, event, title, message, created_at)
	VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7)`

const listNotificationsSQL = `SELECT id, user_id, COALESCE(order_id, ''), event, title, message, created_at
	FROM notifications WHERE user_id = $1
	ORDER BY created_at DESC, id
	LIMIT $2`

var (
	_ notify.Notifier = (*NotificationRepository)(nil)
	_ notify.Inbox    = (*NotificationRepository)(nil)
)

// NotificationRepository persists notifications for in-app delivery.
type NotificationRepository struct {
	pool *pgxpool.Pool
}

// NewNotificationRepository returns a NotificationRepository that uses the
// given pool.
func NewNotificationRepository(pool *pgxpool.Pool) *NotificationRepository {
	return &NotificationRepository{pool: pool}
}

func (r *NotificationRepository) Notify(ctx context.Context, n notify.Notification) error {
	_, err := conn(ctx, r.pool).Exec(ctx, insertNotificationSQL,
		n.ID, n.UserID, n.OrderID, string(n.Event), n.Title, n.Message, n.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting notification for %q: %w", n.UserID, err)
	}
	return nil
}

func (r *NotificationRepository) ListForUser(ctx context.Context, userID string, limit int) ([]notify.Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := conn(ctx, r.pool).Query(ctx, listNotificationsSQL, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing notifications: %w", err)
	}
	list, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (notify.Notification, error) {
		var (
			n     notify.Notification
			event string
		)
		err := row.Scan(&n.ID, &n.UserID, &n.OrderID, &event, &n.Title, &n.Message, &n.CreatedAt)
		n.Event = notify.Event(event)
		return n, err
	})
	if err != nil {
		return nil, fmt.Errorf("listing notifications: %w", err)
	}
	return list, nil
}
