package memory

import (
	"context"
	"slices"

	"github.com/xenking/passproduct-escrow/internal/domain/notify"
)

// NotificationInbox implements notify.Notifier by keeping every
// notification in memory.
type NotificationInbox struct {
	s *Store
}

var (
	_ notify.Notifier = (*NotificationInbox)(nil)
	_ notify.Inbox    = (*NotificationInbox)(nil)
)

func (n *NotificationInbox) Notify(ctx context.Context, msg notify.Notification) error {
	defer n.s.lock(ctx)()
	n.s.st.notifications = append(n.s.st.notifications, msg)
	return nil
}

// ForUser returns the notifications addressed to userID in delivery order.
func (n *NotificationInbox) ForUser(ctx context.Context, userID string) []notify.Notification {
	defer n.s.lock(ctx)()

	var out []notify.Notification
	for _, msg := range n.s.st.notifications {
		if msg.UserID == userID {
			out = append(out, msg)
		}
	}
	return out
}

func (n *NotificationInbox) ListForUser(ctx context.Context, userID string, limit int) ([]notify.Notification, error) {
	all := n.ForUser(ctx, userID)
	slices.Reverse(all)
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}
