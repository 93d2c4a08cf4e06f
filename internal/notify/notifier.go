package notify

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/gig-escrow/internal/logger"
)

// Target - один канал доставки уведомлений (websocket, шина событий).
type Target interface {
	Notify(ctx context.Context, userID uuid.UUID, event string, data any) error
}

// Notifier рассылает событие во все каналы. Ошибка одного канала
// не мешает доставке в остальные.
type Notifier struct {
	targets []Target
}

func New(targets ...Target) *Notifier {
	n := &Notifier{}
	for _, t := range targets {
		if t != nil {
			n.targets = append(n.targets, t)
		}
	}
	return n
}

func (n *Notifier) Notify(ctx context.Context, userID uuid.UUID, event string, data any) error {
	var errs []error
	for _, t := range n.targets {
		if err := t.Notify(ctx, userID, event, data); err != nil {
			logger.Log.WithFields(logrus.Fields{
				"event":   event,
				"user_id": userID,
			}).WithError(err).Warn("не удалось доставить уведомление")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
