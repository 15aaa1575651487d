package deadletter

import (
	// Go Internal Packages
	"context"
	"encoding/json"
	"errors"
	"fmt"

	// Local Packages
	"github.com/scottmaphuma022-wq/nova-lifeguard-portal/internal/domain"

	// External Packages
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const DefaultListName = "payment-updates:dead-letter"

// Queue keeps payment updates that could not be written after their
// transaction settled, so they can be replayed out of band.
type Queue struct {
	client   *redis.Client
	logger   *zap.Logger
	listName string
}

func NewQueue(client *redis.Client, logger *zap.Logger, listName string) *Queue {
	if listName == "" {
		listName = DefaultListName
	}
	return &Queue{client: client, logger: logger, listName: listName}
}

// Push appends an update to the tail of the list.
func (q *Queue) Push(ctx context.Context, u domain.PaymentUpdate) error {
	data, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("marshal payment update: %w", err)
	}

	if err := q.client.RPush(ctx, q.listName, data).Err(); err != nil {
		return fmt.Errorf("push payment update: %w", err)
	}

	q.logger.Warn("payment update dead-lettered",
		zap.String("payment_id", u.PaymentID),
		zap.String("transaction_id", u.TransactionID),
		zap.String("status", string(u.Status)))
	return nil
}

// Pop removes the head of the list. ok is false when the list is empty.
// Records that do not decode are logged and skipped.
func (q *Queue) Pop(ctx context.Context) (u domain.PaymentUpdate, ok bool, err error) {
	for {
		data, err := q.client.LPop(ctx, q.listName).Bytes()
		if errors.Is(err, redis.Nil) {
			return u, false, nil
		}
		if err != nil {
			return u, false, fmt.Errorf("pop payment update: %w", err)
		}

		u = domain.PaymentUpdate{}
		if err := json.Unmarshal(data, &u); err != nil {
			q.logger.Error("dropping malformed dead letter", zap.ByteString("record", data), zap.Error(err))
			continue
		}
		return u, true, nil
	}
}

func (q *Queue) Len(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.listName).Result()
}
