package events

import (
	"context"
	"database/sql"
	"fmt"
	"log"

	"github.com/andreasstove999/ecommerce-system/payment-service-go/internal/dedup"
	"github.com/andreasstove999/ecommerce-system/payment-service-go/internal/order"
)

const defaultCurrency = "XOF"

// OrderCreatedHandler registers incoming orders as awaiting payment.
// Enveloped events are deduplicated via the per-partition sequence
// checkpoint; legacy bare events rely on the idempotent insert.
func OrderCreatedHandler(db *sql.DB, repo order.Repository, dedupRepo dedup.Repository, logger *log.Logger, allowEnveloped bool) HandlerFunc {
	return func(ctx context.Context, body []byte) error {
		payload, env, err := parseOrderCreated(body, allowEnveloped)
		if err != nil {
			return fmt.Errorf("parse OrderCreated: %w", err)
		}

		if env != nil && env.Sequence != nil {
			last, found, err := dedupRepo.GetLastSequence(ctx, paymentQueueName(OrderCreatedRoutingKey), env.PartitionKey)
			if err != nil {
				return fmt.Errorf("dedup check: %w", err)
			}
			if found && *env.Sequence <= last {
				logger.Printf("skipping duplicate OrderCreated seq=%d for %s", *env.Sequence, env.PartitionKey)
				return nil
			}
		}

		currency := payload.Currency
		if currency == "" {
			currency = defaultCurrency
		}

		o := &order.Order{
			ID:          payload.OrderID,
			UserID:      payload.UserID,
			TotalAmount: payload.TotalAmount,
			Currency:    currency,
			Status:      order.StatusAwaitingPayment,
			CreatedAt:   payload.Timestamp,
		}
		for _, it := range payload.Items {
			o.Items = append(o.Items, order.Item{
				ProductID: it.ProductID,
				Quantity:  it.Quantity,
				Price:     it.Price,
				Discount:  it.Discount,
			})
		}

		if err := repo.Create(ctx, o); err != nil {
			return fmt.Errorf("create order: %w", err)
		}

		if env != nil && env.Sequence != nil {
			tx, err := db.BeginTx(ctx, nil)
			if err != nil {
				return fmt.Errorf("begin dedup tx: %w", err)
			}
			if err := dedupRepo.UpsertLastSequence(ctx, tx, paymentQueueName(OrderCreatedRoutingKey), env.PartitionKey, *env.Sequence); err != nil {
				_ = tx.Rollback()
				return fmt.Errorf("dedup upsert: %w", err)
			}
			if err := tx.Commit(); err != nil {
				return fmt.Errorf("commit dedup tx: %w", err)
			}
		}

		logger.Printf("registered order %s for user %s awaiting payment", o.ID, o.UserID)
		return nil
	}
}
