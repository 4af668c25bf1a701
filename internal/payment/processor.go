package payment

import (
	"context"
	"database/sql"

	"github.com/rs/zerolog"

	"github.com/BohdanKuzik/MamaSHO/internal/database"
	"github.com/BohdanKuzik/MamaSHO/internal/models"
	"github.com/BohdanKuzik/MamaSHO/internal/store"
)

// Processor applies verified gateway callbacks to order payment state.
// It is safe against duplicate delivery: the paid transition happens at most
// once per order, later identical callbacks are acknowledged as no-ops.
type Processor struct {
	DB     *sql.DB
	Client *Client
	Logger zerolog.Logger

	// OnPaid runs after an order first transitions to paid. It must not
	// block; failures belong to the hook, never to the callback.
	OnPaid func(order *models.Order)
}

// HandleCallback verifies and applies one callback delivery, returning the
// acknowledgment the gateway expects. The returned error maps to the HTTP
// status of the response; the gateway sees error payloads, never customers.
func (p *Processor) HandleCallback(ctx context.Context, cb *Callback) (*Ack, error) {
	if err := p.Client.VerifyCallback(cb); err != nil {
		p.Logger.Warn().
			Str("order_reference", cb.OrderReference).
			Msg("payment callback rejected: invalid signature")
		return nil, err
	}

	orderID, err := OrderIDFromReference(cb.OrderReference)
	if err != nil {
		p.Logger.Warn().
			Str("order_reference", cb.OrderReference).
			Msg("payment callback rejected: unresolvable order reference")
		return nil, err
	}

	order, err := store.GetOrder(ctx, p.DB, orderID)
	if err != nil {
		return nil, err
	}

	switch {
	case cb.TransactionStatus == StatusApproved:
		if err := p.handleApproved(ctx, cb, order); err != nil {
			return nil, err
		}

	case IsTerminalFailure(cb.TransactionStatus):
		if err := store.MarkOrderPaymentFailed(ctx, p.DB, order.ID); err != nil {
			return nil, err
		}
		p.Logger.Warn().
			Int64("order_id", order.ID).
			Str("transaction_status", cb.TransactionStatus).
			Str("reason", cb.Reason).
			Str("reason_code", string(cb.ReasonCode)).
			Msg("payment failed")

	default:
		p.Logger.Info().
			Int64("order_id", order.ID).
			Str("transaction_status", cb.TransactionStatus).
			Msg("payment callback with unhandled status acknowledged")
	}

	return NewAck(cb.OrderReference), nil
}

func (p *Processor) handleApproved(ctx context.Context, cb *Callback, order *models.Order) error {
	amount, err := cb.AmountDecimal()
	if err != nil {
		// Unparsable amount is logged but does not block the payment.
		p.Logger.Warn().
			Int64("order_id", order.ID).
			Str("amount", string(cb.Amount)).
			Msg("payment callback with unparsable amount")
	} else if !amount.Equal(order.TotalPrice) {
		p.Logger.Warn().
			Int64("order_id", order.ID).
			Str("expected", order.TotalPrice.String()).
			Str("received", amount.String()).
			Msg("payment callback amount mismatch")
		return database.ErrAmountMismatch
	}

	updated, err := store.MarkOrderPaid(ctx, p.DB, order.ID)
	if err != nil {
		return err
	}
	if !updated {
		p.Logger.Info().
			Int64("order_id", order.ID).
			Msg("duplicate payment callback ignored, order already paid")
		return nil
	}

	p.Logger.Info().
		Int64("order_id", order.ID).
		Str("order_reference", cb.OrderReference).
		Msg("order payment confirmed")

	if p.OnPaid != nil {
		p.OnPaid(order)
	}
	return nil
}
