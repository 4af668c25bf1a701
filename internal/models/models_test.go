package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	allowed := []struct{ from, to string }{
		{OrderStatusPending, OrderStatusProcessing},
		{OrderStatusPending, OrderStatusCancelled},
		{OrderStatusProcessing, OrderStatusShipped},
		{OrderStatusProcessing, OrderStatusCancelled},
		{OrderStatusShipped, OrderStatusDelivered},
	}
	for _, tc := range allowed {
		assert.True(t, CanTransition(tc.from, tc.to), "%s -> %s should be allowed", tc.from, tc.to)
	}

	denied := []struct{ from, to string }{
		{OrderStatusPending, OrderStatusShipped},
		{OrderStatusPending, OrderStatusDelivered},
		{OrderStatusShipped, OrderStatusCancelled},
		{OrderStatusShipped, OrderStatusPending},
		{OrderStatusDelivered, OrderStatusPending},
		{OrderStatusDelivered, OrderStatusShipped},
		{OrderStatusCancelled, OrderStatusPending},
		{OrderStatusPending, OrderStatusPending},
		{"bogus", OrderStatusPending},
		{OrderStatusPending, "bogus"},
	}
	for _, tc := range denied {
		assert.False(t, CanTransition(tc.from, tc.to), "%s -> %s should be denied", tc.from, tc.to)
	}
}

func TestCanBeCancelled(t *testing.T) {
	assert.True(t, CanBeCancelled(OrderStatusPending))
	assert.True(t, CanBeCancelled(OrderStatusProcessing))
	assert.False(t, CanBeCancelled(OrderStatusShipped))
	assert.False(t, CanBeCancelled(OrderStatusDelivered))
	assert.False(t, CanBeCancelled(OrderStatusCancelled))
}
