package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Customer links an externally-authenticated user id to delivery details.
// Authentication itself lives upstream; this row only carries profile data.
type Customer struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone,omitempty"`
	Address   string    `json:"address,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type Product struct {
	ID          int64           `json:"id"`
	SKU         string          `json:"sku"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Price       decimal.Decimal `json:"price"`
	Stock       int             `json:"stock"`
	Available   bool            `json:"available"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	Version     int             `json:"version"`
}

type Basket struct {
	ID         int64     `json:"id"`
	CustomerID int64     `json:"customer_id"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type BasketItem struct {
	ID        int64 `json:"id"`
	BasketID  int64 `json:"basket_id"`
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
}

// Reservation is a time-boxed advisory hold on stock. Holds never decrement
// stock themselves; they only shape what the UI reports as available.
type Reservation struct {
	ID        int64     `json:"id"`
	ProductID int64     `json:"product_id"`
	Holder    string    `json:"holder"`
	Quantity  int       `json:"quantity"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ReservationTTL is how long a hold stays active before the sweep removes it.
const ReservationTTL = 15 * time.Minute

type Order struct {
	ID              int64           `json:"id"`
	CustomerID      int64           `json:"customer_id"`
	OrderNumber     string          `json:"order_number"`
	Status          string          `json:"status"`
	TotalPrice      decimal.Decimal `json:"total_price"`
	DeliveryName    string          `json:"delivery_name"`
	DeliveryPhone   string          `json:"delivery_phone"`
	DeliveryAddress string          `json:"delivery_address"`
	PaymentMethod   string          `json:"payment_method"`
	PaymentStatus   string          `json:"payment_status"`
	PaymentRef      string          `json:"-"`
	PaidAt          *time.Time      `json:"paid_at,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	Version         int             `json:"version"`
	Items           []OrderItem     `json:"items,omitempty"`
}

type OrderItem struct {
	ID        int64           `json:"id"`
	OrderID   int64           `json:"order_id"`
	ProductID int64           `json:"product_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Subtotal  decimal.Decimal `json:"subtotal"`
	CreatedAt time.Time       `json:"created_at"`
}

const (
	OrderStatusPending    = "pending"
	OrderStatusProcessing = "processing"
	OrderStatusShipped    = "shipped"
	OrderStatusDelivered  = "delivered"
	OrderStatusCancelled  = "cancelled"
)

var validNextStatus = map[string]map[string]bool{
	OrderStatusPending:    {OrderStatusProcessing: true, OrderStatusCancelled: true},
	OrderStatusProcessing: {OrderStatusShipped: true, OrderStatusCancelled: true},
	OrderStatusShipped:    {OrderStatusDelivered: true},
	OrderStatusDelivered:  {},
	OrderStatusCancelled:  {},
}

func CanTransition(from, to string) bool {
	return validNextStatus[from][to]
}

// CanBeCancelled reports whether cancellation is still legal; shipped and
// terminal orders keep their stock committed.
func CanBeCancelled(status string) bool {
	return status == OrderStatusPending || status == OrderStatusProcessing
}

const (
	PaymentStatusPending  = "pending"
	PaymentStatusPaid     = "paid"
	PaymentStatusFailed   = "failed"
	PaymentStatusRefunded = "refunded"
)

const (
	PaymentMethodCardOnline     = "card_online"
	PaymentMethodCashOnDelivery = "cash_on_delivery"
	PaymentMethodBankTransfer   = "bank_transfer"
)
