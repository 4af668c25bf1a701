package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/BohdanKuzik/MamaSHO/internal/basket"
	"github.com/BohdanKuzik/MamaSHO/internal/database"
	"github.com/BohdanKuzik/MamaSHO/internal/models"
	"github.com/BohdanKuzik/MamaSHO/internal/payment"
	"github.com/BohdanKuzik/MamaSHO/internal/store"
)

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		// Headers are out by now; nothing to do but note it.
		_ = err
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// basketFor selects the basket engine by authentication state: the Postgres
// basket for logged-in customers, the Redis session basket otherwise.
func (s *server) basketFor(ctx context.Context, holder Holder) (basket.Engine, error) {
	if holder.Authenticated() {
		customer, err := store.GetOrCreateCustomer(ctx, s.db, holder.UserID, holder.UserEmail, holder.UserName)
		if err != nil {
			return nil, err
		}
		return basket.NewStored(ctx, s.db, customer.ID)
	}

	kv := &basket.RedisKV{Client: s.redis}
	return basket.NewSession(kv, s.db, holder.SessionToken, s.cfg.Redis.BasketTTL), nil
}

type basketSummary struct {
	Lines      []basket.Line `json:"lines"`
	TotalItems int           `json:"total_items"`
	TotalPrice string        `json:"total_price"`
	Warning    string        `json:"warning,omitempty"`
}

func (s *server) basketSummary(ctx context.Context, engine basket.Engine, warning string) (*basketSummary, error) {
	lines, err := engine.Lines(ctx)
	if err != nil {
		return nil, err
	}
	total, err := engine.TotalPrice(ctx)
	if err != nil {
		return nil, err
	}
	count, err := engine.Len(ctx)
	if err != nil {
		return nil, err
	}
	return &basketSummary{
		Lines:      lines,
		TotalItems: count,
		TotalPrice: total.StringFixed(2),
		Warning:    warning,
	}, nil
}

func productIDParam(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "productID"), 10, 64)
}

func orderIDParam(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "orderID"), 10, 64)
}

func (s *server) handleListProducts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	// Lapsed holds distort availability shown on the listing; sweep first.
	if removed, err := store.CleanupExpiredReservations(ctx, s.db); err != nil {
		s.logger.Error().Err(err).Msg("cleanup expired reservations")
	} else if removed > 0 {
		s.logger.Debug().Int64("removed", removed).Msg("swept expired reservations")
	}

	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	page, pageSize = store.ClampPage(page, pageSize)

	availableOnly := r.URL.Query().Get("available") == "true"

	result, err := store.ListProducts(ctx, s.db, availableOnly, page, pageSize)
	if err != nil {
		s.logger.Error().Err(err).Msg("list products")
		respondError(w, http.StatusInternalServerError, "failed to list products")
		return
	}

	respondJSON(w, http.StatusOK, result)
}

func (s *server) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	holder := holderFrom(r)

	productID, err := productIDParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid product id")
		return
	}

	product, err := store.GetProduct(ctx, s.db, productID)
	if err != nil {
		if errors.Is(err, database.ErrProductNotFound) {
			respondError(w, http.StatusNotFound, "product not found")
			return
		}
		s.logger.Error().Err(err).Int64("product_id", productID).Msg("get product")
		respondError(w, http.StatusInternalServerError, "failed to get product")
		return
	}

	engine, err := s.basketFor(ctx, holder)
	if err != nil {
		s.logger.Error().Err(err).Msg("open basket")
		respondError(w, http.StatusInternalServerError, "failed to open basket")
		return
	}

	basketQuantity, err := engine.Quantity(ctx, product.ID)
	if err != nil {
		s.logger.Error().Err(err).Msg("basket quantity")
		respondError(w, http.StatusInternalServerError, "failed to read basket")
		return
	}

	availableToAdd, err := store.AvailableToAdd(ctx, s.db, product, holder.Key(), basketQuantity)
	if err != nil {
		s.logger.Error().Err(err).Msg("compute availability")
		respondError(w, http.StatusInternalServerError, "failed to compute availability")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"product":          product,
		"in_basket":        basketQuantity,
		"available_to_add": availableToAdd,
	})
}

type stockAdjustRequest struct {
	Stock   int `json:"stock"`
	Version int `json:"version"`
}

// handleAdjustStock is the operator restock endpoint. The caller sends the
// product version it read; a concurrent edit bumps the version and this
// request fails instead of overwriting it.
func (s *server) handleAdjustStock(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	productID, err := productIDParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid product id")
		return
	}

	var req stockAdjustRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Stock < 0 {
		respondError(w, http.StatusBadRequest, "stock must not be negative")
		return
	}

	if err := store.SetStockOptimistic(ctx, s.db, productID, req.Stock, req.Version); err != nil {
		if errors.Is(err, database.ErrOptimisticLockFailed) {
			respondError(w, http.StatusConflict, "product was modified concurrently, re-read and retry")
			return
		}
		s.logger.Error().Err(err).Int64("product_id", productID).Msg("adjust stock")
		respondError(w, http.StatusInternalServerError, "failed to adjust stock")
		return
	}

	product, err := store.GetProduct(ctx, s.db, productID)
	if err != nil {
		respondJSON(w, http.StatusOK, map[string]string{"status": "updated"})
		return
	}

	s.logger.Info().
		Int64("product_id", productID).
		Int("stock", req.Stock).
		Msg("product stock adjusted")
	respondJSON(w, http.StatusOK, product)
}

type reserveRequest struct {
	Quantity int `json:"quantity"`
}

func (s *server) handleReserveProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	holder := holderFrom(r)

	productID, err := productIDParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid product id")
		return
	}

	var req reserveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Quantity <= 0 {
		respondError(w, http.StatusBadRequest, "quantity must be positive")
		return
	}

	product, err := store.GetAvailableProduct(ctx, s.db, productID)
	if err != nil {
		if errors.Is(err, database.ErrProductNotFound) {
			respondError(w, http.StatusNotFound, "product not found")
			return
		}
		s.logger.Error().Err(err).Msg("get product")
		respondError(w, http.StatusInternalServerError, "failed to get product")
		return
	}

	reservation, err := store.Reserve(ctx, s.db, product.ID, holder.Key(), req.Quantity)
	if err != nil {
		s.logger.Error().Err(err).Msg("reserve product")
		respondError(w, http.StatusInternalServerError, "failed to reserve product")
		return
	}

	respondJSON(w, http.StatusCreated, reservation)
}

func (s *server) handleBasketDetail(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	engine, err := s.basketFor(ctx, holderFrom(r))
	if err != nil {
		s.logger.Error().Err(err).Msg("open basket")
		respondError(w, http.StatusInternalServerError, "failed to open basket")
		return
	}

	summary, err := s.basketSummary(ctx, engine, "")
	if err != nil {
		s.logger.Error().Err(err).Msg("read basket")
		respondError(w, http.StatusInternalServerError, "failed to read basket")
		return
	}

	respondJSON(w, http.StatusOK, summary)
}

type basketItemRequest struct {
	Quantity int `json:"quantity"`
}

func (s *server) handleBasketAdd(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	holder := holderFrom(r)

	productID, err := productIDParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid product id")
		return
	}

	req := basketItemRequest{Quantity: 1}
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			req.Quantity = 1
		}
	}
	if req.Quantity <= 0 {
		req.Quantity = 1
	}

	product, err := store.GetAvailableProduct(ctx, s.db, productID)
	if err != nil {
		if errors.Is(err, database.ErrProductNotFound) {
			s.logger.Warn().Int64("product_id", productID).Msg("attempt to add unavailable product")
			respondError(w, http.StatusNotFound, "product not found")
			return
		}
		s.logger.Error().Err(err).Msg("get product")
		respondError(w, http.StatusInternalServerError, "failed to get product")
		return
	}

	engine, err := s.basketFor(ctx, holder)
	if err != nil {
		s.logger.Error().Err(err).Msg("open basket")
		respondError(w, http.StatusInternalServerError, "failed to open basket")
		return
	}

	basketQuantity, err := engine.Quantity(ctx, product.ID)
	if err != nil {
		s.logger.Error().Err(err).Msg("basket quantity")
		respondError(w, http.StatusInternalServerError, "failed to read basket")
		return
	}

	availableToAdd, err := store.AvailableToAdd(ctx, s.db, product, holder.Key(), basketQuantity)
	if err != nil {
		s.logger.Error().Err(err).Msg("compute availability")
		respondError(w, http.StatusInternalServerError, "failed to compute availability")
		return
	}

	if req.Quantity > availableToAdd {
		var warning string
		switch {
		case product.Stock <= 0:
			warning = "This product is out of stock."
		case basketQuantity >= product.Stock:
			warning = "You already have the maximum quantity of this product."
		default:
			warning = fmt.Sprintf("Only %d more unit(s) of this product are available.", availableToAdd)
		}

		s.logger.Info().
			Int64("product_id", product.ID).
			Str("holder", holder.Key()).
			Int("requested", req.Quantity).
			Int("available", availableToAdd).
			Msg("basket add blocked: insufficient stock")

		summary, sumErr := s.basketSummary(ctx, engine, warning)
		if sumErr != nil {
			respondError(w, http.StatusInternalServerError, "failed to read basket")
			return
		}
		respondJSON(w, http.StatusConflict, summary)
		return
	}

	if err := engine.Add(ctx, product, req.Quantity, false); err != nil {
		s.logger.Error().Err(err).Msg("basket add")
		respondError(w, http.StatusInternalServerError, "failed to update basket")
		return
	}

	// Refresh the advisory hold to mirror the basket quantity.
	if _, err := store.Reserve(ctx, s.db, product.ID, holder.Key(), basketQuantity+req.Quantity); err != nil {
		s.logger.Error().Err(err).Int64("product_id", product.ID).Msg("refresh reservation")
	}

	s.logger.Info().
		Int64("product_id", product.ID).
		Str("holder", holder.Key()).
		Int("quantity", req.Quantity).
		Msg("product added to basket")

	summary, err := s.basketSummary(ctx, engine, "")
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to read basket")
		return
	}
	respondJSON(w, http.StatusOK, summary)
}

func (s *server) handleBasketUpdate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	holder := holderFrom(r)

	productID, err := productIDParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid product id")
		return
	}

	var req basketItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	product, err := store.GetProduct(ctx, s.db, productID)
	if err != nil {
		if errors.Is(err, database.ErrProductNotFound) {
			respondError(w, http.StatusNotFound, "product not found")
			return
		}
		s.logger.Error().Err(err).Msg("get product")
		respondError(w, http.StatusInternalServerError, "failed to get product")
		return
	}

	engine, err := s.basketFor(ctx, holder)
	if err != nil {
		s.logger.Error().Err(err).Msg("open basket")
		respondError(w, http.StatusInternalServerError, "failed to open basket")
		return
	}

	if req.Quantity > product.Stock {
		warning := "This product is out of stock."
		if product.Stock > 0 {
			warning = fmt.Sprintf("Only %d unit(s) of this product are in stock.", product.Stock)
		}

		s.logger.Info().
			Int64("product_id", product.ID).
			Str("holder", holder.Key()).
			Int("requested", req.Quantity).
			Int("stock", product.Stock).
			Msg("basket update blocked: insufficient stock")

		summary, sumErr := s.basketSummary(ctx, engine, warning)
		if sumErr != nil {
			respondError(w, http.StatusInternalServerError, "failed to read basket")
			return
		}
		respondJSON(w, http.StatusConflict, summary)
		return
	}

	if req.Quantity > 0 {
		if err := engine.Add(ctx, product, req.Quantity, true); err != nil {
			s.logger.Error().Err(err).Msg("basket update")
			respondError(w, http.StatusInternalServerError, "failed to update basket")
			return
		}
		if _, err := store.Reserve(ctx, s.db, product.ID, holder.Key(), req.Quantity); err != nil {
			s.logger.Error().Err(err).Int64("product_id", product.ID).Msg("refresh reservation")
		}
	} else {
		if err := engine.Remove(ctx, product.ID); err != nil {
			s.logger.Error().Err(err).Msg("basket remove")
			respondError(w, http.StatusInternalServerError, "failed to update basket")
			return
		}
		if err := store.ReleaseReservation(ctx, s.db, product.ID, holder.Key()); err != nil {
			s.logger.Error().Err(err).Int64("product_id", product.ID).Msg("release reservation")
		}
	}

	summary, err := s.basketSummary(ctx, engine, "")
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to read basket")
		return
	}
	respondJSON(w, http.StatusOK, summary)
}

func (s *server) handleBasketRemove(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	holder := holderFrom(r)

	productID, err := productIDParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid product id")
		return
	}

	engine, err := s.basketFor(ctx, holder)
	if err != nil {
		s.logger.Error().Err(err).Msg("open basket")
		respondError(w, http.StatusInternalServerError, "failed to open basket")
		return
	}

	if err := engine.Remove(ctx, productID); err != nil {
		s.logger.Error().Err(err).Msg("basket remove")
		respondError(w, http.StatusInternalServerError, "failed to update basket")
		return
	}

	if err := store.ReleaseReservation(ctx, s.db, productID, holder.Key()); err != nil {
		s.logger.Error().Err(err).Int64("product_id", productID).Msg("release reservation")
	}

	summary, err := s.basketSummary(ctx, engine, "")
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to read basket")
		return
	}
	respondJSON(w, http.StatusOK, summary)
}

func (s *server) handleBasketClear(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	holder := holderFrom(r)

	engine, err := s.basketFor(ctx, holder)
	if err != nil {
		s.logger.Error().Err(err).Msg("open basket")
		respondError(w, http.StatusInternalServerError, "failed to open basket")
		return
	}

	if err := engine.Clear(ctx); err != nil {
		s.logger.Error().Err(err).Msg("basket clear")
		respondError(w, http.StatusInternalServerError, "failed to clear basket")
		return
	}

	if err := store.ReleaseHolderReservations(ctx, s.db, holder.Key()); err != nil {
		s.logger.Error().Err(err).Msg("release reservations")
	}

	s.logger.Info().Str("holder", holder.Key()).Msg("basket cleared")
	respondJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

// handleBasketMerge folds the visitor's session basket into their account
// basket; the auth layer calls it right after a successful login.
func (s *server) handleBasketMerge(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	holder := holderFrom(r)

	if !holder.Authenticated() {
		respondError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	customer, err := store.GetOrCreateCustomer(ctx, s.db, holder.UserID, holder.UserEmail, holder.UserName)
	if err != nil {
		s.logger.Error().Err(err).Msg("resolve customer")
		respondError(w, http.StatusInternalServerError, "failed to resolve customer")
		return
	}

	stored, err := basket.NewStored(ctx, s.db, customer.ID)
	if err != nil {
		s.logger.Error().Err(err).Msg("open stored basket")
		respondError(w, http.StatusInternalServerError, "failed to open basket")
		return
	}

	session := basket.NewSession(&basket.RedisKV{Client: s.redis}, s.db, holder.SessionToken, s.cfg.Redis.BasketTTL)

	if err := basket.MergeSessionIntoStored(ctx, s.db, session, stored, s.logger); err != nil {
		s.logger.Error().Err(err).Str("holder", holder.Key()).Msg("basket merge")
		respondError(w, http.StatusInternalServerError, "failed to merge basket")
		return
	}

	summary, err := s.basketSummary(ctx, stored, "")
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to read basket")
		return
	}
	respondJSON(w, http.StatusOK, summary)
}

type checkoutRequest struct {
	DeliveryName    string `json:"delivery_name"`
	DeliveryPhone   string `json:"delivery_phone"`
	DeliveryAddress string `json:"delivery_address"`
	PaymentMethod   string `json:"payment_method"`
}

func validPaymentMethod(method string) bool {
	switch method {
	case models.PaymentMethodCardOnline, models.PaymentMethodCashOnDelivery, models.PaymentMethodBankTransfer:
		return true
	}
	return false
}

func (s *server) handleCheckout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	holder := holderFrom(r)

	if !holder.Authenticated() {
		respondError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.PaymentMethod == "" {
		req.PaymentMethod = models.PaymentMethodCashOnDelivery
	}
	if !validPaymentMethod(req.PaymentMethod) {
		respondError(w, http.StatusBadRequest, "unknown payment method")
		return
	}

	customer, err := store.GetOrCreateCustomer(ctx, s.db, holder.UserID, holder.UserEmail, holder.UserName)
	if err != nil {
		s.logger.Error().Err(err).Msg("resolve customer")
		respondError(w, http.StatusInternalServerError, "failed to resolve customer")
		return
	}

	engine, err := basket.NewStored(ctx, s.db, customer.ID)
	if err != nil {
		s.logger.Error().Err(err).Msg("open basket")
		respondError(w, http.StatusInternalServerError, "failed to open basket")
		return
	}

	lines, err := engine.Lines(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("read basket")
		respondError(w, http.StatusInternalServerError, "failed to read basket")
		return
	}

	checkoutLines := make([]store.BasketLine, 0, len(lines))
	for _, line := range lines {
		checkoutLines = append(checkoutLines, store.BasketLine{Product: line.Product, Quantity: line.Quantity})
	}

	order, err := store.Checkout(ctx, s.db, store.CheckoutRequest{
		CustomerID:      customer.ID,
		DeliveryName:    req.DeliveryName,
		DeliveryPhone:   req.DeliveryPhone,
		DeliveryAddress: req.DeliveryAddress,
		PaymentMethod:   req.PaymentMethod,
		Lines:           checkoutLines,
	})
	if err != nil {
		if errors.Is(err, database.ErrEmptyBasket) {
			respondError(w, http.StatusBadRequest, "your basket is empty")
			return
		}
		if stockErr, ok := database.IsInsufficientStock(err); ok {
			s.logger.Info().
				Int64("product_id", stockErr.ProductID).
				Int("requested", stockErr.Requested).
				Int("available", stockErr.Available).
				Msg("checkout aborted: insufficient stock")
			respondJSON(w, http.StatusConflict, map[string]interface{}{
				"error":        "insufficient stock",
				"product_id":   stockErr.ProductID,
				"product_name": stockErr.ProductName,
				"requested":    stockErr.Requested,
				"available":    stockErr.Available,
			})
			return
		}
		s.logger.Error().Err(err).Int64("customer_id", customer.ID).Msg("checkout failed")
		respondError(w, http.StatusInternalServerError, "failed to create order, please try again")
		return
	}

	if req.DeliveryPhone != "" || req.DeliveryAddress != "" {
		if err := store.UpdateCustomerContact(ctx, s.db, customer.ID, req.DeliveryPhone, req.DeliveryAddress); err != nil {
			s.logger.Error().Err(err).Int64("customer_id", customer.ID).Msg("save customer contact")
		}
	}

	if err := engine.Clear(ctx); err != nil {
		s.logger.Error().Err(err).Int64("order_id", order.ID).Msg("clear basket after checkout")
	}
	if err := store.ReleaseHolderReservations(ctx, s.db, holder.Key()); err != nil {
		s.logger.Error().Err(err).Msg("release reservations after checkout")
	}

	s.logger.Info().
		Int64("order_id", order.ID).
		Int64("customer_id", customer.ID).
		Str("total_price", order.TotalPrice.String()).
		Msg("order created")

	go s.notifier.OrderCreated(order)

	response := map[string]interface{}{"order": order}
	if order.PaymentMethod == models.PaymentMethodCardOnline {
		response["payment_url"] = fmt.Sprintf("/orders/%d/payment", order.ID)
	}
	respondJSON(w, http.StatusCreated, response)
}

func (s *server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	holder := holderFrom(r)

	if !holder.Authenticated() {
		respondError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	customer, err := store.GetCustomerByUserID(ctx, s.db, holder.UserID)
	if err != nil {
		if errors.Is(err, database.ErrCustomerNotFound) {
			respondJSON(w, http.StatusOK, &store.CursorPage{Items: []models.Order{}})
			return
		}
		s.logger.Error().Err(err).Msg("resolve customer")
		respondError(w, http.StatusInternalServerError, "failed to resolve customer")
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit < 1 || limit > store.MaxPageSize {
		limit = store.DefaultPageSize
	}

	result, err := store.ListOrdersCursor(ctx, s.db, customer.ID, r.URL.Query().Get("cursor"), limit)
	if err != nil {
		s.logger.Error().Err(err).Msg("list orders")
		respondError(w, http.StatusInternalServerError, "failed to list orders")
		return
	}

	respondJSON(w, http.StatusOK, result)
}

func (s *server) customerOrder(w http.ResponseWriter, r *http.Request) (*models.Order, *models.Customer, bool) {
	ctx := r.Context()
	holder := holderFrom(r)

	if !holder.Authenticated() {
		respondError(w, http.StatusUnauthorized, "authentication required")
		return nil, nil, false
	}

	orderID, err := orderIDParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid order id")
		return nil, nil, false
	}

	customer, err := store.GetCustomerByUserID(ctx, s.db, holder.UserID)
	if err != nil {
		respondError(w, http.StatusNotFound, "order not found")
		return nil, nil, false
	}

	order, err := store.GetCustomerOrder(ctx, s.db, customer.ID, orderID)
	if err != nil {
		if errors.Is(err, database.ErrOrderNotFound) {
			respondError(w, http.StatusNotFound, "order not found")
			return nil, nil, false
		}
		s.logger.Error().Err(err).Int64("order_id", orderID).Msg("get order")
		respondError(w, http.StatusInternalServerError, "failed to get order")
		return nil, nil, false
	}

	return order, customer, true
}

func (s *server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	order, _, ok := s.customerOrder(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, order)
}

func (s *server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	order, _, ok := s.customerOrder(w, r)
	if !ok {
		return
	}

	if err := store.CancelOrder(ctx, s.db, order.ID); err != nil {
		if errors.Is(err, database.ErrInvalidStateTransition) {
			respondError(w, http.StatusConflict, "order cannot be cancelled in its current status")
			return
		}
		s.logger.Error().Err(err).Int64("order_id", order.ID).Msg("cancel order")
		respondError(w, http.StatusInternalServerError, "failed to cancel order")
		return
	}

	s.logger.Info().Int64("order_id", order.ID).Msg("order cancelled, stock restored")

	cancelled, err := store.GetOrder(ctx, s.db, order.ID)
	if err != nil {
		respondJSON(w, http.StatusOK, map[string]string{"status": models.OrderStatusCancelled})
		return
	}
	respondJSON(w, http.StatusOK, cancelled)
}

type statusUpdateRequest struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// handleUpdateOrderStatus is operator glue: it moves an order along the
// fulfillment chain and mails the customer about the transition. The caller
// supplies both ends of the transition so a concurrent move fails loudly
// instead of silently double-firing notifications.
func (s *server) handleUpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	orderID, err := orderIDParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid order id")
		return
	}

	var req statusUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	order, err := store.GetOrder(ctx, s.db, orderID)
	if err != nil {
		if errors.Is(err, database.ErrOrderNotFound) {
			respondError(w, http.StatusNotFound, "order not found")
			return
		}
		s.logger.Error().Err(err).Msg("get order")
		respondError(w, http.StatusInternalServerError, "failed to get order")
		return
	}

	if err := store.UpdateOrderStatus(ctx, s.db, orderID, req.From, req.To); err != nil {
		if errors.Is(err, database.ErrInvalidStateTransition) {
			respondError(w, http.StatusConflict, "invalid status transition")
			return
		}
		s.logger.Error().Err(err).Msg("update order status")
		respondError(w, http.StatusInternalServerError, "failed to update order status")
		return
	}

	s.logger.Info().
		Int64("order_id", orderID).
		Str("from", req.From).
		Str("to", req.To).
		Msg("order status updated")

	go func(from, to string) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		customer, err := store.GetCustomerByID(ctx, s.db, order.CustomerID)
		if err != nil {
			s.logger.Error().Err(err).Int64("order_id", order.ID).Msg("resolve customer for status notification")
			return
		}
		s.notifier.OrderStatusChanged(order, customer.Email, from, to)
	}(req.From, req.To)

	respondJSON(w, http.StatusOK, map[string]string{"status": req.To})
}

// handleOrderPayment renders the auto-submit form that forwards the
// customer to the gateway's hosted pay page.
func (s *server) handleOrderPayment(w http.ResponseWriter, r *http.Request) {
	order, customer, ok := s.customerOrder(w, r)
	if !ok {
		return
	}

	if order.PaymentStatus == models.PaymentStatusPaid {
		respondJSON(w, http.StatusOK, map[string]string{"status": "already paid"})
		return
	}
	if order.PaymentMethod != models.PaymentMethodCardOnline {
		respondError(w, http.StatusBadRequest, "this order does not use online payment")
		return
	}
	if s.gateway == nil {
		s.logger.Error().Msg("payment requested but gateway is not configured")
		respondError(w, http.StatusInternalServerError, "payment gateway is not configured")
		return
	}

	client := payment.ClientInfo{
		FirstName: customer.Name,
		Email:     customer.Email,
		Phone:     order.DeliveryPhone,
	}
	if client.Phone == "" {
		client.Phone = customer.Phone
	}

	returnURL := fmt.Sprintf("https://%s/orders/%d", s.gateway.MerchantDomain, order.ID)
	serviceURL := fmt.Sprintf("https://%s/payments/wayforpay/callback", s.gateway.MerchantDomain)

	req := s.gateway.NewRequest(order, client, returnURL, serviceURL)
	if err := store.SetOrderPaymentReference(r.Context(), s.db, order.ID, req.OrderReference); err != nil {
		s.logger.Error().Err(err).Int64("order_id", order.ID).Msg("save payment reference")
		respondError(w, http.StatusInternalServerError, "failed to start payment")
		return
	}

	form, err := s.gateway.RenderForm(req)
	if err != nil {
		s.logger.Error().Err(err).Int64("order_id", order.ID).Msg("render payment form")
		respondError(w, http.StatusInternalServerError, "failed to build payment form")
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(form))
}

// handleOrderPaymentStatus polls the gateway for the transaction's current
// state, for when the customer returns before the callback has landed.
func (s *server) handleOrderPaymentStatus(w http.ResponseWriter, r *http.Request) {
	order, _, ok := s.customerOrder(w, r)
	if !ok {
		return
	}

	if order.PaymentStatus == models.PaymentStatusPaid {
		respondJSON(w, http.StatusOK, map[string]interface{}{
			"payment_status": order.PaymentStatus,
			"paid_at":        order.PaidAt,
		})
		return
	}
	if s.gateway == nil {
		respondError(w, http.StatusInternalServerError, "payment gateway is not configured")
		return
	}
	if order.PaymentRef == "" {
		respondError(w, http.StatusConflict, "payment has not been started for this order")
		return
	}

	result, err := s.gateway.CheckStatus(order.PaymentRef)
	if err != nil {
		s.logger.Error().Err(err).Int64("order_id", order.ID).Msg("check payment status")
		respondError(w, http.StatusBadGateway, "failed to check payment status")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"payment_status":     order.PaymentStatus,
		"transaction_status": result.TransactionStatus,
	})
}

func (s *server) handlePaymentCallback(w http.ResponseWriter, r *http.Request) {
	if s.processor == nil {
		s.logger.Error().Msg("payment callback received but gateway is not configured")
		respondJSON(w, http.StatusInternalServerError, map[string]string{
			"status": "error", "message": "Configuration error",
		})
		return
	}

	cb, err := payment.ParseCallback(r)
	if err != nil {
		s.logger.Error().Err(err).Msg("payment callback: unreadable payload")
		respondJSON(w, http.StatusBadRequest, map[string]string{
			"status": "error", "message": "Invalid data",
		})
		return
	}

	ack, err := s.processor.HandleCallback(r.Context(), cb)
	if err != nil {
		switch {
		case errors.Is(err, database.ErrInvalidSignature):
			respondJSON(w, http.StatusBadRequest, map[string]string{
				"status": "error", "message": "Invalid signature",
			})
		case errors.Is(err, database.ErrOrderNotFound):
			respondJSON(w, http.StatusNotFound, map[string]string{
				"status": "error", "message": "Order not found",
			})
		case errors.Is(err, database.ErrAmountMismatch):
			respondJSON(w, http.StatusBadRequest, map[string]string{
				"status": "error", "message": "Amount mismatch",
			})
		default:
			s.logger.Error().Err(err).Str("order_reference", cb.OrderReference).Msg("payment callback processing error")
			respondJSON(w, http.StatusInternalServerError, map[string]string{
				"status": "error", "message": "Processing error",
			})
		}
		return
	}

	respondJSON(w, http.StatusOK, ack)
}
