package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/safar/flower-store/internal/api/middleware"
	"github.com/safar/flower-store/internal/database"
	"github.com/safar/flower-store/internal/events"
	"github.com/safar/flower-store/internal/models"
	"github.com/safar/flower-store/internal/payment"
	"github.com/safar/flower-store/internal/store"
	"github.com/shopspring/decimal"
)

type createOrderRequest struct {
	CustomerName    string  `json:"customer_name"`
	CustomerEmail   string  `json:"customer_email"`
	CustomerPhone   string  `json:"customer_phone"`
	ShippingAddress string  `json:"shipping_address"`
	PaymentMethod   string  `json:"payment_method"`
	ShippingFee     float64 `json:"shipping_fee"`
	Discount        float64 `json:"discount"`
	Notes           string  `json:"notes"`
	Items           []struct {
		ProductID int64 `json:"product_id"`
		Quantity  int   `json:"quantity"`
	} `json:"items"`
}

type createOrderResponse struct {
	Order        *models.Order `json:"order"`
	PaymentURL   string        `json:"payment_url,omitempty"`
	PaymentError string        `json:"payment_error,omitempty"`
}

func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		s.respondError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.CustomerName == "" || req.CustomerEmail == "" || req.CustomerPhone == "" || req.ShippingAddress == "" {
		s.respondError(w, http.StatusBadRequest, "customer contact and shipping fields are required")
		return
	}
	if !models.ValidPaymentMethod(req.PaymentMethod) {
		s.respondError(w, http.StatusBadRequest, "invalid payment method")
		return
	}

	items := make([]store.OrderItemRequest, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, store.OrderItemRequest{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
		})
	}

	order, err := store.CreateOrder(r.Context(), s.db, store.CreateOrderRequest{
		UserID:          claims.UserID,
		CustomerName:    req.CustomerName,
		CustomerEmail:   req.CustomerEmail,
		CustomerPhone:   req.CustomerPhone,
		ShippingAddress: req.ShippingAddress,
		PaymentMethod:   req.PaymentMethod,
		ShippingFee:     decimal.NewFromFloat(req.ShippingFee),
		Discount:        decimal.NewFromFloat(req.Discount),
		Notes:           req.Notes,
		Items:           items,
	})
	if err != nil {
		s.respondStoreError(w, err)
		return
	}

	s.publisher.Publish(r.Context(), events.OrderEvent{
		Type:    events.OrderCreated,
		OrderID: order.OrderID,
		UserID:  order.UserID,
		Status:  order.Status,
		Total:   order.Total.String(),
	})

	resp := createOrderResponse{Order: order}

	// Bank transfers go through the gateway. A gateway failure does not fail
	// the order: it stays pending and the error is reported to the client.
	if order.PaymentMethod == models.PaymentMethodBankTransfer {
		paymentURL, err := s.gateway.CreatePaymentURL(r.Context(), order.OrderID, order.CustomerEmail, order.Total)
		if err != nil {
			var gwErr *payment.GatewayError
			if errors.As(err, &gwErr) {
				s.logger.Error().Err(err).Str("order_id", order.OrderID).Msg("payment initiation failed")
				resp.PaymentError = gwErr.Error()
			} else {
				s.respondStoreError(w, err)
				return
			}
		} else {
			resp.PaymentURL = paymentURL
		}
	}

	s.respondJSON(w, http.StatusCreated, resp)
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		s.respondError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	order, err := store.GetOrder(r.Context(), s.db, chi.URLParam(r, "id"))
	if err != nil {
		s.respondStoreError(w, err)
		return
	}

	if order.UserID != claims.UserID && claims.Role != models.RoleAdmin {
		s.respondError(w, http.StatusForbidden, "you do not have permission to view this order")
		return
	}

	s.respondJSON(w, http.StatusOK, order)
}

func (s *Server) handleListUserOrders(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		s.respondError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	page, limit := parsePageParams(r)

	result, err := store.ListUserOrders(r.Context(), s.db, claims.UserID, page, limit)
	if err != nil {
		s.respondStoreError(w, err)
		return
	}

	s.respondJSON(w, http.StatusOK, result)
}

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	page, limit := parsePageParams(r)

	status := r.URL.Query().Get("status")
	if status != "" && !models.ValidOrderStatus(status) {
		s.respondError(w, http.StatusBadRequest, "invalid status filter")
		return
	}

	result, err := store.ListOrders(r.Context(), s.db, page, limit, status)
	if err != nil {
		s.respondStoreError(w, err)
		return
	}

	s.respondJSON(w, http.StatusOK, result)
}

func (s *Server) handleUpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		s.respondError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	orderID := chi.URLParam(r, "id")

	var req struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !models.ValidOrderStatus(req.Status) {
		s.respondError(w, http.StatusBadRequest, "invalid order status")
		return
	}

	// Admins may apply any transition. A customer may only cancel their own
	// order.
	if claims.Role != models.RoleAdmin {
		order, err := store.GetOrder(r.Context(), s.db, orderID)
		if err != nil {
			s.respondStoreError(w, err)
			return
		}
		if req.Status != models.OrderStatusCancelled || order.UserID != claims.UserID {
			s.respondError(w, http.StatusForbidden, "you do not have permission to update this order")
			return
		}
	}

	order, err := store.UpdateOrderStatus(r.Context(), s.db, orderID, req.Status)
	if err != nil {
		s.respondStoreError(w, err)
		return
	}

	eventType := events.OrderStatusChanged
	if order.Status == models.OrderStatusCancelled {
		eventType = events.OrderCancelled
	}
	s.publisher.Publish(r.Context(), events.OrderEvent{
		Type:    eventType,
		OrderID: order.OrderID,
		UserID:  order.UserID,
		Status:  order.Status,
	})

	s.respondJSON(w, http.StatusOK, order)
}

func (s *Server) handleDeleteOrder(w http.ResponseWriter, r *http.Request) {
	if err := store.DeleteOrder(r.Context(), s.db, chi.URLParam(r, "id")); err != nil {
		s.respondStoreError(w, err)
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]string{"message": "order deleted"})
}

type callbackResult struct {
	ReturnCode    int    `json:"return_code"`
	ReturnMessage string `json:"return_message"`
}

// handlePaymentCallback reconciles a gateway callback with the order it was
// created for. The contract with the gateway is non-exceptional: every outcome
// is a 200 with a return_code body, so a forged or malformed callback never
// turns into a retry storm and never touches an order.
func (s *Server) handlePaymentCallback(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Data string `json:"data"`
		Mac  string `json:"mac"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondJSON(w, http.StatusOK, callbackResult{ReturnCode: 0, ReturnMessage: "invalid callback body"})
		return
	}

	if err := s.gateway.VerifyCallback(req.Data, req.Mac); err != nil {
		s.logger.Warn().Msg("payment callback MAC mismatch")
		s.respondJSON(w, http.StatusOK, callbackResult{ReturnCode: 0, ReturnMessage: "mac not equal"})
		return
	}

	data, err := s.gateway.ParseCallback(req.Data)
	if err != nil {
		s.logger.Error().Err(err).Msg("parse payment callback")
		s.respondJSON(w, http.StatusOK, callbackResult{ReturnCode: 0, ReturnMessage: "invalid callback data"})
		return
	}

	if _, err := store.UpdatePaymentStatus(r.Context(), s.db, data.OrderID, models.PaymentStatusPaid); err != nil {
		s.logger.Error().Err(err).Str("order_id", data.OrderID).Msg("mark order paid")
		s.respondJSON(w, http.StatusOK, callbackResult{ReturnCode: 0, ReturnMessage: "order not found"})
		return
	}

	order, err := store.UpdateOrderStatus(r.Context(), s.db, data.OrderID, models.OrderStatusProcessing)
	if err != nil {
		// A redelivered callback for an order that already advanced past
		// processing is acknowledged, not retried.
		if errors.Is(err, database.ErrInvalidStatusTransition) {
			s.respondJSON(w, http.StatusOK, callbackResult{ReturnCode: 1, ReturnMessage: "order already processed"})
			return
		}
		s.logger.Error().Err(err).Str("order_id", data.OrderID).Msg("advance order after payment")
		s.respondJSON(w, http.StatusOK, callbackResult{ReturnCode: 0, ReturnMessage: "order update failed"})
		return
	}

	s.publisher.Publish(r.Context(), events.OrderEvent{
		Type:    events.OrderStatusChanged,
		OrderID: order.OrderID,
		UserID:  order.UserID,
		Status:  order.Status,
	})

	s.respondJSON(w, http.StatusOK, callbackResult{ReturnCode: 1, ReturnMessage: "success"})
}
