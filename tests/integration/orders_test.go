package integration

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/safar/flower-store/internal/database"
	"github.com/safar/flower-store/internal/models"
	"github.com/safar/flower-store/internal/store"
	"github.com/shopspring/decimal"
)

func orderRequest(userID int64, items ...store.OrderItemRequest) store.CreateOrderRequest {
	return store.CreateOrderRequest{
		UserID:          userID,
		CustomerName:    "Test Customer",
		CustomerEmail:   "customer@example.com",
		CustomerPhone:   "0123456789",
		ShippingAddress: "1 Flower Street",
		PaymentMethod:   models.PaymentMethodCOD,
		ShippingFee:     decimal.Zero,
		Discount:        decimal.Zero,
		Items:           items,
	}
}

func TestCreateOrder(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()

	user := createTestUser(t, db, "order1@example.com")
	product1 := createTestProduct(t, db, "ORD-T-001", 100, 50)
	product2 := createTestProduct(t, db, "ORD-T-002", 200, 30)

	req := orderRequest(user.ID,
		store.OrderItemRequest{ProductID: product1.ID, Quantity: 5},
		store.OrderItemRequest{ProductID: product2.ID, Quantity: 3},
	)
	req.ShippingFee = decimal.NewFromInt(20)
	req.Discount = decimal.NewFromInt(50)

	order, err := store.CreateOrder(ctx, db, req)
	if err != nil {
		t.Fatalf("Create order: %v", err)
	}

	if !strings.HasPrefix(order.OrderID, "ORD-") {
		t.Errorf("Expected external order id with ORD- prefix, got %q", order.OrderID)
	}
	if order.Status != models.OrderStatusPending {
		t.Errorf("Expected status pending, got %s", order.Status)
	}
	if order.PaymentStatus != models.PaymentStatusPending {
		t.Errorf("Expected payment status pending, got %s", order.PaymentStatus)
	}

	// subtotal = 100*5 + 200*3 = 1100; total = 1100 + 20 - 50 = 1070
	if !order.Subtotal.Equal(decimal.NewFromInt(1100)) {
		t.Errorf("Expected subtotal 1100, got %s", order.Subtotal)
	}
	if !order.Total.Equal(decimal.NewFromInt(1070)) {
		t.Errorf("Expected total 1070, got %s", order.Total)
	}

	if len(order.Items) != 2 {
		t.Fatalf("Expected 2 items, got %d", len(order.Items))
	}
	if order.Items[0].ProductName != product1.Name {
		t.Errorf("Expected snapshot name %q, got %q", product1.Name, order.Items[0].ProductName)
	}
	if !order.Items[0].Subtotal.Equal(decimal.NewFromInt(500)) {
		t.Errorf("Expected item subtotal 500, got %s", order.Items[0].Subtotal)
	}

	if stock := productStock(t, db, product1.ID); stock != 45 {
		t.Errorf("Expected product 1 stock 45, got %d", stock)
	}
	if stock := productStock(t, db, product2.ID); stock != 27 {
		t.Errorf("Expected product 2 stock 27, got %d", stock)
	}
}

func TestCreateOrderSnapshotSurvivesProductEdit(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()

	user := createTestUser(t, db, "snapshot@example.com")
	product := createTestProduct(t, db, "ORD-T-SNAP", 100, 10)

	order, err := store.CreateOrder(ctx, db, orderRequest(user.ID,
		store.OrderItemRequest{ProductID: product.ID, Quantity: 1}))
	if err != nil {
		t.Fatalf("Create order: %v", err)
	}

	_, err = store.UpdateProduct(ctx, db, product.ID, store.UpdateProductRequest{
		Name:  "Renamed Product",
		Price: decimal.NewFromInt(999),
		Stock: 9,
	})
	if err != nil {
		t.Fatalf("Update product: %v", err)
	}

	fetched, err := store.GetOrder(ctx, db, order.OrderID)
	if err != nil {
		t.Fatalf("Get order: %v", err)
	}

	if fetched.Items[0].ProductName != product.Name {
		t.Errorf("Snapshot name changed: got %q", fetched.Items[0].ProductName)
	}
	if !fetched.Items[0].Price.Equal(decimal.NewFromInt(100)) {
		t.Errorf("Snapshot price changed: got %s", fetched.Items[0].Price)
	}
}

func TestCreateOrderInsufficientStock(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()

	user := createTestUser(t, db, "order2@example.com")
	product1 := createTestProduct(t, db, "ORD-T-003", 100, 50)
	product2 := createTestProduct(t, db, "ORD-T-004", 100, 5)

	// The second item exceeds stock; the first item's stock must be untouched.
	_, err := store.CreateOrder(ctx, db, orderRequest(user.ID,
		store.OrderItemRequest{ProductID: product1.ID, Quantity: 10},
		store.OrderItemRequest{ProductID: product2.ID, Quantity: 10},
	))
	if !errors.Is(err, database.ErrInsufficientStock) {
		t.Errorf("Expected insufficient stock error, got: %v", err)
	}

	if stock := productStock(t, db, product1.ID); stock != 50 {
		t.Errorf("Product 1 stock should remain 50, got %d", stock)
	}
	if stock := productStock(t, db, product2.ID); stock != 5 {
		t.Errorf("Product 2 stock should remain 5, got %d", stock)
	}

	var orderCount int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM orders`).Scan(&orderCount); err != nil {
		t.Fatalf("Count orders: %v", err)
	}
	if orderCount != 0 {
		t.Errorf("Expected no persisted orders, got %d", orderCount)
	}
}

func TestCreateOrderValidation(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()

	user := createTestUser(t, db, "order3@example.com")
	product := createTestProduct(t, db, "ORD-T-005", 100, 5)

	_, err := store.CreateOrder(ctx, db, orderRequest(user.ID))
	if !errors.Is(err, database.ErrEmptyOrder) {
		t.Errorf("Expected empty order error, got: %v", err)
	}

	_, err = store.CreateOrder(ctx, db, orderRequest(user.ID,
		store.OrderItemRequest{ProductID: product.ID, Quantity: 0}))
	if !errors.Is(err, database.ErrInvalidQuantity) {
		t.Errorf("Expected invalid quantity error, got: %v", err)
	}

	_, err = store.CreateOrder(ctx, db, orderRequest(user.ID,
		store.OrderItemRequest{ProductID: 999999, Quantity: 1}))
	if !errors.Is(err, database.ErrProductNotFound) {
		t.Errorf("Expected product not found error, got: %v", err)
	}

	req := orderRequest(user.ID, store.OrderItemRequest{ProductID: product.ID, Quantity: 1})
	req.Discount = decimal.NewFromInt(5000)
	_, err = store.CreateOrder(ctx, db, req)
	if !errors.Is(err, database.ErrInvalidAmount) {
		t.Errorf("Expected invalid amount error for negative total, got: %v", err)
	}
}

func TestConcurrentOrdersLowStock(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()

	user := createTestUser(t, db, "order4@example.com")
	product := createTestProduct(t, db, "ORD-T-006", 100, 5)

	// Stock 5, two concurrent orders of 3: exactly one must succeed.
	concurrency := 2
	var wg sync.WaitGroup
	results := make(chan error, concurrency)

	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.CreateOrder(ctx, db, orderRequest(user.ID,
				store.OrderItemRequest{ProductID: product.ID, Quantity: 3}))
			results <- err
		}()
	}

	wg.Wait()
	close(results)

	successCount := 0
	stockFailures := 0
	for err := range results {
		switch {
		case err == nil:
			successCount++
		case errors.Is(err, database.ErrInsufficientStock):
			stockFailures++
		default:
			t.Errorf("Unexpected error: %v", err)
		}
	}

	if successCount != 1 || stockFailures != 1 {
		t.Errorf("Expected exactly 1 success and 1 stock failure, got %d/%d", successCount, stockFailures)
	}

	if stock := productStock(t, db, product.ID); stock != 2 {
		t.Errorf("Expected final stock 2, got %d", stock)
	}
}

func TestCancelRestoresStockOnce(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()

	user := createTestUser(t, db, "order5@example.com")
	product := createTestProduct(t, db, "ORD-T-007", 100, 10)

	order, err := store.CreateOrder(ctx, db, orderRequest(user.ID,
		store.OrderItemRequest{ProductID: product.ID, Quantity: 4}))
	if err != nil {
		t.Fatalf("Create order: %v", err)
	}

	if stock := productStock(t, db, product.ID); stock != 6 {
		t.Fatalf("Expected stock 6 after order, got %d", stock)
	}

	cancelled, err := store.UpdateOrderStatus(ctx, db, order.OrderID, models.OrderStatusCancelled)
	if err != nil {
		t.Fatalf("Cancel order: %v", err)
	}
	if cancelled.Status != models.OrderStatusCancelled {
		t.Errorf("Expected status cancelled, got %s", cancelled.Status)
	}

	if stock := productStock(t, db, product.ID); stock != 10 {
		t.Errorf("Expected stock restored to 10, got %d", stock)
	}

	// Cancelling again must be a no-op on stock.
	_, err = store.UpdateOrderStatus(ctx, db, order.OrderID, models.OrderStatusCancelled)
	if err != nil {
		t.Fatalf("Repeat cancel: %v", err)
	}

	if stock := productStock(t, db, product.ID); stock != 10 {
		t.Errorf("Stock double-restored: expected 10, got %d", stock)
	}
}

func TestStatusTransitions(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()

	user := createTestUser(t, db, "order6@example.com")
	product := createTestProduct(t, db, "ORD-T-008", 100, 10)

	order, err := store.CreateOrder(ctx, db, orderRequest(user.ID,
		store.OrderItemRequest{ProductID: product.ID, Quantity: 1}))
	if err != nil {
		t.Fatalf("Create order: %v", err)
	}

	for _, status := range []string{
		models.OrderStatusProcessing,
		models.OrderStatusShipped,
		models.OrderStatusDelivered,
	} {
		if _, err := store.UpdateOrderStatus(ctx, db, order.OrderID, status); err != nil {
			t.Fatalf("Transition to %s: %v", status, err)
		}
	}

	// delivered is terminal, including for cancellation.
	_, err = store.UpdateOrderStatus(ctx, db, order.OrderID, models.OrderStatusCancelled)
	if !errors.Is(err, database.ErrInvalidStatusTransition) {
		t.Errorf("Expected invalid transition out of delivered, got: %v", err)
	}

	// No stock came back from the rejected cancellation.
	if stock := productStock(t, db, product.ID); stock != 9 {
		t.Errorf("Expected stock 9, got %d", stock)
	}

	_, err = store.UpdateOrderStatus(ctx, db, order.OrderID, models.OrderStatusShipped)
	if !errors.Is(err, database.ErrInvalidStatusTransition) {
		t.Errorf("Expected invalid backward transition, got: %v", err)
	}

	_, err = store.UpdateOrderStatus(ctx, db, "ORD-does-not-exist", models.OrderStatusProcessing)
	if !errors.Is(err, database.ErrOrderNotFound) {
		t.Errorf("Expected order not found, got: %v", err)
	}
}

func TestSoldOutThenCancelScenario(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()

	user := createTestUser(t, db, "order7@example.com")
	product := createTestProduct(t, db, "ORD-T-009", 100, 5)

	first, err := store.CreateOrder(ctx, db, orderRequest(user.ID,
		store.OrderItemRequest{ProductID: product.ID, Quantity: 5}))
	if err != nil {
		t.Fatalf("Create first order: %v", err)
	}
	if stock := productStock(t, db, product.ID); stock != 0 {
		t.Fatalf("Expected stock 0, got %d", stock)
	}

	_, err = store.CreateOrder(ctx, db, orderRequest(user.ID,
		store.OrderItemRequest{ProductID: product.ID, Quantity: 1}))
	if !errors.Is(err, database.ErrInsufficientStock) {
		t.Errorf("Expected insufficient stock on sold-out product, got: %v", err)
	}

	if _, err := store.UpdateOrderStatus(ctx, db, first.OrderID, models.OrderStatusCancelled); err != nil {
		t.Fatalf("Cancel first order: %v", err)
	}

	if stock := productStock(t, db, product.ID); stock != 5 {
		t.Errorf("Expected stock restored to 5, got %d", stock)
	}
}

func TestDeleteOrder(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()

	user := createTestUser(t, db, "order8@example.com")
	product := createTestProduct(t, db, "ORD-T-010", 100, 10)

	order, err := store.CreateOrder(ctx, db, orderRequest(user.ID,
		store.OrderItemRequest{ProductID: product.ID, Quantity: 3}))
	if err != nil {
		t.Fatalf("Create order: %v", err)
	}

	if err := store.DeleteOrder(ctx, db, order.OrderID); err != nil {
		t.Fatalf("Delete order: %v", err)
	}

	if stock := productStock(t, db, product.ID); stock != 10 {
		t.Errorf("Expected stock restored to 10 after delete, got %d", stock)
	}

	_, err = store.GetOrder(ctx, db, order.OrderID)
	if !errors.Is(err, database.ErrOrderNotFound) {
		t.Errorf("Expected order gone, got: %v", err)
	}

	var itemCount int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM order_items`).Scan(&itemCount); err != nil {
		t.Fatalf("Count order items: %v", err)
	}
	if itemCount != 0 {
		t.Errorf("Expected order items cascade-deleted, got %d", itemCount)
	}
}

func TestDeleteCancelledOrderDoesNotRestore(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()

	user := createTestUser(t, db, "order9@example.com")
	product := createTestProduct(t, db, "ORD-T-011", 100, 10)

	order, err := store.CreateOrder(ctx, db, orderRequest(user.ID,
		store.OrderItemRequest{ProductID: product.ID, Quantity: 3}))
	if err != nil {
		t.Fatalf("Create order: %v", err)
	}

	if _, err := store.UpdateOrderStatus(ctx, db, order.OrderID, models.OrderStatusCancelled); err != nil {
		t.Fatalf("Cancel order: %v", err)
	}
	if err := store.DeleteOrder(ctx, db, order.OrderID); err != nil {
		t.Fatalf("Delete order: %v", err)
	}

	// Cancellation already restored stock; delete must not restore again.
	if stock := productStock(t, db, product.ID); stock != 10 {
		t.Errorf("Expected stock 10, got %d", stock)
	}
}

func TestUpdatePaymentStatus(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()

	user := createTestUser(t, db, "order10@example.com")
	product := createTestProduct(t, db, "ORD-T-012", 100, 10)

	order, err := store.CreateOrder(ctx, db, orderRequest(user.ID,
		store.OrderItemRequest{ProductID: product.ID, Quantity: 1}))
	if err != nil {
		t.Fatalf("Create order: %v", err)
	}

	updated, err := store.UpdatePaymentStatus(ctx, db, order.OrderID, models.PaymentStatusPaid)
	if err != nil {
		t.Fatalf("Update payment status: %v", err)
	}
	if updated.PaymentStatus != models.PaymentStatusPaid {
		t.Errorf("Expected payment status paid, got %s", updated.PaymentStatus)
	}

	_, err = store.UpdatePaymentStatus(ctx, db, order.OrderID, "refunded")
	if !errors.Is(err, database.ErrInvalidPaymentStatus) {
		t.Errorf("Expected invalid payment status error, got: %v", err)
	}
}

func TestListOrders(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()

	user1 := createTestUser(t, db, "order11@example.com")
	user2 := createTestUser(t, db, "order12@example.com")
	product := createTestProduct(t, db, "ORD-T-013", 100, 100)

	var lastOrderID string
	for i := 0; i < 12; i++ {
		order, err := store.CreateOrder(ctx, db, orderRequest(user1.ID,
			store.OrderItemRequest{ProductID: product.ID, Quantity: 1}))
		if err != nil {
			t.Fatalf("Create order %d: %v", i, err)
		}
		lastOrderID = order.OrderID
	}
	if _, err := store.CreateOrder(ctx, db, orderRequest(user2.ID,
		store.OrderItemRequest{ProductID: product.ID, Quantity: 1})); err != nil {
		t.Fatalf("Create user2 order: %v", err)
	}

	page1, err := store.ListUserOrders(ctx, db, user1.ID, 1, 10)
	if err != nil {
		t.Fatalf("List user orders: %v", err)
	}
	if page1.TotalCount != 12 {
		t.Errorf("Expected total 12, got %d", page1.TotalCount)
	}
	if page1.TotalPages != 2 {
		t.Errorf("Expected 2 pages, got %d", page1.TotalPages)
	}
	orders := page1.Items.([]models.Order)
	if len(orders) != 10 {
		t.Errorf("Expected 10 orders on page 1, got %d", len(orders))
	}

	if _, err := store.UpdateOrderStatus(ctx, db, lastOrderID, models.OrderStatusProcessing); err != nil {
		t.Fatalf("Update status: %v", err)
	}

	filtered, err := store.ListOrders(ctx, db, 1, 10, models.OrderStatusProcessing)
	if err != nil {
		t.Fatalf("List orders by status: %v", err)
	}
	if filtered.TotalCount != 1 {
		t.Errorf("Expected 1 processing order, got %d", filtered.TotalCount)
	}

	all, err := store.ListOrders(ctx, db, 1, 10, "")
	if err != nil {
		t.Fatalf("List all orders: %v", err)
	}
	if all.TotalCount != 13 {
		t.Errorf("Expected 13 orders total, got %d", all.TotalCount)
	}
}
