package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/safar/flower-store/internal/database"
	"github.com/safar/flower-store/internal/models"
	"github.com/shopspring/decimal"
)

type CreateOrderRequest struct {
	UserID          int64
	CustomerName    string
	CustomerEmail   string
	CustomerPhone   string
	ShippingAddress string
	PaymentMethod   string
	ShippingFee     decimal.Decimal
	Discount        decimal.Decimal
	Notes           string
	Items           []OrderItemRequest
}

type OrderItemRequest struct {
	ProductID int64
	Quantity  int
}

func generateOrderID() string {
	return "ORD-" + uuid.NewString()
}

const orderColumns = `id, order_id, user_id, customer_name, customer_email, customer_phone,
		shipping_address, status, payment_method, payment_status,
		subtotal, shipping_fee, discount, total, notes, created_at, updated_at`

func scanOrder(row interface{ Scan(...interface{}) error }) (*models.Order, error) {
	order := &models.Order{}
	var notes sql.NullString
	err := row.Scan(
		&order.ID,
		&order.OrderID,
		&order.UserID,
		&order.CustomerName,
		&order.CustomerEmail,
		&order.CustomerPhone,
		&order.ShippingAddress,
		&order.Status,
		&order.PaymentMethod,
		&order.PaymentStatus,
		&order.Subtotal,
		&order.ShippingFee,
		&order.Discount,
		&order.Total,
		&notes,
		&order.CreatedAt,
		&order.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	order.Notes = notes.String
	return order, nil
}

// CreateOrder validates every item, persists the order with its line items,
// and decrements each product's stock, all in one serializable transaction.
// Any failure rolls the whole sequence back: no partial order and no stock
// mutation is ever visible to other transactions.
func CreateOrder(ctx context.Context, db *sql.DB, req CreateOrderRequest) (*models.Order, error) {
	if len(req.Items) == 0 {
		return nil, database.ErrEmptyOrder
	}
	for _, item := range req.Items {
		if item.Quantity < 1 {
			return nil, database.ErrInvalidQuantity
		}
	}
	if req.ShippingFee.IsNegative() || req.Discount.IsNegative() {
		return nil, database.ErrInvalidAmount
	}

	var order *models.Order

	err := database.WithRetry(ctx, db, database.SerializableTxOptions(), func(tx *sql.Tx) error {
		var exists bool
		err := tx.QueryRowContext(ctx,
			"SELECT EXISTS(SELECT 1 FROM users WHERE id = $1)",
			req.UserID).Scan(&exists)
		if err != nil {
			return fmt.Errorf("check user exists: %w", err)
		}
		if !exists {
			return database.ErrUserNotFound
		}

		// Lock and validate every product before any write. The price and
		// name captured here are the snapshot stored on the line items.
		subtotal := decimal.Zero
		products := make(map[int64]*models.Product, len(req.Items))
		for _, item := range req.Items {
			product, err := lockProduct(ctx, tx, item.ProductID)
			if err != nil {
				return err
			}
			if product.Stock < item.Quantity {
				return database.ErrInsufficientStock
			}

			products[item.ProductID] = product
			subtotal = subtotal.Add(product.Price.Mul(decimal.NewFromInt(int64(item.Quantity))))
		}

		total := subtotal.Add(req.ShippingFee).Sub(req.Discount)
		if total.IsNegative() {
			return database.ErrInvalidAmount
		}

		var orderDBID int64
		orderID := generateOrderID()
		err = tx.QueryRowContext(ctx,
			`INSERT INTO orders (order_id, user_id, customer_name, customer_email, customer_phone,
			                     shipping_address, status, payment_method, payment_status,
			                     subtotal, shipping_fee, discount, total, notes, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, NULLIF($14, ''), NOW(), NOW())
			 RETURNING id`,
			orderID, req.UserID, req.CustomerName, req.CustomerEmail, req.CustomerPhone,
			req.ShippingAddress, models.OrderStatusPending, req.PaymentMethod, models.PaymentStatusPending,
			subtotal, req.ShippingFee, req.Discount, total, req.Notes).Scan(&orderDBID)
		if err != nil {
			return fmt.Errorf("create order: %w", err)
		}

		for _, item := range req.Items {
			product := products[item.ProductID]
			itemSubtotal := product.Price.Mul(decimal.NewFromInt(int64(item.Quantity)))

			_, err = tx.ExecContext(ctx,
				`INSERT INTO order_items (order_id, product_id, product_name, product_image, price, quantity, subtotal, created_at)
				 VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())`,
				orderDBID, item.ProductID, product.Name, product.ImageURL, product.Price, item.Quantity, itemSubtotal)
			if err != nil {
				return fmt.Errorf("create order item: %w", err)
			}

			if err := decrementStock(ctx, tx, item.ProductID, item.Quantity); err != nil {
				return err
			}
		}

		order, err = scanOrder(tx.QueryRowContext(ctx,
			`SELECT `+orderColumns+` FROM orders WHERE id = $1`, orderDBID))
		if err != nil {
			return fmt.Errorf("fetch created order: %w", err)
		}

		order.Items, err = fetchOrderItems(ctx, tx, orderDBID)
		return err
	})

	if err != nil {
		return nil, err
	}

	return order, nil
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

func fetchOrderItems(ctx context.Context, q queryer, orderDBID int64) ([]models.OrderItem, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, order_id, product_id, product_name, product_image, price, quantity, subtotal, created_at
		 FROM order_items
		 WHERE order_id = $1
		 ORDER BY id`,
		orderDBID)
	if err != nil {
		return nil, fmt.Errorf("get order items: %w", err)
	}
	defer rows.Close()

	var items []models.OrderItem
	for rows.Next() {
		var item models.OrderItem
		err := rows.Scan(
			&item.ID,
			&item.OrderID,
			&item.ProductID,
			&item.ProductName,
			&item.ProductImage,
			&item.Price,
			&item.Quantity,
			&item.Subtotal,
			&item.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return items, nil
}

// GetOrder looks an order up by its external order identifier and returns it
// with its line items.
func GetOrder(ctx context.Context, db *sql.DB, orderID string) (*models.Order, error) {
	order, err := scanOrder(db.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE order_id = $1`, orderID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}

	order.Items, err = fetchOrderItems(ctx, db, order.ID)
	if err != nil {
		return nil, err
	}

	return order, nil
}

func lockOrder(ctx context.Context, tx *sql.Tx, orderID string) (*models.Order, error) {
	order, err := scanOrder(tx.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE order_id = $1 FOR UPDATE`, orderID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrOrderNotFound
		}
		return nil, fmt.Errorf("lock order: %w", err)
	}
	return order, nil
}

func ListUserOrders(ctx context.Context, db *sql.DB, userID int64, page, limit int) (*Page, error) {
	return listOrders(ctx, db, page, limit,
		`WHERE user_id = $1`, []interface{}{userID})
}

// ListOrders returns all orders, optionally filtered by status.
func ListOrders(ctx context.Context, db *sql.DB, page, limit int, status string) (*Page, error) {
	if status == "" {
		return listOrders(ctx, db, page, limit, "", nil)
	}
	return listOrders(ctx, db, page, limit,
		`WHERE status = $1`, []interface{}{status})
}

func listOrders(ctx context.Context, db *sql.DB, page, limit int, where string, args []interface{}) (*Page, error) {
	page, limit = NormalizePage(page, limit)

	var total int64
	countQuery := `SELECT COUNT(*) FROM orders ` + where
	if err := db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count orders: %w", err)
	}

	query := fmt.Sprintf(`SELECT `+orderColumns+`
		FROM orders %s
		ORDER BY created_at DESC, id DESC
		LIMIT $%d OFFSET $%d`, where, len(args)+1, len(args)+2)
	args = append(args, limit, (page-1)*limit)

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	orders := []models.Order{}
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, *order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return NewPage(orders, total, page, limit), nil
}

// UpdateOrderStatus applies the status state machine. Cancellation restores
// stock for every line item in the same transaction as the status write, and
// only when the order is not already cancelled, so repeated cancellations
// never double-restore.
func UpdateOrderStatus(ctx context.Context, db *sql.DB, orderID, newStatus string) (*models.Order, error) {
	if !models.ValidOrderStatus(newStatus) {
		return nil, database.ErrInvalidStatusTransition
	}

	var order *models.Order

	err := database.WithRetry(ctx, db, database.SerializableTxOptions(), func(tx *sql.Tx) error {
		current, err := lockOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}

		if current.Status == newStatus {
			order = current
			order.Items, err = fetchOrderItems(ctx, tx, current.ID)
			return err
		}

		if !CanTransition(current.Status, newStatus) {
			return fmt.Errorf("%w: %s -> %s", database.ErrInvalidStatusTransition, current.Status, newStatus)
		}

		items, err := fetchOrderItems(ctx, tx, current.ID)
		if err != nil {
			return err
		}

		if newStatus == models.OrderStatusCancelled {
			for _, item := range items {
				if err := restoreStock(ctx, tx, item.ProductID, item.Quantity); err != nil {
					return err
				}
			}
		}

		order, err = scanOrder(tx.QueryRowContext(ctx,
			`UPDATE orders SET status = $1, updated_at = NOW() WHERE id = $2
			 RETURNING `+orderColumns, newStatus, current.ID))
		if err != nil {
			return fmt.Errorf("update order status: %w", err)
		}

		order.Items = items
		return nil
	})

	if err != nil {
		return nil, err
	}

	return order, nil
}

func UpdatePaymentStatus(ctx context.Context, db *sql.DB, orderID, paymentStatus string) (*models.Order, error) {
	if !models.ValidPaymentStatus(paymentStatus) {
		return nil, database.ErrInvalidPaymentStatus
	}

	order, err := scanOrder(db.QueryRowContext(ctx,
		`UPDATE orders SET payment_status = $1, updated_at = NOW() WHERE order_id = $2
		 RETURNING `+orderColumns, paymentStatus, orderID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrOrderNotFound
		}
		return nil, fmt.Errorf("update payment status: %w", err)
	}

	order.Items, err = fetchOrderItems(ctx, db, order.ID)
	if err != nil {
		return nil, err
	}

	return order, nil
}

// DeleteOrder removes an order and its items, restoring stock first unless
// the order was already cancelled (cancellation restored it).
func DeleteOrder(ctx context.Context, db *sql.DB, orderID string) error {
	return database.WithRetry(ctx, db, database.SerializableTxOptions(), func(tx *sql.Tx) error {
		order, err := lockOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}

		if order.Status != models.OrderStatusCancelled {
			items, err := fetchOrderItems(ctx, tx, order.ID)
			if err != nil {
				return err
			}
			for _, item := range items {
				if err := restoreStock(ctx, tx, item.ProductID, item.Quantity); err != nil {
					return err
				}
			}
		}

		// order_items rows go with the order via ON DELETE CASCADE.
		if _, err := tx.ExecContext(ctx, `DELETE FROM orders WHERE id = $1`, order.ID); err != nil {
			return fmt.Errorf("delete order: %w", err)
		}

		return nil
	})
}
