package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Catalog rows are always scoped by organization; a row of another tenant is
// reported as ErrNotFound.

func likePattern(q string) string {
	q = strings.TrimSpace(q)
	if q == "" {
		return ""
	}
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + replacer.Replace(q) + "%"
}

// ===== Clients =====

func (s *PostgresStore) ListClients(ctx context.Context, organizationID int64, q string) ([]Client, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, organization_id, name, email, phone, address, created_at
		FROM clients
		WHERE organization_id = $1 AND ($2 = '' OR name ILIKE $2 OR email ILIKE $2)
		ORDER BY name, id
	`, organizationID, likePattern(q))
	if err != nil {
		return nil, fmt.Errorf("list clients: %w", err)
	}
	defer rows.Close()

	clients := make([]Client, 0)
	for rows.Next() {
		var c Client
		if err := rows.Scan(&c.ID, &c.OrganizationID, &c.Name, &c.Email, &c.Phone, &c.Address, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan client: %w", err)
		}
		clients = append(clients, c)
	}
	return clients, rows.Err()
}

func (s *PostgresStore) GetClient(ctx context.Context, organizationID, id int64) (Client, error) {
	var c Client
	err := s.db.QueryRowContext(ctx, `
		SELECT id, organization_id, name, email, phone, address, created_at
		FROM clients WHERE organization_id = $1 AND id = $2
	`, organizationID, id).Scan(&c.ID, &c.OrganizationID, &c.Name, &c.Email, &c.Phone, &c.Address, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Client{}, ErrNotFound
	}
	if err != nil {
		return Client{}, fmt.Errorf("get client: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) CreateClient(ctx context.Context, c Client) (Client, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO clients (organization_id, name, email, phone, address)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`, c.OrganizationID, strings.TrimSpace(c.Name), strings.TrimSpace(c.Email), strings.TrimSpace(c.Phone),
		strings.TrimSpace(c.Address)).Scan(&c.ID, &c.CreatedAt)
	if err != nil {
		return Client{}, fmt.Errorf("insert client: %w", err)
	}
	return c, nil
}

// ===== Products =====

func (s *PostgresStore) ListProducts(ctx context.Context, organizationID int64, q string) ([]Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, organization_id, name, sku, price_cents, stock, created_at
		FROM products
		WHERE organization_id = $1 AND ($2 = '' OR name ILIKE $2 OR sku ILIKE $2)
		ORDER BY name, id
	`, organizationID, likePattern(q))
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	products := make([]Product, 0)
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.ID, &p.OrganizationID, &p.Name, &p.SKU, &p.PriceCents, &p.Stock, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

func (s *PostgresStore) GetProduct(ctx context.Context, organizationID, id int64) (Product, error) {
	var p Product
	err := s.db.QueryRowContext(ctx, `
		SELECT id, organization_id, name, sku, price_cents, stock, created_at
		FROM products WHERE organization_id = $1 AND id = $2
	`, organizationID, id).Scan(&p.ID, &p.OrganizationID, &p.Name, &p.SKU, &p.PriceCents, &p.Stock, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Product{}, ErrNotFound
	}
	if err != nil {
		return Product{}, fmt.Errorf("get product: %w", err)
	}
	return p, nil
}

func (s *PostgresStore) CreateProduct(ctx context.Context, p Product) (Product, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO products (organization_id, name, sku, price_cents, stock)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`, p.OrganizationID, strings.TrimSpace(p.Name), strings.TrimSpace(p.SKU), p.PriceCents, p.Stock).Scan(&p.ID, &p.CreatedAt)
	if isConstraintViolation(err, pgUniqueViolation, "products_sku_key") {
		return Product{}, ErrSKUTaken
	}
	if err != nil {
		return Product{}, fmt.Errorf("insert product: %w", err)
	}
	return p, nil
}

// ===== Couriers =====

func (s *PostgresStore) ListCouriers(ctx context.Context, organizationID int64, activeOnly bool) ([]Courier, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, organization_id, name, phone, vehicle, active, created_at
		FROM couriers
		WHERE organization_id = $1 AND (NOT $2 OR active)
		ORDER BY name, id
	`, organizationID, activeOnly)
	if err != nil {
		return nil, fmt.Errorf("list couriers: %w", err)
	}
	defer rows.Close()

	couriers := make([]Courier, 0)
	for rows.Next() {
		var c Courier
		if err := rows.Scan(&c.ID, &c.OrganizationID, &c.Name, &c.Phone, &c.Vehicle, &c.Active, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan courier: %w", err)
		}
		couriers = append(couriers, c)
	}
	return couriers, rows.Err()
}

func (s *PostgresStore) GetCourier(ctx context.Context, organizationID, id int64) (Courier, error) {
	var c Courier
	err := s.db.QueryRowContext(ctx, `
		SELECT id, organization_id, name, phone, vehicle, active, created_at
		FROM couriers WHERE organization_id = $1 AND id = $2
	`, organizationID, id).Scan(&c.ID, &c.OrganizationID, &c.Name, &c.Phone, &c.Vehicle, &c.Active, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Courier{}, ErrNotFound
	}
	if err != nil {
		return Courier{}, fmt.Errorf("get courier: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) CreateCourier(ctx context.Context, c Courier) (Courier, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO couriers (organization_id, name, phone, vehicle, active)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`, c.OrganizationID, strings.TrimSpace(c.Name), strings.TrimSpace(c.Phone), strings.TrimSpace(c.Vehicle), c.Active).
		Scan(&c.ID, &c.CreatedAt)
	if err != nil {
		return Courier{}, fmt.Errorf("insert courier: %w", err)
	}
	return c, nil
}

// ===== Orders =====

var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderPending:   {OrderConfirmed, OrderCancelled},
	OrderConfirmed: {OrderShipped, OrderCancelled},
	OrderShipped:   {OrderDelivered},
}

// CanTransitionOrder reports whether an order may move from one status to
// another. Delivered and cancelled are terminal.
func CanTransitionOrder(from, to OrderStatus) bool {
	for _, next := range orderTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// MergeOrderItems folds repeated products into one line each, ordered by
// product id.
func MergeOrderItems(items []OrderItem) []OrderItem {
	byProduct := map[int64]int{}
	for _, item := range items {
		byProduct[item.ProductID] += item.Quantity
	}
	merged := make([]OrderItem, 0, len(byProduct))
	for productID, qty := range byProduct {
		merged = append(merged, OrderItem{ProductID: productID, Quantity: qty})
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].ProductID < merged[j].ProductID })
	return merged
}

func (s *PostgresStore) ListOrders(ctx context.Context, organizationID int64, status OrderStatus) ([]Order, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, organization_id, client_id, courier_id, status, total_cents, notes, created_by, created_at, updated_at
		FROM orders
		WHERE organization_id = $1 AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC, id DESC
	`, organizationID, string(status))
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	orders := make([]Order, 0)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

func scanOrder(row interface{ Scan(...any) error }) (Order, error) {
	var (
		o         Order
		courierID sql.NullInt64
	)
	err := row.Scan(&o.ID, &o.OrganizationID, &o.ClientID, &courierID, &o.Status, &o.TotalCents, &o.Notes,
		&o.CreatedBy, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return Order{}, err
	}
	o.CourierID = nullableInt64(courierID)
	return o, nil
}

func (s *PostgresStore) GetOrder(ctx context.Context, organizationID, id int64) (Order, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, organization_id, client_id, courier_id, status, total_cents, notes, created_by, created_at, updated_at
		FROM orders WHERE organization_id = $1 AND id = $2
	`, organizationID, id)
	o, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Order{}, ErrNotFound
	}
	if err != nil {
		return Order{}, fmt.Errorf("get order: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT product_id, quantity, unit_price_cents FROM order_items WHERE order_id = $1 ORDER BY product_id
	`, id)
	if err != nil {
		return Order{}, fmt.Errorf("list order items: %w", err)
	}
	defer rows.Close()
	o.Items = make([]OrderItem, 0)
	for rows.Next() {
		var item OrderItem
		if err := rows.Scan(&item.ProductID, &item.Quantity, &item.UnitPriceCents); err != nil {
			return Order{}, fmt.Errorf("scan order item: %w", err)
		}
		o.Items = append(o.Items, item)
	}
	return o, rows.Err()
}

// CreateOrder prices every line from the product table, reserves stock and
// inserts the order in one transaction.
func (s *PostgresStore) CreateOrder(ctx context.Context, organizationID int64, input NewOrder) (Order, error) {
	items := MergeOrderItems(input.Items)
	var id int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var exists bool
		if err := tx.QueryRowContext(ctx, `
			SELECT EXISTS(SELECT 1 FROM clients WHERE organization_id = $1 AND id = $2)
		`, organizationID, input.ClientID).Scan(&exists); err != nil {
			return fmt.Errorf("check client: %w", err)
		}
		if !exists {
			return ErrNotFound
		}
		if input.CourierID != nil {
			if err := tx.QueryRowContext(ctx, `
				SELECT EXISTS(SELECT 1 FROM couriers WHERE organization_id = $1 AND id = $2 AND active)
			`, organizationID, *input.CourierID).Scan(&exists); err != nil {
				return fmt.Errorf("check courier: %w", err)
			}
			if !exists {
				return ErrNotFound
			}
		}

		var total int64
		for i := range items {
			var stock int
			err := tx.QueryRowContext(ctx, `
				SELECT price_cents, stock FROM products WHERE organization_id = $1 AND id = $2 FOR UPDATE
			`, organizationID, items[i].ProductID).Scan(&items[i].UnitPriceCents, &stock)
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			if err != nil {
				return fmt.Errorf("lock product: %w", err)
			}
			if stock < items[i].Quantity {
				return ErrInsufficientStock
			}
			if _, err := tx.ExecContext(ctx, `UPDATE products SET stock = stock - $1 WHERE id = $2`, items[i].Quantity, items[i].ProductID); err != nil {
				return fmt.Errorf("reserve stock: %w", err)
			}
			total += items[i].UnitPriceCents * int64(items[i].Quantity)
		}

		if err := tx.QueryRowContext(ctx, `
			INSERT INTO orders (organization_id, client_id, courier_id, total_cents, notes, created_by)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING id
		`, organizationID, input.ClientID, input.CourierID, total, strings.TrimSpace(input.Notes), input.CreatedBy).Scan(&id); err != nil {
			return fmt.Errorf("insert order: %w", err)
		}
		for _, item := range items {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO order_items (order_id, product_id, quantity, unit_price_cents) VALUES ($1, $2, $3, $4)
			`, id, item.ProductID, item.Quantity, item.UnitPriceCents); err != nil {
				return fmt.Errorf("insert order item: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return Order{}, err
	}
	return s.GetOrder(ctx, organizationID, id)
}

// UpdateOrderStatus applies a status transition; cancelling returns the
// reserved stock.
func (s *PostgresStore) UpdateOrderStatus(ctx context.Context, organizationID, id int64, status OrderStatus) (Order, error) {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var current OrderStatus
		err := tx.QueryRowContext(ctx, `
			SELECT status FROM orders WHERE organization_id = $1 AND id = $2 FOR UPDATE
		`, organizationID, id).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("lock order: %w", err)
		}
		if !CanTransitionOrder(current, status) {
			return ErrInvalidTransition
		}
		if status == OrderCancelled {
			if _, err := tx.ExecContext(ctx, `
				UPDATE products p SET stock = p.stock + i.quantity
				FROM order_items i WHERE i.order_id = $1 AND i.product_id = p.id
			`, id); err != nil {
				return fmt.Errorf("release stock: %w", err)
			}
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE orders SET status = $1, updated_at = NOW() WHERE id = $2
		`, status, id); err != nil {
			return fmt.Errorf("update order status: %w", err)
		}
		return nil
	})
	if err != nil {
		return Order{}, err
	}
	return s.GetOrder(ctx, organizationID, id)
}
