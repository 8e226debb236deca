package app

import (
	"context"
	"strings"

	"orderdesk/api/internal/rbac"
	"orderdesk/api/internal/store"
)

// Tenant catalog. Every call is scoped to the caller's resolved
// organization.

type ClientInput struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Phone   string `json:"phone"`
	Address string `json:"address"`
}

func (s *Service) ListClients(ctx context.Context, m Member, q string) ([]store.Client, error) {
	return s.store.ListClients(ctx, m.Organization.ID, q)
}

func (s *Service) GetClient(ctx context.Context, m Member, id int64) (store.Client, error) {
	return s.store.GetClient(ctx, m.Organization.ID, id)
}

func (s *Service) CreateClient(ctx context.Context, m Member, input ClientInput) (store.Client, error) {
	if err := m.require(rbac.ActionWriteOrders); err != nil {
		return store.Client{}, err
	}
	if strings.TrimSpace(input.Name) == "" {
		return store.Client{}, validationError("name is required")
	}
	return s.store.CreateClient(ctx, store.Client{
		OrganizationID: m.Organization.ID,
		Name:           input.Name,
		Email:          input.Email,
		Phone:          input.Phone,
		Address:        input.Address,
	})
}

type ProductInput struct {
	Name       string `json:"name"`
	SKU        string `json:"sku"`
	PriceCents int64  `json:"priceCents"`
	Stock      int    `json:"stock"`
}

func (s *Service) ListProducts(ctx context.Context, m Member, q string) ([]store.Product, error) {
	return s.store.ListProducts(ctx, m.Organization.ID, q)
}

func (s *Service) GetProduct(ctx context.Context, m Member, id int64) (store.Product, error) {
	return s.store.GetProduct(ctx, m.Organization.ID, id)
}

func (s *Service) CreateProduct(ctx context.Context, m Member, input ProductInput) (store.Product, error) {
	if err := m.require(rbac.ActionManageCatalog); err != nil {
		return store.Product{}, err
	}
	switch {
	case strings.TrimSpace(input.Name) == "":
		return store.Product{}, validationError("name is required")
	case strings.TrimSpace(input.SKU) == "":
		return store.Product{}, validationError("sku is required")
	case input.PriceCents < 0:
		return store.Product{}, validationError("priceCents must not be negative")
	case input.Stock < 0:
		return store.Product{}, validationError("stock must not be negative")
	}
	return s.store.CreateProduct(ctx, store.Product{
		OrganizationID: m.Organization.ID,
		Name:           input.Name,
		SKU:            input.SKU,
		PriceCents:     input.PriceCents,
		Stock:          input.Stock,
	})
}

type CourierInput struct {
	Name    string `json:"name"`
	Phone   string `json:"phone"`
	Vehicle string `json:"vehicle"`
	Active  *bool  `json:"active"`
}

func (s *Service) ListCouriers(ctx context.Context, m Member, activeOnly bool) ([]store.Courier, error) {
	return s.store.ListCouriers(ctx, m.Organization.ID, activeOnly)
}

func (s *Service) GetCourier(ctx context.Context, m Member, id int64) (store.Courier, error) {
	return s.store.GetCourier(ctx, m.Organization.ID, id)
}

func (s *Service) CreateCourier(ctx context.Context, m Member, input CourierInput) (store.Courier, error) {
	if err := m.require(rbac.ActionManageCatalog); err != nil {
		return store.Courier{}, err
	}
	if strings.TrimSpace(input.Name) == "" {
		return store.Courier{}, validationError("name is required")
	}
	active := true
	if input.Active != nil {
		active = *input.Active
	}
	return s.store.CreateCourier(ctx, store.Courier{
		OrganizationID: m.Organization.ID,
		Name:           input.Name,
		Phone:          input.Phone,
		Vehicle:        input.Vehicle,
		Active:         active,
	})
}

type OrderInput struct {
	ClientID  int64             `json:"clientId"`
	CourierID *int64            `json:"courierId"`
	Notes     string            `json:"notes"`
	Items     []store.OrderItem `json:"items"`
}

func (s *Service) ListOrders(ctx context.Context, m Member, status string) ([]store.Order, error) {
	if status != "" && !validOrderStatus(store.OrderStatus(status)) {
		return nil, validationError("unknown order status")
	}
	return s.store.ListOrders(ctx, m.Organization.ID, store.OrderStatus(status))
}

func (s *Service) GetOrder(ctx context.Context, m Member, id int64) (store.Order, error) {
	return s.store.GetOrder(ctx, m.Organization.ID, id)
}

func (s *Service) CreateOrder(ctx context.Context, m Member, input OrderInput) (store.Order, error) {
	if err := m.require(rbac.ActionWriteOrders); err != nil {
		return store.Order{}, err
	}
	if input.ClientID <= 0 {
		return store.Order{}, validationError("clientId is required")
	}
	if len(input.Items) == 0 {
		return store.Order{}, validationError("at least one item is required")
	}
	for _, item := range input.Items {
		if item.ProductID <= 0 || item.Quantity <= 0 {
			return store.Order{}, validationError("every item needs a productId and a positive quantity")
		}
	}
	return s.store.CreateOrder(ctx, m.Organization.ID, store.NewOrder{
		ClientID:  input.ClientID,
		CourierID: input.CourierID,
		Notes:     strings.TrimSpace(input.Notes),
		CreatedBy: m.Identity.UID,
		Items:     input.Items,
	})
}

func (s *Service) UpdateOrderStatus(ctx context.Context, m Member, id int64, status string) (store.Order, error) {
	if err := m.require(rbac.ActionWriteOrders); err != nil {
		return store.Order{}, err
	}
	if !validOrderStatus(store.OrderStatus(status)) {
		return store.Order{}, validationError("unknown order status")
	}
	return s.store.UpdateOrderStatus(ctx, m.Organization.ID, id, store.OrderStatus(status))
}

func validOrderStatus(status store.OrderStatus) bool {
	switch status {
	case store.OrderPending, store.OrderConfirmed, store.OrderShipped, store.OrderDelivered, store.OrderCancelled:
		return true
	}
	return false
}
