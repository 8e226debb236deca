package store

import "time"

// Account is the identity-provider side of a user: credentials and
// verification state.
type Account struct {
	UID                   string
	Email                 string
	DisplayName           string
	PasswordHash          string
	EmailVerified         bool
	VerificationToken     string
	VerificationExpiresAt *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// User is the application record. OrganizationID and Role are both nil
// while the user has no membership.
type User struct {
	UID            string    `json:"uid"`
	Email          string    `json:"email"`
	DisplayName    string    `json:"displayName"`
	OrganizationID *int64    `json:"organizationId"`
	Role           *string   `json:"role"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

type Membership struct {
	OrganizationID int64  `json:"organizationId"`
	Role           string `json:"role"`
}

type Organization struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Slug        string    `json:"slug"`
	Description string    `json:"description,omitempty"`
	CreatedBy   string    `json:"createdBy,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

type NewOrganization struct {
	Name        string
	Slug        string
	Description string
}

type InvitationStatus string

const (
	InvitationPending  InvitationStatus = "pending"
	InvitationAccepted InvitationStatus = "accepted"
	InvitationRejected InvitationStatus = "rejected"
)

type Invitation struct {
	ID               int64            `json:"id"`
	OrganizationID   int64            `json:"organizationId"`
	OrganizationName string           `json:"organizationName"`
	InvitedEmail     string           `json:"invitedEmail"`
	InviterEmail     string           `json:"inviterEmail"`
	Role             string           `json:"role"`
	Token            string           `json:"token"`
	Status           InvitationStatus `json:"status"`
	ExpiresAt        time.Time        `json:"expiresAt"`
	CreatedAt        time.Time        `json:"createdAt"`
}

type NewInvitation struct {
	OrganizationID int64
	InvitedEmail   string
	InviterUID     string
	InviterEmail   string
	Role           string
	Token          string
	ExpiresAt      time.Time
}

type JoinRequestStatus string

const (
	JoinRequestPending  JoinRequestStatus = "pending"
	JoinRequestApproved JoinRequestStatus = "approved"
	JoinRequestRejected JoinRequestStatus = "rejected"
)

type JoinRequest struct {
	ID               int64             `json:"id"`
	OrganizationID   int64             `json:"organizationId"`
	OrganizationName string            `json:"organizationName"`
	RequestedBy      string            `json:"requestedBy"`
	Message          string            `json:"message,omitempty"`
	Status           JoinRequestStatus `json:"status"`
	CreatedAt        time.Time         `json:"createdAt"`
	DecidedBy        *string           `json:"decidedBy,omitempty"`
	DecidedAt        *time.Time        `json:"decidedAt,omitempty"`
}

type Client struct {
	ID             int64     `json:"id"`
	OrganizationID int64     `json:"organizationId"`
	Name           string    `json:"name"`
	Email          string    `json:"email"`
	Phone          string    `json:"phone"`
	Address        string    `json:"address"`
	CreatedAt      time.Time `json:"createdAt"`
}

type Product struct {
	ID             int64     `json:"id"`
	OrganizationID int64     `json:"organizationId"`
	Name           string    `json:"name"`
	SKU            string    `json:"sku"`
	PriceCents     int64     `json:"priceCents"`
	Stock          int       `json:"stock"`
	CreatedAt      time.Time `json:"createdAt"`
}

type Courier struct {
	ID             int64     `json:"id"`
	OrganizationID int64     `json:"organizationId"`
	Name           string    `json:"name"`
	Phone          string    `json:"phone"`
	Vehicle        string    `json:"vehicle"`
	Active         bool      `json:"active"`
	CreatedAt      time.Time `json:"createdAt"`
}

type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderConfirmed OrderStatus = "confirmed"
	OrderShipped   OrderStatus = "shipped"
	OrderDelivered OrderStatus = "delivered"
	OrderCancelled OrderStatus = "cancelled"
)

type OrderItem struct {
	ProductID      int64 `json:"productId"`
	Quantity       int   `json:"quantity"`
	UnitPriceCents int64 `json:"unitPriceCents"`
}

type Order struct {
	ID             int64       `json:"id"`
	OrganizationID int64       `json:"organizationId"`
	ClientID       int64       `json:"clientId"`
	CourierID      *int64      `json:"courierId"`
	Status         OrderStatus `json:"status"`
	TotalCents     int64       `json:"totalCents"`
	Notes          string      `json:"notes"`
	CreatedBy      string      `json:"createdBy"`
	Items          []OrderItem `json:"items"`
	CreatedAt      time.Time   `json:"createdAt"`
	UpdatedAt      time.Time   `json:"updatedAt"`
}

type NewOrder struct {
	ClientID  int64
	CourierID *int64
	Notes     string
	CreatedBy string
	Items     []OrderItem
}
