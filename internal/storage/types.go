package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// BillingMode selects how a session is priced.
type BillingMode string

const (
	// BillingHourly charges a bracket price plus paid extensions.
	BillingHourly BillingMode = "hourly"
	// BillingPerUnit charges per game played.
	BillingPerUnit BillingMode = "per_unit"
)

// Valid reports whether m is a known billing mode.
func (m BillingMode) Valid() bool {
	return m == BillingHourly || m == BillingPerUnit
}

// SessionStatus is the lifecycle state of a session.
type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionCompleted SessionStatus = "completed"
	SessionCancelled SessionStatus = "cancelled"
)

// PricingPlan is staff-maintained reference data for one device class.
type PricingPlan struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	DeviceClass string      `json:"device_class"`
	BillingMode BillingMode `json:"billing_mode"`
	// UnitPrice is the price of one bracket (hourly) or one game (per unit).
	UnitPrice decimal.Decimal `json:"unit_price"`
	// StandardUnitDurationMinutes is the bracket length (hourly) or the
	// expected minutes per game (per unit).
	StandardUnitDurationMinutes int `json:"standard_unit_duration_minutes"`
	// ExtensionMinutes is the length of one paid extension. Zero means the
	// bracket length.
	ExtensionMinutes     int             `json:"extension_minutes"`
	ExtraUnitPrice       decimal.Decimal `json:"extra_unit_price"`
	PointsAwardedPerUnit int             `json:"points_awarded_per_unit"`
	Active               bool            `json:"active"`
	SortOrder            int             `json:"sort_order"`
	UpdatedAt            time.Time       `json:"updated_at"`
}

// ExtensionLength returns the minutes added by one extension.
func (p PricingPlan) ExtensionLength() int {
	if p.ExtensionMinutes > 0 {
		return p.ExtensionMinutes
	}
	return p.StandardUnitDurationMinutes
}

// Console is a rentable station.
type Console struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	DeviceClass   string `json:"device_class"`
	StationNumber int    `json:"station_number"`
	DefaultPlanID string `json:"default_plan_id,omitempty"`
}

// Session is one rental of a console from start to settlement.
type Session struct {
	ID            string        `json:"id"`
	ConsoleID     string        `json:"console_id"`
	PricingPlanID string        `json:"pricing_plan_id"`
	BillingMode   BillingMode   `json:"billing_mode"`
	ClientID      string        `json:"client_id,omitempty"`
	StartTime     time.Time     `json:"start_time"`
	EndTime       time.Time     `json:"end_time"`
	Status        SessionStatus `json:"status"`

	ExtraTimeMinutes int `json:"extra_time_minutes"`
	GamesPlayed      int `json:"games_played"`

	IsFreeUnitApplied bool            `json:"is_free_unit_applied"`
	FreeUnitsGranted  int             `json:"free_units_granted"`
	BaseAmount        decimal.Decimal `json:"base_amount"`
	ExtraAmount       decimal.Decimal `json:"extra_amount"`
	TotalAmount       decimal.Decimal `json:"total_amount"`
	PointsEarned      int             `json:"points_earned"`
	PointsRedeemed    int             `json:"points_redeemed"`
	Notes             string          `json:"notes,omitempty"`
}

// Consumption is a product served at a station during a session. It becomes
// a Sale when the session closes.
type Consumption struct {
	ID            string          `json:"id"`
	SessionID     string          `json:"session_id"`
	ProductID     string          `json:"product_id"`
	ProductName   string          `json:"product_name"`
	Quantity      int             `json:"quantity"`
	UnitPrice     decimal.Decimal `json:"unit_price"`
	PointsPerUnit int             `json:"points_per_unit"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Client is a loyalty customer.
type Client struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	Phone         string          `json:"phone,omitempty"`
	LifetimeUnits int             `json:"lifetime_units"`
	TotalSpent    decimal.Decimal `json:"total_spent"`
	CreatedAt     time.Time       `json:"created_at"`
}

// LedgerEntryType classifies a points movement.
type LedgerEntryType string

const (
	LedgerEarned     LedgerEntryType = "earned"
	LedgerRedeemed   LedgerEntryType = "redeemed"
	LedgerAdjustment LedgerEntryType = "adjustment"
)

// ReferenceType names what caused a ledger entry.
type ReferenceType string

const (
	ReferenceSale    ReferenceType = "sale"
	ReferenceSession ReferenceType = "session"
	ReferenceManual  ReferenceType = "manual"
)

// LedgerEntry is an immutable points balance change.
type LedgerEntry struct {
	ID            string          `json:"id"`
	ClientID      string          `json:"client_id"`
	Type          LedgerEntryType `json:"type"`
	Amount        int             `json:"amount"`
	BalanceAfter  int             `json:"balance_after"`
	ReferenceType ReferenceType   `json:"reference_type"`
	ReferenceID   string          `json:"reference_id,omitempty"`
	Description   string          `json:"description,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// SaleStatus is the state of a product sale.
type SaleStatus string

const (
	SaleCompleted SaleStatus = "completed"
	SaleCancelled SaleStatus = "cancelled"
)

// Sale is a product sale at the counter or from a session.
type Sale struct {
	ID           string          `json:"id"`
	ClientID     string          `json:"client_id,omitempty"`
	SessionID    string          `json:"session_id,omitempty"`
	ProductID    string          `json:"product_id,omitempty"`
	ProductName  string          `json:"product_name"`
	Quantity     int             `json:"quantity"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
	TotalAmount  decimal.Decimal `json:"total_amount"`
	PointsEarned int             `json:"points_earned"`
	Status       SaleStatus      `json:"status"`
	CreatedAt    time.Time       `json:"created_at"`
}

// ServiceStatus is the state of a repair job.
type ServiceStatus string

const (
	ServicePending    ServiceStatus = "pending"
	ServiceInProgress ServiceStatus = "in_progress"
	ServiceCompleted  ServiceStatus = "completed"
	ServiceCancelled  ServiceStatus = "cancelled"
)

// ServiceRequest is a repair job taken in at the shop.
type ServiceRequest struct {
	ID          string          `json:"id"`
	ClientID    string          `json:"client_id,omitempty"`
	DeviceType  string          `json:"device_type"`
	Description string          `json:"description"`
	Status      ServiceStatus   `json:"status"`
	FinalCost   decimal.Decimal `json:"final_cost"`
	CreatedAt   time.Time       `json:"created_at"`
	CompletedAt time.Time       `json:"completed_at"`
}

// ExpenseCategory groups expenses in reports.
type ExpenseCategory string

const (
	ExpenseDaily   ExpenseCategory = "daily"
	ExpenseMonthly ExpenseCategory = "monthly"
	ExpenseYearly  ExpenseCategory = "yearly"
	ExpenseOther   ExpenseCategory = "other"
)

// ExpenseDateLayout is the layout of Expense.Date.
const ExpenseDateLayout = "2006-01-02"

// Expense is an operating cost. Date is a calendar date in the store's
// time zone, not a timestamp.
type Expense struct {
	ID          string          `json:"id"`
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
	Category    ExpenseCategory `json:"category"`
	Date        string          `json:"date"`
}
