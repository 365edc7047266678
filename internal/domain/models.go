package domain

import "time"

// Product is a master catalog entry shared by every location.
type Product struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Category   string   `json:"category"`
	BasePrice  int64    `json:"base_price"`
	TaxPercent *float64 `json:"tax_percent,omitempty"`
	Barcode    string   `json:"barcode,omitempty"`
	QRCode     string   `json:"qr_code,omitempty"`
}

// InventoryItem is the per-location stock row. CurrentStock only changes
// through inventory movements.
type InventoryItem struct {
	ID               string    `json:"id"`
	LocationID       string    `json:"location_id"`
	ProductID        string    `json:"product_id,omitempty"`
	Name             string    `json:"name"`
	Category         string    `json:"category"`
	CurrentStock     int       `json:"current_stock"`
	Unit             string    `json:"unit"`
	SellingPrice     int64     `json:"selling_price"`
	CostPrice        *int64    `json:"cost_price,omitempty"`
	TaxPercent       *float64  `json:"tax_percent,omitempty"`
	Barcode          string    `json:"barcode,omitempty"`
	QRCode           string    `json:"qr_code,omitempty"`
	LocationSpecific bool      `json:"location_specific"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Item is the sellable projection of an inventory row. Stock is the
// location stock observed when the item was resolved.
type Item struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	Category   string  `json:"category"`
	UnitPrice  int64   `json:"unit_price"`
	TaxPercent float64 `json:"tax_percent"`
	Barcode    string  `json:"barcode,omitempty"`
	QRCode     string  `json:"qr_code,omitempty"`
	Unit       string  `json:"unit"`
	ProductID  string  `json:"product_id,omitempty"`
	Linked     bool    `json:"linked"`
	Stock      int     `json:"stock"`
}

type MovementType string

const (
	MovementAddition  MovementType = "addition"
	MovementReduction MovementType = "reduction"
)

type InventoryMovement struct {
	ID              string       `json:"id"`
	InventoryItemID string       `json:"inventory_item_id"`
	LocationID      string       `json:"location_id"`
	Type            MovementType `json:"type"`
	Quantity        int          `json:"quantity"`
	Reason          string       `json:"reason"`
	ReferenceID     string       `json:"reference_id,omitempty"`
	ActorID         string       `json:"actor_id"`
	IdempotencyKey  string       `json:"idempotency_key,omitempty"`
	StockBefore     int          `json:"stock_before"`
	StockAfter      int          `json:"stock_after"`
	CreatedAt       time.Time    `json:"created_at"`
}

type MovementFilter struct {
	LocationID  string
	ItemID      string
	ReferenceID string
	Limit       int
}

// RecordStatus tracks a sale or return header through the settle saga.
type RecordStatus string

const (
	StatusPending RecordStatus = "pending"
	StatusSettled RecordStatus = "settled"
)

type SaleLine struct {
	ItemID     string  `json:"item_id"`
	Name       string  `json:"name"`
	Quantity   int     `json:"quantity"`
	UnitPrice  int64   `json:"unit_price"`
	TaxPercent float64 `json:"tax_percent"`
	LineTotal  int64   `json:"line_total"`
}

type SaleTransaction struct {
	ID             string       `json:"id"`
	Number         string       `json:"transaction_number"`
	LocationID     string       `json:"location_id"`
	CashierID      string       `json:"cashier_id"`
	PaymentMethod  string       `json:"payment_method"`
	Lines          []SaleLine   `json:"lines"`
	TotalAmount    int64        `json:"total_amount"`
	AmountTendered int64        `json:"amount_tendered"`
	ChangeDue      int64        `json:"change_due"`
	TaxIncluded    int64        `json:"tax_included"`
	Status         RecordStatus `json:"status"`
	CreatedAt      time.Time    `json:"created_at"`
	SettledAt      *time.Time   `json:"settled_at,omitempty"`
}

type ReturnLine struct {
	ItemID    string `json:"item_id"`
	Name      string `json:"name"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unit_price"`
	LineTotal int64  `json:"line_total"`
}

type ReturnRecord struct {
	ID          string       `json:"id"`
	Number      string       `json:"return_number"`
	LocationID  string       `json:"location_id"`
	ProcessedBy string       `json:"processed_by"`
	Reason      string       `json:"reason"`
	Lines       []ReturnLine `json:"lines"`
	TotalAmount int64        `json:"total_amount"`
	Status      RecordStatus `json:"status"`
	CreatedAt   time.Time    `json:"created_at"`
	SettledAt   *time.Time   `json:"settled_at,omitempty"`
}

type WarningKind string

const (
	WarningPartialReduction WarningKind = "partial_reduction"
	WarningMovementFailed   WarningKind = "movement_failed"
	WarningSettleFailed     WarningKind = "settle_failed"
)

// Warning reports a non-fatal problem with a single line of a committed
// sale or return.
type Warning struct {
	Kind      WarningKind `json:"kind"`
	ItemID    string      `json:"item_id,omitempty"`
	Name      string      `json:"name,omitempty"`
	Requested int         `json:"requested,omitempty"`
	Applied   int         `json:"applied,omitempty"`
	Message   string      `json:"message"`
}

type Reconciliation struct {
	ItemID     string `json:"item_id"`
	LocationID string `json:"location_id"`
	Name       string `json:"name"`
	Recorded   int    `json:"recorded_stock"`
	Replayed   int    `json:"replayed_stock"`
	Movements  int    `json:"movements"`
	Consistent bool   `json:"consistent"`
}

type ScanType string

const (
	ScanBarcode ScanType = "barcode"
	ScanQRCode  ScanType = "qrcode"
	ScanManual  ScanType = "manual"
)

// ScanCode is a decoded payload handed over by the scanner front end.
type ScanCode struct {
	Value string   `json:"value"`
	Type  ScanType `json:"type"`
}

const (
	RoleAdmin   = "admin"
	RoleCashier = "cashier"
)

type Actor struct {
	Username string
	Role     string
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

type AuditLog struct {
	ID            string    `json:"id"`
	LocationID    string    `json:"location_id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}
