package domain

import "time"

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type CatalogResponse struct {
	LocationID string `json:"location_id"`
	Items      []Item `json:"items"`
	Cached     bool   `json:"cached"`
}

type CartLineInput struct {
	ItemID   string `json:"item_id"`
	Quantity int    `json:"quantity"`
}

type CartQuoteRequest struct {
	LocationID     string          `json:"location_id"`
	AmountTendered int64           `json:"amount_tendered"`
	Lines          []CartLineInput `json:"lines"`
}

type QuoteLine struct {
	ItemID    string `json:"item_id"`
	Name      string `json:"name"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unit_price"`
	LineTotal int64  `json:"line_total"`
	Stock     int    `json:"stock"`
}

type CartQuote struct {
	LocationID  string      `json:"location_id"`
	Lines       []QuoteLine `json:"lines"`
	Total       int64       `json:"total"`
	TaxIncluded int64       `json:"tax_included"`
	ChangeDue   int64       `json:"change_due"`
}

type CheckoutRequest struct {
	LocationID     string          `json:"location_id"`
	PaymentMethod  string          `json:"payment_method"`
	AmountTendered int64           `json:"amount_tendered"`
	Lines          []CartLineInput `json:"lines"`
}

type CheckoutResponse struct {
	Sale      SaleTransaction `json:"sale"`
	ChangeDue int64           `json:"change_due"`
	Warnings  []Warning       `json:"warnings"`
	State     string          `json:"state"`
}

type ReturnRequest struct {
	LocationID string          `json:"location_id"`
	Reason     string          `json:"reason"`
	ManagerPIN string          `json:"manager_pin"`
	Lines      []CartLineInput `json:"lines"`
	// ApprovedAt is set by the HTTP layer once the manager PIN is accepted.
	ApprovedAt time.Time `json:"-"`
}

type ReturnResponse struct {
	Return   ReturnRecord `json:"return"`
	Warnings []Warning    `json:"warnings"`
	State    string       `json:"state"`
}

type ScanMode string

const (
	ScanModeSale  ScanMode = "sale"
	ScanModeStock ScanMode = "stock"
)

type ScanRequest struct {
	LocationID string   `json:"location_id"`
	Code       ScanCode `json:"code"`
	Mode       ScanMode `json:"mode"`
	Quantity   int      `json:"quantity"`
	RequestID  string   `json:"request_id"`
}

type ScanResponse struct {
	Item      Item               `json:"item"`
	Mode      ScanMode           `json:"mode"`
	Movement  *InventoryMovement `json:"movement,omitempty"`
	Duplicate bool               `json:"duplicate"`
}

type InventoryItemCreateRequest struct {
	LocationID   string   `json:"location_id"`
	ProductID    string   `json:"product_id"`
	Name         string   `json:"name"`
	Category     string   `json:"category"`
	Unit         string   `json:"unit"`
	SellingPrice int64    `json:"selling_price"`
	CostPrice    *int64   `json:"cost_price,omitempty"`
	TaxPercent   *float64 `json:"tax_percent,omitempty"`
	Barcode      string   `json:"barcode"`
	QRCode       string   `json:"qr_code"`
	InitialStock int      `json:"initial_stock"`
}

type SweepReport struct {
	SalesSettled   int       `json:"sales_settled"`
	ReturnsSettled int       `json:"returns_settled"`
	StillPending   int       `json:"still_pending"`
	Warnings       []Warning `json:"warnings"`
	// Locations lists every location whose stock the sweep may have moved.
	Locations []string `json:"locations"`
}

func (r *SweepReport) TouchLocation(locationID string) {
	for _, seen := range r.Locations {
		if seen == locationID {
			return
		}
	}
	r.Locations = append(r.Locations, locationID)
}

type CashierCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type CashierUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}
