// Package catalog turns per-location inventory rows into sellable items,
// merging in master product data where a row is linked to a product.
package catalog

import (
	"strings"

	"pekseg/backend/internal/domain"
)

// DefaultTaxPercent applies when neither the product nor the inventory row
// carries a tax rate.
const DefaultTaxPercent = 27.0

// Entry is either a LinkedEntry or a StandaloneEntry.
type Entry interface {
	Resolve() domain.Item
	entry()
}

// LinkedEntry is an inventory row whose product exists in the master list.
type LinkedEntry struct {
	Product   domain.Product
	Inventory domain.InventoryItem
}

// StandaloneEntry is a location-specific row, or one whose linked product
// is missing.
type StandaloneEntry struct {
	Inventory domain.InventoryItem
}

func (LinkedEntry) entry()     {}
func (StandaloneEntry) entry() {}

func Classify(inv domain.InventoryItem, products map[string]domain.Product) Entry {
	if inv.ProductID != "" {
		if product, ok := products[inv.ProductID]; ok {
			return LinkedEntry{Product: product, Inventory: inv}
		}
	}
	return StandaloneEntry{Inventory: inv}
}

// Resolve never fails: missing product data falls back to the inventory row.
func Resolve(inv domain.InventoryItem, products map[string]domain.Product) domain.Item {
	return Classify(inv, products).Resolve()
}

func ResolveAll(items []domain.InventoryItem, products map[string]domain.Product) []domain.Item {
	resolved := make([]domain.Item, 0, len(items))
	for _, inv := range items {
		resolved = append(resolved, Resolve(inv, products))
	}
	return resolved
}

// Resolve prefers product descriptors but always sells at the location price.
func (e LinkedEntry) Resolve() domain.Item {
	inv := e.Inventory
	return domain.Item{
		ID:         inv.ID,
		Name:       firstNonEmpty(e.Product.Name, inv.Name),
		Category:   firstNonEmpty(e.Product.Category, inv.Category),
		UnitPrice:  inv.SellingPrice,
		TaxPercent: taxPercent(e.Product.TaxPercent, inv.TaxPercent),
		Barcode:    firstNonEmpty(e.Product.Barcode, inv.Barcode),
		QRCode:     firstNonEmpty(e.Product.QRCode, inv.QRCode),
		Unit:       inv.Unit,
		ProductID:  e.Product.ID,
		Linked:     true,
		Stock:      inv.CurrentStock,
	}
}

func (e StandaloneEntry) Resolve() domain.Item {
	inv := e.Inventory
	return domain.Item{
		ID:         inv.ID,
		Name:       inv.Name,
		Category:   inv.Category,
		UnitPrice:  inv.SellingPrice,
		TaxPercent: taxPercent(nil, inv.TaxPercent),
		Barcode:    inv.Barcode,
		QRCode:     inv.QRCode,
		Unit:       inv.Unit,
		Stock:      inv.CurrentStock,
	}
}

// ProductIDs lists the distinct product ids referenced by the given rows.
func ProductIDs(items []domain.InventoryItem) []string {
	seen := make(map[string]struct{}, len(items))
	ids := make([]string, 0, len(items))
	for _, inv := range items {
		if inv.ProductID == "" {
			continue
		}
		if _, ok := seen[inv.ProductID]; ok {
			continue
		}
		seen[inv.ProductID] = struct{}{}
		ids = append(ids, inv.ProductID)
	}
	return ids
}

func taxPercent(primary *float64, fallback *float64) float64 {
	if primary != nil {
		return *primary
	}
	if fallback != nil {
		return *fallback
	}
	return DefaultTaxPercent
}

func firstNonEmpty(primary string, fallback string) string {
	if strings.TrimSpace(primary) != "" {
		return primary
	}
	return fallback
}
