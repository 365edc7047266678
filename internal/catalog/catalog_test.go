package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pekseg/backend/internal/domain"
)

func floatPtr(v float64) *float64 { return &v }

func TestLinkedItemPrefersProductDescriptors(t *testing.T) {
	products := map[string]domain.Product{
		"prod-croissant": {ID: "prod-croissant", Name: "Vajas croissant", Category: "pastry", BasePrice: 500, TaxPercent: floatPtr(18), Barcode: "599001"},
	}
	inv := domain.InventoryItem{
		ID: "inv-1", LocationID: "main-bakery", ProductID: "prod-croissant",
		Name: "Croissant (old label)", Category: "misc", CurrentStock: 5,
		Unit: "db", SellingPrice: 450, Barcode: "LOCAL-1", QRCode: "QR-LOCAL",
	}

	entry := Classify(inv, products)
	_, linked := entry.(LinkedEntry)
	require.True(t, linked, "expected LinkedEntry, got %T", entry)

	item := entry.Resolve()
	assert.Equal(t, "Vajas croissant", item.Name)
	assert.Equal(t, "pastry", item.Category)
	assert.Equal(t, int64(450), item.UnitPrice, "price always comes from the inventory row")
	assert.Equal(t, 18.0, item.TaxPercent)
	assert.Equal(t, "599001", item.Barcode)
	assert.Equal(t, "QR-LOCAL", item.QRCode, "missing product qr code falls back to inventory")
	assert.True(t, item.Linked)
	assert.Equal(t, 5, item.Stock)
}

func TestLinkedItemFallsBackToInventoryTax(t *testing.T) {
	products := map[string]domain.Product{"p": {ID: "p", Name: "Kakaós csiga"}}
	inv := domain.InventoryItem{ID: "inv-2", ProductID: "p", Category: "pastry", SellingPrice: 520, TaxPercent: floatPtr(5)}

	item := Resolve(inv, products)
	assert.Equal(t, 5.0, item.TaxPercent)
	assert.Equal(t, "pastry", item.Category)
}

func TestStandaloneItemUsesInventoryFieldsAndDefaultTax(t *testing.T) {
	inv := domain.InventoryItem{
		ID: "inv-lemonade", Name: "Házi limonádé", Category: "drinks",
		SellingPrice: 690, Unit: "pohár", QRCode: "LEMONADE", LocationSpecific: true,
	}

	entry := Classify(inv, nil)
	_, standalone := entry.(StandaloneEntry)
	require.True(t, standalone)

	item := entry.Resolve()
	assert.Equal(t, "Házi limonádé", item.Name)
	assert.Equal(t, int64(690), item.UnitPrice)
	assert.Equal(t, DefaultTaxPercent, item.TaxPercent)
	assert.False(t, item.Linked)
	assert.Empty(t, item.ProductID)
}

func TestMissingLinkedProductResolvesStandalone(t *testing.T) {
	inv := domain.InventoryItem{ID: "inv-3", ProductID: "gone", Name: "Pogácsa", SellingPrice: 380}

	entry := Classify(inv, map[string]domain.Product{})
	_, standalone := entry.(StandaloneEntry)
	require.True(t, standalone)
	assert.Equal(t, "Pogácsa", entry.Resolve().Name)
}

func TestResolveAllKeepsOrderAndProductIDsDedupes(t *testing.T) {
	rows := []domain.InventoryItem{
		{ID: "b", ProductID: "p1", SellingPrice: 1},
		{ID: "a", SellingPrice: 2},
		{ID: "c", ProductID: "p1", SellingPrice: 3},
	}

	items := ResolveAll(rows, map[string]domain.Product{"p1": {ID: "p1", Name: "Kenyér"}})
	require.Len(t, items, 3)
	assert.Equal(t, []string{"b", "a", "c"}, []string{items[0].ID, items[1].ID, items[2].ID})
	assert.Equal(t, []string{"p1"}, ProductIDs(rows))
}
