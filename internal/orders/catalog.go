package orders

import "github.com/shopspring/decimal"

// DemoCatalog is the product set loaded by `migrate seed` and by the API when it
// runs on the in-memory store.
func DemoCatalog() []Product {
	return []Product{
		{ID: "8a0c6f0e-2b51-4b55-9d6e-4f1f0f2a0001", SKU: "SKU-TSHIRT-BLK", Name: "T-Shirt Black", Price: decimal.RequireFromString("100.00"), Stock: 50},
		{ID: "8a0c6f0e-2b51-4b55-9d6e-4f1f0f2a0002", SKU: "SKU-HOODIE-GRY", Name: "Hoodie Grey", Price: decimal.RequireFromString("250.00"), Stock: 20},
		{ID: "8a0c6f0e-2b51-4b55-9d6e-4f1f0f2a0003", SKU: "SKU-MUG-WHT", Name: "Mug White", Price: decimal.RequireFromString("35.50"), Stock: 5},
	}
}
