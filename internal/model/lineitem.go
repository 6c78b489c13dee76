// Package model defines the core domain models used throughout the application.
package model

import "fmt"

// ItemCategory classifies what kind of cost an invoice line item represents.
type ItemCategory string

// Item category constants.
const (
	CategoryMaterial  ItemCategory = "MATERIAL"
	CategoryLabor     ItemCategory = "LABOR"
	CategoryEquipment ItemCategory = "EQUIPMENT"
	CategoryOther     ItemCategory = "OTHER"
)

// Invoice represents a supplier invoice submitted for matching.
type Invoice struct {
	ID            string            `json:"id"`
	SupplierName  string            `json:"supplier_name"`
	InvoiceNumber string            `json:"invoice_number,omitempty"`
	LineItems     []InvoiceLineItem `json:"line_items"`
}

// InvoiceLineItem is a single billed position on a supplier invoice.
// Instances are treated as immutable inputs by the matching engine.
type InvoiceLineItem struct {
	ID          string       `json:"id"`
	InvoiceID   string       `json:"invoice_id"`
	Description string       `json:"description"`
	Quantity    float64      `json:"quantity"`
	UnitPrice   float64      `json:"unit_price"`
	TotalPrice  float64      `json:"total_price"`
	Category    ItemCategory `json:"category"`
}

// Validate checks an invoice line item for the constraints the engine
// depends on.
func (i *InvoiceLineItem) Validate() error {
	if i.ID == "" {
		return fmt.Errorf("invoice line item id is required")
	}
	if i.Quantity < 0 {
		return fmt.Errorf("invoice line item %s has negative quantity", i.ID)
	}
	switch i.Category {
	case CategoryMaterial, CategoryLabor, CategoryEquipment, CategoryOther, "":
	default:
		return fmt.Errorf("invoice line item %s has unknown category %q", i.ID, i.Category)
	}
	return nil
}

// EstimateLineItem is a budgeted unit of work from the project estimate,
// with material/labor/equipment cost components.
type EstimateLineItem struct {
	ID               string  `json:"id"`
	Description      string  `json:"description"`
	Quantity         float64 `json:"quantity"`
	Unit             string  `json:"unit,omitempty"`
	MaterialCostEst  float64 `json:"material_cost_est"`
	LaborCostEst     float64 `json:"labor_cost_est"`
	EquipmentCostEst float64 `json:"equipment_cost_est"`
	TradeID          string  `json:"trade_id"`
	TradeName        string  `json:"trade_name,omitempty"`
}

// TotalCost returns the estimated total cost of the line item. Markup and
// overhead are applied by the caller, not here.
func (e *EstimateLineItem) TotalCost() float64 {
	return e.MaterialCostEst + e.LaborCostEst + e.EquipmentCostEst
}
