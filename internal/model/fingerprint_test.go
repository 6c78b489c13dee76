package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRequestFingerprint(t *testing.T) {
	invoices := []Invoice{
		{
			ID:           "inv-1",
			SupplierName: "Acme Concrete",
			LineItems: []InvoiceLineItem{
				{ID: "li-1", Description: "Concrete pouring", TotalPrice: 2500, Category: CategoryMaterial},
				{ID: "li-2", Description: "Rebar", TotalPrice: 800, Category: CategoryMaterial},
			},
		},
	}
	estimates := []EstimateLineItem{
		{ID: "est-1", Description: "Concrete for foundation", MaterialCostEst: 2000, LaborCostEst: 800, EquipmentCostEst: 200, TradeID: "trade-1"},
		{ID: "est-2", Description: "Framing lumber", MaterialCostEst: 4000, TradeID: "trade-2"},
	}

	t.Run("identical content hashes identically", func(t *testing.T) {
		a := RequestFingerprint("proj-1", invoices, estimates)
		b := RequestFingerprint("proj-1", invoices, estimates)
		assert.Equal(t, a, b)
		assert.Len(t, a, 64)
	})

	t.Run("ordering does not change the key", func(t *testing.T) {
		reversed := []EstimateLineItem{estimates[1], estimates[0]}
		a := RequestFingerprint("proj-1", invoices, estimates)
		b := RequestFingerprint("proj-1", invoices, reversed)
		assert.Equal(t, a, b)
	})

	t.Run("content change produces a different key", func(t *testing.T) {
		changed := make([]EstimateLineItem, len(estimates))
		copy(changed, estimates)
		changed[0].MaterialCostEst = 2001

		a := RequestFingerprint("proj-1", invoices, estimates)
		b := RequestFingerprint("proj-1", invoices, changed)
		assert.NotEqual(t, a, b)
	})

	t.Run("project change produces a different key", func(t *testing.T) {
		a := RequestFingerprint("proj-1", invoices, estimates)
		b := RequestFingerprint("proj-2", invoices, estimates)
		assert.NotEqual(t, a, b)
	})
}

func TestMatchingPattern_Confidence(t *testing.T) {
	minV := 50.0
	maxV := 150.0

	t.Run("strengthen caps at 1.0", func(t *testing.T) {
		p := MatchingPattern{
			UserID:      "user-1",
			PatternType: PatternSupplierToTrade,
			Keyword:     "acme concrete",
			TradeID:     "trade-1",
			Confidence:  0.95,
		}
		p.Strengthen(0.1)
		assert.Equal(t, 1.0, p.Confidence)
		assert.Equal(t, 1, p.UsageCount)
		assert.Equal(t, 1, p.SuccessCount)
	})

	t.Run("weaken multiplies", func(t *testing.T) {
		p := MatchingPattern{Confidence: 0.8}
		p.Weaken(0.9)
		assert.InDelta(t, 0.72, p.Confidence, 1e-9)
	})

	t.Run("amount range match", func(t *testing.T) {
		p := MatchingPattern{
			PatternType: PatternAmountToTrade,
			AmountMin:   &minV,
			AmountMax:   &maxV,
		}
		assert.True(t, p.MatchesAmount(100))
		assert.True(t, p.MatchesAmount(50))
		assert.False(t, p.MatchesAmount(151))
	})

	t.Run("validate rejects out of range confidence", func(t *testing.T) {
		p := MatchingPattern{
			UserID:      "user-1",
			PatternType: PatternSupplierToTrade,
			Keyword:     "acme",
			TradeID:     "trade-1",
			Confidence:  1.2,
		}
		assert.Error(t, p.Validate())
	})
}

func TestMatchResult_Validate(t *testing.T) {
	estID := "est-1"

	tests := []struct {
		name    string
		result  MatchResult
		wantErr bool
	}{
		{
			name: "valid partial match",
			result: MatchResult{
				InvoiceLineItemID:  "li-1",
				EstimateLineItemID: &estID,
				Confidence:         0.8,
				MatchType:          MatchPartial,
			},
		},
		{
			name:   "valid none result",
			result: NoneResult("li-2", ""),
		},
		{
			name: "missing invoice id",
			result: MatchResult{
				MatchType: MatchNone,
			},
			wantErr: true,
		},
		{
			name: "confidence above one",
			result: MatchResult{
				InvoiceLineItemID: "li-1",
				Confidence:        1.5,
				MatchType:         MatchExact,
			},
			wantErr: true,
		},
		{
			name: "none with estimate reference",
			result: MatchResult{
				InvoiceLineItemID:  "li-1",
				EstimateLineItemID: &estID,
				MatchType:          MatchNone,
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.result.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
