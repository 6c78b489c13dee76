package model

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sort"
)

// RequestFingerprint derives a stable digest from the exact content of a
// matching request. Two requests with the same project, invoices, and
// estimate set hash to the same key regardless of input ordering; any content
// difference produces a different key.
func RequestFingerprint(projectID string, invoices []Invoice, estimates []EstimateLineItem) string {
	inv := make([]Invoice, len(invoices))
	copy(inv, invoices)
	sort.Slice(inv, func(i, j int) bool { return inv[i].ID < inv[j].ID })
	for k := range inv {
		items := make([]InvoiceLineItem, len(inv[k].LineItems))
		copy(items, inv[k].LineItems)
		sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
		inv[k].LineItems = items
	}

	est := make([]EstimateLineItem, len(estimates))
	copy(est, estimates)
	sort.Slice(est, func(i, j int) bool { return est[i].ID < est[j].ID })

	payload := struct {
		ProjectID string             `json:"project_id"`
		Invoices  []Invoice          `json:"invoices"`
		Estimates []EstimateLineItem `json:"estimates"`
	}{projectID, inv, est}

	data, err := json.Marshal(payload)
	if err != nil {
		// Marshaling plain value types cannot fail; fall back to a key that
		// never collides with real fingerprints.
		return fmt.Sprintf("unhashable:%s:%d:%d", projectID, len(invoices), len(estimates))
	}
	return fmt.Sprintf("%x", sha256.Sum256(data))
}
