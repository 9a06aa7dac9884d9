package matching

import (
	"fmt"
	"math"
)

// Match reconciles an invoice against its purchase order and goods
// receipt lines, matched by item id. It is pure: callers load the data,
// Match only computes.
func Match(invoice Invoice, lines []InvoiceLine, poLines []POLine, grLines []GRLine, cfg ToleranceConfig) Result {
	result := Result{
		InvoiceID:        invoice.ID,
		HasPurchaseOrder: invoice.PurchaseOrderID != nil,
		HasGoodsReceipt:  invoice.GoodsReceiptID != nil,
	}

	poByItem := make(map[int64]POLine, len(poLines))
	for _, l := range poLines {
		poByItem[l.ItemID] = l
	}
	grByItem := make(map[int64]GRLine, len(grLines))
	for _, l := range grLines {
		grByItem[l.ItemID] = l
	}

	for _, line := range lines {
		po, hasPO := poByItem[line.ItemID]
		gr, hasGR := grByItem[line.ItemID]

		// The require flags bind regardless of whether a document is
		// linked to the invoice at all.
		if hasGR {
			result.Variances = append(result.Variances, overInvoiceVariance(line, gr, cfg)...)
		} else if cfg.RequireGRMatch {
			result.Variances = append(result.Variances, Variance{
				ItemID:        line.ItemID,
				Type:          VarianceQuantity,
				Severity:      SeverityError,
				InvoiceValue:  line.Quantity,
				ExpectedValue: 0,
				Detail:        "item not found in goods receipt",
			})
		}

		if hasPO {
			result.Variances = append(result.Variances, priceVariance(line, po, cfg)...)
		} else if cfg.RequirePOMatch {
			result.Variances = append(result.Variances, Variance{
				ItemID:        line.ItemID,
				Type:          VariancePrice,
				Severity:      SeverityError,
				InvoiceValue:  line.UnitPrice,
				ExpectedValue: 0,
				Detail:        "item not found in purchase order",
			})
		}

		if hasPO && hasGR && gr.Quantity > po.Quantity && !cfg.AllowOverReceipt {
			result.Variances = append(result.Variances, Variance{
				ItemID:          line.ItemID,
				Type:            VarianceQuantity,
				Severity:        SeverityWarning,
				InvoiceValue:    gr.Quantity,
				ExpectedValue:   po.Quantity,
				VariancePercent: percentOver(gr.Quantity, po.Quantity),
				Detail:          "received quantity exceeds ordered quantity",
			})
		}
	}

	result.Status = aggregateStatus(result)
	result.RequiresApproval = requiresApproval(result.Variances, cfg)
	result.TotalVariance = totalVariance(invoice, poLines, grLines)
	return result
}

// overInvoiceVariance flags invoiced quantity above the received
// quantity; over tolerance is an error, within tolerance but disallowed
// is a warning.
func overInvoiceVariance(line InvoiceLine, gr GRLine, cfg ToleranceConfig) []Variance {
	if line.Quantity <= gr.Quantity {
		return nil
	}
	over := percentOver(line.Quantity, gr.Quantity)
	severity := Severity("")
	switch {
	case over > cfg.QtyTolerancePercent:
		severity = SeverityError
	case !cfg.AllowOverInvoice:
		severity = SeverityWarning
	default:
		return nil
	}
	return []Variance{{
		ItemID:          line.ItemID,
		Type:            VarianceQuantity,
		Severity:        severity,
		InvoiceValue:    line.Quantity,
		ExpectedValue:   gr.Quantity,
		VariancePercent: over,
		Detail:          fmt.Sprintf("invoiced quantity %.2f exceeds received quantity %.2f", line.Quantity, gr.Quantity),
	}}
}

// priceVariance flags unit prices outside the price tolerance; beyond
// twice the tolerance it becomes an error.
func priceVariance(line InvoiceLine, po POLine, cfg ToleranceConfig) []Variance {
	if po.UnitPrice == 0 {
		return nil
	}
	diff := round2(math.Abs(line.UnitPrice-po.UnitPrice) / po.UnitPrice * 100)
	if diff <= cfg.PriceTolerancePercent {
		return nil
	}
	severity := SeverityWarning
	if diff > cfg.PriceTolerancePercent*2 {
		severity = SeverityError
	}
	return []Variance{{
		ItemID:          line.ItemID,
		Type:            VariancePrice,
		Severity:        severity,
		InvoiceValue:    line.UnitPrice,
		ExpectedValue:   po.UnitPrice,
		VariancePercent: diff,
		Detail:          fmt.Sprintf("unit price %.2f differs from order price %.2f", line.UnitPrice, po.UnitPrice),
	}}
}

func aggregateStatus(result Result) MatchStatus {
	if !result.HasPurchaseOrder && !result.HasGoodsReceipt {
		return MatchUnmatched
	}
	hasError := false
	for _, v := range result.Variances {
		if v.Severity == SeverityError {
			hasError = true
			break
		}
	}
	switch {
	case hasError:
		return MatchVariance
	case len(result.Variances) > 0:
		return MatchPartial
	default:
		return MatchFull
	}
}

func requiresApproval(variances []Variance, cfg ToleranceConfig) bool {
	for _, v := range variances {
		if v.Severity == SeverityError {
			return true
		}
		if v.VariancePercent > cfg.PriceTolerancePercent*2 {
			return true
		}
	}
	return false
}

// totalVariance compares the invoice total with the goods receipt
// total, falling back to the purchase order total.
func totalVariance(invoice Invoice, poLines []POLine, grLines []GRLine) float64 {
	var expected float64
	switch {
	case len(grLines) > 0:
		for _, l := range grLines {
			expected += l.Quantity * l.UnitCost
		}
	case len(poLines) > 0:
		for _, l := range poLines {
			expected += l.Quantity * l.UnitPrice
		}
	default:
		return 0
	}
	return round2(math.Abs(invoice.Total - expected))
}

func percentOver(actual, expected float64) float64 {
	if expected == 0 {
		return 0
	}
	return round2((actual - expected) / expected * 100)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
