package posting

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian/internal/documents"
	"github.com/meridian-erp/meridian/internal/ledger"
)

// BuilderConfig controls line construction behaviour.
type BuilderConfig struct {
	// StrictAccounts fails the whole build when a line's account cannot
	// be resolved. When false the line is skipped with a diagnostic.
	StrictAccounts bool
}

// BuildPreview converts a matched rule's line definitions into a
// balanced preview for the source document. Amount arithmetic uses
// exact decimals; amounts cross to float64 only at the preview rows.
func BuildPreview(rule Rule, projection documents.Projection, cfg BuilderConfig) (PreviewData, error) {
	fields := projection.FieldMap()
	preview := PreviewData{
		Version:     PreviewVersion,
		RuleID:      rule.ID,
		RuleName:    rule.Name,
		Currency:    projection.Currency,
		Description: strings.TrimSpace(rule.Name + " " + projection.DocumentNumber),
	}

	totalDebit := decimal.Zero
	totalCredit := decimal.Zero
	for _, line := range rule.Lines {
		accountID, ok := resolveAccount(line, projection, fields)
		if !ok {
			if cfg.StrictAccounts {
				return PreviewData{}, fmt.Errorf("%w: rule %d line %d", ErrUnresolvedAccount, rule.ID, line.Position)
			}
			preview.Diagnostics = append(preview.Diagnostics,
				fmt.Sprintf("line %d skipped: account source %q unresolved", line.Position, line.AccountSource))
			continue
		}
		amount, err := resolveAmount(line, projection, fields)
		if err != nil {
			return PreviewData{}, err
		}
		amount = amount.Round(2)
		pl := PreviewLine{
			Type:         line.Type,
			AccountID:    accountID,
			Amount:       amountFloat(amount),
			CostCenterID: resolveDimension(line.CostCenterSource, line.CostCenterID, projection.CostCenterID),
			ProjectID:    resolveDimension(line.ProjectSource, line.ProjectID, projection.ProjectID),
			ShipmentID:   resolveDimension(line.ShipmentSource, line.ShipmentID, projection.ShipmentID),
			Description:  renderTemplate(line.DescriptionTemplate, fields),
		}
		if line.Type == LineDebit {
			totalDebit = totalDebit.Add(amount)
		} else {
			totalCredit = totalCredit.Add(amount)
		}
		preview.Lines = append(preview.Lines, pl)
	}

	preview.TotalDebit = amountFloat(totalDebit)
	preview.TotalCredit = amountFloat(totalCredit)
	return preview, nil
}

// Balanced reports whether the preview's debits equal its credits
// within the ledger tolerance.
func (p PreviewData) Balanced() bool {
	diff := decimal.NewFromFloat(p.TotalDebit).Sub(decimal.NewFromFloat(p.TotalCredit)).Abs()
	tolerance := decimal.NewFromFloat(ledger.BalanceEpsilon)
	return diff.LessThanOrEqual(tolerance)
}

// ToLedgerInput converts the preview into a ledger posting request.
func (p PreviewData) ToLedgerInput(projection documents.Projection, createdBy int64) ledger.PostingInput {
	lines := make([]ledger.LineInput, 0, len(p.Lines))
	for _, l := range p.Lines {
		line := ledger.LineInput{
			AccountID:    l.AccountID,
			CostCenterID: l.CostCenterID,
			ProjectID:    l.ProjectID,
			ShipmentID:   l.ShipmentID,
			Description:  l.Description,
		}
		if l.Type == LineDebit {
			line.Debit = l.Amount
		} else {
			line.Credit = l.Amount
		}
		lines = append(lines, line)
	}
	return ledger.PostingInput{
		CompanyID:   projection.CompanyID,
		Date:        projection.DocumentDate,
		Currency:    p.Currency,
		Description: p.Description,
		SourceType:  string(projection.EntityType),
		SourceID:    projection.EntityID,
		CreatedBy:   createdBy,
		Lines:       lines,
	}
}

func resolveAccount(line RuleLine, projection documents.Projection, fields map[string]any) (int64, bool) {
	var resolved *int64
	switch line.AccountSource {
	case AccountFixed:
		resolved = line.AccountID
	case AccountExpenseType:
		resolved = projection.ExpenseAccountID
	case AccountVendor:
		resolved = projection.VendorAccountID
	case AccountBank:
		resolved = projection.BankAccountID
	case AccountEntityField:
		if v, ok := fields[line.AccountField]; ok && v != nil {
			if n, ok := numeric(v); ok && n > 0 {
				id := int64(n)
				resolved = &id
			}
		}
	}
	if resolved == nil || *resolved == 0 {
		resolved = line.FallbackAccountID
	}
	if resolved == nil || *resolved == 0 {
		return 0, false
	}
	return *resolved, true
}

func resolveAmount(line RuleLine, projection documents.Projection, fields map[string]any) (decimal.Decimal, error) {
	switch line.AmountSource {
	case AmountFull:
		return decimal.NewFromFloat(projection.Amount), nil
	case AmountPercent:
		base := decimal.NewFromFloat(projection.Amount)
		pct := decimal.NewFromFloat(line.AmountValue)
		return base.Mul(pct).Div(decimal.NewFromInt(100)), nil
	case AmountFixed:
		return decimal.NewFromFloat(line.AmountValue), nil
	case AmountEntityField:
		v, ok := fields[line.AmountField]
		if !ok || v == nil {
			return decimal.Zero, fmt.Errorf("posting: amount field %q missing on projection", line.AmountField)
		}
		n, ok := numeric(v)
		if !ok {
			return decimal.Zero, fmt.Errorf("posting: amount field %q is not numeric", line.AmountField)
		}
		return decimal.NewFromFloat(n), nil
	default:
		return decimal.Zero, fmt.Errorf("posting: unknown amount source %q", line.AmountSource)
	}
}

func resolveDimension(source DimensionSource, fixed *int64, entity *int64) *int64 {
	switch source {
	case DimFixed:
		return fixed
	case DimEntity:
		return entity
	default:
		return nil
	}
}

// renderTemplate substitutes {field} placeholders from the projection
// field map. Unknown placeholders are left intact so misconfigured
// templates stay visible.
func renderTemplate(template string, fields map[string]any) string {
	if template == "" {
		return ""
	}
	out := template
	for name, value := range fields {
		placeholder := "{" + name + "}"
		if !strings.Contains(out, placeholder) {
			continue
		}
		out = strings.ReplaceAll(out, placeholder, stringify(value))
	}
	return out
}

func amountFloat(d decimal.Decimal) float64 {
	f, _ := d.Round(2).Float64()
	return f
}
