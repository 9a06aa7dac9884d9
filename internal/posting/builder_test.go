package posting

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/meridian-erp/meridian/internal/documents"
)

func ptr(v int64) *int64 { return &v }

func expenseProjection() documents.Projection {
	return documents.Projection{
		EntityType:       documents.EntityExpenseRequest,
		EntityID:         42,
		CompanyID:        1,
		DocumentNumber:   "EXP-2026-0042",
		Status:           "approved",
		DocumentDate:     time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC),
		Currency:         "EGP",
		Amount:           500,
		VendorAccountID:  ptr(2100),
		ExpenseAccountID: ptr(5010),
		BankAccountID:    ptr(1020),
		CostCenterID:     ptr(9),
		CreatedBy:        3,
	}
}

func expenseRule() Rule {
	return Rule{
		ID:       11,
		Name:     "Expense accrual",
		AutoPost: true,
		Active:   true,
		Lines: []RuleLine{
			{Position: 1, Type: LineDebit, AccountSource: AccountExpenseType, AmountSource: AmountFull,
				CostCenterSource: DimEntity, DescriptionTemplate: "Expense {document_number}"},
			{Position: 2, Type: LineCredit, AccountSource: AccountVendor, AmountSource: AmountFull},
		},
	}
}

func TestBuildPreviewFullAmount(t *testing.T) {
	preview, err := BuildPreview(expenseRule(), expenseProjection(), BuilderConfig{})
	require.NoError(t, err)

	require.Len(t, preview.Lines, 2)
	require.Equal(t, int64(5010), preview.Lines[0].AccountID)
	require.Equal(t, LineDebit, preview.Lines[0].Type)
	require.Equal(t, 500.0, preview.Lines[0].Amount)
	require.Equal(t, "Expense EXP-2026-0042", preview.Lines[0].Description)
	require.NotNil(t, preview.Lines[0].CostCenterID)
	require.Equal(t, int64(9), *preview.Lines[0].CostCenterID)

	require.Equal(t, int64(2100), preview.Lines[1].AccountID)
	require.Equal(t, LineCredit, preview.Lines[1].Type)

	require.Equal(t, 500.0, preview.TotalDebit)
	require.Equal(t, 500.0, preview.TotalCredit)
	require.True(t, preview.Balanced())
	require.Equal(t, "Expense accrual EXP-2026-0042", preview.Description)
	require.Empty(t, preview.Diagnostics)
}

func TestBuildPreviewPercentAndFixed(t *testing.T) {
	rule := Rule{
		ID:   12,
		Name: "VAT split",
		Lines: []RuleLine{
			{Position: 1, Type: LineDebit, AccountSource: AccountFixed, AccountID: ptr(5010), AmountSource: AmountPercent, AmountValue: 14},
			{Position: 2, Type: LineDebit, AccountSource: AccountFixed, AccountID: ptr(1400), AmountSource: AmountFixed, AmountValue: 430},
			{Position: 3, Type: LineCredit, AccountSource: AccountBank, AmountSource: AmountEntityField, AmountField: "amount"},
		},
	}
	projection := expenseProjection() // amount 500

	preview, err := BuildPreview(rule, projection, BuilderConfig{})
	require.NoError(t, err)

	require.Equal(t, 70.0, preview.Lines[0].Amount, "14 percent of 500")
	require.Equal(t, 430.0, preview.Lines[1].Amount)
	require.Equal(t, 500.0, preview.Lines[2].Amount)
	require.Equal(t, 500.0, preview.TotalDebit)
	require.Equal(t, 500.0, preview.TotalCredit)
	require.True(t, preview.Balanced())
}

func TestBuildPreviewFallbackAccount(t *testing.T) {
	projection := expenseProjection()
	projection.VendorAccountID = nil
	rule := expenseRule()
	rule.Lines[1].FallbackAccountID = ptr(2999)

	preview, err := BuildPreview(rule, projection, BuilderConfig{})
	require.NoError(t, err)
	require.Equal(t, int64(2999), preview.Lines[1].AccountID)
}

func TestBuildPreviewUnresolvedAccountSkipsLine(t *testing.T) {
	projection := expenseProjection()
	projection.VendorAccountID = nil

	preview, err := BuildPreview(expenseRule(), projection, BuilderConfig{})
	require.NoError(t, err)
	require.Len(t, preview.Lines, 1)
	require.Len(t, preview.Diagnostics, 1)
	require.Contains(t, preview.Diagnostics[0], "line 2 skipped")
	require.False(t, preview.Balanced(), "skipped credit leg leaves the preview unbalanced")
}

func TestBuildPreviewUnresolvedAccountStrict(t *testing.T) {
	projection := expenseProjection()
	projection.VendorAccountID = nil

	_, err := BuildPreview(expenseRule(), projection, BuilderConfig{StrictAccounts: true})
	require.ErrorIs(t, err, ErrUnresolvedAccount)
}

func TestBuildPreviewMissingAmountField(t *testing.T) {
	rule := Rule{
		ID: 13,
		Lines: []RuleLine{
			{Position: 1, Type: LineDebit, AccountSource: AccountFixed, AccountID: ptr(5010), AmountSource: AmountEntityField, AmountField: "does_not_exist"},
		},
	}
	_, err := BuildPreview(rule, expenseProjection(), BuilderConfig{})
	require.Error(t, err)
	require.Contains(t, err.Error(), "does_not_exist")
}

func TestRenderTemplateLeavesUnknownPlaceholders(t *testing.T) {
	fields := map[string]any{"document_number": "INV-7", "amount": 120.5}
	require.Equal(t, "INV-7 for 120.5 {missing}", renderTemplate("{document_number} for {amount} {missing}", fields))
	require.Equal(t, "", renderTemplate("", fields))
}

func TestToLedgerInput(t *testing.T) {
	projection := expenseProjection()
	preview, err := BuildPreview(expenseRule(), projection, BuilderConfig{})
	require.NoError(t, err)

	input := preview.ToLedgerInput(projection, 77)
	require.Equal(t, projection.CompanyID, input.CompanyID)
	require.Equal(t, "expense_request", input.SourceType)
	require.Equal(t, projection.EntityID, input.SourceID)
	require.Equal(t, int64(77), input.CreatedBy)
	require.Len(t, input.Lines, 2)
	require.Equal(t, 500.0, input.Lines[0].Debit)
	require.Equal(t, 0.0, input.Lines[0].Credit)
	require.Equal(t, 500.0, input.Lines[1].Credit)
	require.NoError(t, input.Validate())
}
