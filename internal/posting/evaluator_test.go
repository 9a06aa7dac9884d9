package posting

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEvaluateConditionsEmptyAlwaysMatches(t *testing.T) {
	require.True(t, EvaluateConditions(nil, map[string]any{"amount": 10.0}))
	require.True(t, EvaluateConditions([]Condition{}, nil))
}

func TestEvaluateConditionsGroupSemantics(t *testing.T) {
	// Group 1: amount > 1000 AND currency = EGP. Group 2: vendor LIKE %acme%.
	conditions := []Condition{
		{Field: "amount", Operator: OpGt, Value: "1000", Group: 1},
		{Field: "currency", Operator: OpEq, Value: "EGP", Group: 1},
		{Field: "vendor_name", Operator: OpLike, Value: "%acme%", Group: 2},
	}

	require.True(t, EvaluateConditions(conditions, map[string]any{
		"amount": 2500.0, "currency": "EGP", "vendor_name": "Delta Supplies",
	}), "first group satisfied")

	require.True(t, EvaluateConditions(conditions, map[string]any{
		"amount": 100.0, "currency": "USD", "vendor_name": "Acme Trading Co",
	}), "second group satisfied")

	require.False(t, EvaluateConditions(conditions, map[string]any{
		"amount": 2500.0, "currency": "USD", "vendor_name": "Delta Supplies",
	}), "partial first group must not match")
}

func TestEvaluateConditionOperators(t *testing.T) {
	fields := map[string]any{
		"amount":        1500.0,
		"status":        "Approved",
		"document_type": "invoice",
		"vendor_id":     int64(7),
		"expense_id":    nil,
	}

	cases := []struct {
		name string
		cond Condition
		want bool
	}{
		{"eq numeric", Condition{Field: "amount", Operator: OpEq, Value: "1500"}, true},
		{"eq string case-insensitive", Condition{Field: "status", Operator: OpEq, Value: "approved"}, true},
		{"ne", Condition{Field: "status", Operator: OpNe, Value: "rejected"}, true},
		{"gt", Condition{Field: "amount", Operator: OpGt, Value: "1000"}, true},
		{"gt fails", Condition{Field: "amount", Operator: OpGt, Value: "2000"}, false},
		{"lt", Condition{Field: "amount", Operator: OpLt, Value: "2000"}, true},
		{"gte boundary", Condition{Field: "amount", Operator: OpGte, Value: "1500"}, true},
		{"lte boundary", Condition{Field: "amount", Operator: OpLte, Value: "1500"}, true},
		{"in", Condition{Field: "document_type", Operator: OpIn, Values: []string{"invoice", "receipt"}}, true},
		{"in miss", Condition{Field: "document_type", Operator: OpIn, Values: []string{"order"}}, false},
		{"not in", Condition{Field: "document_type", Operator: OpNotIn, Values: []string{"order"}}, true},
		{"in numeric values", Condition{Field: "vendor_id", Operator: OpIn, Values: []string{"5", "7"}}, true},
		{"like prefix", Condition{Field: "status", Operator: OpLike, Value: "app%"}, true},
		{"like contains", Condition{Field: "status", Operator: OpLike, Value: "%rov%"}, true},
		{"like miss", Condition{Field: "status", Operator: OpLike, Value: "%xyz%"}, false},
		{"like no wildcard is equality", Condition{Field: "status", Operator: OpLike, Value: "approve"}, false},
		{"between", Condition{Field: "amount", Operator: OpBetween, Values: []string{"1000", "2000"}}, true},
		{"between outside", Condition{Field: "amount", Operator: OpBetween, Values: []string{"0", "1000"}}, false},
		{"between short values", Condition{Field: "amount", Operator: OpBetween, Values: []string{"1000"}}, false},
		{"is null on nil value", Condition{Field: "expense_id", Operator: OpIsNull}, true},
		{"is null on missing field", Condition{Field: "nope", Operator: OpIsNull}, true},
		{"is null on present field", Condition{Field: "amount", Operator: OpIsNull}, false},
		{"is not null", Condition{Field: "amount", Operator: OpIsNotNull}, true},
		{"is not null on nil", Condition{Field: "expense_id", Operator: OpIsNotNull}, false},
		{"missing field never matches", Condition{Field: "nope", Operator: OpEq, Value: "x"}, false},
		{"unknown operator", Condition{Field: "amount", Operator: Operator("MATCHES")}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := EvaluateConditions([]Condition{tc.cond}, fields)
			require.Equal(t, tc.want, got)
		})
	}
}
