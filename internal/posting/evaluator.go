package posting

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// EvaluateConditions applies a rule's condition groups to a projection
// field map: conditions within a group are AND-ed, groups are OR-ed,
// and a rule with zero conditions always matches.
func EvaluateConditions(conditions []Condition, fields map[string]any) bool {
	if len(conditions) == 0 {
		return true
	}
	groups := make(map[int][]Condition)
	for _, c := range conditions {
		groups[c.Group] = append(groups[c.Group], c)
	}
	groupNums := make([]int, 0, len(groups))
	for g := range groups {
		groupNums = append(groupNums, g)
	}
	sort.Ints(groupNums)
	for _, g := range groupNums {
		if evaluateGroup(groups[g], fields) {
			return true
		}
	}
	return false
}

func evaluateGroup(conditions []Condition, fields map[string]any) bool {
	for _, c := range conditions {
		if !evaluateCondition(c, fields) {
			return false
		}
	}
	return true
}

func evaluateCondition(c Condition, fields map[string]any) bool {
	value, present := fields[c.Field]

	switch c.Operator {
	case OpIsNull:
		return !present || value == nil
	case OpIsNotNull:
		return present && value != nil
	}
	if !present || value == nil {
		return false
	}

	switch c.Operator {
	case OpEq:
		return compareValues(value, c.Value) == 0
	case OpNe:
		return compareValues(value, c.Value) != 0
	case OpGt:
		return compareValues(value, c.Value) > 0
	case OpLt:
		return compareValues(value, c.Value) < 0
	case OpGte:
		return compareValues(value, c.Value) >= 0
	case OpLte:
		return compareValues(value, c.Value) <= 0
	case OpIn:
		return containsValue(c.Values, value)
	case OpNotIn:
		return !containsValue(c.Values, value)
	case OpLike:
		return likeMatch(stringify(value), c.Value)
	case OpBetween:
		if len(c.Values) < 2 {
			return false
		}
		return compareValues(value, c.Values[0]) >= 0 && compareValues(value, c.Values[1]) <= 0
	default:
		return false
	}
}

// compareValues compares numerically when both sides parse as numbers,
// otherwise as case-insensitive strings.
func compareValues(fieldValue any, configured string) int {
	if fieldNum, ok := numeric(fieldValue); ok {
		if confNum, err := strconv.ParseFloat(strings.TrimSpace(configured), 64); err == nil {
			switch {
			case fieldNum < confNum:
				return -1
			case fieldNum > confNum:
				return 1
			default:
				return 0
			}
		}
	}
	return strings.Compare(strings.ToLower(stringify(fieldValue)), strings.ToLower(strings.TrimSpace(configured)))
}

func containsValue(values []string, fieldValue any) bool {
	for _, v := range values {
		if compareValues(fieldValue, v) == 0 {
			return true
		}
	}
	return false
}

// likeMatch implements SQL LIKE with % wildcards only.
func likeMatch(value, pattern string) bool {
	value = strings.ToLower(value)
	pattern = strings.ToLower(pattern)
	if !strings.Contains(pattern, "%") {
		return value == pattern
	}
	parts := strings.Split(pattern, "%")
	if first := parts[0]; first != "" && !strings.HasPrefix(value, first) {
		return false
	}
	if last := parts[len(parts)-1]; last != "" && !strings.HasSuffix(value, last) {
		return false
	}
	idx := 0
	for _, part := range parts {
		if part == "" {
			continue
		}
		found := strings.Index(value[idx:], part)
		if found < 0 {
			return false
		}
		idx += found + len(part)
	}
	return true
}

func numeric(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func stringify(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(s, 10)
	case int:
		return strconv.Itoa(s)
	default:
		return fmt.Sprintf("%v", v)
	}
}
