package segmentation

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ignite/audience-engine/internal/donor"
)

// Evaluator interprets rule groups against donor records. Evaluation is a
// pure function of (donor snapshot, rule group, clock): no hidden state,
// no randomness. Unresolvable field paths yield null, and every operator
// except is_null/is_not_null evaluates null to false — rules fail closed
// instead of throwing.
type Evaluator struct {
	now func() time.Time
}

// NewEvaluator creates an evaluator on the real clock.
func NewEvaluator() *Evaluator {
	return &Evaluator{now: time.Now}
}

// NewEvaluatorAt creates an evaluator pinned to a clock, for tests.
func NewEvaluatorAt(now func() time.Time) *Evaluator {
	return &Evaluator{now: now}
}

// Qualifies reports whether a donor satisfies a segment's rule criteria:
// include must hold, and exclude (when present) must not.
func (e *Evaluator) Qualifies(d *donor.Donor, include, exclude *RuleGroup) bool {
	if !e.Evaluate(d, include) {
		return false
	}
	if exclude != nil && len(exclude.Rules) > 0 && e.Evaluate(d, exclude) {
		return false
	}
	return true
}

// Evaluate reports whether the donor satisfies the rule group. A nil group
// or empty rules list is "no constraint" and evaluates true regardless of
// the logical operator.
func (e *Evaluator) Evaluate(d *donor.Donor, g *RuleGroup) bool {
	if g == nil || len(g.Rules) == 0 {
		return true
	}

	if g.LogicalOperator == LogicOr {
		for _, r := range g.Rules {
			if e.evaluateRule(d, r) {
				return true
			}
		}
		return false
	}

	for _, r := range g.Rules {
		if !e.evaluateRule(d, r) {
			return false
		}
	}
	return true
}

func (e *Evaluator) evaluateRule(d *donor.Donor, r Rule) bool {
	resolved := e.resolveField(d, r.Field)

	switch r.Operator {
	case OpIsNull:
		return resolved == nil
	case OpIsNotNull:
		return resolved != nil
	}

	if resolved == nil {
		return false
	}

	switch r.Operator {
	case OpEquals:
		return valuesEqual(resolved, r.Value)
	case OpNotEquals:
		return !valuesEqual(resolved, r.Value)
	case OpGreaterThan:
		return compareNumeric(resolved, r.Value, func(a, b float64) bool { return a > b })
	case OpLessThan:
		return compareNumeric(resolved, r.Value, func(a, b float64) bool { return a < b })
	case OpGreaterEqual:
		return compareNumeric(resolved, r.Value, func(a, b float64) bool { return a >= b })
	case OpLessEqual:
		return compareNumeric(resolved, r.Value, func(a, b float64) bool { return a <= b })
	case OpContains:
		return strings.Contains(
			strings.ToLower(stringify(resolved)), strings.ToLower(stringify(r.Value)))
	case OpNotContains:
		return !strings.Contains(
			strings.ToLower(stringify(resolved)), strings.ToLower(stringify(r.Value)))
	case OpIn:
		return valueInSet(resolved, r.Value)
	case OpNotIn:
		return !valueInSet(resolved, r.Value)
	case OpBetween:
		lo, hi, ok := betweenBounds(r.Value)
		if !ok {
			return false
		}
		v, ok := toFloat(resolved)
		if !ok {
			return false
		}
		return v >= lo && v <= hi
	}
	return false
}

// ==========================================
// FIELD RESOLUTION
// ==========================================

// resolveField resolves a donor field: computed fields first, then dotted
// path traversal with bracket-indexed array access (donations[0].amount).
// Any miss returns nil.
func (e *Evaluator) resolveField(d *donor.Donor, field string) any {
	switch field {
	case "total_donated":
		return d.TotalDonated()
	case "donation_count":
		return float64(d.DonationCount())
	case "avg_donation_amount":
		return d.AvgDonationAmount()
	case "days_since_first_donation":
		return d.DaysSinceFirstDonation(e.now())
	case "days_since_last_donation":
		return d.DaysSinceLastDonation(e.now())
	case "engagement_score":
		return d.EngagementScore(e.now())
	}

	parts := strings.Split(field, ".")
	name, idx := parsePathPart(parts[0])
	current := rootValue(d, name)
	current = applyIndex(current, idx)

	for _, part := range parts[1:] {
		if current == nil {
			return nil
		}
		name, idx = parsePathPart(part)
		current = childValue(current, name)
		current = applyIndex(current, idx)
	}
	return current
}

// parsePathPart splits "donations[2]" into ("donations", 2). An index of -1
// means no bracket.
func parsePathPart(part string) (string, int) {
	open := strings.IndexByte(part, '[')
	if open < 0 || !strings.HasSuffix(part, "]") {
		return part, -1
	}
	idx, err := strconv.Atoi(part[open+1 : len(part)-1])
	if err != nil || idx < 0 {
		return part, -1
	}
	return part[:open], idx
}

func rootValue(d *donor.Donor, name string) any {
	switch name {
	case "id":
		return d.ID
	case "email":
		return d.Email
	case "first_name":
		return d.FirstName
	case "last_name":
		return d.LastName
	case "age":
		if d.Age == nil {
			return nil
		}
		return float64(*d.Age)
	case "location":
		return d.Location
	case "tags":
		return d.Tags
	case "created_at":
		return d.CreatedAt
	case "donations":
		return d.Donations
	case "interactions":
		return d.Interactions
	}
	if v, ok := d.CustomFields[name]; ok {
		return v
	}
	return nil
}

func childValue(current any, name string) any {
	switch v := current.(type) {
	case map[string]any:
		return v[name]
	case donor.Donation:
		switch name {
		case "amount":
			return v.Amount
		case "campaign_id":
			return v.CampaignID
		case "channel":
			return v.Channel
		case "donated_at":
			return v.DonatedAt
		}
	case donor.Interaction:
		switch name {
		case "channel":
			return string(v.Channel)
		case "type":
			return v.Type
		case "campaign_id":
			return v.CampaignID
		case "responded":
			return v.Responded
		case "occurred_at":
			return v.OccurredAt
		}
	}
	return nil
}

func applyIndex(current any, idx int) any {
	if idx < 0 {
		return current
	}
	switch v := current.(type) {
	case []donor.Donation:
		if idx < len(v) {
			return v[idx]
		}
	case []donor.Interaction:
		if idx < len(v) {
			return v[idx]
		}
	case []string:
		if idx < len(v) {
			return v[idx]
		}
	case []any:
		if idx < len(v) {
			return v[idx]
		}
	}
	return nil
}

// ==========================================
// VALUE COMPARISON
// ==========================================

func valuesEqual(resolved, ruleValue any) bool {
	if a, ok := toFloat(resolved); ok {
		if b, ok := toFloat(ruleValue); ok {
			return a == b
		}
	}
	return stringify(resolved) == stringify(ruleValue)
}

func compareNumeric(resolved, ruleValue any, cmp func(a, b float64) bool) bool {
	a, ok := toFloat(resolved)
	if !ok {
		return false
	}
	b, ok := toFloat(ruleValue)
	if !ok {
		return false
	}
	return cmp(a, b)
}

func valueInSet(resolved, ruleValue any) bool {
	for _, candidate := range toSlice(ruleValue) {
		if valuesEqual(resolved, candidate) {
			return true
		}
	}
	return false
}

func betweenBounds(ruleValue any) (lo, hi float64, ok bool) {
	set := toSlice(ruleValue)
	if len(set) != 2 {
		return 0, 0, false
	}
	lo, okLo := toFloat(set[0])
	hi, okHi := toFloat(set[1])
	return lo, hi, okLo && okHi
}

func toSlice(v any) []any {
	switch s := v.(type) {
	case []any:
		return s
	case []string:
		out := make([]any, len(s))
		for i, e := range s {
			out[i] = e
		}
		return out
	case []float64:
		out := make([]any, len(s))
		for i, e := range s {
			out[i] = e
		}
		return out
	case []int:
		out := make([]any, len(s))
		for i, e := range s {
			out[i] = e
		}
		return out
	}
	return nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case time.Time:
		return float64(n.Unix()), true
	case string:
		if t, err := time.Parse(time.RFC3339, n); err == nil {
			return float64(t.Unix()), true
		}
		if f, err := strconv.ParseFloat(n, 64); err == nil {
			return f, true
		}
	}
	return 0, false
}

func stringify(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case []string:
		return strings.Join(s, ",")
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(s)
	case time.Time:
		return s.Format(time.RFC3339)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", s)
	}
}

// ==========================================
// VALIDATION
// ==========================================

// ValidateRuleGroup checks a rule group for malformed rules. Violations are
// surfaced to the caller synchronously, never silently corrected.
func ValidateRuleGroup(g *RuleGroup) error {
	if g == nil {
		return nil
	}
	if g.LogicalOperator != "" && g.LogicalOperator != LogicAnd && g.LogicalOperator != LogicOr {
		return fmt.Errorf("unknown logical operator %q", g.LogicalOperator)
	}
	for i, r := range g.Rules {
		if r.Field == "" {
			return fmt.Errorf("rule %d: field is required", i)
		}
		if !knownOperators[r.Operator] {
			return fmt.Errorf("rule %d: unknown operator %q", i, r.Operator)
		}
		switch r.Operator {
		case OpIsNull, OpIsNotNull:
			// no value required
		case OpBetween:
			if _, _, ok := betweenBounds(r.Value); !ok {
				return fmt.Errorf("rule %d: between requires a 2-element numeric array", i)
			}
		case OpIn, OpNotIn:
			if len(toSlice(r.Value)) == 0 {
				return fmt.Errorf("rule %d: %s requires a non-empty array", i, r.Operator)
			}
		default:
			if r.Value == nil {
				return fmt.Errorf("rule %d: operator %s requires a value", i, r.Operator)
			}
		}
	}
	return nil
}
