package finance

import (
	"fmt"
	"math"
	"strings"

	"github.com/DeafMist/proposal-radar/internal/models"
)

// Rule names as they appear in reports and the audit log.
const (
	RuleDisallowedItems = "Disallowed Items Check"
	RuleContingency     = "Contingency Limit"
	RuleEquipment       = "Equipment Cost Limit"
)

const (
	failPenalty = 25
	softPenalty = 5

	softEquipmentPercent   = 35.0
	softTravelPercent      = 20.0
	softContingencyPercent = 3.0

	tipTravelPercent      = 15.0
	tipContingencyPercent = 2.0
	tipEquipmentPercent   = 10.0
	tipLargeProjectTotal  = 1_000_000.0
)

// Category aliases. Every alias is summed into its category.
var (
	travelKeys      = []string{"travel", "domestic_travel", "international_travel"}
	consumableKeys  = []string{"consumables", "materials"}
	personnelKeys   = []string{"personnel", "salary"}
	overheadKeys    = []string{"overhead", "administrative"}
	equipmentKeys   = []string{"equipment"}
	contingencyKeys = []string{"contingency"}
)

// Analyze checks budget against rules. Every check runs independently; the
// budget passes only when all applicable checks pass.
func Analyze(budget models.Budget, rules RuleSet) models.FinancialResult {
	total := budget.TotalCost
	equipment := budget.Cost(equipmentKeys...)
	travel := budget.Cost(travelKeys...)
	consumables := budget.Cost(consumableKeys...)
	personnel := budget.Cost(personnelKeys...)
	contingency := budget.Cost(contingencyKeys...)
	overhead := budget.Cost(overheadKeys...)

	equipmentPct := percentOf(equipment, total)
	travelPct := percentOf(travel, total)
	contingencyPct := percentOf(contingency, total)

	breakdown := models.CostBreakdown{
		TotalBudget: total,
		Equipment:   costLine(equipment, total),
		Travel:      costLine(travel, total),
		Consumables: costLine(consumables, total),
		Personnel:   costLine(personnel, total),
		Contingency: costLine(contingency, total),
		Overhead:    costLine(overhead, total),
	}

	var checks []models.RuleResult
	disallowedCheck, violations := checkDisallowed(budget.Items, rules)
	checks = append(checks, disallowedCheck)
	if c, ok := checkContingency(total, equipment, contingency, rules); ok {
		checks = append(checks, c)
	}
	checks = append(checks, checkEquipment(total, equipmentPct, rules))

	res := models.FinancialResult{
		Checks:        checks,
		CostBreakdown: breakdown,
		Tips:          optimizationTips(total, equipmentPct, travelPct, contingencyPct),
		Passed:        true,
	}

	score := 100
	for _, c := range checks {
		if c.Status == models.RuleFail {
			res.Passed = false
			score -= failPenalty
			res.Summary.RulesFailed++
		} else {
			res.Summary.RulesPassed++
		}
	}
	if equipmentPct > softEquipmentPercent {
		score -= softPenalty
	}
	if travelPct > softTravelPercent {
		score -= softPenalty
	}
	if contingencyPct < softContingencyPercent {
		score -= softPenalty
	}
	if score < 0 {
		score = 0
	}
	res.HealthScore = score
	res.Summary.TotalRules = len(checks)
	res.Summary.DisallowedItems = violations
	return res
}

func checkDisallowed(items []string, rules RuleSet) (models.RuleResult, []string) {
	violations := []string{}
	for _, item := range items {
		if rules.IsDisallowed(rules.Normalize(item)) {
			violations = append(violations, item)
		}
	}
	if len(violations) == 0 {
		return models.RuleResult{
			Rule:           RuleDisallowedItems,
			Status:         models.RulePass,
			Message:        "No disallowed items found.",
			Recommendation: "Budget items comply with funding guidelines.",
		}, violations
	}
	quoted := make([]string, len(violations))
	for i, v := range violations {
		quoted[i] = fmt.Sprintf("'%s'", v)
	}
	list := strings.Join(quoted, ", ")
	return models.RuleResult{
		Rule:           RuleDisallowedItems,
		Status:         models.RuleFail,
		Message:        fmt.Sprintf("Expense %s is explicitly disallowed.", list),
		Recommendation: fmt.Sprintf("Remove %s from budget or find alternative.", list),
	}, violations
}

// checkContingency reports false when the revenue base is not positive and
// the check does not apply.
func checkContingency(total, equipment, contingency float64, rules RuleSet) (models.RuleResult, bool) {
	revenue := total - equipment
	if revenue <= 0 {
		return models.RuleResult{}, false
	}
	limit := rules.Limit(LimitContingencyOfRevenue, DefaultContingencyLimit)
	pct := contingency * 100 / revenue
	if pct > limit {
		excess := (pct - limit) / 100 * revenue
		return models.RuleResult{
			Rule:           RuleContingency,
			Status:         models.RuleFail,
			Message:        fmt.Sprintf("Contingency is %.1f%% of revenue (limit: %s%%)", pct, formatLimit(limit)),
			Recommendation: fmt.Sprintf("Reduce contingency by %s", formatAmount(excess)),
		}, true
	}
	return models.RuleResult{
		Rule:           RuleContingency,
		Status:         models.RulePass,
		Message:        fmt.Sprintf("Contingency is %.1f%% of revenue (within %s%% limit)", pct, formatLimit(limit)),
		Recommendation: "Contingency allocation is appropriate.",
	}, true
}

func checkEquipment(total, equipmentPct float64, rules RuleSet) models.RuleResult {
	limit := rules.Limit(LimitEquipment, DefaultEquipmentLimit)
	if equipmentPct > limit {
		excess := (equipmentPct - limit) / 100 * total
		return models.RuleResult{
			Rule:           RuleEquipment,
			Status:         models.RuleFail,
			Message:        fmt.Sprintf("Equipment is %.1f%% of total (limit: %s%%)", equipmentPct, formatLimit(limit)),
			Recommendation: fmt.Sprintf("Reduce equipment costs by %s or increase total budget.", formatAmount(excess)),
		}
	}
	return models.RuleResult{
		Rule:           RuleEquipment,
		Status:         models.RulePass,
		Message:        fmt.Sprintf("Equipment is %.1f%% of total (within %s%% limit)", equipmentPct, formatLimit(limit)),
		Recommendation: "Equipment allocation is within guidelines.",
	}
}

func optimizationTips(total, equipmentPct, travelPct, contingencyPct float64) []string {
	tips := []string{}
	if travelPct > tipTravelPercent {
		tips = append(tips, "High travel costs detected. Consider virtual meetings or local alternatives.")
	}
	if contingencyPct < tipContingencyPercent {
		tips = append(tips, "Low contingency fund. Consider increasing for unexpected expenses.")
	}
	if equipmentPct < tipEquipmentPercent && total > tipLargeProjectTotal {
		tips = append(tips, "Low equipment allocation for large project. Verify if adequate for deliverables.")
	}
	return tips
}

func percentOf(part, total float64) float64 {
	if total <= 0 {
		return 0
	}
	return part * 100 / total
}

func costLine(amount, total float64) models.CostLine {
	return models.CostLine{Amount: amount, Percentage: math.Round(percentOf(amount, total)*10) / 10}
}

func formatLimit(limit float64) string {
	return fmt.Sprintf("%g", limit)
}

// formatAmount renders a whole amount with thousands separators.
func formatAmount(v float64) string {
	n := int64(v)
	neg := n < 0
	if neg {
		n = -n
	}
	digits := fmt.Sprintf("%d", n)
	var b strings.Builder
	for i, r := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	if neg {
		return "-" + b.String()
	}
	return b.String()
}
