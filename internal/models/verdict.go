package models

import "time"

// Outcome tells whether an engine produced its result from the primary
// algorithm or from a fallback path.
type Outcome struct {
	Degraded bool   `json:"degraded"`
	Reason   string `json:"reason,omitempty"`
}

// Degraded builds a fallback outcome with the given reason.
func Degraded(reason string) Outcome {
	return Outcome{Degraded: true, Reason: reason}
}

// NoveltyStatus classifies how close a proposal is to the reference corpus.
type NoveltyStatus string

const (
	NoveltyUnique  NoveltyStatus = "UNIQUE"
	NoveltyCaution NoveltyStatus = "CAUTION"
	NoveltyRedFlag NoveltyStatus = "RED_FLAG"
)

// SimilarProject is one neighbour returned by the novelty engine.
type SimilarProject struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	Similarity int    `json:"similarity"`
}

// NoveltyResult is the novelty engine verdict.
type NoveltyResult struct {
	SimilarityPercentage int              `json:"max_similarity_percentage"`
	NearestDistance      float64          `json:"novelty_score"`
	Status               NoveltyStatus    `json:"novelty_status"`
	Passed               bool             `json:"novelty_passed"`
	Neighbors            []SimilarProject `json:"similar_projects"`
	Outcome              Outcome          `json:"outcome"`
}

// RuleStatus is the verdict of a single financial rule.
type RuleStatus string

const (
	RulePass RuleStatus = "PASS"
	RuleFail RuleStatus = "FAIL"
)

// RuleResult is the outcome of one financial check.
type RuleResult struct {
	Rule           string     `json:"rule"`
	Status         RuleStatus `json:"status"`
	Message        string     `json:"message"`
	Recommendation string     `json:"recommendation"`
}

// CostLine is one category of the cost breakdown.
type CostLine struct {
	Amount     float64 `json:"amount"`
	Percentage float64 `json:"percentage"`
}

// CostBreakdown groups budget amounts after alias summation.
type CostBreakdown struct {
	TotalBudget float64  `json:"total_budget"`
	Equipment   CostLine `json:"equipment"`
	Travel      CostLine `json:"travel"`
	Consumables CostLine `json:"consumables"`
	Personnel   CostLine `json:"personnel"`
	Contingency CostLine `json:"contingency"`
	Overhead    CostLine `json:"overhead"`
}

// ComplianceSummary counts rule outcomes.
type ComplianceSummary struct {
	TotalRules      int      `json:"total_rules_checked"`
	RulesPassed     int      `json:"rules_passed"`
	RulesFailed     int      `json:"rules_failed"`
	DisallowedItems []string `json:"disallowed_items"`
}

// FinancialResult is the financial rule engine verdict.
type FinancialResult struct {
	Checks        []RuleResult      `json:"rules_analysis"`
	CostBreakdown CostBreakdown     `json:"cost_breakdown"`
	HealthScore   int               `json:"financial_health_score"`
	Tips          []string          `json:"optimization_tips"`
	Summary       ComplianceSummary `json:"compliance_summary"`
	Passed        bool              `json:"financial_passed"`
}

// RiskStatus is the predicted approval class.
type RiskStatus string

const (
	RiskApproved RiskStatus = "Approved"
	RiskRejected RiskStatus = "Rejected"
)

// RiskResult is the risk engine verdict.
type RiskResult struct {
	Status            RiskStatus `json:"predicted_status"`
	ConfidencePercent int        `json:"confidence_score"`
	RawProbability    float64    `json:"raw_probability"`
	RiskLevel         string     `json:"risk_level"`
	Passed            bool       `json:"risk_passed"`
	Outcome           Outcome    `json:"outcome"`
}

// Overall verdict labels.
const (
	StatusApproved = "APPROVED"
	StatusRejected = "REJECTED"
)

// CriteriaSummary renders each engine's pass flag as PASS or FAIL.
type CriteriaSummary struct {
	Novelty   RuleStatus `json:"novelty"`
	Financial RuleStatus `json:"financial"`
	Risk      RuleStatus `json:"risk"`
}

// OverallApproval aggregates the three engine signals.
type OverallApproval struct {
	Passed        bool            `json:"overall_passed"`
	Status        string          `json:"overall_status"`
	ApprovalScore int             `json:"approval_score"`
	Criteria      CriteriaSummary `json:"criteria_summary"`
}

// FilePreview is the compact per-file line of a batch summary.
type FilePreview struct {
	Filename          string `json:"filename"`
	FileIndex         int    `json:"file_index"`
	Status            string `json:"status"`
	OverallStatus     string `json:"overall_status"`
	ApprovalScore     int    `json:"approval_score"`
	NoveltySimilarity int    `json:"novelty_similarity"`
	FinancialHealth   int    `json:"financial_health"`
	RiskConfidence    int    `json:"risk_confidence"`
	FileSize          int    `json:"file_size"`
	SectionsFound     int    `json:"sections_found"`
}

// EvaluationVerdict is the full pre-screening report of one proposal.
type EvaluationVerdict struct {
	ID          string              `json:"evaluation_id"`
	Filename    string              `json:"filename"`
	FileIndex   int                 `json:"file_index"`
	EvaluatedAt time.Time           `json:"evaluation_timestamp"`
	Document    *StructuredDocument `json:"document_content,omitempty"`
	Novelty     NoveltyResult       `json:"novelty_analysis"`
	Financial   FinancialResult     `json:"financial_analysis"`
	Risk        RiskResult          `json:"risk_analysis"`
	Overall     OverallApproval     `json:"overall_approval"`
	Preview     FilePreview         `json:"preview"`
}

// Batch entry statuses.
const (
	BatchCompleted = "completed"
	BatchError     = "error"
)

// BatchResult is one file's outcome inside a batch call.
type BatchResult struct {
	Filename     string             `json:"filename"`
	FileIndex    int                `json:"file_index"`
	Status       string             `json:"status"`
	ErrorMessage string             `json:"error_message,omitempty"`
	Verdict      *EvaluationVerdict `json:"evaluation,omitempty"`
}

// BatchSummary tallies the outcomes of a batch call.
type BatchSummary struct {
	TotalFiles     int           `json:"total_files"`
	ApprovedCount  int           `json:"approved_count"`
	RejectedCount  int           `json:"rejected_count"`
	ErrorCount     int           `json:"error_count"`
	ProcessedAt    time.Time     `json:"processing_timestamp"`
	FilesProcessed []FilePreview `json:"files_processed"`
}

// BatchReport is the response of a batch evaluation.
type BatchReport struct {
	Summary BatchSummary  `json:"batch_summary"`
	Results []BatchResult `json:"results"`
}
