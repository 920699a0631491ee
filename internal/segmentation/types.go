// Package segmentation partitions a donor population into named, queryable
// segments using declarative rules, unsupervised clustering, and behavioral
// pattern matching, and keeps segment membership consistent as the
// population changes.
package segmentation

import (
	"time"

	"github.com/google/uuid"
)

// ==========================================
// OPERATORS
// ==========================================

// Operator represents a rule comparison operator.
type Operator string

const (
	OpEquals       Operator = "equals"
	OpNotEquals    Operator = "not_equals"
	OpGreaterThan  Operator = "greater_than"
	OpLessThan     Operator = "less_than"
	OpGreaterEqual Operator = "greater_equal"
	OpLessEqual    Operator = "less_equal"
	OpContains     Operator = "contains"
	OpNotContains  Operator = "not_contains"
	OpIn           Operator = "in"
	OpNotIn        Operator = "not_in"
	OpBetween      Operator = "between"
	OpIsNull       Operator = "is_null"
	OpIsNotNull    Operator = "is_not_null"
)

// knownOperators is the validation allowlist.
var knownOperators = map[Operator]bool{
	OpEquals: true, OpNotEquals: true,
	OpGreaterThan: true, OpLessThan: true,
	OpGreaterEqual: true, OpLessEqual: true,
	OpContains: true, OpNotContains: true,
	OpIn: true, OpNotIn: true,
	OpBetween: true,
	OpIsNull:  true, OpIsNotNull: true,
}

// LogicalOperator combines rules within a group.
type LogicalOperator string

const (
	LogicAnd LogicalOperator = "AND"
	LogicOr  LogicalOperator = "OR"
)

// Rule is one atomic comparison against a donor field.
type Rule struct {
	Field    string   `json:"field"`
	Operator Operator `json:"operator"`
	Value    any      `json:"value,omitempty"`
}

// RuleGroup is a flat AND/OR combination of rules. An empty Rules list is
// "no constraint" and evaluates true for either operator.
type RuleGroup struct {
	Rules           []Rule          `json:"rules"`
	LogicalOperator LogicalOperator `json:"logical_operator"`
}

// ==========================================
// SEGMENTS
// ==========================================

// SegmentType classifies how a segment derives membership.
type SegmentType string

const (
	SegmentStatic     SegmentType = "static"
	SegmentDynamic    SegmentType = "dynamic"
	SegmentPredictive SegmentType = "predictive"
)

// SegmentStatus is the segment lifecycle state.
type SegmentStatus string

const (
	StatusActive   SegmentStatus = "active"
	StatusPaused   SegmentStatus = "paused"
	StatusArchived SegmentStatus = "archived"
)

// UpdateFrequency is how often a segment wants reconciliation.
type UpdateFrequency string

const (
	UpdateRealtime UpdateFrequency = "realtime"
	UpdateHourly   UpdateFrequency = "hourly"
	UpdateDaily    UpdateFrequency = "daily"
	UpdateWeekly   UpdateFrequency = "weekly"
)

// DuplicateHandling controls what happens when a donor already holds a
// membership at reconciliation time.
type DuplicateHandling string

const (
	DuplicateSkip    DuplicateHandling = "skip"    // keep the original joinedAt/confidence
	DuplicateRefresh DuplicateHandling = "refresh" // refresh confidence in place
)

// SegmentConfig holds per-segment update behavior.
type SegmentConfig struct {
	UpdateFrequency   UpdateFrequency   `json:"update_frequency"`
	AutoUpdate        bool              `json:"auto_update"`
	DuplicateHandling DuplicateHandling `json:"duplicate_handling,omitempty"`
}

// SegmentMetadata carries bookkeeping the engine maintains.
type SegmentMetadata struct {
	Size        int       `json:"size"`
	LastUpdated time.Time `json:"last_updated"`
	Tags        []string  `json:"tags,omitempty"`
	Priority    int       `json:"priority"`
}

// SegmentPerformance holds externally supplied performance stats.
type SegmentPerformance struct {
	ConversionRate   float64 `json:"conversion_rate"`
	EngagementRate   float64 `json:"engagement_rate"`
	RevenuePerMember float64 `json:"revenue_per_member"`
}

// Personalization flags downstream content behavior for the segment.
type Personalization struct {
	DynamicContent       bool `json:"dynamic_content"`
	SendTimeOptimization bool `json:"send_time_optimization"`
}

// Segment is a named, criteria-defined subset of the donor population.
type Segment struct {
	ID          uuid.UUID     `json:"id"`
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	Type        SegmentType   `json:"type"`
	Status      SegmentStatus `json:"status"`

	IncludeCriteria *RuleGroup `json:"include_criteria,omitempty"`
	ExcludeCriteria *RuleGroup `json:"exclude_criteria,omitempty"`

	ClusterID          *uuid.UUID `json:"cluster_id,omitempty"`
	BehavioralPatterns []string   `json:"behavioral_patterns,omitempty"`

	Config          SegmentConfig      `json:"config"`
	Metadata        SegmentMetadata    `json:"metadata"`
	Performance     SegmentPerformance `json:"performance"`
	Personalization Personalization    `json:"personalization"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ==========================================
// MEMBERSHIP
// ==========================================

// MembershipSource records which mechanism qualified the donor.
type MembershipSource string

const (
	SourceRules      MembershipSource = "rules"
	SourceClustering MembershipSource = "ml_clustering"
	SourcePrediction MembershipSource = "prediction"
)

// Membership is the fact that a donor currently qualifies for a segment.
// (DonorID, SegmentID) is unique; memberships are created and removed by
// reconciliation, never edited by callers.
type Membership struct {
	DonorID    string           `json:"donor_id"`
	SegmentID  uuid.UUID        `json:"segment_id"`
	JoinedAt   time.Time        `json:"joined_at"`
	Confidence float64          `json:"confidence"` // [0,1]
	Source     MembershipSource `json:"source"`
}

// ChangeType classifies a membership diff entry.
type ChangeType string

const (
	ChangeAdded   ChangeType = "added"
	ChangeRemoved ChangeType = "removed"
)

// Update is an immutable membership diff record emitted by reconciliation.
type Update struct {
	SegmentID  uuid.UUID  `json:"segment_id"`
	ChangeType ChangeType `json:"change_type"`
	DonorIDs   []string   `json:"donor_ids"`
	Reason     string     `json:"reason"`
	Timestamp  time.Time  `json:"timestamp"`
}

// ==========================================
// ALERTS
// ==========================================

// AlertSeverity grades an alert.
type AlertSeverity string

const (
	SeverityLow    AlertSeverity = "low"
	SeverityMedium AlertSeverity = "medium"
	SeverityHigh   AlertSeverity = "high"
)

// Alert flags a segment condition that may need operator attention.
// Alerts are append-only; consumers drain them via the engine API.
type Alert struct {
	ID             uuid.UUID      `json:"id"`
	SegmentID      uuid.UUID      `json:"segment_id"`
	Type           string         `json:"type"`
	Severity       AlertSeverity  `json:"severity"`
	Message        string         `json:"message"`
	Details        map[string]any `json:"details,omitempty"`
	ActionRequired bool           `json:"action_required"`
	CreatedAt      time.Time      `json:"created_at"`
}
