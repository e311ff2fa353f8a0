package games

import (
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	"gorm.io/datatypes"
)

// Processing stages written to GameRule.ProcessingProgress.
const (
	StageQueued              = "queued"
	StageStarted             = "started"
	StageDownloadingImages   = "downloading_images"
	StageCreatingImageRecord = "creating_image_records"
	StageAIProcessing        = "ai_processing"
	StageFinalizing          = "finalizing"
	StageCompleted           = "completed"
	StageError               = "error"
)

// RuleProgress is the free-form progress payload clients poll while rules are processed.
type RuleProgress struct {
	Stage       string     `json:"stage"`
	Progress    *int       `json:"progress,omitempty"`
	Total       *int       `json:"total,omitempty"`
	ImagesCount *int       `json:"images_count,omitempty"`
	TotalImages *int       `json:"total_images,omitempty"`
	Model       string     `json:"model,omitempty"`
	Status      string     `json:"status,omitempty"`
	Error       string     `json:"error,omitempty"`
	QueuedAt    *time.Time `json:"queued_at,omitempty"`
	Timestamp   *time.Time `json:"timestamp,omitempty"`
}

// JSON encodes the progress for storage.
func (p RuleProgress) JSON() (datatypes.JSON, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, eris.Wrap(err, "encoding rule progress")
	}
	return datatypes.JSON(raw), nil
}

// DecodeProgress reads a stored progress payload. Empty payloads decode to a zero value.
func DecodeProgress(raw datatypes.JSON) (RuleProgress, error) {
	var progress RuleProgress
	if len(raw) == 0 {
		return progress, nil
	}
	if err := json.Unmarshal(raw, &progress); err != nil {
		return progress, eris.Wrap(err, "decoding rule progress")
	}
	return progress, nil
}

// IntPtr returns a pointer to v.
func IntPtr(v int) *int {
	return &v
}

// RuleRecord is the wire shape of a GameRule row in change notifications.
type RuleRecord struct {
	ID                  string           `json:"id"`
	GameID              string           `json:"game_id"`
	ProcessingStatus    ProcessingStatus `json:"processing_status"`
	ProcessingAttempts  int              `json:"processing_attempts"`
	ProcessingProgress  *RuleProgress    `json:"processing_progress,omitempty"`
	ProcessingRequestID string           `json:"processing_request_id,omitempty"`
	ErrorMessage        *string          `json:"error_message,omitempty"`
	LastAttemptAt       *time.Time       `json:"last_attempt_at,omitempty"`
	ProcessedAt         *time.Time       `json:"processed_at,omitempty"`
	UpdatedAt           time.Time        `json:"updated_at"`
}

// NewRuleRecord flattens rule for publishing. An undecodable progress payload is omitted.
func NewRuleRecord(rule *GameRule) RuleRecord {
	record := RuleRecord{
		ID:                  rule.ID,
		GameID:              rule.GameID,
		ProcessingStatus:    rule.ProcessingStatus,
		ProcessingAttempts:  rule.ProcessingAttempts,
		ProcessingRequestID: rule.ProcessingRequestID,
		ErrorMessage:        rule.ErrorMessage,
		LastAttemptAt:       rule.LastAttemptAt,
		ProcessedAt:         rule.ProcessedAt,
		UpdatedAt:           rule.UpdatedAt,
	}
	if progress, err := DecodeProgress(rule.ProcessingProgress); err == nil && progress.Stage != "" {
		record.ProcessingProgress = &progress
	}
	return record
}
