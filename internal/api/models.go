package api

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// User mirrors the profile payload returned by auth endpoints.
type User struct {
	ID               string  `json:"id"`
	Email            string  `json:"email"`
	FirstName        *string `json:"first_name,omitempty"`
	LastName         *string `json:"last_name,omitempty"`
	EmailVerified    bool    `json:"email_verified"`
	SubscriptionTier *string `json:"subscription_tier,omitempty"`
	MFAEnabled       bool    `json:"mfa_enabled"`
}

// DeviceCode starts the OAuth device authorization flow.
type DeviceCode struct {
	DeviceCode              string `json:"device_code"`
	UserCode                string `json:"user_code"`
	VerificationURI         string `json:"verification_uri"`
	VerificationURIComplete string `json:"verification_uri_complete"`
	ExpiresIn               int64  `json:"expires_in"`
	Interval                int64  `json:"interval"`
}

// APIKeyInfo describes an issued key without its secret.
type APIKeyInfo struct {
	ID          uuid.UUID  `json:"id"`
	Name        string     `json:"name"`
	Prefix      string     `json:"prefix"`
	Last4       string     `json:"last_4"`
	Permissions []string   `json:"permissions"`
	LastUsedAt  *time.Time `json:"last_used_at,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// CreatedAPIKey is returned once, when a key is issued.
type CreatedAPIKey struct {
	KeyID       uuid.UUID  `json:"key_id"`
	Name        string     `json:"name"`
	APIKey      string     `json:"api_key"`
	Prefix      string     `json:"prefix"`
	Last4       string     `json:"last_4"`
	Permissions []string   `json:"permissions"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// CLISession is a device login known to the server.
type CLISession struct {
	ID         string    `json:"id"`
	DeviceName *string   `json:"device_name,omitempty"`
	Platform   *string   `json:"platform,omitempty"`
	Hostname   *string   `json:"hostname,omitempty"`
	IsCurrent  bool      `json:"is_current"`
	IsActive   bool      `json:"is_active"`
	CreatedAt  time.Time `json:"created_at"`
	LastUsedAt time.Time `json:"last_used_at"`
}

// DocumentCategory is a closed set of document classifications.
type DocumentCategory string

const (
	DocumentLegal     DocumentCategory = "legal"
	DocumentContract  DocumentCategory = "contract"
	DocumentFinancial DocumentCategory = "financial"
	DocumentMedical   DocumentCategory = "medical"
	DocumentPersonal  DocumentCategory = "personal"
	DocumentOther     DocumentCategory = "other"
)

// ParseDocumentCategory validates a user-supplied category.
func ParseDocumentCategory(s string) (DocumentCategory, error) {
	switch c := DocumentCategory(s); c {
	case DocumentLegal, DocumentContract, DocumentFinancial, DocumentMedical, DocumentPersonal, DocumentOther:
		return c, nil
	}
	return "", fmt.Errorf("unknown document category %q", s)
}

// Document mirrors the document payload.
type Document struct {
	ID             uuid.UUID         `json:"id"`
	Filename       string            `json:"filename"`
	Category       *DocumentCategory `json:"category,omitempty"`
	SizeBytes      *int64            `json:"size_bytes,omitempty"`
	MimeType       *string           `json:"mime_type,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
	DownloadURL    *string           `json:"download_url,omitempty"`
	AnalysisStatus *string           `json:"analysis_status,omitempty"`
	AnalysisID     *uuid.UUID        `json:"analysis_id,omitempty"`
	AnalyzedAt     *time.Time        `json:"analyzed_at,omitempty"`
}

// DocumentList is one page of documents.
type DocumentList struct {
	Documents []Document `json:"documents"`
	Total     int64      `json:"total"`
	Limit     int        `json:"limit"`
	Offset    int        `json:"offset"`
}

// UploadTicket is a presigned upload target for a new document.
type UploadTicket struct {
	DocumentID   uuid.UUID              `json:"document_id"`
	UploadURL    string                 `json:"upload_url"`
	UploadFields map[string]interface{} `json:"upload_fields"`
	ExpiresAt    time.Time              `json:"expires_at"`
}

// AnalysisType selects the depth and domain of an analysis.
type AnalysisType string

const (
	AnalysisQuick     AnalysisType = "quick"
	AnalysisDetailed  AnalysisType = "detailed"
	AnalysisLegal     AnalysisType = "legal"
	AnalysisFinancial AnalysisType = "financial"
	AnalysisMedical   AnalysisType = "medical"
)

// ParseAnalysisType validates a user-supplied analysis type.
func ParseAnalysisType(s string) (AnalysisType, error) {
	switch t := AnalysisType(s); t {
	case AnalysisQuick, AnalysisDetailed, AnalysisLegal, AnalysisFinancial, AnalysisMedical:
		return t, nil
	}
	return "", fmt.Errorf("unknown analysis type %q (quick|detailed|legal|financial|medical)", s)
}

// AnalysisStatus is the server-side lifecycle of an analysis.
type AnalysisStatus string

const (
	AnalysisPending    AnalysisStatus = "pending"
	AnalysisProcessing AnalysisStatus = "processing"
	AnalysisCompleted  AnalysisStatus = "completed"
	AnalysisFailed     AnalysisStatus = "failed"
	AnalysisCancelled  AnalysisStatus = "cancelled"
)

// Terminal reports whether no further status changes will happen.
func (s AnalysisStatus) Terminal() bool {
	return s == AnalysisCompleted || s == AnalysisFailed || s == AnalysisCancelled
}

// AnalysisOptions are the optional knobs of StartAnalysis.
type AnalysisOptions struct {
	Priority              *int  `json:"priority,omitempty"`
	ExtractEntities       *bool `json:"extract_entities,omitempty"`
	ExtractDates          *bool `json:"extract_dates,omitempty"`
	ExtractFinancial      *bool `json:"extract_financial,omitempty"`
	PerformRiskAssessment *bool `json:"perform_risk_assessment,omitempty"`
}

// StartedAnalysis is the response of StartAnalysis.
type StartedAnalysis struct {
	AnalysisID              uuid.UUID      `json:"analysis_id"`
	DocumentID              uuid.UUID      `json:"document_id"`
	AnalysisType            AnalysisType   `json:"analysis_type"`
	Status                  AnalysisStatus `json:"status"`
	CreatedAt               time.Time      `json:"created_at"`
	EstimatedCompletionTime *int           `json:"estimated_completion_time,omitempty"`
}

// AnalysisState is a status poll result.
type AnalysisState struct {
	ID           uuid.UUID      `json:"id"`
	DocumentID   uuid.UUID      `json:"document_id"`
	Status       AnalysisStatus `json:"status"`
	Progress     *int           `json:"progress,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	StartedAt    *time.Time     `json:"started_at,omitempty"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty"`
	ErrorMessage *string        `json:"error_message,omitempty"`
}

// RiskAssessment summarizes document risk.
type RiskAssessment struct {
	Level           string   `json:"level"`
	Factors         []string `json:"factors"`
	Recommendations []string `json:"recommendations"`
}

// Entity is an extracted named entity.
type Entity struct {
	EntityType string  `json:"entity_type"`
	Value      string  `json:"value"`
	Confidence float32 `json:"confidence"`
}

// ExtractedDate is a date found in the document with its context.
type ExtractedDate struct {
	Date     string `json:"date"`
	Context  string `json:"context"`
	DateType string `json:"date_type"`
}

// AnalysisResult is the final output of a completed analysis.
type AnalysisResult struct {
	ID               uuid.UUID       `json:"id"`
	DocumentID       uuid.UUID       `json:"document_id"`
	AnalysisType     AnalysisType    `json:"analysis_type"`
	Status           AnalysisStatus  `json:"status"`
	Result           json.RawMessage `json:"result,omitempty"`
	Summary          *string         `json:"summary,omitempty"`
	KeyFindings      []string        `json:"key_findings,omitempty"`
	RiskAssessment   *RiskAssessment `json:"risk_assessment,omitempty"`
	Entities         []Entity        `json:"entities,omitempty"`
	Dates            []ExtractedDate `json:"dates,omitempty"`
	FinancialData    json.RawMessage `json:"financial_data,omitempty"`
	CompletedAt      time.Time       `json:"completed_at"`
	ProcessingTimeMS *int64          `json:"processing_time_ms,omitempty"`
}
