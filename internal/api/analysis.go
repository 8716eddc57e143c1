package api

import (
	"context"

	"github.com/google/uuid"
)

type startAnalysisRequest struct {
	DocumentID   uuid.UUID    `json:"document_id"`
	AnalysisType AnalysisType `json:"analysis_type"`
	AnalysisOptions
}

// StartAnalysis queues an analysis of a document.
func (c *Client) StartAnalysis(ctx context.Context, documentID uuid.UUID, analysisType AnalysisType, opts AnalysisOptions) (*StartedAnalysis, error) {
	req := startAnalysisRequest{
		DocumentID:      documentID,
		AnalysisType:    analysisType,
		AnalysisOptions: opts,
	}
	var started StartedAnalysis
	if err := c.PostJSON(ctx, "/analysis/start", req, &started); err != nil {
		return nil, err
	}
	return &started, nil
}

// GetAnalysisStatus polls the state of an analysis.
func (c *Client) GetAnalysisStatus(ctx context.Context, id uuid.UUID) (*AnalysisState, error) {
	var state AnalysisState
	if err := c.GetJSON(ctx, "/analysis/"+id.String()+"/status", &state); err != nil {
		return nil, err
	}
	return &state, nil
}

// GetAnalysisResult fetches the output of a completed analysis.
func (c *Client) GetAnalysisResult(ctx context.Context, id uuid.UUID) (*AnalysisResult, error) {
	var result AnalysisResult
	if err := c.GetJSON(ctx, "/analysis/"+id.String()+"/result", &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// CancelAnalysis stops a pending or running analysis.
func (c *Client) CancelAnalysis(ctx context.Context, id uuid.UUID) error {
	return c.DeleteJSON(ctx, "/analysis/"+id.String()+"/cancel", nil, nil)
}
