// Package progress streams server-side progress for uploads, analyses and
// batches over a websocket, with reconnection, resubscription and a per-entity
// event log.
package progress

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// ChannelType routes subscriptions on the server.
type ChannelType string

const (
	ChannelUpload   ChannelType = "upload"
	ChannelAnalysis ChannelType = "analysis"
	ChannelBatch    ChannelType = "batch"
	ChannelUser     ChannelType = "user"
)

// ParseChannelType validates a channel name.
func ParseChannelType(s string) (ChannelType, error) {
	switch c := ChannelType(s); c {
	case ChannelUpload, ChannelAnalysis, ChannelBatch, ChannelUser:
		return c, nil
	}
	return "", fmt.Errorf("unknown channel type %q", s)
}

// Subscription identifies one (channel, entity) pair.
type Subscription struct {
	Channel ChannelType
	ID      uuid.UUID
}

func (s Subscription) String() string {
	return string(s.Channel) + ":" + s.ID.String()
}

// AnalysisStage is the server-side pipeline step of an analysis.
type AnalysisStage string

const (
	StageQueued               AnalysisStage = "queued"
	StageStarting             AnalysisStage = "starting"
	StageExtractingText       AnalysisStage = "extracting_text"
	StageChunkingText         AnalysisStage = "chunking_text"
	StageGeneratingEmbeddings AnalysisStage = "generating_embeddings"
	StageAnalyzingContent     AnalysisStage = "analyzing_content"
	StageFinalizing           AnalysisStage = "finalizing"
	StageCompleted            AnalysisStage = "completed"
)

var stageNames = map[AnalysisStage]string{
	StageQueued:               "Queued",
	StageStarting:             "Starting",
	StageExtractingText:       "Extracting Text",
	StageChunkingText:         "Chunking Text",
	StageGeneratingEmbeddings: "Generating Embeddings",
	StageAnalyzingContent:     "Analyzing Content",
	StageFinalizing:           "Finalizing",
	StageCompleted:            "Completed",
}

// DisplayName returns the human label for the stage.
func (s AnalysisStage) DisplayName() string {
	if name, ok := stageNames[s]; ok {
		return name
	}
	return string(s)
}

// IsTerminal reports whether the stage is the last one.
func (s AnalysisStage) IsTerminal() bool {
	return s == StageCompleted
}

func (s *AnalysisStage) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if _, ok := stageNames[AnalysisStage(raw)]; !ok {
		return fmt.Errorf("unknown analysis stage %q", raw)
	}
	*s = AnalysisStage(raw)
	return nil
}

// UploadProgress reports bytes received for a document.
type UploadProgress struct {
	DocumentID    uuid.UUID `json:"document_id"`
	FileName      string    `json:"file_name"`
	BytesUploaded uint64    `json:"bytes_uploaded"`
	TotalBytes    uint64    `json:"total_bytes"`
	Progress      uint8     `json:"progress"`
	Message       string    `json:"message"`
}

// AnalysisProgress reports the stage of an analysis.
type AnalysisProgress struct {
	AnalysisID uuid.UUID       `json:"analysis_id"`
	DocumentID uuid.UUID       `json:"document_id"`
	Stage      AnalysisStage   `json:"stage"`
	Progress   uint8           `json:"progress"`
	Message    string          `json:"message"`
	Details    json.RawMessage `json:"details,omitempty"`
}

// FileStatus is the state of one file inside a batch.
type FileStatus string

const (
	FilePending    FileStatus = "pending"
	FileUploading  FileStatus = "uploading"
	FileProcessing FileStatus = "processing"
	FileCompleted  FileStatus = "completed"
	FileFailed     FileStatus = "failed"
)

// FileProgress is the per-file part of a batch update.
type FileProgress struct {
	DocumentID uuid.UUID  `json:"document_id"`
	FileName   string     `json:"file_name"`
	Status     FileStatus `json:"status"`
	Progress   uint8      `json:"progress"`
	Message    string     `json:"message"`
}

// BatchProgress reports aggregate progress of a batch job.
type BatchProgress struct {
	BatchID         uuid.UUID                  `json:"batch_id"`
	TotalFiles      int                        `json:"total_files"`
	CompletedFiles  int                        `json:"completed_files"`
	CurrentFile     *string                    `json:"current_file,omitempty"`
	OverallProgress uint8                      `json:"overall_progress"`
	FileProgress    map[uuid.UUID]FileProgress `json:"file_progress"`
	Message         string                     `json:"message,omitempty"`
}

// ErrorType classifies a server-reported failure.
type ErrorType string

const (
	ErrorUpload   ErrorType = "upload"
	ErrorAnalysis ErrorType = "analysis"
	ErrorSystem   ErrorType = "system"
	ErrorNetwork  ErrorType = "network"
)

// ErrorEvent ends tracking of an entity with a failure.
type ErrorEvent struct {
	ID        uuid.UUID       `json:"id"`
	ErrorType ErrorType       `json:"error_type"`
	Message   string          `json:"message"`
	Details   json.RawMessage `json:"details,omitempty"`
}

// CompleteType says which kind of work finished.
type CompleteType string

const (
	CompleteUpload   CompleteType = "upload"
	CompleteAnalysis CompleteType = "analysis"
	CompleteBatch    CompleteType = "batch"
)

// CompleteEvent ends tracking of an entity successfully.
type CompleteEvent struct {
	ID        uuid.UUID       `json:"id"`
	EventType CompleteType    `json:"event_type"`
	Message   string          `json:"message"`
	Result    json.RawMessage `json:"result,omitempty"`
}

// EventKind discriminates Event.
type EventKind string

const (
	KindUpload   EventKind = "upload"
	KindAnalysis EventKind = "analysis"
	KindBatch    EventKind = "batch"
	KindError    EventKind = "error"
	KindComplete EventKind = "complete"
)

// Event is a progress notification. Exactly the payload matching Kind is set.
// On the wire it is a JSON object tagged by a "type" field.
type Event struct {
	Kind     EventKind
	Upload   *UploadProgress
	Analysis *AnalysisProgress
	Batch    *BatchProgress
	Error    *ErrorEvent
	Complete *CompleteEvent
}

func NewUploadEvent(p UploadProgress) Event     { return Event{Kind: KindUpload, Upload: &p} }
func NewAnalysisEvent(p AnalysisProgress) Event { return Event{Kind: KindAnalysis, Analysis: &p} }
func NewBatchEvent(p BatchProgress) Event       { return Event{Kind: KindBatch, Batch: &p} }
func NewErrorEvent(p ErrorEvent) Event          { return Event{Kind: KindError, Error: &p} }
func NewCompleteEvent(p CompleteEvent) Event    { return Event{Kind: KindComplete, Complete: &p} }

// EntityID returns the id the event correlates with.
func (e Event) EntityID() uuid.UUID {
	switch {
	case e.Upload != nil:
		return e.Upload.DocumentID
	case e.Analysis != nil:
		return e.Analysis.AnalysisID
	case e.Batch != nil:
		return e.Batch.BatchID
	case e.Error != nil:
		return e.Error.ID
	case e.Complete != nil:
		return e.Complete.ID
	}
	return uuid.Nil
}

// Message returns the human-readable text of the event.
func (e Event) Message() string {
	switch {
	case e.Upload != nil:
		return e.Upload.Message
	case e.Analysis != nil:
		return e.Analysis.Message
	case e.Batch != nil:
		return e.Batch.Message
	case e.Error != nil:
		return e.Error.Message
	case e.Complete != nil:
		return e.Complete.Message
	}
	return ""
}

// Percent returns the progress percentage carried by the event, if any.
func (e Event) Percent() (int, bool) {
	switch {
	case e.Upload != nil:
		return int(e.Upload.Progress), true
	case e.Analysis != nil:
		return int(e.Analysis.Progress), true
	case e.Batch != nil:
		return int(e.Batch.OverallProgress), true
	case e.Complete != nil:
		return 100, true
	}
	return 0, false
}

// IsTerminal reports whether no further events are expected for the entity.
func (e Event) IsTerminal() bool {
	return e.Kind == KindError || e.Kind == KindComplete
}

func (e Event) payload() (interface{}, error) {
	var p interface{}
	switch e.Kind {
	case KindUpload:
		p = e.Upload
	case KindAnalysis:
		p = e.Analysis
	case KindBatch:
		p = e.Batch
	case KindError:
		p = e.Error
	case KindComplete:
		p = e.Complete
	default:
		return nil, fmt.Errorf("unknown event type %q", e.Kind)
	}
	return p, nil
}

func (e Event) MarshalJSON() ([]byte, error) {
	p, err := e.payload()
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	if bytes.Equal(body, []byte("null")) {
		return nil, fmt.Errorf("%s event has no payload", e.Kind)
	}
	tag, err := json.Marshal(string(e.Kind))
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	buf.WriteString(`{"type":`)
	buf.Write(tag)
	if len(body) > 2 {
		buf.WriteByte(',')
		buf.Write(body[1:])
	} else {
		buf.WriteByte('}')
	}
	return buf.Bytes(), nil
}

func (e *Event) UnmarshalJSON(data []byte) error {
	var head struct {
		Type EventKind `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return err
	}
	out := Event{Kind: head.Type}
	var target interface{}
	switch head.Type {
	case KindUpload:
		out.Upload = &UploadProgress{}
		target = out.Upload
	case KindAnalysis:
		out.Analysis = &AnalysisProgress{}
		target = out.Analysis
	case KindBatch:
		out.Batch = &BatchProgress{}
		target = out.Batch
	case KindError:
		out.Error = &ErrorEvent{}
		target = out.Error
	case KindComplete:
		out.Complete = &CompleteEvent{}
		target = out.Complete
	case "":
		return fmt.Errorf("event is missing its type")
	default:
		return fmt.Errorf("unknown event type %q", head.Type)
	}
	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("decoding %s event: %w", head.Type, err)
	}
	*e = out
	return nil
}
