// Package observability provides audit logging for compliance tracking.
package observability

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// AuditEventType categorizes audit events.
type AuditEventType string

const (
	AuditEventDocumentReceived AuditEventType = "document.received"
	AuditEventDocumentIndexed  AuditEventType = "document.indexed"
	AuditEventDocumentFailed   AuditEventType = "document.failed"
	AuditEventDocumentDeleted  AuditEventType = "document.deleted"
	AuditEventQueryAsked       AuditEventType = "query.asked"
	AuditEventQueryAnswered    AuditEventType = "query.answered"
	AuditEventQueryFailed      AuditEventType = "query.failed"
	AuditEventLLMRequest       AuditEventType = "llm.request"
	AuditEventLLMResponse      AuditEventType = "llm.response"
	AuditEventLLMError         AuditEventType = "llm.error"
	AuditEventWorkerStart      AuditEventType = "worker.start"
	AuditEventWorkerStop       AuditEventType = "worker.stop"
)

// AuditEvent represents a single audit log entry.
type AuditEvent struct {
	Timestamp   time.Time              `json:"timestamp"`
	EventType   AuditEventType         `json:"event_type"`
	SessionID   string                 `json:"session_id"`
	DocumentID  string                 `json:"document_id,omitempty"`
	UserID      string                 `json:"user_id,omitempty"`
	Success     bool                   `json:"success"`
	Duration    time.Duration          `json:"duration_ms,omitempty"`
	Message     string                 `json:"message,omitempty"`
	Details     map[string]interface{} `json:"details,omitempty"`
	ErrorDetail string                 `json:"error_detail,omitempty"`
}

// AuditLogger handles audit event logging.
type AuditLogger struct {
	mu        sync.Mutex
	writer    io.Writer
	sessionID string
	userID    string
	enabled   bool
}

// AuditConfig configures the audit logger.
type AuditConfig struct {
	Enabled    bool
	OutputPath string // File path or "stdout"/"stderr"
	SessionID  string
	UserID     string
}

// DefaultAuditConfig returns default audit configuration.
func DefaultAuditConfig() *AuditConfig {
	return &AuditConfig{
		Enabled:    true,
		OutputPath: "stdout",
	}
}

// NewAuditLogger creates a new audit logger.
func NewAuditLogger(config *AuditConfig) (*AuditLogger, error) {
	if config == nil {
		config = DefaultAuditConfig()
	}

	var writer io.Writer
	switch config.OutputPath {
	case "stdout", "":
		writer = os.Stdout
	case "stderr":
		writer = os.Stderr
	default:
		f, err := os.OpenFile(config.OutputPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("open audit log: %w", err)
		}
		writer = f
	}

	sessionID := config.SessionID
	if sessionID == "" {
		sessionID = fmt.Sprintf("session-%d", time.Now().UnixNano())
	}

	return &AuditLogger{
		writer:    writer,
		sessionID: sessionID,
		userID:    config.UserID,
		enabled:   config.Enabled,
	}, nil
}

// Log writes an audit event.
func (l *AuditLogger) Log(event *AuditEvent) error {
	if !l.enabled {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	// Fill in defaults
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.SessionID == "" {
		event.SessionID = l.sessionID
	}
	if event.UserID == "" {
		event.UserID = l.userID
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}

	_, err = fmt.Fprintf(l.writer, "%s\n", data)
	return err
}

// LogDocumentReceived logs arrival of a document for ingestion.
func (l *AuditLogger) LogDocumentReceived(ctx context.Context, documentID, source string, size int) {
	l.Log(&AuditEvent{
		EventType:  AuditEventDocumentReceived,
		DocumentID: documentID,
		Success:    true,
		Message:    fmt.Sprintf("Document %s received", documentID),
		Details: map[string]interface{}{
			"source": source,
			"size":   size,
		},
	})
}

// LogDocumentIndexed logs a completed ingestion.
func (l *AuditLogger) LogDocumentIndexed(ctx context.Context, documentID string, duration time.Duration, chunkCount, indexedCount int) {
	l.Log(&AuditEvent{
		EventType:  AuditEventDocumentIndexed,
		DocumentID: documentID,
		Success:    true,
		Duration:   duration,
		Message:    fmt.Sprintf("Document %s indexed", documentID),
		Details: map[string]interface{}{
			"chunk_count":   chunkCount,
			"indexed_count": indexedCount,
		},
	})
}

// LogDocumentFailed logs a failed ingestion.
func (l *AuditLogger) LogDocumentFailed(ctx context.Context, documentID string, err error) {
	l.Log(&AuditEvent{
		EventType:   AuditEventDocumentFailed,
		DocumentID:  documentID,
		Success:     false,
		Message:     fmt.Sprintf("Document %s failed ingestion", documentID),
		ErrorDetail: err.Error(),
	})
}

// LogDocumentDeleted logs removal of a document from the index.
func (l *AuditLogger) LogDocumentDeleted(ctx context.Context, documentID string, removed int) {
	l.Log(&AuditEvent{
		EventType:  AuditEventDocumentDeleted,
		DocumentID: documentID,
		Success:    true,
		Message:    fmt.Sprintf("Document %s deleted", documentID),
		Details: map[string]interface{}{
			"entries_removed": removed,
		},
	})
}

// LogQueryAsked logs an incoming question. Only the length is recorded,
// not the question text.
func (l *AuditLogger) LogQueryAsked(ctx context.Context, questionLen, topK int, sourceFilter string) {
	l.Log(&AuditEvent{
		EventType: AuditEventQueryAsked,
		Success:   true,
		Message:   "Question received",
		Details: map[string]interface{}{
			"question_len":  questionLen,
			"top_k":         topK,
			"source_filter": sourceFilter,
		},
	})
}

// LogQueryAnswered logs a completed answer.
func (l *AuditLogger) LogQueryAnswered(ctx context.Context, duration time.Duration, citations, fragments int) {
	l.Log(&AuditEvent{
		EventType: AuditEventQueryAnswered,
		Success:   true,
		Duration:  duration,
		Message:   "Question answered",
		Details: map[string]interface{}{
			"citations": citations,
			"fragments": fragments,
		},
	})
}

// LogQueryFailed logs a failed question.
func (l *AuditLogger) LogQueryFailed(ctx context.Context, err error) {
	l.Log(&AuditEvent{
		EventType:   AuditEventQueryFailed,
		Success:     false,
		Message:     "Question failed",
		ErrorDetail: err.Error(),
	})
}

// LogLLMRequest logs an LLM request event.
func (l *AuditLogger) LogLLMRequest(ctx context.Context, provider, model string, promptTokens int) {
	l.Log(&AuditEvent{
		EventType: AuditEventLLMRequest,
		Success:   true,
		Message:   fmt.Sprintf("LLM request to %s/%s", provider, model),
		Details: map[string]interface{}{
			"provider":      provider,
			"model":         model,
			"prompt_tokens": promptTokens,
		},
	})
}

// LogLLMResponse logs an LLM response event.
func (l *AuditLogger) LogLLMResponse(ctx context.Context, provider, model string, duration time.Duration, inputTokens, outputTokens int) {
	l.Log(&AuditEvent{
		EventType: AuditEventLLMResponse,
		Success:   true,
		Duration:  duration,
		Message:   fmt.Sprintf("LLM response from %s/%s", provider, model),
		Details: map[string]interface{}{
			"provider":      provider,
			"model":         model,
			"input_tokens":  inputTokens,
			"output_tokens": outputTokens,
			"total_tokens":  inputTokens + outputTokens,
		},
	})
}

// LogLLMError logs an LLM error event.
func (l *AuditLogger) LogLLMError(ctx context.Context, provider, model string, err error) {
	l.Log(&AuditEvent{
		EventType:   AuditEventLLMError,
		Success:     false,
		Message:     fmt.Sprintf("LLM error from %s/%s", provider, model),
		ErrorDetail: err.Error(),
		Details: map[string]interface{}{
			"provider": provider,
			"model":    model,
		},
	})
}

// LogWorkerStart logs worker startup.
func (l *AuditLogger) LogWorkerStart(ctx context.Context, taskQueue string) {
	l.Log(&AuditEvent{
		EventType: AuditEventWorkerStart,
		Success:   true,
		Message:   "Worker started",
		Details: map[string]interface{}{
			"task_queue": taskQueue,
		},
	})
}

// LogWorkerStop logs worker shutdown.
func (l *AuditLogger) LogWorkerStop(ctx context.Context, uptime time.Duration) {
	l.Log(&AuditEvent{
		EventType: AuditEventWorkerStop,
		Success:   true,
		Duration:  uptime,
		Message:   "Worker stopped",
	})
}

// Close closes the audit logger (if using a file).
func (l *AuditLogger) Close() error {
	if closer, ok := l.writer.(io.Closer); ok {
		if closer != os.Stdout && closer != os.Stderr {
			return closer.Close()
		}
	}
	return nil
}

// Global audit logger instance
var globalAuditLogger *AuditLogger
var auditOnce sync.Once

// InitGlobalAuditLogger initializes the global audit logger.
func InitGlobalAuditLogger(config *AuditConfig) error {
	var err error
	auditOnce.Do(func() {
		globalAuditLogger, err = NewAuditLogger(config)
	})
	return err
}

// Audit returns the global audit logger.
func Audit() *AuditLogger {
	if globalAuditLogger == nil {
		// Return a disabled logger if not initialized
		return &AuditLogger{enabled: false}
	}
	return globalAuditLogger
}
