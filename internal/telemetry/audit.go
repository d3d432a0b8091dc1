package telemetry

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// AuditLogger is an append-only, hash-chained log of engine lifecycle
// events (the Engine records engine_start, shutdown_signal, worker_start,
// worker_error and worker_stop). Each entry's hash covers the previous
// entry's hash plus its id, timestamp, type, stack, graph, CPU and detail,
// so tampering with any of those fields, or removing an entry, breaks the
// chain from that point forward. Metadata is not covered by the hash.
type AuditLogger struct {
	mu           sync.Mutex
	logPath      string
	logFile      *os.File
	previousHash string
	eventCount   int64
	logger       *logrus.Logger
	rotateSize   int64
}

// AuditEvent is one chained entry in the lifecycle log.
type AuditEvent struct {
	Timestamp   time.Time      `json:"timestamp"`
	EventID     int64          `json:"event_id"`
	EventType   string         `json:"event_type"`
	Stack       string         `json:"stack,omitempty"`
	Graph       string         `json:"graph,omitempty"`
	CPU         int            `json:"cpu,omitempty"`
	Detail      string         `json:"detail,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	PrevHash    string         `json:"prev_hash"`
	CurrentHash string         `json:"current_hash"`
}

type auditChainEntry struct {
	Event *AuditEvent `json:"event"`
	Hash  string      `json:"hash"`
}

const genesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// NewAuditLogger opens (or creates) logPath in append mode and resumes the
// hash chain from its last entry, if any.
func NewAuditLogger(logPath string, logger *logrus.Logger) (*AuditLogger, error) {
	if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
		return nil, fmt.Errorf("telemetry: creating audit log directory: %w", err)
	}

	file, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("telemetry: opening audit log: %w", err)
	}

	al := &AuditLogger{
		logPath:      logPath,
		logFile:      file,
		previousHash: genesisHash,
		logger:       logger,
		rotateSize:   100 * 1024 * 1024,
	}

	if err := al.loadPreviousHash(); err != nil {
		logger.WithError(err).Warn("audit: could not resume hash chain, starting a new one")
	}

	logger.WithField("log_path", logPath).Info("audit logger initialized")
	return al, nil
}

// LogEvent appends event to the chain, stamping its id and hashes.
func (al *AuditLogger) LogEvent(event *AuditEvent) error {
	al.mu.Lock()
	defer al.mu.Unlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	al.eventCount++
	event.EventID = al.eventCount
	event.PrevHash = al.previousHash

	hash := al.hashOf(event)
	event.CurrentHash = hash

	line, err := json.Marshal(auditChainEntry{Event: event, Hash: hash})
	if err != nil {
		return fmt.Errorf("telemetry: marshaling audit event: %w", err)
	}

	if _, err := al.logFile.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("telemetry: writing audit event: %w", err)
	}
	if err := al.logFile.Sync(); err != nil {
		al.logger.WithError(err).Warn("audit: fsync failed")
	}

	al.previousHash = hash

	if fi, err := al.logFile.Stat(); err == nil && fi.Size() >= al.rotateSize {
		if err := al.rotate(); err != nil {
			al.logger.WithError(err).Error("audit: rotation failed")
		}
	}
	return nil
}

func (al *AuditLogger) hashOf(event *AuditEvent) string {
	data := fmt.Sprintf("%d|%s|%s|%s|%s|%d|%s|%s",
		event.EventID,
		event.Timestamp.Format(time.RFC3339Nano),
		event.EventType,
		event.Stack,
		event.Graph,
		event.CPU,
		event.Detail,
		event.PrevHash,
	)
	sum := sha256.Sum256([]byte(data))
	return hex.EncodeToString(sum[:])
}

func (al *AuditLogger) loadPreviousHash() error {
	fi, err := al.logFile.Stat()
	if err != nil {
		return err
	}
	if fi.Size() == 0 {
		return nil
	}

	content, err := os.ReadFile(al.logPath)
	if err != nil {
		return err
	}
	lines := string(content)
	end := len(lines) - 1
	for end >= 0 && lines[end] == '\n' {
		end--
	}
	start := end
	for start >= 0 && lines[start] != '\n' {
		start--
	}
	if start >= end {
		return nil
	}

	var entry auditChainEntry
	if err := json.Unmarshal([]byte(lines[start+1:end+1]), &entry); err != nil {
		return fmt.Errorf("telemetry: parsing last audit entry: %w", err)
	}
	al.previousHash = entry.Hash
	al.eventCount = entry.Event.EventID
	al.logger.WithField("event_id", al.eventCount).Info("resumed audit chain")
	return nil
}

func (al *AuditLogger) rotate() error {
	if err := al.logFile.Close(); err != nil {
		return err
	}
	rotatedPath := fmt.Sprintf("%s.%s", al.logPath, time.Now().Format("20060102-150405"))
	if err := os.Rename(al.logPath, rotatedPath); err != nil {
		return err
	}
	newFile, err := os.OpenFile(al.logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	al.logFile = newFile
	al.previousHash = genesisHash
	al.eventCount = 0
	return nil
}

// Close flushes and closes the underlying log file.
func (al *AuditLogger) Close() error {
	al.mu.Lock()
	defer al.mu.Unlock()
	return al.logFile.Close()
}
