// Package auditlog forwards MigrationHistory failures to a secondary
// sink, independent of the primary JSON application log, so a failed
// DDL statement survives even if the primary log file rotates away
// before anyone reads it.
package auditlog

import (
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/RackSec/srslog"

	"github.com/axonops/tenant-schema-engine/internal/catalog"
)

// Sink receives one MigrationHistory row whose ExecutionStatus is
// FAILED. Implementations must be safe for concurrent use.
type Sink interface {
	Record(h catalog.MigrationHistory)
	Close() error
}

// noopSink is used when syslog forwarding is disabled in configuration.
type noopSink struct{}

func (noopSink) Record(catalog.MigrationHistory) {}
func (noopSink) Close() error                    { return nil }

// NoopSink is the Sink used when logging.syslog.enabled is false.
var NoopSink Sink = noopSink{}

// SyslogSink writes one formatted line per failure to a syslog writer
// opened with github.com/RackSec/srslog.
type SyslogSink struct {
	mu     sync.Mutex
	writer *srslog.Writer
	logger *slog.Logger
}

// NewSyslogSink dials a syslog writer. network is "" for the local
// syslog socket, or "udp"/"tcp" with a non-empty raddr.
func NewSyslogSink(network, raddr, tag string, logger *slog.Logger) (*SyslogSink, error) {
	w, err := srslog.Dial(network, raddr, srslog.LOG_ERR|srslog.LOG_LOCAL0, tag)
	if err != nil {
		return nil, fmt.Errorf("auditlog: dial syslog: %w", err)
	}
	return &SyslogSink{writer: w, logger: logger}, nil
}

// Record forwards one failed migration history row as a syslog ERR
// message. Write failures are logged but never propagated — audit
// forwarding is fire-and-forget and must not affect the caller's
// migration outcome.
func (s *SyslogSink) Record(h catalog.MigrationHistory) {
	s.mu.Lock()
	defer s.mu.Unlock()

	line := fmt.Sprintf(
		"migration_failure batch_id=%s table=%s database_type=%s schema_version=%s statement=%q error=%q",
		h.MigrationBatchID, h.TableName, h.DatabaseType, h.SchemaVersion, h.SQLStatement, h.ErrorMessage,
	)
	if err := s.writer.Err(line); err != nil {
		s.logger.Warn("auditlog: failed to forward migration failure to syslog", "error", err)
	}
}

// Close closes the underlying syslog connection.
func (s *SyslogSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writer.Close()
}

var _ io.Writer = (*SyslogSink)(nil)

// Write satisfies io.Writer so SyslogSink can also be attached directly
// as a slog handler destination for components that prefer streaming
// raw log lines instead of calling Record.
func (s *SyslogSink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writer.Err(string(p)); err != nil {
		return 0, err
	}
	return len(p), nil
}
