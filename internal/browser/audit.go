package browser

import (
	"log/slog"
)

// sensitiveCommands are CDP methods logged at warn level for audit purposes.
var sensitiveCommands = map[string]bool{
	"Network.clearBrowserCache":  true,
	"Network.deleteCookies":      true,
	"Storage.clearDataForOrigin": true,
	"Storage.clearCookies":       true,
}

type cdpAuditLogger struct {
	logger *slog.Logger
}

func newCDPAuditLogger(logger *slog.Logger) *cdpAuditLogger {
	return &cdpAuditLogger{logger: logger.With("component", "cdp")}
}

func (l *cdpAuditLogger) logCommand(partitionName, method string, err error) {
	if l == nil {
		return
	}
	attrs := []any{"partition", partitionName, "method", method}
	if err != nil {
		l.logger.Warn("cdp_command_failed", append(attrs, "error", err)...)
		return
	}
	if sensitiveCommands[method] {
		l.logger.Warn("cdp_sensitive_command", attrs...)
	} else {
		l.logger.Debug("cdp_command", attrs...)
	}
}
