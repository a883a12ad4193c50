package errors

import (
	"github.com/kimvales/vaultsync/internal/logging"
)

// Reporter receives locally-recovered failures. Implementations must not
// panic or return: every failure below task/operation granularity is caught
// and handed here instead of propagating.
type Reporter interface {
	Report(err error, context map[string]interface{})
}

// LogReporter reports errors through the structured logger.
type LogReporter struct{}

// NewLogReporter creates a Reporter backed by the global logger.
func NewLogReporter() *LogReporter {
	return &LogReporter{}
}

// Report logs the error with its code and context.
func (r *LogReporter) Report(err error, context map[string]interface{}) {
	if err == nil {
		return
	}
	logging.ErrorWithCode("recovered failure", string(GetCode(err)), err, context)
}
