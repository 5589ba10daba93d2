// SPDX-License-Identifier: MIT
package transport

import (
	"encoding/json"
	"fmt"

	applog "omx/internal/log"
)

// LoggingTransport implements the Transport interface by writing data to
// the log at the given level.
type LoggingTransport struct {
	log   *applog.Logger
	level applog.LogLevel
}

// NewLoggingTransport creates a LoggingTransport. Messages go out at
// applog.LevelDebug unless level says otherwise.
func NewLoggingTransport(level applog.LogLevel) *LoggingTransport {
	return &LoggingTransport{log: applog.New("monitor"), level: level}
}

// Send logs data as JSON, or with %+v when it does not marshal.
func (lt *LoggingTransport) Send(data any) error {
	var line string
	if b, err := json.Marshal(data); err == nil {
		line = string(b)
	} else {
		line = fmt.Sprintf("%+v", data)
	}

	switch lt.level {
	case applog.LevelInfo:
		lt.log.Infof("%s", line)
	case applog.LevelWarn:
		lt.log.Warnf("%s", line)
	case applog.LevelError:
		lt.log.Errorf("%s", line)
	default:
		lt.log.Debugf("%s", line)
	}
	return nil
}

// Close is a no-op for LoggingTransport.
func (lt *LoggingTransport) Close() error {
	return nil
}

var _ Transport = (*LoggingTransport)(nil)
