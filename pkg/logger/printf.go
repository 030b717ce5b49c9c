package logger

import (
	"fmt"
	"strings"
)

// Printf routes printf-style logging from third-party clients (HTTP, protocol
// libraries) into a component.
type Printf struct {
	Component string
}

func (p Printf) Debugf(format string, v ...interface{}) {
	logMessage(DEBUG, p.Component, trimLine(format, v), nil)
}

func (p Printf) Infof(format string, v ...interface{}) {
	logMessage(INFO, p.Component, trimLine(format, v), nil)
}

func (p Printf) Warnf(format string, v ...interface{}) {
	logMessage(WARN, p.Component, trimLine(format, v), nil)
}

func (p Printf) Errorf(format string, v ...interface{}) {
	logMessage(ERROR, p.Component, trimLine(format, v), nil)
}

func trimLine(format string, v []interface{}) string {
	return strings.TrimRight(fmt.Sprintf(format, v...), "\n")
}
