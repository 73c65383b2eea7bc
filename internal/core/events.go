// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package core

import (
	"fmt"
	"sort"
	"strings"

	"github.com/sapcc/go-bits/logg"
)

// LogLevel orders event severities for filtering.
type LogLevel int

const (
	LogDebug LogLevel = iota
	LogInfo
	LogWarn
	LogError
)

// ParseLogLevel converts a configuration string into a LogLevel.
func ParseLogLevel(input string) (LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "debug":
		return LogDebug, nil
	case "info", "":
		return LogInfo, nil
	case "warn", "warning":
		return LogWarn, nil
	case "error":
		return LogError, nil
	default:
		return LogInfo, Classifyf(ErrClassConfig, "invalid log level: %q", input)
	}
}

// String implements the fmt.Stringer interface.
func (l LogLevel) String() string {
	switch l {
	case LogDebug:
		return "debug"
	case LogInfo:
		return "info"
	case LogWarn:
		return "warn"
	default:
		return "error"
	}
}

// Fields is the structured context attached to an event.
type Fields map[string]any

// EventLogger is the structured event sink of the pipeline. Events below
// MinLevel are discarded at the facade. A nil *EventLogger discards
// everything, so a disabled logger needs no special-casing at call sites.
//
// When Sink is nil, events are rendered into the standard log through logg.
// Tests inject a capturing Sink instead.
type EventLogger struct {
	MinLevel LogLevel
	Sink     func(level LogLevel, msg string, fields Fields)
}

// Debug emits a debug-level event.
func (l *EventLogger) Debug(msg string, fields Fields) { l.emit(LogDebug, msg, fields) }

// Info emits an info-level event.
func (l *EventLogger) Info(msg string, fields Fields) { l.emit(LogInfo, msg, fields) }

// Warn emits a warning-level event.
func (l *EventLogger) Warn(msg string, fields Fields) { l.emit(LogWarn, msg, fields) }

// Error emits an error-level event.
func (l *EventLogger) Error(msg string, fields Fields) { l.emit(LogError, msg, fields) }

func (l *EventLogger) emit(level LogLevel, msg string, fields Fields) {
	if l == nil || level < l.MinLevel {
		return
	}
	if l.Sink != nil {
		l.Sink(level, msg, fields)
		return
	}
	line := msg + RenderFields(fields)
	switch level {
	case LogDebug:
		logg.Debug("%s", line)
	case LogInfo:
		logg.Info("%s", line)
	case LogWarn:
		logg.Other("WARNING", "%s", line)
	case LogError:
		logg.Error("%s", line)
	}
}

// RenderFields formats event fields for plain-text log output, with keys in
// deterministic order.
func RenderFields(fields Fields) string {
	if len(fields) == 0 {
		return ""
	}
	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	parts := make([]string, len(keys))
	for idx, key := range keys {
		parts[idx] = fmt.Sprintf("%s = %v", key, fields[key])
	}
	return " (" + strings.Join(parts, ", ") + ")"
}

// MetricsSink receives the pipeline's counters, gauges and timings.
// Implementations must be safe for concurrent use.
type MetricsSink interface {
	Increment(name string, value float64, tags map[string]string)
	Gauge(name string, value float64, tags map[string]string)
	Timing(name string, durationMS float64, tags map[string]string)
}

// NullMetrics is the MetricsSink used when metrics are disabled.
type NullMetrics struct{}

// Increment implements the MetricsSink interface.
func (NullMetrics) Increment(string, float64, map[string]string) {}

// Gauge implements the MetricsSink interface.
func (NullMetrics) Gauge(string, float64, map[string]string) {}

// Timing implements the MetricsSink interface.
func (NullMetrics) Timing(string, float64, map[string]string) {}
