/*
Copyright (C) 2023  Carl-Philip Hänsch

    This program is free software: you can redistribute it and/or modify
    it under the terms of the GNU General Public License as published by
    the Free Software Foundation, either version 3 of the License, or
    (at your option) any later version.

    This program is distributed in the hope that it will be useful,
    but WITHOUT ANY WARRANTY; without even the implied warranty of
    MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
    GNU General Public License for more details.

    You should have received a copy of the GNU General Public License
    along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

// Package logging builds the structured loggers every subsystem is handed at
// construction time. The engine itself never configures sinks or encoders —
// that belongs to whatever embeds it — it only asks for named
// sub-loggers off of a base *zap.SugaredLogger.
package logging

import "go.uber.org/zap"

// New builds a production logger (JSON encoding, info level) suitable for an
// embedded engine with no interactive console.
func New() (*zap.SugaredLogger, error) {
	l, err := zap.NewProduction()
	if err != nil {
		return nil, err
	}
	return l.Sugar(), nil
}

// NewDevelopment builds a human-readable, debug-level logger for tests and
// local development.
func NewDevelopment() (*zap.SugaredLogger, error) {
	l, err := zap.NewDevelopment()
	if err != nil {
		return nil, err
	}
	return l.Sugar(), nil
}

// Noop returns a logger that discards everything, for tests that don't care
// about log output but still need a non-nil logger.
func Noop() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}

// Named returns a sub-logger scoped to one subsystem (wal, flush, compactor,
// cache, shard, ...), matching the zap convention of hierarchical names.
func Named(base *zap.SugaredLogger, name string) *zap.SugaredLogger {
	return base.Named(name)
}
