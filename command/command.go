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

// Package command is the tagged command surface §6.5/§6.7 describes the
// core as consuming from a parser: pure data, no behavior. The parser
// that produces these from wire bytes or a query language is out of
// scope — the engine package is what turns a Command into a Result.
// Grounded on scripting/interpreter.go's tagged AST node shape (one
// struct per statement kind, a closed "Statement" marker interface)
// generalized from the teacher's full scripting language down to the
// seven commands §6.5 enumerates.
package command

import (
	"github.com/shardline/eventcore/aggregate"
	"github.com/shardline/eventcore/query/predicate"
	"github.com/shardline/eventcore/schema"
)

// Predicate, AggSpec, and BucketSpec alias the query/aggregate packages'
// own types rather than redeclaring them, so a QueryCommand carries
// exactly what query.Request does with no translation step in between.
type (
	Predicate  = predicate.Predicate
	AggSpec    = aggregate.Spec
	BucketSpec = aggregate.BucketSpec
)

// Command is the closed set of operations the engine accepts. isCommand
// is unexported so no type outside this package can implement it,
// mirroring the teacher's unexported marker methods on its Statement
// variants.
type Command interface {
	isCommand()
}

// DefineCommand registers or re-registers an event type's schema.
type DefineCommand struct {
	EventType string
	Version   int // 0 means "next version"; the registry assigns version on Define
	Fields    []schema.FieldSpec
}

func (DefineCommand) isCommand() {}

// StoreCommand appends one event to its context's shard.
type StoreCommand struct {
	EventType string
	ContextID string
	Payload   []schema.PayloadField
}

func (StoreCommand) isCommand() {}

// QueryCommand matches §6.5's Query field-for-field: Where is the
// already-parsed predicate tree (parsing a filter expression is the
// out-of-scope parser's job), TimeBucket/GroupBy/Aggs select the
// aggregate path, and EventSequence threads materialized-view
// incremental queries through MaterializationCreatedAt.
type QueryCommand struct {
	EventType  string
	ContextID  string
	Since      int64
	Until      int64
	TimeField  string
	Where      Predicate
	Limit      int
	Offset     int
	OrderBy    string
	OrderDesc  bool
	Aggs       []AggSpec
	TimeBucket BucketSpec
	GroupBy    []string

	// EventSequence is §6.5's event_sequence: the materialized-view
	// incremental-query cursor, passed through to
	// query.Request.MaterializationCreatedAt.
	EventSequence int64
}

func (QueryCommand) isCommand() {}

// ReplayCommand streams a context's (or, with EventType set, one event
// type's) history back in acceptance order, per §6.5's Replay.
type ReplayCommand struct {
	EventType string // empty means every type for ContextID
	ContextID string
	Since     int64
	TimeField string
}

func (ReplayCommand) isCommand() {}

// PingCommand is a liveness no-op; it round-trips through Dispatch so
// callers can measure queuing latency without touching storage.
type PingCommand struct{}

func (PingCommand) isCommand() {}

// FlushCommand forces every shard to flush its active memtable,
// regardless of whether it's full.
type FlushCommand struct{}

func (FlushCommand) isCommand() {}

// BatchCommand runs Commands in order, short-circuiting on the first
// error exactly as §6.5's Batch[..] implies a single failure aborts the
// remainder rather than silently skipping it.
type BatchCommand struct {
	Commands []Command
}

func (BatchCommand) isCommand() {}
