// Package stats implements the execution profiler: a scope/mark event log
// keyed by monotonically increasing ids, plus a human-readable cost report
// builder over the reduced totals.
package stats

import (
	"bytes"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/joeycumines/go-utilpkg/jsonenc"
)

// Event tags a recorded entry as the start or end of a scope, or a single
// point-in-time mark.
type Event int

const (
	EventBegin Event = iota
	EventEnd
	EventMark
)

func (e Event) String() string {
	switch e {
	case EventBegin:
		return "Begin"
	case EventEnd:
		return "End"
	case EventMark:
		return "Mark"
	default:
		return "Unknown"
	}
}

// Scope identifies one Begin/End pair: Begin(...) returns a Scope that must
// be passed to End to close it.
type Scope struct {
	ParentID uint64
	ID       uint64
	Name     string
	Index    int
}

type entry struct {
	scope     Scope
	event     Event
	timestamp time.Time
}

// Collector accumulates scope and mark events under a single mutex; the
// absolute timestamps are recorded as wall-clock time and rebased against
// StartTime only when a report is produced, so SetStartTime never discards
// events already recorded under a different baseline.
type Collector struct {
	mu        sync.Mutex
	startTime time.Time
	lastID    uint64
	entries   []entry
}

// New creates a Collector whose start time is the moment of construction.
func New() *Collector {
	return &Collector{startTime: time.Now()}
}

// Reset clears all recorded entries and rebases start time to now.
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.startTime = time.Now()
	c.lastID = 0
	c.entries = nil
}

// SetStartTime rebases every timestamp reported by StoreStats/PrintStats
// against a new zero point, without discarding entries already recorded:
// a job resumed from a checkpoint keeps its history, with relative
// timestamps recomputed against the resumed wall-clock origin.
func (c *Collector) SetStartTime(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.startTime = t
}

// NextID returns a fresh, monotonically increasing scope/mark id.
func (c *Collector) NextID() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastID++
	return c.lastID
}

// Begin opens a new scope under parentID and records a Begin event for it.
func (c *Collector) Begin(parentID uint64, name string, index int) Scope {
	scope := Scope{ParentID: parentID, ID: c.NextID(), Name: name, Index: index}
	c.record(scope, EventBegin)
	return scope
}

// End records an End event closing scope.
func (c *Collector) End(scope Scope) {
	c.record(scope, EventEnd)
}

// Mark records a single point-in-time event under parentID.
func (c *Collector) Mark(parentID uint64, name string, index int) {
	c.record(Scope{ParentID: parentID, ID: c.NextID(), Name: name, Index: index}, EventMark)
}

func (c *Collector) record(scope Scope, event Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, entry{scope: scope, event: event, timestamp: time.Now()})
}

// statRecord is the JSON/CSV row shape, one per recorded entry.
type statRecord struct {
	ParentID      uint64
	ID            uint64
	Name          string
	Index         int
	Event         string
	TimestampNano int64
}

func (c *Collector) snapshot() (time.Time, []statRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()

	records := make([]statRecord, len(c.entries))
	for i, e := range c.entries {
		records[i] = statRecord{
			ParentID:      e.scope.ParentID,
			ID:            e.scope.ID,
			Name:          e.scope.Name,
			Index:         e.scope.Index,
			Event:         e.event.String(),
			TimestampNano: e.timestamp.Sub(c.startTime).Nanoseconds(),
		}
	}
	sort.SliceStable(records, func(i, j int) bool { return records[i].TimestampNano < records[j].TimestampNano })
	return c.startTime, records
}

// StoreStats writes the recorded entries as stats_<pid>.json and
// stats_<pid>.csv in the current working directory.
func (c *Collector) StoreStats() error {
	_, records := c.snapshot()
	pid := os.Getpid()

	if err := os.WriteFile(fmt.Sprintf("stats_%d.json", pid), marshalRecordsJSON(records), 0o644); err != nil {
		return fmt.Errorf("stats: failed to write json report: %w", err)
	}
	if err := os.WriteFile(fmt.Sprintf("stats_%d.csv", pid), marshalRecordsCSV(records), 0o644); err != nil {
		return fmt.Errorf("stats: failed to write csv report: %w", err)
	}
	return nil
}

// marshalRecordsJSON hand-rolls the pretty array encoding: integer fields
// are formatted with fmt, and string fields are escaped with jsonenc's
// AppendString.
func marshalRecordsJSON(records []statRecord) []byte {
	var buf bytes.Buffer
	buf.WriteString("[\n")
	for i, r := range records {
		buf.WriteString("  {\n")
		fmt.Fprintf(&buf, "    \"parent_id\": %d,\n", r.ParentID)
		fmt.Fprintf(&buf, "    \"id\": %d,\n", r.ID)
		buf.WriteString("    \"name\": ")
		buf.Write(jsonenc.AppendString(nil, r.Name))
		buf.WriteString(",\n")
		fmt.Fprintf(&buf, "    \"index\": %d,\n", r.Index)
		buf.WriteString("    \"event\": ")
		buf.Write(jsonenc.AppendString(nil, r.Event))
		buf.WriteString(",\n")
		fmt.Fprintf(&buf, "    \"timestamp\": %d\n", r.TimestampNano)
		buf.WriteString("  }")
		if i != len(records)-1 {
			buf.WriteString(",")
		}
		buf.WriteString("\n")
	}
	buf.WriteString("]\n")
	return buf.Bytes()
}

func marshalRecordsCSV(records []statRecord) []byte {
	var buf bytes.Buffer
	for _, r := range records {
		fmt.Fprintf(&buf, "%d,%d,%s,%d,%s,%d\n", r.ParentID, r.ID, r.Name, r.Index, r.Event, r.TimestampNano)
	}
	return buf.Bytes()
}
