// Package trace records MCP traffic per backend server in capped ring
// buffers so recent protocol activity can be inspected without unbounded
// memory growth.
package trace

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultCapacity is the per-server ring size when the config does not set
// one.
const DefaultCapacity = 1000

// RecordType tags the direction of a traced message.
type RecordType string

const (
	TypeRequest      RecordType = "request"
	TypeResponse     RecordType = "response"
	TypeNotification RecordType = "notification"
)

// Record is one traced message. DurationMS is only meaningful on responses,
// where it holds the request round-trip time.
type Record struct {
	ID         string      `json:"id"`
	ServerID   string      `json:"serverId"`
	Type       RecordType  `json:"type"`
	Method     string      `json:"method"`
	Content    interface{} `json:"content,omitempty"`
	DurationMS int64       `json:"durationMs,omitempty"`
	Timestamp  time.Time   `json:"timestamp"`
}

// Tracer owns one ring buffer per server. Appends never fail and never block
// an RPC; queries return copies.
type Tracer struct {
	mu       sync.RWMutex
	capacity int
	buffers  map[string]*ring
}

type ring struct {
	records []Record
	head    int // next write position
	count   int
}

// NewTracer creates a tracer whose per-server rings hold capacity records.
// A non-positive capacity falls back to DefaultCapacity.
func NewTracer(capacity int) *Tracer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Tracer{
		capacity: capacity,
		buffers:  make(map[string]*ring),
	}
}

// Request records an outgoing RPC before it is sent.
func (t *Tracer) Request(serverID, method string, payload interface{}) {
	t.append(Record{
		ServerID: serverID,
		Type:     TypeRequest,
		Method:   method,
		Content:  payload,
	})
}

// Response records the outcome of an RPC, including its round-trip time.
func (t *Tracer) Response(serverID, method string, result interface{}, durationMS int64) {
	t.append(Record{
		ServerID:   serverID,
		Type:       TypeResponse,
		Method:     method,
		Content:    result,
		DurationMS: durationMS,
	})
}

// Notification records a server-initiated message.
func (t *Tracer) Notification(serverID, method string, payload interface{}) {
	t.append(Record{
		ServerID: serverID,
		Type:     TypeNotification,
		Method:   method,
		Content:  payload,
	})
}

func (t *Tracer) append(record Record) {
	record.ID = uuid.New().String()
	record.Timestamp = time.Now()

	t.mu.Lock()
	defer t.mu.Unlock()

	buf, ok := t.buffers[record.ServerID]
	if !ok {
		buf = &ring{records: make([]Record, t.capacity)}
		t.buffers[record.ServerID] = buf
	}

	buf.records[buf.head] = record
	buf.head = (buf.head + 1) % len(buf.records)
	if buf.count < len(buf.records) {
		buf.count++
	}
}

// Query returns traced records oldest first. An empty serverID spans all
// servers ordered by timestamp; an empty typ matches every record type.
// When limit is positive only the newest limit records are returned.
func (t *Tracer) Query(serverID string, typ RecordType, limit int) []Record {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []Record
	if serverID != "" {
		if buf, ok := t.buffers[serverID]; ok {
			out = buf.snapshot(typ)
		}
	} else {
		for _, buf := range t.buffers {
			out = append(out, buf.snapshot(typ)...)
		}
		sort.SliceStable(out, func(i, j int) bool {
			return out[i].Timestamp.Before(out[j].Timestamp)
		})
	}

	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// Servers lists the ids with recorded traffic, sorted.
func (t *Tracer) Servers() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	ids := make([]string, 0, len(t.buffers))
	for id := range t.buffers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Drop discards the ring of a server removed from the configuration.
func (t *Tracer) Drop(serverID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.buffers, serverID)
}

// snapshot copies the ring in append order, filtered by type. Callers hold
// at least the read lock.
func (r *ring) snapshot(typ RecordType) []Record {
	out := make([]Record, 0, r.count)
	start := r.head - r.count
	if start < 0 {
		start += len(r.records)
	}
	for i := 0; i < r.count; i++ {
		record := r.records[(start+i)%len(r.records)]
		if typ == "" || record.Type == typ {
			out = append(out, record)
		}
	}
	return out
}
