package browser

import (
	"strings"
	"sync"
	"time"

	"github.com/probekit/webprobe/internal/engine"
)

// DefaultLogCap bounds each of the console and network logs. Oldest
// records are evicted once the cap is reached.
const DefaultLogCap = 1000

// ConsoleRecord is one captured console message. Records are never
// mutated after append.
type ConsoleRecord struct {
	Level     string    `json:"level"` // log, warn, error, info
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// NetworkRecord is one captured request/response pair. Status and
// RespondedAt stay nil until the response arrives; correlation is by
// request id, not position.
type NetworkRecord struct {
	ID          string     `json:"id"`
	Method      string     `json:"method"`
	URL         string     `json:"url"`
	Status      *int       `json:"status,omitempty"`
	RequestedAt time.Time  `json:"requestTimestamp"`
	RespondedAt *time.Time `json:"responseTimestamp,omitempty"`
}

// Recorder accumulates console and network events for the lifetime of
// one page. It implements engine.EventSink.
type Recorder struct {
	mu  sync.Mutex
	cap int

	console []ConsoleRecord

	network []NetworkRecord
	// byID maps request id to an absolute sequence number; subtracting
	// evicted yields the slice index. Entries for evicted records are
	// removed so a late response is dropped, never mis-attributed.
	byID    map[string]int
	seq     int
	evicted int
}

// NewRecorder returns a recorder bounded at cap records per log; a
// non-positive cap uses DefaultLogCap.
func NewRecorder(cap int) *Recorder {
	if cap <= 0 {
		cap = DefaultLogCap
	}
	return &Recorder{
		cap:  cap,
		byID: make(map[string]int),
	}
}

var _ engine.EventSink = (*Recorder)(nil)

// OnConsole appends a console record, normalizing the engine-reported
// type onto the four recorded levels.
func (r *Recorder) OnConsole(ev engine.ConsoleEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.console = append(r.console, ConsoleRecord{
		Level:     normalizeLevel(ev.Type),
		Text:      ev.Text,
		Timestamp: ev.Time,
	})
	if len(r.console) > r.cap {
		r.console = r.console[len(r.console)-r.cap:]
	}
}

// OnRequest opens a network record.
func (r *Recorder) OnRequest(ev engine.RequestEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.network = append(r.network, NetworkRecord{
		ID:          ev.ID,
		Method:      ev.Method,
		URL:         ev.URL,
		RequestedAt: ev.Time,
	})
	r.byID[ev.ID] = r.seq
	r.seq++

	for len(r.network) > r.cap {
		delete(r.byID, r.network[0].ID)
		r.network = r.network[1:]
		r.evicted++
	}
}

// OnResponse completes the matching network record in place.
func (r *Recorder) OnResponse(ev engine.ResponseEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	seq, ok := r.byID[ev.RequestID]
	if !ok {
		return
	}
	idx := seq - r.evicted

	status := ev.Status
	respondedAt := ev.Time
	r.network[idx].Status = &status
	r.network[idx].RespondedAt = &respondedAt
}

// Console returns buffered console records in emission order, optionally
// filtered by level.
func (r *Recorder) Console(level string) []ConsoleRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]ConsoleRecord, 0, len(r.console))
	for _, rec := range r.console {
		if level != "" && rec.Level != level {
			continue
		}
		out = append(out, rec)
	}
	return out
}

// Network returns buffered network records in request order, optionally
// filtered by exact method and/or URL substring.
func (r *Recorder) Network(method, urlSubstring string) []NetworkRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]NetworkRecord, 0, len(r.network))
	for _, rec := range r.network {
		if method != "" && !strings.EqualFold(rec.Method, method) {
			continue
		}
		if urlSubstring != "" && !strings.Contains(rec.URL, urlSubstring) {
			continue
		}
		out = append(out, rec)
	}
	return out
}

// Clear discards all buffered records. Called when the session closes.
func (r *Recorder) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.console = nil
	r.network = nil
	r.byID = make(map[string]int)
	r.seq = 0
	r.evicted = 0
}

func normalizeLevel(engineType string) string {
	switch engineType {
	case "warning", "warn":
		return "warn"
	case "error":
		return "error"
	case "info":
		return "info"
	default:
		return "log"
	}
}
