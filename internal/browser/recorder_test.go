package browser

import (
	"fmt"
	"testing"
	"time"

	"github.com/probekit/webprobe/internal/engine"
)

func TestRecorderConsoleOrderAndNormalization(t *testing.T) {
	r := NewRecorder(10)
	base := time.Now()

	r.OnConsole(engine.ConsoleEvent{Type: "log", Text: "first", Time: base})
	r.OnConsole(engine.ConsoleEvent{Type: "warning", Text: "second", Time: base.Add(time.Millisecond)})
	r.OnConsole(engine.ConsoleEvent{Type: "error", Text: "third", Time: base.Add(2 * time.Millisecond)})
	r.OnConsole(engine.ConsoleEvent{Type: "debug", Text: "fourth", Time: base.Add(3 * time.Millisecond)})

	records := r.Console("")
	if len(records) != 4 {
		t.Fatalf("expected 4 records, got %d", len(records))
	}
	for i, want := range []string{"first", "second", "third", "fourth"} {
		if records[i].Text != want {
			t.Fatalf("record %d out of order: got %q, want %q", i, records[i].Text, want)
		}
	}

	// Engine-reported types collapse onto the recorded levels.
	if records[1].Level != "warn" {
		t.Fatalf("expected 'warning' normalized to 'warn', got %q", records[1].Level)
	}
	if records[3].Level != "log" {
		t.Fatalf("expected unknown type normalized to 'log', got %q", records[3].Level)
	}
}

func TestRecorderConsoleLevelFilter(t *testing.T) {
	r := NewRecorder(10)
	for i := 0; i < 3; i++ {
		r.OnConsole(engine.ConsoleEvent{Type: "log", Text: fmt.Sprintf("log-%d", i), Time: time.Now()})
	}
	r.OnConsole(engine.ConsoleEvent{Type: "error", Text: "boom", Time: time.Now()})

	errs := r.Console("error")
	if len(errs) != 1 || errs[0].Text != "boom" {
		t.Fatalf("unexpected error filter result: %v", errs)
	}

	if got := len(r.Console("warn")); got != 0 {
		t.Fatalf("expected no warn records, got %d", got)
	}
}

func TestRecorderConsoleEviction(t *testing.T) {
	r := NewRecorder(3)
	for i := 0; i < 5; i++ {
		r.OnConsole(engine.ConsoleEvent{Type: "log", Text: fmt.Sprintf("msg-%d", i), Time: time.Now()})
	}

	records := r.Console("")
	if len(records) != 3 {
		t.Fatalf("expected cap of 3, got %d", len(records))
	}
	if records[0].Text != "msg-2" {
		t.Fatalf("expected oldest evicted, first record is %q", records[0].Text)
	}
}

func TestRecorderResponseCompletesInPlace(t *testing.T) {
	r := NewRecorder(10)
	reqTime := time.Now()
	r.OnRequest(engine.RequestEvent{ID: "r1", Method: "GET", URL: "https://api.example.com/users", Time: reqTime})
	r.OnRequest(engine.RequestEvent{ID: "r2", Method: "POST", URL: "https://api.example.com/users", Time: reqTime})

	records := r.Network("", "")
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].Status != nil {
		t.Fatal("status must be nil until the response arrives")
	}

	respTime := reqTime.Add(50 * time.Millisecond)
	r.OnResponse(engine.ResponseEvent{RequestID: "r2", Status: 201, Time: respTime})

	records = r.Network("", "")
	if records[0].Status != nil {
		t.Fatal("response for r2 must not touch r1")
	}
	if records[1].Status == nil || *records[1].Status != 201 {
		t.Fatalf("expected r2 completed with 201, got %v", records[1].Status)
	}
	if records[1].RespondedAt == nil || !records[1].RespondedAt.Equal(respTime) {
		t.Fatalf("unexpected response timestamp: %v", records[1].RespondedAt)
	}
}

func TestRecorderUnknownResponseDropped(t *testing.T) {
	r := NewRecorder(10)
	r.OnRequest(engine.RequestEvent{ID: "r1", Method: "GET", URL: "https://example.com", Time: time.Now()})

	// Must not panic or attach to anything.
	r.OnResponse(engine.ResponseEvent{RequestID: "ghost", Status: 200, Time: time.Now()})

	records := r.Network("", "")
	if records[0].Status != nil {
		t.Fatal("unknown response must not be attributed to another record")
	}
}

func TestRecorderNetworkEvictionDropsLateResponse(t *testing.T) {
	r := NewRecorder(2)
	r.OnRequest(engine.RequestEvent{ID: "old", Method: "GET", URL: "https://example.com/1", Time: time.Now()})
	r.OnRequest(engine.RequestEvent{ID: "mid", Method: "GET", URL: "https://example.com/2", Time: time.Now()})
	r.OnRequest(engine.RequestEvent{ID: "new", Method: "GET", URL: "https://example.com/3", Time: time.Now()})

	records := r.Network("", "")
	if len(records) != 2 {
		t.Fatalf("expected cap of 2, got %d", len(records))
	}
	if records[0].ID != "mid" || records[1].ID != "new" {
		t.Fatalf("expected oldest evicted, got %s,%s", records[0].ID, records[1].ID)
	}

	// A response for the evicted request is dropped, and responses for
	// surviving records still land on the right one.
	r.OnResponse(engine.ResponseEvent{RequestID: "old", Status: 200, Time: time.Now()})
	r.OnResponse(engine.ResponseEvent{RequestID: "new", Status: 404, Time: time.Now()})

	records = r.Network("", "")
	if records[0].Status != nil {
		t.Fatal("evicted request's response must not land on a survivor")
	}
	if records[1].Status == nil || *records[1].Status != 404 {
		t.Fatalf("expected 'new' completed with 404, got %v", records[1].Status)
	}
}

func TestRecorderNetworkFilters(t *testing.T) {
	r := NewRecorder(10)
	r.OnRequest(engine.RequestEvent{ID: "1", Method: "GET", URL: "https://api.example.com/users", Time: time.Now()})
	r.OnRequest(engine.RequestEvent{ID: "2", Method: "POST", URL: "https://api.example.com/users", Time: time.Now()})
	r.OnRequest(engine.RequestEvent{ID: "3", Method: "GET", URL: "https://cdn.example.com/app.js", Time: time.Now()})

	posts := r.Network("post", "")
	if len(posts) != 1 || posts[0].ID != "2" {
		t.Fatalf("method filter should be case-insensitive exact match, got %v", posts)
	}

	api := r.Network("", "api.example.com")
	if len(api) != 2 {
		t.Fatalf("expected 2 api records, got %d", len(api))
	}

	both := r.Network("GET", "api.example.com")
	if len(both) != 1 || both[0].ID != "1" {
		t.Fatalf("combined filters should intersect, got %v", both)
	}
}

func TestRecorderClear(t *testing.T) {
	r := NewRecorder(10)
	r.OnConsole(engine.ConsoleEvent{Type: "log", Text: "x", Time: time.Now()})
	r.OnRequest(engine.RequestEvent{ID: "1", Method: "GET", URL: "https://example.com", Time: time.Now()})

	r.Clear()

	if len(r.Console("")) != 0 || len(r.Network("", "")) != 0 {
		t.Fatal("clear must drop all records")
	}

	// The recorder stays usable after a clear.
	r.OnRequest(engine.RequestEvent{ID: "2", Method: "GET", URL: "https://example.com", Time: time.Now()})
	r.OnResponse(engine.ResponseEvent{RequestID: "2", Status: 200, Time: time.Now()})
	records := r.Network("", "")
	if len(records) != 1 || records[0].Status == nil || *records[0].Status != 200 {
		t.Fatalf("recorder broken after clear: %v", records)
	}
}
