// Package stats aggregates per-process proxy statistics for the dashboard.
package stats

import (
	"maps"
	"math"
	"strconv"
	"sync"
	"time"
)

// HistorySize is the number of most recent requests kept in memory.
const HistorySize = 100

// TimestampLayout is the format of RequestRecord.Timestamp.
const TimestampLayout = "2006-01-02 15:04:05"

// RequestRecord summarizes one proxied call.
type RequestRecord struct {
	Timestamp  string  `json:"timestamp"`
	Method     string  `json:"method"`
	Path       string  `json:"path"`
	Type       string  `json:"type"`
	StatusCode int     `json:"status_code"`
	Duration   float64 `json:"duration"`
}

// NewRecord builds a RequestRecord with the duration rounded to milliseconds.
func NewRecord(at time.Time, method, path, label string, status int, d time.Duration) RequestRecord {
	return RequestRecord{
		Timestamp:  at.Format(TimestampLayout),
		Method:     method,
		Path:       path,
		Type:       label,
		StatusCode: status,
		Duration:   math.Round(d.Seconds()*1000) / 1000,
	}
}

// Stats is a point-in-time copy of the store.
type Stats struct {
	Requests         int64            `json:"requests"`
	Errors           int64            `json:"errors"`
	TotalRequestTime float64          `json:"total_request_time"`
	RequestTypes     map[string]int64 `json:"request_types"`
	StatusCodes      map[string]int64 `json:"status_codes"`
	LastRequests     []RequestRecord  `json:"last_requests"`
}

// AverageDuration returns the mean upstream time per completed request.
func (s Stats) AverageDuration() float64 {
	var completed int64
	for _, n := range s.StatusCodes {
		completed += n
	}
	if completed == 0 {
		return 0
	}
	return s.TotalRequestTime / float64(completed)
}

// Store holds the counters and the request history. All methods are safe for
// concurrent use; no method blocks on anything but the store mutex.
type Store struct {
	mu sync.Mutex

	requests     int64
	errors       int64
	totalTime    float64
	requestTypes map[string]int64
	statusCodes  map[string]int64

	// history is a ring; head is the slot of the newest record.
	history [HistorySize]RequestRecord
	head    int
	size    int
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		requestTypes: make(map[string]int64),
		statusCodes:  make(map[string]int64),
		head:         -1,
	}
}

// Begin counts an inbound request under label.
func (s *Store) Begin(label string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests++
	s.requestTypes[label]++
}

// Complete accounts for a response obtained from upstream.
func (s *Store) Complete(rec RequestRecord, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statusCodes[strconv.Itoa(rec.StatusCode)]++
	s.totalTime += d.Seconds()
	s.push(rec)
}

// IncrementRequests adds one to the request counter.
func (s *Store) IncrementRequests() {
	s.mu.Lock()
	s.requests++
	s.mu.Unlock()
}

// IncrementError adds one to the transport error counter.
func (s *Store) IncrementError() {
	s.mu.Lock()
	s.errors++
	s.mu.Unlock()
}

// IncrementType adds one to the bucket for label.
func (s *Store) IncrementType(label string) {
	s.mu.Lock()
	s.requestTypes[label]++
	s.mu.Unlock()
}

// IncrementStatus adds one to the bucket for an upstream status code.
func (s *Store) IncrementStatus(code int) {
	s.mu.Lock()
	s.statusCodes[strconv.Itoa(code)]++
	s.mu.Unlock()
}

// AddDuration adds d to the cumulative request time.
func (s *Store) AddDuration(d time.Duration) {
	s.mu.Lock()
	s.totalTime += d.Seconds()
	s.mu.Unlock()
}

// RecordRequest inserts rec at the head of the history, evicting the oldest
// record once the history is full.
func (s *Store) RecordRequest(rec RequestRecord) {
	s.mu.Lock()
	s.push(rec)
	s.mu.Unlock()
}

func (s *Store) push(rec RequestRecord) {
	s.head = (s.head + 1) % HistorySize
	s.history[s.head] = rec
	if s.size < HistorySize {
		s.size++
	}
}

// Requests returns the request counter.
func (s *Store) Requests() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests
}

// Snapshot returns a copy of the current statistics with the history ordered
// newest first.
func (s *Store) Snapshot() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	last := make([]RequestRecord, s.size)
	for i := range s.size {
		last[i] = s.history[(s.head-i+HistorySize)%HistorySize]
	}

	return Stats{
		Requests:         s.requests,
		Errors:           s.errors,
		TotalRequestTime: s.totalTime,
		RequestTypes:     maps.Clone(s.requestTypes),
		StatusCodes:      maps.Clone(s.statusCodes),
		LastRequests:     last,
	}
}
