package web

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// LogBuffer keeps the most recent log lines in a fixed ring. Every line gets
// a sequence number so the UI can poll with ?after= and only fetch new lines.
type LogBuffer struct {
	mu      sync.Mutex
	ring    []logLine
	next    int
	count   int
	seq     uint64
	partial []byte
}

type logLine struct {
	Seq  uint64
	Text string
}

func NewLogBuffer(maxLines int) *LogBuffer {
	if maxLines <= 0 {
		maxLines = 2000
	}
	return &LogBuffer{ring: make([]logLine, maxLines)}
}

// Write implements io.Writer. Text after the last newline is held until the
// next write completes it.
func (b *LogBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	data := p
	if len(b.partial) > 0 {
		data = append(b.partial, p...)
		b.partial = nil
	}
	for {
		i := bytes.IndexByte(data, '\n')
		if i < 0 {
			break
		}
		b.appendLocked(string(data[:i]))
		data = data[i+1:]
	}
	if len(data) > 0 {
		// Bound a runaway unterminated line.
		if len(data) > 64*1024 {
			b.appendLocked(string(data))
		} else {
			b.partial = append([]byte(nil), data...)
		}
	}
	return len(p), nil
}

func (b *LogBuffer) appendLocked(line string) {
	line = strings.TrimRight(line, "\r")
	if strings.TrimSpace(line) == "" {
		return
	}
	b.seq++
	b.ring[b.next] = logLine{Seq: b.seq, Text: line}
	b.next = (b.next + 1) % len(b.ring)
	if b.count < len(b.ring) {
		b.count++
	}
}

// linesLocked returns the held lines oldest first.
func (b *LogBuffer) linesLocked() []logLine {
	out := make([]logLine, 0, b.count)
	start := (b.next - b.count + len(b.ring)) % len(b.ring)
	for i := 0; i < b.count; i++ {
		out = append(out, b.ring[(start+i)%len(b.ring)])
	}
	return out
}

// dropped is the number of lines that fell off the ring.
func (b *LogBuffer) droppedLocked() uint64 {
	return b.seq - uint64(b.count)
}

// Snapshot returns up to tail of the newest lines and how many lines were
// discarded so far.
func (b *LogBuffer) Snapshot(tail int) (lines []string, dropped uint64) {
	q := LogQuery{Tail: tail}
	resp := b.Query(q)
	return resp.Lines, resp.Dropped
}

type LogQuery struct {
	// After skips lines with a sequence number <= After.
	After uint64
	// Match keeps lines containing Match, case-insensitive.
	Match string
	Tail  int
}

type LogsResponse struct {
	NowUTC  string   `json:"now_utc"`
	Dropped uint64   `json:"dropped"`
	LastSeq uint64   `json:"last_seq"`
	Lines   []string `json:"lines"`
}

func (b *LogBuffer) Query(q LogQuery) LogsResponse {
	if q.Tail <= 0 {
		q.Tail = 200
	}
	match := strings.ToLower(q.Match)

	b.mu.Lock()
	all := b.linesLocked()
	resp := LogsResponse{Dropped: b.droppedLocked(), LastSeq: b.seq}
	b.mu.Unlock()

	lines := make([]string, 0, len(all))
	for _, l := range all {
		if l.Seq <= q.After {
			continue
		}
		if match != "" && !strings.Contains(strings.ToLower(l.Text), match) {
			continue
		}
		lines = append(lines, l.Text)
	}
	if len(lines) > q.Tail {
		lines = lines[len(lines)-q.Tail:]
	}
	resp.Lines = lines
	return resp
}

func parseLogQuery(r *http.Request) (LogQuery, error) {
	q := LogQuery{Tail: 200}
	vals := r.URL.Query()
	if s := strings.TrimSpace(vals.Get("tail")); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil || v < 1 || v > 5000 {
			return q, fmt.Errorf("tail must be an integer in [1,5000]")
		}
		q.Tail = v
	}
	if s := strings.TrimSpace(vals.Get("after")); s != "" {
		v, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return q, fmt.Errorf("after must be a sequence number")
		}
		q.After = v
	}
	q.Match = strings.TrimSpace(vals.Get("match"))
	return q, nil
}

func (b *LogBuffer) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !requireGET(w, r) {
			return
		}
		q, err := parseLogQuery(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		resp := b.Query(q)
		resp.NowUTC = time.Now().UTC().Format(time.RFC3339Nano)

		if strings.EqualFold(r.URL.Query().Get("format"), "text") {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			w.Header().Set("Cache-Control", "no-store")
			if resp.Dropped > 0 {
				_, _ = fmt.Fprintf(w, "[dropped=%d]\n", resp.Dropped)
			}
			for _, line := range resp.Lines {
				_, _ = fmt.Fprintln(w, line)
			}
			return
		}
		writeJSON(w, resp)
	})
}
