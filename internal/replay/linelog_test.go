package replay

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

type fakeSleeper struct {
	slept []time.Duration
}

func (fs *fakeSleeper) Sleep(ctx context.Context, d time.Duration) error {
	fs.slept = append(fs.slept, d)
	return ctx.Err()
}

func TestReaderReadAll(t *testing.T) {
	in := strings.NewReader(`
# comment

START
0, Sensor 1: 1,2,3
10,1,2,3,4,5,6,7,8,9,10,11,12,13,14,15
`)

	recs, err := NewReader(in).ReadAll()
	if err != nil {
		t.Fatalf("ReadAll() error: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("expected 3 records, got %d", len(recs))
	}
	if !recs[0].Start {
		t.Fatalf("expected START marker, got %+v", recs[0])
	}
	if recs[1].At != 0 || recs[1].Line != "Sensor 1: 1,2,3" {
		t.Fatalf("unexpected record 1: %+v", recs[1])
	}
	if recs[2].At != 10*time.Nanosecond {
		t.Fatalf("expected At=10ns, got %s", recs[2].At)
	}
	if recs[2].Line != "1,2,3,4,5,6,7,8,9,10,11,12,13,14,15" {
		t.Fatalf("unexpected line 2: %q", recs[2].Line)
	}
}

func TestReaderReadAll_InvalidLines(t *testing.T) {
	cases := []string{
		"not-a-valid-line\n",
		"abc,1,2,3\n",
		"-5,1,2,3\n",
		"10,\n",
	}
	for _, in := range cases {
		if _, err := NewReader(strings.NewReader(in)).ReadAll(); err == nil {
			t.Fatalf("ReadAll(%q): expected error", in)
		}
	}
}

func TestPlay_RespectsTimingAndStart(t *testing.T) {
	var lines []string
	fs := &fakeSleeper{}

	recs := []Record{
		{At: 1 * time.Second, Start: true},
		{At: 1 * time.Second, Line: "a"},
		{At: 1*time.Second + 100*time.Millisecond, Line: "b"},
		{At: 2 * time.Second, Start: true},
		{At: 2*time.Second + 50*time.Millisecond, Line: "c"},
	}

	err := Play(context.Background(), recs, 2.0, false, fs, func(line string) error {
		lines = append(lines, line)
		return nil
	})
	if err != nil {
		t.Fatalf("Play() error: %v", err)
	}
	if !reflect.DeepEqual(lines, []string{"a", "b", "c"}) {
		t.Fatalf("lines=%v", lines)
	}
	// Only a->b waits; START resets so c is emitted without waiting.
	if !reflect.DeepEqual(fs.slept, []time.Duration{50 * time.Millisecond}) {
		t.Fatalf("slept=%v", fs.slept)
	}
}

func TestPlay_StopsOnCallbackError(t *testing.T) {
	boom := errors.New("boom")
	recs := []Record{{Line: "a"}, {Line: "b"}}
	calls := 0
	err := Play(context.Background(), recs, 1, true, &fakeSleeper{}, func(string) error {
		calls++
		if calls == 3 {
			return boom
		}
		return nil
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err=%v want boom", err)
	}
}

func TestPlay_HonoursCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	recs := []Record{{Line: "a"}}
	n := 0
	err := Play(ctx, recs, 1, true, &fakeSleeper{}, func(string) error {
		n++
		if n == 5 {
			cancel()
		}
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err=%v want context.Canceled", err)
	}
}

func TestPlay_RejectsBadArgs(t *testing.T) {
	cb := func(string) error { return nil }
	if err := Play(context.Background(), []Record{{Line: "a"}}, 0, false, nil, cb); err == nil {
		t.Fatalf("expected error for speed=0")
	}
	if err := Play(context.Background(), nil, 1, false, nil, cb); err == nil {
		t.Fatalf("expected error for no records")
	}
}

func TestRecordReplay_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.log")
	w, err := CreateWriter(path)
	if err != nil {
		t.Fatalf("CreateWriter() error: %v", err)
	}
	now := time.Now()
	in := []string{"x,y,z,load", "Sensor 2: 1,1,1", "1,2,3"}
	for _, l := range in {
		if err := w.WriteLine(now, l); err != nil {
			t.Fatalf("WriteLine() error: %v", err)
		}
	}
	if err := w.WriteLine(now, "bad\nline"); err == nil {
		t.Fatalf("expected error for embedded newline")
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	if err := w.WriteLine(now, "late"); err == nil {
		t.Fatalf("expected error after close")
	}

	recs, err := ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error: %v", err)
	}
	var out []string
	fs := &fakeSleeper{}
	if err := Play(context.Background(), recs, 1, false, fs, func(l string) error {
		out = append(out, l)
		return nil
	}); err != nil {
		t.Fatalf("Play() error: %v", err)
	}
	if !reflect.DeepEqual(out, in) {
		t.Fatalf("out=%v want %v", out, in)
	}
	if len(fs.slept) != 0 {
		t.Fatalf("expected no sleeps, got %v", fs.slept)
	}
}
