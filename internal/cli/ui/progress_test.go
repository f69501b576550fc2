package ui

import (
	"bytes"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

// syncBuffer guards a bytes.Buffer written by the spinner goroutine
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestSpinnerAnimatesUntilStopped(t *testing.T) {
	var buf syncBuffer
	spinner := NewSpinner(&buf, SpinnerOptions{Message: "Flushing", NoColor: true, Interval: 5 * time.Millisecond})

	spinner.Start()
	time.Sleep(30 * time.Millisecond)
	spinner.Stop()

	if !strings.Contains(buf.String(), "Flushing") {
		t.Errorf("Expected spinner frames, got %q", buf.String())
	}
}

func TestSpinnerStopWithoutStart(t *testing.T) {
	var buf syncBuffer
	spinner := NewSpinner(&buf, SpinnerOptions{})

	spinner.Stop()
	spinner.Stop()

	if buf.String() != "" {
		t.Errorf("Expected no output, got %q", buf.String())
	}
}

func TestSpinnerDefaultInterval(t *testing.T) {
	spinner := NewSpinner(&bytes.Buffer{}, SpinnerOptions{})
	if spinner.interval != 100*time.Millisecond {
		t.Errorf("Expected default interval 100ms, got %v", spinner.interval)
	}
}

func TestWithSpinner(t *testing.T) {
	var buf syncBuffer
	err := WithSpinner(&buf, "Clearing cache", true, func() error { return nil })
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !strings.Contains(buf.String(), "✓ Clearing cache") {
		t.Errorf("Expected success line, got %q", buf.String())
	}
}

func TestWithSpinnerError(t *testing.T) {
	var buf syncBuffer
	want := errors.New("redis down")

	err := WithSpinner(&buf, "Clearing cache", true, func() error { return want })
	if !errors.Is(err, want) {
		t.Fatalf("Expected %v, got %v", want, err)
	}
	if !strings.Contains(buf.String(), "❌ Clearing cache failed") {
		t.Errorf("Expected failure line, got %q", buf.String())
	}
}

func TestProgressBarRender(t *testing.T) {
	var buf bytes.Buffer
	bar := NewProgressBar(&buf, ProgressBarOptions{Total: 4, Width: 8, Message: "rows", NoColor: true})

	bar.Set(2)

	if !strings.Contains(buf.String(), "[████░░░░]  50% 2/4 rows") {
		t.Errorf("Unexpected render: %q", buf.String())
	}
}

func TestProgressBarCapsAtTotal(t *testing.T) {
	bar := NewProgressBar(&bytes.Buffer{}, ProgressBarOptions{Total: 3, NoColor: true})
	bar.Set(10)

	if bar.Current() != 3 {
		t.Errorf("Expected progress capped at 3, got %d", bar.Current())
	}
}

func TestProgressBarZeroTotal(t *testing.T) {
	var buf bytes.Buffer
	NewProgressBar(&buf, ProgressBarOptions{NoColor: true}).Set(5)

	if buf.Len() != 0 {
		t.Errorf("Expected no output for zero total, got %q", buf.String())
	}
}

func TestProgressBarDefaultWidth(t *testing.T) {
	bar := NewProgressBar(&bytes.Buffer{}, ProgressBarOptions{Total: 1})
	if bar.width != 40 {
		t.Errorf("Expected default width 40, got %d", bar.width)
	}
}

func TestWithProgress(t *testing.T) {
	var buf bytes.Buffer
	err := WithProgress(&buf, "Imported 4 rows", 4, true, func(bar *ProgressBar) error {
		bar.Set(2)
		bar.Set(4)
		return nil
	})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !strings.Contains(buf.String(), "100% 4/4") {
		t.Errorf("Expected completed bar, got %q", buf.String())
	}
	if !strings.Contains(buf.String(), "✓ Imported 4 rows") {
		t.Errorf("Expected success line, got %q", buf.String())
	}
}

func TestWithProgressError(t *testing.T) {
	var buf bytes.Buffer
	want := errors.New("constraint violated")

	err := WithProgress(&buf, "Importing", 4, true, func(bar *ProgressBar) error {
		bar.Set(1)
		return want
	})
	if !errors.Is(err, want) {
		t.Fatalf("Expected %v, got %v", want, err)
	}
	if strings.Contains(buf.String(), "✓") {
		t.Errorf("Expected no success line, got %q", buf.String())
	}
}
