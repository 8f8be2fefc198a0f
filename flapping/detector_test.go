package flapping

import (
	"testing"
	"time"

	"github.com/benoitc/gaffer/template"
	"github.com/shoenig/test/must"
)

func TestWindow_TripsAtAttempts(t *testing.T) {
	policy := template.FlappingPolicy{Attempts: 3, Window: 10 * time.Second, RetryIn: time.Second, MaxRetry: 2}
	w := NewWindow(policy)

	now := time.Now()
	must.Eq(t, Continue, w.RecordExit(now))
	must.Eq(t, Continue, w.RecordExit(now.Add(time.Millisecond)))
	must.Eq(t, Retrying, w.RecordExit(now.Add(2*time.Millisecond)))
}

func TestWindow_StopsFlappingAfterMaxRetry(t *testing.T) {
	policy := template.FlappingPolicy{Attempts: 2, Window: 10 * time.Second, RetryIn: time.Second, MaxRetry: 1}
	w := NewWindow(policy)

	now := time.Now()
	must.Eq(t, Continue, w.RecordExit(now))
	must.Eq(t, Retrying, w.RecordExit(now.Add(time.Millisecond))) // 1st trip, retryCount=1 <= MaxRetry=1

	// The window isn't cleared on trip, so the very next exit inside it
	// re-trips immediately instead of requiring a fresh batch of attempts.
	must.Eq(t, StoppedFlapping, w.RecordExit(now.Add(2*time.Millisecond))) // 2nd trip, retryCount=2 > MaxRetry=1
}

func TestWindow_OutsideWindowDoesNotTrip(t *testing.T) {
	policy := template.FlappingPolicy{Attempts: 2, Window: time.Second, RetryIn: time.Second, MaxRetry: 1}
	w := NewWindow(policy)

	now := time.Now()
	must.Eq(t, Continue, w.RecordExit(now))
	must.Eq(t, Continue, w.RecordExit(now.Add(2*time.Second))) // outside window, first exit evicted
}

func TestWindow_LongLivedRunResets(t *testing.T) {
	policy := template.FlappingPolicy{Attempts: 2, Window: time.Second, RetryIn: time.Second, MaxRetry: 1}
	w := NewWindow(policy)

	w.RecordExit(time.Now())
	w.RecordLongLivedRun()
	must.False(t, w.Tripped())
}

func TestDetector_WindowForReplacesPolicy(t *testing.T) {
	d := NewDetector()
	w1 := d.WindowFor("app.web", template.FlappingPolicy{Attempts: 3, Window: time.Second})
	w2 := d.WindowFor("app.web", template.FlappingPolicy{Attempts: 5, Window: 2 * time.Second})
	must.Eq(t, w1, w2)
	must.Eq(t, 5, w2.policy.Attempts)
}

func TestIsUnexpected(t *testing.T) {
	now := time.Now()
	must.True(t, IsUnexpected(false, 0, now, now, time.Second))
	must.False(t, IsUnexpected(true, 0, now, now.Add(500*time.Millisecond), time.Second))
	must.True(t, IsUnexpected(true, 1, now, now.Add(10*time.Millisecond), time.Second))
	must.True(t, IsUnexpected(true, 0, now, now.Add(2*time.Second), time.Second))
}
