package watch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// TestOscillationWindow_DetectsAlternation grounds invariant 8: a
// plugin that flips push/fetch every cycle trips the detector within
// N+1 cycles.
func TestOscillationWindow_DetectsAlternation(t *testing.T) {
	w := newOscillationWindow(60*time.Second, 5)
	now := time.Now()
	kinds := []cycleKind{cyclePush, cycleRemoteConfirmedFetch, cyclePush, cycleRemoteConfirmedFetch, cyclePush, cycleRemoteConfirmedFetch}
	for i, k := range kinds {
		w.record(now.Add(time.Duration(i)*time.Second), k)
	}
	assert.True(t, w.oscillating(), "6 alternating cycles must exceed a threshold of 5")
}

func TestOscillationWindow_NoAlternationDoesNotTrigger(t *testing.T) {
	w := newOscillationWindow(60*time.Second, 5)
	now := time.Now()
	for i := 0; i < 10; i++ {
		w.record(now.Add(time.Duration(i)*time.Second), cyclePush)
	}
	assert.False(t, w.oscillating(), "repeated same-kind cycles are not alternation")
}

func TestOscillationWindow_PruneDropsOldEntries(t *testing.T) {
	w := newOscillationWindow(10*time.Second, 1)
	base := time.Now()
	w.record(base, cyclePush)
	w.record(base.Add(5*time.Second), cycleRemoteConfirmedFetch)
	w.record(base.Add(25*time.Second), cyclePush) // outside the 10s window relative to now
	assert.Len(t, w.records, 1, "entries older than the window must be pruned on the next record")
}

func TestOscillationWindow_Reset(t *testing.T) {
	w := newOscillationWindow(60*time.Second, 1)
	w.record(time.Now(), cyclePush)
	w.noteImplicated([]string{"formatter"})
	w.reset()
	assert.Empty(t, w.records)
	assert.Empty(t, w.implicatedBy)
}
