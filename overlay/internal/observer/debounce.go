package observer

import "time"

// debouncer is a trailing-edge timer: every signal restarts the window and
// only the last one in a burst fires. It is owned by the loop goroutine.
type debouncer struct {
	window  time.Duration
	timer   *time.Timer
	timerCh <-chan time.Time
	pending int
}

func newDebouncer(window time.Duration) *debouncer {
	return &debouncer{window: window}
}

// add records one signal and (re)starts the window.
func (d *debouncer) add() {
	d.pending++
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.NewTimer(d.window)
	d.timerCh = d.timer.C
}

// timerC fires when the window expires. Nil (blocks forever) when idle.
func (d *debouncer) timerC() <-chan time.Time {
	return d.timerCh
}

// fire resets the debouncer and returns how many signals were coalesced.
func (d *debouncer) fire() int {
	n := d.pending
	d.pending = 0
	d.stop()
	return n
}

func (d *debouncer) stop() {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
		d.timerCh = nil
	}
}
