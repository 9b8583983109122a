package session

import "sync"

// task is the bookkeeping shared by generations and action runs: a release
// func for the registry entry, a done channel and an end hook that runs
// exactly once whichever path gets there first.
type task struct {
	release func()
	done    chan struct{}
	endOnce sync.Once
	onEnd   func()
}

func newTask(release func(), onEnd func()) *task {
	return &task{
		release: release,
		done:    make(chan struct{}),
		onEnd:   onEnd,
	}
}

func (t *task) end() {
	t.endOnce.Do(func() {
		t.release()
		if t.onEnd != nil {
			t.onEnd()
		}
	})
}

// Done is closed once the goroutine of the task has returned.
func (t *task) Done() <-chan struct{} {
	return t.done
}
