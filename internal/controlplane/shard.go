package controlplane

import "sync"

// taskLocks shards a mutex per task_id, serializing the persist→dispatch
// critical section for NEW_TASK/COMPLETED_TASK on the same task while
// letting different tasks proceed in parallel (spec.md §4.4), generalized
// from the teacher's sync.RWMutex-guarded subscriber maps into a
// map[string]*sync.Mutex keyed by task_id.
type taskLocks struct {
	locks sync.Map // task_id -> *sync.Mutex
}

// Lock acquires the mutex for taskID, creating it on first use, and
// returns the matching unlock function.
func (t *taskLocks) Lock(taskID string) func() {
	v, _ := t.locks.LoadOrStore(taskID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}
