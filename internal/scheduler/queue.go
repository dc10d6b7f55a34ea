package scheduler

import "container/heap"

// taskQueue is a min-heap on ScheduledFor. Ties go to the higher priority,
// then to the task scheduled first.
type taskQueue []*entry

type entry struct {
	task  Task
	seq   uint64
	index int
}

func (q taskQueue) Len() int { return len(q) }

func (q taskQueue) Less(i, j int) bool {
	a, b := q[i], q[j]
	if !a.task.ScheduledFor.Equal(b.task.ScheduledFor) {
		return a.task.ScheduledFor.Before(b.task.ScheduledFor)
	}
	if a.task.Priority != b.task.Priority {
		return a.task.Priority > b.task.Priority
	}
	return a.seq < b.seq
}

func (q taskQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *taskQueue) Push(x any) {
	e := x.(*entry)
	e.index = len(*q)
	*q = append(*q, e)
}

func (q *taskQueue) Pop() any {
	old := *q
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*q = old[:n-1]
	return e
}

func (q taskQueue) peek() *entry {
	if len(q) == 0 {
		return nil
	}
	return q[0]
}

var _ heap.Interface = (*taskQueue)(nil)
