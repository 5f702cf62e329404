package device

// ActionQueue is a persistent FIFO of pending actions.
// Push and Pop return new queues and never modify the receiver, so a State
// holding a queue stays valid after later transitions.
type ActionQueue struct {
	items []*Action
}

// NewActionQueue returns a queue holding actions in order
func NewActionQueue(actions ...*Action) ActionQueue {
	if len(actions) == 0 {
		return ActionQueue{}
	}
	return ActionQueue{items: append([]*Action(nil), actions...)}
}

// Push returns a queue with a appended at the tail
func (q ActionQueue) Push(a *Action) ActionQueue {
	items := make([]*Action, len(q.items), len(q.items)+1)
	copy(items, q.items)
	return ActionQueue{items: append(items, a)}
}

// Pop returns the head and the remaining queue; ok is false when empty.
func (q ActionQueue) Pop() (*Action, ActionQueue, bool) {
	if len(q.items) == 0 {
		return nil, q, false
	}
	return q.items[0], ActionQueue{items: q.items[1:len(q.items):len(q.items)]}, true
}

// Peek returns the head without removing it
func (q ActionQueue) Peek() (*Action, bool) {
	if len(q.items) == 0 {
		return nil, false
	}
	return q.items[0], true
}

func (q ActionQueue) Len() int { return len(q.items) }

// Items returns a copy of the queued actions, head first
func (q ActionQueue) Items() []*Action {
	if len(q.items) == 0 {
		return nil
	}
	return append([]*Action(nil), q.items...)
}
