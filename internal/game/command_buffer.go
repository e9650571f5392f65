package game

import "sync"

// Command pairs an input with the session that delivered it so a tick can
// apply inputs in arrival order per session, sessions in ascending ID order.
type Command struct {
	SessionID uint32
	Input     InputCommand
}

// Overflow is notified each time a full ring sheds a command.
type Overflow func()

// CommandBuffer collects the inputs that arrive between two ticks. The
// packet handler appends from its goroutine while the tick loop empties the
// ring; capacity never grows, so a flood of inputs sheds the newest ones
// instead of growing without bound.
type CommandBuffer struct {
	mu       sync.Mutex
	data     []Command
	head     int
	tail     int
	count    int
	overflow Overflow
}

// NewCommandBuffer sizes the ring. Capacity is at least one slot.
func NewCommandBuffer(capacity int, overflow Overflow) *CommandBuffer {
	if capacity < 1 {
		capacity = 1
	}
	return &CommandBuffer{
		data:     make([]Command, capacity),
		overflow: overflow,
	}
}

// Push appends one command. A full ring drops it, fires the overflow
// callback, and reports false.
func (b *CommandBuffer) Push(cmd Command) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.count == len(b.data) {
		if b.overflow != nil {
			b.overflow()
		}
		return false
	}
	b.data[b.tail] = cmd
	b.tail = (b.tail + 1) % len(b.data)
	b.count++
	return true
}

// Drain hands the collected commands to the caller, oldest first, and
// resets the ring.
func (b *CommandBuffer) Drain() []Command {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.count == 0 {
		return nil
	}
	commands := make([]Command, b.count)
	for i := 0; i < b.count; i++ {
		commands[i] = b.data[(b.head+i)%len(b.data)]
	}
	b.head = 0
	b.tail = 0
	b.count = 0
	return commands
}

// Len reports the number of staged commands.
func (b *CommandBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}
