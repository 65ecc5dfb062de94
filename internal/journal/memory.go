package journal

import "sync"

// Memory keeps recorded commands in a slice; used in tests.
type Memory struct {
	mu       sync.Mutex
	commands []Command
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) RecordCommand(c Command) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commands = append(m.commands, c)
	return nil
}

func (m *Memory) Commands() []Command {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Command, len(m.commands))
	copy(out, m.commands)
	return out
}

func (m *Memory) Close() error { return nil }
