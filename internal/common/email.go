package common

import (
	"context"
	"sync"
)

// Email is a rendered plain-text message.
type Email struct {
	To      []string
	Subject string
	Text    string
}

// EmailSender delivers rendered messages.
type EmailSender interface {
	Send(ctx context.Context, msg Email) error
}

// InMemoryEmail records messages for tests.
type InMemoryEmail struct {
	mu     sync.Mutex
	Outbox []Email
}

// Send records the email in memory.
func (m *InMemoryEmail) Send(_ context.Context, msg Email) error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Outbox = append(m.Outbox, msg)
	return nil
}

// Sent returns a copy of the outbox.
func (m *InMemoryEmail) Sent() []Email {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Email(nil), m.Outbox...)
}
