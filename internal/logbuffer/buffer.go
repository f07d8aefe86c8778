/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package logbuffer provides an in-memory ring buffer of recent log
// entries, exposed over the status API for quick diagnosis without log
// shipping.
package logbuffer

import (
	"encoding/json"
	"strings"
	"sync"
	"time"
)

// Entry is one captured log line.
type Entry struct {
	Timestamp time.Time      `json:"timestamp"`
	Level     string         `json:"level"`
	Message   string         `json:"message"`
	Component string         `json:"component,omitempty"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// Buffer is a thread-safe ring buffer for log entries.
type Buffer struct {
	mu       sync.RWMutex
	entries  []Entry
	capacity int
	head     int
	count    int
}

// New creates a buffer holding at most capacity entries.
func New(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = 1000
	}
	return &Buffer{
		entries:  make([]Entry, capacity),
		capacity: capacity,
	}
}

// Add appends an entry, evicting the oldest when full.
func (b *Buffer) Add(entry Entry) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.entries[b.head] = entry
	b.head = (b.head + 1) % b.capacity
	if b.count < b.capacity {
		b.count++
	}
}

// Recent returns up to limit entries, newest first, optionally filtered by
// level. A limit of 0 returns everything buffered.
func (b *Buffer) Recent(level string, limit int) []Entry {
	b.mu.RLock()
	defer b.mu.RUnlock()

	result := make([]Entry, 0, b.count)
	for i := b.count - 1; i >= 0; i-- {
		start := 0
		if b.count == b.capacity {
			start = b.head
		}
		entry := b.entries[(start+i)%b.capacity]
		if level != "" && !strings.EqualFold(entry.Level, level) {
			continue
		}
		result = append(result, entry)
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result
}

// Len returns the number of buffered entries.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.count
}

// Write implements io.Writer for zerolog output. Lines that are not JSON
// are stored as bare messages.
func (b *Buffer) Write(p []byte) (int, error) {
	entry := Entry{Timestamp: time.Now()}

	var raw map[string]any
	if err := json.Unmarshal(p, &raw); err == nil {
		if lvl, ok := raw["level"].(string); ok {
			entry.Level = lvl
			delete(raw, "level")
		}
		if msg, ok := raw["message"].(string); ok {
			entry.Message = msg
			delete(raw, "message")
		}
		if comp, ok := raw["component"].(string); ok {
			entry.Component = comp
			delete(raw, "component")
		}
		delete(raw, "time")
		if len(raw) > 0 {
			entry.Fields = raw
		}
	} else {
		entry.Message = strings.TrimSpace(string(p))
	}

	b.Add(entry)
	return len(p), nil
}
