// Package cache stores computed baseline windows. Keys carry the store's data
// version, so any write to the store retires every earlier entry without an
// explicit invalidation step.
package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/claude/healthlens/internal/analytics"
	"github.com/claude/healthlens/internal/models"
)

// Key identifies one baseline window.
type Key struct {
	MetricKey  string
	AsOf       time.Time
	WindowDays int
	// Version identifies the stored data the window was computed from.
	Version string
}

// String renders the key as baseline:<metric>:<date>:<window>[:<version>].
func (k Key) String() string {
	s := fmt.Sprintf("baseline:%s:%s:%d", k.MetricKey, models.FormatDate(k.AsOf), k.WindowDays)
	if k.Version != "" {
		s += ":" + k.Version
	}
	return s
}

// BaselineCache is implemented by Memory and Redis.
type BaselineCache interface {
	Get(ctx context.Context, key Key) (analytics.BaselineWindow, bool, error)
	Set(ctx context.Context, key Key, window analytics.BaselineWindow) error
}

// Memory is an in-process BaselineCache.
type Memory struct {
	entries sync.Map // string -> analytics.BaselineWindow
}

// NewMemory returns an empty in-process cache.
func NewMemory() *Memory {
	return &Memory{}
}

// Get returns the cached window for key.
func (m *Memory) Get(_ context.Context, key Key) (analytics.BaselineWindow, bool, error) {
	v, ok := m.entries.Load(key.String())
	if !ok {
		return analytics.BaselineWindow{}, false, nil
	}
	return v.(analytics.BaselineWindow), true, nil
}

// Set stores window under key.
func (m *Memory) Set(_ context.Context, key Key, window analytics.BaselineWindow) error {
	m.entries.Store(key.String(), window)
	return nil
}

// Len counts entries; used by stats.
func (m *Memory) Len() int {
	n := 0
	m.entries.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
