package marketplace

import (
	"sync/atomic"
	"time"
)

// HeightSource reports the current block height of the host chain.
type HeightSource interface {
	CurrentHeight() uint64
}

// ManualHeight is a height advanced explicitly by the host or a test.
type ManualHeight struct {
	h atomic.Uint64
}

// NewManualHeight starts at height.
func NewManualHeight(height uint64) *ManualHeight {
	m := &ManualHeight{}
	m.h.Store(height)
	return m
}

func (m *ManualHeight) CurrentHeight() uint64 { return m.h.Load() }

// Set moves the height to height.
func (m *ManualHeight) Set(height uint64) { m.h.Store(height) }

// Advance adds n blocks and returns the new height.
func (m *ManualHeight) Advance(n uint64) uint64 { return m.h.Add(n) }

// ClockHeight derives height from wall time: one block per interval since genesis.
type ClockHeight struct {
	Genesis  time.Time
	Interval time.Duration
	now      func() time.Time
}

// NewClockHeight creates a clock-driven height source.
func NewClockHeight(genesis time.Time, interval time.Duration) *ClockHeight {
	if interval <= 0 {
		interval = 6 * time.Second
	}
	return &ClockHeight{Genesis: genesis, Interval: interval, now: time.Now}
}

func (c *ClockHeight) CurrentHeight() uint64 {
	elapsed := c.now().Sub(c.Genesis)
	if elapsed <= 0 {
		return 0
	}
	return uint64(elapsed / c.Interval)
}
