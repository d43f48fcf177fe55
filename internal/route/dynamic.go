package route

import (
	"context"
	"sync/atomic"
)

// DynamicDirectory is a Directory whose table can be swapped at runtime, so
// configuration reloads take effect for new sessions without restarting.
// Sessions already established keep their original decision.
type DynamicDirectory struct {
	table atomic.Value // StaticDirectory
}

// NewDynamicDirectory creates a DynamicDirectory serving initial. A nil
// initial table behaves as empty.
func NewDynamicDirectory(initial StaticDirectory) *DynamicDirectory {
	d := &DynamicDirectory{}
	if initial == nil {
		initial = StaticDirectory{}
	}
	d.table.Store(initial)
	return d
}

// Swap atomically replaces the directory table. Lookups in flight keep
// reading the table they started with.
func (d *DynamicDirectory) Swap(next StaticDirectory) {
	if next == nil {
		next = StaticDirectory{}
	}
	d.table.Store(next)
}

func (d *DynamicDirectory) Lookup(ctx context.Context, language string) (Entry, bool, error) {
	return d.table.Load().(StaticDirectory).Lookup(ctx, language)
}
