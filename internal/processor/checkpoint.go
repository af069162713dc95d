package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/hiber-niu/heritrix-mongodb-writer/internal/checkpoint"
)

// State is the persisted form of the processor's counters.
type State struct {
	URLsWritten  int64                       `json:"urlsWritten"`
	Stats        map[string]map[string]int64 `json:"stats"`
	SerialNumber int64                       `json:"serialNumber,omitempty"`
}

// restoreState mirrors State but tells an absent urlsWritten from a zero one.
type restoreState struct {
	URLsWritten  *int64                      `json:"urlsWritten"`
	Stats        map[string]map[string]int64 `json:"stats"`
	SerialNumber int64                       `json:"serialNumber"`
}

// Snapshot encodes the counters as JSON.
func (p *Processor) Snapshot() ([]byte, error) {
	state := State{
		URLsWritten: p.urlsWritten.Load(),
		Stats:       p.stats.Snapshot(),
	}
	if p.serial != nil {
		state.SerialNumber = p.serial.Load()
	}
	data, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("encode checkpoint: %w", err)
	}
	return data, nil
}

// Restore loads counters from a Snapshot. urlsWritten is replaced when
// present, stats are added to whatever has accumulated so far. The writer
// serial only moves forward.
func (p *Processor) Restore(data []byte) error {
	var state restoreState
	if err := json.Unmarshal(data, &state); err != nil {
		return fmt.Errorf("decode checkpoint: %w", err)
	}
	if state.URLsWritten != nil {
		p.urlsWritten.Store(*state.URLsWritten)
	}
	p.AddStats(state.Stats)
	if p.serial == nil {
		p.serial = new(atomic.Int64)
	}
	for {
		cur := p.serial.Load()
		if state.SerialNumber <= cur || p.serial.CompareAndSwap(cur, state.SerialNumber) {
			break
		}
	}
	return nil
}

// Checkpoint saves a Snapshot under name.
func (p *Processor) Checkpoint(ctx context.Context, store checkpoint.Store, name string) error {
	data, err := p.Snapshot()
	if err != nil {
		return err
	}
	if err := store.Save(ctx, name, data); err != nil {
		return fmt.Errorf("save checkpoint %s: %w", name, err)
	}
	p.logger.Info("checkpoint saved",
		zap.String("name", name),
		zap.Int64("urls_written", p.URLsWritten()),
	)
	return nil
}

// Resume restores from the checkpoint saved under name. A missing checkpoint
// is a fresh start and reports false.
func (p *Processor) Resume(ctx context.Context, store checkpoint.Store, name string) (bool, error) {
	data, err := store.Load(ctx, name)
	if errors.Is(err, checkpoint.ErrNotFound) {
		p.logger.Info("no checkpoint to resume from", zap.String("name", name))
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load checkpoint %s: %w", name, err)
	}
	if err := p.Restore(data); err != nil {
		return false, err
	}
	p.logger.Info("resumed from checkpoint",
		zap.String("name", name),
		zap.Int64("urls_written", p.URLsWritten()),
	)
	return true, nil
}
