// Package watch polls an OBS request on an interval and reports which
// top-level fields of its responseData changed between polls.
//
// It covers state that obs-websocket exposes only through requests, such as
// GetStats counters or GetRecordStatus timecodes.
package watch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cyradotpink/influencer/internal/obsws"
)

// Caller is the part of a session the poller needs.
type Caller interface {
	SendRequest(ctx context.Context, requestType string, data json.RawMessage) (json.RawMessage, error)
}

// Change is one field whose value differs from the previous poll. Old is
// empty when the field appeared and New is empty when it disappeared.
type Change struct {
	Field string          `json:"field"`
	Old   json.RawMessage `json:"old,omitempty"`
	New   json.RawMessage `json:"new,omitempty"`
}

type Poller struct {
	caller      Caller
	requestType string
	data        json.RawMessage
	logger      zerolog.Logger

	mu      sync.RWMutex
	fields  map[string]struct{} // empty tracks every field
	last    map[string]json.RawMessage
	primed  bool
	running bool
	stopCh  chan struct{}
	done    chan struct{}
	err     error
}

func NewPoller(caller Caller, requestType string, data json.RawMessage, logger zerolog.Logger) *Poller {
	return &Poller{
		caller:      caller,
		requestType: requestType,
		data:        data,
		logger:      logger.With().Str("component", "watch").Str("request", requestType).Logger(),
		fields:      map[string]struct{}{},
		last:        map[string]json.RawMessage{},
	}
}

// Track restricts reporting to the named fields.
func (p *Poller) Track(fields ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, f := range fields {
		p.fields[f] = struct{}{}
	}
}

func (p *Poller) Untrack(field string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.fields, field)
}

// Snapshot returns the tracked fields as of the last successful poll.
func (p *Poller) Snapshot() map[string]json.RawMessage {
	p.mu.RLock()
	defer p.mu.RUnlock()
	cp := make(map[string]json.RawMessage, len(p.last))
	for k, v := range p.last {
		cp[k] = v
	}
	return cp
}

// Poll sends the request once and returns the changes since the previous
// poll, sorted by field. The first poll only records a baseline.
func (p *Poller) Poll(ctx context.Context) ([]Change, error) {
	resp, err := p.caller.SendRequest(ctx, p.requestType, p.data)
	if err != nil {
		return nil, err
	}
	cur, err := p.decode(resp)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	cur = p.filter(cur)
	prev, primed := p.last, p.primed
	p.last, p.primed = cur, true
	if !primed {
		return nil, nil
	}
	return diff(prev, cur), nil
}

// Start polls every interval in the background and calls notify for each
// change. The baseline poll happens before Start returns. Polling stops on
// Stop, when ctx ends, or when the session closes.
func (p *Poller) Start(ctx context.Context, interval time.Duration, notify func(Change)) error {
	if interval <= 0 {
		return fmt.Errorf("watch: interval must be positive, got %s", interval)
	}
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = true
	p.err = nil
	p.stopCh = make(chan struct{})
	p.done = make(chan struct{})
	stop := p.stopCh
	p.mu.Unlock()

	if _, err := p.Poll(ctx); err != nil {
		p.finish(err)
		return err
	}

	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()

		for {
			select {
			case <-t.C:
				changes, err := p.Poll(ctx)
				if err != nil {
					if ctx.Err() != nil || errors.Is(err, obsws.ErrConnectionClosed) {
						p.finish(err)
						return
					}
					p.logger.Warn().Err(err).Msg("poll failed")
					continue
				}
				for _, c := range changes {
					notify(c)
				}
			case <-ctx.Done():
				p.finish(ctx.Err())
				return
			case <-stop:
				p.finish(nil)
				return
			}
		}
	}()
	return nil
}

// Stop ends background polling and waits for the loop to exit.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	if p.stopCh != nil {
		close(p.stopCh)
		p.stopCh = nil
	}
	done := p.done
	p.mu.Unlock()
	<-done
}

// Done is closed when the background loop exits. It is nil before Start.
func (p *Poller) Done() <-chan struct{} {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.done
}

// Err reports why the background loop stopped; nil after Stop.
func (p *Poller) Err() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.err
}

func (p *Poller) finish(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return
	}
	p.running = false
	p.err = err
	close(p.done)
}

func (p *Poller) decode(resp json.RawMessage) (map[string]json.RawMessage, error) {
	cur := map[string]json.RawMessage{}
	if len(resp) == 0 {
		return cur, nil
	}
	if err := json.Unmarshal(resp, &cur); err != nil {
		return nil, fmt.Errorf("watch: %s responseData is not an object: %w", p.requestType, err)
	}
	for k, v := range cur {
		var buf bytes.Buffer
		if err := json.Compact(&buf, v); err == nil {
			cur[k] = buf.Bytes()
		}
	}
	return cur, nil
}

// filter must be called with mu held.
func (p *Poller) filter(cur map[string]json.RawMessage) map[string]json.RawMessage {
	if len(p.fields) == 0 {
		return cur
	}
	out := make(map[string]json.RawMessage, len(p.fields))
	for f := range p.fields {
		if v, ok := cur[f]; ok {
			out[f] = v
		}
	}
	return out
}

func diff(prev, cur map[string]json.RawMessage) []Change {
	var changes []Change
	for f, v := range cur {
		old, ok := prev[f]
		if !ok || !bytes.Equal(old, v) {
			changes = append(changes, Change{Field: f, Old: old, New: v})
		}
	}
	for f, old := range prev {
		if _, ok := cur[f]; !ok {
			changes = append(changes, Change{Field: f, Old: old})
		}
	}
	slices.SortFunc(changes, func(a, b Change) int { return strings.Compare(a.Field, b.Field) })
	return changes
}
