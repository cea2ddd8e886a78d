package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/zfogg/sidechain/clientsync/pkg/api"
	"github.com/zfogg/sidechain/clientsync/pkg/debounce"
	serrors "github.com/zfogg/sidechain/clientsync/pkg/errors"
	"github.com/zfogg/sidechain/clientsync/pkg/remote"
	"github.com/zfogg/sidechain/clientsync/pkg/syncer"
)

// Presence serves other users' presence and publishes the current user's
// status and typing indicator
type Presence struct {
	deps   Deps
	sync   *syncer.Synchronizer[string, api.Presence]
	logger *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	statusWin *debounce.Window
	typingWin *debounce.Window

	mu         sync.Mutex
	status     string
	published  string
	typingIn   *string
	typingSent *string
	clearTimer *time.Timer
	closed     bool
	wg         sync.WaitGroup
}

// NewPresence creates the presence service. The current user starts online.
func NewPresence(d Deps) *Presence {
	d = d.withDefaults()
	t := d.Timings
	ctx, cancel := context.WithCancel(context.Background())
	p := &Presence{
		deps:   d,
		sync:   syncer.New(d.syncConfig("presence", t.PresenceTTL, t.StatusQuiet, t.DefaultPoll), d.API.PresenceSource()),
		logger: d.Logger.Named("presence"),
		ctx:    ctx,
		cancel: cancel,
		status: api.StatusOnline,
	}
	p.statusWin = debounce.New(t.StatusQuiet, p.flushStatus)
	p.typingWin = debounce.New(t.TypingQuiet, p.flushTyping)
	return p
}

// Get returns the presence of userIDs. Entries cached within the presence
// TTL are served as is; only the rest are fetched, in one batch. Status is
// reported as offline for users not seen recently.
func (p *Presence) Get(ctx context.Context, userIDs []string) (map[string]api.Presence, error) {
	out := make(map[string]api.Presence, len(userIDs))
	var stale []string
	for _, id := range userIDs {
		if id == "" {
			continue
		}
		if v, ok := p.sync.Peek(id); ok && p.deps.Store.IsFresh(p.sync.Key(id)) {
			out[id] = v
			continue
		}
		stale = append(stale, id)
	}

	if len(stale) > 0 {
		p.logger.Debug("Fetching stale presence", zap.Int("users", len(stale)))
		rows, err := p.deps.API.PresenceBatch(ctx, stale)
		if err != nil {
			// Serve whatever is cached for the stale ids.
			for _, id := range stale {
				if v, ok := p.sync.Peek(id); ok {
					out[id] = v
				}
			}
			return p.effective(out), err
		}
		fetched := make(map[string]api.Presence, len(rows))
		for _, row := range rows {
			fetched[row.UserID] = row
		}
		for _, id := range stale {
			row, ok := fetched[id]
			if !ok {
				row = api.Presence{UserID: id, Status: api.StatusOffline}
			}
			p.sync.Prime(id, row)
			out[id] = row
		}
	}
	return p.effective(out), nil
}

func (p *Presence) effective(in map[string]api.Presence) map[string]api.Presence {
	now := p.deps.Clock()
	for id, v := range in {
		v.Status = v.EffectiveStatus(now)
		in[id] = v
	}
	return in
}

// Status loads one user's presence
func (p *Presence) Status(ctx context.Context, userID string) syncer.Result[api.Presence] {
	r := p.sync.Load(ctx, userID)
	if r.Found {
		r.Value.Status = r.Value.EffectiveStatus(p.deps.Clock())
	}
	return r
}

// Watch refreshes a user's presence when their row changes
func (p *Presence) Watch(ctx context.Context, userID string, onChange func(syncer.Result[api.Presence])) *syncer.Subscription[string, api.Presence] {
	topic := remote.TableTopic(api.TableUserPresence, remote.EventAll, eqFilter("user_id", userID))
	return p.sync.Subscribe(ctx, topic, userID, onChange)
}

// SetStatus queues the current user's status. Rapid changes settle into one
// update; a status equal to the last published one is not sent.
func (p *Presence) SetStatus(status string) error {
	switch status {
	case api.StatusOnline, api.StatusAway, api.StatusOffline:
	default:
		return serrors.ValidationError("status", "unknown status "+status)
	}
	if err := p.deps.requireUser(); err != nil {
		return err
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return serrors.ErrDisposed
	}
	p.status = status
	p.mu.Unlock()

	p.statusWin.Signal()
	return nil
}

// SetTyping marks the current user as typing in conversationID. The
// indicator is sent once typing pauses and clears itself shortly after.
func (p *Presence) SetTyping(conversationID string) error {
	if conversationID == "" {
		return serrors.ValidationError("conversation_id", "is required")
	}
	if err := p.deps.requireUser(); err != nil {
		return err
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return serrors.ErrDisposed
	}
	conv := conversationID
	p.typingIn = &conv
	p.mu.Unlock()

	p.typingWin.Signal()
	return nil
}

// StopTyping clears the typing indicator now. A pending indicator is
// dropped.
func (p *Presence) StopTyping() {
	p.clearTyping()
}

// Flush publishes a pending status or typing change without waiting for
// the quiet period
func (p *Presence) Flush() {
	p.statusWin.Flush()
	p.typingWin.Flush()
}

func (p *Presence) flushStatus() {
	p.mu.Lock()
	if p.closed || p.status == p.published {
		p.mu.Unlock()
		return
	}
	status, typing := p.status, p.typingSent
	p.wg.Add(1)
	p.mu.Unlock()
	defer p.wg.Done()

	if err := p.deps.API.UpsertPresence(p.ctx, p.deps.UserID, status, typing); err != nil {
		p.logger.Warn("Failed to publish status", zap.String("status", status), zap.Error(err))
		return
	}
	p.mu.Lock()
	p.published = status
	p.mu.Unlock()
}

func (p *Presence) flushTyping() {
	p.mu.Lock()
	if p.closed || p.typingIn == nil {
		p.mu.Unlock()
		return
	}
	status, typing := p.status, p.typingIn
	if p.clearTimer != nil {
		p.clearTimer.Stop()
	}
	p.clearTimer = time.AfterFunc(p.deps.Timings.TypingClear, p.clearTyping)
	p.wg.Add(1)
	p.mu.Unlock()
	defer p.wg.Done()

	if err := p.deps.API.UpsertPresence(p.ctx, p.deps.UserID, status, typing); err != nil {
		p.logger.Warn("Failed to publish typing indicator", zap.Error(err))
		return
	}
	p.mu.Lock()
	p.typingSent = typing
	p.published = status
	p.mu.Unlock()
}

func (p *Presence) clearTyping() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	if p.clearTimer != nil {
		p.clearTimer.Stop()
		p.clearTimer = nil
	}
	p.typingIn = nil
	if p.typingSent == nil {
		p.mu.Unlock()
		return
	}
	status := p.status
	p.wg.Add(1)
	p.mu.Unlock()
	defer p.wg.Done()

	if err := p.deps.API.UpsertPresence(p.ctx, p.deps.UserID, status, nil); err != nil {
		p.logger.Warn("Failed to clear typing indicator", zap.Error(err))
		return
	}
	p.mu.Lock()
	p.typingSent = nil
	p.mu.Unlock()
}

// Close stops pending updates and publishes the current user as offline
func (p *Presence) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	if p.clearTimer != nil {
		p.clearTimer.Stop()
	}
	p.mu.Unlock()

	p.statusWin.Stop()
	p.typingWin.Stop()
	p.cancel()
	p.wg.Wait()
	p.sync.Close()

	if p.deps.UserID == "" {
		return nil
	}
	if err := p.deps.API.UpsertPresence(ctx, p.deps.UserID, api.StatusOffline, nil); err != nil {
		p.logger.Warn("Failed to publish offline status", zap.Error(err))
		return err
	}
	return nil
}
