package syncer

import (
	"context"
	"sort"
	"sync"
)

// EntityLocks serializes edits per entity. Blocked edits are admitted in
// arrival order. One instance may be shared by several synchronizers whose
// edits touch the same entities.
type EntityLocks struct {
	mu     sync.Mutex
	queues map[string]*entityQueue
}

type entityQueue struct {
	slot chan struct{}
	refs int
}

// NewEntityLocks creates an empty lock table
func NewEntityLocks() *EntityLocks {
	return &EntityLocks{queues: make(map[string]*entityQueue)}
}

// Acquire waits for entity's turn. The returned func releases it.
func (l *EntityLocks) Acquire(ctx context.Context, entity string) (func(), error) {
	l.mu.Lock()
	q, ok := l.queues[entity]
	if !ok {
		q = &entityQueue{slot: make(chan struct{}, 1)}
		l.queues[entity] = q
	}
	q.refs++
	l.mu.Unlock()

	select {
	case q.slot <- struct{}{}:
	case <-ctx.Done():
		l.unref(entity, q)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-q.slot
			l.unref(entity, q)
		})
	}, nil
}

// AcquireAll waits for every entity in turn, in sorted order so that two
// callers locking overlapping sets cannot deadlock. Duplicates are locked
// once. The returned func releases them all.
func (l *EntityLocks) AcquireAll(ctx context.Context, entities ...string) (func(), error) {
	ids := append([]string(nil), entities...)
	sort.Strings(ids)

	var releases []func()
	releaseAll := func() {
		for i := len(releases) - 1; i >= 0; i-- {
			releases[i]()
		}
	}
	for i, id := range ids {
		if i > 0 && id == ids[i-1] {
			continue
		}
		release, err := l.Acquire(ctx, id)
		if err != nil {
			releaseAll()
			return nil, err
		}
		releases = append(releases, release)
	}
	return releaseAll, nil
}

// Waiting returns how many edits hold or wait for entity
func (l *EntityLocks) Waiting(entity string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if q, ok := l.queues[entity]; ok {
		return q.refs
	}
	return 0
}

func (l *EntityLocks) unref(entity string, q *entityQueue) {
	l.mu.Lock()
	defer l.mu.Unlock()
	q.refs--
	if q.refs == 0 {
		delete(l.queues, entity)
	}
}
