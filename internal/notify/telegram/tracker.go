// Pixivpush - Personalized Pixiv Recommendation Daemon
// Copyright 2026 Pixivpush Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pixivpush/pixivpush

package telegram

import "sync"

// workTracker maps sent message ids to work ids so numeric replies can
// be resolved back to a work. Bounded: when full, the oldest half is
// evicted.
type workTracker struct {
	mu    sync.Mutex
	limit int
	byMsg map[int64]int64
	order []int64
}

func newWorkTracker(limit int) *workTracker {
	if limit < 2 {
		limit = 2
	}
	return &workTracker{
		limit: limit,
		byMsg: make(map[int64]int64, limit),
	}
}

func (t *workTracker) remember(messageID, workID int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.byMsg[messageID]; !exists {
		t.order = append(t.order, messageID)
	}
	t.byMsg[messageID] = workID

	if len(t.order) > t.limit {
		evict := t.order[:len(t.order)/2]
		t.order = append([]int64(nil), t.order[len(t.order)/2:]...)
		for _, id := range evict {
			delete(t.byMsg, id)
		}
	}
}

func (t *workTracker) lookup(messageID int64) (int64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	workID, ok := t.byMsg[messageID]
	return workID, ok
}
