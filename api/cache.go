/*
cache.go - Short-TTL leaderboard cache

Leaderboards are recomputed from wallets on every miss, which is a full-table
scan per club. Rankings tolerate a few seconds of staleness, so responses are
cached briefly. Wallet and transaction reads are never cached: a member who
just spent points must see the new balance immediately.
*/
package api

import (
	"fmt"
	"sync"
	"time"

	"github.com/stagepass/points-engine/economy"
)

type leaderboardCache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[string]cachedLeaderboard
}

type cachedLeaderboard struct {
	dtos    []LeaderboardEntryDTO
	expires time.Time
}

func newLeaderboardCache(ttl time.Duration) *leaderboardCache {
	return &leaderboardCache{
		ttl:     ttl,
		entries: make(map[string]cachedLeaderboard),
	}
}

func (c *leaderboardCache) get(clubID economy.ClubID, limit int) ([]LeaderboardEntryDTO, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[cacheKey(clubID, limit)]
	if !ok || time.Now().After(e.expires) {
		return nil, false
	}
	return e.dtos, true
}

func (c *leaderboardCache) put(clubID economy.ClubID, limit int, dtos []LeaderboardEntryDTO) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Opportunistic eviction keeps the map from growing unbounded
	now := time.Now()
	for k, e := range c.entries {
		if now.After(e.expires) {
			delete(c.entries, k)
		}
	}
	c.entries[cacheKey(clubID, limit)] = cachedLeaderboard{
		dtos:    dtos,
		expires: now.Add(c.ttl),
	}
}

func cacheKey(clubID economy.ClubID, limit int) string {
	return fmt.Sprintf("%s:%d", clubID, limit)
}
