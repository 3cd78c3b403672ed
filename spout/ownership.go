package spout

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"txspout/source/broker"
)

// claimTable enforces one emitter per partition among the emitters of a
// spout. Each emitter holds a random token.
type claimTable struct {
	mu     sync.Mutex
	owners map[broker.Partition]uuid.UUID
}

func newClaimTable() *claimTable {
	return &claimTable{owners: map[broker.Partition]uuid.UUID{}}
}

func (c *claimTable) acquire(p broker.Partition, token uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if owner, ok := c.owners[p]; ok && owner != token {
		return fmt.Errorf("%w: %s held by %s", ErrNotOwner, p, owner)
	}
	c.owners[p] = token
	return nil
}

func (c *claimTable) releaseAll(token uuid.UUID) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for p, owner := range c.owners {
		if owner == token {
			delete(c.owners, p)
			n++
		}
	}
	return n
}

func (c *claimTable) owner(p broker.Partition) (uuid.UUID, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	o, ok := c.owners[p]
	return o, ok
}
