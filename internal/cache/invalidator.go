package cache

import (
	"context"
	"fmt"

	"github.com/storeledger/storeledger/internal/events"
)

// InvalidatorName identifies the cache subscriber on the bus.
const InvalidatorName = "cache-invalidator"

// Register subscribes the cache to cache-dirty events. Delivery is inline so a
// caller reading after its own write never sees the old view.
func (c *Cache) Register(bus *events.Bus) {
	bus.Subscribe(events.TypeCacheDirty, InvalidatorName, c.HandleDirty, events.Inline())
}

// HandleDirty invalidates the scope named by a cache-dirty event.
func (c *Cache) HandleDirty(ctx context.Context, evt events.Event) error {
	dirty, ok := evt.Payload.(events.CacheDirty)
	if !ok {
		return fmt.Errorf("cache: unexpected payload %T", evt.Payload)
	}
	return c.Invalidate(ctx, evt.TenantID, dirty.Scope)
}
