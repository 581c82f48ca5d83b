package realtime

// subscriptionIndex maintains the many-to-many mapping of connections to
// named channels and to owning client IDs, with reverse lookups for both.
// Like the Registry it is owned by the hub goroutine and unlocked.
type subscriptionIndex struct {
	byChannel map[string]map[string]*Connection
	byOwner   map[string]map[string]*Connection
}

func newSubscriptionIndex() *subscriptionIndex {
	return &subscriptionIndex{
		byChannel: make(map[string]map[string]*Connection),
		byOwner:   make(map[string]map[string]*Connection),
	}
}

// Join adds the connection to a channel. Duplicate joins are no-ops so that
// repeated client subscribe frames are tolerated.
func (idx *subscriptionIndex) Join(c *Connection, channel string) {
	if c.Channels == nil {
		c.Channels = make(map[string]struct{})
	}
	c.Channels[channel] = struct{}{}

	members := idx.byChannel[channel]
	if members == nil {
		members = make(map[string]*Connection)
		idx.byChannel[channel] = members
	}
	members[c.ID] = c
}

// Leave removes the connection from a channel. Unknown channels and
// non-members are no-ops, not errors.
func (idx *subscriptionIndex) Leave(c *Connection, channel string) {
	delete(c.Channels, channel)

	members := idx.byChannel[channel]
	if members == nil {
		return
	}
	delete(members, c.ID)
	if len(members) == 0 {
		delete(idx.byChannel, channel)
	}
}

// SetOwner records the owning client ID on the connection and moves it
// between reverse-lookup buckets when the ID changes.
func (idx *subscriptionIndex) SetOwner(c *Connection, ownerClientID string) {
	if ownerClientID == "" || c.OwnerClientID == ownerClientID {
		return
	}
	if c.OwnerClientID != "" {
		idx.removeOwner(c)
	}
	c.OwnerClientID = ownerClientID

	members := idx.byOwner[ownerClientID]
	if members == nil {
		members = make(map[string]*Connection)
		idx.byOwner[ownerClientID] = members
	}
	members[c.ID] = c
}

func (idx *subscriptionIndex) removeOwner(c *Connection) {
	members := idx.byOwner[c.OwnerClientID]
	if members == nil {
		return
	}
	delete(members, c.ID)
	if len(members) == 0 {
		delete(idx.byOwner, c.OwnerClientID)
	}
}

// RemoveAll drops every channel membership and the owner mapping for the
// connection. Called exactly once from connection teardown.
func (idx *subscriptionIndex) RemoveAll(c *Connection) {
	for channel := range c.Channels {
		idx.Leave(c, channel)
	}
	if c.OwnerClientID != "" {
		idx.removeOwner(c)
	}
}

// ByChannel returns the connections subscribed to channel.
func (idx *subscriptionIndex) ByChannel(channel string) map[string]*Connection {
	return idx.byChannel[channel]
}

// ByOwner returns the connections scoped to the given owning client ID.
func (idx *subscriptionIndex) ByOwner(ownerClientID string) map[string]*Connection {
	return idx.byOwner[ownerClientID]
}
