package plugin

// ClaimedFields is the per-node field-claim accumulator folded across
// explode-stage plugins in priority order. It is owned by the single
// goroutine processing one node — spec §9 is explicit that there is "no
// shared mutable set across concurrent node processing"; concurrency
// safety comes from never sharing an instance across nodes, not from
// internal locking.
type ClaimedFields struct {
	by map[string]string // field name -> plugin name that claimed it
}

// NewClaimedFields returns an empty accumulator.
func NewClaimedFields() *ClaimedFields {
	return &ClaimedFields{by: make(map[string]string)}
}

// Claim records that pluginName owns field. Returns the name of the
// plugin that already owns it (and false) if the field was already
// claimed by someone else; returns ("", true) on a fresh claim.
func (c *ClaimedFields) Claim(field, pluginName string) (conflictWith string, ok bool) {
	if owner, taken := c.by[field]; taken {
		return owner, false
	}
	c.by[field] = pluginName
	return "", true
}

// Has reports whether field has already been claimed by anyone.
func (c *ClaimedFields) Has(field string) bool {
	_, ok := c.by[field]
	return ok
}

// Names returns all claimed field names, order unspecified.
func (c *ClaimedFields) Names() []string {
	out := make([]string, 0, len(c.by))
	for f := range c.by {
		out = append(out, f)
	}
	return out
}

// OwnerOf returns which plugin claimed field, if any.
func (c *ClaimedFields) OwnerOf(field string) (string, bool) {
	owner, ok := c.by[field]
	return owner, ok
}
