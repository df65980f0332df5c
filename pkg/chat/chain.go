package chat

// ChainRecord is the ordered list of providers visited during one top-level turn.
type ChainRecord struct {
	providers []string
}

// Record appends the provider handling the current hop.
func (c *ChainRecord) Record(providerID string) {
	c.providers = append(c.providers, providerID)
}

// Hop is the zero-based index of the most recently recorded hop.
func (c *ChainRecord) Hop() int {
	return len(c.providers) - 1
}

func (c *ChainRecord) Providers() []string {
	out := make([]string, len(c.providers))
	copy(out, c.providers)
	return out
}

// Revisits reports whether handing off to next would repeat the last provider or
// bounce back to the one before it.
func (c *ChainRecord) Revisits(next string) bool {
	n := len(c.providers)
	if n >= 1 && c.providers[n-1] == next {
		return true
	}
	return n >= 2 && c.providers[n-2] == next
}
