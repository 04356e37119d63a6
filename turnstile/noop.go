package turnstile

// Noop implements Gate for lanes without a physical barrier.
type Noop struct{}

// Open implements Gate.Open.
func (n *Noop) Open() error { return nil }

// Close implements Gate.Close.
func (n *Noop) Close() error { return nil }

// Release implements Gate.Release.
func (n *Noop) Release() error { return nil }
