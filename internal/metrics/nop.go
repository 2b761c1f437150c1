package metrics

// NopMetrics discards everything.
type NopMetrics struct{}

var _ Collector = (*NopMetrics)(nil)

// NewNop creates a new no-op metrics collector.
func NewNop() *NopMetrics {
	return &NopMetrics{}
}

func (n *NopMetrics) RecordLookup(_ string) {}

func (n *NopMetrics) RecordMalformed(_ int) {}

func (n *NopMetrics) RecordSave(_ int, _ bool) {}

func (n *NopMetrics) SetPending(_ int) {}
