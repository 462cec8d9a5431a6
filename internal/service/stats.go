package service

import (
	"sync/atomic"

	"wadispatch/internal/models"
)

// StatsSink receives delivery outcome counts. Implementations must be safe
// for concurrent use and must not block.
type StatsSink interface {
	RecordSent()
	RecordFailed()
	RecordDelivered()
	RecordRead()
}

// DeliveryStats keeps process-local delivery counters.
type DeliveryStats struct {
	sent      atomic.Int64
	delivered atomic.Int64
	read      atomic.Int64
	failed    atomic.Int64
}

func NewDeliveryStats() *DeliveryStats {
	return &DeliveryStats{}
}

func (s *DeliveryStats) RecordSent()      { s.sent.Add(1) }
func (s *DeliveryStats) RecordFailed()    { s.failed.Add(1) }
func (s *DeliveryStats) RecordDelivered() { s.delivered.Add(1) }
func (s *DeliveryStats) RecordRead()      { s.read.Add(1) }

func (s *DeliveryStats) GetStatistics() models.DeliveryStatistics {
	return models.DeliveryStatistics{
		Sent:      s.sent.Load(),
		Delivered: s.delivered.Load(),
		Read:      s.read.Load(),
		Failed:    s.failed.Load(),
	}
}

// MultiSink forwards every event to each sink in order.
type MultiSink []StatsSink

func NewMultiSink(sinks ...StatsSink) MultiSink {
	out := make(MultiSink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

func (m MultiSink) RecordSent() {
	for _, s := range m {
		s.RecordSent()
	}
}

func (m MultiSink) RecordFailed() {
	for _, s := range m {
		s.RecordFailed()
	}
}

func (m MultiSink) RecordDelivered() {
	for _, s := range m {
		s.RecordDelivered()
	}
}

func (m MultiSink) RecordRead() {
	for _, s := range m {
		s.RecordRead()
	}
}

// RecordReceipt counts a provider status receipt. Only delivered and read
// receipts are counted; it reports whether the receipt was used.
func RecordReceipt(sink StatsSink, status string) bool {
	switch status {
	case models.ReceiptDelivered:
		sink.RecordDelivered()
		return true
	case models.ReceiptRead:
		sink.RecordRead()
		return true
	default:
		return false
	}
}

type nopSink struct{}

func (nopSink) RecordSent()      {}
func (nopSink) RecordFailed()    {}
func (nopSink) RecordDelivered() {}
func (nopSink) RecordRead()      {}
