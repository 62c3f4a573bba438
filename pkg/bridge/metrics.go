package bridge

import (
	"time"

	"github.com/sirupsen/logrus"
)

func (h *Handle) callStarted() {
	if h.registry == nil {
		return
	}
	h.registry.CallsInFlight.WithLabelValues(h.config.Name).Inc()
}

// callResolved records a resolution in metrics and at Debug level.
func (h *Handle) callResolved(logger *logrus.Entry, name string, submitted time.Time, err error) {
	elapsed := time.Since(submitted)

	result := "ok"
	if err != nil {
		result = KindOf(err).String()
	}

	if h.registry != nil {
		h.registry.CallsInFlight.WithLabelValues(h.config.Name).Dec()
		h.registry.CallsTotal.WithLabelValues(h.config.Name, name, result).Inc()
		h.registry.CallDuration.WithLabelValues(h.config.Name, name).Observe(elapsed.Seconds())
	}

	entry := logger.WithFields(logrus.Fields{
		"kind":     result,
		"duration": elapsed,
	})
	if err != nil {
		entry = entry.WithError(err)
	}
	entry.Debug("call resolved")
}

func (h *Handle) observeCheckout(d time.Duration) {
	if h.registry == nil {
		return
	}
	h.registry.CheckoutDuration.WithLabelValues(h.config.Name).Observe(d.Seconds())
}
