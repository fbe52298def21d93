package bridge

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/tehcyx/girc-bridge/pkg/metrics"
)

// keepAlive writes a heartbeat every period until ctx is cancelled or a
// write fails. close() waits for it to return before closing the socket.
func (b *Binding) keepAlive(ctx context.Context, period time.Duration, m *metrics.Metrics) {
	defer b.keepalive.Done()

	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if ctx.Err() != nil {
				return
			}
			if err := b.Send(Heartbeat()); err != nil {
				log.WithFields(log.Fields{
					"conn":    b.Key.Conn,
					"channel": b.Key.Channel,
				}).Debugf("Heartbeat stopped: %v", err)
				return
			}
			m.Heartbeats.Inc()
		}
	}
}
