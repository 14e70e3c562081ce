package peripheral

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/jwoglom/bleperipheral/pkg/led"

	log "github.com/sirupsen/logrus"
)

// Blinker toggles the run LED at a fixed interval
type Blinker struct {
	led            led.LED
	updateInterval time.Duration
	blinks         int64
}

// NewBlinker creates a blinker for l
func NewBlinker(l led.LED, updateInterval time.Duration) *Blinker {
	return &Blinker{
		led:            l,
		updateInterval: updateInterval,
	}
}

// Run toggles the LED every interval until ctx is done
func (b *Blinker) Run(ctx context.Context) {
	log.Debugf("Starting blink loop with interval: %v", b.updateInterval)

	ticker := time.NewTicker(b.updateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := b.led.Toggle(); err != nil {
				log.Warnf("Failed to toggle %s LED: %v", b.led.Name(), err)
				continue
			}
			atomic.AddInt64(&b.blinks, 1)
		case <-ctx.Done():
			log.Debug("Stopping blink loop")
			return
		}
	}
}

// Blinks returns how many toggles succeeded
func (b *Blinker) Blinks() int {
	return int(atomic.LoadInt64(&b.blinks))
}
