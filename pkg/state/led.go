package state

import (
	"sync"

	log "github.com/sirupsen/logrus"
)

// LEDState holds the value last accepted by the LED characteristic.
// It starts at zero and lives for the whole process.
type LEDState struct {
	value    byte
	notifier EventNotifier

	mutex sync.RWMutex
}

// NewLEDState creates a zeroed LED state
func NewLEDState() *LEDState {
	return &LEDState{
		notifier: &NoOpEventNotifier{},
	}
}

// SetEventNotifier sets the notifier called after every accepted value
func (s *LEDState) SetEventNotifier(notifier EventNotifier) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if notifier == nil {
		notifier = &NoOpEventNotifier{}
	}
	s.notifier = notifier
}

// Get returns the stored value
func (s *LEDState) Get() byte {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.value
}

// On reports whether the stored value switches the LED on
func (s *LEDState) On() bool {
	return s.Get() != 0
}

// Set stores a value accepted by a write
func (s *LEDState) Set(value byte) {
	s.mutex.Lock()
	old := s.value
	s.value = value
	notifier := s.notifier
	s.mutex.Unlock()

	log.Debugf("LED value 0x%02x -> 0x%02x", old, value)
	if err := notifier.NotifyLEDChanged(old, value); err != nil {
		log.Warnf("Failed to notify LED change: %v", err)
	}
}
