// Package led drives the status and user LEDs of the peripheral.
package led

import (
	"fmt"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"
)

// LED is a single on/off indicator
type LED interface {
	Name() string
	Set(on bool) error
	Toggle() error
	On() bool
}

// Spec prefixes understood by Parse
const (
	KindMemory = "mem"
	KindSysfs  = "sysfs"
)

// Parse builds an LED from a "<kind>:<name>" spec, e.g. "sysfs:led0"
func Parse(spec string) (LED, error) {
	kind, name, ok := strings.Cut(spec, ":")
	if !ok || name == "" {
		return nil, fmt.Errorf("invalid led spec %q (want <kind>:<name>)", spec)
	}

	switch kind {
	case KindMemory:
		return NewMemory(name), nil
	case KindSysfs:
		return NewSysfs(name)
	default:
		return nil, fmt.Errorf("invalid led kind %q in %q (must be %s or %s)", kind, spec, KindMemory, KindSysfs)
	}
}

// Memory is an LED that only exists in process memory. Every transition is
// counted so callers can observe blink activity.
type Memory struct {
	name string

	mtx         sync.Mutex
	on          bool
	transitions int
	failWith    error
}

// NewMemory creates an LED that starts off
func NewMemory(name string) *Memory {
	return &Memory{name: name}
}

// Name returns the LED name
func (m *Memory) Name() string {
	return m.name
}

// Set switches the LED
func (m *Memory) Set(on bool) error {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	if m.failWith != nil {
		return m.failWith
	}
	if m.on != on {
		m.transitions++
	}
	m.on = on
	log.Tracef("pkg led; %s -> %v", m.name, on)
	return nil
}

// Toggle inverts the LED
func (m *Memory) Toggle() error {
	m.mtx.Lock()
	on := !m.on
	m.mtx.Unlock()
	return m.Set(on)
}

// On reports the LED state
func (m *Memory) On() bool {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	return m.on
}

// Transitions returns how many times the LED changed state
func (m *Memory) Transitions() int {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	return m.transitions
}

// FailWith makes subsequent Set calls return err; nil restores normal operation
func (m *Memory) FailWith(err error) {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	m.failWith = err
}
