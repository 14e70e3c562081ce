package state

// EventNotifier is told about state changes so that observers such as the
// monitor API do not have to poll
type EventNotifier interface {
	// NotifyLEDChanged is called after a write was accepted
	NotifyLEDChanged(old, value byte) error
}

// NoOpEventNotifier is a no-op implementation of EventNotifier
type NoOpEventNotifier struct{}

// NotifyLEDChanged is a no-op implementation
func (n *NoOpEventNotifier) NotifyLEDChanged(old, value byte) error {
	return nil
}

// EventNotifierFunc adapts a function to EventNotifier
type EventNotifierFunc func(old, value byte) error

// NotifyLEDChanged calls f
func (f EventNotifierFunc) NotifyLEDChanged(old, value byte) error {
	return f(old, value)
}
