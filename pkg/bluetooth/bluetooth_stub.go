//go:build !linux

package bluetooth

import (
	"errors"

	log "github.com/sirupsen/logrus"
)

var errUnsupportedPlatform = errors.New("bluetooth not supported on this platform")

// unsupportedBackend stands in for the hci and bluez backends on non-Linux platforms
type unsupportedBackend struct {
	name string
}

func newHCIBackend(opts Options) (Backend, error) {
	log.Warn("The hci backend is only supported on Linux. Use the sim backend instead.")
	return &unsupportedBackend{name: BackendHCI}, nil
}

func newBlueZBackend(opts Options) (Backend, error) {
	log.Warn("The bluez backend is only supported on Linux. Use the sim backend instead.")
	return &unsupportedBackend{name: BackendBlueZ}, nil
}

func (u *unsupportedBackend) Enable(events ConnectionHandler) error {
	return errUnsupportedPlatform
}

func (u *unsupportedBackend) AddService(s *Service) error {
	return errUnsupportedPlatform
}

func (u *unsupportedBackend) Advertise(p *Payload) error {
	return errUnsupportedPlatform
}

func (u *unsupportedBackend) StopAdvertising() error {
	log.Debugf("StopAdvertising called on %s backend (no-op)", u.name)
	return nil
}

func (u *unsupportedBackend) Disconnect() error {
	log.Debugf("Disconnect called on %s backend (no-op)", u.name)
	return nil
}

func (u *unsupportedBackend) Close() error {
	return nil
}
