package bluetooth

import (
	"fmt"
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Backend names accepted by New
const (
	BackendHCI   = "hci"
	BackendBlueZ = "bluez"
	BackendSim   = "sim"
)

// HCI disconnect reasons reported in ConnectionEvent.Reason
const (
	ReasonRemoteUserTerminated byte = 0x13
	ReasonLocalHostTerminated  byte = 0x16
)

// ConnectionEvent is delivered by the host stack when a central connects,
// fails to connect, or disconnects
type ConnectionEvent struct {
	Central   string
	Connected bool
	// Err is the HCI status of a failed connection attempt; zero on success
	Err byte
	// Reason is the HCI disconnect reason; zero when the stack does not report it
	Reason byte
}

// ConnectionHandler is called for every ConnectionEvent
type ConnectionHandler func(ev ConnectionEvent)

// Backend is the host Bluetooth stack the peripheral calls into
type Backend interface {
	Enable(events ConnectionHandler) error
	AddService(s *Service) error
	Advertise(p *Payload) error
	StopAdvertising() error
	Disconnect() error
	Close() error
}

// Options selects and configures a backend
type Options struct {
	Backend   string
	AdapterID int
	// SetupController runs bluetoothctl before enabling the bluez backend
	SetupController bool
}

// Ble represents the Bluetooth Low Energy peripheral
type Ble struct {
	backend Backend

	mtx         sync.RWMutex
	enabled     bool
	central     string
	advertising bool
	payload     *Payload

	connectionHandler ConnectionHandler
}

// New creates a BLE peripheral on the backend named in opts
func New(opts Options) (*Ble, error) {
	var (
		backend Backend
		err     error
	)
	switch opts.Backend {
	case BackendHCI:
		backend, err = newHCIBackend(opts)
	case BackendBlueZ:
		backend, err = newBlueZBackend(opts)
	case BackendSim, "":
		backend = NewSim()
	default:
		return nil, fmt.Errorf("unknown bluetooth backend: %s", opts.Backend)
	}
	if err != nil {
		return nil, err
	}
	return NewWithBackend(backend), nil
}

// NewWithBackend wraps an already constructed backend
func NewWithBackend(backend Backend) *Ble {
	return &Ble{backend: backend}
}

// Backend returns the underlying host stack
func (b *Ble) Backend() Backend {
	return b.backend
}

// SetConnectionHandler sets the callback for when a central connects or disconnects
func (b *Ble) SetConnectionHandler(handler ConnectionHandler) {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	b.connectionHandler = handler
}

// Enable initializes the host stack. It must succeed before anything else is called.
func (b *Ble) Enable() error {
	if err := b.backend.Enable(b.dispatch); err != nil {
		return errors.Wrap(err, "bluetooth enable")
	}
	b.mtx.Lock()
	b.enabled = true
	b.mtx.Unlock()
	log.Debug("pkg bluetooth; stack enabled")
	return nil
}

func (b *Ble) dispatch(ev ConnectionEvent) {
	b.mtx.Lock()
	switch {
	case ev.Connected && ev.Err == 0:
		b.central = ev.Central
		// connectable advertising ends once a link is up
		b.advertising = false
	case !ev.Connected:
		b.central = ""
	}
	handler := b.connectionHandler
	b.mtx.Unlock()

	if ev.Connected {
		log.Tracef("pkg bluetooth; ** connection from %s (err 0x%02x)", ev.Central, ev.Err)
	} else {
		log.Tracef("pkg bluetooth; ** disconnect: %s (reason 0x%02x)", ev.Central, ev.Reason)
	}

	if handler != nil {
		handler(ev)
	}
}

// AddService registers a GATT service with the host stack
func (b *Ble) AddService(s *Service) error {
	if err := s.Validate(); err != nil {
		return errors.Wrap(err, "invalid service")
	}
	if err := b.backend.AddService(s); err != nil {
		return errors.Wrapf(err, "add service %s", s.UUID)
	}
	log.Infof("pkg bluetooth; service %s registered", s.UUID)
	return nil
}

// Advertise starts advertising the payload
func (b *Ble) Advertise(p *Payload) error {
	if err := p.Validate(); err != nil {
		return errors.Wrap(err, "invalid advertising payload")
	}
	if err := b.backend.Advertise(p); err != nil {
		return errors.Wrap(err, "advertise")
	}
	b.mtx.Lock()
	b.advertising = true
	b.payload = p
	b.mtx.Unlock()
	return nil
}

// StopAdvertising stops advertising if it is running
func (b *Ble) StopAdvertising() error {
	if err := b.backend.StopAdvertising(); err != nil {
		return errors.Wrap(err, "stop advertising")
	}
	b.mtx.Lock()
	b.advertising = false
	b.mtx.Unlock()
	return nil
}

// IsConnected returns true if a central device is connected
func (b *Ble) IsConnected() bool {
	b.mtx.RLock()
	defer b.mtx.RUnlock()
	return b.central != ""
}

// Central returns the id of the connected central, or "" when none is
func (b *Ble) Central() string {
	b.mtx.RLock()
	defer b.mtx.RUnlock()
	return b.central
}

// IsAdvertising reports whether the last Advertise call is still in effect
func (b *Ble) IsAdvertising() bool {
	b.mtx.RLock()
	defer b.mtx.RUnlock()
	return b.advertising
}

// warnUnenforcedEncryption reports an encryption-gated characteristic served
// by a backend that cannot gate attribute access on link encryption
func warnUnenforcedEncryption(backend string, ch *Characteristic) bool {
	if !ch.RequiresEncryption() {
		return false
	}
	log.Warnf("pkg bluetooth; %s backend cannot enforce link encryption for %s", backend, ch.UUID)
	return true
}

// ShutdownConnection closes the connection with the central device
func (b *Ble) ShutdownConnection() error {
	if !b.IsConnected() {
		return nil
	}
	return errors.Wrap(b.backend.Disconnect(), "disconnect")
}

// Close stops advertising and releases the host stack
func (b *Ble) Close() error {
	b.mtx.Lock()
	enabled := b.enabled
	b.enabled = false
	b.advertising = false
	b.central = ""
	b.mtx.Unlock()

	if !enabled {
		return nil
	}
	return errors.Wrap(b.backend.Close(), "close")
}
