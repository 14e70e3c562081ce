package bluetooth

import (
	"errors"
	"sync"

	log "github.com/sirupsen/logrus"
)

var (
	ErrNotEnabled        = errors.New("stack not enabled")
	ErrNotAdvertising    = errors.New("not advertising connectable")
	ErrAlreadyConnected  = errors.New("a central is already connected")
	ErrNotConnected      = errors.New("no central connected")
	ErrUnknownAttribute  = errors.New("unknown attribute")
	ErrAlreadyAdvertised = errors.New("advertising already started")
)

// Sim is an in-process host stack. It accepts a single connection, stops
// connectable advertising once connected, and enforces characteristic
// properties and encryption permissions the way a controller's host would.
// Tests and the sim backend drive it through Connect, Read and Write.
type Sim struct {
	mtx sync.Mutex

	enableErr error
	enabled   bool
	events    ConnectionHandler

	services    []*Service
	payload     *Payload
	advertising bool

	central   string
	encrypted bool
}

// NewSim creates a simulated host stack
func NewSim() *Sim {
	return &Sim{}
}

// FailEnable makes the next Enable call return err
func (s *Sim) FailEnable(err error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	s.enableErr = err
}

// Enable implements Backend
func (s *Sim) Enable(events ConnectionHandler) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	if s.enableErr != nil {
		err := s.enableErr
		s.enableErr = nil
		return err
	}
	s.enabled = true
	s.events = events
	log.Debug("pkg bluetooth; sim stack enabled")
	return nil
}

// AddService implements Backend
func (s *Sim) AddService(svc *Service) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	if !s.enabled {
		return ErrNotEnabled
	}
	s.services = append(s.services, svc)
	return nil
}

// Advertise implements Backend
func (s *Sim) Advertise(p *Payload) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	if !s.enabled {
		return ErrNotEnabled
	}
	if s.advertising {
		return ErrAlreadyAdvertised
	}
	if s.central != "" && p.Connectable {
		return ErrAlreadyConnected
	}
	s.payload = p
	s.advertising = true
	return nil
}

// StopAdvertising implements Backend
func (s *Sim) StopAdvertising() error {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	s.advertising = false
	return nil
}

// Disconnect implements Backend; the local host terminates the link
func (s *Sim) Disconnect() error {
	return s.disconnect(ReasonLocalHostTerminated)
}

// Close implements Backend
func (s *Sim) Close() error {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	s.enabled = false
	s.advertising = false
	s.central = ""
	s.encrypted = false
	s.services = nil
	return nil
}

// Advertising returns the active payload and whether advertising is on
func (s *Sim) Advertising() (*Payload, bool) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.payload, s.advertising
}

// Services returns the registered services
func (s *Sim) Services() []*Service {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return append([]*Service(nil), s.services...)
}

// Connect simulates a central connecting while the peripheral advertises
func (s *Sim) Connect(central string) error {
	s.mtx.Lock()
	if !s.enabled {
		s.mtx.Unlock()
		return ErrNotEnabled
	}
	if s.central != "" {
		s.mtx.Unlock()
		return ErrAlreadyConnected
	}
	if !s.advertising || s.payload == nil || !s.payload.Connectable {
		s.mtx.Unlock()
		return ErrNotAdvertising
	}
	s.central = central
	s.encrypted = false
	s.advertising = false
	events := s.events
	s.mtx.Unlock()

	if events != nil {
		events(ConnectionEvent{Central: central, Connected: true})
	}
	return nil
}

// FailConnect simulates a connection attempt that the controller reports as failed
func (s *Sim) FailConnect(central string, status byte) {
	s.mtx.Lock()
	events := s.events
	s.mtx.Unlock()

	if events != nil {
		events(ConnectionEvent{Central: central, Connected: true, Err: status})
	}
}

// RemoteDisconnect simulates the central terminating the link
func (s *Sim) RemoteDisconnect() error {
	return s.disconnect(ReasonRemoteUserTerminated)
}

func (s *Sim) disconnect(reason byte) error {
	s.mtx.Lock()
	if s.central == "" {
		s.mtx.Unlock()
		return ErrNotConnected
	}
	central := s.central
	s.central = ""
	s.encrypted = false
	events := s.events
	s.mtx.Unlock()

	if events != nil {
		events(ConnectionEvent{Central: central, Reason: reason})
	}
	return nil
}

// Encrypt simulates the link becoming encrypted after pairing
func (s *Sim) Encrypt() error {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	if s.central == "" {
		return ErrNotConnected
	}
	s.encrypted = true
	return nil
}

func (s *Sim) lookup(uuid string) (*Characteristic, string, bool, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	if s.central == "" {
		return nil, "", false, ErrNotConnected
	}
	for _, svc := range s.services {
		if c := svc.Characteristic(uuid); c != nil {
			return c, s.central, s.encrypted, nil
		}
	}
	return nil, "", false, ErrUnknownAttribute
}

// Read performs a read from the connected central and returns the ATT result
func (s *Sim) Read(uuid string, offset int) ([]byte, byte, error) {
	c, central, encrypted, err := s.lookup(uuid)
	if err != nil {
		return nil, 0, err
	}
	if !c.CanRead() {
		return nil, StatusReadNotPermitted, nil
	}
	if c.Permissions&PermReadEncrypt != 0 && !encrypted {
		return nil, StatusInsufficientEncryption, nil
	}
	data, status := c.OnRead(Request{Central: central, Offset: offset})
	if status != StatusSuccess {
		return nil, status, nil
	}
	return data, StatusSuccess, nil
}

// Write performs a write request from the connected central and returns the ATT result
func (s *Sim) Write(uuid string, offset int, data []byte) (byte, error) {
	c, central, encrypted, err := s.lookup(uuid)
	if err != nil {
		return 0, err
	}
	if !c.CanWrite() {
		return StatusWriteNotPermitted, nil
	}
	if c.Permissions&PermWriteEncrypt != 0 && !encrypted {
		return StatusInsufficientEncryption, nil
	}
	value := make([]byte, len(data))
	copy(value, data)
	return c.OnWrite(Request{Central: central, Offset: offset}, value), nil
}
