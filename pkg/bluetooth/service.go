package bluetooth

import (
	"fmt"
	"strings"
)

// ATT status codes returned by characteristic handlers
const (
	StatusSuccess                byte = 0x00
	StatusReadNotPermitted       byte = 0x02
	StatusWriteNotPermitted      byte = 0x03
	StatusInvalidOffset          byte = 0x07
	StatusInvalidAttributeLength byte = 0x0D
	StatusUnlikelyError          byte = 0x0E
	StatusInsufficientEncryption byte = 0x0F
)

// Property is a GATT characteristic property bit
type Property uint8

const (
	PropRead  Property = 0x02
	PropWrite Property = 0x08
)

// Permission controls how the host stack lets a central access an attribute
type Permission uint8

const (
	PermRead Permission = 1 << iota
	PermWrite
	PermReadEncrypt
	PermWriteEncrypt
)

// Request describes a single attribute access from the connected central
type Request struct {
	Central string
	Offset  int
}

// ReadFunc returns the value of a characteristic and an ATT status
type ReadFunc func(req Request) ([]byte, byte)

// WriteFunc accepts a value written to a characteristic and returns an ATT status
type WriteFunc func(req Request, data []byte) byte

// Characteristic is one entry of the static attribute table
type Characteristic struct {
	UUID        string
	Properties  Property
	Permissions Permission
	OnRead      ReadFunc
	OnWrite     WriteFunc
}

// Service is a primary service definition registered with the host stack
type Service struct {
	UUID            string
	Characteristics []*Characteristic
}

// CanRead reports whether the characteristic is readable at all
func (c *Characteristic) CanRead() bool {
	return c.Properties&PropRead != 0 && c.Permissions&(PermRead|PermReadEncrypt) != 0
}

// CanWrite reports whether the characteristic is writable at all
func (c *Characteristic) CanWrite() bool {
	return c.Properties&PropWrite != 0 && c.Permissions&(PermWrite|PermWriteEncrypt) != 0
}

// RequiresEncryption reports whether any access needs an encrypted link
func (c *Characteristic) RequiresEncryption() bool {
	return c.Permissions&(PermReadEncrypt|PermWriteEncrypt) != 0
}

// Characteristic finds a characteristic by UUID, case-insensitively
func (s *Service) Characteristic(uuid string) *Characteristic {
	for _, c := range s.Characteristics {
		if strings.EqualFold(c.UUID, uuid) {
			return c
		}
	}
	return nil
}

// Validate checks that the table is consistent before it reaches a backend
func (s *Service) Validate() error {
	if s.UUID == "" {
		return fmt.Errorf("service uuid is required")
	}
	if len(s.Characteristics) == 0 {
		return fmt.Errorf("service %s has no characteristics", s.UUID)
	}
	for _, c := range s.Characteristics {
		if c.UUID == "" {
			return fmt.Errorf("service %s: characteristic uuid is required", s.UUID)
		}
		if c.CanRead() && c.OnRead == nil {
			return fmt.Errorf("characteristic %s is readable but has no read handler", c.UUID)
		}
		if c.CanWrite() && c.OnWrite == nil {
			return fmt.Errorf("characteristic %s is writable but has no write handler", c.UUID)
		}
	}
	return nil
}
