package bluetooth

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// MaxAdvPacketLength is the size of a legacy advertising or scan response packet
const MaxAdvPacketLength = 31

// ErrPacketTooLong is returned when a payload does not fit a legacy packet
var ErrPacketTooLong = errors.New("advertising packet longer than 31 bytes")

const (
	advTypeFlags        = 0x01
	advTypeAllUUID128   = 0x07
	advTypeCompleteName = 0x09
)

// Advertising flags
const (
	FlagLimitedDiscoverable = 0x01
	FlagGeneralDiscoverable = 0x02
	FlagNoBREDR             = 0x04

	DefaultAdvFlags = FlagGeneralDiscoverable | FlagNoBREDR
)

// Payload is the static advertising content of the peripheral.
// The flags and the name go into the advertising packet; service
// UUIDs go into the scan response.
type Payload struct {
	Name         string
	Flags        byte
	ServiceUUIDs []string
	Connectable  bool
}

// AdvData renders the advertising packet
func (p *Payload) AdvData() []byte {
	var b []byte
	if p.Flags != 0 {
		b = appendField(b, advTypeFlags, []byte{p.Flags})
	}
	if p.Name != "" {
		b = appendField(b, advTypeCompleteName, []byte(p.Name))
	}
	return b
}

// ScanResponse renders the scan response packet
func (p *Payload) ScanResponse() ([]byte, error) {
	if len(p.ServiceUUIDs) == 0 {
		return nil, nil
	}
	var uuids []byte
	for _, u := range p.ServiceUUIDs {
		le, err := uuid128LE(u)
		if err != nil {
			return nil, err
		}
		uuids = append(uuids, le...)
	}
	return appendField(nil, advTypeAllUUID128, uuids), nil
}

// Validate checks that both packets fit their legacy size limit
func (p *Payload) Validate() error {
	if n := len(p.AdvData()); n > MaxAdvPacketLength {
		return fmt.Errorf("advertising data is %d bytes: %w", n, ErrPacketTooLong)
	}
	sd, err := p.ScanResponse()
	if err != nil {
		return err
	}
	if len(sd) > MaxAdvPacketLength {
		return fmt.Errorf("scan response is %d bytes: %w", len(sd), ErrPacketTooLong)
	}
	return nil
}

func appendField(b []byte, typ byte, data []byte) []byte {
	b = append(b, byte(len(data)+1), typ)
	return append(b, data...)
}

// uuid128LE converts a textual 128-bit UUID into its little-endian wire order
func uuid128LE(s string) ([]byte, error) {
	raw, err := hex.DecodeString(strings.ReplaceAll(s, "-", ""))
	if err != nil {
		return nil, fmt.Errorf("invalid uuid %q: %w", s, err)
	}
	if len(raw) != 16 {
		return nil, fmt.Errorf("invalid uuid %q: want 16 bytes, got %d", s, len(raw))
	}
	for i, j := 0, len(raw)-1; i < j; i, j = i+1, j-1 {
		raw[i], raw[j] = raw[j], raw[i]
	}
	return raw, nil
}
