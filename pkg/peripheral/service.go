package peripheral

import (
	"github.com/jwoglom/bleperipheral/pkg/bluetooth"

	log "github.com/sirupsen/logrus"
)

// LED service UUIDs (vendor specific, 128-bit)
const (
	LEDServiceUUID = "00001523-1212-efde-1523-785feabcd123"
	LEDCharUUID    = "00001525-1212-efde-1523-785feabcd123"
)

// LEDService returns the attribute table of the LED variant: one primary
// service holding one read/write characteristic
func (a *App) LEDService() *bluetooth.Service {
	perms := bluetooth.PermRead | bluetooth.PermWrite
	if a.cfg.RequireEncryption {
		perms = bluetooth.PermReadEncrypt | bluetooth.PermWriteEncrypt
	}

	return &bluetooth.Service{
		UUID: LEDServiceUUID,
		Characteristics: []*bluetooth.Characteristic{
			{
				UUID:        LEDCharUUID,
				Properties:  bluetooth.PropRead | bluetooth.PropWrite,
				Permissions: perms,
				OnRead:      a.readLED,
				OnWrite:     a.writeLED,
			},
		},
	}
}

func (a *App) readLED(req bluetooth.Request) ([]byte, byte) {
	value := []byte{a.ledState.Get()}
	if req.Offset > len(value) {
		return nil, bluetooth.StatusInvalidOffset
	}
	data := value[req.Offset:]

	log.Debugf("LED read by %s: 0x%02x", req.Central, value[0])
	a.observer().OnLEDRead(data)
	return data, bluetooth.StatusSuccess
}

func (a *App) writeLED(req bluetooth.Request, data []byte) byte {
	status := a.acceptLED(req, data)
	a.observer().OnLEDWrite(data, status)
	return status
}

func (a *App) acceptLED(req bluetooth.Request, data []byte) byte {
	if req.Offset != 0 {
		log.Warnf("LED write from %s rejected: offset %d", req.Central, req.Offset)
		return bluetooth.StatusInvalidOffset
	}
	if len(data) != 1 {
		log.Warnf("LED write from %s rejected: length %d", req.Central, len(data))
		return bluetooth.StatusInvalidAttributeLength
	}

	on := data[0] != 0
	if err := a.leds.User.Set(on); err != nil {
		log.Errorf("Failed to set %s LED: %v", a.leds.User.Name(), err)
		return bluetooth.StatusUnlikelyError
	}
	a.ledState.Set(data[0])

	log.Infof("LED %s", onOff(on))
	return bluetooth.StatusSuccess
}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}
