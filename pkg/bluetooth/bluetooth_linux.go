//go:build linux

package bluetooth

import (
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/paypal/gatt"
	"github.com/paypal/gatt/linux/cmd"
	log "github.com/sirupsen/logrus"
)

const powerOnTimeout = 5 * time.Second

// hciServerOptions opens the controller for exclusive raw HCI use. The
// advertising interval matches the fast connectable interval used by
// embedded peripheral samples (100-150 ms).
func hciServerOptions(adapterID int) []gatt.Option {
	return []gatt.Option{
		gatt.LnxMaxConnections(1),
		gatt.LnxDeviceID(adapterID, true),
		gatt.LnxSetAdvertisingParameters(&cmd.LESetAdvertisingParameters{
			AdvertisingIntervalMin: 0x00a0,
			AdvertisingIntervalMax: 0x00f0,
			AdvertisingChannelMap:  0x7,
		}),
	}
}

// hciBackend serves GATT over a raw HCI socket
type hciBackend struct {
	adapterID int
	device    gatt.Device

	mtx     sync.Mutex
	central gatt.Central
}

func newHCIBackend(opts Options) (Backend, error) {
	return &hciBackend{adapterID: opts.AdapterID}, nil
}

func (h *hciBackend) Enable(events ConnectionHandler) error {
	d, err := gatt.NewDevice(hciServerOptions(h.adapterID)...)
	if err != nil {
		return fmt.Errorf("failed to open device: %w", err)
	}

	d.Handle(
		gatt.CentralConnected(func(c gatt.Central) {
			h.mtx.Lock()
			h.central = c
			h.mtx.Unlock()
			events(ConnectionEvent{Central: c.ID(), Connected: true})
		}),
		gatt.CentralDisconnected(func(c gatt.Central) {
			h.mtx.Lock()
			h.central = nil
			h.mtx.Unlock()
			events(ConnectionEvent{Central: c.ID()})
		}),
	)

	poweredOn := make(chan struct{})
	var once sync.Once
	onStateChanged := func(d gatt.Device, s gatt.State) {
		log.Debugf("pkg bluetooth; hci state: %s", s)
		if s == gatt.StatePoweredOn {
			once.Do(func() { close(poweredOn) })
		}
	}

	if err := d.Init(onStateChanged); err != nil {
		return fmt.Errorf("could not init bluetooth: %w", err)
	}

	select {
	case <-poweredOn:
	case <-time.After(powerOnTimeout):
		return fmt.Errorf("hci%d did not power on within %s", h.adapterID, powerOnTimeout)
	}

	h.device = d
	return nil
}

func (h *hciBackend) AddService(svc *Service) error {
	s := gatt.NewService(gatt.MustParseUUID(svc.UUID))

	for _, ch := range svc.Characteristics {
		// the raw HCI server has no security manager
		warnUnenforcedEncryption(BackendHCI, ch)
		c := s.AddCharacteristic(gatt.MustParseUUID(ch.UUID))
		bindHCIHandlers(c, ch)
	}

	return h.device.AddService(s)
}

func bindHCIHandlers(c *gatt.Characteristic, ch *Characteristic) {
	if ch.CanRead() {
		c.HandleReadFunc(func(rsp gatt.ResponseWriter, req *gatt.ReadRequest) {
			data, status := ch.OnRead(Request{Central: req.Central.ID(), Offset: req.Offset})
			if status != StatusSuccess {
				rsp.SetStatus(status)
				return
			}
			log.Tracef("pkg bluetooth; read request on %s, responding with: %s", ch.UUID, hex.EncodeToString(data))
			if _, err := rsp.Write(data); err != nil {
				log.Warnf("Failed to write BLE response: %v", err)
			}
		})
	}

	if ch.CanWrite() {
		c.HandleWriteFunc(func(r gatt.Request, data []byte) (status byte) {
			log.Tracef("pkg bluetooth; received write on %s: %s", ch.UUID, hex.EncodeToString(data))

			dataCopy := make([]byte, len(data))
			copy(dataCopy, data)
			status = ch.OnWrite(Request{Central: r.Central.ID()}, dataCopy)
			if status != StatusSuccess {
				// the library answers every write request with a plain write response
				log.Warnf("pkg bluetooth; write on %s rejected with status 0x%02x, central still sees success", ch.UUID, status)
			}
			return status
		})
	}
}

// hciPackets renders the payload with the library's packet builder: flags
// and name in the advertising packet, the service UUID list in the scan
// response.
func hciPackets(p *Payload) (*gatt.AdvPacket, []byte, error) {
	adv := &gatt.AdvPacket{}
	if p.Flags != 0 {
		adv.AppendFlags(p.Flags)
	}
	if p.Name != "" {
		adv.AppendName(p.Name)
	}

	if len(p.ServiceUUIDs) == 0 {
		return adv, []byte{}, nil
	}
	var uuids []byte
	for _, u := range p.ServiceUUIDs {
		le, err := uuid128LE(u)
		if err != nil {
			return nil, nil, err
		}
		uuids = append(uuids, le...)
	}
	scan := &gatt.AdvPacket{}
	scan.AppendField(advTypeAllUUID128, uuids)
	return adv, advBytes(scan), nil
}

// advBytes returns the used part of the zero-padded packet from AdvPacket.Bytes.
func advBytes(a *gatt.AdvPacket) []byte {
	b := a.Bytes()
	return b[:a.Len()]
}

func (h *hciBackend) Advertise(p *Payload) error {
	adv, scan, err := hciPackets(p)
	if err != nil {
		return err
	}
	log.Tracef("pkg bluetooth; adv data: %s scan response: %s", hex.EncodeToString(advBytes(adv)), hex.EncodeToString(scan))

	scanResp := &cmd.LESetScanResponseData{ScanResponseDataLength: uint8(len(scan))}
	copy(scanResp.ScanResponseData[:], scan)
	if err := h.device.Option(gatt.LnxSetScanResponseData(scanResp)); err != nil {
		return fmt.Errorf("failed to set scan response: %w", err)
	}
	return h.device.Advertise(adv)
}

func (h *hciBackend) StopAdvertising() error {
	return h.device.StopAdvertising()
}

func (h *hciBackend) Disconnect() error {
	h.mtx.Lock()
	c := h.central
	h.mtx.Unlock()
	if c == nil {
		return nil
	}
	return c.Close()
}

func (h *hciBackend) Close() error {
	if h.device == nil {
		return nil
	}
	if err := h.device.StopAdvertising(); err != nil {
		log.Debugf("Error stopping advertising: %v", err)
	}
	if err := h.device.RemoveAllServices(); err != nil {
		log.Debugf("Error removing services: %v", err)
	}
	// not every library revision exposes Stop on the device
	if s, ok := h.device.(interface{ Stop() error }); ok {
		return s.Stop()
	}
	return nil
}
