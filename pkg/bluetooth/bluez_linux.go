//go:build linux

package bluetooth

import (
	"errors"
	"fmt"
	"sync"

	"github.com/jwoglom/bleperipheral/pkg/btctl"

	log "github.com/sirupsen/logrus"
	tinygo "tinygo.org/x/bluetooth"
)

// bluezBackend serves GATT through BlueZ over D-Bus. BlueZ serves reads
// from the cached characteristic value, so every accepted or rejected write
// pushes the authoritative value back into the characteristic.
type bluezBackend struct {
	adapter *tinygo.Adapter
	setup   bool

	mtx sync.Mutex
	adv *tinygo.Advertisement
}

func newBlueZBackend(opts Options) (Backend, error) {
	return &bluezBackend{
		adapter: tinygo.NewAdapter(fmt.Sprintf("hci%d", opts.AdapterID)),
		setup:   opts.SetupController,
	}, nil
}

func (b *bluezBackend) Enable(events ConnectionHandler) error {
	if b.setup {
		if err := btctl.New("").Setup(); err != nil {
			return fmt.Errorf("controller setup: %w", err)
		}
	}

	b.adapter.SetConnectHandler(func(device tinygo.Device, connected bool) {
		events(ConnectionEvent{Central: device.Address.String(), Connected: connected})
	})

	return b.adapter.Enable()
}

func (b *bluezBackend) AddService(svc *Service) error {
	su, err := tinygo.ParseUUID(svc.UUID)
	if err != nil {
		return fmt.Errorf("invalid service uuid: %w", err)
	}

	configs := make([]tinygo.CharacteristicConfig, 0, len(svc.Characteristics))
	for _, ch := range svc.Characteristics {
		cfg, err := bluezCharacteristic(ch)
		if err != nil {
			return err
		}
		configs = append(configs, cfg)
	}

	return b.adapter.AddService(&tinygo.Service{
		UUID:            su,
		Characteristics: configs,
	})
}

func bluezCharacteristic(ch *Characteristic) (tinygo.CharacteristicConfig, error) {
	u, err := tinygo.ParseUUID(ch.UUID)
	if err != nil {
		return tinygo.CharacteristicConfig{}, fmt.Errorf("invalid characteristic uuid: %w", err)
	}

	// BlueZ encrypts the link once paired, but tinygo exposes no encrypt flags
	warnUnenforcedEncryption(BackendBlueZ, ch)

	handle := &tinygo.Characteristic{}
	cfg := tinygo.CharacteristicConfig{
		Handle: handle,
		UUID:   u,
	}

	current := func() []byte {
		if !ch.CanRead() {
			return nil
		}
		v, status := ch.OnRead(Request{})
		if status != StatusSuccess {
			return nil
		}
		return v
	}

	if ch.CanRead() {
		cfg.Flags |= tinygo.CharacteristicReadPermission
		cfg.Value = current()
	}
	if ch.CanWrite() {
		cfg.Flags |= tinygo.CharacteristicWritePermission
		cfg.WriteEvent = func(client tinygo.Connection, offset int, value []byte) {
			data := make([]byte, len(value))
			copy(data, value)
			if status := ch.OnWrite(Request{Central: fmt.Sprint(client), Offset: offset}, data); status != StatusSuccess {
				log.Warnf("pkg bluetooth; write on %s rejected with status 0x%02x", ch.UUID, status)
			}
			if v := current(); v != nil {
				if _, err := handle.Write(v); err != nil {
					log.Warnf("pkg bluetooth; failed to update %s: %v", ch.UUID, err)
				}
			}
		}
	}

	return cfg, nil
}

func (b *bluezBackend) Advertise(p *Payload) error {
	uuids := make([]tinygo.UUID, 0, len(p.ServiceUUIDs))
	for _, s := range p.ServiceUUIDs {
		u, err := tinygo.ParseUUID(s)
		if err != nil {
			return fmt.Errorf("invalid service uuid: %w", err)
		}
		uuids = append(uuids, u)
	}

	adv := b.adapter.DefaultAdvertisement()
	if err := adv.Configure(tinygo.AdvertisementOptions{
		LocalName:    p.Name,
		ServiceUUIDs: uuids,
	}); err != nil {
		return err
	}
	if err := adv.Start(); err != nil {
		return err
	}

	b.mtx.Lock()
	b.adv = adv
	b.mtx.Unlock()
	return nil
}

func (b *bluezBackend) StopAdvertising() error {
	b.mtx.Lock()
	adv := b.adv
	b.adv = nil
	b.mtx.Unlock()
	if adv == nil {
		return nil
	}
	return adv.Stop()
}

func (b *bluezBackend) Disconnect() error {
	return errors.New("bluez backend cannot terminate a central's connection")
}

func (b *bluezBackend) Close() error {
	return b.StopAdvertising()
}
