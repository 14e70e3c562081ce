// Package peripheral wires the configuration, LEDs and host stack into the
// BLE peripheral application: callbacks, the static advertising payload,
// the LED attribute table and the blink loop.
package peripheral

import (
	"context"
	"fmt"
	"sync"

	"github.com/jwoglom/bleperipheral/pkg/bluetooth"
	"github.com/jwoglom/bleperipheral/pkg/config"
	"github.com/jwoglom/bleperipheral/pkg/led"
	"github.com/jwoglom/bleperipheral/pkg/state"

	log "github.com/sirupsen/logrus"
)

// Variant selects which sample behaviour the application runs
type Variant int

const (
	// VariantHello enables the stack and reports the board
	VariantHello Variant = iota
	// VariantPeripheral advertises, accepts a connection and blinks
	VariantPeripheral
	// VariantLED adds the LED service to VariantPeripheral
	VariantLED
)

func (v Variant) String() string {
	switch v {
	case VariantHello:
		return "hello"
	case VariantPeripheral:
		return "peripheral"
	case VariantLED:
		return "led"
	default:
		return "unknown"
	}
}

// Observer is told about connection and LED activity
type Observer interface {
	OnConnection(ev bluetooth.ConnectionEvent)
	OnLEDRead(data []byte)
	OnLEDWrite(data []byte, status byte)
}

type nopObserver struct{}

func (nopObserver) OnConnection(bluetooth.ConnectionEvent) {}
func (nopObserver) OnLEDRead([]byte)                      {}
func (nopObserver) OnLEDWrite([]byte, byte)               {}

// App is the peripheral application
type App struct {
	cfg     *config.Config
	variant Variant

	ble      *bluetooth.Ble
	leds     *led.Bank
	ledState *state.LEDState
	blinker  *Blinker
	payload  *bluetooth.Payload

	// schedule runs follow-up stack calls outside the stack's callback context
	schedule func(func())

	mtx sync.RWMutex
	obs Observer
}

// New creates the application for a variant
func New(cfg *config.Config, variant Variant, ble *bluetooth.Ble, leds *led.Bank) *App {
	a := &App{
		cfg:      cfg,
		variant:  variant,
		ble:      ble,
		leds:     leds,
		ledState: state.NewLEDState(),
		blinker:  NewBlinker(leds.Run, cfg.BlinkInterval),
		schedule: func(f func()) { go f() },
		obs:      nopObserver{},
	}

	a.payload = &bluetooth.Payload{
		Name:        cfg.DeviceName,
		Flags:       bluetooth.DefaultAdvFlags,
		Connectable: true,
	}
	if variant == VariantLED {
		a.payload.ServiceUUIDs = []string{LEDServiceUUID}
	}
	return a
}

// SetObserver registers the observer; nil removes it
func (a *App) SetObserver(o Observer) {
	a.mtx.Lock()
	defer a.mtx.Unlock()
	if o == nil {
		o = nopObserver{}
	}
	a.obs = o
}

func (a *App) observer() Observer {
	a.mtx.RLock()
	defer a.mtx.RUnlock()
	return a.obs
}

// LEDState returns the stored LED value
func (a *App) LEDState() *state.LEDState {
	return a.ledState
}

// Ble returns the host stack facade
func (a *App) Ble() *bluetooth.Ble {
	return a.ble
}

// Payload returns the static advertising payload
func (a *App) Payload() *bluetooth.Payload {
	return a.payload
}

// Start runs the initialization sequence and stops at the first failing stack call
func (a *App) Start() error {
	log.Infof("Starting BLE peripheral (%s) on %s", a.variant, a.cfg.Board)

	a.ble.SetConnectionHandler(a.onConnection)

	if err := a.ble.Enable(); err != nil {
		log.Errorf("Bluetooth init failed (err %v)", err)
		return err
	}
	log.Info("Bluetooth initialized")

	if a.variant == VariantHello {
		log.Infof("BLE Peripheral Project! Built on the %s", a.cfg.Board)
		return nil
	}

	if a.variant == VariantLED {
		if err := a.ble.AddService(a.LEDService()); err != nil {
			log.Errorf("LED service registration failed (err %v)", err)
			return err
		}
		log.Info("Service UUID: ", LEDServiceUUID)
		log.Info("  LED:  ", LEDCharUUID)
	}

	if err := a.ble.Advertise(a.payload); err != nil {
		log.Errorf("Advertising failed to start (err %v)", err)
		return err
	}
	log.Infof("Advertising successfully started as %q", a.payload.Name)
	return nil
}

// Run starts the peripheral and blinks the run LED until ctx is cancelled
func (a *App) Run(ctx context.Context) error {
	if err := a.Start(); err != nil {
		return fmt.Errorf("startup aborted: %w", err)
	}
	defer a.Close()

	if a.variant == VariantHello {
		return nil
	}

	a.blinker.Run(ctx)
	return nil
}

// Close stops advertising, turns the LEDs off and releases the stack
func (a *App) Close() {
	if a.ble.IsAdvertising() {
		if err := a.ble.StopAdvertising(); err != nil {
			log.Debugf("Error stopping advertising: %v", err)
		}
	}
	if err := a.leds.Off(); err != nil {
		log.Debugf("Error switching LEDs off: %v", err)
	}
	if err := a.ble.Close(); err != nil {
		log.Warnf("Error closing bluetooth: %v", err)
	}
}

func (a *App) onConnection(ev bluetooth.ConnectionEvent) {
	defer a.observer().OnConnection(ev)

	if ev.Connected {
		if ev.Err != 0 {
			log.Warnf("Connection failed (err 0x%02x)", ev.Err)
			return
		}
		log.Infof("Connected %s", ev.Central)
		if err := a.leds.Connection.Set(true); err != nil {
			log.Warnf("Failed to set connection LED: %v", err)
		}
		return
	}

	log.Infof("Disconnected %s (reason 0x%02x)", ev.Central, ev.Reason)
	if err := a.leds.Connection.Set(false); err != nil {
		log.Warnf("Failed to clear connection LED: %v", err)
	}

	if a.cfg.Readvertise {
		a.schedule(a.readvertise)
	}
}

func (a *App) readvertise() {
	if err := a.ble.Advertise(a.payload); err != nil {
		log.Warnf("Advertising failed to restart (err %v)", err)
		return
	}
	log.Info("Advertising restarted")
}
