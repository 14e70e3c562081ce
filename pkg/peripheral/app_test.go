package peripheral

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jwoglom/bleperipheral/pkg/bluetooth"
	"github.com/jwoglom/bleperipheral/pkg/config"
	"github.com/jwoglom/bleperipheral/pkg/led"
)

type recordingObserver struct {
	mtx    sync.Mutex
	events []bluetooth.ConnectionEvent
	reads  int
	writes []byte
}

func (r *recordingObserver) OnConnection(ev bluetooth.ConnectionEvent) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingObserver) OnLEDRead(data []byte) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	r.reads++
}

func (r *recordingObserver) OnLEDWrite(data []byte, status byte) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	r.writes = append(r.writes, status)
}

type fixture struct {
	app  *App
	sim  *bluetooth.Sim
	leds *led.Bank
	obs  *recordingObserver
}

func newFixture(t *testing.T, variant Variant, mutate func(*config.Config)) *fixture {
	t.Helper()
	cfg := config.Default()
	cfg.BlinkInterval = 5 * time.Millisecond
	if mutate != nil {
		mutate(cfg)
	}

	sim := bluetooth.NewSim()
	leds := led.MemoryBank()
	app := New(cfg, variant, bluetooth.NewWithBackend(sim), leds)
	app.schedule = func(f func()) { f() }

	obs := &recordingObserver{}
	app.SetObserver(obs)

	return &fixture{app: app, sim: sim, leds: leds, obs: obs}
}

func (f *fixture) start(t *testing.T) {
	t.Helper()
	if err := f.app.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
}

func (f *fixture) connectEncrypted(t *testing.T) {
	t.Helper()
	if err := f.sim.Connect("central"); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if err := f.sim.Encrypt(); err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
}

func TestStartAdvertisesName(t *testing.T) {
	f := newFixture(t, VariantPeripheral, func(c *config.Config) { c.DeviceName = "Blinky" })
	f.start(t)

	p, advertising := f.sim.Advertising()
	if !advertising {
		t.Fatal("expected advertising after Start")
	}
	if p.Name != "Blinky" || !p.Connectable || p.Flags != bluetooth.DefaultAdvFlags {
		t.Errorf("unexpected payload %+v", p)
	}
	if len(p.ServiceUUIDs) != 0 {
		t.Errorf("peripheral variant should not advertise a service, got %v", p.ServiceUUIDs)
	}
	if len(f.sim.Services()) != 0 {
		t.Error("peripheral variant should not register services")
	}
}

func TestStartLEDVariantRegistersService(t *testing.T) {
	f := newFixture(t, VariantLED, nil)
	f.start(t)

	p, _ := f.sim.Advertising()
	if len(p.ServiceUUIDs) != 1 || p.ServiceUUIDs[0] != LEDServiceUUID {
		t.Errorf("expected LED service in scan response, got %v", p.ServiceUUIDs)
	}

	services := f.sim.Services()
	if len(services) != 1 || services[0].UUID != LEDServiceUUID {
		t.Fatalf("expected LED service registered, got %v", services)
	}
	c := services[0].Characteristic(LEDCharUUID)
	if c == nil {
		t.Fatal("LED characteristic missing")
	}
	if c.Permissions != bluetooth.PermReadEncrypt|bluetooth.PermWriteEncrypt {
		t.Errorf("expected encrypted permissions, got %b", c.Permissions)
	}
}

func TestStartFailsFastOnEnableError(t *testing.T) {
	f := newFixture(t, VariantLED, nil)
	f.sim.FailEnable(errors.New("no controller"))

	err := f.app.Start()
	if err == nil || !strings.Contains(err.Error(), "no controller") {
		t.Fatalf("expected enable error, got %v", err)
	}
	if _, advertising := f.sim.Advertising(); advertising {
		t.Error("advertising must not start after a failed enable")
	}
	if len(f.sim.Services()) != 0 {
		t.Error("no service may be registered after a failed enable")
	}
}

func TestHelloVariantOnlyEnables(t *testing.T) {
	f := newFixture(t, VariantHello, nil)

	if err := f.app.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if _, advertising := f.sim.Advertising(); advertising {
		t.Error("hello variant must not advertise")
	}
}

func TestWriteNonzeroTurnsLEDOnAndEchoes(t *testing.T) {
	f := newFixture(t, VariantLED, nil)
	f.start(t)
	f.connectEncrypted(t)

	status, err := f.sim.Write(LEDCharUUID, 0, []byte{0x2a})
	if err != nil || status != bluetooth.StatusSuccess {
		t.Fatalf("write: status 0x%02x err %v", status, err)
	}
	if !f.leds.User.On() {
		t.Error("expected user LED on")
	}

	data, status, err := f.sim.Read(LEDCharUUID, 0)
	if err != nil || status != bluetooth.StatusSuccess {
		t.Fatalf("read: status 0x%02x err %v", status, err)
	}
	if len(data) != 1 || data[0] != 0x2a {
		t.Errorf("expected echo of 0x2a, got % x", data)
	}

	if status, _ := f.sim.Write(LEDCharUUID, 0, []byte{0}); status != bluetooth.StatusSuccess {
		t.Fatalf("write 0: status 0x%02x", status)
	}
	if f.leds.User.On() {
		t.Error("expected user LED off after writing zero")
	}
	if f.app.LEDState().Get() != 0 {
		t.Errorf("expected stored 0, got %d", f.app.LEDState().Get())
	}
}

func TestReadBeforeAnyWriteIsZero(t *testing.T) {
	f := newFixture(t, VariantLED, nil)
	f.start(t)
	f.connectEncrypted(t)

	data, status, _ := f.sim.Read(LEDCharUUID, 0)
	if status != bluetooth.StatusSuccess || len(data) != 1 || data[0] != 0 {
		t.Errorf("expected initial 0x00, got % x status 0x%02x", data, status)
	}
}

func TestInvalidWritesAreRejected(t *testing.T) {
	tests := []struct {
		name   string
		offset int
		data   []byte
		status byte
	}{
		{"empty", 0, []byte{}, bluetooth.StatusInvalidAttributeLength},
		{"two bytes", 0, []byte{1, 1}, bluetooth.StatusInvalidAttributeLength},
		{"offset", 1, []byte{1}, bluetooth.StatusInvalidOffset},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, VariantLED, nil)
			f.start(t)
			f.connectEncrypted(t)

			status, err := f.sim.Write(LEDCharUUID, tt.offset, tt.data)
			if err != nil || status != tt.status {
				t.Errorf("expected status 0x%02x, got 0x%02x (err %v)", tt.status, status, err)
			}
			if f.leds.User.On() || f.app.LEDState().Get() != 0 {
				t.Error("rejected write must not change the LED")
			}
		})
	}
}

func TestReadOffsetPastValue(t *testing.T) {
	f := newFixture(t, VariantLED, nil)
	f.start(t)
	f.connectEncrypted(t)

	data, status, _ := f.sim.Read(LEDCharUUID, 1)
	if status != bluetooth.StatusSuccess || len(data) != 0 {
		t.Errorf("offset at end should read empty, got % x status 0x%02x", data, status)
	}
	if _, status, _ := f.sim.Read(LEDCharUUID, 2); status != bluetooth.StatusInvalidOffset {
		t.Errorf("expected invalid offset, got 0x%02x", status)
	}
}

func TestLEDFailureKeepsOldValue(t *testing.T) {
	f := newFixture(t, VariantLED, nil)
	f.start(t)
	f.connectEncrypted(t)

	if status, _ := f.sim.Write(LEDCharUUID, 0, []byte{1}); status != bluetooth.StatusSuccess {
		t.Fatalf("first write failed: 0x%02x", status)
	}

	f.leds.User.(*led.Memory).FailWith(errors.New("gpio gone"))
	if status, _ := f.sim.Write(LEDCharUUID, 0, []byte{0}); status != bluetooth.StatusUnlikelyError {
		t.Errorf("expected unlikely error, got 0x%02x", status)
	}
	if f.app.LEDState().Get() != 1 {
		t.Errorf("stored value must stay at the last accepted write, got %d", f.app.LEDState().Get())
	}
}

func TestUnencryptedAccessRejected(t *testing.T) {
	f := newFixture(t, VariantLED, nil)
	f.start(t)
	if err := f.sim.Connect("central"); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	if status, _ := f.sim.Write(LEDCharUUID, 0, []byte{1}); status != bluetooth.StatusInsufficientEncryption {
		t.Errorf("expected insufficient encryption, got 0x%02x", status)
	}
	if f.leds.User.On() {
		t.Error("LED must not change on an unencrypted link")
	}
}

func TestEncryptionCanBeRelaxed(t *testing.T) {
	f := newFixture(t, VariantLED, func(c *config.Config) { c.RequireEncryption = false })
	f.start(t)
	if err := f.sim.Connect("central"); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	if status, _ := f.sim.Write(LEDCharUUID, 0, []byte{1}); status != bluetooth.StatusSuccess {
		t.Errorf("expected success without encryption requirement, got 0x%02x", status)
	}
}

func TestConnectionLEDFollowsLink(t *testing.T) {
	f := newFixture(t, VariantPeripheral, nil)
	f.start(t)

	if err := f.sim.Connect("central"); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if !f.leds.Connection.On() {
		t.Error("connection LED should be on while connected")
	}
	if _, advertising := f.sim.Advertising(); advertising {
		t.Error("advertising should stop while connected")
	}

	if err := f.sim.RemoteDisconnect(); err != nil {
		t.Fatalf("RemoteDisconnect failed: %v", err)
	}
	if f.leds.Connection.On() {
		t.Error("connection LED should be off after disconnect")
	}
	if _, advertising := f.sim.Advertising(); !advertising {
		t.Error("advertising should restart after disconnect")
	}

	// a new central can connect again
	if err := f.sim.Connect("central-2"); err != nil {
		t.Errorf("reconnect failed: %v", err)
	}

	if len(f.obs.events) != 3 {
		t.Errorf("expected 3 observed events, got %d", len(f.obs.events))
	}
}

func TestNoReadvertiseWhenDisabled(t *testing.T) {
	f := newFixture(t, VariantPeripheral, func(c *config.Config) { c.Readvertise = false })
	f.start(t)

	if err := f.sim.Connect("central"); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if err := f.sim.RemoteDisconnect(); err != nil {
		t.Fatalf("RemoteDisconnect failed: %v", err)
	}
	if _, advertising := f.sim.Advertising(); advertising {
		t.Error("advertising should stay off")
	}
}

func TestFailedConnectionLeavesLEDOff(t *testing.T) {
	f := newFixture(t, VariantPeripheral, nil)
	f.start(t)

	f.sim.FailConnect("central", 0x3e)
	if f.leds.Connection.On() {
		t.Error("connection LED must stay off after a failed connection")
	}
}

func TestRunBlinksUntilCancelled(t *testing.T) {
	f := newFixture(t, VariantPeripheral, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.app.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for f.leds.Run.(*led.Memory).Transitions() < 3 {
		if time.Now().After(deadline) {
			t.Fatal("run LED did not blink")
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	if _, advertising := f.sim.Advertising(); advertising {
		t.Error("advertising should stop on shutdown")
	}
	if f.leds.Run.On() {
		t.Error("LEDs should be off after shutdown")
	}
}

func TestRunReturnsStartupError(t *testing.T) {
	f := newFixture(t, VariantPeripheral, nil)
	f.sim.FailEnable(errors.New("hci down"))

	if err := f.app.Run(context.Background()); err == nil {
		t.Fatal("expected startup error")
	}
}

func TestObserverSeesLEDTraffic(t *testing.T) {
	f := newFixture(t, VariantLED, nil)
	f.start(t)
	f.connectEncrypted(t)

	f.sim.Write(LEDCharUUID, 0, []byte{1})
	f.sim.Write(LEDCharUUID, 0, []byte{1, 2})
	f.sim.Read(LEDCharUUID, 0)

	if f.obs.reads != 1 {
		t.Errorf("expected 1 read, got %d", f.obs.reads)
	}
	if len(f.obs.writes) != 2 || f.obs.writes[0] != bluetooth.StatusSuccess || f.obs.writes[1] != bluetooth.StatusInvalidAttributeLength {
		t.Errorf("unexpected write statuses % x", f.obs.writes)
	}
}

func TestVariantString(t *testing.T) {
	for v, want := range map[Variant]string{
		VariantHello:      "hello",
		VariantPeripheral: "peripheral",
		VariantLED:        "led",
		Variant(9):        "unknown",
	} {
		if v.String() != want {
			t.Errorf("Variant(%d).String() = %s, want %s", v, v.String(), want)
		}
	}
}
