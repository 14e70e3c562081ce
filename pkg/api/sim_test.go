package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jwoglom/bleperipheral/pkg/bluetooth"
	"github.com/jwoglom/bleperipheral/pkg/config"
	"github.com/jwoglom/bleperipheral/pkg/led"
	"github.com/jwoglom/bleperipheral/pkg/peripheral"
	"github.com/jwoglom/bleperipheral/pkg/state"
)

func newLEDAppServer(t *testing.T) (*peripheral.App, *led.Bank, *httptest.Server) {
	t.Helper()
	leds := led.MemoryBank()
	app := peripheral.New(config.Default(), peripheral.VariantLED, bluetooth.NewWithBackend(bluetooth.NewSim()), leds)
	if err := app.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(app.Close)

	s := New(app.Ble(), app.LEDState())
	app.SetObserver(s)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return app, leds, srv
}

func postSim(t *testing.T, srv *httptest.Server, op string, req interface{}) (int, SimResult) {
	t.Helper()
	var body bytes.Buffer
	if req != nil {
		if err := json.NewEncoder(&body).Encode(req); err != nil {
			t.Fatal(err)
		}
	}
	resp, err := http.Post(srv.URL+"/api/sim/"+op, "application/json", &body)
	if err != nil {
		t.Fatalf("POST %s failed: %v", op, err)
	}
	defer resp.Body.Close()

	var res SimResult
	if resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
			t.Fatalf("decode failed: %v", err)
		}
	}
	return resp.StatusCode, res
}

func TestSimAPIWriteAndRead(t *testing.T) {
	app, leds, srv := newLEDAppServer(t)

	if code, _ := postSim(t, srv, "connect", SimRequest{Central: "phone"}); code != http.StatusOK {
		t.Fatalf("connect returned %d", code)
	}
	if app.Ble().Central() != "phone" {
		t.Errorf("expected central phone, got %q", app.Ble().Central())
	}
	if code, _ := postSim(t, srv, "encrypt", nil); code != http.StatusOK {
		t.Fatalf("encrypt returned %d", code)
	}

	code, res := postSim(t, srv, "write", SimRequest{Data: "01"})
	if code != http.StatusOK || res.Status != int(bluetooth.StatusSuccess) {
		t.Fatalf("write: %d %+v", code, res)
	}
	if !leds.User.On() {
		t.Error("user LED should be on")
	}

	code, res = postSim(t, srv, "read", SimRequest{UUID: peripheral.LEDCharUUID})
	if code != http.StatusOK || res.Status != int(bluetooth.StatusSuccess) || res.Data != "01" {
		t.Errorf("read: %d %+v", code, res)
	}

	code, res = postSim(t, srv, "write", SimRequest{Data: "0102"})
	if code != http.StatusOK || res.Status != int(bluetooth.StatusInvalidAttributeLength) {
		t.Errorf("two-byte write: %d %+v", code, res)
	}
}

func TestSimAPIReportsInsufficientEncryption(t *testing.T) {
	_, leds, srv := newLEDAppServer(t)

	if code, _ := postSim(t, srv, "connect", nil); code != http.StatusOK {
		t.Fatalf("connect returned %d", code)
	}
	code, res := postSim(t, srv, "write", SimRequest{Data: "01"})
	if code != http.StatusOK || res.Status != int(bluetooth.StatusInsufficientEncryption) {
		t.Errorf("expected insufficient encryption, got %d %+v", code, res)
	}
	if leds.User.On() {
		t.Error("user LED must stay off")
	}
}

func TestSimAPIErrors(t *testing.T) {
	_, _, srv := newLEDAppServer(t)

	if code, _ := postSim(t, srv, "read", nil); code != http.StatusConflict {
		t.Errorf("read without central: expected 409, got %d", code)
	}
	if code, _ := postSim(t, srv, "connect", nil); code != http.StatusOK {
		t.Fatalf("connect returned %d", code)
	}
	if code, _ := postSim(t, srv, "connect", SimRequest{Central: "second"}); code != http.StatusConflict {
		t.Errorf("second central: expected 409, got %d", code)
	}
	if code, _ := postSim(t, srv, "write", SimRequest{Data: "zz"}); code != http.StatusBadRequest {
		t.Errorf("bad hex: expected 400, got %d", code)
	}
	if code, _ := postSim(t, srv, "teleport", nil); code != http.StatusNotFound {
		t.Errorf("unknown op: expected 404, got %d", code)
	}
	if code, _ := postSim(t, srv, "remoteDisconnect", nil); code != http.StatusOK {
		t.Errorf("remoteDisconnect returned %d", code)
	}
}

type nopBackend struct{}

func (nopBackend) Enable(bluetooth.ConnectionHandler) error { return nil }
func (nopBackend) AddService(*bluetooth.Service) error      { return nil }
func (nopBackend) Advertise(*bluetooth.Payload) error       { return nil }
func (nopBackend) StopAdvertising() error                   { return nil }
func (nopBackend) Disconnect() error                        { return nil }
func (nopBackend) Close() error                             { return nil }

func TestSimAPIUnavailableOnOtherBackends(t *testing.T) {
	s := New(bluetooth.NewWithBackend(nopBackend{}), state.NewLEDState())
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	if code, _ := postSim(t, srv, "connect", nil); code != http.StatusNotFound {
		t.Errorf("expected 404 without the sim backend, got %d", code)
	}
}
