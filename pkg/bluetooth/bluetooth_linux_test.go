//go:build linux

package bluetooth

import (
	"bytes"
	"testing"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
)

func TestHCIPacketsMatchPayload(t *testing.T) {
	payloads := []*Payload{
		{Name: "Nordic_Peripheral", Flags: DefaultAdvFlags, Connectable: true},
		{Name: "Nordic_Peripheral", Flags: DefaultAdvFlags, Connectable: true, ServiceUUIDs: []string{testServiceUUID}},
		{Name: "x", Flags: DefaultAdvFlags, ServiceUUIDs: []string{testServiceUUID, testCharUUID}},
	}

	for _, p := range payloads {
		adv, scan, err := hciPackets(p)
		if err != nil {
			t.Fatalf("hciPackets(%+v) failed: %v", p, err)
		}
		if !bytes.Equal(advBytes(adv), p.AdvData()) {
			t.Errorf("adv data mismatch:\n hci  % x\n want % x", advBytes(adv), p.AdvData())
		}
		want, err := p.ScanResponse()
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(scan, want) {
			t.Errorf("scan response mismatch:\n hci  % x\n want % x", scan, want)
		}
	}
}

func TestHCIPacketsKeepNameInAdvData(t *testing.T) {
	p := &Payload{Name: "LED", Flags: DefaultAdvFlags, ServiceUUIDs: []string{testServiceUUID}}
	adv, scan, err := hciPackets(p)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Contains(advBytes(adv), []byte{0x04, advTypeCompleteName, 'L', 'E', 'D'}) {
		t.Errorf("name missing from adv data: % x", advBytes(adv))
	}
	if bytes.Contains(advBytes(adv), []byte{0x11, advTypeAllUUID128}) {
		t.Errorf("service uuid must not be in adv data: % x", advBytes(adv))
	}
	if len(scan) != 18 || scan[1] != advTypeAllUUID128 {
		t.Errorf("expected one 128-bit uuid in scan response, got % x", scan)
	}
}

func TestBlueZCharacteristicWarnsOnEncryption(t *testing.T) {
	hook := logtest.NewGlobal()
	defer hook.Reset()

	var value byte
	ch := testService(&value, PermReadEncrypt|PermWriteEncrypt).Characteristics[0]
	if _, err := bluezCharacteristic(ch); err != nil {
		t.Fatalf("bluezCharacteristic failed: %v", err)
	}

	warned := false
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.WarnLevel {
			warned = true
		}
	}
	if !warned {
		t.Error("expected a warning that bluez cannot gate the characteristic on encryption")
	}
}
