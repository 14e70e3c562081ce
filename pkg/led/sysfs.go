package led

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"
)

// SysfsRoot is where the kernel exposes LED class devices
var SysfsRoot = "/sys/class/leds"

// Sysfs drives an LED class device through its brightness attribute
type Sysfs struct {
	name          string
	dir           string
	maxBrightness int

	mtx sync.Mutex
	on  bool
}

// NewSysfs opens the LED class device named name under SysfsRoot
func NewSysfs(name string) (*Sysfs, error) {
	dir := filepath.Join(SysfsRoot, name)
	if _, err := os.Stat(filepath.Join(dir, "brightness")); err != nil {
		return nil, fmt.Errorf("led %s not available: %w", name, err)
	}

	maxBrightness := 1
	if raw, err := os.ReadFile(filepath.Join(dir, "max_brightness")); err == nil {
		if v, err := strconv.Atoi(strings.TrimSpace(string(raw))); err == nil && v > 0 {
			maxBrightness = v
		}
	}

	s := &Sysfs{name: name, dir: dir, maxBrightness: maxBrightness}
	if raw, err := os.ReadFile(filepath.Join(dir, "brightness")); err == nil {
		v, _ := strconv.Atoi(strings.TrimSpace(string(raw)))
		s.on = v > 0
	}
	log.Debugf("pkg led; opened %s (max brightness %d)", dir, maxBrightness)
	return s, nil
}

// Name returns the LED name
func (s *Sysfs) Name() string {
	return s.name
}

// Set switches the LED
func (s *Sysfs) Set(on bool) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	value := 0
	if on {
		value = s.maxBrightness
	}
	path := filepath.Join(s.dir, "brightness")
	if err := os.WriteFile(path, []byte(strconv.Itoa(value)), 0o644); err != nil {
		return fmt.Errorf("set led %s: %w", s.name, err)
	}
	s.on = on
	return nil
}

// Toggle inverts the LED
func (s *Sysfs) Toggle() error {
	s.mtx.Lock()
	on := !s.on
	s.mtx.Unlock()
	return s.Set(on)
}

// On reports the last state written
func (s *Sysfs) On() bool {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.on
}
