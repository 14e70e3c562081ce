package config

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cast"
	"gopkg.in/yaml.v2"
)

// CfgFilename is looked up in the home directory when no path is given
const CfgFilename = ".bleperipheral.yml"

// MaxDeviceNameLength keeps the complete local name and the flags inside one
// 31-byte advertising packet
const MaxDeviceNameLength = 26

// EnvPrefix prefixes every environment override
const EnvPrefix = "BLEPERIPH_"

// LEDConfig names the LEDs as "<kind>:<name>" specs
type LEDConfig struct {
	Run        string `yaml:"run"`
	Connection string `yaml:"connection"`
	User       string `yaml:"user"`
}

// Config holds the peripheral configuration
type Config struct {
	// Bluetooth host stack
	Backend         string `yaml:"backend"`
	AdapterID       int    `yaml:"adapter"`
	SetupController bool   `yaml:"setup_controller"`

	// Advertising and GATT
	DeviceName        string `yaml:"name"`
	RequireEncryption bool   `yaml:"require_encryption"`
	Readvertise       bool   `yaml:"readvertise"`

	// Board
	Board         string        `yaml:"board"`
	BlinkInterval time.Duration `yaml:"blink_interval"`
	LEDs          LEDConfig     `yaml:"leds"`

	// Monitor API listen address; empty disables it
	APIAddr string `yaml:"api"`

	// Logging configuration
	LogLevel string `yaml:"log_level"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Backend:           "sim",
		AdapterID:         0,
		DeviceName:        "Nordic_Peripheral",
		RequireEncryption: true,
		Readvertise:       true,
		Board:             runtime.GOOS + "_" + runtime.GOARCH,
		BlinkInterval:     time.Second,
		LEDs: LEDConfig{
			Run:        "mem:run",
			Connection: "mem:connection",
			User:       "mem:user",
		},
		LogLevel: "info",
	}
}

// DefaultPath returns the configuration file in the user's home directory
func DefaultPath() (string, error) {
	dir, err := homedir.Dir()
	if err != nil {
		return "", errors.Wrap(err, "cannot locate home directory")
	}
	return filepath.Join(dir, CfgFilename), nil
}

// Load reads the YAML file at path on top of the defaults, then applies
// environment overrides. An empty path means DefaultPath; a missing file is
// not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		var err error
		if path, err = DefaultPath(); err != nil {
			return nil, err
		}
	} else {
		var err error
		if path, err = homedir.Expand(path); err != nil {
			return nil, errors.Wrapf(err, "invalid config path %s", path)
		}
	}

	log.Debugf("Reading configuration from %s", path)
	blob, err := ioutil.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.UnmarshalStrict(blob, cfg); err != nil {
			return nil, errors.Wrapf(err, "error reading config (%s)", path)
		}
	case os.IsNotExist(err) && !explicit:
	default:
		return nil, errors.Wrapf(err, "error reading config (%s)", path)
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from BLEPERIPH_* variables
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(EnvPrefix + key); ok {
			*dst = v
		}
	}
	str("BACKEND", &c.Backend)
	str("NAME", &c.DeviceName)
	str("BOARD", &c.Board)
	str("API", &c.APIAddr)
	str("LOG_LEVEL", &c.LogLevel)
	str("LED_RUN", &c.LEDs.Run)
	str("LED_CONNECTION", &c.LEDs.Connection)
	str("LED_USER", &c.LEDs.User)

	if v, ok := lookup(EnvPrefix + "ADAPTER"); ok {
		n, err := cast.ToIntE(v)
		if err != nil {
			return errors.Wrapf(err, "%sADAPTER", EnvPrefix)
		}
		c.AdapterID = n
	}
	if v, ok := lookup(EnvPrefix + "BLINK_INTERVAL"); ok {
		d, err := cast.ToDurationE(v)
		if err != nil {
			return errors.Wrapf(err, "%sBLINK_INTERVAL", EnvPrefix)
		}
		c.BlinkInterval = d
	}

	bools := map[string]*bool{
		"SETUP_CONTROLLER":   &c.SetupController,
		"REQUIRE_ENCRYPTION": &c.RequireEncryption,
		"READVERTISE":        &c.Readvertise,
	}
	for key, dst := range bools {
		if v, ok := lookup(EnvPrefix + key); ok {
			b, err := cast.ToBoolE(v)
			if err != nil {
				return errors.Wrapf(err, "%s%s", EnvPrefix, key)
			}
			*dst = b
		}
	}
	return nil
}

// Validate checks the configuration before anything touches the stack
func (c *Config) Validate() error {
	switch c.Backend {
	case "hci", "bluez", "sim":
	default:
		return errors.Errorf("invalid backend: %s (must be 'hci', 'bluez' or 'sim')", c.Backend)
	}

	if c.AdapterID < 0 {
		return errors.Errorf("invalid adapter index: %d", c.AdapterID)
	}

	if c.DeviceName == "" {
		return errors.New("device name is required")
	}
	if len(c.DeviceName) > MaxDeviceNameLength {
		return errors.Errorf("device name %q is %d bytes, at most %d fit the advertising packet",
			c.DeviceName, len(c.DeviceName), MaxDeviceNameLength)
	}

	if c.BlinkInterval <= 0 {
		return errors.Errorf("blink interval must be positive, got %s", c.BlinkInterval)
	}

	for role, spec := range map[string]string{
		"run":        c.LEDs.Run,
		"connection": c.LEDs.Connection,
		"user":       c.LEDs.User,
	} {
		kind, name, ok := strings.Cut(spec, ":")
		if !ok || name == "" || (kind != "mem" && kind != "sysfs") {
			return errors.Errorf("invalid %s led spec %q (want mem:<name> or sysfs:<name>)", role, spec)
		}
	}

	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		return errors.Wrap(err, "invalid log level")
	}

	return nil
}
