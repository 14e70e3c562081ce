// Package btctl prepares a BlueZ controller for peripheral use by driving
// bluetoothctl interactively.
package btctl

import (
	"fmt"
	"regexp"
	"time"

	expect "github.com/google/goexpect"
	log "github.com/sirupsen/logrus"
)

// DefaultCommand is the bluetoothctl binary spawned by Setup
const DefaultCommand = "bluetoothctl"

// Expecter is the part of *expect.GExpect used by Setup
type Expecter interface {
	Send(in string) error
	Expect(re *regexp.Regexp, timeout time.Duration) (string, []string, error)
	Close() error
}

// Spawner starts the interactive tool
type Spawner func(command string) (Expecter, error)

// Step is one bluetoothctl command and the output that confirms it
type Step struct {
	Command string
	Success *regexp.Regexp
}

// PeripheralSteps powers the controller on and registers an agent that can
// complete Just Works pairing, which encrypted characteristics depend on.
var PeripheralSteps = []Step{
	{Command: "power on", Success: regexp.MustCompile(`Changing power on succeeded`)},
	{Command: "agent NoInputNoOutput", Success: regexp.MustCompile(`Agent (is already )?registered`)},
	{Command: "default-agent", Success: regexp.MustCompile(`Default agent request successful`)},
	{Command: "pairable on", Success: regexp.MustCompile(`Changing pairable on succeeded`)},
}

// Controller runs setup steps through bluetoothctl
type Controller struct {
	command     string
	spawn       Spawner
	timeout     time.Duration
	quitTimeout time.Duration
}

// New creates a controller spawning command (DefaultCommand when empty)
func New(command string) *Controller {
	if command == "" {
		command = DefaultCommand
	}
	return &Controller{
		command: command,
		spawn:       spawnProcess,
		timeout:     10 * time.Second,
		quitTimeout: time.Second,
	}
}

// NewWithSpawner creates a controller with a custom spawner
func NewWithSpawner(command string, spawn Spawner, timeout time.Duration) *Controller {
	c := New(command)
	c.spawn = spawn
	c.timeout = timeout
	return c
}

func spawnProcess(command string) (Expecter, error) {
	gexp, _, err := expect.Spawn(command, -1,
		expect.CheckDuration(100*time.Millisecond),
	)
	if err != nil {
		return nil, err
	}
	return gexp, nil
}

// Run executes the steps in order and stops at the first one that fails
func (c *Controller) Run(steps []Step) error {
	log.Infof("pkg btctl; starting %s", c.command)
	e, err := c.spawn(c.command)
	if err != nil {
		return fmt.Errorf("failed to spawn %s: %w", c.command, err)
	}
	defer func() {
		if err := e.Close(); err != nil {
			log.Debugf("pkg btctl; error closing %s: %v", c.command, err)
		}
	}()

	for _, step := range steps {
		log.Debugf("pkg btctl; > %s", step.Command)
		if err := e.Send(step.Command + "\n"); err != nil {
			return fmt.Errorf("failed to send %q: %w", step.Command, err)
		}
		out, _, err := e.Expect(step.Success, c.timeout)
		if err != nil {
			return fmt.Errorf("%q did not succeed: %w", step.Command, err)
		}
		log.Tracef("pkg btctl; < %s", out)
	}

	c.quit(e)
	log.Info("pkg btctl; controller ready")
	return nil
}

// quit asks the tool to exit; Close cleans up if it never takes the command
func (c *Controller) quit(e Expecter) {
	done := make(chan error, 1)
	go func() {
		done <- e.Send("quit\n")
	}()

	select {
	case err := <-done:
		if err != nil {
			log.Debugf("pkg btctl; failed to send quit: %v", err)
		}
	case <-time.After(c.quitTimeout):
		log.Debugf("pkg btctl; %s did not take quit within %s", c.command, c.quitTimeout)
	}
}

// Setup runs PeripheralSteps
func (c *Controller) Setup() error {
	return c.Run(PeripheralSteps)
}
