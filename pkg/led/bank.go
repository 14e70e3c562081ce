package led

import "fmt"

// Bank holds the three LEDs of the peripheral board
type Bank struct {
	// Run blinks while the application is alive
	Run LED
	// Connection is lit while a central is connected
	Connection LED
	// User is driven by the LED characteristic
	User LED
}

// NewBank parses one spec per LED
func NewBank(run, connection, user string) (*Bank, error) {
	var (
		b   Bank
		err error
	)
	if b.Run, err = Parse(run); err != nil {
		return nil, fmt.Errorf("run led: %w", err)
	}
	if b.Connection, err = Parse(connection); err != nil {
		return nil, fmt.Errorf("connection led: %w", err)
	}
	if b.User, err = Parse(user); err != nil {
		return nil, fmt.Errorf("user led: %w", err)
	}
	return &b, nil
}

// MemoryBank returns a bank of in-memory LEDs
func MemoryBank() *Bank {
	return &Bank{
		Run:        NewMemory("run"),
		Connection: NewMemory("connection"),
		User:       NewMemory("user"),
	}
}

// Off switches every LED off
func (b *Bank) Off() error {
	for _, l := range []LED{b.Run, b.Connection, b.User} {
		if err := l.Set(false); err != nil {
			return err
		}
	}
	return nil
}
