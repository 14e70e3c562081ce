package bluetooth

// LinkState summarizes what the peripheral is doing on air
type LinkState string

const (
	// LinkStateIdle - enabled (or not) but neither advertising nor connected
	LinkStateIdle LinkState = "Idle"
	// LinkStateAdvertising - connectable advertising is running
	LinkStateAdvertising LinkState = "Advertising"
	// LinkStateConnected - a central holds the single connection
	LinkStateConnected LinkState = "Connected"
)

// LinkState returns the current link state
func (b *Ble) LinkState() LinkState {
	b.mtx.RLock()
	defer b.mtx.RUnlock()
	switch {
	case b.central != "":
		return LinkStateConnected
	case b.advertising:
		return LinkStateAdvertising
	default:
		return LinkStateIdle
	}
}
