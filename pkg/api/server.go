//nolint:revive // api is a standard package name for API servers
package api

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/jwoglom/bleperipheral/pkg/bluetooth"
	"github.com/jwoglom/bleperipheral/pkg/state"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

// Server provides an HTTP/WebSocket API for monitoring and controlling the peripheral
type Server struct {
	ble      *bluetooth.Ble
	sim      *bluetooth.Sim
	ledState *state.LEDState
	mux      *http.ServeMux

	conn *websocket.Conn
	mtx  sync.Mutex

	// Callback for commands the server does not handle itself
	commandHandler CommandHandler
}

// CommandHandler is called for websocket commands beyond getState and disconnect
type CommandHandler func(command string, params map[string]interface{})

// PeripheralState represents the current state of the peripheral
type PeripheralState struct {
	Type        string              `json:"type"`
	Link        bluetooth.LinkState `json:"link"`
	Connected   bool                `json:"connected"`
	Advertising bool                `json:"advertising"`
	Central     string              `json:"central,omitempty"`
	LED         int                 `json:"led"`
}

// BleEvent represents a BLE event sent to websocket clients
type BleEvent struct {
	Type    string `json:"type"`
	Central string `json:"central,omitempty"`
	Data    string `json:"data,omitempty"`
	Status  *int   `json:"status,omitempty"`
	Message string `json:"message,omitempty"`
}

// New creates a new API server
func New(ble *bluetooth.Ble, ledState *state.LEDState) *Server {
	s := &Server{
		ble:      ble,
		ledState: ledState,
		mux:      http.NewServeMux(),
	}
	// the simulated stack can be driven from the API in place of a real central
	if sim, ok := ble.Backend().(*bluetooth.Sim); ok {
		s.sim = sim
		s.commandHandler = s.handleSimCommand
	}
	s.setupRoutes()
	return s
}

// Handler returns the routes served by Start
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start serves the API on addr until the listener fails
func (s *Server) Start(addr string) error {
	log.Infof("Peripheral web API listening on %s", addr)
	return http.ListenAndServe(addr, s.mux)
}

// SendEvent sends a BLE event to the connected websocket client
func (s *Server) SendEvent(event BleEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		log.Errorf("Failed to marshal event: %v", err)
		return
	}
	s.send(data)
}

// OnConnection forwards connection changes to websocket clients
func (s *Server) OnConnection(ev bluetooth.ConnectionEvent) {
	switch {
	case ev.Connected && ev.Err != 0:
		status := int(ev.Err)
		s.SendEvent(BleEvent{Type: "connect_failed", Central: ev.Central, Status: &status})
	case ev.Connected:
		s.SendEvent(BleEvent{Type: "connected", Central: ev.Central})
	default:
		reason := int(ev.Reason)
		s.SendEvent(BleEvent{Type: "disconnected", Central: ev.Central, Status: &reason})
	}
}

// OnLEDRead sends a notification that the LED characteristic was read
func (s *Server) OnLEDRead(data []byte) {
	s.SendEvent(BleEvent{
		Type: "read",
		Data: hex.EncodeToString(data),
	})
}

// OnLEDWrite sends a notification that the LED characteristic was written
func (s *Server) OnLEDWrite(data []byte, status byte) {
	st := int(status)
	s.SendEvent(BleEvent{
		Type:   "write",
		Data:   hex.EncodeToString(data),
		Status: &st,
	})
}

// NotifyLEDChanged sends the accepted LED value to websocket clients
func (s *Server) NotifyLEDChanged(old, value byte) error {
	s.SendEvent(BleEvent{
		Type:    "led",
		Data:    hex.EncodeToString([]byte{value}),
		Message: fmt.Sprintf("LED 0x%02x -> 0x%02x", old, value),
	})
	return nil
}

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		if _, err := fmt.Fprintf(w, "BLE Peripheral API - Connect via WebSocket at /ws\n\nAPI:\n  GET    /api/state\n  POST   /api/bluetooth/disconnect\n\nSim backend:\n  POST   /api/sim/{connect,encrypt,remoteDisconnect,read,write}"); err != nil {
			log.Warnf("Failed to write response: %v", err)
		}
	})
	s.mux.HandleFunc("/ws", s.handleWebsocket)
	s.mux.HandleFunc("/api/state", s.handleStateAPI)
	s.mux.HandleFunc("/api/bluetooth/disconnect", s.handleDisconnectAPI)
	s.mux.HandleFunc("/api/sim/", s.handleSimAPI)
}

func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	log.Infof("WebSocket connection from: %s", r.RemoteAddr)

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Errorf("WebSocket upgrade failed: %v", err)
		return
	}

	s.mtx.Lock()
	if s.conn != nil {
		log.Info("Replacing previous websocket client")
	}
	s.conn = ws
	s.mtx.Unlock()

	// Send initial state
	s.sendState()

	// Listen for messages
	s.reader(ws)
}

func (s *Server) currentState() PeripheralState {
	return PeripheralState{
		Type:        "state",
		Link:        s.ble.LinkState(),
		Connected:   s.ble.IsConnected(),
		Advertising: s.ble.IsAdvertising(),
		Central:     s.ble.Central(),
		LED:         int(s.ledState.Get()),
	}
}

func (s *Server) sendState() {
	data, err := json.Marshal(s.currentState())
	if err != nil {
		log.Errorf("Failed to marshal state: %v", err)
		return
	}
	s.send(data)
}

func (s *Server) send(data []byte) {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	if s.conn == nil {
		return
	}
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		log.Errorf("Failed to send websocket message: %v", err)
	}
}

func (s *Server) reader(conn *websocket.Conn) {
	defer func() {
		s.mtx.Lock()
		if s.conn == conn {
			s.conn = nil
		}
		s.mtx.Unlock()
		if err := conn.Close(); err != nil {
			log.Debugf("Error closing websocket: %v", err)
		}
	}()

	for {
		_, p, err := conn.ReadMessage()
		if err != nil {
			log.Infof("WebSocket read error: %v", err)
			return
		}
		log.Debugf("Received WebSocket message: %s", string(p))
		s.handleCommand(p)
	}
}

func (s *Server) handleCommand(data []byte) {
	var msg map[string]interface{}
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Errorf("Failed to parse command: %v", err)
		return
	}

	command, ok := msg["command"].(string)
	if !ok {
		log.Error("Command field missing or not a string")
		return
	}

	switch command {
	case "getState":
		s.sendState()
		return
	case "disconnect":
		if err := s.ble.ShutdownConnection(); err != nil {
			log.Errorf("Failed to disconnect: %v", err)
			s.SendEvent(BleEvent{Type: "error", Message: err.Error()})
		}
		return
	}

	if s.commandHandler != nil {
		s.commandHandler(command, msg)
		return
	}
	log.Warnf("Unknown command: %s", command)
}

// handleStateAPI returns the peripheral state
func (s *Server) handleStateAPI(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.currentState()); err != nil {
		log.Errorf("Failed to encode state: %v", err)
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}

// handleDisconnectAPI terminates the link with the connected central
func (s *Server) handleDisconnectAPI(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")

	wasConnected := s.ble.IsConnected()
	if err := s.ble.ShutdownConnection(); err != nil {
		http.Error(w, fmt.Sprintf("Failed to disconnect: %v", err), http.StatusInternalServerError)
		return
	}

	message := "No central connected"
	if wasConnected {
		message = "Disconnected"
	}
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(map[string]interface{}{
		"status":       "success",
		"disconnected": wasConnected,
		"message":      message,
	}); err != nil {
		log.Errorf("Failed to encode disconnect response: %v", err)
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}
