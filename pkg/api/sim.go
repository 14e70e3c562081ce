package api

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/jwoglom/bleperipheral/pkg/peripheral"

	log "github.com/sirupsen/logrus"
)

const defaultSimCentral = "sim-central"

var (
	errUnknownSimOp  = errors.New("unknown sim operation")
	errBadSimRequest = errors.New("bad sim request")
)

// SimRequest is the body of /api/sim/{op} and the parameters of the
// matching websocket command. UUID defaults to the LED characteristic.
type SimRequest struct {
	Central string `json:"central,omitempty"`
	UUID    string `json:"uuid,omitempty"`
	Offset  int    `json:"offset,omitempty"`
	Data    string `json:"data,omitempty"`
}

// SimResult reports the outcome of a simulated central operation; Status is
// the ATT status of reads and writes
type SimResult struct {
	Type   string `json:"type"`
	Op     string `json:"op"`
	Status int    `json:"status"`
	Data   string `json:"data,omitempty"`
}

func (s *Server) simOp(op string, req SimRequest) (*SimResult, error) {
	uuid := req.UUID
	if uuid == "" {
		uuid = peripheral.LEDCharUUID
	}
	res := &SimResult{Type: "sim", Op: op}

	switch op {
	case "connect":
		central := req.Central
		if central == "" {
			central = defaultSimCentral
		}
		return res, s.sim.Connect(central)
	case "encrypt":
		return res, s.sim.Encrypt()
	case "remoteDisconnect":
		return res, s.sim.RemoteDisconnect()
	case "read":
		data, status, err := s.sim.Read(uuid, req.Offset)
		if err != nil {
			return nil, err
		}
		res.Status = int(status)
		res.Data = hex.EncodeToString(data)
		return res, nil
	case "write":
		data, err := hex.DecodeString(req.Data)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid hex data: %v", errBadSimRequest, err)
		}
		status, err := s.sim.Write(uuid, req.Offset, data)
		if err != nil {
			return nil, err
		}
		res.Status = int(status)
		return res, nil
	default:
		return nil, fmt.Errorf("%w: %s", errUnknownSimOp, op)
	}
}

// handleSimAPI runs POST /api/sim/{op} against the simulated stack
func (s *Server) handleSimAPI(w http.ResponseWriter, r *http.Request) {
	if s.sim == nil {
		http.Error(w, "Sim backend not active", http.StatusNotFound)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	defer func() {
		if err := r.Body.Close(); err != nil {
			log.Debugf("Error closing request body: %v", err)
		}
	}()

	var req SimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, fmt.Sprintf("Failed to parse request: %v", err), http.StatusBadRequest)
		return
	}

	op := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/sim/"), "/")
	res, err := s.simOp(op, req)
	switch {
	case errors.Is(err, errUnknownSimOp):
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	case errors.Is(err, errBadSimRequest):
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	case err != nil:
		http.Error(w, fmt.Sprintf("%s failed: %v", op, err), http.StatusConflict)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(res); err != nil {
		log.Errorf("Failed to encode sim response: %v", err)
	}
}

// handleSimCommand runs a websocket command against the simulated stack
func (s *Server) handleSimCommand(command string, params map[string]interface{}) {
	var req SimRequest
	raw, err := json.Marshal(params)
	if err == nil {
		err = json.Unmarshal(raw, &req)
	}
	if err != nil {
		s.SendEvent(BleEvent{Type: "error", Message: fmt.Sprintf("invalid %s parameters: %v", command, err)})
		return
	}

	res, err := s.simOp(command, req)
	if err != nil {
		log.Warnf("Sim command %s failed: %v", command, err)
		s.SendEvent(BleEvent{Type: "error", Message: err.Error()})
		return
	}

	data, err := json.Marshal(res)
	if err != nil {
		log.Errorf("Failed to marshal sim result: %v", err)
		return
	}
	s.send(data)
}
