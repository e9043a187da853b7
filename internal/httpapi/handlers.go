package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/snapdog/snapdog/internal/apperr"
	"github.com/snapdog/snapdog/internal/command"
	"github.com/snapdog/snapdog/internal/health"
	"github.com/snapdog/snapdog/internal/zone"
)

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"live": s.health.Live()})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	snap := s.health.Snapshot()
	status := http.StatusOK
	if !snap.Ready() {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, readyResponse(snap))
}

func readyResponse(snap health.Snapshot) map[string]any {
	checks := make(map[string]string, len(snap.Checks))
	for _, c := range snap.Checks {
		checks[c.Name] = c.Status.String()
	}
	return map[string]any{"ready": snap.Ready(), "checks": checks}
}

func (s *Server) handleListZones(w http.ResponseWriter, r *http.Request) {
	zones := s.disp.AllZoneSnapshots()
	out := make([]zoneDTO, 0, len(zones))
	for _, z := range zones {
		out = append(out, zoneDTOFrom(z))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetZone(w http.ResponseWriter, r *http.Request) {
	idx, ok := zoneIndexFromPath(w, r)
	if !ok {
		return
	}
	zs, ok := s.disp.ZoneSnapshot(idx)
	if !ok {
		writeError(w, apperr.New(apperr.KindNotFound, "httpapi.zone", errZoneNotFound(idx)))
		return
	}
	writeJSON(w, http.StatusOK, zoneDTOFrom(zs))
}

// handleZoneTransport builds a handler that dispatches a fixed-kind,
// argument-less zone command (play/pause/stop/next/previous).
func (s *Server) handleZoneTransport(kind command.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		idx, ok := zoneIndexFromPath(w, r)
		if !ok {
			return
		}
		s.dispatchZone(w, r, command.Command{Kind: kind, ZoneIndex: idx})
	}
}

type volumeBody struct {
	Value int `json:"value"`
}

func (s *Server) handleZoneVolume(w http.ResponseWriter, r *http.Request) {
	idx, ok := zoneIndexFromPath(w, r)
	if !ok {
		return
	}
	var body volumeBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if body.Value < 0 || body.Value > 100 {
		writeBadRequest(w, "value must be 0..100")
		return
	}
	s.dispatchZone(w, r, command.Command{Kind: command.CmdSetVolume, ZoneIndex: idx, Volume: uint8(body.Value)})
}

type muteBody struct {
	Enabled *bool  `json:"enabled"`
	Toggle  string `json:"toggle"`
}

func (s *Server) handleZoneMute(w http.ResponseWriter, r *http.Request) {
	idx, ok := zoneIndexFromPath(w, r)
	if !ok {
		return
	}
	var body muteBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if body.Enabled != nil {
		s.dispatchZone(w, r, command.Command{Kind: command.CmdSetMute, ZoneIndex: idx, Bool: *body.Enabled})
		return
	}
	if body.Toggle == "toggle" {
		zs, ok := s.disp.ZoneSnapshot(idx)
		if !ok {
			writeError(w, apperr.New(apperr.KindNotFound, "httpapi.zone", errZoneNotFound(idx)))
			return
		}
		s.dispatchZone(w, r, command.Command{Kind: command.CmdSetMute, ZoneIndex: idx, Bool: !zs.Muted})
		return
	}
	writeBadRequest(w, "body must set enabled or toggle")
}

type seekBody struct {
	Ms       *uint64  `json:"ms"`
	Progress *float32 `json:"progress"`
}

func (s *Server) handleZoneSeek(w http.ResponseWriter, r *http.Request) {
	idx, ok := zoneIndexFromPath(w, r)
	if !ok {
		return
	}
	var body seekBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	switch {
	case body.Ms != nil:
		s.dispatchZone(w, r, command.Command{Kind: command.CmdSeekMs, ZoneIndex: idx, PositionMs: *body.Ms})
	case body.Progress != nil:
		if *body.Progress < 0 || *body.Progress > 1 {
			writeBadRequest(w, "progress must be 0..1")
			return
		}
		s.dispatchZone(w, r, command.Command{Kind: command.CmdSeekProgress, ZoneIndex: idx, Progress: *body.Progress})
	default:
		writeBadRequest(w, "body must set ms or progress")
	}
}

func (s *Server) handleListClients(w http.ResponseWriter, r *http.Request) {
	clients := s.clients.All()
	out := make([]clientDTO, 0, len(clients))
	for _, c := range clients {
		out = append(out, clientDTOFrom(c))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleClientVolume(w http.ResponseWriter, r *http.Request) {
	mac := zone.ClientMac(chi.URLParam(r, "mac"))
	var body volumeBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if body.Value < 0 || body.Value > 100 {
		writeBadRequest(w, "value must be 0..100")
		return
	}
	s.dispatchClient(w, r, command.Command{Kind: command.CmdSetClientVolume, ClientMac: mac, Volume: uint8(body.Value)})
}

func (s *Server) handleClientMute(w http.ResponseWriter, r *http.Request) {
	mac := zone.ClientMac(chi.URLParam(r, "mac"))
	var body muteBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if body.Enabled != nil {
		s.dispatchClient(w, r, command.Command{Kind: command.CmdSetClientMute, ClientMac: mac, Bool: *body.Enabled})
		return
	}
	if body.Toggle == "toggle" {
		s.dispatchClient(w, r, command.Command{Kind: command.CmdToggleClientMute, ClientMac: mac})
		return
	}
	writeBadRequest(w, "body must set enabled or toggle")
}

type zoneAssignBody struct {
	ZoneIndex uint32 `json:"zone_index"`
}

func (s *Server) handleClientZone(w http.ResponseWriter, r *http.Request) {
	mac := zone.ClientMac(chi.URLParam(r, "mac"))
	var body zoneAssignBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	s.dispatchClient(w, r, command.Command{Kind: command.CmdAssignClientToZone, ClientMac: mac, TargetZone: body.ZoneIndex})
}

func (s *Server) dispatchZone(w http.ResponseWriter, r *http.Request, cmd command.Command) {
	cmd.Source = command.SourceHTTP
	cmd.CorrelationID = uuid.NewString()
	snap, err := s.disp.Dispatch(r.Context(), cmd)
	if err != nil {
		writeError(w, err)
		return
	}
	if snap.Zone != nil {
		writeJSON(w, http.StatusOK, zoneDTOFrom(*snap.Zone))
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) dispatchClient(w http.ResponseWriter, r *http.Request, cmd command.Command) {
	cmd.Source = command.SourceHTTP
	cmd.CorrelationID = uuid.NewString()
	snap, err := s.disp.Dispatch(r.Context(), cmd)
	if err != nil {
		writeError(w, err)
		return
	}
	if snap.Client != nil {
		writeJSON(w, http.StatusOK, clientDTOFrom(*snap.Client))
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func zoneIndexFromPath(w http.ResponseWriter, r *http.Request) (uint32, bool) {
	raw := chi.URLParam(r, "zoneIndex")
	n, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		writeBadRequest(w, "invalid zone index")
		return 0, false
	}
	return uint32(n), true
}

type errZoneNotFound uint32

func (e errZoneNotFound) Error() string { return "zone not found" }
