package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/example/ride-companion/internal/auth"
	"github.com/example/ride-companion/internal/geo"
	"github.com/example/ride-companion/internal/models"
	"github.com/example/ride-companion/internal/observability"
)

// currentDriver resolves the driver profile of a caller with the driver
// role, writing the error response itself when that fails.
func (s *Server) currentDriver(w http.ResponseWriter, r *http.Request) (*models.Driver, bool) {
	id := identityFrom(r.Context())
	if id.Role != auth.RoleDriver {
		s.writeError(w, r, forbidden("driver role required"))
		return nil, false
	}
	drv, err := s.Drivers.ForUser(r.Context(), id.UserID)
	if err != nil {
		s.writeError(w, r, err)
		return nil, false
	}
	return drv, true
}

type registerDriverBody struct {
	Vehicle   models.Vehicle         `json:"vehicle"`
	Documents models.DriverDocuments `json:"documents"`
	Location  geo.Point              `json:"location"`
}

// handleRegisterDriver onboards the caller as a driver. New profiles start
// offline; the driver goes online through /drivers/me/status.
func (s *Server) handleRegisterDriver(w http.ResponseWriter, r *http.Request) {
	id := identityFrom(r.Context())
	if id.Role != auth.RoleDriver {
		s.writeError(w, r, forbidden("driver role required"))
		return
	}
	var body registerDriverBody
	if err := decodeJSON(w, r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	if !body.Vehicle.Type.Valid() || body.Vehicle.Number == "" {
		s.writeError(w, r, badRequest("vehicle type and number are required"))
		return
	}
	if _, err := s.Drivers.ForUser(r.Context(), id.UserID); err == nil {
		s.writeError(w, r, fmt.Errorf("%w: user %s already has a driver profile", models.ErrConflict, id.UserID))
		return
	} else if !errors.Is(err, models.ErrNotFound) {
		s.writeError(w, r, err)
		return
	}
	drv := models.NewDriver("DRV-"+uuid.NewString(), id.UserID, body.Vehicle, body.Location)
	drv.Documents = body.Documents
	if err := s.Drivers.Register(r.Context(), drv); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, drv)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	drv, ok := s.currentDriver(w, r)
	if !ok {
		return
	}
	writeData(w, http.StatusOK, drv)
}

func (s *Server) handleMyLocation(w http.ResponseWriter, r *http.Request) {
	drv, ok := s.currentDriver(w, r)
	if !ok {
		return
	}
	var body coordinatesBody
	if err := decodeJSON(w, r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.Drivers.UpdateLocation(r.Context(), drv.ID, body.Coordinates); err != nil {
		s.writeError(w, r, err)
		return
	}
	observability.LocationUpdates.Inc()
	writeData(w, http.StatusOK, map[string]any{"driverId": drv.ID, "location": body.Coordinates})
}

func (s *Server) handleMyStatus(w http.ResponseWriter, r *http.Request) {
	drv, ok := s.currentDriver(w, r)
	if !ok {
		return
	}
	var body struct {
		Status models.DriverStatus `json:"status"`
	}
	if err := decodeJSON(w, r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.Drivers.UpdateStatus(r.Context(), drv.ID, body.Status); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{"driverId": drv.ID, "status": body.Status})
}

// handleDriverLocationIngest takes raw position pings from the driver
// gateway. With a bus configured they are queued for the consumer,
// otherwise applied directly.
func (s *Server) handleDriverLocationIngest(w http.ResponseWriter, r *http.Request) {
	var loc models.DriverLocation
	if err := decodeJSON(w, r, &loc); err != nil {
		s.writeError(w, r, err)
		return
	}
	if loc.DriverID == "" || !loc.Coordinates.Valid() {
		s.writeError(w, r, badRequest("driverId and valid coordinates are required"))
		return
	}
	if loc.At.IsZero() {
		loc.At = time.Now().UTC()
	}
	if s.Locations != nil {
		if err := s.Locations.PublishLocation(r.Context(), loc); err != nil {
			s.logger.Error("publish location failed", "driver_id", loc.DriverID, "err", err)
			http.Error(w, "queue unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusAccepted)
		return
	}
	if err := s.Drivers.UpdateLocation(r.Context(), loc.DriverID, loc.Coordinates); err != nil {
		s.writeError(w, r, err)
		return
	}
	observability.LocationUpdates.Inc()
	w.WriteHeader(http.StatusNoContent)
}

var upgrader = websocket.Upgrader{}

// handleWS opens the caller's notification channel. Browsers cannot set
// headers on the upgrade request, so the token may come as ?token=.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	tok := r.URL.Query().Get("token")
	if tok == "" {
		tok = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	}
	id, err := s.Auth.Parse(tok)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws upgrade failed", "user_id", id.UserID, "err", err)
		return
	}
	sess := s.WSReg.Add(id.UserID, conn)
	s.logger.Info("ws connected", "user_id", id.UserID, "role", id.Role)

	go func() {
		defer conn.Close()
		defer s.WSReg.Remove(id.UserID, sess)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}
