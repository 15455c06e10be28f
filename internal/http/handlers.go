package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/ride-companion/internal/auth"
	"github.com/example/ride-companion/internal/directory"
	"github.com/example/ride-companion/internal/dispatch"
	"github.com/example/ride-companion/internal/geo"
	"github.com/example/ride-companion/internal/ingest"
	"github.com/example/ride-companion/internal/matcher"
	"github.com/example/ride-companion/internal/models"
)

type Server struct {
	Rides   *matcher.Service
	Drivers *directory.Directory
	Auth    *auth.Issuer
	WSReg   *dispatch.WSRegistry
	// Locations, when set, routes driver pings through the bus instead of
	// writing them to the directory inline.
	Locations ingest.LocationPublisher
	// Ready reports whether backing stores are reachable.
	Ready func(ctx context.Context) error
	// InternalKey guards /internal routes. Empty disables them.
	InternalKey string

	logger *slog.Logger
	mux    *mux.Router
}

func NewServer(logger *slog.Logger, rides *matcher.Service, drivers *directory.Directory, issuer *auth.Issuer, ws *dispatch.WSRegistry) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{Rides: rides, Drivers: drivers, Auth: issuer, WSReg: ws, logger: logger, mux: mux.NewRouter()}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) }).Methods("GET")
	s.mux.HandleFunc("/ready", s.handleReady).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
	s.mux.HandleFunc("/ws", s.handleWS)

	internal := s.mux.PathPrefix("/internal").Subrouter()
	internal.Use(s.internalKeyMiddleware)
	internal.HandleFunc("/driver/locations", s.handleDriverLocationIngest).Methods("POST")

	api := s.mux.PathPrefix("/api/v1").Subrouter()
	api.Use(s.authMiddleware)

	api.HandleFunc("/rides/request", s.handleRideRequest).Methods("POST")
	api.HandleFunc("/rides/active", s.handleActiveRide).Methods("GET")
	api.HandleFunc("/rides/history", s.handleRideHistory).Methods("GET")
	api.HandleFunc("/rides/{rideId}", s.handleGetRide).Methods("GET")
	api.HandleFunc("/rides/{rideId}/status", s.handleUpdateStatus).Methods("PATCH")
	api.HandleFunc("/rides/{rideId}/location", s.handleRideLocation).Methods("PATCH")
	api.HandleFunc("/rides/{rideId}/cancel", s.handleCancel).Methods("POST")
	api.HandleFunc("/rides/{rideId}/complete", s.handleComplete).Methods("POST")
	api.HandleFunc("/rides/{rideId}/rate", s.handleRate).Methods("POST")

	api.HandleFunc("/drivers", s.handleRegisterDriver).Methods("POST")
	api.HandleFunc("/drivers/me", s.handleMe).Methods("GET")
	api.HandleFunc("/drivers/me/location", s.handleMyLocation).Methods("POST")
	api.HandleFunc("/drivers/me/status", s.handleMyStatus).Methods("PATCH")
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.Ready != nil {
		if err := s.Ready(r.Context()); err != nil {
			s.logger.Warn("readiness check failed", "err", err)
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(200)
	w.Write([]byte("ready"))
}

type rideRequestBody struct {
	Pickup        models.Location      `json:"pickupLocation"`
	Dropoff       models.Location      `json:"dropoffLocation"`
	RideType      models.RideClass     `json:"rideType"`
	PaymentMethod models.PaymentMethod `json:"paymentMethod"`
}

func (s *Server) handleRideRequest(w http.ResponseWriter, r *http.Request) {
	id := identityFrom(r.Context())
	if id.Role != auth.RoleRider {
		s.writeError(w, r, forbidden("only riders can request rides"))
		return
	}
	var body rideRequestBody
	if err := decodeJSON(w, r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.Rides.RequestRide(r.Context(), matcher.RideRequest{
		RiderID:       id.UserID,
		Pickup:        body.Pickup,
		Dropoff:       body.Dropoff,
		Class:         body.RideType,
		PaymentMethod: body.PaymentMethod,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, res)
}

func (s *Server) handleActiveRide(w http.ResponseWriter, r *http.Request) {
	id := identityFrom(r.Context())
	ride, err := s.Rides.ActiveRide(r.Context(), id.UserID, id.Role == auth.RoleDriver)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, ride)
}

func (s *Server) handleRideHistory(w http.ResponseWriter, r *http.Request) {
	id := identityFrom(r.Context())
	q := r.URL.Query()
	page, err := intParam(q.Get("page"), 1)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	limit, err := intParam(q.Get("limit"), 10)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.Rides.RideHistory(r.Context(), id.UserID, models.RideStatus(q.Get("status")), page, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, res)
}

func (s *Server) handleGetRide(w http.ResponseWriter, r *http.Request) {
	id := identityFrom(r.Context())
	ride, err := s.visibleRide(r.Context(), mux.Vars(r)["rideId"], id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, ride)
}

// visibleRide loads a ride the caller may act on. Admins see every ride.
func (s *Server) visibleRide(ctx context.Context, rideID string, id auth.Identity) (*models.Ride, error) {
	if id.Role == auth.RoleAdmin {
		return s.Rides.Rides.GetRide(ctx, rideID)
	}
	return s.Rides.GetRideStatus(ctx, rideID, id.UserID)
}

type statusBody struct {
	Status models.RideStatus `json:"status"`
	Reason string            `json:"reason,omitempty"`
}

func (s *Server) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	var body statusBody
	if err := decodeJSON(w, r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.transition(w, r, body.Status, body.Reason)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Reason string `json:"reason"`
	}
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &body); err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	s.transition(w, r, models.RideCanceled, body.Reason)
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, models.RideCompleted, "")
}

// transition applies a status change on behalf of the caller. Riders may
// only cancel; drivers drive the rest of the lifecycle.
func (s *Server) transition(w http.ResponseWriter, r *http.Request, status models.RideStatus, reason string) {
	id := identityFrom(r.Context())
	rideID := mux.Vars(r)["rideId"]
	if id.Role == auth.RoleRider && status != models.RideCanceled {
		s.writeError(w, r, forbidden("riders can only cancel"))
		return
	}
	if _, err := s.visibleRide(r.Context(), rideID, id); err != nil {
		s.writeError(w, r, err)
		return
	}
	var (
		ride *models.Ride
		err  error
	)
	if status == models.RideCanceled {
		ride, err = s.Rides.CancelRide(r.Context(), rideID, id.UserID, reason)
	} else {
		ride, err = s.Rides.UpdateRideStatus(r.Context(), rideID, status, id.UserID)
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, ride)
}

type coordinatesBody struct {
	Coordinates geo.Point `json:"coordinates"`
}

func (s *Server) handleRideLocation(w http.ResponseWriter, r *http.Request) {
	drv, ok := s.currentDriver(w, r)
	if !ok {
		return
	}
	var body coordinatesBody
	if err := decodeJSON(w, r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	up, err := s.Rides.UpdateRideLocation(r.Context(), mux.Vars(r)["rideId"], drv.ID, body.Coordinates)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, up)
}

type rateBody struct {
	Rating   int    `json:"rating"`
	Feedback string `json:"feedback"`
}

func (s *Server) handleRate(w http.ResponseWriter, r *http.Request) {
	id := identityFrom(r.Context())
	var body rateBody
	if err := decodeJSON(w, r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	ride, err := s.Rides.RateRide(r.Context(), mux.Vars(r)["rideId"], id.UserID, id.Role == auth.RoleDriver, body.Rating, body.Feedback)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, ride)
}

func intParam(v string, def int) (int, error) {
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, badRequest("invalid integer %q", v)
	}
	return n, nil
}
