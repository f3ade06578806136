package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/lorawan-server/lorawan-analyzer/internal/auth"
	"github.com/lorawan-server/lorawan-analyzer/internal/models"
	"github.com/lorawan-server/lorawan-analyzer/internal/storage"
)

// ========== Auth handlers ==========

// HandleLogin exchanges the admin credentials for a token
func (s *RESTServer) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username" validate:"required"`
		Password string `json:"password" validate:"required"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.validator.Validate(req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	token, expires, err := s.auth.Login(req.Username, req.Password)
	switch {
	case errors.Is(err, auth.ErrLoginDisabled):
		s.respondError(w, http.StatusNotFound, err.Error())
		return
	case errors.Is(err, auth.ErrInvalidCredentials):
		log.Warn().Str("user", req.Username).Str("remote", r.RemoteAddr).Msg("Rejected admin login")
		s.respondError(w, http.StatusUnauthorized, "invalid credentials")
		return
	case err != nil:
		s.respondError(w, http.StatusInternalServerError, "failed to generate token")
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"access_token": token,
		"expires_in":   int(time.Until(expires).Seconds()),
		"token_type":   "Bearer",
	})
}

// ========== Operator handlers ==========

// HandleListOperators lists persisted custom operators
func (s *RESTServer) HandleListOperators(w http.ResponseWriter, r *http.Request) {
	ops, err := s.deps.Store.ListCustomOperators(r.Context())
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if ops == nil {
		ops = []*models.CustomOperator{}
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"operators": ops,
	})
}

// HandleCreateOperator persists an operator and reloads the matcher
func (s *RESTServer) HandleCreateOperator(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Prefix   string `json:"prefix" validate:"required,prefix"`
		Name     string `json:"name" validate:"required,max=64"`
		Priority int    `json:"priority"`
		Color    string `json:"color" validate:"hexcolor"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.validator.Validate(req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	op := &models.CustomOperator{
		Prefix:   req.Prefix,
		Name:     req.Name,
		Priority: req.Priority,
		Color:    req.Color,
	}
	if err := s.deps.Store.CreateCustomOperator(r.Context(), op); err != nil {
		if errors.Is(err, storage.ErrDuplicateKey) {
			s.respondError(w, http.StatusConflict, "operator prefix already exists")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if !s.reloadOperators(w, r) {
		return
	}

	log.Info().
		Int64("id", op.ID).
		Str("prefix", op.Prefix).
		Str("name", op.Name).
		Str("by", actor(r)).
		Msg("Custom operator added")

	s.respondJSON(w, http.StatusCreated, map[string]interface{}{
		"id": op.ID,
	})
}

// HandleDeleteOperator deletes an operator and reloads the matcher
func (s *RESTServer) HandleDeleteOperator(w http.ResponseWriter, r *http.Request) {
	id, ok := s.parseID(w, r)
	if !ok {
		return
	}

	if err := s.deps.Store.DeleteCustomOperator(r.Context(), id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.respondError(w, http.StatusNotFound, "operator not found")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if !s.reloadOperators(w, r) {
		return
	}

	log.Info().Int64("id", id).Str("by", actor(r)).Msg("Custom operator deleted")

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
	})
}

func (s *RESTServer) reloadOperators(w http.ResponseWriter, r *http.Request) bool {
	if s.deps.Operators == nil {
		return true
	}
	if err := s.deps.Operators.Reload(r.Context()); err != nil {
		log.Error().Err(err).Msg("Failed to reload operator prefixes")
		s.respondError(w, http.StatusInternalServerError, "operator saved but matcher reload failed")
		return false
	}
	return true
}

// ========== Hide rule handlers ==========

// HandleListHideRules lists persisted hide rules followed by the
// configured ones, which carry no id.
func (s *RESTServer) HandleListHideRules(w http.ResponseWriter, r *http.Request) {
	persisted, err := s.deps.Store.ListHideRules(r.Context())
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	rules := make([]models.HideRule, 0, len(persisted)+len(s.config.HideRules))
	for _, rule := range persisted {
		rules = append(rules, *rule)
	}
	rules = append(rules, s.config.StaticHideRules()...)

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"rules": rules,
	})
}

// HandleCreateHideRule persists a hide rule
func (s *RESTServer) HandleCreateHideRule(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Type        string `json:"type" validate:"required,oneof=dev_addr join_eui"`
		Prefix      string `json:"prefix" validate:"required,prefix"`
		Description string `json:"description" validate:"max=256"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.validator.Validate(req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	rule := &models.HideRule{
		Type:        models.HideRuleType(req.Type),
		Prefix:      req.Prefix,
		Description: req.Description,
	}
	if err := s.deps.Store.CreateHideRule(r.Context(), rule); err != nil {
		if errors.Is(err, storage.ErrDuplicateKey) {
			s.respondError(w, http.StatusConflict, "hide rule already exists")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusCreated, map[string]interface{}{
		"id": rule.ID,
	})
}

// HandleDeleteHideRule deletes a hide rule
func (s *RESTServer) HandleDeleteHideRule(w http.ResponseWriter, r *http.Request) {
	id, ok := s.parseID(w, r)
	if !ok {
		return
	}

	if err := s.deps.Store.DeleteHideRule(r.Context(), id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.respondError(w, http.StatusNotFound, "hide rule not found")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
	})
}

// ========== Config handlers ==========

// HandleMyDevices lists the DevAddr ranges of known_devices operators
func (s *RESTServer) HandleMyDevices(w http.ResponseWriter, r *http.Request) {
	ranges := s.config.KnownDeviceRanges()
	if ranges == nil {
		ranges = []models.DeviceRange{}
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"ranges": ranges,
	})
}

// HandleOperatorColors maps operator names to colors. Configured colors
// override the ones stored with custom operators.
func (s *RESTServer) HandleOperatorColors(w http.ResponseWriter, r *http.Request) {
	colors := make(map[string]string)

	ops, err := s.deps.Store.ListCustomOperators(r.Context())
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	for _, op := range ops {
		if op.Color != "" {
			colors[op.Name] = op.Color
		}
	}
	for name, color := range s.config.OperatorColors() {
		colors[name] = color
	}

	s.respondJSON(w, http.StatusOK, colors)
}

// ========== Query handlers ==========

// HandleListGateways lists every gateway seen so far
func (s *RESTServer) HandleListGateways(w http.ResponseWriter, r *http.Request) {
	gateways, err := s.deps.Store.ListGateways(r.Context())
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if gateways == nil {
		gateways = []*models.Gateway{}
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"gateways": gateways,
		"total":    len(gateways),
	})
}

const maxNearbyRadiusKm = 1000

// HandleNearbyGateways lists gateways within radius km of lat/lon, nearest
// first. Needs the Redis gateway registry.
func (s *RESTServer) HandleNearbyGateways(w http.ResponseWriter, r *http.Request) {
	if s.deps.Nearby == nil {
		s.respondError(w, http.StatusNotFound, "gateway registry not enabled")
		return
	}

	q := r.URL.Query()
	lat, err := strconv.ParseFloat(q.Get("lat"), 64)
	if err != nil || lat < -90 || lat > 90 {
		s.respondError(w, http.StatusBadRequest, "invalid lat")
		return
	}
	lon, err := strconv.ParseFloat(q.Get("lon"), 64)
	if err != nil || lon < -180 || lon > 180 {
		s.respondError(w, http.StatusBadRequest, "invalid lon")
		return
	}
	radius := 10.0
	if v := q.Get("radius"); v != "" {
		radius, err = strconv.ParseFloat(v, 64)
		if err != nil || radius <= 0 || radius > maxNearbyRadiusKm {
			s.respondError(w, http.StatusBadRequest, "invalid radius")
			return
		}
	}

	ids, err := s.deps.Nearby.Nearby(r.Context(), lat, lon, radius)
	if err != nil {
		log.Error().Err(err).Msg("Nearby gateway lookup failed")
		s.respondError(w, http.StatusBadGateway, "gateway registry unavailable")
		return
	}
	if ids == nil {
		ids = []string{}
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"gateways": ids,
		"total":    len(ids),
		"radiusKm": radius,
	})
}

// HandleGetDevice returns the metadata of a DevAddr, from the cache first
func (s *RESTServer) HandleGetDevice(w http.ResponseWriter, r *http.Request) {
	devAddr := chi.URLParam(r, "dev_addr")
	if len(devAddr) != 8 {
		s.respondError(w, http.StatusBadRequest, "invalid dev_addr")
		return
	}
	if _, err := strconv.ParseUint(devAddr, 16, 32); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid dev_addr")
		return
	}

	if s.deps.Devices != nil {
		if rec, ok := s.deps.Devices.Get(devAddr); ok {
			s.respondDevice(w, rec)
			return
		}
	}

	rec, err := s.deps.Store.GetDeviceMetadata(r.Context(), devAddr)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.respondError(w, http.StatusNotFound, "device not found")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondDevice(w, *rec)
}

func (s *RESTServer) respondDevice(w http.ResponseWriter, rec models.DeviceMetadata) {
	body := map[string]interface{}{
		"device": rec,
	}
	if s.deps.Operators != nil {
		body["operator"] = s.deps.Operators.Matcher().Name(rec.DevAddr)
	}
	s.respondJSON(w, http.StatusOK, body)
}

// HandleStats reports pipeline state
func (s *RESTServer) HandleStats(w http.ResponseWriter, r *http.Request) {
	stats := map[string]interface{}{
		"uptimeSeconds": int64(time.Since(s.started).Seconds()),
	}
	if s.deps.Sessions != nil {
		stats["sessions"] = s.deps.Sessions.Len()
	}
	if s.deps.Devices != nil {
		stats["devices"] = s.deps.Devices.Size()
	}
	if s.deps.Operators != nil {
		stats["operatorRules"] = s.deps.Operators.Matcher().Len()
	}
	if s.deps.Live != nil {
		stats["liveClients"] = s.deps.Live.Len()
	}
	if s.deps.Connected != nil {
		stats["mqttConnected"] = s.deps.Connected()
	}
	s.respondJSON(w, http.StatusOK, stats)
}

// ========== Helper methods ==========

// HandleHealth health check
func (s *RESTServer) HandleHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	code := http.StatusOK
	if s.deps.Connected != nil && !s.deps.Connected() {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	s.respondJSON(w, code, map[string]interface{}{
		"status": status,
		"time":   time.Now().UTC(),
	})
}

func (s *RESTServer) parseID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		s.respondError(w, http.StatusBadRequest, "invalid id")
		return 0, false
	}
	return id, true
}

// respondJSON responds with JSON
func (s *RESTServer) respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(response)
}

// respondError responds with error
func (s *RESTServer) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{
		"error": message,
	})
}

func actor(r *http.Request) string {
	if claims, ok := r.Context().Value(claimsKey).(*auth.Claims); ok {
		return claims.Subject
	}
	return "anonymous"
}
