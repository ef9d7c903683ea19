package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/relaypos/edgehub/internal/cloud"
)

type setupRegisterReq struct {
	CloudURL   string `json:"cloudUrl"`
	HubName    string `json:"hubName"`
	LocationID string `json:"locationId"`
	Secret     string `json:"secret"`
}

// SetupRegister handles POST /api/setup/register: enrols the hub with the
// cloud and persists the returned credentials. Re-running re-pairs.
func (s *Server) SetupRegister(w http.ResponseWriter, r *http.Request) {
	var req setupRegisterReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.CloudURL == "" {
		writeError(w, http.StatusBadRequest, "cloudUrl required")
		return
	}

	// The cloud client reads the base URL from config, so it has to be set
	// before the registration call goes out.
	if err := s.Cfg.SetCredentials(req.CloudURL, "", "", ""); err != nil {
		writeError(w, http.StatusInternalServerError, "config save failed")
		return
	}

	creds, err := s.Cloud.Register(r.Context(), cloud.RegisterRequest{
		HubName:    req.HubName,
		LocationID: req.LocationID,
		Secret:     req.Secret,
	})
	if err != nil {
		log.Error().Err(err).Msg("hub registration failed")
		writeError(w, http.StatusBadGateway, "registration failed: "+err.Error())
		return
	}

	if err := s.Cfg.SetCredentials(req.CloudURL, creds.APIKey, creds.TenantID, creds.LocationID); err != nil {
		writeError(w, http.StatusInternalServerError, "config save failed")
		return
	}

	log.Info().Str("tenantId", creds.TenantID).Str("locationId", creds.LocationID).Msg("hub registered with cloud")
	writeJSON(w, http.StatusOK, map[string]any{"paired": true, "tenantId": creds.TenantID, "locationId": creds.LocationID})
}

type pairInitReq struct {
	CloudURL string `json:"cloudUrl"`
}

// SetupPairInit handles POST /api/setup/pair: starts a code pairing flow and
// returns the code the operator enters in the cloud dashboard.
func (s *Server) SetupPairInit(w http.ResponseWriter, r *http.Request) {
	var req pairInitReq
	if err := json.NewDecoder(r.Body).Decode(&req); err == nil && req.CloudURL != "" {
		if err := s.Cfg.SetCredentials(req.CloudURL, "", "", ""); err != nil {
			writeError(w, http.StatusInternalServerError, "config save failed")
			return
		}
	}
	if s.Cfg.Snapshot().CloudBaseURL == "" {
		writeError(w, http.StatusBadRequest, "cloudUrl required")
		return
	}

	code, err := s.Cloud.PairInit(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("pair init failed")
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"code": code})
}

// SetupPairStatus handles GET /api/setup/pair/{code}: polls the pairing flow
// and persists credentials once the operator has approved the code.
func (s *Server) SetupPairStatus(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")

	creds, approved, err := s.Cloud.PairStatus(r.Context(), code)
	if err != nil {
		log.Error().Err(err).Msg("pair status failed")
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	if !approved {
		writeJSON(w, http.StatusOK, map[string]any{"paired": false})
		return
	}

	base := s.Cfg.Snapshot().CloudBaseURL
	if err := s.Cfg.SetCredentials(base, creds.APIKey, creds.TenantID, creds.LocationID); err != nil {
		writeError(w, http.StatusInternalServerError, "config save failed")
		return
	}

	log.Info().Str("tenantId", creds.TenantID).Msg("pairing approved")
	writeJSON(w, http.StatusOK, map[string]any{"paired": true, "tenantId": creds.TenantID, "locationId": creds.LocationID})
}
