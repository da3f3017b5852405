package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/seopulse/gateway/app/config"
	"github.com/seopulse/gateway/app/engine"
	slogctx "github.com/veqryn/slog-context"
)

// Engine is the subset of the reconciliation engine the HTTP layer uses.
type Engine interface {
	RelatedKeywords(ctx context.Context, keywords []string, locationCode int, languageCode string) []engine.RelatedEntry
	Serp(ctx context.Context, keywords []string, locationCode int, languageCode string) []engine.SerpEntry
}

const (
	defaultLocationCode = 2826
	defaultLanguageCode = "en"
)

type errorResponse struct {
	Error string `json:"error"`
}

type relatedRequest struct {
	Keywords     []string `json:"keywords"`
	LocationCode *int     `json:"locationCode"`
	LanguageCode *string  `json:"languageCode"`
}

type serpRequest struct {
	Keywords     []string `json:"keywords"`
	LocationCode *int     `json:"location_code"`
	LanguageCode *string  `json:"language_code"`
}

// Handler builds the API routes. Every route sits behind the x-api-key check.
func Handler(eng Engine, config *config.Config) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/keyword/related", func(w http.ResponseWriter, req *http.Request) {
		body := &relatedRequest{}
		if err := json.NewDecoder(req.Body).Decode(body); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Invalid request body"})
			return
		}

		keywords, ok := validateKeywords(w, body.Keywords, config.Engine.MaxBatch)
		if !ok {
			return
		}

		locationCode, languageCode := applyRequestDefaults(body.LocationCode, body.LanguageCode)
		entries := eng.RelatedKeywords(req.Context(), keywords, locationCode, languageCode)
		writeJSON(w, http.StatusOK, entries)
	})

	mux.HandleFunc("POST /api/keyword/serp", func(w http.ResponseWriter, req *http.Request) {
		body := &serpRequest{}
		if err := json.NewDecoder(req.Body).Decode(body); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Invalid request body"})
			return
		}

		keywords, ok := validateKeywords(w, body.Keywords, config.Engine.MaxBatch)
		if !ok {
			return
		}

		locationCode, languageCode := applyRequestDefaults(body.LocationCode, body.LanguageCode)
		entries := eng.Serp(req.Context(), keywords, locationCode, languageCode)
		writeJSON(w, http.StatusOK, entries)
	})

	mux.HandleFunc("GET /api/keyword/trend", func(w http.ResponseWriter, req *http.Request) {
		// Placeholder until trend data gets a real source.
		writeJSON(w, http.StatusOK, map[string]any{
			"message": "Trend data is not implemented yet",
			"data":    []string{"trend data point 1", "trend data point 2", "trend data point 3"},
		})
	})

	return requireAPIKey(config.Auth.APIKey, mux)
}

// Start blocks serving the API until the process exits.
func Start(eng Engine, config *config.Config) {
	addr := fmt.Sprintf("%v:%v", config.HTTP.Listen, config.HTTP.Port)
	fmt.Printf("Listening on http://%v\n", addr)
	log.Fatal(http.ListenAndServe(addr, Handler(eng, config)))
}

// requireAPIKey rejects any request that does not present the configured key
// in the x-api-key header. When no key is configured, every request is
// rejected rather than letting the API run open.
func requireAPIKey(apiKey string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if apiKey == "" || req.Header.Get("x-api-key") != apiKey {
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "Invalid or missing API key"})
			return
		}
		next.ServeHTTP(w, req)
	})
}

// validateKeywords enforces the request shape shared by both keyword routes.
// It returns the deduplicated keyword list, writing the error response itself
// when validation fails.
func validateKeywords(w http.ResponseWriter, keywords []string, maxBatch int) ([]string, bool) {
	if len(keywords) == 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "The keywords field is required and must be a non-empty array"})
		return nil, false
	}

	// A single blank entry rejects the whole request, it is never dropped.
	for _, keyword := range keywords {
		if strings.TrimSpace(keyword) == "" {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "The keywords field must not contain empty or blank entries"})
			return nil, false
		}
	}

	unique := engine.UniqueKeywords(keywords)
	if len(unique) > maxBatch {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: fmt.Sprintf("Too many keywords; at most %v unique keywords are allowed per request", maxBatch)})
		return nil, false
	}
	return unique, true
}

func applyRequestDefaults(locationCode *int, languageCode *string) (int, string) {
	location := defaultLocationCode
	if locationCode != nil {
		location = *locationCode
	}
	language := defaultLanguageCode
	if languageCode != nil && *languageCode != "" {
		language = *languageCode
	}
	return location, language
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Add("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slogctx.Error(context.Background(), "Failed to encode response", "error", err)
	}
}
