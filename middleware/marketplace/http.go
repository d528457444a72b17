package marketplace

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"

	"taskmarket-backend/core/marketplace"
)

const maxBodyBytes = 1 << 20

// JSON writes a JSON response with status code.
func JSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("failed to encode response: %v", err)
	}
}

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, msg string) {
	JSON(w, status, ErrorResponse{Error: msg})
}

// StatusFor maps a marketplace error kind to an HTTP status.
func StatusFor(err error) int {
	switch marketplace.KindOf(err) {
	case "InvalidAmount", "TextTooLong", "RatingOutOfRange", "InvalidInput":
		return http.StatusBadRequest
	case "Unauthorized", "InsufficientReputation":
		return http.StatusForbidden
	case "NotFound":
		return http.StatusNotFound
	case "WrongState", "DuplicateEntry", "SelfDealing":
		return http.StatusConflict
	case "InsufficientBalance":
		return http.StatusPaymentRequired
	default:
		return http.StatusInternalServerError
	}
}

// writeErr reports err with the status and kind derived from it.
func writeErr(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		log.Printf("marketplace api: internal error: %v", err)
		msg = "internal error"
	}
	JSON(w, status, ErrorResponse{Error: msg, Kind: marketplace.KindOf(err)})
}

// decodeBody reads a bounded JSON body into v. An empty body leaves v untouched.
func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return fmt.Errorf("%w: body exceeds %d bytes", marketplace.ErrTextTooLong, maxBodyBytes)
		}
		return fmt.Errorf("%w: invalid json: %v", marketplace.ErrInvalidInput, err)
	}
	return nil
}

func intFromQuery(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func parseTaskID(raw string) (uint64, error) {
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("%w: bad task id %q", marketplace.ErrInvalidInput, raw)
	}
	return id, nil
}

// ratingFrom narrows a JSON rating; anything outside uint8 becomes 0, which
// the ledger rejects as out of range.
func ratingFrom(v int) uint8 {
	if v < 0 || v > 255 {
		return 0
	}
	return uint8(v)
}
