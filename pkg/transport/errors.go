package transport

import (
	"encoding/json"
	"net/http"

	"github.com/rhuss/kbqa/pkg/api"
)

// WriteAPIError writes apiErr in the {"error": {...}} envelope with the
// status from APIError.HTTPStatus.
func WriteAPIError(w http.ResponseWriter, apiErr *api.APIError) {
	WriteJSON(w, apiErr.HTTPStatus(), api.ErrorResponse{Error: apiErr})
}

// WriteJSON writes v as the JSON body of a response with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
