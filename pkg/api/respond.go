/* Copyright 2025 Venuecrm Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package api

import (
	"encoding/json"
	"net/http"

	"github.com/venuecrm/venuecrm/pkg/log"
	"github.com/venuecrm/venuecrm/pkg/store"
)

// ErrorBody is the JSON body of a failed request
type ErrorBody struct {
	Kind       string `json:"kind,omitempty"`
	Model      string `json:"model,omitempty"`
	Field      string `json:"field,omitempty"`
	Constraint string `json:"constraint,omitempty"`
	Op         string `json:"op,omitempty"`
	Message    string `json:"message"`
}

type errorResponse struct {
	Error ErrorBody `json:"error"`
}

// statusOf maps a store error kind to an HTTP status
func statusOf(kind store.Kind) int {
	switch kind {
	case store.KindValidation:
		return http.StatusBadRequest
	case store.KindNotFound:
		return http.StatusNotFound
	case store.KindConstraint:
		return http.StatusConflict
	case store.KindTimeout:
		return http.StatusGatewayTimeout
	case store.KindUnsupported:
		return http.StatusNotImplemented
	case store.KindConnection:
		return http.StatusServiceUnavailable
	case store.KindCanceled:
		return http.StatusRequestTimeout
	}

	return http.StatusInternalServerError
}

func respondJSON(w http.ResponseWriter, statusCode int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.ErrorWrap(err, "encoding response")
	}
}

func respondMessage(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, errorResponse{Error: ErrorBody{Message: message}})
}

// handleError responds with the status of the store error in err. Other
// errors are logged and reported as internal errors without their message.
func handleError(w http.ResponseWriter, msg string, err error) {
	e, ok := store.AsError(err)
	if !ok {
		log.ErrorWrap(err, msg)
		respondMessage(w, http.StatusInternalServerError, "internal server error")
		return
	}

	statusCode := statusOf(e.Kind)
	if statusCode >= http.StatusInternalServerError {
		log.WithFields(log.Fields{"kind": string(e.Kind)}).ErrorWrap(err, msg)
	}

	respondJSON(w, statusCode, errorResponse{Error: ErrorBody{
		Kind:       string(e.Kind),
		Model:      e.Model,
		Field:      e.Field,
		Constraint: e.Constraint,
		Op:         e.Op,
		Message:    err.Error(),
	}})
}
