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
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/schema"
	"github.com/pkg/errors"
	"github.com/venuecrm/venuecrm/pkg/log"
	"github.com/venuecrm/venuecrm/pkg/store"
)

const defaultMaxBodyBytes = 1 << 20

// Handlers serves the gateway endpoints over a store client
type Handlers struct {
	client       *store.Client
	decoder      *schema.Decoder
	maxBodyBytes int64
}

// NewHandlers returns the gateway handlers
func NewHandlers(c *store.Client, maxBodyBytes int64) *Handlers {
	decoder := schema.NewDecoder()
	decoder.IgnoreUnknownKeys(false)

	return &Handlers{
		client:       c,
		decoder:      decoder,
		maxBodyBytes: maxBodyBytes,
	}
}

func validationErr(op, msg string, err error) error {
	return &store.Error{Kind: store.KindValidation, Op: op, Message: msg, Err: err}
}

// readBody reads a JSON body. An empty body reads as an empty object.
func (h *Handlers) readBody(w http.ResponseWriter, r *http.Request, op string) (json.RawMessage, error) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodyBytes)

	var raw json.RawMessage
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(&raw); err != nil {
		if errors.Is(err, io.EOF) {
			return json.RawMessage("{}"), nil
		}
		return nil, validationErr(op, "malformed request body", err)
	}
	if dec.More() {
		return nil, validationErr(op, "request body must hold a single JSON value", nil)
	}

	return raw, nil
}

// Health handles GET /health
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.client.Ping(r.Context()); err != nil {
		handleError(w, "pinging database", err)
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// Operation handles POST /v1/{model}/{action} with the arguments of the
// action as the body
func (h *Handlers) Operation(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	model, action := vars["model"], vars["action"]

	raw, err := h.readBody(w, r, action)
	if err != nil {
		handleError(w, "reading body", err)
		return
	}

	result, err := h.client.Dispatch(r.Context(), model, action, raw)
	if err != nil {
		handleError(w, "dispatching operation", err)
		return
	}

	respondJSON(w, http.StatusOK, result)
}

// ListQuery is the query string of GET /v1/{model}. Where, OrderBy and
// Cursor hold JSON in the same shape as the findMany arguments.
type ListQuery struct {
	Where    string   `schema:"where"`
	OrderBy  string   `schema:"orderBy"`
	Cursor   string   `schema:"cursor"`
	Take     *int     `schema:"take"`
	Skip     int      `schema:"skip"`
	Select   []string `schema:"select"`
	Include  []string `schema:"include"`
	Distinct []string `schema:"distinct"`
}

func fieldMap(fields []string) map[string]bool {
	if len(fields) == 0 {
		return nil
	}

	m := make(map[string]bool, len(fields))
	for _, f := range fields {
		m[f] = true
	}
	return m
}

// args converts the query into findMany arguments
func (q ListQuery) args() (json.RawMessage, error) {
	args := map[string]interface{}{}

	embedded := []struct {
		key, value string
	}{
		{"where", q.Where},
		{"orderBy", q.OrderBy},
		{"cursor", q.Cursor},
	}
	for _, e := range embedded {
		if e.value == "" {
			continue
		}
		if !json.Valid([]byte(e.value)) {
			return nil, validationErr(store.ActionFindMany, e.key+" must be JSON", nil)
		}
		args[e.key] = json.RawMessage(e.value)
	}

	if q.Take != nil {
		args["take"] = *q.Take
	}
	if q.Skip != 0 {
		args["skip"] = q.Skip
	}
	if m := fieldMap(q.Select); m != nil {
		args["select"] = m
	}
	if m := fieldMap(q.Include); m != nil {
		args["include"] = m
	}
	if len(q.Distinct) > 0 {
		args["distinct"] = q.Distinct
	}

	b, err := json.Marshal(args)
	if err != nil {
		return nil, errors.Wrap(err, "encoding arguments")
	}
	return b, nil
}

// List handles GET /v1/{model}
func (h *Handlers) List(w http.ResponseWriter, r *http.Request) {
	model := mux.Vars(r)["model"]

	var q ListQuery
	if err := h.decoder.Decode(&q, r.URL.Query()); err != nil {
		handleError(w, "decoding query", validationErr(store.ActionFindMany, "malformed query string", err))
		return
	}

	raw, err := q.args()
	if err != nil {
		handleError(w, "building arguments", err)
		return
	}

	result, err := h.client.Dispatch(r.Context(), model, store.ActionFindMany, raw)
	if err != nil {
		handleError(w, "listing records", err)
		return
	}

	respondJSON(w, http.StatusOK, result)
}

// TransactionOperation is one operation of a batch
type TransactionOperation struct {
	Model  string          `json:"model"`
	Action string          `json:"action"`
	Args   json.RawMessage `json:"args"`
}

// TransactionRequest is the body of POST /v1/transaction. MaxWait and
// Timeout are in milliseconds.
type TransactionRequest struct {
	Operations     []TransactionOperation `json:"operations"`
	IsolationLevel string                 `json:"isolationLevel"`
	MaxWait        int                    `json:"maxWait"`
	Timeout        int                    `json:"timeout"`
}

// Transaction handles POST /v1/transaction. The operations run in order in
// one transaction and the response holds their results in the same order.
func (h *Handlers) Transaction(w http.ResponseWriter, r *http.Request) {
	raw, err := h.readBody(w, r, "transaction")
	if err != nil {
		handleError(w, "reading body", err)
		return
	}

	var req TransactionRequest
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		handleError(w, "decoding transaction", validationErr("transaction", "malformed transaction", err))
		return
	}
	if req.MaxWait < 0 || req.Timeout < 0 {
		handleError(w, "decoding transaction", validationErr("transaction", "maxWait and timeout must not be negative", nil))
		return
	}

	ops := make([]store.Operation, 0, len(req.Operations))
	for i, o := range req.Operations {
		op, err := store.DecodeOperation(h.client.Registry(), o.Model, o.Action, o.Args)
		if err != nil {
			handleError(w, "decoding transaction", errors.Wrapf(err, "operation %d (%s.%s)", i, o.Model, o.Action))
			return
		}
		ops = append(ops, op)
	}

	results, err := h.client.Batch(r.Context(), ops, store.TxOptions{
		IsolationLevel: store.IsolationLevel(req.IsolationLevel),
		MaxWait:        time.Duration(req.MaxWait) * time.Millisecond,
		Timeout:        time.Duration(req.Timeout) * time.Millisecond,
	})
	if err != nil {
		handleError(w, "running transaction", err)
		return
	}

	fields := log.Fields{
		"request_id": RequestID(r.Context()),
		"operations": len(ops),
	}
	if sub, ok := Subject(r.Context()); ok {
		fields["subject"] = sub
	}
	log.WithFields(fields).Info("transaction committed")

	respondJSON(w, http.StatusOK, h.client.Present(ops, results))
}
