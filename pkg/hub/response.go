package hub

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
)

// Error numbers returned in the response envelope.
const (
	errNotFound      = 0x400
	errInvalidValue  = 0x401
	errUnavailable   = 0x407
	errCommandFailed = 0x500
)

// Global transaction counter
var txCounter atomic.Int32

type baseResponse struct {
	ClientTransactionID int    `json:"ClientTransactionID"`
	ServerTransactionID int    `json:"ServerTransactionID"`
	ErrorNumber         int    `json:"ErrorNumber"`
	ErrorMessage        string `json:"ErrorMessage"`
	Value               any    `json:"Value,omitempty"`
}

// Helper to read and parse the request body as URL-encoded data.
func parseBodyParams(r *http.Request) (url.Values, error) {
	bodyBytes, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	// Reset the body so it can be read again later.
	r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
	return url.ParseQuery(string(bodyBytes))
}

func requestParams(r *http.Request) url.Values {
	if r.Method == http.MethodPut {
		params, _ := parseBodyParams(r)
		return params
	}
	return r.URL.Query()
}

// getParam looks up a parameter by case-insensitive name.
func getParam(params url.Values, name string) (string, bool) {
	for param, value := range params {
		if strings.EqualFold(param, name) && len(value) > 0 {
			return value[0], true
		}
	}
	return "", false
}

// getClientTxID obtains the optional client transaction ID of the request.
func getClientTxID(params url.Values) (int, error) {
	value, ok := getParam(params, "ClientTransactionID")
	if !ok {
		return 0, nil
	}
	id, err := strconv.Atoi(value)
	if err != nil || id < 0 {
		return 0, errors.New("ClientTransactionID must be a non-negative integer")
	}
	return id, nil
}

func writeResponse(w http.ResponseWriter, r *http.Request, response baseResponse) {
	txID, err := getClientTxID(requestParams(r))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	response.ServerTransactionID = int(txCounter.Add(1))
	response.ClientTransactionID = txID
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

func handleResponse(w http.ResponseWriter, r *http.Request, value any) {
	writeResponse(w, r, baseResponse{Value: value})
}

func handleError(w http.ResponseWriter, r *http.Request, code int, message string) {
	writeResponse(w, r, baseResponse{ErrorNumber: code, ErrorMessage: message})
}
