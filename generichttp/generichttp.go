// Package generichttp maps device getters and setters onto HTTP handlers
// and route tables
package generichttp

import (
	"encoding/json"
	"go/types"
	"net/http"

	"github.jpl.nasa.gov/bdube/pvbridge/server"
)

// StatusFunc chooses the HTTP status reported for an error returned by a
// device call
type StatusFunc func(error) int

// Internal reports every error as 500, the status used when a StatusFunc is nil
func Internal(error) int {
	return http.StatusInternalServerError
}

func fail(w http.ResponseWriter, err error, status StatusFunc) {
	if status == nil {
		status = Internal
	}
	http.Error(w, err.Error(), status(err))
}

// GetInt calls fcn and replies {"int": value}
func GetInt(fcn func() (int, error), status StatusFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		i, err := fcn()
		if err != nil {
			fail(w, err, status)
			return
		}
		server.HumanPayload{T: types.Int, Int: i}.EncodeAndRespond(w, r)
	}
}

// SetInt decodes a body of {"int": value} and calls fcn with it.
// A body that does not decode is a 400.
func SetInt(fcn func(int) error, status StatusFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		i := server.IntT{}
		err := json.NewDecoder(r.Body).Decode(&i)
		defer r.Body.Close()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err = fcn(i.Int); err != nil {
			fail(w, err, status)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

// GetString calls fcn and replies {"str": value}
func GetString(fcn func() (string, error), status StatusFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, err := fcn()
		if err != nil {
			fail(w, err, status)
			return
		}
		server.HumanPayload{T: types.String, String: s}.EncodeAndRespond(w, r)
	}
}

// GetBool calls fcn and replies {"bool": value}
func GetBool(fcn func() (bool, error), status StatusFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b, err := fcn()
		if err != nil {
			fail(w, err, status)
			return
		}
		server.HumanPayload{T: types.Bool, Bool: b}.EncodeAndRespond(w, r)
	}
}
