// Package server contains misc server utilities.
package server

import (
	"encoding/json"
	"fmt"
	"go/types"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// ReplyWithFile replies to the client request by serving the given file name
func ReplyWithFile(w http.ResponseWriter, r *http.Request, fn string, fldr string) {
	filePath, err := filepath.Abs(filepath.Join(fldr, fn))
	if err != nil {
		fstr := fmt.Sprintf("unable to compute abspath of file %s %s %s", fldr, fn, err)
		log.Println(fstr)
		http.Error(w, fstr, http.StatusInternalServerError)
		return
	}

	f, err := os.Open(filePath)
	if err != nil {
		fstr := fmt.Sprintf("source file missing %s", filePath)
		log.Println(fstr)
		http.Error(w, fstr, http.StatusNotFound)
		return
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		fstr := fmt.Sprintf("error retrieving source file stats %s", err)
		log.Println(fstr)
		http.Error(w, fstr, http.StatusNotFound)
		return
	}
	http.ServeContent(w, r, fn, stat.ModTime(), f)
}

// FloatT is a struct with a single float64 field, F64, serialized as f64
type FloatT struct {
	F64 float64 `json:"f64"`
}

// IntT is a struct with a single int field, Int, serialized as int
type IntT struct {
	Int int `json:"int"`
}

// StrT is a struct with a single string field, Str, serialized as str
type StrT struct {
	Str string `json:"str"`
}

// BoolT is a struct with a single bool field, Bool, serialized as bool
type BoolT struct {
	Bool bool `json:"bool"`
}

// HumanPayload is a struct containing the basic types NKT devices may work with
// and a T field (go/types.BasicKind) saying which one is populated
type HumanPayload struct {
	Bool   bool
	Float  float64
	Int    int
	String string
	T      types.BasicKind
}

// wantsText is true when the client asked for a plain text reply
func wantsText(r *http.Request) bool {
	if r == nil {
		return false
	}
	if strings.EqualFold(r.URL.Query().Get("fmt"), "txt") {
		return true
	}
	return strings.HasPrefix(r.Header.Get("Accept"), "text/plain")
}

// EncodeAndRespond writes the payload to w.  The reply is JSON of the form
// {"f64": value} unless the request carries ?fmt=txt or Accept: text/plain,
// in which case the bare value is written
func (hp HumanPayload) EncodeAndRespond(w http.ResponseWriter, r *http.Request) {
	var (
		v   interface{}
		txt string
	)
	switch hp.T {
	case types.Bool:
		v, txt = BoolT{Bool: hp.Bool}, fmt.Sprint(hp.Bool)
	case types.Float64:
		v, txt = FloatT{F64: hp.Float}, fmt.Sprint(hp.Float)
	case types.Int:
		v, txt = IntT{Int: hp.Int}, fmt.Sprint(hp.Int)
	case types.String:
		v, txt = StrT{Str: hp.String}, hp.String
	default:
		http.Error(w, fmt.Sprintf("unsupported payload kind %d", hp.T), http.StatusInternalServerError)
		return
	}
	if wantsText(r) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, txt)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		fstr := fmt.Sprintf("error encoding data to json state %q", err)
		log.Println(fstr)
	}
}

// ReplyJSON encodes v as the JSON body of a 200 reply
func ReplyJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("error encoding reply to json %q", err)
	}
}
