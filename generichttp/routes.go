package generichttp

import (
	"net/http"
	"sort"
	"strings"

	"github.com/go-chi/chi"
	"github.jpl.nasa.gov/bdube/pvbridge/server"
)

// MethodPath is a struct containing an HTTP method and a URL path
type MethodPath struct {
	Method, Path string
}

// RouteTable maps method/path pairs to handler functions
type RouteTable map[MethodPath]http.HandlerFunc

// HTTPer is something that has a route table
type HTTPer interface {
	RT() RouteTable
}

// Endpoints lists the routes in the table as "METHOD /path", sorted by path
func (rt RouteTable) Endpoints() []string {
	keys := make([]MethodPath, 0, len(rt))
	for k := range rt {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Path == keys[j].Path {
			return keys[i].Method < keys[j].Method
		}
		return keys[i].Path < keys[j].Path
	})
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = k.Method + " " + k.Path
	}
	return out
}

// Bind attaches every route in the table to r, plus a GET /endpoints
// listing them
func (rt RouteTable) Bind(r chi.Router) {
	for mp, fcn := range rt {
		r.MethodFunc(mp.Method, mp.Path, fcn)
	}
	r.Get("/endpoints", GetStringSlice(func() []string { return rt.Endpoints() }))
}

// GetStringSlice replies with the JSON array returned by fcn
func GetStringSlice(fcn func() []string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		server.ReplyJSON(w, fcn())
	}
}

// SubMuxSanitize converts a submux route into a form that chi's Mount
// accepts.  It is given a leading slash and stripped of any trailing one,
// "" becomes "/"
func SubMuxSanitize(str string) string {
	str = strings.Trim(str, "/")
	return "/" + str
}
