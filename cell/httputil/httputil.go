// Package httputil is the HTTP error-reply helper for the external
// query-API collaborator named in spec §1/§6 — adapted from the teacher's
// net.Errorf (net/error.go), swapping its bare log.Printf for structured
// logrus fields.
package httputil

import (
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"
)

// Errorf replies to an HTTP request with the given status and message,
// logging it with the request path as a field.
func Errorf(w http.ResponseWriter, r *http.Request, code int, msgfmt string, args ...interface{}) {
	msg := fmt.Sprintf(msgfmt, args...)
	http.Error(w, msg, code)
	logrus.WithFields(logrus.Fields{"path": r.URL.Path, "status": code}).Error(msg)
}
