// Package routes lists the client-side view paths.
package routes

import (
	"strconv"
	"strings"
)

const (
	Search   = "/"
	Document = "/document/{id}"
	Login    = "/admin/login"
	Admin    = "/admin"
	Upload   = "/admin/upload"
	Approval = "/admin/approval"
)

// Route is a view and whether it sits behind the authorization gate.
type Route struct {
	Path      string `json:"path"`
	Name      string `json:"name"`
	Protected bool   `json:"protected"`
}

// All is the route table in navigation order.
var All = []Route{
	{Path: Search, Name: "search"},
	{Path: Document, Name: "document"},
	{Path: Login, Name: "login"},
	{Path: Admin, Name: "dashboard", Protected: true},
	{Path: Upload, Name: "upload", Protected: true},
	{Path: Approval, Name: "approval", Protected: true},
}

// DocumentPath returns the view path of a document.
func DocumentPath(id int) string {
	return strings.Replace(Document, "{id}", strconv.Itoa(id), 1)
}

// IsProtected reports whether path falls under a gated view.
func IsProtected(path string) bool {
	if path == Login {
		return false
	}
	return path == Admin || strings.HasPrefix(path, Admin+"/")
}
