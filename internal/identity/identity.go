// Package identity carries the authenticated caller between the gateway and
// the backend services. Authentication happens upstream; services trust the
// headers set here.
package identity

import (
	"net/http"
	"strings"
)

const (
	HeaderUserID   = "X-User-ID"
	HeaderUserRole = "X-User-Role"

	RoleAdmin = "admin"
)

type Caller struct {
	ID    string
	Admin bool
}

func (c Caller) Anonymous() bool {
	return c.ID == ""
}

// CanAccess reports whether the caller may see resources owned by ownerID.
func (c Caller) CanAccess(ownerID string) bool {
	return c.Admin || (c.ID != "" && c.ID == ownerID)
}

// Actor is the name recorded in status history for changes made by c.
func (c Caller) Actor() string {
	if c.Admin {
		return "admin:" + c.ID
	}
	return "customer:" + c.ID
}

func FromRequest(r *http.Request) Caller {
	return Caller{
		ID:    strings.TrimSpace(r.Header.Get(HeaderUserID)),
		Admin: strings.EqualFold(strings.TrimSpace(r.Header.Get(HeaderUserRole)), RoleAdmin),
	}
}

// Apply sets the caller headers on an outgoing request.
func (c Caller) Apply(h http.Header) {
	if c.ID != "" {
		h.Set(HeaderUserID, c.ID)
	}
	if c.Admin {
		h.Set(HeaderUserRole, RoleAdmin)
	}
}

// Forward copies the caller id from a public request to an outbound one.
// The role header is dropped and any inbound value is ignored: admin
// callers talk to the services directly, never through the public edge.
func Forward(dst, src http.Header) {
	dst.Del(HeaderUserRole)
	if v := strings.TrimSpace(src.Get(HeaderUserID)); v != "" {
		dst.Set(HeaderUserID, v)
	}
}
