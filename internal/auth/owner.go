package auth

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"

	"tailscale.com/client/tailscale/apitype"
	"tailscale.com/ipn/ipnstate"
)

const ownerContextKey contextKey = "owner"

// DeviceOwner decides whether a request comes from whoever owns this
// device, and so may pick up its signed-in session.
type DeviceOwner interface {
	IsOwner(r *http.Request) bool
}

// Loopback trusts callers on this machine only.
type Loopback struct{}

func (Loopback) IsOwner(r *http.Request) bool {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// WhoIsClient is the part of the tailscale LocalClient the tailnet owner
// check needs.
type WhoIsClient interface {
	WhoIs(ctx context.Context, remoteAddr string) (*apitype.WhoIsResponse, error)
	Status(ctx context.Context) (*ipnstate.Status, error)
}

// TailnetOwner trusts the tailnet user who owns this node, or the login
// named in the config.
type TailnetOwner struct {
	lc    WhoIsClient
	login string
}

func NewTailnetOwner(lc WhoIsClient, login string) *TailnetOwner {
	return &TailnetOwner{lc: lc, login: strings.TrimSpace(login)}
}

func (o *TailnetOwner) IsOwner(r *http.Request) bool {
	ok, err := o.check(r.Context(), r.RemoteAddr)
	return err == nil && ok
}

func (o *TailnetOwner) check(ctx context.Context, remoteAddr string) (bool, error) {
	who, err := o.lc.WhoIs(ctx, remoteAddr)
	if err != nil {
		return false, fmt.Errorf("failed to get caller identity: %w", err)
	}
	if who.UserProfile == nil {
		return false, fmt.Errorf("no user profile for caller")
	}
	if o.login != "" {
		return strings.EqualFold(who.UserProfile.LoginName, o.login), nil
	}

	st, err := o.lc.Status(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to read node status: %w", err)
	}
	if st.Self == nil {
		return false, nil
	}
	return who.UserProfile.ID == st.Self.UserID, nil
}

// WithOwner makes owner the device owner check for requests served by next.
func WithOwner(owner DeviceOwner, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ownerContextKey, owner)))
	})
}

// IsDeviceOwner applies the request's owner check. Without one only
// loopback callers count.
func IsDeviceOwner(r *http.Request) bool {
	owner, ok := r.Context().Value(ownerContextKey).(DeviceOwner)
	if !ok || owner == nil {
		owner = Loopback{}
	}
	return owner.IsOwner(r)
}
