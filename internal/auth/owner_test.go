package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"tailscale.com/client/tailscale/apitype"
	"tailscale.com/ipn/ipnstate"
	"tailscale.com/tailcfg"
)

type fakeWhoIs struct {
	peers map[string]*tailcfg.UserProfile
	self  tailcfg.UserID
}

func (f fakeWhoIs) WhoIs(_ context.Context, remoteAddr string) (*apitype.WhoIsResponse, error) {
	p, ok := f.peers[remoteAddr]
	if !ok {
		return nil, errors.New("unknown peer")
	}
	return &apitype.WhoIsResponse{UserProfile: p}, nil
}

func (f fakeWhoIs) Status(context.Context) (*ipnstate.Status, error) {
	return &ipnstate.Status{Self: &ipnstate.PeerStatus{UserID: f.self}}, nil
}

func requestFrom(addr string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/api/session", nil)
	r.RemoteAddr = addr
	return r
}

func TestLoopbackOwner(t *testing.T) {
	assert.True(t, Loopback{}.IsOwner(requestFrom("127.0.0.1:5000")))
	assert.True(t, Loopback{}.IsOwner(requestFrom("[::1]:5000")))
	assert.False(t, Loopback{}.IsOwner(requestFrom("192.168.1.20:5000")))
	assert.False(t, Loopback{}.IsOwner(requestFrom("garbage")))
}

func TestTailnetOwner(t *testing.T) {
	lc := fakeWhoIs{
		peers: map[string]*tailcfg.UserProfile{
			"100.64.0.1:4000": {ID: 7, LoginName: "ada@example.com"},
			"100.64.0.2:4000": {ID: 9, LoginName: "bob@example.com"},
		},
		self: 7,
	}

	nodeUser := NewTailnetOwner(lc, "")
	assert.True(t, nodeUser.IsOwner(requestFrom("100.64.0.1:4000")))
	assert.False(t, nodeUser.IsOwner(requestFrom("100.64.0.2:4000")))
	assert.False(t, nodeUser.IsOwner(requestFrom("100.64.0.3:4000")), "unknown peers are not the owner")

	named := NewTailnetOwner(lc, "BOB@example.com")
	assert.True(t, named.IsOwner(requestFrom("100.64.0.2:4000")))
	assert.False(t, named.IsOwner(requestFrom("100.64.0.1:4000")))
}

func TestWithOwnerOverridesLoopback(t *testing.T) {
	var got bool
	h := WithOwner(NewTailnetOwner(fakeWhoIs{}, ""), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = IsDeviceOwner(r)
	}))
	h.ServeHTTP(httptest.NewRecorder(), requestFrom("127.0.0.1:5000"))
	assert.False(t, got)

	assert.True(t, IsDeviceOwner(requestFrom("127.0.0.1:5000")))
}
