package scraper

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wb_scraper/config"
)

var testMarkers = Markers{Dashboard: "dashboard", Login: "login"}

func TestMarkersOnDashboard(t *testing.T) {
	assert.True(t, testMarkers.OnDashboard("https://host/webbuilder/Dashboard/"))
	assert.False(t, testMarkers.OnDashboard("https://host/login?next=/dashboard"))
	assert.False(t, testMarkers.OnDashboard("https://idp.example.com/authorize"))
}

func TestNextAuthState(t *testing.T) {
	tests := []struct {
		name  string
		state AuthState
		obs   AuthObservation
		want  AuthState
	}{
		{"start always checks url", AuthStart, AuthObservation{URL: "https://idp/login"}, AuthCheckURL},
		{"navigation error", AuthStart, AuthObservation{Err: errors.New("timeout")}, AuthUnauthenticated},
		{"already on dashboard", AuthCheckURL, AuthObservation{URL: "https://h/dashboard/"}, AuthAuthenticated},
		{"redirected to login", AuthCheckURL, AuthObservation{URL: "https://h/login"}, AuthTrySSO},
		{"sso reached dashboard", AuthTrySSO, AuthObservation{URL: "https://h/dashboard/?login=ok", SSOFound: true}, AuthAuthenticated},
		{"sso not found", AuthTrySSO, AuthObservation{URL: "https://h/dashboard/"}, AuthTryCredentials},
		{"sso did not land", AuthTrySSO, AuthObservation{URL: "https://idp/wait", SSOFound: true}, AuthTryCredentials},
		{"credentials form refused", AuthTryCredentials, AuthObservation{URL: "https://h/login", CredentialsForm: true}, AuthUnauthenticated},
		{"no credentials form", AuthTryCredentials, AuthObservation{URL: "https://h/login"}, AuthFinalCheck},
		{"final check passes", AuthFinalCheck, AuthObservation{URL: "https://h/dashboard/"}, AuthAuthenticated},
		{"final check fails", AuthFinalCheck, AuthObservation{URL: "https://h/login"}, AuthUnauthenticated},
		{"terminal is sticky", AuthAuthenticated, AuthObservation{Err: errors.New("x")}, AuthAuthenticated},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NextAuthState(tt.state, tt.obs, testMarkers))
		})
	}
}

func newTestAuthenticator() *Authenticator {
	cfg := config.DefaultDashboard()
	cfg.URL = testDashboardURL
	return NewAuthenticator(cfg, DefaultAuthTimings(), testLogger())
}

func TestAuthenticateAlreadySignedIn(t *testing.T) {
	tab := &fakeTab{landing: testDashboardURL}

	res := newTestAuthenticator().Authenticate(tab)
	assert.True(t, res.Authenticated())
	assert.Equal(t, []string{testDashboardURL}, tab.gotos)
	assert.Empty(t, tab.clicks)
}

func TestAuthenticateViaSSO(t *testing.T) {
	sel := config.DefaultDashboard().Selectors
	tab := &fakeTab{
		landing:  "https://idp.example.com/login",
		afterSSO: testDashboardURL,
		visible:  map[string]bool{sel.SSOButton: true},
	}

	res := newTestAuthenticator().Authenticate(tab)
	assert.True(t, res.Authenticated())
	assert.Equal(t, []string{sel.SSOButton}, tab.clicks)
}

func TestAuthenticateRefusesCredentialsForm(t *testing.T) {
	sel := config.DefaultDashboard().Selectors
	tab := &fakeTab{
		landing: "https://idp.example.com/login",
		visible: map[string]bool{
			sel.UsernameInput: true,
			sel.PasswordInput: true,
		},
	}

	res := newTestAuthenticator().Authenticate(tab)
	assert.False(t, res.Authenticated())
	assert.Equal(t, AuthUnauthenticated, res.State)
	assert.Equal(t, reasonCredentialsForm, res.Reason)
	assert.Empty(t, tab.clicks)
	assert.Empty(t, tab.searches)
}

func TestAuthenticateNavigationFailure(t *testing.T) {
	tab := &fakeTab{gotoErr: errors.New("net::ERR_NAME_NOT_RESOLVED")}

	res := newTestAuthenticator().Authenticate(tab)
	assert.Equal(t, AuthUnauthenticated, res.State)
	assert.Contains(t, res.Reason, "ERR_NAME_NOT_RESOLVED")
}

func TestAuthenticateFinalCheckFails(t *testing.T) {
	tab := &fakeTab{landing: "https://idp.example.com/waiting-room"}

	res := newTestAuthenticator().Authenticate(tab)
	require.Equal(t, AuthUnauthenticated, res.State)
	assert.Contains(t, res.Reason, "waiting-room")
	assert.Contains(t, tab.pauses, DefaultAuthTimings().FinalWait)
}

func TestEnsureDashboardAcceptsSSOCallback(t *testing.T) {
	sel := config.DefaultDashboard().Selectors
	callback := "https://host/sso/callback?to=dashboard&login=1"
	tab := &fakeTab{
		landing:  "https://idp.example.com/login",
		afterSSO: callback,
		visible:  map[string]bool{sel.SSOButton: true},
	}

	res := newTestAuthenticator().EnsureDashboard(tab)
	require.True(t, res.Authenticated())
	assert.Equal(t, callback, res.URL)
	assert.Equal(t, []string{testDashboardURL}, tab.gotos)
}

func TestEnsureDashboardReportsFailure(t *testing.T) {
	sel := config.DefaultDashboard().Selectors
	tab := &fakeTab{
		landing: "https://idp.example.com/login",
		visible: map[string]bool{sel.UsernameInput: true, sel.PasswordInput: true},
	}

	res := newTestAuthenticator().EnsureDashboard(tab)
	assert.False(t, res.Authenticated())
	assert.Equal(t, reasonCredentialsForm, res.Reason)
}
