package scraper

import (
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"wb_scraper/config"
)

type AuthState int

const (
	AuthStart AuthState = iota
	AuthCheckURL
	AuthTrySSO
	AuthTryCredentials
	AuthFinalCheck
	AuthAuthenticated
	AuthUnauthenticated
)

func (s AuthState) String() string {
	switch s {
	case AuthStart:
		return "start"
	case AuthCheckURL:
		return "check_url"
	case AuthTrySSO:
		return "try_sso"
	case AuthTryCredentials:
		return "try_credentials"
	case AuthFinalCheck:
		return "final_check"
	case AuthAuthenticated:
		return "authenticated"
	case AuthUnauthenticated:
		return "unauthenticated"
	default:
		return fmt.Sprintf("AuthState(%d)", int(s))
	}
}

func (s AuthState) Terminal() bool {
	return s == AuthAuthenticated || s == AuthUnauthenticated
}

// AuthObservation is what the driver saw after performing the actions of a
// state.
type AuthObservation struct {
	URL             string
	SSOFound        bool
	CredentialsForm bool
	Err             error
}

// Markers decide from a URL whether the dashboard has been reached.
type Markers struct {
	Dashboard string
	Login     string
}

func (m Markers) OnDashboard(url string) bool {
	u := strings.ToLower(url)
	if !strings.Contains(u, strings.ToLower(m.Dashboard)) {
		return false
	}
	return m.Login == "" || !strings.Contains(u, strings.ToLower(m.Login))
}

func (m Markers) mentionsDashboard(url string) bool {
	return strings.Contains(strings.ToLower(url), strings.ToLower(m.Dashboard))
}

// NextAuthState is the login flow as a pure transition function.
func NextAuthState(state AuthState, obs AuthObservation, m Markers) AuthState {
	if state.Terminal() {
		return state
	}
	if obs.Err != nil {
		return AuthUnauthenticated
	}

	switch state {
	case AuthStart:
		return AuthCheckURL
	case AuthCheckURL:
		if m.OnDashboard(obs.URL) {
			return AuthAuthenticated
		}
		return AuthTrySSO
	case AuthTrySSO:
		// The SSO round trip may land on a dashboard URL that still carries a
		// login parameter; that counts as authenticated.
		if obs.SSOFound && m.mentionsDashboard(obs.URL) {
			return AuthAuthenticated
		}
		return AuthTryCredentials
	case AuthTryCredentials:
		if obs.CredentialsForm {
			return AuthUnauthenticated
		}
		return AuthFinalCheck
	case AuthFinalCheck:
		if m.OnDashboard(obs.URL) {
			return AuthAuthenticated
		}
		return AuthUnauthenticated
	}
	return AuthUnauthenticated
}

type AuthResult struct {
	State  AuthState
	URL    string
	Reason string
}

func (r AuthResult) Authenticated() bool {
	return r.State == AuthAuthenticated
}

const reasonCredentialsForm = "credentials form requires a supervised session"

// AuthTimings are the waits between login steps.
type AuthTimings struct {
	RedirectWait  time.Duration
	SSOWait       time.Duration
	SSOSettle     time.Duration
	UsernameWait  time.Duration
	PasswordWait  time.Duration
	FinalWait     time.Duration
}

func DefaultAuthTimings() AuthTimings {
	return AuthTimings{
		RedirectWait:  2 * time.Second,
		SSOWait:       5 * time.Second,
		SSOSettle:     5 * time.Second,
		UsernameWait:  5 * time.Second,
		PasswordWait:  2 * time.Second,
		FinalWait:     3 * time.Second,
	}
}

// Authenticator drives a tab through the login flow. It never types
// credentials: a username/password form ends the flow unauthenticated.
type Authenticator struct {
	dashboardURL string
	selectors    config.Selectors
	markers      Markers
	timings      AuthTimings
	log          logrus.FieldLogger
}

func NewAuthenticator(cfg config.DashboardConfig, timings AuthTimings, log logrus.FieldLogger) *Authenticator {
	return &Authenticator{
		dashboardURL: cfg.URL,
		selectors:    cfg.Selectors,
		markers:      Markers{Dashboard: cfg.DashboardMark, Login: cfg.LoginMark},
		timings:      timings,
		log:          log,
	}
}

func (a *Authenticator) Markers() Markers {
	return a.markers
}

func (a *Authenticator) Authenticate(tab Tab) AuthResult {
	state := AuthStart
	result := AuthResult{}

	for !state.Terminal() {
		obs := a.observe(state, tab)
		next := NextAuthState(state, obs, a.markers)

		if obs.Err != nil {
			result.Reason = obs.Err.Error()
		}
		if state == AuthTryCredentials && obs.CredentialsForm {
			result.Reason = reasonCredentialsForm
		}
		a.log.WithFields(logrus.Fields{
			"from": state.String(),
			"to":   next.String(),
			"url":  obs.URL,
		}).Debug("Auth transition")

		state = next
		result.URL = obs.URL
	}

	result.State = state
	if state == AuthUnauthenticated && result.Reason == "" {
		result.Reason = fmt.Sprintf("unable to authenticate, current URL: %s", result.URL)
	}
	return result
}

// observe performs the actions belonging to state and reports what it saw.
func (a *Authenticator) observe(state AuthState, tab Tab) AuthObservation {
	switch state {
	case AuthStart:
		a.log.Info("Attempting to handle login process")
		if err := tab.Goto(a.dashboardURL); err != nil {
			return AuthObservation{Err: fmt.Errorf("navigate to dashboard: %w", err)}
		}
		if err := tab.WaitForNetworkIdle(); err != nil {
			a.log.WithError(err).Debug("Network did not settle after navigation")
		}
		return AuthObservation{URL: tab.URL()}

	case AuthCheckURL:
		url := tab.URL()
		if a.markers.OnDashboard(url) {
			a.log.Info("Already logged in or no login required")
			return AuthObservation{URL: url}
		}
		tab.Pause(a.timings.RedirectWait)
		return AuthObservation{URL: tab.URL()}

	case AuthTrySSO:
		if err := tab.WaitFor(a.selectors.SSOButton, a.timings.SSOWait); err != nil {
			a.log.Info("No SSO button found, trying standard login")
			return AuthObservation{URL: tab.URL()}
		}
		a.log.Info("Found SSO button, clicking")
		if err := tab.Click(a.selectors.SSOButton); err != nil {
			a.log.WithError(err).Warn("SSO click failed")
			return AuthObservation{URL: tab.URL()}
		}
		if err := tab.WaitForNetworkIdle(); err != nil {
			a.log.WithError(err).Debug("Network did not settle after SSO")
		}
		tab.Pause(a.timings.SSOSettle)
		return AuthObservation{URL: tab.URL(), SSOFound: true}

	case AuthTryCredentials:
		if tab.WaitFor(a.selectors.UsernameInput, a.timings.UsernameWait) != nil {
			return AuthObservation{URL: tab.URL()}
		}
		if tab.WaitFor(a.selectors.PasswordInput, a.timings.PasswordWait) != nil {
			return AuthObservation{URL: tab.URL()}
		}
		a.log.Warn("Username/password login form detected; a supervised session is required")
		return AuthObservation{URL: tab.URL(), CredentialsForm: true}

	case AuthFinalCheck:
		tab.Pause(a.timings.FinalWait)
		return AuthObservation{URL: tab.URL()}
	}

	return AuthObservation{URL: tab.URL()}
}

// EnsureDashboard authenticates and then makes sure tab is on the dashboard.
func (a *Authenticator) EnsureDashboard(tab Tab) AuthResult {
	res := a.Authenticate(tab)
	if !res.Authenticated() {
		a.log.WithField("reason", res.Reason).Error("Authentication failed or requires manual intervention")
		return res
	}

	if !a.markers.mentionsDashboard(tab.URL()) {
		a.log.Info("Not on dashboard yet, navigating")
		if err := tab.Goto(a.dashboardURL); err != nil {
			return AuthResult{State: AuthUnauthenticated, URL: tab.URL(), Reason: fmt.Sprintf("navigate to dashboard: %v", err)}
		}
		if err := tab.WaitForNetworkIdle(); err != nil {
			a.log.WithError(err).Debug("Network did not settle on dashboard")
		}
	}

	url := tab.URL()
	if !a.markers.mentionsDashboard(url) {
		return AuthResult{State: AuthUnauthenticated, URL: url, Reason: fmt.Sprintf("failed to reach dashboard, final URL: %s", url)}
	}

	a.log.Info("Authenticated and on dashboard")
	return AuthResult{State: AuthAuthenticated, URL: url}
}
