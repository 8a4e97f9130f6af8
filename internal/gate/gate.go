package gate

import (
	"net/url"
	"strings"

	"github.com/hanno-ai/hanno/internal/session"
)

// RouteClass describes how a path is protected.
type RouteClass string

const (
	// ClassEntitled requires an authenticated session with an active paid plan.
	ClassEntitled RouteClass = "entitled"
	// ClassAuthOnly is reachable only when logged OUT (the login page).
	ClassAuthOnly RouteClass = "auth-only"
	// ClassAPIProtected requires authentication and answers JSON, never redirects.
	ClassAPIProtected RouteClass = "api-protected"
	// ClassPublic needs no session at all.
	ClassPublic RouteClass = "public"
)

// DecisionKind is the outcome of an access check.
type DecisionKind string

const (
	DecisionAllow           DecisionKind = "allow"
	DecisionRedirectLogin   DecisionKind = "redirect-login"
	DecisionRedirectUpgrade DecisionKind = "redirect-upgrade"
	DecisionRedirectHome    DecisionKind = "redirect-home"
	DecisionReject          DecisionKind = "reject"
)

// Decision is what the middleware should do with a request.
type Decision struct {
	Kind DecisionKind
	// Target is the redirect destination for the redirect kinds.
	Target string
}

const (
	loginPath   = "/login"
	pricingPath = "/pricing"
	homePath    = "/dashboard"
)

// entitledPrefixes are page routes that require an active paid subscription.
var entitledPrefixes = []string{"/dashboard", "/analyze", "/settings"}

// apiExemptPrefixes are API routes reachable without a session (the login
// flow itself, health probes and webhooks live outside /api).
var apiExemptPrefixes = []string{"/api/auth"}

// Classify maps a request path to its protection class. Matching is by
// exact path segment: "/dashboard/reports" is entitled, "/dashboards" is not.
func Classify(path string) RouteClass {
	for _, p := range entitledPrefixes {
		if matchSegment(path, p) {
			return ClassEntitled
		}
	}
	if matchSegment(path, loginPath) {
		return ClassAuthOnly
	}
	if matchSegment(path, "/api") {
		for _, p := range apiExemptPrefixes {
			if matchSegment(path, p) {
				return ClassPublic
			}
		}
		return ClassAPIProtected
	}
	return ClassPublic
}

func matchSegment(path, prefix string) bool {
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}

// Decide applies the access rules for a classified request. sess is nil for
// anonymous requests. The ordering is deliberate: API requests are rejected
// with 401 before any redirect logic runs, and a missing session always wins
// over a missing entitlement.
func Decide(class RouteClass, path string, sess *session.Session) Decision {
	authed := sess != nil

	switch class {
	case ClassAPIProtected:
		if !authed {
			return Decision{Kind: DecisionReject}
		}
		return Decision{Kind: DecisionAllow}

	case ClassAuthOnly:
		if authed {
			return Decision{Kind: DecisionRedirectHome, Target: homePath}
		}
		return Decision{Kind: DecisionAllow}

	case ClassEntitled:
		if !authed {
			return Decision{Kind: DecisionRedirectLogin, Target: loginURL(path)}
		}
		if !sess.Subscription.Entitled() {
			return Decision{Kind: DecisionRedirectUpgrade, Target: pricingPath}
		}
		return Decision{Kind: DecisionAllow}

	default:
		return Decision{Kind: DecisionAllow}
	}
}

func loginURL(next string) string {
	return loginPath + "?next=" + url.QueryEscape(next)
}

// SafeNext validates a post-login redirect target. Only same-origin absolute
// paths are allowed; anything else falls back to the home path.
func SafeNext(next string) string {
	if next == "" || !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") {
		return homePath
	}
	if strings.ContainsAny(next, "\\\r\n") {
		return homePath
	}
	return next
}
