// Package gate decides whether a page renders, waits for the session to
// settle, or sends the visitor elsewhere.
package gate

import (
	"fmt"

	"tradeshell/internal/metrics"
	"tradeshell/internal/nav"
	"tradeshell/internal/session"
)

// Kind is the outcome of a gate decision.
type Kind int

const (
	// Wait means the session is still loading: show a placeholder, navigate nowhere.
	Wait Kind = iota
	// Render means the guarded content may be shown.
	Render
	// Redirect means nothing is rendered and the visitor goes to Target.
	Redirect
)

func (k Kind) String() string {
	switch k {
	case Wait:
		return "wait"
	case Render:
		return "render"
	case Redirect:
		return "redirect"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Decision is what a Rule concluded for one session state.
type Decision struct {
	Kind   Kind
	Target nav.View
}

// Rule maps a session state to a decision. Rules are pure; Enforce applies them.
type Rule interface {
	Name() string
	Decide(st session.State) Decision
}

// Public renders regardless of the session.
type Public struct{}

func (Public) Name() string { return "public" }

func (Public) Decide(session.State) Decision {
	return Decision{Kind: Render}
}

// RequireAuth guards pages that need a signed-in visitor.
type RequireAuth struct {
	// RedirectTo is where unauthenticated visitors are sent. Defaults to login.
	RedirectTo nav.PageID
}

func (RequireAuth) Name() string { return "require_auth" }

func (r RequireAuth) Decide(st session.State) Decision {
	if st.Loading {
		return Decision{Kind: Wait}
	}
	if st.IsAuthenticated {
		return Decision{Kind: Render}
	}
	target := r.RedirectTo
	if target == "" {
		target = nav.PageLogin
	}
	return Decision{Kind: Redirect, Target: nav.Page{ID: target}}
}

// RedirectIfAuthenticated guards pages meant for signed-out visitors, such as
// login and signup. Signed-in visitors who have not finished onboarding go to
// Onboarding, everyone else to Landing.
type RedirectIfAuthenticated struct {
	Onboarding nav.PageID
	Landing    nav.PageID
}

func (RedirectIfAuthenticated) Name() string { return "redirect_if_authenticated" }

func (r RedirectIfAuthenticated) Decide(st session.State) Decision {
	if st.Loading {
		return Decision{Kind: Wait}
	}
	if !st.IsAuthenticated {
		return Decision{Kind: Render}
	}
	// Authentication first, onboarding second. Reversing the checks would let
	// a first-time user skip onboarding.
	if !st.HasSeenOnboarding() {
		return Decision{Kind: Redirect, Target: nav.Page{ID: orDefault(r.Onboarding, nav.PageOnboarding)}}
	}
	return Decision{Kind: Redirect, Target: nav.Page{ID: orDefault(r.Landing, nav.PageDashboard)}}
}

// ForAccess returns the rule guarding pages of the given access class.
func ForAccess(a nav.Access) Rule {
	switch a {
	case nav.Protected:
		return RequireAuth{}
	case nav.GuestOnly:
		return RedirectIfAuthenticated{}
	default:
		return Public{}
	}
}

// Enforce decides and, on Redirect, issues exactly one navigation intent.
func Enforce(rule Rule, st session.State, n nav.Navigator) (Decision, error) {
	d := rule.Decide(st)
	metrics.GateDecisions.WithLabelValues(rule.Name(), d.Kind.String()).Inc()

	if d.Kind != Redirect {
		return d, nil
	}
	if err := Navigate(n, d.Target); err != nil {
		return d, fmt.Errorf("navigate to %s: %w", d.Target.PageID(), err)
	}
	return d, nil
}

// Navigate issues the navigation intent for v.
func Navigate(n nav.Navigator, v nav.View) error {
	switch v := v.(type) {
	case nav.Page:
		return n.NavigateTo(v.ID)
	case nav.BlogPost:
		return n.NavigateToBlogPost(v.PostID)
	default:
		return fmt.Errorf("unsupported view %T", v)
	}
}

func orDefault(id, def nav.PageID) nav.PageID {
	if id == "" {
		return def
	}
	return id
}
