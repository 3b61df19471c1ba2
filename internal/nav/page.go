// Package nav models the set of views the shell can show and the bridge that
// switches between them.
package nav

import (
	"errors"
	"fmt"
	"strings"
)

// PageID identifies a page from the fixed catalogue.
type PageID string

const (
	PageHome           PageID = "home"
	PageFeatures       PageID = "features"
	PagePricing        PageID = "pricing"
	PageFAQ            PageID = "faq"
	PageAbout          PageID = "about"
	PageContact        PageID = "contact"
	PageBlog           PageID = "blog"
	PageBlogPost       PageID = "blog-post"
	PageTerms          PageID = "terms"
	PagePrivacy        PageID = "privacy"
	PageLogin          PageID = "login"
	PageSignup         PageID = "signup"
	PageVerifyOTP      PageID = "verify-otp"
	PageForgotPassword PageID = "forgot-password"
	PageResetPassword  PageID = "reset-password"
	PageOnboarding     PageID = "onboarding"
	PageDashboard      PageID = "dashboard"
	PageSettings       PageID = "settings"
)

// Access describes which visitors a page is meant for.
type Access int

const (
	// Public pages render for everyone.
	Public Access = iota
	// GuestOnly pages bounce authenticated visitors onward.
	GuestOnly
	// Protected pages require an authenticated visitor.
	Protected
)

func (a Access) String() string {
	switch a {
	case Public:
		return "public"
	case GuestOnly:
		return "guest-only"
	case Protected:
		return "protected"
	default:
		return fmt.Sprintf("access(%d)", int(a))
	}
}

// PageInfo is the catalogue entry for a page.
type PageInfo struct {
	ID     PageID
	Title  string
	Access Access
}

var ErrUnknownPage = errors.New("unknown page")

var catalogue = []PageInfo{
	{ID: PageHome, Title: "Home", Access: Public},
	{ID: PageFeatures, Title: "Features", Access: Public},
	{ID: PagePricing, Title: "Pricing", Access: Public},
	{ID: PageFAQ, Title: "FAQ", Access: Public},
	{ID: PageAbout, Title: "About", Access: Public},
	{ID: PageContact, Title: "Contact", Access: Public},
	{ID: PageBlog, Title: "Blog", Access: Public},
	{ID: PageBlogPost, Title: "Blog post", Access: Public},
	{ID: PageTerms, Title: "Terms of Service", Access: Public},
	{ID: PagePrivacy, Title: "Privacy Policy", Access: Public},
	{ID: PageLogin, Title: "Log in", Access: GuestOnly},
	{ID: PageSignup, Title: "Sign up", Access: GuestOnly},
	{ID: PageVerifyOTP, Title: "Verify your email", Access: GuestOnly},
	{ID: PageForgotPassword, Title: "Forgot password", Access: GuestOnly},
	{ID: PageResetPassword, Title: "Reset password", Access: Public},
	{ID: PageOnboarding, Title: "Welcome", Access: Protected},
	{ID: PageDashboard, Title: "Dashboard", Access: Protected},
	{ID: PageSettings, Title: "Settings", Access: Protected},
}

var byID = func() map[PageID]PageInfo {
	m := make(map[PageID]PageInfo, len(catalogue))
	for _, p := range catalogue {
		m[p.ID] = p
	}
	return m
}()

// Pages returns the catalogue in display order.
func Pages() []PageInfo {
	out := make([]PageInfo, len(catalogue))
	copy(out, catalogue)
	return out
}

// Lookup returns the catalogue entry for id.
func Lookup(id PageID) (PageInfo, bool) {
	p, ok := byID[id]
	return p, ok
}

// View is the currently shown page. It is either a Page or a BlogPost; use a
// type switch to handle both.
type View interface {
	PageID() PageID
	view()
}

// Page is any catalogue page that carries no parameters.
type Page struct {
	ID PageID
}

func (p Page) PageID() PageID { return p.ID }
func (Page) view()            {}

// BlogPost is the blog post page with the post it shows.
type BlogPost struct {
	PostID string
}

func (BlogPost) PageID() PageID { return PageBlogPost }
func (BlogPost) view()          {}

// To builds the view for a parameterless page.
func To(id PageID) (View, error) {
	if _, ok := byID[id]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPage, id)
	}
	if id == PageBlogPost {
		return nil, errors.New("blog post view requires a post id")
	}
	return Page{ID: id}, nil
}

// ToBlogPost builds the view for a single blog post.
func ToBlogPost(postID string) (View, error) {
	postID = strings.TrimSpace(postID)
	if postID == "" {
		return nil, errors.New("empty blog post id")
	}
	if strings.Contains(postID, "/") {
		return nil, fmt.Errorf("invalid blog post id %q", postID)
	}
	return BlogPost{PostID: postID}, nil
}

// Validate reports whether v is a well-formed view.
func Validate(v View) error {
	switch v := v.(type) {
	case Page:
		_, err := To(v.ID)
		return err
	case BlogPost:
		_, err := ToBlogPost(v.PostID)
		return err
	case nil:
		return errors.New("nil view")
	default:
		return fmt.Errorf("unsupported view %T", v)
	}
}
