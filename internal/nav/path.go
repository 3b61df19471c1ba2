package nav

import (
	"fmt"
	"net/url"
	"strings"
)

// Path returns the URL path that shows v.
func Path(v View) string {
	switch v := v.(type) {
	case BlogPost:
		return "/blog/" + url.PathEscape(v.PostID)
	case Page:
		if v.ID == PageHome {
			return "/"
		}
		return "/" + string(v.ID)
	default:
		return "/"
	}
}

// ParsePath maps a URL path back to its view.
func ParsePath(p string) (View, error) {
	trimmed := strings.Trim(p, "/")
	if trimmed == "" {
		return Page{ID: PageHome}, nil
	}

	parts := strings.Split(trimmed, "/")
	switch {
	case len(parts) == 1:
		if PageID(parts[0]) == PageHome {
			return nil, fmt.Errorf("%w: %q", ErrUnknownPage, p)
		}
		return To(PageID(parts[0]))
	case len(parts) == 2 && parts[0] == string(PageBlog):
		postID, err := url.PathUnescape(parts[1])
		if err != nil {
			return nil, fmt.Errorf("decode blog post id: %w", err)
		}
		return ToBlogPost(postID)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownPage, p)
	}
}
