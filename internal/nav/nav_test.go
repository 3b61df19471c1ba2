package nav

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBridge_StartsOnHome(t *testing.T) {
	b := NewBridge()
	assert.Equal(t, Page{ID: PageHome}, b.Current())
}

func TestBridge_LastWriteWins(t *testing.T) {
	b := NewBridge()
	var seen []View
	b.OnChange(func(v View) { seen = append(seen, v) })

	require.NoError(t, b.NavigateTo(PagePricing))
	require.NoError(t, b.NavigateTo(PageFAQ))

	assert.Equal(t, Page{ID: PageFAQ}, b.Current())
	assert.Equal(t, []View{Page{ID: PagePricing}, Page{ID: PageFAQ}}, seen)
}

func TestBridge_NavigateToClearsBlogPost(t *testing.T) {
	b := NewBridge()

	require.NoError(t, b.NavigateToBlogPost("rsi-divergence"))
	assert.Equal(t, BlogPost{PostID: "rsi-divergence"}, b.Current())
	assert.Equal(t, PageBlogPost, b.Current().PageID())

	require.NoError(t, b.NavigateTo(PageBlog))
	assert.Equal(t, Page{ID: PageBlog}, b.Current())
}

func TestBridge_RejectsInvalidTargets(t *testing.T) {
	b := NewBridge()

	err := b.NavigateTo("casino")
	assert.True(t, errors.Is(err, ErrUnknownPage))

	assert.Error(t, b.NavigateTo(PageBlogPost))
	assert.Error(t, b.NavigateToBlogPost("   "))

	assert.Equal(t, Page{ID: PageHome}, b.Current(), "failed transitions must not move the bridge")
}

func TestBridge_Unsubscribe(t *testing.T) {
	b := NewBridge()
	calls := 0
	stop := b.OnChange(func(View) { calls++ })

	require.NoError(t, b.NavigateTo(PageLogin))
	stop()
	stop()
	require.NoError(t, b.NavigateTo(PageSignup))

	assert.Equal(t, 1, calls)
}

func TestPathRoundTrip(t *testing.T) {
	tests := []struct {
		view View
		path string
	}{
		{Page{ID: PageHome}, "/"},
		{Page{ID: PagePricing}, "/pricing"},
		{Page{ID: PageForgotPassword}, "/forgot-password"},
		{BlogPost{PostID: "momentum 101"}, "/blog/momentum%20101"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.path, Path(tt.view))

			got, err := ParsePath(tt.path)
			require.NoError(t, err)
			assert.Equal(t, tt.view, got)
		})
	}
}

func TestParsePath_Rejects(t *testing.T) {
	for _, p := range []string{"/home", "/blog-post", "/nope", "/blog/a/b", "/dashboard/extra"} {
		_, err := ParsePath(p)
		assert.Error(t, err, p)
	}
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Validate(Page{ID: PageDashboard}))
	assert.NoError(t, Validate(BlogPost{PostID: "x"}))
	assert.Error(t, Validate(Page{ID: PageBlogPost}))
	assert.Error(t, Validate(Page{ID: "nope"}))
	assert.Error(t, Validate(BlogPost{}))
	assert.Error(t, Validate(nil))
}

func TestCatalogueAccess(t *testing.T) {
	for _, id := range []PageID{PageOnboarding, PageDashboard, PageSettings} {
		p, ok := Lookup(id)
		require.True(t, ok)
		assert.Equal(t, Protected, p.Access, id)
	}
	for _, id := range []PageID{PageLogin, PageSignup} {
		p, _ := Lookup(id)
		assert.Equal(t, GuestOnly, p.Access, id)
	}
	assert.Len(t, Pages(), 18)
}
