package surface

// Page is the host page context shown around the display locations.
type Page string

const (
	PageNowPlaying Page = "now-playing"
	PageHome       Page = "home"
	PageAlbum      Page = "album"
	PagePlaylist   Page = "playlist"
	PageArtist     Page = "artist"
)

// IsBrowse reports whether the page carries the secondary surfaces.
func (p Page) IsBrowse() bool {
	switch p {
	case PageAlbum, PagePlaylist, PageArtist:
		return true
	}
	return false
}

// Wanted lists the surfaces that should show an effect on page. The primary
// surface is always wanted; the browse surfaces only on browse pages and only
// when showOnBrowse is set.
func Wanted(page Page, showOnBrowse bool) []Key {
	keys := []Key{Primary}
	if showOnBrowse && page.IsBrowse() {
		keys = append(keys, BrowseKeys()...)
	}
	return keys
}

// PageTracker is implemented by locators that follow navigation.
type PageTracker interface {
	SetPage(Page)
}
