package memory

import (
	"net/url"
	"strings"
	"time"

	"github.com/guidoenr/backdrop/internal/colors"
)

// Record is the persisted override data for one artwork.
type Record struct {
	Colors           colors.Palette `json:"colors"`
	ManuallyModified bool           `json:"manuallyModified"`
	LastAccessed     time.Time      `json:"lastAccessed"`
}

// NormalizeID strips the query string and fragment from an artwork reference
// so size or cache-busting parameters map to the same item.
func NormalizeID(ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}
	if u, err := url.Parse(ref); err == nil && u.Scheme != "" {
		u.RawQuery = ""
		u.ForceQuery = false
		u.Fragment = ""
		u.RawFragment = ""
		return u.String()
	}
	if i := strings.IndexAny(ref, "?#"); i >= 0 {
		return ref[:i]
	}
	return ref
}

// Choice says which palette Resolve picked.
type Choice string

const (
	ChoiceNone  Choice = "none"
	ChoiceSaved Choice = "saved"
	ChoiceFresh Choice = "fresh"
)

// Resolve settles a fresh extraction against a saved record. Saved colors win
// when the user hand-picked them or when boosting is off; otherwise the fresh,
// possibly boosted, palette wins. Whichever side is empty loses.
func Resolve(saved *Record, fresh colors.Palette, boostEnabled bool) (colors.Palette, Choice) {
	hasSaved := saved != nil && len(saved.Colors) > 0
	switch {
	case hasSaved && (saved.ManuallyModified || !boostEnabled):
		return saved.Colors.Clone(), ChoiceSaved
	case len(fresh) > 0:
		return fresh.Clone(), ChoiceFresh
	case hasSaved:
		return saved.Colors.Clone(), ChoiceSaved
	default:
		return nil, ChoiceNone
	}
}
