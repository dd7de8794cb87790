package scrape

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"

	"github.com/finsight-io/finsight/internal/model"
)

// blockedMarkers are page fragments that mean the profile is behind a
// login or block wall. Matched case-insensitively against the full page.
var blockedMarkers = []string{
	"login",
	"sign up",
	"create new account",
	"blocked",
	"not available",
	"this content isn't available",
	"you must log in",
}

// Selector fallback chains per profile field. The network rotates its
// markup, so each field tries several generations of selectors and
// takes the first hit.
var (
	bioSelectors = []string{
		`[data-overviewsection="about"]`,
		`[data-section="about"]`,
		".about",
		".bio",
	}
	workSelectors = []string{
		`[data-overviewsection="work"]`,
		".work_experience",
		".work",
	}
	educationSelectors = []string{
		`[data-overviewsection="education"]`,
		".education",
		".school",
	}
	locationSelectors = []string{
		`[data-overviewsection="places"]`,
		".location",
		".hometown",
	}
	pictureSelectors = []string{
		`img[data-imgperflogname="profileCoverPhoto"]`,
		".profilePicThumb img",
	}
)

const (
	postSampleSelector = `[data-testid="story-subtilte"]`
	maxSampledPosts    = 5
	minPostLength      = 10
)

// IsBlockedWall reports whether the page is a login or block wall
// instead of a profile.
func IsBlockedWall(html string) bool {
	lower := strings.ToLower(html)
	for _, marker := range blockedMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// ExtractProfileID pulls the external profile id out of a profile URL.
// Handles both the numeric form (/profile.php?id=N) and the vanity form
// (/username). Returns "" when the URL does not point at the expected
// host or carries no id.
func ExtractProfileID(rawURL, expectedHost string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	if expectedHost != "" && !strings.Contains(u.Host, expectedHost) {
		return ""
	}

	path := strings.Trim(u.Path, "/")
	if path == "profile.php" {
		return u.Query().Get("id")
	}
	if path == "" {
		return ""
	}
	return strings.SplitN(path, "/", 2)[0]
}

// ExtractProfileFields parses the rendered profile page into a
// UserProfile. Each field is extracted independently; a field whose
// selectors all miss stays empty and never fails the others.
func ExtractProfileFields(html string) (*model.UserProfile, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, eris.Wrap(err, "scrape: parse profile page")
	}

	p := &model.UserProfile{
		Name:        firstText(doc, []string{"h1"}),
		Bio:         firstText(doc, bioSelectors),
		Work:        firstText(doc, workSelectors),
		Education:   firstText(doc, educationSelectors),
		Location:    firstText(doc, locationSelectors),
		PictureURL:  firstAttr(doc, pictureSelectors, "src"),
		PostsSample: samplePosts(doc),
	}
	return p, nil
}

// firstText returns the trimmed text of the first node any selector in
// the chain matches.
func firstText(doc *goquery.Document, selectors []string) string {
	for _, sel := range selectors {
		if s := doc.Find(sel).First(); s.Length() > 0 {
			if text := strings.TrimSpace(s.Text()); text != "" {
				return text
			}
		}
	}
	return ""
}

func firstAttr(doc *goquery.Document, selectors []string, attr string) string {
	for _, sel := range selectors {
		if val, ok := doc.Find(sel).First().Attr(attr); ok && val != "" {
			return val
		}
	}
	return ""
}

// samplePosts collects up to maxSampledPosts recent post snippets,
// skipping near-empty ones, joined by a separator line.
func samplePosts(doc *goquery.Document) string {
	var posts []string
	doc.Find(postSampleSelector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		text := strings.TrimSpace(s.Text())
		if len(text) > minPostLength {
			posts = append(posts, text)
		}
		return len(posts) < maxSampledPosts
	})
	return strings.Join(posts, "\n---\n")
}
