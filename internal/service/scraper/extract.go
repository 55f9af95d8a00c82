package scraper

import (
	"net/url"
	"regexp"
	"strings"
	"sync"

	"github.com/kapu/liver-scraper-go/internal/domain"
	"github.com/kapu/liver-scraper-go/internal/util"
)

// The detail pages are extracted with patterns anchored on class names
// rather than a full DOM walk: the markup is machine-generated and the
// class vocabulary is stable even when the surrounding structure shifts.

var (
	anchorPattern = regexp.MustCompile(`(?s)<a[^>]*href="([^"]*)"[^>]*>(.*?)</a>`)
	imgSrcPattern = regexp.MustCompile(`<img[^>]*src="([^"]*)"[^>]*>`)

	patternMu    sync.Mutex
	patternCache = map[string]*regexp.Regexp{}
)

func cachedPattern(expr string) *regexp.Regexp {
	patternMu.Lock()
	defer patternMu.Unlock()

	if re, ok := patternCache[expr]; ok {
		return re
	}
	re := regexp.MustCompile(expr)
	patternCache[expr] = re
	return re
}

func openTagPattern(class string) *regexp.Regexp {
	return cachedPattern(`<([a-zA-Z][a-zA-Z0-9]*)[^>]*class="[^"]*` + regexp.QuoteMeta(class) + `[^"]*"[^>]*>`)
}

func tagBoundaryPattern(tag string) *regexp.Regexp {
	return cachedPattern(`(?i)<` + tag + `[\s>]|</` + tag + `>`)
}

// blocksByClass returns the inner HTML of every element carrying class.
// The closer is found by counting same-tag nesting, so a block may hold
// other markup without being cut short.
func blocksByClass(html, class string) []string {
	var blocks []string
	for _, loc := range openTagPattern(class).FindAllStringSubmatchIndex(html, -1) {
		tag := strings.ToLower(html[loc[2]:loc[3]])
		start := loc[1]
		if inner, ok := innerHTML(html[start:], tag); ok {
			blocks = append(blocks, inner)
		}
	}
	return blocks
}

// innerHTML scans rest for the closing tag matching an already-consumed
// opener of tag, tolerating nested elements of the same name.
func innerHTML(rest, tag string) (string, bool) {
	depth := 1
	offset := 0
	boundary := tagBoundaryPattern(tag)
	closer := "</" + tag + ">"

	for {
		loc := boundary.FindStringIndex(rest[offset:])
		if loc == nil {
			return "", false
		}
		abs := offset + loc[0]
		if strings.HasPrefix(strings.ToLower(rest[abs:]), closer) {
			depth--
			if depth == 0 {
				return rest[:abs], true
			}
			offset = abs + len(closer)
			continue
		}
		depth++
		offset = offset + loc[1]
	}
}

// textsByClass returns the cleaned text of every element carrying class,
// dropping empties.
func textsByClass(html, class string) []string {
	var texts []string
	for _, block := range blocksByClass(html, class) {
		if text := util.CleanText(block); text != "" {
			texts = append(texts, text)
		}
	}
	return texts
}

func firstTextByClass(html, class string) string {
	if texts := textsByClass(html, class); len(texts) > 0 {
		return texts[0]
	}
	return ""
}

// anchorsIn extracts every link in a fragment as URL plus label text.
func anchorsIn(html string) []domain.LabeledLink {
	matches := anchorPattern.FindAllStringSubmatch(html, -1)
	links := make([]domain.LabeledLink, 0, len(matches))
	for _, m := range matches {
		links = append(links, domain.LabeledLink{
			URL:  strings.TrimSpace(m[1]),
			Text: util.CleanText(m[2]),
		})
	}
	return links
}

func imageSrcsIn(html string) []string {
	matches := imgSrcPattern.FindAllStringSubmatch(html, -1)
	srcs := make([]string, 0, len(matches))
	for _, m := range matches {
		if src := strings.TrimSpace(m[1]); src != "" {
			srcs = append(srcs, src)
		}
	}
	return srcs
}

// absoluteURL resolves href against base, returning href unchanged when
// it is already absolute or unparseable.
func absoluteURL(base, href string) string {
	if href == "" || strings.HasPrefix(href, "http") {
		return href
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return baseURL.ResolveReference(ref).String()
}

var profileLabels = []struct {
	label string
	apply func(p *domain.Profile, value string)
}{
	{"年齢", func(p *domain.Profile, v string) { p.Age = v }},
	{"身長", func(p *domain.Profile, v string) { p.Height = v }},
	{"誕生日", func(p *domain.Profile, v string) { p.Birthday = v }},
	{"趣味", func(p *domain.Profile, v string) { p.Hobby = v }},
}

var profileValuePatterns = func() []*regexp.Regexp {
	patterns := make([]*regexp.Regexp, len(profileLabels))
	for i, entry := range profileLabels {
		patterns[i] = regexp.MustCompile(entry.label + `[::]?\s*([^\s、。/|]+)`)
	}
	return patterns
}()

// parseProfile pulls the labeled attributes out of free-form profile
// text, keeping the raw lines alongside.
func parseProfile(texts []string) *domain.Profile {
	if len(texts) == 0 {
		return nil
	}
	profile := &domain.Profile{Raw: texts}
	joined := strings.Join(texts, " ")
	for i, entry := range profileLabels {
		if m := profileValuePatterns[i].FindStringSubmatch(joined); m != nil {
			entry.apply(profile, m[1])
		}
	}
	return profile
}

var (
	genderLabeledPattern = regexp.MustCompile(`性別[::]?\s*(男性|女性|男|女|male|female)`)
	genderEnglishPattern = regexp.MustCompile(`(?i)gender[::]?\s*(male|female|男性|女性)`)
	genderBarePattern    = regexp.MustCompile(`(男性|女性)`)
)

// findGender scans text for a gender statement. Explicit labels beat
// bare mentions, reflected in the confidence score.
func findGender(text string) *domain.GenderInfo {
	if m := genderLabeledPattern.FindStringSubmatch(text); m != nil {
		return &domain.GenderInfo{Value: normalizeGender(m[1]), Confidence: 0.9, Source: "labeled"}
	}
	if m := genderEnglishPattern.FindStringSubmatch(text); m != nil {
		return &domain.GenderInfo{Value: normalizeGender(m[1]), Confidence: 0.8, Source: "labeled-en"}
	}
	if m := genderBarePattern.FindStringSubmatch(text); m != nil {
		return &domain.GenderInfo{Value: normalizeGender(m[1]), Confidence: 0.6, Source: "inferred"}
	}
	return nil
}

func normalizeGender(raw string) string {
	switch strings.ToLower(raw) {
	case "男性", "男", "male":
		return "男性"
	default:
		return "女性"
	}
}
