package scraper

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/kapu/liver-scraper-go/internal/constants"
	"github.com/kapu/liver-scraper-go/internal/domain"
	"github.com/kapu/liver-scraper-go/internal/util"
	"github.com/kapu/liver-scraper-go/pkg/errors"
)

var loginWallMarkers = []string{"ログイン", "login_form", "password"}

// DetailScraper fetches and extracts individual profile pages.
type DetailScraper struct {
	fetch   *Fetcher
	baseURL string
	logger  *zap.Logger
}

func NewDetailScraper(fetch *Fetcher, baseURL string, logger *zap.Logger) *DetailScraper {
	return &DetailScraper{
		fetch:   fetch,
		baseURL: baseURL,
		logger:  logger,
	}
}

// Scrape fetches one detail page and extracts its profile. A login wall
// comes back as LoginWallError so callers can rebuild the session and
// retry.
func (s *DetailScraper) Scrape(ctx context.Context, detailPath string, token *domain.SessionToken) (*domain.DetailInfo, error) {
	resp, err := s.fetch.Get(ctx, detailPath, token)
	if err != nil {
		return nil, err
	}

	html := resp.String()
	if isLoginWall(FinalURL(resp), html) {
		s.logger.Warn("Login wall on detail page", zap.String("path", detailPath))
		return nil, errors.NewLoginWallError(detailPath)
	}

	// A sparse page is still a successful scrape; every field is
	// optional and absence is not an error.
	return s.extract(html), nil
}

// isLoginWall recognizes an authenticated fetch that bounced: either
// the redirect chain landed on the login page, or the body is a short
// page showing login markers.
func isLoginWall(finalURL, html string) bool {
	if strings.Contains(finalURL, "/login") {
		return true
	}
	if len(html) >= constants.ScrapeConfig.LoginWallBodySize {
		return false
	}
	return util.ContainsAny(html, loginWallMarkers...)
}

func (s *DetailScraper) extract(html string) *domain.DetailInfo {
	info := &domain.DetailInfo{
		Categories: textsByClass(html, "liverProf_tag"),
		Name:       firstTextByClass(html, "liverProf_name"),
		Followers:  firstTextByClass(html, "liverProf_follwer"),
		EventInfo:  textsByClass(html, "liverEvent_scheduleTxt"),
		Comments:   textsByClass(html, "liverComment_body"),
	}

	for _, block := range blocksByClass(html, "liverImage_views") {
		for _, src := range imageSrcsIn(block) {
			info.ProfileImages = append(info.ProfileImages, domain.ProfileImage{
				OriginalURL: absoluteURL(s.baseURL, src),
			})
		}
	}

	info.Collaboration = extractCollaboration(html)

	for _, block := range blocksByClass(html, "liverProf_info") {
		for _, link := range anchorsIn(block) {
			if link.URL == "" || link.URL == "#" {
				continue
			}
			link.URL = absoluteURL(s.baseURL, link.URL)
			info.MediaLinks = append(info.MediaLinks, link)
		}
	}

	profileTexts := textsByClass(html, "liverProf_prof")
	info.Profile = parseProfile(profileTexts)

	info.StreamingLinks = extractStreamingLinks(html, s.baseURL)

	genderSource := strings.Join(profileTexts, " ") + " " + strings.Join(info.Categories, " ")
	info.Gender = findGender(genderSource)

	return info
}

// extractCollaboration reads the collaboration policy marker. The OK
// marker wins; without it the liver counts as NG, with the NG block's
// comment when present and a fixed no-info comment otherwise.
func extractCollaboration(html string) *domain.Collaboration {
	if blocks := blocksByClass(html, "liverProf_collaboOK"); len(blocks) > 0 {
		return &domain.Collaboration{
			Status:  domain.CollabOK,
			Comment: util.CleanText(blocks[0]),
		}
	}
	if blocks := blocksByClass(html, "liverProf_collaboNG"); len(blocks) > 0 {
		return &domain.Collaboration{
			Status:  domain.CollabNG,
			Comment: util.CleanText(blocks[0]),
		}
	}
	return &domain.Collaboration{
		Status:  domain.CollabNG,
		Comment: domain.DefaultCollabComment,
	}
}

// extractStreamingLinks collects channel links from the schedule
// blocks, both direct anchors and ones nested deeper, deduplicated by
// URL.
func extractStreamingLinks(html, baseURL string) []domain.StreamingLink {
	seen := map[string]bool{}
	var links []domain.StreamingLink

	for _, block := range blocksByClass(html, "schedules_id") {
		for _, anchor := range anchorsIn(block) {
			url := strings.TrimSpace(anchor.URL)
			if url == "" || url == "#" {
				continue
			}
			url = absoluteURL(baseURL, url)
			if seen[url] {
				continue
			}
			seen[url] = true
			links = append(links, domain.StreamingLink{
				URL:   url,
				Type:  domain.DetectProviderType(url),
				Title: anchor.Text,
			})
		}
	}
	return links
}
