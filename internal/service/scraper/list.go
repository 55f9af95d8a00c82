package scraper

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kapu/liver-scraper-go/internal/constants"
	"github.com/kapu/liver-scraper-go/internal/domain"
	"github.com/kapu/liver-scraper-go/internal/util"
)

var (
	detailLinkPattern = regexp.MustCompile(`<a[^>]*href="(/liver/detail/(\d+)/?)"`)
	modalLinkPattern  = regexp.MustCompile(`<a[^>]*href="(/modal/guest-guide/(\d+))"`)

	paginationPatterns = []*regexp.Regexp{
		regexp.MustCompile(`href="[^"]*/liver/list/\?[^"]*page=(\d+)`),
		regexp.MustCompile(`href="[^"]*\?[^"]*page=(\d+)`),
		regexp.MustCompile(`[?&]page=(\d+)`),
	}

	followerBlockPattern = regexp.MustCompile(`(?s)<dd[^>]*>(.*?)</dd>`)
	platformBlockPattern = regexp.MustCompile(`(?s)<dt[^>]*>(.*?)</dt>`)
)

// ListScraper walks the paginated listing and produces basic records.
type ListScraper struct {
	fetch     *Fetcher
	listPath  string
	pageDelay time.Duration
	logger    *zap.Logger
}

func NewListScraper(fetch *Fetcher, listPath string, pageDelay time.Duration, logger *zap.Logger) *ListScraper {
	return &ListScraper{
		fetch:     fetch,
		listPath:  listPath,
		pageDelay: pageDelay,
		logger:    logger,
	}
}

// ScrapeAll fetches every listing page and returns the full basic
// roster plus the page count it walked.
func (s *ListScraper) ScrapeAll(ctx context.Context, token *domain.SessionToken) ([]*domain.LiverRecord, int, error) {
	firstResp, err := s.fetch.Get(ctx, s.pagePath(1), token)
	if err != nil {
		return nil, 0, err
	}
	firstHTML := firstResp.String()

	pages := maxPages(firstHTML)
	records := parseListPage(firstHTML, 1, time.Now())

	s.logger.Info("Listing walk started",
		zap.Int("pages", pages),
		zap.Int("first_page_items", len(records)),
	)

	for page := 2; page <= pages; page++ {
		if err := util.SleepContext(ctx, s.pageDelay); err != nil {
			return records, pages, err
		}

		resp, err := s.fetch.Get(ctx, s.pagePath(page), token)
		if err != nil {
			// A failed page costs its items but not the whole walk.
			s.logger.Warn("Listing page fetch failed",
				zap.Int("page", page),
				zap.Error(err),
			)
			continue
		}

		pageRecords := parseListPage(resp.String(), page, time.Now())
		if len(pageRecords) == 0 {
			s.logger.Info("Listing page carried no livers, stopping walk",
				zap.Int("page", page),
			)
			break
		}
		records = append(records, pageRecords...)
	}

	s.logger.Info("Listing walk finished",
		zap.Int("pages", pages),
		zap.Int("total_items", len(records)),
	)
	return records, pages, nil
}

func (s *ListScraper) pagePath(page int) string {
	return fmt.Sprintf("%s?page=%d", s.listPath, page)
}

// maxPages derives the page count from pagination links, trying the
// most specific pattern first. The result is clamped on both ends: an
// upper bound keeps a parse glitch from turning into a 10000-page walk,
// and the fixed minimum keeps a glitchy first page from truncating it.
// The walk itself stops on the first empty page, so overshooting costs
// at most one extra fetch.
func maxPages(html string) int {
	max := 0
	for _, pattern := range paginationPatterns {
		for _, m := range pattern.FindAllStringSubmatch(html, -1) {
			if n, err := strconv.Atoi(m[1]); err == nil && n > max {
				max = n
			}
		}
		if max > 0 {
			break
		}
	}

	if max > constants.ScrapeConfig.MaxPages {
		max = constants.ScrapeConfig.MaxPages
	}
	return util.Max(max, constants.ScrapeConfig.FallbackPages)
}

type listingHit struct {
	id       string
	path     string
	linkType string
}

// parseListPage extracts the livers on one listing page. Detail and
// modal links identify the livers; the livers_item blocks on the same
// page are associated by position to fill in followers and platform.
func parseListPage(html string, page int, now time.Time) []*domain.LiverRecord {
	var hits []listingHit
	for _, m := range detailLinkPattern.FindAllStringSubmatch(html, -1) {
		hits = append(hits, listingHit{id: m[2], path: m[1], linkType: domain.LinkTypeDetail})
	}
	for _, m := range modalLinkPattern.FindAllStringSubmatch(html, -1) {
		hits = append(hits, listingHit{id: m[2], path: m[1], linkType: domain.LinkTypeModal})
	}

	items := blocksByClass(html, "livers_item")

	seen := map[string]bool{}
	var records []*domain.LiverRecord
	for i, hit := range hits {
		if seen[hit.id] {
			continue
		}
		seen[hit.id] = true

		record := &domain.LiverRecord{
			ID:        hit.id,
			Name:      thumbnailName(html, hit.id),
			Page:      page,
			DetailURL: hit.path,
			LinkType:  hit.linkType,
			ScrapedAt: now,
		}

		if i < len(items) {
			applyItemBlock(record, items[i])
		}

		records = append(records, record)
	}
	return records
}

// thumbnailName reads the liver name from the thumbnail alt text,
// falling back to a stable placeholder.
func thumbnailName(html, id string) string {
	pattern := regexp.MustCompile(`<img[^>]*src="/user_files_thumbnail/` + regexp.QuoteMeta(id) + `/[^"]*"[^>]*alt="([^"]*)"`)
	if m := pattern.FindStringSubmatch(html); m != nil {
		if name := util.CleanText(m[1]); name != "" {
			return name
		}
	}
	return "Liver " + id
}

func applyItemBlock(record *domain.LiverRecord, block string) {
	if m := followerBlockPattern.FindStringSubmatch(block); m != nil {
		followers := util.CleanText(m[1])
		followers = strings.ReplaceAll(followers, "フォロワー", "")
		record.Followers = util.ParseFollowerCount(followers)
	}
	if m := platformBlockPattern.FindStringSubmatch(block); m != nil {
		record.Platform = util.CleanText(m[1])
	}
	if name := firstTextByClass(block, "livers_name"); name != "" {
		record.Name = name
	}
}
