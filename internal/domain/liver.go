package domain

import "time"

// LinkType distinguishes how a liver was discovered on the listing page.
const (
	LinkTypeDetail = "detail"
	LinkTypeModal  = "modal"
)

// Collaboration status values. The site only distinguishes the two; a
// page without the OK marker counts as NG.
const (
	CollabOK = "OK"
	CollabNG = "NG"
)

// DefaultCollabComment is used when a detail page carries no
// collaboration section at all.
const DefaultCollabComment = "コラボ配信に関する記載なし"

// LiverRecord is the unit of the roster. A record starts life with the
// listing-page fields only and is enriched in place by the detail and
// image stages; HasDetails discriminates the two shapes.
type LiverRecord struct {
	ID         string    `json:"id"`
	OriginalID string    `json:"originalId,omitempty"`
	Name       string    `json:"name"`
	Followers  int       `json:"followers"`
	Platform   string    `json:"platform,omitempty"`
	Page       int       `json:"page,omitempty"`
	DetailURL  string    `json:"detailUrl,omitempty"`
	LinkType   string    `json:"linkType,omitempty"`
	ScrapedAt  time.Time `json:"scrapedAt"`

	// ImageURL is the stable serving path, ActualImageURL the upstream
	// source the capture stage resolved it from.
	ImageURL       string `json:"imageUrl,omitempty"`
	ActualImageURL string `json:"actualImageUrl,omitempty"`

	HasDetails      bool       `json:"hasDetails"`
	DetailScrapedAt *time.Time `json:"detailScrapedAt,omitempty"`

	Categories      []string        `json:"categories,omitempty"`
	DetailName      string          `json:"detailName,omitempty"`
	DetailFollowers string          `json:"detailFollowers,omitempty"`
	ProfileImages   []ProfileImage  `json:"profileImages,omitempty"`
	Collaboration   *Collaboration  `json:"collaboration,omitempty"`
	MediaLinks      []LabeledLink   `json:"mediaLinks,omitempty"`
	Profile         *Profile        `json:"profile,omitempty"`
	EventInfo       []string        `json:"eventInfo,omitempty"`
	Comments        []string        `json:"comments,omitempty"`
	StreamingLinks  []StreamingLink `json:"streamingLinks,omitempty"`
	Gender          *GenderInfo     `json:"gender,omitempty"`
}

type ProfileImage struct {
	OriginalURL string `json:"originalUrl"`
}

type Collaboration struct {
	Status  string `json:"status"`
	Comment string `json:"comment,omitempty"`
}

type LabeledLink struct {
	URL  string `json:"url"`
	Text string `json:"text,omitempty"`
}

type Profile struct {
	Age      string   `json:"age,omitempty"`
	Height   string   `json:"height,omitempty"`
	Birthday string   `json:"birthday,omitempty"`
	Hobby    string   `json:"hobby,omitempty"`
	Raw      []string `json:"raw,omitempty"`
}

type StreamingLink struct {
	URL   string       `json:"url"`
	Type  ProviderType `json:"type"`
	Title string       `json:"title,omitempty"`
}

type GenderInfo struct {
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
	Source     string  `json:"source"`
}

// DetailInfo is the extraction result of one detail page.
type DetailInfo struct {
	Categories      []string
	Name            string
	Followers       string
	ProfileImages   []ProfileImage
	Collaboration   *Collaboration
	MediaLinks      []LabeledLink
	Profile         *Profile
	EventInfo       []string
	Comments        []string
	StreamingLinks  []StreamingLink
	Gender          *GenderInfo
}

// ApplyDetails merges a detail extraction into the record and flips it
// into the detailed shape.
func (r *LiverRecord) ApplyDetails(d *DetailInfo, now time.Time) {
	r.Categories = d.Categories
	r.DetailName = d.Name
	r.DetailFollowers = d.Followers
	r.ProfileImages = d.ProfileImages
	r.Collaboration = d.Collaboration
	r.MediaLinks = d.MediaLinks
	r.Profile = d.Profile
	r.EventInfo = d.EventInfo
	r.Comments = d.Comments
	r.StreamingLinks = d.StreamingLinks
	r.Gender = d.Gender
	r.HasDetails = true
	t := now
	r.DetailScrapedAt = &t
}

// CanonicalID returns the site-assigned numeric id, preferring the
// original id preserved across integrations.
func (r *LiverRecord) CanonicalID() string {
	if r.OriginalID != "" {
		return r.OriginalID
	}
	return r.ID
}
