package domain

import "strings"

// ProviderType classifies where a streaming link points.
type ProviderType string

const (
	ProviderYouTube   ProviderType = "youtube"
	ProviderTwitter   ProviderType = "twitter"
	ProviderTwitch    ProviderType = "twitch"
	ProviderInstagram ProviderType = "instagram"
	ProviderTikTok    ProviderType = "tiktok"
	ProviderDiscord   ProviderType = "discord"
	ProviderNiconico  ProviderType = "niconico"
	ProviderOpenrec   ProviderType = "openrec"
	ProviderMildom    ProviderType = "mildom"
	ProviderShowroom  ProviderType = "showroom"
	ProviderSeventeen ProviderType = "17live"
	ProviderMirrativ  ProviderType = "mirrativ"
	ProviderWeb       ProviderType = "web"
	ProviderOther     ProviderType = "other"
)

// providerRules is checked in order; the first matching substring wins.
var providerRules = []struct {
	needles []string
	kind    ProviderType
}{
	{[]string{"youtube", "youtu.be"}, ProviderYouTube},
	{[]string{"twitter", "x.com"}, ProviderTwitter},
	{[]string{"twitch.tv"}, ProviderTwitch},
	{[]string{"instagram"}, ProviderInstagram},
	{[]string{"tiktok"}, ProviderTikTok},
	{[]string{"discord.gg", "discord.com"}, ProviderDiscord},
	{[]string{"niconico", "nicovideo.jp"}, ProviderNiconico},
	{[]string{"openrec.tv"}, ProviderOpenrec},
	{[]string{"mildom"}, ProviderMildom},
	{[]string{"showroom-live.com"}, ProviderShowroom},
	{[]string{"17live.co", "17.live"}, ProviderSeventeen},
	{[]string{"mirrativ"}, ProviderMirrativ},
}

// DetectProviderType classifies a URL. Every input maps to some type;
// unrecognized http(s) links become ProviderWeb, anything else
// ProviderOther.
func DetectProviderType(rawURL string) ProviderType {
	url := strings.ToLower(strings.TrimSpace(rawURL))
	for _, rule := range providerRules {
		for _, needle := range rule.needles {
			if strings.Contains(url, needle) {
				return rule.kind
			}
		}
	}
	if strings.HasPrefix(url, "http") {
		return ProviderWeb
	}
	return ProviderOther
}
