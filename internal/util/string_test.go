package util

import "testing"

func TestCleanText(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"<p>フォロワー&nbsp;12,345</p>", "フォロワー 12,345"},
		{"  a &amp; b  \n\t c ", "a & b c"},
		{"<div><span>nested</span> text</div>", "nested text"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := CleanText(tt.in); got != tt.want {
			t.Errorf("CleanText(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestContainsAny(t *testing.T) {
	if !ContainsAny("/assets/images/shared/noimage.png", "noimage.png", "/api/images/") {
		t.Error("expected match on noimage.png")
	}
	if ContainsAny("https://cdn.example.com/a.jpg", "noimage.png", "/api/images/") {
		t.Error("unexpected match on a real image URL")
	}
}

func TestParseFollowerCount(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"2,500", 2500},
		{" 12,345 ", 12345},
		{"987人", 987},
		{"0", 0},
		{"", 0},
		{"非公開", 0},
	}
	for _, tt := range tests {
		if got := ParseFollowerCount(tt.in); got != tt.want {
			t.Errorf("ParseFollowerCount(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestContentHash(t *testing.T) {
	a := ContentHash([]byte("158|Aoi|2,500|YouTube"))
	b := ContentHash([]byte("158|Aoi|2,500|YouTube"))
	c := ContentHash([]byte("158|Aoi|2,501|YouTube"))

	if a != b {
		t.Error("hash is not stable")
	}
	if a == c {
		t.Error("hash ignored a content change")
	}
	if len(a) != 16 {
		t.Errorf("hash length = %d, want 16", len(a))
	}
}
