// Package shares defines the Shares Table consumed by the coordination engine.
package shares

import "time"

// Engagement holds the interaction counters reported for a post.
type Engagement struct {
	Likes    int64 `json:"likes"`
	Shares   int64 `json:"shares"`
	Comments int64 `json:"comments"`
	Loves    int64 `json:"loves"`
	Wows     int64 `json:"wows"`
	Hahas    int64 `json:"hahas"`
	Sads     int64 `json:"sads"`
	Angrys   int64 `json:"angrys"`
}

// Total sums every counter.
func (e Engagement) Total() int64 {
	return e.Likes + e.Shares + e.Comments + e.Loves + e.Wows + e.Hahas + e.Sads + e.Angrys
}

// Counter returns the named counter. The name "engagement" returns Total.
func (e Engagement) Counter(name string) (int64, bool) {
	switch name {
	case "engagement":
		return e.Total(), true
	case "likes":
		return e.Likes, true
	case "shares":
		return e.Shares, true
	case "comments":
		return e.Comments, true
	case "loves":
		return e.Loves, true
	case "wows":
		return e.Wows, true
	case "hahas":
		return e.Hahas, true
	case "sads":
		return e.Sads, true
	case "angrys":
		return e.Angrys, true
	}
	return 0, false
}

// Add returns the element-wise sum of two counter sets.
func (e Engagement) Add(o Engagement) Engagement {
	return Engagement{
		Likes:    e.Likes + o.Likes,
		Shares:   e.Shares + o.Shares,
		Comments: e.Comments + o.Comments,
		Loves:    e.Loves + o.Loves,
		Wows:     e.Wows + o.Wows,
		Hahas:    e.Hahas + o.Hahas,
		Sads:     e.Sads + o.Sads,
		Angrys:   e.Angrys + o.Angrys,
	}
}

// Share is one post by one account linking to a URL.
type Share struct {
	ID          string    `json:"id"`
	Date        time.Time `json:"date"`
	ExpandedURL string    `json:"expanded_url"`
	AccountID   string    `json:"account_id"`

	DisplayName     string  `json:"display_name,omitempty"`
	Handle          string  `json:"handle,omitempty"`
	Platform        string  `json:"platform,omitempty"`
	SubscriberCount float64 `json:"subscriber_count"`
	Verified        bool    `json:"verified"`
	AccountType     string  `json:"account_type,omitempty"`
	TopCountry      string  `json:"top_country,omitempty"`

	Engagement Engagement `json:"engagement"`

	// IsOrig marks posts whose URL matches one of the caller's seed URLs.
	IsOrig bool `json:"is_orig"`

	// IsCoordinated is set by the clustering engine on its copy of the table.
	IsCoordinated bool `json:"is_coordinated"`
}

// Unix returns the share time truncated to whole seconds.
func (s Share) Unix() int64 {
	return s.Date.Unix()
}
