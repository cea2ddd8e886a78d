package api

import (
	"math"
	"sort"
	"time"
)

// Profile is the public part of a user
type Profile struct {
	ID          string `json:"id,omitempty"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url,omitempty"`
	IsVerified  bool   `json:"is_verified"`
	UserType    string `json:"user_type,omitempty"`
}

// Name returns the display name, falling back to the username
func (p *Profile) Name() string {
	if p == nil {
		return "Unknown User"
	}
	if p.DisplayName != "" {
		return p.DisplayName
	}
	if p.Username != "" {
		return p.Username
	}
	return "Unknown User"
}

// Poll is the question attached to a post
type Poll struct {
	Question string   `json:"question"`
	Options  []string `json:"options"`
}

// Post is a published post
type Post struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	Content      string    `json:"content"`
	MediaURLs    []string  `json:"media_urls,omitempty"`
	IsPremium    bool      `json:"is_premium"`
	Price        float64   `json:"price,omitempty"`
	Tags         []string  `json:"tags,omitempty"`
	Poll         *Poll     `json:"poll,omitempty"`
	Status       string    `json:"status,omitempty"`
	LikeCount    int       `json:"like_count"`
	CommentCount int       `json:"comment_count"`
	ShareCount   int       `json:"share_count"`
	ViewCount    int       `json:"view_count"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	Author       *Profile  `json:"profiles,omitempty"`

	// Filled in client side from the like and save tables.
	IsLiked bool `json:"is_liked"`
	IsSaved bool `json:"is_saved"`
}

// Interactions is the current user's relation to a post
type Interactions struct {
	IsLiked bool `json:"is_liked"`
	IsSaved bool `json:"is_saved"`
}

// Comment is a comment on a post
type Comment struct {
	ID        string    `json:"id"`
	PostID    string    `json:"post_id"`
	UserID    string    `json:"user_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
	Author    *Profile  `json:"profiles,omitempty"`
	// Pending marks an optimistic comment not yet confirmed by the server.
	Pending bool `json:"pending,omitempty"`
}

// PollVote is one user's vote
type PollVote struct {
	ID          string    `json:"id,omitempty"`
	PostID      string    `json:"post_id"`
	UserID      string    `json:"user_id,omitempty"`
	OptionIndex int       `json:"option_index"`
	CreatedAt   time.Time `json:"created_at,omitempty"`
}

// PollTally is the vote count per option plus the current user's choice
type PollTally struct {
	Counts   map[int]int `json:"counts"`
	Total    int         `json:"total"`
	UserVote *int        `json:"user_vote,omitempty"`
}

// TallyVotes counts votes per option
func TallyVotes(votes []PollVote, userVote *int) PollTally {
	t := PollTally{Counts: make(map[int]int), UserVote: userVote}
	for _, v := range votes {
		t.Counts[v.OptionIndex]++
		t.Total++
	}
	return t
}

// Clone returns a deep copy
func (t PollTally) Clone() PollTally {
	out := PollTally{Counts: make(map[int]int, len(t.Counts)), Total: t.Total}
	for k, v := range t.Counts {
		out.Counts[k] = v
	}
	if t.UserVote != nil {
		v := *t.UserVote
		out.UserVote = &v
	}
	return out
}

// WithVote returns the tally after the current user votes for option. A
// previous vote moves; a first vote adds to the total.
func (t PollTally) WithVote(option int) PollTally {
	out := t.Clone()
	if out.UserVote != nil {
		if *out.UserVote == option {
			return out
		}
		if out.Counts[*out.UserVote] > 0 {
			out.Counts[*out.UserVote]--
		}
	} else {
		out.Total++
	}
	out.Counts[option]++
	v := option
	out.UserVote = &v
	return out
}

// Percentages rounds each option's share to a whole percent
func (t PollTally) Percentages() map[int]int {
	out := make(map[int]int, len(t.Counts))
	for option, n := range t.Counts {
		if t.Total == 0 {
			out[option] = 0
			continue
		}
		out[option] = int(math.Round(float64(n) * 100 / float64(t.Total)))
	}
	return out
}

// Options returns the option indexes in order
func (t PollTally) Options() []int {
	out := make([]int, 0, len(t.Counts))
	for option := range t.Counts {
		out = append(out, option)
	}
	sort.Ints(out)
	return out
}

// Notification is an activity notice for one recipient
type Notification struct {
	ID          string    `json:"id"`
	RecipientID string    `json:"recipient_id"`
	SenderID    string    `json:"sender_id,omitempty"`
	Type        string    `json:"type"`
	Content     string    `json:"content,omitempty"`
	ReferenceID string    `json:"reference_id,omitempty"`
	IsRead      bool      `json:"is_read"`
	CreatedAt   time.Time `json:"created_at"`
	Sender      *Profile  `json:"sender_profile,omitempty"`
}

// NotificationPage is one page of notifications, newest first
type NotificationPage struct {
	Items   []Notification `json:"items"`
	Page    int            `json:"page"`
	Limit   int            `json:"limit"`
	HasMore bool           `json:"has_more"`
}

// Participant is a member of a conversation
type Participant struct {
	UserID  string   `json:"user_id"`
	Profile *Profile `json:"profiles,omitempty"`
}

// Message is one message in a conversation
type Message struct {
	ID             string     `json:"id"`
	ConversationID string     `json:"conversation_id"`
	SenderID       string     `json:"sender_id"`
	Content        string     `json:"content"`
	MessageType    string     `json:"message_type,omitempty"`
	ReplyToID      *string    `json:"reply_to_id,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	EditedAt       *time.Time `json:"edited_at,omitempty"`
	Pending        bool       `json:"pending,omitempty"`
}

// Conversation is a direct or group thread with the details the inbox shows
type Conversation struct {
	ID           string        `json:"id"`
	Type         string        `json:"type"`
	Name         string        `json:"name"`
	AvatarURL    string        `json:"avatar_url,omitempty"`
	Participants []Participant `json:"participants"`
	LastMessage  *Message      `json:"last_message,omitempty"`
	UnreadCount  int           `json:"unread_count"`
	LastReadAt   *time.Time    `json:"last_read_at,omitempty"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// Presence statuses
const (
	StatusOnline  = "online"
	StatusAway    = "away"
	StatusOffline = "offline"
)

// OfflineAfter is how long since last_seen before a user counts as offline
const OfflineAfter = 5 * time.Minute

// Presence is a user's last reported status
type Presence struct {
	UserID               string    `json:"user_id"`
	Status               string    `json:"status"`
	LastSeenAt           time.Time `json:"last_seen_at"`
	TypingInConversation *string   `json:"typing_in_conversation,omitempty"`
}

// EffectiveStatus returns the status, or offline if the user has not been
// seen for OfflineAfter
func (p Presence) EffectiveStatus(now time.Time) string {
	if p.Status == "" || now.Sub(p.LastSeenAt) > OfflineAfter {
		return StatusOffline
	}
	return p.Status
}

// IsTypingIn reports whether the user is typing in conversationID
func (p Presence) IsTypingIn(conversationID string) bool {
	return conversationID != "" && p.TypingInConversation != nil && *p.TypingInConversation == conversationID
}

// Story is an ephemeral post
type Story struct {
	ID        string    `json:"id"`
	CreatorID string    `json:"creator_id"`
	MediaURL  string    `json:"media_url"`
	MediaType string    `json:"media_type,omitempty"`
	Caption   string    `json:"caption,omitempty"`
	IsActive  bool      `json:"is_active"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
	Creator   *Profile  `json:"profiles,omitempty"`
	Viewed    bool      `json:"viewed,omitempty"`
}

// StoryGroup is every active story of one creator
type StoryGroup struct {
	CreatorID string  `json:"creator_id"`
	Latest    Story   `json:"latest"`
	Stories   []Story `json:"stories"`
}

// GroupStories groups stories per creator. Each group lists stories oldest
// first; groups are ordered by their latest story, newest first.
func GroupStories(stories []Story) []StoryGroup {
	byCreator := make(map[string][]Story)
	var order []string
	for _, s := range stories {
		creator := s.CreatorID
		if creator == "" && s.Creator != nil {
			creator = s.Creator.ID
		}
		if creator == "" {
			continue
		}
		if _, ok := byCreator[creator]; !ok {
			order = append(order, creator)
		}
		byCreator[creator] = append(byCreator[creator], s)
	}

	groups := make([]StoryGroup, 0, len(order))
	for _, creator := range order {
		list := byCreator[creator]
		sort.SliceStable(list, func(i, j int) bool { return list[i].CreatedAt.Before(list[j].CreatedAt) })
		groups = append(groups, StoryGroup{
			CreatorID: creator,
			Latest:    list[len(list)-1],
			Stories:   list,
		})
	}
	sort.SliceStable(groups, func(i, j int) bool {
		return groups[i].Latest.CreatedAt.After(groups[j].Latest.CreatedAt)
	})
	return groups
}

// AnalyticsOverview is a creator's headline numbers
type AnalyticsOverview struct {
	TotalViews    int64   `json:"total_views"`
	TotalLikes    int64   `json:"total_likes"`
	FollowerCount int64   `json:"follower_count"`
	TotalEarnings float64 `json:"total_earnings"`
	MonthlyGrowth float64 `json:"monthly_growth"`
}

// TrendDataset is one series of an engagement chart
type TrendDataset struct {
	Label string    `json:"label"`
	Data  []float64 `json:"data"`
}

// EngagementTrend is a labelled time series
type EngagementTrend struct {
	Labels   []string       `json:"labels"`
	Datasets []TrendDataset `json:"datasets"`
}

// Bucket is one slice of a distribution
type Bucket struct {
	Name       string  `json:"name"`
	Percentage float64 `json:"percentage"`
}

// AudienceDemographics breaks the audience down by country, age and platform
type AudienceDemographics struct {
	TopCountries []Bucket `json:"top_countries"`
	AgeGroups    []Bucket `json:"age_groups"`
	Platforms    []Bucket `json:"platforms"`
}

// RevenueBreakdown splits earnings by source
type RevenueBreakdown struct {
	PremiumContent float64 `json:"premium_content"`
	Subscriptions  float64 `json:"subscriptions"`
	Tips           float64 `json:"tips"`
	Other          float64 `json:"other"`
}

// Total sums every source
func (r RevenueBreakdown) Total() float64 {
	return r.PremiumContent + r.Subscriptions + r.Tips + r.Other
}

// ContentPerformance is one post's numbers with estimated earnings
type ContentPerformance struct {
	ID           string    `json:"id"`
	Content      string    `json:"content"`
	IsPremium    bool      `json:"is_premium"`
	Price        float64   `json:"price"`
	LikeCount    int       `json:"like_count"`
	CommentCount int       `json:"comment_count"`
	ShareCount   int       `json:"share_count"`
	ViewCount    int       `json:"view_count"`
	CreatedAt    time.Time `json:"created_at"`
	Earnings     float64   `json:"earnings"`
}

// estimateEarnings is the dashboard's per-post estimate
func estimateEarnings(p ContentPerformance) float64 {
	var e float64
	if p.IsPremium {
		e = float64(p.ViewCount)*0.05 + p.Price*math.Floor(float64(p.ViewCount)*0.02)
	} else {
		e = float64(p.ViewCount) * 0.01
	}
	return math.Round(e*100) / 100
}
