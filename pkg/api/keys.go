package api

import (
	"github.com/zfogg/sidechain/clientsync/pkg/cache"
)

// Keys builds every cache key the services use, so that invalidation by
// prefix lines up with what was stored.
var Keys keyFactory

type keyFactory struct {
	Posts         postKeys
	Notifications notificationKeys
	Conversations conversationKeys
	Analytics     analyticsKeys
	Profiles      profileKeys
}

type postKeys struct{}

// All is the prefix of every post key
func (postKeys) All() cache.Key { return cache.NewKey("posts") }

// Feed is one page of the published feed
func (k postKeys) Feed(page int) cache.Key { return k.All().Append("feed").AppendInt(page) }

// Feeds is the prefix of every feed page
func (k postKeys) Feeds() cache.Key { return k.All().Append("feed") }

func (k postKeys) Detail(postID string) cache.Key { return k.All().Append("detail", postID) }

func (k postKeys) ByUser(userID string) cache.Key { return k.All().Append("user", userID) }

// Comments is the comment list of a post
func (keyFactory) Comments(postID string) cache.Key {
	return cache.NewKey("posts", "comments", postID)
}

// Poll is the vote tally of a poll post
func (keyFactory) Poll(postID string) cache.Key {
	return cache.NewKey("posts", "poll", postID)
}

// Presence is one user's presence entry
func (keyFactory) Presence(userID string) cache.Key {
	return cache.NewKey("presence", userID)
}

// Stories is the active stories carousel
func (keyFactory) Stories() cache.Key {
	return cache.NewKey("stories", "active")
}

type notificationKeys struct{}

func (notificationKeys) All(userID string) cache.Key {
	return cache.NewKey("notifications", userID)
}

func (k notificationKeys) List(userID string, page int) cache.Key {
	return k.All(userID).Append("list").AppendInt(page)
}

// Lists is the prefix of every page for userID
func (k notificationKeys) Lists(userID string) cache.Key {
	return k.All(userID).Append("list")
}

func (k notificationKeys) Unread(userID string) cache.Key {
	return k.All(userID).Append("unread")
}

type conversationKeys struct{}

func (conversationKeys) All() cache.Key { return cache.NewKey("conversations") }

func (k conversationKeys) List(userID string) cache.Key { return k.All().Append("list", userID) }

func (k conversationKeys) Messages(conversationID string) cache.Key {
	return k.All().Append("messages", conversationID)
}

type profileKeys struct{}

// All is the prefix of every key about userID
func (profileKeys) All(userID string) cache.Key { return cache.NewKey("profile", userID) }

// ByUsername is a profile looked up by username
func (profileKeys) ByUsername(username string) cache.Key {
	return cache.NewKey("profile", "@"+username)
}

func (k profileKeys) Followers(userID string) cache.Key { return k.All(userID).Append("followers") }

func (k profileKeys) Following(userID string) cache.Key { return k.All(userID).Append("following") }

// FollowStatus is whether followerID follows userID
func (k profileKeys) FollowStatus(userID, followerID string) cache.Key {
	return k.All(userID).Append("followed-by", followerID)
}

type analyticsKeys struct{}

func (analyticsKeys) All() cache.Key { return cache.NewKey("analytics") }

func (k analyticsKeys) Overview(creatorID string) cache.Key {
	return k.All().Append("overview", creatorID)
}

func (k analyticsKeys) Content(creatorID string, limit int) cache.Key {
	return k.All().Append("content", creatorID).AppendInt(limit)
}

func (k analyticsKeys) Engagement(creatorID, period, metric string) cache.Key {
	return k.All().Append("engagement", creatorID, period, metric)
}

func (k analyticsKeys) Audience(creatorID string) cache.Key {
	return k.All().Append("audience", creatorID)
}

func (k analyticsKeys) Revenue(creatorID, period string) cache.Key {
	return k.All().Append("revenue", creatorID, period)
}

// pageOffset converts a zero-based page to a row offset
func pageOffset(page, limit int) int {
	if page < 0 {
		page = 0
	}
	return page * limit
}
