// Package peers makes sure the session can address a chat before messages are
// fetched from it. Resolved peers live in an in-memory cache keyed by chat id.
package peers

import (
	"fmt"
	"strings"

	"github.com/gotd/td/tg"
	"github.com/maypok86/otter"

	"github.com/lueurxax/telegram-backup-bot/internal/tgutil"
)

const defaultCacheCapacity = 10_000

// Peer is everything needed to address a chat and describe it to the owner.
type Peer struct {
	ChatID    int64
	Title     string
	Username  string
	Kind      tgutil.ChatKind
	Megagroup bool
	// Protected is set when the chat forbids forwarding and saving content.
	Protected bool
	Input     tg.InputPeerClass
}

// KindLabel is the human form used by the chat listing.
func (p Peer) KindLabel() string {
	if p.Kind == tgutil.KindChannel && p.Megagroup {
		return "supergroup"
	}

	return p.Kind.String()
}

// DisplayTitle falls back to the chat id when the title is unknown.
func (p Peer) DisplayTitle() string {
	if p.Title != "" {
		return p.Title
	}

	return fmt.Sprint(p.ChatID)
}

// InputChannel returns the channel form of the peer for channels.* calls.
func (p Peer) InputChannel() (*tg.InputChannel, bool) {
	ch, ok := p.Input.(*tg.InputPeerChannel)
	if !ok {
		return nil, false
	}

	return &tg.InputChannel{ChannelID: ch.ChannelID, AccessHash: ch.AccessHash}, true
}

// Cache stores resolved peers by chat id and username.
type Cache struct {
	byID       otter.Cache[int64, Peer]
	byUsername otter.Cache[string, int64]
}

func NewCache(capacity int) (*Cache, error) {
	if capacity <= 0 {
		capacity = defaultCacheCapacity
	}

	byID, err := otter.MustBuilder[int64, Peer](capacity).Build()
	if err != nil {
		return nil, fmt.Errorf("build peer cache: %w", err)
	}

	byUsername, err := otter.MustBuilder[string, int64](capacity).Build()
	if err != nil {
		return nil, fmt.Errorf("build username cache: %w", err)
	}

	return &Cache{byID: byID, byUsername: byUsername}, nil
}

func (c *Cache) Put(p Peer) {
	if p.ChatID == 0 || p.Input == nil {
		return
	}

	c.byID.Set(p.ChatID, p)

	if p.Username != "" {
		c.byUsername.Set(strings.ToLower(p.Username), p.ChatID)
	}
}

func (c *Cache) Get(chatID int64) (Peer, bool) {
	return c.byID.Get(chatID)
}

func (c *Cache) GetByUsername(username string) (Peer, bool) {
	chatID, ok := c.byUsername.Get(strings.ToLower(strings.TrimPrefix(username, "@")))
	if !ok {
		return Peer{}, false
	}

	return c.Get(chatID)
}

// PutChats caches every addressable chat in the list and returns how many
// were stored. Min channels never replace a full entry.
func (c *Cache) PutChats(chats []tg.ChatClass) int {
	stored := 0

	for _, chat := range chats {
		p, ok := FromChat(chat)
		if !ok {
			continue
		}

		if ch, isChannel := chat.(*tg.Channel); isChannel && ch.Min {
			if _, exists := c.Get(p.ChatID); exists {
				continue
			}
		}

		c.Put(p)
		stored++
	}

	return stored
}

// PutUsers caches users returned alongside chats.
func (c *Cache) PutUsers(users []tg.UserClass) {
	for _, u := range users {
		if p, ok := FromUser(u); ok {
			c.Put(p)
		}
	}
}

// FromChat converts a protocol chat into a Peer.
func FromChat(chat tg.ChatClass) (Peer, bool) {
	switch c := chat.(type) {
	case *tg.Channel:
		return Peer{
			ChatID:    tgutil.ChannelChatID(c.ID),
			Title:     c.Title,
			Username:  c.Username,
			Kind:      tgutil.KindChannel,
			Megagroup: c.Megagroup,
			Protected: c.Noforwards,
			Input:     &tg.InputPeerChannel{ChannelID: c.ID, AccessHash: c.AccessHash},
		}, true
	case *tg.ChannelForbidden:
		return Peer{
			ChatID:    tgutil.ChannelChatID(c.ID),
			Title:     c.Title,
			Kind:      tgutil.KindChannel,
			Megagroup: c.Megagroup,
			Input:     &tg.InputPeerChannel{ChannelID: c.ID, AccessHash: c.AccessHash},
		}, true
	case *tg.Chat:
		return Peer{
			ChatID:    -c.ID,
			Title:     c.Title,
			Kind:      tgutil.KindBasicGroup,
			Protected: c.Noforwards,
			Input:     &tg.InputPeerChat{ChatID: c.ID},
		}, true
	case *tg.ChatForbidden:
		return Peer{
			ChatID: -c.ID,
			Title:  c.Title,
			Kind:   tgutil.KindBasicGroup,
			Input:  &tg.InputPeerChat{ChatID: c.ID},
		}, true
	default:
		return Peer{}, false
	}
}

// FromUser converts a protocol user into a Peer.
func FromUser(user tg.UserClass) (Peer, bool) {
	u, ok := user.(*tg.User)
	if !ok {
		return Peer{}, false
	}

	title := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if u.Self {
		title = "Saved Messages"
	}

	return Peer{
		ChatID:   u.ID,
		Title:    title,
		Username: u.Username,
		Kind:     tgutil.KindUser,
		Input:    &tg.InputPeerUser{UserID: u.ID, AccessHash: u.AccessHash},
	}, true
}
