package screens

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/SJKodehode/tutorial-chat-app/internal/database"
	"github.com/SJKodehode/tutorial-chat-app/internal/models"
	"github.com/SJKodehode/tutorial-chat-app/pkg/logger"
)

// Chat keeps the ordered message list of one room. The feed subscription is
// opened before history is read, so inserts that land during the read wait
// in the subscription and are merged afterwards; message ids already shown
// are skipped.
type Chat struct {
	lifecycle

	db      database.Database
	session SessionSource
	alerter Alerter
	roomID  string

	mu        sync.Mutex
	messages  []models.Message
	seen      map[string]struct{}
	nicknames map[string]string
	userID    string
	sub       database.Subscription
}

func NewChat(db database.Database, session SessionSource, alerter Alerter, roomID string) *Chat {
	return &Chat{
		db:      db,
		session: session,
		alerter: alerter,
		roomID:  roomID,
	}
}

func (c *Chat) RoomID() string { return c.roomID }

func (c *Chat) Activate(parent context.Context) error {
	c.releaseSubscription()
	ctx := c.begin(parent)

	sub, err := c.db.Subscribe(ctx, database.MessageFilter(c.roomID))
	if err != nil {
		logger.Warn("Subscribing to room %s failed: %v", c.roomID, err)
		alert(c.alerter, "Error", errorMessage(err))
	}

	var userID string
	if user, err := c.session.CurrentUser(ctx); err == nil {
		userID = user.ID
	}

	history, listErr := c.db.ListMessages(ctx, c.roomID)
	if listErr != nil {
		logger.Warn("Loading messages for room %s failed: %v", c.roomID, listErr)
	}

	c.mu.Lock()
	if ctx.Err() != nil {
		c.mu.Unlock()
		if sub != nil {
			sub.Close()
		}
		return ctx.Err()
	}
	c.messages = nil
	c.seen = make(map[string]struct{})
	c.nicknames = make(map[string]string)
	c.userID = userID
	for _, m := range history {
		if m.Nickname != "" {
			c.nicknames[m.UserID] = m.Nickname
		}
		c.appendLocked(*m)
	}
	c.sub = sub
	c.mu.Unlock()
	c.notify()

	if sub != nil {
		go c.pump(ctx, sub)
	}
	return listErr
}

func (c *Chat) Deactivate() {
	c.end()
	c.releaseSubscription()
}

func (c *Chat) releaseSubscription() {
	c.mu.Lock()
	sub := c.sub
	c.sub = nil
	c.mu.Unlock()
	if sub != nil {
		sub.Close()
	}
}

func (c *Chat) pump(ctx context.Context, sub database.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			c.receive(ctx, ev)
		}
	}
}

func (c *Chat) receive(ctx context.Context, ev models.ChangeEvent) {
	if ev.Type != models.EventInsert {
		return
	}
	msg, err := ev.Message()
	if err != nil {
		logger.Warn("Dropping undecodable message event: %v", err)
		return
	}
	if c.has(msg.ID) {
		return
	}
	msg.Nickname = c.nickname(ctx, msg.UserID)

	c.mu.Lock()
	if ctx.Err() != nil {
		c.mu.Unlock()
		return
	}
	added := c.appendLocked(*msg)
	c.mu.Unlock()
	if added {
		c.notify()
	}
}

func (c *Chat) has(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.seen[id]
	return ok
}

// appendLocked reports whether msg was new.
func (c *Chat) appendLocked(msg models.Message) bool {
	if _, ok := c.seen[msg.ID]; ok {
		return false
	}
	c.seen[msg.ID] = struct{}{}
	c.messages = append(c.messages, msg)
	return true
}

// nickname resolves a sender's nickname, caching hits for this activation.
// A failed lookup gives "".
func (c *Chat) nickname(ctx context.Context, userID string) string {
	c.mu.Lock()
	name, ok := c.nicknames[userID]
	c.mu.Unlock()
	if ok {
		return name
	}

	profile, err := c.db.GetProfile(ctx, userID)
	if err != nil {
		if !errors.Is(err, database.ErrNotFound) {
			logger.Warn("Nickname lookup for %s failed: %v", userID, err)
		}
		return ""
	}

	c.mu.Lock()
	if c.nicknames != nil {
		c.nicknames[userID] = profile.Nickname
	}
	c.mu.Unlock()
	return profile.Nickname
}

// Send inserts a message. The list is updated by the feed echo, not here.
func (c *Chat) Send(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyText
	}

	user, err := c.session.CurrentUser(ctx)
	if err != nil || user.ID == "" {
		alert(c.alerter, "Error", "Could not get user ID")
		if err == nil {
			err = errors.New("session has no user id")
		}
		return err
	}

	err = c.db.InsertMessage(ctx, &models.NewMessage{RoomID: c.roomID, Text: text, UserID: user.ID})
	if err != nil {
		logger.Error("Sending message to room %s failed: %v", c.roomID, err)
		alert(c.alerter, "Error sending message", errorMessage(err))
		return err
	}
	return nil
}

// CanSend mirrors the disabled state of the send button.
func (c *Chat) CanSend(text string) bool {
	return strings.TrimSpace(text) != ""
}

// Messages returns a copy of the list in delivery order.
func (c *Chat) Messages() []models.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]models.Message(nil), c.messages...)
}

// IsOwn reports whether msg was sent by the signed-in user.
func (c *Chat) IsOwn(msg models.Message) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID != "" && msg.UserID == c.userID
}
