// Package redis pushes leave lifecycle envelopes to per-recipient Redis
// pub/sub channels for real-time delivery to connected clients, and keeps a
// short inbox list per recipient for clients that were offline.
package redis

import (
	"context"
	"encoding/json"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/notify"
)

const (
	DefaultChannelPrefix = "leave:notify:"
	DefaultInboxSize     = 50
)

type Publisher struct {
	client    goredis.Cmdable
	prefix    string
	inboxSize int64
}

// NewPublisher uses DefaultChannelPrefix when prefix is empty. An inboxSize
// of zero disables the inbox.
func NewPublisher(client goredis.Cmdable, prefix string, inboxSize int) *Publisher {
	if prefix == "" {
		prefix = DefaultChannelPrefix
	}
	return &Publisher{client: client, prefix: prefix, inboxSize: int64(inboxSize)}
}

func (p *Publisher) Channel(recipient generic.EntityID) string {
	return p.prefix + string(recipient)
}

func (p *Publisher) Inbox(recipient generic.EntityID) string {
	return p.prefix + "inbox:" + string(recipient)
}

func (p *Publisher) Publish(ctx context.Context, env notify.Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}
	msg := string(payload)

	if err := p.client.Publish(ctx, p.Channel(env.RecipientID), msg).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", env.Type, err)
	}
	if p.inboxSize <= 0 {
		return nil
	}

	inbox := p.Inbox(env.RecipientID)
	if err := p.client.LPush(ctx, inbox, msg).Err(); err != nil {
		return fmt.Errorf("redis: inbox %s: %w", env.Type, err)
	}
	return p.client.LTrim(ctx, inbox, 0, p.inboxSize-1).Err()
}

// Recent returns up to n envelopes from the recipient's inbox, newest first.
func (p *Publisher) Recent(ctx context.Context, recipient generic.EntityID, n int) ([]notify.Envelope, error) {
	raw, err := p.client.LRange(ctx, p.Inbox(recipient), 0, int64(n)-1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]notify.Envelope, 0, len(raw))
	for _, s := range raw {
		var env notify.Envelope
		if err := json.Unmarshal([]byte(s), &env); err != nil {
			return nil, fmt.Errorf("redis: decode inbox entry: %w", err)
		}
		out = append(out, env)
	}
	return out, nil
}

var _ notify.Publisher = (*Publisher)(nil)
