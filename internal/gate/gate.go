// Package gate verifies channel membership for a recipient before any
// campaign content is delivered to them.
package gate

import (
	"context"

	"mailerbot/internal/campaign"
	"mailerbot/internal/transport"
	"mailerbot/pkg/logx"
)

// MemberLookup is the single transport call the gate needs.
type MemberLookup interface {
	MemberStatus(ctx context.Context, channelID, userID int64) (transport.MemberStatus, error)
}

type Checker struct {
	channels []campaign.Channel
	lookup   MemberLookup
	log      logx.Logger
}

func New(channels []campaign.Channel, lookup MemberLookup, log logx.Logger) *Checker {
	return &Checker{
		channels: append([]campaign.Channel(nil), channels...),
		lookup:   lookup,
		log:      log,
	}
}

// Check reports whether userID is subscribed to every configured channel,
// and returns the display names of the channels they are missing, in
// configured order. A failed membership query counts as "not subscribed"
// for that channel: the gate fails closed, never open.
func (c *Checker) Check(ctx context.Context, userID int64) (bool, []string) {
	var missing []string
	for _, ch := range c.channels {
		status, err := c.lookup.MemberStatus(ctx, ch.ID, userID)
		if err != nil {
			c.log.Warn("membership query failed; treating as unsubscribed",
				logx.String("channel", ch.Name), logx.Int64("user", userID), logx.Err(err))
			missing = append(missing, ch.Name)
			continue
		}
		if !status.Subscribed() {
			missing = append(missing, ch.Name)
		}
	}
	return len(missing) == 0, missing
}
