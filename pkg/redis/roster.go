package redis

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"
)

// Each channel roster is a set for membership checks plus a list that keeps
// insertion order for NAMES replies.
func (c *Client) membersKey(channel string) string {
	return c.key("roster", channel, "members")
}

func (c *Client) orderKey(channel string) string {
	return c.key("roster", channel, "order")
}

func (c *Client) channelsKey() string {
	return c.key("roster", "channels")
}

// addMemberScript appends the user to the order list only when the set
// insert succeeded, so set and list never disagree.
const addMemberScript = `
	if redis.call("sadd", KEYS[1], ARGV[1]) == 1 then
		redis.call("rpush", KEYS[2], ARGV[1])
		redis.call("sadd", KEYS[3], ARGV[2])
		return 1
	end
	return 0
`

// removeMemberScript drops the user from the order list only when the set
// removal succeeded.
const removeMemberScript = `
	if redis.call("srem", KEYS[1], ARGV[1]) == 1 then
		redis.call("lrem", KEYS[2], 0, ARGV[1])
		return 1
	end
	return 0
`

// AddMember adds user to the roster of channel if absent. It reports whether
// the user was added. Set and order list are updated in one script call.
func (c *Client) AddMember(ctx context.Context, channel, user string) (bool, error) {
	keys := []string{c.membersKey(channel), c.orderKey(channel), c.channelsKey()}
	added, err := c.rdb.Eval(ctx, addMemberScript, keys, user, channel).Int64()
	if err != nil {
		return false, fmt.Errorf("failed to add %s to roster of %s: %w", user, channel, err)
	}
	return added == 1, nil
}

// RemoveMember removes user from the roster of channel. It reports whether
// the user was present.
func (c *Client) RemoveMember(ctx context.Context, channel, user string) (bool, error) {
	keys := []string{c.membersKey(channel), c.orderKey(channel)}
	removed, err := c.rdb.Eval(ctx, removeMemberScript, keys, user).Int64()
	if err != nil {
		return false, fmt.Errorf("failed to remove %s from roster of %s: %w", user, channel, err)
	}
	return removed == 1, nil
}

// Members returns the roster of channel in insertion order.
func (c *Client) Members(ctx context.Context, channel string) ([]string, error) {
	members, err := c.rdb.LRange(ctx, c.orderKey(channel), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get roster of %s: %w", channel, err)
	}
	return members, nil
}

// RosterChannels returns every channel that ever had a roster entry.
func (c *Client) RosterChannels(ctx context.Context) ([]string, error) {
	channels, err := c.rdb.SMembers(ctx, c.channelsKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list roster channels: %w", err)
	}
	return channels, nil
}

// ClearRosters deletes every roster under the client's prefix. The bridge
// calls it at startup since no remote socket survives a restart.
func (c *Client) ClearRosters(ctx context.Context) error {
	channels, err := c.RosterChannels(ctx)
	if err != nil {
		return err
	}

	pipe := c.rdb.Pipeline()
	for _, channel := range channels {
		pipe.Del(ctx, c.membersKey(channel), c.orderKey(channel))
	}
	pipe.Del(ctx, c.channelsKey())
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to clear rosters: %w", err)
	}
	return nil
}

// RosterStore adapts Client to bridge.PresenceStore. Redis failures are
// logged and leave the roster unchanged; Names then returns an empty roster.
type RosterStore struct {
	client *Client
}

// NewRosterStore returns a presence store backed by client.
func NewRosterStore(client *Client) *RosterStore {
	return &RosterStore{client: client}
}

func (s *RosterStore) Join(channel, user string) {
	ctx, cancel := context.WithTimeout(context.Background(), s.client.timeout)
	defer cancel()

	if _, err := s.client.AddMember(ctx, channel, user); err != nil {
		log.Errorf("Roster join failed: %v", err)
	}
}

func (s *RosterStore) Leave(channel, user string) {
	ctx, cancel := context.WithTimeout(context.Background(), s.client.timeout)
	defer cancel()

	if _, err := s.client.RemoveMember(ctx, channel, user); err != nil {
		log.Errorf("Roster leave failed: %v", err)
	}
}

func (s *RosterStore) Names(channel string) []string {
	ctx, cancel := context.WithTimeout(context.Background(), s.client.timeout)
	defer cancel()

	names, err := s.client.Members(ctx, channel)
	if err != nil {
		log.Errorf("Roster lookup failed: %v", err)
		return []string{}
	}
	return names
}
