// Package events publishes session lifecycle events to redis so other
// services can follow session activity. The publisher is a no-op when
// no redis address is configured.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/andrei-shtanakov/collab-editor/internal/utils"
)

const (
	// Channel carries every session lifecycle event.
	Channel = "sessions"

	// statusTTL bounds how long the per-session status mirror lives.
	statusTTL = 24 * time.Hour
)

type Type string

const (
	TypeCreated Type = "session.created"
	TypeIdle    Type = "session.idle"
	TypeDeleted Type = "session.deleted"
)

type Event struct {
	Type      Type      `json:"type"`
	SessionID string    `json:"session_id"`
	At        time.Time `json:"at"`
}

type Publisher struct {
	rdb *redis.Client
	log *utils.Logger
}

// NewPublisher connects to redis at addr; an empty addr disables
// publishing entirely.
func NewPublisher(addr string, log *utils.Logger) *Publisher {
	p := &Publisher{log: log}
	if addr != "" {
		p.rdb = redis.NewClient(&redis.Options{Addr: addr})
	}
	return p
}

func (p *Publisher) Enabled() bool { return p.rdb != nil }

// Publish emits the event on the shared channel and mirrors it under a
// per-session key. Failures are logged, never propagated: the relay
// does not depend on redis being up.
func (p *Publisher) Publish(ctx context.Context, t Type, sessionID string) {
	if p.rdb == nil {
		return
	}
	payload, err := json.Marshal(Event{Type: t, SessionID: sessionID, At: time.Now().UTC()})
	if err != nil {
		return
	}
	if err := p.rdb.Publish(ctx, Channel, payload).Err(); err != nil {
		p.log.Warn("publish session event", "type", string(t), "session", sessionID, "error", err.Error())
	}
	if err := p.rdb.Set(ctx, "session:"+sessionID, payload, statusTTL).Err(); err != nil {
		p.log.Warn("store session event", "session", sessionID, "error", err.Error())
	}
}

func (p *Publisher) Close() error {
	if p.rdb == nil {
		return nil
	}
	return p.rdb.Close()
}
