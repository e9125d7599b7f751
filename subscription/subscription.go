// Package subscription consumes the authoritative task collection for a
// project. The server publishes change notifications on a redis pub/sub
// channel and caches the latest snapshot JSON per project; this package turns
// that into a stream of whole snapshots, never incremental diffs, so
// downstream reconciliation stays stateless and replay-safe.
package subscription

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"board-sync/domain"
)

// DefaultChannel is the pub/sub channel the board service publishes update
// notifications on.
const DefaultChannel = "board:updates"

const snapshotKeyPrefix = "board:"

// Source subscribes to read model updates for board projects.
type Source struct {
	client     *redis.Client
	channel    string
	logger     *log.Logger
	retryDelay time.Duration
}

// New creates a Source reading from client. An empty channel selects
// DefaultChannel.
func New(client *redis.Client, channel string, logger *log.Logger) *Source {
	if channel == "" {
		channel = DefaultChannel
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Source{
		client:     client,
		channel:    channel,
		logger:     logger,
		retryDelay: time.Second,
	}
}

// Subscribe delivers the latest authoritative snapshot for projectID: one
// initial fetch, then a fresh fetch per matching notification. The channel
// has capacity one and is latest-wins; a lagging consumer only ever misses
// snapshots that were already superseded. The channel closes when ctx is
// cancelled.
func (s *Source) Subscribe(ctx context.Context, projectID string) <-chan domain.Snapshot {
	out := make(chan domain.Snapshot, 1)
	go s.run(ctx, projectID, out)
	return out
}

func (s *Source) run(ctx context.Context, projectID string, out chan domain.Snapshot) {
	defer close(out)

	if snap, ok := s.fetch(ctx, projectID); ok {
		push(out, snap)
	}

	for {
		sub := s.client.Subscribe(ctx, s.channel)
		ch := sub.Channel()
	recv:
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					break recv
				}
				var note struct {
					ProjectID string `json:"projectId"`
				}
				if err := json.Unmarshal([]byte(msg.Payload), &note); err != nil {
					s.logger.WithError(err).Error("unable to parse update notification")
					continue
				}
				if note.ProjectID != projectID {
					continue
				}
				if snap, ok := s.fetch(ctx, projectID); ok {
					push(out, snap)
				}
			}
		}
		_ = sub.Close()
		if ctx.Err() != nil {
			return
		}
		s.logger.Error("pubsub channel closed, resubscribing")
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.retryDelay):
		}
	}
}

func (s *Source) fetch(ctx context.Context, projectID string) (domain.Snapshot, bool) {
	data, err := s.client.Get(ctx, SnapshotKey(projectID)).Bytes()
	if err != nil {
		if err != redis.Nil {
			s.logger.WithError(err).Error("fetch snapshot")
		}
		return nil, false
	}
	var snap domain.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		s.logger.WithError(err).Error("decode snapshot")
		return nil, false
	}
	return snap, true
}

// SnapshotKey returns the redis key the latest snapshot for projectID is
// cached under.
func SnapshotKey(projectID string) string {
	return snapshotKeyPrefix + projectID
}

// push delivers snap, replacing any undelivered predecessor so the consumer
// always observes the newest value.
func push(out chan domain.Snapshot, snap domain.Snapshot) {
	for {
		select {
		case out <- snap:
			return
		default:
			select {
			case <-out:
			default:
			}
		}
	}
}
