package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"nst/gatekeeper/internal/model"
)

// Store keeps classification sessions in redis. Keys live twice the
// reply timeout: the expires_at field inside the value is what the
// workflow honours, the extra window lets a late reply be answered
// with a timeout before the key evicts.
type Store struct {
	client *redis.Client
	ttl    time.Duration
}

func NewStore(client *redis.Client, replyTimeout time.Duration) *Store {
	return &Store{client: client, ttl: 2 * replyTimeout}
}

func (s *Store) Get(ctx context.Context, userID, channelID string) (model.BatchSession, bool, error) {
	value, err := s.client.Get(ctx, sessionKey(userID, channelID)).Result()
	if err == redis.Nil {
		return model.BatchSession{}, false, nil
	}
	if err != nil {
		return model.BatchSession{}, false, err
	}
	var sess model.BatchSession
	if err := json.Unmarshal([]byte(value), &sess); err != nil {
		return model.BatchSession{}, false, err
	}
	return sess, true, nil
}

func (s *Store) Put(ctx context.Context, sess model.BatchSession) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, sessionKey(sess.UserID, sess.ChannelID), data, s.ttl).Err()
}

func (s *Store) Delete(ctx context.Context, userID, channelID string) error {
	return s.client.Del(ctx, sessionKey(userID, channelID)).Err()
}

// Expired returns sessions whose deadline passed but whose keys have
// not evicted yet. Used by the sweep job to notify and clean up.
func (s *Store) Expired(ctx context.Context, now time.Time) ([]model.BatchSession, error) {
	var expired []model.BatchSession
	iter := s.client.Scan(ctx, 0, "batch_session:*", 100).Iterator()
	for iter.Next(ctx) {
		value, err := s.client.Get(ctx, iter.Val()).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, err
		}
		var sess model.BatchSession
		if err := json.Unmarshal([]byte(value), &sess); err != nil {
			continue
		}
		if now.Unix() > sess.ExpiresAt {
			expired = append(expired, sess)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return expired, nil
}

func sessionKey(userID, channelID string) string {
	return fmt.Sprintf("batch_session:%s:%s", userID, channelID)
}
