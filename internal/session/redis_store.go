package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/hitoshi/mockmarket/internal/model"
	"github.com/hitoshi/mockmarket/internal/repository"
	"github.com/redis/go-redis/v9"
)

const (
	redisSessionPrefix = "mockmarket:session:"
	redisUserPrefix    = "mockmarket:user_sessions:"
	// maxMergeRetries は楽観ロックの競合時に再試行する回数。
	maxMergeRetries = 10
)

var errSessionGone = errors.New("session not found or expired")

// RedisStore はRedisを使用したセッションストア。
// セッションはJSONとして保存し、キーのTTLを有効期限に合わせる。
// ユーザーごとのトークン集合を索引として持つ。
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore はRedisStoreを生成する。
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

type redisRecord struct {
	Username  string            `json:"username"`
	CreatedAt time.Time         `json:"created_at"`
	ExpiresAt time.Time         `json:"expires_at"`
	Data      map[string]string `json:"data"`
}

func sessionKey(token string) string {
	return redisSessionPrefix + token
}

func userKey(username string) string {
	return redisUserPrefix + username
}

// Create はセッションを保存する。
func (s *RedisStore) Create(ctx context.Context, session *model.Session) error {
	ttl := session.ExpiresAt.Sub(session.CreatedAt)
	if ttl <= 0 {
		return nil
	}

	b, err := json.Marshal(redisRecord{
		Username:  session.Username,
		CreatedAt: session.CreatedAt,
		ExpiresAt: session.ExpiresAt,
		Data:      session.Data,
	})
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, sessionKey(session.Token), b, ttl)
		pipe.SAdd(ctx, userKey(session.Username), session.Token)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// FindValid は有効なセッションを取得する。
func (s *RedisStore) FindValid(ctx context.Context, token string, now time.Time) (*model.Session, error) {
	rec, err := getRecord(ctx, s.client, token)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, nil
	}

	sess := rec.toSession(token)
	if !sess.ValidAt(now) {
		return nil, nil
	}
	return sess, nil
}

// MergeData はWATCH/MULTIによる楽観ロックでキャッシュフィールドをマージする。
// 競合した場合は再読込してやり直す。
func (s *RedisStore) MergeData(ctx context.Context, token string, patch map[string]string, now time.Time) (bool, error) {
	key := sessionKey(token)

	txf := func(tx *redis.Tx) error {
		rec, err := getRecord(ctx, tx, token)
		if err != nil {
			return err
		}
		if rec == nil || !now.Before(rec.ExpiresAt) {
			return errSessionGone
		}

		if rec.Data == nil {
			rec.Data = make(map[string]string, len(patch))
		}
		maps.Copy(rec.Data, patch)

		b, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("failed to encode session: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, b, rec.ExpiresAt.Sub(now))
			return nil
		})
		return err
	}

	for range maxMergeRetries {
		err := s.client.Watch(ctx, txf, key)
		switch {
		case err == nil:
			return true, nil
		case errors.Is(err, errSessionGone):
			return false, nil
		case errors.Is(err, redis.TxFailedErr):
			continue
		default:
			return false, fmt.Errorf("failed to merge session data: %w", err)
		}
	}
	return false, fmt.Errorf("failed to merge session data: too many concurrent updates")
}

// Delete はセッションを削除する。
func (s *RedisStore) Delete(ctx context.Context, token string) error {
	rec, err := getRecord(ctx, s.client, token)
	if err != nil {
		return err
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, sessionKey(token))
		if rec != nil {
			pipe.SRem(ctx, userKey(rec.Username), token)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// DeleteByUsername は指定ユーザーの全セッションを削除する。
func (s *RedisStore) DeleteByUsername(ctx context.Context, username string) error {
	tokens, err := s.client.SMembers(ctx, userKey(username)).Result()
	if err != nil {
		return fmt.Errorf("failed to list user sessions: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, t := range tokens {
			pipe.Del(ctx, sessionKey(t))
		}
		pipe.Del(ctx, userKey(username))
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete user sessions: %w", err)
	}
	return nil
}

// DeleteExpired は索引を走査し、期限切れのセッションと
// TTLで消えたセッションの索引エントリを削除する。
// 返す件数はこの呼び出しで記録を削除したセッションの数。
func (s *RedisStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	var removed int64

	iter := s.client.Scan(ctx, 0, redisUserPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		idx := iter.Val()
		username := strings.TrimPrefix(idx, redisUserPrefix)

		tokens, err := s.client.SMembers(ctx, idx).Result()
		if err != nil {
			return removed, fmt.Errorf("failed to list user sessions: %w", err)
		}

		for _, token := range tokens {
			rec, err := getRecord(ctx, s.client, token)
			if err != nil {
				return removed, err
			}
			if rec != nil && now.Before(rec.ExpiresAt) {
				continue
			}

			_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				if rec != nil {
					pipe.Del(ctx, sessionKey(token))
				}
				pipe.SRem(ctx, userKey(username), token)
				return nil
			})
			if err != nil {
				return removed, fmt.Errorf("failed to delete expired session: %w", err)
			}
			// TTLで消えた記録の索引掃除は削除件数に含めない
			if rec != nil {
				removed++
			}
		}
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("failed to scan session index: %w", err)
	}

	return removed, nil
}

// stringGetter は*redis.Clientと*redis.Txが共通に持つGET操作。
type stringGetter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

// getRecord はセッションレコードを読み込む。存在しない場合はnilを返す。
func getRecord(ctx context.Context, c stringGetter, token string) (*redisRecord, error) {
	b, err := c.Get(ctx, sessionKey(token)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	var rec redisRecord
	if err := json.Unmarshal(b, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}
	return &rec, nil
}

func (r *redisRecord) toSession(token string) *model.Session {
	data := r.Data
	if data == nil {
		data = map[string]string{}
	}
	return &model.Session{
		Token:     token,
		Username:  r.Username,
		CreatedAt: r.CreatedAt,
		ExpiresAt: r.ExpiresAt,
		Data:      data,
	}
}

// compile-time interface check
var _ repository.SessionRepository = (*RedisStore)(nil)
