package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/hitoshi/mockmarket/internal/model"
	"github.com/hitoshi/mockmarket/internal/repository"
)

// FileStore は単一プロセス向けのセッションストア。
// 状態はメモリに保持し、pathが指定されていれば変更のたびにJSONファイルへ
// アトミックに書き出す（同一ディレクトリの一時ファイル + fsync + rename）。
// 変更は複製に対して行い、書き出しに成功してから置き換える。
// ファイルは起動時に一度だけ読み込むため、同じファイルを複数のプロセスで開いてはならない。
// pathが空の場合は純粋なインメモリストアとして動作する。
type FileStore struct {
	mu       sync.RWMutex
	path     string
	sessions map[string]*model.Session
}

type fileRecord struct {
	Token     string            `json:"token"`
	Username  string            `json:"username"`
	CreatedAt time.Time         `json:"created_at"`
	ExpiresAt time.Time         `json:"expires_at"`
	Data      map[string]string `json:"data"`
}

// NewFileStore はFileStoreを生成する。ファイルが存在すれば内容を読み込む。
func NewFileStore(path string) (*FileStore, error) {
	s := &FileStore{
		path:     path,
		sessions: make(map[string]*model.Session),
	}
	if path == "" {
		return s, nil
	}

	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session file: %w", err)
	}
	if len(b) == 0 {
		return s, nil
	}

	var records []fileRecord
	if err := json.Unmarshal(b, &records); err != nil {
		return nil, fmt.Errorf("failed to decode session file: %w", err)
	}
	for _, r := range records {
		s.sessions[r.Token] = &model.Session{
			Token:     r.Token,
			Username:  r.Username,
			CreatedAt: r.CreatedAt,
			ExpiresAt: r.ExpiresAt,
			Data:      r.Data,
		}
	}
	return s, nil
}

// NewMemoryStore はファイルに書き出さないFileStoreを生成する。
func NewMemoryStore() *FileStore {
	s, _ := NewFileStore("")
	return s
}

// Create はセッションを保存する。
func (s *FileStore) Create(_ context.Context, session *model.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := maps.Clone(s.sessions)
	next[session.Token] = cloneSession(session)
	return s.commitLocked(next)
}

// FindValid は有効なセッションのコピーを返す。
func (s *FileStore) FindValid(_ context.Context, token string, now time.Time) (*model.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[token]
	if !ok || !sess.ValidAt(now) {
		return nil, nil
	}
	return cloneSession(sess), nil
}

// MergeData は有効なセッションのキャッシュフィールドをマージする。
func (s *FileStore) MergeData(_ context.Context, token string, patch map[string]string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[token]
	if !ok || !sess.ValidAt(now) {
		return false, nil
	}
	updated := cloneSession(sess)
	maps.Copy(updated.Data, patch)

	next := maps.Clone(s.sessions)
	next[token] = updated
	if err := s.commitLocked(next); err != nil {
		return false, err
	}
	return true, nil
}

// Delete はセッションを削除する。
func (s *FileStore) Delete(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[token]; !ok {
		return nil
	}
	next := maps.Clone(s.sessions)
	delete(next, token)
	return s.commitLocked(next)
}

// DeleteByUsername は指定ユーザーの全セッションを削除する。
func (s *FileStore) DeleteByUsername(_ context.Context, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := maps.Clone(s.sessions)
	maps.DeleteFunc(next, func(_ string, sess *model.Session) bool {
		return sess.Username == username
	})
	if len(next) == len(s.sessions) {
		return nil
	}
	return s.commitLocked(next)
}

// DeleteExpired は期限切れセッションを削除し、削除件数を返す。
func (s *FileStore) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := maps.Clone(s.sessions)
	maps.DeleteFunc(next, func(_ string, sess *model.Session) bool {
		return !sess.ValidAt(now)
	})
	n := int64(len(s.sessions) - len(next))
	if n == 0 {
		return 0, nil
	}
	if err := s.commitLocked(next); err != nil {
		return 0, err
	}
	return n, nil
}

// commitLocked はnextをファイルへ書き出し、成功した場合だけメモリ上の状態を置き換える。
// 書き込みに失敗した場合、読み手から見える状態は変わらない。呼び出し側でmuを保持すること。
func (s *FileStore) commitLocked(next map[string]*model.Session) error {
	if s.path != "" {
		if err := persist(s.path, next); err != nil {
			return err
		}
	}
	s.sessions = next
	return nil
}

// persist はセッション一覧をトークン順のJSONとして書き出す。
func persist(path string, sessions map[string]*model.Session) error {
	records := make([]fileRecord, 0, len(sessions))
	for _, sess := range sessions {
		records = append(records, fileRecord{
			Token:     sess.Token,
			Username:  sess.Username,
			CreatedAt: sess.CreatedAt,
			ExpiresAt: sess.ExpiresAt,
			Data:      sess.Data,
		})
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Token < records[j].Token })

	b, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("failed to encode sessions: %w", err)
	}
	return writeFileAtomic(path, b)
}

// writeFileAtomic は一時ファイルへ書き込んでからrenameで置き換える。
// 読み手が書きかけのファイルを観測することはない。
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp session file: %w", err)
	}
	tmpName := tmp.Name()

	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}

	if _, err := tmp.Write(data); err != nil {
		cleanup()
		return fmt.Errorf("failed to write temp session file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("failed to sync temp session file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to close temp session file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to replace session file: %w", err)
	}
	return nil
}

func cloneSession(s *model.Session) *model.Session {
	c := *s
	c.Data = maps.Clone(s.Data)
	if c.Data == nil {
		c.Data = map[string]string{}
	}
	return &c
}

// compile-time interface check
var _ repository.SessionRepository = (*FileStore)(nil)
