package store

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"clipshare/pkg/state/logger"
	"clipshare/pkg/timeutil"
)

const tokenBytes = 32

// Session binds a bearer token to a user until Expires.
type Session struct {
	Token   string    `json:"-"`
	User    string    `json:"user"`
	Created time.Time `json:"created"`
	Expires time.Time `json:"expires"`
}

func (s Session) Expired(now time.Time) bool { return !now.Before(s.Expires) }

// CreateSession issues a fresh token for user valid for ttl.
func (s *Store) CreateSession(user string, ttl time.Duration) (Session, error) {
	if user == "" {
		return Session{}, errors.New("empty user")
	}
	var raw [tokenBytes]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return Session{}, fmt.Errorf("generate token: %w", err)
	}
	now := timeutil.Now().UTC()
	sess := Session{
		Token:   base64.RawURLEncoding.EncodeToString(raw[:]),
		User:    user,
		Created: now,
		Expires: now.Add(ttl),
	}
	b, err := json.Marshal(sess)
	if err != nil {
		return Session{}, err
	}
	if s.db == nil {
		return Session{}, ErrClosed
	}
	if err := s.db.Set([]byte(genSessionKey(sess.Token)), b, s.wo); err != nil {
		return Session{}, fmt.Errorf("save session: %w", err)
	}
	return sess, nil
}

// ResolveSession looks a token up. An expired session is deleted and
// reported as ErrSessionExpired.
func (s *Store) ResolveSession(token string) (Session, error) {
	if token == "" {
		return Session{}, ErrNotFound
	}
	b, err := s.get(genSessionKey(token))
	if err != nil {
		return Session{}, err
	}
	var sess Session
	if err := json.Unmarshal(b, &sess); err != nil {
		return Session{}, fmt.Errorf("decode session: %w", err)
	}
	sess.Token = token
	if sess.Expired(timeutil.Now()) {
		if err := s.DeleteSession(token); err != nil {
			logger.Warn("expired_session_delete_failed", "error", err)
		}
		return Session{}, ErrSessionExpired
	}
	return sess, nil
}

// DeleteSession removes a token. Deleting an unknown token is not an error.
func (s *Store) DeleteSession(token string) error {
	if s.db == nil {
		return ErrClosed
	}
	return s.db.Delete([]byte(genSessionKey(token)), s.wo)
}

// PurgeExpiredSessions deletes every session past its expiry and returns
// how many were removed.
func (s *Store) PurgeExpiredSessions(now time.Time) (int, error) {
	if s.db == nil {
		return 0, ErrClosed
	}
	batch := s.db.NewBatch()
	defer batch.Close()

	n := 0
	err := s.scan(sessionPrefix, false, func(k, v []byte) (bool, error) {
		var sess Session
		if err := json.Unmarshal(v, &sess); err != nil {
			logger.Warn("session_record_corrupt", "error", err)
			return true, batch.Delete(append([]byte(nil), k...), nil)
		}
		if sess.Expired(now) {
			n++
			return true, batch.Delete(append([]byte(nil), k...), nil)
		}
		return true, nil
	})
	if err != nil {
		return 0, err
	}
	if batch.Empty() {
		return 0, nil
	}
	if err := batch.Commit(s.wo); err != nil {
		return 0, err
	}
	return n, nil
}

// CountExpiredSessions reports how many sessions PurgeExpiredSessions would
// remove at now.
func (s *Store) CountExpiredSessions(now time.Time) (int, error) {
	n := 0
	err := s.scan(sessionPrefix, false, func(_, v []byte) (bool, error) {
		var sess Session
		if err := json.Unmarshal(v, &sess); err == nil && sess.Expired(now) {
			n++
		}
		return true, nil
	})
	return n, err
}
