package scylla

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gocql/gocql"

	"github.com/acme/voice-interview/internal/domain"
	"github.com/acme/voice-interview/internal/repository"
)

const candidateScanLimit = 20

// schema is applied by EnsureSchema unless disabled in configuration.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS call_sessions (
		call_sid text PRIMARY KEY,
		candidate_id bigint,
		status text,
		version bigint,
		state text,
		created_at timestamp,
		updated_at timestamp
	)`,
	`CREATE TABLE IF NOT EXISTS call_sessions_by_candidate (
		candidate_id bigint,
		created_at timestamp,
		call_sid text,
		PRIMARY KEY (candidate_id, created_at, call_sid)
	) WITH CLUSTERING ORDER BY (created_at DESC, call_sid ASC)`,
}

// SessionStore persists call sessions in Scylla. The full session is kept as
// a JSON document next to the columns needed for lookups, and every update is
// a lightweight transaction conditioned on the version column.
type SessionStore struct {
	session *gocql.Session
}

// NewSessionStore creates a new session store.
func NewSessionStore(session *gocql.Session) *SessionStore {
	return &SessionStore{session: session}
}

// EnsureSchema creates the tables if they do not exist.
func (s *SessionStore) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if err := s.session.Query(stmt).WithContext(ctx).Exec(); err != nil {
			return fmt.Errorf("session store: ensure schema: %w", err)
		}
	}
	return nil
}

// Get loads a session by call SID.
func (s *SessionStore) Get(ctx context.Context, callSID string) (*domain.CallSession, error) {
	var (
		state   string
		version int64
	)
	err := s.session.Query(`SELECT state, version FROM call_sessions WHERE call_sid = ?`, callSID).
		WithContext(ctx).Scan(&state, &version)
	if err == gocql.ErrNotFound {
		return nil, fmt.Errorf("session store: %s: %w", callSID, repository.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("session store: get %s: %w", callSID, err)
	}
	return decodeSession(state, version)
}

// Create inserts a new session. An existing row for the call SID yields
// repository.ErrConflict.
func (s *SessionStore) Create(ctx context.Context, sess *domain.CallSession) error {
	sess.Version = 1
	state, err := encodeSession(sess)
	if err != nil {
		return err
	}

	existing := map[string]any{}
	applied, err := s.session.Query(`INSERT INTO call_sessions (call_sid, candidate_id, status, version, state, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?) IF NOT EXISTS`,
		sess.CallSID, sess.CandidateID, string(sess.Status), sess.Version, state, sess.CreatedAt, sess.UpdatedAt,
	).WithContext(ctx).MapScanCAS(existing)
	if err != nil {
		sess.Version = 0
		return fmt.Errorf("session store: insert %s: %w", sess.CallSID, err)
	}
	if !applied {
		sess.Version = 0
		return fmt.Errorf("session store: %s already exists: %w", sess.CallSID, repository.ErrConflict)
	}

	if err := s.session.Query(`INSERT INTO call_sessions_by_candidate (candidate_id, created_at, call_sid) VALUES (?, ?, ?)`,
		sess.CandidateID, sess.CreatedAt, sess.CallSID,
	).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("session store: index %s: %w", sess.CallSID, err)
	}
	return nil
}

// Update writes the session if nobody else has written since it was read.
func (s *SessionStore) Update(ctx context.Context, sess *domain.CallSession) error {
	expected := sess.Version
	sess.Version = expected + 1
	sess.UpdatedAt = sess.UpdatedAt.UTC()
	state, err := encodeSession(sess)
	if err != nil {
		sess.Version = expected
		return err
	}

	previous := map[string]any{}
	applied, err := s.session.Query(`UPDATE call_sessions SET status = ?, version = ?, state = ?, updated_at = ?
		WHERE call_sid = ? IF version = ?`,
		string(sess.Status), sess.Version, state, sess.UpdatedAt, sess.CallSID, expected,
	).WithContext(ctx).MapScanCAS(previous)
	if err != nil {
		sess.Version = expected
		return fmt.Errorf("session store: update %s: %w", sess.CallSID, err)
	}
	if !applied {
		sess.Version = expected
		if _, ok := previous["version"]; !ok {
			return fmt.Errorf("session store: %s: %w", sess.CallSID, repository.ErrNotFound)
		}
		return fmt.Errorf("session store: %s version %d is stale: %w", sess.CallSID, expected, repository.ErrConflict)
	}
	return nil
}

// LatestActiveForCandidate scans the candidate's most recent sessions.
func (s *SessionStore) LatestActiveForCandidate(ctx context.Context, candidateID int64) (*domain.CallSession, error) {
	iter := s.session.Query(`SELECT call_sid FROM call_sessions_by_candidate WHERE candidate_id = ? LIMIT ?`,
		candidateID, candidateScanLimit,
	).WithContext(ctx).Iter()

	var (
		callSID string
		sids    []string
	)
	for iter.Scan(&callSID) {
		sids = append(sids, callSID)
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("session store: candidate %d index: %w", candidateID, err)
	}

	for _, sid := range sids {
		sess, err := s.Get(ctx, sid)
		if err != nil {
			continue
		}
		if sess.Active() {
			return sess, nil
		}
	}
	return nil, fmt.Errorf("session store: active session for candidate %d: %w", candidateID, repository.ErrNotFound)
}

func encodeSession(sess *domain.CallSession) (string, error) {
	data, err := json.Marshal(sess)
	if err != nil {
		return "", fmt.Errorf("session store: encode %s: %w", sess.CallSID, err)
	}
	return string(data), nil
}

func decodeSession(state string, version int64) (*domain.CallSession, error) {
	sess := new(domain.CallSession)
	if err := json.Unmarshal([]byte(state), sess); err != nil {
		return nil, fmt.Errorf("session store: decode: %w", err)
	}
	sess.Version = version
	if sess.UpdatedAt.IsZero() {
		sess.UpdatedAt = time.Now().UTC()
	}
	return sess, nil
}

var _ repository.SessionStore = (*SessionStore)(nil)
