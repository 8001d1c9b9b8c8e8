package session

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/zju-rshub/rsagent/pkg/models"
)

// Persistence caps.
const (
	// MaxMessages bounds the persisted message count per session; the
	// first two messages always survive truncation.
	MaxMessages = 50
	// MaxContext bounds the history passed to handlers.
	MaxContext = 30
	// MaxAge is the local-cache retention window.
	MaxAge = 30 * 24 * time.Hour
	// MaxTotal bounds the number of locally cached sessions.
	MaxTotal = 100

	preservedHead = 2
)

// Store reconciles the local cache and the remote store. The remote store
// is authoritative in production mode; conflicts are last-writer-wins.
type Store struct {
	local      *LocalCache // nil when the cache is disabled
	remote     RemoteStore
	production bool
}

// NewStore creates a store. local may be nil to disable the cache.
func NewStore(local *LocalCache, remote RemoteStore, production bool) *Store {
	return &Store{
		local:      local,
		remote:     remote,
		production: production,
	}
}

// NewChatID returns a fresh conversation id: the millisecond epoch
// timestamp as a string.
func NewChatID() string {
	return strconv.FormatInt(time.Now().UnixMilli(), 10)
}

// TrimMessages enforces the MaxMessages cap, retaining the first two
// messages and the most recent tail.
func TrimMessages(msgs []models.ChatMessage) []models.ChatMessage {
	if len(msgs) <= MaxMessages {
		return msgs
	}
	trimmed := make([]models.ChatMessage, 0, MaxMessages)
	trimmed = append(trimmed, msgs[:preservedHead]...)
	trimmed = append(trimmed, msgs[len(msgs)-(MaxMessages-preservedHead):]...)
	return trimmed
}

// ContextWindow returns the history slice passed to handlers: at most
// MaxContext messages, first two plus tail.
func ContextWindow(msgs []models.ChatMessage) []models.ChatMessage {
	if len(msgs) <= MaxContext {
		return msgs
	}
	window := make([]models.ChatMessage, 0, MaxContext)
	window = append(window, msgs[:preservedHead]...)
	window = append(window, msgs[len(msgs)-(MaxContext-preservedHead):]...)
	return window
}

// Save persists a session to both backends per the deployment mode.
//
// Production: the remote write must succeed; the local mirror is
// best-effort. Local mode: the local write comes first and either backend
// succeeding counts as success.
func (s *Store) Save(ctx context.Context, token string, sess *models.ChatSession) error {
	sess.Messages = TrimMessages(sess.Messages)
	sess.UpdatedAt = time.Now()
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = sess.UpdatedAt
	}

	if s.production {
		if err := s.remote.Save(ctx, token, sess); err != nil {
			return fmt.Errorf("remote session save failed: %w", err)
		}
		s.mirrorLocal(sess)
		return nil
	}

	localErr := s.saveLocal(sess)
	remoteErr := s.remote.Save(ctx, token, sess)
	if remoteErr != nil {
		slog.Warn("Remote session mirror failed",
			"session_id", sess.SessionID, "error", remoteErr)
	}
	if localErr != nil && remoteErr != nil {
		return fmt.Errorf("session save failed on both backends: local: %v; remote: %w", localErr, remoteErr)
	}
	return nil
}

func (s *Store) saveLocal(sess *models.ChatSession) error {
	if s.local == nil {
		return ErrNotFound
	}
	if err := s.local.Save(sess); err != nil {
		return err
	}
	if removed, err := s.local.Cleanup(MaxAge, MaxTotal); err == nil && removed > 0 {
		slog.Info("Local session cache cleaned", "removed", removed)
	}
	return nil
}

func (s *Store) mirrorLocal(sess *models.ChatSession) {
	if s.local == nil {
		return
	}
	if err := s.saveLocal(sess); err != nil {
		slog.Warn("Local session mirror failed",
			"session_id", sess.SessionID, "error", err)
	}
}

// Load fetches one session. Production reads remote-first with the local
// cache as a stale fallback; local mode reads the cache first.
func (s *Store) Load(ctx context.Context, token, sessionID string) (*models.ChatSession, error) {
	if s.production {
		sess, err := s.remote.Load(ctx, token, sessionID)
		if err == nil {
			s.mirrorLocal(sess)
			return sess, nil
		}
		if s.local != nil {
			if cached, cacheErr := s.local.Load(sessionID); cacheErr == nil {
				slog.Warn("Serving stale local session after remote miss",
					"session_id", sessionID, "remote_error", err)
				return cached, nil
			}
		}
		return nil, err
	}

	if s.local != nil {
		if sess, err := s.local.Load(sessionID); err == nil {
			return sess, nil
		}
	}
	sess, err := s.remote.Load(ctx, token, sessionID)
	if err != nil {
		return nil, err
	}
	s.mirrorLocal(sess)
	return sess, nil
}

// List returns the union of local and remote sessions for the token.
// Remote-only entries are hydrated on demand (and mirrored locally).
func (s *Store) List(ctx context.Context, token string) ([]models.SessionSummary, error) {
	var summaries []models.SessionSummary
	seen := make(map[string]bool)

	if s.local != nil {
		local, err := s.local.List()
		if err != nil {
			slog.Warn("Local session listing failed", "error", err)
		} else {
			for _, sum := range local {
				summaries = append(summaries, sum)
				seen[sum.SessionID] = true
			}
		}
	}

	remoteIDs, err := s.remote.ListIDs(ctx, token)
	if err != nil {
		if len(summaries) > 0 {
			slog.Warn("Remote session listing failed", "error", err)
			return summaries, nil
		}
		return nil, err
	}

	for _, id := range remoteIDs {
		if seen[id] {
			continue
		}
		sess, err := s.remote.Load(ctx, token, id)
		if err != nil {
			slog.Warn("Failed to hydrate remote session", "session_id", id, "error", err)
			continue
		}
		s.mirrorLocal(sess)
		summaries = append(summaries, sess.Summary())
	}

	return summaries, nil
}

// MostRecent returns the token's most recently updated session, or
// ErrNotFound when none exist.
func (s *Store) MostRecent(ctx context.Context, token string) (*models.ChatSession, error) {
	summaries, err := s.List(ctx, token)
	if err != nil {
		return nil, err
	}
	if len(summaries) == 0 {
		return nil, ErrNotFound
	}

	latest := summaries[0]
	for _, sum := range summaries[1:] {
		if sum.UpdatedAt.After(latest.UpdatedAt) {
			latest = sum
		}
	}
	return s.Load(ctx, token, latest.SessionID)
}

// Delete removes a session from the remote store and the local cache.
// Delete is terminal.
func (s *Store) Delete(ctx context.Context, token, sessionID string) error {
	if err := s.remote.Delete(ctx, token, sessionID); err != nil {
		return err
	}
	if s.local != nil {
		if err := s.local.Delete(sessionID); err != nil {
			slog.Warn("Local session delete failed",
				"session_id", sessionID, "error", err)
		}
	}
	return nil
}
