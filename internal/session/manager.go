// Package session orchestrates conversation memory: durable turns, a lazily
// maintained digest of older history, and the merged context handed to an
// agent runtime before each model call.
package session

import (
	"context"
	"fmt"
	"time"

	"github.com/felixgeelhaar/recall/internal/guard"
	"github.com/felixgeelhaar/recall/internal/observe"
	"github.com/felixgeelhaar/recall/internal/provider"
	"github.com/felixgeelhaar/recall/internal/retention"
	"github.com/felixgeelhaar/recall/internal/store"
	"github.com/felixgeelhaar/recall/internal/summarize"
	"github.com/felixgeelhaar/recall/internal/token"
)

// Context is what a caller feeds into its prompt: the digest of older
// history (if any) followed by the verbatim tail.
type Context struct {
	DigestContent string
	HasDigest     bool
	VerbatimTurns []store.Turn
}

// Manager ties storage, retention and summarization together. Construct one
// per store at startup and share it; all methods are safe for concurrent use.
type Manager struct {
	store      store.Storage
	summarizer summarize.Summarizer
	policy     retention.Policy
	maxDigest  int
	counter    token.Counter
	guard      *guard.Guard
	embedder   provider.Provider
	obs        *observe.Observer
	events     *EventBus
	locks      *sessionLocks
}

// Option configures optional Manager collaborators.
type Option func(*Manager)

// WithObserver routes logs and spans through obs.
func WithObserver(obs *observe.Observer) Option {
	return func(m *Manager) { m.obs = obs }
}

// WithGuard screens turns on the write path. Blocked turns are reported via
// the Outcome return of AddTurn, never stored.
func WithGuard(g *guard.Guard) Option {
	return func(m *Manager) { m.guard = g }
}

// WithCounter overrides the token estimator used for stored turns.
func WithCounter(c token.Counter) Option {
	return func(m *Manager) { m.counter = c }
}

// WithEmbedder enables the long-term memory archive: cleared sessions leave
// behind an embedded digest that Search can find later.
func WithEmbedder(p provider.Provider) Option {
	return func(m *Manager) { m.embedder = p }
}

// WithEvents publishes lifecycle events (appends, digest refreshes, clears)
// to bus. Handlers run synchronously; keep them fast.
func WithEvents(bus *EventBus) Option {
	return func(m *Manager) { m.events = bus }
}

func NewManager(s store.Storage, sum summarize.Summarizer, cfg Config, opts ...Option) (*Manager, error) {
	if s == nil {
		return nil, fmt.Errorf("storage is required")
	}
	if sum == nil {
		return nil, fmt.Errorf("summarizer is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	m := &Manager{
		store:      s,
		summarizer: sum,
		policy:     cfg.policy(),
		maxDigest:  cfg.MaxDigestTokens,
		counter:    token.HeuristicCounter{},
		obs:        observe.Nop(),
		locks:      newSessionLocks(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// AddTurn persists one turn. Summarization never runs here; it is evaluated
// lazily on the next GetContext so writes stay fast. When a guard is
// configured and blocks the turn, the Outcome carries the reason and no
// error is returned; callers must check Outcome.Allowed.
func (m *Manager) AddTurn(ctx context.Context, sessionID string, role store.Role, content string) (store.Turn, guard.Outcome, error) {
	_, span := m.obs.StartSpan(ctx, "session.AddTurn")
	defer span.End()

	if m.guard != nil {
		if out := m.guard.CheckTurn(sessionID, role, content); !out.Allowed {
			m.obs.Session(sessionID).Warn().
				Str("rule", out.Rule).
				Str("reason", out.Reason).
				Msg("turn blocked by guard")
			m.events.publish(EventTurnBlocked, sessionID, map[string]interface{}{"rule": out.Rule})
			return store.Turn{}, out, nil
		}
	}

	state := m.locks.get(sessionID)
	state.mu.Lock()
	defer state.mu.Unlock()

	turn, err := m.store.AppendTurn(sessionID, role, content, m.counter.Count(content))
	if err != nil {
		return store.Turn{}, guard.Outcome{}, fmt.Errorf("failed to append turn: %w", err)
	}

	m.obs.Session(sessionID).Debug().
		Int64("seq", turn.Seq).
		Str("role", string(role)).
		Msg("turn appended")
	m.events.publish(EventTurnAppended, sessionID, map[string]interface{}{"seq": turn.Seq})
	return turn, guard.Outcome{Allowed: true}, nil
}

// GetContext returns the digest plus verbatim tail for a session, running
// summarization first if the retention policy says it is due. Summarizer
// failures degrade to the previous digest and a larger tail; storage
// failures propagate.
func (m *Manager) GetContext(ctx context.Context, sessionID string) (Context, error) {
	ctx, span := m.obs.StartSpan(ctx, "session.GetContext")
	defer span.End()

	state := m.locks.get(sessionID)

	// Snapshot turns, digest and the clear generation together.
	state.mu.Lock()
	turns, err := m.store.GetTurns(sessionID, 0)
	if err != nil {
		state.mu.Unlock()
		return Context{}, fmt.Errorf("failed to read turns: %w", err)
	}
	digest, err := m.store.GetDigest(sessionID)
	if err != nil {
		state.mu.Unlock()
		return Context{}, fmt.Errorf("failed to read digest: %w", err)
	}
	gen := state.gen
	decision := m.policy.Evaluate(turns, digest)
	state.mu.Unlock()

	if decision.Due {
		// The model call runs outside the lock so concurrent appends to
		// this session are never stalled behind it.
		digest = m.refreshDigest(ctx, sessionID, digest, gen, decision.Candidates)
	}

	tail := retention.Tail(turns, digest)
	result := Context{VerbatimTurns: tail}
	if digest != nil {
		result.DigestContent = digest.Content
		result.HasDigest = true
	}

	m.obs.Session(sessionID).Debug().
		Int("verbatim", len(tail)).
		Msg("context assembled")
	return result, nil
}

// refreshDigest summarizes candidates and persists the result, unless the
// world moved underneath the model call. Returns whichever digest should be
// used for the response; never returns an error -- degradation is the
// contract here.
func (m *Manager) refreshDigest(ctx context.Context, sessionID string, prior *store.Digest, gen uint64, candidates []store.Turn) *store.Digest {
	ctx, span := m.obs.StartSpan(ctx, "session.Summarize")
	defer span.End()

	priorContent := ""
	priorCovers := int64(0)
	if prior != nil {
		priorContent = prior.Content
		priorCovers = prior.CoversThrough
	}

	content, err := m.summarizer.Summarize(ctx, priorContent, candidates)
	if err != nil {
		m.obs.Session(sessionID).Warn().Err(err).Msg("summarization failed, serving stale digest")
		m.events.publish(EventDigestFailed, sessionID, nil)
		return prior
	}

	next := store.Digest{
		SessionID:     sessionID,
		CoversThrough: candidates[len(candidates)-1].Seq,
		Content:       content,
		TokenCount:    m.counter.Count(content),
		GeneratedAt:   time.Now().UTC(),
	}

	state := m.locks.get(sessionID)
	state.mu.Lock()
	defer state.mu.Unlock()

	// A clear during the model call invalidates the result even when the
	// session was refilled and the seq/coverage numbers line up again: the
	// turns the summary describes no longer exist.
	if state.gen != gen {
		m.obs.Session(sessionID).Debug().Msg("session cleared during summarization, discarding result")
		m.events.publish(EventDigestStale, sessionID, nil)
		current, err := m.store.GetDigest(sessionID)
		if err != nil {
			return nil
		}
		return current
	}

	// Optimistic check: someone may have cleared the session or advanced
	// the digest while the model call was in flight. The stored state wins;
	// our result is discarded as stale.
	current, err := m.store.GetDigest(sessionID)
	if err != nil {
		m.obs.Session(sessionID).Warn().Err(err).Msg("digest re-read failed, discarding summarization")
		return prior
	}
	currentCovers := int64(0)
	if current != nil {
		currentCovers = current.CoversThrough
	}
	if currentCovers != priorCovers {
		m.obs.Session(sessionID).Debug().
			Int64("expected", priorCovers).
			Int64("found", currentCovers).
			Msg("digest moved during summarization, discarding result")
		m.events.publish(EventDigestStale, sessionID, nil)
		return current
	}

	turns, err := m.store.GetTurns(sessionID, 0)
	if err != nil || len(turns) == 0 || turns[len(turns)-1].Seq < next.CoversThrough {
		// Session cleared (or renumbered) underneath us.
		m.obs.Session(sessionID).Debug().Msg("session changed during summarization, discarding result")
		m.events.publish(EventDigestStale, sessionID, nil)
		return current
	}

	if err := m.store.SetDigest(sessionID, next); err != nil {
		m.obs.Session(sessionID).Warn().Err(err).Msg("failed to persist digest, serving stale digest")
		return prior
	}

	m.obs.Session(sessionID).Info().
		Int64("covers_through", next.CoversThrough).
		Int("tokens", next.TokenCount).
		Msg("digest refreshed")
	m.events.publish(EventDigestRefreshed, sessionID, map[string]interface{}{"covers_through": next.CoversThrough})
	return &next
}

// Clear deletes all turns and the digest for a session. With archive set
// (and an embedder configured), the final digest is written to long-term
// memory first; archive failures are logged and never block the clear.
func (m *Manager) Clear(ctx context.Context, sessionID string, archive bool) error {
	ctx, span := m.obs.StartSpan(ctx, "session.Clear")
	defer span.End()

	state := m.locks.get(sessionID)
	state.mu.Lock()
	defer state.mu.Unlock()

	if archive {
		m.archiveLocked(ctx, sessionID)
	}

	if err := m.store.ClearSession(sessionID); err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}
	state.gen++
	m.obs.Session(sessionID).Info().Msg("session cleared")
	m.events.publish(EventSessionCleared, sessionID, nil)
	return nil
}

func (m *Manager) archiveLocked(ctx context.Context, sessionID string) {
	if m.embedder == nil {
		m.obs.Session(sessionID).Warn().Msg("archive requested without embedder, skipping")
		return
	}

	content := ""
	if digest, err := m.store.GetDigest(sessionID); err == nil && digest != nil {
		content = digest.Content
	}
	if content == "" {
		turns, err := m.store.GetTurns(sessionID, 0)
		if err != nil || len(turns) == 0 {
			return
		}
		summary, err := m.summarizer.Summarize(ctx, "", turns)
		if err != nil {
			m.obs.Session(sessionID).Warn().Err(err).Msg("archive summarization failed, skipping")
			return
		}
		content = summary
	}

	vec, err := m.embedder.Embed(ctx, content)
	if err != nil {
		m.obs.Session(sessionID).Warn().Err(err).Msg("archive embedding failed, skipping")
		return
	}
	meta := map[string]string{"kind": "session_digest"}
	if err := m.store.AddMemory(sessionID, content, vec, meta); err != nil {
		m.obs.Session(sessionID).Warn().Err(err).Msg("archive write failed, skipping")
		return
	}
	m.obs.Session(sessionID).Info().Msg("session digest archived")
	m.events.publish(EventMemoryArchived, sessionID, nil)
}

// Search finds archived session digests semantically close to query.
// Requires an embedder.
func (m *Manager) Search(ctx context.Context, query string, limit int) ([]store.MemoryItem, error) {
	ctx, span := m.obs.StartSpan(ctx, "session.Search")
	defer span.End()

	if m.embedder == nil {
		return nil, fmt.Errorf("search requires an embedder")
	}
	vec, err := m.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	return m.store.SearchMemory(vec, limit)
}

// Sessions lists all known sessions.
func (m *Manager) Sessions() ([]store.Session, error) {
	return m.store.ListSessions()
}

// Turns returns the full verbatim history of a session, digest or not.
func (m *Manager) Turns(sessionID string) ([]store.Turn, error) {
	return m.store.GetTurns(sessionID, 0)
}

// Digest returns the current digest, or nil.
func (m *Manager) Digest(sessionID string) (*store.Digest, error) {
	return m.store.GetDigest(sessionID)
}
