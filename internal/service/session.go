package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/trailpay/platform/internal/cache"
	"github.com/trailpay/platform/internal/domain"
	"github.com/trailpay/platform/internal/guard"
	"github.com/trailpay/platform/internal/infra"
	"github.com/trailpay/platform/internal/progression"
	"github.com/trailpay/platform/internal/projection"
	"github.com/trailpay/platform/internal/repository"
	"github.com/trailpay/platform/internal/watch"
)

// Broadcaster pushes session updates to open event streams.
type Broadcaster interface {
	Publish(room string, event string, data interface{})
}

// SessionRoom names the broadcast room of one learner's session.
func SessionRoom(learnerID, trailID uuid.UUID) string {
	return infra.SessionRoom(learnerID.String(), trailID.String())
}

// SessionConfig carries the tunables of the session service.
type SessionConfig struct {
	TrailCacheFresh      time.Duration
	TrailCacheStale      time.Duration
	WatchSampleInterval  time.Duration
	WatchCompletePercent float64
	PlayerEventRateLimit int
}

// SessionDeps are the collaborators of the session service. Projections, Broadcaster
// and Clock are optional.
type SessionDeps struct {
	DB          repository.TxRunner
	Trails      repository.TrailRepository
	Progress    repository.ProgressRepository
	Payments    repository.PaymentRepository
	Outbox      repository.OutboxRepository
	Projections projection.Store
	Broadcaster Broadcaster
	Clock       watch.Clock
	Logger      *slog.Logger
}

type sessionKey struct {
	learner uuid.UUID
	trail   uuid.UUID
}

// session is one learner's engine on one trail. mu serialises a transition with the
// write that persists it, so outbox rows keep the order the controller emitted them in.
type session struct {
	mu       sync.Mutex
	key      sessionKey
	ctrl     *progression.Controller
	recorder *progression.Recorder
	players  map[int]*watch.RemotePlayer
}

// DefaultPlayerID names the player of clients that do not send one.
const DefaultPlayerID = "default"

// player returns the remote player playerID runs on step, attaching it when it is new
// or no longer bound. A step keeps only its latest player.
func (s *session) player(step int, playerID string) (*watch.RemotePlayer, error) {
	p, ok := s.players[step]
	if ok && p.ID() == playerID && s.ctrl.PlayerAttached(step, p) {
		return p, nil
	}
	if !ok || p.ID() != playerID {
		p = watch.NewRemotePlayer(playerID)
	}
	if err := s.ctrl.AttachPlayer(step, p); err != nil {
		return nil, err
	}
	s.players[step] = p
	return p, nil
}

// SessionService keeps one progression controller per (learner, trail) and persists
// every transition together with the analytics events it produced.
type SessionService struct {
	deps    SessionDeps
	cfg     SessionConfig
	trails  *cache.Cache[*domain.Trail]
	limiter *guard.RateLimiter
	logger  *slog.Logger

	mu       sync.Mutex
	sessions map[sessionKey]*session
}

// NewSessionService creates a SessionService.
func NewSessionService(deps SessionDeps, cfg SessionConfig) *SessionService {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Clock == nil {
		deps.Clock = watch.SystemClock()
	}
	if cfg.PlayerEventRateLimit <= 0 {
		cfg.PlayerEventRateLimit = 120
	}
	s := &SessionService{
		deps:     deps,
		cfg:      cfg,
		limiter:  guard.NewRateLimiter(cfg.PlayerEventRateLimit, time.Minute),
		logger:   deps.Logger,
		sessions: make(map[sessionKey]*session),
	}
	s.trails = cache.New(s.loadTrail, cfg.TrailCacheFresh, cfg.TrailCacheStale,
		cache.WithLogger[*domain.Trail](deps.Logger))
	s.trails.Subscribe(func(key string, trail *domain.Trail) {
		s.logger.Debug("trail refreshed", "trail_id", key, "steps", trail.StepCount())
	})
	return s
}

// Trail returns a published trail through the fresh/stale cache.
func (s *SessionService) Trail(ctx context.Context, trailID uuid.UUID) (*domain.Trail, error) {
	trail, err := s.trails.Get(ctx, trailID.String())
	if err != nil {
		var appErr *domain.AppError
		if errors.As(err, &appErr) {
			return nil, appErr
		}
		return nil, domain.ErrInternal("load trail", err)
	}
	return trail, nil
}

// InvalidateTrail drops a trail from both cache levels after it was edited.
func (s *SessionService) InvalidateTrail(ctx context.Context, trailID uuid.UUID) {
	s.trails.Invalidate(trailID.String())
	if s.deps.Projections != nil {
		if err := projection.InvalidateTrail(ctx, s.deps.Projections, trailID); err != nil {
			s.logger.Warn("invalidate trail projection", "trail_id", trailID, "error", err)
		}
	}
}

func (s *SessionService) loadTrail(ctx context.Context, key string) (*domain.Trail, error) {
	trailID, err := uuid.Parse(key)
	if err != nil {
		return nil, domain.ErrValidation("invalid trail id")
	}

	if s.deps.Projections != nil {
		p, err := projection.GetTrail(ctx, s.deps.Projections, trailID)
		if err == nil {
			return &p.Trail, nil
		}
		if !errors.Is(err, projection.ErrMiss) {
			s.logger.Warn("trail projection read failed", "trail_id", trailID, "error", err)
		}
	}

	trail, err := s.deps.Trails.FindByID(ctx, s.deps.DB.DB(), trailID)
	if err != nil {
		return nil, fmt.Errorf("find trail: %w", err)
	}
	if trail == nil {
		return nil, domain.ErrNotFound("trail", trailID.String())
	}

	if s.deps.Projections != nil {
		if err := projection.PutTrail(ctx, s.deps.Projections, trail, s.cfg.TrailCacheStale); err != nil {
			s.logger.Warn("trail projection write failed", "trail_id", trailID, "error", err)
		}
	}
	return trail, nil
}

// Open starts (or resumes) the learner's session and records a trail_view.
func (s *SessionService) Open(ctx context.Context, learnerID, trailID uuid.UUID) (progression.Snapshot, error) {
	sess, err := s.session(ctx, learnerID, trailID, true)
	if err != nil {
		return progression.Snapshot{}, err
	}
	return s.mutate(ctx, sess, func(c *progression.Controller) error {
		c.View()
		return nil
	})
}

// Snapshot returns the state of an open session.
func (s *SessionService) Snapshot(_ context.Context, learnerID, trailID uuid.UUID) (progression.Snapshot, error) {
	sess, ok := s.lookup(learnerID, trailID)
	if !ok {
		return progression.Snapshot{}, errSessionNotOpen(trailID)
	}
	return sess.ctrl.Snapshot(), nil
}

// Close discards the session and cancels its samplers. Saved progress is kept.
func (s *SessionService) Close(_ context.Context, learnerID, trailID uuid.UUID) error {
	key := sessionKey{learner: learnerID, trail: trailID}
	s.mu.Lock()
	sess, ok := s.sessions[key]
	delete(s.sessions, key)
	s.mu.Unlock()

	if !ok {
		return errSessionNotOpen(trailID)
	}
	sess.ctrl.Close()
	s.logger.Info("session closed", "learner_id", learnerID, "trail_id", trailID)
	return nil
}

// OpenSessions returns the number of live sessions.
func (s *SessionService) OpenSessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Shutdown cancels every sampler and forgets all sessions.
func (s *SessionService) Shutdown() {
	s.mu.Lock()
	sessions := s.sessions
	s.sessions = make(map[sessionKey]*session)
	s.mu.Unlock()

	for _, sess := range sessions {
		sess.ctrl.Close()
	}
	s.trails.Wait()
}

// PlayerEvent feeds a playback signal from the client player playerID into the watch
// tracker of an open session.
func (s *SessionService) PlayerEvent(ctx context.Context, learnerID, trailID uuid.UUID, playerID string, stepIndex int, ev watch.Event, durationSeconds float64) (watch.Progress, progression.Snapshot, error) {
	if res := s.limiter.Check(ctx, learnerID.String()); !res.Allowed {
		return watch.Progress{}, progression.Snapshot{}, domain.ErrRateLimited(res.Reason)
	}
	sess, ok := s.lookup(learnerID, trailID)
	if !ok {
		return watch.Progress{}, progression.Snapshot{}, errSessionNotOpen(trailID)
	}
	if playerID == "" {
		playerID = DefaultPlayerID
	}

	var progress watch.Progress
	snap, err := s.mutate(ctx, sess, func(c *progression.Controller) error {
		player, err := sess.player(stepIndex, playerID)
		if err != nil {
			return err
		}
		player.Dispatch(ev, durationSeconds)
		progress = c.Tracker().Progress(stepIndex)
		if !progress.DurationKnown {
			return domain.ErrPlayerUnavailable(stepIndex)
		}
		return nil
	})
	if domain.HasCode(err, domain.CodePlayerUnavailable) {
		// The gate falls back to the skip path; the event itself was accepted.
		s.logger.Info("player duration unknown", "learner_id", learnerID, "trail_id", trailID,
			"step", stepIndex, "player_id", playerID)
		return progress, snap, nil
	}
	return progress, snap, err
}

// Advance moves past the current step once its gate is satisfied.
func (s *SessionService) Advance(ctx context.Context, learnerID, trailID uuid.UUID) (progression.Snapshot, error) {
	return s.withOpen(ctx, learnerID, trailID, (*progression.Controller).Advance)
}

// Navigate moves the viewing position to an unlocked step.
func (s *SessionService) Navigate(ctx context.Context, learnerID, trailID uuid.UUID, target int) (progression.Snapshot, error) {
	return s.withOpen(ctx, learnerID, trailID, func(c *progression.Controller) error {
		return c.Navigate(target)
	})
}

// Restart clears progress, watch history, skip and tip state.
func (s *SessionService) Restart(ctx context.Context, learnerID, trailID uuid.UUID) (progression.Snapshot, error) {
	return s.withOpen(ctx, learnerID, trailID, func(c *progression.Controller) error {
		c.Restart()
		return nil
	})
}

// RequestSkip opens (or returns the already open) quote for skipping to target.
// A nil quote means target is already unlocked and nothing is owed.
func (s *SessionService) RequestSkip(ctx context.Context, learnerID, trailID uuid.UUID, target int) (*domain.SkipQuote, progression.Snapshot, error) {
	var quote *domain.SkipQuote
	snap, err := s.withOpen(ctx, learnerID, trailID, func(c *progression.Controller) error {
		var err error
		quote, err = c.RequestSkip(target)
		return err
	})
	return quote, snap, err
}

// CancelSkip withdraws an unpaid quote.
func (s *SessionService) CancelSkip(ctx context.Context, learnerID, trailID, quoteID uuid.UUID) (progression.Snapshot, error) {
	return s.withOpen(ctx, learnerID, trailID, func(c *progression.Controller) error {
		return c.CancelSkip(quoteID)
	})
}

// BeginSkipPayment moves the open quote into payment and returns it, or nil when
// nothing is owed any more.
func (s *SessionService) BeginSkipPayment(ctx context.Context, learnerID, trailID, quoteID uuid.UUID) (*domain.SkipQuote, progression.Snapshot, error) {
	var quote *domain.SkipQuote
	snap, err := s.withOpen(ctx, learnerID, trailID, func(c *progression.Controller) error {
		var err error
		quote, err = c.BeginSkipPayment(quoteID)
		return err
	})
	return quote, snap, err
}

// ConfirmSkip applies a skip that needs no payment.
func (s *SessionService) ConfirmSkip(ctx context.Context, learnerID, trailID, quoteID uuid.UUID) (progression.Snapshot, error) {
	return s.withOpen(ctx, learnerID, trailID, func(c *progression.Controller) error {
		_, err := c.ConfirmSkip(quoteID)
		return err
	})
}

// Tip records a donation that needs no payment, or replays an identical one.
func (s *SessionService) Tip(ctx context.Context, learnerID, trailID uuid.UUID, amount int64) (progression.Snapshot, error) {
	return s.withOpen(ctx, learnerID, trailID, func(c *progression.Controller) error {
		return c.Tip(amount)
	})
}

// BeginTip marks paymentID as the tip checkout in flight.
func (s *SessionService) BeginTip(ctx context.Context, learnerID, trailID, paymentID uuid.UUID, amount int64) (progression.Snapshot, error) {
	return s.withOpen(ctx, learnerID, trailID, func(c *progression.Controller) error {
		return c.BeginTip(paymentID, amount)
	})
}

// TipDecision returns the open session's trail status and tip decision.
func (s *SessionService) TipDecision(_ context.Context, learnerID, trailID uuid.UUID) (domain.TrailStatus, domain.TipDecision, error) {
	sess, ok := s.lookup(learnerID, trailID)
	if !ok {
		return "", domain.TipDecision{}, errSessionNotOpen(trailID)
	}
	decision, _ := sess.ctrl.TipDecision()
	return sess.ctrl.Status(), decision, nil
}

// SkipTip closes the tip decision without a donation.
func (s *SessionService) SkipTip(ctx context.Context, learnerID, trailID uuid.UUID) (progression.Snapshot, error) {
	return s.withOpen(ctx, learnerID, trailID, (*progression.Controller).SkipTip)
}

// Apply runs fn against the learner's session, loading it from storage when it is
// not open. Payment outcomes arrive this way, possibly after the learner left.
func (s *SessionService) Apply(ctx context.Context, learnerID, trailID uuid.UUID, fn func(*progression.Controller) error) (progression.Snapshot, error) {
	sess, err := s.session(ctx, learnerID, trailID, false)
	if err != nil {
		return progression.Snapshot{}, err
	}
	return s.mutate(ctx, sess, fn)
}

func (s *SessionService) withOpen(ctx context.Context, learnerID, trailID uuid.UUID, fn func(*progression.Controller) error) (progression.Snapshot, error) {
	sess, ok := s.lookup(learnerID, trailID)
	if !ok {
		return progression.Snapshot{}, errSessionNotOpen(trailID)
	}
	return s.mutate(ctx, sess, fn)
}

func (s *SessionService) lookup(learnerID, trailID uuid.UUID) (*session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionKey{learner: learnerID, trail: trailID}]
	return sess, ok
}

// session returns the live session, building it from saved progress when absent.
// Sessions built for a payment outcome (register=false) are not kept open.
func (s *SessionService) session(ctx context.Context, learnerID, trailID uuid.UUID, register bool) (*session, error) {
	if sess, ok := s.lookup(learnerID, trailID); ok {
		return sess, nil
	}

	trail, err := s.Trail(ctx, trailID)
	if err != nil {
		return nil, err
	}

	recorder := progression.NewRecorder()
	tracker := watch.NewTracker(s.deps.Clock, s.trackerOptions()...)
	ctrl, err := progression.New(trail, tracker, progression.WithEmitter(recorder), progression.WithNow(s.deps.Clock.Now))
	if err != nil {
		return nil, domain.ErrInternal("build session", err)
	}

	saved, err := s.loadProgress(ctx, learnerID, trailID)
	if err != nil {
		return nil, err
	}
	if saved != nil {
		if err := ctrl.Restore(*saved); err != nil {
			// A trail edited under a learner can invalidate saved indexes; start over.
			s.logger.Warn("saved progress discarded", "learner_id", learnerID, "trail_id", trailID, "error", err)
		}
	}
	if err := s.adoptPendingSkip(ctx, ctrl, learnerID, trailID); err != nil {
		return nil, err
	}
	if err := s.adoptPendingTip(ctx, ctrl, learnerID, trailID); err != nil {
		return nil, err
	}

	sess := &session{
		key:      sessionKey{learner: learnerID, trail: trailID},
		ctrl:     ctrl,
		recorder: recorder,
		players:  make(map[int]*watch.RemotePlayer),
	}
	if !register {
		return sess, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.sessions[sess.key]; ok {
		ctrl.Close()
		return existing, nil
	}
	s.sessions[sess.key] = sess
	s.logger.Info("session opened", "learner_id", learnerID, "trail_id", trailID)
	return sess, nil
}

func (s *SessionService) trackerOptions() []watch.Option {
	var opts []watch.Option
	if s.cfg.WatchSampleInterval > 0 {
		opts = append(opts, watch.WithSampleInterval(s.cfg.WatchSampleInterval))
	}
	if s.cfg.WatchCompletePercent > 0 {
		opts = append(opts, watch.WithCompletionPercent(s.cfg.WatchCompletePercent))
	}
	return opts
}

func (s *SessionService) loadProgress(ctx context.Context, learnerID, trailID uuid.UUID) (*domain.SavedProgress, error) {
	if s.deps.Projections != nil {
		p, err := projection.GetProgress(ctx, s.deps.Projections, learnerID, trailID)
		if err == nil {
			return &p.Saved, nil
		}
		if !errors.Is(err, projection.ErrMiss) {
			s.logger.Warn("progress projection read failed", "learner_id", learnerID, "trail_id", trailID, "error", err)
		}
	}
	saved, err := s.deps.Progress.Load(ctx, s.deps.DB.DB(), learnerID, trailID)
	if err != nil {
		return nil, domain.ErrInternal("load progress", err)
	}
	return saved, nil
}

// adoptPendingSkip puts a skip whose checkout is still open back in flight, so the
// webhook outcome finds it after a restart.
func (s *SessionService) adoptPendingSkip(ctx context.Context, ctrl *progression.Controller, learnerID, trailID uuid.UUID) error {
	pending, err := s.deps.Payments.FindPending(ctx, s.deps.DB.DB(), learnerID, trailID, domain.PaymentPurposeSkip)
	if err != nil {
		return domain.ErrInternal("find pending skip payments", err)
	}
	for _, p := range pending {
		q, ok := p.Quote()
		if !ok || q.ToIndex <= ctrl.Progress().FrontierIndex {
			continue
		}
		if err := ctrl.AdoptQuote(q); err != nil {
			s.logger.Warn("pending skip not adopted", "payment_id", p.ID, "error", err)
			continue
		}
		return nil
	}
	return nil
}

// adoptPendingTip puts an open tip checkout back in flight. Only the newest one is
// tracked; older ones still settle through their webhooks.
func (s *SessionService) adoptPendingTip(ctx context.Context, ctrl *progression.Controller, learnerID, trailID uuid.UUID) error {
	if ctrl.Status() != domain.TrailStatusCompleted {
		return nil
	}
	pending, err := s.deps.Payments.FindPending(ctx, s.deps.DB.DB(), learnerID, trailID, domain.PaymentPurposeTip)
	if err != nil {
		return domain.ErrInternal("find pending tip payments", err)
	}
	if len(pending) > 0 {
		ctrl.AdoptTip(pending[0].ID, pending[0].Amount)
	}
	return nil
}

// mutate applies fn and persists the resulting state and analytics events in one
// transaction. The error of fn is returned after any events it emitted are saved.
func (s *SessionService) mutate(ctx context.Context, sess *session, fn func(*progression.Controller) error) (progression.Snapshot, error) {
	sess.mu.Lock()
	defer sess.mu.Unlock()

	opErr := fn(sess.ctrl)
	events := sess.recorder.Drain()
	if opErr != nil && len(events) == 0 {
		return sess.ctrl.Snapshot(), opErr
	}

	saved := sess.ctrl.Saved(sess.key.learner)
	err := s.deps.DB.InTx(ctx, func(tx repository.DBTX) error {
		if err := s.deps.Progress.Save(ctx, tx, saved); err != nil {
			return fmt.Errorf("save progress: %w", err)
		}
		drafts := make([]domain.OutboxDraft, 0, len(events))
		for _, evt := range events {
			drafts = append(drafts, domain.NewAnalyticsOutboxDraft(sess.key.learner, evt))
		}
		return s.deps.Outbox.InsertAll(ctx, tx, drafts)
	})
	if err != nil {
		s.logger.Error("persist session failed",
			"learner_id", sess.key.learner, "trail_id", sess.key.trail, "events", len(events), "error", err)
		s.invalidateProgress(ctx, sess.key)
		return sess.ctrl.Snapshot(), domain.ErrInternal("persist progress", err)
	}

	if s.deps.Projections != nil {
		if err := projection.PutProgress(ctx, s.deps.Projections, saved); err != nil {
			s.logger.Warn("progress projection write failed", "learner_id", sess.key.learner, "error", err)
			s.invalidateProgress(ctx, sess.key)
		}
	}

	snap := sess.ctrl.Snapshot()
	if s.deps.Broadcaster != nil {
		s.deps.Broadcaster.Publish(SessionRoom(sess.key.learner, sess.key.trail), "snapshot", snap)
	}
	return snap, opErr
}

func (s *SessionService) invalidateProgress(ctx context.Context, key sessionKey) {
	if s.deps.Projections == nil {
		return
	}
	if err := projection.InvalidateProgress(ctx, s.deps.Projections, key.learner, key.trail); err != nil {
		s.logger.Warn("invalidate progress projection", "learner_id", key.learner, "error", err)
	}
}

func errSessionNotOpen(trailID uuid.UUID) *domain.AppError {
	return domain.ErrNotFound("session for trail", trailID.String())
}
