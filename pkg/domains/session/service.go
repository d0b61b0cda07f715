package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chatbridge/pkg/cache"
	"github.com/chatbridge/pkg/chat"
	"github.com/chatbridge/pkg/config"
	"github.com/chatbridge/pkg/constant"
	"github.com/chatbridge/pkg/domains/ingest"
	"github.com/chatbridge/pkg/entities"
	"github.com/chatbridge/pkg/errs"
	"github.com/chatbridge/pkg/metrics"
	"github.com/chatbridge/pkg/realtime"
	"github.com/rs/zerolog"
)

// Ingestor receives every inbound message, in order per tenant.
type Ingestor interface {
	Ingest(ctx context.Context, tenantID string, msg chat.Message) (ingest.Result, error)
}

// ContactSink stores the result of a contact-list sync.
type ContactSink interface {
	UpsertContact(ctx context.Context, conv entities.Conversation) error
}

type Service interface {
	AcquireSession(ctx context.Context, tenantID string) (*Session, error)
	Teardown(ctx context.Context, tenantID string, reason CloseReason) error
	SendOutbound(ctx context.Context, tenantID, conversationRef, text string) (chat.SendReceipt, error)
	FetchProfile(ctx context.Context, tenantID, conversationRef string) (chat.Profile, error)
	ListGroupMembers(ctx context.Context, tenantID, conversationRef string) ([]string, error)
	AccountID(tenantID string) string
	State(tenantID string) State
	PairingCode(ctx context.Context, tenantID string) (cache.PendingPairing, bool, error)
	RestoreSessions(ctx context.Context) error
	Shutdown(ctx context.Context) error
}

type Deps struct {
	Provider ConnectionProvider
	Repo     Repository
	Contacts ContactSink
	Pairing  cache.PairingStore
	Echo     cache.EchoSet
	Emitter  realtime.Emitter
	// FallbackPersonaID seeds tenant settings on first connect.
	FallbackPersonaID string
}

type Manager struct {
	cfg      config.WhatsApp
	deps     Deps
	ingestor Ingestor
	registry *Registry
	log      zerolog.Logger

	base       context.Context
	cancelBase context.CancelFunc
	wg         sync.WaitGroup
	closing    atomic.Bool

	pendingMu sync.Mutex
	pending   map[string]context.CancelFunc
}

func NewManager(cfg config.WhatsApp, registry *Registry, deps Deps, log zerolog.Logger) *Manager {
	base, cancel := context.WithCancel(context.Background())
	if deps.Emitter == nil {
		deps.Emitter = realtime.Nop{}
	}
	return &Manager{
		cfg:        cfg,
		deps:       deps,
		registry:   registry,
		log:        log.With().Str("component", "session").Logger(),
		base:       base,
		cancelBase: cancel,
		pending:    map[string]context.CancelFunc{},
	}
}

// SetIngestor attaches the ingestion pipeline. Ingestion needs the manager
// to resolve account ids and profiles, so it is built after it.
func (m *Manager) SetIngestor(i Ingestor) {
	m.ingestor = i
}

// AcquireSession is idempotent: every caller for a tenant gets the same
// session and only one connect happens.
func (m *Manager) AcquireSession(ctx context.Context, tenantID string) (*Session, error) {
	if m.closing.Load() {
		return nil, fmt.Errorf("acquire %s: shutting down: %w", tenantID, errs.ErrNotReady)
	}
	m.cancelReconnect(tenantID)
	return m.registry.Acquire(tenantID, func() (*Session, error) {
		return m.start(tenantID)
	}, m.run)
}

func (m *Manager) start(tenantID string) (*Session, error) {
	// sessions outlive the request that created them
	sctx, cancel := context.WithCancel(m.base)
	conn, err := m.deps.Provider.Connect(sctx, tenantID)
	if err != nil {
		cancel()
		if errors.Is(err, errs.ErrPermanentAuth) {
			return nil, err
		}
		return nil, errs.Transient("connect "+tenantID, err)
	}

	s := &Session{
		TenantID:   tenantID,
		state:      StateUnauthenticated,
		lastActive: time.Now(),
		conn:       conn,
		ctx:        sctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	m.log.Info().Str("tenant_id", tenantID).Msg("session started")
	return s, nil
}

// run starts the event loop of a registered session.
func (m *Manager) run(s *Session) {
	m.wg.Add(1)
	go m.loop(s.ctx, s)
}

// loop drains the connection events in order. It is the only goroutine that
// handles events for the session.
func (m *Manager) loop(ctx context.Context, s *Session) {
	defer m.wg.Done()
	defer close(s.done)

	events := s.conn.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if s.stopping.Load() {
				return
			}
			if !ok {
				m.closed(s, ReasonTransient)
				return
			}
			if reason, stop := m.dispatch(ctx, s, ev); stop {
				m.closed(s, reason)
				return
			}
		}
	}
}

// dispatch handles one event. A panicking handler closes the session as
// transient so it reconnects instead of taking the tenant down.
func (m *Manager) dispatch(ctx context.Context, s *Session, ev Event) (reason CloseReason, stop bool) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error().Str("tenant_id", s.TenantID).Interface("panic", r).Msg("event handler panicked, reconnecting")
			reason, stop = ReasonTransient, true
		}
	}()

	switch e := ev.(type) {
	case PairingCodeIssued:
		m.onPairingCode(ctx, s, e.Code)
	case StateChanged:
		switch e.State {
		case StateConnected:
			m.onConnected(ctx, s, e.AccountID)
		case StateClosing:
			if e.Err != nil {
				m.log.Warn().Err(e.Err).Str("tenant_id", s.TenantID).Str("reason", string(e.Reason)).Msg("connection closed")
			}
			return e.Reason, true
		}
	case MessageReceived:
		if m.ingestor == nil {
			return "", false
		}
		if _, err := m.ingestor.Ingest(ctx, s.TenantID, e.Message); err != nil {
			m.log.Warn().Err(err).Str("tenant_id", s.TenantID).Str("external_message_id", e.Message.ExternalMessageID).Msg("ingest failed")
		}
	case ContactsChanged:
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			m.syncContacts(ctx, s, e.Contacts)
		}()
	}
	return "", false
}

func (m *Manager) onPairingCode(ctx context.Context, s *Session, code string) {
	s.mu.Lock()
	s.state = StatePairing
	s.pairingCode = code
	s.mu.Unlock()

	now := time.Now()
	pending := cache.PendingPairing{TenantID: s.TenantID, Code: code, IssuedAt: now, ExpiresAt: now.Add(m.cfg.PairingTTL)}
	if err := m.deps.Pairing.Put(ctx, pending); err != nil {
		m.log.Warn().Err(err).Str("tenant_id", s.TenantID).Msg("cache pairing code")
	}
	m.persist(ctx, s)
	m.deps.Emitter.Emit(s.TenantID, constant.EVENT_PAIRING_CODE, map[string]any{
		"code":       code,
		"expires_at": pending.ExpiresAt,
	})
}

func (m *Manager) onConnected(ctx context.Context, s *Session, accountID string) {
	s.mu.Lock()
	s.state = StateConnected
	s.accountID = accountID
	s.pairingCode = ""
	s.lastActive = time.Now()
	s.mu.Unlock()

	if err := m.deps.Pairing.Delete(ctx, s.TenantID); err != nil {
		m.log.Warn().Err(err).Str("tenant_id", s.TenantID).Msg("drop pairing code")
	}
	m.persist(ctx, s)
	if err := m.deps.Repo.EnsureSettings(ctx, s.TenantID, m.deps.FallbackPersonaID); err != nil {
		m.log.Error().Err(err).Str("tenant_id", s.TenantID).Msg("seed tenant settings")
	}
	m.log.Info().Str("tenant_id", s.TenantID).Str("account_id", accountID).Msg("session connected")
	m.deps.Emitter.Emit(s.TenantID, constant.EVENT_READY, map[string]string{"account_id": accountID})
}

// closed runs on the event loop after the connection went away on its own.
func (m *Manager) closed(s *Session, reason CloseReason) {
	if s.stopping.Load() {
		return
	}
	s.setState(StateClosing)
	m.registry.Remove(s)
	s.cancel()
	_ = s.conn.Close()

	ctx, cancel := context.WithTimeout(context.WithoutCancel(m.base), 10*time.Second)
	defer cancel()
	_ = m.deps.Pairing.Delete(ctx, s.TenantID)

	if reason == ReasonLoggedOut {
		m.loggedOut(ctx, s)
		return
	}

	s.setState(StateUnauthenticated)
	m.persist(ctx, s)
	m.emitClosed(s.TenantID, constant.REASON_CONNECTION_CLOSED, false)
	if reason == ReasonShutdown {
		m.log.Info().Str("tenant_id", s.TenantID).Msg("session shut down, waiting for an explicit connect")
		return
	}

	delay := m.cfg.ReconnectDelay
	if reason == ReasonRestartRequired {
		delay = m.cfg.RestartDelay
	}
	m.scheduleReconnect(s.TenantID, reason, delay)
}

// loggedOut purges a session the network revoked. The row stays, marked
// logged out, until the tenant unlinks or pairs again.
func (m *Manager) loggedOut(ctx context.Context, s *Session) {
	s.setState(StateLoggedOut)
	if err := m.deps.Provider.Purge(ctx, s.TenantID); err != nil {
		m.log.Error().Err(err).Str("tenant_id", s.TenantID).Msg("purge credentials")
	}
	now := time.Now()
	row := m.row(s)
	row.LoggedOutAt = &now
	if err := m.deps.Repo.SaveSession(ctx, row); err != nil {
		m.log.Error().Err(err).Str("tenant_id", s.TenantID).Msg("persist logged out session")
	}
	m.log.Warn().Str("tenant_id", s.TenantID).Err(errs.ErrPermanentAuth).Msg("session logged out, re-link required")
	m.emitClosed(s.TenantID, constant.REASON_LOGGED_OUT, true)
}

func (m *Manager) emitClosed(tenantID, reason string, clearChats bool) {
	payload := map[string]string{"reason": reason}
	m.deps.Emitter.Emit(tenantID, constant.EVENT_DISCONNECTED, payload)
	if clearChats {
		m.deps.Emitter.Emit(tenantID, constant.EVENT_CLEAR_CHATS, nil)
	}
	m.deps.Emitter.Emit(tenantID, constant.EVENT_SESSION_CLOSED, payload)
}

func (m *Manager) scheduleReconnect(tenantID string, reason CloseReason, delay time.Duration) {
	if m.closing.Load() {
		return
	}
	ctx, cancel := context.WithCancel(m.base)
	m.pendingMu.Lock()
	if prev, ok := m.pending[tenantID]; ok {
		prev()
	}
	m.pending[tenantID] = cancel
	m.pendingMu.Unlock()

	metrics.Reconnects.WithLabelValues(string(reason)).Inc()
	m.log.Info().Str("tenant_id", tenantID).Str("reason", string(reason)).Dur("delay", delay).Msg("reconnect scheduled")

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}

		m.pendingMu.Lock()
		if m.pending[tenantID] == nil || ctx.Err() != nil {
			m.pendingMu.Unlock()
			return
		}
		delete(m.pending, tenantID)
		m.pendingMu.Unlock()

		if _, err := m.AcquireSession(ctx, tenantID); err != nil {
			if errors.Is(err, errs.ErrPermanentAuth) || errors.Is(err, errs.ErrNotReady) {
				m.log.Warn().Err(err).Str("tenant_id", tenantID).Msg("reconnect abandoned")
				return
			}
			m.log.Warn().Err(err).Str("tenant_id", tenantID).Msg("reconnect failed, retrying")
			m.scheduleReconnect(tenantID, reason, delay)
		}
	}()
}

func (m *Manager) cancelReconnect(tenantID string) {
	m.pendingMu.Lock()
	defer m.pendingMu.Unlock()
	if cancel, ok := m.pending[tenantID]; ok {
		cancel()
		delete(m.pending, tenantID)
	}
}

// Teardown releases the tenant's session. Only ReasonUnlink logs out, purges
// the credential snapshot and deletes the session row; ReasonTransient
// reconnects after the fixed delay.
func (m *Manager) Teardown(ctx context.Context, tenantID string, reason CloseReason) error {
	m.cancelReconnect(tenantID)

	s, ok := m.registry.Get(tenantID)
	if ok {
		// the close events a logout provokes belong to this teardown
		s.stopping.Store(true)
		if reason == ReasonUnlink {
			if err := s.conn.Logout(ctx); err != nil {
				m.log.Warn().Err(err).Str("tenant_id", tenantID).Msg("logout before unlink")
			}
		}
		m.stop(ctx, s)
		m.cancelReconnect(tenantID)
	}

	switch reason {
	case ReasonUnlink:
		if ok {
			s.setState(StateLoggedOut)
		}
		if err := m.deps.Pairing.Delete(ctx, tenantID); err != nil {
			m.log.Warn().Err(err).Str("tenant_id", tenantID).Msg("drop pairing code")
		}
		if err := m.deps.Provider.Purge(ctx, tenantID); err != nil {
			return fmt.Errorf("purge credentials: %w", err)
		}
		if err := m.deps.Repo.DeleteSession(ctx, tenantID); err != nil {
			return fmt.Errorf("delete session: %w", err)
		}
		m.log.Info().Str("tenant_id", tenantID).Msg("session unlinked")
		m.emitClosed(tenantID, constant.REASON_LOGGED_OUT, true)
	case ReasonTransient, ReasonRestartRequired:
		if !ok {
			return nil
		}
		s.setState(StateUnauthenticated)
		m.persist(ctx, s)
		m.emitClosed(tenantID, constant.REASON_CONNECTION_CLOSED, false)
		delay := m.cfg.ReconnectDelay
		if reason == ReasonRestartRequired {
			delay = m.cfg.RestartDelay
		}
		m.scheduleReconnect(tenantID, reason, delay)
	default:
		if ok {
			s.setState(StateUnauthenticated)
		}
	}
	return nil
}

// stop ends the event loop and closes the connection without triggering the
// loop's own close handling.
func (m *Manager) stop(ctx context.Context, s *Session) {
	s.setState(StateClosing)
	s.stopping.Store(true)
	m.registry.Remove(s)
	s.cancel()
	_ = s.conn.Close()
	select {
	case <-s.done:
	case <-ctx.Done():
	}
}

// SendOutbound sends under the hard send timeout. Only ids the network
// acknowledged go into the echo set.
func (m *Manager) SendOutbound(ctx context.Context, tenantID, conversationRef, text string) (chat.SendReceipt, error) {
	s, ok := m.registry.Get(tenantID)
	if !ok || s.State() != StateConnected {
		return chat.SendReceipt{}, fmt.Errorf("send for %s: %w", tenantID, errs.ErrNotReady)
	}

	sctx, cancel := context.WithTimeout(ctx, m.cfg.SendTimeout)
	defer cancel()

	type outcome struct {
		receipt chat.SendReceipt
		err     error
	}
	done := make(chan outcome, 1)
	go func() {
		r, err := s.conn.Send(sctx, conversationRef, text)
		done <- outcome{r, err}
	}()

	var out outcome
	select {
	case out = <-done:
	case <-sctx.Done():
		return chat.SendReceipt{}, errs.Transient("send", fmt.Errorf("%w: %w", errs.ErrTimeout, sctx.Err()))
	}
	if out.err != nil {
		if errors.Is(out.err, errs.ErrTransient) || errors.Is(out.err, errs.ErrPermanentAuth) {
			return chat.SendReceipt{}, out.err
		}
		return chat.SendReceipt{}, errs.Transient("send", out.err)
	}
	if out.receipt.ExternalMessageID == "" {
		return chat.SendReceipt{}, errs.Transient("send", errors.New("no message id acknowledged"))
	}

	echoCtx, echoCancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer echoCancel()
	if err := m.deps.Echo.Add(echoCtx, tenantID, out.receipt.ExternalMessageID); err != nil {
		m.log.Warn().Err(err).Str("tenant_id", tenantID).Msg("record echo id")
	}
	s.mu.Lock()
	s.lastActive = time.Now()
	s.mu.Unlock()
	return out.receipt, nil
}

func (m *Manager) FetchProfile(ctx context.Context, tenantID, conversationRef string) (chat.Profile, error) {
	s, ok := m.registry.Get(tenantID)
	if !ok {
		return chat.Profile{}, errs.ErrNotReady
	}
	ctx, cancel := context.WithTimeout(ctx, m.cfg.ProfileLookupTimeout)
	defer cancel()
	return s.conn.FetchProfile(ctx, conversationRef)
}

func (m *Manager) ListGroupMembers(ctx context.Context, tenantID, conversationRef string) ([]string, error) {
	s, ok := m.registry.Get(tenantID)
	if !ok {
		return nil, errs.ErrNotReady
	}
	ctx, cancel := context.WithTimeout(ctx, m.cfg.ProfileLookupTimeout)
	defer cancel()
	return s.conn.ListGroupMembers(ctx, conversationRef)
}

// AccountID is the connected external account, or "" when not connected.
func (m *Manager) AccountID(tenantID string) string {
	if s, ok := m.registry.Get(tenantID); ok {
		return s.AccountID()
	}
	return ""
}

func (m *Manager) State(tenantID string) State {
	if s, ok := m.registry.Get(tenantID); ok {
		return s.State()
	}
	return StateUnauthenticated
}

func (m *Manager) PairingCode(ctx context.Context, tenantID string) (cache.PendingPairing, bool, error) {
	return m.deps.Pairing.Get(ctx, tenantID)
}

// RestoreSessions reconnects every tenant with a stored session, spaced out
// so a restart does not open all connections at once.
func (m *Manager) RestoreSessions(ctx context.Context) error {
	rows, err := m.deps.Repo.ListRestorable(ctx)
	if err != nil {
		return err
	}
	for i, row := range rows {
		if i > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(m.cfg.RestoreStagger):
			}
		}
		if _, err := m.AcquireSession(ctx, row.TenantID); err != nil {
			m.log.Warn().Err(err).Str("tenant_id", row.TenantID).Msg("restore session")
			if !errors.Is(err, errs.ErrPermanentAuth) {
				m.scheduleReconnect(row.TenantID, ReasonTransient, m.cfg.ReconnectDelay)
			}
		}
	}
	m.log.Info().Int("count", len(rows)).Msg("sessions restored")
	return nil
}

// Shutdown closes every session without touching credentials and waits for
// background work.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.closing.Store(true)
	m.pendingMu.Lock()
	for tenantID, cancel := range m.pending {
		cancel()
		delete(m.pending, tenantID)
	}
	m.pendingMu.Unlock()

	for _, s := range m.registry.All() {
		m.stop(ctx, s)
		s.setState(StateUnauthenticated)
	}
	m.cancelBase()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) row(s *Session) entities.TenantSession {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return entities.TenantSession{
		TenantID:       s.TenantID,
		State:          string(s.state),
		AccountID:      s.accountID,
		CredentialPath: m.deps.Provider.CredentialPath(s.TenantID),
		LastActiveAt:   s.lastActive,
	}
}

func (m *Manager) persist(ctx context.Context, s *Session) {
	if err := m.deps.Repo.SaveSession(ctx, m.row(s)); err != nil {
		m.log.Error().Err(err).Str("tenant_id", s.TenantID).Msg("persist session state")
	}
}

var _ Service = (*Manager)(nil)
