package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Houngansi/SuspenseCore-sub009/internal/config"
	"github.com/Houngansi/SuspenseCore-sub009/internal/equipment"
	"github.com/Houngansi/SuspenseCore-sub009/internal/eventbus"
	"github.com/Houngansi/SuspenseCore-sub009/internal/loadout"
	"github.com/Houngansi/SuspenseCore-sub009/internal/replication"
	"github.com/Houngansi/SuspenseCore-sub009/internal/rules"
	"github.com/Houngansi/SuspenseCore-sub009/internal/security"
	"github.com/Houngansi/SuspenseCore-sub009/internal/store"
	"github.com/Houngansi/SuspenseCore-sub009/internal/transaction"
)

// Player registry errors.
var (
	ErrUnknownPlayer = errors.New("unknown player")
	ErrPlayerExists  = errors.New("player already registered")
)

// player is the authoritative state of one connected player.
type player struct {
	id        string
	loadout   string
	container *equipment.Container
	tx        *transaction.Processor
	repl      *replication.Manager

	// mu serializes request processing for this player.
	mu        sync.Mutex
	character rules.Character

	// netReported is set once any client reports network quality; until
	// then the configured update rate is kept.
	netReported atomic.Bool
}

// Service is the authoritative equipment service.
type Service struct {
	cfg      config.Config
	loadout  *loadout.Loadout
	catalog  *equipment.MapCatalog
	rules    *rules.Coordinator
	security *security.Service
	keys     *security.KeyStorage
	bus      *eventbus.Bus
	ownsBus  bool
	store    *store.Store
	clock    equipment.Clock
	ids      equipment.IDGenerator
	queue    *opQueue

	mu      sync.RWMutex
	players map[string]*player

	ticks     atomic.Uint64
	submitted atomic.Uint64
	succeeded atomic.Uint64
	rejected  atomic.Uint64
	violated  atomic.Uint64
}

// Option configures a Service.
type Option func(*Service)

// WithClock sets the clock shared by every subsystem.
func WithClock(c equipment.Clock) Option {
	return func(s *Service) {
		s.clock = c
	}
}

// WithIDGenerator sets the generator for transaction and item instance ids.
func WithIDGenerator(g equipment.IDGenerator) Option {
	return func(s *Service) {
		s.ids = g
	}
}

// WithStore journals commits and security events to st and resumes
// players from their latest stored snapshot. The caller keeps ownership.
func WithStore(st *store.Store) Option {
	return func(s *Service) {
		s.store = st
	}
}

// WithBus publishes to b instead of a bus owned by the service.
func WithBus(b *eventbus.Bus) Option {
	return func(s *Service) {
		s.bus = b
	}
}

// WithKeys uses keys for request verification and payload signing instead
// of loading them from configuration.
func WithKeys(keys *security.KeyStorage) Option {
	return func(s *Service) {
		s.keys = keys
	}
}

// New creates a service. lo is the default loadout for AddPlayer; nil
// selects loadout.Default().
func New(cfg config.Config, lo *loadout.Loadout, opts ...Option) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("server config: %w", err)
	}
	if lo == nil {
		lo = loadout.Default()
	}

	s := &Service{
		cfg:     cfg,
		loadout: lo,
		catalog: lo.Catalog(),
		clock:   equipment.SystemClock{},
		ids:     equipment.UUIDv7Generator{},
		queue:   newOpQueue(cfg.Server.MaxQueued, cfg.Server.MaxQueuedPerPlayer),
		players: make(map[string]*player),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.bus == nil {
		s.bus = eventbus.New()
		s.ownsBus = true
	}
	if s.keys == nil {
		keys, err := loadKeys(cfg)
		if err != nil {
			return nil, err
		}
		s.keys = keys
	}

	var ruleOpts []rules.CoordinatorOption
	if len(cfg.Rules.ExcludedSlots) > 0 {
		ruleOpts = append(ruleOpts, rules.WithExcludedSlots(cfg.Rules.Excluded()))
	}
	s.rules = rules.NewDefaultCoordinator(s.catalog, cfg.Rules.Weight, ruleOpts...)

	secOpts := []security.ServiceOption{security.WithServiceClock(s.clock)}
	if s.store != nil {
		secOpts = append(secOpts, security.WithAudit(s.store.AuditSink()))
	}
	s.security = security.NewService(cfg.Security.Service(), s.keys, secOpts...)

	slog.Debug("service created",
		"loadout", lo.Name, "slots", len(lo.Slots), "items", len(lo.Items), "journal", s.store != nil)
	return s, nil
}

// loadKeys builds key storage from SUSPENSE_HMAC_KEY, then the configured
// hex key, then the key file. When signing is required and none is
// available an ephemeral key is generated.
func loadKeys(cfg config.Config) (*security.KeyStorage, error) {
	keys := security.NewKeyStorage(security.WithRotationInterval(cfg.Security.RotationInterval))
	source, err := keys.LoadFromSources(cfg.Security.Key, cfg.Security.KeyFile)
	switch {
	case err == nil:
		slog.Info("hmac key loaded", "source", source)
		return keys, nil
	case !errors.Is(err, security.ErrNoKeySource):
		return nil, fmt.Errorf("security key: %w", err)
	case !cfg.Security.EnableHMAC && !cfg.Replication.EnableHMAC:
		return keys, nil
	}
	if err := keys.GenerateNewKey(security.MinKeyLength); err != nil {
		return nil, fmt.Errorf("generate hmac key: %w", err)
	}
	slog.Warn("no hmac key configured, generated an ephemeral key", "event", "hmac_key_generated")
	return keys, nil
}

// AddPlayer registers a player equipped from lo (nil selects the service
// default). With a store attached, the player resumes from the latest
// stored snapshot when its slot layout matches. The player is registered
// as a replication client of its own equipment.
func (s *Service) AddPlayer(ctx context.Context, id string, lo *loadout.Loadout) error {
	if id == "" {
		return fmt.Errorf("add player: %w", ErrUnknownPlayer)
	}
	if lo == nil {
		lo = s.loadout
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.players[id]; ok {
		return fmt.Errorf("add player %s: %w", id, ErrPlayerExists)
	}

	for _, d := range lo.Items {
		s.catalog.Add(d)
	}

	start := lo.StartSnapshot(s.ids)
	source := "loadout"
	if s.store != nil {
		snap, err := s.store.LatestSnapshot(ctx, id)
		switch {
		case err == nil && len(snap.Slots) == len(start.Slots):
			start, source = snap, "journal"
		case err == nil:
			slog.Warn("stored snapshot ignored: slot layout changed",
				"player", id, "stored", len(snap.Slots), "loadout", len(start.Slots))
		case !errors.Is(err, store.ErrNotFound):
			return fmt.Errorf("add player %s: %w", id, err)
		}
	}

	container := equipment.NewContainer(lo.Configs(), equipment.WithClock(s.clock))
	if _, err := container.Restore(start); err != nil {
		return fmt.Errorf("add player %s: %w", id, err)
	}

	ch := lo.Character.Clone()
	ch.ID = id

	p := &player{
		id:        id,
		loadout:   lo.Name,
		container: container,
		character: ch,
	}
	p.tx = transaction.NewProcessor(id, container, s.txOptions(id)...)
	p.repl = replication.NewManager(id, container.Snapshot(), s.cfg.Replication,
		replication.WithKeys(s.keys),
		replication.WithClock(s.clock),
	)
	p.repl.RegisterClient(id, replication.Viewpoint{LineOfSight: true})
	s.players[id] = p

	slog.Info("player added", "player", id, "loadout", lo.Name, "source", source)
	return nil
}

func (s *Service) txOptions(playerID string) []transaction.Option {
	tc := s.cfg.Transaction
	opts := []transaction.Option{
		transaction.WithClock(s.clock),
		transaction.WithIDGenerator(s.ids),
		transaction.WithMaxDepth(tc.MaxDepth),
		transaction.WithTimeout(tc.Timeout),
		transaction.WithHistoryLimit(tc.HistoryLimit),
		transaction.WithListener(s.transactionListener(playerID)),
	}
	if s.store != nil {
		opts = append(opts, transaction.WithJournal(s.store))
	}
	return opts
}

// transactionListener publishes terminal transaction states.
func (s *Service) transactionListener(playerID string) transaction.Listener {
	return func(tx transaction.Transaction, _, to transaction.State) {
		var tag equipment.Tag
		switch to {
		case transaction.StateCommitted:
			tag = eventbus.TagTransactionCommitted
		case transaction.StateRolledBack:
			tag = eventbus.TagTransactionRolledBack
		case transaction.StateFailed:
			tag = eventbus.TagTransactionFailed
		default:
			return
		}
		s.publish(tag, playerID, "transaction", tx)
	}
}

// RemovePlayer unregisters a player, drops it as an observer of every
// other player and removes its bus subscriptions.
func (s *Service) RemovePlayer(id string) bool {
	s.mu.Lock()
	_, ok := s.players[id]
	delete(s.players, id)
	others := make([]*player, 0, len(s.players))
	for _, p := range s.players {
		others = append(others, p)
	}
	s.mu.Unlock()
	if !ok {
		return false
	}

	for _, p := range others {
		p.repl.UnregisterClient(id)
	}
	n := s.bus.UnsubscribeOwner(id)
	slog.Info("player removed", "player", id, "subscriptions", n)
	return true
}

func (s *Service) player(id string) (*player, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.players[id]
	return p, ok
}

func (s *Service) lookup(id string) (*player, error) {
	p, ok := s.player(id)
	if !ok {
		return nil, fmt.Errorf("player %q: %w", id, ErrUnknownPlayer)
	}
	return p, nil
}

// sortedPlayers returns the registered players ordered by id.
func (s *Service) sortedPlayers() []*player {
	s.mu.RLock()
	out := make([]*player, 0, len(s.players))
	for _, p := range s.players {
		out = append(out, p)
	}
	s.mu.RUnlock()
	slices.SortFunc(out, func(a, b *player) int {
		return strings.Compare(a.id, b.id)
	})
	return out
}

// Players returns the registered player ids, sorted.
func (s *Service) Players() []string {
	ps := s.sortedPlayers()
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = p.id
	}
	return out
}

// Snapshot returns the player's current equipment state.
func (s *Service) Snapshot(playerID string) (equipment.StateSnapshot, error) {
	p, err := s.lookup(playerID)
	if err != nil {
		return equipment.StateSnapshot{}, err
	}
	return p.container.Snapshot(), nil
}

// Character returns the character used for the player's rule checks.
func (s *Service) Character(playerID string) (rules.Character, error) {
	p, err := s.lookup(playerID)
	if err != nil {
		return rules.Character{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.character.Clone(), nil
}

// SetCharacter replaces the character used for the player's rule checks.
func (s *Service) SetCharacter(playerID string, ch rules.Character) error {
	p, err := s.lookup(playerID)
	if err != nil {
		return err
	}
	ch = ch.Clone()
	ch.ID = playerID
	p.mu.Lock()
	p.character = ch
	p.mu.Unlock()
	return nil
}

// Replication returns the player's replication manager.
func (s *Service) Replication(playerID string) (*replication.Manager, error) {
	p, err := s.lookup(playerID)
	if err != nil {
		return nil, err
	}
	return p.repl, nil
}

// History returns the player's most recent finished transactions.
func (s *Service) History(playerID string, limit int) ([]transaction.Transaction, error) {
	p, err := s.lookup(playerID)
	if err != nil {
		return nil, err
	}
	return p.tx.History(limit), nil
}

// Report re-validates the player's current equipment.
func (s *Service) Report(playerID string) (rules.Compliance, error) {
	p, err := s.lookup(playerID)
	if err != nil {
		return rules.Compliance{}, err
	}
	p.mu.Lock()
	ch := p.character.Clone()
	p.mu.Unlock()
	return s.rules.CheckCompliance(p.container.Snapshot(), ch), nil
}

// ReportText renders Report as text.
func (s *Service) ReportText(playerID string) (string, error) {
	p, err := s.lookup(playerID)
	if err != nil {
		return "", err
	}
	p.mu.Lock()
	ch := p.character.Clone()
	p.mu.Unlock()
	return s.rules.ComplianceReport(p.container.Snapshot(), ch), nil
}

// LockPlayer refuses further operations for the player until UnlockPlayer.
func (s *Service) LockPlayer(ctx context.Context, playerID string) error {
	p, err := s.lookup(playerID)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.container.Lock(ctx); err != nil {
		return fmt.Errorf("lock %s: %w", playerID, err)
	}
	p.repl.SetStateTag(p.container.State())
	return nil
}

// UnlockPlayer re-enables operations for the player.
func (s *Service) UnlockPlayer(ctx context.Context, playerID string) error {
	p, err := s.lookup(playerID)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.container.Unlock(ctx); err != nil {
		return fmt.Errorf("unlock %s: %w", playerID, err)
	}
	p.repl.SetStateTag(p.container.State())
	return nil
}

// RegisterObserver starts replicating owner's equipment to clientID.
func (s *Service) RegisterObserver(ownerID, clientID string, view replication.Viewpoint) error {
	p, err := s.lookup(ownerID)
	if err != nil {
		return err
	}
	p.repl.RegisterClient(clientID, view)
	slog.Debug("observer registered", "player", ownerID, "client", clientID)
	return nil
}

// UnregisterObserver stops replicating owner's equipment to clientID.
func (s *Service) UnregisterObserver(ownerID, clientID string) error {
	p, err := s.lookup(ownerID)
	if err != nil {
		return err
	}
	p.repl.UnregisterClient(clientID)
	return nil
}

// Acknowledge records that clientID applied version of owner's equipment.
func (s *Service) Acknowledge(ownerID, clientID string, version uint32) error {
	p, err := s.lookup(ownerID)
	if err != nil {
		return err
	}
	return p.repl.Acknowledge(clientID, version)
}

// UpdateNetwork records a client's link quality. Once any client of a
// player has reported, each tick adapts that player's replication rate.
func (s *Service) UpdateNetwork(ownerID, clientID string, ping time.Duration, packetLoss float64) error {
	p, err := s.lookup(ownerID)
	if err != nil {
		return err
	}
	if err := p.repl.UpdateClientNetwork(clientID, ping, packetLoss); err != nil {
		return err
	}
	p.netReported.Store(true)
	return nil
}

// SignRequest signs req with the service key, as a trusted client would.
func (s *Service) SignRequest(req equipment.OperationRequest) (string, error) {
	return s.security.SignRequest(req)
}

// Bus returns the event bus.
func (s *Service) Bus() *eventbus.Bus {
	return s.bus
}

// Security returns the security service.
func (s *Service) Security() *security.Service {
	return s.security
}

// Rules returns the rules coordinator.
func (s *Service) Rules() *rules.Coordinator {
	return s.rules
}

// Keys returns the key storage shared by request verification and
// payload signing.
func (s *Service) Keys() *security.KeyStorage {
	return s.keys
}

// Loadout returns the default loadout.
func (s *Service) Loadout() *loadout.Loadout {
	return s.loadout
}

// Close stops accepting queued requests and closes the bus when the
// service created it. The store is left open.
func (s *Service) Close() {
	s.queue.Close()
	if s.ownsBus {
		s.bus.Close()
	}
}

func (s *Service) publish(tag equipment.Tag, playerID, source string, payload any) {
	s.bus.Publish(eventbus.Event{
		Tag:       tag,
		PlayerID:  playerID,
		Source:    source,
		Payload:   payload,
		Timestamp: s.clock.Now(),
	})
}
