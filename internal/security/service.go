package security

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/Houngansi/SuspenseCore-sub009/internal/equipment"
)

// Result is the outcome of request validation.
type Result int

const (
	ResultValid Result = iota
	ResultRateLimitExceeded
	ResultIPRateLimitExceeded
	ResultReplayAttackDetected
	ResultIntegrityCheckFailed
	ResultHMACVerificationFailed
	ResultPlayerBanned
	ResultIPBanned
	ResultInvalidRequest
)

var resultNames = [...]string{
	ResultValid:                  "Valid",
	ResultRateLimitExceeded:      "RateLimitExceeded",
	ResultIPRateLimitExceeded:    "IPRateLimitExceeded",
	ResultReplayAttackDetected:   "ReplayAttackDetected",
	ResultIntegrityCheckFailed:   "IntegrityCheckFailed",
	ResultHMACVerificationFailed: "HMACVerificationFailed",
	ResultPlayerBanned:           "PlayerBanned",
	ResultIPBanned:               "IPBanned",
	ResultInvalidRequest:         "InvalidRequest",
}

func (r Result) String() string {
	if int(r) >= 0 && int(r) < len(resultNames) {
		return resultNames[r]
	}
	return "Result(" + strconv.Itoa(int(r)) + ")"
}

// MarshalText implements encoding.TextMarshaler.
func (r Result) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// OK reports whether the request may proceed.
func (r Result) OK() bool {
	return r == ResultValid
}

// Config holds security service limits.
type Config struct {
	MaxOpsPerSecond        int
	MaxOpsPerMinute        int
	MaxOpsPerMinutePerIP   int
	NonceCapacity          int
	NonceTTL               time.Duration
	SuspiciousThreshold    int
	BanDuration            time.Duration
	MaxViolationsBeforeBan int
	ViolationWindow        time.Duration
	EnableHMAC             bool
	CleanupInterval        time.Duration
	IdleTimeout            time.Duration
}

// DefaultConfig returns the production limits.
func DefaultConfig() Config {
	return Config{
		MaxOpsPerSecond:        10,
		MaxOpsPerMinute:        200,
		MaxOpsPerMinutePerIP:   500,
		NonceCapacity:          DefaultNonceCapacity,
		NonceTTL:               DefaultNonceTTL,
		SuspiciousThreshold:    10,
		BanDuration:            60 * time.Second,
		MaxViolationsBeforeBan: 3,
		ViolationWindow:        time.Minute,
		EnableHMAC:             true,
		CleanupInterval:        60 * time.Second,
		IdleTimeout:            5 * time.Minute,
	}
}

// Event is an auditable security occurrence.
type Event struct {
	Time     time.Time `json:"time"`
	Kind     string    `json:"kind"`
	PlayerID string    `json:"player_id,omitempty"`
	IP       string    `json:"ip,omitempty"`
	Detail   string    `json:"detail,omitempty"`
}

// Security event kinds.
const (
	EventReplay        = "replay_detected"
	EventHMACFailure   = "hmac_verification_failed"
	EventIntegrity     = "integrity_check_failed"
	EventRateLimited   = "rate_limited"
	EventIPRateLimited = "ip_rate_limited"
	EventPlayerBanned  = "player_banned"
	EventIPBanned      = "ip_banned"
	EventSuspicious    = "suspicious_activity"
)

// Metrics is a point-in-time copy of the service counters.
type Metrics struct {
	TotalRequests     uint64 `json:"total_requests"`
	ValidRequests     uint64 `json:"valid_requests"`
	RateLimited       uint64 `json:"rate_limited"`
	IPRateLimited     uint64 `json:"ip_rate_limited"`
	ReplaysDetected   uint64 `json:"replays_detected"`
	HMACFailures      uint64 `json:"hmac_failures"`
	IntegrityFailures uint64 `json:"integrity_failures"`
	BannedRejections  uint64 `json:"banned_rejections"`
	InvalidRequests   uint64 `json:"invalid_requests"`
	BansIssued        uint64 `json:"bans_issued"`
	ActivePlayers     int    `json:"active_players"`
	ActiveBans        int    `json:"active_bans"`
	NonceEntries      int    `json:"nonce_entries"`
}

type counters struct {
	total, valid, rateLimited, ipRateLimited atomic.Uint64
	replays, hmacFailures, integrity         atomic.Uint64
	banned, invalid, bansIssued              atomic.Uint64
}

type playerState struct {
	perSecond   *rate.Limiter
	perMinute   *rate.Limiter
	violations  []time.Time
	suspicious  int
	bannedUntil time.Time
	lastSeen    time.Time
}

type ipState struct {
	limiter     *rate.Limiter
	bannedUntil time.Time
	lastSeen    time.Time
}

// Service validates incoming operation requests.
type Service struct {
	cfg    Config
	keys   *KeyStorage
	nonces *NonceCache
	clock  equipment.Clock
	audit  func(Event)

	mu      sync.Mutex
	players map[string]*playerState
	ips     map[string]*ipState

	stats counters
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithServiceClock sets the clock used for limits, bans and nonce expiry.
func WithServiceClock(clock equipment.Clock) ServiceOption {
	return func(s *Service) {
		s.clock = clock
	}
}

// WithAudit registers a sink for security events. The sink is called
// synchronously and must not block.
func WithAudit(fn func(Event)) ServiceOption {
	return func(s *Service) {
		s.audit = fn
	}
}

// NewService creates a Service. keys may be nil when HMAC is disabled.
func NewService(cfg Config, keys *KeyStorage, opts ...ServiceOption) *Service {
	s := &Service{
		cfg:     cfg,
		keys:    keys,
		clock:   equipment.SystemClock{},
		players: make(map[string]*playerState),
		ips:     make(map[string]*ipState),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.nonces = NewNonceCache(
		WithCapacity(cfg.NonceCapacity),
		WithTTL(cfg.NonceTTL),
		WithNonceClock(s.clock),
	)
	return s
}

// Nonces exposes the replay cache.
func (s *Service) Nonces() *NonceCache {
	return s.nonces
}

// Keys returns the key storage, or nil.
func (s *Service) Keys() *KeyStorage {
	return s.keys
}

// ValidateRequest runs the security checks for req in order: request shape,
// bans, per-IP limit, per-player limits, nonce replay and request HMAC.
// On ResultValid the nonce is held as pending; the caller must ConfirmNonce
// or RejectNonce once the operation has been processed.
func (s *Service) ValidateRequest(req equipment.OperationRequest, clientIP string) Result {
	s.stats.total.Add(1)
	now := s.clock.Now()

	if req.PlayerID == "" || req.OperationID == "" || req.Nonce == 0 {
		s.stats.invalid.Add(1)
		return ResultInvalidRequest
	}

	if r := s.checkLimits(req.PlayerID, clientIP, now); r != ResultValid {
		return r
	}

	if !s.nonces.AddPending(req.Nonce) {
		s.stats.replays.Add(1)
		slog.Warn("replay detected",
			"event", EventReplay, "player", req.PlayerID, "ip", clientIP, "nonce", req.Nonce)
		s.record(Event{Time: now, Kind: EventReplay, PlayerID: req.PlayerID, IP: clientIP,
			Detail: "nonce=" + strconv.FormatUint(req.Nonce, 10)})
		s.ReportSuspicious(req.PlayerID, "replayed nonce")
		return ResultReplayAttackDetected
	}

	if s.cfg.EnableHMAC {
		if r := s.verifySignature(req, clientIP, now); r != ResultValid {
			s.nonces.Reject(req.Nonce)
			return r
		}
	}

	s.stats.valid.Add(1)
	return ResultValid
}

func (s *Service) checkLimits(playerID, clientIP string, now time.Time) Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	ps := s.playerLocked(playerID, now)
	if now.Before(ps.bannedUntil) {
		s.stats.banned.Add(1)
		return ResultPlayerBanned
	}

	if clientIP != "" {
		is := s.ipLocked(clientIP, now)
		if now.Before(is.bannedUntil) {
			s.stats.banned.Add(1)
			return ResultIPBanned
		}
		if !is.limiter.AllowN(now, 1) {
			s.stats.ipRateLimited.Add(1)
			slog.Warn("ip rate limit exceeded", "event", EventIPRateLimited, "ip", clientIP)
			s.recordLocked(Event{Time: now, Kind: EventIPRateLimited, PlayerID: playerID, IP: clientIP})
			return ResultIPRateLimitExceeded
		}
	}

	// Both buckets are consulted so a burst inside one second also drains
	// the per-minute budget.
	okSecond := ps.perSecond.AllowN(now, 1)
	okMinute := ps.perMinute.AllowN(now, 1)
	if okSecond && okMinute {
		return ResultValid
	}

	s.stats.rateLimited.Add(1)
	s.recordLocked(Event{Time: now, Kind: EventRateLimited, PlayerID: playerID, IP: clientIP})
	ps.violations = append(pruneBefore(ps.violations, now.Add(-s.cfg.ViolationWindow)), now)
	slog.Warn("rate limit exceeded",
		"event", EventRateLimited, "player", playerID, "violations", len(ps.violations))
	if s.cfg.MaxViolationsBeforeBan > 0 && len(ps.violations) >= s.cfg.MaxViolationsBeforeBan {
		s.banPlayerLocked(playerID, ps, now, 0, "repeated rate limit violations")
		ps.violations = nil
	}
	return ResultRateLimitExceeded
}

func (s *Service) verifySignature(req equipment.OperationRequest, clientIP string, now time.Time) Result {
	if s.keys == nil || !s.keys.HasKey() {
		s.stats.integrity.Add(1)
		slog.Error("hmac enabled without key", "event", EventIntegrity)
		s.record(Event{Time: now, Kind: EventIntegrity, PlayerID: req.PlayerID, IP: clientIP, Detail: "no key"})
		return ResultIntegrityCheckFailed
	}
	if req.Signature == "" || !s.keys.VerifyHMAC([]byte(CanonicalRequest(req)), req.Signature) {
		s.stats.hmacFailures.Add(1)
		slog.Warn("request signature mismatch",
			"event", EventHMACFailure, "player", req.PlayerID, "operation", req.OperationID)
		s.record(Event{Time: now, Kind: EventHMACFailure, PlayerID: req.PlayerID, IP: clientIP, Detail: req.OperationID})
		s.ReportSuspicious(req.PlayerID, "bad signature")
		return ResultHMACVerificationFailed
	}
	return ResultValid
}

// ConfirmNonce marks the request's nonce as consumed.
func (s *Service) ConfirmNonce(nonce uint64) bool {
	return s.nonces.Confirm(nonce)
}

// RejectNonce releases a pending nonce so the client may retry.
func (s *Service) RejectNonce(nonce uint64) bool {
	return s.nonces.Reject(nonce)
}

// ReportSuspicious counts a suspicious action. Reaching the configured
// threshold bans the player for BanDuration and resets the count.
func (s *Service) ReportSuspicious(playerID, reason string) {
	if playerID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	ps := s.playerLocked(playerID, now)
	ps.suspicious++
	slog.Debug("suspicious activity", "event", EventSuspicious, "player", playerID,
		"reason", reason, "count", ps.suspicious)
	s.recordLocked(Event{Time: now, Kind: EventSuspicious, PlayerID: playerID, Detail: reason})
	if s.cfg.SuspiciousThreshold > 0 && ps.suspicious >= s.cfg.SuspiciousThreshold {
		s.banPlayerLocked(playerID, ps, now, 0, reason)
		ps.suspicious = 0
	}
}

// BanPlayer bans playerID for d (BanDuration when d <= 0).
func (s *Service) BanPlayer(playerID string, d time.Duration, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()
	s.banPlayerLocked(playerID, s.playerLocked(playerID, now), now, d, reason)
}

// BanIP bans an address for d (BanDuration when d <= 0).
func (s *Service) BanIP(ip string, d time.Duration, reason string) {
	if d <= 0 {
		d = s.cfg.BanDuration
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()
	is := s.ipLocked(ip, now)
	is.bannedUntil = now.Add(d)
	s.stats.bansIssued.Add(1)
	slog.Warn("ip banned", "event", EventIPBanned, "ip", ip, "until", is.bannedUntil, "reason", reason)
	s.recordLocked(Event{Time: now, Kind: EventIPBanned, IP: ip, Detail: reason})
}

// UnbanPlayer lifts a ban early.
func (s *Service) UnbanPlayer(playerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ps, ok := s.players[playerID]; ok {
		ps.bannedUntil = time.Time{}
	}
}

// IsPlayerBanned reports whether playerID is currently banned.
func (s *Service) IsPlayerBanned(playerID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	ps, ok := s.players[playerID]
	return ok && s.clock.Now().Before(ps.bannedUntil)
}

// SignRequest returns the HMAC a client attaches to req.
func (s *Service) SignRequest(req equipment.OperationRequest) (string, error) {
	if s.keys == nil {
		return "", ErrNoKey
	}
	return s.keys.GenerateHMAC([]byte(CanonicalRequest(req)))
}

// CanonicalRequest renders the signed fields of req as
// "operationID|playerID|nonce|timestampMillis|type|sourceSlot|targetSlot|
// itemID|instanceID|quantity|durability|force|simulated".
func CanonicalRequest(req equipment.OperationRequest) string {
	fields := []string{
		req.OperationID,
		req.PlayerID,
		strconv.FormatUint(req.Nonce, 10),
		strconv.FormatInt(req.Timestamp.UnixMilli(), 10),
		req.Type.String(),
		strconv.Itoa(req.SourceSlot),
		strconv.Itoa(req.TargetSlot),
		req.Item.ItemID,
		req.Item.InstanceID,
		strconv.Itoa(req.Item.Quantity),
		strconv.FormatFloat(req.Item.Durability, 'g', -1, 64),
		strconv.FormatBool(req.Force),
		strconv.FormatBool(req.Simulated),
	}
	return strings.Join(fields, "|")
}

// CleanupStats reports what one Cleanup pass removed.
type CleanupStats struct {
	Players int
	IPs     int
	Bans    int
	Nonces  int
}

// Cleanup drops idle limiter state, lifts expired bans and purges expired
// nonces.
func (s *Service) Cleanup() CleanupStats {
	var st CleanupStats
	s.mu.Lock()
	now := s.clock.Now()
	for id, ps := range s.players {
		if !ps.bannedUntil.IsZero() && !now.Before(ps.bannedUntil) {
			ps.bannedUntil = time.Time{}
			st.Bans++
		}
		if ps.bannedUntil.IsZero() && now.Sub(ps.lastSeen) > s.cfg.IdleTimeout {
			delete(s.players, id)
			st.Players++
		}
	}
	for ip, is := range s.ips {
		if !is.bannedUntil.IsZero() && !now.Before(is.bannedUntil) {
			is.bannedUntil = time.Time{}
			st.Bans++
		}
		if is.bannedUntil.IsZero() && now.Sub(is.lastSeen) > s.cfg.IdleTimeout {
			delete(s.ips, ip)
			st.IPs++
		}
	}
	s.mu.Unlock()

	st.Nonces = s.nonces.CleanExpired()
	if st.Players+st.IPs+st.Bans+st.Nonces > 0 {
		slog.Debug("security cleanup",
			"players", st.Players, "ips", st.IPs, "bans", st.Bans, "nonces", st.Nonces)
	}
	return st
}

// Run calls Cleanup every CleanupInterval until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	interval := s.cfg.CleanupInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.Cleanup()
		}
	}
}

// Metrics returns a snapshot of the counters.
func (s *Service) Metrics() Metrics {
	m := Metrics{
		TotalRequests:     s.stats.total.Load(),
		ValidRequests:     s.stats.valid.Load(),
		RateLimited:       s.stats.rateLimited.Load(),
		IPRateLimited:     s.stats.ipRateLimited.Load(),
		ReplaysDetected:   s.stats.replays.Load(),
		HMACFailures:      s.stats.hmacFailures.Load(),
		IntegrityFailures: s.stats.integrity.Load(),
		BannedRejections:  s.stats.banned.Load(),
		InvalidRequests:   s.stats.invalid.Load(),
		BansIssued:        s.stats.bansIssued.Load(),
		NonceEntries:      s.nonces.Len(),
	}
	s.mu.Lock()
	now := s.clock.Now()
	m.ActivePlayers = len(s.players)
	for _, ps := range s.players {
		if now.Before(ps.bannedUntil) {
			m.ActiveBans++
		}
	}
	for _, is := range s.ips {
		if now.Before(is.bannedUntil) {
			m.ActiveBans++
		}
	}
	s.mu.Unlock()
	return m
}

// Caller must hold s.mu.
func (s *Service) playerLocked(id string, now time.Time) *playerState {
	ps, ok := s.players[id]
	if !ok {
		ps = &playerState{
			perSecond: rate.NewLimiter(perSecond(s.cfg.MaxOpsPerSecond), max(1, s.cfg.MaxOpsPerSecond)),
			perMinute: rate.NewLimiter(perMinute(s.cfg.MaxOpsPerMinute), max(1, s.cfg.MaxOpsPerMinute)),
		}
		s.players[id] = ps
	}
	ps.lastSeen = now
	return ps
}

// Caller must hold s.mu.
func (s *Service) ipLocked(ip string, now time.Time) *ipState {
	is, ok := s.ips[ip]
	if !ok {
		is = &ipState{
			limiter: rate.NewLimiter(perMinute(s.cfg.MaxOpsPerMinutePerIP), max(1, s.cfg.MaxOpsPerMinutePerIP)),
		}
		s.ips[ip] = is
	}
	is.lastSeen = now
	return is
}

// Caller must hold s.mu.
func (s *Service) banPlayerLocked(id string, ps *playerState, now time.Time, d time.Duration, reason string) {
	if d <= 0 {
		d = s.cfg.BanDuration
	}
	ps.bannedUntil = now.Add(d)
	s.stats.bansIssued.Add(1)
	slog.Warn("player banned", "event", EventPlayerBanned, "player", id,
		"until", ps.bannedUntil, "reason", reason)
	s.recordLocked(Event{Time: now, Kind: EventPlayerBanned, PlayerID: id, Detail: reason})
}

func (s *Service) record(e Event) {
	if s.audit != nil {
		s.audit(e)
	}
}

// recordLocked is record for callers holding s.mu. The audit sink must not
// call back into the Service.
func (s *Service) recordLocked(e Event) {
	s.record(e)
}

func perSecond(n int) rate.Limit {
	if n <= 0 {
		return rate.Inf
	}
	return rate.Limit(n)
}

func perMinute(n int) rate.Limit {
	if n <= 0 {
		return rate.Inf
	}
	return rate.Every(time.Minute / time.Duration(n))
}

func pruneBefore(ts []time.Time, cutoff time.Time) []time.Time {
	out := ts[:0]
	for _, t := range ts {
		if t.After(cutoff) {
			out = append(out, t)
		}
	}
	return out
}

// String renders the metrics on one line.
func (m Metrics) String() string {
	return fmt.Sprintf("total=%d valid=%d rate_limited=%d ip_rate_limited=%d replays=%d hmac_failures=%d bans=%d",
		m.TotalRequests, m.ValidRequests, m.RateLimited, m.IPRateLimited, m.ReplaysDetected, m.HMACFailures, m.BansIssued)
}
