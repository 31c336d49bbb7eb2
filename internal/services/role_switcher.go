package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"cryptorafts/platform/internal/constants"
	"cryptorafts/platform/internal/db/repositories"
	"cryptorafts/platform/internal/logging"
	"cryptorafts/platform/internal/metrics"
	"cryptorafts/platform/internal/models/entities"
	"cryptorafts/platform/internal/workers"
)

// TaskRunner accepts fire-and-forget background work
type TaskRunner interface {
	Submit(name string, fn workers.TaskFunc) bool
	SubmitAfter(name string, delay time.Duration, fn workers.TaskFunc) bool
}

const (
	batchSize       = 5
	historyLimit    = 100
	optimizeTopN    = 3
	recentSwitchAge = time.Hour
)

// RoleResult is the outcome of role detection or switching. Expected
// failures (unknown user, switch in progress) are reported here, not as errors.
type RoleResult struct {
	Success     bool                  `json:"success"`
	Role        constants.Role        `json:"role"`
	ProfileData *entities.UserProfile `json:"profileData,omitempty"`
	FromCache   bool                  `json:"fromCache"`
	LoadTimeMs  int64                 `json:"loadTimeMs"`
	Error       string                `json:"error,omitempty"`
}

type SwitchRecord struct {
	Role constants.Role `json:"role"`
	At   time.Time      `json:"at"`
}

type SwitchStats struct {
	TotalSwitches  int              `json:"totalSwitches"`
	RecentSwitches int              `json:"recentSwitches"`
	InProgress     []constants.Role `json:"inProgress"`
	Cache          CacheStats       `json:"cache"`
}

type BatchOperation struct {
	UserID string         `json:"userId"`
	Role   constants.Role `json:"role"`
}

type BatchItemResult struct {
	UserID  string         `json:"userId"`
	Role    constants.Role `json:"role"`
	Success bool           `json:"success"`
	Error   string         `json:"error,omitempty"`
}

type BatchResult struct {
	Success        bool              `json:"success"`
	Results        []BatchItemResult `json:"results"`
	LoadTimeMs     int64             `json:"loadTimeMs"`
	TotalProcessed int               `json:"totalProcessed"`
}

// RoleSwitcher resolves the role an identity operates as and switches
// between the roles of multi-role accounts.
type RoleSwitcher struct {
	cache   *RoleCache
	users   UserFetcher
	tasks   TaskRunner
	metrics *metrics.MetricsRegistry
	now     func() time.Time

	mu         sync.Mutex
	inProgress map[string]map[constants.Role]struct{}
	history    map[string][]SwitchRecord
}

func NewRoleSwitcher(cache *RoleCache, users UserFetcher, tasks TaskRunner, m *metrics.MetricsRegistry) *RoleSwitcher {
	return &RoleSwitcher{
		cache:      cache,
		users:      users,
		tasks:      tasks,
		metrics:    m,
		now:        time.Now,
		inProgress: make(map[string]map[constants.Role]struct{}),
		history:    make(map[string][]SwitchRecord),
	}
}

func elapsedMs(start time.Time) int64 {
	return time.Since(start).Milliseconds()
}

func (s *RoleSwitcher) observeDetect(source string, start time.Time) {
	if s.metrics != nil {
		s.metrics.RoleDetectDuration.WithLabelValues(source).Observe(time.Since(start).Seconds())
	}
}

func (s *RoleSwitcher) countSwitch(outcome string) {
	if s.metrics != nil {
		s.metrics.RoleSwitchesTotal.WithLabelValues(outcome).Inc()
	}
}

// DetectRole answers from the cache when possible and otherwise fetches the
// user document and caches it. The error return is reserved for unexpected
// store failures.
func (s *RoleSwitcher) DetectRole(ctx context.Context, user entities.AuthUser) (RoleResult, error) {
	start := time.Now()
	if user.ID == "" {
		return RoleResult{Role: constants.RoleUser, Error: constants.MsgMissingUserID, LoadTimeMs: elapsedMs(start)}, nil
	}

	if record, ok := s.cache.Read(ctx, user.ID); ok {
		profile := record.Profile()
		s.observeDetect("cache", start)
		return RoleResult{
			Success:     true,
			Role:        record.Role,
			ProfileData: &profile,
			FromCache:   true,
			LoadTimeMs:  elapsedMs(start),
		}, nil
	}

	doc, err := s.users.GetUser(ctx, user.ID)
	if err != nil {
		s.observeDetect("store", start)
		if errors.Is(err, repositories.ErrDocumentNotFound) {
			logging.Info("Role detection found no user document", "user_id", user.ID)
			return RoleResult{
				Role:       constants.RoleUser,
				Error:      constants.MsgUserDocumentNotFound,
				LoadTimeMs: elapsedMs(start),
			}, nil
		}
		return RoleResult{Role: constants.RoleUser, Error: constants.MsgRoleFetchFailed, LoadTimeMs: elapsedMs(start)},
			fmt.Errorf("detect role for %s: %w", user.ID, err)
	}

	profile := doc.Profile()
	s.cache.Write(ctx, withEmail(user, doc), profile)
	s.observeDetect("store", start)

	return RoleResult{
		Success:     true,
		Role:        profile.Role,
		ProfileData: &profile,
		LoadTimeMs:  elapsedMs(start),
	}, nil
}

// prefer the token email, fall back to the stored one
func withEmail(user entities.AuthUser, doc *entities.UserDocument) entities.AuthUser {
	if user.Email == "" {
		user.Email = doc.Email
	}
	return user
}

// begin marks role as being switched to for userID; false when already in progress
func (s *RoleSwitcher) begin(userID string, role constants.Role) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	roles, ok := s.inProgress[userID]
	if !ok {
		roles = make(map[constants.Role]struct{})
		s.inProgress[userID] = roles
	}
	if _, busy := roles[role]; busy {
		return false
	}
	roles[role] = struct{}{}
	return true
}

func (s *RoleSwitcher) finish(userID string, role constants.Role) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inProgress[userID], role)
	if len(s.inProgress[userID]) == 0 {
		delete(s.inProgress, userID)
	}
}

func (s *RoleSwitcher) recordSwitch(userID string, role constants.Role) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := append(s.history[userID], SwitchRecord{Role: role, At: s.now()})
	if len(h) > historyLimit {
		h = h[len(h)-historyLimit:]
	}
	s.history[userID] = h
}

// SwitchTo moves user onto role. A second switch to the same role while the
// first is still running is rejected without touching the store.
func (s *RoleSwitcher) SwitchTo(ctx context.Context, role constants.Role, user entities.AuthUser) (RoleResult, error) {
	start := time.Now()
	role = constants.NormalizeRole(string(role))

	if user.ID == "" {
		return RoleResult{Role: role, Error: constants.MsgMissingUserID, LoadTimeMs: elapsedMs(start)}, nil
	}
	if !role.IsKnown() {
		s.countSwitch("rejected")
		return RoleResult{Role: role, Error: constants.MsgUnknownRole, LoadTimeMs: elapsedMs(start)}, nil
	}
	if !s.begin(user.ID, role) {
		s.countSwitch("in_progress")
		return RoleResult{Role: role, Error: constants.MsgRoleSwitchInProgress, LoadTimeMs: elapsedMs(start)}, nil
	}
	defer s.finish(user.ID, role)

	if result, ok := s.fastSwitch(ctx, role, user, start); ok {
		return result, nil
	}

	doc, err := s.users.GetUser(ctx, user.ID)
	if err != nil {
		if errors.Is(err, repositories.ErrDocumentNotFound) {
			s.countSwitch("not_found")
			return RoleResult{Role: constants.RoleUser, Error: constants.MsgUserDocumentNotFound, LoadTimeMs: elapsedMs(start)}, nil
		}
		s.countSwitch("error")
		return RoleResult{Role: role, Error: constants.MsgRoleFetchFailed, LoadTimeMs: elapsedMs(start)},
			fmt.Errorf("switch %s to %s: %w", user.ID, role, err)
	}

	profile := doc.Profile()
	if !profile.CanActAs(role) {
		s.countSwitch("rejected")
		return RoleResult{Role: profile.Role, Error: constants.MsgRoleNotAssigned, LoadTimeMs: elapsedMs(start)}, nil
	}
	profile.Role = role
	s.cache.Write(ctx, withEmail(user, doc), profile)
	s.preloadOthers(role)
	s.recordSwitch(user.ID, role)
	s.countSwitch("success")

	logging.Info("Role switched", "user_id", user.ID, "role", role, "from_cache", false)
	return RoleResult{
		Success:     true,
		Role:        role,
		ProfileData: &profile,
		LoadTimeMs:  elapsedMs(start),
	}, nil
}

// fastSwitch serves a switch from a preloaded role when the cached profile
// already proves the user holds it.
func (s *RoleSwitcher) fastSwitch(ctx context.Context, role constants.Role, user entities.AuthUser, start time.Time) (RoleResult, bool) {
	if _, ok := s.cache.GetPreloaded(ctx, role); !ok {
		return RoleResult{}, false
	}
	record, ok := s.cache.Read(ctx, user.ID)
	if !ok {
		return RoleResult{}, false
	}
	profile := record.Profile()
	if !profile.CanActAs(role) {
		return RoleResult{}, false
	}

	profile.Role = role
	if user.Email == "" {
		user.Email = record.Email
	}
	s.cache.Write(ctx, user, profile)
	s.recordSwitch(user.ID, role)
	s.countSwitch("success")

	logging.Info("Role switched", "user_id", user.ID, "role", role, "from_cache", true)
	return RoleResult{
		Success:     true,
		Role:        role,
		ProfileData: &profile,
		FromCache:   true,
		LoadTimeMs:  elapsedMs(start),
	}, true
}

// preloadOthers warms every switchable role except current in the background
func (s *RoleSwitcher) preloadOthers(current constants.Role) {
	others := make([]constants.Role, 0, len(constants.SwitchableRoles))
	for _, r := range constants.SwitchableRoles {
		if r != current {
			others = append(others, r)
		}
	}
	s.preloadInBackground("preload_roles", others)
}

func (s *RoleSwitcher) preloadInBackground(name string, roles []constants.Role) {
	if s.tasks == nil || len(roles) == 0 {
		return
	}
	s.tasks.Submit(name, func(ctx context.Context) error {
		for _, r := range roles {
			s.cache.Preload(ctx, r)
		}
		return nil
	})
}

// GetStats reports switch counters of userID for diagnostics
func (s *RoleSwitcher) GetStats(userID string) SwitchStats {
	s.mu.Lock()
	history := s.history[userID]
	cutoff := s.now().Add(-recentSwitchAge)
	recent := 0
	for _, h := range history {
		if h.At.After(cutoff) {
			recent++
		}
	}
	inProgress := make([]constants.Role, 0, len(s.inProgress[userID]))
	for r := range s.inProgress[userID] {
		inProgress = append(inProgress, r)
	}
	s.mu.Unlock()

	sort.Slice(inProgress, func(i, j int) bool { return inProgress[i] < inProgress[j] })
	return SwitchStats{
		TotalSwitches:  len(history),
		RecentSwitches: recent,
		InProgress:     inProgress,
		Cache:          s.cache.Stats(),
	}
}

// History returns a copy of the switch history of userID, oldest first
func (s *RoleSwitcher) History(userID string) []SwitchRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]SwitchRecord(nil), s.history[userID]...)
}

// OptimizeForUser preloads the roles user switches to most often and returns them
func (s *RoleSwitcher) OptimizeForUser(user entities.AuthUser) []constants.Role {
	history := s.History(user.ID)

	counts := make(map[constants.Role]int)
	last := make(map[constants.Role]time.Time)
	for _, h := range history {
		counts[h.Role]++
		last[h.Role] = h.At
	}

	ranked := make([]constants.Role, 0, len(counts))
	for r := range counts {
		if r.IsAssigned() {
			ranked = append(ranked, r)
		}
	}
	sort.Slice(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if counts[a] != counts[b] {
			return counts[a] > counts[b]
		}
		if !last[a].Equal(last[b]) {
			return last[a].After(last[b])
		}
		return a < b
	})
	if len(ranked) > optimizeTopN {
		ranked = ranked[:optimizeTopN]
	}

	s.preloadInBackground("optimize_roles", ranked)
	logging.Debug("Optimized role preloads", "user_id", user.ID, "roles", ranked)
	return ranked
}

// BatchProcess fetches and caches users in fixed-size batches. Item failures
// are reported per item and never abort the batch.
func (s *RoleSwitcher) BatchProcess(ctx context.Context, ops []BatchOperation) BatchResult {
	start := time.Now()
	results := make([]BatchItemResult, len(ops))

	for offset := 0; offset < len(ops); offset += batchSize {
		end := offset + batchSize
		if end > len(ops) {
			end = len(ops)
		}

		g, gctx := errgroup.WithContext(ctx)
		for i := offset; i < end; i++ {
			g.Go(func() error {
				results[i] = s.processOne(gctx, ops[i])
				return nil
			})
		}
		_ = g.Wait()
	}

	failed := 0
	for _, r := range results {
		if !r.Success {
			failed++
		}
	}
	logging.Info("Role batch processed", "total", len(ops), "failed", failed)

	return BatchResult{
		Success:        true,
		Results:        results,
		LoadTimeMs:     elapsedMs(start),
		TotalProcessed: len(ops),
	}
}

func (s *RoleSwitcher) processOne(ctx context.Context, op BatchOperation) BatchItemResult {
	result := BatchItemResult{UserID: op.UserID, Role: op.Role}
	if op.UserID == "" {
		result.Error = constants.MsgMissingUserID
		return result
	}
	target := constants.NormalizeRole(string(op.Role))
	if op.Role != "" && !target.IsKnown() {
		result.Error = constants.MsgUnknownRole
		return result
	}

	doc, err := s.users.GetUser(ctx, op.UserID)
	if err != nil {
		if errors.Is(err, repositories.ErrDocumentNotFound) {
			result.Error = constants.MsgUserDocumentNotFound
		} else {
			result.Error = err.Error()
		}
		return result
	}

	profile := doc.Profile()
	if op.Role != "" {
		if !profile.CanActAs(target) {
			result.Error = constants.MsgRoleNotAssigned
			return result
		}
		profile.Role = target
	}
	s.cache.Write(ctx, entities.AuthUser{ID: op.UserID, Email: doc.Email}, profile)
	result.Role = profile.Role
	result.Success = true
	return result
}
