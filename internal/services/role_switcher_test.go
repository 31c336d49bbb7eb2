package services

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"cryptorafts/platform/internal/common"
	"cryptorafts/platform/internal/constants"
	"cryptorafts/platform/internal/db/repositories"
	"cryptorafts/platform/internal/metrics"
	"cryptorafts/platform/internal/models/entities"
)

// fakeUsers is an in-memory UserFetcher that counts calls and can block them
type fakeUsers struct {
	mu        sync.Mutex
	users     map[string]*entities.UserDocument
	err       error
	calls     int
	active    int
	maxActive int

	entered chan struct{}
	release chan struct{}
}

func newFakeUsers(docs ...*entities.UserDocument) *fakeUsers {
	f := &fakeUsers{users: make(map[string]*entities.UserDocument)}
	for _, d := range docs {
		f.users[d.ID] = d
	}
	return f
}

func (f *fakeUsers) GetUser(ctx context.Context, userID string) (*entities.UserDocument, error) {
	f.mu.Lock()
	f.calls++
	f.active++
	if f.active > f.maxActive {
		f.maxActive = f.active
	}
	doc, ok := f.users[userID]
	err := f.err
	entered, release := f.entered, f.release
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.active--
		f.mu.Unlock()
	}()

	if entered != nil {
		entered <- struct{}{}
	}
	if release != nil {
		<-release
	} else {
		time.Sleep(time.Millisecond)
	}

	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("users/%s: %w", userID, repositories.ErrDocumentNotFound)
	}
	copied := *doc
	return &copied, nil
}

func (f *fakeUsers) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func multiRoleUser(id string) *entities.UserDocument {
	return &entities.UserDocument{
		ID:               id,
		Email:            id + "@rafts.io",
		Role:             "vc",
		Roles:            []string{"founder", "exchange", "admin"},
		ProfileCompleted: true,
		OrgID:            "org-" + id,
	}
}

type switcherFixture struct {
	switcher *RoleSwitcher
	cache    *RoleCache
	users    *fakeUsers
	tasks    *manualTasks
	clock    *fakeClock
	metrics  *metrics.MetricsRegistry
}

func newSwitcherFixture(t *testing.T, docs ...*entities.UserDocument) *switcherFixture {
	t.Helper()
	clock := newFakeClock()
	cache, _ := newTestCache(t, clock)
	users := newFakeUsers(docs...)
	tasks := &manualTasks{}
	m := metrics.NewMetricsRegistry(prometheus.NewRegistry())
	s := NewRoleSwitcher(cache, users, tasks, m)
	s.now = clock.Now
	return &switcherFixture{switcher: s, cache: cache, users: users, tasks: tasks, clock: clock, metrics: m}
}

func TestRoleSwitcher_DetectRole(t *testing.T) {
	f := newSwitcherFixture(t, multiRoleUser("u1"))
	ctx := context.Background()
	user := entities.AuthUser{ID: "u1"}

	first, err := f.switcher.DetectRole(ctx, user)
	if err != nil {
		t.Fatalf("DetectRole() error = %v", err)
	}
	if !first.Success || first.Role != constants.RoleVC || first.FromCache {
		t.Errorf("first DetectRole() = %+v", first)
	}

	second, err := f.switcher.DetectRole(ctx, user)
	if err != nil {
		t.Fatalf("DetectRole() error = %v", err)
	}
	if !second.Success || !second.FromCache || second.Role != constants.RoleVC {
		t.Errorf("second DetectRole() = %+v", second)
	}
	if f.users.Calls() != 1 {
		t.Errorf("store fetched %d times, want 1", f.users.Calls())
	}

	record, _ := f.cache.Read(ctx, "u1")
	if record.Email != "u1@rafts.io" {
		t.Errorf("cached email = %q, want the stored one", record.Email)
	}
}

func TestRoleSwitcher_DetectRoleFailures(t *testing.T) {
	tests := []struct {
		name      string
		user      entities.AuthUser
		storeErr  error
		wantMsg   string
		wantError bool
	}{
		{name: "missing id", user: entities.AuthUser{}, wantMsg: constants.MsgMissingUserID},
		{name: "unknown user", user: entities.AuthUser{ID: "ghost"}, wantMsg: constants.MsgUserDocumentNotFound},
		{name: "store down", user: entities.AuthUser{ID: "u1"}, storeErr: errors.New("connection reset"), wantMsg: constants.MsgRoleFetchFailed, wantError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newSwitcherFixture(t, multiRoleUser("u1"))
			f.users.err = tt.storeErr

			result, err := f.switcher.DetectRole(context.Background(), tt.user)
			if (err != nil) != tt.wantError {
				t.Fatalf("DetectRole() error = %v, wantError %v", err, tt.wantError)
			}
			if result.Success || result.Error != tt.wantMsg || result.Role != constants.RoleUser {
				t.Errorf("DetectRole() = %+v", result)
			}
		})
	}
}

func TestRoleSwitcher_SwitchToAssignedRole(t *testing.T) {
	f := newSwitcherFixture(t, multiRoleUser("u1"))
	ctx := context.Background()
	user := entities.AuthUser{ID: "u1", Email: "token@rafts.io"}

	result, err := f.switcher.SwitchTo(ctx, constants.RoleFounder, user)
	if err != nil {
		t.Fatalf("SwitchTo() error = %v", err)
	}
	if !result.Success || result.Role != constants.RoleFounder || result.FromCache {
		t.Fatalf("SwitchTo() = %+v", result)
	}

	record, ok := f.cache.Read(ctx, "u1")
	if !ok || record.Role != constants.RoleFounder || record.Email != "token@rafts.io" {
		t.Errorf("cached record = %+v", record)
	}
	if h := f.switcher.History("u1"); len(h) != 1 || h[0].Role != constants.RoleFounder {
		t.Errorf("History() = %+v", h)
	}

	if names := f.tasks.Names(); len(names) != 1 || names[0] != "preload_roles" {
		t.Fatalf("submitted tasks = %v", names)
	}
	f.tasks.Drain(t)
	for _, r := range constants.SwitchableRoles {
		_, ok := f.cache.GetPreloaded(ctx, r)
		if r == constants.RoleFounder && ok {
			t.Error("the target role itself was preloaded")
		}
		if r != constants.RoleFounder && !ok {
			t.Errorf("role %s not preloaded", r)
		}
	}

	if got := testutil.ToFloat64(f.metrics.RoleSwitchesTotal.WithLabelValues("success")); got != 1 {
		t.Errorf("success metric = %v", got)
	}
}

func TestRoleSwitcher_SwitchToUsesPreloadedFastPath(t *testing.T) {
	f := newSwitcherFixture(t, multiRoleUser("u1"))
	ctx := context.Background()
	user := entities.AuthUser{ID: "u1"}

	if _, err := f.switcher.SwitchTo(ctx, constants.RoleFounder, user); err != nil {
		t.Fatal(err)
	}
	f.tasks.Drain(t)

	result, err := f.switcher.SwitchTo(ctx, constants.RoleExchange, user)
	if err != nil {
		t.Fatal(err)
	}
	if !result.Success || !result.FromCache || result.Role != constants.RoleExchange {
		t.Errorf("SwitchTo() = %+v", result)
	}
	if f.users.Calls() != 1 {
		t.Errorf("store fetched %d times, want 1", f.users.Calls())
	}
	if record, _ := f.cache.Read(ctx, "u1"); record.Email != "u1@rafts.io" {
		t.Errorf("fast path lost the cached email: %q", record.Email)
	}
}

func TestRoleSwitcher_SwitchToRejections(t *testing.T) {
	f := newSwitcherFixture(t, multiRoleUser("u1"), &entities.UserDocument{ID: "plain"})
	ctx := context.Background()

	tests := []struct {
		name    string
		role    constants.Role
		user    string
		wantMsg string
	}{
		{name: "unknown role", role: "pirate", user: "u1", wantMsg: constants.MsgUnknownRole},
		{name: "role not held", role: constants.RoleAgency, user: "u1", wantMsg: constants.MsgRoleNotAssigned},
		{name: "missing user", role: constants.RoleVC, user: "ghost", wantMsg: constants.MsgUserDocumentNotFound},
		{name: "no user id", role: constants.RoleVC, user: "", wantMsg: constants.MsgMissingUserID},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := f.switcher.SwitchTo(ctx, tt.role, entities.AuthUser{ID: tt.user})
			if err != nil {
				t.Fatalf("SwitchTo() error = %v", err)
			}
			if result.Success || result.Error != tt.wantMsg {
				t.Errorf("SwitchTo() = %+v", result)
			}
		})
	}

	t.Run("generic user role is always allowed", func(t *testing.T) {
		result, err := f.switcher.SwitchTo(ctx, constants.RoleUser, entities.AuthUser{ID: "plain"})
		if err != nil || !result.Success {
			t.Errorf("SwitchTo(user) = %+v, %v", result, err)
		}
	})

	if len(f.switcher.History("u1")) != 0 {
		t.Error("rejected switches were recorded in history")
	}
}

func TestRoleSwitcher_ConcurrentSwitchIsRejected(t *testing.T) {
	f := newSwitcherFixture(t, multiRoleUser("u1"))
	f.users.entered = make(chan struct{}, 1)
	f.users.release = make(chan struct{})
	ctx := context.Background()
	user := entities.AuthUser{ID: "u1"}

	done := make(chan RoleResult, 1)
	go func() {
		result, _ := f.switcher.SwitchTo(ctx, constants.RoleFounder, user)
		done <- result
	}()
	<-f.users.entered

	second, err := f.switcher.SwitchTo(ctx, constants.RoleFounder, user)
	if err != nil {
		t.Fatal(err)
	}
	if second.Success || second.Error != constants.MsgRoleSwitchInProgress {
		t.Errorf("second SwitchTo() = %+v", second)
	}
	if stats := f.switcher.GetStats("u1"); len(stats.InProgress) != 1 || stats.InProgress[0] != constants.RoleFounder {
		t.Errorf("InProgress = %v", stats.InProgress)
	}

	close(f.users.release)
	first := <-done
	if !first.Success {
		t.Errorf("first SwitchTo() = %+v", first)
	}
	if stats := f.switcher.GetStats("u1"); len(stats.InProgress) != 0 {
		t.Errorf("InProgress after completion = %v", stats.InProgress)
	}
	if f.users.Calls() != 1 {
		t.Errorf("store fetched %d times, want 1", f.users.Calls())
	}
}

func TestRoleSwitcher_HistoryIsCapped(t *testing.T) {
	f := newSwitcherFixture(t, multiRoleUser("u1"))
	ctx := context.Background()
	roles := []constants.Role{constants.RoleVC, constants.RoleFounder}

	for i := 0; i < historyLimit+5; i++ {
		if _, err := f.switcher.SwitchTo(ctx, roles[i%2], entities.AuthUser{ID: "u1"}); err != nil {
			t.Fatal(err)
		}
		f.clock.Advance(time.Second)
	}

	history := f.switcher.History("u1")
	if len(history) != historyLimit {
		t.Fatalf("len(History()) = %d, want %d", len(history), historyLimit)
	}
	// the five oldest entries were dropped
	if history[0].Role != constants.RoleFounder {
		t.Errorf("oldest kept role = %s", history[0].Role)
	}
}

func TestRoleSwitcher_GetStatsCountsRecentSwitches(t *testing.T) {
	f := newSwitcherFixture(t, multiRoleUser("u1"))
	ctx := context.Background()

	_, _ = f.switcher.SwitchTo(ctx, constants.RoleFounder, entities.AuthUser{ID: "u1"})
	f.clock.Advance(2 * time.Hour)
	_, _ = f.switcher.SwitchTo(ctx, constants.RoleVC, entities.AuthUser{ID: "u1"})

	stats := f.switcher.GetStats("u1")
	if stats.TotalSwitches != 2 || stats.RecentSwitches != 1 {
		t.Errorf("GetStats() = %+v", stats)
	}
	if len(stats.Cache.Tiers) == 0 {
		t.Error("GetStats() carries no cache stats")
	}
}

func TestRoleSwitcher_OptimizeForUser(t *testing.T) {
	f := newSwitcherFixture(t, multiRoleUser("u1"))
	ctx := context.Background()
	user := entities.AuthUser{ID: "u1"}

	sequence := []constants.Role{
		constants.RoleVC, constants.RoleFounder, constants.RoleVC,
		constants.RoleExchange, constants.RoleFounder, constants.RoleVC,
		constants.RoleAdmin,
	}
	for _, r := range sequence {
		if _, err := f.switcher.SwitchTo(ctx, r, user); err != nil {
			t.Fatal(err)
		}
		f.clock.Advance(time.Minute)
	}
	f.tasks.Drain(t)
	_, _ = f.cache.ClearAll(ctx)

	got := f.switcher.OptimizeForUser(user)
	// vc x3, founder x2, then the tie between exchange and admin goes to the most recent
	want := []constants.Role{constants.RoleVC, constants.RoleFounder, constants.RoleAdmin}
	if len(got) != len(want) {
		t.Fatalf("OptimizeForUser() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("OptimizeForUser() = %v, want %v", got, want)
		}
	}

	f.tasks.Drain(t)
	for _, r := range want {
		if _, ok := f.cache.GetPreloaded(ctx, r); !ok {
			t.Errorf("role %s not preloaded", r)
		}
	}
	if _, ok := f.cache.GetPreloaded(ctx, constants.RoleExchange); ok {
		t.Error("role outside the top three was preloaded")
	}
}

func TestRoleSwitcher_OptimizeForUserWithoutHistory(t *testing.T) {
	f := newSwitcherFixture(t)
	if got := f.switcher.OptimizeForUser(entities.AuthUser{ID: "nobody"}); len(got) != 0 {
		t.Errorf("OptimizeForUser() = %v, want empty", got)
	}
	if len(f.tasks.Names()) != 0 {
		t.Error("preload submitted for an empty ranking")
	}
}

func TestRoleSwitcher_BatchProcess(t *testing.T) {
	var docs []*entities.UserDocument
	var ops []BatchOperation
	for i := 0; i < 12; i++ {
		id := fmt.Sprintf("u%02d", i)
		docs = append(docs, multiRoleUser(id))
		ops = append(ops, BatchOperation{UserID: id, Role: constants.RoleFounder})
	}
	ops = append(ops, BatchOperation{UserID: "ghost", Role: constants.RoleVC})

	f := newSwitcherFixture(t, docs...)
	ctx := context.Background()

	result := f.switcher.BatchProcess(ctx, ops)
	if !result.Success || result.TotalProcessed != len(ops) || len(result.Results) != len(ops) {
		t.Fatalf("BatchProcess() = %+v", result)
	}

	for i, r := range result.Results {
		if r.UserID != ops[i].UserID {
			t.Errorf("result %d is for %s, want %s", i, r.UserID, ops[i].UserID)
		}
	}
	last := result.Results[len(ops)-1]
	if last.Success || last.Error != constants.MsgUserDocumentNotFound {
		t.Errorf("ghost result = %+v", last)
	}

	record, ok := f.cache.Read(ctx, "u03")
	if !ok || record.Role != constants.RoleFounder {
		t.Errorf("u03 cached as %+v", record)
	}
	if f.users.maxActive > batchSize {
		t.Errorf("max concurrent fetches = %d, want <= %d", f.users.maxActive, batchSize)
	}
}

func founderOnlyUser(id string) *entities.UserDocument {
	return &entities.UserDocument{ID: id, Email: id + "@rafts.io", Role: "founder"}
}

func TestRoleSwitcher_BatchProcessChecksRoles(t *testing.T) {
	f := newSwitcherFixture(t, founderOnlyUser("f1"), multiRoleUser("m1"))
	ctx := context.Background()

	tests := []struct {
		name    string
		op      BatchOperation
		success bool
		err     string
	}{
		{"role not held", BatchOperation{UserID: "f1", Role: constants.RoleAdmin}, false, constants.MsgRoleNotAssigned},
		{"unknown role", BatchOperation{UserID: "f1", Role: "nonsense"}, false, constants.MsgUnknownRole},
		{"unknown role for missing user", BatchOperation{UserID: "ghost", Role: "nonsense"}, false, constants.MsgUnknownRole},
		{"stored role", BatchOperation{UserID: "f1", Role: constants.RoleFounder}, true, ""},
		{"listed role", BatchOperation{UserID: "m1", Role: constants.RoleAdmin}, true, ""},
		{"generic role", BatchOperation{UserID: "m1", Role: constants.RoleUser}, true, ""},
		{"no role keeps stored", BatchOperation{UserID: "f1"}, true, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f.cache.Clear(ctx, tt.op.UserID)

			result := f.switcher.BatchProcess(ctx, []BatchOperation{tt.op})
			item := result.Results[0]
			if item.Success != tt.success || item.Error != tt.err {
				t.Fatalf("item = %+v, want success=%v error=%q", item, tt.success, tt.err)
			}

			record, cached := f.cache.Read(ctx, tt.op.UserID)
			if !tt.success {
				if cached {
					t.Errorf("rejected op cached %+v", record)
				}
				return
			}
			if !cached || record.Role != item.Role {
				t.Errorf("cached = %+v, %v, want role %s", record, cached, item.Role)
			}
		})
	}

	detected, err := f.switcher.DetectRole(ctx, entities.AuthUser{ID: "f1"})
	if err != nil || detected.Role != constants.RoleFounder {
		t.Errorf("DetectRole(f1) = %+v, %v", detected, err)
	}
}

// cookieCtx binds a request carrying the given cookies to ctx
func cookieCtx(ctx context.Context, cookies ...*http.Cookie) context.Context {
	r := httptest.NewRequest(http.MethodPost, "/", nil)
	for _, c := range cookies {
		r.AddCookie(c)
	}
	return common.WithCookieJar(ctx, common.NewRequestCookieJar(httptest.NewRecorder(), r))
}

func TestRoleSwitcher_ForgedCookieCannotAuthorizeSwitch(t *testing.T) {
	f := newSwitcherFixture(t, founderOnlyUser("f1"))
	ctx := context.Background()
	f.cache.Preload(ctx, constants.RoleAdmin)

	payload := fmt.Sprintf(`{"r":"admin","e":%d}`, f.clock.Now().Add(time.Hour).UnixMilli())
	forged := &http.Cookie{Name: cookieKey("f1"), Value: base64.RawURLEncoding.EncodeToString([]byte(payload))}
	reqCtx := cookieCtx(ctx, forged)

	if record, ok := f.cache.Read(reqCtx, "f1"); ok {
		t.Fatalf("forged cookie read as %+v", record)
	}

	result, err := f.switcher.SwitchTo(reqCtx, constants.RoleAdmin, entities.AuthUser{ID: "f1"})
	if err != nil {
		t.Fatalf("SwitchTo() error = %v", err)
	}
	if result.Success || result.FromCache || result.Error != constants.MsgRoleNotAssigned {
		t.Errorf("SwitchTo() = %+v", result)
	}
	if f.users.Calls() != 1 {
		t.Errorf("store calls = %d, want 1", f.users.Calls())
	}

	detected, err := f.switcher.DetectRole(ctx, entities.AuthUser{ID: "f1"})
	if err != nil || detected.Role != constants.RoleFounder {
		t.Errorf("DetectRole() after forged switch = %+v, %v", detected, err)
	}
}

func TestRoleSwitcher_BatchProcessEmpty(t *testing.T) {
	f := newSwitcherFixture(t)
	result := f.switcher.BatchProcess(context.Background(), nil)
	if !result.Success || result.TotalProcessed != 0 || len(result.Results) != 0 {
		t.Errorf("BatchProcess(nil) = %+v", result)
	}
}

func TestRoleSwitcher_WithUserService(t *testing.T) {
	docs := newTestDocs(t)
	userService := NewUserService(repositories.NewUserRepository(docs))
	ctx := context.Background()
	if err := userService.SaveUser(ctx, multiRoleUser("u1")); err != nil {
		t.Fatal(err)
	}

	cache, _ := newTestCache(t, newFakeClock())
	switcher := NewRoleSwitcher(cache, userService, nil, nil)

	result, err := switcher.SwitchTo(ctx, constants.RoleAdmin, entities.AuthUser{ID: "u1"})
	if err != nil || !result.Success || result.Role != constants.RoleAdmin {
		t.Fatalf("SwitchTo() = %+v, %v", result, err)
	}
	if result.ProfileData == nil || result.ProfileData.OrgID != "org-u1" {
		t.Errorf("ProfileData = %+v", result.ProfileData)
	}
}
