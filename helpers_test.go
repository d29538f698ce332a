package packguard_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/packguard"
	"github.com/MrEthical07/packguard/permission"
	"github.com/MrEthical07/packguard/store/memory"
)

const testPassword = "correct-horse-battery"

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recordingSender struct {
	mu    sync.Mutex
	codes map[string][]string
	fail  error
}

func (s *recordingSender) SendCode(_ context.Context, address, code, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	if s.codes == nil {
		s.codes = make(map[string][]string)
	}
	s.codes[address] = append(s.codes[address], code)
	return nil
}

func (s *recordingSender) last(t *testing.T, address string) string {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	codes := s.codes[address]
	if len(codes) == 0 {
		t.Fatalf("no code sent to %s", address)
	}
	return codes[len(codes)-1]
}

func (s *recordingSender) count(address string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.codes[address])
}

func testConfig() packguard.Config {
	cfg := packguard.DefaultConfig()
	cfg.JWT.AccessSecret = strings.Repeat("a", 32)
	cfg.JWT.RefreshSecret = strings.Repeat("r", 32)
	cfg.JWT.TwoFactorSecret = strings.Repeat("t", 32)
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	return cfg
}

type harness struct {
	engine *packguard.Engine
	store  *memory.Store
	sender *recordingSender
	clock  *fakeClock
}

// newHarness builds an Engine over the in-memory store. configure may adjust
// the builder before Build.
func newHarness(t *testing.T, configure ...func(*packguard.Builder)) *harness {
	t.Helper()

	h := &harness{
		store:  memory.New(),
		sender: &recordingSender{},
		clock:  newFakeClock(),
	}
	b := packguard.New().
		WithConfig(testConfig()).
		WithIdentityStore(h.store).
		WithDocumentStore(h.store).
		WithAuditStore(h.store).
		WithCodeSender(h.sender).
		WithClock(h.clock.Now)
	for _, fn := range configure {
		fn(b)
	}

	engine, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)
	h.engine = engine
	return h
}

func (h *harness) createIdentity(t *testing.T, email string, role permission.SystemRole, twoFactor bool) *packguard.Identity {
	t.Helper()

	view, err := h.engine.CreateIdentity(context.Background(), nil, packguard.NewIdentity{
		Email:            email,
		DisplayName:      strings.Split(email, "@")[0],
		Password:         testPassword,
		Role:             role,
		TwoFactorEnabled: twoFactor,
	})
	if err != nil {
		t.Fatalf("CreateIdentity(%s) failed: %v", email, err)
	}
	return h.load(t, view.ID)
}

// load reads the stored identity including its pending challenge.
func (h *harness) load(t *testing.T, id string) *packguard.Identity {
	t.Helper()
	identity, err := h.store.FindByID(context.Background(), id, packguard.WithChallenge())
	if err != nil {
		t.Fatalf("FindByID(%s) failed: %v", id, err)
	}
	return identity
}

func (h *harness) login(t *testing.T, email string) *packguard.LoginResult {
	t.Helper()
	res, err := h.engine.Login(context.Background(), email, testPassword)
	if err != nil {
		t.Fatalf("Login(%s) failed: %v", email, err)
	}
	return res
}

// auditActions drains the dispatcher and returns stored actions newest first.
func (h *harness) auditActions(t *testing.T) []string {
	t.Helper()
	h.engine.Close()
	page, err := h.store.QueryAudit(context.Background(), packguard.AuditQuery{Page: 1, PageSize: 200})
	if err != nil {
		t.Fatalf("QueryAudit failed: %v", err)
	}
	out := make([]string, len(page.Records))
	for i, r := range page.Records {
		out[i] = r.Action
	}
	return out
}
