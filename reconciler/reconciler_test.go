package reconciler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ksg-dk/gatekeeper/planner"
)

// fakeClient scripts per-call failures and records every dispatch.
type fakeClient struct {
	mu    sync.Mutex
	calls []string
	// fail maps a call key to the errors its successive attempts return;
	// attempts beyond the scripted list succeed.
	fail map[string][]error
}

func newFakeClient() *fakeClient {
	return &fakeClient{fail: make(map[string][]error)}
}

func (c *fakeClient) record(key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, key)
	attempt := 0
	for _, k := range c.calls[:len(c.calls)-1] {
		if k == key {
			attempt++
		}
	}
	if errs := c.fail[key]; attempt < len(errs) {
		return errs[attempt]
	}
	return nil
}

func (c *fakeClient) count(key string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, k := range c.calls {
		if k == key {
			n++
		}
	}
	return n
}

func (c *fakeClient) GrantRole(_ context.Context, _, userID, roleID string) error {
	return c.record("grant:" + userID + ":" + roleID)
}
func (c *fakeClient) RevokeRole(_ context.Context, _, userID, roleID string) error {
	return c.record("revoke:" + userID + ":" + roleID)
}
func (c *fakeClient) SetNickname(_ context.Context, _, userID, nick string) error {
	return c.record("nick:" + userID + ":" + nick)
}
func (c *fakeClient) SetChannelOverwrite(_ context.Context, channelID, roleID string, _, _ int64) error {
	return c.record("setow:" + channelID + ":" + roleID)
}
func (c *fakeClient) ClearChannelOverwrite(_ context.Context, channelID, roleID string) error {
	return c.record("clearow:" + channelID + ":" + roleID)
}

func fastReconciler(client Client) *Reconciler {
	r := New(client, "guild-1")
	r.RetryInterval = time.Millisecond
	return r
}

func testPlan() []planner.MutationOp {
	return []planner.MutationOp{
		{Kind: planner.OpGrantRole, UserID: "plat-1", RoleID: "r-medlem", RoleName: "Medlem"},
		{Kind: planner.OpSetNickname, UserID: "plat-1", Nickname: "Ann"},
		{Kind: planner.OpSetChannelOverwrite, UserID: "plat-1", RoleID: "r-medlem", ChannelID: "c-general", Allow: 1024},
	}
}

func TestApplyAll(t *testing.T) {
	client := newFakeClient()
	r := fastReconciler(client)

	outcomes := r.Apply(context.Background(), "plat-1", testPlan())
	if len(outcomes) != 3 {
		t.Fatalf("expected one outcome per op, got %d", len(outcomes))
	}
	for _, o := range outcomes {
		if o.Status != StatusApplied || o.Err != nil {
			t.Fatalf("expected applied, got %+v", o)
		}
	}
	if len(Failed(outcomes)) != 0 {
		t.Fatal("no failures expected")
	}
}

func TestTransientFailureIsRetried(t *testing.T) {
	client := newFakeClient()
	client.fail["grant:plat-1:r-medlem"] = []error{
		&PlatformError{Kind: KindTransient, Err: errors.New("502")},
		&PlatformError{Kind: KindRateLimited, Err: errors.New("429")},
	}
	r := fastReconciler(client)

	outcomes := r.Apply(context.Background(), "plat-1", testPlan())
	if outcomes[0].Status != StatusApplied {
		t.Fatalf("expected grant to succeed after retries, got %+v", outcomes[0])
	}
	if got := client.count("grant:plat-1:r-medlem"); got != 3 {
		t.Fatalf("expected 3 attempts, got %d", got)
	}
}

func TestRetryBudgetExhausted(t *testing.T) {
	client := newFakeClient()
	transient := &PlatformError{Kind: KindTransient, Err: errors.New("502")}
	client.fail["grant:plat-1:r-medlem"] = []error{transient, transient, transient, transient, transient}
	r := fastReconciler(client)

	outcomes := r.Apply(context.Background(), "plat-1", testPlan())
	if outcomes[0].Status != StatusFailed {
		t.Fatalf("expected failure after budget exhaustion, got %+v", outcomes[0])
	}
	if got := client.count("grant:plat-1:r-medlem"); got != int(r.MaxAttempts) {
		t.Fatalf("expected %d attempts, got %d", r.MaxAttempts, got)
	}
}

func TestForbiddenIsNotRetried(t *testing.T) {
	client := newFakeClient()
	client.fail["grant:plat-1:r-medlem"] = []error{
		&PlatformError{Kind: KindForbidden, Err: errors.New("role hierarchy")},
	}
	r := fastReconciler(client)

	outcomes := r.Apply(context.Background(), "plat-1", testPlan())

	if outcomes[0].Status != StatusFailed || !Forbidden(outcomes[0].Err) {
		t.Fatalf("expected terminal forbidden failure, got %+v", outcomes[0])
	}
	if got := client.count("grant:plat-1:r-medlem"); got != 1 {
		t.Fatalf("forbidden must not be retried, got %d attempts", got)
	}

	// Partial-failure isolation: the rest of the plan still ran.
	if outcomes[1].Status != StatusApplied || outcomes[2].Status != StatusApplied {
		t.Fatalf("remaining ops must still execute, got %+v", outcomes)
	}
	failed := Failed(outcomes)
	if len(failed) != 1 || failed[0].Op.Kind != planner.OpGrantRole {
		t.Fatalf("unexpected failed set: %+v", failed)
	}
}

func TestCancelledContextSkipsRemaining(t *testing.T) {
	client := newFakeClient()
	r := fastReconciler(client)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	outcomes := r.Apply(ctx, "plat-1", testPlan())
	if len(outcomes) != 3 {
		t.Fatalf("expected one outcome per op, got %d", len(outcomes))
	}
	for _, o := range outcomes {
		if o.Status != StatusSkipped || !errors.Is(o.Err, context.Canceled) {
			t.Fatalf("expected skipped with context.Canceled, got %+v", o)
		}
	}
	if len(client.calls) != 0 {
		t.Fatalf("no ops should be dispatched on a dead context, got %v", client.calls)
	}
}

func TestSameUserPlansAreSerialized(t *testing.T) {
	var mu sync.Mutex
	inFlight, maxInFlight := 0, 0
	client := &gateClient{enter: func() {
		mu.Lock()
		inFlight++
		if inFlight > maxInFlight {
			maxInFlight = inFlight
		}
		mu.Unlock()
		time.Sleep(2 * time.Millisecond)
		mu.Lock()
		inFlight--
		mu.Unlock()
	}}
	r := fastReconciler(client)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Apply(context.Background(), "plat-1", testPlan()[:1])
		}()
	}
	wg.Wait()

	if maxInFlight != 1 {
		t.Fatalf("plans for the same user overlapped, max in flight %d", maxInFlight)
	}
}

func TestEmptyPlan(t *testing.T) {
	client := newFakeClient()
	r := fastReconciler(client)
	if outcomes := r.Apply(context.Background(), "plat-1", nil); len(outcomes) != 0 {
		t.Fatalf("expected no outcomes for empty plan, got %v", outcomes)
	}
}

// gateClient calls enter on every dispatch, for concurrency checks.
type gateClient struct {
	enter func()
}

func (c *gateClient) GrantRole(context.Context, string, string, string) error {
	c.enter()
	return nil
}
func (c *gateClient) RevokeRole(context.Context, string, string, string) error {
	c.enter()
	return nil
}
func (c *gateClient) SetNickname(context.Context, string, string, string) error {
	c.enter()
	return nil
}
func (c *gateClient) SetChannelOverwrite(_ context.Context, _, _ string, _, _ int64) error {
	c.enter()
	return nil
}
func (c *gateClient) ClearChannelOverwrite(context.Context, string, string) error {
	c.enter()
	return nil
}

func TestPlatformErrorRetryable(t *testing.T) {
	tests := []struct {
		kind      ErrorKind
		retryable bool
	}{
		{KindTransient, true},
		{KindRateLimited, true},
		{KindForbidden, false},
		{KindNotFound, false},
	}
	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			err := &PlatformError{Kind: tt.kind, Err: fmt.Errorf("boom")}
			if err.Retryable() != tt.retryable {
				t.Fatalf("%v: expected retryable=%v", tt.kind, tt.retryable)
			}
		})
	}
}
