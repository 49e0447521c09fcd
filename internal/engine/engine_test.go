package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/autoreply/internal/metric"
	"github.com/roach88/autoreply/internal/rule"
	"github.com/roach88/autoreply/internal/testutil"
)

type fixture struct {
	engine  *Engine
	store   *rule.MemoryStore
	gates   *testutil.StaticGates
	gateway *testutil.RecordingGateway
	clock   *testutil.ManualClock
}

func setupEngine(t *testing.T, rules ...rule.Rule) *fixture {
	t.Helper()
	f := &fixture{
		store:   rule.NewMemoryStore(rules...),
		gates:   testutil.NewStaticGates("chat"),
		gateway: testutil.NewRecordingGateway(16),
		clock:   testutil.NewManualClock(time.Time{}),
	}
	f.engine = New(f.store, f.gates, f.gateway, WithClock(f.clock))
	t.Cleanup(f.engine.Close)
	return f
}

func inbound(sourceID, text string) InboundMessage {
	return InboundMessage{SourceID: sourceID, Origin: "chat", Text: text, ReplyHandle: "h-" + sourceID}
}

var helloRule = rule.Rule{ID: "hello", Keyword: "hello", ReplyMessage: "Hi there!", Priority: 1}

func TestEngine_ImmediateReply(t *testing.T) {
	f := setupEngine(t, helloRule)

	res := f.engine.OnMessage(context.Background(), inbound("A", "well Hello friend"))

	assert.Equal(t, OutcomeImmediate, res.Outcome)
	require.NotNil(t, res.Decision)
	assert.Equal(t, "hello", res.Decision.RuleID)
	assert.Equal(t, []testutil.Sent{{ReplyHandle: "h-A", Text: "Hi there!"}}, f.gateway.Sent())
	assert.Equal(t, PhaseFired, f.engine.Phase("A"))
}

func TestEngine_Gates(t *testing.T) {
	tests := []struct {
		name    string
		enabled bool
		origin  string
		want    Outcome
	}{
		{"disabled", false, "chat", OutcomeDisabled},
		{"disabled wins over denied origin", false, "other", OutcomeDisabled},
		{"origin not allowed", true, "other", OutcomeSourceDenied},
		{"allowed", true, "chat", OutcomeImmediate},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setupEngine(t, helloRule)
			f.gates.SetEnabled(tt.enabled)

			msg := inbound("A", "hello")
			msg.Origin = tt.origin
			res := f.engine.OnMessage(context.Background(), msg)

			assert.Equal(t, tt.want, res.Outcome)
			if tt.want != OutcomeImmediate {
				assert.Zero(t, f.gateway.Attempts())
				assert.Equal(t, PhaseNone, f.engine.Phase("A"))
			}
		})
	}
}

func TestEngine_GatesReadPerMessage(t *testing.T) {
	f := setupEngine(t, helloRule)
	ctx := context.Background()

	f.gates.SetEnabled(false)
	assert.Equal(t, OutcomeDisabled, f.engine.OnMessage(ctx, inbound("A", "hello")).Outcome)

	f.gates.SetEnabled(true)
	assert.Equal(t, OutcomeImmediate, f.engine.OnMessage(ctx, inbound("A", "hello")).Outcome)
}

type panickingGates struct{}

func (panickingGates) EngineEnabled() bool       { panic("settings backend gone") }
func (panickingGates) SourceAllowed(string) bool { return true }

func TestEngine_PanickingGateDenies(t *testing.T) {
	gw := testutil.NewRecordingGateway(1)
	e := New(rule.NewMemoryStore(helloRule), panickingGates{}, gw, WithClock(testutil.NewManualClock(time.Time{})))
	defer e.Close()

	var res Result
	require.NotPanics(t, func() {
		res = e.OnMessage(context.Background(), inbound("A", "hello"))
	})
	assert.Equal(t, OutcomeDisabled, res.Outcome)
	assert.Zero(t, gw.Attempts())
}

func TestEngine_EmptyText(t *testing.T) {
	f := setupEngine(t, helloRule)

	res := f.engine.OnMessage(context.Background(), inbound("A", ""))

	assert.Equal(t, OutcomeEmptyText, res.Outcome)
	assert.Equal(t, PhaseNone, f.engine.Phase("A"))
}

func TestEngine_NoMatch(t *testing.T) {
	// Scenario C
	f := setupEngine(t, rule.Rule{ID: "r", Keyword: "hello", ReplyMessage: "x"})

	res := f.engine.OnMessage(context.Background(), inbound("A", "goodbye"))

	assert.Equal(t, OutcomeNoMatch, res.Outcome)
	assert.Nil(t, res.Decision)
	assert.Zero(t, f.gateway.Attempts())
	assert.Equal(t, PhaseNone, f.engine.Phase("A"))
}

func TestEngine_NoRules(t *testing.T) {
	f := setupEngine(t)

	res := f.engine.OnMessage(context.Background(), inbound("A", "hello"))
	assert.Equal(t, OutcomeNoMatch, res.Outcome)
}

func TestEngine_StoreUnavailable(t *testing.T) {
	f := setupEngine(t, helloRule)
	f.store.SetError(errors.New("disk on fire"))

	res := f.engine.OnMessage(context.Background(), inbound("A", "hello"))

	assert.Equal(t, OutcomeUnavailable, res.Outcome)
	assert.Zero(t, f.gateway.Attempts())
	assert.Equal(t, PhaseNone, f.engine.Phase("A"))

	select {
	case err := <-f.engine.Errors():
		assert.True(t, IsConfigUnavailable(err))
		assert.Contains(t, err.Error(), "disk on fire")
	default:
		t.Fatal("expected CONFIG_UNAVAILABLE report")
	}

	// Store recovers; the same source may now match.
	f.store.SetError(nil)
	assert.Equal(t, OutcomeImmediate, f.engine.OnMessage(context.Background(), inbound("A", "hello")).Outcome)
}

func TestEngine_OutOfRangeDelayNeverFires(t *testing.T) {
	huge := rule.Rule{ID: "huge", Keyword: "hello", ReplyMessage: "much later", DelaySeconds: 10_000_000_000}
	f := setupEngine(t, huge)

	res := f.engine.OnMessage(context.Background(), inbound("A", "hello"))

	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Equal(t, PhaseNone, f.engine.Phase("A"))
	assert.Empty(t, f.engine.Pending())
	f.clock.Advance(time.Hour)
	assert.Zero(t, f.gateway.Attempts())

	select {
	case err := <-f.engine.Errors():
		assert.True(t, IsDispatchError(err))
		assert.Contains(t, err.Error(), "delay_seconds 10000000000")
	default:
		t.Fatal("expected DISPATCH_FAILED report")
	}
}

func TestEngine_NoReplyHandle(t *testing.T) {
	f := setupEngine(t, helloRule)
	ctx := context.Background()

	msg := inbound("A", "hello")
	msg.ReplyHandle = ""
	assert.Equal(t, OutcomeNoReplyHandle, f.engine.OnMessage(ctx, msg).Outcome)
	assert.Equal(t, PhaseNone, f.engine.Phase("A"), "unanswerable delivery leaves no mark")

	// A later delivery carrying the handle is answered.
	assert.Equal(t, OutcomeImmediate, f.engine.OnMessage(ctx, inbound("A", "hello")).Outcome)
}

func TestEngine_RedeliveryIsIdempotent(t *testing.T) {
	f := setupEngine(t, helloRule)
	ctx := context.Background()

	require.Equal(t, OutcomeImmediate, f.engine.OnMessage(ctx, inbound("A", "hello")).Outcome)
	for i := 0; i < 3; i++ {
		assert.Equal(t, OutcomeDuplicate, f.engine.OnMessage(ctx, inbound("A", "hello again")).Outcome)
	}
	assert.Equal(t, 1, f.gateway.Attempts())
}

func TestEngine_PriorityWinner(t *testing.T) {
	// Scenarios A and B
	tests := []struct {
		name  string
		rules []rule.Rule
		text  string
		want  string
	}{
		{
			name: "lower priority number wins",
			rules: []rule.Rule{
				{ID: "r2", Keyword: "hello", ReplyMessage: "B", Priority: 2},
				{ID: "r1", Keyword: "hello", ReplyMessage: "A", Priority: 1},
			},
			text: "Hello there",
			want: "A",
		},
		{
			name: "regex rule",
			rules: []rule.Rule{
				{ID: "r1", Keyword: "order\\s*#?\\d+", IsRegex: true, ReplyMessage: "Checking", Priority: 1},
			},
			text: "Where is order #123?",
			want: "Checking",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setupEngine(t, tt.rules...)
			f.engine.OnMessage(context.Background(), inbound("A", tt.text))

			sent := f.gateway.Sent()
			require.Len(t, sent, 1)
			assert.Equal(t, tt.want, sent[0].Text)
		})
	}
}

func TestEngine_RulesReadPerMessage(t *testing.T) {
	f := setupEngine(t, helloRule)
	ctx := context.Background()

	f.engine.OnMessage(ctx, inbound("A", "hello"))

	require.NoError(t, f.store.Save(ctx, []rule.Rule{{ID: "new", Keyword: "hello", ReplyMessage: "edited"}}))
	f.engine.OnMessage(ctx, inbound("B", "hello"))

	sent := f.gateway.Sent()
	require.Len(t, sent, 2)
	assert.Equal(t, "Hi there!", sent[0].Text)
	assert.Equal(t, "edited", sent[1].Text)
}

func TestEngine_DelayedReplyAndRemoval(t *testing.T) {
	// Scenario D
	f := setupEngine(t, rule.Rule{ID: "r", Keyword: "hello", ReplyMessage: "later", DelaySeconds: 5})
	ctx := context.Background()

	res := f.engine.OnMessage(ctx, inbound("A", "hello"))
	require.Equal(t, OutcomeScheduled, res.Outcome)
	assert.Len(t, f.engine.Pending(), 1)

	f.clock.Advance(3 * time.Second)
	assert.True(t, f.engine.OnRemoved("A"))
	f.clock.Advance(10 * time.Second)

	assert.Zero(t, f.gateway.Attempts())
	assert.Empty(t, f.engine.Pending())
}

func TestEngine_DelayedReplyFires(t *testing.T) {
	f := setupEngine(t, rule.Rule{ID: "r", Keyword: "hello", ReplyMessage: "later", DelaySeconds: 5})

	f.engine.OnMessage(context.Background(), inbound("A", "hello"))
	f.clock.Advance(5 * time.Second)

	assert.Equal(t, []testutil.Sent{{ReplyHandle: "h-A", Text: "later"}}, f.gateway.Sent())
	assert.False(t, f.engine.OnRemoved("A"))
}

func TestEngine_FailureThenRetry(t *testing.T) {
	// Scenario E
	f := setupEngine(t, helloRule)
	ctx := context.Background()

	f.gateway.FailNext(1)
	res := f.engine.OnMessage(ctx, inbound("B", "hello"))
	assert.Equal(t, OutcomeFailed, res.Outcome)
	require.NotNil(t, res.Decision)
	assert.True(t, IsDispatchError(res.Decision.Err))

	select {
	case err := <-f.engine.Errors():
		assert.True(t, IsDispatchError(err))
	default:
		t.Fatal("expected DISPATCH_FAILED report")
	}

	assert.Equal(t, OutcomeImmediate, f.engine.OnMessage(ctx, inbound("B", "hello")).Outcome)
	assert.Equal(t, OutcomeDuplicate, f.engine.OnMessage(ctx, inbound("B", "hello")).Outcome)
	assert.Len(t, f.gateway.Sent(), 1)
}

func TestEngine_ErrorChannelDropsWhenFull(t *testing.T) {
	store := rule.NewMemoryStore()
	store.SetError(errors.New("down"))
	e := New(store, testutil.NewStaticGates("chat"), testutil.NewRecordingGateway(0),
		WithClock(testutil.NewManualClock(time.Time{})), WithErrorBuffer(1))
	defer e.Close()

	for i := 0; i < 5; i++ {
		e.OnMessage(context.Background(), inbound("A", "hello"))
	}
	assert.Len(t, e.Errors(), 1)
}

func TestEngine_Reset(t *testing.T) {
	f := setupEngine(t, helloRule)
	ctx := context.Background()

	f.engine.OnMessage(ctx, inbound("A", "hello"))
	f.engine.Reset()

	assert.Equal(t, OutcomeImmediate, f.engine.OnMessage(ctx, inbound("A", "hello")).Outcome)
	assert.Equal(t, 2, f.gateway.Attempts())
}

func TestEngine_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := metric.NewMetrics(reg)
	require.NoError(t, err)

	clock := testutil.NewManualClock(time.Time{})
	gw := testutil.NewRecordingGateway(4)
	e := New(rule.NewMemoryStore(
		rule.Rule{ID: "now", Keyword: "now", ReplyMessage: "x"},
		rule.Rule{ID: "later", Keyword: "later", ReplyMessage: "y", DelaySeconds: 1},
	), testutil.NewStaticGates("chat"), gw, WithClock(clock), WithMetrics(m))
	defer e.Close()

	ctx := context.Background()
	e.OnMessage(ctx, inbound("A", "now"))
	e.OnMessage(ctx, inbound("A", "now"))
	e.OnMessage(ctx, inbound("B", "later"))
	e.OnMessage(ctx, inbound("C", "nothing"))

	assert.Equal(t, 1.0, promtest.ToFloat64(m.Messages.WithLabelValues("immediate")))
	assert.Equal(t, 1.0, promtest.ToFloat64(m.Messages.WithLabelValues("duplicate")))
	assert.Equal(t, 1.0, promtest.ToFloat64(m.Messages.WithLabelValues("scheduled")))
	assert.Equal(t, 1.0, promtest.ToFloat64(m.Messages.WithLabelValues("no_match")))
	assert.Equal(t, 1.0, promtest.ToFloat64(m.PendingReplies))

	clock.Advance(time.Second)
	assert.Equal(t, 0.0, promtest.ToFloat64(m.PendingReplies))
	assert.Equal(t, 1.0, promtest.ToFloat64(m.Dispatches.WithLabelValues("immediate", "sent")))
	assert.Equal(t, 1.0, promtest.ToFloat64(m.Dispatches.WithLabelValues("delayed", "sent")))
}

func TestEngine_ConcurrentDeliveries(t *testing.T) {
	f := setupEngine(t, helloRule)
	ctx := context.Background()

	const sources = 10
	const deliveries = 20
	var wg sync.WaitGroup
	for s := 0; s < sources; s++ {
		id := string(rune('a' + s))
		for d := 0; d < deliveries; d++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				f.engine.OnMessage(ctx, inbound(id, "hello"))
			}()
		}
	}
	wg.Wait()

	assert.Equal(t, sources, f.gateway.Attempts(), "one reply per source")
}
