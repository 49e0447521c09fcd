package cli

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/autoreply/internal/engine"
	"github.com/roach88/autoreply/internal/gateway"
	"github.com/roach88/autoreply/internal/rule"
	"github.com/roach88/autoreply/internal/testutil"
)

// seedRules writes rules to the file store at path.
func seedRules(t *testing.T, path string, rules ...rule.Rule) {
	t.Helper()
	data, err := rule.EncodeDocument(rules)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0600))
}

func runEngineCmd(t *testing.T, opts *RootOptions, input string, args ...string) ([]gateway.Reply, string, error) {
	t.Helper()
	out := &bytes.Buffer{}
	logs := &bytes.Buffer{}

	cmd := NewRunCommand(opts)
	cmd.SetIn(strings.NewReader(input))
	cmd.SetOut(out)
	cmd.SetErr(logs)
	cmd.SetArgs(args)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := cmd.ExecuteContext(ctx)

	var replies []gateway.Reply
	sc := bufio.NewScanner(out)
	for sc.Scan() {
		var r gateway.Reply
		require.NoError(t, json.Unmarshal(sc.Bytes(), &r))
		replies = append(replies, r)
	}
	return replies, logs.String(), err
}

var greetRules = []rule.Rule{
	{ID: "late", Keyword: "hello", ReplyMessage: "second", Priority: 2},
	{ID: "early", Keyword: "hello", ReplyMessage: "first", Priority: 1},
	{ID: "slow", Keyword: "later", ReplyMessage: "eventually", Priority: 3, DelaySeconds: 30},
}

func TestRun_StdinRepliesOncePerSource(t *testing.T) {
	opts, path := fileStoreOptions(t, "text")
	seedRules(t, path, greetRules...)

	input := strings.Join([]string{
		`{"type":"posted","source_id":"n1","origin":"chat","text":"Hello there","reply_to":"r1"}`,
		`{"type":"posted","source_id":"n1","origin":"chat","text":"hello again","reply_to":"r1"}`,
		`{"type":"posted","source_id":"n2","origin":"chat","text":"nothing here","reply_to":"r2"}`,
		`{"type":"posted","source_id":"n3","origin":"chat","text":"HELLO","reply_to":"r3"}`,
	}, "\n")

	replies, _, err := runEngineCmd(t, opts, input, "--enable", "--allow", "chat")
	require.NoError(t, err)
	assert.Equal(t, []gateway.Reply{
		{ReplyTo: "r1", Text: "first"},
		{ReplyTo: "r3", Text: "first"},
	}, replies)
}

func TestRun_DisabledByDefault(t *testing.T) {
	opts, path := fileStoreOptions(t, "text")
	seedRules(t, path, greetRules...)

	input := `{"type":"posted","source_id":"n1","origin":"chat","text":"hello","reply_to":"r1"}`

	replies, _, err := runEngineCmd(t, opts, input)
	require.NoError(t, err)
	assert.Empty(t, replies)
}

func TestRun_SourceNotAllowed(t *testing.T) {
	opts, path := fileStoreOptions(t, "text")
	seedRules(t, path, greetRules...)

	input := `{"type":"posted","source_id":"n1","origin":"sms","text":"hello","reply_to":"r1"}`

	replies, _, err := runEngineCmd(t, opts, input, "--enable", "--allow", "chat")
	require.NoError(t, err)
	assert.Empty(t, replies)
}

func TestRun_AllowedSourcesFromEnvironment(t *testing.T) {
	opts, path := fileStoreOptions(t, "text")
	opts.Environ["AUTOREPLY_ENGINE_ENABLED"] = "true"
	opts.Environ["AUTOREPLY_ENGINE_ALLOWED_SOURCES"] = "sms,chat"
	seedRules(t, path, greetRules...)

	input := `{"type":"posted","source_id":"n1","origin":"sms","text":"hello","reply_to":"r1"}`

	replies, _, err := runEngineCmd(t, opts, input)
	require.NoError(t, err)
	assert.Equal(t, []gateway.Reply{{ReplyTo: "r1", Text: "first"}}, replies)
}

func TestRun_RemovedCancelsDelayedReply(t *testing.T) {
	opts, path := fileStoreOptions(t, "text")
	seedRules(t, path, greetRules...)

	input := strings.Join([]string{
		`{"type":"posted","source_id":"n1","origin":"chat","text":"see you later","reply_to":"r1"}`,
		`{"type":"removed","source_id":"n1"}`,
	}, "\n")

	start := time.Now()
	replies, _, err := runEngineCmd(t, opts, input, "--enable", "--allow", "chat")
	require.NoError(t, err)
	assert.Empty(t, replies)
	assert.Less(t, time.Since(start), 5*time.Second, "cancelled reply must not hold the process")
}

func TestRun_MalformedLinesSkipped(t *testing.T) {
	opts, path := fileStoreOptions(t, "text")
	seedRules(t, path, greetRules...)

	input := strings.Join([]string{
		`not json`,
		`{"type":"posted","origin":"chat","text":"hello"}`,
		``,
		`{"type":"posted","source_id":"n1","origin":"chat","text":"hello","reply_to":"r1"}`,
	}, "\n")

	replies, logs, err := runEngineCmd(t, opts, input, "--enable", "--allow", "chat")
	require.NoError(t, err)
	assert.Equal(t, []gateway.Reply{{ReplyTo: "r1", Text: "first"}}, replies)
	assert.Contains(t, logs, "dropping malformed event")
}

func TestRun_MissingReplyHandleLeavesNoMark(t *testing.T) {
	opts, path := fileStoreOptions(t, "text")
	seedRules(t, path, greetRules...)

	input := strings.Join([]string{
		`{"type":"posted","source_id":"n1","origin":"chat","text":"hello"}`,
		`{"type":"posted","source_id":"n1","origin":"chat","text":"hello","reply_to":"r1"}`,
	}, "\n")

	replies, _, err := runEngineCmd(t, opts, input, "--enable", "--allow", "chat")
	require.NoError(t, err)
	assert.Equal(t, []gateway.Reply{{ReplyTo: "r1", Text: "first"}}, replies)
}

func TestRun_InvalidConfig(t *testing.T) {
	opts := &RootOptions{
		Format:  "text",
		Environ: map[string]string{"AUTOREPLY_LOG_FORMAT": "xml"},
	}

	_, _, err := runEngineCmd(t, opts, "")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "failed to load config")
}

func TestRun_MissingConfigFile(t *testing.T) {
	opts := &RootOptions{Format: "text", Config: "/nonexistent/autoreply.yaml", Environ: map[string]string{}}

	_, _, err := runEngineCmd(t, opts, "")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestRun_RejectsArgs(t *testing.T) {
	opts, _ := fileStoreOptions(t, "text")

	_, _, err := runEngineCmd(t, opts, "", "extra")
	require.Error(t, err)
}

func TestRun_CancelledContextStops(t *testing.T) {
	opts, path := fileStoreOptions(t, "text")
	seedRules(t, path, greetRules...)

	// A reader that never returns EOF keeps the engine running until the
	// context is cancelled.
	pr, pw, err := os.Pipe()
	require.NoError(t, err)
	defer pw.Close()
	defer pr.Close()

	cmd := NewRunCommand(opts)
	cmd.SetIn(pr)
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--enable"})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- cmd.ExecuteContext(ctx) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not stop after cancellation")
	}
}

func TestWaitPending_WaitsForInFlightReply(t *testing.T) {
	clock := testutil.NewManualClock(time.Time{})
	entered := make(chan struct{})
	release := make(chan struct{})
	var sent []string
	gw := engine.GatewayFunc(func(ctx context.Context, _, text string) error {
		close(entered)
		<-release
		if err := ctx.Err(); err != nil {
			return err
		}
		sent = append(sent, text)
		return nil
	})
	eng := engine.New(
		rule.NewMemoryStore(rule.Rule{ID: "slow", Keyword: "hi", ReplyMessage: "late", DelaySeconds: 1}),
		testutil.NewStaticGates("chat"), gw, engine.WithClock(clock))

	res := eng.OnMessage(context.Background(), engine.InboundMessage{SourceID: "A", Origin: "chat", Text: "hi", ReplyHandle: "h"})
	require.Equal(t, engine.OutcomeScheduled, res.Outcome)

	go clock.Advance(time.Second)
	<-entered
	require.Empty(t, eng.Pending())

	waited := make(chan error, 1)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	go func() { waited <- waitPending(context.Background(), eng, logger) }()

	select {
	case <-waited:
		t.Fatal("returned while a reply was in flight")
	case <-time.After(3 * drainInterval):
	}

	close(release)
	require.NoError(t, <-waited)
	eng.Close()
	assert.Equal(t, []string{"late"}, sent)
}
