// ABOUTME: Tests for the coalescing delivery coordinator
// ABOUTME: Uses a recording fake surface that can block and fail operations

package delivery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YubinMoon/servant-bot/internal/metrics"
)

type op struct {
	Kind    string
	Handle  string
	Content string
}

type fakeSurface struct {
	mu      sync.Mutex
	ops     []op
	nextID  int
	failN   map[string]int // kind -> remaining failures
	gate    chan struct{}  // when set, CreateMessage blocks until closed
	entered chan struct{}  // signalled when CreateMessage is entered

	inflight    atomic.Int32
	maxInflight atomic.Int32
}

func newFakeSurface() *fakeSurface {
	return &fakeSurface{failN: map[string]int{}}
}

func (f *fakeSurface) enter() func() {
	n := f.inflight.Add(1)
	for {
		m := f.maxInflight.Load()
		if n <= m || f.maxInflight.CompareAndSwap(m, n) {
			break
		}
	}
	return func() { f.inflight.Add(-1) }
}

func (f *fakeSurface) fail(kind string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failN[kind] > 0 {
		f.failN[kind]--
		return errors.New(kind + " failed")
	}
	return nil
}

func (f *fakeSurface) record(o op) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ops = append(f.ops, o)
}

func (f *fakeSurface) CreateMessage(ctx context.Context, channelID, content string) (string, error) {
	defer f.enter()()
	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.gate != nil {
		<-f.gate
	}
	if err := f.fail("create"); err != nil {
		return "", err
	}
	f.mu.Lock()
	f.nextID++
	h := fmt.Sprintf("$m%d", f.nextID)
	f.mu.Unlock()
	f.record(op{Kind: "create", Handle: h, Content: content})
	return h, nil
}

func (f *fakeSurface) EditMessage(ctx context.Context, channelID, handle, content string) error {
	defer f.enter()()
	if err := f.fail("edit"); err != nil {
		return err
	}
	f.record(op{Kind: "edit", Handle: handle, Content: content})
	return nil
}

func (f *fakeSurface) DeleteMessage(ctx context.Context, channelID, handle string) error {
	defer f.enter()()
	if err := f.fail("delete"); err != nil {
		return err
	}
	f.record(op{Kind: "delete", Handle: handle})
	return nil
}

func (f *fakeSurface) UploadAttachment(ctx context.Context, channelID string, data []byte, filename string) (string, error) {
	defer f.enter()()
	if err := f.fail("upload"); err != nil {
		return "", err
	}
	f.record(op{Kind: "upload", Handle: filename, Content: string(data)})
	return "$file", nil
}

func (f *fakeSurface) Ops() []op {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]op(nil), f.ops...)
}

func testConfig() Config {
	return Config{
		Interval:       5 * time.Millisecond,
		MaxInline:      50,
		OversizeNotice: "too long, see file",
		AttachmentName: "answer.md",
		OpTimeout:      time.Second,
	}
}

func TestCoordinator_CoalescesRapidPushes(t *testing.T) {
	surface := newFakeSurface()
	surface.gate = make(chan struct{})
	surface.entered = make(chan struct{}, 1)
	c := New(context.Background(), surface, "!room", testConfig(), nil)
	coalescedBefore := testutil.ToFloat64(metrics.DeliveryCoalescedTotal)

	c.Push("a")
	<-surface.entered // first create is in flight
	c.Push("ab")
	c.Push("abc")
	close(surface.gate)

	handle, err := c.Finalize(context.Background(), "abc")
	require.NoError(t, err)
	assert.Equal(t, "$m1", handle)

	assert.Equal(t, []op{
		{Kind: "create", Handle: "$m1", Content: "a"},
		{Kind: "edit", Handle: "$m1", Content: "abc"},
	}, surface.Ops())
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.DeliveryCoalescedTotal)-coalescedBefore, "only \"ab\" was skipped")
}

func TestCoordinator_SequentialPushesCountNoCoalescing(t *testing.T) {
	surface := newFakeSurface()
	c := New(context.Background(), surface, "!room", testConfig(), nil)
	coalescedBefore := testutil.ToFloat64(metrics.DeliveryCoalescedTotal)

	c.Push("a")
	require.Eventually(t, func() bool { return len(surface.Ops()) == 1 }, time.Second, time.Millisecond)
	c.Push("ab")
	_, err := c.Finalize(context.Background(), "ab")
	require.NoError(t, err)

	assert.Len(t, surface.Ops(), 2)
	assert.Zero(t, testutil.ToFloat64(metrics.DeliveryCoalescedTotal)-coalescedBefore)
}

func TestCoordinator_FinalizeSkipsEditWhenAlreadyDelivered(t *testing.T) {
	surface := newFakeSurface()
	c := New(context.Background(), surface, "!room", testConfig(), nil)

	c.Push("done")
	require.Eventually(t, func() bool { return len(surface.Ops()) == 1 }, time.Second, time.Millisecond)

	handle, err := c.Finalize(context.Background(), "done")
	require.NoError(t, err)
	assert.Equal(t, "$m1", handle)
	assert.Len(t, surface.Ops(), 1)
}

func TestCoordinator_FinalizeWithoutPushCreates(t *testing.T) {
	surface := newFakeSurface()
	c := New(context.Background(), surface, "!room", testConfig(), nil)

	handle, err := c.Finalize(context.Background(), "short answer")
	require.NoError(t, err)
	assert.Equal(t, "$m1", handle)
	assert.Equal(t, []op{{Kind: "create", Handle: "$m1", Content: "short answer"}}, surface.Ops())
}

func TestCoordinator_OversizeFallsBackToAttachment(t *testing.T) {
	surface := newFakeSurface()
	c := New(context.Background(), surface, "!room", testConfig(), nil)

	long := strings.Repeat("x", 120)
	c.Push(long[:30])
	require.Eventually(t, func() bool { return len(surface.Ops()) == 1 }, time.Second, time.Millisecond)

	handle, err := c.Finalize(context.Background(), long)
	require.NoError(t, err)
	assert.Equal(t, "$m1", handle)

	ops := surface.Ops()
	require.Len(t, ops, 3)
	assert.Equal(t, op{Kind: "edit", Handle: "$m1", Content: "too long, see file"}, ops[1])
	assert.Equal(t, op{Kind: "upload", Handle: "answer.md", Content: long}, ops[2])
	for _, o := range ops {
		if o.Kind == "edit" || o.Kind == "create" {
			assert.NotEqual(t, long, o.Content, "full text must never be sent inline")
		}
	}
}

func TestCoordinator_PushTruncatesPreview(t *testing.T) {
	surface := newFakeSurface()
	c := New(context.Background(), surface, "!room", testConfig(), nil)

	c.Push(strings.Repeat("가", 80))
	require.Eventually(t, func() bool { return len(surface.Ops()) == 1 }, time.Second, time.Millisecond)

	got := surface.Ops()[0].Content
	assert.Equal(t, 50, len([]rune(got)))
	assert.True(t, strings.HasSuffix(got, "..."))
	_, err := c.Finalize(context.Background(), "")
	require.NoError(t, err)
}

func TestCoordinator_RetriesFailedSendWithLatestContent(t *testing.T) {
	surface := newFakeSurface()
	surface.failN["create"] = 2
	c := New(context.Background(), surface, "!room", testConfig(), nil)

	c.Push("one")
	c.Push("two")

	require.Eventually(t, func() bool { return len(surface.Ops()) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, "two", surface.Ops()[0].Content)

	handle, err := c.Finalize(context.Background(), "two")
	require.NoError(t, err)
	assert.NotEmpty(t, handle)
}

func TestCoordinator_FinalizeSurfacesPersistentFailure(t *testing.T) {
	surface := newFakeSurface()
	surface.failN["create"] = 1000
	c := New(context.Background(), surface, "!room", testConfig(), nil)

	c.Push("partial")
	time.Sleep(20 * time.Millisecond)

	_, err := c.Finalize(context.Background(), "final")
	require.Error(t, err)

	var derr *DeliveryError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, "create", derr.Op)
	assert.Empty(t, c.Handle())
}

func TestCoordinator_DiscardDeletesMessage(t *testing.T) {
	surface := newFakeSurface()
	c := New(context.Background(), surface, "!room", testConfig(), nil)

	c.Push("thinking")
	require.Eventually(t, func() bool { return len(surface.Ops()) == 1 }, time.Second, time.Millisecond)

	require.NoError(t, c.Discard(context.Background()))
	ops := surface.Ops()
	require.Len(t, ops, 2)
	assert.Equal(t, op{Kind: "delete", Handle: "$m1"}, ops[1])
	assert.Empty(t, c.Handle())
}

func TestCoordinator_FinalizeEmptyRemovesPlaceholder(t *testing.T) {
	surface := newFakeSurface()
	c := New(context.Background(), surface, "!room", testConfig(), nil)

	c.Push("Thinking...")
	require.Eventually(t, func() bool { return len(surface.Ops()) == 1 }, time.Second, time.Millisecond)

	handle, err := c.Finalize(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, handle)
	assert.Equal(t, "delete", surface.Ops()[1].Kind)
}

func TestCoordinator_FreshTargetAfterFinalize(t *testing.T) {
	surface := newFakeSurface()
	c := New(context.Background(), surface, "!room", testConfig(), nil)

	first, err := c.Finalize(context.Background(), "round one")
	require.NoError(t, err)

	c.Push("round two")
	require.Eventually(t, func() bool { return len(surface.Ops()) == 2 }, time.Second, time.Millisecond)
	second, err := c.Finalize(context.Background(), "round two")
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
	assert.Equal(t, "create", surface.Ops()[1].Kind)
}

func TestCoordinator_OneOperationInFlight(t *testing.T) {
	surface := newFakeSurface()
	c := New(context.Background(), surface, "!room", testConfig(), nil)

	var sb strings.Builder
	for i := 0; i < 200; i++ {
		sb.WriteString("w")
		c.Push(sb.String()[:min(sb.Len(), 40)])
		if i%20 == 0 {
			time.Sleep(time.Millisecond)
		}
	}
	_, err := c.Finalize(context.Background(), "final")
	require.NoError(t, err)

	assert.Equal(t, int32(1), surface.maxInflight.Load())
	ops := surface.Ops()
	assert.Equal(t, "final", ops[len(ops)-1].Content)
}

func TestCoordinator_FinalizeRespectsContext(t *testing.T) {
	surface := newFakeSurface()
	surface.gate = make(chan struct{})
	c := New(context.Background(), surface, "!room", testConfig(), nil)
	c.Push("stuck")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := c.Finalize(ctx, "stuck")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(surface.gate)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "hello", truncate("hello", 10))
	assert.Equal(t, "he...", truncate("hello world", 5))
	assert.Equal(t, "ab", truncate("abcdef", 2))
}
