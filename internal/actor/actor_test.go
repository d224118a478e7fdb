package actor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"
)

func testContext(t *testing.T, d time.Duration) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), d)
	t.Cleanup(cancel)
	return ctx
}

func newProbe(t *testing.T, rt *Runtime) *Unit {
	t.Helper()
	p, err := rt.Probe("probe")
	require.NoError(t, err)
	t.Cleanup(func() { rt.Release(p) })
	return p
}

func TestMailbox_FIFO(t *testing.T) {
	b := NewMailbox()
	b.Deliver(Message{Kind: Enquiry})
	b.Deliver(Message{Kind: Ack})
	b.Deliver(Message{Kind: Nak})
	require.Equal(t, 3, b.Len())

	ctx := testContext(t, time.Second)
	for _, want := range []Kind{Enquiry, Ack, Nak} {
		m, err := b.Take(ctx)
		require.NoError(t, err)
		require.Equal(t, want, m.Kind)
	}
}

func TestMailbox_CloseDropsDeliveries(t *testing.T) {
	b := NewMailbox()
	b.Deliver(Message{Kind: Enquiry})
	b.Close()
	b.Deliver(Message{Kind: Ack})
	require.Zero(t, b.Len())

	_, err := b.Take(testContext(t, 20*time.Millisecond))
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestAddress_Routing(t *testing.T) {
	a := Address("link-1/client-2")
	require.Equal(t, Address("link-1"), a.Link())
	require.Equal(t, Address("client-2"), a.Remote())
	require.True(t, a.Via("link-1"))
	require.False(t, a.Via("link-9"))
	require.False(t, a.Via(""))
	require.Equal(t, Address("plain"), Address("plain").Link())
	require.Empty(t, Address("plain").Remote())
}

func TestKind_StringRoundTrip(t *testing.T) {
	for k := KindUnknown; k < kindCount; k++ {
		require.Equal(t, k, ParseKind(k.String()))
	}
	require.Equal(t, KindUnknown, ParseKind("Bogus"))
	require.Equal(t, "Unknown", Kind(-1).String())
}

func TestSpawn_CompletionReachesParent(t *testing.T) {
	rt := NewRuntime()
	defer rt.Close()
	p := newProbe(t, rt)

	child, err := rt.Spawn(p.Addr(), "echo", func(u *Unit) any {
		m, err := u.Receive(u.Context())
		if err != nil {
			return err
		}
		_ = u.Reply(m, Ack, m.Body)
		return "done"
	})
	require.NoError(t, err)

	ctx := testContext(t, time.Second)
	m, err := p.Ask(ctx, child, Enquiry, 42, 0, Ack)
	require.NoError(t, err)
	require.Equal(t, child, m.From)
	require.Equal(t, 42, m.Body)

	m, err = p.Select(ctx, 0, Completed)
	require.NoError(t, err)
	require.Equal(t, child, m.From)
	require.Equal(t, "done", m.Body)
	require.False(t, rt.Known(child))
}

func TestSpawn_OnCompleteAndPanic(t *testing.T) {
	rt := NewRuntime()
	defer rt.Close()

	var mu sync.Mutex
	var got any
	done := make(chan struct{})
	_, err := rt.Spawn("", "boom", func(u *Unit) any {
		panic("bad")
	}, OnComplete(func(_ Address, v any) {
		mu.Lock()
		got = v
		mu.Unlock()
		close(done)
	}))
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("completion callback not called")
	}
	mu.Lock()
	defer mu.Unlock()
	require.Error(t, got.(error))
}

func TestSelect_DefersInArrivalOrder(t *testing.T) {
	rt := NewRuntime()
	defer rt.Close()
	p := newProbe(t, rt)
	q := newProbe(t, rt)

	require.NoError(t, q.Send(p.Addr(), Enquiry, 1))
	require.NoError(t, q.Send(p.Addr(), Nak, 2))
	require.NoError(t, q.Send(p.Addr(), Enquiry, 3))
	require.NoError(t, q.Send(p.Addr(), Ack, 4))

	ctx := testContext(t, time.Second)
	m, err := p.Select(ctx, 0, Ack)
	require.NoError(t, err)
	require.Equal(t, 4, m.Body)

	var bodies []any
	for i := 0; i < 3; i++ {
		m, err := p.Receive(ctx)
		require.NoError(t, err)
		bodies = append(bodies, m.Body)
	}
	require.Equal(t, []any{1, 2, 3}, bodies)
}

func TestSelect_OtherMatchesAnything(t *testing.T) {
	rt := NewRuntime()
	defer rt.Close()
	p := newProbe(t, rt)
	require.NoError(t, p.Send(p.Addr(), GroupUpdate, nil))

	m, err := p.Select(testContext(t, time.Second), 0, Other)
	require.NoError(t, err)
	require.Equal(t, GroupUpdate, m.Kind)
}

func TestSelect_TimeoutReturnsSelectTimer(t *testing.T) {
	rt := NewRuntime()
	defer rt.Close()
	p := newProbe(t, rt)

	m, err := p.Select(testContext(t, time.Second), 20*time.Millisecond, Ack)
	require.NoError(t, err)
	require.Equal(t, SelectTimer, m.Kind)
	require.False(t, p.TimerArmed(SelectTimer))
}

func TestTimer_FiresAfterDeadline(t *testing.T) {
	mock := clock.NewMock()
	rt := NewRuntime(WithClock(mock))
	defer rt.Close()
	p := newProbe(t, rt)

	p.StartTimer(Timer, 3*time.Second)
	mock.Add(2900 * time.Millisecond)
	_, err := p.Select(testContext(t, 30*time.Millisecond), 0, Timer)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	mock.Add(100 * time.Millisecond)
	m, err := p.Select(testContext(t, time.Second), 0, Timer)
	require.NoError(t, err)
	require.Equal(t, Timer, m.Kind)
	require.False(t, p.TimerArmed(Timer))
}

func TestTimer_StaleTickDiscarded(t *testing.T) {
	mock := clock.NewMock()
	rt := NewRuntime(WithClock(mock))
	defer rt.Close()
	p := newProbe(t, rt)

	p.StartTimer(Timer, time.Second)
	mock.Add(time.Second)
	// The tick is queued but the timer is cancelled before it is read.
	p.CancelTimer(Timer)

	_, err := p.Select(testContext(t, 30*time.Millisecond), 0, Timer)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestTimer_RearmReplacesPrevious(t *testing.T) {
	mock := clock.NewMock()
	rt := NewRuntime(WithClock(mock))
	defer rt.Close()
	p := newProbe(t, rt)

	p.StartTimer(Timer, time.Second)
	p.StartTimer(Timer, 5*time.Second)
	mock.Add(2 * time.Second)
	_, err := p.Select(testContext(t, 30*time.Millisecond), 0, Timer)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	mock.Add(3 * time.Second)
	m, err := p.Select(testContext(t, time.Second), 0, Timer)
	require.NoError(t, err)
	require.Equal(t, Timer, m.Kind)
}

type recorder struct {
	mu   sync.Mutex
	msgs []Message
}

func (r *recorder) Deliver(m Message) {
	r.mu.Lock()
	r.msgs = append(r.msgs, m)
	r.mu.Unlock()
}

func TestPost_RoutesThroughLinkPrefix(t *testing.T) {
	rt := NewRuntime()
	defer rt.Close()
	rec := &recorder{}
	require.NoError(t, rt.Register("link-1", rec))

	require.NoError(t, rt.Post(Message{Kind: Ack, To: "link-1/server-7"}))
	require.Error(t, rt.Post(Message{Kind: Ack, To: "link-2/server-7"}))

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.msgs, 1)
	require.Equal(t, Address("link-1/server-7"), rec.msgs[0].To)
}

func TestRuntime_CloseEndsReceive(t *testing.T) {
	rt := NewRuntime()
	_, err := rt.Spawn("", "idle", func(u *Unit) any {
		_, err := u.Receive(u.Context())
		return err
	})
	require.NoError(t, err)

	rt.Close()
	rt.Wait()
	_, err = rt.Probe("late")
	require.Error(t, err)
}
