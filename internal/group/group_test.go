package group

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bft-labs/peerlink/internal/actor"
	"github.com/bft-labs/peerlink/internal/connector"
	"github.com/bft-labs/peerlink/internal/domain"
	"github.com/bft-labs/peerlink/internal/exchange"
	"github.com/bft-labs/peerlink/internal/transport"
)

type fixture struct {
	rt    *actor.Runtime
	net   *transport.Network
	tr    *transport.Transport
	owner *actor.Unit
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	rt := actor.NewRuntime()
	n := transport.NewNetwork()
	tr := transport.New(rt, transport.Config{Network: n})
	owner, err := rt.Probe("owner")
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = tr.Close()
		rt.Close()
	})
	return &fixture{rt: rt, net: n, tr: tr, owner: owner}
}

func (f *fixture) listen(t *testing.T, name string) *actor.Unit {
	t.Helper()
	srv, err := f.rt.Probe("server-" + name)
	require.NoError(t, err)
	f.tr.Listen(srv.Addr(), transport.MustParseEndpoint("mem://"+name))
	expect(t, srv, actor.Listening)
	return srv
}

func (f *fixture) member(t *testing.T, name string, p connector.Policy) Member {
	t.Helper()
	m, err := Connect(name, connector.Config{
		Transport: f.tr,
		Target:    transport.MustParseEndpoint("mem://" + name),
		Policy:    p,
	})
	require.NoError(t, err)
	return m
}

func (f *fixture) spawn(t *testing.T, cfg Config) actor.Address {
	t.Helper()
	body, err := New(cfg)
	require.NoError(t, err)
	addr, err := f.owner.Spawn("group", body)
	require.NoError(t, err)
	return addr
}

func fastPolicy() connector.Policy {
	p := connector.DefaultPolicy()
	p.Initial = 2 * time.Millisecond
	p.Max = 10 * time.Millisecond
	return p
}

func expect(t *testing.T, u *actor.Unit, kinds ...actor.Kind) actor.Message {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	m, err := u.Select(ctx, 0, kinds...)
	require.NoError(t, err, "waiting for %v", kinds)
	return m
}

func expectNone(t *testing.T, u *actor.Unit, d time.Duration, kinds ...actor.Kind) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	m, err := u.Select(ctx, 0, kinds...)
	require.Error(t, err, "unexpected %s", m.Kind)
}

// ready consumes updates until Ready arrives and returns its body.
func ready(t *testing.T, owner *actor.Unit, table *Table) Addresses {
	t.Helper()
	for {
		m := expect(t, owner, actor.GroupUpdate, actor.Ready)
		if m.Kind == actor.Ready {
			return m.Body.(Addresses)
		}
		table.Update(m)
	}
}

func TestGroup_ReadyWhenEveryMemberIsUsable(t *testing.T) {
	f := newFixture(t)
	f.listen(t, "a")
	f.listen(t, "b")

	cfg := Config{Members: []Member{f.member(t, "a", fastPolicy()), f.member(t, "b", fastPolicy())}}
	f.spawn(t, cfg)

	table := NewTable(cfg.Names()...)
	addrs := ready(t, f.owner, table)
	assert.Len(t, addrs, 2)
	assert.True(t, table.Ready())
	assert.Equal(t, table.Addresses(), addrs)
	assert.NotEqual(t, addrs["a"], addrs["b"])
}

func TestGroup_UnreachableMemberKeepsGroupForming(t *testing.T) {
	f := newFixture(t)
	f.listen(t, "a")

	cfg := Config{Members: []Member{f.member(t, "a", fastPolicy()), f.member(t, "b", fastPolicy())}}
	f.spawn(t, cfg)

	m := expect(t, f.owner, actor.GroupUpdate)
	assert.Equal(t, "a", m.Body.(Update).Name)
	expectNone(t, f.owner, 50*time.Millisecond, actor.Ready)
	require.Eventually(t, func() bool { return f.net.Dials("b") > 2 }, time.Second, 5*time.Millisecond)

	f.listen(t, "b")
	addrs := ready(t, f.owner, NewTable(cfg.Names()...))
	assert.Contains(t, addrs, "b")
}

func TestGroup_RegressionSendsNotReadyThenReadyAgain(t *testing.T) {
	f := newFixture(t)
	f.listen(t, "a")
	f.listen(t, "b")

	cfg := Config{Members: []Member{f.member(t, "a", fastPolicy()), f.member(t, "b", fastPolicy())}}
	f.spawn(t, cfg)
	table := NewTable(cfg.Names()...)
	first := ready(t, f.owner, table)

	require.Positive(t, f.net.Sever("b"))

	m := expect(t, f.owner, actor.GroupUpdate)
	require.True(t, table.Update(m))
	assert.Equal(t, Update{Name: "b"}, m.Body)
	assert.False(t, table.Ready())
	assert.Equal(t, []string{"b"}, table.Missing())

	m = expect(t, f.owner, actor.NotReady)
	assert.Equal(t, "b", m.Body)

	second := ready(t, f.owner, table)
	assert.Equal(t, first["a"], second["a"])
	assert.NotEqual(t, first["b"], second["b"])
}

func TestGroup_StopDissolvesAndClosesMembers(t *testing.T) {
	f := newFixture(t)
	srvA := f.listen(t, "a")
	srvB := f.listen(t, "b")

	cfg := Config{Members: []Member{f.member(t, "a", fastPolicy()), f.member(t, "b", fastPolicy())}}
	addr := f.spawn(t, cfg)
	ready(t, f.owner, NewTable(cfg.Names()...))

	require.NoError(t, f.owner.Send(addr, actor.Stop, nil))
	m := expect(t, f.owner, actor.Completed)
	assert.Equal(t, addr, m.From)
	assert.Equal(t, exchange.Aborted{}, m.Body)

	expect(t, srvA, actor.Closed)
	expect(t, srvB, actor.Closed)
	expectNone(t, f.owner, 30*time.Millisecond, actor.Completed)
}

func TestGroup_SessionValueBecomesGroupValue(t *testing.T) {
	f := newFixture(t)
	srvA := f.listen(t, "a")
	f.listen(t, "b")

	cfg := Config{
		Members: []Member{f.member(t, "a", fastPolicy()), f.member(t, "b", fastPolicy())},
		Session: func(addrs Addresses) actor.Body {
			return func(u *actor.Unit) any {
				return exchange.Issue(u.Context(), u, addrs["a"], actor.Enquiry, nil, time.Second, actor.Ack)
			}
		},
	}
	f.spawn(t, cfg)

	m := expect(t, srvA, actor.Enquiry)
	require.NoError(t, srvA.Reply(m, actor.Ack, nil))

	done := expect(t, f.owner, actor.Completed)
	o, ok := done.Body.(exchange.Resolved)
	require.True(t, ok, "got %v", done.Body)
	assert.Equal(t, actor.Ack, o.Reply.Kind)
}

func TestGroup_SessionSeesRegression(t *testing.T) {
	f := newFixture(t)
	srvA := f.listen(t, "a")
	f.listen(t, "b")

	cfg := Config{
		Members: []Member{f.member(t, "a", fastPolicy()), f.member(t, "b", fastPolicy())},
		Session: func(addrs Addresses) actor.Body {
			return func(u *actor.Unit) any {
				return exchange.Issue(u.Context(), u, addrs["a"], actor.Enquiry, nil, 0, actor.Ack)
			}
		},
	}
	f.spawn(t, cfg)
	expect(t, srvA, actor.Enquiry)

	f.net.Sever("b")
	done := expect(t, f.owner, actor.Completed)
	assert.IsType(t, exchange.Abandoned{}, done.Body)
}

func TestGroup_StrictDeadlineDissolves(t *testing.T) {
	f := newFixture(t)
	f.listen(t, "a")

	cfg := Config{
		Members:  []Member{f.member(t, "a", fastPolicy()), f.member(t, "b", fastPolicy())},
		Deadline: 30 * time.Millisecond,
		Strict:   true,
	}
	f.spawn(t, cfg)

	m := expect(t, f.owner, actor.Completed)
	assert.Equal(t, exchange.TimedOut{After: 30 * time.Millisecond}, m.Body)
}

func TestGroup_LenientDeadlineKeepsForming(t *testing.T) {
	f := newFixture(t)
	f.listen(t, "a")

	cfg := Config{
		Members:  []Member{f.member(t, "a", fastPolicy()), f.member(t, "b", fastPolicy())},
		Deadline: 10 * time.Millisecond,
	}
	f.spawn(t, cfg)

	expectNone(t, f.owner, 60*time.Millisecond, actor.Completed, actor.Ready)
	f.listen(t, "b")
	ready(t, f.owner, NewTable(cfg.Names()...))
}

func TestGroup_EveryMemberGivingUpDissolves(t *testing.T) {
	f := newFixture(t)
	p := fastPolicy()
	p.MaxAttempts = 1

	cfg := Config{Members: []Member{f.member(t, "a", p), f.member(t, "b", p)}}
	f.spawn(t, cfg)

	m := expect(t, f.owner, actor.Completed)
	gaveUp, ok := m.Body.(connector.Unusable)
	require.True(t, ok, "got %v", m.Body)
	assert.True(t, errors.Is(gaveUp.Reason, domain.ErrRetriesExhausted))
}

func TestConfig_Validate(t *testing.T) {
	body := func(*actor.Unit) any { return nil }

	assert.ErrorIs(t, Config{}.Validate(), domain.ErrEmptyGroup)
	assert.ErrorIs(t, Config{Members: []Member{{"a", body}, {"a", body}}}.Validate(), domain.ErrDuplicateMember)
	assert.ErrorIs(t, Config{Members: []Member{{"a", nil}}}.Validate(), domain.ErrInvalidConfig)
	assert.ErrorIs(t, Config{Members: []Member{{"a", body}}, Deadline: -1}.Validate(), domain.ErrInvalidConfig)
	assert.NoError(t, Config{Members: []Member{{"a", body}, {"b", body}}}.Validate())

	_, err := New(Config{})
	assert.ErrorIs(t, err, domain.ErrEmptyGroup)
	_, err = Connect("a", connector.Config{})
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)
}
