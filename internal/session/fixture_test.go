package session

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bft-labs/peerlink/internal/actor"
	"github.com/bft-labs/peerlink/internal/transport"
	"github.com/bft-labs/peerlink/pkg/log"
)

// recorder keeps every entry logged at Info or above.
type recorder struct {
	mu      sync.Mutex
	entries []string
}

func (r *recorder) Debug(string, ...log.Field) {}
func (r *recorder) Info(msg string, fields ...log.Field) {
	r.add("INFO", msg, fields)
}
func (r *recorder) Warn(msg string, fields ...log.Field) {
	r.add("WARN", msg, fields)
}
func (r *recorder) Error(msg string, fields ...log.Field) {
	r.add("ERROR", msg, fields)
}

func (r *recorder) add(level, msg string, fields []log.Field) {
	var b strings.Builder
	b.WriteString(level + " " + msg)
	for _, f := range fields {
		if s, ok := f.Value.(string); ok {
			b.WriteString(" " + f.Key + "=" + s)
		}
	}
	r.mu.Lock()
	r.entries = append(r.entries, b.String())
	r.mu.Unlock()
}

func (r *recorder) find(substr string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		if strings.Contains(e, substr) {
			return true
		}
	}
	return false
}

type fixture struct {
	rt    *actor.Runtime
	net   *transport.Network
	tr    *transport.Transport
	owner *actor.Unit
	log   *recorder
}

func newFixture(t *testing.T, opts ...actor.Option) *fixture {
	t.Helper()
	rec := &recorder{}
	rt := actor.NewRuntime(append([]actor.Option{actor.WithLogger(rec)}, opts...)...)
	n := transport.NewNetwork()
	tr := transport.New(rt, transport.Config{Network: n})
	owner, err := rt.Probe("owner")
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = tr.Close()
		rt.Close()
	})
	return &fixture{rt: rt, net: n, tr: tr, owner: owner, log: rec}
}

func (f *fixture) config(name string) Config {
	return Config{
		Transport: f.tr,
		Endpoint:  transport.MustParseEndpoint("mem://" + name),
		Deadline:  time.Second,
	}
}

func (f *fixture) probe(t *testing.T, name string) *actor.Unit {
	t.Helper()
	u, err := f.rt.Probe(name)
	require.NoError(t, err)
	return u
}

// listen binds a probe as a hand-driven server.
func (f *fixture) listen(t *testing.T, name string) *actor.Unit {
	t.Helper()
	srv := f.probe(t, "server-"+name)
	f.tr.Listen(srv.Addr(), transport.MustParseEndpoint("mem://"+name))
	expect(t, srv, actor.Listening)
	return srv
}

func (f *fixture) spawn(t *testing.T, body actor.Body, err error) actor.Address {
	t.Helper()
	require.NoError(t, err)
	addr, err := f.owner.Spawn("controller", body)
	require.NoError(t, err)
	return addr
}

// dial connects a probe to name, retrying until a listener is bound.
func (f *fixture) dial(t *testing.T, u *actor.Unit, name string) actor.Address {
	t.Helper()
	ep := transport.MustParseEndpoint("mem://" + name)
	for i := 0; i < 200; i++ {
		f.tr.Connect(u.Addr(), ep)
		m := expect(t, u, actor.Connected, actor.NotConnected)
		if m.Kind == actor.Connected {
			return m.Body.(transport.Connected).Link
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("%s never came up", name)
	return ""
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
