package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bft-labs/peerlink/internal/actor"
	"github.com/bft-labs/peerlink/internal/exchange"
)

func TestSplit_SessionClientAgainstSessionServer(t *testing.T) {
	f := newFixture(t)
	body, err := SessionServer(f.config("srv"))
	f.spawn(t, body, err)
	f.dial(t, f.probe(t, "waiter"), "srv")

	body, err = SessionClient(f.config("srv"))
	addr := f.spawn(t, body, err)

	done := expect(t, f.owner, actor.Completed)
	assert.Equal(t, addr, done.From)
	o, ok := done.Body.(exchange.Resolved)
	require.True(t, ok, "got %v", done.Body)
	assert.Equal(t, actor.Ack, o.Reply.Kind)

	// Neither controller ever saw an exchange message.
	assert.False(t, f.log.find("unexpected message"))
}

func TestSplit_ControllerGetsSessionValueOnCleanClose(t *testing.T) {
	f := newFixture(t)
	srv := f.listen(t, "srv")
	body, err := SessionClient(f.config("srv"))
	f.spawn(t, body, err)

	m := expect(t, srv, actor.Enquiry)
	require.NoError(t, srv.Reply(m, actor.Nak, nil))

	done := expect(t, f.owner, actor.Completed)
	o, ok := done.Body.(exchange.Resolved)
	require.True(t, ok, "got %v", done.Body)
	assert.Equal(t, actor.Nak, o.Reply.Kind)
	expect(t, srv, actor.Closed)
}

func TestSplit_ControllerGetsAbandonedOnLoss(t *testing.T) {
	f := newFixture(t)
	srv := f.listen(t, "srv")
	body, err := SessionClient(f.config("srv"))
	f.spawn(t, body, err)

	expect(t, srv, actor.Enquiry)
	require.Positive(t, f.net.Sever("srv"))
	assert.IsType(t, exchange.Abandoned{}, expect(t, f.owner, actor.Completed).Body)
}

func TestSplit_PeerCloseAbandonsSessionExchange(t *testing.T) {
	f := newFixture(t)
	srv := f.listen(t, "srv")
	body, err := SessionClient(f.config("srv"))
	f.spawn(t, body, err)

	m := expect(t, srv, actor.Enquiry)
	require.NoError(t, srv.Send(m.From.Link(), actor.Close, nil))

	done := expect(t, f.owner, actor.Completed)
	assert.IsType(t, exchange.Abandoned{}, done.Body, "got %v", done.Body)
	expect(t, srv, actor.Closed)
	assert.False(t, f.log.find("unexpected message"))
}

func TestSplit_ServerSessionEndsWithItsLink(t *testing.T) {
	f := newFixture(t)
	body, err := SessionServer(f.config("srv"))
	f.spawn(t, body, err)

	peer := f.probe(t, "peer")
	link := f.dial(t, peer, "srv")
	require.NoError(t, peer.Send(link, actor.Enquiry, nil))
	expect(t, peer, actor.Ack)
	require.NoError(t, peer.Send(link, actor.Close, nil))
	expect(t, peer, actor.Closed)

	require.Eventually(t, func() bool { return f.log.find("session=abandoned") }, time.Second, 5*time.Millisecond)
	assert.False(t, f.log.find("session=aborted"))
	assert.False(t, f.log.find("unexpected message"))
}

func TestSplit_ServerSessionRejectsUnknownKinds(t *testing.T) {
	f := newFixture(t)
	body, err := SessionServer(f.config("srv"))
	f.spawn(t, body, err)

	peer := f.probe(t, "peer")
	link := f.dial(t, peer, "srv")
	require.NoError(t, peer.Send(link, actor.Ack, nil))
	require.NoError(t, peer.Send(link, actor.Enquiry, nil))
	expect(t, peer, actor.Ack)
	assert.True(t, f.log.find("rejected Ack"))
}

func TestSplit_StopSessionClient(t *testing.T) {
	f := newFixture(t)
	srv := f.listen(t, "srv")
	body, err := SessionClient(f.config("srv"))
	addr := f.spawn(t, body, err)

	expect(t, srv, actor.Enquiry)
	require.NoError(t, f.owner.Send(addr, actor.Stop, nil))
	assert.Equal(t, exchange.Aborted{}, expect(t, f.owner, actor.Completed).Body)
	expect(t, srv, actor.Closed)
}
