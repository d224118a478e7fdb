package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bft-labs/peerlink/internal/actor"
	"github.com/bft-labs/peerlink/internal/domain"
	"github.com/bft-labs/peerlink/internal/exchange"
	"github.com/bft-labs/peerlink/internal/transport"
)

func TestServer_AnswersEnquiry(t *testing.T) {
	f := newFixture(t)
	body, err := Server(f.config("srv"))
	f.spawn(t, body, err)

	peer := f.probe(t, "peer")
	link := f.dial(t, peer, "srv")
	require.NoError(t, peer.Send(link, actor.Enquiry, nil))
	m := expect(t, peer, actor.Ack)
	assert.True(t, m.From.Via(link))
}

func TestServer_UnexpectedKindIsRejectedAndServerKeepsRunning(t *testing.T) {
	f := newFixture(t)
	body, err := Server(f.config("srv"))
	f.spawn(t, body, err)

	peer := f.probe(t, "peer")
	link := f.dial(t, peer, "srv")
	require.NoError(t, peer.Send(link, actor.Nak, nil))
	require.NoError(t, peer.Send(link, actor.Enquiry, nil))
	expect(t, peer, actor.Ack)

	assert.True(t, f.log.find("WARN unexpected message"))
	assert.True(t, f.log.find("rejected Nak"))
	expectNone(t, f.owner, 20*time.Millisecond, actor.Completed)
}

func TestServer_ListenFailureIsSurfaced(t *testing.T) {
	f := newFixture(t)
	cfg := f.config("srv")
	cfg.Endpoint = transport.Endpoint{Scheme: "carrier", Host: "pigeon"}
	body, err := Server(cfg)
	f.spawn(t, body, err)

	done := expect(t, f.owner, actor.Completed)
	o, ok := done.Body.(exchange.Failed)
	require.True(t, ok, "got %v", done.Body)
	assert.ErrorIs(t, o, domain.ErrUnsupportedScheme)
}

func TestServer_StopClosesLinks(t *testing.T) {
	f := newFixture(t)
	body, err := Server(f.config("srv"))
	addr := f.spawn(t, body, err)

	peer := f.probe(t, "peer")
	link := f.dial(t, peer, "srv")
	require.NoError(t, peer.Send(link, actor.Enquiry, nil))
	expect(t, peer, actor.Ack)

	require.NoError(t, f.owner.Send(addr, actor.Stop, nil))
	assert.Equal(t, exchange.Aborted{}, expect(t, f.owner, actor.Completed).Body)
	m := expect(t, peer, actor.Closed, actor.Abandoned)
	assert.Equal(t, actor.Closed, m.Kind)
}
