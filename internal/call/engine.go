// Package call owns the client's single voice-call session: offers and
// answers, candidate relay, arbitration between simultaneous call
// attempts, and resource cleanup on every terminal transition.
//
// All transitions are serialized through one mutex, so no two of them
// ever run concurrently; adapter callbacks (local candidates, remote
// tracks) re-enter through the same lock and are checked against the
// current session before they may act.
package call

import (
	"context"
	"errors"
	"fmt"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/parley-chat/parley/internal/domain"
	"github.com/parley-chat/parley/internal/protocol"
)

var (
	ErrNoPendingOffer   = errors.New("no pending incoming offer")
	ErrNotInCall        = errors.New("no active or pending call")
	ErrMediaUnavailable = errors.New("local media unavailable")
)

// Options carry the optional UI-facing hooks.
type Options struct {
	// Notify receives user-visible call status lines. Optional.
	Notify Notifier
	// OnIncoming fires after a call-offer lands and the engine is in
	// the incoming-offered phase; the UI should surface an
	// accept/decline prompt. Optional.
	OnIncoming func(PendingOffer)
	// OnPhaseChange fires after every phase transition. Optional.
	OnPhaseChange func(Phase)
}

type Engine struct {
	media Media
	send  Sender
	opts  Options

	mu      chan struct{} // single-slot semaphore, see lock()
	phase   Phase
	session *session
	pending *PendingOffer
}

// New builds an idle engine. media and send are required.
func New(media Media, send Sender, opts Options) *Engine {
	e := &Engine{
		media: media,
		send:  send,
		opts:  opts,
		mu:    make(chan struct{}, 1),
		phase: PhaseIdle,
	}
	e.mu <- struct{}{}
	return e
}

// lock serializes transitions. A channel semaphore instead of a
// sync.Mutex keeps the option of ctx-aware acquisition open and makes
// the single-timeline model explicit.
func (e *Engine) lock() { <-e.mu }

func (e *Engine) unlock() { e.mu <- struct{}{} }

func (e *Engine) Phase() Phase {
	e.lock()
	defer e.unlock()
	return e.phase
}

// Pending returns the currently held incoming offer, if any.
func (e *Engine) Pending() (PendingOffer, bool) {
	e.lock()
	defer e.unlock()
	if e.pending == nil {
		return PendingOffer{}, false
	}
	return *e.pending, true
}

// PeerID returns the remote party of the current session.
func (e *Engine) PeerID() (domain.UserID, bool) {
	e.lock()
	defer e.unlock()
	if e.session == nil {
		return "", false
	}
	return e.session.peerID, true
}

// StartCall places an outgoing call. Any existing session or pending
// offer is torn down first, superseded without a farewell signal.
// On failure every partially
// acquired resource is released and the engine is idle again.
func (e *Engine) StartCall(ctx context.Context, target domain.UserID, targetName string) error {
	e.lock()
	defer e.unlock()

	e.teardownLocked()

	sess := &session{peerID: target, peerName: targetName, direction: DirectionOutgoing}
	if err := e.setupPeerLocked(ctx, sess); err != nil {
		e.notice("could not start the call")
		return err
	}

	offer, err := sess.peer.CreateOffer(ctx)
	if err != nil {
		e.destroySession(sess)
		e.notice("could not start the call")
		return fmt.Errorf("create offer: %w", err)
	}

	frame, err := protocol.EncodeCallOffer(target, offer)
	if err != nil {
		e.destroySession(sess)
		return fmt.Errorf("encode call-offer: %w", err)
	}
	if err := e.send.TrySend(frame); err != nil {
		e.destroySession(sess)
		e.notice("could not start the call")
		return fmt.Errorf("send call-offer: %w", err)
	}

	e.session = sess
	e.setPhase(PhaseOutgoingPending)
	log.Info().Str("module", "call").Str("target", string(target)).Msg("outgoing call offered")
	return nil
}

// AcceptIncoming answers the currently pending offer.
func (e *Engine) AcceptIncoming(ctx context.Context) error {
	e.lock()
	defer e.unlock()

	if e.phase != PhaseIncomingOffered || e.pending == nil {
		return ErrNoPendingOffer
	}
	offer := *e.pending
	e.pending = nil

	// No stale session is expected here, but the supersede rules allow
	// an offer to land over a live call; converge through teardown.
	e.teardownSessionLocked()

	sess := &session{peerID: offer.FromID, peerName: offer.FromName, direction: DirectionIncoming}
	if err := e.setupPeerLocked(ctx, sess); err != nil {
		e.setPhase(PhaseIdle)
		e.notice("could not answer the call")
		return err
	}

	answer, err := sess.peer.AcceptOfferCreateAnswer(ctx, offer.Offer)
	if err != nil {
		e.destroySession(sess)
		e.setPhase(PhaseIdle)
		e.notice("could not answer the call")
		return fmt.Errorf("apply offer: %w", err)
	}

	frame, err := protocol.EncodeCallAnswer(offer.FromID, answer)
	if err != nil {
		e.destroySession(sess)
		e.setPhase(PhaseIdle)
		return fmt.Errorf("encode call-answer: %w", err)
	}
	if err := e.send.TrySend(frame); err != nil {
		e.destroySession(sess)
		e.setPhase(PhaseIdle)
		e.notice("could not answer the call")
		return fmt.Errorf("send call-answer: %w", err)
	}

	e.session = sess
	e.setPhase(PhaseActive)
	log.Info().Str("module", "call").Str("peer", string(offer.FromID)).Msg("incoming call accepted")
	return nil
}

// DeclineIncoming rejects the pending offer. No media or peer
// resources were ever acquired for it.
func (e *Engine) DeclineIncoming() error {
	e.lock()
	defer e.unlock()

	if e.phase != PhaseIncomingOffered || e.pending == nil {
		return ErrNoPendingOffer
	}
	from := e.pending.FromID
	e.pending = nil
	e.setPhase(PhaseIdle)

	if frame, err := protocol.EncodeCallDecline(from); err == nil {
		if err := e.send.TrySend(frame); err != nil {
			log.Warn().Err(err).Str("module", "call").Msg("send call-decline")
		}
	}
	log.Info().Str("module", "call").Str("peer", string(from)).Msg("incoming call declined")
	return nil
}

// EndCall hangs up the current outgoing-pending or active call.
func (e *Engine) EndCall() error {
	e.lock()
	defer e.unlock()

	if e.session == nil {
		return ErrNotInCall
	}
	peer := e.session.peerID
	if frame, err := protocol.EncodeCallEnd(peer); err == nil {
		if err := e.send.TrySend(frame); err != nil {
			log.Warn().Err(err).Str("module", "call").Msg("send call-end")
		}
	}
	e.teardownLocked()
	e.notice("call ended")
	log.Info().Str("module", "call").Str("peer", string(peer)).Msg("call ended locally")
	return nil
}

// HandleOffer processes an inbound call-offer. Last-offer-wins: a
// second offer replaces the pending one, and an offer landing over a
// live session supersedes it.
func (e *Engine) HandleOffer(msg *protocol.CallOffer) {
	if msg.From == nil || msg.From.ID == "" {
		log.Warn().Str("module", "call").Msg("call-offer without sender, dropped")
		return
	}
	e.lock()
	defer e.unlock()

	e.teardownLocked()

	e.pending = &PendingOffer{
		FromID:   msg.From.ID,
		FromName: msg.From.Name,
		Offer:    msg.Data,
	}
	e.setPhase(PhaseIncomingOffered)
	log.Info().Str("module", "call").Str("from", string(msg.From.ID)).Msg("incoming call offer")
	if e.opts.OnIncoming != nil {
		e.opts.OnIncoming(*e.pending)
	}
}

// HandleAnswer applies a remote answer. Valid only while an outgoing
// call is pending; anything else is stale and ignored.
func (e *Engine) HandleAnswer(msg *protocol.CallAnswer) {
	e.lock()
	defer e.unlock()

	if e.phase != PhaseOutgoingPending || e.session == nil {
		log.Debug().Str("module", "call").Msg("stale call-answer ignored")
		return
	}
	if err := e.session.peer.AcceptAnswer(msg.Data); err != nil {
		log.Error().Err(err).Str("module", "call").Msg("apply answer")
		e.teardownLocked()
		e.notice("call setup failed")
		return
	}
	e.setPhase(PhaseActive)
	log.Info().Str("module", "call").Str("peer", string(e.session.peerID)).Msg("call answered")
}

// HandleCandidate feeds a remote ICE candidate to the current peer.
// Candidates for a session that is no longer current are dropped; ICE
// restart covers the rare early-candidate loss.
func (e *Engine) HandleCandidate(msg *protocol.ICECandidate) {
	e.lock()
	defer e.unlock()

	if e.session == nil || (e.phase != PhaseOutgoingPending && e.phase != PhaseActive) {
		log.Debug().Str("module", "call").Msg("candidate without session, dropped")
		return
	}
	if err := e.session.peer.AddICECandidate(msg.Data); err != nil {
		log.Debug().Err(err).Str("module", "call").Msg("add candidate")
	}
}

// HandleDecline processes a remote decline of our outgoing call.
func (e *Engine) HandleDecline(msg *protocol.CallDecline) {
	e.lock()
	defer e.unlock()

	if e.session == nil || !fromMatches(msg.From, e.session.peerID) {
		log.Debug().Str("module", "call").Msg("stale call-decline ignored")
		return
	}
	e.notice(displayName(msg.From) + " declined the call")
	e.teardownLocked()
}

// HandleEnd processes a remote hangup.
func (e *Engine) HandleEnd(msg *protocol.CallEnd) {
	e.lock()
	defer e.unlock()

	if e.session == nil || !fromMatches(msg.From, e.session.peerID) {
		log.Debug().Str("module", "call").Msg("stale call-end ignored")
		return
	}
	e.notice("call ended by " + displayName(msg.From))
	e.teardownLocked()
}

// ChannelClosed is the implicit "remote unreachable" signal: tear
// everything down without attempting a final signaling message.
func (e *Engine) ChannelClosed() {
	e.lock()
	defer e.unlock()
	e.teardownLocked()
}

// setupPeerLocked acquires local audio and a peer handle for sess.
// On error nothing is left allocated.
func (e *Engine) setupPeerLocked(ctx context.Context, sess *session) error {
	audio, err := e.media.AcquireAudio(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMediaUnavailable, err)
	}
	sess.audio = audio

	peer, err := e.media.NewPeer(ctx, audio, PeerCallbacks{
		OnLocalCandidate: func(cand webrtc.ICECandidateInit) {
			e.onLocalCandidate(sess, cand)
		},
		OnRemoteTrack: func(kind string) {
			log.Info().Str("module", "call").Str("kind", kind).Msg("remote track")
		},
	})
	if err != nil {
		e.media.ReleaseAudio(audio)
		sess.audio = nil
		return fmt.Errorf("new peer: %w", err)
	}
	sess.peer = peer
	return nil
}

// onLocalCandidate relays a locally gathered candidate, but only while
// sess is still the current session. Fires from adapter goroutines.
func (e *Engine) onLocalCandidate(sess *session, cand webrtc.ICECandidateInit) {
	e.lock()
	defer e.unlock()
	if e.session != sess {
		return
	}
	frame, err := protocol.EncodeICECandidate(sess.peerID, cand)
	if err != nil {
		return
	}
	if err := e.send.TrySend(frame); err != nil {
		log.Debug().Err(err).Str("module", "call").Msg("send candidate")
	}
}

// teardownLocked is the single convergence point for every terminal
// transition: remote end/decline, local end, supersede, channel close.
// Idempotent: from idle it is a no-op.
func (e *Engine) teardownLocked() {
	e.teardownSessionLocked()
	e.pending = nil
	e.setPhase(PhaseIdle)
}

func (e *Engine) teardownSessionLocked() {
	if e.session == nil {
		return
	}
	e.destroySession(e.session)
	e.session = nil
}

// destroySession releases sess's resources exactly once: the fields
// are cleared as they go, so a second pass finds nothing to free.
func (e *Engine) destroySession(sess *session) {
	if sess.audio != nil {
		e.media.ReleaseAudio(sess.audio)
		sess.audio = nil
	}
	if sess.peer != nil {
		sess.peer.Close()
		sess.peer = nil
	}
}

func (e *Engine) setPhase(p Phase) {
	if e.phase == p {
		return
	}
	e.phase = p
	if e.opts.OnPhaseChange != nil {
		e.opts.OnPhaseChange(p)
	}
}

func (e *Engine) notice(text string) {
	if e.opts.Notify != nil {
		e.opts.Notify.Notice(text)
	}
}

func fromMatches(from *domain.User, peer domain.UserID) bool {
	return from != nil && from.ID == peer
}

func displayName(u *domain.User) string {
	if u == nil || u.Name == "" {
		return "the other side"
	}
	return u.Name
}
