// Package realtime is the client side of a low-latency voice conversation with
// a remote AI model.
//
// A Controller drives one Session at a time. Its Negotiator opens the
// microphone, obtains a short-lived Credential and dials a Channel, which is
// either a WebSocket carrying audio inside JSON events or a WebRTC peer
// connection (see the transport package). Once the channel is open the
// controller sends the session configuration followed by prior conversation
// turns, then streams microphone frames out while inbound transcript deltas
// are accumulated and inbound audio is played in arrival order through a
// PlaybackQueue.
//
// Failures are reported as one of the shared failure classes (credential,
// handshake, microphone, channel, protocol) and leave the controller in
// StateFailed until the next Start or Stop.
package realtime
