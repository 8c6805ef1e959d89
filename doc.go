// Package ice implements the connectivity-check core of Interactive
// Connectivity Establishment (ICE), RFC 5245: candidate pairing and
// pruning, the per-pair check-list state machine, STUN binding
// request/response handling, triggered checks, peer-reflexive candidate
// discovery, role-conflict resolution, pair nomination and the Ta-paced
// scheduler that drives checks to completion.
//
// The package does not own sockets, gather server-reflexive or relayed
// candidates, or carry candidates over SDP; those are external
// collaborators consumed through the interfaces in stuncodec.go and
// clock.go.
package ice
