// Package natdiscovery finds reachable addresses for the local host, used
// by the Host role to build its IceCandidates: a host candidate from the
// preferred outbound address and, through a single STUN binding request, a
// server-reflexive one. It is not a full ICE agent: the Viewer dials the
// first candidate it receives, and no candidate pairs are negotiated.
package natdiscovery

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/pion/stun/v3"

	"github.com/parevo/entangle/internal/protocol"
)

// DefaultSTUNServer is used when no override is supplied; it is a public,
// widely available STUN server suitable for discovering a server-reflexive
// candidate.
const DefaultSTUNServer = "stun.l.google.com:19302"

const requestTimeout = 5 * time.Second

// DiscoverServerReflexive sends a single STUN binding request to stunServer
// and returns the resulting IceCandidate with CandidateServerReflexive.
// An empty stunServer falls back to DefaultSTUNServer.
func DiscoverServerReflexive(ctx context.Context, stunServer string) (protocol.IceCandidate, error) {
	if stunServer == "" {
		stunServer = DefaultSTUNServer
	}

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "udp4", stunServer)
	if err != nil {
		return protocol.IceCandidate{}, fmt.Errorf("natdiscovery: dial %s: %w", stunServer, err)
	}
	defer conn.Close()

	client, err := stun.NewClient(conn)
	if err != nil {
		return protocol.IceCandidate{}, fmt.Errorf("natdiscovery: new STUN client: %w", err)
	}
	defer client.Close()

	message := stun.MustBuild(stun.TransactionID, stun.BindingRequest)

	var candidate protocol.IceCandidate
	var resultErr error
	done := make(chan struct{})

	err = client.Do(message, func(res stun.Event) {
		defer close(done)
		if res.Error != nil {
			resultErr = fmt.Errorf("natdiscovery: STUN request failed: %w", res.Error)
			return
		}
		var xorAddr stun.XORMappedAddress
		if err := xorAddr.GetFrom(res.Message); err != nil {
			resultErr = fmt.Errorf("natdiscovery: parse XOR-MAPPED-ADDRESS: %w", err)
			return
		}
		candidate = protocol.IceCandidate{
			CandidateType: protocol.CandidateServerReflexive,
			Address:       xorAddr.IP.String(),
			Port:          uint16(xorAddr.Port),
			Priority:      serverReflexivePriority,
		}
	})
	if err != nil {
		return protocol.IceCandidate{}, fmt.Errorf("natdiscovery: send STUN request: %w", err)
	}

	select {
	case <-done:
	case <-ctx.Done():
		return protocol.IceCandidate{}, fmt.Errorf("natdiscovery: %w", ctx.Err())
	}
	if resultErr != nil {
		return protocol.IceCandidate{}, resultErr
	}
	return candidate, nil
}

// serverReflexivePriority is lower than a host candidate's priority
// (hostCandidatePriority below): a direct local address is
// preferred over a NAT-mapped one when both are available.
const serverReflexivePriority = 100

// LocalHostCandidate builds a CandidateHost IceCandidate from the local
// address the Host's transport listener is bound to.
func LocalHostCandidate(localIP net.IP, port uint16) protocol.IceCandidate {
	return protocol.IceCandidate{
		CandidateType: protocol.CandidateHost,
		Address:       localIP.String(),
		Port:          port,
		Priority:      hostCandidatePriority,
	}
}

const hostCandidatePriority = 200

// PreferredOutboundIP returns the local address the OS would pick to reach
// a public address, without sending any packets (the well-known UDP
// "connect" trick: UDP connect() only sets the routing destination).
func PreferredOutboundIP() (net.IP, error) {
	conn, err := net.Dial("udp4", "8.8.8.8:80")
	if err != nil {
		return nil, fmt.Errorf("natdiscovery: determine outbound address: %w", err)
	}
	defer conn.Close()

	localAddr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return nil, fmt.Errorf("natdiscovery: unexpected local address type %T", conn.LocalAddr())
	}
	return localAddr.IP, nil
}
