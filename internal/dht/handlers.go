package dht

import (
	"net"

	"github.com/vael/warren/internal/id"
	"github.com/vael/warren/internal/record"
	"github.com/vael/warren/internal/server"
	"github.com/vael/warren/internal/wire"
)

// decodeRequestValue reconstructs the record.Value a store_value
// request is proposing to store, mirroring lookup.decodeValue's
// handling of a response body's mirrored fields.
func decodeRequestValue(body *wire.RequestBody) *record.Value {
	v := &record.Value{Data: body.Value}
	if body.Seq != nil {
		v.SequenceNumber = *body.Seq
	}
	if len(body.PublicKey) == 0 {
		return v
	}

	pub, err := id.FromBytes(body.PublicKey)
	if err != nil {
		return nil
	}
	v.PublicKey = &pub
	v.Signature = body.Signature
	if len(body.Nonce) != len(v.Nonce) {
		return nil
	}
	copy(v.Nonce[:], body.Nonce)
	if len(body.Recipient) > 0 {
		rec, err := id.FromBytes(body.Recipient)
		if err != nil {
			return nil
		}
		v.Recipient = &rec
	}
	return v
}

// decodeRequestPeer reconstructs the record.Peer an announce_peer
// request is proposing to store. NodeID is always the sender the
// datagram actually arrived from: a delegated announcement can name a
// different Origin but never impersonate the announcing node.
func decodeRequestPeer(from id.Id, body *wire.RequestBody) *record.Peer {
	if len(body.PublicKey) == 0 {
		return nil
	}
	pub, err := id.FromBytes(body.PublicKey)
	if err != nil {
		return nil
	}

	p := &record.Peer{
		PublicKey:      pub,
		NodeID:         from,
		Port:           body.Port,
		AlternativeURL: body.AlternativeURL,
		Signature:      body.PeerSignature,
	}
	if len(body.Origin) > 0 {
		origin, err := id.FromBytes(body.Origin)
		if err != nil {
			return nil
		}
		p.Origin = &origin
	}
	return p
}

func (d *DHT) handlePing(ep *server.Endpoint, from id.Id, addr *net.UDPAddr, req *wire.Message) {
	resp := wire.NewResponse(wire.MethodPing, req.Txid, server.ProtocolVersion, &wire.ResponseBody{})
	if err := ep.SendResponse(resp, addr); err != nil {
		d.logger.Warn("dht: ping response failed", "to", addr, "error", err)
	}
}

func (d *DHT) handleFindNode(ep *server.Endpoint, from id.Id, addr *net.UDPAddr, req *wire.Message) {
	target, err := id.FromBytes(req.Request.Target)
	if err != nil {
		d.sendError(ep, req, addr, errCodeProtocol, "invalid target")
		return
	}

	body := &wire.ResponseBody{}
	d.fillNodes(body, d.rt.FindClosestK(target, d.cfg.BucketSize))
	d.maybeAttachToken(body, req.Request, from, addr, target)

	resp := wire.NewResponse(wire.MethodFindNode, req.Txid, server.ProtocolVersion, body)
	if err := ep.SendResponse(resp, addr); err != nil {
		d.logger.Warn("dht: find_node response failed", "to", addr, "error", err)
	}
}

func (d *DHT) handleFindPeer(ep *server.Endpoint, from id.Id, addr *net.UDPAddr, req *wire.Message) {
	target, err := id.FromBytes(req.Request.Target)
	if err != nil {
		d.sendError(ep, req, addr, errCodeProtocol, "invalid target")
		return
	}

	body := &wire.ResponseBody{}
	d.fillNodes(body, d.rt.FindClosestK(target, d.cfg.BucketSize))
	d.maybeAttachToken(body, req.Request, from, addr, target)

	peers, err := d.store.GetPeers(target, d.cfg.BucketSize)
	if err != nil {
		d.logger.Warn("dht: find_peer storage lookup failed", "error", err)
	} else if len(peers) > 0 {
		body.Peers = encodePeerGroup(target, peers)
	}

	resp := wire.NewResponse(wire.MethodFindPeer, req.Txid, server.ProtocolVersion, body)
	if err := ep.SendResponse(resp, addr); err != nil {
		d.logger.Warn("dht: find_peer response failed", "to", addr, "error", err)
	}
}

func (d *DHT) handleFindValue(ep *server.Endpoint, from id.Id, addr *net.UDPAddr, req *wire.Message) {
	target, err := id.FromBytes(req.Request.Target)
	if err != nil {
		d.sendError(ep, req, addr, errCodeProtocol, "invalid target")
		return
	}

	body := &wire.ResponseBody{}
	d.fillNodes(body, d.rt.FindClosestK(target, d.cfg.BucketSize))
	d.maybeAttachToken(body, req.Request, from, addr, target)

	v, ok, err := d.store.GetValue(target)
	if err != nil {
		d.logger.Warn("dht: find_value storage lookup failed", "error", err)
	} else if ok {
		// A client whose declared Seq is already current doesn't need
		// the value body again: it only wanted a cheap freshness check.
		if req.Request.Seq == nil || *req.Request.Seq < v.SequenceNumber || !v.IsMutable() {
			fillValue(body, v)
		}
	}

	resp := wire.NewResponse(wire.MethodFindValue, req.Txid, server.ProtocolVersion, body)
	if err := ep.SendResponse(resp, addr); err != nil {
		d.logger.Warn("dht: find_value response failed", "to", addr, "error", err)
	}
}

func (d *DHT) handleStoreValue(ep *server.Endpoint, from id.Id, addr *net.UDPAddr, req *wire.Message) {
	v := decodeRequestValue(req.Request)
	if v == nil || !v.IsValid() {
		d.sendError(ep, req, addr, errCodeProtocol, "invalid value")
		return
	}
	valueID := v.ID()

	if !d.tokens.Verify(from, addr, valueID, req.Request.Token) {
		d.sendError(ep, req, addr, errCodeProtocol, "bad token")
		return
	}

	if req.Request.Cas != nil {
		stored, ok, err := d.store.GetValue(valueID)
		if err != nil {
			d.sendError(ep, req, addr, errCodeStorage, "storage error")
			return
		}
		if ok && stored.SequenceNumber != *req.Request.Cas {
			d.sendError(ep, req, addr, errCodeCAS, "cas mismatch")
			return
		}
	}

	if err := d.store.PutValue(v, false); err != nil {
		d.sendError(ep, req, addr, errCodeStorage, "storage error")
		return
	}

	resp := wire.NewResponse(wire.MethodStoreValue, req.Txid, server.ProtocolVersion, &wire.ResponseBody{})
	if err := ep.SendResponse(resp, addr); err != nil {
		d.logger.Warn("dht: store_value response failed", "to", addr, "error", err)
	}
}

func (d *DHT) handleAnnouncePeer(ep *server.Endpoint, from id.Id, addr *net.UDPAddr, req *wire.Message) {
	p := decodeRequestPeer(from, req.Request)
	if p == nil || !p.IsValid() {
		d.sendError(ep, req, addr, errCodeProtocol, "invalid peer")
		return
	}

	if !d.tokens.Verify(from, addr, p.ID(), req.Request.Token) {
		d.sendError(ep, req, addr, errCodeProtocol, "bad token")
		return
	}

	if err := d.store.PutPeer(p, false, true); err != nil {
		d.sendError(ep, req, addr, errCodeStorage, "storage error")
		return
	}

	resp := wire.NewResponse(wire.MethodAnnouncePeer, req.Txid, server.ProtocolVersion, &wire.ResponseBody{})
	if err := ep.SendResponse(resp, addr); err != nil {
		d.logger.Warn("dht: announce_peer response failed", "to", addr, "error", err)
	}
}

// maybeAttachToken fills body.Token with a freshly generated token
// when the requester set the WantToken bit, the common step every
// find_* handler performs before a later store_value/announce_peer.
func (d *DHT) maybeAttachToken(body *wire.ResponseBody, req *wire.RequestBody, from id.Id, addr *net.UDPAddr, target id.Id) {
	if req.Want&wire.WantToken == 0 {
		return
	}
	body.Token = d.tokens.Generate(from, addr, target)
}

// fillValue populates a response body's mirrored value fields from a
// stored record.Value.
func fillValue(body *wire.ResponseBody, v *record.Value) {
	body.Value = v.Data
	seq := v.SequenceNumber
	body.Seq = &seq
	if !v.IsMutable() {
		return
	}
	body.PublicKey = v.PublicKey.Bytes()
	body.Nonce = v.Nonce[:]
	body.Signature = v.Signature
	if v.IsEncrypted() {
		body.Recipient = v.Recipient.Bytes()
	}
}

// encodePeerGroup builds the wire form of every announcement known
// for peerID, bounded to what the caller already fetched from storage.
func encodePeerGroup(peerID id.Id, peers []*record.Peer) *wire.PeerGroup {
	g := &wire.PeerGroup{PeerID: peerID.Bytes()}
	for _, p := range peers {
		a := wire.PeerAnnouncement{
			NodeID:         p.NodeID.Bytes(),
			Port:           p.Port,
			AlternativeURL: p.AlternativeURL,
			Signature:      p.Signature,
		}
		if p.Origin != nil {
			a.Origin = p.Origin.Bytes()
		}
		g.Announcements = append(g.Announcements, a)
	}
	return g
}
