package node

import (
	"context"
	"errors"

	"github.com/vael/warren/internal/id"
	"github.com/vael/warren/internal/kbucket"
	"github.com/vael/warren/internal/lookup"
	"github.com/vael/warren/internal/record"
	"github.com/vael/warren/internal/wire"
)

// mapCtxErr distinguishes a deadline the caller set (ErrTimeout, per
// the Command contract) from outright cancellation, which the caller
// gets back verbatim.
func mapCtxErr(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ErrTimeout
	}
	return ctx.Err()
}

// FindNode runs an iterative node lookup across every bound address
// family and returns the first exact match any of them reports.
func (n *Node) FindNode(ctx context.Context, target id.Id) (kbucket.NodeInfo, error) {
	families := n.families()
	if len(families) == 0 {
		return kbucket.NodeInfo{}, ErrClosed
	}

	results := make(chan *kbucket.NodeInfo, len(families))
	if err := n.submit(ctx, func() {
		for _, d := range families {
			d := d
			task := lookup.FindNode(d.Endpoint(), target, d.Config().BucketSize, d.Config().LookupConcurrency, d.Family())
			task.Run(d.RoutingTable().FindClosestK(target, d.Config().BucketSize), func(res lookup.Result) {
				results <- res.Exact
			})
		}
	}); err != nil {
		return kbucket.NodeInfo{}, err
	}

	for i := 0; i < len(families); i++ {
		select {
		case exact := <-results:
			if exact != nil {
				return *exact, nil
			}
		case <-ctx.Done():
			return kbucket.NodeInfo{}, mapCtxErr(ctx)
		}
	}
	return kbucket.NodeInfo{}, ErrNotFound
}

// FindValue runs an iterative value lookup across every bound address
// family, returning the highest-sequence valid value any of them
// reports (or the unique immutable value, when the target addresses
// one).
func (n *Node) FindValue(ctx context.Context, target id.Id, knownSeq *uint32) (*record.Value, error) {
	families := n.families()
	if len(families) == 0 {
		return nil, ErrClosed
	}

	results := make(chan *record.Value, len(families))
	if err := n.submit(ctx, func() {
		for _, d := range families {
			d := d
			task := lookup.FindValue(d.Endpoint(), target, knownSeq, d.Config().BucketSize, d.Config().LookupConcurrency, d.Family())
			task.Run(d.RoutingTable().FindClosestK(target, d.Config().BucketSize), func(res lookup.Result) {
				results <- res.Value
			})
		}
	}); err != nil {
		return nil, err
	}

	var best *record.Value
	for i := 0; i < len(families); i++ {
		select {
		case v := <-results:
			switch {
			case v == nil:
			case best == nil:
				best = v
			case v.IsMutable() && best.IsMutable() && v.SequenceNumber > best.SequenceNumber:
				best = v
			}
		case <-ctx.Done():
			return nil, mapCtxErr(ctx)
		}
	}
	if best == nil {
		return nil, ErrNotFound
	}
	return best, nil
}

// FindPeer runs an iterative peer lookup across every bound address
// family and returns the union of valid announcements seen, deduped by
// (peer identity, announcing node).
func (n *Node) FindPeer(ctx context.Context, target id.Id) ([]*record.Peer, error) {
	families := n.families()
	if len(families) == 0 {
		return nil, ErrClosed
	}

	results := make(chan []*record.Peer, len(families))
	if err := n.submit(ctx, func() {
		for _, d := range families {
			d := d
			task := lookup.FindPeer(d.Endpoint(), target, d.Config().BucketSize, d.Config().LookupConcurrency, d.Family())
			task.Run(d.RoutingTable().FindClosestK(target, d.Config().BucketSize), func(res lookup.Result) {
				results <- res.Peers
			})
		}
	}); err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var out []*record.Peer
	for i := 0; i < len(families); i++ {
		select {
		case peers := <-results:
			for _, p := range peers {
				key := p.ID().String() + "|" + p.NodeID.String()
				if seen[key] {
					continue
				}
				seen[key] = true
				out = append(out, p)
			}
		case <-ctx.Done():
			return nil, mapCtxErr(ctx)
		}
	}
	if len(out) == 0 {
		return nil, ErrNotFound
	}
	return out, nil
}

// StoreValue looks up v's id's closest nodes on every bound address
// family, fetching a fresh token from each, then announces v to all of
// them, persisting it locally as a record this node is responsible for
// keeping alive (see the persistent_announce maintenance job). It
// reports how many recipients, across every family, acknowledged the
// store.
func (n *Node) StoreValue(ctx context.Context, v *record.Value, cas *uint32) (int, error) {
	if v == nil || !v.IsValid() {
		return 0, ErrInvalidInput
	}
	families := n.families()
	if len(families) == 0 {
		return 0, ErrClosed
	}

	target := v.ID()
	results := make(chan int, len(families))
	if err := n.submit(ctx, func() {
		if err := n.store.PutValue(v, true); err != nil {
			n.logger.Warn("node: local value persist failed", "error", err)
		}
		for _, d := range families {
			d := d
			want := d.Family() | wire.WantToken
			task := lookup.FindNode(d.Endpoint(), target, d.Config().BucketSize, d.Config().LookupConcurrency, want)
			task.Run(d.RoutingTable().FindClosestK(target, d.Config().BucketSize), func(res lookup.Result) {
				announce := lookup.NewValueAnnounce(d.Endpoint(), v, cas, d.Config().AnnounceRetries)
				announce.Run(res.Closest, func(succeeded int) {
					results <- succeeded
				})
			})
		}
	}); err != nil {
		return 0, err
	}

	total := 0
	for i := 0; i < len(families); i++ {
		select {
		case s := <-results:
			total += s
		case <-ctx.Done():
			return total, mapCtxErr(ctx)
		}
	}
	if total == 0 {
		return 0, ErrTimeout
	}
	return total, nil
}

// AnnouncePeer looks up p's id's closest nodes on every bound address
// family and announces p to all of them, persisting it locally as a
// record this node is responsible for keeping alive.
func (n *Node) AnnouncePeer(ctx context.Context, p *record.Peer) (int, error) {
	if p == nil || !p.IsValid() {
		return 0, ErrInvalidInput
	}
	families := n.families()
	if len(families) == 0 {
		return 0, ErrClosed
	}

	target := p.ID()
	results := make(chan int, len(families))
	if err := n.submit(ctx, func() {
		if err := n.store.PutPeer(p, true, true); err != nil {
			n.logger.Warn("node: local peer persist failed", "error", err)
		}
		for _, d := range families {
			d := d
			want := d.Family() | wire.WantToken
			task := lookup.FindNode(d.Endpoint(), target, d.Config().BucketSize, d.Config().LookupConcurrency, want)
			task.Run(d.RoutingTable().FindClosestK(target, d.Config().BucketSize), func(res lookup.Result) {
				announce := lookup.NewPeerAnnounce(d.Endpoint(), p, d.Config().AnnounceRetries)
				announce.Run(res.Closest, func(succeeded int) {
					results <- succeeded
				})
			})
		}
	}); err != nil {
		return 0, err
	}

	total := 0
	for i := 0; i < len(families); i++ {
		select {
		case s := <-results:
			total += s
		case <-ctx.Done():
			return total, mapCtxErr(ctx)
		}
	}
	if total == 0 {
		return 0, ErrTimeout
	}
	return total, nil
}
