package callsync

import "context"

// Check is the outcome of probing one backend.
type Check struct {
	Connected bool   `json:"connected"`
	Error     string `json:"error,omitempty"`
}

type ConnectionReport struct {
	Store  Check `json:"store"`
	Remote Check `json:"remote"`
}

// TestConnections pings the record store and the remote call API.
func (s *Syncer) TestConnections(ctx context.Context) ConnectionReport {
	var r ConnectionReport
	if err := s.store.Ping(ctx); err != nil {
		r.Store.Error = err.Error()
	} else {
		r.Store.Connected = true
	}
	if _, err := s.source.ListCalls(ctx, 1); err != nil {
		r.Remote.Error = err.Error()
	} else {
		r.Remote.Connected = true
	}
	return r
}
