// Package transport carries sync rounds between the background client and
// the remote object server.
package transport

import (
	"context"

	"github.com/atinyakov/syncmanager/internal/models"
)

// SyncRequest is one sync round for one session.
type SyncRequest struct {
	SessionID        string
	Config           models.SyncConfiguration
	LastKnownVersion int64
}

// SyncResult is the server's answer to a sync round.
type SyncResult struct {
	Version int64
}

// Transport is the network side of the background sync client.
type Transport interface {
	// Connect checks that the server is reachable before the client starts.
	Connect(ctx context.Context) error
	// Sync runs one round for a session.
	Sync(ctx context.Context, req SyncRequest) (SyncResult, error)
}

// Nop is a Transport that never touches the network.
type Nop struct{}

// Connect implements Transport.
func (Nop) Connect(context.Context) error { return nil }

// Sync implements Transport by echoing the known version.
func (Nop) Sync(_ context.Context, req SyncRequest) (SyncResult, error) {
	return SyncResult{Version: req.LastKnownVersion}, nil
}
