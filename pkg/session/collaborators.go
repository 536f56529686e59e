package session

import (
	"context"
	"time"

	"github.com/dwarf-protocol/dwarf-go/pkg/album"
	"github.com/dwarf-protocol/dwarf-go/pkg/protocol"
	"github.com/dwarf-protocol/dwarf-go/pkg/wire"
)

// Commander is the command channel surface the session drives.
// *protocol.Client satisfies it; tests substitute a scripted fake.
type Commander interface {
	Connect(ctx context.Context) error
	Disconnect() error
	State() protocol.State
	OnStateChange(fn func(oldState, newState protocol.State))
	ClientID() string
	Request(ctx context.Context, module wire.ModuleID, cmd wire.CommandID, body any) ([]byte, error)
	Subscribe(module wire.ModuleID, cmd wire.CommandID, handler protocol.NotificationHandler) uint64
	Unsubscribe(id uint64)
}

// ParameterAPI fetches the firmware parameter table over HTTP.
// *httpapi.Client satisfies it.
type ParameterAPI interface {
	FetchParameterTable(ctx context.Context) ([]byte, error)
}

// Album retrieves finished captures from the unit's FTP server.
// *album.Client satisfies it.
type Album interface {
	LatestEntry(ctx context.Context, kind album.Kind, camera string) (*album.Entry, error)
	WaitForNew(ctx context.Context, baseline *album.Entry, kind album.Kind, camera string, timeout time.Duration) (*album.Capture, error)
}

// LiveView starts and stops the RTSP stream consumer. The session warms
// it up before captures and ends it when the capture finishes or the
// session shuts down.
type LiveView interface {
	Begin(ctx context.Context) error
	End(ctx context.Context) error
}

// NopLiveView is a LiveView that does nothing, for setups without an
// RTSP consumer.
type NopLiveView struct{}

// Begin implements LiveView.
func (NopLiveView) Begin(context.Context) error { return nil }

// End implements LiveView.
func (NopLiveView) End(context.Context) error { return nil }
