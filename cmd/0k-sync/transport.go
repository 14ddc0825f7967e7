package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zeroksync/0k-sync/internal/transport"
)

// addTransportFlag registers the --transport flag shared by every
// command that dials a relay. There is no automatic QUIC<->WebSocket
// failover in internal/transport: a Transport implementation only
// fails over across the relay addresses it is given, not across wire
// protocols, so the CLI exposes the choice directly instead of guessing.
func addTransportFlag(cmd *cobra.Command, dst *string) {
	cmd.Flags().StringVar(dst, "transport", "quic", `Transport to dial relays with ("quic" or "ws")`)
}

func newTransport(kind string) (transport.Transport, error) {
	switch kind {
	case "", "quic":
		return transport.NewQUICTransport(), nil
	case "ws":
		return transport.NewWebSocketTransport(), nil
	default:
		return nil, fmt.Errorf("unknown --transport %q (want quic or ws)", kind)
	}
}
