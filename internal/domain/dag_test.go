package domain

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDagIncomingConnectionCount(t *testing.T) {
	d := Dag{
		Functions: []FunctionNode{{Name: "a"}, {Name: "b"}, {Name: "join"}, {Name: "solo"}},
		Connections: []Connection{
			{Source: "a", Sink: "join"},
			{Source: "b", Sink: "join"},
		},
	}

	require.Equal(t, 2, d.IncomingConnectionCount("join"))
	require.Equal(t, 0, d.IncomingConnectionCount("solo"))
	require.Equal(t, 0, d.IncomingConnectionCount("a"))
}

func TestDagOutgoingConnectionsAndNode(t *testing.T) {
	d := Dag{
		Functions: []FunctionNode{{Name: "a"}, {Name: "join"}},
		Connections: []Connection{
			{Source: "a", Sink: "join"},
		},
	}

	conns := d.OutgoingConnections("a")
	require.Len(t, conns, 1)
	require.Equal(t, "join", conns[0].Sink)

	node, ok := d.Node("join")
	require.True(t, ok)
	require.Equal(t, "join", node.Name)

	_, ok = d.Node("missing")
	require.False(t, ok)
}
