package rpc

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/shardkit/migrate/meta"
)

func TestEncodeDecodeCloneBatchRoundTrip(t *testing.T) {
	docs := []meta.Document{
		{"_id": int64(1), "x": int64(10), "name": "alice", "active": true},
		{"_id": int64(2), "x": int64(-5), "score": 3.5, "active": false},
	}

	buf, err := EncodeCloneBatch(docs)
	require.NoError(t, err)
	require.NotEmpty(t, buf)

	decoded, err := DecodeCloneBatch(buf)
	require.NoError(t, err)
	require.Len(t, decoded, 2)

	require.Equal(t, "alice", decoded[0]["name"])
	require.Equal(t, int64(1), decoded[0]["_id"])
	require.Equal(t, int64(10), decoded[0]["x"])
	require.Equal(t, true, decoded[0]["active"])

	require.Equal(t, int64(-5), decoded[1]["x"])
	require.Equal(t, 3.5, decoded[1]["score"])
	require.Equal(t, false, decoded[1]["active"])
}

func TestEncodeDecodeCloneBatchEmpty(t *testing.T) {
	buf, err := EncodeCloneBatch(nil)
	require.NoError(t, err)

	decoded, err := DecodeCloneBatch(buf)
	require.NoError(t, err)
	require.Empty(t, decoded)
}

func TestCommandsTableMatchesSpecShape(t *testing.T) {
	// spec.md §6: every sharding-internal command is admin-only and never
	// runs against a secondary.
	require.Len(t, Commands, 8)
	for name, cmd := range Commands {
		require.Equal(t, name, cmd.Name)
		require.True(t, cmd.AdminOnly, "%s must be admin-only", name)
		require.False(t, cmd.SlaveOK, "%s must not be slaveOk", name)
	}
}

func TestMarshalUnmarshalJSONRoundTrip(t *testing.T) {
	req := MoveChunkReq{
		NS: "db.people", From: "shard0", To: "shard1",
		Min: meta.Key{int64(0)}, Max: meta.Key{int64(100)},
		MaxChunkSizeBytes: 1 << 20,
	}
	buf, err := MarshalJSON(req)
	require.NoError(t, err)

	var out MoveChunkReq
	require.NoError(t, UnmarshalJSON(buf, &out))
	require.Equal(t, req.NS, out.NS)
	require.Equal(t, req.From, out.From)
	require.Equal(t, req.MaxChunkSizeBytes, out.MaxChunkSizeBytes)
}
