package rpc

import (
	jsoniter "github.com/json-iterator/go"
	"github.com/tinylib/msgp/msgp"

	"github.com/shardkit/migrate/meta"
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// MarshalJSON/UnmarshalJSON back every RPC payload except the bulk-clone
// document stream: json-iterator/go is a drop-in, faster encoding/json the
// way the teacher uses it at its own wire boundary.
func MarshalJSON(v interface{}) ([]byte, error)   { return jsonAPI.Marshal(v) }
func UnmarshalJSON(b []byte, v interface{}) error { return jsonAPI.Unmarshal(b, v) }

// EncodeCloneBatch/DecodeCloneBatch give _migrateClone's document stream a
// compact binary encoding instead of JSON: msgp's generic map codec, built
// for exactly this "array of loosely-typed documents" shape.
func EncodeCloneBatch(docs []meta.Document) ([]byte, error) {
	out := msgp.AppendArrayHeader(nil, uint32(len(docs)))
	for _, d := range docs {
		var err error
		out, err = msgp.AppendMapStrIntf(out, map[string]interface{}(d))
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func DecodeCloneBatch(b []byte) ([]meta.Document, error) {
	n, b, err := msgp.ReadArrayHeaderBytes(b)
	if err != nil {
		return nil, err
	}
	docs := make([]meta.Document, 0, n)
	for i := uint32(0); i < n; i++ {
		var m map[string]interface{}
		m, b, err = msgp.ReadMapStrIntfBytes(b, nil)
		if err != nil {
			return nil, err
		}
		docs = append(docs, meta.Document(m))
	}
	return docs, nil
}
