package serializer

import "github.com/ValentinKolb/sKV/rpc/common"

// IRPCSerializer converts Messages to and from their wire representation.
//
// Deserialize always starts from a zero Message, so a reused target never keeps
// fields of an earlier message. Only the binary serializer keeps nil and empty byte
// slices apart; the reflection based formats may turn an empty slice into nil.
//
// Thread-safety: implementations are safe for concurrent use.
type IRPCSerializer interface {
	Serialize(msg common.Message) ([]byte, error)
	Deserialize(b []byte, msg *common.Message) error
}
