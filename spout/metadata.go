package spout

import (
	"strconv"

	"txspout/source/broker"
)

// TransactionAttempt identifies one try at a host transaction. Replays keep
// TxID and bump AttemptID.
type TransactionAttempt struct {
	TxID      int64 `json:"tx_id"`
	AttemptID int   `json:"attempt_id"`
}

func (t TransactionAttempt) String() string {
	return strconv.FormatInt(t.TxID, 10) + ":" + strconv.Itoa(t.AttemptID)
}

// BatchMetadata describes an emitted batch. It is handed to the host by
// value and is the only input a replay needs.
type BatchMetadata struct {
	Partition   broker.Partition `json:"partition"`
	StartOffset int64            `json:"start_offset"`
	NextOffset  int64            `json:"next_offset"`
	Count       int              `json:"count"`
	Tag         string           `json:"tag"`
}

// PartitionHandle addresses a partition across coordinator and emitter calls.
// ID is derived from the partition identifier; Ordinal is informational.
type PartitionHandle struct {
	ID        string `json:"id"`
	Partition int32  `json:"partition"`
	Ordinal   int    `json:"ordinal"`
}

func handleID(p broker.Partition) string { return strconv.FormatInt(int64(p.ID), 10) }

// Record is one emitted tuple: the transaction and the raw payload.
type Record struct {
	Tx      TransactionAttempt
	Payload []byte
}

// OutputFields names the Record fields in emission order.
func OutputFields() []string { return []string{"tx", "payload"} }

type Collector interface {
	Emit(Record)
}

type CollectorFunc func(Record)

func (f CollectorFunc) Emit(r Record) { f(r) }
