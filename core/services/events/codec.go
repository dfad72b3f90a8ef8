package events

import "github.com/fxamacker/cbor/v2"

// encodeLogRecord serializes a LogRecord into the opaque Content blob
// stored on a BufferedEvent row. CBOR (rather than JSON) keeps the
// wire form compact for the common.Hash/common.Address byte arrays
// and round-trips interface{} decoded-payload values without the
// base64 bloat JSON would add.
func encodeLogRecord(r LogRecord) ([]byte, error) {
	return cbor.Marshal(r)
}

func decodeLogRecord(b []byte) (LogRecord, error) {
	var r LogRecord
	err := cbor.Unmarshal(b, &r)
	return r, err
}
