package cache

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// recordVersion 随编码布局变化递增；旧版本记录按损坏处理。
const recordVersion = 1

// record 是写入后端的外层结构，每个元数据键对应一个 record。
type record struct {
	Version int            `cbor:"1,keyasint"`
	Entries []VariantEntry `cbor:"2,keyasint"`
}

var (
	encMode = mustEncMode()
	decMode = mustDecMode()
)

func mustEncMode() cbor.EncMode {
	mode, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("cbor enc mode: %v", err))
	}
	return mode
}

func mustDecMode() cbor.DecMode {
	mode, err := cbor.DecOptions{
		DupMapKey:         cbor.DupMapKeyEnforcedAPF,
		ExtraReturnErrors: cbor.ExtraDecErrorUnknownField,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("cbor dec mode: %v", err))
	}
	return mode
}

// EncodeEntries 以确定性 CBOR 编码变体列表；nil 与空列表编码结果相同。
func EncodeEntries(entries []VariantEntry) ([]byte, error) {
	if entries == nil {
		entries = []VariantEntry{}
	}
	data, err := encMode.Marshal(record{Version: recordVersion, Entries: entries})
	if err != nil {
		return nil, fmt.Errorf("encode cache entries: %w", err)
	}
	return data, nil
}

// DecodeEntries 还原变体列表，任何格式问题都返回 *DecodeError。
func DecodeEntries(data []byte) ([]VariantEntry, error) {
	if len(data) == 0 {
		return nil, &DecodeError{Reason: "empty record"}
	}
	var rec record
	if err := decMode.Unmarshal(data, &rec); err != nil {
		return nil, &DecodeError{Reason: "malformed record", Err: err}
	}
	if rec.Version != recordVersion {
		return nil, &DecodeError{Reason: fmt.Sprintf("unsupported record version %d", rec.Version)}
	}
	if rec.Entries == nil {
		rec.Entries = []VariantEntry{}
	}
	return rec.Entries, nil
}
