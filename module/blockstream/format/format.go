// Package format contains the versioned serializers of the block stream and
// the running hash chain they share.
package format

import (
	"fmt"

	"github.com/onflow/flow-blockstream/module"
	"github.com/onflow/flow-blockstream/module/blockstream"
)

// CurrentVersion is the format used when none is configured.
const CurrentVersion = VersionBlock

// ByVersion returns the stream format for the given version.
// Expected errors:
//   - blockstream.ErrUnsupportedVersion for unknown versions
func ByVersion(version uint32) (module.StreamFormat, error) {
	switch version {
	case VersionBlock:
		return NewBlockFormat(), nil
	case VersionRecord:
		return NewRecordFormat(), nil
	default:
		return nil, fmt.Errorf("version %d: %w", version, blockstream.ErrUnsupportedVersion)
	}
}

// Describe renders a human readable summary of a persisted item, for
// inspection tooling.
func Describe(version uint32, data []byte) (string, error) {
	switch version {
	case VersionBlock:
		item, err := DecodeBlockItem(data)
		if err != nil {
			return "", err
		}
		return describeBlockItem(item), nil
	case VersionRecord:
		kind, body, err := DecodeRecordEnvelope(data)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s (%d body bytes)", kind, len(body)), nil
	default:
		return "", fmt.Errorf("version %d: %w", version, blockstream.ErrUnsupportedVersion)
	}
}

func describeBlockItem(item *BlockItem) string {
	switch {
	case item.BlockHeader != nil:
		return fmt.Sprintf("block_header number=%d first_item_time=%s", item.BlockHeader.Number, item.BlockHeader.FirstItemTime.Time())
	case item.EventHeader != nil:
		return fmt.Sprintf("consensus_event creator=%d round=%d", item.EventHeader.Creator, item.EventHeader.Round)
	case item.Transaction != nil:
		return fmt.Sprintf("transaction id=%s", item.Transaction.TransactionID)
	case item.TransactionResult != nil:
		return fmt.Sprintf("transaction_result status=%d fee=%d", item.TransactionResult.Status, item.TransactionResult.Fee)
	case item.TransactionOutput != nil:
		return fmt.Sprintf("transaction_output sidecars=%d", len(item.TransactionOutput.Sidecars))
	case item.StateChanges != nil:
		return fmt.Sprintf("state_changes count=%d", len(item.StateChanges.Changes))
	case item.BlockProof != nil:
		return fmt.Sprintf("block_proof number=%d", item.BlockProof.Number)
	default:
		return item.Kind().String()
	}
}
