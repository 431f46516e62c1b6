package models

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
)

// Operation is one entry of an identifier's hash-chained history. Stores
// append it in the same atomic step as the document mutation it records.
type Operation struct {
	Sequence     int64         `json:"sequence"`
	DID          string        `json:"did"`
	Kind         OperationKind `json:"kind"`
	DocumentHash string        `json:"document_hash"`
	PreviousHash string        `json:"previous_hash"`
	EntryHash    string        `json:"entry_hash"`
	CommittedAt  int64         `json:"committed_at"`
}

// NextOperation builds the history entry that follows prev (nil for the
// genesis entry) for a committed document.
func NextOperation(prev *Operation, kind OperationKind, doc *Document) Operation {
	op := Operation{
		Sequence:     1,
		DID:          doc.ID,
		Kind:         kind,
		DocumentHash: DocumentHash(doc),
		CommittedAt:  doc.Updated,
	}
	if prev != nil {
		op.Sequence = prev.Sequence + 1
		op.PreviousHash = prev.EntryHash
	}
	op.EntryHash = entryHash(op.PreviousHash, op.Kind, op.Sequence, op.DocumentHash)
	return op
}

func entryHash(previous string, kind OperationKind, sequence int64, documentHash string) string {
	h := sha256.New()
	h.Write([]byte(previous))
	h.Write([]byte(kind))
	h.Write([]byte(strconv.FormatInt(sequence, 10)))
	h.Write([]byte(documentHash))
	return hex.EncodeToString(h.Sum(nil))
}

// VerifyChain checks sequence numbering, hash links, and that the history
// starts with a create and never continues past a deactivate.
func VerifyChain(ops []Operation) error {
	var prev *Operation
	for i := range ops {
		op := ops[i]
		if op.Sequence != int64(i+1) {
			return fmt.Errorf("entry %d: sequence %d out of order", i, op.Sequence)
		}
		if i == 0 && op.Kind != OperationCreate {
			return fmt.Errorf("entry %d: history must start with create, got %s", i, op.Kind)
		}
		if prev != nil {
			if op.DID != prev.DID {
				return fmt.Errorf("entry %d: did %q differs from %q", i, op.DID, prev.DID)
			}
			if prev.Kind == OperationDeactivate {
				return fmt.Errorf("entry %d: history continues after deactivate", i)
			}
			if op.PreviousHash != prev.EntryHash {
				return fmt.Errorf("entry %d: previous hash does not link", i)
			}
		} else if op.PreviousHash != "" {
			return fmt.Errorf("entry %d: genesis entry has a previous hash", i)
		}
		if op.EntryHash != entryHash(op.PreviousHash, op.Kind, op.Sequence, op.DocumentHash) {
			return fmt.Errorf("entry %d: entry hash mismatch", i)
		}
		prev = &ops[i]
	}
	return nil
}
