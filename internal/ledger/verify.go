package ledger

import (
	"fmt"
)

// VerifyChain re-computes each record hash and link to detect tampering.
func VerifyChain(records []Record) error {
	for i := range records {
		r := records[i]

		h, err := r.ComputeHash()
		if err != nil {
			return fmt.Errorf("compute hash for seq %d: %w", r.Seq, err)
		}
		if h != r.Hash {
			return fmt.Errorf("hash mismatch at seq %d", r.Seq)
		}

		if i > 0 && r.PrevHash != records[i-1].Hash {
			return fmt.Errorf("prev hash mismatch at seq %d", r.Seq)
		}
		if i == 0 && r.PrevHash != "" {
			return fmt.Errorf("first record has prev hash %q", r.PrevHash)
		}
		if r.Seq != i {
			return fmt.Errorf("seq mismatch: expected %d got %d", i, r.Seq)
		}
	}
	return nil
}
