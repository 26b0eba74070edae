package heap

import (
	"iter"

	"github.com/mem-analysis/internal/structread"
	apperrors "github.com/mem-analysis/pkg/errors"
)

// walkList follows the Flink chain of the LIST_ENTRY at head and yields the
// address of each containing record, that is the link address minus
// linkOffset. A read failure ends the walk quietly; revisiting a link that
// is not the head is reported as a structure error.
func walkList(r *structread.Reader, head, flinkOffset, linkOffset uint64) iter.Seq2[uint64, error] {
	return func(yield func(uint64, error) bool) {
		link, err := r.Pointer(head + flinkOffset)
		if err != nil {
			return
		}
		seen := make(map[uint64]struct{})
		for link != head && link != 0 {
			if _, dup := seen[link]; dup {
				yield(0, apperrors.Newf(apperrors.CodeStructureError,
					"list at 0x%x loops back to 0x%x", head, link))
				return
			}
			seen[link] = struct{}{}
			if !yield(link-linkOffset, nil) {
				return
			}
			next, err := r.Pointer(link + flinkOffset)
			if err != nil {
				return
			}
			link = next
		}
	}
}
