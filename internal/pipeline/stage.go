package pipeline

import (
	"sort"

	"github.com/sawpanic/mentionscan/internal/domain"
)

// foldOrder returns batch indexes so that a comment whose parent is in the
// same batch is folded after that parent. Rows keep their fetch order within
// the same depth.
func foldOrder(comments []domain.Comment, stage bool) []int {
	order := make([]int, len(comments))
	for i := range order {
		order[i] = i
	}
	if !stage || len(comments) < 2 {
		return order
	}

	index := make(map[string]int, len(comments))
	for i, c := range comments {
		index[c.ID] = i
	}

	depth := make([]int, len(comments))
	for i := range depth {
		depth[i] = -1
	}

	var resolve func(i int, seen map[int]struct{}) int
	resolve = func(i int, seen map[int]struct{}) int {
		if depth[i] >= 0 {
			return depth[i]
		}
		parent, ok := index[comments[i].ParentID]
		if !ok || parent == i {
			depth[i] = 0
			return 0
		}
		if _, loop := seen[i]; loop {
			depth[i] = 0
			return 0
		}
		seen[i] = struct{}{}
		depth[i] = resolve(parent, seen) + 1
		return depth[i]
	}
	for i := range comments {
		resolve(i, map[int]struct{}{})
	}

	sort.SliceStable(order, func(a, b int) bool {
		return depth[order[a]] < depth[order[b]]
	})
	return order
}
