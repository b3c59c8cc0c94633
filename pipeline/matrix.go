package pipeline

import (
	"sort"
	"strings"

	"github.com/input-output-hk/catalyst-forge-pipeline/domain"
)

// DefaultCellName names the single cell of a run without matrix dimensions.
const DefaultCellName = "default"

// ExpandMatrix returns one cell per combination of dimension values.
// Dimensions are iterated in name order and values in declared order, so the
// expansion is deterministic. A cell is named "<dim>-<value>" per dimension,
// joined by "_".
func ExpandMatrix(matrix map[string][]string) []*domain.MatrixCell {
	dims := make([]string, 0, len(matrix))
	for dim := range matrix {
		dims = append(dims, dim)
	}
	sort.Strings(dims)

	bindings := []map[string]string{{}}
	for _, dim := range dims {
		var next []map[string]string
		for _, b := range bindings {
			for _, v := range matrix[dim] {
				params := make(map[string]string, len(b)+1)
				for k, pv := range b {
					params[k] = pv
				}
				params[dim] = v
				next = append(next, params)
			}
		}
		bindings = next
	}

	cells := make([]*domain.MatrixCell, 0, len(bindings))
	for i, params := range bindings {
		cells = append(cells, &domain.MatrixCell{
			Name:   cellName(dims, params),
			Index:  i,
			Params: params,
			Status: domain.RunStatusPending,
		})
	}
	return cells
}

func cellName(dims []string, params map[string]string) string {
	if len(dims) == 0 {
		return DefaultCellName
	}
	parts := make([]string, len(dims))
	for i, dim := range dims {
		parts[i] = dim + "-" + params[dim]
	}
	return strings.Join(parts, "_")
}

// PrimaryCell returns the index of the cell that builds and pushes the
// image: the cell named name, or the first cell when name is empty.
// It returns -1 when name matches no cell.
func PrimaryCell(cells []*domain.MatrixCell, name string) int {
	if len(cells) == 0 {
		return -1
	}
	if name == "" {
		return 0
	}
	for i, c := range cells {
		if c.Name == name {
			return i
		}
	}
	return -1
}
