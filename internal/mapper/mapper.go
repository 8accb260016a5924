// Package mapper converts between geometric coordinates and H3 cells.
package mapper

import (
	"github.com/mohammed-shakir/survey-spatial-api/internal/core/model"
)

type Interface interface {
	CellForPoint(p model.Point, res int) (string, error)
	CellsForBBox(bb model.BBox, res int) ([]string, error)
}
