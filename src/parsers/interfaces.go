package parsers

import (
	"io"

	"github.com/username/tradevault/backend/src/models"
)

// Parser turns a broker- or CSV-specific export into canonical Orders.
// Everything downstream of a Parser sees only normalized fills; mapping
// quality problems never reach the matching engine.
type Parser interface {
	Parse(file io.Reader) ([]*models.Order, error)
}
