// backend/src/parsers/generic/parser.go
package generic

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/username/tradevault/backend/src/logger"
	"github.com/username/tradevault/backend/src/models"
)

// Parser reads the canonical CSV layout the import wizard produces after the
// user's broker headers have been mapped: named columns, one fill per row.
// Required: symbol, side, quantity, price, executed_at. Optional:
// commission, fees, external_id.
type Parser struct{}

func NewParser() *Parser {
	return &Parser{}
}

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func (p *Parser) Parse(file io.Reader) ([]*models.Order, error) {
	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, required := range []string{"symbol", "side", "quantity", "price", "executed_at"} {
		if _, ok := cols[required]; !ok {
			return nil, fmt.Errorf("CSV missing required column %q", required)
		}
	}

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read all CSV records: %w", err)
	}

	var orders []*models.Order
	for i, record := range records {
		order, err := rowToOrder(cols, record)
		if err != nil {
			logger.WithComponent("parser").Warn("Skipping unparseable CSV row", "row", i+2, "error", err)
			continue
		}
		orders = append(orders, order)
	}
	return orders, nil
}

func rowToOrder(cols map[string]int, record []string) (*models.Order, error) {
	field := func(name string) string {
		idx, ok := cols[name]
		if !ok || idx >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[idx])
	}

	quantity, err := strconv.ParseInt(field("quantity"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid quantity %q: %w", field("quantity"), err)
	}

	// Money columns are parsed straight into decimals; float64 never enters
	// the pipeline.
	price, err := decimal.NewFromString(field("price"))
	if err != nil {
		return nil, fmt.Errorf("invalid price %q: %w", field("price"), err)
	}
	commission, err := optionalDecimal(field("commission"))
	if err != nil {
		return nil, fmt.Errorf("invalid commission %q: %w", field("commission"), err)
	}
	fees, err := optionalDecimal(field("fees"))
	if err != nil {
		return nil, fmt.Errorf("invalid fees %q: %w", field("fees"), err)
	}

	executedAt, err := parseTime(field("executed_at"))
	if err != nil {
		return nil, err
	}

	var side models.OrderSide
	switch strings.ToUpper(field("side")) {
	case "BUY", "B":
		side = models.SideBuy
	case "SELL", "S":
		side = models.SideSell
	default:
		return nil, fmt.Errorf("invalid side %q", field("side"))
	}

	return &models.Order{
		Symbol:             strings.ToUpper(field("symbol")),
		Side:               side,
		Quantity:           quantity,
		Price:              price,
		Commission:         commission,
		Fees:               fees,
		ExecutedAt:         executedAt.UTC(),
		SourceID:           "csv:generic",
		ExternalActivityID: field("external_id"),
	}, nil
}

func optionalDecimal(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}

func parseTime(s string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid executed_at %q", s)
}
