// backend/src/parsers/factory.go
package parsers

import (
	"fmt"

	"github.com/username/tradevault/backend/src/parsers/generic"
)

func GetParser(source string) (Parser, error) {
	switch source {
	case "", "generic":
		return generic.NewParser(), nil
	default:
		return nil, fmt.Errorf("no parser available for source: %s", source)
	}
}
