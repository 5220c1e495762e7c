package portal

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// ParseResultTable reads the field/value rows of the result table. Rows that do not have exactly two cells
// are skipped, so an empty map means the table carried no data.
func ParseResultTable(html string) (map[string]string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse result table: %w", err)
	}

	fields := make(map[string]string)
	doc.Find("tr").Each(func(_ int, row *goquery.Selection) {
		cells := row.ChildrenFiltered("td")
		if cells.Length() != 2 {
			return
		}
		key := normalizeSpace(cells.Eq(0).Text())
		if key == "" {
			return
		}
		fields[key] = normalizeSpace(cells.Eq(1).Text())
	})
	return fields, nil
}

func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
