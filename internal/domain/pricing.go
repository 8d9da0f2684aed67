package domain

import (
	"sort"
	"strings"
)

// lineIDSeparator joins the product id and extra ids of a line id. Parts are
// escaped so that no id can contain it.
const lineIDSeparator = "~"

var lineIDEscaper = strings.NewReplacer("%", "%25", lineIDSeparator, "%7E")

// BundlePrice sums item unit price × quantity over the bundle contents.
// Content lines referencing unknown items contribute zero.
func BundlePrice(bundle Product, items []Product) int64 {
	if len(bundle.Contents) == 0 {
		return 0
	}
	prices := make(map[string]int64, len(items))
	for _, item := range items {
		prices[item.ID] = item.UnitPrice
	}
	var total int64
	for _, content := range bundle.Contents {
		price, ok := prices[content.ItemID]
		if !ok || content.Quantity <= 0 {
			continue
		}
		total += price * int64(content.Quantity)
	}
	return total
}

// LineTotal is the per-unit price of a line including its extras.
func LineTotal(line CartLine) int64 {
	total := line.UnitPrice
	for _, extra := range line.Extras {
		total += extra.Price
	}
	return total
}

// LineGrandTotal is LineTotal multiplied by the line quantity.
func LineGrandTotal(line CartLine) int64 {
	return LineTotal(line) * int64(line.Quantity)
}

// LineID derives the cart line identifier from the product id and the set of extra ids.
// Extra order and duplicates do not affect the result, and distinct
// (product, extras) pairs never share an id. A product without extras keeps
// its id unless it contains "~" or "%".
func LineID(productID string, extraIDs []string) string {
	ids := SortedExtraIDs(extraIDs)
	parts := make([]string, 0, len(ids)+1)
	parts = append(parts, lineIDEscaper.Replace(strings.TrimSpace(productID)))
	for _, id := range ids {
		parts = append(parts, lineIDEscaper.Replace(id))
	}
	return strings.Join(parts, lineIDSeparator)
}

// SortedExtraIDs trims, de-duplicates and sorts extra ids.
func SortedExtraIDs(extraIDs []string) []string {
	if len(extraIDs) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(extraIDs))
	out := make([]string, 0, len(extraIDs))
	for _, id := range extraIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Subtotal sums LineGrandTotal across lines.
func Subtotal(lines []CartLine) int64 {
	var total int64
	for _, line := range lines {
		total += LineGrandTotal(line)
	}
	return total
}

// ItemCount sums quantities across lines.
func ItemCount(lines []CartLine) int {
	count := 0
	for _, line := range lines {
		count += line.Quantity
	}
	return count
}

// CloneLines returns a deep copy of lines.
func CloneLines(lines []CartLine) []CartLine {
	if len(lines) == 0 {
		return []CartLine{}
	}
	out := make([]CartLine, len(lines))
	copy(out, lines)
	for i := range out {
		out[i].Name = out[i].Name.Clone()
		if len(out[i].Extras) > 0 {
			extras := make([]Extra, len(out[i].Extras))
			copy(extras, out[i].Extras)
			for j := range extras {
				extras[j].Name = extras[j].Name.Clone()
			}
			out[i].Extras = extras
		}
	}
	return out
}

// IndexOfLine returns the position of the line with id, or -1.
func IndexOfLine(lines []CartLine, lineID string) int {
	lineID = strings.TrimSpace(lineID)
	if lineID == "" {
		return -1
	}
	for i, line := range lines {
		if line.ID == lineID {
			return i
		}
	}
	return -1
}
