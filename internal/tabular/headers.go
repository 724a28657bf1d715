package tabular

import "strings"

// ColumnRole identifies what a detected column is used for.
type ColumnRole string

const (
	RoleSKU   ColumnRole = "sku"
	RoleName  ColumnRole = "name"
	RolePrice ColumnRole = "price"
	RoleUnit  ColumnRole = "unit"
)

// Header synonym sets, matched against normalized header strings.
var roleSynonyms = map[ColumnRole][]string{
	RoleSKU:   {"sku", "productid", "code", "itemcode", "productcode", "partnumber", "partno", "itemid", "itemno", "articlenumber"},
	RoleName:  {"name", "productname", "itemname", "description", "product", "item", "title"},
	RolePrice: {"price", "unitprice", "cost", "unitcost", "rate", "listprice"},
	RoleUnit:  {"unit", "uom", "unitofmeasure", "measure", "packunit"},
}

// NormalizeHeader lowercases a header and strips spaces, underscores, and
// hyphens so "Product ID", "product_id" and "ProductId" all compare equal.
func NormalizeHeader(h string) string {
	h = strings.ToLower(strings.TrimSpace(h))
	return strings.NewReplacer(" ", "", "_", "", "-", "").Replace(h)
}

// DetectRole maps a raw header string to a column role. "No match" is a
// first-class outcome, reported via ok=false.
func DetectRole(header string) (ColumnRole, bool) {
	n := NormalizeHeader(header)
	if n == "" {
		return "", false
	}
	for role, synonyms := range roleSynonyms {
		for _, syn := range synonyms {
			if n == syn {
				return role, true
			}
		}
	}
	return "", false
}

// DetectColumns returns the column index for each recognized role in a header
// row. The first matching column wins for a given role.
func DetectColumns(header []string) map[ColumnRole]int {
	out := make(map[ColumnRole]int)
	for i, h := range header {
		role, ok := DetectRole(h)
		if !ok {
			continue
		}
		if _, taken := out[role]; !taken {
			out[role] = i
		}
	}
	return out
}
