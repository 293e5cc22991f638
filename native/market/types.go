package market

import (
	"fmt"
	"math/big"
)

// Category segments marketplace volume for price-index computation. The
// canonical taxonomy is the twelve-member basket of goods and services
// (TaxonomyV2). The legacy eight-member CPI-aligned taxonomy survives only for
// migration; raw category integers are never reinterpreted across versions.
type Category uint8

const (
	CategoryFoodBeverages Category = iota
	CategoryHousing
	CategoryApparel
	CategoryTransport
	CategoryHealthcare
	CategoryEducation
	CategoryRecreation
	CategoryCommunication
	CategoryHouseholdGoods
	CategoryPersonalCare
	CategoryUtilities
	CategoryMiscellaneous

	categoryCount
)

// CategoryCount is the size of the canonical taxonomy.
const CategoryCount = uint8(categoryCount)

// Valid reports whether the category falls inside the canonical taxonomy.
func (c Category) Valid() bool {
	return c < categoryCount
}

func (c Category) String() string {
	switch c {
	case CategoryFoodBeverages:
		return "food-beverages"
	case CategoryHousing:
		return "housing"
	case CategoryApparel:
		return "apparel"
	case CategoryTransport:
		return "transport"
	case CategoryHealthcare:
		return "healthcare"
	case CategoryEducation:
		return "education"
	case CategoryRecreation:
		return "recreation"
	case CategoryCommunication:
		return "communication"
	case CategoryHouseholdGoods:
		return "household-goods"
	case CategoryPersonalCare:
		return "personal-care"
	case CategoryUtilities:
		return "utilities"
	case CategoryMiscellaneous:
		return "miscellaneous"
	default:
		return fmt.Sprintf("category(%d)", uint8(c))
	}
}

// LegacyCategory is the retired eight-member CPI-aligned taxonomy (TaxonomyV1).
type LegacyCategory uint8

const (
	LegacyFood LegacyCategory = iota
	LegacyHousing
	LegacyApparel
	LegacyTransport
	LegacyMedical
	LegacyRecreation
	LegacyEducation
	LegacyOther

	legacyCategoryCount
)

var legacyMigration = [legacyCategoryCount]Category{
	LegacyFood:       CategoryFoodBeverages,
	LegacyHousing:    CategoryHousing,
	LegacyApparel:    CategoryApparel,
	LegacyTransport:  CategoryTransport,
	LegacyMedical:    CategoryHealthcare,
	LegacyRecreation: CategoryRecreation,
	LegacyEducation:  CategoryEducation,
	LegacyOther:      CategoryMiscellaneous,
}

// MigrateCategory maps a legacy taxonomy member onto the canonical taxonomy.
func MigrateCategory(legacy LegacyCategory) (Category, error) {
	if legacy >= legacyCategoryCount {
		return 0, fmt.Errorf("market: legacy category %d out of range", uint8(legacy))
	}
	return legacyMigration[legacy], nil
}

// SellOrder is one active listing inside an order book. Monetary values are
// 18-decimal wei.
type SellOrder struct {
	Seller    [20]byte
	Quantity  uint64
	UnitPrice *big.Int
	Category  Category
	ListedAt  uint64
}

// Value returns quantity multiplied by unit price.
func (o SellOrder) Value() *big.Int {
	price := o.UnitPrice
	if price == nil {
		price = big.NewInt(0)
	}
	return new(big.Int).Mul(new(big.Int).SetUint64(o.Quantity), price)
}

// Clone returns a deep copy of the order.
func (o SellOrder) Clone() SellOrder {
	clone := o
	if o.UnitPrice != nil {
		clone.UnitPrice = new(big.Int).Set(o.UnitPrice)
	} else {
		clone.UnitPrice = big.NewInt(0)
	}
	return clone
}
