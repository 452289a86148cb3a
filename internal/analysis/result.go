package analysis

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// DefaultCategory is assigned to ingredients reported without a category.
const DefaultCategory = "その他"

// Ingredient is a detected ingredient. The backend reports either a bare
// name or a {name, category} record; both decode into this type.
type Ingredient struct {
	Name     string `json:"name"`
	Category string `json:"category"`
}

// UnmarshalJSON accepts both ingredient encodings.
func (i *Ingredient) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var name string
		if err := json.Unmarshal(data, &name); err != nil {
			return fmt.Errorf("decode ingredient name: %w", err)
		}
		*i = Ingredient{Name: name, Category: DefaultCategory}
		return nil
	}

	var rec struct {
		Name     string `json:"name"`
		Category string `json:"category"`
	}
	if err := json.Unmarshal(data, &rec); err != nil {
		return fmt.Errorf("decode ingredient record: %w", err)
	}
	if rec.Category == "" {
		rec.Category = DefaultCategory
	}
	*i = Ingredient{Name: rec.Name, Category: rec.Category}
	return nil
}

// NormalizeNames converts bare ingredient names into records under DefaultCategory.
func NormalizeNames(names []string) []Ingredient {
	out := make([]Ingredient, 0, len(names))
	for _, n := range names {
		out = append(out, Ingredient{Name: n, Category: DefaultCategory})
	}
	return out
}

// Meals holds the dishes planned for one day.
type Meals struct {
	Breakfast string `json:"breakfast"`
	Lunch     string `json:"lunch"`
	Dinner    string `json:"dinner"`
}

// DayPlan represents the plan for a single day.
type DayPlan struct {
	Day   string `json:"day"`
	Meals Meals  `json:"meals"`
}

// ReasonBargain marks a shopping item that is currently on sale.
const ReasonBargain = "bargain"

// ShoppingItem is a single shopping list line.
type ShoppingItem struct {
	Item   string `json:"item"`
	Reason string `json:"reason,omitempty"`
}

// UnmarshalJSON accepts a bare item name as well as the record form.
func (s *ShoppingItem) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var item string
		if err := json.Unmarshal(data, &item); err != nil {
			return fmt.Errorf("decode shopping item: %w", err)
		}
		*s = ShoppingItem{Item: item}
		return nil
	}

	type plain ShoppingItem
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("decode shopping item record: %w", err)
	}
	*s = ShoppingItem(p)
	return nil
}

// Bargain reports whether the item should carry a sale marker.
func (s ShoppingItem) Bargain() bool {
	return s.Reason == ReasonBargain
}

// Result accumulates the independently arriving analysis fields.
type Result struct {
	Ingredients  []Ingredient   `json:"ingredients"`
	MealPlan     []DayPlan      `json:"mealPlan"`
	ShoppingList []ShoppingItem `json:"shoppingList"`
}

// Merge returns r updated with every non-empty field of update.
// Fields that update leaves empty keep their previous value.
func (r Result) Merge(update Result) Result {
	if len(update.Ingredients) > 0 {
		r.Ingredients = update.Ingredients
	}
	if len(update.MealPlan) > 0 {
		r.MealPlan = update.MealPlan
	}
	if len(update.ShoppingList) > 0 {
		r.ShoppingList = update.ShoppingList
	}
	return r
}

// Empty reports whether no field has arrived yet.
func (r Result) Empty() bool {
	return len(r.Ingredients) == 0 && len(r.MealPlan) == 0 && len(r.ShoppingList) == 0
}

// CategoryGroup is a run of ingredients sharing one category.
type CategoryGroup struct {
	Category    string
	Ingredients []Ingredient
}

// GroupByCategory buckets ingredients by category. Groups appear in the order
// their category was first seen, and each group keeps insertion order.
func GroupByCategory(ingredients []Ingredient) []CategoryGroup {
	var groups []CategoryGroup
	index := make(map[string]int)
	for _, ing := range ingredients {
		cat := ing.Category
		if cat == "" {
			cat = DefaultCategory
			ing.Category = cat
		}
		pos, ok := index[cat]
		if !ok {
			pos = len(groups)
			index[cat] = pos
			groups = append(groups, CategoryGroup{Category: cat})
		}
		groups[pos].Ingredients = append(groups[pos].Ingredients, ing)
	}
	return groups
}
