package presenter

import (
	"context"
	"strings"
	"sync"

	"golang.org/x/text/unicode/norm"

	"smart-meal-manager/internal/analysis"
)

// NormalizeName applies NFKC so that "ﾀﾏﾈｷﾞ" and "タマネギ" name the same item.
func NormalizeName(name string) string {
	return norm.NFKC.String(strings.TrimSpace(name))
}

// Stock tracks which ingredients the user marked as already at home.
// It never modifies the result it is used with.
type Stock struct {
	mu    sync.Mutex
	items map[string]bool
}

// NewStock returns an empty Stock.
func NewStock() *Stock {
	return &Stock{items: make(map[string]bool)}
}

// Toggle flips name and returns the new state.
func (s *Stock) Toggle(name string) bool {
	key := NormalizeName(name)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.items[key] {
		delete(s.items, key)
		return false
	}
	s.items[key] = true
	return true
}

// Has reports whether name is marked.
func (s *Stock) Has(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.items[NormalizeName(name)]
}

// Reset clears all marks.
func (s *Stock) Reset() {
	s.mu.Lock()
	s.items = make(map[string]bool)
	s.mu.Unlock()
}

// NeedToBuy returns the shopping items not marked as in stock.
func (s *Stock) NeedToBuy(list []analysis.ShoppingItem) []analysis.ShoppingItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]analysis.ShoppingItem, 0, len(list))
	for _, item := range list {
		if !s.items[NormalizeName(item.Item)] {
			out = append(out, item)
		}
	}
	return out
}

// Suggester looks up recipes for one ingredient.
type Suggester interface {
	SuggestRecipes(ctx context.Context, ingredient string) ([]string, error)
}

// Suggestion is the state of a recipe lookup.
type Suggestion struct {
	Ingredient string
	Loading    bool
	Recipes    []string
	Err        error
}

// Suggest runs a lookup. onChange, if non-nil, first sees the loading state.
func Suggest(ctx context.Context, s Suggester, ingredient string, onChange func(Suggestion)) Suggestion {
	state := Suggestion{Ingredient: ingredient, Loading: true}
	if onChange != nil {
		onChange(state)
	}
	recipes, err := s.SuggestRecipes(ctx, ingredient)
	state.Loading = false
	if err != nil {
		state.Err = err
	} else {
		state.Recipes = recipes
	}
	if onChange != nil {
		onChange(state)
	}
	return state
}
