package presenter

import (
	"fmt"
	"strings"
)

var markdownEscaper = strings.NewReplacer("_", "\\_", "*", "\\*", "`", "\\`", "[", "\\[")

func escapeMarkdown(s string) string {
	return markdownEscaper.Replace(s)
}

// MarkdownParts formats a view as Telegram Markdown messages: ingredients,
// meal plan and shopping list. Parts that do not apply to the view's panel
// are empty strings.
func MarkdownParts(v View, stock *Stock) (ingredients, plan, shopping string) {
	has := func(name string) bool { return stock != nil && stock.Has(name) }

	switch v.Panel {
	case PanelNone:
		return "", "", ""
	case PanelError:
		return "❌ " + errorMessage, "", ""
	}

	var ib strings.Builder
	ib.WriteString("🥚 *Detected Ingredients*\n\n")
	if len(v.Groups) == 0 {
		ib.WriteString(fmt.Sprintf("_%s_\n", v.Placeholder))
	}
	for _, g := range v.Groups {
		ib.WriteString(fmt.Sprintf("*%s*\n", escapeMarkdown(g.Category)))
		for _, ing := range g.Ingredients {
			if has(ing.Name) {
				ib.WriteString(fmt.Sprintf("• ✅ %s\n", escapeMarkdown(ing.Name)))
			} else {
				ib.WriteString(fmt.Sprintf("• %s\n", escapeMarkdown(ing.Name)))
			}
		}
		ib.WriteString("\n")
	}
	if v.Loading {
		ib.WriteString(fmt.Sprintf("_%s_\n", loadingText(v)))
	}
	if v.Panel != PanelFull {
		return ib.String(), "", ""
	}

	var pb strings.Builder
	pb.WriteString("📅 *Weekly Plan*\n\n")
	for _, dp := range v.MealPlan {
		pb.WriteString(fmt.Sprintf("*%s*\n", escapeMarkdown(dp.Day)))
		for _, meal := range []struct{ label, dish string }{
			{"Breakfast", dp.Meals.Breakfast},
			{"Lunch", dp.Meals.Lunch},
			{"Dinner", dp.Meals.Dinner},
		} {
			if meal.dish != "" {
				pb.WriteString(fmt.Sprintf("%s: %s\n", meal.label, escapeMarkdown(meal.dish)))
			}
		}
		pb.WriteString("\n")
	}

	var sb strings.Builder
	sb.WriteString("🛒 *Shopping List*\n\n")
	if len(v.ShoppingList) == 0 {
		sb.WriteString(fmt.Sprintf("_%s_\n", nothingToBuy))
	}
	for _, item := range v.ShoppingList {
		line := escapeMarkdown(item.Item)
		if has(item.Item) {
			line = "✅ " + line
		}
		if item.Bargain() {
			line += " *" + saleMarker + "*"
		}
		sb.WriteString(fmt.Sprintf("• %s\n", line))
	}

	return ib.String(), pb.String(), sb.String()
}
