package presenter

import (
	"fmt"

	"smart-meal-manager/internal/analysis"
)

// Panel is the result area shown for a status.
type Panel int

const (
	PanelNone Panel = iota
	PanelIngredients
	PanelFull
	PanelError
)

func (p Panel) String() string {
	switch p {
	case PanelIngredients:
		return "ingredients"
	case PanelFull:
		return "full"
	case PanelError:
		return "error"
	default:
		return "none"
	}
}

// Tab is one section of the full result view.
type Tab string

const (
	TabIngredients Tab = "ingredients"
	TabMealPlan    Tab = "mealPlan"
	TabShopping    Tab = "shoppingList"
)

// Tabs lists the tabs in display order.
var Tabs = []Tab{TabIngredients, TabMealPlan, TabShopping}

// View is everything a renderer needs for one frame.
type View struct {
	Status  analysis.Status
	Panel   Panel
	Loading bool
	// Enabled holds the tabs the user can open.
	Enabled      map[Tab]bool
	Groups       []analysis.CategoryGroup
	MealPlan     []analysis.DayPlan
	ShoppingList []analysis.ShoppingItem
	// Placeholder is shown in place of an empty ingredient list.
	Placeholder string
}

// Present maps a status and the accumulated result to a view. It is pure:
// the same inputs always give the same view.
func Present(status analysis.Status, result analysis.Result) View {
	v := View{Status: status, Enabled: map[Tab]bool{}}

	switch status {
	case analysis.StatusUploaded, analysis.StatusAnalyzing, analysis.StatusIngredientsReady:
		v.Panel = PanelIngredients
		v.Loading = true
		v.Enabled[TabIngredients] = true
	case analysis.StatusDone:
		v.Panel = PanelFull
		for _, t := range Tabs {
			v.Enabled[t] = true
		}
		v.MealPlan = result.MealPlan
		v.ShoppingList = result.ShoppingList
	case analysis.StatusError:
		v.Panel = PanelError
		return v
	default:
		// waiting, created, loading and unrecognised statuses
		return v
	}

	v.Groups = analysis.GroupByCategory(result.Ingredients)
	if len(v.Groups) == 0 {
		if status == analysis.StatusAnalyzing {
			v.Placeholder = "Analyzing images..."
		} else {
			v.Placeholder = "No ingredients detected."
		}
	}
	return v
}

// Announcement returns the narration for a status change, if the status has one.
func Announcement(status analysis.Status, result analysis.Result) (string, bool) {
	switch status {
	case analysis.StatusAnalyzing:
		return "画像を解析しています。少々お待ちください。", true
	case analysis.StatusIngredientsReady:
		return fmt.Sprintf("食材を%d個、見つけました。献立を考えています。", len(result.Ingredients)), true
	case analysis.StatusDone:
		return "献立と買い物リストができました。画面をご覧ください。", true
	}
	return "", false
}
