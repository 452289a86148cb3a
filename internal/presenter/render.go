package presenter

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mattn/go-isatty"

	"smart-meal-manager/internal/analysis"
	"smart-meal-manager/internal/settings"
)

const (
	saleMarker    = "SALE"
	inStockMarker = "in stock"
	nothingToBuy  = "No items needed. You have everything!"
	errorMessage  = "Analysis failed. Please take new photos and try again."
)

// Renderer draws views as terminal tables.
type Renderer struct {
	settings settings.Settings
	colorize bool
}

// NewRenderer creates a Renderer for w. Colour is only used when w is a terminal.
func NewRenderer(w io.Writer, s settings.Settings) *Renderer {
	return &Renderer{settings: s, colorize: shouldColorize(w)}
}

func shouldColorize(w io.Writer) bool {
	file, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func (r *Renderer) style() table.Style {
	style := table.StyleRounded
	if r.settings.HighContrast {
		style = table.StyleBold
		if r.colorize {
			style.Color.Header = text.Colors{text.BgHiWhite, text.FgBlack, text.Bold}
			style.Color.Row = text.Colors{text.FgHiWhite}
			style.Color.RowAlternate = text.Colors{text.FgHiWhite}
			style.Title.Colors = text.Colors{text.FgHiYellow, text.Bold}
		}
	}
	pad := strings.Repeat(" ", r.settings.FontSize.Padding())
	style.Box.PaddingLeft = pad
	style.Box.PaddingRight = pad
	return style
}

// Table renders rows under headers with the accessibility style applied.
func (r *Renderer) Table(title string, headers []string, rows [][]string) string {
	tw := table.NewWriter()
	tw.SetStyle(r.style())
	if title != "" {
		tw.SetTitle(title)
	}

	header := make(table.Row, len(headers))
	for i, h := range headers {
		header[i] = h
	}
	tw.AppendHeader(header)

	for _, row := range rows {
		out := make(table.Row, len(headers))
		for i := range headers {
			if i < len(row) {
				out[i] = row[i]
			} else {
				out[i] = ""
			}
		}
		tw.AppendRow(out)
	}
	return tw.Render()
}

func (r *Renderer) strike(s string) string {
	if r.colorize {
		return text.CrossedOut.Sprint(s)
	}
	return s
}

// Render draws v. stock may be nil.
func (r *Renderer) Render(v View, stock *Stock) string {
	has := func(name string) bool { return stock != nil && stock.Has(name) }

	switch v.Panel {
	case PanelNone:
		return ""
	case PanelError:
		return errorMessage + "\n"
	}

	var sb strings.Builder

	if len(v.Groups) == 0 {
		sb.WriteString("Detected Ingredients\n")
		sb.WriteString(v.Placeholder + "\n")
	} else {
		var rows [][]string
		for _, g := range v.Groups {
			for _, ing := range g.Ingredients {
				name, mark := ing.Name, ""
				if has(ing.Name) {
					name, mark = r.strike(ing.Name), inStockMarker
				}
				rows = append(rows, []string{g.Category, name, mark})
			}
		}
		sb.WriteString(r.Table("Detected Ingredients", []string{"Category", "Ingredient", "Stock"}, rows))
		sb.WriteString("\n")
	}

	if v.Loading {
		sb.WriteString(fmt.Sprintf("... %s\n", loadingText(v)))
	}
	if v.Panel != PanelFull {
		return sb.String()
	}

	sb.WriteString("\n")
	if len(v.MealPlan) > 0 {
		rows := make([][]string, 0, len(v.MealPlan))
		for _, d := range v.MealPlan {
			rows = append(rows, []string{d.Day, d.Meals.Breakfast, d.Meals.Lunch, d.Meals.Dinner})
		}
		sb.WriteString(r.Table("Weekly Plan", []string{"Day", "Breakfast", "Lunch", "Dinner"}, rows))
		sb.WriteString("\n\n")
	}

	if len(v.ShoppingList) == 0 {
		sb.WriteString("Shopping List\n")
		sb.WriteString(nothingToBuy + "\n")
		return sb.String()
	}
	rows := make([][]string, 0, len(v.ShoppingList))
	for _, item := range v.ShoppingList {
		name, note := item.Item, ""
		if item.Bargain() {
			note = saleMarker
		}
		if has(item.Item) {
			name = r.strike(item.Item)
			note = strings.TrimSpace(note + " " + inStockMarker)
		}
		rows = append(rows, []string{name, note})
	}
	sb.WriteString(r.Table("Shopping List", []string{"Item", "Note"}, rows))
	sb.WriteString("\n")
	return sb.String()
}

func loadingText(v View) string {
	if v.Status == analysis.StatusIngredientsReady {
		return "Planning meals..."
	}
	return "Analyzing images..."
}
