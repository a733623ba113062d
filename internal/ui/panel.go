package ui

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/Makepad-fr/tada-sync/internal/model"
)

var ansiRegexp = regexp.MustCompile(`\x1b\[[0-9;]*m`)

func stripANSI(s string) string { return ansiRegexp.ReplaceAllString(s, "") }

func visibleWidth(s string) int { return utf8.RuneCountInString(stripANSI(s)) }

// Panel draws a framed box using the current theme.
func (p *Printer) Panel(lines []string) {
	t := p.theme
	maxw := 0
	for _, ln := range lines {
		if w := visibleWidth(ln); w > maxw {
			maxw = w
		}
	}
	pad := func(s string) string {
		if vis := visibleWidth(s); vis < maxw {
			s += strings.Repeat(" ", maxw-vis)
		}
		return s
	}
	fmt.Fprintln(p.Out, t.CornerTL+strings.Repeat(t.H, maxw+2)+t.CornerTR)
	for _, ln := range lines {
		fmt.Fprintln(p.Out, t.V+" "+pad(ln)+" "+t.V)
	}
	fmt.Fprintln(p.Out, t.CornerBL+strings.Repeat(t.H, maxw+2)+t.CornerBR)
}

// ItemLines numbers items from 1, the way index arguments address them.
func (p *Printer) ItemLines(items []model.Item) []string {
	if len(items) == 0 {
		return []string{p.C(p.theme.Muted, "no items")}
	}
	out := make([]string, 0, len(items))
	for i, it := range items {
		text := it.Text
		if utf8.RuneCountInString(text) > 80 {
			text = string([]rune(text)[:77]) + "..."
		}
		out = append(out, fmt.Sprintf("%s %s %s",
			p.C(dim, fmt.Sprintf("%2d.", i+1)), p.C(p.theme.Pending, p.theme.Bullet), text))
	}
	return out
}

// ItemPanel prints the header, the numbered items and a tip in one panel.
func (p *Printer) ItemPanel(title string, items []model.Item, tip string) {
	lines := []string{
		fmt.Sprintf("%s  %s %d", p.C(p.theme.Title, title), p.C(p.theme.Accent, "Total"), len(items)),
		"",
	}
	lines = append(lines, p.ItemLines(items)...)
	if tip != "" {
		lines = append(lines, "", p.C(p.theme.Muted, tip))
	}
	p.Panel(lines)
}
