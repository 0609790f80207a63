package extract

import (
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JVLegend/iausp-prontuario/internal/scrapeutil"
)

// PageText returns the text of sel with one line per text node, skipping
// scripts and hidden subtrees. Line breaks keep adjacent values apart
// so "Raça: BRANCA" followed by "Naturalidade" does not run together.
func PageText(sel *goquery.Selection) string {
	return strings.Join(collectText(sel, nil), "\n")
}

func collectText(sel *goquery.Selection, out []string) []string {
	sel.Contents().Each(func(_ int, c *goquery.Selection) {
		switch goquery.NodeName(c) {
		case "#text":
			if t := scrapeutil.CollapseSpace(c.Text()); t != "" {
				out = append(out, t)
			}
		case "#comment", "script", "style", "noscript", "template", "head":
		default:
			if !hidden(c) {
				out = collectText(c, out)
			}
		}
	})
	return out
}

// textOf joins the visible text nodes under sel with single spaces.
func textOf(sel *goquery.Selection) string {
	return strings.Join(collectText(sel, nil), " ")
}

// ownText returns only the direct text children of sel.
func ownText(sel *goquery.Selection) string {
	var parts []string
	sel.Contents().Each(func(_ int, c *goquery.Selection) {
		if goquery.NodeName(c) == "#text" {
			if t := scrapeutil.CollapseSpace(c.Text()); t != "" {
				parts = append(parts, t)
			}
		}
	})
	return strings.Join(parts, " ")
}

func hidden(sel *goquery.Selection) bool {
	if _, ok := sel.Attr("hidden"); ok {
		return true
	}
	if sel.AttrOr("aria-hidden", "") == "true" {
		return true
	}
	style := strings.ReplaceAll(strings.ToLower(sel.AttrOr("style", "")), " ", "")
	return strings.Contains(style, "display:none") || strings.Contains(style, "visibility:hidden")
}

func visible(sel *goquery.Selection) bool {
	if hidden(sel) {
		return false
	}
	return sel.ParentsFiltered("[hidden], [aria-hidden=true], [style]").FilterFunction(func(_ int, p *goquery.Selection) bool {
		return hidden(p)
	}).Length() == 0
}

// AttendanceNumber finds the attendance (atendimento) number shown in
// the search results. Visible h3 headings are preferred; otherwise any
// visible element whose own text is 7 to 10 digits is used.
func AttendanceNumber(html string) (string, bool) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", false
	}

	var number string
	doc.Find("h3").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		if !visible(sel) {
			return true
		}
		t := strings.TrimSpace(sel.Text())
		if scrapeutil.IsDigits(t) {
			number = strings.ReplaceAll(t, " ", "")
			return false
		}
		return true
	})
	if number != "" {
		return number, true
	}

	doc.Find("body *").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		t := strings.ReplaceAll(ownText(sel), " ", "")
		if len(t) >= 7 && len(t) <= 10 && scrapeutil.IsDigits(t) && visible(sel) {
			number = t
			return false
		}
		return true
	})
	return number, number != ""
}

// SearchRowCount counts visible, non-empty rows in the results table.
func SearchRowCount(html string) int {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return 0
	}
	n := 0
	doc.Find("tbody tr").Each(func(_ int, sel *goquery.Selection) {
		if visible(sel) && textOf(sel) != "" {
			n++
		}
	})
	return n
}
