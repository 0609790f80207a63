// Package extract pulls patient data out of rendered PEP pages.
//
// Everything here works on an HTML snapshot of the page, so the
// heuristics can be exercised without a browser. Each strategy only
// fills fields that are still empty, in order of decreasing confidence.
package extract

import (
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/JVLegend/iausp-prontuario/internal/model"
	"github.com/JVLegend/iausp-prontuario/internal/scrapeutil"
)

var (
	dateRe = regexp.MustCompile(`^\d{2}/\d{2}/\d{4}`)

	labelled = []struct {
		field    string
		patterns []*regexp.Regexp
	}{
		{model.FieldDataNascimento, []*regexp.Regexp{
			regexp.MustCompile(`(?i)Data de nascimento[:\s]*(\d{2}/\d{2}/\d{4})`),
			regexp.MustCompile(`(?i)Nascimento[:\s]*(\d{2}/\d{2}/\d{4})`),
		}},
		{model.FieldCPF, []*regexp.Regexp{
			regexp.MustCompile(`(?i)\bCPF\b[:\s]*(\d{3}\.?\d{3}\.?\d{3}-?\d{2})`),
		}},
		{model.FieldCodigoPaciente, []*regexp.Regexp{
			regexp.MustCompile(`(?i)Código do paciente[:\s]*(\d+)`),
			regexp.MustCompile(`(?i)Código[:\s]*(\d+)`),
			regexp.MustCompile(`(?i)\bSAME\b[:\s]*(\d+)`),
		}},
		{model.FieldRaca, []*regexp.Regexp{
			regexp.MustCompile(`(?i)Raça[:\s]*(\p{L}+)`),
			regexp.MustCompile(`(?i)\bCor\b[:\s]*(\p{L}+)`),
			regexp.MustCompile(`(?i)Etnia[:\s]*(\p{L}+)`),
		}},
		{model.FieldNaturalidade, []*regexp.Regexp{
			regexp.MustCompile(`(?i)Naturalidade[:\s]*([^\n]+)`),
			regexp.MustCompile(`(?i)Natural de[:\s]*([^\n]+)`),
		}},
	}

	unlabelled = []struct {
		field   string
		pattern *regexp.Regexp
	}{
		{model.FieldDataNascimento, regexp.MustCompile(`(\d{2}/\d{2}/\d{4})`)},
		{model.FieldCPF, regexp.MustCompile(`\b(\d{11})\b`)},
	}
)

// Patient extracts the demographic record for prontuario from page HTML.
// It returns the record, always carrying prontuario and capture time,
// plus the names of the fields that could not be captured.
func Patient(html, prontuario string, capturedAt time.Time) (model.PatientRecord, []string, error) {
	rec := model.PatientRecord{
		Prontuario:  prontuario,
		DataCaptura: capturedAt.Format(model.CaptureTimeLayout),
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return rec, rec.Missing(), err
	}

	fromTitle(doc, &rec)
	text := PageText(doc.Find("body"))
	fromLabelledText(text, &rec)
	fromLabelPairs(doc, &rec)
	fromInputs(doc, &rec)
	fromUnlabelledText(text, &rec)

	return rec, rec.Missing(), nil
}

// fromTitle reads the patient name from the card heading.
func fromTitle(doc *goquery.Document, rec *model.PatientRecord) {
	doc.Find("h2").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		name := textOf(sel)
		if !sel.HasClass("mat-card-title") && !strings.Contains(name, " ") {
			return true
		}
		if len(name) > 5 {
			rec.NomeRegistro = name
		}
		return false
	})
	if rec.NomeRegistro != "" {
		return
	}

	doc.Find("[class*=title], [class*=name], [class*=paciente]").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		t := textOf(sel)
		if len(t) > 10 && strings.Contains(t, " ") && scrapeutil.IsUpperText(t) {
			rec.NomeRegistro = t
			return false
		}
		return true
	})
}

func fromLabelledText(text string, rec *model.PatientRecord) {
	for _, l := range labelled {
		if rec.Get(l.field) != "" {
			continue
		}
		for _, re := range l.patterns {
			if m := re.FindStringSubmatch(text); m != nil {
				rec.Set(l.field, normalizeValue(l.field, m[1]))
				break
			}
		}
	}
}

func fromUnlabelledText(text string, rec *model.PatientRecord) {
	for _, u := range unlabelled {
		if rec.Get(u.field) != "" {
			continue
		}
		if m := u.pattern.FindStringSubmatch(text); m != nil {
			rec.Set(u.field, normalizeValue(u.field, m[1]))
		}
	}
}

// fromLabelPairs scans "Label: value" text in common layout elements.
// Elements are picked by their own text but split on their full visible
// text, so a value wrapped in <b> or <span> stays attached to its label.
// A label or dt that ends in a colon takes its value from the next
// sibling.
func fromLabelPairs(doc *goquery.Document, rec *model.PatientRecord) {
	try := func(raw string) {
		label, value, ok := strings.Cut(raw, ":")
		if !ok {
			return
		}
		assignLabelled(rec, strings.ToLower(scrapeutil.CollapseSpace(label)), scrapeutil.CollapseSpace(value))
	}

	doc.Find("div, span, p").Each(func(_ int, sel *goquery.Selection) {
		if strings.Contains(ownText(sel), ":") {
			try(textOf(sel))
		}
	})
	doc.Find("label, dt").Each(func(_ int, sel *goquery.Selection) {
		t := textOf(sel)
		if !strings.Contains(t, ":") {
			return
		}
		if strings.HasSuffix(t, ":") {
			t += " " + textOf(sel.Next())
		}
		try(t)
	})
}

func assignLabelled(rec *model.PatientRecord, label, value string) {
	if value == "" {
		return
	}
	switch {
	case scrapeutil.ContainsAny(label, "nome", "registro"):
		if rec.NomeRegistro == "" && len(value) > 5 && !scrapeutil.ContainsAny(label, "mãe", "mae", "pai", "social") {
			rec.NomeRegistro = value
		}
	case scrapeutil.ContainsAny(label, "nascimento", "nasc"):
		if rec.DataNascimento == "" && dateRe.MatchString(value) {
			rec.DataNascimento = value[:10]
		}
	case scrapeutil.ContainsAny(label, "raça", "raca", "etnia") || hasWord(label, "cor"):
		if rec.Raca == "" {
			rec.Raca = value
		}
	case strings.Contains(label, "cpf"):
		if cpf := scrapeutil.DigitsOnly(value); rec.CPF == "" && len(cpf) == 11 {
			rec.CPF = cpf
		}
	case scrapeutil.ContainsAny(label, "código", "codigo") || hasWord(label, "same"):
		if code := scrapeutil.DigitsOnly(value); rec.CodigoPaciente == "" && code != "" {
			rec.CodigoPaciente = code
		}
	case strings.Contains(label, "naturalidade"):
		if rec.Naturalidade == "" {
			rec.Naturalidade = value
		}
	}
}

// fromInputs reads form inputs whose name or id hints at a field.
func fromInputs(doc *goquery.Document, rec *model.PatientRecord) {
	doc.Find("input").Each(func(_ int, sel *goquery.Selection) {
		value := strings.TrimSpace(sel.AttrOr("value", ""))
		if value == "" {
			return
		}
		attrs := strings.ToLower(sel.AttrOr("name", "") + " " + sel.AttrOr("id", ""))

		switch {
		case strings.Contains(attrs, "nome"):
			if rec.NomeRegistro == "" && len(value) > 5 {
				rec.NomeRegistro = value
			}
		case scrapeutil.ContainsAny(attrs, "data", "nasc"):
			if rec.DataNascimento == "" && dateRe.MatchString(value) {
				rec.DataNascimento = value[:10]
			}
		case strings.Contains(attrs, "cpf"):
			if cpf := scrapeutil.DigitsOnly(value); rec.CPF == "" && len(cpf) == 11 {
				rec.CPF = cpf
			}
		case scrapeutil.ContainsAny(attrs, "raca", "cor"):
			if rec.Raca == "" {
				rec.Raca = value
			}
		case scrapeutil.ContainsAny(attrs, "codigo", "same"):
			if code := scrapeutil.DigitsOnly(value); rec.CodigoPaciente == "" && code != "" {
				rec.CodigoPaciente = code
			}
		case strings.Contains(attrs, "naturalidade"):
			if rec.Naturalidade == "" {
				rec.Naturalidade = value
			}
		}
	})
}

func normalizeValue(field, v string) string {
	v = scrapeutil.CollapseSpace(v)
	if field == model.FieldCPF {
		return scrapeutil.DigitsOnly(v)
	}
	return v
}

func hasWord(s, word string) bool {
	for _, w := range strings.FieldsFunc(s, func(r rune) bool {
		return r == ' ' || r == '/' || r == '-' || r == '(' || r == ')'
	}) {
		if w == word {
			return true
		}
	}
	return false
}
