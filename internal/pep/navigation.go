package pep

import (
	"errors"
	"strings"
)

const atendimentoPlaceholder = "{atendimento}"

// PatientURL builds the patient page address from the current search
// page URL: everything before "/#/" is kept and the template, with the
// attendance number substituted, is appended.
func PatientURL(current, template, atendimento string) (string, error) {
	if atendimento == "" {
		return "", errors.New("empty attendance number")
	}
	if !strings.Contains(template, atendimentoPlaceholder) {
		return "", errors.New("patient path template has no " + atendimentoPlaceholder)
	}
	base, _, _ := strings.Cut(current, "/#/")
	base = strings.TrimRight(base, "/")
	path := strings.ReplaceAll(template, atendimentoPlaceholder, atendimento)
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return base + path, nil
}

// OnPatientPage reports whether url looks like the page of atendimento.
func OnPatientPage(url, atendimento string) bool {
	return strings.Contains(url, atendimento) || strings.Contains(url, "/h/")
}

// OnLoginPage reports whether url is still the login form.
func OnLoginPage(url string) bool {
	return strings.Contains(strings.ToLower(url), "login")
}

type selectOption struct {
	Text  string
	Value string
}

// chooseOption picks the option for company: exact visible text first,
// then exact value, then a case-insensitive text match. It returns -1
// when nothing matches.
func chooseOption(options []selectOption, company string) int {
	company = strings.TrimSpace(company)
	for i, o := range options {
		if strings.TrimSpace(o.Text) == company {
			return i
		}
	}
	for i, o := range options {
		if o.Value == company {
			return i
		}
	}
	upper := strings.ToUpper(company)
	for i, o := range options {
		if strings.Contains(strings.ToUpper(o.Text), upper) {
			return i
		}
	}
	return -1
}

// looksLikeSearchInput is the placeholder heuristic used when none of the
// known search field selectors match.
func looksLikeSearchInput(placeholder string) bool {
	p := strings.ToLower(placeholder)
	for _, w := range []string{"palavra", "pesquis", "search", "busca"} {
		if strings.Contains(p, w) {
			return true
		}
	}
	return false
}
