package pep

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/JVLegend/iausp-prontuario/internal/config"
	"github.com/JVLegend/iausp-prontuario/internal/model"
)

// fakeSteps records page operations and fails the ones configured.
type fakeSteps struct {
	calls      []string
	current    string
	failSelect map[string]bool
	failOpen   int
}

func (f *fakeSteps) openSearch(context.Context) error {
	f.calls = append(f.calls, "open")
	if f.failOpen > 0 {
		f.failOpen--
		return errors.New("navigation timeout")
	}
	return nil
}

func (f *fakeSteps) search(_ context.Context, prontuario string) error {
	f.current = prontuario
	f.calls = append(f.calls, "search:"+prontuario)
	return nil
}

func (f *fakeSteps) selectPatient(context.Context) (string, error) {
	f.calls = append(f.calls, "select:"+f.current)
	if f.failSelect[f.current] {
		return "", errors.New("unexpected patient page url")
	}
	return "99" + f.current, nil
}

func (f *fakeSteps) capture(_ context.Context, item model.WorkItem) error {
	f.calls = append(f.calls, "capture:"+item.ID)
	return nil
}

func (f *fakeSteps) writeError(_ context.Context, name string) {
	f.calls = append(f.calls, "error:"+name)
}

func newFakeSession(steps *fakeSteps) *Session {
	return &Session{
		cfg:    config.Default(),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		steps:  steps,
	}
}

func TestPatientURL(t *testing.T) {
	got, err := PatientURL(
		"http://bal-pep.phcnet.usp.br/mvpep/5/pt-BR/#/d/141",
		config.DefaultPatientPathTemplate,
		"2345678",
	)
	if err != nil {
		t.Fatalf("PatientURL: %v", err)
	}
	want := "http://bal-pep.phcnet.usp.br/mvpep/5/pt-BR/#/d/3622/MVPEP_LISTA_TODOS_PACIENTES_HTML5/2512/LISTA_TODOS_PACIENTES/h/2345678"
	if got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}

	got, err = PatientURL("http://host/app/", "h/{atendimento}", "1")
	if err != nil || got != "http://host/app/h/1" {
		t.Fatalf("expected http://host/app/h/1, got %q (err %v)", got, err)
	}
}

func TestPatientURLErrors(t *testing.T) {
	if _, err := PatientURL("http://host/#/x", "/h/{atendimento}", ""); err == nil {
		t.Fatalf("expected error for empty attendance number")
	}
	if _, err := PatientURL("http://host/#/x", "/h/", "1"); err == nil {
		t.Fatalf("expected error for template without placeholder")
	}
}

func TestPageChecks(t *testing.T) {
	if !OnPatientPage("http://h/#/d/1/h/999", "123") {
		t.Fatalf("expected /h/ url to count as patient page")
	}
	if !OnPatientPage("http://h/#/x/123", "123") {
		t.Fatalf("expected url containing attendance number to count")
	}
	if OnPatientPage("http://h/#/d/141", "123") {
		t.Fatalf("search page must not count as patient page")
	}
	if !OnLoginPage("http://hishc/Login?err=1") || OnLoginPage("http://hishc/home") {
		t.Fatalf("unexpected login page detection")
	}
}

func TestChooseOption(t *testing.T) {
	options := []selectOption{
		{Text: "Selecione", Value: ""},
		{Text: "INSTITUTO CENTRAL - ICHC", Value: "1"},
		{Text: "ICHC", Value: "2"},
		{Text: "INCOR", Value: "INC"},
	}
	cases := []struct {
		company string
		want    int
	}{
		{"ICHC", 2},
		{"INC", 3},
		{"incor", 3},
		{"central", 1},
		{"HCFMRP", -1},
	}
	for _, c := range cases {
		if got := chooseOption(options, c.company); got != c.want {
			t.Fatalf("chooseOption(%q): expected %d, got %d", c.company, c.want, got)
		}
	}
}

func TestLooksLikeSearchInput(t *testing.T) {
	for _, ph := range []string{"Palavra-chave", "Pesquisar paciente", "Search", "busca rápida"} {
		if !looksLikeSearchInput(ph) {
			t.Fatalf("expected %q to look like a search input", ph)
		}
	}
	if looksLikeSearchInput("Senha") {
		t.Fatalf("password placeholder must not match")
	}
}

func TestParseFlag(t *testing.T) {
	f, err := ParseFlag("--disable-blink-features=AutomationControlled")
	if err != nil {
		t.Fatalf("ParseFlag: %v", err)
	}
	if f.Name != "disable-blink-features" || len(f.Values) != 1 || f.Values[0] != "AutomationControlled" {
		t.Fatalf("unexpected flag: %+v", f)
	}
	f, err = ParseFlag("no-sandbox")
	if err != nil || f.Name != "no-sandbox" || f.Values != nil {
		t.Fatalf("unexpected flag: %+v (err %v)", f, err)
	}
	if _, err := ParseFlag(" -- "); err == nil {
		t.Fatalf("expected error for empty flag")
	}
}

func TestBuildLaunchOptionsDefaults(t *testing.T) {
	opts, err := BuildLaunchOptions(config.BrowserConfig{Headless: true})
	if err != nil {
		t.Fatalf("BuildLaunchOptions: %v", err)
	}
	if !opts.Headless || len(opts.Flags) != len(DefaultFlags) {
		t.Fatalf("expected default flags, got %+v", opts)
	}

	opts, err = BuildLaunchOptions(config.BrowserConfig{Flags: []string{"proxy-server=http://p:3128"}})
	if err != nil {
		t.Fatalf("BuildLaunchOptions: %v", err)
	}
	if len(opts.Flags) != 1 || opts.Flags[0].Values[0] != "http://p:3128" {
		t.Fatalf("expected configured flag only, got %+v", opts.Flags)
	}
}

func TestStepErrorUnwraps(t *testing.T) {
	err := error(&StepError{Step: "login", Err: ErrLoginRejected})
	if !errors.Is(err, ErrLoginRejected) {
		t.Fatalf("expected StepError to unwrap")
	}
	if err.Error() != "login: login rejected: still on login page" {
		t.Fatalf("unexpected message %q", err.Error())
	}
}

func TestProcessReopensSearchAfterFailedItem(t *testing.T) {
	steps := &fakeSteps{failSelect: map[string]bool{"B": true}}
	sess := newFakeSession(steps)
	ctx := context.Background()

	for _, id := range []string{"A", "B", "C"} {
		err := sess.Process(ctx, model.WorkItem{ID: id})
		if id == "B" {
			var stepErr *StepError
			if !errors.As(err, &stepErr) || stepErr.Step != "select" {
				t.Fatalf("expected select step error for B, got %v", err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("Process(%s): %v", id, err)
		}
	}

	want := strings.Join([]string{
		"search:A", "select:A", "capture:A", "open",
		"search:B", "select:B", "error:erro_selecao_B",
		"open", "search:C", "select:C", "capture:C", "open",
	}, " ")
	if got := strings.Join(steps.calls, " "); got != want {
		t.Fatalf("unexpected steps:\n got %s\nwant %s", got, want)
	}
	if sess.offSearch {
		t.Fatalf("expected search page to be current after a successful item")
	}
}

func TestProcessKeepsReopeningUntilSearchLoads(t *testing.T) {
	steps := &fakeSteps{failSelect: map[string]bool{"A": true}, failOpen: 1}
	sess := newFakeSession(steps)
	ctx := context.Background()

	if err := sess.Process(ctx, model.WorkItem{ID: "A"}); err == nil {
		t.Fatalf("expected A to fail")
	}
	err := sess.Process(ctx, model.WorkItem{ID: "B"})
	var stepErr *StepError
	if !errors.As(err, &stepErr) || stepErr.Step != "navigate" {
		t.Fatalf("expected navigate step error for B, got %v", err)
	}
	if !sess.offSearch {
		t.Fatalf("expected search page to still need reloading")
	}
	if err := sess.Process(ctx, model.WorkItem{ID: "C"}); err != nil {
		t.Fatalf("Process(C): %v", err)
	}
	if steps.calls[len(steps.calls)-4] != "search:C" {
		t.Fatalf("expected C to be searched after reopening, got %v", steps.calls)
	}
}
