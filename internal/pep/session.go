// Package pep drives the hospital EMR (PEP) portal with a real browser.
//
// A Session logs in once and then, per patient, searches the record
// number, opens the patient page through the attendance number and
// captures the demographic card.
package pep

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"github.com/JVLegend/iausp-prontuario/internal/config"
	"github.com/JVLegend/iausp-prontuario/internal/extract"
	"github.com/JVLegend/iausp-prontuario/internal/metrics"
	"github.com/JVLegend/iausp-prontuario/internal/model"
	"github.com/JVLegend/iausp-prontuario/internal/records"
)

// ErrLoginRejected means the portal kept showing the login form after
// the credentials were submitted.
var ErrLoginRejected = errors.New("login rejected: still on login page")

// ErrNotFound means the search showed no patient to open.
var ErrNotFound = errors.New("patient not found in search results")

// ErrMissingCredentials is returned by Setup when no username or
// password is configured.
var ErrMissingCredentials = errors.New("missing PEP credentials (set PEP_USUARIO and PEP_SENHA)")

const loadingSelector = ".pep-loading-wrapper"

var searchFieldSelectors = []string{
	"input[placeholder*='Palavra-chave']",
	"input[placeholder*='palavra-chave']",
	"input[placeholder*='Pesquisar']",
	"input[placeholder*='pesquisar']",
	"input[type='search']",
	"input[name*='search']",
	"input[name*='keyword']",
	"input.search-input",
	"input[formcontrolname*='search']",
	"input[formcontrolname*='keyword']",
}

var searchButtonSelectors = []string{
	"button[type='submit']",
	"button.search-button",
	"button[aria-label*='pesquisar']",
	"button[aria-label*='buscar']",
	".search-button",
	"//button[contains(text(), 'Pesquisar')]",
	"//button[contains(text(), 'Buscar')]",
}

// StepError is a failure of one named step of the per-patient flow.
// Its message becomes the checkpoint failure reason.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string { return e.Step + ": " + e.Err.Error() }

func (e *StepError) Unwrap() error { return e.Err }

// itemSteps are the page operations behind Process. Session
// implements them against the browser page.
type itemSteps interface {
	openSearch(ctx context.Context) error
	search(ctx context.Context, prontuario string) error
	selectPatient(ctx context.Context) (string, error)
	capture(ctx context.Context, item model.WorkItem) error
	writeError(ctx context.Context, name string)
}

// Session is a logged-in browser page. It implements jobs.Session.
type Session struct {
	cfg    *config.Config
	sink   records.Sink
	writer *records.Writer
	logger *slog.Logger

	launcher *launcher.Launcher
	browser  *rod.Browser
	page     *rod.Page
	steps    itemSteps

	// offSearch is set whenever the page may not be the search page:
	// after any failed item or a failed return to search.
	offSearch bool
	now       func() time.Time
}

// Open starts (or connects to) a browser and opens a single page.
// Captured records go to sink; diagnostics and error snapshots to writer.
func Open(ctx context.Context, cfg *config.Config, sink records.Sink, writer *records.Writer, logger *slog.Logger) (*Session, error) {
	if logger == nil {
		logger = slog.Default()
	}
	opts, err := BuildLaunchOptions(cfg.Browser)
	if err != nil {
		return nil, err
	}

	s := &Session{cfg: cfg, sink: sink, writer: writer, logger: logger, now: time.Now}
	s.steps = s

	controlURL := opts.ControlURL
	if controlURL == "" {
		s.launcher = opts.Launcher().Context(ctx)
		controlURL, err = s.launcher.Launch()
		if err != nil {
			return nil, fmt.Errorf("launch browser: %w", err)
		}
		logger.Info("browser launched", "headless", opts.Headless, "bin", opts.Bin)
	} else {
		logger.Info("connecting to browser", "control_url", controlURL)
	}

	s.browser = rod.New().Context(ctx).ControlURL(controlURL)
	if err := s.browser.Connect(); err != nil {
		s.killLauncher()
		return nil, fmt.Errorf("connect browser: %w", err)
	}

	s.page, err = s.browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("open page: %w", err)
	}
	return s, nil
}

// Close closes the browser and stops a launched process.
func (s *Session) Close() error {
	var err error
	if s.browser != nil {
		err = s.browser.Close()
	}
	s.killLauncher()
	return err
}

func (s *Session) killLauncher() {
	if s.launcher != nil {
		s.launcher.Kill()
		s.launcher = nil
	}
}

// Setup logs in and opens the patient search page.
func (s *Session) Setup(ctx context.Context) error {
	pep := s.cfg.PEP
	if pep.Username == "" || pep.Password == "" {
		return ErrMissingCredentials
	}

	s.logger.Info("logging in", "url", pep.LoginURL, "user", pep.Username, "company", pep.Company)
	if err := s.login(ctx); err != nil {
		return s.fail(ctx, "login", "erro_login", err)
	}

	current := s.currentURL(ctx)
	if OnLoginPage(current) {
		s.logger.Warn("still on login page after submit", "url", current)
		return s.fail(ctx, "login", "erro_login", ErrLoginRejected)
	}
	s.logger.Info("login succeeded", "url", current)

	if err := s.openSearch(ctx); err != nil {
		return s.fail(ctx, "navigate", "erro_navegacao", err)
	}
	return nil
}

func (s *Session) login(ctx context.Context) error {
	p, done := s.stepPage(ctx)
	defer done()

	if err := p.Navigate(s.cfg.PEP.LoginURL); err != nil {
		return fmt.Errorf("open login page: %w", err)
	}
	if err := p.WaitLoad(); err != nil {
		return fmt.Errorf("wait login page: %w", err)
	}

	user, err := p.Element("#username")
	if err != nil {
		return fmt.Errorf("username field: %w", err)
	}
	if err := user.Input(s.cfg.PEP.Username); err != nil {
		return fmt.Errorf("type username: %w", err)
	}
	pass, err := p.Element("#password")
	if err != nil {
		return fmt.Errorf("password field: %w", err)
	}
	if err := pass.Input(s.cfg.PEP.Password); err != nil {
		return fmt.Errorf("type password: %w", err)
	}

	companies, err := p.Element("#companies")
	if err != nil {
		return fmt.Errorf("company select: %w", err)
	}
	if err := selectCompany(companies, s.cfg.PEP.Company); err != nil {
		return err
	}

	submit, err := p.Element("input.btn-submit[type='submit']")
	if err != nil {
		return fmt.Errorf("submit button: %w", err)
	}
	wait := p.WaitNavigation(proto.PageLifecycleEventNameLoad)
	if err := submit.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("submit login: %w", err)
	}
	wait()
	return nil
}

func selectCompany(sel *rod.Element, company string) error {
	els, err := sel.Elements("option")
	if err != nil {
		return fmt.Errorf("company options: %w", err)
	}
	options := make([]selectOption, 0, len(els))
	for _, el := range els {
		text, _ := el.Text()
		var value string
		if v, err := el.Attribute("value"); err == nil && v != nil {
			value = *v
		}
		options = append(options, selectOption{Text: text, Value: value})
	}

	i := chooseOption(options, company)
	if i < 0 {
		return fmt.Errorf("company %q not offered by the login form", company)
	}
	_, err = sel.Eval(`function (i) {
		this.selectedIndex = i;
		this.dispatchEvent(new Event('input', { bubbles: true }));
		this.dispatchEvent(new Event('change', { bubbles: true }));
	}`, i)
	if err != nil {
		return fmt.Errorf("select company %q: %w", company, err)
	}
	return nil
}

func (s *Session) openSearch(ctx context.Context) error {
	p, done := s.stepPage(ctx)
	defer done()

	if err := p.Navigate(s.cfg.PEP.SearchURL); err != nil {
		return err
	}
	if err := p.WaitLoad(); err != nil {
		return err
	}
	s.settle(p)
	return nil
}

// Process searches, opens and captures one patient. After a failed
// item the next one starts from a freshly loaded search page.
func (s *Session) Process(ctx context.Context, item model.WorkItem) error {
	err := s.processItem(ctx, item)
	if err != nil {
		s.offSearch = true
	}
	return err
}

func (s *Session) processItem(ctx context.Context, item model.WorkItem) error {
	if s.offSearch {
		if err := s.steps.openSearch(ctx); err != nil {
			return s.fail(ctx, "navigate", "erro_navegacao", err)
		}
		s.offSearch = false
	}

	if err := s.steps.search(ctx, item.ID); err != nil {
		return s.fail(ctx, "search", "erro_busca_paciente", err)
	}

	atendimento, err := s.steps.selectPatient(ctx)
	if err != nil {
		return s.fail(ctx, "select", "erro_selecao_"+item.ID, err)
	}
	s.logger.Info("patient page opened", "prontuario", item.ID, "atendimento", atendimento)

	if err := s.steps.capture(ctx, item); err != nil {
		return err
	}

	if err := s.steps.openSearch(ctx); err != nil {
		s.offSearch = true
		s.logger.Warn("could not return to search page", "err", err)
	}
	return nil
}

func (s *Session) search(ctx context.Context, prontuario string) error {
	p, done := s.stepPage(ctx)
	defer done()

	field := findSearchField(p)
	if field == nil {
		return errors.New("search field not found")
	}
	if err := field.SelectAllText(); err != nil {
		return fmt.Errorf("clear search field: %w", err)
	}
	if err := field.Input(prontuario); err != nil {
		return fmt.Errorf("type prontuario: %w", err)
	}

	if btn := findSearchButton(p); btn != nil {
		if err := btn.Click(proto.InputMouseButtonLeft, 1); err != nil {
			return fmt.Errorf("click search: %w", err)
		}
	} else {
		s.logger.Debug("search button not found, pressing enter")
		if err := p.Keyboard.Type(input.Enter); err != nil {
			return fmt.Errorf("submit search: %w", err)
		}
	}

	s.waitLoading(p)
	s.settle(p)

	if html, err := p.HTML(); err == nil {
		if n := extract.SearchRowCount(html); n > 0 {
			s.logger.Info("search results", "prontuario", prontuario, "rows", n)
		} else {
			s.logger.Warn("no visible search results", "prontuario", prontuario)
			s.writeError(ctx, "sem_resultados_"+prontuario)
		}
	}
	return nil
}

func findSearchField(p *rod.Page) *rod.Element {
	for _, sel := range searchFieldSelectors {
		if has, el, err := p.Has(sel); err == nil && has {
			return el
		}
	}
	inputs, err := p.Elements("input")
	if err != nil {
		return nil
	}
	for _, el := range inputs {
		if ok, _ := el.Visible(); !ok {
			continue
		}
		if ph, err := el.Attribute("placeholder"); err == nil && ph != nil && looksLikeSearchInput(*ph) {
			return el
		}
	}
	return nil
}

func findSearchButton(p *rod.Page) *rod.Element {
	for _, sel := range searchButtonSelectors {
		var (
			has bool
			el  *rod.Element
			err error
		)
		if strings.HasPrefix(sel, "//") {
			has, el, err = p.HasX(sel)
		} else {
			has, el, err = p.Has(sel)
		}
		if err != nil || !has {
			continue
		}
		if ok, _ := el.Visible(); ok {
			return el
		}
	}
	return nil
}

func (s *Session) selectPatient(ctx context.Context) (string, error) {
	p, done := s.stepPage(ctx)
	defer done()

	current := s.currentURL(ctx)
	html, err := p.HTML()
	if err != nil {
		return "", fmt.Errorf("read results: %w", err)
	}
	atendimento, ok := extract.AttendanceNumber(html)
	if !ok {
		return "", fmt.Errorf("%w: attendance number not found", ErrNotFound)
	}

	target, err := PatientURL(current, s.cfg.PEP.PatientPathTemplate, atendimento)
	if err != nil {
		return "", err
	}
	s.logger.Debug("opening patient page", "url", target)
	if err := p.Navigate(target); err != nil {
		return "", fmt.Errorf("open patient page: %w", err)
	}
	if err := p.WaitLoad(); err != nil {
		return "", fmt.Errorf("wait patient page: %w", err)
	}
	s.waitLoading(p)
	s.settle(p)

	if final := s.currentURL(ctx); !OnPatientPage(final, atendimento) {
		return "", fmt.Errorf("unexpected patient page url %s", final)
	}
	return atendimento, nil
}

func (s *Session) capture(ctx context.Context, item model.WorkItem) error {
	p, done := s.stepPage(ctx)
	defer done()

	// Angular keeps typed values in properties only; mirror them into
	// attributes so they show up in the HTML snapshot.
	if _, err := p.Eval(`() => document.querySelectorAll('input').forEach(i => i.setAttribute('value', i.value))`); err != nil {
		s.logger.Debug("sync input values failed", "err", err)
	}

	html, err := p.HTML()
	if err != nil {
		return s.fail(ctx, "capture", "erro_captura_"+item.ID, err)
	}

	at := s.now()
	rec, missing, err := extract.Patient(html, item.ID, at)
	if err != nil {
		return s.fail(ctx, "capture", "erro_captura_"+item.ID, err)
	}
	for _, f := range model.DemographicFields {
		metrics.RecordField(f, rec.Get(f) != "")
	}

	if err := s.sink.SavePatient(ctx, rec, missing); err != nil {
		metrics.RecordStepFailure("persist")
		return &StepError{Step: "persist", Err: err}
	}

	if len(missing) == 0 {
		s.logger.Info("patient captured", "prontuario", item.ID, "name", rec.NomeRegistro)
		return nil
	}

	s.logger.Warn("incomplete capture", "prontuario", item.ID, "missing", missing)
	snap := records.Snapshot{URL: s.currentURL(ctx), HTML: html, Screenshot: s.screenshot(ctx)}
	if paths, err := s.writer.WriteDiagnostics(item.ID, at, snap); err != nil {
		s.logger.Warn("write diagnostics failed", "prontuario", item.ID, "err", err)
	} else {
		s.logger.Info("diagnostics written", "prontuario", item.ID, "files", paths)
	}
	return nil
}

// stepPage bounds one step by a few element timeouts.
func (s *Session) stepPage(ctx context.Context) (*rod.Page, func()) {
	p := s.page.Context(ctx).Timeout(4 * s.cfg.Timeout())
	return p, func() { p.CancelTimeout() }
}

// settle waits for the DOM to stop changing. Angular pages keep polling,
// so a timeout is logged and ignored.
func (s *Session) settle(p *rod.Page) {
	if err := p.Timeout(s.cfg.Timeout()).WaitStable(s.cfg.StableWindow()); err != nil {
		s.logger.Debug("page did not settle", "err", err)
	}
}

func (s *Session) waitLoading(p *rod.Page) {
	has, el, err := p.Has(loadingSelector)
	if err != nil || !has {
		return
	}
	if err := el.Timeout(s.cfg.Timeout()).WaitInvisible(); err != nil {
		s.logger.Warn("loading overlay still visible, continuing", "err", err)
	}
}

func (s *Session) currentURL(ctx context.Context) string {
	info, err := s.page.Context(ctx).Info()
	if err != nil {
		return ""
	}
	return info.URL
}

func (s *Session) screenshot(ctx context.Context) []byte {
	p := s.page.Context(ctx).Timeout(s.cfg.Timeout())
	defer p.CancelTimeout()
	img, err := p.Screenshot(true, nil)
	if err != nil {
		s.logger.Debug("screenshot failed", "err", err)
		return nil
	}
	return img
}

func (s *Session) writeError(ctx context.Context, name string) {
	p := s.page.Context(ctx).Timeout(s.cfg.Timeout())
	defer p.CancelTimeout()
	snap := records.Snapshot{URL: s.currentURL(ctx), Screenshot: s.screenshot(ctx)}
	if html, err := p.HTML(); err == nil {
		snap.HTML = html
	}
	if _, err := s.writer.WriteError(name, snap); err != nil {
		s.logger.Warn("write error snapshot failed", "name", name, "err", err)
	}
}

func (s *Session) fail(ctx context.Context, step, snapshot string, err error) error {
	metrics.RecordStepFailure(step)
	s.steps.writeError(ctx, snapshot)
	return &StepError{Step: step, Err: err}
}
