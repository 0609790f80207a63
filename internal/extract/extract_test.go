package extract

import (
	"strings"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/JVLegend/iausp-prontuario/internal/model"
)

const patientPage = `<html><head><title>PEP</title><script>var x = "CPF: 99999999999";</script></head>
<body>
  <mat-card>
    <h2 class="mat-card-title">MARIA APARECIDA DOS SANTOS</h2>
    <div class="info">
      <span>Data de nascimento:</span><span>12/03/1957</span>
      <span>Raça:</span><span>PARDA</span>
      <div>CPF: 123.456.789-09</div>
      <div>Código do paciente: 4455667</div>
      <dl><dt>Naturalidade:</dt><dd>SAO PAULO</dd></dl>
    </div>
  </mat-card>
</body></html>`

func TestPatientFullCapture(t *testing.T) {
	at := time.Date(2025, 6, 1, 14, 30, 0, 0, time.UTC)
	rec, missing, err := Patient(patientPage, "1234567", at)
	if err != nil {
		t.Fatalf("Patient: %v", err)
	}
	if len(missing) != 0 {
		t.Fatalf("expected no missing fields, got %v (%+v)", missing, rec)
	}
	want := model.PatientRecord{
		Prontuario:     "1234567",
		NomeRegistro:   "MARIA APARECIDA DOS SANTOS",
		DataNascimento: "12/03/1957",
		Raca:           "PARDA",
		CPF:            "12345678909",
		CodigoPaciente: "4455667",
		Naturalidade:   "SAO PAULO",
		DataCaptura:    "2025-06-01 14:30:00",
	}
	if rec != want {
		t.Fatalf("unexpected record:\n got %+v\nwant %+v", rec, want)
	}
}

func TestPatientPartialCaptureReportsMissing(t *testing.T) {
	page := `<html><body><h2>JOSE CARLOS PEREIRA</h2><p>Sem dados adicionais</p></body></html>`
	rec, missing, err := Patient(page, "42", time.Now())
	if err != nil {
		t.Fatalf("Patient: %v", err)
	}
	if rec.NomeRegistro != "JOSE CARLOS PEREIRA" {
		t.Fatalf("expected name from h2, got %q", rec.NomeRegistro)
	}
	if len(missing) != 5 {
		t.Fatalf("expected 5 missing fields, got %v", missing)
	}
	if rec.Prontuario != "42" || rec.DataCaptura == "" {
		t.Fatalf("expected prontuario and capture time to always be set, got %+v", rec)
	}
}

func TestPatientFromInputs(t *testing.T) {
	page := `<html><body>
		<input name="nomePaciente" value="ANA LUIZA COSTA">
		<input id="dtNascimento" value="01/01/1990">
		<input name="cpf" value="111.222.333-44">
		<input name="racaCor" value="BRANCA">
		<input name="codigoSame" value="SAME-778899">
		<input name="naturalidade" value="CAMPINAS">
	</body></html>`
	rec, missing, err := Patient(page, "7", time.Now())
	if err != nil {
		t.Fatalf("Patient: %v", err)
	}
	if len(missing) != 0 {
		t.Fatalf("expected all fields from inputs, missing %v (%+v)", missing, rec)
	}
	if rec.CPF != "11122233344" || rec.CodigoPaciente != "778899" {
		t.Fatalf("unexpected normalized values: %+v", rec)
	}
}

func TestPatientLabelPairsIgnoreMotherName(t *testing.T) {
	page := `<html><body>
		<div>Nome da mãe: JOANA DARC SILVA</div>
		<div>Nome: PEDRO HENRIQUE SILVA</div>
	</body></html>`
	rec, _, err := Patient(page, "9", time.Now())
	if err != nil {
		t.Fatalf("Patient: %v", err)
	}
	if rec.NomeRegistro != "PEDRO HENRIQUE SILVA" {
		t.Fatalf("expected patient name, got %q", rec.NomeRegistro)
	}
}

func TestPatientLabelPairsWithNestedValues(t *testing.T) {
	page := `<html><body>
		<div>Nome do paciente: <b>MARIA DA SILVA SOUZA</b></div>
		<div>Raça: <span>PARDA</span></div>
		<p>Naturalidade: <strong>RIBEIRAO PRETO</strong></p>
	</body></html>`
	rec, missing, err := Patient(page, "5", time.Now())
	if err != nil {
		t.Fatalf("Patient: %v", err)
	}
	if rec.NomeRegistro != "MARIA DA SILVA SOUZA" {
		t.Fatalf("expected nested name value, got %q", rec.NomeRegistro)
	}
	if rec.Raca != "PARDA" || rec.Naturalidade != "RIBEIRAO PRETO" {
		t.Fatalf("unexpected nested values: %+v", rec)
	}
	for _, f := range missing {
		if f == model.FieldNomeRegistro {
			t.Fatalf("nome_registro must not be reported missing: %v", missing)
		}
	}
}

func TestPatientUnlabelledFallbacks(t *testing.T) {
	page := `<html><body><p>05/05/1980</p><p>98765432100</p></body></html>`
	rec, _, err := Patient(page, "1", time.Now())
	if err != nil {
		t.Fatalf("Patient: %v", err)
	}
	if rec.DataNascimento != "05/05/1980" || rec.CPF != "98765432100" {
		t.Fatalf("expected unlabelled fallbacks, got %+v", rec)
	}
}

func TestAttendanceNumberFromH3(t *testing.T) {
	page := `<html><body><table><tbody><tr><td>
		<h3 style="display:none">1111111</h3>
		<h3>RESULTADOS</h3>
		<h3> 2345 678 </h3>
	</td></tr></tbody></table></body></html>`
	got, ok := AttendanceNumber(page)
	if !ok || got != "2345678" {
		t.Fatalf("AttendanceNumber = %q, %v; want 2345678", got, ok)
	}
}

func TestAttendanceNumberFallback(t *testing.T) {
	page := `<html><body><div><span>Atendimento</span><span>87654321</span><span>123</span></div></body></html>`
	got, ok := AttendanceNumber(page)
	if !ok || got != "87654321" {
		t.Fatalf("AttendanceNumber = %q, %v; want 87654321", got, ok)
	}
	if _, ok := AttendanceNumber(`<html><body><p>nada</p></body></html>`); ok {
		t.Fatalf("expected no attendance number")
	}
}

func TestSearchRowCount(t *testing.T) {
	page := `<table><tbody>
		<tr><td>PACIENTE A</td></tr>
		<tr><td>  </td></tr>
		<tr hidden><td>PACIENTE B</td></tr>
		<tr><td>PACIENTE C</td></tr>
	</tbody></table>`
	if n := SearchRowCount(page); n != 2 {
		t.Fatalf("SearchRowCount = %d, want 2", n)
	}
}

func TestPageTextSeparatesNodes(t *testing.T) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(`<body><span>Raça:</span><span>BRANCA</span><span>Naturalidade</span><script>x()</script></body>`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	got := PageText(doc.Find("body"))
	if got != "Raça:\nBRANCA\nNaturalidade" {
		t.Fatalf("PageText = %q", got)
	}
}
