package model

import "time"

// WorkItem is one patient on the worklist. ID is the prontuário number
// (digits only) and is unique within a worklist.
type WorkItem struct {
	ID        string
	Name      string
	VisitDate time.Time
}

// PatientRecord is the demographic record captured for one patient.
// Every field is always serialized; fields that could not be captured
// are empty strings.
type PatientRecord struct {
	Prontuario     string `json:"prontuario"`
	NomeRegistro   string `json:"nome_registro"`
	DataNascimento string `json:"data_nascimento"`
	Raca           string `json:"raca"`
	CPF            string `json:"cpf"`
	CodigoPaciente string `json:"codigo_paciente"`
	Naturalidade   string `json:"naturalidade"`
	DataCaptura    string `json:"data_captura"`
}

// CaptureTimeLayout is the layout of PatientRecord.DataCaptura.
const CaptureTimeLayout = "2006-01-02 15:04:05"

// Field names of the demographic values that extraction tries to fill.
const (
	FieldNomeRegistro   = "nome_registro"
	FieldDataNascimento = "data_nascimento"
	FieldRaca           = "raca"
	FieldCPF            = "cpf"
	FieldCodigoPaciente = "codigo_paciente"
	FieldNaturalidade   = "naturalidade"
)

// DemographicFields lists the extracted fields in report order.
var DemographicFields = []string{
	FieldNomeRegistro,
	FieldDataNascimento,
	FieldRaca,
	FieldCPF,
	FieldCodigoPaciente,
	FieldNaturalidade,
}

// Get returns the value of a demographic field by name.
func (r *PatientRecord) Get(field string) string {
	switch field {
	case FieldNomeRegistro:
		return r.NomeRegistro
	case FieldDataNascimento:
		return r.DataNascimento
	case FieldRaca:
		return r.Raca
	case FieldCPF:
		return r.CPF
	case FieldCodigoPaciente:
		return r.CodigoPaciente
	case FieldNaturalidade:
		return r.Naturalidade
	}
	return ""
}

// Set assigns a demographic field by name. Unknown names are ignored.
func (r *PatientRecord) Set(field, value string) {
	switch field {
	case FieldNomeRegistro:
		r.NomeRegistro = value
	case FieldDataNascimento:
		r.DataNascimento = value
	case FieldRaca:
		r.Raca = value
	case FieldCPF:
		r.CPF = value
	case FieldCodigoPaciente:
		r.CodigoPaciente = value
	case FieldNaturalidade:
		r.Naturalidade = value
	}
}

// Missing returns the demographic fields that are still empty.
func (r *PatientRecord) Missing() []string {
	var missing []string
	for _, f := range DemographicFields {
		if r.Get(f) == "" {
			missing = append(missing, f)
		}
	}
	return missing
}
