package dataset

// Record is one "atendimento" (service ticket) of the benchmark dataset.
// Codigo is the business key used by every lookup.
type Record struct {
	Codigo           string `json:"codigo" bson:"codigo"`
	Titulo           string `json:"titulo" bson:"titulo"`
	DataInicio       string `json:"data_inicio" bson:"data_inicio"`
	DataFim          string `json:"data_fim" bson:"data_fim"`
	Origem           string `json:"origem" bson:"origem"`
	Contato          string `json:"contato" bson:"contato"`
	Email            string `json:"email" bson:"email"`
	Descricao        string `json:"descricao" bson:"descricao"`
	Atendente        string `json:"atendente" bson:"atendente"`
	AtendenteEquipe  string `json:"atendente_equipe" bson:"atendente_equipe"`
	AtendenteUnidade string `json:"atendente_unidade" bson:"atendente_unidade"`
	Cliente          string `json:"cliente" bson:"cliente"`
	Produto          string `json:"produto" bson:"produto"`
	Situacao         string `json:"situacao" bson:"situacao"`
	Classificacao    string `json:"classificacao" bson:"classificacao"`
	SubClassificacao string `json:"sub_classificacao" bson:"sub_classificacao"`
	Tipo             string `json:"tipo" bson:"tipo"`
	Prioridade       string `json:"prioridade" bson:"prioridade"`
}

// Columns lists the record fields in storage order.
var Columns = []string{
	"codigo", "titulo", "data_inicio", "data_fim", "origem", "contato", "email",
	"descricao", "atendente", "atendente_equipe", "atendente_unidade",
	"cliente", "produto", "situacao", "classificacao", "sub_classificacao",
	"tipo", "prioridade",
}

// TextFields are the free-text fields a substring search may target.
var TextFields = []string{"cliente", "titulo", "descricao", "contato", "produto", "atendente"}

// IsTextField reports whether name is a searchable free-text field.
func IsTextField(name string) bool {
	for _, f := range TextFields {
		if f == name {
			return true
		}
	}
	return false
}

// Values returns the field values in Columns order.
func (r Record) Values() []any {
	return []any{
		r.Codigo, r.Titulo, r.DataInicio, r.DataFim, r.Origem, r.Contato, r.Email,
		r.Descricao, r.Atendente, r.AtendenteEquipe, r.AtendenteUnidade,
		r.Cliente, r.Produto, r.Situacao, r.Classificacao, r.SubClassificacao,
		r.Tipo, r.Prioridade,
	}
}

// Field returns the value of the named column.
func (r Record) Field(name string) (string, bool) {
	switch name {
	case "codigo":
		return r.Codigo, true
	case "titulo":
		return r.Titulo, true
	case "data_inicio":
		return r.DataInicio, true
	case "data_fim":
		return r.DataFim, true
	case "origem":
		return r.Origem, true
	case "contato":
		return r.Contato, true
	case "email":
		return r.Email, true
	case "descricao":
		return r.Descricao, true
	case "atendente":
		return r.Atendente, true
	case "atendente_equipe":
		return r.AtendenteEquipe, true
	case "atendente_unidade":
		return r.AtendenteUnidade, true
	case "cliente":
		return r.Cliente, true
	case "produto":
		return r.Produto, true
	case "situacao":
		return r.Situacao, true
	case "classificacao":
		return r.Classificacao, true
	case "sub_classificacao":
		return r.SubClassificacao, true
	case "tipo":
		return r.Tipo, true
	case "prioridade":
		return r.Prioridade, true
	}
	return "", false
}

// Codes returns the codes of the given records, in order.
func Codes(records []Record) []string {
	codes := make([]string, len(records))
	for i, r := range records {
		codes[i] = r.Codigo
	}
	return codes
}
