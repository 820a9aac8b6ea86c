package dataset

import (
	"fmt"
	"time"

	"github.com/brianvoe/gofakeit/v6"
)

var (
	clientPrefixes = []string{"Empresa", "Comercio", "Sistemas", "Consultoria", "Servicos", "Industria", "Grupo"}
	clientSurnames = []string{"Silva", "Santos", "Oliveira", "Souza", "Pereira", "Costa", "Almeida", "Ferreira"}
	clientSuffixes = []string{"Ltda", "S.A.", "ME", "Software", "EIRELI"}
	origins        = []string{"email", "telefone", "portal", "chat", "whatsapp"}
	teams          = []string{"Suporte N1", "Suporte N2", "Implantacao", "Financeiro", "Comercial"}
	units          = []string{"Matriz", "Filial Sul", "Filial Norte", "Filial Nordeste"}
	products       = []string{"ERP Gestao", "Folha de Pagamento", "PDV", "Nota Fiscal", "CRM", "Contabil Software"}
	statuses       = []string{"aberto", "em andamento", "aguardando cliente", "resolvido", "fechado"}
	classes        = []string{"duvida", "erro", "melhoria", "configuracao", "treinamento"}
	subClasses     = []string{"cadastro", "relatorio", "integracao", "desempenho", "acesso"}
	kinds          = []string{"incidente", "requisicao", "problema"}
	priorities     = []string{"baixa", "media", "alta", "critica"}
)

const dateLayout = "2006-01-02 15:04:05"

// Generate builds n synthetic records. The same seed always yields the same
// records, and codes are unique within one call.
func Generate(n int, seed int64) []Record {
	fake := gofakeit.New(seed)
	start := time.Date(2019, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC)

	records := make([]Record, 0, n)
	for i := 0; i < n; i++ {
		opened := fake.DateRange(start, end)
		closed := opened.Add(time.Duration(fake.IntRange(1, 240)) * time.Hour)
		cliente := fmt.Sprintf("%s %s %s",
			fake.RandomString(clientPrefixes),
			fake.RandomString(clientSurnames),
			fake.RandomString(clientSuffixes))
		records = append(records, Record{
			Codigo:           fmt.Sprintf("AT%08d", i+1),
			Titulo:           fake.Sentence(6),
			DataInicio:       opened.Format(dateLayout),
			DataFim:          closed.Format(dateLayout),
			Origem:           fake.RandomString(origins),
			Contato:          fake.Name(),
			Email:            fake.Email(),
			Descricao:        fake.Paragraph(1, 3, 12, " "),
			Atendente:        fake.Name(),
			AtendenteEquipe:  fake.RandomString(teams),
			AtendenteUnidade: fake.RandomString(units),
			Cliente:          cliente,
			Produto:          fake.RandomString(products),
			Situacao:         fake.RandomString(statuses),
			Classificacao:    fake.RandomString(classes),
			SubClassificacao: fake.RandomString(subClasses),
			Tipo:             fake.RandomString(kinds),
			Prioridade:       fake.RandomString(priorities),
		})
	}
	return records
}
