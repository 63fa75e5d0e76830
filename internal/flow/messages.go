package flow

import (
	"fmt"

	"github.com/BTreeMap/labbot/internal/models"
)

const line = "━━━━━━━━━━━━━━━"

// AdminHubMenu is the admin main menu, sent verbatim whenever an admin returns
// to the hub.
const AdminHubMenu = "📋 *Menu Principal* 📋\n" + line + "\n" +
	"1️⃣ Pedidos a Receber\n" +
	"2️⃣ Pedidos por Prazo\n" +
	"3️⃣ Pedidos por Status\n" +
	"4️⃣ Pedidos por Clientes\n" +
	"5️⃣ Consulta Cadastros\n" +
	line + "\n" +
	"0️⃣ Para Voltar Neste Menu\n" +
	line

const adminHubBody = line + "\n" +
	"1️⃣ Pedidos a Receber\n" +
	"2️⃣ Pedidos por Prazo\n" +
	"3️⃣ Pedidos por Status\n" +
	"4️⃣ Pedidos por Clientes\n" +
	"5️⃣ Consulta Cadastros\n" +
	line + "\n" +
	"0️⃣ Para Voltar Neste Menu\n" +
	line

// RegistryMenu lists the registry browser options.
const RegistryMenu = "📋 *CONSULTA CADASTROS*\n" + line + "\n" +
	"1️⃣ Clientes\n" +
	"2️⃣ Pacientes\n" +
	"3️⃣ Produtos\n" +
	"4️⃣ Clientes a Cadastrar\n" +
	"5️⃣ Administradores\n" +
	line + "\n" +
	"0️⃣ 🔙 Voltar ao Menu Anterior\n" +
	line

// User-facing texts.
const (
	msgInvalidHub      = "❌ Opção inválida. Escolha de 1 a 5, ou 0 para ver o menu."
	msgInvalidDeadline = "❌ Opção inválida. Digite 1, 2 ou 3, ou 0 para voltar."
	msgInvalidStatus   = "❌ Opção inválida. Digite o número do status ou 0 para voltar."
	msgInvalidClient   = "❌ Opção inválida. Digite o número do cliente ou 0 para voltar."
	msgInvalidRegistry = "❌ Opção inválida. Escolha de 1 a 5, ou 0 para voltar."

	msgInvalidClientMenu = "❌ Opção inválida. Escolha 1, 2 ou 3."
	msgAskPatient        = "📝 Digite o *nome do PACIENTE*, ou *sair* para cancelar."
	msgInvalidProduct    = "❌ Opção inválida. Digite o número do produto."
	msgInvalidQuantity   = "❌ Quantidade inválida. Digite novamente."
	msgAskColor          = "🎨 Digite a *COR* para este item, ou *sair* para cancelar."
	msgAskNote           = "✍️ Digite a *observação* para este item:"
	msgInvalidItemMenu   = "❌ Opção inválida. Escolha 1, 2, 3 ou 4."
	msgOrderCancelled    = "❌ Pedido cancelado. Voltando ao menu."
	msgEmptyCatalog      = "❌ Nenhum produto disponível no catálogo. Pedido cancelado."
	msgClientHandoff     = "📞 Ok! Nossa equipe entrará em contato com você."

	msgInvalidUnknownMenu = "❌ Opção inválida. Escolha 1 ou 2."
	msgAskNameLicense     = "✍️ Me informe seu *Nome e CRO*, ou digite *sair* para falar com alguém."
	msgUnknownHandoff     = "📞 Em breve alguém entrará em contato com você."
	msgProspectHandoff    = "📞 Ok! Um atendente entrará em contato com você."
	msgInvalidNameLicense = "❌ Formato inválido. Envie novamente: *Nome e CRO* (mínimo 4 letras para o nome e 3 dígitos para o CRO)."
)

const itemMenuOptions = "Escolha uma opção:\n" +
	"1️⃣ Incluir Observação\n" +
	"2️⃣ Incluir Outro Produto\n" +
	"3️⃣ Concluir Pedido\n" +
	"4️⃣ Cancelar Pedido"

func adminGreeting(name string) string {
	return fmt.Sprintf("👋 Olá *%s*! Aqui está o Menu Principal:\n%s", name, adminHubBody)
}

func clientGreeting(name string) string {
	return fmt.Sprintf("👋 Olá *%s*! Como podemos te ajudar hoje?\n%s\n"+
		"1️⃣ Consultar Meus Pedidos\n"+
		"2️⃣ Fazer um Novo Pedido\n"+
		"3️⃣ Falar com Alguém\n%s", name, line, line)
}

func unknownGreeting(labName string) string {
	welcome := "👋 Bem vindo ao nosso laboratório."
	if labName != "" {
		welcome = fmt.Sprintf("👋 Bem vindo ao laboratório *%s*.", labName)
	}
	return fmt.Sprintf("%s\nEscolha uma das opções:\n%s\n"+
		"1️⃣ Sou Dentista\n"+
		"2️⃣ Não sou Dentista / Falar com alguém\n%s", welcome, line, line)
}

func catalogPrompt(catalog string, allowExit bool) string {
	msg := "📦 Escolha o *PRODUTO* (digite o número):\n\n" + catalog
	if allowExit {
		msg += "\n\nOu digite *sair* para cancelar."
	}
	return msg
}

func quantityPrompt(product string) string {
	return fmt.Sprintf("📝 Digite a *quantidade* para o produto *%s*:", product)
}

func itemAdded(it *models.OrderItem) string {
	return fmt.Sprintf("✅ Produto *%s* (%dx | Cor: %s) adicionado.\n\n%s", it.Product, it.Quantity, it.Color, itemMenuOptions)
}

func noteAdded(it *models.OrderItem) string {
	return fmt.Sprintf("✅ Observação adicionada ao produto *%s*.\n\n%s", it.Product, itemMenuOptions)
}

func orderSaved(n int) string {
	return fmt.Sprintf("✅ Pedido *%d* registrado com sucesso!", n)
}

func prospectCaption(link string) string {
	msg := "✅ Obrigado pela sua resposta! Vamos validar suas informações e, caso necessário, entraremos em contato."
	if link != "" {
		msg += "\n\n📖 Enquanto isso, acesse nosso *Catálogo de Trabalho*:\n" + link
	}
	return msg
}
