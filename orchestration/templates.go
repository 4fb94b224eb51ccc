package orchestration

import (
	"strings"

	"github.com/poiesic/ragchat/ai"
)

// chitchatReplies holds canned conversational replies by intent and language.
// %s, when present, is replaced with the visitor's name or dropped.
var chitchatReplies = map[string]map[string]string{
	ai.IntentGreeting: {
		"en": "Hello%s! How can I help you today?",
		"de": "Hallo%s! Wie kann ich Ihnen heute helfen?",
		"fr": "Bonjour%s ! Comment puis-je vous aider aujourd'hui ?",
		"es": "¡Hola%s! ¿En qué puedo ayudarte hoy?",
		"it": "Ciao%s! Come posso aiutarti oggi?",
		"pt": "Olá%s! Como posso ajudar hoje?",
		"nl": "Hallo%s! Waarmee kan ik je vandaag helpen?",
	},
	ai.IntentThanks: {
		"en": "You're welcome%s! Is there anything else I can help with?",
		"de": "Gern geschehen%s! Kann ich sonst noch helfen?",
		"fr": "Avec plaisir%s ! Puis-je vous aider pour autre chose ?",
		"es": "¡De nada%s! ¿Hay algo más en lo que pueda ayudarte?",
		"it": "Prego%s! Posso aiutarti con qualcos'altro?",
		"pt": "De nada%s! Posso ajudar com mais alguma coisa?",
		"nl": "Graag gedaan%s! Kan ik nog ergens anders mee helpen?",
	},
	ai.IntentFarewell: {
		"en": "Goodbye%s! Feel free to come back any time.",
		"de": "Auf Wiedersehen%s! Kommen Sie jederzeit gerne wieder.",
		"fr": "Au revoir%s ! N'hésitez pas à revenir.",
		"es": "¡Adiós%s! Vuelve cuando quieras.",
		"it": "Arrivederci%s! Torna quando vuoi.",
		"pt": "Até logo%s! Volte quando quiser.",
		"nl": "Tot ziens%s! Kom gerust terug.",
	},
	ai.IntentSmallTalk: {
		"en": "I'm doing well, thanks for asking%s! What can I do for you?",
		"de": "Mir geht es gut, danke der Nachfrage%s! Was kann ich für Sie tun?",
		"fr": "Je vais bien, merci%s ! Que puis-je faire pour vous ?",
		"es": "¡Estoy bien, gracias por preguntar%s! ¿Qué puedo hacer por ti?",
		"it": "Sto bene, grazie%s! Cosa posso fare per te?",
		"pt": "Estou bem, obrigado por perguntar%s! O que posso fazer por você?",
		"nl": "Het gaat goed, bedankt%s! Wat kan ik voor je doen?",
	},
}

var defaultReplies = map[string]string{
	"en": "How can I help you%s?",
	"de": "Wie kann ich Ihnen helfen%s?",
	"fr": "Comment puis-je vous aider%s ?",
	"es": "¿Cómo puedo ayudarte%s?",
	"it": "Come posso aiutarti%s?",
	"pt": "Como posso ajudar%s?",
	"nl": "Hoe kan ik je helpen%s?",
}

var noContextReplies = map[string]string{
	"en": "I'm sorry, I couldn't find enough information in the available documents to answer that question.",
	"de": "Leider konnte ich in den verfügbaren Dokumenten nicht genügend Informationen finden, um diese Frage zu beantworten.",
	"fr": "Désolé, je n'ai pas trouvé suffisamment d'informations dans les documents disponibles pour répondre à cette question.",
	"es": "Lo siento, no encontré suficiente información en los documentos disponibles para responder a esa pregunta.",
	"it": "Mi dispiace, non ho trovato informazioni sufficienti nei documenti disponibili per rispondere a questa domanda.",
	"pt": "Desculpe, não encontrei informações suficientes nos documentos disponíveis para responder a essa pergunta.",
	"nl": "Sorry, ik kon in de beschikbare documenten niet genoeg informatie vinden om die vraag te beantwoorden.",
}

// chitchatReply renders the canned reply for intent in lang.
// Unknown languages fall back to English.
func chitchatReply(intent, lang, name string) string {
	replies, ok := chitchatReplies[intent]
	if !ok {
		replies = defaultReplies
	}
	tmpl, ok := replies[lang]
	if !ok {
		tmpl = replies["en"]
	}
	suffix := ""
	if name = strings.TrimSpace(name); name != "" {
		suffix = ", " + name
	}
	return strings.Replace(tmpl, "%s", suffix, 1)
}

// noContextReply is the answer given when retrieval found nothing usable.
func noContextReply(lang string) string {
	if reply, ok := noContextReplies[lang]; ok {
		return reply
	}
	return noContextReplies["en"]
}
