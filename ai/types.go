package ai

// Intents are the categories assigned by reflection.
var Intents = []string{
	IntentGreeting,
	IntentThanks,
	IntentFarewell,
	IntentSmallTalk,
	IntentQuestion,
	IntentPurchase,
	IntentSupport,
}

const (
	IntentGreeting  = "greeting"
	IntentThanks    = "thanks"
	IntentFarewell  = "farewell"
	IntentSmallTalk = "small_talk"
	IntentQuestion  = "question"
	IntentPurchase  = "purchase"
	IntentSupport   = "support"
)

// ConversationalIntents never need document context.
var ConversationalIntents = map[string]bool{
	IntentGreeting:  true,
	IntentThanks:    true,
	IntentFarewell:  true,
	IntentSmallTalk: true,
}

// IsKnownIntent reports whether intent is one of Intents.
func IsKnownIntent(intent string) bool {
	for _, i := range Intents {
		if i == intent {
			return true
		}
	}
	return false
}
