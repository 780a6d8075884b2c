package convo

// Canned replies produced by the state machine. The dispatcher owns the
// one failure message that is not a transition outcome (transcode
// failures), so it lives here with the rest for a single overview.
const (
	ReplyGreeting      = "Welcome to support! Describe your problem and we'll get right on it."
	ReplyGreetingAgain = "Hello again! What else can we help with?"
	ReplyQuestionAck   = "Got it — your request has been recorded. We'll reply within 24 hours; say \"talk to a human\" to reach an agent directly."
	ReplyEscalated     = "Understood, connecting you with a support agent. They will pick this up shortly."
	ReplyStillWaiting  = "An agent already has your request; your message has been added to it."
	ReplyGoodbye       = "Glad we could help. This request is now closed — message us any time to open a new one."
	ReplyClarify       = "Sorry, I didn't quite catch that. Could you describe the problem in a full sentence?"
	ReplyReopened      = "Reopening your recent request — go ahead."

	// ReplyMediaFailed is sent when an attached voice note cannot be
	// processed. Session state is left untouched.
	ReplyMediaFailed = "We couldn't process that voice message. Please try sending it again or type your request."

	// ReplyVoiceAck acknowledges a successfully transcoded voice note.
	ReplyVoiceAck = "Voice message received and attached to your request. We'll reply within 24 hours."
)
