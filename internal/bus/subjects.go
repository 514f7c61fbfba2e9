package bus

// Subjects consumed and produced by the core. Model backends and system
// services sit behind these; the core only knows their request/reply
// contracts.
const (
	// SubjectLLMRequest serves text generation (request/reply).
	SubjectLLMRequest = "ai.llm.request"

	// SubjectOCRRequest serves screen/image OCR (request/reply).
	SubjectOCRRequest = "ai.vision.ocr.request"

	// SubjectImageGenRequest serves image synthesis (request/reply).
	SubjectImageGenRequest = "ai.vision.imagegen.request"

	// SubjectMusicGenerate accepts music synthesis jobs (publish-only);
	// results arrive asynchronously on the conversation stream.
	SubjectMusicGenerate = "agent.music.generate"

	// SubjectFileSearch serves indexed document search (request/reply).
	SubjectFileSearch = "system.file.search"

	// SubjectSystemActionPrefix prefixes service-defined system actions;
	// the action name is appended (system.action.<name>).
	SubjectSystemActionPrefix = "system.action."

	// SubjectCommandEvent receives shell-command observability events
	// (publish-only, best-effort).
	SubjectCommandEvent = "temporal.command.new"

	// SubjectConversationPrefix prefixes the per-session result stream;
	// the session id is appended (conversation.<session_id>).
	SubjectConversationPrefix = "conversation."
)

// ConversationSubject returns the per-session stream subject.
func ConversationSubject(sessionID string) string {
	return SubjectConversationPrefix + sessionID
}

// SystemActionSubject returns the subject for a named system action.
func SystemActionSubject(name string) string {
	return SubjectSystemActionPrefix + name
}
