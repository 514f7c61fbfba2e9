package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nlxhq/nlx/internal/action"
	"github.com/nlxhq/nlx/internal/bus"
	"github.com/nlxhq/nlx/internal/session"
)

// llmGenerate serves llm_generate over ai.llm.request. With use_history the
// recent chat turns precede the prompt so the model sees the conversation.
func (o *Orchestrator) llmGenerate(ctx context.Context, act *action.Action, sess *session.Context) *action.Result {
	prompt := act.StringParam("prompt")
	if prompt == "" {
		return action.Failure(act.Kind, action.ErrMissingParam, "llm_generate requires a prompt")
	}

	var messages []map[string]string
	if sys := act.StringParam("system_prompt"); sys != "" {
		messages = append(messages, map[string]string{"role": "system", "content": sys})
	}
	if act.BoolParam("use_history", false) {
		history := sess.ChatHistory(20)
		// The current utterance is already a recorded turn by the time the
		// action runs; drop it so the prompt is not sent twice.
		if n := len(history); n > 0 && history[n-1]["role"] == "user" && history[n-1]["content"] == prompt {
			history = history[:n-1]
		}
		messages = append(messages, history...)
	}
	messages = append(messages, map[string]string{"role": "user", "content": prompt})

	payload := map[string]any{
		"messages":    messages,
		"temperature": act.FloatParam("temperature", 0.7),
		"max_tokens":  act.IntParam("max_tokens", 1024),
	}

	reply, fail := o.request(ctx, act.Kind, bus.SubjectLLMRequest, payload, o.timeouts.LLM)
	if fail != nil {
		return fail
	}

	var out struct {
		Content string `json:"content"`
	}
	if err := json.Unmarshal(reply, &out); err != nil || out.Content == "" {
		return action.Failure(act.Kind, action.ErrRemote, "llm reply missing content")
	}

	return action.Success(act.Kind, map[string]any{
		"content": out.Content,
		"prompt":  prompt,
	})
}

// GenerateText performs a bare completion round trip for the planner. It
// bypasses the action pipeline on purpose: planning requests must not
// mutate context variables or show up as action results.
func (o *Orchestrator) GenerateText(ctx context.Context, systemPrompt, prompt string) (string, error) {
	messages := []map[string]string{}
	if systemPrompt != "" {
		messages = append(messages, map[string]string{"role": "system", "content": systemPrompt})
	}
	messages = append(messages, map[string]string{"role": "user", "content": prompt})

	payload := map[string]any{
		"messages":    messages,
		"temperature": 0.2,
		"max_tokens":  2048,
	}

	reply, fail := o.request(ctx, action.KindLLMGenerate, bus.SubjectLLMRequest, payload, o.timeouts.LLM)
	if fail != nil {
		return "", fmt.Errorf("orchestrator: %s", fail.Error)
	}

	var out struct {
		Content string `json:"content"`
	}
	if err := json.Unmarshal(reply, &out); err != nil || out.Content == "" {
		return "", fmt.Errorf("orchestrator: llm reply missing content")
	}
	return out.Content, nil
}

// imageGenerate serves image_generate over ai.vision.imagegen.request.
func (o *Orchestrator) imageGenerate(ctx context.Context, act *action.Action, _ *session.Context) *action.Result {
	prompt := act.StringParam("prompt")
	if prompt == "" {
		return action.Failure(act.Kind, action.ErrMissingParam, "image_generate requires a prompt")
	}

	payload := map[string]any{
		"prompt":              prompt,
		"width":               act.IntParam("width", 1024),
		"height":              act.IntParam("height", 1024),
		"num_inference_steps": act.IntParam("steps", 4),
		"guidance_scale":      act.FloatParam("guidance", 0.0),
	}
	if neg := act.StringParam("negative_prompt"); neg != "" {
		payload["negative_prompt"] = neg
	}
	if seed, ok := act.Params["seed"]; ok {
		payload["seed"] = seed
	}

	reply, fail := o.request(ctx, act.Kind, bus.SubjectImageGenRequest, payload, o.timeouts.Image)
	if fail != nil {
		return fail
	}

	var out struct {
		ImagePath string `json:"image_path"`
		Model     string `json:"model"`
		Seed      *int64 `json:"seed"`
	}
	if err := json.Unmarshal(reply, &out); err != nil || out.ImagePath == "" {
		return action.Failure(act.Kind, action.ErrRemote, "imagegen reply missing image_path")
	}

	details := map[string]any{
		"image_path": out.ImagePath,
		"prompt":     prompt,
	}
	if out.Model != "" {
		details["model"] = out.Model
	}
	return action.Success(act.Kind, details)
}

// musicGenerate serves music_generate. It is publish-only: the job goes out
// on agent.music.generate and the final file path arrives asynchronously on
// the session's conversation stream. The returned result is pending.
func (o *Orchestrator) musicGenerate(ctx context.Context, act *action.Action, sess *session.Context) *action.Result {
	prompt := act.StringParam("prompt")
	if prompt == "" {
		return action.Failure(act.Kind, action.ErrMissingParam, "music_generate requires a prompt")
	}

	payload := map[string]any{
		"prompt":          prompt,
		"user_id":         sess.UserID,
		"conversation_id": sess.SessionID,
	}
	if err := o.bus.Publish(ctx, bus.SubjectMusicGenerate, payload); err != nil {
		return action.Failure(act.Kind, action.ErrRemote, "publish music job: %v", err)
	}

	return action.Success(act.Kind, map[string]any{
		"status": "pending",
		"prompt": prompt,
	})
}

// ocrCapture serves ocr_capture over ai.vision.ocr.request. Without an
// image_path the OCR service captures the screen (or the given region).
func (o *Orchestrator) ocrCapture(ctx context.Context, act *action.Action, _ *session.Context) *action.Result {
	payload := map[string]any{}
	if p := act.StringParam("image_path"); p != "" {
		payload["image_path"] = p
	}
	if region, ok := act.Params["region"]; ok {
		payload["region"] = region
	}
	if lang := act.StringParam("language"); lang != "" {
		payload["language"] = lang
	}

	reply, fail := o.request(ctx, act.Kind, bus.SubjectOCRRequest, payload, o.timeouts.OCR)
	if fail != nil {
		return fail
	}

	var out struct {
		Text       string  `json:"text"`
		Confidence float64 `json:"confidence"`
	}
	if err := json.Unmarshal(reply, &out); err != nil {
		return action.Failure(act.Kind, action.ErrRemote, "ocr reply malformed")
	}

	return action.Success(act.Kind, map[string]any{
		"text":       out.Text,
		"confidence": out.Confidence,
	})
}

// documentQuery serves document_query over system.file.search.
func (o *Orchestrator) documentQuery(ctx context.Context, act *action.Action, _ *session.Context) *action.Result {
	query := act.StringParam("query")
	if query == "" {
		return action.Failure(act.Kind, action.ErrMissingParam, "document_query requires a query")
	}

	payload := map[string]any{
		"query": query,
		"limit": act.IntParam("limit", 10),
	}

	reply, fail := o.request(ctx, act.Kind, bus.SubjectFileSearch, payload, o.timeouts.DocumentQuery)
	if fail != nil {
		return fail
	}

	var out struct {
		Results []map[string]any `json:"results"`
		Count   int              `json:"count"`
	}
	if err := json.Unmarshal(reply, &out); err != nil {
		return action.Failure(act.Kind, action.ErrRemote, "file search reply malformed")
	}
	if out.Results == nil {
		out.Results = []map[string]any{}
	}

	return action.Success(act.Kind, map[string]any{
		"results": out.Results,
		"count":   len(out.Results),
		"query":   query,
	})
}

// webSearch serves web_search through the in-process searcher.
func (o *Orchestrator) webSearch(ctx context.Context, act *action.Action, _ *session.Context) *action.Result {
	query := act.StringParam("query")
	if query == "" {
		return action.Failure(act.Kind, action.ErrMissingParam, "web_search requires a query")
	}
	if o.searcher == nil {
		return action.Failure(act.Kind, action.ErrRemote, "web search is not configured")
	}

	items, err := o.searcher.Search(ctx, query, act.IntParam("limit", o.searchLimit))
	if err != nil {
		return action.Failure(act.Kind, action.ErrRemote, "web search: %v", err)
	}

	results := make([]map[string]any, 0, len(items))
	for _, it := range items {
		results = append(results, map[string]any{
			"url":     it.URL,
			"title":   it.Title,
			"snippet": it.Description,
		})
	}

	return action.Success(act.Kind, map[string]any{
		"results": results,
		"count":   len(results),
		"query":   query,
	})
}

// systemCommand serves system_command over system.action.<name>. The reply
// payload is service-defined and passed through verbatim.
func (o *Orchestrator) systemCommand(ctx context.Context, act *action.Action, _ *session.Context) *action.Result {
	name := act.StringParam("action")
	if name == "" {
		return action.Failure(act.Kind, action.ErrMissingParam, "system_command requires an action name")
	}

	payload, _ := act.Params["payload"].(map[string]any)
	if payload == nil {
		payload = map[string]any{}
	}

	reply, fail := o.request(ctx, act.Kind, bus.SystemActionSubject(name), payload, o.timeouts.SystemCommand)
	if fail != nil {
		return fail
	}

	var out map[string]any
	if err := json.Unmarshal(reply, &out); err != nil {
		return action.Failure(act.Kind, action.ErrRemote, "system action %s reply malformed", name)
	}
	if out == nil {
		out = map[string]any{}
	}
	out["action"] = name

	return action.Success(act.Kind, out)
}
