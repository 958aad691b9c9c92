package orchids

import (
	"encoding/json"
	"strings"

	"github.com/google/uuid"
	"github.com/justlovemaki/AIClient-2-API/internal/util"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

// pendingTool is a tool_use block whose input is still accumulating.
type pendingTool struct {
	Name  string
	Input string
}

// translator advances the upstream-event to Claude-event state machine
// for one request. Events are returned as bare JSON payloads.
type translator struct {
	model     string
	messageID string
	toolMap   *toolMapper
	fs        *fsExecutor

	emitToolUse bool

	reasoningStarted bool
	reasoningEnded   bool
	textStarted      bool
	blockIndex       int
	textBlockIndex   int

	pendingTools map[string]*pendingTool
	toolOrder    []string

	currentToolID    string
	currentToolIndex int
	accumulatedInput strings.Builder
	toolDeltaSent    bool

	editToolID    string
	editToolIndex int
	editFilePath  string
	editChunks    []string

	lastTextDelta     string
	lastTextHighLevel bool
	preferHighLevel   bool

	finishReason string
	inputTokens  int64
	outputTokens int64
	cachedInput  int64

	finished bool
}

func newTranslator(model string, tools []clientTool, fs *fsExecutor, emitToolUse bool) *translator {
	return &translator{
		model:        model,
		messageID:    "msg_" + uuid.NewString(),
		toolMap:      newToolMapper(tools),
		fs:           fs,
		emitToolUse:  emitToolUse,
		pendingTools: make(map[string]*pendingTool),
	}
}

func event(payload map[string]interface{}) []byte {
	data, _ := json.Marshal(payload)
	return data
}

func (t *translator) messageStart() []byte {
	return event(map[string]interface{}{
		"type": "message_start",
		"message": map[string]interface{}{
			"id":            t.messageID,
			"type":          "message",
			"role":          "assistant",
			"model":         t.model,
			"content":       []interface{}{},
			"stop_reason":   nil,
			"stop_sequence": nil,
			"usage":         map[string]interface{}{"input_tokens": 0, "output_tokens": 0},
		},
	})
}

func (t *translator) messageStop() []byte {
	return event(map[string]interface{}{"type": "message_stop"})
}

func blockStart(index int, block map[string]interface{}) []byte {
	return event(map[string]interface{}{
		"type":          "content_block_start",
		"index":         index,
		"content_block": block,
	})
}

func blockDelta(index int, delta map[string]interface{}) []byte {
	return event(map[string]interface{}{
		"type":  "content_block_delta",
		"index": index,
		"delta": delta,
	})
}

func blockStop(index int) []byte {
	return event(map[string]interface{}{"type": "content_block_stop", "index": index})
}

// handle translates one upstream message into zero or more outbound
// events, zero or more socket replies, and a done marker.
func (t *translator) handle(message []byte) (events [][]byte, replies []interface{}, done bool) {
	root := gjson.ParseBytes(message)
	eventType := root.Get("type").String()

	highLevel := strings.HasPrefix(eventType, "coding_agent.")
	if highLevel {
		eventType = strings.TrimPrefix(eventType, "coding_agent.")
		if eventType == "end" {
			return nil, nil, true
		}
		t.preferHighLevel = true
	}

	switch eventType {
	case "reasoning.started", "reasoning-start":
		if t.preferHighLevel && !highLevel {
			return nil, nil, false
		}
		if !t.reasoningStarted {
			t.reasoningStarted = true
			events = append(events, blockStart(0, map[string]interface{}{"type": "thinking", "thinking": ""}))
			t.blockIndex = 0
		}

	case "reasoning.chunk", "reasoning-delta":
		if t.preferHighLevel && !highLevel {
			return nil, nil, false
		}
		if !t.reasoningStarted {
			t.reasoningStarted = true
			events = append(events, blockStart(0, map[string]interface{}{"type": "thinking", "thinking": ""}))
		}
		text := root.Get("text").String()
		if text == "" {
			text = root.Get("delta").String()
		}
		events = append(events, blockDelta(0, map[string]interface{}{"type": "thinking_delta", "thinking": text}))

	case "reasoning.completed", "reasoning-end":
		if t.preferHighLevel && !highLevel {
			return nil, nil, false
		}
		if t.reasoningStarted && !t.reasoningEnded {
			t.reasoningEnded = true
			events = append(events, blockStop(0))
		}

	case "output_text_delta", "text-delta", "response.chunk":
		if t.preferHighLevel && !highLevel {
			return nil, nil, false
		}
		text := root.Get("text").String()
		if text == "" {
			text = root.Get("delta").String()
		}
		if text == "" {
			return nil, nil, false
		}
		// The same delta can arrive on both event families; drop the
		// echo.
		if text == t.lastTextDelta && highLevel != t.lastTextHighLevel {
			return nil, nil, false
		}
		t.lastTextDelta = text
		t.lastTextHighLevel = highLevel
		events = append(events, t.ensureTextBlock()...)
		events = append(events, blockDelta(t.textBlockIndex, map[string]interface{}{"type": "text_delta", "text": text}))

	case "tool-input-start":
		events = append(events, t.closeTextBlock()...)
		id := root.Get("id").String()
		if id == "" {
			id = "toolu_" + uuid.NewString()
		}
		name := t.toolMap.Map(root.Get("name").String())
		t.blockIndex++
		t.currentToolID = id
		t.currentToolIndex = t.blockIndex
		t.accumulatedInput.Reset()
		t.toolDeltaSent = false
		if initial := root.Get("input"); initial.Exists() && initial.Raw != "" && initial.Raw != "{}" {
			t.accumulatedInput.WriteString(initial.Raw)
		}
		t.pendingTools[id] = &pendingTool{Name: name}
		t.toolOrder = append(t.toolOrder, id)
		events = append(events, blockStart(t.blockIndex, map[string]interface{}{
			"type": "tool_use", "id": id, "name": name, "input": map[string]interface{}{},
		}))

	case "tool-input-delta":
		if t.currentToolID == "" {
			return nil, nil, false
		}
		partial := root.Get("delta").String()
		if partial == "" {
			partial = root.Get("partial_json").String()
		}
		t.accumulatedInput.WriteString(partial)
		t.toolDeltaSent = true
		events = append(events, blockDelta(t.currentToolIndex, map[string]interface{}{
			"type": "input_json_delta", "partial_json": partial,
		}))

	case "tool-input-end":
		if t.currentToolID == "" {
			return nil, nil, false
		}
		input := t.accumulatedInput.String()
		if !t.toolDeltaSent && input != "" {
			events = append(events, blockDelta(t.currentToolIndex, map[string]interface{}{
				"type": "input_json_delta", "partial_json": input,
			}))
		}
		events = append(events, blockStop(t.currentToolIndex))
		if pending, ok := t.pendingTools[t.currentToolID]; ok {
			pending.Input = util.FixJSON(input)
		}
		t.currentToolID = ""
		t.accumulatedInput.Reset()

	case "edit_file.started":
		events = append(events, t.closeTextBlock()...)
		t.blockIndex++
		t.editToolID = "toolu_" + uuid.NewString()
		t.editToolIndex = t.blockIndex
		t.editFilePath = root.Get("file_path").String()
		t.editChunks = nil
		name := t.toolMap.Map("edit")
		t.pendingTools[t.editToolID] = &pendingTool{Name: name}
		t.toolOrder = append(t.toolOrder, t.editToolID)
		events = append(events, blockStart(t.blockIndex, map[string]interface{}{
			"type": "tool_use", "id": t.editToolID, "name": name, "input": map[string]interface{}{},
		}))

	case "edit_file.chunk":
		if t.editToolID != "" {
			t.editChunks = append(t.editChunks, root.Get("text").String())
		}

	case "edit_file.completed":
		if t.editToolID == "" {
			return nil, nil, false
		}
		oldString := root.Get("old_string").String()
		newString := root.Get("new_string").String()
		if newString == "" {
			newString = strings.Join(t.editChunks, "")
		}
		input, _ := json.Marshal(map[string]interface{}{
			"file_path":  t.editFilePath,
			"old_string": oldString,
			"new_string": newString,
		})
		events = append(events, blockDelta(t.editToolIndex, map[string]interface{}{
			"type": "input_json_delta", "partial_json": string(input),
		}))
		events = append(events, blockStop(t.editToolIndex))
		t.pendingTools[t.editToolID].Input = string(input)
		t.editToolID = ""

	case "todo_write.started":
		events = append(events, t.closeTextBlock()...)
		t.blockIndex++
		id := "toolu_" + uuid.NewString()
		name := t.toolMap.Map("todo_write")
		input, _ := json.Marshal(map[string]interface{}{"todos": root.Get("todos").Value()})
		t.pendingTools[id] = &pendingTool{Name: name, Input: string(input)}
		t.toolOrder = append(t.toolOrder, id)
		events = append(events,
			blockStart(t.blockIndex, map[string]interface{}{
				"type": "tool_use", "id": id, "name": name, "input": map[string]interface{}{},
			}),
			blockDelta(t.blockIndex, map[string]interface{}{"type": "input_json_delta", "partial_json": string(input)}),
			blockStop(t.blockIndex))

	case "fs_operation":
		opID := root.Get("id").String()
		operation := root.Get("operation").String()

		if t.emitToolUse {
			events = append(events, t.closeTextBlock()...)
			t.blockIndex++
			id := "toolu_" + uuid.NewString()
			name := t.toolMap.Map(operation)
			input := root.Get("args").Raw
			if input == "" {
				input = "{}"
			}
			t.pendingTools[id] = &pendingTool{Name: name, Input: input}
			t.toolOrder = append(t.toolOrder, id)
			events = append(events,
				blockStart(t.blockIndex, map[string]interface{}{
					"type": "tool_use", "id": id, "name": name, "input": map[string]interface{}{},
				}),
				blockDelta(t.blockIndex, map[string]interface{}{"type": "input_json_delta", "partial_json": input}),
				blockStop(t.blockIndex))
		}

		replies = append(replies, t.fs.Execute(opID, operation, root.Get("args")))

	case "tokens_used":
		t.updateUsage(root)

	case "finish":
		t.finishReason = mapFinishReason(root.Get("reason").String())

	case "response_done", "complete":
		if usage := root.Get("usage"); usage.Exists() {
			t.updateUsage(usage)
		}
		if reason := root.Get("finish_reason"); reason.Exists() {
			t.finishReason = mapFinishReason(reason.String())
		}
		return events, replies, true

	case "error":
		log.Warnf("orchids: upstream error event: %s", root.Get("message").String())

	default:
		log.Debugf("orchids: ignoring event type %q", root.Get("type").String())
	}

	return events, replies, false
}

// updateUsage accepts both the flat tokens_used shape and a nested
// usage object.
func (t *translator) updateUsage(usage gjson.Result) {
	for _, key := range []string{"input", "input_tokens", "prompt_tokens"} {
		if v := usage.Get(key); v.Exists() {
			t.inputTokens = v.Int()
			break
		}
	}
	for _, key := range []string{"output", "output_tokens", "completion_tokens"} {
		if v := usage.Get(key); v.Exists() {
			t.outputTokens = v.Int()
			break
		}
	}
	if v := usage.Get("cached_input"); v.Exists() {
		t.cachedInput = v.Int()
	}
}

// ensureTextBlock lazily opens the text content block, closing a still
// open thinking block first.
func (t *translator) ensureTextBlock() [][]byte {
	var events [][]byte
	if t.reasoningStarted && !t.reasoningEnded {
		t.reasoningEnded = true
		events = append(events, blockStop(0))
	}
	if !t.textStarted {
		t.textStarted = true
		t.blockIndex++
		t.textBlockIndex = t.blockIndex
		events = append(events, blockStart(t.blockIndex, map[string]interface{}{"type": "text", "text": ""}))
	}
	return events
}

// closeTextBlock stops the open text block before a tool block opens.
func (t *translator) closeTextBlock() [][]byte {
	var events [][]byte
	if t.reasoningStarted && !t.reasoningEnded {
		t.reasoningEnded = true
		events = append(events, blockStop(0))
	}
	if t.textStarted {
		t.textStarted = false
		events = append(events, blockStop(t.textBlockIndex))
	}
	return events
}

// finish closes any open blocks and emits the terminal message_delta
// and message_stop pair. Idempotent.
func (t *translator) finish() [][]byte {
	if t.finished {
		return nil
	}
	t.finished = true

	var events [][]byte
	events = append(events, t.closeTextBlock()...)
	if t.currentToolID != "" {
		events = append(events, blockStop(t.currentToolIndex))
		t.currentToolID = ""
	}

	stopReason := t.finishReason
	if len(t.pendingTools) > 0 {
		stopReason = "tool_use"
	} else if stopReason == "" {
		stopReason = "end_turn"
	}

	usage := map[string]interface{}{
		"input_tokens":  t.inputTokens,
		"output_tokens": t.outputTokens,
	}
	if t.cachedInput > 0 {
		usage["cache_read_input_tokens"] = t.cachedInput
	}
	events = append(events, event(map[string]interface{}{
		"type":  "message_delta",
		"delta": map[string]interface{}{"stop_reason": stopReason, "stop_sequence": nil},
		"usage": usage,
	}))
	events = append(events, t.messageStop())
	return events
}

func mapFinishReason(reason string) string {
	switch reason {
	case "tool-calls", "tool_calls", "tool_use":
		return "tool_use"
	case "length", "max_tokens":
		return "max_tokens"
	case "", "stop", "end_turn":
		return "end_turn"
	default:
		return "end_turn"
	}
}

// unaryAggregator folds the streaming events back into one Claude
// Messages response for the unary entry point.
type unaryAggregator struct {
	model      string
	messageID  string
	text       strings.Builder
	thinking   strings.Builder
	toolBlocks []map[string]interface{}
	toolInputs map[int]*strings.Builder
	indexByPos map[int]int
	stopReason string
	usage      map[string]interface{}
}

func newUnaryAggregator(model string) *unaryAggregator {
	return &unaryAggregator{
		model:      model,
		stopReason: "end_turn",
		toolInputs: make(map[int]*strings.Builder),
		indexByPos: make(map[int]int),
		usage:      map[string]interface{}{"input_tokens": 0, "output_tokens": 0},
	}
}

func (a *unaryAggregator) consume(payload []byte) {
	root := gjson.ParseBytes(payload)
	switch root.Get("type").String() {
	case "message_start":
		a.messageID = root.Get("message.id").String()

	case "content_block_start":
		if root.Get("content_block.type").String() == "tool_use" {
			position := int(root.Get("index").Int())
			a.indexByPos[position] = len(a.toolBlocks)
			a.toolInputs[position] = &strings.Builder{}
			a.toolBlocks = append(a.toolBlocks, map[string]interface{}{
				"type":  "tool_use",
				"id":    root.Get("content_block.id").String(),
				"name":  root.Get("content_block.name").String(),
				"input": map[string]interface{}{},
			})
		}

	case "content_block_delta":
		switch root.Get("delta.type").String() {
		case "text_delta":
			a.text.WriteString(root.Get("delta.text").String())
		case "thinking_delta":
			a.thinking.WriteString(root.Get("delta.thinking").String())
		case "input_json_delta":
			position := int(root.Get("index").Int())
			if acc, ok := a.toolInputs[position]; ok {
				acc.WriteString(root.Get("delta.partial_json").String())
			}
		}

	case "content_block_stop":
		position := int(root.Get("index").Int())
		if acc, ok := a.toolInputs[position]; ok && acc.Len() > 0 {
			var input interface{}
			if err := json.Unmarshal([]byte(util.FixJSON(acc.String())), &input); err == nil {
				a.toolBlocks[a.indexByPos[position]]["input"] = input
			}
		}

	case "message_delta":
		if reason := root.Get("delta.stop_reason"); reason.Exists() {
			a.stopReason = reason.String()
		}
		if usage := root.Get("usage"); usage.Exists() {
			a.usage["input_tokens"] = usage.Get("input_tokens").Int()
			a.usage["output_tokens"] = usage.Get("output_tokens").Int()
		}
	}
}

func (a *unaryAggregator) response() []byte {
	var content []interface{}
	if a.thinking.Len() > 0 {
		content = append(content, map[string]interface{}{"type": "thinking", "thinking": a.thinking.String()})
	}
	if a.text.Len() > 0 {
		content = append(content, map[string]interface{}{"type": "text", "text": a.text.String()})
	}
	for _, block := range a.toolBlocks {
		content = append(content, block)
	}
	if content == nil {
		content = []interface{}{}
	}
	out, _ := json.Marshal(map[string]interface{}{
		"id":            a.messageID,
		"type":          "message",
		"role":          "assistant",
		"model":         a.model,
		"content":       content,
		"stop_reason":   a.stopReason,
		"stop_sequence": nil,
		"usage":         a.usage,
	})
	return out
}
