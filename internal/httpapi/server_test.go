package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ent0n29/ducktodo/internal/config"
	"github.com/ent0n29/ducktodo/internal/llm"
	"github.com/ent0n29/ducktodo/internal/observability"
	"github.com/ent0n29/ducktodo/internal/protocol"
	"github.com/ent0n29/ducktodo/internal/report"
	"github.com/ent0n29/ducktodo/internal/settings"
	"github.com/ent0n29/ducktodo/internal/tasks"
)

const testUser = "user-1"

// promauto registers globally, so every server gets its own namespace.
var metricsSeq atomic.Int64

type stubChat struct {
	mu       sync.Mutex
	reply    string
	err      error
	noStream bool
}

func (c *stubChat) set(reply string, err error, noStream bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reply, c.err, c.noStream = reply, err, noStream
}

func (c *stubChat) state() (string, error, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reply, c.err, c.noStream
}

func (c *stubChat) Chat(context.Context, []llm.Message) (string, error) {
	reply, err, _ := c.state()
	return reply, err
}

func (c *stubChat) Generate(ctx context.Context, prompt string) (string, error) {
	return c.Chat(ctx, []llm.Message{llm.UserMessage(prompt)})
}

// ChatStream emits the reply in two chunks split on a rune boundary.
func (c *stubChat) ChatStream(_ context.Context, _ []llm.Message, onDelta llm.DeltaHandler) (string, error) {
	reply, err, noStream := c.state()
	if noStream {
		return "", llm.ErrStreamingUnsupported
	}
	if err != nil {
		return "", err
	}
	runes := []rune(reply)
	mid := len(runes) / 2
	for _, part := range []string{string(runes[:mid]), string(runes[mid:])} {
		if err := onDelta(part); err != nil {
			return "", err
		}
	}
	return reply, nil
}

type stubFactory struct {
	chat *stubChat

	mu         sync.Mutex
	probe      llm.ConnectivityResult
	probedType llm.Capability
	probedCfg  llm.Config
}

func (f *stubFactory) setProbe(res llm.ConnectivityResult) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.probe = res
}

func (f *stubFactory) lastProbe() (llm.Capability, llm.Config) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.probedType, f.probedCfg
}

func (f *stubFactory) NewChat(cfg llm.Config) (llm.ChatModel, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, &llm.ConfigError{Field: "api_key", Reason: "api key is required"}
	}
	return f.chat, nil
}

func (f *stubFactory) TestConnectivity(_ context.Context, cfg llm.Config, capability llm.Capability) llm.ConnectivityResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.probedCfg = cfg
	f.probedType = capability
	return f.probe
}

type testEnv struct {
	ts       *httptest.Server
	tasks    *tasks.InMemoryStore
	settings *settings.InMemoryStore
	factory  *stubFactory
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	taskStore := tasks.NewInMemoryStore()
	settingsStore := settings.NewInMemoryStore()
	factory := &stubFactory{chat: &stubChat{reply: "日报内容"}}
	metrics := observability.NewMetrics(fmt.Sprintf("test_httpapi_%d", metricsSeq.Add(1)))

	aggregator := report.NewAggregator(taskStore)
	ranker := report.NewRanker(taskStore)
	srv := New(config.Config{ReportTodoLimit: 10, ReportTodoDaysAhead: 3}, Services{
		Aggregator:  aggregator,
		Ranker:      ranker,
		Synthesizer: report.NewSynthesizer(settingsStore, factory, aggregator, ranker, report.SynthesizerOptions{Metrics: metrics}),
		ToolConfigs: report.NewToolConfigService(settingsStore),
		Settings:    settingsStore,
		LLM:         factory,
	}, metrics)

	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return &testEnv{ts: ts, tasks: taskStore, settings: settingsStore, factory: factory}
}

type testEnvelope struct {
	Success bool            `json:"success"`
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (e *testEnv) do(t *testing.T, method, path, user string, body any) (int, testEnvelope) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, e.ts.URL+path, reader)
	if err != nil {
		t.Fatalf("NewRequest() error = %v", err)
	}
	if user != "" {
		req.Header.Set(UserHeader, user)
	}
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s error = %v", method, path, err)
	}
	defer res.Body.Close()
	var env testEnvelope
	if err := json.NewDecoder(res.Body).Decode(&env); err != nil {
		t.Fatalf("decode %s %s response: %v", method, path, err)
	}
	return res.StatusCode, env
}

func (e *testEnv) saveChatConfig(t *testing.T, apiKey string) string {
	t.Helper()
	status, env := e.do(t, http.MethodPost, "/v1/llm/configs", testUser, map[string]any{
		"llm_provider":   "siliconflow",
		"llm_api_key":    apiKey,
		"llm_model_name": "Qwen/Qwen2.5-7B-Instruct",
		"llm_model_type": 1,
	})
	if status != http.StatusOK {
		t.Fatalf("save llm config status = %d (%s)", status, env.Message)
	}
	var saved settings.LLMConfig
	if err := json.Unmarshal(env.Data, &saved); err != nil {
		t.Fatalf("decode saved config: %v", err)
	}
	if saved.APIKey != "" {
		t.Fatalf("saved config leaked api key")
	}
	return saved.ID
}

func TestHealthAndIdentity(t *testing.T) {
	env := newTestEnv(t)

	res, err := http.Get(env.ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("healthz request error = %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("healthz status = %d, want 200", res.StatusCode)
	}

	status, body := env.do(t, http.MethodGet, "/v1/daily-report/upcoming", "", nil)
	if status != http.StatusUnauthorized || body.Success {
		t.Fatalf("upcoming without identity = %d %+v, want 401", status, body)
	}
}

func TestDailyReportTaskLists(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	today := tasks.Today()
	_ = env.tasks.SaveTask(ctx, tasks.Task{ID: "T", Name: "发布", Status: tasks.TaskStatusInProgress, DueDate: today})
	_ = env.tasks.AddMember(ctx, tasks.TaskUserRelation{TaskID: "T", UserID: testUser})
	_ = env.tasks.SaveChildTask(ctx, tasks.ChildTask{ID: "C1", TaskID: "T", Name: "写测试", Status: tasks.TaskStatusCompleted, FinishDate: today})
	_ = env.tasks.SaveChildTask(ctx, tasks.ChildTask{ID: "C2", TaskID: "T", Name: "写文档", Status: tasks.TaskStatusNotStarted, DueDate: today.AddDays(1)})

	status, body := env.do(t, http.MethodGet, "/v1/daily-report/today-completed-tasks?target_date="+today.String(), testUser, nil)
	if status != http.StatusOK || !body.Success {
		t.Fatalf("today-completed status = %d %+v", status, body)
	}
	var completed []report.CompletedEntry
	if err := json.Unmarshal(body.Data, &completed); err != nil {
		t.Fatalf("decode completed: %v", err)
	}
	if len(completed) != 1 || len(completed[0].ChildTasks) != 1 || completed[0].ChildTasks[0].Name != "写测试" {
		t.Fatalf("completed = %+v, want T with C1", completed)
	}

	status, body = env.do(t, http.MethodGet, "/v1/daily-report/upcoming?limit=5&days_ahead=2", testUser, nil)
	if status != http.StatusOK {
		t.Fatalf("upcoming status = %d %+v", status, body)
	}
	if !strings.Contains(string(body.Data), `"child_task_name":"写文档"`) || strings.Contains(string(body.Data), "写测试") {
		t.Fatalf("upcoming data = %s, want only C2 under T", body.Data)
	}

	status, _ = env.do(t, http.MethodGet, "/v1/daily-report/today-completed-tasks?target_date=yesterday", testUser, nil)
	if status != http.StatusBadRequest {
		t.Fatalf("bad target_date status = %d, want 400", status)
	}
	status, _ = env.do(t, http.MethodGet, "/v1/daily-report/upcoming?days_ahead=-1", testUser, nil)
	if status != http.StatusBadRequest {
		t.Fatalf("negative days_ahead status = %d, want 400", status)
	}
}

func TestGenerateReportThroughToolConfig(t *testing.T) {
	env := newTestEnv(t)
	configID := env.saveChatConfig(t, "sk-test")

	status, body := env.do(t, http.MethodPut, "/v1/daily-report/tool-config", testUser, map[string]string{"llm_config_id": configID})
	if status != http.StatusNotFound {
		t.Fatalf("update before create status = %d %+v, want 404", status, body)
	}
	status, body = env.do(t, http.MethodPost, "/v1/daily-report/tool-config", testUser, map[string]string{"llm_config_id": configID})
	if status != http.StatusOK {
		t.Fatalf("create tool config status = %d %+v", status, body)
	}

	status, body = env.do(t, http.MethodPost, "/v1/daily-report/generate", testUser, map[string]any{})
	if status != http.StatusOK {
		t.Fatalf("generate status = %d %+v", status, body)
	}
	var rep report.Report
	if err := json.Unmarshal(body.Data, &rep); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if rep.TodayFinished != "日报内容" || rep.TomorrowTodo != "日报内容" || rep.Think != "日报内容" {
		t.Fatalf("report = %+v, want all sections filled", rep)
	}
}

func TestGenerateReportSoftAndProviderFailures(t *testing.T) {
	env := newTestEnv(t)

	status, body := env.do(t, http.MethodPost, "/v1/daily-report/generate", testUser, map[string]string{"llm_config_id": "missing"})
	if status != http.StatusOK {
		t.Fatalf("generate with unknown config status = %d", status)
	}
	var rep report.Report
	if err := json.Unmarshal(body.Data, &rep); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if rep.Think != report.MsgConfigNotFound || rep.TodayFinished != "" || rep.TomorrowTodo != "" {
		t.Fatalf("soft report = %+v", rep)
	}
	if !strings.Contains(string(body.Data), `"today_finish_tasks_report":""`) {
		t.Fatalf("soft report should carry empty strings, got %s", body.Data)
	}

	configID := env.saveChatConfig(t, "sk-test")
	env.factory.chat.set("", &llm.StatusError{Provider: llm.BackendSiliconFlow, StatusCode: http.StatusServiceUnavailable}, false)
	status, body = env.do(t, http.MethodPost, "/v1/daily-report/generate", testUser, map[string]string{"llm_config_id": configID})
	if status != http.StatusServiceUnavailable || body.Success {
		t.Fatalf("generate with failing provider = %d %+v, want 503", status, body)
	}

	env.factory.chat.set("", &llm.StatusError{Provider: llm.BackendSiliconFlow, StatusCode: http.StatusUnauthorized}, false)
	status, _ = env.do(t, http.MethodPost, "/v1/daily-report/generate", testUser, map[string]string{"llm_config_id": configID})
	if status != http.StatusBadGateway {
		t.Fatalf("generate with rejected credentials status = %d, want 502", status)
	}
}

func TestTestConnectivity(t *testing.T) {
	env := newTestEnv(t)
	env.factory.setProbe(llm.ConnectivityResult{OK: false, Message: "返回结果为空"})

	status, body := env.do(t, http.MethodPost, "/v1/llm/test-connectivity", testUser, map[string]any{
		"llm_provider":   "openai-compatible",
		"llm_api_key":    "sk",
		"llm_api_url":    "http://llm.local/v1",
		"llm_model_type": 3,
	})
	if status != http.StatusOK {
		t.Fatalf("test-connectivity status = %d", status)
	}
	if body.Success || body.Message != "返回结果为空" {
		t.Fatalf("test-connectivity body = %+v, want failure message", body)
	}
	if probedType, probedCfg := env.factory.lastProbe(); probedType != llm.CapabilityRerank || probedCfg.BaseURL != "http://llm.local/v1" {
		t.Fatalf("probe = %v %+v", probedType, probedCfg)
	}

	configID := env.saveChatConfig(t, "sk-stored")
	env.factory.setProbe(llm.ConnectivityResult{OK: true})
	status, body = env.do(t, http.MethodPost, "/v1/llm/test-connectivity", testUser, map[string]string{"user_llm_config_id": configID})
	if status != http.StatusOK || !body.Success {
		t.Fatalf("stored test-connectivity = %d %+v", status, body)
	}
	if probedType, probedCfg := env.factory.lastProbe(); probedCfg.APIKey != "sk-stored" || probedType != llm.CapabilityChat {
		t.Fatalf("stored probe = %v %+v", probedType, probedCfg)
	}
}

func TestSaveLLMConfigRejectsUnknownProvider(t *testing.T) {
	env := newTestEnv(t)
	status, body := env.do(t, http.MethodPost, "/v1/llm/configs", testUser, map[string]any{
		"llm_provider": "modelscope",
		"llm_api_key":  "sk",
	})
	if status != http.StatusBadRequest || body.Success {
		t.Fatalf("save unknown provider = %d %+v, want 400", status, body)
	}
}

func dialChat(t *testing.T, env *testEnv, configID string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(env.ts.URL, "http") + "/v1/llm/chat/ws?llm_config_id=" + configID
	header := http.Header{}
	header.Set(UserHeader, testUser)
	conn, res, err := websocket.DefaultDialer.Dial(wsURL, header)
	if err != nil {
		status := 0
		if res != nil {
			status = res.StatusCode
		}
		t.Fatalf("dial chat ws error = %v (status %d)", err, status)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvents(t *testing.T, conn *websocket.Conn, until protocol.MessageType) []map[string]any {
	t.Helper()
	var events []map[string]any
	for {
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		var ev map[string]any
		if err := conn.ReadJSON(&ev); err != nil {
			t.Fatalf("ReadJSON() error = %v", err)
		}
		events = append(events, ev)
		if ev["type"] == string(until) || ev["type"] == string(protocol.TypeErrorEvent) {
			return events
		}
	}
}

func TestChatWSStreamsDeltas(t *testing.T) {
	env := newTestEnv(t)
	configID := env.saveChatConfig(t, "sk-test")
	env.factory.chat.set("你好呀", nil, false)
	conn := dialChat(t, env, configID)

	if err := conn.WriteJSON(map[string]any{
		"type":       "chat_request",
		"request_id": "r1",
		"messages":   []map[string]string{{"role": "user", "content": "你好"}},
	}); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}
	events := readEvents(t, conn, protocol.TypeChatDone)

	var deltas []string
	for _, ev := range events {
		if ev["type"] == string(protocol.TypeChatDelta) {
			deltas = append(deltas, ev["text_delta"].(string))
		}
	}
	last := events[len(events)-1]
	if last["type"] != string(protocol.TypeChatDone) || last["text"] != "你好呀" || last["streamed"] != true {
		t.Fatalf("last event = %+v, want streamed chat_done", last)
	}
	if strings.Join(deltas, "") != "你好呀" || len(deltas) != 2 {
		t.Fatalf("deltas = %q, want two chunks of the reply", deltas)
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"chat_request","messages":[]}`)); err != nil {
		t.Fatalf("WriteMessage() error = %v", err)
	}
	events = readEvents(t, conn, protocol.TypeChatDone)
	if got := events[len(events)-1]; got["type"] != string(protocol.TypeErrorEvent) || got["code"] != "invalid_client_message" {
		t.Fatalf("invalid request event = %+v", got)
	}
}

func TestChatWSFallsBackWithoutStreaming(t *testing.T) {
	env := newTestEnv(t)
	configID := env.saveChatConfig(t, "sk-test")
	env.factory.chat.set("一次性回复", nil, true)
	conn := dialChat(t, env, configID)

	if err := conn.WriteJSON(map[string]any{
		"type":     "chat_request",
		"messages": []map[string]string{{"role": "user", "content": "你好"}},
	}); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}
	events := readEvents(t, conn, protocol.TypeChatDone)
	if len(events) != 1 || events[0]["text"] != "一次性回复" || events[0]["streamed"] != false {
		t.Fatalf("events = %+v, want single non-streamed chat_done", events)
	}
}

func TestChatWSRejectsForeignConfig(t *testing.T) {
	env := newTestEnv(t)
	saved, err := env.settings.SaveLLMConfig(context.Background(), settings.LLMConfig{UserID: "someone-else", Provider: "openai", APIKey: "sk", ModelType: llm.CapabilityChat})
	if err != nil {
		t.Fatalf("SaveLLMConfig() error = %v", err)
	}
	status, _ := env.do(t, http.MethodGet, "/v1/llm/chat/ws?llm_config_id="+saved.ID, testUser, nil)
	if status != http.StatusNotFound {
		t.Fatalf("foreign config status = %d, want 404", status)
	}
}
