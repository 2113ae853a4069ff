package service

import (
	"io"
	"net/http"
	"strings"

	"github.com/bytedance/sonic"

	"trade_engine/internal/commands"
	"trade_engine/internal/modules/config"
	"trade_engine/pkg/logger"
)

// Webhook — HTTP-вход для чат-платформ (Poe и совместимые). Ключ доступа
// приезжает в одном из четырёх заголовков, смотря кто шлёт.
type Webhook struct {
	cfg  *config.Config
	disp *commands.Dispatcher
}

func NewWebhook(cfg *config.Config, disp *commands.Dispatcher) *Webhook {
	return &Webhook{cfg: cfg, disp: disp}
}

type inboundPayload struct {
	Message struct {
		Text string `json:"text"`
	} `json:"message"`
}

type textReply struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

func (wh *Webhook) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", wh.handleHealth)
	mux.HandleFunc("/debug/headers", wh.handleDebugHeaders)
	mux.HandleFunc("/webhook", wh.handleWebhook)
	return mux
}

func (wh *Webhook) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"mode":   wh.cfg.Mode,
	})
}

// handleDebugHeaders показывает, с какими заголовками реально приходит
// платформа — именно так и нашлись все четыре варианта имени ключа.
func (wh *Webhook) handleDebugHeaders(w http.ResponseWriter, r *http.Request) {
	out := make(map[string]string, len(r.Header))
	for name, vals := range r.Header {
		out[strings.ToLower(name)] = strings.Join(vals, ", ")
	}
	writeJSON(w, http.StatusOK, out)
}

func (wh *Webhook) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	received := accessKeyFrom(r)
	if wh.cfg.AccessKey == "" || received == "" || received != wh.cfg.AccessKey {
		logger.Error("webhook 403: bad or missing access key")
		http.Error(w, "Forbidden: bad or missing access key", http.StatusForbidden)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}

	var payload inboundPayload
	// битый JSON не фаталим — отвечаем дефолтом, как на пустой текст
	_ = sonic.Unmarshal(body, &payload)

	text := strings.TrimSpace(payload.Message.Text)
	if text == "" {
		writeJSON(w, http.StatusOK, textReply{
			Type: "text",
			Text: "Webhook OK. Отправь команду, /help подскажет список.",
		})
		return
	}

	reply := wh.disp.Handle(r.Context(), text)
	writeJSON(w, http.StatusOK, textReply{Type: "text", Text: reply})
}

// accessKeyFrom достаёт ключ из первого заполненного заголовка.
func accessKeyFrom(r *http.Request) string {
	for _, name := range []string{"poe-access-key", "x-poe-access-key", "x-access-key"} {
		if v := strings.TrimSpace(r.Header.Get(name)); v != "" {
			return v
		}
	}
	if auth := r.Header.Get("Authorization"); auth != "" {
		if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
			return strings.TrimSpace(auth[len("bearer "):])
		}
	}
	return ""
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	out, err := sonic.Marshal(v)
	if err != nil {
		http.Error(w, "encode response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(out)
}
