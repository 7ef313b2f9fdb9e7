package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
)

func sampleNote(kind Kind) Notification {
	actual := 82
	return Notification{
		Kind:           kind,
		BetID:          "V1StGXR8_Z5jdHi6B-myT",
		Game:           "coc",
		GameIdentifier: "2PP",
		Tier:           "easy",
		Threshold:      75,
		Actual:         &actual,
		Stake:          decimal.RequireFromString("0.02"),
		Payout:         decimal.RequireFromString("0.06"),
		TxHash:         "0xabc",
		At:             time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestTelegramNotifierSuccess(t *testing.T) {
	received := make(map[string]string)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "sendMessage") {
			t.Fatalf("路径应包含 sendMessage, 实际 %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Fatalf("解析请求体失败: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	if err := notifier.Notify(context.Background(), sampleNote(KindRewardClaimed)); err != nil {
		t.Fatalf("Telegram Notify 应成功: %v", err)
	}

	if received["chat_id"] != "chat" {
		t.Fatalf("chat_id 不正确: %#v", received)
	}
	text := received["text"]
	if !strings.Contains(text, "Reward claimed") || !strings.Contains(text, "Payout: 0.06 ETH") {
		t.Fatalf("text 内容不完整: %q", text)
	}
}

func TestTelegramNotifierError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	if err := notifier.Notify(context.Background(), sampleNote(KindBetPlaced)); err == nil {
		t.Fatal("ok=false 应报错")
	}
}

func TestRenderMessageBetPlaced(t *testing.T) {
	text := renderMessage(sampleNote(KindBetPlaced))
	if !strings.Contains(text, "Bet placed") || strings.Contains(text, "Payout") {
		t.Fatalf("下注通知不应包含 payout: %q", text)
	}
	if !strings.Contains(text, "Tier: easy (target 75%)") {
		t.Fatalf("缺少 tier 信息: %q", text)
	}
}

type recordingWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *recordingWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *recordingWriter) Close() error { return nil }

func TestKafkaNotifierPublishes(t *testing.T) {
	w := &recordingWriter{}
	n := newKafkaNotifier(w, "skillbet.bets", testLogger())

	if err := n.Notify(context.Background(), sampleNote(KindBetPlaced)); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(w.msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(w.msgs))
	}
	msg := w.msgs[0]
	if string(msg.Key) != "V1StGXR8_Z5jdHi6B-myT" {
		t.Fatalf("message key should be the bet id, got %q", msg.Key)
	}
	var decoded Notification
	if err := json.Unmarshal(msg.Value, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded.Kind != KindBetPlaced || !decoded.Stake.Equal(decimal.RequireFromString("0.02")) {
		t.Fatalf("unexpected payload %+v", decoded)
	}
}

type stubNotifier struct {
	calls int
	err   error
}

func (s *stubNotifier) Notify(ctx context.Context, note Notification) error {
	s.calls++
	return s.err
}

func TestFanoutDeliversToAll(t *testing.T) {
	failing := &stubNotifier{err: errors.New("boom")}
	ok := &stubNotifier{}
	fan := Fanout{failing, nil, ok}

	err := fan.Notify(context.Background(), sampleNote(KindBetPlaced))
	if err == nil || !strings.Contains(err.Error(), "boom") {
		t.Fatalf("fanout should report channel failures, got %v", err)
	}
	if failing.calls != 1 || ok.calls != 1 {
		t.Fatal("every channel should be attempted")
	}
}

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}
