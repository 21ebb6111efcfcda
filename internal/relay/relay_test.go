package relay

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/user/larkflow/internal/image"
	"github.com/user/larkflow/internal/lark"
	"github.com/user/larkflow/internal/types"
	"github.com/user/larkflow/pkg/flowise"
)

type reply struct {
	messageID types.MessageID
	kind      string
	body      string
}

type fakeMessenger struct {
	mu      sync.Mutex
	replies []reply
	err     error
}

func (f *fakeMessenger) ReplyText(ctx context.Context, messageID types.MessageID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies = append(f.replies, reply{messageID, "text", text})
	return f.err
}

func (f *fakeMessenger) ReplyImage(ctx context.Context, messageID types.MessageID, imageKey string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies = append(f.replies, reply{messageID, "image", imageKey})
	return f.err
}

type fakeBackend struct {
	answer    string
	err       error
	calls     int
	questions []string
	sessions  []string
}

func (f *fakeBackend) Query(ctx context.Context, question, sessionID string) (string, error) {
	f.calls++
	f.questions = append(f.questions, question)
	f.sessions = append(f.sessions, sessionID)
	return f.answer, f.err
}

type fakeUploader struct {
	stage   image.Stage
	key     string
	err     error
	sources []string
}

func (f *fakeUploader) Upload(ctx context.Context, sourceURL string) (string, error) {
	f.sources = append(f.sources, sourceURL)
	return f.key, f.err
}

func (f *fakeUploader) Stage() image.Stage { return f.stage }

func textEvent(text string) *types.MessageReceiveEvent {
	return &types.MessageReceiveEvent{
		Sender: types.Sender{SenderID: types.UserIDs{UserID: "u_1"}},
		Message: types.Message{
			MessageID:   "om_1",
			ChatID:      "oc_1",
			MessageType: "text",
			Content:     `{"text":` + quote(text) + `}`,
		},
	}
}

func quote(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `\"`) + `"`
}

func TestHandleMessageAnswers(t *testing.T) {
	msgr := &fakeMessenger{}
	backend := &fakeBackend{answer: "**Go** is *fun*"}
	r := New(msgr, backend)

	r.HandleMessage(context.Background(), textEvent("@_user_1  what is Go? "))

	if backend.calls != 1 {
		t.Fatalf("expected 1 backend call, got %d", backend.calls)
	}
	if backend.questions[0] != "what is Go?" {
		t.Errorf("expected cleaned question, got %q", backend.questions[0])
	}
	if backend.sessions[0] != "oc_1u_1" {
		t.Errorf("expected session oc_1u_1, got %q", backend.sessions[0])
	}
	if len(msgr.replies) != 1 {
		t.Fatalf("expected 1 reply, got %d", len(msgr.replies))
	}
	if msgr.replies[0].body != "<b>Go</b> is <i>fun</i>" {
		t.Errorf("expected formatted answer, got %q", msgr.replies[0].body)
	}
}

func TestHandleMessageCommand(t *testing.T) {
	msgr := &fakeMessenger{}
	backend := &fakeBackend{answer: "unused"}
	r := New(msgr, backend)

	r.HandleMessage(context.Background(), textEvent("@_user_1 /help"))

	if backend.calls != 0 {
		t.Errorf("commands must not reach the backend, got %d calls", backend.calls)
	}
	if len(msgr.replies) != 1 || !strings.Contains(msgr.replies[0].body, "Lark GPT Commands") {
		t.Errorf("expected help reply, got %+v", msgr.replies)
	}
}

func TestHandleMessageClearDoesNotCallBackend(t *testing.T) {
	msgr := &fakeMessenger{}
	backend := &fakeBackend{}
	r := New(msgr, backend)

	r.HandleMessage(context.Background(), textEvent("/clear"))

	if backend.calls != 0 {
		t.Errorf("expected no backend call, got %d", backend.calls)
	}
	if len(msgr.replies) != 1 || msgr.replies[0].body != "✅ Conversation history cleared." {
		t.Errorf("expected clear confirmation, got %+v", msgr.replies)
	}
}

func TestHandleMessageNonText(t *testing.T) {
	msgr := &fakeMessenger{}
	backend := &fakeBackend{}
	r := New(msgr, backend)

	ev := textEvent("ignored")
	ev.Message.MessageType = "image"
	r.HandleMessage(context.Background(), ev)

	if backend.calls != 0 {
		t.Errorf("expected no backend call, got %d", backend.calls)
	}
	if len(msgr.replies) != 1 || msgr.replies[0].body != unsupportedText {
		t.Errorf("expected unsupported reply, got %+v", msgr.replies)
	}
}

func TestHandleMessageBackendErrors(t *testing.T) {
	for _, err := range []error{flowise.ErrTransport, flowise.ErrProtocol, flowise.ErrNoAnswer} {
		t.Run(err.Error(), func(t *testing.T) {
			msgr := &fakeMessenger{}
			r := New(msgr, &fakeBackend{err: err})

			r.HandleMessage(context.Background(), textEvent("hello"))

			if len(msgr.replies) != 1 || msgr.replies[0].body != apologyText {
				t.Errorf("expected apology reply, got %+v", msgr.replies)
			}
		})
	}
}

func TestHandleMessageBadContent(t *testing.T) {
	msgr := &fakeMessenger{}
	backend := &fakeBackend{}
	r := New(msgr, backend)

	ev := textEvent("x")
	ev.Message.Content = "{broken"
	r.HandleMessage(context.Background(), ev)

	if backend.calls != 0 || len(msgr.replies) != 0 {
		t.Errorf("expected no action, got %d calls and %d replies", backend.calls, len(msgr.replies))
	}
}

func TestHandleMessageReplyFailureIsSwallowed(t *testing.T) {
	msgr := &fakeMessenger{err: &lark.APIError{Code: lark.CodeBotNotInChat}}
	r := New(msgr, &fakeBackend{answer: "hi"})

	r.HandleMessage(context.Background(), textEvent("hello"))

	if len(msgr.replies) != 1 {
		t.Errorf("expected a single reply attempt, got %d", len(msgr.replies))
	}
}

func TestHandleMessageImageBeforeAnswer(t *testing.T) {
	msgr := &fakeMessenger{}
	up := &fakeUploader{stage: image.BeforeAnswer, key: "img_1"}
	r := New(msgr, &fakeBackend{answer: "answer"}, WithImages(up, ""))

	r.HandleMessage(context.Background(), textEvent("hello"))

	if len(msgr.replies) != 2 {
		t.Fatalf("expected 2 replies, got %+v", msgr.replies)
	}
	if msgr.replies[0].kind != "image" || msgr.replies[0].body != "img_1" {
		t.Errorf("expected image first, got %+v", msgr.replies[0])
	}
	if msgr.replies[1].kind != "text" || msgr.replies[1].body != "answer" {
		t.Errorf("expected answer second, got %+v", msgr.replies[1])
	}
}

func TestHandleMessageImageAfterAnswer(t *testing.T) {
	msgr := &fakeMessenger{}
	up := &fakeUploader{stage: image.AfterAnswer, key: "img_2"}
	backend := &fakeBackend{answer: "see ![chart](https://example.com/c.png)"}
	r := New(msgr, backend, WithImages(up, "https://example.com/default.png"))

	r.HandleMessage(context.Background(), textEvent("chart please"))

	if len(msgr.replies) != 2 {
		t.Fatalf("expected 2 replies, got %+v", msgr.replies)
	}
	if msgr.replies[0].kind != "text" || msgr.replies[1].kind != "image" {
		t.Errorf("expected text then image, got %+v", msgr.replies)
	}
	if up.sources[0] != "https://example.com/c.png" {
		t.Errorf("expected answer image as source, got %q", up.sources[0])
	}
}

func TestHandleMessageImageFallbackSource(t *testing.T) {
	msgr := &fakeMessenger{}
	up := &fakeUploader{stage: image.AfterAnswer, key: "img_3"}
	r := New(msgr, &fakeBackend{answer: "plain"}, WithImages(up, "https://example.com/default.png"))

	r.HandleMessage(context.Background(), textEvent("hello"))

	if len(up.sources) != 1 || up.sources[0] != "https://example.com/default.png" {
		t.Errorf("expected configured source, got %v", up.sources)
	}
}

func TestHandleMessageImageFailureDegrades(t *testing.T) {
	msgr := &fakeMessenger{}
	up := &fakeUploader{stage: image.BeforeAnswer, err: image.ErrUpload}
	r := New(msgr, &fakeBackend{answer: "answer"}, WithImages(up, ""))

	r.HandleMessage(context.Background(), textEvent("hello"))

	if len(msgr.replies) != 1 || msgr.replies[0].body != "answer" {
		t.Errorf("expected text-only reply, got %+v", msgr.replies)
	}
}

func TestCleanText(t *testing.T) {
	cases := map[string]string{
		"@_user_1 hello":             "hello",
		"  @_user_1   /help  ":       "/help",
		"no mention":                 "no mention",
		"@_user_1 hi @_user_1 again": "hi @_user_1 again",
	}
	for in, want := range cases {
		if got := CleanText(in); got != want {
			t.Errorf("CleanText(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestReplyTextReturnsError(t *testing.T) {
	want := errors.New("boom")
	r := New(&fakeMessenger{err: want}, &fakeBackend{})
	if err := r.ReplyText(context.Background(), "om_1", "x"); !errors.Is(err, want) {
		t.Errorf("expected %v, got %v", want, err)
	}
}
