package conversation

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"threadbot/internal/metrics"
	"threadbot/internal/providers"
	"threadbot/internal/storage"
)

type fakeBackend struct {
	mu       sync.Mutex
	payloads [][]providers.Message
	complete func(ctx context.Context, msgs []providers.Message) (string, error)
}

func (f *fakeBackend) Complete(ctx context.Context, msgs []providers.Message) (string, error) {
	f.mu.Lock()
	f.payloads = append(f.payloads, msgs)
	f.mu.Unlock()
	if f.complete != nil {
		return f.complete(ctx, msgs)
	}
	return "ok", nil
}

func (f *fakeBackend) Describe() string { return "Bot uses Fake with test" }

func (f *fakeBackend) lastPayload() []providers.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.payloads) == 0 {
		return nil
	}
	return f.payloads[len(f.payloads)-1]
}

type fakeBackends struct {
	backend   *fakeBackend
	selectErr error
}

func (f *fakeBackends) Active() string { return providers.KindStub }

func (f *fakeBackends) Select(providers.ModelSelection) (providers.Completion, error) {
	if f.selectErr != nil {
		return nil, f.selectErr
	}
	return f.backend, nil
}

type failingBehaviorStore struct {
	*storage.Store
	err error
}

func (s failingBehaviorStore) SetBehavior(context.Context, int64, string) (storage.ChatBot, error) {
	return storage.ChatBot{}, s.err
}

func openStore(t *testing.T) *storage.Store {
	t.Helper()
	st, err := storage.Open(context.Background(), "sqlite", filepath.Join(t.TempDir(), "conv.db"), true)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func newEngine(t *testing.T, store Store, backends Backends) *Engine {
	t.Helper()
	return New(Config{
		Store:    store,
		Backends: backends,
		Logger:   zerolog.Nop(),
		Metrics:  metrics.New(),
	})
}

func TestBehaviorChangeConsumesNextMessage(t *testing.T) {
	ctx := context.Background()
	st := openStore(t)
	backend := &fakeBackend{}
	e := newEngine(t, st, &fakeBackends{backend: backend})

	if _, err := e.RequestBehaviorChange(ctx, 1); err != nil {
		t.Fatalf("request behavior change: %v", err)
	}
	if e.State(1) != AwaitingBehaviorInput {
		t.Fatalf("expected awaiting state")
	}

	reply, err := e.HandleMessage(ctx, 1, "Be terse.")
	if err != nil {
		t.Fatalf("handle message: %v", err)
	}
	if reply.Kind != ReplyBehaviorUpdated || reply.Text != "Be terse." {
		t.Fatalf("unexpected reply %+v", reply)
	}
	if e.State(1) != Default {
		t.Fatalf("expected Default after behavior set, got %v", e.State(1))
	}

	bot, err := st.GetBot(ctx, 1)
	if err != nil || bot.Behavior != "Be terse." {
		t.Fatalf("behavior not persisted: %+v %v", bot, err)
	}
	if _, err := st.CurrentThread(ctx, 1); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("behavior message must not open a thread, got %v", err)
	}
	if len(backend.payloads) != 0 {
		t.Fatalf("backend must not be called for a behavior update")
	}
}

func TestFailedBehaviorUpdateKeepsAwaiting(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("db down")
	e := newEngine(t, failingBehaviorStore{Store: openStore(t), err: boom}, &fakeBackends{backend: &fakeBackend{}})

	if _, err := e.RequestBehaviorChange(ctx, 2); err != nil {
		t.Fatalf("request behavior change: %v", err)
	}
	if _, err := e.HandleMessage(ctx, 2, "Be terse."); !errors.Is(err, boom) {
		t.Fatalf("expected store error, got %v", err)
	}
	if e.State(2) != AwaitingBehaviorInput {
		t.Fatalf("expected state to stay awaiting after failed update")
	}
}

func TestTurnAppendsUserAndAssistant(t *testing.T) {
	ctx := context.Background()
	st := openStore(t)
	backend := &fakeBackend{complete: func(context.Context, []providers.Message) (string, error) {
		return "Hi there", nil
	}}
	e := newEngine(t, st, &fakeBackends{backend: backend})

	reply, err := e.HandleMessage(ctx, 3, "Hello")
	if err != nil {
		t.Fatalf("handle message: %v", err)
	}
	if reply.Kind != ReplyAnswer || reply.Text != "Hi there" || reply.ThreadID == "" {
		t.Fatalf("unexpected reply %+v", reply)
	}

	want := []providers.Message{
		{Role: providers.RoleSystem, Content: storage.DefaultBehavior},
		{Role: providers.RoleUser, Content: "Hello"},
	}
	if got := backend.lastPayload(); !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected payload %#v", got)
	}

	msgs, err := st.ListThreadMessages(ctx, reply.ThreadID)
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(msgs) != 2 || msgs[0].Role != storage.RoleUser || msgs[1].Role != storage.RoleAssistant || msgs[1].Content != "Hi there" {
		t.Fatalf("unexpected history %+v", msgs)
	}
	if msgs[0].ChatID != 3 || msgs[0].ThreadID != reply.ThreadID || msgs[0].Content != "Hello" {
		t.Fatalf("round trip mismatch %+v", msgs[0])
	}
}

func TestBackendFailureKeepsUserMessage(t *testing.T) {
	ctx := context.Background()
	st := openStore(t)
	backend := &fakeBackend{complete: func(context.Context, []providers.Message) (string, error) {
		return "", providers.NewBackendError("Fake", "request failed", errors.New("connection reset"))
	}}
	e := newEngine(t, st, &fakeBackends{backend: backend})

	_, err := e.HandleMessage(ctx, 4, "Hello")
	var be *providers.BackendError
	if !errors.As(err, &be) {
		t.Fatalf("expected BackendError, got %v", err)
	}

	th, err := st.CurrentThread(ctx, 4)
	if err != nil {
		t.Fatalf("current thread: %v", err)
	}
	msgs, err := st.ListThreadMessages(ctx, th.ID)
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Role != storage.RoleUser || msgs[0].Content != "Hello" {
		t.Fatalf("expected only the user message, got %+v", msgs)
	}
	if e.State(4) != Default {
		t.Fatalf("expected Default after failed turn")
	}
}

func TestUntypedBackendFailureIsWrapped(t *testing.T) {
	ctx := context.Background()
	cause := errors.New("unexpected")
	backend := &fakeBackend{complete: func(context.Context, []providers.Message) (string, error) {
		return "", cause
	}}
	e := newEngine(t, openStore(t), &fakeBackends{backend: backend})

	_, err := e.HandleMessage(ctx, 5, "Hello")
	var be *providers.BackendError
	if !errors.As(err, &be) || !errors.Is(err, cause) {
		t.Fatalf("expected wrapped BackendError, got %v", err)
	}
}

func TestConfigErrorPersistsNothing(t *testing.T) {
	ctx := context.Background()
	st := openStore(t)
	cfgErr := &providers.ConfigError{Provider: "openai", Field: "api key", Reason: "credential is not configured"}
	e := newEngine(t, st, &fakeBackends{selectErr: cfgErr})

	_, err := e.HandleMessage(ctx, 6, "Hello")
	var ce *providers.ConfigError
	if !errors.As(err, &ce) {
		t.Fatalf("expected ConfigError, got %v", err)
	}
	if _, err := st.CurrentThread(ctx, 6); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected no thread after config failure, got %v", err)
	}
}

func TestBuildPayloadIsDeterministic(t *testing.T) {
	ctx := context.Background()
	st := openStore(t)
	e := newEngine(t, st, &fakeBackends{backend: &fakeBackend{}})

	if _, err := st.GetOrCreateBot(ctx, 7); err != nil {
		t.Fatalf("create bot: %v", err)
	}
	if _, err := st.SetBehavior(ctx, 7, "Answer in French."); err != nil {
		t.Fatalf("set behavior: %v", err)
	}
	th, err := st.GetOrCreateCurrentThread(ctx, 7)
	if err != nil {
		t.Fatalf("create thread: %v", err)
	}
	for _, m := range []struct{ role, text string }{
		{storage.RoleUser, "A"}, {storage.RoleAssistant, "B"}, {storage.RoleUser, "C"},
	} {
		if _, err := st.AppendMessage(ctx, 7, th.ID, m.role, m.text); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	first, err := e.BuildPayload(ctx, 7, th.ID)
	if err != nil {
		t.Fatalf("build payload: %v", err)
	}
	want := []providers.Message{
		{Role: providers.RoleSystem, Content: "Answer in French."},
		{Role: providers.RoleUser, Content: "A"},
		{Role: providers.RoleAssistant, Content: "B"},
		{Role: providers.RoleUser, Content: "C"},
	}
	if !reflect.DeepEqual(first, want) {
		t.Fatalf("unexpected payload %#v", first)
	}
	for i := 0; i < 3; i++ {
		again, err := e.BuildPayload(ctx, 7, th.ID)
		if err != nil {
			t.Fatalf("build payload: %v", err)
		}
		if !reflect.DeepEqual(first, again) {
			t.Fatalf("payload changed between calls")
		}
	}
}

func TestStartNewThread(t *testing.T) {
	ctx := context.Background()
	st := openStore(t)
	e := newEngine(t, st, &fakeBackends{backend: &fakeBackend{}})

	if _, closed, err := e.StartNewThread(ctx, 8); err != nil || closed {
		t.Fatalf("expected nothing to close, closed=%v err=%v", closed, err)
	}

	first, err := e.HandleMessage(ctx, 8, "one")
	if err != nil {
		t.Fatalf("first turn: %v", err)
	}
	id, closed, err := e.StartNewThread(ctx, 8)
	if err != nil || !closed || id != first.ThreadID {
		t.Fatalf("close: id=%s closed=%v err=%v", id, closed, err)
	}

	second, err := e.HandleMessage(ctx, 8, "two")
	if err != nil {
		t.Fatalf("second turn: %v", err)
	}
	if second.ThreadID == first.ThreadID {
		t.Fatalf("expected a new thread after /new")
	}
	if n, err := st.CountThreads(ctx, 8); err != nil || n != 2 {
		t.Fatalf("expected two threads, got %d (%v)", n, err)
	}
}

func TestStateLockReleasedDuringCompletion(t *testing.T) {
	ctx := context.Background()
	entered := make(chan struct{})
	release := make(chan struct{})
	backend := &fakeBackend{complete: func(context.Context, []providers.Message) (string, error) {
		close(entered)
		<-release
		return "late", nil
	}}
	e := newEngine(t, openStore(t), &fakeBackends{backend: backend})

	done := make(chan error, 1)
	go func() {
		_, err := e.HandleMessage(ctx, 9, "slow question")
		done <- err
	}()
	<-entered

	changed := make(chan error, 1)
	go func() {
		_, err := e.RequestBehaviorChange(ctx, 9)
		changed <- err
	}()
	select {
	case err := <-changed:
		if err != nil {
			t.Fatalf("request behavior change: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("state transition blocked behind the backend call")
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("slow turn: %v", err)
	}
	if e.State(9) != AwaitingBehaviorInput {
		t.Fatalf("completed turn must not overwrite a newer state")
	}
}

func TestConcurrentMessagesConsumeAwaitingOnce(t *testing.T) {
	ctx := context.Background()
	st := openStore(t)
	e := newEngine(t, st, &fakeBackends{backend: &fakeBackend{}})

	if _, err := e.RequestBehaviorChange(ctx, 10); err != nil {
		t.Fatalf("request behavior change: %v", err)
	}

	replies := make([]Reply, 2)
	var g errgroup.Group
	for i, text := range []string{"first", "second"} {
		i, text := i, text
		g.Go(func() error {
			r, err := e.HandleMessage(ctx, 10, text)
			replies[i] = r
			return err
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("concurrent messages: %v", err)
	}

	updates := 0
	for _, r := range replies {
		if r.Kind == ReplyBehaviorUpdated {
			updates++
		}
	}
	if updates != 1 {
		t.Fatalf("expected exactly one behavior update, got %d", updates)
	}
	if e.State(10) != Default {
		t.Fatalf("expected Default, got %v", e.State(10))
	}
}

func TestCancelBehaviorChange(t *testing.T) {
	ctx := context.Background()
	st := openStore(t)
	e := newEngine(t, st, &fakeBackends{backend: &fakeBackend{}})

	if e.CancelBehaviorChange(11) {
		t.Fatalf("nothing was pending")
	}
	if _, err := e.RequestBehaviorChange(ctx, 11); err != nil {
		t.Fatalf("request behavior change: %v", err)
	}
	if !e.CancelBehaviorChange(11) {
		t.Fatalf("expected pending change to be cancelled")
	}
	reply, err := e.HandleMessage(ctx, 11, "Hello")
	if err != nil {
		t.Fatalf("handle message: %v", err)
	}
	if reply.Kind != ReplyAnswer {
		t.Fatalf("expected an ordinary turn after cancel")
	}
	if b, _ := e.Behavior(ctx, 11); b != storage.DefaultBehavior {
		t.Fatalf("behavior changed after cancel: %q", b)
	}
}

func TestSetModelAndStatus(t *testing.T) {
	ctx := context.Background()
	st := openStore(t)
	e := newEngine(t, st, &fakeBackends{backend: &fakeBackend{}})

	choice, err := e.Models(ctx, 12)
	if err != nil {
		t.Fatalf("models: %v", err)
	}
	if choice.Provider != providers.KindStub || choice.Current != "bright" {
		t.Fatalf("unexpected model choice %+v", choice)
	}
	if _, err := e.SetModel(ctx, 12, "unknown"); err == nil {
		t.Fatalf("expected unknown model to be rejected")
	}

	status, err := e.Status(ctx, 12)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.ThreadID != "" || status.Backend != "Bot uses Fake with test" {
		t.Fatalf("unexpected status %+v", status)
	}

	if _, err := e.HandleMessage(ctx, 12, "hi"); err != nil {
		t.Fatalf("handle message: %v", err)
	}
	status, err = e.Status(ctx, 12)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.ThreadID == "" || status.Messages != 2 {
		t.Fatalf("unexpected status after turn %+v", status)
	}
}
