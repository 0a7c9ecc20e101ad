package chat

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tfreechat/tfreechat-go/internal/ai"
	"github.com/tfreechat/tfreechat-go/internal/db"
	"github.com/tfreechat/tfreechat-go/internal/models"
)

// fakeStore is an in-memory Store that mirrors the append batch semantics
// of the real SurrealDB queries: first-fork ancestor stamping, additive
// branch descriptors and write-once reply finalization.
type fakeStore struct {
	mu    sync.Mutex
	chats map[string]*models.Chat
	msgs  map[string]map[string]*models.Message // chatID -> messageID

	attachErrs      int // number of AttachReply calls to fail before succeeding
	appendConflicts int // number of AppendMessage calls to fail with a conflict
	clock           time.Time
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		chats: make(map[string]*models.Chat),
		msgs:  make(map[string]map[string]*models.Message),
		clock: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func (f *fakeStore) tick() time.Time {
	f.clock = f.clock.Add(time.Second)
	return f.clock
}

func (f *fakeStore) GetChat(_ context.Context, chatID string) (*models.Chat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.chats[chatID]
	if !ok {
		return nil, db.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (f *fakeStore) ListChats(_ context.Context, user string) ([]models.Chat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Chat
	for _, c := range f.chats {
		if c.User == user {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (f *fakeStore) DeleteChat(_ context.Context, chatID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.chats[chatID]; !ok {
		return db.ErrChatUnavailable
	}
	delete(f.chats, chatID)
	delete(f.msgs, chatID)
	return nil
}

func (f *fakeStore) SetChatPublic(_ context.Context, chatID string, public bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.chats[chatID]
	if !ok {
		return db.ErrNotFound
	}
	c.Public = public
	return nil
}

func (f *fakeStore) GetMessage(_ context.Context, chatID, messageID string) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.msgs[chatID][messageID]
	if !ok {
		return nil, db.ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (f *fakeStore) AppendMessage(_ context.Context, b db.AppendBatch) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.appendConflicts > 0 {
		f.appendConflicts--
		return nil, db.ErrTransactionConflict
	}

	now := f.tick()
	if b.CreateChat {
		f.chats[b.ChatID] = &models.Chat{
			ID:        models.ChatRecord(b.ChatID),
			User:      b.User,
			CreatedAt: now,
			UpdatedAt: now,
			Prompt:    b.Prompt,
			Public:    b.Public,
		}
		f.msgs[b.ChatID] = make(map[string]*models.Message)
	}
	chat, ok := f.chats[b.ChatID]
	if !ok {
		return nil, db.ErrChatUnavailable
	}

	if b.NewBranch {
		registered := false
		for _, e := range chat.Branches {
			if e.At == b.AnchorID {
				registered = true
				break
			}
		}
		if !registered {
			// First fork at this anchor: resolve the original continuation's
			// preview before stamping, which adds the anchor id to ancestor
			// paths and would otherwise make the chat root the earliest hit.
			original := ""
			var earliest *models.Message
			for _, m := range f.msgs[b.ChatID] {
				id := models.MustRecordIDString(m.ID)
				if id == b.AnchorID {
					continue
				}
				for _, p := range m.Path {
					if p == b.AnchorID {
						if earliest == nil || m.CreatedAt.Before(earliest.CreatedAt) {
							earliest = m
						}
						break
					}
				}
			}
			if earliest != nil {
				original = earliest.Prompt
			}
			for _, id := range b.Ancestors {
				m := f.msgs[b.ChatID][id]
				if m == nil {
					continue
				}
				stamped := false
				for _, p := range m.Path {
					if p == b.AnchorID {
						stamped = true
						break
					}
				}
				if !stamped {
					m.Path = append(m.Path, b.AnchorID)
				}
			}
			chat.Branches = append(chat.Branches, models.BranchEntry{At: b.AnchorID, ID: nil, Prompt: original})
		}
		forkID := b.MessageID
		chat.Branches = append(chat.Branches, models.BranchEntry{At: b.AnchorID, ID: &forkID, Prompt: b.Preview})
	}

	msg := &models.Message{
		ID:        models.MessageRecord(b.MessageID),
		Chat:      models.ChatRecord(b.ChatID),
		Path:      append([]string(nil), b.Path...),
		CreatedAt: now,
		Prompt:    b.Prompt,
		AI:        b.AI,
	}
	if b.PendingReply != nil {
		r := *b.PendingReply
		msg.Reply = &r
	}
	f.msgs[b.ChatID][b.MessageID] = msg

	tip := b.MessageID
	chat.LastMessageID = &tip
	chat.UpdatedAt = now

	cp := *msg
	return &cp, nil
}

func (f *fakeStore) AttachReply(_ context.Context, chatID, messageID string, reply models.Reply) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.attachErrs > 0 {
		f.attachErrs--
		return false, fmt.Errorf("write failed")
	}
	m, ok := f.msgs[chatID][messageID]
	if !ok {
		return false, db.ErrNotFound
	}
	if m.Reply != nil {
		return false, nil
	}
	r := reply
	m.Reply = &r
	f.chats[chatID].UpdatedAt = f.tick()
	return true, nil
}

func (f *fakeStore) FailReply(_ context.Context, chatID, messageID, userError string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.msgs[chatID][messageID]
	if !ok {
		return db.ErrNotFound
	}
	// Never clobber a finalized reply; a pending image placeholder counts
	// as unfinalized.
	if m.Reply != nil && (m.Reply.Text != "" || m.Reply.Image != "") {
		return nil
	}
	r := models.Reply{ID: messageID, CreatedAt: f.tick(), Error: userError}
	if m.Reply != nil {
		r.CapabilitiesUsed = m.Reply.CapabilitiesUsed
		r.CreatedAt = m.Reply.CreatedAt
	}
	m.Reply = &r
	return nil
}

func (f *fakeStore) FinalizeImage(_ context.Context, chatID, messageID, imageURL string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.msgs[chatID][messageID]
	if !ok {
		return db.ErrNotFound
	}
	if m.Reply == nil || m.Reply.Error != "" {
		return db.ErrAlreadyFinalized
	}
	m.Reply.Image = imageURL
	return nil
}

func (f *fakeStore) ListThread(_ context.Context, chatID string, chain []string, cutoff time.Time) ([]models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	want := make(map[string]bool, len(chain))
	for _, id := range chain {
		want[id] = true
	}
	var out []models.Message
	for _, m := range f.msgs[chatID] {
		if want[models.MustRecordIDString(m.ID)] && !m.CreatedAt.After(cutoff) {
			out = append(out, *m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (f *fakeStore) ListByPath(_ context.Context, chatID, branchKey string, cutoff *time.Time) ([]models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Message
	for _, m := range f.msgs[chatID] {
		for _, p := range m.Path {
			if p == branchKey {
				if cutoff == nil || !m.CreatedAt.After(*cutoff) {
					out = append(out, *m)
				}
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (f *fakeStore) ListMessages(_ context.Context, chatID string) ([]models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Message
	for _, m := range f.msgs[chatID] {
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// fakeStreamer plays back fixed deltas, recording the history it was
// given. err makes the generation fail after emitting its deltas.
type fakeStreamer struct {
	deltas  []ai.Delta
	err     error
	history []ai.Exchange
}

func (f *fakeStreamer) StreamText(_ context.Context, _, _ string, history []ai.Exchange, onDelta func(ai.Delta) error) (*ai.Result, error) {
	f.history = history
	var text, reasoning strings.Builder
	for _, d := range f.deltas {
		if err := onDelta(d); err != nil {
			return nil, err
		}
		text.WriteString(d.Text)
		reasoning.WriteString(d.Reasoning)
	}
	if f.err != nil {
		return nil, f.err
	}
	return &ai.Result{Text: text.String(), Reasoning: reasoning.String()}, nil
}

type fakeRenderer struct {
	data []byte
	err  error
}

func (f *fakeRenderer) Generate(context.Context, string, string) ([]byte, string, error) {
	if f.err != nil {
		return nil, "", f.err
	}
	return f.data, "image/png", nil
}

type fakeBlobs struct{ urls map[string]string }

func (f *fakeBlobs) Put(_ context.Context, name string, _ []byte, _ string) (string, error) {
	url := "/files/" + name + ".png"
	if f.urls == nil {
		f.urls = make(map[string]string)
	}
	f.urls[name] = url
	return url, nil
}

func collectEvents() (*[]StreamEvent, func(StreamEvent) error) {
	events := &[]StreamEvent{}
	return events, func(ev StreamEvent) error {
		*events = append(*events, ev)
		return nil
	}
}

func textRequest(user, chatID, prompt string) *SendRequest {
	return &SendRequest{
		User:     user,
		ChatID:   chatID,
		Prompt:   prompt,
		Provider: "openai",
		Model:    "gpt-4o-mini",
	}
}

func TestSendText_NewChat(t *testing.T) {
	store := newFakeStore()
	streamer := &fakeStreamer{deltas: []ai.Delta{{Text: "Hello"}, {Text: " there"}}}
	svc := NewService(store, streamer, nil, nil, nil, nil)

	events, onEvent := collectEvents()
	msg, err := svc.SendText(context.Background(), textRequest("alice", "", "Hello"), onEvent)
	require.NoError(t, err)
	require.NotNil(t, msg)

	// Identity first, then deltas, then done.
	evs := *events
	require.GreaterOrEqual(t, len(evs), 4)
	assert.Equal(t, EventHead, evs[0].Type)
	assert.NotEmpty(t, evs[0].ChatID)
	assert.Equal(t, []string{evs[0].MessageID}, evs[0].Path, "new chat root path is its own id")
	assert.Equal(t, EventDone, evs[len(evs)-1].Type)

	var streamed strings.Builder
	for _, ev := range evs {
		streamed.WriteString(ev.Text)
	}
	assert.Equal(t, "Hello there", streamed.String())

	// Persisted reply matches the streamed deltas.
	stored, err := store.GetMessage(context.Background(), evs[0].ChatID, evs[0].MessageID)
	require.NoError(t, err)
	require.NotNil(t, stored.Reply)
	assert.Equal(t, "Hello there", stored.Reply.Text)
	assert.Empty(t, stored.Reply.Error)

	chat, err := store.GetChat(context.Background(), evs[0].ChatID)
	require.NoError(t, err)
	assert.Equal(t, "alice", chat.User)
	require.NotNil(t, chat.LastMessageID)
	assert.Equal(t, evs[0].MessageID, *chat.LastMessageID)
}

func TestSendText_ContinueUsesHistory(t *testing.T) {
	store := newFakeStore()
	streamer := &fakeStreamer{deltas: []ai.Delta{{Text: "second"}}}
	svc := NewService(store, streamer, nil, nil, nil, nil)

	events, onEvent := collectEvents()
	_, err := svc.SendText(context.Background(), textRequest("alice", "", "first question"), onEvent)
	require.NoError(t, err)
	chatID := (*events)[0].ChatID

	_, err = svc.SendText(context.Background(), textRequest("alice", chatID, "second question"), nil)
	require.NoError(t, err)

	// History passed to the model: prior exchange plus the new prompt.
	require.Len(t, streamer.history, 2)
	assert.Equal(t, "first question", streamer.history[0].Prompt)
	assert.Equal(t, "second", streamer.history[0].Reply)
	assert.Equal(t, "second question", streamer.history[1].Prompt)
}

func TestSendText_GenerationFailure(t *testing.T) {
	store := newFakeStore()
	streamer := &fakeStreamer{
		deltas: []ai.Delta{{Text: "partial"}},
		err:    errors.New("provider exploded: secret-key-123"),
	}
	svc := NewService(store, streamer, nil, nil, nil, nil)

	events, onEvent := collectEvents()
	msg, err := svc.SendText(context.Background(), textRequest("alice", "", "boom"), onEvent)
	require.Error(t, err)
	require.NotNil(t, msg, "skeleton is persisted before generation")

	// No done marker on failure.
	for _, ev := range *events {
		assert.NotEqual(t, EventDone, ev.Type)
	}

	// The stored error is the fixed safe string, never the raw provider
	// message.
	stored, err := store.GetMessage(context.Background(), (*events)[0].ChatID, (*events)[0].MessageID)
	require.NoError(t, err)
	require.NotNil(t, stored.Reply)
	assert.Equal(t, SafeErrStreaming, stored.Reply.Error)
	assert.Empty(t, stored.Reply.Text)
	assert.NotContains(t, stored.Reply.Error, "secret-key-123")
}

func TestSendText_FinalizeRetriesOnce(t *testing.T) {
	store := newFakeStore()
	store.attachErrs = 1
	streamer := &fakeStreamer{deltas: []ai.Delta{{Text: "ok"}}}
	svc := NewService(store, streamer, nil, nil, nil, nil)

	events, onEvent := collectEvents()
	_, err := svc.SendText(context.Background(), textRequest("alice", "", "hi"), onEvent)
	require.NoError(t, err, "one transient finalize failure is retried")

	stored, err := store.GetMessage(context.Background(), (*events)[0].ChatID, (*events)[0].MessageID)
	require.NoError(t, err)
	require.NotNil(t, stored.Reply)
	assert.Equal(t, "ok", stored.Reply.Text)
}

func TestSendText_ClientGoneStillFinalizes(t *testing.T) {
	store := newFakeStore()
	streamer := &fakeStreamer{deltas: []ai.Delta{{Text: "Hello"}, {Text: " there"}}}
	svc := NewService(store, streamer, nil, nil, nil, nil)

	// The sink dies after the identity event, like an SSE client that
	// disconnected mid-stream. Generation and persistence must finish.
	var head StreamEvent
	calls := 0
	msg, err := svc.SendText(context.Background(), textRequest("alice", "", "hi"), func(ev StreamEvent) error {
		calls++
		if calls == 1 {
			head = ev
			return nil
		}
		return fmt.Errorf("write tcp: broken pipe")
	})
	require.NoError(t, err, "a dead client must not fail the send")
	require.NotNil(t, msg)
	assert.Equal(t, 2, calls, "sink is dropped after the first failed write")

	stored, err := store.GetMessage(context.Background(), head.ChatID, head.MessageID)
	require.NoError(t, err)
	require.NotNil(t, stored.Reply, "reply persisted despite the disconnect")
	assert.Equal(t, "Hello there", stored.Reply.Text)
	assert.Empty(t, stored.Reply.Error)
}

func TestSendText_RetriesTransactionConflict(t *testing.T) {
	store := newFakeStore()
	store.appendConflicts = 2
	streamer := &fakeStreamer{deltas: []ai.Delta{{Text: "ok"}}}
	svc := NewService(store, streamer, nil, nil, nil, nil)

	events, onEvent := collectEvents()
	_, err := svc.SendText(context.Background(), textRequest("alice", "", "hi"), onEvent)
	require.NoError(t, err, "conflicting append batches are replayed")

	stored, err := store.GetMessage(context.Background(), (*events)[0].ChatID, (*events)[0].MessageID)
	require.NoError(t, err)
	require.NotNil(t, stored.Reply)
	assert.Equal(t, "ok", stored.Reply.Text)
}

func TestSendText_ConflictRetriesAreBounded(t *testing.T) {
	store := newFakeStore()
	store.appendConflicts = appendAttempts + 1
	streamer := &fakeStreamer{deltas: []ai.Delta{{Text: "ok"}}}
	svc := NewService(store, streamer, nil, nil, nil, nil)

	_, err := svc.SendText(context.Background(), textRequest("alice", "", "hi"), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, db.ErrTransactionConflict)
}

func TestSendText_Fork(t *testing.T) {
	store := newFakeStore()
	streamer := &fakeStreamer{deltas: []ai.Delta{{Text: "r"}}}
	svc := NewService(store, streamer, nil, nil, nil, nil)

	ctx := context.Background()
	events, onEvent := collectEvents()
	_, err := svc.SendText(ctx, textRequest("alice", "", "root"), onEvent)
	require.NoError(t, err)
	chatID := (*events)[0].ChatID
	rootID := (*events)[0].MessageID

	// Grow a trunk: root -> anchor -> tip.
	_, err = svc.SendText(ctx, textRequest("alice", chatID, "anchor prompt"), nil)
	require.NoError(t, err)
	chat, err := store.GetChat(ctx, chatID)
	require.NoError(t, err)
	anchorID := *chat.LastMessageID

	_, err = svc.SendText(ctx, textRequest("alice", chatID, "tip prompt"), nil)
	require.NoError(t, err)

	// Fork at the mid-trunk anchor.
	forkReq := textRequest("alice", chatID, "alternative")
	forkReq.Previous = &PreviousRef{ID: anchorID, NewBranch: true}
	forkMsg, err := svc.SendText(ctx, forkReq, nil)
	require.NoError(t, err)
	forkID := models.MustRecordIDString(forkMsg.ID)

	chat, err = store.GetChat(ctx, chatID)
	require.NoError(t, err)

	// Two descriptors: the implicit original plus the fork, in commit
	// order.
	refs := chat.BranchMap()[anchorID]
	require.Len(t, refs, 2)
	assert.Nil(t, refs[0].ID)
	assert.Equal(t, "tip prompt", refs[0].Prompt, "null descriptor carries the original continuation's prompt")
	require.NotNil(t, refs[1].ID)
	assert.Equal(t, forkID, *refs[1].ID)

	// The anchor's ancestor gains the retroactive branch key.
	root, err := store.GetMessage(ctx, chatID, rootID)
	require.NoError(t, err)
	assert.Contains(t, root.Path, anchorID)

	// Forked message descends from the anchor's chain, not the trunk tip.
	assert.Equal(t, []string{rootID, anchorID, forkID}, forkMsg.Path)

	// Forking again at the same anchor adds a third descriptor and stamps
	// nothing twice.
	forkReq2 := textRequest("alice", chatID, "another alternative")
	forkReq2.Previous = &PreviousRef{ID: anchorID, NewBranch: true}
	_, err = svc.SendText(ctx, forkReq2, nil)
	require.NoError(t, err)

	chat, err = store.GetChat(ctx, chatID)
	require.NoError(t, err)
	assert.Len(t, chat.BranchMap()[anchorID], 3)

	root, err = store.GetMessage(ctx, chatID, rootID)
	require.NoError(t, err)
	stamps := 0
	for _, p := range root.Path {
		if p == anchorID {
			stamps++
		}
	}
	assert.Equal(t, 1, stamps, "anchor stamp lands exactly once")
}

func TestSendText_ForkHistoryExcludesLaterMessages(t *testing.T) {
	store := newFakeStore()
	streamer := &fakeStreamer{deltas: []ai.Delta{{Text: "r"}}}
	svc := NewService(store, streamer, nil, nil, nil, nil)

	ctx := context.Background()
	events, onEvent := collectEvents()
	_, err := svc.SendText(ctx, textRequest("alice", "", "root"), onEvent)
	require.NoError(t, err)
	chatID := (*events)[0].ChatID
	rootID := (*events)[0].MessageID

	// A later trunk message well past the cutoff skew.
	store.clock = store.clock.Add(time.Minute)
	_, err = svc.SendText(ctx, textRequest("alice", chatID, "later trunk"), nil)
	require.NoError(t, err)

	forkReq := textRequest("alice", chatID, "fork from root")
	forkReq.Previous = &PreviousRef{ID: rootID, NewBranch: true}
	_, err = svc.SendText(ctx, forkReq, nil)
	require.NoError(t, err)

	// The fork's history holds only the root exchange.
	require.Len(t, streamer.history, 2)
	assert.Equal(t, "root", streamer.history[0].Prompt)
	assert.Equal(t, "fork from root", streamer.history[1].Prompt)
}

func TestSendText_Validation(t *testing.T) {
	svc := NewService(newFakeStore(), &fakeStreamer{}, nil, nil, nil, nil)
	ctx := context.Background()

	_, err := svc.SendText(ctx, &SendRequest{User: "alice", Provider: "openai", Model: "gpt-4o-mini"}, nil)
	assert.ErrorIs(t, err, ErrInvalidRequest, "missing prompt")

	_, err = svc.SendText(ctx, &SendRequest{User: "alice", Prompt: "hi", Provider: "openai", Model: "no-such-model"}, nil)
	assert.ErrorIs(t, err, ErrInvalidRequest, "unknown model")

	_, err = svc.SendText(ctx, &SendRequest{User: "alice", Prompt: "hi", Provider: "anthropic", Model: "claude-3-5-haiku-latest", WebSearch: true}, nil)
	assert.ErrorIs(t, err, ErrInvalidRequest, "capability not supported by model")

	req := textRequest("alice", "", "hi")
	req.Previous = &PreviousRef{ID: "x"}
	_, err = svc.SendText(ctx, req, nil)
	assert.ErrorIs(t, err, ErrInvalidRequest, "previous ref without chat id")
}

func TestSendText_OwnershipEnforced(t *testing.T) {
	store := newFakeStore()
	streamer := &fakeStreamer{deltas: []ai.Delta{{Text: "r"}}}
	svc := NewService(store, streamer, nil, nil, nil, nil)

	ctx := context.Background()
	events, onEvent := collectEvents()
	_, err := svc.SendText(ctx, textRequest("alice", "", "mine"), onEvent)
	require.NoError(t, err)
	chatID := (*events)[0].ChatID

	_, err = svc.SendText(ctx, textRequest("mallory", chatID, "theirs"), nil)
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestSendImage(t *testing.T) {
	store := newFakeStore()
	renderer := &fakeRenderer{data: []byte{0x89, 0x50}}
	blobs := &fakeBlobs{}
	svc := NewService(store, &fakeStreamer{}, renderer, blobs, nil, nil)

	req := &SendRequest{User: "alice", Prompt: "a cat", Provider: "openai", Model: "dall-e-2"}
	msg, err := svc.SendImage(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, msg.Reply)
	assert.NotEmpty(t, msg.Reply.Image)
	assert.Empty(t, msg.Reply.Error)
	require.NotNil(t, msg.Reply.CapabilitiesUsed)
	assert.True(t, msg.Reply.CapabilitiesUsed.ImageGeneration)
}

func TestSendImage_Failure(t *testing.T) {
	store := newFakeStore()
	renderer := &fakeRenderer{err: errors.New("dall-e is down")}
	svc := NewService(store, &fakeStreamer{}, renderer, &fakeBlobs{}, nil, nil)

	req := &SendRequest{User: "alice", Prompt: "a cat", Provider: "openai", Model: "dall-e-2"}
	msg, err := svc.SendImage(context.Background(), req)
	require.Error(t, err)
	require.NotNil(t, msg)
	require.NotNil(t, msg.Reply)
	assert.Equal(t, SafeErrImage, msg.Reply.Error)
	assert.Empty(t, msg.Reply.Image)
	assert.NotContains(t, err.Error(), "dall-e is down")
}

func TestSendImage_RequiresCapability(t *testing.T) {
	svc := NewService(newFakeStore(), &fakeStreamer{}, &fakeRenderer{}, &fakeBlobs{}, nil, nil)

	req := &SendRequest{User: "alice", Prompt: "a cat", Provider: "openai", Model: "gpt-4o-mini"}
	_, err := svc.SendImage(context.Background(), req)
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestSendImage_Disabled(t *testing.T) {
	svc := NewService(newFakeStore(), &fakeStreamer{}, nil, nil, nil, nil)

	req := &SendRequest{User: "alice", Prompt: "a cat", Provider: "openai", Model: "dall-e-2"}
	_, err := svc.SendImage(context.Background(), req)
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestChatView(t *testing.T) {
	store := newFakeStore()
	streamer := &fakeStreamer{deltas: []ai.Delta{{Text: "r"}}}
	svc := NewService(store, streamer, nil, nil, nil, nil)

	ctx := context.Background()
	events, onEvent := collectEvents()
	_, err := svc.SendText(ctx, textRequest("alice", "", "root"), onEvent)
	require.NoError(t, err)
	chatID := (*events)[0].ChatID
	rootID := (*events)[0].MessageID

	forkReq := textRequest("alice", chatID, "alt")
	forkReq.Previous = &PreviousRef{ID: rootID, NewBranch: true}
	forkMsg, err := svc.SendText(ctx, forkReq, nil)
	require.NoError(t, err)
	forkID := models.MustRecordIDString(forkMsg.ID)

	// Default view follows the tip, which moved to the fork.
	view, err := svc.ChatView(ctx, "alice", chatID, "")
	require.NoError(t, err)
	require.Len(t, view.Thread, 2)
	assert.Equal(t, forkID, models.MustRecordIDString(view.Thread[1].ID))
	assert.False(t, view.Pending)
	require.Contains(t, view.Menus, rootID)
	assert.Len(t, view.Menus[rootID], 2)

	// Private chat: strangers rejected, owner and public readers allowed.
	_, err = svc.ChatView(ctx, "mallory", chatID, "")
	assert.ErrorIs(t, err, ErrForbidden)

	require.NoError(t, svc.SetPublic(ctx, "alice", chatID, true))
	_, err = svc.ChatView(ctx, "mallory", chatID, "")
	assert.NoError(t, err)
}

func TestDeleteChat(t *testing.T) {
	store := newFakeStore()
	streamer := &fakeStreamer{deltas: []ai.Delta{{Text: "r"}}}
	svc := NewService(store, streamer, nil, nil, nil, nil)

	ctx := context.Background()
	events, onEvent := collectEvents()
	_, err := svc.SendText(ctx, textRequest("alice", "", "root"), onEvent)
	require.NoError(t, err)
	chatID := (*events)[0].ChatID

	assert.ErrorIs(t, svc.DeleteChat(ctx, "mallory", chatID), ErrForbidden)
	require.NoError(t, svc.DeleteChat(ctx, "alice", chatID))

	_, err = svc.ChatView(ctx, "alice", chatID, "")
	assert.ErrorIs(t, err, db.ErrNotFound)
}
