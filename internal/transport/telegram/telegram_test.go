package telegram

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tele "gopkg.in/telebot.v4"

	"remindbot/internal/transport"
	logx "remindbot/pkg/logx"
)

type sentMsg struct {
	chat   int64
	thread int
	text   string
}

type fakeBot struct {
	handlers map[string]tele.HandlerFunc
	sent     []sentMsg
	edits    []string
	chats    map[int64]*tele.Chat
	commands []tele.Command
	scope    tele.CommandScope
	nextID   int
}

func newFakeBot() *fakeBot {
	return &fakeBot{handlers: map[string]tele.HandlerFunc{}, chats: map[int64]*tele.Chat{}}
}

func (f *fakeBot) Handle(endpoint interface{}, h tele.HandlerFunc, _ ...tele.MiddlewareFunc) {
	f.handlers[endpoint.(string)] = h
}

func (f *fakeBot) Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error) {
	chat := to.(*tele.Chat)
	thread := 0
	for _, o := range opts {
		if so, ok := o.(*tele.SendOptions); ok {
			thread = so.ThreadID
		}
	}
	f.sent = append(f.sent, sentMsg{chat: chat.ID, thread: thread, text: what.(string)})
	f.nextID++
	return &tele.Message{ID: f.nextID, Chat: chat}, nil
}

func (f *fakeBot) Edit(_ tele.Editable, what interface{}, _ ...interface{}) (*tele.Message, error) {
	f.edits = append(f.edits, what.(string))
	return &tele.Message{}, nil
}

func (f *fakeBot) ChatByID(id int64) (*tele.Chat, error) {
	if c, ok := f.chats[id]; ok {
		return c, nil
	}
	return nil, tele.ErrChatNotFound
}

func (f *fakeBot) SetCommands(opts ...interface{}) error {
	for _, o := range opts {
		switch v := o.(type) {
		case []tele.Command:
			f.commands = v
		case tele.CommandScope:
			f.scope = v
		}
	}
	return nil
}

func (f *fakeBot) Start() {}
func (f *fakeBot) Stop()  {}

func groupMessage(chatID int64, thread int) *tele.Message {
	return &tele.Message{
		ID:       7,
		Chat:     &tele.Chat{ID: chatID, Type: tele.ChatSuperGroup},
		ThreadID: thread,
		Sender:   &tele.User{ID: 42},
	}
}

func TestDestinationFormat(t *testing.T) {
	for _, tc := range []struct {
		chat   int64
		thread int
		want   string
	}{
		{-1001234, 0, "-1001234"},
		{-1001234, 55, "-1001234:55"},
		{99, 0, "99"},
	} {
		id := FormatDestination(tc.chat, tc.thread)
		assert.Equal(t, tc.want, id)
		chat, thread, err := ParseDestination(id)
		require.NoError(t, err)
		assert.Equal(t, tc.chat, chat)
		assert.Equal(t, tc.thread, thread)
	}

	for _, bad := range []string{"", "abc", "0", "12:x", "12:-3"} {
		_, _, err := ParseDestination(bad)
		assert.Error(t, err, bad)
	}
}

func TestToInteraction(t *testing.T) {
	it := toInteraction(groupMessage(-100, 5), []string{"ON"})
	assert.Equal(t, "-100", it.TenantID)
	assert.Equal(t, "-100:5", it.OriginID)
	assert.Equal(t, "42", it.UserID)
	assert.Equal(t, "on", it.Subcommand)
	assert.Equal(t, "-100/7", it.ID)

	private := &tele.Message{ID: 1, Chat: &tele.Chat{ID: 42, Type: tele.ChatPrivate}, Sender: &tele.User{ID: 42}}
	it = toInteraction(private, nil)
	assert.Empty(t, it.TenantID)
	assert.Empty(t, it.Subcommand)
}

func TestAcknowledgeThenFinalizeEditsProvisional(t *testing.T) {
	fb := newFakeBot()
	a := newAdapter(Config{}, fb, logx.Nop())
	it := toInteraction(groupMessage(-100, 5), []string{"status"})

	rc, err := a.Acknowledge(context.Background(), it)
	require.NoError(t, err)
	require.Len(t, fb.sent, 1)
	assert.Equal(t, sentMsg{chat: -100, thread: 5, text: pendingText}, fb.sent[0])

	require.NoError(t, a.Finalize(context.Background(), rc, "Status: ON"))
	assert.Equal(t, []string{"Status: ON"}, fb.edits)
}

func TestResolveAndSend(t *testing.T) {
	fb := newFakeBot()
	fb.chats[-100] = &tele.Chat{ID: -100, Type: tele.ChatSuperGroup}
	a := newAdapter(Config{}, fb, logx.Nop())

	d, err := a.Resolve(context.Background(), "-100:5")
	require.NoError(t, err)
	assert.True(t, d.Textable)
	assert.Equal(t, "-100:5", d.ID)

	require.NoError(t, a.SendText(context.Background(), d, "hello"))
	assert.Equal(t, sentMsg{chat: -100, thread: 5, text: "hello"}, fb.sent[0])

	_, err = a.Resolve(context.Background(), "-200")
	assert.ErrorIs(t, err, transport.ErrNotFound)

	_, err = a.Resolve(context.Background(), "garbage")
	assert.ErrorIs(t, err, transport.ErrNotFound)
}

func TestOnCommandForwards(t *testing.T) {
	fb := newFakeBot()
	a := newAdapter(Config{}, fb, logx.Nop())
	require.Contains(t, fb.handlers, "/"+transport.CommandName)

	out := make(chan transport.Interaction, 1)
	var send chan<- transport.Interaction = out
	a.out.Store(&send)
	ctx := fakeContext{msg: groupMessage(-100, 0), args: []string{"off"}}
	require.NoError(t, a.onCommand(ctx))

	select {
	case it := <-out:
		assert.Equal(t, "off", it.Subcommand)
	default:
		t.Fatal("command not forwarded")
	}
}

func TestOnCommandRepliesBusyWhenQueueFull(t *testing.T) {
	fb := newFakeBot()
	a := newAdapter(Config{}, fb, logx.Nop())
	out := make(chan transport.Interaction, 1)
	out <- transport.Interaction{}
	var send chan<- transport.Interaction = out
	a.out.Store(&send)

	require.NoError(t, a.onCommand(fakeContext{msg: groupMessage(-100, 3), args: []string{"on"}}))

	assert.EqualValues(t, 1, a.rejected.Load())
	require.Len(t, fb.sent, 1)
	assert.Equal(t, sentMsg{chat: -100, thread: 3, text: pendingText}, fb.sent[0])
	assert.Equal(t, []string{transport.ReplyBusy}, fb.edits)
}

func TestMenuDescriptionTruncatesByRune(t *testing.T) {
	spec := transport.CommandSpec{Name: "remind", Description: strings.Repeat("é", 300)}
	desc := menuCommand(spec).Description
	assert.True(t, utf8.ValidString(desc))
	assert.Equal(t, menuDescLimit, utf8.RuneCountInString(desc))
	assert.True(t, strings.HasSuffix(desc, "…"))

	short := menuCommand(transport.CommandSpec{Name: "remind", Description: "Daily reminder"})
	assert.Equal(t, "Daily reminder", short.Description)
}

func TestRegisterCommandsScope(t *testing.T) {
	fb := newFakeBot()
	a := newAdapter(Config{}, fb, logx.Nop())
	spec := transport.CommandSpec{
		Name:        transport.CommandName,
		Description: "Daily reminder",
		Subcommands: []transport.SubcommandSpec{{Name: "on"}, {Name: "off"}, {Name: "status"}},
	}
	require.NoError(t, a.RegisterCommands(context.Background(), spec))
	assert.Equal(t, tele.CommandScopeDefault, fb.scope.Type)
	require.Len(t, fb.commands, 1)
	assert.Equal(t, "remind", fb.commands[0].Text)
	assert.Equal(t, "Daily reminder (on | off | status)", fb.commands[0].Description)

	spec.ScopeID = "-100"
	require.NoError(t, a.RegisterCommands(context.Background(), spec))
	assert.Equal(t, tele.CommandScope{Type: tele.CommandScopeChat, ChatID: -100}, fb.scope)

	spec.ScopeID = "nope"
	assert.Error(t, a.RegisterCommands(context.Background(), spec))
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, isNotFound(tele.ErrChatNotFound))
	assert.True(t, isNotFound(errors.New("telegram: Bad Request: chat not found (400)")))
	assert.False(t, isNotFound(errors.New("timeout")))
}

// fakeContext implements only what onCommand touches.
type fakeContext struct {
	tele.Context
	msg  *tele.Message
	args []string
}

func (c fakeContext) Message() *tele.Message { return c.msg }
func (c fakeContext) Args() []string         { return c.args }
