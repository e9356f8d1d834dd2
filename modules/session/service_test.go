package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/go-monolith/mono/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/collab-realtime/domain/collab"
	"github.com/example/collab-realtime/events"
	"github.com/example/collab-realtime/modules/ratelimit"
	"github.com/example/collab-realtime/modules/transport"
	"github.com/example/collab-realtime/modules/transport/transporttest"
)

// mockLogger implements types.Logger for testing
type mockLogger struct{}

func (m *mockLogger) Debug(_ string, _ ...any)         {}
func (m *mockLogger) Info(_ string, _ ...any)          {}
func (m *mockLogger) Warn(_ string, _ ...any)          {}
func (m *mockLogger) Error(_ string, _ ...any)         {}
func (m *mockLogger) With(_ ...any) types.Logger       { return m }
func (m *mockLogger) WithModule(_ string) types.Logger { return m }
func (m *mockLogger) WithError(_ error) types.Logger   { return m }

var studyGroup = collab.RoomKey{Type: collab.RoomTypeStudyGroup, ResourceID: "42"}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type memPersister struct {
	mu       sync.Mutex
	messages []collab.Message
	fail     error
}

func (p *memPersister) Append(_ context.Context, msg collab.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail != nil {
		return p.fail
	}
	p.messages = append(p.messages, msg)
	return nil
}

func (p *memPersister) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.messages)
}

type recordingPublisher struct {
	mu     sync.Mutex
	joined []events.ParticipantJoinedEvent
	left   []events.ParticipantLeftEvent
	msgs   []events.MessageAcceptedEvent
	alerts []events.AlertEvent
}

func (p *recordingPublisher) ParticipantJoined(evt events.ParticipantJoinedEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.joined = append(p.joined, evt)
}

func (p *recordingPublisher) ParticipantLeft(evt events.ParticipantLeftEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.left = append(p.left, evt)
}

func (p *recordingPublisher) MessageAccepted(evt events.MessageAcceptedEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, evt)
}

func (p *recordingPublisher) Alert(evt events.AlertEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.alerts = append(p.alerts, evt)
}

func (p *recordingPublisher) alertKinds() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	kinds := make([]string, len(p.alerts))
	for i, a := range p.alerts {
		kinds[i] = a.Kind
	}
	return kinds
}

type fixture struct {
	svc   *Service
	store *memPersister
	pub   *recordingPublisher
	clock *fakeClock
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	f := &fixture{
		store: &memPersister{},
		pub:   &recordingPublisher{},
		clock: &fakeClock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)},
	}
	n := 0
	opts.IDs = func() string {
		n++
		return fmt.Sprintf("c%d", n)
	}
	opts.Clock = f.clock.Now
	opts.Publisher = f.pub

	svc, err := NewService(f.store, opts, &mockLogger{})
	require.NoError(t, err)
	f.svc = svc
	return f
}

func (f *fixture) connect(t *testing.T, userID, name string) (collab.ConnectionID, *transporttest.Recorder) {
	t.Helper()
	rec := transporttest.NewRecorder()
	id, err := f.svc.Connect(context.Background(), collab.IdentityClaim{Identity: collab.Identity{
		UserID:          userID,
		UserName:        name,
		UserRole:        "student",
		EstablishmentID: "est-1",
	}}, rec)
	require.NoError(t, err)
	return id, rec
}

func (f *fixture) send(id collab.ConnectionID, t collab.MessageType, roomID string, data any) error {
	env, err := collab.NewEnvelope(t, roomID, data)
	if err != nil {
		return err
	}
	return f.svc.HandleEnvelope(context.Background(), id, env)
}

func (f *fixture) join(t *testing.T, id collab.ConnectionID, key collab.RoomKey) {
	t.Helper()
	require.NoError(t, f.send(id, collab.TypeJoinRoom, "", collab.JoinRoomData{
		RoomType:   string(key.Type),
		ResourceID: key.ResourceID,
	}))
}

func errorCodes(t *testing.T, rec *transporttest.Recorder) []string {
	t.Helper()
	var codes []string
	for _, env := range rec.OfType(collab.TypeError) {
		var data collab.ErrorData
		require.NoError(t, transporttest.Decode(env, &data))
		codes = append(codes, data.Error)
	}
	return codes
}

func memberIDs(ps []collab.Participant) []collab.ConnectionID {
	ids := make([]collab.ConnectionID, len(ps))
	for i, p := range ps {
		ids[i] = p.ConnectionID
	}
	return ids
}

type chatFrame struct {
	ID           string              `json:"id"`
	Message      string              `json:"message"`
	Sender       collab.Identity     `json:"sender"`
	ConnectionID collab.ConnectionID `json:"connectionId"`
}

func TestService_ConnectAcknowledges(t *testing.T) {
	f := newFixture(t, Options{})
	id, rec := f.connect(t, "u-a", "Alice")

	frames := rec.OfType(collab.TypeConnected)
	require.Len(t, frames, 1)
	var data collab.ConnectedData
	require.NoError(t, transporttest.Decode(frames[0], &data))
	assert.Equal(t, id, data.ConnectionID)
	assert.Equal(t, "Alice", data.User.UserName)
	assert.Equal(t, "recorder", data.Transport)
}

func TestService_ConnectRejectsInvalidIdentity(t *testing.T) {
	f := newFixture(t, Options{})
	rec := transporttest.NewRecorder()

	_, err := f.svc.Connect(context.Background(), collab.IdentityClaim{Identity: collab.Identity{UserID: "u-a"}}, rec)
	assert.ErrorIs(t, err, collab.ErrIdentityInvalid)
	assert.Empty(t, rec.Frames())
	assert.Equal(t, 0, f.svc.Stats()["connections"])
}

func TestService_TwoClientScenario(t *testing.T) {
	f := newFixture(t, Options{})
	a, recA := f.connect(t, "u-a", "Alice")
	b, recB := f.connect(t, "u-b", "Bob")

	f.join(t, a, studyGroup)
	joinedA := recA.OfType(collab.TypeRoomJoined)
	require.Len(t, joinedA, 1)
	var snapA collab.RoomJoinedData
	require.NoError(t, transporttest.Decode(joinedA[0], &snapA))
	assert.Equal(t, "study_group:42", snapA.RoomID)
	assert.Empty(t, snapA.Participants)

	f.join(t, b, studyGroup)
	joinedB := recB.OfType(collab.TypeRoomJoined)
	require.Len(t, joinedB, 1)
	var snapB collab.RoomJoinedData
	require.NoError(t, transporttest.Decode(joinedB[0], &snapB))
	assert.Equal(t, []collab.ConnectionID{a}, memberIDs(snapB.Participants))

	userJoined := recA.OfType(collab.TypeUserJoined)
	require.Len(t, userJoined, 1)
	var joinedEvt collab.UserJoinedData
	require.NoError(t, transporttest.Decode(userJoined[0], &joinedEvt))
	assert.Equal(t, "Bob", joinedEvt.User.UserName)
	assert.Empty(t, recB.OfType(collab.TypeUserJoined))

	f.clock.Advance(time.Second)
	require.NoError(t, f.send(a, collab.TypeChatMessage, "study_group:42", collab.ChatMessageData{Message: "hello"}))

	chats := recB.OfType(collab.TypeChatMessage)
	require.Len(t, chats, 1)
	var chat chatFrame
	require.NoError(t, transporttest.Decode(chats[0], &chat))
	assert.Equal(t, "hello", chat.Message)
	assert.Equal(t, "u-a", chat.Sender.UserID)
	assert.Equal(t, a, chat.ConnectionID)
	assert.NotEmpty(t, chat.ID)
	require.NotNil(t, chats[0].Timestamp)
	assert.True(t, chats[0].Timestamp.Equal(f.clock.Now()))

	assert.Empty(t, recA.OfType(collab.TypeChatMessage), "sender must not receive its own message")
	assert.Equal(t, 1, f.store.count())
	assert.Len(t, f.pub.msgs, 1)
	assert.Len(t, f.pub.joined, 2)
}

func TestService_ChatWithoutRoomIDUsesCurrentRoom(t *testing.T) {
	f := newFixture(t, Options{})
	a, _ := f.connect(t, "u-a", "Alice")
	b, recB := f.connect(t, "u-b", "Bob")
	f.join(t, a, studyGroup)
	f.join(t, b, studyGroup)

	require.NoError(t, f.send(a, collab.TypeChatMessage, "", collab.ChatMessageData{Message: "hi"}))
	chats := recB.OfType(collab.TypeChatMessage)
	require.Len(t, chats, 1)
	assert.Equal(t, "study_group:42", chats[0].RoomID)
}

func TestService_RoomCapacity(t *testing.T) {
	f := newFixture(t, Options{})

	for i := 0; i < 50; i++ {
		id, _ := f.connect(t, fmt.Sprintf("u-%d", i), fmt.Sprintf("User %d", i))
		f.join(t, id, studyGroup)
	}
	require.Len(t, f.svc.Participants(studyGroup), 50)

	late, rec := f.connect(t, "u-late", "Late")
	err := f.send(late, collab.TypeJoinRoom, "", collab.JoinRoomData{RoomID: "study_group:42"})
	assert.ErrorIs(t, err, collab.ErrRoomFull)
	assert.Equal(t, []string{collab.CodeRoomFull}, errorCodes(t, rec))
	assert.Len(t, f.svc.Participants(studyGroup), 50)
	assert.NotContains(t, memberIDs(f.svc.Participants(studyGroup)), late)
	assert.Equal(t, []string{events.AlertRoomFull}, f.pub.alertKinds())

	conn, err := f.svc.Resolve(late)
	require.NoError(t, err)
	assert.Nil(t, conn.Room)
}

func TestService_JoinIsIdempotent(t *testing.T) {
	f := newFixture(t, Options{})
	a, recA := f.connect(t, "u-a", "Alice")
	b, recB := f.connect(t, "u-b", "Bob")
	f.join(t, a, studyGroup)
	f.join(t, b, studyGroup)
	recA.Reset()

	f.join(t, b, studyGroup)

	assert.Len(t, f.svc.Participants(studyGroup), 2)
	assert.Len(t, recB.OfType(collab.TypeRoomJoined), 2, "a repeated join resends the snapshot")
	assert.Empty(t, recA.OfType(collab.TypeUserJoined), "a repeated join is not announced")
	assert.Len(t, f.pub.joined, 2)
}

func TestService_ExclusiveMembership(t *testing.T) {
	f := newFixture(t, Options{})
	course := collab.RoomKey{Type: collab.RoomTypeCourse, ResourceID: "42"}

	a, _ := f.connect(t, "u-a", "Alice")
	b, recB := f.connect(t, "u-b", "Bob")
	f.join(t, a, studyGroup)
	f.join(t, b, studyGroup)

	f.join(t, a, course)

	assert.Equal(t, []collab.ConnectionID{b}, memberIDs(f.svc.Participants(studyGroup)))
	assert.Equal(t, []collab.ConnectionID{a}, memberIDs(f.svc.Participants(course)))

	left := recB.OfType(collab.TypeUserLeft)
	require.Len(t, left, 1)
	var data collab.UserLeftData
	require.NoError(t, transporttest.Decode(left[0], &data))
	assert.Equal(t, a, data.ConnectionID)

	conn, err := f.svc.Resolve(a)
	require.NoError(t, err)
	require.NotNil(t, conn.Room)
	assert.Equal(t, course, *conn.Room)

	require.Len(t, f.pub.left, 1)
	assert.Equal(t, ReasonSwitch, f.pub.left[0].Reason)
}

func TestService_FullTargetRoomKeepsCurrentMembership(t *testing.T) {
	f := newFixture(t, Options{MaxMembers: 1})
	course := collab.RoomKey{Type: collab.RoomTypeCourse, ResourceID: "7"}

	a, _ := f.connect(t, "u-a", "Alice")
	b, _ := f.connect(t, "u-b", "Bob")
	f.join(t, a, studyGroup)
	f.join(t, b, course)

	err := f.send(a, collab.TypeJoinRoom, "", collab.JoinRoomData{RoomID: course.String()})
	assert.ErrorIs(t, err, collab.ErrRoomFull)
	assert.Equal(t, []collab.ConnectionID{a}, memberIDs(f.svc.Participants(studyGroup)))
}

func TestService_ExplicitLeave(t *testing.T) {
	f := newFixture(t, Options{})
	a, recA := f.connect(t, "u-a", "Alice")
	b, recB := f.connect(t, "u-b", "Bob")
	f.join(t, a, studyGroup)
	f.join(t, b, studyGroup)

	require.NoError(t, f.send(a, collab.TypeLeaveRoom, "", collab.LeaveRoomData{RoomID: "study_group:42"}))

	assert.Len(t, recA.OfType(collab.TypeRoomLeft), 1)
	assert.Len(t, recB.OfType(collab.TypeUserLeft), 1)
	assert.Equal(t, []collab.ConnectionID{b}, memberIDs(f.svc.Participants(studyGroup)))

	// Leaving again is a no-op.
	require.NoError(t, f.send(a, collab.TypeLeaveRoom, "", nil))
	assert.Len(t, recA.OfType(collab.TypeRoomLeft), 1)
}

func TestService_DisconnectAnnouncesLeave(t *testing.T) {
	f := newFixture(t, Options{})
	a, recA := f.connect(t, "u-a", "Alice")
	b, recB := f.connect(t, "u-b", "Bob")
	f.join(t, a, studyGroup)
	f.join(t, b, studyGroup)

	f.svc.Disconnect(a)
	f.svc.Disconnect(a)

	assert.True(t, recA.Closed())
	assert.Len(t, recB.OfType(collab.TypeUserLeft), 1)
	assert.Equal(t, []collab.ConnectionID{b}, memberIDs(f.svc.Participants(studyGroup)))
	_, err := f.svc.Resolve(a)
	assert.ErrorIs(t, err, collab.ErrUnknownConnection)
	require.Len(t, f.pub.left, 1)
	assert.Equal(t, ReasonDisconnect, f.pub.left[0].Reason)
}

func TestService_LivenessTimeoutRemovesSilentConnection(t *testing.T) {
	f := newFixture(t, Options{LivenessTimeout: 30 * time.Second})
	a, recA := f.connect(t, "u-a", "Alice")
	b, recB := f.connect(t, "u-b", "Bob")
	f.join(t, a, studyGroup)
	f.join(t, b, studyGroup)

	f.clock.Advance(20 * time.Second)
	require.NoError(t, f.send(b, collab.TypePing, "", nil))
	assert.Len(t, recB.OfType(collab.TypePong), 1)

	f.clock.Advance(15 * time.Second)
	assert.Equal(t, 1, f.svc.Sweep(f.clock.Now()))

	assert.True(t, recA.Closed())
	assert.Equal(t, transport.CloseGoingAway, recA.CloseReason(), "reaped clients must be told to reconnect")
	assert.Equal(t, transport.CloseNormal, recB.CloseReason())
	assert.False(t, recB.Closed())
	assert.Len(t, recB.OfType(collab.TypeUserLeft), 1)
	assert.Len(t, f.svc.Participants(studyGroup), 1)
	assert.Contains(t, f.pub.alertKinds(), events.AlertLivenessReaped)
}

// blockingLimiter allows every message and holds Forget, which runs inside
// the departure hook, until release is closed.
type blockingLimiter struct {
	entered chan struct{}
	release chan struct{}
}

func (l *blockingLimiter) Allow(context.Context, string) (bool, error) { return true, nil }

func (l *blockingLimiter) Forget(context.Context, string) error {
	l.entered <- struct{}{}
	<-l.release
	return nil
}

func TestService_JoinWhileDisconnecting(t *testing.T) {
	limiter := &blockingLimiter{entered: make(chan struct{}, 1), release: make(chan struct{})}
	f := newFixture(t, Options{Limiter: limiter})
	a, recA := f.connect(t, "u-a", "Alice")
	b, _ := f.connect(t, "u-b", "Bob")
	f.join(t, a, studyGroup)
	f.join(t, b, studyGroup)

	done := make(chan struct{})
	go func() {
		f.svc.Disconnect(a)
		close(done)
	}()
	select {
	case <-limiter.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("departure hook did not run")
	}

	course := collab.RoomKey{Type: collab.RoomTypeCourse, ResourceID: "9"}
	assert.ErrorIs(t, f.svc.Join(context.Background(), a, course), collab.ErrUnknownConnection)
	assert.ErrorIs(t, f.svc.Join(context.Background(), a, studyGroup), collab.ErrUnknownConnection)
	assert.ErrorIs(t, f.send(a, collab.TypeChatMessage, studyGroup.String(), collab.ChatMessageData{Message: "late"}),
		collab.ErrUnknownConnection)
	assert.Empty(t, f.svc.Participants(course))
	assert.Equal(t, []collab.ConnectionID{b}, memberIDs(f.svc.Participants(studyGroup)))

	close(limiter.release)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Disconnect did not return")
	}
	assert.True(t, recA.Closed())
	assert.Empty(t, f.svc.Participants(course))
	_, err := f.svc.Resolve(a)
	assert.ErrorIs(t, err, collab.ErrUnknownConnection)
}

func TestService_PersistenceFailure(t *testing.T) {
	f := newFixture(t, Options{})
	a, recA := f.connect(t, "u-a", "Alice")
	b, recB := f.connect(t, "u-b", "Bob")
	f.join(t, a, studyGroup)
	f.join(t, b, studyGroup)
	f.store.fail = errors.New("disk full")

	err := f.send(a, collab.TypeChatMessage, "study_group:42", collab.ChatMessageData{Message: "lost"})
	assert.ErrorIs(t, err, collab.ErrPersistence)

	assert.Empty(t, recB.OfType(collab.TypeChatMessage))
	assert.Empty(t, recA.OfType(collab.TypeChatMessage))
	assert.Equal(t, []string{collab.CodePersistence}, errorCodes(t, recA))
	assert.Equal(t, []string{events.AlertPersistence}, f.pub.alertKinds())
}

func TestService_DispatchRejections(t *testing.T) {
	f := newFixture(t, Options{})
	a, recA := f.connect(t, "u-a", "Alice")
	f.join(t, a, studyGroup)
	outsider, recO := f.connect(t, "u-o", "Oscar")

	err := f.send(outsider, collab.TypeChatMessage, "study_group:42", collab.ChatMessageData{Message: "let me in"})
	assert.ErrorIs(t, err, collab.ErrNotInRoom)
	assert.Equal(t, []string{collab.CodeNotInRoom}, errorCodes(t, recO))

	err = f.send(outsider, collab.TypeChatMessage, "", collab.ChatMessageData{Message: "no room"})
	assert.ErrorIs(t, err, collab.ErrNotInRoom)

	tests := []struct {
		name   string
		msg    collab.MessageType
		roomID string
		data   any
	}{
		{name: "blank chat", msg: collab.TypeChatMessage, data: collab.ChatMessageData{Message: "  "}},
		{name: "draw without data", msg: collab.TypeWhiteboardDraw, data: map[string]any{}},
		{name: "bad room id", msg: collab.TypeChatMessage, roomID: "nowhere", data: collab.ChatMessageData{Message: "x"}},
		{name: "unknown type", msg: collab.MessageType("shout"), data: nil},
		{name: "server type", msg: collab.TypeUserJoined, data: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recA.Reset()
			err := f.send(a, tt.msg, tt.roomID, tt.data)
			assert.True(t, errors.Is(err, collab.ErrInvalidMessage) || errors.Is(err, collab.ErrInvalidRoomKey), "got %v", err)
			assert.Equal(t, []string{collab.CodeInvalidMessage}, errorCodes(t, recA))
		})
	}
	assert.Equal(t, 0, f.store.count())
}

func TestService_UnknownConnection(t *testing.T) {
	f := newFixture(t, Options{})
	err := f.send("ghost", collab.TypeJoinRoom, "", collab.JoinRoomData{RoomID: "study_group:42"})
	assert.ErrorIs(t, err, collab.ErrUnknownConnection)
	assert.Empty(t, f.svc.Participants(studyGroup))
}

func TestService_RateLimit(t *testing.T) {
	f := newFixture(t, Options{Limiter: ratelimit.NewLocal(ratelimit.Config{Limit: 2, Window: time.Hour})})
	a, recA := f.connect(t, "u-a", "Alice")
	b, recB := f.connect(t, "u-b", "Bob")
	f.join(t, a, studyGroup)
	f.join(t, b, studyGroup)

	for i := 0; i < 2; i++ {
		require.NoError(t, f.send(a, collab.TypeChatMessage, "", collab.ChatMessageData{Message: "spam"}))
	}
	err := f.send(a, collab.TypeChatMessage, "", collab.ChatMessageData{Message: "spam"})
	assert.ErrorIs(t, err, collab.ErrRateLimited)
	assert.Equal(t, []string{collab.CodeRateLimited}, errorCodes(t, recA))
	assert.Len(t, recB.OfType(collab.TypeChatMessage), 2)

	// Ephemeral traffic is not counted.
	require.NoError(t, f.send(a, collab.TypeTypingIndicator, "", collab.TypingIndicatorData{IsTyping: true}))
}

func TestService_EphemeralRelayNotPersisted(t *testing.T) {
	f := newFixture(t, Options{})
	a, recA := f.connect(t, "u-a", "Alice")
	b, recB := f.connect(t, "u-b", "Bob")
	f.join(t, a, studyGroup)
	f.join(t, b, studyGroup)

	require.NoError(t, f.send(a, collab.TypeCursorMove, "", collab.CursorMoveData{Position: []byte(`{"x":1,"y":2}`)}))
	require.NoError(t, f.send(a, collab.TypeTypingIndicator, "", collab.TypingIndicatorData{IsTyping: true}))

	assert.Len(t, recB.OfType(collab.TypeCursorMove), 1)
	assert.Len(t, recB.OfType(collab.TypeTypingIndicator), 1)
	assert.Empty(t, recA.OfType(collab.TypeCursorMove))
	assert.Equal(t, 0, f.store.count())
	assert.Empty(t, f.pub.msgs)
}

func TestService_MembershipConsistency(t *testing.T) {
	f := newFixture(t, Options{})
	rooms := []collab.RoomKey{
		studyGroup,
		{Type: collab.RoomTypeCourse, ResourceID: "42"},
		{Type: collab.RoomTypeWhiteboard, ResourceID: "42"},
	}

	var ids []collab.ConnectionID
	for i := 0; i < 6; i++ {
		id, _ := f.connect(t, fmt.Sprintf("u-%d", i), fmt.Sprintf("User %d", i))
		ids = append(ids, id)
	}

	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for round := 0; round < 20; round++ {
				key := rooms[(i+round)%len(rooms)]
				_ = f.send(id, collab.TypeJoinRoom, "", collab.JoinRoomData{RoomID: key.String()})
				if round%5 == 4 {
					_ = f.send(id, collab.TypeLeaveRoom, "", nil)
				}
			}
			if i%2 == 0 {
				f.svc.Disconnect(id)
			}
		}()
	}
	wg.Wait()

	seen := make(map[collab.ConnectionID]collab.RoomKey)
	for _, key := range rooms {
		for _, p := range f.svc.Participants(key) {
			conn, err := f.svc.Resolve(p.ConnectionID)
			require.NoError(t, err, "member %s of %s is not registered", p.ConnectionID, key)
			require.NotNil(t, conn.Room)
			assert.Equal(t, key, *conn.Room)
			_, dup := seen[p.ConnectionID]
			assert.False(t, dup, "%s is in more than one room", p.ConnectionID)
			seen[p.ConnectionID] = key
		}
	}
}
