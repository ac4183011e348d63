package client

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/teris-io/shortid"

	"github.com/gistchat/gistchat/internal/config"
	"github.com/gistchat/gistchat/internal/msglog"
	"github.com/gistchat/gistchat/internal/registry"
	"github.com/gistchat/gistchat/internal/stats"
	"github.com/gistchat/gistchat/internal/store"
	"github.com/gistchat/gistchat/internal/types"
)

type syncState int

const (
	stateLobby syncState = iota
	stateInRoom
)

type actionKind int

const (
	actionCreate actionKind = iota
	actionJoin
	actionLeave
	actionSend
	actionSetUsername
)

type action struct {
	kind     actionKind
	room     string
	password string
	text     string
	username string
	reply    chan error
}

type discoverResult struct {
	rooms map[string]types.Room
}

type pollResult struct {
	room string
	gen  int
	msgs []types.Message
}

// Synchronizer reconciles this client's view of rooms and messages with
// the document stores shared by every other client. It owns all mutable
// state from a single loop goroutine: polling tasks only perform I/O and
// post their results back into the loop, so no mutation ever races and
// no lock is held across a network call.
type Synchronizer struct {
	log     zerolog.Logger
	cfg     *config.Config
	session *Session
	stats   stats.StatsProvider
	cb      Callbacks

	// now is split out so tests can pin time.
	now func() int64

	state       syncState
	currentRoom string
	// gen is bumped on every join and leave; a poll result from an
	// earlier generation is stale and dropped even if its task outlived
	// its cancellation.
	gen        int
	pollCancel context.CancelFunc

	rooms     map[string]types.Room
	roomLog   *msglog.Log
	seen      map[string]struct{}
	lastCheck int64

	discoveryBusy bool

	actions     chan *action
	roomsReq    chan chan map[string]types.Room
	currentReq  chan chan string
	discoverRes chan discoverResult
	pollRes     chan pollResult
	stop        chan struct{}
	done        chan struct{}
}

func NewSynchronizer(cfg *config.Config, session *Session, sp stats.StatsProvider, cb Callbacks, logger zerolog.Logger) *Synchronizer {
	for _, name := range []string{
		stats.DiscoveryPolls, stats.MessagePolls, stats.MessagesMerged,
		stats.RemoteErrors, stats.RoomsExpired,
	} {
		sp.RegisterMetric(name)
	}

	return &Synchronizer{
		log:         logger,
		cfg:         cfg,
		session:     session,
		stats:       sp,
		cb:          cb,
		now:         types.NowMillis,
		rooms:       store.ReadRooms(session.Local),
		seen:        make(map[string]struct{}),
		actions:     make(chan *action),
		roomsReq:    make(chan chan map[string]types.Room),
		currentReq:  make(chan chan string),
		discoverRes: make(chan discoverResult, 1),
		pollRes:     make(chan pollResult, 1),
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
}

// Run drives the synchronizer until Shutdown. It must be running before
// any action method is called.
func (s *Synchronizer) Run() {
	discoveryTicker := time.NewTicker(s.cfg.DiscoveryInterval)
	cleanupTicker := time.NewTicker(s.cfg.CleanupInterval)
	defer func() {
		discoveryTicker.Stop()
		cleanupTicker.Stop()
		if s.pollCancel != nil {
			s.pollCancel()
		}
		close(s.done)
	}()

	// Surface the cached registry right away so the UI has a room list
	// before the first discovery round trip completes.
	s.notifyRooms()

	for {
		select {
		case a := <-s.actions:
			a.reply <- s.handleAction(a)
		case reply := <-s.roomsReq:
			reply <- registry.Clone(s.rooms)
		case reply := <-s.currentReq:
			reply <- s.currentRoom
		case <-discoveryTicker.C:
			s.startDiscovery()
		case res := <-s.discoverRes:
			s.applyDiscovery(res)
		case res := <-s.pollRes:
			s.applyPoll(res)
		case <-cleanupTicker.C:
			s.runCleanup()
		case <-s.stop:
			return
		}
	}
}

func (s *Synchronizer) Shutdown() {
	close(s.stop)
	<-s.done
}

// --- public actions ------------------------------------------------------

func (s *Synchronizer) CreateRoom(name, password string) error {
	return s.do(&action{kind: actionCreate, room: name, password: password})
}

func (s *Synchronizer) JoinRoom(name, password string) error {
	return s.do(&action{kind: actionJoin, room: name, password: password})
}

func (s *Synchronizer) LeaveRoom() error {
	return s.do(&action{kind: actionLeave})
}

func (s *Synchronizer) SendMessage(text string) error {
	return s.do(&action{kind: actionSend, text: text})
}

func (s *Synchronizer) SetUsername(name string) error {
	return s.do(&action{kind: actionSetUsername, username: name})
}

// Rooms returns a snapshot of the merged registry.
func (s *Synchronizer) Rooms() map[string]types.Room {
	reply := make(chan map[string]types.Room, 1)
	select {
	case s.roomsReq <- reply:
		return <-reply
	case <-s.stop:
		return nil
	}
}

// CurrentRoom returns the joined room name, or "" in the lobby.
func (s *Synchronizer) CurrentRoom() string {
	reply := make(chan string, 1)
	select {
	case s.currentReq <- reply:
		return <-reply
	case <-s.stop:
		return ""
	}
}

func (s *Synchronizer) do(a *action) error {
	a.reply = make(chan error, 1)
	select {
	case s.actions <- a:
	case <-s.stop:
		return ErrStopped
	}
	select {
	case err := <-a.reply:
		return err
	case <-s.done:
		return ErrStopped
	}
}

// --- action handling -----------------------------------------------------

func (s *Synchronizer) handleAction(a *action) error {
	switch a.kind {
	case actionCreate:
		return s.handleCreate(a)
	case actionJoin:
		return s.handleJoin(a)
	case actionLeave:
		return s.handleLeave()
	case actionSend:
		return s.handleSend(a)
	case actionSetUsername:
		return s.handleSetUsername(a)
	}
	return nil
}

func (s *Synchronizer) handleCreate(a *action) error {
	if s.state == stateInRoom {
		return ErrAlreadyInRoom
	}
	if a.room == "" {
		return ErrEmptyRoomName
	}
	if _, exists := s.rooms[a.room]; exists {
		return ErrRoomExists
	}

	room := types.Room{
		Name:           a.room,
		PasswordMarker: a.password,
		Origin:         types.OriginLocal,
	}
	s.enterRoom(room)
	return nil
}

func (s *Synchronizer) handleJoin(a *action) error {
	if s.state == stateInRoom {
		return ErrAlreadyInRoom
	}
	if a.room == "" {
		return ErrEmptyRoomName
	}

	room, ok := s.rooms[a.room]
	if !ok {
		// Unknown locally: join creates the room, mirroring what every
		// other client will do when it learns of it.
		room = types.Room{Name: a.room, Origin: types.OriginLocal}
	}
	// The password gate only applies to rooms that carry a marker.
	if room.HasPassword() && room.PasswordMarker != a.password {
		return ErrWrongPassword
	}

	s.enterRoom(room)
	return nil
}

// enterRoom transitions Lobby -> InRoom: registers the room, starts the
// message-polling task and announces the join.
func (s *Synchronizer) enterRoom(room types.Room) {
	now := s.now()
	room.UserCount++
	registry.Register(s.rooms, room, now)
	store.WriteRooms(s.session.Local, s.rooms)
	s.pushRegistry()

	s.state = stateInRoom
	s.currentRoom = room.Name
	s.gen++
	s.seen = make(map[string]struct{})
	s.roomLog = msglog.New(s.cfg.MessageCapacity)
	// Look back one second so a message sent just before joining is
	// still picked up by the first poll.
	s.lastCheck = now - 1000

	ctx, cancel := context.WithCancel(context.Background())
	s.pollCancel = cancel
	go s.pollRoom(ctx, room.Name, s.gen)

	s.log.Info().Str("room", room.Name).Msg("joined room")
	if s.cb.OnSystemEvent != nil {
		s.cb.OnSystemEvent(WelcomeText)
	}
	s.announce(types.KindUserJoined)
}

func (s *Synchronizer) handleLeave() error {
	if s.state != stateInRoom {
		return ErrNotInRoom
	}

	s.announce(types.KindUserLeft)

	// Cancel the polling task before any further join/leave cycle.
	if s.pollCancel != nil {
		s.pollCancel()
		s.pollCancel = nil
	}
	s.gen++

	now := s.now()
	if room, ok := s.rooms[s.currentRoom]; ok {
		if room.UserCount > 0 {
			room.UserCount--
		}
		registry.Register(s.rooms, room, now)
		store.WriteRooms(s.session.Local, s.rooms)
		s.pushRegistry()
	}

	s.log.Info().Str("room", s.currentRoom).Msg("left room")
	s.state = stateLobby
	s.currentRoom = ""
	s.roomLog = nil
	return nil
}

func (s *Synchronizer) handleSend(a *action) error {
	if s.state != stateInRoom {
		return ErrNotInRoom
	}
	if a.text == "" {
		return ErrEmptyMessage
	}

	msg := s.newMessage(types.KindChat, a.text)

	// Local optimism: the sender sees their message before any remote
	// round-trip, and never again through the poll.
	s.seen[msg.Identity()] = struct{}{}
	s.roomLog.Append(msg)
	s.persistLocalMessage(msg)
	registry.Touch(s.rooms, s.currentRoom, msg.Timestamp)
	store.WriteRooms(s.session.Local, s.rooms)
	if s.cb.OnMessage != nil {
		s.cb.OnMessage(msg, true)
	}

	s.pushMessage(msg)
	return nil
}

func (s *Synchronizer) handleSetUsername(a *action) error {
	if a.username == "" {
		return ErrEmptyUsername
	}
	s.session.SetUsername(a.username)
	return nil
}

// announce writes a presence event. It is not marked seen: the author
// learns of it through the same polling path as everyone else.
func (s *Synchronizer) announce(kind types.MessageKind) {
	msg := s.newMessage(kind, "")
	s.persistLocalMessage(msg)
	s.pushMessage(msg)
}

func (s *Synchronizer) newMessage(kind types.MessageKind, text string) types.Message {
	id, err := shortid.Generate()
	if err != nil {
		// Identity falls back to (kind, timestamp).
		id = ""
	}
	return types.Message{
		ID:        id,
		Room:      s.currentRoom,
		Kind:      kind,
		Username:  s.session.Username(),
		Text:      text,
		Timestamp: s.now(),
		ClientID:  s.session.ID,
	}
}

func (s *Synchronizer) persistLocalMessage(msg types.Message) {
	msgs := append(store.ReadMessages(s.session.Local, msg.Room), msg)
	store.WriteMessages(s.session.Local, msg.Room, msgs, s.cfg.MessageCapacity)
}

// pushMessage appends msg to every reachable remote store, best-effort.
// A failed write is logged and dropped: delivery is at-most-once.
func (s *Synchronizer) pushMessage(msg types.Message) {
	remotes := s.session.AvailableRemotes()
	go func() {
		for _, r := range remotes {
			ctx, cancel := context.WithTimeout(context.Background(), s.cfg.RequestTimeout)
			if err := r.AppendMessage(ctx, msg.Room, msg); err != nil {
				s.stats.Incr(stats.RemoteErrors)
				s.log.Warn().Err(err).Str("store", r.Name()).Str("room", msg.Room).Msg("message push failed")
			}
			cancel()
		}
	}()
}

// pushRegistry publishes the current registry to every reachable remote
// store, best-effort.
func (s *Synchronizer) pushRegistry() {
	snap := registry.Clone(s.rooms)
	remotes := s.session.AvailableRemotes()
	go func() {
		for _, r := range remotes {
			ctx, cancel := context.WithTimeout(context.Background(), s.cfg.RequestTimeout)
			if err := r.SaveRegistry(ctx, snap); err != nil {
				s.stats.Incr(stats.RemoteErrors)
				s.log.Warn().Err(err).Str("store", r.Name()).Msg("registry push failed")
			}
			cancel()
		}
	}()
}

// --- discovery -----------------------------------------------------------

func (s *Synchronizer) startDiscovery() {
	// Discovery is suspended while in a room; the lobby list is not on
	// screen there. One fetch in flight at a time.
	if s.state != stateLobby || s.discoveryBusy {
		return
	}
	s.discoveryBusy = true
	s.stats.Incr(stats.DiscoveryPolls)

	remotes := s.session.AvailableRemotes()
	go func() {
		merged := make(map[string]types.Room)
		for _, r := range remotes {
			ctx, cancel := context.WithTimeout(context.Background(), s.cfg.RequestTimeout)
			reg, err := r.LoadRegistry(ctx)
			cancel()
			if err != nil {
				s.stats.Incr(stats.RemoteErrors)
				s.log.Warn().Err(err).Str("store", r.Name()).Msg("registry fetch failed")
				continue
			}
			merged = registry.Merge(merged, reg)
		}
		select {
		case s.discoverRes <- discoverResult{rooms: merged}:
		case <-s.stop:
		}
	}()
}

func (s *Synchronizer) applyDiscovery(res discoverResult) {
	s.discoveryBusy = false
	if s.state != stateLobby {
		// Joined a room while the fetch was in flight; the result is no
		// longer relevant.
		return
	}

	merged := registry.Merge(s.rooms, res.rooms)
	// Expiry runs opportunistically on the merged view; the remote
	// copies are handled by the coarser cleanup task.
	if registry.Expire(merged, s.now(), s.cfg.RegistryTTL) {
		s.stats.Incr(stats.RoomsExpired)
	}
	s.rooms = merged
	store.WriteRooms(s.session.Local, merged)
	s.notifyRooms()
}

func (s *Synchronizer) notifyRooms() {
	if s.cb.OnRoomsUpdated != nil {
		s.cb.OnRoomsUpdated(registry.Clone(s.rooms))
	}
}

// --- message polling -----------------------------------------------------

// pollRoom is the message-polling task for one room. Each iteration
// completes (or times out) before the next tick is taken, so polls for
// the same room never overlap.
func (s *Synchronizer) pollRoom(ctx context.Context, room string, gen int) {
	ticker := time.NewTicker(s.cfg.MessageInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.stats.Incr(stats.MessagePolls)
			msgs := s.collectMessages(ctx, room)
			select {
			case s.pollRes <- pollResult{room: room, gen: gen, msgs: msgs}:
			case <-ctx.Done():
				return
			}
		}
	}
}

// collectMessages gathers the room's messages from the local cache and
// every reachable remote store. A failing store contributes nothing.
func (s *Synchronizer) collectMessages(ctx context.Context, room string) []types.Message {
	merged := store.ReadMessages(s.session.Local, room)
	for _, r := range s.session.AvailableRemotes() {
		fetchCtx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
		msgs, err := r.LoadMessages(fetchCtx, room)
		cancel()
		if err != nil {
			s.stats.Incr(stats.RemoteErrors)
			s.log.Warn().Err(err).Str("store", r.Name()).Str("room", room).Msg("message fetch failed")
			continue
		}
		merged = msglog.Merge(merged, msgs)
	}
	return merged
}

func (s *Synchronizer) applyPoll(res pollResult) {
	// Belt and braces: even a cancelled task's last result must not
	// touch state for a room we are no longer in.
	if s.state != stateInRoom || res.room != s.currentRoom || res.gen != s.gen {
		return
	}

	fresh := msglog.Since(res.msgs, s.lastCheck)
	if len(fresh) == 0 {
		return
	}

	// The watermark advances over the whole batch, including messages
	// already seen. A straggler older than the new watermark will never
	// be shown; that gap is part of this protocol.
	s.lastCheck = msglog.MaxTimestamp(fresh, s.lastCheck)

	for _, msg := range fresh {
		id := msg.Identity()
		if _, ok := s.seen[id]; ok {
			continue
		}
		s.seen[id] = struct{}{}
		s.roomLog.Append(msg)
		s.stats.Incr(stats.MessagesMerged)
		s.deliver(msg)
	}
}

func (s *Synchronizer) deliver(msg types.Message) {
	switch msg.Kind {
	case types.KindChat:
		if s.cb.OnMessage != nil {
			s.cb.OnMessage(msg, msg.ClientID == s.session.ID)
		}
	default:
		if s.cb.OnSystemEvent != nil {
			s.cb.OnSystemEvent(SystemText(msg))
		}
	}
}

// --- cleanup -------------------------------------------------------------

// runCleanup expires the merged view and each remote registry copy,
// writing a copy back only when something actually expired to bound
// write amplification.
func (s *Synchronizer) runCleanup() {
	if s.state != stateLobby {
		return
	}

	now := s.now()
	if registry.Expire(s.rooms, now, s.cfg.RegistryTTL) {
		s.stats.Incr(stats.RoomsExpired)
		store.WriteRooms(s.session.Local, s.rooms)
		s.notifyRooms()
	}

	remotes := s.session.AvailableRemotes()
	ttl := s.cfg.RegistryTTL
	go func() {
		for _, r := range remotes {
			ctx, cancel := context.WithTimeout(context.Background(), s.cfg.RequestTimeout)
			reg, err := r.LoadRegistry(ctx)
			if err != nil {
				cancel()
				s.stats.Incr(stats.RemoteErrors)
				continue
			}
			if registry.Expire(reg, now, ttl) {
				if err := r.SaveRegistry(ctx, reg); err != nil {
					s.stats.Incr(stats.RemoteErrors)
					s.log.Warn().Err(err).Str("store", r.Name()).Msg("registry cleanup write failed")
				}
			}
			cancel()
		}
	}()
}
