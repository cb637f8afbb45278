package session

import (
	"go.uber.org/zap"

	"github.com/EgorLis/roomnet/internal/config"
	"github.com/EgorLis/roomnet/internal/peer"
	"github.com/EgorLis/roomnet/internal/protocol"
	"github.com/EgorLis/roomnet/internal/room"
)

// RaiseEventOptions — адресация и кэширование пользовательского события.
type RaiseEventOptions struct {
	Receivers     ReceiverGroup
	TargetActors  []int32 // если задано, Receivers игнорируется
	Caching       EventCaching
	InterestGroup byte
}

// enterRoom — операция входа, которую после перехода на игровой сервер
// нужно повторить.
type enterRoom struct {
	code      byte
	roomName  string
	params    protocol.ParameterMap
	created   bool
	prevState ClientState
}

// ========================= authenticate =========================

// authenticate: при наличии токена отправляет только его, иначе полные
// учётные данные.
func (c *Client) authenticate() bool {
	params := protocol.ParameterMap{}
	if c.token != "" && c.server != NameServer {
		params[ParamSecret] = c.token
	} else {
		params[ParamApplicationID] = c.settings.AppID
		params[ParamAppVersion] = c.settings.AppVersion
		params[ParamUserID] = c.userID
		if c.region != "" {
			params[ParamRegion] = c.region
		}
		if c.settings.AuthType != config.AuthNone {
			params[ParamClientAuthType] = c.settings.AuthType
			if c.settings.AuthParams != "" {
				params[ParamClientAuthParams] = c.settings.AuthParams
			}
		}
	}
	if !c.send(OpAuthenticate, params, peer.SendReliable) {
		c.log.Error("authenticate: send failed", zap.Stringer("server", c.server))
		return false
	}
	c.setState(Authenticating)
	return true
}

func (c *Client) onAuthResponse(resp *protocol.OperationResponse) {
	if resp.ReturnCode != CodeOk {
		c.log.Error("authentication failed",
			zap.Stringer("server", c.server),
			zap.Int16("code", resp.ReturnCode),
			zap.String("msg", resp.DebugMessage))
		switch resp.ReturnCode {
		case CodeCustomAuthenticationFailed:
			msg := resp.DebugMessage
			c.onConnection(func(cb ConnectionCallbacks) { cb.OnCustomAuthenticationFailed(msg) })
		case CodeAuthenticationTicketExpired:
			c.token = ""
		}
		c.disconnectWith(causeForAuthError(resp.ReturnCode))
		return
	}
	if s, ok := protocol.Get[string](resp.Parameters, ParamSecret); ok && s != "" {
		c.token = s
	}
	if s, ok := protocol.Get[string](resp.Parameters, ParamUserID); ok && s != "" {
		c.userID = s
	}

	switch c.server {
	case NameServer:
		addr, ok := protocol.Get[string](resp.Parameters, ParamAddress)
		if !ok || addr == "" {
			c.log.Error("name server returned no master address")
			c.disconnectWith(CauseDisconnectByServerReasonUnknown)
			return
		}
		c.masterAddress = addr
		c.setState(DisconnectingFromNameServer)
		c.peer.Disconnect()

	case MasterServer:
		c.setState(ConnectedToMasterServer)
		c.onConnection(func(cb ConnectionCallbacks) { cb.OnConnectedToMaster() })
		if c.settings.AutoJoinLobby && c.state == ConnectedToMasterServer {
			c.OpJoinLobby(TypedLobby{})
		}

	case GameServer:
		if c.enter == nil {
			c.log.Error("game server reached without a pending room operation")
			c.setState(DisconnectingFromGameServer)
			c.peer.Disconnect()
			return
		}
		c.setState(Joining)
		if !c.send(c.enter.code, c.enter.params, peer.SendReliable) {
			c.log.Error("replay of room operation failed", zap.Uint8("code", c.enter.code))
		}
	}
}

// ========================= dispatch =========================

func (c *Client) onResponse(resp *protocol.OperationResponse) {
	delete(c.inFlight, resp.Code)

	switch resp.Code {
	case OpAuthenticate:
		c.onAuthResponse(resp)
	case OpGetRegions:
		c.onRegionList(resp)
	case OpJoinLobby:
		c.onJoinLobby(resp)
	case OpLeaveLobby:
		c.inLobby = false
		c.lobbyCache.Clear()
		c.setState(ConnectedToMasterServer)
		c.onLobby(func(cb LobbyCallbacks) { cb.OnLeftLobby() })
	case OpCreateGame, OpJoinGame, OpJoinRandomGame:
		if c.server == GameServer {
			c.onGameEntered(resp)
		} else {
			c.onMasterEntered(resp)
		}
	case OpLeave:
		c.onLeftRoom()
	case OpFindFriends:
		c.onFindFriends(resp)
	default:
		if resp.ReturnCode != CodeOk {
			c.log.Warn("operation failed",
				zap.Uint8("code", resp.Code),
				zap.Int16("rc", resp.ReturnCode),
				zap.String("msg", resp.DebugMessage))
		}
	}
}

// ========================= regions / lobby =========================

// OpGetRegions запрашивает список регионов у name-сервера.
func (c *Client) OpGetRegions() bool {
	if c.server != NameServer || c.state != ConnectedToNameServer {
		c.log.Warn("OpGetRegions: not connected to name server", zap.Stringer("state", c.state))
		return false
	}
	return c.send(OpGetRegions, protocol.ParameterMap{ParamApplicationID: c.settings.AppID}, peer.SendReliable)
}

func (c *Client) OpJoinLobby(lobby TypedLobby) bool {
	if c.offline {
		c.log.Warn("OpJoinLobby: not available offline")
		return false
	}
	if c.state != ConnectedToMasterServer {
		c.log.Warn("OpJoinLobby: wrong state", zap.Stringer("state", c.state))
		return false
	}
	params := protocol.ParameterMap{}
	if lobby.Name != "" {
		params[ParamLobbyName] = lobby.Name
		params[ParamLobbyType] = lobby.Type
	}
	if !c.send(OpJoinLobby, params, peer.SendReliable) {
		return false
	}
	c.lobby = lobby
	c.setState(JoiningLobby)
	return true
}

func (c *Client) onJoinLobby(resp *protocol.OperationResponse) {
	if resp.ReturnCode != CodeOk {
		c.log.Error("join lobby failed", zap.Int16("code", resp.ReturnCode), zap.String("msg", resp.DebugMessage))
		c.setState(ConnectedToMasterServer)
		return
	}
	c.inLobby = true
	c.lobbyCache.Clear()
	c.setState(JoinedLobby)
	c.onLobby(func(cb LobbyCallbacks) { cb.OnJoinedLobby() })
}

func (c *Client) OpLeaveLobby() bool {
	if c.state != JoinedLobby {
		c.log.Warn("OpLeaveLobby: not in lobby", zap.Stringer("state", c.state))
		return false
	}
	if !c.send(OpLeaveLobby, nil, peer.SendReliable) {
		return false
	}
	c.setState(LeavingLobby)
	return true
}

// ========================= enter room =========================

func (c *Client) onMaster() bool {
	return c.state == ConnectedToMasterServer || c.state == JoinedLobby
}

func (c *Client) localPlayerProps() protocol.Hashtable {
	h := protocol.Hashtable{room.ActorKeyPlayerName: c.nickName}
	if c.userID != "" {
		h[room.ActorKeyUserID] = c.userID
	}
	return h
}

// OpCreateRoom создаёт комнату; пустое имя — имя выберет сервер.
func (c *Client) OpCreateRoom(name string, opts room.Options, expectedUsers []string) bool {
	if !c.onMaster() {
		c.log.Warn("OpCreateRoom: not on master server", zap.Stringer("state", c.state))
		return false
	}
	if c.offline {
		if name == "" {
			name = "offline room"
		}
		return c.enterOffline(name, opts.GameProperties(), true)
	}
	params := c.roomParams(name, expectedUsers)
	params[ParamGameProperties] = opts.GameProperties()
	if opts.PlayerTTL != 0 {
		params[ParamPlayerTTL] = opts.PlayerTTL
	}
	if opts.EmptyRoomTTL != 0 {
		params[ParamEmptyRoomTTL] = opts.EmptyRoomTTL
	}
	return c.enterRoom(OpCreateGame, name, params, true)
}

// OpJoinRoom входит в существующую комнату по имени.
func (c *Client) OpJoinRoom(name string, expectedUsers []string) bool {
	return c.joinByName("OpJoinRoom", name, JoinModeDefault, expectedUsers, nil)
}

// OpJoinOrCreateRoom входит в комнату или создаёт её, если её нет.
func (c *Client) OpJoinOrCreateRoom(name string, opts room.Options, expectedUsers []string) bool {
	return c.joinByName("OpJoinOrCreateRoom", name, JoinModeCreateIfNotExists, expectedUsers, opts.GameProperties())
}

// OpRejoinRoom возвращает неактивного игрока в комнату.
func (c *Client) OpRejoinRoom(name string) bool {
	return c.joinByName("OpRejoinRoom", name, JoinModeRejoinOnly, nil, nil)
}

func (c *Client) joinByName(op, name string, mode byte, expectedUsers []string, gameProps protocol.Hashtable) bool {
	if name == "" {
		c.log.Warn(op + ": room name is required")
		return false
	}
	if !c.onMaster() {
		c.log.Warn(op+": not on master server", zap.Stringer("state", c.state))
		return false
	}
	if c.offline {
		return c.enterOffline(name, gameProps, mode == JoinModeCreateIfNotExists)
	}
	params := c.roomParams(name, expectedUsers)
	if mode != JoinModeDefault {
		params[ParamJoinMode] = mode
	}
	if gameProps != nil {
		params[ParamGameProperties] = gameProps
	}
	return c.enterRoom(OpJoinGame, name, params, false)
}

// OpJoinRandomRoom входит в случайную комнату, у которой совпадают
// expected свойства; maxPlayers 0 — любое.
func (c *Client) OpJoinRandomRoom(expected room.Properties, maxPlayers byte) bool {
	if !c.onMaster() {
		c.log.Warn("OpJoinRandomRoom: not on master server", zap.Stringer("state", c.state))
		return false
	}
	if c.offline {
		return c.enterOffline("offline room", nil, true)
	}
	filter := protocol.Hashtable{}
	for k, v := range expected {
		filter[k] = v
	}
	if maxPlayers > 0 {
		filter[room.KeyMaxPlayers] = maxPlayers
	}
	params := protocol.ParameterMap{}
	if len(filter) > 0 {
		params[ParamGameProperties] = filter
	}
	if c.lobby.Name != "" {
		params[ParamLobbyName] = c.lobby.Name
		params[ParamLobbyType] = c.lobby.Type
	}
	return c.enterRoom(OpJoinRandomGame, "", params, false)
}

func (c *Client) roomParams(name string, expectedUsers []string) protocol.ParameterMap {
	params := protocol.ParameterMap{
		ParamPlayerProperties: c.localPlayerProps(),
		ParamBroadcast:        true,
	}
	if name != "" {
		params[ParamRoomName] = name
	}
	if len(expectedUsers) > 0 {
		params[ParamAdd] = expectedUsers
	}
	if c.lobby.Name != "" {
		params[ParamLobbyName] = c.lobby.Name
		params[ParamLobbyType] = c.lobby.Type
	}
	return params
}

func (c *Client) enterRoom(code byte, name string, params protocol.ParameterMap, created bool) bool {
	prev := c.state
	if !c.send(code, params, peer.SendReliable) {
		return false
	}
	c.enter = &enterRoom{code: code, roomName: name, params: params, created: created, prevState: prev}
	c.setState(Joining)
	return true
}

func (c *Client) failEnter(code byte, rc int16, msg string) {
	c.onMatchmaking(func(cb MatchmakingCallbacks) {
		switch code {
		case OpCreateGame:
			cb.OnCreateRoomFailed(rc, msg)
		case OpJoinRandomGame:
			cb.OnJoinRandomFailed(rc, msg)
		default:
			cb.OnJoinRoomFailed(rc, msg)
		}
	})
}

// onMasterEntered: мастер подобрал комнату и выдал адрес игрового сервера.
func (c *Client) onMasterEntered(resp *protocol.OperationResponse) {
	enter := c.enter
	if enter == nil || enter.code != resp.Code {
		c.log.Warn("unexpected room response", zap.Uint8("code", resp.Code))
		return
	}
	if resp.ReturnCode != CodeOk {
		c.log.Warn("room operation failed on master",
			zap.Uint8("code", resp.Code),
			zap.Int16("rc", resp.ReturnCode),
			zap.String("msg", resp.DebugMessage))
		c.enter = nil
		c.setState(enter.prevState)
		c.failEnter(resp.Code, resp.ReturnCode, resp.DebugMessage)
		return
	}
	addr, _ := protocol.Get[string](resp.Parameters, ParamAddress)
	if addr == "" {
		c.log.Error("master returned no game server address")
		c.enter = nil
		c.setState(enter.prevState)
		c.failEnter(resp.Code, CodeInternalServerError, "no game server address")
		return
	}
	if name, ok := protocol.Get[string](resp.Parameters, ParamRoomName); ok && name != "" {
		enter.roomName = name
		enter.params[ParamRoomName] = name
	}
	if enter.code == OpJoinRandomGame {
		// на игровом сервере случайный вход — обычный вход по имени
		enter.code = OpJoinGame
		delete(enter.params, ParamGameProperties)
		enter.params[ParamPlayerProperties] = c.localPlayerProps()
		enter.params[ParamBroadcast] = true
	}
	c.gameAddress = addr
	c.inLobby = false
	c.setState(DisconnectingFromMasterServer)
	c.peer.Disconnect()
}

// onGameEntered: ответ игрового сервера на повторённую операцию входа.
func (c *Client) onGameEntered(resp *protocol.OperationResponse) {
	enter := c.enter
	c.enter = nil
	if resp.ReturnCode != CodeOk {
		c.log.Warn("room operation failed on game server",
			zap.Uint8("code", resp.Code),
			zap.Int16("rc", resp.ReturnCode),
			zap.String("msg", resp.DebugMessage))
		c.failEnter(resp.Code, resp.ReturnCode, resp.DebugMessage)
		c.setState(DisconnectingFromGameServer)
		c.peer.Disconnect()
		return
	}
	name := ""
	created := resp.Code == OpCreateGame
	if enter != nil {
		name = enter.roomName
		created = enter.created
	}
	if n, ok := protocol.Get[string](resp.Parameters, ParamRoomName); ok && n != "" {
		name = n
	}
	actor, _ := protocol.Get[int32](resp.Parameters, ParamActorNr)

	r := room.New(name, nil, c, c.log)
	c.localActor = actor
	r.StorePlayer(room.NewPlayer(actor, true, c.localPlayerProps()))
	if players, ok := protocol.Get[protocol.Hashtable](resp.Parameters, ParamPlayerProperties); ok {
		for k, v := range players {
			id, ok := toInt32(k)
			if !ok {
				continue
			}
			props, _ := v.(protocol.Hashtable)
			r.StorePlayer(room.NewPlayer(id, id == actor, props))
		}
	}
	for _, id := range actorList(resp.Parameters[ParamActorList]) {
		if r.Player(id) == nil {
			r.StorePlayer(room.NewPlayer(id, id == actor, nil))
		}
	}
	if props, ok := protocol.Get[protocol.Hashtable](resp.Parameters, ParamGameProperties); ok {
		r.CacheProperties(props)
	}
	r.MasterChanged = c.onMasterChanged
	c.currentRoom = r
	c.setState(Joined)

	c.log.Info("joined room", zap.String("room", name), zap.Int32("actor", actor), zap.Int("players", r.PlayerCount()))
	c.onMatchmaking(func(cb MatchmakingCallbacks) {
		if created {
			cb.OnCreatedRoom()
		}
		cb.OnJoinedRoom()
	})
}

// ========================= leave =========================

// OpLeaveRoom выходит из комнаты; becomeInactive оставляет место за
// игроком на время PlayerTTL.
func (c *Client) OpLeaveRoom(becomeInactive bool) bool {
	if !c.InRoom() {
		c.log.Warn("OpLeaveRoom: not in room", zap.Stringer("state", c.state))
		return false
	}
	if c.offline {
		c.leaveOffline()
		return true
	}
	var params protocol.ParameterMap
	if becomeInactive {
		params = protocol.ParameterMap{ParamIsInactive: true}
	}
	if !c.send(OpLeave, params, peer.SendReliable) {
		return false
	}
	c.setState(Leaving)
	return true
}

func (c *Client) onLeftRoom() {
	c.currentRoom = nil
	c.onMatchmaking(func(cb MatchmakingCallbacks) { cb.OnLeftRoom() })
	c.setState(DisconnectingFromGameServer)
	c.peer.Disconnect()
}

func (c *Client) onMasterChanged(_, next *room.Player) {
	c.onInRoom(func(cb InRoomCallbacks) { cb.OnMasterClientSwitched(next) })
}

// ========================= properties =========================

// SetRoomProperties реализует room.Operations.
func (c *Client) SetRoomProperties(props, expected protocol.Hashtable) bool {
	if c.offline {
		return c.setRoomPropertiesOffline(props, expected)
	}
	return c.opSetProperties(0, props, expected)
}

// SetActorProperties реализует room.Operations.
func (c *Client) SetActorProperties(actor int32, props, expected protocol.Hashtable) bool {
	if c.offline {
		return c.setActorPropertiesOffline(actor, props, expected)
	}
	return c.opSetProperties(actor, props, expected)
}

// OpSetPropertiesOfRoom — то же, что CurrentRoom().SetCustomProperties.
func (c *Client) OpSetPropertiesOfRoom(set, expected room.Properties) bool {
	if c.currentRoom == nil {
		c.log.Warn("OpSetPropertiesOfRoom: not in room")
		return false
	}
	return c.currentRoom.SetCustomProperties(set, expected)
}

// OpSetPropertiesOfActor меняет свойства игрока текущей комнаты.
func (c *Client) OpSetPropertiesOfActor(actor int32, set, expected room.Properties) bool {
	if c.currentRoom == nil {
		c.log.Warn("OpSetPropertiesOfActor: not in room")
		return false
	}
	p := c.currentRoom.Player(actor)
	if p == nil {
		c.log.Warn("OpSetPropertiesOfActor: unknown actor", zap.Int32("actor", actor))
		return false
	}
	return p.SetCustomProperties(set, expected)
}

// opSetProperties: свойства применятся, когда сервер разошлёт
// PropertiesChanged (в том числе отправителю).
func (c *Client) opSetProperties(actor int32, props, expected protocol.Hashtable) bool {
	if !c.InRoom() {
		c.log.Warn("SetProperties: not in room", zap.Stringer("state", c.state))
		return false
	}
	if len(props) == 0 {
		c.log.Warn("SetProperties: empty property set")
		return false
	}
	params := protocol.ParameterMap{
		ParamProperties: props,
		ParamBroadcast:  true,
	}
	if actor != 0 {
		params[ParamActorNr] = actor
	}
	if len(expected) > 0 {
		params[ParamExpectedValues] = expected
	}
	return c.send(OpSetProperties, params, peer.SendReliable)
}

// ========================= events / groups / friends =========================

// OpRaiseEvent отправляет пользовательское событие игрокам комнаты.
func (c *Client) OpRaiseEvent(code byte, content any, o RaiseEventOptions, so peer.SendOptions) bool {
	if !c.InRoom() {
		c.log.Warn("OpRaiseEvent: not in room", zap.Uint8("event", code), zap.Stringer("state", c.state))
		return false
	}
	if c.offline {
		c.raiseOffline(code, content, o)
		return true
	}
	params := protocol.ParameterMap{ParamCode: code}
	if content != nil {
		params[ParamData] = content
	}
	if len(o.TargetActors) > 0 {
		params[ParamActorList] = o.TargetActors
	} else if o.Receivers != ReceiversOthers {
		params[ParamReceiverGroup] = byte(o.Receivers)
	}
	if o.Caching != CacheDoNotCache {
		params[ParamCache] = byte(o.Caching)
	}
	if o.InterestGroup != 0 {
		params[ParamGroup] = o.InterestGroup
	}
	return c.send(OpRaiseEvent, params, so)
}

// OpChangeGroups меняет подписку на группы интересов. Nil — не трогать,
// пустой срез — все группы.
func (c *Client) OpChangeGroups(remove, add []byte) bool {
	if !c.InRoom() {
		c.log.Warn("OpChangeGroups: not in room")
		return false
	}
	if c.offline {
		return true
	}
	params := protocol.ParameterMap{}
	if remove != nil {
		params[ParamRemove] = remove
	}
	if add != nil {
		params[ParamAdd] = add
	}
	return c.send(OpChangeGroups, params, peer.SendReliable)
}

// OpFindFriends спрашивает мастер, кто из пользователей онлайн и где.
func (c *Client) OpFindFriends(userIDs []string) bool {
	if len(userIDs) == 0 {
		c.log.Warn("OpFindFriends: empty list")
		return false
	}
	if c.offline || !c.onMaster() {
		c.log.Warn("OpFindFriends: not on master server", zap.Stringer("state", c.state))
		return false
	}
	ids := append([]string(nil), userIDs...)
	if !c.send(OpFindFriends, protocol.ParameterMap{ParamFindFriendsRequestList: ids}, peer.SendReliable) {
		return false
	}
	c.friendsRequest = ids
	return true
}

func (c *Client) onFindFriends(resp *protocol.OperationResponse) {
	ids := c.friendsRequest
	c.friendsRequest = nil
	if resp.ReturnCode != CodeOk {
		c.log.Warn("FindFriends failed", zap.Int16("code", resp.ReturnCode), zap.String("msg", resp.DebugMessage))
		return
	}
	online := boolList(resp.Parameters[ParamFindFriendsResponseOnline])
	rooms := stringList(resp.Parameters[ParamFindFriendsResponseRooms])
	friends := make([]FriendInfo, len(ids))
	for i, id := range ids {
		friends[i].UserID = id
		if i < len(online) {
			friends[i].IsOnline = online[i]
		}
		if i < len(rooms) {
			friends[i].Room = rooms[i]
		}
	}
	c.onMatchmaking(func(cb MatchmakingCallbacks) { cb.OnFriendListUpdate(friends) })
}

// ========================= decode helpers =========================

func toInt32(v any) (int32, bool) {
	switch n := v.(type) {
	case int32:
		return n, true
	case int16:
		return int32(n), true
	case byte:
		return int32(n), true
	case int64:
		return int32(n), true
	case int:
		return int32(n), true
	}
	return 0, false
}

func actorList(v any) []int32 {
	switch l := v.(type) {
	case []int32:
		return l
	case []any:
		out := make([]int32, 0, len(l))
		for _, x := range l {
			if id, ok := toInt32(x); ok {
				out = append(out, id)
			}
		}
		return out
	}
	return nil
}

func boolList(v any) []bool {
	switch l := v.(type) {
	case []bool:
		return l
	case []any:
		out := make([]bool, len(l))
		for i, x := range l {
			out[i], _ = x.(bool)
		}
		return out
	}
	return nil
}

func stringList(v any) []string {
	switch l := v.(type) {
	case []string:
		return l
	case []any:
		out := make([]string, len(l))
		for i, x := range l {
			out[i], _ = x.(string)
		}
		return out
	}
	return nil
}
