package session

// Коды операций.
const (
	OpAuthenticate   byte = 230
	OpJoinLobby      byte = 229
	OpLeaveLobby     byte = 228
	OpCreateGame     byte = 227
	OpJoinGame       byte = 226
	OpJoinRandomGame byte = 225
	OpLeave          byte = 254
	OpRaiseEvent     byte = 253
	OpSetProperties  byte = 252
	OpGetProperties  byte = 251
	OpChangeGroups   byte = 248
	OpFindFriends    byte = 222
	OpGetRegions     byte = 220
)

// Коды событий сервера.
const (
	EvGameList          byte = 230
	EvGameListUpdate    byte = 229
	EvAppStats          byte = 226
	EvLobbyStats        byte = 224
	EvJoin              byte = 255
	EvLeave             byte = 254
	EvPropertiesChanged byte = 253
	EvErrorInfo         byte = 251
)

// Коды параметров операций и событий.
const (
	ParamAddress          byte = 230
	ParamPeerCount        byte = 229
	ParamGameCount        byte = 228
	ParamMasterPeerCount  byte = 227
	ParamUserID           byte = 225
	ParamApplicationID    byte = 224
	ParamGameList         byte = 222
	ParamSecret           byte = 221
	ParamAppVersion       byte = 220
	ParamInfo             byte = 218
	ParamClientAuthType   byte = 217
	ParamClientAuthParams byte = 216
	ParamJoinMode         byte = 215
	ParamClientAuthData   byte = 214
	ParamLobbyName        byte = 213
	ParamLobbyType        byte = 212
	ParamRegion           byte = 210
	ParamMasterClientID   byte = 203
	ParamNickName         byte = 202
	ParamCluster          byte = 196

	ParamRoomName         byte = 255
	ParamActorNr          byte = 254
	ParamTargetActorNr    byte = 253
	ParamActorList        byte = 252
	ParamProperties       byte = 251
	ParamBroadcast        byte = 250
	ParamPlayerProperties byte = 249
	ParamGameProperties   byte = 248
	ParamCache            byte = 247
	ParamReceiverGroup    byte = 246
	ParamData             byte = 245
	ParamCode             byte = 244
	ParamGroup            byte = 240
	ParamRemove           byte = 239
	ParamAdd              byte = 238
	ParamEmptyRoomTTL     byte = 236
	ParamPlayerTTL        byte = 235
	ParamIsInactive       byte = 233
	ParamExpectedValues   byte = 231
)

// Параметры FindFriends.
const (
	ParamFindFriendsRequestList    byte = 1
	ParamFindFriendsResponseOnline byte = 1
	ParamFindFriendsResponseRooms  byte = 2
)

// Коды возврата сервера.
const (
	CodeOk                                int16 = 0
	CodeOperationNotAllowedInCurrentState int16 = -3
	CodeInvalidOperation                  int16 = -2
	CodeInternalServerError               int16 = -1
	CodeInvalidAuthentication             int16 = 32767
	CodeGameIDAlreadyExists               int16 = 32766
	CodeGameFull                          int16 = 32765
	CodeGameClosed                        int16 = 32764
	CodeServerFull                        int16 = 32762
	CodeUserBlocked                       int16 = 32761
	CodeNoRandomMatchFound                int16 = 32760
	CodeGameDoesNotExist                  int16 = 32758
	CodeMaxCcuReached                     int16 = 32757
	CodeInvalidRegion                     int16 = 32756
	CodeCustomAuthenticationFailed        int16 = 32755
	CodeAuthenticationTicketExpired       int16 = 32753
)

// JoinMode для OpJoinGame.
const (
	JoinModeDefault           byte = 0
	JoinModeCreateIfNotExists byte = 1
	JoinModeRejoinOnly        byte = 3
)

// ReceiverGroup для OpRaiseEvent.
type ReceiverGroup byte

const (
	ReceiversOthers       ReceiverGroup = 0
	ReceiversAll          ReceiverGroup = 1
	ReceiversMasterClient ReceiverGroup = 2
)

// EventCaching для OpRaiseEvent.
type EventCaching byte

const (
	CacheDoNotCache          EventCaching = 0
	CacheAddToRoomCache      EventCaching = 4
	CacheRemoveFromRoomCache EventCaching = 6
)
