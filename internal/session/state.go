package session

import "fmt"

// ClientState — фаза сессии; определяет, какие операции сейчас разрешены.
type ClientState int

const (
	PeerCreated ClientState = iota
	ConnectingToNameServer
	ConnectedToNameServer
	DisconnectingFromNameServer
	Authenticating
	ConnectingToMasterServer
	ConnectedToMasterServer
	DisconnectingFromMasterServer
	JoiningLobby
	JoinedLobby
	LeavingLobby
	ConnectingToGameServer
	ConnectedToGameServer
	Joining
	Joined
	Leaving
	DisconnectingFromGameServer
	Disconnecting
	Disconnected
	ConnectWithFallbackProtocol
)

var stateNames = [...]string{
	PeerCreated:                   "PeerCreated",
	ConnectingToNameServer:        "ConnectingToNameServer",
	ConnectedToNameServer:         "ConnectedToNameServer",
	DisconnectingFromNameServer:   "DisconnectingFromNameServer",
	Authenticating:                "Authenticating",
	ConnectingToMasterServer:      "ConnectingToMasterServer",
	ConnectedToMasterServer:       "ConnectedToMasterServer",
	DisconnectingFromMasterServer: "DisconnectingFromMasterServer",
	JoiningLobby:                  "JoiningLobby",
	JoinedLobby:                   "JoinedLobby",
	LeavingLobby:                  "LeavingLobby",
	ConnectingToGameServer:        "ConnectingToGameServer",
	ConnectedToGameServer:         "ConnectedToGameServer",
	Joining:                       "Joining",
	Joined:                        "Joined",
	Leaving:                       "Leaving",
	DisconnectingFromGameServer:   "DisconnectingFromGameServer",
	Disconnecting:                 "Disconnecting",
	Disconnected:                  "Disconnected",
	ConnectWithFallbackProtocol:   "ConnectWithFallbackProtocol",
}

func (s ClientState) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("ClientState(%d)", int(s))
}

// ServerConnection — к какому серверу подключён клиент.
type ServerConnection int

const (
	NameServer ServerConnection = iota
	MasterServer
	GameServer
)

func (s ServerConnection) String() string {
	switch s {
	case NameServer:
		return "NameServer"
	case MasterServer:
		return "MasterServer"
	case GameServer:
		return "GameServer"
	}
	return fmt.Sprintf("ServerConnection(%d)", int(s))
}

// DisconnectCause — почему сессия закончилась.
type DisconnectCause int

const (
	CauseNone DisconnectCause = iota
	CauseExceptionOnConnect
	CauseException
	CauseServerTimeout
	CauseClientTimeout
	CauseDisconnectByServerLogic
	CauseDisconnectByServerReasonUnknown
	CauseInvalidAuthentication
	CauseCustomAuthenticationFailed
	CauseAuthenticationTicketExpired
	CauseMaxCcuReached
	CauseInvalidRegion
	CauseOperationNotAllowedInCurrentState
	CauseDisconnectByClientLogic
)

var causeNames = [...]string{
	CauseNone:                              "None",
	CauseExceptionOnConnect:                "ExceptionOnConnect",
	CauseException:                         "Exception",
	CauseServerTimeout:                     "ServerTimeout",
	CauseClientTimeout:                     "ClientTimeout",
	CauseDisconnectByServerLogic:           "DisconnectByServerLogic",
	CauseDisconnectByServerReasonUnknown:   "DisconnectByServerReasonUnknown",
	CauseInvalidAuthentication:             "InvalidAuthentication",
	CauseCustomAuthenticationFailed:        "CustomAuthenticationFailed",
	CauseAuthenticationTicketExpired:       "AuthenticationTicketExpired",
	CauseMaxCcuReached:                     "MaxCcuReached",
	CauseInvalidRegion:                     "InvalidRegion",
	CauseOperationNotAllowedInCurrentState: "OperationNotAllowedInCurrentState",
	CauseDisconnectByClientLogic:           "DisconnectByClientLogic",
}

func (c DisconnectCause) String() string {
	if c >= 0 && int(c) < len(causeNames) {
		return causeNames[c]
	}
	return fmt.Sprintf("DisconnectCause(%d)", int(c))
}

// causeForAuthError переводит код ошибки аутентификации в причину отключения.
func causeForAuthError(code int16) DisconnectCause {
	switch code {
	case CodeInvalidAuthentication:
		return CauseInvalidAuthentication
	case CodeCustomAuthenticationFailed:
		return CauseCustomAuthenticationFailed
	case CodeInvalidRegion:
		return CauseInvalidRegion
	case CodeMaxCcuReached:
		return CauseMaxCcuReached
	case CodeAuthenticationTicketExpired:
		return CauseAuthenticationTicketExpired
	case CodeOperationNotAllowedInCurrentState:
		return CauseOperationNotAllowedInCurrentState
	}
	return CauseDisconnectByServerReasonUnknown
}
