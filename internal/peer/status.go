package peer

import "fmt"

// StatusCode — изменения состояния соединения, которые получает Listener.
type StatusCode int

const (
	StatusExceptionOnConnect    StatusCode = 1023
	StatusConnect               StatusCode = 1024
	StatusDisconnect            StatusCode = 1025
	StatusException             StatusCode = 1026
	StatusSendError             StatusCode = 1030
	StatusTimeoutDisconnect     StatusCode = 1040
	StatusDisconnectByServer    StatusCode = 1041
	StatusEncryptionEstablished StatusCode = 1048
)

func (s StatusCode) String() string {
	switch s {
	case StatusExceptionOnConnect:
		return "ExceptionOnConnect"
	case StatusConnect:
		return "Connect"
	case StatusDisconnect:
		return "Disconnect"
	case StatusException:
		return "Exception"
	case StatusSendError:
		return "SendError"
	case StatusTimeoutDisconnect:
		return "TimeoutDisconnect"
	case StatusDisconnectByServer:
		return "DisconnectByServer"
	case StatusEncryptionEstablished:
		return "EncryptionEstablished"
	}
	return fmt.Sprintf("StatusCode(%d)", int(s))
}
