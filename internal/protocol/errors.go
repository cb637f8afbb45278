package protocol

import "errors"

var (
	// ErrUnsupportedLength — строка или массив не помещаются в префикс длины.
	ErrUnsupportedLength = errors.New("protocol: unsupported length")
	// ErrUnsupportedType — значение нельзя закодировать.
	ErrUnsupportedType = errors.New("protocol: unsupported type")
	// ErrProtocol — неизвестный тег или повреждённые данные при декодировании.
	ErrProtocol = errors.New("protocol: malformed data")
)
