package peer

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/EgorLis/roomnet/internal/protocol"
)

// Кадр: [0xF3][kind][payload]. Старший бит kind — зашифрованный payload.
const (
	frameMagic    byte = 0xF3
	encryptedFlag byte = 0x80
)

type frameKind byte

const (
	kindOperationRequest  frameKind = 2
	kindOperationResponse frameKind = 3
	kindEvent             frameKind = 4
	kindInternalRequest   frameKind = 6
	kindInternalResponse  frameKind = 7
	kindAck               frameKind = 0x0F
)

// Внутренняя операция ping: клиентское время туда, серверное обратно.
const (
	internalPing       byte = 1
	pingKeyClientTime  byte = 1
	pingKeyServerTime  byte = 2
	senderParameterKey byte = 254
)

var errBadFrame = errors.New("peer: bad frame header")

func buildFrame(codec *protocol.Codec, kind frameKind, v any, enc Encryptor) ([]byte, error) {
	var payload bytes.Buffer
	if err := codec.MarshalTo(&payload, v); err != nil {
		return nil, err
	}
	body := payload.Bytes()
	k := byte(kind)
	if enc != nil {
		var err error
		if body, err = enc.Encrypt(body); err != nil {
			return nil, fmt.Errorf("encrypt: %w", err)
		}
		k |= encryptedFlag
	}
	frame := make([]byte, 0, 2+len(body))
	frame = append(frame, frameMagic, k)
	return append(frame, body...), nil
}

// parseFrame снимает заголовок и возвращает вид кадра и payload.
func parseFrame(frame []byte, enc Encryptor) (frameKind, []byte, error) {
	if len(frame) < 2 || frame[0] != frameMagic {
		return 0, nil, errBadFrame
	}
	kind := frameKind(frame[1] &^ encryptedFlag)
	payload := frame[2:]
	if frame[1]&encryptedFlag != 0 {
		if enc == nil {
			return 0, nil, fmt.Errorf("encrypted frame without encryptor: %w", errBadFrame)
		}
		var err error
		if payload, err = enc.Decrypt(payload); err != nil {
			return 0, nil, fmt.Errorf("decrypt: %w", err)
		}
	}
	return kind, payload, nil
}
