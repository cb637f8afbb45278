// Package config — настройки приложения клиента (JSON-файл).
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/EgorLis/roomnet/internal/transport"
)

var ErrInvalid = errors.New("config: invalid settings")

// AuthNone — аутентификация без внешнего провайдера.
const AuthNone byte = 255

type PingSettings struct {
	Attempts            int `json:"attempts"`
	PerAttemptTimeoutMs int `json:"perAttemptTimeoutMs"`
}

// SyncSettings — частоты отправки и пороги «почти равно» для дельта-сжатия.
type SyncSettings struct {
	SendRate          int     `json:"sendRate"`          // отправок в секунду
	SerializationRate int     `json:"serializationRate"` // снимков в секунду
	VectorThreshold   float32 `json:"vectorThreshold"`   // квадрат расстояния
	QuaternionAngle   float32 `json:"quaternionAngle"`   // градусы
	FloatThreshold    float32 `json:"floatThreshold"`
}

type AppSettings struct {
	AppID      string `json:"appId"`
	AppVersion string `json:"appVersion"`
	UserID     string `json:"userId,omitempty"`
	NickName   string `json:"nickName,omitempty"`

	NameServer             string             `json:"nameServer"`
	Protocol               transport.Protocol `json:"protocol"`
	EnableProtocolFallback bool               `json:"enableProtocolFallback"`
	FixedRegion            string             `json:"fixedRegion,omitempty"`
	// BestRegionSummary — результат прошлого выбора региона, который хранит хост.
	BestRegionSummary string `json:"bestRegionSummary,omitempty"`
	AutoJoinLobby     bool   `json:"autoJoinLobby"`

	AuthType   byte   `json:"authType"`
	AuthParams string `json:"authParams,omitempty"`

	Ping                PingSettings `json:"ping"`
	KeepAliveIntervalMs int          `json:"keepAliveIntervalMs"`
	DisconnectTimeoutMs int          `json:"disconnectTimeoutMs"`
	Sync                SyncSettings `json:"sync"`
}

func Default() AppSettings {
	return AppSettings{
		AppVersion:             "1.0",
		NameServer:             "ns.exitgames.com:9090",
		Protocol:               transport.WebSocketSecure,
		EnableProtocolFallback: true,
		AutoJoinLobby:          false,
		AuthType:               AuthNone,
		Ping:                   PingSettings{Attempts: 5, PerAttemptTimeoutMs: 800},
		KeepAliveIntervalMs:    1000,
		DisconnectTimeoutMs:    10000,
		Sync: SyncSettings{
			SendRate:          30,
			SerializationRate: 10,
			VectorThreshold:   0.000099,
			QuaternionAngle:   1.0,
			FloatThreshold:    0.01,
		},
	}
}

// Validate проверяет диапазоны, заполняет пустое значениями по умолчанию
// и генерирует UserID, если его нет.
func (s *AppSettings) Validate() error {
	s.AppID = strings.TrimSpace(s.AppID)
	if s.AppID == "" {
		return fmt.Errorf("appId is required: %w", ErrInvalid)
	}
	if s.NameServer == "" {
		return fmt.Errorf("nameServer is required: %w", ErrInvalid)
	}
	def := Default()
	if s.AppVersion == "" {
		s.AppVersion = def.AppVersion
	}
	if s.UserID == "" {
		s.UserID = uuid.NewString()
	}
	s.FixedRegion = strings.ToLower(strings.TrimSpace(s.FixedRegion))

	if s.Ping.Attempts == 0 {
		s.Ping.Attempts = def.Ping.Attempts
	}
	if s.Ping.PerAttemptTimeoutMs == 0 {
		s.Ping.PerAttemptTimeoutMs = def.Ping.PerAttemptTimeoutMs
	}
	if s.Ping.Attempts < 1 || s.Ping.Attempts > 20 {
		return fmt.Errorf("ping.attempts %d out of [1,20]: %w", s.Ping.Attempts, ErrInvalid)
	}
	if s.Ping.PerAttemptTimeoutMs < 1 {
		return fmt.Errorf("ping.perAttemptTimeoutMs must be positive: %w", ErrInvalid)
	}

	if s.KeepAliveIntervalMs == 0 {
		s.KeepAliveIntervalMs = def.KeepAliveIntervalMs
	}
	if s.DisconnectTimeoutMs == 0 {
		s.DisconnectTimeoutMs = def.DisconnectTimeoutMs
	}
	if s.KeepAliveIntervalMs < 0 || s.DisconnectTimeoutMs <= s.KeepAliveIntervalMs {
		return fmt.Errorf("disconnectTimeoutMs must exceed keepAliveIntervalMs: %w", ErrInvalid)
	}

	if s.Sync.SendRate == 0 {
		s.Sync.SendRate = def.Sync.SendRate
	}
	if s.Sync.SerializationRate == 0 {
		s.Sync.SerializationRate = def.Sync.SerializationRate
	}
	if s.Sync.SerializationRate > s.Sync.SendRate {
		return fmt.Errorf("sync.serializationRate %d above sendRate %d: %w",
			s.Sync.SerializationRate, s.Sync.SendRate, ErrInvalid)
	}
	if s.Sync.VectorThreshold == 0 {
		s.Sync.VectorThreshold = def.Sync.VectorThreshold
	}
	if s.Sync.QuaternionAngle == 0 {
		s.Sync.QuaternionAngle = def.Sync.QuaternionAngle
	}
	if s.Sync.FloatThreshold == 0 {
		s.Sync.FloatThreshold = def.Sync.FloatThreshold
	}
	return nil
}

func (s AppSettings) KeepAliveInterval() time.Duration {
	return time.Duration(s.KeepAliveIntervalMs) * time.Millisecond
}

func (s AppSettings) DisconnectTimeout() time.Duration {
	return time.Duration(s.DisconnectTimeoutMs) * time.Millisecond
}

func (s AppSettings) PerAttemptTimeout() time.Duration {
	return time.Duration(s.Ping.PerAttemptTimeoutMs) * time.Millisecond
}

// Load читает настройки; отсутствующие в файле поля берутся из Default.
// Если файла нет — создаёт его с настройками по умолчанию.
func Load(path string) (AppSettings, error) {
	s := Default()
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, Save(path, s) // создаём шаблон
		}
		return s, err
	}
	if err := json.Unmarshal(b, &s); err != nil {
		return s, fmt.Errorf("parse %s: %w", path, err)
	}
	return s, nil
}

func Save(path string, s AppSettings) error {
	if dir := filepath.Dir(path); dir != "" {
		_ = os.MkdirAll(dir, 0755)
	}
	b, err := json.MarshalIndent(&s, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0644)
}
