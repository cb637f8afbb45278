package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/EgorLis/roomnet/internal/netview"
	"github.com/EgorLis/roomnet/internal/network"
	"github.com/EgorLis/roomnet/internal/protocol"
	"github.com/EgorLis/roomnet/internal/room"
	"github.com/EgorLis/roomnet/internal/runner"
	"github.com/EgorLis/roomnet/internal/session"
)

// sceneViewID — общий для всех клиентов объект сцены, владелец — мастер.
const sceneViewID int32 = 1

// greeter — цель RPC на объекте сцены.
type greeter struct{ log *zap.Logger }

func (g *greeter) Hello(name string, info netview.Info) {
	g.log.Info("hello", zap.String("from", name), zap.Int32("actor", info.Sender))
}

// roomHost входит в комнату после подключения к мастеру и пишет в лог
// всё, что происходит в комнате.
type roomHost struct {
	nc       *network.Context
	log      *zap.Logger
	roomName string
	opts     room.Options
	greeter  *greeter
	*connectWatch
}

func (h *roomHost) OnConnectedToMaster() {
	h.log.Info("on master, joining", zap.String("room", h.roomName))
	if !h.nc.Client().OpJoinOrCreateRoom(h.roomName, h.opts, nil) {
		h.log.Error("join request refused")
	}
	h.connectWatch.OnConnectedToMaster()
}

func (h *roomHost) OnFriendListUpdate([]session.FriendInfo) {}

func (h *roomHost) OnCreatedRoom() { h.log.Info("room created", zap.String("room", h.roomName)) }

func (h *roomHost) OnCreateRoomFailed(code int16, msg string) {
	h.log.Error("create failed", zap.Int16("code", code), zap.String("msg", msg))
}

func (h *roomHost) OnJoinRoomFailed(code int16, msg string) {
	h.log.Error("join failed", zap.Int16("code", code), zap.String("msg", msg))
}

func (h *roomHost) OnJoinRandomFailed(code int16, msg string) {
	h.log.Error("join random failed", zap.Int16("code", code), zap.String("msg", msg))
}

func (h *roomHost) OnJoinedRoom() {
	r := h.nc.Client().CurrentRoom()
	h.log.Info("joined", zap.String("room", r.Name()), zap.Int("players", r.PlayerCount()))

	v := netview.NewView(sceneViewID, 0).AddTarget(h.greeter)
	if err := h.nc.Views().Add(v); err != nil {
		h.log.Warn("scene view", zap.Error(err))
		return
	}
	h.nc.RPC(v, "Hello", netview.Others, h.nc.Client().NickName())
}

func (h *roomHost) OnLeftRoom() { h.log.Info("left room") }

func (h *roomHost) OnPlayerEnteredRoom(p *room.Player) {
	h.log.Info("player entered", zap.Stringer("player", p))
}

func (h *roomHost) OnPlayerLeftRoom(p *room.Player) {
	h.log.Info("player left", zap.Stringer("player", p))
}

func (h *roomHost) OnRoomPropertiesUpdate(changed protocol.Hashtable) {
	h.log.Info("room properties", zap.Any("changed", changed))
}

func (h *roomHost) OnPlayerPropertiesUpdate(p *room.Player, changed protocol.Hashtable) {
	h.log.Info("player properties", zap.Stringer("player", p), zap.Any("changed", changed))
}

func (h *roomHost) OnMasterClientSwitched(p *room.Player) {
	h.log.Info("master switched", zap.Stringer("master", p))
}

func (a *app) joinCmd() *cobra.Command {
	var (
		roomName   string
		nick       string
		maxPlayers uint8
	)
	cmd := &cobra.Command{
		Use:   "join",
		Short: "Войти в комнату (или создать её) и ждать Ctrl+C",
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := a.settings()
			if err != nil {
				return err
			}
			if roomName == "" {
				roomName = "room-" + uuid.NewString()[:8]
			}
			if nick != "" {
				s.NickName = nick
			}
			nc, err := a.newContext(s)
			if err != nil {
				return err
			}
			if err := nc.Table().Register(&greeter{}, "Hello"); err != nil {
				return err
			}

			opts := room.DefaultOptions()
			opts.MaxPlayers = maxPlayers
			host := &roomHost{
				nc:           nc,
				log:          a.log.Named("room"),
				roomName:     roomName,
				opts:         opts,
				greeter:      &greeter{log: a.log.Named("rpc")},
				connectWatch: newConnectWatch(),
			}
			nc.Client().AddCallbackTarget(host)

			r := runner.New(nc, s.Sync.SendRate, runner.WithLogger(a.log))
			if err := r.Start(); err != nil {
				return err
			}
			defer r.Stop()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			var started bool
			if err := r.Do(func() { started = nc.Connect() }); err != nil {
				return err
			}
			if !started {
				return errors.New("connect refused, see log")
			}
			a.log.Info("running, press Ctrl+C to stop", zap.String("room", roomName))

			var runErr error
			select {
			case <-ctx.Done():
			case cause := <-host.lost:
				runErr = fmt.Errorf("disconnected: %s", cause)
			}

			var summary string
			_ = r.Do(func() {
				summary = nc.Client().BestRegionSummary()
				if err := nc.Close(); err != nil {
					a.log.Warn("close", zap.Error(err))
				}
			})
			a.saveSummary(s, summary)
			return runErr
		},
	}
	cmd.Flags().StringVar(&roomName, "room", "", "имя комнаты (по умолчанию случайное)")
	cmd.Flags().StringVar(&nick, "nick", "", "имя игрока")
	cmd.Flags().Uint8Var(&maxPlayers, "max-players", 0, "лимит игроков при создании (0 — без лимита)")
	return cmd
}
