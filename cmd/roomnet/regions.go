package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/EgorLis/roomnet/internal/regions"
	"github.com/EgorLis/roomnet/internal/runner"
	"github.com/EgorLis/roomnet/internal/session"
)

// connectWatch ждёт подключения к мастеру или разрыва.
type connectWatch struct {
	ready chan struct{}
	lost  chan session.DisconnectCause
}

func newConnectWatch() *connectWatch {
	return &connectWatch{ready: make(chan struct{}, 1), lost: make(chan session.DisconnectCause, 1)}
}

func (w *connectWatch) OnConnected() {}

func (w *connectWatch) OnConnectedToMaster() {
	select {
	case w.ready <- struct{}{}:
	default:
	}
}

func (w *connectWatch) OnDisconnected(cause session.DisconnectCause) {
	select {
	case w.lost <- cause:
	default:
	}
}

func (w *connectWatch) OnRegionListReceived(*regions.Handler) {}
func (w *connectWatch) OnCustomAuthenticationFailed(string)   {}

func (a *app) regionsCmd() *cobra.Command {
	var fresh bool
	cmd := &cobra.Command{
		Use:   "regions",
		Short: "Показать регионы, их пинг и выбранный лучший",
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := a.settings()
			if err != nil {
				return err
			}
			s.FixedRegion = ""
			if fresh {
				s.BestRegionSummary = ""
			}
			nc, err := a.newContext(s)
			if err != nil {
				return err
			}
			w := newConnectWatch()
			nc.Client().AddCallbackTarget(w)

			r := runner.New(nc, s.Sync.SendRate, runner.WithLogger(a.log))
			if err := r.Start(); err != nil {
				return err
			}
			defer r.Stop()
			defer func() { _ = r.Do(func() { _ = nc.Close() }) }()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			var started bool
			if err := r.Do(func() { started = nc.Connect() }); err != nil {
				return err
			}
			if !started {
				return errors.New("connect refused, see log")
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case cause := <-w.lost:
				return fmt.Errorf("disconnected: %s", cause)
			case <-w.ready:
			}

			var list []regions.Region
			var summary string
			_ = r.Do(func() {
				list = nc.Client().RegionHandler().Regions()
				summary = nc.Client().BestRegionSummary()
			})
			for _, rg := range list {
				fmt.Println(rg.String())
			}
			fmt.Println("best:", summary)
			a.saveSummary(s, summary)
			return nil
		},
	}
	cmd.Flags().BoolVar(&fresh, "fresh", false, "не использовать сохранённый выбор региона")
	return cmd
}
