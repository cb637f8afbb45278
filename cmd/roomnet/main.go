package main

import (
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/EgorLis/roomnet/internal/config"
	"github.com/EgorLis/roomnet/internal/network"
	"github.com/EgorLis/roomnet/internal/peer"
	"github.com/EgorLis/roomnet/internal/regions"
	"github.com/EgorLis/roomnet/internal/session"
)

const metricsNamespace = "roomnet"

type app struct {
	configPath  string
	debug       bool
	metricsAddr string

	log *zap.Logger
}

func main() {
	a := &app{}
	root := &cobra.Command{
		Use:   "roomnet",
		Short: "Клиент комнат реального времени",
		Long: `roomnet подключается к name server, выбирает регион,
входит в комнату и держит соединение до Ctrl+C.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
		PersistentPostRun: func(*cobra.Command, []string) { _ = a.log.Sync() },
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "conf/roomnet.json", "файл настроек")
	root.PersistentFlags().BoolVar(&a.debug, "debug", false, "подробный лог")
	root.PersistentFlags().StringVar(&a.metricsAddr, "metrics", "", "адрес для /metrics (пусто — выключено)")

	root.AddCommand(a.regionsCmd(), a.joinCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %s\n", err)
		os.Exit(1)
	}
}

func (a *app) setup(*cobra.Command, []string) error {
	var err error
	if a.debug {
		a.log, err = zap.NewDevelopment()
	} else {
		a.log, err = zap.NewProduction()
	}
	return err
}

func (a *app) settings() (config.AppSettings, error) {
	s, err := config.Load(a.configPath)
	if err != nil {
		return s, err
	}
	if err := s.Validate(); err != nil {
		if errors.Is(err, config.ErrInvalid) {
			return s, fmt.Errorf("%s: %w", a.configPath, err)
		}
		return s, err
	}
	return s, nil
}

// newContext собирает сетевой контекст; метрики — если задан --metrics.
func (a *app) newContext(s config.AppSettings) (*network.Context, error) {
	var sessOpts []session.Option
	if a.metricsAddr != "" {
		reg := prometheus.NewRegistry()
		sessOpts = append(sessOpts,
			session.WithPeerOptions(peer.WithMetrics(peer.NewMetrics(reg, metricsNamespace))),
			session.WithRegionMetrics(regions.NewMetrics(reg, metricsNamespace)),
		)
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		go func() {
			if err := http.ListenAndServe(a.metricsAddr, mux); err != nil {
				a.log.Error("metrics server", zap.Error(err))
			}
		}()
	}
	return network.New(s,
		network.WithLogger(a.log),
		network.WithSessionOptions(sessOpts...),
	)
}

// saveSummary сохраняет результат выбора региона для следующего запуска.
func (a *app) saveSummary(s config.AppSettings, summary string) {
	if summary == "" || summary == s.BestRegionSummary {
		return
	}
	s.BestRegionSummary = summary
	if err := config.Save(a.configPath, s); err != nil {
		a.log.Warn("save region summary", zap.Error(err))
	}
}
