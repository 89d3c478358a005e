package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/vitos/crypto_paper_bot/internal/domain"
	"github.com/vitos/crypto_paper_bot/internal/infrastructure/exchange"
	"github.com/vitos/crypto_paper_bot/internal/infrastructure/logger"
	"github.com/vitos/crypto_paper_bot/internal/infrastructure/storage"
	"github.com/vitos/crypto_paper_bot/internal/usecase"
	"github.com/vitos/crypto_paper_bot/internal/web"
)

type Config struct {
	Market struct {
		RESTEndpoint string `yaml:"rest_endpoint"`
		WSEndpoint   string `yaml:"ws_endpoint"`
	} `yaml:"market"`
	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`
	Live struct {
		PollMs int    `yaml:"poll_ms"`
		Source string `yaml:"source"` // "poll" or "websocket"
	} `yaml:"live"`
	Logging struct {
		Level       string `yaml:"level"`
		RunnerLog   string `yaml:"runner_log"`
		RunnerLevel string `yaml:"runner_level"`
	} `yaml:"logging"`
	Server struct {
		Port int `yaml:"port"`
	} `yaml:"server"`
}

func loadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func main() {
	// 1. Load Config
	cfg, err := loadConfig("config/config.yaml")
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 2. Init Logger
	log, err := logger.NewLogger(cfg.Logging.Level)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// 3. Init Storage
	dbPath := cfg.Database.Path
	if dbPath == "" {
		dbPath = "bot.db"
	}
	store, err := storage.NewSQLiteStore(dbPath)
	if err != nil {
		log.Fatal("Failed to init sqlite", zap.Error(err))
	}
	defer store.Close()

	// 4. Init Exchange (Binance)
	binance := exchange.NewBinanceAdapter(cfg.Market.RESTEndpoint, cfg.Market.WSEndpoint)

	// 5. Init Engine + Live Runner
	engine := usecase.NewEngine(store, log)

	pollMs := cfg.Live.PollMs
	if pollMs == 0 {
		pollMs = 5000
	}
	runnerLog := log
	if cfg.Logging.RunnerLog != "" {
		runnerLog, err = logger.NewFileLogger(cfg.Logging.RunnerLog, cfg.Logging.RunnerLevel)
		if err != nil {
			log.Error("Failed to init runner logger, using default", zap.Error(err))
			runnerLog = log
		}
	}
	runner := usecase.NewLiveRunner(engine, binance, time.Duration(pollMs)*time.Millisecond, runnerLog)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	// 6. Drive live ticks: either the polling runner or pushed
	// websocket prices, never both.
	if cfg.Live.Source == "websocket" {
		binance.OnPriceUpdate(func(symbol string, price decimal.Decimal) {
			st := engine.Status()
			if !st.Running || st.Mode != domain.ModeLive || st.Symbol != symbol {
				return
			}
			if err := engine.ProcessLiveTick(ctx, price, time.Now().UTC(), runner.RiskPct()); err != nil {
				log.Error("Error processing tick", zap.Error(err))
			}
		})
		go watchLiveSymbol(ctx, engine, binance, log)
	} else {
		go runner.Run(ctx)
	}

	// 7. Init Web Server
	port := cfg.Server.Port
	if port == 0 {
		port = 8080
	}
	server := web.NewServer(port, engine, runner, binance, store, log)

	go func() {
		if err := server.Start(); err != nil {
			log.Fatal("Server failed", zap.Error(err))
		}
	}()

	// 8. Wait for Shutdown
	<-stop

	log.Info("Shutting down...")
	engine.Stop()
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	server.Shutdown(shutdownCtx)
}

// watchLiveSymbol keeps the websocket subscription aligned with the
// current live session and forwards pushed prices into the engine.
func watchLiveSymbol(ctx context.Context, engine *usecase.Engine, binance *exchange.BinanceAdapter, log *zap.Logger) {
	subscribed := make(map[string]bool)

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		st := engine.Status()
		if !st.Running || st.Mode != domain.ModeLive || subscribed[st.Symbol] {
			continue
		}

		log.Info("Subscribing to live prices", zap.String("symbol", st.Symbol))
		if err := binance.ConnectWS([]string{st.Symbol}); err != nil {
			log.Error("Failed to subscribe", zap.Error(err))
			continue
		}
		subscribed[st.Symbol] = true
	}
}
