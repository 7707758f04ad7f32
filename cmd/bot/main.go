package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"
	"time"

	"binance-dca-bot-go/internal/broker"
	"binance-dca-bot-go/internal/capital"
	"binance-dca-bot-go/internal/config"
	"binance-dca-bot-go/internal/engine"
	"binance-dca-bot-go/internal/indicator"
	"binance-dca-bot-go/internal/ledger"
	"binance-dca-bot-go/internal/logger"
	"binance-dca-bot-go/internal/notify"
	"binance-dca-bot-go/internal/reporter"
	"binance-dca-bot-go/internal/risk"

	"github.com/joho/godotenv"
)

func main() {
	configPath := flag.String("config", "config.json", "path to the JSON config file")
	mode := flag.String("mode", "paper", "trading mode: paper or live")
	flag.Parse()

	// Secrets come from the environment; a .env file is a convenience,
	// not a requirement.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.S().Fatalw("load config failed", "path", *configPath, "error", err)
	}
	logger.Init(cfg.Log)
	defer logger.Sync()
	log := logger.S()

	if *mode != "paper" && *mode != "live" {
		log.Fatalw("unknown mode, want paper or live", "mode", *mode)
	}

	for _, dir := range []string{filepath.Dir(cfg.DBPath), cfg.JournalPath} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log.Fatalw("create data directory failed", "dir", dir, "error", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var stream *broker.Stream
	if cfg.UsePriceStream {
		stream = broker.NewStream(cfg.Symbols, cfg.Testnet, log)
		stream.Start()
	}

	var b broker.Broker
	var paper *broker.Paper
	switch *mode {
	case "live":
		apiKey := os.Getenv("BINANCE_API_KEY")
		secretKey := os.Getenv("BINANCE_SECRET_KEY")
		if apiKey == "" || secretKey == "" {
			log.Fatalw("live mode requires BINANCE_API_KEY and BINANCE_SECRET_KEY")
		}
		b = broker.NewBinance(apiKey, secretKey, cfg.QuoteCurrency, cfg.Testnet, stream, log)
	default:
		// Paper trades against real market data through the keyless
		// public endpoints.
		market := broker.NewBinance("", "", cfg.QuoteCurrency, cfg.Testnet, stream, log)
		paper = broker.NewPaper(market, cfg.PaperBalance, cfg.TakerFeeRate, log)
		b = paper
	}

	store, err := ledger.Open(cfg.DBPath, log)
	if err != nil {
		log.Fatalw("open ledger failed", "path", cfg.DBPath, "error", err)
	}
	defer store.Close()

	journal, err := notify.OpenJournal(cfg.JournalPath)
	if err != nil {
		log.Fatalw("open notification journal failed", "path", cfg.JournalPath, "error", err)
	}
	defer journal.Close()

	var sender notify.Sender
	if token := os.Getenv("TELEGRAM_BOT_TOKEN"); token != "" {
		chatID, err := strconv.ParseInt(os.Getenv("TELEGRAM_CHAT_ID"), 10, 64)
		if err != nil {
			log.Fatalw("TELEGRAM_CHAT_ID must be a numeric chat id", "error", err)
		}
		tg, err := notify.NewTelegram(token, chatID)
		if err != nil {
			log.Fatalw("telegram init failed", "error", err)
		}
		sender = tg
	} else {
		log.Infow("TELEGRAM_BOT_TOKEN not set, notifications go to the log")
		sender = notify.NewLogSender(log)
	}
	dispatcher := notify.NewDispatcher(sender, journal, log)
	dispatcher.Start()

	cache := indicator.NewCache(time.Duration(cfg.Indicator.CacheTTLSec) * time.Second)
	limiter := indicator.NewSlidingLimiter(cfg.Indicator.RateLimitPer15Sec,
		15*time.Second, time.Duration(cfg.Indicator.RateLimitBufferMs)*time.Millisecond)
	var source indicator.Source
	switch cfg.Indicator.Source {
	case "api":
		secret := os.Getenv("TAAPI_SECRET")
		if secret == "" {
			log.Fatalw("indicator source api requires TAAPI_SECRET")
		}
		api := indicator.NewAPISource(cfg.Indicator.APIBaseURL, secret, cfg.QuoteCurrency,
			time.Duration(cfg.Indicator.TimeoutSec)*time.Second, log)
		source = indicator.NewChain(api, indicator.NewLocalSource(b, log))
	default:
		source = indicator.NewLocalSource(b, log)
	}
	indicators := indicator.NewService(source, cache, limiter, indicator.ServiceConfig{
		RSIOversold:        cfg.Entry.RSIOversold,
		VolumeLookback:     cfg.Entry.VolumeLookback,
		BaseGridPercent:    cfg.Strategy.GridPercent,
		HighVolGridPercent: cfg.Strategy.HighVolGridPercent,
	}, log)

	capitalMgr := capital.NewManager(b, cfg.Capital, cfg.QuoteCurrency, log)
	riskMgr := risk.NewManager(store, b, dispatcher, cfg.Risk, log)

	eng := engine.New(b, store, indicators, capitalMgr, riskMgr, dispatcher, engine.Config{
		Symbols:      cfg.Symbols,
		Strategy:     cfg.Strategy,
		EntryPercent: cfg.Capital.EntryPercent,
	}, log)

	rep := reporter.New(store, time.Duration(cfg.MetricsIntervalSec)*time.Second, log)
	eng.SetBalanceObserver(rep)

	sched := engine.NewScheduler(eng, cfg.Symbols,
		time.Duration(cfg.TickIntervalSec)*time.Second, log)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		sched.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		rep.Run(ctx)
	}()

	log.Infow("bot started", "mode", *mode, "symbols", cfg.Symbols,
		"testnet", cfg.Testnet, "tick_interval_sec", cfg.TickIntervalSec)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	received := <-sig
	log.Infow("shutdown signal received", "signal", received.String())

	cancel()
	wg.Wait()
	if stream != nil {
		stream.Stop()
	}
	dispatcher.Stop()

	rep.LogSessionSummary(context.Background())
	if paper != nil {
		log.Infow("paper session fees", "total_fees", paper.TotalFees())
	}
	log.Infow("bot stopped")
}
