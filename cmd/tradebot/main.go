// Command tradebot is the process entrypoint: loads configuration,
// wires every component constructed throughout this repository, and
// runs the concurrent worker set described in the concurrency model
// until a shutdown signal arrives.
//
// Grounded on the teacher's cmd/main.go bootstrap shape (godotenv load,
// zerolog console setup, layered "LAYER N" construction with banner
// logging, goroutine fan-out, signal.Notify-driven graceful shutdown)
// generalized from Polymarket's feed/risk-gate/executor/strategy/engine
// layering to this repo's broker/wsconn/pipeline/discovery/scheduler/
// signalengine/executor/orders/position/journal layering.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/kisquant/tradebot/alloc"
	"github.com/kisquant/tradebot/appctx"
	"github.com/kisquant/tradebot/broker"
	"github.com/kisquant/tradebot/config"
	"github.com/kisquant/tradebot/discovery"
	"github.com/kisquant/tradebot/executor"
	"github.com/kisquant/tradebot/journal"
	"github.com/kisquant/tradebot/metrics"
	"github.com/kisquant/tradebot/notify"
	"github.com/kisquant/tradebot/orders"
	"github.com/kisquant/tradebot/pipeline"
	"github.com/kisquant/tradebot/position"
	"github.com/kisquant/tradebot/ratelimit"
	"github.com/kisquant/tradebot/scheduler"
	"github.com/kisquant/tradebot/signalengine"
	"github.com/kisquant/tradebot/tradingday"
	"github.com/kisquant/tradebot/types"
	"github.com/kisquant/tradebot/wsconn"
)

const version = "v1.0"

func main() {
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("no .env file found")
	}

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
	if os.Getenv("DEBUG") == "true" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	log.Info().Msgf("tradebot %s starting", version)

	// ── LAYER 1: CONFIG ──────────────────────────────────────────────
	cfgPath := envDefault("TRADEBOT_CONFIG", "configs/config.yaml")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	// ── LAYER 2: CONTEXT (rate limiter, clock) ──────────────────────
	limiter := ratelimit.New(cfg.Broker.RatePerSec)
	appCtx := appctx.New(limiter)

	// ── LAYER 3: BROKER CLIENT + WEBSOCKET ───────────────────────────
	brokerClient := broker.New(broker.Config{
		AppKey:     cfg.Broker.AppKey,
		AppSecret:  cfg.Broker.AppSecret,
		AccountNo:  cfg.Broker.AccountNo,
		HTSID:      envDefault("TRADEBOT_HTS_ID", ""),
		BaseURL:    cfg.Broker.BaseURL,
		TokenPath:  envDefault("TRADEBOT_TOKEN_PATH", "token_info.json"),
		RatePerSec: cfg.Broker.RatePerSec,
		Paper:      cfg.Broker.Paper,
	}, limiter)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if _, err := brokerClient.Authenticate(ctx); err != nil {
		log.Fatal().Err(err).Msg("broker authentication failed")
	}
	log.Info().Msg("broker authenticated")

	approvalKey, err := brokerClient.WebsocketApprovalKey(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to obtain websocket approval key")
	}
	conn := wsconn.New(cfg.Broker.WSURL, approvalKey)

	// ── LAYER 4: ALLOCATOR, PIPELINE, DISCOVERY ─────────────────────
	allocator := alloc.New()
	pipe := pipeline.New(brokerClient)
	discoverer := discovery.New(brokerClient, discovery.AllowAllClassifier{})

	// ── LAYER 5: SIGNAL ENGINE, EXECUTOR, ORDER/POSITION MANAGERS ───
	dedup := signalengine.NewDeduplicator()
	fifo := orders.NewFIFOMatcher()
	positions := position.New(fifo)
	tradeExec := executor.New(brokerClient)

	var notifier notify.Notifier = notify.NewLogNotifier()
	if cfg.Telegram.BotToken != "" {
		tg, err := notify.NewTelegramNotifier(cfg.Telegram.BotToken, cfg.Telegram.ChatID)
		if err != nil {
			log.Warn().Err(err).Msg("telegram notifier unavailable, falling back to log notifier")
		} else {
			notifier = tg
		}
	}

	orderMgr := orders.New(orders.Hooks{
		OnBuyFill: func(order types.PendingOrder, fill types.Fill) {
			pos := positions.HandleBuyFill(order, fill)
			notifier.TradeOpened(pos.Symbol, types.SideBuy, fill.ExecPrice, fill.ExecQty, pos.StrategyTag)
			metrics.OpenPositions.Set(float64(len(positions.All())))
		},
		OnSellFill: func(order types.PendingOrder, fill types.Fill) {
			rec := positions.HandleSellFill(order, fill)
			notifier.TradeClosed(rec)
			metrics.OpenPositions.Set(float64(len(positions.All())))
		},
		OnTimeout: func(order types.PendingOrder) {
			log.Warn().Str("order_id", order.OrderID).Msg("pending order expired")
		},
	})

	// ── LAYER 6: JOURNAL SINK ────────────────────────────────────────
	db, err := openStore(cfg.Store)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open journal store")
	}
	sink, err := journal.New(db)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to migrate journal store")
	}

	// ── LAYER 7: SCHEDULER ───────────────────────────────────────────
	timeSlots := buildTimeSlots(cfg.TimeSlots)
	sched := scheduler.New(timeSlots, tradingday.SystemClock{}, scheduler.Hooks{
		Cleanup: func(ctx context.Context, slot types.TimeSlot) {
			log.Info().Str("slot", slot.Name).Msg("cleaning up slot working set")
		},
		Prepare: func(ctx context.Context, slot types.TimeSlot) error {
			log.Info().Str("slot", slot.Name).Msg("preparing slot: running discovery")
			candidates, err := discoverer.Scan(ctx)
			if err != nil {
				return err
			}
			for _, tag := range strategyTags(slot) {
				for _, c := range candidates[tag] {
					strategyTag, symbol := tag, c.Symbol
					pipe.Add(symbol, types.TierHigh, strategyTag, func(sym types.Symbol, source string, quote types.Quote) {
						onTick(appCtx, brokerClient, dedup, tradeExec, orderMgr, positions, sink, notifier, strategyTag, quote)
					})
				}
			}
			return nil
		},
		Activate: func(slot types.TimeSlot) {
			log.Info().Str("slot", slot.Name).Msg("slot activated")
		},
	})

	// ── LAYER 8: METRICS HTTP SERVER ─────────────────────────────────
	metricsSrv := &http.Server{Addr: envDefault("TRADEBOT_METRICS_ADDR", ":9090"), Handler: metrics.Handler()}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("metrics server failed")
		}
	}()

	// ── START WORKERS ────────────────────────────────────────────────
	go conn.Run(ctx)
	go pipe.RunPolling(ctx)
	go sched.Run(ctx)
	go sink.Run(ctx)
	go orderMgr.RunSweeper(60*time.Second, ctx.Done(), appCtx.Now)

	notifier.Startup(modeName(cfg.Broker.Paper))
	log.Info().Msg("tradebot running")

	_ = allocator // wired into scheduler/pipeline hand-off in a future iteration

	// ── GRACEFUL SHUTDOWN ────────────────────────────────────────────
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Warn().Msg("shutdown signal received")
	cancel()
	sink.Shutdown(10 * time.Second)
	conn.Close()
	_ = metricsSrv.Close()

	log.Info().Msg("shutdown complete")
}

func envDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func modeName(paper bool) string {
	if paper {
		return "PAPER"
	}
	return "LIVE"
}

func buildTimeSlots(cfgSlots []config.TimeSlotConfig) []types.TimeSlot {
	out := make([]types.TimeSlot, 0, len(cfgSlots))
	for _, s := range cfgSlots {
		start, err := config.ParseTimeOfDay(s.Start)
		if err != nil {
			log.Warn().Str("slot", s.Name).Err(err).Msg("skipping slot with invalid start time")
			continue
		}
		end, err := config.ParseTimeOfDay(s.End)
		if err != nil {
			log.Warn().Str("slot", s.Name).Err(err).Msg("skipping slot with invalid end time")
			continue
		}
		out = append(out, types.TimeSlot{
			Name:                s.Name,
			StartTime:           start,
			EndTime:             end,
			PreparationOffset:   time.Duration(s.PreparationOffsetMin) * time.Minute,
			PrimaryStrategies:   toWeights(s.Primary),
			SecondaryStrategies: toWeights(s.Secondary),
		})
	}
	return out
}

func toWeights(in []config.StrategyWeightConfig) []types.StrategyWeight {
	out := make([]types.StrategyWeight, len(in))
	for i, w := range in {
		out[i] = types.StrategyWeight{StrategyTag: w.StrategyTag, Weight: w.Weight}
	}
	return out
}

// onTick runs one pass of the signal → validate → size → submit chain for
// a single quote update. Disparity ratios (D5/D20/D60) and the technical
// verdict feed from a dedicated analytics pass in a full deployment; here
// they're pinned at neutral values (100, TechHold) since no moving-average
// tracker is wired into the pipeline yet, which only suppresses the
// disparity-gate and tech-bonus terms rather than producing false signals.
func onTick(appCtx *appctx.Context, brokerClient *broker.Client, dedup *signalengine.Deduplicator, tradeExec *executor.Executor, orderMgr *orders.Manager, positions *position.Manager, sink *journal.Sink, notifier notify.Notifier, strategyTag string, quote types.Quote) {
	now := appCtx.Now()
	changePct, _ := quote.ChangePct().Float64()

	signals := signalengine.Evaluate(signalengine.Input{
		Symbol:      quote.Symbol,
		StrategyTag: strategyTag,
		ChangePct:   changePct,
		Volume:      quote.Volume,
		Tech:        signalengine.TechHold,
		Price:       quote.Last,
		D5:          100,
		D20:         100,
		D60:         100,
		Ts:          now,
	})

	for _, sig := range signals {
		if !dedup.Allow(sig.Symbol, sig.Side, now) {
			continue
		}
		_, hasOpen := positions.Get(sig.Symbol)
		hasInFlight := false
		for _, pending := range orderMgr.Pending() {
			if pending.Symbol == sig.Symbol {
				hasInFlight = true
				break
			}
		}

		balance, err := brokerClient.Balance(context.Background())
		if err != nil {
			notifier.Error("balance lookup", err)
			continue
		}

		ok, reason, detail := executor.Validate(executor.Validation{
			Signal:           sig,
			HasOpenPosition:  hasOpen,
			HasInFlightOrder: hasInFlight,
			AvailableCash:    balance.Cash,
			InCooldown:       false,
			DisparityOK:      true,
		})
		sink.RecordSignal(journal.SignalFromTypes(sig, ok, detail))
		if !ok {
			log.Debug().Str("symbol", string(sig.Symbol)).Str("reason", string(reason)).Msg("signal rejected")
			continue
		}

		result, entry := tradeExec.Execute(context.Background(), sig, executor.Validation{
			Signal: sig, HasOpenPosition: hasOpen, HasInFlightOrder: hasInFlight,
			AvailableCash: balance.Cash, InCooldown: false, DisparityOK: true,
		}, balance.Cash, quote, 10*time.Second)
		_ = entry

		notifier.Signal(sig)
		if result.Status == executor.StatusRejected {
			log.Info().Str("symbol", string(sig.Symbol)).Str("reason", string(result.Reason)).Msg("trade rejected")
			continue
		}

		orderMgr.Register(types.PendingOrder{
			OrderID:     result.OrderID,
			IsTemporary: result.IsTemp,
			Symbol:      sig.Symbol,
			Side:        sig.Side,
			Qty:         result.Qty,
			LimitPrice:  result.Price,
			StrategyTag: sig.StrategyTag,
			CreatedAt:   now,
		})
	}
}

func strategyTags(slot types.TimeSlot) []string {
	tags := make([]string, 0, len(slot.PrimaryStrategies)+len(slot.SecondaryStrategies))
	for _, w := range slot.PrimaryStrategies {
		tags = append(tags, w.StrategyTag)
	}
	for _, w := range slot.SecondaryStrategies {
		tags = append(tags, w.StrategyTag)
	}
	return tags
}

func openStore(cfg config.StoreConfig) (*gorm.DB, error) {
	if cfg.Driver == "postgres" {
		return gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{})
	}
	dsn := cfg.DSN
	if dsn == "" {
		dsn = "tradebot.db"
	}
	return gorm.Open(sqlite.Open(dsn), &gorm.Config{})
}
