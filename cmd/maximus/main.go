package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/stevesarmiento/maximus/internal/application/port"
	"github.com/stevesarmiento/maximus/internal/application/usecase/swap"
	"github.com/stevesarmiento/maximus/internal/domain"
	"github.com/stevesarmiento/maximus/internal/infrastructure/config"
	"github.com/stevesarmiento/maximus/internal/infrastructure/logger"
	"github.com/stevesarmiento/maximus/internal/infrastructure/pricefeed"
	"github.com/stevesarmiento/maximus/internal/infrastructure/storage"
	"github.com/stevesarmiento/maximus/internal/infrastructure/titan"
	"github.com/stevesarmiento/maximus/internal/interfaces/console"
)

func main() {
	configPath := flag.String("config", "configs/config.toml", "path to config.toml")
	swapSpec := flag.String("swap", "", "run one quote stream: INPUT_MINT:OUTPUT_MINT:AMOUNT")
	userPubkey := flag.String("user", "", "wallet public key (base58) for -swap")
	exactOut := flag.Bool("exact-out", false, "treat -swap amount as the output leg")
	autoConfirm := flag.Int("auto", 0, "auto-confirm the best quote after N updates (0 = interactive)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Setup("info")
		log.Fatal().Err(err).Str("config", *configPath).Msg("load config failed")
	}
	logger.Setup(cfg.App.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	repo, err := storage.Open(cfg.Storage.Driver, cfg.Storage.DSN, cfg.Storage.Prefix)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.Storage.Driver).Msg("open storage failed")
	}
	defer repo.Close()

	cache := pricefeed.NewCache()
	manager := pricefeed.NewManager(
		cfg.PriceFeedURL(),
		cfg.Prices.Enabled && cfg.Prices.APIKey != "",
		cache, repo,
	)
	subscribeDefaults(manager, cfg.Prices.Tokens)
	manager.Start()
	defer manager.Stop()

	log.Info().
		Str("config", *configPath).
		Int("tokens", len(cfg.Prices.Tokens)).
		Str("storage", cfg.Storage.Driver).
		Msg("maximus started")

	if *swapSpec != "" {
		if err := runSwap(ctx, cfg, repo, *swapSpec, *userPubkey, *exactOut, *autoConfirm); err != nil {
			log.Fatal().Err(err).Msg("swap quote stream failed")
		}
		return
	}

	// Price streaming only: report cache contents at debug until interrupted.
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("shutting down")
			return
		case <-ticker.C:
			for key, p := range cache.GetAll() {
				log.Debug().Str("token", key).Float64("price", p.Price).
					Dur("age", p.Age()).Msg("cached price")
			}
		}
	}
}

// subscribeDefaults pre-subscribes configured tokens: well-known Solana
// symbols go through the on-chain channel, everything else by coin id.
func subscribeDefaults(m *pricefeed.Manager, tokens []string) {
	for _, token := range tokens {
		if addr, ok := domain.SolanaTokenAddresses[token]; ok {
			m.SubscribeOnchainPrice("solana", addr)
			continue
		}
		m.SubscribeSimplePrice(token)
	}
}

func runSwap(ctx context.Context, cfg *config.Config, repo port.Repository, spec, user string, exactOut bool, auto int) error {
	req, err := parseSwapSpec(spec, user, exactOut, cfg)
	if err != nil {
		return err
	}

	client, err := titan.NewClient(titan.Config{
		URL:      cfg.Titan.WsURL,
		APIToken: cfg.Titan.APIToken,
		Insecure: cfg.Titan.Insecure,
	})
	if err != nil {
		return err
	}
	defer client.Close()

	var display port.QuoteDisplay
	if auto > 0 {
		display = console.NewAutoConfirmDisplay(auto)
	} else {
		display = console.NewLiveQuoteDisplay(console.QuoteTableConfig{
			SymbolIn: "IN", SymbolOut: "OUT",
			DecimalsIn: 9, DecimalsOut: 6,
		}, os.Stdout, os.Stdin)
	}

	agg := swap.NewAggregator(client, repo)
	result, err := agg.StreamBestQuote(ctx, req, display)
	if err != nil {
		return err
	}
	if result.Cancelled {
		fmt.Println("swap cancelled")
		return nil
	}

	fmt.Printf("selected %s: in=%d out=%d (ref %s)\n",
		result.Provider, result.Quote.InAmount, result.Quote.OutAmount, result.Quote.ReferenceID)
	return nil
}

func parseSwapSpec(spec, user string, exactOut bool, cfg *config.Config) (domain.SwapQuoteRequest, error) {
	parts := strings.Split(spec, ":")
	if len(parts) != 3 {
		return domain.SwapQuoteRequest{}, fmt.Errorf("bad -swap %q, want INPUT_MINT:OUTPUT_MINT:AMOUNT", spec)
	}
	amount, err := strconv.ParseUint(parts[2], 10, 64)
	if err != nil {
		return domain.SwapQuoteRequest{}, fmt.Errorf("bad -swap amount %q: %w", parts[2], err)
	}
	if user == "" {
		return domain.SwapQuoteRequest{}, fmt.Errorf("-user is required with -swap")
	}

	mode := domain.SwapModeExactIn
	if exactOut {
		mode = domain.SwapModeExactOut
	}
	return domain.SwapQuoteRequest{
		InputMint:   parts[0],
		OutputMint:  parts[1],
		Amount:      amount,
		SwapMode:    mode,
		UserPubkey:  user,
		SlippageBps: uint16(cfg.Swap.SlippageBps),
		IntervalMs:  uint32(cfg.Swap.IntervalMs),
		NumQuotes:   uint32(cfg.Swap.NumQuotes),
	}, nil
}
