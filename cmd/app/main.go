package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	binanceadapter "tradecore/internal/adapters/exchange/binance"
	"tradecore/internal/domain"
	"tradecore/internal/infra/ratelimit"
	"tradecore/internal/infra/sign"
	"tradecore/internal/transport/cli"
	"tradecore/internal/usecase/gateway"
	"tradecore/internal/usecase/orderbook"
	"tradecore/internal/usecase/stream"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "params.json", "путь к JSON с параметрами")
	flag.Parse()

	// .env опционален: ключи можно задать и обычными переменными окружения
	_ = godotenv.Load()

	log, err := zap.NewDevelopment()
	if err != nil {
		fmt.Fprintf(os.Stderr, "логгер: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	p, err := loadParams(cfgPath)
	if err != nil {
		log.Fatal("параметры", zap.Error(err))
	}

	keys := sign.KeyPair{
		APIKey: os.Getenv("BINANCE_API_KEY"),
		Secret: os.Getenv("BINANCE_API_SECRET"),
	}
	signer := sign.New(keys).WithRecvWindow(5000)

	ex := binanceadapter.New(p, signer, log)
	engine := orderbook.NewEngine(p.Symbol)
	lim := ratelimit.New(p.RateBudgets, time.Duration(p.WaitTimeoutMS)*time.Millisecond)
	sup := stream.NewSupervisor(ex, engine, lim, p, log)
	gw := gateway.New(ex, lim, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	supErr := make(chan error, 1)
	go func() { supErr <- sup.Run(ctx) }()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	cmds := make(chan cli.Command)
	go func() {
		r := bufio.NewReader(os.Stdin)
		for {
			cmd, ok := cli.ReadCommand(r)
			if !ok {
				continue
			}
			cmds <- cmd
			if cmd.Name == "quit" {
				return
			}
		}
	}()

	pr := cli.NewCLIPresenter()
	fmt.Printf("Торговый терминал: %s\n", p.Symbol)
	cli.PrintHelp()

	supDone := false
loop:
	for {
		select {
		case <-stop:
			fmt.Println("\nЗавершение...")
			break loop

		case err := <-supErr:
			supDone = true
			if err != nil {
				log.Error("поток рыночных данных остановлен", zap.Error(err))
			}
			break loop

		case cmd := <-cmds:
			if cmd.Name == "quit" {
				break loop
			}
			handle(ctx, cmd, pr, engine, sup, gw, p)
		}
	}

	sup.Close()
	cancel()

	if !supDone {
		select {
		case <-supErr:
		case <-time.After(10 * time.Second):
			log.Warn("супервизор не остановился за отведённое время")
		}
	}
}

func handle(ctx context.Context, cmd cli.Command, pr *cli.CLIPresenter,
	engine *orderbook.Engine, sup *stream.Supervisor, gw *gateway.Gateway, p domain.Params) {

	switch cmd.Name {
	case "book":
		bids, asks := engine.Query(p.Depth)
		pr.ShowTopOfBook(p.Symbol, sup.State().String(), bids, asks)

	case "buy", "sell":
		side := domain.SideBuy
		if cmd.Name == "sell" {
			side = domain.SideSell
		}
		o, err := gw.SubmitOrder(ctx, domain.OrderSpec{
			Symbol:   p.Symbol,
			Side:     side,
			Price:    cmd.Price,
			Quantity: cmd.Quantity,
		})
		if err != nil {
			pr.Warnf("Заявка не принята: %v\n", err)
		}
		if o.ClientID != "" {
			pr.ShowOrder(o)
		}

	case "cost":
		_, asks := engine.Query(0)
		qty, avg, spent := orderbook.QtyForNotional(asks, cmd.Amount)
		pr.ShowCostPreview(cmd.Amount, qty, avg, spent)

	case "proceeds":
		bids, _ := engine.Query(0)
		proceeds, avg, sold := orderbook.NotionalForQty(bids, cmd.Amount)
		pr.ShowProceedsPreview(cmd.Amount, proceeds, avg, sold)

	case "cancel":
		o, err := gw.CancelOrder(ctx, cmd.ClientID)
		if err != nil {
			pr.Warnf("Отмена: %v\n", err)
			return
		}
		pr.ShowOrder(o)

	case "reconcile":
		o, err := gw.Reconcile(ctx, cmd.ClientID)
		if err != nil {
			pr.Warnf("Сверка: %v\n", err)
			return
		}
		pr.ShowOrder(o)

	case "status":
		if cmd.ClientID == "" {
			pr.ShowOrders(gw.Orders())
			return
		}
		o, ok := gw.Order(cmd.ClientID)
		if !ok {
			pr.Warnf("Неизвестная заявка %s\n", cmd.ClientID)
			return
		}
		pr.ShowOrder(o)
	}
}

// loadParams читает параметры из JSON и дозаполняет значения по умолчанию.
// Отсутствующий файл — не ошибка: работаем на дефолтах.
func loadParams(path string) (domain.Params, error) {
	p := domain.Params{
		Symbol:        "BTCUSDT",
		Depth:         5,
		WaitTimeoutMS: 2000,
	}

	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json.Unmarshal(raw, &p); err != nil {
			return domain.Params{}, fmt.Errorf("разбор %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
		// дефолты
	default:
		return domain.Params{}, err
	}

	if p.Symbol == "" {
		return domain.Params{}, fmt.Errorf("symbol не задан")
	}
	if p.Depth <= 0 {
		p.Depth = 5
	}
	if p.WaitTimeoutMS <= 0 {
		p.WaitTimeoutMS = 2000
	}
	if p.RateBudgets == nil {
		p.RateBudgets = map[string]domain.RateBudget{
			ratelimit.ClassOrder:    {Capacity: 10, RefillPerSec: 10},
			ratelimit.ClassCancel:   {Capacity: 10, RefillPerSec: 10},
			ratelimit.ClassQuery:    {Capacity: 20, RefillPerSec: 20},
			ratelimit.ClassSnapshot: {Capacity: 5, RefillPerSec: 1},
		}
	}
	return p, nil
}
