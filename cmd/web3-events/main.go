// Command web3-events runs a single-contract confirmation-aware event
// pipeline against a Postgres-backed buffer, printing confirmed events
// to stdout as they arrive. It is a thin wiring layer — the hard
// engineering lives in core/services/events.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/viper"
	"github.com/urfave/cli"
	"go.uber.org/multierr"
	"go.uber.org/zap/zapcore"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/lgtm-migrator/web3-events/core/logger"
	"github.com/lgtm-migrator/web3-events/core/services/events"
	"github.com/lgtm-migrator/web3-events/core/store"
)

func main() {
	app := cli.NewApp()
	app.Name = "web3-events"
	app.Usage = "stream confirmed contract-log events after reorg-safe buffering"
	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "config", Usage: "path to a viper-compatible config file"},
		cli.StringFlag{Name: "rpc-url", Usage: "chain JSON-RPC endpoint"},
		cli.StringFlag{Name: "database-url", Usage: "Postgres connection string"},
		cli.StringFlag{Name: "contract", Usage: "contract address to watch"},
		cli.Uint64Flag{Name: "confirmations", Value: 12, Usage: "confirmation depth before emitting"},
		cli.Uint64Flag{Name: "batch-size", Value: 120, Usage: "blocks per historical catch-up batch"},
		cli.DurationFlag{Name: "polling-interval", Value: 5 * time.Second},
		cli.IntFlag{Name: "metrics-port", Value: 9105},
	}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("web3-events: %v", err))
		os.Exit(1)
	}
}

func run(c *cli.Context) (err error) {
	v := viper.New()
	v.SetEnvPrefix("WEB3_EVENTS")
	v.AutomaticEnv()
	if path := c.String("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return err
		}
	}
	bindFlag(v, c, "rpc-url")
	bindFlag(v, c, "database-url")
	bindFlag(v, c, "contract")

	log, err := logger.New(zapcore.InfoLevel)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	client, err := ethclient.DialContext(ctx, v.GetString("rpc-url"))
	if err != nil {
		return err
	}
	source := events.NewEthLogSource(client)

	sqlDB, err := sql.Open("postgres", v.GetString("database-url"))
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, sqlDB.Close()) }()
	if err := store.Migrate(sqlDB); err != nil {
		return err
	}
	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{})
	if err != nil {
		return err
	}

	contract := common.HexToAddress(v.GetString("contract"))
	blockTracker := events.NewBlockTracker(store.NewBlockTrackerStore(db), contract.Hex())
	buffer := events.NewConfirmationBuffer(store.NewBufferRepository(db))

	reg := prometheus.NewRegistry()
	metrics, err := events.NewMetrics(reg, contract.Hex())
	if err != nil {
		return err
	}
	go serveMetrics(reg, c.Int("metrics-port"))

	opts := events.DefaultOptions(contract)
	opts.Confirmations = c.Uint64("confirmations")
	opts.BatchSize = c.Uint64("batch-size")
	opts.PollingInterval = c.Duration("polling-interval")
	opts.Events = v.GetStringSlice("events")
	if topics := v.GetStringSlice("topics"); len(topics) > 0 {
		hashes := make([]common.Hash, 0, len(topics))
		for _, topic := range topics {
			hashes = append(hashes, common.HexToHash(topic))
		}
		opts.Topics = [][]common.Hash{hashes}
	}
	if len(opts.Events) == 0 && len(opts.Topics) == 0 {
		return fmt.Errorf("at least one WEB3_EVENTS_EVENTS entry (or topics in the config file) is required")
	}

	emitter, err := events.NewEventsEmitter(opts, source, passthroughDecoder{}, blockTracker, buffer, log)
	if err != nil {
		return err
	}
	confirmator := events.NewConfirmator(contract, buffer, blockTracker, source, emitter.Dispatcher(), metrics, log)
	producer := events.NewPollingBlockProducer(source, opts.PollingInterval, log)
	auto := events.NewAutoEventsEmitter(emitter, confirmator, producer, opts, metrics, log)

	printer := newProgressPrinter()
	auto.Subscribe(events.ChannelNewEvent, func(payload interface{}) error {
		printer.printEvent(payload.(events.LogRecord))
		return nil
	})
	auto.Subscribe(events.ChannelProgress, func(payload interface{}) error {
		printer.printProgress(payload.(events.ProgressInfo))
		return nil
	})
	auto.Subscribe(events.ChannelError, func(payload interface{}) error {
		log.Errorw("pipeline error", "err", payload.(events.ErrorPayload).Err)
		return nil
	})

	auto.Start(ctx)
	<-ctx.Done()
	auto.Stop()
	err = multierr.Append(err, log.Sync())
	return err
}

func bindFlag(v *viper.Viper, c *cli.Context, name string) {
	if c.IsSet(name) {
		v.Set(name, c.String(name))
	}
}

func serveMetrics(reg *prometheus.Registry, port int) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	_ = http.ListenAndServe(fmt.Sprintf(":%d", port), mux)
}

// passthroughDecoder is a placeholder LogDecoder for operators who
// haven't wired generated ABI bindings yet; it reports no event name,
// relying on a server-side Topics filter instead of the client-side
// Events filter.
type passthroughDecoder struct{}

func (passthroughDecoder) Decode(log types.Log) (string, interface{}, error) {
	return "", log, nil
}

type progressPrinter struct{}

func newProgressPrinter() *progressPrinter { return &progressPrinter{} }

func (p *progressPrinter) printEvent(r events.LogRecord) {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"block", "tx", "logIndex", "event"})
	table.Append([]string{
		fmt.Sprint(r.BlockNumber),
		r.TransactionHash.Hex(),
		fmt.Sprint(r.LogIndex),
		color.GreenString(r.EventName),
	})
	table.Render()
}

func (p *progressPrinter) printProgress(info events.ProgressInfo) {
	fmt.Printf("%s %d/%d [%d..%d]\n", color.CyanString("progress"), info.StepsComplete, info.TotalSteps, info.StepFromBlock, info.StepToBlock)
}
