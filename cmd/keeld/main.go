package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"golang.org/x/net/netutil"
	"golang.org/x/sync/errgroup"

	"github.com/tidemark/keel/api"
	"github.com/tidemark/keel/audit"
	"github.com/tidemark/keel/crypto"
	"github.com/tidemark/keel/cyclecount"
	"github.com/tidemark/keel/events"
	"github.com/tidemark/keel/inventory"
	"github.com/tidemark/keel/oauth"
	"github.com/tidemark/keel/store"
	"github.com/tidemark/keel/tokens"
	"github.com/tidemark/keel/transfer"
	"github.com/tidemark/keel/webhook"
)

// Config is the top-level configuration object of the keel daemon.
var Config = new(struct {
	Keel struct {
		Port        string `long:"port" env:"PORT" default:"8080" description:"Service port of the HTTP API"`
		MetricsPort string `long:"metrics-port" env:"METRICS_PORT" default:"8090" description:"Port serving Prometheus metrics and pprof"`
		MaxConns    int    `long:"max-conns" env:"MAX_CONNS" default:"1024" description:"Maximum concurrent API connections"`
		Environment string `long:"environment" env:"ENV" default:"development" choice:"development" choice:"production" description:"Deployment environment"`
	} `group:"Keel" namespace:"keel" env-namespace:"KEEL"`

	Database struct {
		URL string `long:"url" env:"URL" default:"keel.db" description:"postgres:// URL, or a sqlite3 path"`
	} `group:"Database" namespace:"db" env-namespace:"DATABASE"`

	Redis struct {
		Addr string `long:"addr" env:"ADDR" default:"localhost:6379" description:"Redis address for token caching and OAuth state"`
	} `group:"Redis" namespace:"redis" env-namespace:"REDIS"`

	API struct {
		SigningKey string `long:"signing-key" env:"SIGNING_KEY" required:"true" description:"HS256 key verifying inbound bearer tokens"`
	} `group:"API" namespace:"api" env-namespace:"API"`

	Credentials struct {
		EncryptionKey string `long:"encryption-key" env:"ENCRYPTION_KEY" required:"true" description:"64-hex-char AES-256 key sealing carrier credentials"`
	} `group:"Credentials" namespace:"credentials" env-namespace:"CREDENTIALS"`

	OAuth struct {
		AllowedOrigins []string `long:"allowed-origin" env:"ALLOWED_ORIGINS" env-delim:"," description:"Origins permitted as OAuth redirect targets"`
	} `group:"OAuth" namespace:"oauth" env-namespace:"OAUTH"`

	App struct {
		FrontendURL string `long:"frontend-url" env:"FRONTEND_URL" description:"Frontend base URL, admitted as a redirect origin"`
		AppURL      string `long:"app-url" env:"APP_URL" description:"App base URL, admitted as a redirect origin"`
		FallbackURL string `long:"oauth-fallback-url" env:"OAUTH_FALLBACK_URL" description:"Redirect target when none was stored; defaults to the frontend URL"`
	} `group:"Application" namespace:"app"`

	Transfers struct {
		PollInterval time.Duration `long:"poll-interval" env:"POLL_INTERVAL" default:"1m" description:"Due scheduled-transfer poll interval"`
	} `group:"Transfers" namespace:"transfers" env-namespace:"TRANSFERS"`

	Audit struct {
		ArchiveBucket string        `long:"archive-bucket" env:"ARCHIVE_BUCKET" description:"gs://bucket/prefix receiving archived audit batches; empty disables archival"`
		ArchiveEvery  time.Duration `long:"archive-every" env:"ARCHIVE_EVERY" default:"1h" description:"Audit archival interval"`
		Retention     time.Duration `long:"retention" env:"RETENTION" default:"2160h" description:"Age at which audit entries are shipped to the archive"`
	} `group:"Audit" namespace:"audit" env-namespace:"AUDIT"`

	Fedex struct {
		ClientID     string `long:"client-id" env:"CLIENT_ID" description:"Development FedEx OAuth client id"`
		ClientSecret string `long:"client-secret" env:"CLIENT_SECRET" description:"Development FedEx OAuth client secret"`
	} `group:"FedEx" namespace:"fedex" env-namespace:"FEDEX"`

	DHL struct {
		ClientID     string `long:"client-id" env:"CLIENT_ID" description:"Development DHL OAuth client id"`
		ClientSecret string `long:"client-secret" env:"CLIENT_SECRET" description:"Development DHL OAuth client secret"`
	} `group:"DHL" namespace:"dhl" env-namespace:"DHL"`

	Log logConfig `group:"Logging" namespace:"log" env-namespace:"LOG"`
})

type logConfig struct {
	Level  string `long:"level" env:"LEVEL" default:"info" choice:"trace" choice:"debug" choice:"info" choice:"warn" choice:"error" description:"Logging level"`
	Format string `long:"format" env:"FORMAT" default:"text" choice:"text" choice:"json" description:"Logging output format"`
}

func initLog(cfg logConfig) {
	if cfg.Format == "json" {
		log.SetFormatter(&log.JSONFormatter{})
	}
	var level, err = log.ParseLevel(cfg.Level)
	must(err, "parsing log level")
	log.SetLevel(level)
}

// must logs a fatal error and exits if |err| is non-nil. |extra| are
// alternating log field names and values.
func must(err error, msg string, extra ...interface{}) {
	if err == nil {
		return
	}
	var fields = log.Fields{"err": err}
	for i := 0; i+2 <= len(extra); i += 2 {
		fields[extra[i].(string)] = extra[i+1]
	}
	log.WithFields(fields).Fatal(msg)
}

type cmdServe struct{}

func (cmdServe) Execute(_ []string) error {
	initLog(Config.Log)
	var production = Config.Keel.Environment == "production"

	// Keys never reach the log.
	log.WithFields(log.Fields{
		"port":        Config.Keel.Port,
		"metricsPort": Config.Keel.MetricsPort,
		"environment": Config.Keel.Environment,
	}).Info("keel configuration")

	key, err := crypto.ParseKey(Config.Credentials.EncryptionKey)
	must(err, "parsing credentials encryption key")
	box, err := crypto.NewBox(key)
	must(err, "building credential box")

	db, err := store.Open(Config.Database.URL)
	must(err, "opening database")
	defer db.Close()
	must(store.Migrate(context.Background(), db), "applying migrations")

	var rdb = redis.NewClient(&redis.Options{Addr: Config.Redis.Addr})
	if err = rdb.Ping(context.Background()).Err(); err != nil {
		log.WithField("error", err).Warn(
			"redis is unreachable; token caching degrades to fetch-through and OAuth callbacks will fail")
	}

	var (
		auditor   = audit.NewRecorder(db)
		bus       = events.NewBus()
		notify    = events.NewConfigStore(db)
		ledger    = inventory.NewService(db, auditor, bus)
		transfers = transfer.NewService(db, ledger.Store(), auditor, bus)
		counts    = cyclecount.NewService(db, ledger)
		fleet     = tokens.NewFleet(rdb, db, box)
	)
	events.NewNotifier(bus, notify)
	dedup, err := webhook.NewDedup(4096, 10*time.Minute)
	must(err, "building webhook dedup cache")

	if !production {
		seedDevAccounts(context.Background(), fleet.Accounts(), db, box)
	}

	var fallback = Config.App.FallbackURL
	if fallback == "" {
		fallback = Config.App.FrontendURL
	}
	var server = api.NewServer(api.Config{
		DB:        db,
		Ledger:    ledger,
		Transfers: transfers,
		Counts:    counts,
		Auditor:   auditor,
		Verifier:  webhook.NewVerifier(db),
		Dedup:     dedup,
		States:    oauth.NewStateStore(rdb),
		Limiter:   oauth.NewLimiter(rdb),
		Redirects: oauth.NewRedirectPolicy(oauth.RedirectConfig{
			AllowedOrigins: Config.OAuth.AllowedOrigins,
			FrontendURL:    Config.App.FrontendURL,
			AppURL:         Config.App.AppURL,
			Production:     production,
			Fallback:       fallback,
		}),
		Notify:     notify,
		JWTKey:     []byte(Config.API.SigningKey),
		Production: production,
	})

	apiListener, err := net.Listen("tcp", ":"+Config.Keel.Port)
	must(err, "binding API listener", "port", Config.Keel.Port)
	apiListener = netutil.LimitListener(apiListener, Config.Keel.MaxConns)

	metricsListener, err := net.Listen("tcp", ":"+Config.Keel.MetricsPort)
	must(err, "binding metrics listener", "port", Config.Keel.MetricsPort)

	var apiServer = &http.Server{Handler: server.Routes()}
	var metricsServer = &http.Server{Handler: metricsMux()}

	var ctx, cancel = context.WithCancel(context.Background())
	defer cancel()
	var group, gctx = errgroup.WithContext(ctx)

	group.Go(func() error {
		log.WithField("addr", apiListener.Addr()).Info("serving keel API")
		if err := apiServer.Serve(apiListener); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		if err := metricsServer.Serve(metricsListener); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		return transfer.NewWorker(transfers, Config.Transfers.PollInterval).Run(gctx)
	})

	if Config.Audit.ArchiveBucket != "" {
		sink, err := audit.NewGCSSink(ctx, Config.Audit.ArchiveBucket)
		must(err, "building audit archive sink", "bucket", Config.Audit.ArchiveBucket)
		group.Go(func() error {
			archiveLoop(gctx, audit.NewArchiver(db, sink, 1000),
				Config.Audit.ArchiveEvery, Config.Audit.Retention)
			return nil
		})
	}

	var signalCh = make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGTERM, syscall.SIGINT)

	group.Go(func() error {
		select {
		case sig := <-signalCh:
			log.WithField("signal", sig).Info("caught signal")

			var timeout, stop = context.WithTimeout(context.Background(), 15*time.Second)
			defer stop()
			_ = metricsServer.Shutdown(timeout)
			var err = apiServer.Shutdown(timeout)
			cancel()
			return err

		case <-gctx.Done():
			return nil
		}
	})

	must(group.Wait(), "keel task failed")
	log.Info("goodbye")

	return nil
}

func metricsMux() *http.ServeMux {
	var mux = http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	return mux
}

// archiveLoop ships due audit batches on every tick, draining fully each
// pass. Failures are logged and retried on the next tick.
func archiveLoop(ctx context.Context, archiver *audit.Archiver, every, retention time.Duration) {
	var ticker = time.NewTicker(every)
	defer ticker.Stop()

	log.WithFields(log.Fields{
		"every":     every,
		"retention": retention,
	}).Info("starting audit archiver")

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			var cutoff = time.Now().Add(-retention)
			for {
				var n, err = archiver.ArchiveOnce(ctx, cutoff)
				if err != nil {
					log.WithField("error", err).Error("audit archival pass failed")
					break
				}
				if n == 0 {
					break
				}
			}
		}
	}
}

// seedDevAccounts upserts development carrier accounts from the configured
// FEDEX_* and DHL_* credentials, so a fresh checkout can mint carrier tokens
// without touching the accounts API.
func seedDevAccounts(ctx context.Context, accounts *tokens.AccountStore, db *store.DB, box *crypto.Box) {
	var seeds = []struct {
		carrier, id, secret string
	}{
		{"FEDEX", Config.Fedex.ClientID, Config.Fedex.ClientSecret},
		{"DHL", Config.DHL.ClientID, Config.DHL.ClientSecret},
	}
	for _, seed := range seeds {
		if seed.id == "" || seed.secret == "" {
			continue
		}
		var accountID = "dev-" + strings.ToLower(seed.carrier)
		if _, err := accounts.Get(ctx, db, "dev", accountID); err == nil {
			continue
		}

		var account = &tokens.Account{
			ID:             accountID,
			OrganizationID: "dev",
			Carrier:        seed.carrier,
			AccountNumber:  accountID,
			TestMode:       true,
		}
		if err := account.SealCredentials(box, tokens.Credentials{
			ClientID:     seed.id,
			ClientSecret: seed.secret,
		}); err != nil {
			log.WithFields(log.Fields{"error": err, "carrier": seed.carrier}).
				Warn("failed to seal dev carrier credentials")
			continue
		}
		if err := accounts.Insert(ctx, db, account); err != nil {
			log.WithFields(log.Fields{"error": err, "carrier": seed.carrier}).
				Warn("failed to seed dev carrier account")
			continue
		}
		log.WithFields(log.Fields{"carrier": seed.carrier, "account": accountID}).
			Info("seeded dev carrier account")
	}
}

func main() {
	var parser = flags.NewParser(Config, flags.Default)

	_, _ = parser.AddCommand("serve", "Serve the keel API", `
Serve the keel HTTP API, webhook intake, and background workers with the
provided configuration, until signaled to exit (via SIGTERM).
`, &cmdServe{})

	if _, err := parser.Parse(); err != nil {
		os.Exit(1)
	}
}
