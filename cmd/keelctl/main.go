package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/jessevdk/go-flags"
	log "github.com/sirupsen/logrus"
)

var green = color.New(color.FgGreen).SprintFunc()
var red = color.New(color.FgRed).SprintFunc()

type databaseConfig struct {
	URL string `long:"url" env:"URL" default:"keel.db" description:"postgres:// URL, or a sqlite3 path"`
}

type logConfig struct {
	Level  string `long:"level" env:"LEVEL" default:"warn" choice:"trace" choice:"debug" choice:"info" choice:"warn" choice:"error" description:"Logging level"`
	Format string `long:"format" env:"FORMAT" default:"text" choice:"text" choice:"json" description:"Logging output format"`
}

func initLog(cfg logConfig) {
	if cfg.Format == "json" {
		log.SetFormatter(&log.JSONFormatter{})
	}
	var level, err = log.ParseLevel(cfg.Level)
	if err == nil {
		log.SetLevel(level)
	}
}

func main() {
	var parser = flags.NewParser(nil, flags.HelpFlag|flags.PassDoubleDash)

	addCmd(parser, "migrate", "Apply database migrations", `
Apply the embedded schema migrations to the configured database.
`, &cmdMigrate{})

	addCmd(parser, "keygen", "Mint a credentials encryption key", `
Draw a fresh AES-256 key and print it hex-encoded, suitable as the
CREDENTIALS_ENCRYPTION_KEY of a keel deployment.
`, &cmdKeygen{})

	addCmd(parser, "token", "Mint a development API bearer token", `
Sign a bearer token accepted by the keel API, for development and testing.
`, &cmdToken{})

	addCmd(parser, "carrier-token", "Acquire a carrier access token", `
Acquire an OAuth access token for a stored shipping account, exactly as the
service would: decrypt the account credentials, consult the Redis cache, and
fall through to the carrier's token endpoint under its circuit breaker.
`, &cmdCarrierToken{})

	if _, err := parser.Parse(); err != nil {
		if flagErr, ok := err.(*flags.Error); ok && flagErr.Type == flags.ErrHelp {
			fmt.Println(flagErr.Message)
			os.Exit(0)
		}
		fmt.Fprintln(os.Stderr, red("ERROR:"), err)
		os.Exit(1)
	}
}

func addCmd(to interface {
	AddCommand(string, string, string, interface{}) (*flags.Command, error)
}, a, b, c string, iface interface{}) *flags.Command {
	var cmd, err = to.AddCommand(a, b, c, iface)
	if err != nil {
		panic(err)
	}
	return cmd
}
