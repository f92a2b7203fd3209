package main

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/tidemark/keel/breaker"
	"github.com/tidemark/keel/crypto"
	"github.com/tidemark/keel/store"
	"github.com/tidemark/keel/tokens"
)

type cmdCarrierToken struct {
	Org           string `long:"org" required:"true" description:"Organization owning the shipping account"`
	Account       string `long:"account" required:"true" description:"Shipping account id"`
	EncryptionKey string `long:"encryption-key" env:"CREDENTIALS_ENCRYPTION_KEY" required:"true" description:"64-hex-char key the credentials were sealed under"`

	Database databaseConfig `group:"Database" namespace:"db" env-namespace:"DATABASE"`
	Redis    struct {
		Addr string `long:"addr" env:"ADDR" default:"localhost:6379" description:"Redis address of the token cache"`
	} `group:"Redis" namespace:"redis" env-namespace:"REDIS"`
	Log logConfig `group:"Logging" namespace:"log" env-namespace:"LOG"`
}

func (cmd cmdCarrierToken) Execute(_ []string) error {
	initLog(cmd.Log)
	var ctx = context.Background()

	key, err := crypto.ParseKey(cmd.EncryptionKey)
	if err != nil {
		return err
	}
	box, err := crypto.NewBox(key)
	if err != nil {
		return err
	}

	db, err := store.Open(cmd.Database.URL)
	if err != nil {
		return err
	}
	defer db.Close()

	var rdb = redis.NewClient(&redis.Options{Addr: cmd.Redis.Addr})
	var fleet = tokens.NewFleet(rdb, db, box)

	account, err := fleet.Accounts().Get(ctx, db, cmd.Org, cmd.Account)
	if err != nil {
		return err
	}

	var token string
	err = breaker.NewSet(breaker.DefaultConfig()).Do(ctx, account.Carrier,
		func(ctx context.Context) error {
			var err error
			token, err = fleet.AccessToken(ctx, account)
			return err
		})
	if err != nil {
		return err
	}

	fmt.Println(token)
	return nil
}
