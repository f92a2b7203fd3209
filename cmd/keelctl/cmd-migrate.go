package main

import (
	"context"
	"fmt"

	"github.com/tidemark/keel/store"
)

type cmdMigrate struct {
	Database databaseConfig `group:"Database" namespace:"db" env-namespace:"DATABASE"`
	Log      logConfig      `group:"Logging" namespace:"log" env-namespace:"LOG"`
}

func (cmd cmdMigrate) Execute(_ []string) error {
	initLog(cmd.Log)

	var db, err = store.Open(cmd.Database.URL)
	if err != nil {
		return err
	}
	defer db.Close()

	if err = store.Migrate(context.Background(), db); err != nil {
		return err
	}
	fmt.Println(green("OK:"), "migrations applied")
	return nil
}
