package main

import (
	"fmt"
	"time"

	"github.com/tidemark/keel/auth"
)

type cmdToken struct {
	SigningKey string        `long:"signing-key" env:"API_SIGNING_KEY" required:"true" description:"HS256 key the API verifies bearer tokens with"`
	Org        string        `long:"org" required:"true" description:"Organization id the token acts within"`
	User       string        `long:"user" default:"dev" description:"User id embedded in the token"`
	Role       string        `long:"role" default:"ADMIN" choice:"ADMIN" choice:"WAREHOUSE_MANAGER" choice:"OPERATOR" choice:"VIEWER" description:"Granted role"`
	TTL        time.Duration `long:"ttl" default:"24h" description:"Token lifetime"`
}

func (cmd cmdToken) Execute(_ []string) error {
	var token, err = auth.SignToken([]byte(cmd.SigningKey), auth.Tenant{
		OrgID:  cmd.Org,
		UserID: cmd.User,
		Role:   auth.Role(cmd.Role),
	}, cmd.TTL)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}
