package main

import (
	"taskproof/internal/apiclient"
)

type commandContext struct {
	addr       string
	token      string
	jsonOutput bool
}

func (c *commandContext) client() *apiclient.Client {
	return apiclient.New(c.addr, apiclient.WithToken(c.token))
}
