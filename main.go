package main

import (
	"github.com/chatbridge/app/cmd"
)

// @title Chat Bridge API
// @version 1.0
// @description Links tenants to their messaging account, ingests conversations and answers them with AI personas.

// @host  localhost:8000
// @BasePath /api/v1

func main() {
	cmd.StartApp()
}
