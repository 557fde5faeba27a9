package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/retail-chat-bot/cmd/mainconfig"
	"github.com/wolfman30/retail-chat-bot/internal/app/bootstrap"
	appconfig "github.com/wolfman30/retail-chat-bot/internal/config"
	"github.com/wolfman30/retail-chat-bot/internal/conversation"
	"github.com/wolfman30/retail-chat-bot/internal/http/middleware"
	"github.com/wolfman30/retail-chat-bot/pkg/logging"
)

// admin-token registers a panel user and prints a signed token for it.
//
//	admin-token -name "Lucía" -email lucia@tienda.com -role SELLER
func main() {
	var (
		id       = flag.String("id", "", "agent id (generated when empty)")
		name     = flag.String("name", "", "display name")
		email    = flag.String("email", "", "contact email used for seller alerts")
		role     = flag.String("role", string(conversation.RoleSeller), "ADMIN or SELLER")
		ttl      = flag.Duration("ttl", 30*24*time.Hour, "token lifetime")
		register = flag.Bool("register", true, "upsert the agent into the store")
	)
	flag.Parse()

	mainconfig.LoadEnv(nil)
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)

	if cfg.AdminJWTSecret == "" {
		fail("ADMIN_JWT_SECRET is required")
	}
	agentRole := conversation.AgentRole(strings.ToUpper(strings.TrimSpace(*role)))
	if agentRole != conversation.RoleAdmin && agentRole != conversation.RoleSeller {
		fail("role must be ADMIN or SELLER")
	}
	agentID := strings.TrimSpace(*id)
	if agentID == "" {
		agentID = uuid.NewString()
	}

	if *register {
		if strings.TrimSpace(*name) == "" {
			fail("-name is required when registering")
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		store, pool, err := bootstrap.BuildStore(ctx, cfg, logger)
		if err != nil {
			fail(err.Error())
		}
		if pool == nil {
			logger.Warn("DATABASE_URL not set; the agent only exists in memory for this run")
		} else {
			defer pool.Close()
		}
		agent := &conversation.Agent{
			ID:     agentID,
			Name:   strings.TrimSpace(*name),
			Email:  strings.TrimSpace(*email),
			Role:   agentRole,
			Active: true,
		}
		if err := store.UpsertAgent(ctx, agent); err != nil {
			fail(fmt.Sprintf("upsert agent: %v", err))
		}
	}

	token, err := middleware.SignAdminToken(cfg.AdminJWTSecret, agentID, string(agentRole), *ttl)
	if err != nil {
		fail(fmt.Sprintf("sign token: %v", err))
	}
	fmt.Printf("agent: %s (%s)\n", agentID, agentRole)
	fmt.Println(token)
}

func fail(msg string) {
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(1)
}
