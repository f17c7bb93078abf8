// Command chat-admin manages room membership and issues development tokens.
//
//	chat-admin [-config path] add <room> <user>
//	chat-admin [-config path] remove <room> <user>
//	chat-admin [-config path] members <room>
//	chat-admin [-config path] rooms <user>
//	chat-admin [-config path] token <user> <username> [ttl]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/cuongbtq/alliance-chat/internal/api/auth"
	"github.com/cuongbtq/alliance-chat/internal/chat/membership"
	"github.com/cuongbtq/alliance-chat/internal/config"
	"github.com/cuongbtq/alliance-chat/shared/logger"
	"github.com/cuongbtq/alliance-chat/shared/redis"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	_ = godotenv.Load()

	defaultConfigPath := os.Getenv("CHAT_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/chat-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		return errors.New("usage: chat-admin [-config path] add|remove|members|rooms|token ...")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if args[0] == "token" {
		return issueToken(cfg, args[1:])
	}

	rdb, err := redis.NewClient(&redis.Config{
		Addr:        cfg.Redis.Addr,
		Password:    cfg.Redis.Password,
		DB:          cfg.Redis.DB,
		DialTimeout: cfg.Redis.DialTimeout,
	}, logger.Nop())
	if err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	defer rdb.Close()

	store := membership.NewStore(rdb, cfg.Chat.MembershipPrefix)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch args[0] {
	case "add":
		if len(args) != 3 {
			return errors.New("usage: chat-admin add <room> <user>")
		}
		return store.AddMember(ctx, args[1], args[2])
	case "remove":
		if len(args) != 3 {
			return errors.New("usage: chat-admin remove <room> <user>")
		}
		return store.RemoveMember(ctx, args[1], args[2])
	case "members":
		if len(args) != 2 {
			return errors.New("usage: chat-admin members <room>")
		}
		return printList(store.Members(ctx, args[1]))
	case "rooms":
		if len(args) != 2 {
			return errors.New("usage: chat-admin rooms <user>")
		}
		return printList(store.RoomsOf(ctx, args[1]))
	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func issueToken(cfg *config.Config, args []string) error {
	if len(args) < 2 || len(args) > 3 {
		return errors.New("usage: chat-admin token <user> <username> [ttl]")
	}
	if strings.TrimSpace(cfg.Auth.JWTSecret) == "" {
		return errors.New("auth jwt_secret is not set")
	}

	ttl := 24 * time.Hour
	if len(args) == 3 {
		d, err := time.ParseDuration(args[2])
		if err != nil {
			return fmt.Errorf("invalid ttl: %w", err)
		}
		ttl = d
	}

	token, err := auth.NewValidator(cfg.Auth.JWTSecret, cfg.Auth.Issuer).IssueToken(args[0], args[1], ttl)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

func printList(items []string, err error) error {
	if err != nil {
		return err
	}
	for _, item := range items {
		fmt.Println(item)
	}
	return nil
}
