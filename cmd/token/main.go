// Command token issues bearer tokens for capture devices and operators.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"time"

	"faceattend/internal/auth"
	"faceattend/internal/config"
	"faceattend/internal/logger"
)

func main() {
	subject := flag.String("subject", "", "device id or operator name")
	role := flag.String("role", auth.RoleDevice, "device or operator")
	ttl := flag.Duration("ttl", 0, "access token lifetime (defaults to access_ttl)")
	flag.Parse()

	ctx := context.Background()
	log := logger.Init()

	if *subject == "" {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(ctx)
	if err != nil {
		log.Fatal(ctx, "config invalid", logger.Error(err))
	}
	signer, err := auth.NewSigner(cfg.JWTIssuer, cfg.JWTSigningKey)
	if err != nil {
		log.Fatal(ctx, "signer", logger.Error(err))
	}

	access := cfg.AccessTTL
	if *ttl > 0 {
		access = *ttl
	}
	pair, err := signer.Issue(*subject, *role, access, cfg.RefreshTTL)
	if err != nil {
		log.Fatal(ctx, "issue token", logger.Error(err))
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(map[string]any{
		"subject":       *subject,
		"role":          *role,
		"access_token":  pair.AccessToken,
		"refresh_token": pair.RefreshToken,
		"expires_at":    pair.AccessExp.Format(time.RFC3339),
	})
}
