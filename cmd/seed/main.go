// Command seed issues a development access token and, when a database is
// configured, stores a sample transcript for that user.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/coachai/coach-backend/internal/auth"
	"github.com/coachai/coach-backend/internal/bootstrap"
	"github.com/coachai/coach-backend/internal/transcript"
	"github.com/golang-jwt/jwt/v5"
)

func main() {
	userID := flag.String("user", "dev-user", "subject of the issued token")
	name := flag.String("name", "Dev User", "display name used in the persona prompt")
	email := flag.String("email", "dev@example.com", "email claim")
	admin := flag.Bool("admin", false, "grant the admin role")
	ttl := flag.Duration("ttl", 24*time.Hour, "token lifetime")
	withTranscript := flag.Bool("transcript", false, "store a sample transcript for the user")
	flag.Parse()

	cfg := bootstrap.LoadConfig()

	claims := auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: *userID},
		Email:            *email,
		Name:             *name,
	}
	if *admin {
		claims.Role = cfg.AdminRole
	}

	token, err := auth.NewJWTValidator(cfg.JWTSecret).Issue(claims, *ttl)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to issue token: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Access token for %s (expires in %s):\n", *userID, *ttl)
	fmt.Println("")
	fmt.Println(token)
	fmt.Println("")
	fmt.Printf("  Authorization: Bearer %s\n", token)

	if !*withTranscript {
		return
	}
	if cfg.DatabaseDSN == "" {
		fmt.Fprintln(os.Stderr, "DATABASE_DSN is required to seed a transcript")
		os.Exit(1)
	}

	db, err := bootstrap.ProvideDatabase(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to connect to database: %v\n", err)
		os.Exit(1)
	}

	store := transcript.NewStore(db)
	if err := store.Migrate(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to migrate: %v\n", err)
		os.Exit(1)
	}

	sample := sampleTranscript(*userID, time.Now().UTC())
	if err := store.Save(context.Background(), sample); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to save transcript: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("")
	fmt.Printf("Sample transcript stored for session %s\n", sample.SessionID)
}

func sampleTranscript(userID string, now time.Time) *transcript.Transcript {
	started := now.Add(-3 * time.Minute)
	return &transcript.Transcript{
		SessionID:  fmt.Sprintf("seed-%d", now.Unix()),
		UserID:     userID,
		ScenarioID: "feedback-missed-deadlines",
		Status:     transcript.StatusCompleted,
		EndReason:  "client_ended",
		Turns: []transcript.Turn{
			{Speaker: transcript.SpeakerPersona, Text: "You wanted to see me? I have a lot going on today.", At: started},
			{Speaker: transcript.SpeakerUser, Text: "I wanted to talk about the last two report deadlines.", At: started.Add(20 * time.Second)},
			{Speaker: transcript.SpeakerPersona, Text: "I know, I know. The data team kept changing the numbers on me.", At: started.Add(40 * time.Second)},
		},
		StartedAt:  started,
		EndedAt:    now,
		DurationMs: now.Sub(started).Milliseconds(),
	}
}
