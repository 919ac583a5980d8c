package main

import (
	"context"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/joho/godotenv"

	"sitegen-agent/handler"
	"sitegen-agent/internal/dispatch"
	"sitegen-agent/internal/integrations/mediastore"
	"sitegen-agent/internal/integrations/openrouter"
	"sitegen-agent/internal/integrations/paramstore"
	"sitegen-agent/internal/integrations/screenshot"
	"sitegen-agent/internal/integrations/vercel"
	"sitegen-agent/internal/integrations/whatsapp"
	"sitegen-agent/internal/repository"
	"sitegen-agent/internal/usecase"
)

func main() {
	ctx := context.Background()

	// Local development convenience; the Lambda environment carries real vars.
	_ = godotenv.Load()

	// ---- Configuration (read only here) ----
	stateTable := mustEnv("STATE_TABLE")
	paramPrefix := mustEnv("PARAM_PREFIX")
	phoneID := mustEnv("WHATSAPP_PHONE_ID")
	verifyToken := mustEnv("WEBHOOK_VERIFY_TOKEN")
	buildEndpoint := mustEnv("BUILD_ENDPOINT")
	screenshotBase := mustEnv("SCREENSHOT_BASE_URL")
	thumbBucket := mustEnv("THUMBNAIL_BUCKET")
	thumbBaseURL := os.Getenv("THUMBNAIL_BASE_URL")
	referer := os.Getenv("BASE_URL")

	policy := usecase.DefaultBuildPolicy()
	policy.MaxRetries = envInt("MAX_RETRIES", policy.MaxRetries)
	policy.GenerationTimeoutSimple = envDur("GENERATION_TIMEOUT_SIMPLE", policy.GenerationTimeoutSimple)
	policy.GenerationTimeoutComplex = envDur("GENERATION_TIMEOUT_COMPLEX", policy.GenerationTimeoutComplex)
	policy.DeployTimeoutSimple = envDur("DEPLOY_TIMEOUT_SIMPLE", policy.DeployTimeoutSimple)
	policy.DeployTimeoutComplex = envDur("DEPLOY_TIMEOUT_COMPLEX", policy.DeployTimeoutComplex)
	policy.RetryBaseDelay = envDur("RETRY_BASE_DELAY", policy.RetryBaseDelay)
	policy.RetryMaxDelay = envDur("RETRY_MAX_DELAY", policy.RetryMaxDelay)

	// ---- AWS SDK config ----
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		slog.Error("failed to load AWS config", "err", err)
		os.Exit(1)
	}

	// ---- Clients ----
	ssmClient, err := paramstore.New(awsssm.NewFromConfig(cfg))
	if err != nil {
		slog.Error("failed to create SSM client", "err", err)
		os.Exit(1)
	}
	stateClient, err := repository.New(awsdynamodb.NewFromConfig(cfg), stateTable)
	if err != nil {
		slog.Error("failed to create state client", "err", err)
		os.Exit(1)
	}

	whatsappTokens := mustTokenProvider(ssmClient, paramPrefix+"/whatsapp-token")
	vercelTokens := mustTokenProvider(ssmClient, paramPrefix+"/vercel-token")
	screenshotTokens := mustTokenProvider(ssmClient, paramPrefix+"/screenshot-token")

	generator, err := openrouter.NewClient(ssmClient, paramPrefix, referer)
	if err != nil {
		slog.Error("failed to create generator client", "err", err)
		os.Exit(1)
	}
	hosting, err := vercel.NewClient(vercelTokens)
	if err != nil {
		slog.Error("failed to create hosting client", "err", err)
		os.Exit(1)
	}
	messenger, err := whatsapp.NewClient(whatsappTokens, phoneID)
	if err != nil {
		slog.Error("failed to create messenger client", "err", err)
		os.Exit(1)
	}
	shots, err := screenshot.NewClient(screenshotTokens, screenshotBase)
	if err != nil {
		slog.Error("failed to create screenshot client", "err", err)
		os.Exit(1)
	}
	media, err := mediastore.New(awss3.NewFromConfig(cfg), thumbBucket, thumbBaseURL)
	if err != nil {
		slog.Error("failed to create media store", "err", err)
		os.Exit(1)
	}
	trigger, err := dispatch.NewHTTPTrigger(buildEndpoint, nil)
	if err != nil {
		slog.Error("failed to create build trigger", "err", err)
		os.Exit(1)
	}

	// ---- Services ----
	sessions, err := usecase.NewSessionService(stateClient)
	if err != nil {
		slog.Error("failed to create session service", "err", err)
		os.Exit(1)
	}
	notifier, err := usecase.NewNotifier(messenger)
	if err != nil {
		slog.Error("failed to create notifier", "err", err)
		os.Exit(1)
	}
	thumbs, err := usecase.NewThumbnailService(shots, media, stateClient)
	if err != nil {
		slog.Error("failed to create thumbnail service", "err", err)
		os.Exit(1)
	}
	intake, err := usecase.NewIntakeService(sessions, stateClient, notifier)
	if err != nil {
		slog.Error("failed to create intake service", "err", err)
		os.Exit(1)
	}
	builds, err := usecase.NewBuildService(stateClient, generator, hosting, hosting, thumbs, sessions, notifier, policy)
	if err != nil {
		slog.Error("failed to create build service", "err", err)
		os.Exit(1)
	}
	janitor, err := usecase.NewJanitor(stateClient, hosting)
	if err != nil {
		slog.Error("failed to create janitor", "err", err)
		os.Exit(1)
	}

	// ---- Handler ----
	h, err := handler.NewHandler(intake, builds, janitor, trigger, verifyToken)
	if err != nil {
		slog.Error("failed to create handler", "err", err)
		os.Exit(1)
	}

	lambda.Start(h.Handle)
}

func mustTokenProvider(getter paramstore.Getter, name string) *paramstore.TokenProvider {
	p, err := paramstore.NewTokenProvider(getter, name)
	if err != nil {
		slog.Error("failed to create token provider", "param", name, "err", err)
		os.Exit(1)
	}
	return p
}

func mustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		slog.Error("required environment variable is not set", "key", key)
		os.Exit(1)
	}
	return v
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envDur(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
