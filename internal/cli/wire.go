package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/google/generative-ai-go/genai"

	"healthai/internal/chunker"
	"healthai/internal/config"
	"healthai/internal/conversation"
	"healthai/internal/domain"
	"healthai/internal/embedding"
	embbedrock "healthai/internal/embedding/bedrock"
	embgemini "healthai/internal/embedding/gemini"
	"healthai/internal/embedding/local"
	embopenai "healthai/internal/embedding/openai"
	"healthai/internal/extract"
	"healthai/internal/generation"
	genbedrock "healthai/internal/generation/bedrock"
	"healthai/internal/generation/extractive"
	gengemini "healthai/internal/generation/gemini"
	genopenai "healthai/internal/generation/openai"
	"healthai/internal/ingest"
	"healthai/internal/logger"
	"healthai/internal/provider"
	"healthai/internal/retry"
	"healthai/internal/service"
	"healthai/internal/source"
	"healthai/internal/summarizer"
	"healthai/internal/vectorstore"
	"healthai/internal/vectorstore/memory"
	"healthai/internal/vectorstore/postgres"
	"healthai/internal/vectorstore/qdrant"
	"healthai/internal/vectorstore/sqlite"
)

// app holds the assembled service and whatever must be closed with it.
type app struct {
	cfg     *config.AppConfig
	svc     *service.RAGService
	closers []io.Closer
}

func (a *app) Close() error {
	errs := []error{a.svc.Close()}
	for _, c := range a.closers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

// ephemeral reports whether the index lives only in this process.
func (a *app) ephemeral() bool { return a.cfg.VectorStore.Type == "memory" }

type buildOptions struct {
	// s3 creates an S3 loader for s3:// ingest locations.
	s3 bool
}

// lazy cloud clients shared between the embedder and the generator.
type clients struct {
	ctx    context.Context
	cfg    *config.AppConfig
	aws    *aws.Config
	gemini *genai.Client
}

func (c *clients) awsConfig() (aws.Config, error) {
	if c.aws == nil {
		cfg, err := provider.LoadAWSConfig(c.ctx, awsOptions(c.cfg.AWS))
		if err != nil {
			return aws.Config{}, err
		}
		c.aws = &cfg
	}
	return *c.aws, nil
}

func awsOptions(c config.AWSConfig) provider.AWSOptions {
	opts := provider.AWSOptions{Region: c.Region, Profile: c.Profile}
	if c.AccessKeyIDEnv != "" && c.SecretAccessKeyEnv != "" {
		opts.AccessKeyID = os.Getenv(c.AccessKeyIDEnv)
		opts.SecretAccessKey = os.Getenv(c.SecretAccessKeyEnv)
	}
	if c.SessionTokenEnv != "" {
		opts.SessionToken = os.Getenv(c.SessionTokenEnv)
	}
	return opts
}

func (c *clients) geminiClient() (*genai.Client, error) {
	if c.gemini == nil {
		client, err := provider.NewGeminiClient(c.ctx, os.Getenv(c.cfg.Gemini.APIKeyEnv))
		if err != nil {
			return nil, err
		}
		c.gemini = client
	}
	return c.gemini, nil
}

func build(ctx context.Context, cfg *config.AppConfig, opts buildOptions) (_ *app, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cl := &clients{ctx: ctx, cfg: cfg}
	defer func() {
		if err != nil && cl.gemini != nil {
			cl.gemini.Close()
		}
	}()

	// Assemble components
	backend, err := newEmbeddingBackend(cfg, cl)
	if err != nil {
		return nil, fmt.Errorf("embedder: %w", err)
	}
	emb, err := embedding.NewClient(backend, embedding.Options{
		MaxInputChars:     cfg.Embedder.MaxInputChars,
		Timeout:           cfg.Embedder.Timeout(),
		RequestsPerSecond: cfg.Embedder.RequestsPerSecond,
	})
	if err != nil {
		return nil, err
	}

	ch, err := chunker.New(chunker.Options{
		MaxSize:  cfg.Chunker.MaxSize,
		Overlap:  cfg.Chunker.OverlapSize,
		Lookback: cfg.Chunker.Lookback,
	})
	if err != nil {
		return nil, err
	}
	proc, err := ingest.NewProcessor(extract.NewRegistry(), ch, emb, ingest.Options{
		BatchSize:   cfg.Ingest.BatchSize,
		Concurrency: cfg.Ingest.Concurrency,
	})
	if err != nil {
		return nil, err
	}

	sum := summarizer.NewFrequencySummarizer()
	genBackend, err := newGenerationBackend(cfg, cl, sum)
	if err != nil {
		return nil, fmt.Errorf("generator: %w", err)
	}
	gen, err := generation.NewClient(genBackend, generation.Options{
		MaxTokens:   cfg.Generator.MaxTokens,
		Temperature: cfg.Generator.Temperature,
	}, cfg.Generator.Timeout())
	if err != nil {
		return nil, err
	}

	style, err := conversation.ParseStyle(cfg.Generator.PromptStyle)
	if err != nil {
		return nil, err
	}

	var s3 *source.S3Loader
	if opts.s3 {
		awsCfg, err := cl.awsConfig()
		if err != nil {
			return nil, err
		}
		s3 = source.NewS3LoaderFromConfig(awsCfg)
	}

	st, err := newStorage(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("vector store: %w", err)
	}
	engine, err := conversation.New(emb, st, gen, conversation.Config{
		TopK:            cfg.Conversation.TopK,
		HistoryMaxTurns: cfg.Conversation.HistoryMaxTurns,
		ContextLimit:    cfg.Generator.ContextLimit,
		MaxQueryChars:   cfg.Conversation.MaxQueryChars,
		MinScore:        cfg.Conversation.MinScore,
		QueryTimeout:    cfg.Conversation.QueryTimeout(),
		Style:           style,
	})
	if err != nil {
		st.Close()
		return nil, err
	}

	policy := retry.Default()
	policy.Attempts = cfg.Ingest.RetryAttempts
	svc := service.NewRAGService(proc, emb, st, engine, sum, service.Options{
		SummaryMaxSentences: cfg.Summarizer.MaxSentences,
		Retry:               policy,
		S3:                  s3,
	})
	a := &app{cfg: cfg, svc: svc}
	if cl.gemini != nil {
		a.closers = append(a.closers, cl.gemini)
	}
	logger.Debug("embedder=%s generator=%s store=%s/%s", emb.ModelName(), gen.ModelName(), cfg.VectorStore.Type, cfg.VectorStore.Collection)
	return a, nil
}

func newEmbeddingBackend(cfg *config.AppConfig, cl *clients) (embedding.Backend, error) {
	switch cfg.Embedder.Type {
	case "local", "":
		return local.NewEmbedder(cfg.Embedder.Dimension), nil
	case "openai":
		oc := cfg.Embedder.OpenAI
		if oc == nil {
			return nil, fmt.Errorf("%w: openai embedder config missing", domain.ErrInvalidConfiguration)
		}
		client, err := embopenai.NewClient(embopenai.Config{
			BaseURL:    oc.BaseURL,
			APIKeyEnv:  oc.APIKeyEnv,
			Model:      cfg.Embedder.Model,
			Dimensions: cfg.Embedder.Dimension,
			Timeout:    cfg.Embedder.Timeout(),
		})
		if err != nil {
			return nil, err
		}
		return client, nil
	case "bedrock":
		awsCfg, err := cl.awsConfig()
		if err != nil {
			return nil, err
		}
		return embbedrock.NewFromConfig(awsCfg, embbedrock.Config{
			Model:      cfg.Embedder.Model,
			Dimensions: cfg.Embedder.Dimension,
			Normalize:  true,
		}), nil
	case "gemini":
		client, err := cl.geminiClient()
		if err != nil {
			return nil, err
		}
		return embgemini.New(client, cfg.Embedder.Model), nil
	default:
		return nil, fmt.Errorf("%w: unknown embedder: %s", domain.ErrInvalidConfiguration, cfg.Embedder.Type)
	}
}

func newGenerationBackend(cfg *config.AppConfig, cl *clients, sum *summarizer.FrequencySummarizer) (generation.Generator, error) {
	switch cfg.Generator.Type {
	case "extractive", "":
		return extractive.New(sum, extractive.DefaultMaxSentences), nil
	case "bedrock":
		awsCfg, err := cl.awsConfig()
		if err != nil {
			return nil, err
		}
		return genbedrock.NewFromConfig(awsCfg, cfg.Generator.Model), nil
	case "gemini":
		client, err := cl.geminiClient()
		if err != nil {
			return nil, err
		}
		return gengemini.New(client, cfg.Generator.Model), nil
	case "openai":
		oc := cfg.Generator.OpenAI
		if oc == nil {
			return nil, fmt.Errorf("%w: openai generator config missing", domain.ErrInvalidConfiguration)
		}
		g, err := genopenai.New(genopenai.Config{
			BaseURL:   oc.BaseURL,
			APIKeyEnv: oc.APIKeyEnv,
			Model:     cfg.Generator.Model,
			Timeout:   cfg.Generator.Timeout(),
		})
		if err != nil {
			return nil, err
		}
		return g, nil
	default:
		return nil, fmt.Errorf("%w: unknown generator: %s", domain.ErrInvalidConfiguration, cfg.Generator.Type)
	}
}

func newStorage(ctx context.Context, cfg *config.AppConfig) (vectorstore.Storage, error) {
	vs := cfg.VectorStore
	switch vs.Type {
	case "memory", "":
		return memory.NewStorage(vs.Collection), nil
	case "sqlite":
		s, err := sqlite.NewStorage(vs.SQLite.Path, vs.Collection)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "qdrant":
		return qdrant.NewStorage(qdrant.Config{
			URL:        vs.Qdrant.URL,
			APIKey:     vs.Qdrant.APIKey,
			Collection: vs.Collection,
			Timeout:    vs.Qdrant.Timeout(),
		}), nil
	case "postgres":
		s, err := postgres.NewStorage(ctx, vs.Postgres.DSN, vs.Collection)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("%w: unknown vector store: %s", domain.ErrInvalidConfiguration, vs.Type)
	}
}
