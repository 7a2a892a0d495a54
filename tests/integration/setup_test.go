//go:build integration

package integration

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/testcontainers/testcontainers-go"
	tcKafka "github.com/testcontainers/testcontainers-go/modules/kafka"
	tcPostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	tcRedis "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/campusrun/dispatch/internal/postgres/migrations"
)

var (
	testRedisAddr    string
	testPostgresDSN  string
	testKafkaBrokers []string
)

func TestMain(m *testing.M) {
	os.Exit(run(m))
}

// run starts the three backing containers, applies the schema, and hands
// control to the test binary. Cleanups are deferred so a failed startup
// still tears down whatever came up.
func run(m *testing.M) int {
	ctx := context.Background()

	stopRedis := startRedis(ctx)
	defer stopRedis()

	stopPostgres := startPostgres(ctx)
	defer stopPostgres()

	stopKafka := startKafka(ctx)
	defer stopKafka()

	return m.Run()
}

func startRedis(ctx context.Context) func() {
	ctr, err := tcRedis.Run(ctx, "redis:7-alpine")
	if err != nil {
		log.Fatalf("start redis container: %v", err)
	}

	connStr, err := ctr.ConnectionString(ctx)
	if err != nil {
		log.Fatalf("redis connection string: %v", err)
	}
	// go-redis wants a bare host:port, not the redis:// URL form.
	testRedisAddr = strings.TrimPrefix(connStr, "redis://")

	return func() { _ = ctr.Terminate(ctx) }
}

func startPostgres(ctx context.Context) func() {
	ctr, err := tcPostgres.Run(ctx, "postgres:15-alpine",
		tcPostgres.WithDatabase("campusrun"),
		tcPostgres.WithUsername("campusrun"),
		tcPostgres.WithPassword("campusrun"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		log.Fatalf("start postgres container: %v", err)
	}

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		log.Fatalf("postgres connection string: %v", err)
	}
	testPostgresDSN = dsn

	if err := applySchema(ctx, dsn); err != nil {
		log.Fatalf("apply schema: %v", err)
	}

	return func() { _ = ctr.Terminate(ctx) }
}

func startKafka(ctx context.Context) func() {
	ctr, err := tcKafka.Run(ctx, "confluentinc/confluent-local:7.7.1",
		testcontainers.WithWaitStrategy(
			wait.ForLog("Kafka Server started").
				WithStartupTimeout(90*time.Second),
		),
	)
	if err != nil {
		log.Fatalf("start kafka container: %v", err)
	}

	brokers, err := ctr.Brokers(ctx)
	if err != nil {
		log.Fatalf("kafka brokers: %v", err)
	}
	testKafkaBrokers = brokers

	return func() { _ = ctr.Terminate(ctx) }
}

// applySchema runs the embedded migrations in order, the same files the
// migrate subcommand applies in production.
func applySchema(ctx context.Context, dsn string) error {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return fmt.Errorf("pgxpool.New: %w", err)
	}
	defer pool.Close()

	for _, name := range migrations.Files {
		sql, err := migrations.FS.ReadFile(name)
		if err != nil {
			return fmt.Errorf("read %s: %w", name, err)
		}
		if _, err := pool.Exec(ctx, string(sql)); err != nil {
			return fmt.Errorf("exec %s: %w", name, err)
		}
	}
	return nil
}

// createTopic creates a Kafka topic up front. Leaning on auto-creation
// lets the first publish race topic setup and fail with
// UNKNOWN_TOPIC_OR_PARTITION.
func createTopic(t *testing.T, topic string) {
	t.Helper()
	conn, err := kafkago.DialContext(context.Background(), "tcp", testKafkaBrokers[0])
	if err != nil {
		t.Fatalf("kafka dial for topic creation: %v", err)
	}
	defer conn.Close()

	err = conn.CreateTopics(kafkago.TopicConfig{
		Topic:             topic,
		NumPartitions:     1,
		ReplicationFactor: 1,
	})
	if err != nil {
		t.Fatalf("create topic %q: %v", topic, err)
	}
}
