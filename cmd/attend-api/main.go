package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BearBump/AttendBox/config"
	"github.com/BearBump/AttendBox/internal/broker/kafka"
	"github.com/BearBump/AttendBox/internal/cache/rediscache"
	"github.com/BearBump/AttendBox/internal/credstore"
	"github.com/BearBump/AttendBox/internal/integrations/scraper"
	"github.com/BearBump/AttendBox/internal/integrations/scraper/fake"
	"github.com/BearBump/AttendBox/internal/integrations/scraper/scraperhttp"
	"github.com/BearBump/AttendBox/internal/services/attendance"
	"github.com/BearBump/AttendBox/internal/services/orders"
	"github.com/BearBump/AttendBox/internal/storage/pgattendance"
)

func main() {
	cfg, err := config.LoadConfig(os.Getenv("configPath"))
	if err != nil {
		panic(fmt.Sprintf("ошибка парсинга конфига, %v", err))
	}

	httpAddr := cfg.AttendBox.HTTPAddr
	if httpAddr == "" {
		httpAddr = ":8080"
	}
	consumerGroup := cfg.AttendBox.KafkaConsumerGroup
	if consumerGroup == "" {
		consumerGroup = "attend-api"
	}
	topic := cfg.Kafka.OrderUpdatedTopicName
	if topic == "" {
		topic = "order.updated"
	}
	cacheTTL := time.Duration(cfg.AttendBox.CurrentViewTTLSeconds) * time.Second
	if cacheTTL <= 0 {
		cacheTTL = 10 * time.Minute
	}
	lockTTL := time.Duration(cfg.AttendBox.DownloadLockTTLSeconds) * time.Second
	if lockTTL <= 0 {
		lockTTL = 2 * time.Minute
	}

	sslMode := cfg.Database.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	connString := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.Database.Username, cfg.Database.Password, cfg.Database.Host, cfg.Database.Port, cfg.Database.DBName, sslMode)
	st, err := pgattendance.New(connString)
	if err != nil {
		panic(err)
	}
	defer st.Close()

	cs, err := credstore.New(cfg.AttendBox.EncryptionKey)
	if err != nil {
		panic(fmt.Sprintf("attendbox.encryption_key: %v", err))
	}

	redisAddr := fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
	rc := rediscache.New(redisAddr)
	locker := rediscache.NewLocker(redisAddr)

	// Без base_url работаем против локального fake-скрейпера: весь пайплайн,
	// включая расшифровку, проходит как с настоящим.
	var sc scraper.Client
	if cfg.Scraper.BaseURL != "" {
		sc = scraperhttp.New(cfg.Scraper.BaseURL)
	} else {
		sc = fake.New()
	}

	brokers := []string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}
	producer := kafka.NewProducer(brokers)
	consumer := kafka.NewConsumer(brokers, topic, consumerGroup)
	defer func() { _ = consumer.Close() }()

	ordersSvc := orders.New(st, sc, cs, producer, locker, topic, lockTTL)
	attendanceSvc := attendance.New(st, rc, cacheTTL)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := runAttendAPI(ctx, attendAPIOpts{
		httpAddr:      httpAddr,
		topic:         topic,
		consumerGroup: consumerGroup,
	}, ordersSvc, attendanceSvc, consumer); err != nil && err != context.Canceled {
		panic(err)
	}
}
