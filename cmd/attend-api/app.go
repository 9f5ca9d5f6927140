package main

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"time"

	attendanceapi "github.com/BearBump/AttendBox/internal/api/attendance_api"
	"github.com/BearBump/AttendBox/internal/services/attendance"
	"github.com/BearBump/AttendBox/internal/services/orders"
)

type attendAPIOpts struct {
	httpAddr string

	topic         string
	consumerGroup string

	onListen func(httpAddr string)
}

type kafkaConsumer interface {
	Consume(ctx context.Context, handler func(key, value []byte) error) error
}

func runAttendAPI(ctx context.Context, opts attendAPIOpts, ordersSvc *orders.Service, attendanceSvc *attendance.Service, consumer kafkaConsumer) error {
	if opts.httpAddr == "" {
		opts.httpAddr = ":8080"
	}

	lis, err := net.Listen("tcp", opts.httpAddr)
	if err != nil {
		return err
	}
	if opts.onListen != nil {
		opts.onListen(lis.Addr().String())
	}

	if consumer != nil {
		go func() {
			slog.Info("kafka consumer started", "topic", opts.topic, "group", opts.consumerGroup)
			// любой переход заказа инвалидирует кэш текущего вида
			_ = consumer.Consume(ctx, func(_key, value []byte) error {
				return attendanceSvc.ApplyOrderUpdated(ctx, value)
			})
		}()
	}

	api := attendanceapi.New(ordersSvc, attendanceSvc)
	srv := &http.Server{Handler: api.Routes()}

	httpErr := make(chan error, 1)
	go func() {
		httpErr <- srv.Serve(lis)
	}()

	slog.Info("HTTP server listening", "addr", lis.Addr().String())

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		_ = lis.Close()
		return ctx.Err()
	case err := <-httpErr:
		return err
	}
}
